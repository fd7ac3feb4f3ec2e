package blockchain

import "github.com/acbcd/acbcd/acbcutil"

// NotificationType represents the type of a notification message, spec.md
// §6's "notify_*" consumed-interface callbacks.
type NotificationType int

const (
	// NTBlockAccepted indicates the associated block was accepted into
	// the block chain.  Note that this does not necessarily mean it was
	// added to the main chain.
	NTBlockAccepted NotificationType = iota

	// NTBlockConnected indicates the associated block was connected to
	// the main chain.
	NTBlockConnected

	// NTBlockDisconnected indicates the associated block was disconnected
	// from the main chain.
	NTBlockDisconnected
)

var notificationTypeStrings = map[NotificationType]string{
	NTBlockAccepted:     "NTBlockAccepted",
	NTBlockConnected:    "NTBlockConnected",
	NTBlockDisconnected: "NTBlockDisconnected",
}

// String returns the NotificationType in human-readable form.
func (n NotificationType) String() string {
	if s, ok := notificationTypeStrings[n]; ok {
		return s
	}
	return "unknown notification type"
}

// Notification defines a notification sent out from the block chain
// instance, with the type and applicable data fields.
type Notification struct {
	Type NotificationType
	Data interface{}
}

// NotificationCallback is used for a caller to provide a callback for
// notifications about various chain events.
type NotificationCallback func(*Notification)

// Subscribe appends the provided callback to the list of notification
// callbacks, invoked synchronously by the goroutine that caused the event
// (spec.md §6 treats these as synchronous hooks, not a queue).
func (b *BlockChain) Subscribe(callback NotificationCallback) {
	b.notificationsLock.Lock()
	defer b.notificationsLock.Unlock()
	b.notifications = append(b.notifications, callback)
}

// sendNotification sends a notification with the passed type and data to
// all registered callbacks.
func (b *BlockChain) sendNotification(typ NotificationType, data interface{}) {
	b.notificationsLock.RLock()
	callbacks := make([]NotificationCallback, len(b.notifications))
	copy(callbacks, b.notifications)
	b.notificationsLock.RUnlock()

	if len(callbacks) == 0 {
		return
	}

	n := Notification{Type: typ, Data: data}
	for _, callback := range callbacks {
		callback(&n)
	}
}

// BlockAcceptedNotifyData is the structure for data indicating information
// about an accepted block, provided to NTBlockAccepted notifications.
type BlockAcceptedNotifyData struct {
	Block *acbcutil.Block
}
