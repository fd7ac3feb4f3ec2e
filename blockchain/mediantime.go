package blockchain

import (
	"sort"
	"sync"
	"time"
)

// maxMedianTimeEntries is the maximum number of samples a MedianTimeSource
// mixes in from its peers before the oldest is evicted, matching the
// standard network-adjusted time window.
const maxMedianTimeEntries = 200

// MedianTimeSource provides a mechanism to add several time samples which are
// used to determine a median time which is then used to determine if a
// block's timestamp is reasonable (spec.md §6's "network_time" consumed
// interface).
type MedianTimeSource interface {
	// AdjustedTime returns the current time adjusted by the median time
	// offset learned from the time samples added by AddTimeSample.
	AdjustedTime() time.Time

	// AddTimeSample adds a time sample observed from the given source
	// (typically a peer identifier) to the set used to calculate the
	// median time.
	AddTimeSample(sourceID string, timeVal time.Time)

	// Offset returns the number of seconds to adjust the local clock by.
	Offset() time.Duration
}

// medianTime is the default implementation of MedianTimeSource.
type medianTime struct {
	mtx         sync.Mutex
	knownIDs    map[string]struct{}
	offsets     []int64
	offsetSecs  int64
	invalidTime bool
}

// NewMedianTime returns a new instance of a concurrency-safe implementation
// of the MedianTimeSource interface.
func NewMedianTime() MedianTimeSource {
	return &medianTime{
		knownIDs: make(map[string]struct{}),
	}
}

// AdjustedTime returns the current time adjusted by the median time offset
// learned from the network, capped to prevent a large number of misbehaving
// peers from skewing the node's clock too far from reality (spec.md §6).
func (m *medianTime) AdjustedTime() time.Time {
	m.mtx.Lock()
	defer m.mtx.Unlock()

	now := time.Unix(time.Now().Unix(), 0)
	return now.Add(time.Duration(m.offsetSecs) * time.Second)
}

// AddTimeSample adds a time sample observed from sourceID, recalculating the
// median offset.  A sourceID already recorded is ignored, so a single peer
// can't weight the median by resending samples.
func (m *medianTime) AddTimeSample(sourceID string, timeVal time.Time) {
	m.mtx.Lock()
	defer m.mtx.Unlock()

	if _, exists := m.knownIDs[sourceID]; exists {
		return
	}
	m.knownIDs[sourceID] = struct{}{}

	now := time.Unix(time.Now().Unix(), 0)
	offsetSecs := int64(timeVal.Sub(now).Seconds())
	m.offsets = append(m.offsets, offsetSecs)
	if len(m.offsets) > maxMedianTimeEntries {
		m.offsets = m.offsets[1:]
	}

	if len(m.offsets) < 5 {
		return
	}

	sorted := make([]int64, len(m.offsets))
	copy(sorted, m.offsets)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	const maxOffsetSecs = 70 * 60
	median := sorted[len(sorted)/2]
	if median > maxOffsetSecs {
		median = maxOffsetSecs
	} else if median < -maxOffsetSecs {
		median = -maxOffsetSecs
	}
	m.offsetSecs = median
}

// Offset returns the number of seconds to adjust the local clock by based on
// the median of the time samples added by AddTimeSample.
func (m *medianTime) Offset() time.Duration {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	return time.Duration(m.offsetSecs) * time.Second
}
