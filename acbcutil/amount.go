package acbcutil

import (
	"errors"
	"math"
	"strconv"
)

// AmountUnit describes a method of converting an Amount to something
// other than the base unit string.
type AmountUnit int

// These constants define various units used when describing a coin
// amount.
const (
	AmountMegaCoin  AmountUnit = 6
	AmountKiloCoin  AmountUnit = 3
	AmountCoin      AmountUnit = 0
	AmountMilliCoin AmountUnit = -3
	AmountMicroCoin AmountUnit = -6
	AmountSatoshi   AmountUnit = -8
)

// String returns the unit as a string.  For recognized units, the SI
// prefix is used, or "Satoshi" for the base unit.  For unrecognized
// units, a composed string is returned.
func (u AmountUnit) String() string {
	switch u {
	case AmountMegaCoin:
		return "MCOIN"
	case AmountKiloCoin:
		return "kCOIN"
	case AmountCoin:
		return "COIN"
	case AmountMilliCoin:
		return "mCOIN"
	case AmountMicroCoin:
		return "μCOIN"
	case AmountSatoshi:
		return "Satoshi"
	default:
		return "1e" + strconv.FormatInt(int64(u), 10) + " COIN"
	}
}

// Amount represents the base coin monetary unit (colloquially referred
// to as "Satoshi").  A single Amount is equal to 1e-8 of a coin.
type Amount int64

// SatoshiPerBitcoin is the number of satoshi in one coin unit (1e8).
const SatoshiPerBitcoin = 1e8

// MaxSatoshi is the maximum number of satoshis permitted in a single
// amount, and also doubles as the total monetary supply ceiling consulted
// by consensus range checks (spec.md §4.E.1's MAX_MONEY).
const MaxSatoshi = 21e6 * SatoshiPerBitcoin

// ErrRange indicates that a conversion exceeds the range of an Amount.
var ErrRange = errors.New("amount out of range")

// round converts a floating point number, which may or may not be
// representing an integer, to the nearest integer, rounding half away
// from zero, matching the reference implementation's amount-parsing
// behavior.
func round(f float64) Amount {
	if f < 0 {
		return Amount(f - 0.5)
	}
	return Amount(f + 0.5)
}

// NewAmount creates an Amount from a floating point value representing
// whole coin units.  NewAmount errors if f is NaN or +-Infinity, but
// does not check that the amount is within the total coin supply.
func NewAmount(f float64) (Amount, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, ErrRange
	}
	return round(f * SatoshiPerBitcoin), nil
}

// ToUnit converts a monetary amount counted in coin base units to a
// floating point value representing an amount of the given unit.
func (a Amount) ToUnit(u AmountUnit) float64 {
	return float64(a) / math.Pow10(int(u+8))
}

// ToBTC is the equivalent of calling ToUnit with AmountCoin, kept under
// the reference name for API familiarity.
func (a Amount) ToBTC() float64 {
	return a.ToUnit(AmountCoin)
}

// Format formats a monetary amount counted in coin base units as a
// string for a given unit, followed by a unit suffix.  No trailing zeros
// are printed: the value uses the fewest digits that represent it.
func (a Amount) Format(u AmountUnit) string {
	units := " " + u.String()
	formatted := strconv.FormatFloat(a.ToUnit(u), 'f', -int(u+8), 64)
	return formatted + units
}

// String is the equivalent of calling Format with AmountCoin.
func (a Amount) String() string {
	return a.Format(AmountCoin)
}

// MulF64 multiplies an Amount by a floating point value, rounding half
// away from zero.
func (a Amount) MulF64(f float64) Amount {
	return round(float64(a) * f)
}
