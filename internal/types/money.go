package types

import "fmt"

// USDMicros is a money amount in millionths of a US dollar. Overage rates for
// high-volume metrics (AI tokens) are fractions of a cent per unit, so cents
// are not precise enough; micros keep all accrual math in integers.
type USDMicros int64

// MicrosPerDollar is the scaling factor between dollars and USDMicros.
const MicrosPerDollar USDMicros = 1_000_000

// MicrosFromDollars converts a whole-dollar amount (e.g. a tenant spend cap)
// into micros.
func MicrosFromDollars(d int64) USDMicros {
	return USDMicros(d) * MicrosPerDollar
}

// MicrosFromCents converts a cent amount into micros.
func MicrosFromCents(c int64) USDMicros {
	return USDMicros(c) * 10_000
}

// Dollars returns the amount as a float for display and event payloads.
// Never use the result for accrual arithmetic.
func (m USDMicros) Dollars() float64 {
	return float64(m) / float64(MicrosPerDollar)
}

// String formats the amount as a dollar string, e.g. "48.50".
func (m USDMicros) String() string {
	return fmt.Sprintf("%.2f", m.Dollars())
}
