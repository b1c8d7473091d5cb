package health

import "github.com/shopspring/decimal"

// Band is the coarse risk classification used for display purposes. It is
// deliberately distinct from the alerting tiers: the band drives colouring,
// the tiers drive notification cadence.
type Band int

const (
	// Safe covers health percentages in [50,100].
	Safe Band = iota
	// Warning covers [20,50).
	Warning
	// Danger covers [0,20).
	Danger
)

var (
	safeFloor    = decimal.NewFromInt(50)
	warningFloor = decimal.NewFromInt(20)
)

// Classify maps a health percentage to its risk band. Boundaries are
// inclusive on the lower bound of each band: 50 itself is Safe, 20 is Warning.
func Classify(healthPct decimal.Decimal) Band {
	switch {
	case healthPct.GreaterThanOrEqual(safeFloor):
		return Safe
	case healthPct.GreaterThanOrEqual(warningFloor):
		return Warning
	default:
		return Danger
	}
}

// String renders the band in the lowercase form used across the API and logs.
func (b Band) String() string {
	switch b {
	case Safe:
		return "safe"
	case Warning:
		return "warning"
	case Danger:
		return "danger"
	default:
		return "unknown"
	}
}
