package alerting

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Tier is one of the three health-percentage alert thresholds. Each tier
// carries its own cooldown timer, independent of the others and of the
// display risk band.
type Tier int

const (
	// TierWarning fires when health drops to 50% or below.
	TierWarning Tier = 50
	// TierCritical fires at 20% or below.
	TierCritical Tier = 20
	// TierEmergency fires at 5% or below.
	TierEmergency Tier = 5
)

// Tiers lists all tiers from shallowest to deepest.
var Tiers = []Tier{TierWarning, TierCritical, TierEmergency}

// TierFor returns the deepest tier breached by the given health percentage.
// Only the deepest breached tier notifies on any one cycle.
func TierFor(healthPct decimal.Decimal) (Tier, bool) {
	switch {
	case healthPct.LessThanOrEqual(decimal.NewFromInt(int64(TierEmergency))):
		return TierEmergency, true
	case healthPct.LessThanOrEqual(decimal.NewFromInt(int64(TierCritical))):
		return TierCritical, true
	case healthPct.LessThanOrEqual(decimal.NewFromInt(int64(TierWarning))):
		return TierWarning, true
	default:
		return 0, false
	}
}

// Label is the human name shown in notifications.
func (t Tier) Label() string {
	switch t {
	case TierWarning:
		return "Warning"
	case TierCritical:
		return "Critical"
	case TierEmergency:
		return "Emergency"
	default:
		return fmt.Sprintf("Tier(%d)", int(t))
	}
}

// String renders the tier threshold, e.g. "20".
func (t Tier) String() string {
	return fmt.Sprintf("%d", int(t))
}
