package storage

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/vector-10/compound-safe/internal/alerting"
)

// Subscriber binds a wallet address to a Telegram chat. One record per
// wallet; re-linking overwrites the channel binding wholesale, which also
// resets the per-tier alert clocks.
type Subscriber struct {
	WalletAddress string
	ChatID        string
	LinkedAt      time.Time
	LastAlert50   *time.Time
	LastAlert20   *time.Time
	LastAlert5    *time.Time
}

// LastAlert returns the stored dispatch time for a tier, nil when the tier
// has never fired for this subscriber.
func (s Subscriber) LastAlert(tier alerting.Tier) *time.Time {
	switch tier {
	case alerting.TierWarning:
		return s.LastAlert50
	case alerting.TierCritical:
		return s.LastAlert20
	case alerting.TierEmergency:
		return s.LastAlert5
	default:
		return nil
	}
}

// AlertEntry is one dispatched notification, kept for auditing and the
// `show` command.
type AlertEntry struct {
	ID            int64
	WalletAddress string
	Tier          alerting.Tier
	HealthPct     decimal.Decimal
	ChatID        string
	SentAt        time.Time
}

// HealthSample is one recorded evaluation of a wallet, kept for history
// export.
type HealthSample struct {
	WalletAddress string
	SampledAt     time.Time
	HealthPct     decimal.Decimal
	CollateralUSD decimal.Decimal
	DebtUSD       decimal.Decimal
	PriceUSD      decimal.Decimal
}
