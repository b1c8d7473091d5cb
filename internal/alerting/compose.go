package alerting

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/vector-10/compound-safe/internal/health"
)

// ComposeAlert renders the notification text for a breached tier. Content is
// plain human-readable Markdown; it always carries the collateral value, debt,
// liquidation price and current collateral price.
func ComposeAlert(wallet string, tier Tier, m health.Metrics, priceUSD decimal.Decimal, priceFresh bool) string {
	builder := strings.Builder{}

	switch tier {
	case TierEmergency:
		builder.WriteString("🚨 *Emergency: liquidation imminent*\n")
	case TierCritical:
		builder.WriteString("⚠️ *Critical: high liquidation risk*\n")
	default:
		builder.WriteString("🔔 *Warning: position becoming risky*\n")
	}

	builder.WriteString(fmt.Sprintf("Wallet: `%s`\n", ShortAddress(wallet)))
	builder.WriteString(fmt.Sprintf("Health: %s%%\n", m.HealthPercentage.StringFixed(1)))
	builder.WriteString(fmt.Sprintf("Collateral: $%s\n", m.CollateralValueUSD.StringFixed(2)))
	builder.WriteString(fmt.Sprintf("Debt: $%s\n", m.DebtUSD.StringFixed(2)))
	builder.WriteString(fmt.Sprintf("Liquidation at: $%s\n", m.LiquidationPriceUSD.StringFixed(2)))

	priceLine := fmt.Sprintf("Current WETH: $%s", priceUSD.StringFixed(2))
	if !priceFresh {
		priceLine += " (stale)"
	}
	builder.WriteString(priceLine + "\n")

	switch tier {
	case TierEmergency:
		builder.WriteString("Repay debt or add collateral immediately to avoid liquidation.")
	case TierCritical:
		builder.WriteString("Reduce your debt or top up collateral soon.")
	default:
		builder.WriteString("Keep an eye on your position and consider adding collateral.")
	}

	return builder.String()
}

// ShortAddress renders a wallet in the 0x1234…abcd display form.
func ShortAddress(wallet string) string {
	if len(wallet) <= 10 {
		return wallet
	}
	return wallet[:6] + "…" + wallet[len(wallet)-4:]
}
