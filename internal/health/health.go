package health

import (
	"errors"
	"math/big"

	"github.com/shopspring/decimal"
)

const (
	// BaseDecimals is the precision of the borrowable base asset (USDC).
	BaseDecimals = 6
	// CollateralDecimals is the precision of the collateral asset (WETH).
	CollateralDecimals = 18
)

// NoDebtHealthFactor is the sentinel reported when a position carries no debt.
var NoDebtHealthFactor = decimal.NewFromInt(999)

var (
	hundred = decimal.NewFromInt(100)

	// ErrNegativeBalance flags raw balances that violate the upstream contract.
	ErrNegativeBalance = errors.New("health: negative raw balance")
	// ErrInvalidPrice flags a non-positive collateral price.
	ErrInvalidPrice = errors.New("health: price must be positive")
	// ErrInvalidThreshold flags a liquidation threshold outside (0,1].
	ErrInvalidThreshold = errors.New("health: liquidation threshold must be in (0,1]")
)

// Position carries the raw on-chain balances of a single wallet, in base units.
type Position struct {
	SuppliedBase     *big.Int
	BorrowedBase     *big.Int
	CollateralAmount *big.Int
}

// Metrics are the derived health figures for one evaluation of a position.
// They carry no identity and are recomputed from scratch on every cycle.
type Metrics struct {
	HealthPercentage     decimal.Decimal
	HealthFactor         decimal.Decimal
	Band                 Band
	CollateralValueUSD   decimal.Decimal
	DebtUSD              decimal.Decimal
	MaxBorrowableUSD     decimal.Decimal
	AvailableToBorrowUSD decimal.Decimal
	BufferUSD            decimal.Decimal
	CapacityUsedPct      decimal.Decimal
	LiquidationPriceUSD  decimal.Decimal
}

// Compute derives health metrics from raw balances, the collateral USD price,
// and the protocol liquidation threshold. It is pure and safe for concurrent
// use; callers treat an error as "skip this wallet for the cycle".
func Compute(pos Position, priceUSD, liquidationThreshold decimal.Decimal) (Metrics, error) {
	if isNegative(pos.SuppliedBase) || isNegative(pos.BorrowedBase) || isNegative(pos.CollateralAmount) {
		return Metrics{}, ErrNegativeBalance
	}
	if !priceUSD.IsPositive() {
		return Metrics{}, ErrInvalidPrice
	}
	if !liquidationThreshold.IsPositive() || liquidationThreshold.GreaterThan(decimal.NewFromInt(1)) {
		return Metrics{}, ErrInvalidThreshold
	}

	collateral := decimal.NewFromBigInt(bigOrZero(pos.CollateralAmount), -CollateralDecimals)
	debt := decimal.NewFromBigInt(bigOrZero(pos.BorrowedBase), -BaseDecimals)

	collateralValue := collateral.Mul(priceUSD)
	maxBorrowable := collateralValue.Mul(liquidationThreshold)

	m := Metrics{
		CollateralValueUSD: collateralValue,
		DebtUSD:            debt,
		MaxBorrowableUSD:   maxBorrowable,
		BufferUSD:          maxBorrowable.Sub(debt),
	}

	m.AvailableToBorrowUSD = m.BufferUSD
	if m.AvailableToBorrowUSD.IsNegative() {
		m.AvailableToBorrowUSD = decimal.Zero
	}

	if maxBorrowable.IsPositive() {
		m.CapacityUsedPct = debt.Div(maxBorrowable).Mul(hundred)
	}

	if collateral.IsPositive() {
		m.LiquidationPriceUSD = debt.Div(collateral.Mul(liquidationThreshold))
	}

	switch {
	case debt.IsZero():
		// Sentinel, never derived by division: a debt-free position is fully
		// healthy regardless of how much or how little collateral backs it.
		m.HealthPercentage = hundred
		m.HealthFactor = NoDebtHealthFactor
	case maxBorrowable.IsZero():
		m.HealthPercentage = decimal.Zero
		m.HealthFactor = decimal.Zero
	default:
		utilization := debt.Div(maxBorrowable)
		m.HealthPercentage = clampPct(decimal.NewFromInt(1).Sub(utilization).Mul(hundred))
		m.HealthFactor = maxBorrowable.Div(debt)
		if m.HealthFactor.GreaterThan(NoDebtHealthFactor) {
			m.HealthFactor = NoDebtHealthFactor
		}
	}

	m.Band = Classify(m.HealthPercentage)
	return m, nil
}

func clampPct(v decimal.Decimal) decimal.Decimal {
	if v.IsNegative() {
		return decimal.Zero
	}
	if v.GreaterThan(hundred) {
		return hundred
	}
	return v
}

func isNegative(v *big.Int) bool {
	return v != nil && v.Sign() < 0
}

func bigOrZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}
