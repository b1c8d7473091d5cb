package health

import (
	"errors"
	"math/big"
	"testing"

	"github.com/shopspring/decimal"
)

var threshold = decimal.RequireFromString("0.8")

func wethAmount(t *testing.T, weth int64) *big.Int {
	t.Helper()
	return new(big.Int).Mul(big.NewInt(weth), new(big.Int).Exp(big.NewInt(10), big.NewInt(CollateralDecimals), nil))
}

func usdcAmount(t *testing.T, usdc int64) *big.Int {
	t.Helper()
	return new(big.Int).Mul(big.NewInt(usdc), new(big.Int).Exp(big.NewInt(10), big.NewInt(BaseDecimals), nil))
}

func TestComputeNoDebtSentinel(t *testing.T) {
	for _, collateral := range []int64{0, 1, 10, 5000} {
		pos := Position{
			CollateralAmount: wethAmount(t, collateral),
			BorrowedBase:     big.NewInt(0),
		}
		m, err := Compute(pos, decimal.NewFromInt(2000), threshold)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !m.HealthPercentage.Equal(decimal.NewFromInt(100)) {
			t.Fatalf("collateral=%d: health should be 100, got %s", collateral, m.HealthPercentage)
		}
		if !m.HealthFactor.Equal(NoDebtHealthFactor) {
			t.Fatalf("collateral=%d: health factor should be 999, got %s", collateral, m.HealthFactor)
		}
	}
}

func TestComputeReferencePosition(t *testing.T) {
	// 10 WETH at $2000 against $8000 of debt with a 0.80 threshold.
	pos := Position{
		CollateralAmount: wethAmount(t, 10),
		BorrowedBase:     usdcAmount(t, 8000),
	}

	m, err := Compute(pos, decimal.NewFromInt(2000), threshold)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !m.MaxBorrowableUSD.Equal(decimal.NewFromInt(16000)) {
		t.Fatalf("max borrowable should be 16000, got %s", m.MaxBorrowableUSD)
	}
	if !m.HealthPercentage.Equal(decimal.NewFromInt(50)) {
		t.Fatalf("health should be exactly 50, got %s", m.HealthPercentage)
	}
	if !m.LiquidationPriceUSD.Equal(decimal.NewFromInt(1000)) {
		t.Fatalf("liquidation price should be 1000, got %s", m.LiquidationPriceUSD)
	}
	if m.Band != Safe {
		t.Fatalf("50%% is inclusive lower bound of safe, got %s", m.Band)
	}
	if !m.AvailableToBorrowUSD.Equal(decimal.NewFromInt(8000)) {
		t.Fatalf("available to borrow should be 8000, got %s", m.AvailableToBorrowUSD)
	}
	if !m.BufferUSD.Equal(decimal.NewFromInt(8000)) {
		t.Fatalf("buffer should be 8000, got %s", m.BufferUSD)
	}
	if !m.CapacityUsedPct.Equal(decimal.NewFromInt(50)) {
		t.Fatalf("capacity used should be 50, got %s", m.CapacityUsedPct)
	}
}

func TestComputeJustPastSafeBoundary(t *testing.T) {
	pos := Position{
		CollateralAmount: wethAmount(t, 10),
		BorrowedBase:     usdcAmount(t, 8100),
	}

	m, err := Compute(pos, decimal.NewFromInt(2000), threshold)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !m.HealthPercentage.LessThan(decimal.NewFromInt(50)) {
		t.Fatalf("health should drop below 50, got %s", m.HealthPercentage)
	}
	if m.Band != Warning {
		t.Fatalf("band should be warning, got %s", m.Band)
	}
}

func TestComputeMonotonicInDebt(t *testing.T) {
	collateral := wethAmount(t, 10)
	price := decimal.NewFromInt(2000)

	prev := decimal.NewFromInt(101)
	for debt := int64(0); debt <= 24000; debt += 1500 {
		m, err := Compute(Position{CollateralAmount: collateral, BorrowedBase: usdcAmount(t, debt)}, price, threshold)
		if err != nil {
			t.Fatalf("debt=%d: %v", debt, err)
		}
		if m.HealthPercentage.GreaterThan(prev) {
			t.Fatalf("health increased with debt: %s > %s at debt=%d", m.HealthPercentage, prev, debt)
		}
		prev = m.HealthPercentage
	}
}

func TestComputeMonotonicInCollateral(t *testing.T) {
	debt := usdcAmount(t, 8000)
	price := decimal.NewFromInt(2000)

	prev := decimal.NewFromInt(-1)
	for collateral := int64(0); collateral <= 40; collateral += 2 {
		m, err := Compute(Position{CollateralAmount: wethAmount(t, collateral), BorrowedBase: debt}, price, threshold)
		if err != nil {
			t.Fatalf("collateral=%d: %v", collateral, err)
		}
		if m.HealthPercentage.LessThan(prev) {
			t.Fatalf("health decreased with collateral: %s < %s at collateral=%d", m.HealthPercentage, prev, collateral)
		}
		prev = m.HealthPercentage
	}
}

func TestComputePastLiquidationThreshold(t *testing.T) {
	// Debt well beyond max borrowable: percentage clamps at zero, buffer is
	// allowed to go negative.
	pos := Position{
		CollateralAmount: wethAmount(t, 1),
		BorrowedBase:     usdcAmount(t, 5000),
	}

	m, err := Compute(pos, decimal.NewFromInt(2000), threshold)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !m.HealthPercentage.IsZero() {
		t.Fatalf("health should clamp to 0, got %s", m.HealthPercentage)
	}
	if !m.BufferUSD.IsNegative() {
		t.Fatalf("buffer should be negative, got %s", m.BufferUSD)
	}
	if !m.AvailableToBorrowUSD.IsZero() {
		t.Fatalf("available to borrow should clamp to 0, got %s", m.AvailableToBorrowUSD)
	}
	if m.Band != Danger {
		t.Fatalf("band should be danger, got %s", m.Band)
	}
}

func TestComputeDebtWithoutCollateral(t *testing.T) {
	pos := Position{
		CollateralAmount: big.NewInt(0),
		BorrowedBase:     usdcAmount(t, 100),
	}

	m, err := Compute(pos, decimal.NewFromInt(2000), threshold)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !m.HealthPercentage.IsZero() {
		t.Fatalf("health should be 0 without collateral, got %s", m.HealthPercentage)
	}
	if !m.LiquidationPriceUSD.IsZero() {
		t.Fatalf("liquidation price should be 0 without collateral, got %s", m.LiquidationPriceUSD)
	}
	if !m.CapacityUsedPct.IsZero() {
		t.Fatalf("capacity used should be 0 when max borrowable is 0, got %s", m.CapacityUsedPct)
	}
}

func TestComputeRejectsBadInputs(t *testing.T) {
	valid := Position{CollateralAmount: wethAmount(t, 1), BorrowedBase: usdcAmount(t, 1)}

	if _, err := Compute(Position{CollateralAmount: big.NewInt(-1)}, decimal.NewFromInt(2000), threshold); !errors.Is(err, ErrNegativeBalance) {
		t.Fatalf("negative collateral should be rejected, got %v", err)
	}
	if _, err := Compute(valid, decimal.Zero, threshold); !errors.Is(err, ErrInvalidPrice) {
		t.Fatalf("zero price should be rejected, got %v", err)
	}
	if _, err := Compute(valid, decimal.NewFromInt(2000), decimal.NewFromInt(2)); !errors.Is(err, ErrInvalidThreshold) {
		t.Fatalf("threshold above 1 should be rejected, got %v", err)
	}
}

func TestClassifyBoundaries(t *testing.T) {
	cases := []struct {
		pct  string
		want Band
	}{
		{"100", Safe},
		{"50", Safe},
		{"49.999", Warning},
		{"20", Warning},
		{"19.999", Danger},
		{"0", Danger},
	}

	for _, tc := range cases {
		got := Classify(decimal.RequireFromString(tc.pct))
		if got != tc.want {
			t.Fatalf("classify(%s) = %s, want %s", tc.pct, got, tc.want)
		}
	}
}
