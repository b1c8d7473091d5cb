package app

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/vector-10/compound-safe/internal/alerting"
	"github.com/vector-10/compound-safe/internal/engine"
	"github.com/vector-10/compound-safe/internal/health"
	"github.com/vector-10/compound-safe/internal/position"
	"github.com/vector-10/compound-safe/internal/storage"
)

// SimulateAlert 使用给定的仓位和价格跑一次真实的评估与推送流程。
// The wallet must already be linked so the alert has a destination chat.
func (a *App) SimulateAlert(ctx context.Context, opts SimulateOptions) error {
	if !a.Config.Alerting.Enabled {
		return errors.New("alerting 未启用")
	}
	if !common.IsHexAddress(opts.Wallet) {
		return errors.New("--wallet must be a 0x-prefixed 40-hex-digit address")
	}

	notifier := a.newNotifier()
	if notifier == nil {
		return errors.New("未配置 telegram bot token")
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot resolve the linked chat")
	}
	defer closeStore()

	sub, ok, err := store.GetSubscriber(ctx, opts.Wallet)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("wallet %s is not linked to any chat", alerting.ShortAddress(opts.Wallet))
	}

	// The persisted cooldown clocks are deliberately ignored so a simulation
	// always fires, and nothing it does is written back.
	sub.LastAlert50 = nil
	sub.LastAlert20 = nil
	sub.LastAlert5 = nil

	reader := &staticReader{pos: health.Position{
		SuppliedBase:     new(big.Int),
		BorrowedBase:     decimal.NewFromFloat(opts.DebtUSDC).Shift(health.BaseDecimals).BigInt(),
		CollateralAmount: decimal.NewFromFloat(opts.CollateralWETH).Shift(health.CollateralDecimals).BigInt(),
	}}
	prices := &staticPrice{value: opts.PriceUSD}

	eng := engine.New(reader, prices, &transientSubs{sub: sub}, nil, nil, notifier, a.engineOptions(), a.Logger)
	return eng.EvaluateWallet(ctx, sub)
}

type staticReader struct {
	pos health.Position
}

func (s *staticReader) ReadPosition(context.Context, common.Address) (health.Position, error) {
	return s.pos, nil
}

var _ position.Reader = (*staticReader)(nil)

type staticPrice struct {
	value float64
}

func (s *staticPrice) CurrentPrice() (float64, bool) {
	return s.value, true
}

var _ engine.PriceSource = (*staticPrice)(nil)

// transientSubs serves exactly one subscriber and swallows clock updates, so
// a simulated alert never advances the real cooldown state.
type transientSubs struct {
	sub storage.Subscriber
}

func (t *transientSubs) GetSubscriber(context.Context, string) (storage.Subscriber, bool, error) {
	return t.sub, true, nil
}

func (t *transientSubs) UpsertSubscriber(context.Context, storage.Subscriber) error {
	return nil
}

func (t *transientSubs) DeleteSubscriber(context.Context, string) (bool, error) {
	return false, nil
}

func (t *transientSubs) ListSubscribers(context.Context) ([]storage.Subscriber, error) {
	return []storage.Subscriber{t.sub}, nil
}

func (t *transientSubs) CompareAndSetAlertTime(context.Context, string, alerting.Tier, *time.Time, time.Time) (bool, error) {
	return true, nil
}

var _ storage.SubscriberStore = (*transientSubs)(nil)
