package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/vector-10/compound-safe/internal/alerting"
	"github.com/vector-10/compound-safe/internal/health"
	"github.com/vector-10/compound-safe/internal/position"
	"github.com/vector-10/compound-safe/internal/storage"
)

// PriceSource supplies the cached collateral price. Reads never block and
// never fail; the bool reports freshness.
type PriceSource interface {
	CurrentPrice() (float64, bool)
}

// Options tune engine behaviour.
type Options struct {
	LiquidationThreshold decimal.Decimal
	Cooldown             time.Duration
	ReadTimeout          time.Duration
	SendTimeout          time.Duration
	Workers              int
}

// Engine walks the linked subscribers, derives health metrics per wallet, and
// dispatches at most one notification per wallet, tier, and cooldown window.
type Engine struct {
	reader   position.Reader
	prices   PriceSource
	subs     storage.SubscriberStore
	alertLog storage.AlertLogStore
	samples  storage.HealthSampleStore
	notifier alerting.Notifier
	opts     Options
	logger   zerolog.Logger
	now      func() time.Time
}

// New constructs the alert engine. alertLog and samples may be nil, which
// skips auditing and history. A nil notifier evaluates but never sends.
func New(reader position.Reader, prices PriceSource, subs storage.SubscriberStore, alertLog storage.AlertLogStore, samples storage.HealthSampleStore, notifier alerting.Notifier, opts Options, logger zerolog.Logger) *Engine {
	if opts.Cooldown <= 0 {
		opts.Cooldown = time.Hour
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = 10 * time.Second
	}
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = 10 * time.Second
	}
	if opts.Workers <= 0 {
		opts.Workers = 8
	}
	if opts.LiquidationThreshold.IsZero() {
		opts.LiquidationThreshold = decimal.RequireFromString("0.8")
	}

	return &Engine{
		reader:   reader,
		prices:   prices,
		subs:     subs,
		alertLog: alertLog,
		samples:  samples,
		notifier: notifier,
		opts:     opts,
		logger:   logger.With().Str("component", "alert_engine").Logger(),
		now:      time.Now,
	}
}

// EvaluateAll runs one evaluation pass over every linked subscriber. Wallets
// evaluate concurrently, bounded by the worker limit so the upstream RPC
// endpoint is not overwhelmed. A single wallet's failure never aborts the
// pass.
func (e *Engine) EvaluateAll(ctx context.Context) error {
	subs, err := e.subs.ListSubscribers(ctx)
	if err != nil {
		return fmt.Errorf("list subscribers: %w", err)
	}
	if len(subs) == 0 {
		e.logger.Debug().Msg("no linked subscribers, skipping pass")
		return nil
	}

	group, ctx := errgroup.WithContext(ctx)
	group.SetLimit(e.opts.Workers)

	for _, sub := range subs {
		sub := sub
		group.Go(func() error {
			if err := e.EvaluateWallet(ctx, sub); err != nil {
				e.logger.Error().Err(err).Str("wallet", sub.WalletAddress).Msg("wallet evaluation failed")
			}
			return nil
		})
	}

	return group.Wait()
}

// EvaluateWallet runs the read-compute-notify sequence for one subscriber.
// The returned error is informational; callers log it and move on.
func (e *Engine) EvaluateWallet(ctx context.Context, sub storage.Subscriber) error {
	if !common.IsHexAddress(sub.WalletAddress) {
		return fmt.Errorf("invalid wallet address %q", sub.WalletAddress)
	}

	readCtx, cancel := context.WithTimeout(ctx, e.opts.ReadTimeout)
	pos, err := e.reader.ReadPosition(readCtx, common.HexToAddress(sub.WalletAddress))
	cancel()
	if err != nil {
		return fmt.Errorf("read position: %w", err)
	}

	priceValue, priceFresh := e.prices.CurrentPrice()
	price := decimal.NewFromFloat(priceValue)

	metrics, err := health.Compute(pos, price, e.opts.LiquidationThreshold)
	if err != nil {
		return fmt.Errorf("compute health: %w", err)
	}

	e.recordSample(ctx, sub.WalletAddress, metrics, price)

	tier, breached := alerting.TierFor(metrics.HealthPercentage)
	if !breached {
		return nil
	}

	now := e.now().UTC()
	last := sub.LastAlert(tier)
	if last != nil && now.Sub(*last) < e.opts.Cooldown {
		e.logger.Debug().
			Str("wallet", sub.WalletAddress).
			Stringer("tier", tier).
			Time("last_alert", *last).
			Msg("tier still cooling down")
		return nil
	}

	if e.notifier == nil {
		e.logger.Debug().
			Str("wallet", sub.WalletAddress).
			Stringer("tier", tier).
			Msg("tier breached but no notifier configured")
		return nil
	}

	text := alerting.ComposeAlert(sub.WalletAddress, tier, metrics, price, priceFresh)

	sendCtx, cancelSend := context.WithTimeout(ctx, e.opts.SendTimeout)
	err = e.notifier.Send(sendCtx, sub.ChatID, text)
	cancelSend()
	if err != nil {
		// The alert clock stays untouched so the next cycle retries.
		return fmt.Errorf("send alert: %w", err)
	}

	updated, casErr := e.subs.CompareAndSetAlertTime(ctx, sub.WalletAddress, tier, last, now)
	if casErr != nil {
		e.logger.Error().Err(casErr).Str("wallet", sub.WalletAddress).Msg("failed to advance alert clock")
	} else if !updated {
		e.logger.Debug().
			Str("wallet", sub.WalletAddress).
			Stringer("tier", tier).
			Msg("alert clock changed underneath, likely a concurrent re-link")
	}

	e.recordAudit(ctx, sub, tier, metrics, now)

	e.logger.Info().
		Str("wallet", sub.WalletAddress).
		Stringer("tier", tier).
		Str("health_pct", metrics.HealthPercentage.StringFixed(2)).
		Msg("alert dispatched")
	return nil
}

func (e *Engine) recordSample(ctx context.Context, wallet string, m health.Metrics, price decimal.Decimal) {
	if e.samples == nil {
		return
	}

	sample := storage.HealthSample{
		WalletAddress: wallet,
		SampledAt:     e.now().UTC(),
		HealthPct:     m.HealthPercentage,
		CollateralUSD: m.CollateralValueUSD,
		DebtUSD:       m.DebtUSD,
		PriceUSD:      price,
	}
	if err := e.samples.InsertHealthSample(ctx, sample); err != nil {
		e.logger.Error().Err(err).Str("wallet", wallet).Msg("failed to persist health sample")
	}
}

func (e *Engine) recordAudit(ctx context.Context, sub storage.Subscriber, tier alerting.Tier, m health.Metrics, sentAt time.Time) {
	if e.alertLog == nil {
		return
	}

	entry := storage.AlertEntry{
		WalletAddress: sub.WalletAddress,
		Tier:          tier,
		HealthPct:     m.HealthPercentage,
		ChatID:        sub.ChatID,
		SentAt:        sentAt,
	}
	if err := e.alertLog.InsertAlert(ctx, entry); err != nil {
		e.logger.Error().Err(err).Str("wallet", sub.WalletAddress).Msg("failed to persist alert audit entry")
	}
}
