package app

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/vector-10/compound-safe/internal/alerting"
	"github.com/vector-10/compound-safe/internal/config"
	"github.com/vector-10/compound-safe/internal/engine"
	"github.com/vector-10/compound-safe/internal/linking"
	"github.com/vector-10/compound-safe/internal/position"
	"github.com/vector-10/compound-safe/internal/pricefeed"
	"github.com/vector-10/compound-safe/internal/scheduler"
	"github.com/vector-10/compound-safe/internal/service"
	"github.com/vector-10/compound-safe/internal/storage"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, nil
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool)
	closer := func() {
		store.Close()
	}
	return store, closer, nil
}

func (a *App) newNotifier() alerting.Notifier {
	cfg := a.Config.Alerting.Telegram
	if cfg.BotToken == "" {
		return nil
	}
	return alerting.NewTelegramNotifier(cfg.BotToken, cfg.APIBase, 10*time.Second, a.Logger)
}

func (a *App) newReader() position.Reader {
	return position.NewComet(position.Options{
		RPCURL:            a.Config.Compound.RPCURL,
		CometAddress:      a.Config.Compound.CometAddress,
		CollateralAddress: a.Config.Compound.CollateralAddress,
		Timeout:           a.Config.Compound.RequestTimeout,
	}, a.Logger)
}

func (a *App) newFeed() *pricefeed.Feed {
	return pricefeed.New(pricefeed.Options{
		BaseURL:         a.Config.PriceFeed.BaseURL,
		AssetID:         a.Config.PriceFeed.AssetID,
		VsCurrency:      a.Config.PriceFeed.VsCurrency,
		RefreshInterval: a.Config.PriceFeed.RefreshInterval,
		RequestTimeout:  a.Config.PriceFeed.RequestTimeout,
		FallbackPrice:   a.Config.PriceFeed.FallbackPrice,
		UserAgent:       a.Config.PriceFeed.UserAgent,
	}, a.Logger)
}

func (a *App) engineOptions() engine.Options {
	return engine.Options{
		LiquidationThreshold: decimal.NewFromFloat(a.Config.Compound.LiquidationThreshold),
		Cooldown:             a.Config.Alerting.Cooldown,
		ReadTimeout:          a.Config.Compound.RequestTimeout,
		Workers:              a.Config.Scheduler.Workers,
	}
}

// Run executes the long-running monitoring service: the evaluation loop, the
// price feed refresher, and the linking webhook.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database.dsn is required to run the monitoring service")
	}
	defer closeStore()

	feed := a.newFeed()
	reader := a.newReader()
	notifier := a.newNotifier()
	if notifier == nil {
		a.Logger.Warn().Msg("telegram bot token not configured; alerts and bot replies disabled")
	}

	var engineNotifier alerting.Notifier
	if a.Config.Alerting.Enabled {
		engineNotifier = notifier
	} else {
		a.Logger.Warn().Msg("alerting disabled; positions are evaluated but never notified")
	}

	eng := engine.New(reader, feed, store, store, store, engineNotifier, a.engineOptions(), a.Logger)

	sched := scheduler.New(scheduler.Options{
		Interval:     a.Config.Scheduler.Interval,
		StartupDelay: a.Config.Scheduler.StartupDelay,
	}, a.Logger)

	svc := service.New(sched, eng, a.Logger)

	linkSrv := linking.NewServer(linking.Options{
		ListenAddr:      a.Config.Webhook.ListenAddr,
		BotUsername:     a.Config.Alerting.Telegram.BotUsername,
		ShutdownTimeout: a.Config.Webhook.ShutdownTimeout,
	}, store, notifier, a.Logger)

	a.Logger.Info().Msg("starting monitoring service")

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error { return feed.Run(ctx) })
	group.Go(func() error { return svc.Run(ctx) })
	group.Go(func() error { return linkSrv.Run(ctx) })

	err = group.Wait()
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, http.ErrServerClosed) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("monitoring service stopped")
	return nil
}

// ExportOptions hold parameters for exporting health history.
type ExportOptions struct {
	Wallet    string
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit int
}

// SimulateOptions configure the simulate-alert command.
type SimulateOptions struct {
	Wallet         string
	CollateralWETH float64
	DebtUSDC       float64
	PriceUSD       float64
}
