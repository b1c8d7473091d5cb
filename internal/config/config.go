package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/vector-10/compound-safe/internal/logging"
	"github.com/vector-10/compound-safe/internal/storage"
)

// Config materialises application configuration.
type Config struct {
	App       AppConfig          `mapstructure:"app"`
	Logging   logging.Config     `mapstructure:"logging"`
	Database  storage.PoolConfig `mapstructure:"database"`
	Scheduler SchedulerConfig    `mapstructure:"scheduler"`
	Compound  CompoundConfig     `mapstructure:"compound"`
	PriceFeed PriceFeedConfig    `mapstructure:"pricefeed"`
	Alerting  AlertingConfig     `mapstructure:"alerting"`
	Webhook   WebhookConfig      `mapstructure:"webhook"`
	Export    ExportConfig       `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// SchedulerConfig governs evaluation cadence and concurrency.
type SchedulerConfig struct {
	Interval     time.Duration `mapstructure:"interval"`
	StartupDelay time.Duration `mapstructure:"startup_delay"`
	Workers      int           `mapstructure:"workers"`
}

// CompoundConfig covers on-chain position access.
type CompoundConfig struct {
	RPCURL               string        `mapstructure:"rpc_url"`
	CometAddress         string        `mapstructure:"comet_address"`
	CollateralAddress    string        `mapstructure:"collateral_address"`
	LiquidationThreshold float64       `mapstructure:"liquidation_threshold"`
	RequestTimeout       time.Duration `mapstructure:"request_timeout"`
}

// PriceFeedConfig captures the collateral price source.
type PriceFeedConfig struct {
	BaseURL         string        `mapstructure:"base_url"`
	AssetID         string        `mapstructure:"asset_id"`
	VsCurrency      string        `mapstructure:"vs_currency"`
	RefreshInterval time.Duration `mapstructure:"refresh_interval"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	FallbackPrice   float64       `mapstructure:"fallback_price"`
	UserAgent       string        `mapstructure:"user_agent"`
}

// AlertingConfig defines notification cadence and routing.
type AlertingConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	Cooldown time.Duration  `mapstructure:"cooldown"`
	Telegram TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig 描述 Telegram 机器人参数。
type TelegramConfig struct {
	BotToken    string `mapstructure:"bot_token"`
	BotUsername string `mapstructure:"bot_username"`
	APIBase     string `mapstructure:"api_base"`
}

// WebhookConfig sets the inbound linking endpoint.
type WebhookConfig struct {
	ListenAddr      string        `mapstructure:"listen_addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("COMPSAFE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "compsafe")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("scheduler.interval", "2m")
	v.SetDefault("scheduler.startup_delay", "0s")
	v.SetDefault("scheduler.workers", 8)

	v.SetDefault("compound.liquidation_threshold", 0.80)
	v.SetDefault("compound.request_timeout", "10s")

	v.SetDefault("pricefeed.base_url", "https://api.coingecko.com/api/v3")
	v.SetDefault("pricefeed.asset_id", "weth")
	v.SetDefault("pricefeed.vs_currency", "usd")
	v.SetDefault("pricefeed.refresh_interval", "60s")
	v.SetDefault("pricefeed.request_timeout", "10s")
	v.SetDefault("pricefeed.fallback_price", 2400.0)
	v.SetDefault("pricefeed.user_agent", "compsafe/1.0")

	v.SetDefault("alerting.enabled", true)
	v.SetDefault("alerting.cooldown", "1h")
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")
	v.SetDefault("alerting.telegram.bot_username", "compound_safe_bot")

	v.SetDefault("webhook.listen_addr", ":8080")
	v.SetDefault("webhook.shutdown_timeout", "5s")

	v.SetDefault("export.max_data_points", 100000)

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	if c.Scheduler.Interval <= 0 {
		return fmt.Errorf("scheduler.interval must be greater than zero")
	}
	if c.Scheduler.Workers <= 0 {
		return fmt.Errorf("scheduler.workers must be greater than zero")
	}
	if c.Compound.LiquidationThreshold <= 0 || c.Compound.LiquidationThreshold > 1 {
		return fmt.Errorf("compound.liquidation_threshold must be in (0,1]")
	}
	if c.PriceFeed.FallbackPrice <= 0 {
		return fmt.Errorf("pricefeed.fallback_price must be greater than zero")
	}
	if c.Alerting.Cooldown <= 0 {
		return fmt.Errorf("alerting.cooldown must be greater than zero")
	}
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	if c.Alerting.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			return fmt.Errorf("alerting.telegram.bot_token 必须配置")
		}
	}
	return nil
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}
