// Package config defines all configuration for the trading engine.
// Config is loaded from a YAML file (default: configs/config.yaml) with
// sensitive fields overridable via TRADECORE_* environment variables.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the top-level configuration. Maps directly to the YAML file
// structure laid out in the external-interfaces section of the design.
type Config struct {
	Mode     string         `mapstructure:"mode"` // "live" or "dry_run"
	Clock    ClockConfig    `mapstructure:"clock"`
	WAL      WALConfig      `mapstructure:"wal"`
	Router   RouterConfig   `mapstructure:"router"`
	Risk     RiskConfig     `mapstructure:"risk"`
	Circuit  CircuitConfig  `mapstructure:"circuit"`
	Strategy []StrategyDecl `mapstructure:"strategy"`
	Market   []MarketConfig `mapstructure:"market"`
	Store    StoreConfig    `mapstructure:"store"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
}

// ClockConfig tunes the monotonic-clock/offset-sync component (C1).
type ClockConfig struct {
	SyncInterval time.Duration `mapstructure:"sync_interval"`
	MaxSkew      time.Duration `mapstructure:"max_skew"`
}

// WALConfig controls the write-ahead log (C8).
type WALConfig struct {
	Dir            string        `mapstructure:"dir"`
	SyncMode       string        `mapstructure:"sync_mode"` // "fsync" or "async"
	SegmentMaxSize int64         `mapstructure:"segment_max_size"`
	FlushInterval  time.Duration `mapstructure:"flush_interval"`
}

// RouterConfig holds per-venue credentials and connection settings for the
// order router (C16) and its exchange adapters (C15).
type RouterConfig struct {
	Venues map[string]VenueConfig `mapstructure:"venues"`
}

// VenueConfig is one exchange's REST/WS endpoints, credentials and rate
// limits. At load time ApiKey/ApiSecret are overridden from the
// TRADECORE_<VENUE>_API_KEY/_API_SECRET environment variables when those
// are set; otherwise the values from the YAML file are kept.
type VenueConfig struct {
	RESTBaseURL    string  `mapstructure:"rest_base_url"`
	WSBaseURL      string  `mapstructure:"ws_base_url"`
	ApiKey         string  `mapstructure:"api_key"`
	ApiSecret      string  `mapstructure:"api_secret"`
	OrderRateLimit float64 `mapstructure:"order_rate_limit"`
	OrderBurst     float64 `mapstructure:"order_burst"`
}

// RiskConfig parameterizes both the sequential pre-trade rule chain and
// the portfolio-level kill switch (C19).
type RiskConfig struct {
	MaxPositionSize   map[string]float64 `mapstructure:"max_position_size"` // per symbol
	MaxNotional       float64            `mapstructure:"max_notional"`
	PriceDeviationPct float64            `mapstructure:"price_deviation_pct"`
	RatePerSymbol     int                `mapstructure:"rate_per_symbol"` // orders per second
	MaxDailyLoss      float64            `mapstructure:"max_daily_loss"`
	KillSwitchDropPct float64            `mapstructure:"kill_switch_drop_pct"`
	KillSwitchWindow  time.Duration      `mapstructure:"kill_switch_window"`
	CooldownAfterKill time.Duration      `mapstructure:"cooldown_after_kill"`
}

// CircuitConfig parameterizes the per-venue circuit breaker (C20).
type CircuitConfig struct {
	FailureThreshold int           `mapstructure:"failure_threshold"`
	OpenDuration     time.Duration `mapstructure:"open_duration"`
	HalfOpenProbes   int           `mapstructure:"half_open_probes"`
}

// StrategyDecl declares one configured strategy instance (C21).
type StrategyDecl struct {
	Name       string                 `mapstructure:"name"`
	Template   string                 `mapstructure:"template"` // ma_crossover, mean_reversion, momentum, market_making, grid
	Venue      string                 `mapstructure:"venue"`
	Symbol     string                 `mapstructure:"symbol"`
	Params     map[string]interface{} `mapstructure:"params"`
}

// MarketConfig declares one (venue, symbol) pair the engine subscribes to.
type MarketConfig struct {
	Venue   string   `mapstructure:"venue"`
	Symbol  string   `mapstructure:"symbol"`
	Streams []string `mapstructure:"streams"` // book, trade, kline
}

// StoreConfig sets where persisted state (position snapshots, allocator
// counter) lives on disk.
type StoreConfig struct {
	DataDir string `mapstructure:"data_dir"`
}

// LoggingConfig controls the slog handler.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // "json" or "text"
}

// MetricsConfig controls the Prometheus text-export listener.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// Load reads config from a YAML file with env var overrides. Unknown keys
// in the YAML file are rejected — a typo in a config key fails startup
// instead of silently applying a default.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("TRADECORE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.UnmarshalExact(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads credential fields directly from the environment
// rather than relying on viper's automatic binding, so that a secret never
// needs to appear in the YAML file at all.
func applyEnvOverrides(cfg *Config) {
	for name, vc := range cfg.Router.Venues {
		if key := os.Getenv("TRADECORE_" + strings.ToUpper(name) + "_API_KEY"); key != "" {
			vc.ApiKey = key
		}
		if secret := os.Getenv("TRADECORE_" + strings.ToUpper(name) + "_API_SECRET"); secret != "" {
			vc.ApiSecret = secret
		}
		cfg.Router.Venues[name] = vc
	}
	if mode := os.Getenv("TRADECORE_MODE"); mode != "" {
		cfg.Mode = mode
	}
}

// Validate checks required fields and value ranges.
func (c *Config) Validate() error {
	switch c.Mode {
	case "live", "dry_run":
	default:
		return fmt.Errorf("mode must be one of: live, dry_run")
	}
	if len(c.Market) == 0 {
		return fmt.Errorf("at least one market entry is required")
	}
	if c.WAL.Dir == "" {
		return fmt.Errorf("wal.dir is required")
	}
	switch c.WAL.SyncMode {
	case "fsync", "async":
	default:
		return fmt.Errorf("wal.sync_mode must be one of: fsync, async")
	}
	if c.Risk.MaxNotional <= 0 {
		return fmt.Errorf("risk.max_notional must be > 0")
	}
	if c.Risk.RatePerSymbol <= 0 {
		return fmt.Errorf("risk.rate_per_symbol must be > 0")
	}
	if c.Circuit.FailureThreshold <= 0 {
		return fmt.Errorf("circuit.failure_threshold must be > 0")
	}
	for _, s := range c.Strategy {
		switch s.Template {
		case "ma_crossover", "mean_reversion", "momentum", "market_making", "grid":
		default:
			return fmt.Errorf("strategy %q: unknown template %q", s.Name, s.Template)
		}
	}
	return nil
}
