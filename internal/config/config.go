// Package config defines the engine configuration, loaded once at startup
// from a YAML file and passed explicitly to every component.
package config

import (
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v2"

	"github.com/tidemark-lab/tidemark/internal/types"
	"github.com/tidemark-lab/tidemark/internal/version"
	"github.com/tidemark-lab/tidemark/pkg/errors"
)

// Config is the full engine configuration. Secrets are never stored here
// directly; the config names environment variables and the credentials are
// resolved at client construction time.
type Config struct {
	// SchemaVersion is the config schema this file was written for.
	SchemaVersion string        `yaml:"schema_version" json:"schema_version" jsonschema:"title=Schema Version,description=Config schema version this file targets" validate:"required"`
	Mode          types.RunMode `yaml:"mode" json:"mode" jsonschema:"title=Mode,enum=backtest,enum=forward,enum=live" validate:"required,oneof=backtest forward live"`
	Symbols       []string      `yaml:"symbols" json:"symbols" jsonschema:"title=Symbols" validate:"required,min=1"`
	Timeframe     string        `yaml:"timeframe" json:"timeframe" jsonschema:"title=Timeframe,enum=1m,enum=3m,enum=5m,enum=15m,enum=30m,enum=1h,enum=4h,enum=1d" validate:"required"`
	InitialEquity float64       `yaml:"initial_equity" json:"initial_equity" jsonschema:"title=Initial Equity" validate:"required,gt=0"`

	Data       DataConfig       `yaml:"data" json:"data"`
	Stream     StreamConfig     `yaml:"stream" json:"stream"`
	Strategies []StrategyConfig `yaml:"strategies" json:"strategies" validate:"required,min=1,dive"`
	Risk       RiskConfig       `yaml:"risk" json:"risk"`
	Execution  ExecutionConfig  `yaml:"execution" json:"execution"`
	Ledger     LedgerConfig     `yaml:"ledger" json:"ledger"`
}

// DataSourceKind selects where candles come from.
type DataSourceKind string

const (
	DataSourceHistory   DataSourceKind = "history"
	DataSourceLive      DataSourceKind = "live"
	DataSourceSynthetic DataSourceKind = "synthetic"
)

// DataConfig configures the candle source.
type DataConfig struct {
	Source DataSourceKind `yaml:"source" json:"source" jsonschema:"title=Source,enum=history,enum=live,enum=synthetic" validate:"required,oneof=history live synthetic"`
	// DatabasePath is the DuckDB file holding historical candles. Empty means
	// in-memory, which only makes sense for tests.
	DatabasePath string `yaml:"database_path,omitempty" json:"database_path,omitempty"`
	// Provider picks the download provider used by auto-backfill.
	Provider string `yaml:"provider,omitempty" json:"provider,omitempty" jsonschema:"enum=binance,enum=polygon" validate:"omitempty,oneof=binance polygon"`
	// PolygonAPIKeyEnv names the env var holding the Polygon API key.
	PolygonAPIKeyEnv string `yaml:"polygon_api_key_env,omitempty" json:"polygon_api_key_env,omitempty"`
	// BackfillDays is how far back auto-backfill extends the store before a
	// historical run. Zero disables backfill.
	BackfillDays int `yaml:"backfill_days,omitempty" json:"backfill_days,omitempty" validate:"gte=0"`
	// CheckpointPath is where backfill progress is saved so an interrupted
	// backfill resumes instead of restarting.
	CheckpointPath string `yaml:"checkpoint_path,omitempty" json:"checkpoint_path,omitempty"`
	// Start and End bound the historical replay window. Zero values mean the
	// full extent of the store.
	Start time.Time `yaml:"start,omitempty" json:"start,omitempty"`
	End   time.Time `yaml:"end,omitempty" json:"end,omitempty"`

	Synthetic SyntheticConfig `yaml:"synthetic,omitempty" json:"synthetic,omitempty"`
}

// SyntheticConfig configures the seeded random-walk source.
type SyntheticConfig struct {
	Seed       int64   `yaml:"seed" json:"seed"`
	Candles    int     `yaml:"candles" json:"candles" validate:"gte=0"`
	StartPrice float64 `yaml:"start_price" json:"start_price" validate:"gte=0"`
	// Drift is the per-candle expected return, Volatility the per-candle
	// standard deviation, both as fractions.
	Drift      float64 `yaml:"drift" json:"drift"`
	Volatility float64 `yaml:"volatility" json:"volatility" validate:"gte=0"`
}

// StreamConfig tunes the live streaming source.
type StreamConfig struct {
	// HeartbeatTimeout is how long the stream may stay silent before the
	// connection is declared dead and reconnected.
	HeartbeatTimeout time.Duration `yaml:"heartbeat_timeout" json:"heartbeat_timeout"`
	// QueueSize bounds the delivery queue between the stream reader and the
	// engine loop.
	QueueSize int `yaml:"queue_size" json:"queue_size" validate:"gte=0"`
	// EnqueueTimeout is how long a delivery may block on a full queue before
	// the stream is marked unhealthy.
	EnqueueTimeout time.Duration `yaml:"enqueue_timeout" json:"enqueue_timeout"`
	// MaxReconnectInterval caps the exponential reconnect backoff.
	MaxReconnectInterval time.Duration `yaml:"max_reconnect_interval" json:"max_reconnect_interval"`
}

// StrategyConfig configures one strategy instance.
type StrategyConfig struct {
	// ID must be unique within a run; it keys positions, cooldowns and logs.
	ID string `yaml:"id" json:"id" validate:"required"`
	// Name selects the factory from the registry.
	Name string `yaml:"name" json:"name" validate:"required"`
	// Params is passed verbatim to the strategy factory.
	Params map[string]string `yaml:"params,omitempty" json:"params,omitempty"`
	// TickTimeout bounds one OnCandle call. Zero uses the engine default.
	TickTimeout time.Duration `yaml:"tick_timeout,omitempty" json:"tick_timeout,omitempty"`
	// CooldownCandles suppresses further signals for a symbol for this many
	// candles after a signal is acted on. Zero disables the cooldown.
	CooldownCandles int `yaml:"cooldown_candles,omitempty" json:"cooldown_candles,omitempty" validate:"gte=0"`
}

// RiskConfig holds the risk engine limits.
type RiskConfig struct {
	// MinConfidence rejects signals below this confidence.
	MinConfidence float64 `yaml:"min_confidence" json:"min_confidence" validate:"gte=0,lte=1"`
	// AllowedSymbols restricts trading to these symbols. Empty allows all
	// configured symbols.
	AllowedSymbols []string `yaml:"allowed_symbols,omitempty" json:"allowed_symbols,omitempty"`
	// MaxExposure caps total open notional as a fraction of equity.
	MaxExposure float64 `yaml:"max_exposure" json:"max_exposure" validate:"gte=0"`
	// ReduceOnly rejects signals that would increase exposure.
	ReduceOnly bool `yaml:"reduce_only,omitempty" json:"reduce_only,omitempty"`
	// MinQuantity and MaxQuantity clamp the approved quantity.
	MinQuantity float64 `yaml:"min_quantity" json:"min_quantity" validate:"gte=0"`
	MaxQuantity float64 `yaml:"max_quantity" json:"max_quantity" validate:"gte=0"`
	// MinNotional and MaxNotional clamp the approved notional.
	MinNotional float64 `yaml:"min_notional" json:"min_notional" validate:"gte=0"`
	MaxNotional float64 `yaml:"max_notional" json:"max_notional" validate:"gte=0"`
	// RiskPerTrade sizes orders from equity when a signal carries no
	// explicit notional.
	RiskPerTrade float64 `yaml:"risk_per_trade" json:"risk_per_trade" validate:"gte=0,lte=1"`
	// MaxConsecutiveLosses and MaxDailyDrawdown trip the kill switch.
	// Zero disables the respective check.
	MaxConsecutiveLosses int     `yaml:"max_consecutive_losses,omitempty" json:"max_consecutive_losses,omitempty" validate:"gte=0"`
	MaxDailyDrawdown     float64 `yaml:"max_daily_drawdown,omitempty" json:"max_daily_drawdown,omitempty" validate:"gte=0,lte=1"`
}

// CommissionModel selects the fee model for simulated fills.
type CommissionModel string

const (
	CommissionZero     CommissionModel = "zero"
	CommissionTakerBps CommissionModel = "taker_bps"
)

// ExecutionConfig configures order routing.
type ExecutionConfig struct {
	// SlippageBps shifts simulated fill prices against the order.
	SlippageBps float64 `yaml:"slippage_bps" json:"slippage_bps" validate:"gte=0"`
	// TrailingPercent arms a trailing stop on every opened position.
	// Zero disables trailing stops.
	TrailingPercent float64 `yaml:"trailing_percent,omitempty" json:"trailing_percent,omitempty" validate:"gte=0,lt=1"`
	// TrailingActivation is the gain fraction at which a trailing stop moves
	// from armed to trailing.
	TrailingActivation float64 `yaml:"trailing_activation,omitempty" json:"trailing_activation,omitempty" validate:"gte=0"`

	Commission CommissionConfig `yaml:"commission" json:"commission"`
	Binance    BinanceConfig    `yaml:"binance,omitempty" json:"binance,omitempty"`
	Handshake  HandshakeConfig  `yaml:"handshake,omitempty" json:"handshake,omitempty"`
}

// CommissionConfig configures the simulated fee model.
type CommissionConfig struct {
	Model    CommissionModel `yaml:"model" json:"model" jsonschema:"enum=zero,enum=taker_bps" validate:"omitempty,oneof=zero taker_bps"`
	TakerBps float64         `yaml:"taker_bps,omitempty" json:"taker_bps,omitempty" validate:"gte=0"`
}

// BinanceConfig configures the exchange client for forward and live modes.
type BinanceConfig struct {
	// APIKeyEnv and APISecretEnv name the environment variables holding the
	// credentials. The values themselves never appear in config or logs.
	APIKeyEnv    string `yaml:"api_key_env" json:"api_key_env"`
	APISecretEnv string `yaml:"api_secret_env" json:"api_secret_env"`
	// Testnet routes orders to the Binance testnet. Forward mode requires it.
	Testnet bool `yaml:"testnet" json:"testnet"`
	// RecvWindowMillis is the replay-protection window sent on every signed
	// request: the exchange rejects it when the request arrives later than
	// this many milliseconds after its timestamp.
	RecvWindowMillis int64 `yaml:"recv_window_ms,omitempty" json:"recv_window_ms,omitempty" validate:"gte=0"`
}

// HandshakeConfig configures the one-time connectivity check that runs
// before the first trading order in forward and live modes.
type HandshakeConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled"`
	// Symbol and Notional size the minimal buy-then-sell round trip.
	Symbol   string  `yaml:"symbol,omitempty" json:"symbol,omitempty"`
	Notional float64 `yaml:"notional,omitempty" json:"notional,omitempty" validate:"gte=0"`
}

// LedgerConfig configures accounting persistence.
type LedgerConfig struct {
	// DatabasePath is the DuckDB file for trades, positions and run
	// summaries. Empty means in-memory.
	DatabasePath string `yaml:"database_path,omitempty" json:"database_path,omitempty"`
	// ResultsDir receives the per-run summary YAML and parquet exports.
	ResultsDir string `yaml:"results_dir" json:"results_dir" validate:"required"`
	// RecommendationsPath is the YAML mirror of the recommendations table.
	RecommendationsPath string `yaml:"recommendations_path,omitempty" json:"recommendations_path,omitempty"`
	// SnapshotInterval is how many candles pass between equity snapshots.
	SnapshotInterval int `yaml:"snapshot_interval,omitempty" json:"snapshot_interval,omitempty" validate:"gte=0"`
}

// Load reads, parses and validates a config file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(errors.ErrCodeInvalidConfiguration, err, "failed to read config file %s", path)
	}

	return Parse(data)
}

// Parse parses and validates raw YAML config bytes.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, errors.Wrap(errors.ErrCodeInvalidConfiguration, "failed to parse config", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Stream.HeartbeatTimeout == 0 {
		c.Stream.HeartbeatTimeout = 90 * time.Second
	}

	if c.Stream.QueueSize == 0 {
		c.Stream.QueueSize = 256
	}

	if c.Stream.EnqueueTimeout == 0 {
		c.Stream.EnqueueTimeout = 5 * time.Second
	}

	if c.Stream.MaxReconnectInterval == 0 {
		c.Stream.MaxReconnectInterval = time.Minute
	}

	if c.Execution.Commission.Model == "" {
		c.Execution.Commission.Model = CommissionZero
	}

	if c.Execution.TrailingActivation == 0 {
		c.Execution.TrailingActivation = 0.005
	}

	if c.Execution.Binance.RecvWindowMillis == 0 {
		c.Execution.Binance.RecvWindowMillis = 5000
	}

	for i := range c.Strategies {
		if c.Strategies[i].TickTimeout == 0 {
			c.Strategies[i].TickTimeout = 2 * time.Second
		}
	}
}

// Validate checks structural validity and cross-field consistency.
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return errors.Wrap(errors.ErrCodeInvalidConfiguration, "invalid config", err)
	}

	if err := version.CheckConfigCompatibility(version.GetVersion(), c.SchemaVersion); err != nil {
		return err
	}

	if _, err := types.ParseTimeframe(c.Timeframe); err != nil {
		return err
	}

	seen := make(map[string]bool, len(c.Strategies))
	for _, s := range c.Strategies {
		if seen[s.ID] {
			return errors.Newf(errors.ErrCodeInvalidConfiguration, "duplicate strategy id %q", s.ID)
		}

		seen[s.ID] = true
	}

	if c.Mode == types.RunModeLive && c.Execution.Binance.Testnet {
		return errors.New(errors.ErrCodeInvalidConfiguration, "live mode cannot use the testnet")
	}

	if c.Mode == types.RunModeForward && !c.Execution.Binance.Testnet {
		return errors.New(errors.ErrCodeInvalidConfiguration, "forward mode requires the testnet")
	}

	if c.Mode != types.RunModeBacktest && c.Data.Source == DataSourceHistory {
		return errors.Newf(errors.ErrCodeInvalidConfiguration, "%s mode cannot replay the history source", c.Mode)
	}

	return nil
}

// ResolveCredentials reads the exchange credentials from the environment.
// Returns a ConfigError when a named variable is unset or empty.
func (c *BinanceConfig) ResolveCredentials() (apiKey, apiSecret string, err error) {
	if c.APIKeyEnv == "" || c.APISecretEnv == "" {
		return "", "", errors.New(errors.ErrCodeMissingCredentials, "api_key_env and api_secret_env must be set")
	}

	apiKey = os.Getenv(c.APIKeyEnv)
	apiSecret = os.Getenv(c.APISecretEnv)

	if apiKey == "" || apiSecret == "" {
		return "", "", errors.Newf(errors.ErrCodeMissingCredentials, "environment variables %s and %s must be set", c.APIKeyEnv, c.APISecretEnv)
	}

	return apiKey, apiSecret, nil
}
