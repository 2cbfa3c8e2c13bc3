package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/valuation-engine/internal/bri"
	"github.com/sells-group/valuation-engine/internal/db"
	"github.com/sells-group/valuation-engine/internal/dcf"
	"github.com/sells-group/valuation-engine/internal/montecarlo"
	"github.com/sells-group/valuation-engine/internal/resilience"
	"github.com/sells-group/valuation-engine/internal/signal"
	"github.com/sells-group/valuation-engine/internal/valuation"
	"github.com/sells-group/valuation-engine/pkg/anthropic"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Anthropic  AnthropicConfig  `yaml:"anthropic" mapstructure:"anthropic"`
	Scoring    ScoringConfig    `yaml:"scoring" mapstructure:"scoring"`
	Valuation  ValuationConfig  `yaml:"valuation" mapstructure:"valuation"`
	DCF        DCFConfig        `yaml:"dcf" mapstructure:"dcf"`
	Signals    SignalsConfig    `yaml:"signals" mapstructure:"signals"`
	MonteCarlo MonteCarloConfig `yaml:"montecarlo" mapstructure:"montecarlo"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string        `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string        `yaml:"database_url" mapstructure:"database_url"`
	SQLitePath  string        `yaml:"sqlite_path" mapstructure:"sqlite_path"`
	Pool        db.PoolConfig `yaml:"pool" mapstructure:"pool"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port           int           `yaml:"port" mapstructure:"port"`
	RequestTimeout time.Duration `yaml:"request_timeout" mapstructure:"request_timeout"`
	CORSOrigins    []string      `yaml:"cors_origins" mapstructure:"cors_origins"`
}

// AnthropicConfig configures the comparables model client.
type AnthropicConfig struct {
	Key               string                   `yaml:"key" mapstructure:"key"`
	Model             string                   `yaml:"model" mapstructure:"model"`
	MaxTokens         int64                    `yaml:"max_tokens" mapstructure:"max_tokens"`
	RequestsPerMinute int                      `yaml:"requests_per_minute" mapstructure:"requests_per_minute"`
	Retry             resilience.RetryPolicy   `yaml:"retry" mapstructure:"retry"`
	Breaker           resilience.BreakerConfig `yaml:"breaker" mapstructure:"breaker"`
	// Pricing overrides the built-in per-model rates used in usage logs.
	Pricing anthropic.Pricing `yaml:"pricing" mapstructure:"pricing"`
}

// ScoringConfig holds the global category weight override. Keys are
// category names in any case.
type ScoringConfig struct {
	GlobalWeights map[string]float64 `yaml:"global_weights" mapstructure:"global_weights"`
}

// ValuationConfig configures the multiple discount and multiple sources.
type ValuationConfig struct {
	Discount         valuation.DiscountPolicy `yaml:"discount" mapstructure:"discount"`
	Bounds           valuation.MultipleBounds `yaml:"bounds" mapstructure:"bounds"`
	DefaultMultiples valuation.MultipleRange  `yaml:"default_multiples" mapstructure:"default_multiples"`
	Comparables      ComparablesConfig        `yaml:"comparables" mapstructure:"comparables"`
}

// ComparablesConfig toggles comparable-company multiples.
type ComparablesConfig struct {
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`
	Limit   int  `yaml:"limit" mapstructure:"limit"`
}

// DCFConfig holds DCF defaults used when a request omits them.
type DCFConfig struct {
	WACC                dcf.WACCInputs `yaml:"wacc" mapstructure:"wacc"`
	PerpetualGrowthRate float64        `yaml:"perpetual_growth_rate" mapstructure:"perpetual_growth_rate"`
	ExitMultiple        float64        `yaml:"exit_multiple" mapstructure:"exit_multiple"`
	Sensitivity         dcf.Grid       `yaml:"sensitivity" mapstructure:"sensitivity"`
}

// SignalsConfig configures ranking and the risk summary.
type SignalsConfig struct {
	TopN    int                   `yaml:"top_n" mapstructure:"top_n"`
	Summary signal.SummaryOptions `yaml:"summary" mapstructure:"summary"`
}

// MonteCarloConfig configures the retirement simulator.
type MonteCarloConfig struct {
	montecarlo.Params `yaml:",inline" mapstructure:",squash"`
	// ChunkSize is the number of iterations between progress reports.
	ChunkSize int `yaml:"chunk_size" mapstructure:"chunk_size"`
	// Runs above SyncThreshold iterations are chunked.
	SyncThreshold int `yaml:"sync_threshold" mapstructure:"sync_threshold"`
	// Workers > 1 runs iterations in parallel.
	Workers int `yaml:"workers" mapstructure:"workers"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("VALUATION")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.sqlite_path", "valuation.db")
	v.SetDefault("store.pool.max_conns", 10)
	v.SetDefault("store.pool.min_conns", 1)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.request_timeout", "30s")
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("anthropic.model", "claude-sonnet-4-5-20250929")
	v.SetDefault("anthropic.max_tokens", 2048)
	v.SetDefault("anthropic.requests_per_minute", 50)
	v.SetDefault("anthropic.retry.max_attempts", 3)
	v.SetDefault("anthropic.retry.initial_backoff", "500ms")
	v.SetDefault("anthropic.retry.max_backoff", "30s")
	v.SetDefault("anthropic.retry.multiplier", 2.0)
	v.SetDefault("anthropic.retry.jitter_fraction", 0.25)
	v.SetDefault("anthropic.breaker.failure_threshold", 5)
	v.SetDefault("anthropic.breaker.reset_timeout", "30s")
	v.SetDefault("anthropic.breaker.half_open_probes", 1)

	discount := valuation.DefaultDiscountPolicy()
	v.SetDefault("valuation.discount.alpha", discount.Alpha)
	v.SetDefault("valuation.discount.core_weight", discount.CoreWeight)
	v.SetDefault("valuation.discount.exponent", discount.Exponent)
	v.SetDefault("valuation.discount.max_discount", discount.MaxDiscount)
	bounds := valuation.DefaultMultipleBounds()
	v.SetDefault("valuation.bounds.ebitda_min", bounds.EBITDAMin)
	v.SetDefault("valuation.bounds.ebitda_max", bounds.EBITDAMax)
	v.SetDefault("valuation.bounds.revenue_min", bounds.RevenueMin)
	v.SetDefault("valuation.bounds.revenue_max", bounds.RevenueMax)
	multiples := valuation.DefaultMultiples()
	v.SetDefault("valuation.default_multiples.ebitda_low", multiples.EBITDALow)
	v.SetDefault("valuation.default_multiples.ebitda_high", multiples.EBITDAHigh)
	v.SetDefault("valuation.default_multiples.revenue_low", multiples.RevenueLow)
	v.SetDefault("valuation.default_multiples.revenue_high", multiples.RevenueHigh)
	v.SetDefault("valuation.comparables.enabled", false)
	v.SetDefault("valuation.comparables.limit", 8)

	wacc := dcf.DefaultWACCInputs()
	v.SetDefault("dcf.wacc.risk_free_rate", wacc.RiskFreeRate)
	v.SetDefault("dcf.wacc.market_risk_premium", wacc.MarketRiskPremium)
	v.SetDefault("dcf.wacc.beta", wacc.Beta)
	v.SetDefault("dcf.wacc.size_risk_premium", wacc.SizeRiskPremium)
	v.SetDefault("dcf.wacc.company_specific_risk", wacc.CompanySpecificRisk)
	v.SetDefault("dcf.wacc.cost_of_debt", wacc.CostOfDebt)
	v.SetDefault("dcf.wacc.tax_rate", wacc.TaxRate)
	v.SetDefault("dcf.wacc.debt_weight", wacc.DebtWeight)
	v.SetDefault("dcf.perpetual_growth_rate", 0.025)
	v.SetDefault("dcf.exit_multiple", 5.0)
	grid := dcf.DefaultGrid()
	v.SetDefault("dcf.sensitivity.wacc_offsets", grid.WACCOffsets)
	v.SetDefault("dcf.sensitivity.growth_offsets", grid.GrowthOffsets)
	v.SetDefault("dcf.sensitivity.multiple_offsets", grid.MultipleOffsets)

	summary := signal.DefaultSummaryOptions()
	v.SetDefault("signals.top_n", signal.DefaultTopN)
	v.SetDefault("signals.summary.history_days", summary.HistoryDays)
	v.SetDefault("signals.summary.trend_tolerance", summary.TrendTolerance)
	v.SetDefault("signals.summary.top_threats", summary.TopThreats)

	params := montecarlo.DefaultParams()
	v.SetDefault("montecarlo.iterations", params.Iterations)
	v.SetDefault("montecarlo.seed", params.Seed)
	v.SetDefault("montecarlo.return_std_dev", params.ReturnStdDev)
	v.SetDefault("montecarlo.inflation_std_dev", params.InflationStdDev)
	v.SetDefault("montecarlo.chunk_size", 500)
	v.SetDefault("montecarlo.sync_threshold", 5000)
	v.SetDefault("montecarlo.workers", 0)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// GlobalWeights converts the configured global override to category
// weights. It returns nil when none is configured; validation is left to
// bri.ResolveWeights.
func (c *Config) GlobalWeights() (bri.Weights, error) {
	if len(c.Scoring.GlobalWeights) == 0 {
		return nil, nil
	}
	w := make(bri.Weights, len(c.Scoring.GlobalWeights))
	for name, weight := range c.Scoring.GlobalWeights {
		cat, ok := bri.ParseCategory(name)
		if !ok {
			return nil, eris.Errorf("config: scoring.global_weights: unknown category %q", name)
		}
		w[cat] = weight
	}
	return w, nil
}

// Validate checks the settings a command needs. mode is the command name.
func (c *Config) Validate(mode string) error {
	var errs []string

	switch mode {
	case "valuate", "dcf", "signals", "simulate", "weights", "multiples", "migrate", "serve":
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	switch c.Store.Driver {
	case "postgres":
		if c.Store.DatabaseURL == "" {
			errs = append(errs, "store.database_url is required for the postgres driver")
		}
	case "sqlite":
		if c.Store.SQLitePath == "" {
			errs = append(errs, "store.sqlite_path is required for the sqlite driver")
		}
	default:
		errs = append(errs, "store.driver must be sqlite or postgres")
	}

	if mode == "serve" && c.Server.Port <= 0 {
		errs = append(errs, "server.port must be > 0")
	}
	if (mode == "valuate" || mode == "serve") && c.Valuation.Comparables.Enabled && c.Anthropic.Key == "" {
		errs = append(errs, "anthropic.key is required when valuation.comparables.enabled is set")
	}
	if err := c.Valuation.Discount.Validate(); err != nil {
		errs = append(errs, "valuation.discount: "+err.Error())
	}
	if err := c.Valuation.DefaultMultiples.Validate(); err != nil {
		errs = append(errs, "valuation.default_multiples: "+err.Error())
	}
	if _, err := c.GlobalWeights(); err != nil {
		errs = append(errs, err.Error())
	}
	if err := c.MonteCarlo.Params.Validate(); err != nil {
		errs = append(errs, "montecarlo: "+err.Error())
	}
	if c.Signals.TopN < 1 {
		errs = append(errs, "signals.top_n must be >= 1")
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
