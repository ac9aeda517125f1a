package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds all static application configuration. Runtime toggles
// (guards, automation policy, thresholds) live in the app_settings table
// and are read through internal/settings, not here.
type Config struct {
	App        AppConfig        `mapstructure:"app"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Redis      RedisConfig      `mapstructure:"redis"`
	NATS       NATSConfig       `mapstructure:"nats"`
	Bridge     BridgeConfig     `mapstructure:"bridge"`
	Pipeline   PipelineConfig   `mapstructure:"pipeline"`
	Regime     RegimeConfig     `mapstructure:"regime"`
	Models     ModelsConfig     `mapstructure:"models"`
	DXY        DXYConfig        `mapstructure:"dxy"`
	Scheduler  SchedulerConfig  `mapstructure:"scheduler"`
	API        APIConfig        `mapstructure:"api"`
	Monitoring MonitoringConfig `mapstructure:"monitoring"`
}

// AppConfig contains application-level settings
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"` // development, staging, production
	LogLevel    string `mapstructure:"log_level"`
	LogFormat   string `mapstructure:"log_format"` // "json" or "console"
}

// DatabaseConfig contains PostgreSQL settings
type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
	SSLMode  string `mapstructure:"ssl_mode"`
	PoolSize int    `mapstructure:"pool_size"`
}

// RedisConfig contains Redis settings
type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// NATSConfig contains NATS settings for the activity bus mirror
type NATSConfig struct {
	URL     string `mapstructure:"url"`
	Subject string `mapstructure:"subject"`
	Enabled bool   `mapstructure:"enabled"`
}

// BridgeConfig contains MT5 bridge transport settings
type BridgeConfig struct {
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	PingTimeoutMS  int    `mapstructure:"ping_timeout_ms"`
	RatesTimeoutMS int    `mapstructure:"rates_timeout_ms"`
	PosTimeoutMS   int    `mapstructure:"positions_timeout_ms"`
}

// PipelineConfig contains analysis pipeline settings
type PipelineConfig struct {
	EMAFastPeriod int     `mapstructure:"ema_fast_period"` // 20
	EMASlowPeriod int     `mapstructure:"ema_slow_period"` // 50
	ATRPeriod     int     `mapstructure:"atr_period"`      // 14
	BBPeriod      int     `mapstructure:"bb_period"`       // 20
	BBStdDev      float64 `mapstructure:"bb_std_dev"`      // 2.0
	MinCandles    int     `mapstructure:"min_candles"`     // 200
}

// RegimeConfig contains regime classifier thresholds
type RegimeConfig struct {
	HighVolATRPct  float64 `mapstructure:"high_vol_atr_pct"` // 0.006 for gold-like instruments
	TrendEMASpread float64 `mapstructure:"trend_ema_spread"` // 0.0015
	RangeBBLow     float64 `mapstructure:"range_bb_low"`     // 0.005
	RangeBBHigh    float64 `mapstructure:"range_bb_high"`    // 0.025
}

// ModelsConfig contains model registry cache settings
type ModelsConfig struct {
	ArtifactDir string `mapstructure:"artifact_dir"`
	CacheTTL    int    `mapstructure:"cache_ttl_seconds"` // active-row recheck interval
}

// DXYConfig contains DXY context service settings
type DXYConfig struct {
	Provider       string  `mapstructure:"provider"` // primary provider name
	APIKey         string  `mapstructure:"api_key"`
	SeriesMaxLen   int     `mapstructure:"series_max_len"`  // 120
	RatePerMinute  float64 `mapstructure:"rate_per_minute"` // provider rate limit
	GoldProxyPair  string  `mapstructure:"gold_proxy_pair"` // PAXGUSDT
	RequestTimeout int     `mapstructure:"request_timeout_ms"`
}

// SchedulerConfig contains periodic job settings
type SchedulerConfig struct {
	Workers          int    `mapstructure:"workers"`
	IngestScanEvery  string `mapstructure:"ingest_scan_every"`  // "60s"
	DXYRefreshEvery  string `mapstructure:"dxy_refresh_every"`  // "30s"
	AutoSelectEvery  string `mapstructure:"auto_select_every"`  // "60s"
	PredictiveEvery  string `mapstructure:"predictive_every"`   // "6h"
	TrainModelsEvery string `mapstructure:"train_models_every"` // "24h"
}

// APIConfig contains REST API settings
type APIConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// MonitoringConfig contains monitoring settings
type MonitoringConfig struct {
	EnableMetrics bool `mapstructure:"enable_metrics"`
	MetricsPort   int  `mapstructure:"metrics_port"`
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	v.AutomaticEnv()
	v.SetEnvPrefix("AURIC")

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found; using defaults and environment variables
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// App defaults
	v.SetDefault("app.name", "Auric")
	v.SetDefault("app.version", "0.1.0")
	v.SetDefault("app.environment", "development")
	v.SetDefault("app.log_level", "info")
	v.SetDefault("app.log_format", "json")

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.database", "auric")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.pool_size", 10)

	// Redis defaults
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)

	// NATS defaults
	v.SetDefault("nats.url", "nats://localhost:4222")
	v.SetDefault("nats.subject", "auric.activity")
	v.SetDefault("nats.enabled", false)

	// Bridge defaults
	v.SetDefault("bridge.host", "localhost")
	v.SetDefault("bridge.port", 5555)
	v.SetDefault("bridge.ping_timeout_ms", 800)
	v.SetDefault("bridge.rates_timeout_ms", 3500)
	v.SetDefault("bridge.positions_timeout_ms", 2500)

	// Pipeline defaults
	v.SetDefault("pipeline.ema_fast_period", 20)
	v.SetDefault("pipeline.ema_slow_period", 50)
	v.SetDefault("pipeline.atr_period", 14)
	v.SetDefault("pipeline.bb_period", 20)
	v.SetDefault("pipeline.bb_std_dev", 2.0)
	v.SetDefault("pipeline.min_candles", 200)

	// Regime defaults
	v.SetDefault("regime.high_vol_atr_pct", 0.006)
	v.SetDefault("regime.trend_ema_spread", 0.0015)
	v.SetDefault("regime.range_bb_low", 0.005)
	v.SetDefault("regime.range_bb_high", 0.025)

	// Models defaults
	v.SetDefault("models.artifact_dir", "./artifacts")
	v.SetDefault("models.cache_ttl_seconds", 60)

	// DXY defaults
	v.SetDefault("dxy.provider", "twelvedata")
	v.SetDefault("dxy.series_max_len", 120)
	v.SetDefault("dxy.rate_per_minute", 8)
	v.SetDefault("dxy.gold_proxy_pair", "PAXGUSDT")
	v.SetDefault("dxy.request_timeout_ms", 5000)

	// Scheduler defaults
	v.SetDefault("scheduler.workers", 4)
	v.SetDefault("scheduler.ingest_scan_every", "60s")
	v.SetDefault("scheduler.dxy_refresh_every", "30s")
	v.SetDefault("scheduler.auto_select_every", "60s")
	v.SetDefault("scheduler.predictive_every", "6h")
	v.SetDefault("scheduler.train_models_every", "24h")

	// API defaults
	v.SetDefault("api.host", "0.0.0.0")
	v.SetDefault("api.port", 8081)

	// Monitoring defaults
	v.SetDefault("monitoring.enable_metrics", true)
	v.SetDefault("monitoring.metrics_port", 9091)
}

// Validate checks configuration consistency
func (c *Config) Validate() error {
	if c.Database.Host == "" {
		return fmt.Errorf("database.host must not be empty")
	}
	if c.Database.PoolSize < 1 {
		return fmt.Errorf("database.pool_size must be >= 1, got %d", c.Database.PoolSize)
	}
	if c.Pipeline.EMAFastPeriod >= c.Pipeline.EMASlowPeriod {
		return fmt.Errorf("pipeline.ema_fast_period (%d) must be < ema_slow_period (%d)",
			c.Pipeline.EMAFastPeriod, c.Pipeline.EMASlowPeriod)
	}
	if c.Pipeline.MinCandles < c.Pipeline.EMASlowPeriod {
		return fmt.Errorf("pipeline.min_candles (%d) must be >= ema_slow_period (%d)",
			c.Pipeline.MinCandles, c.Pipeline.EMASlowPeriod)
	}
	if c.Regime.RangeBBLow >= c.Regime.RangeBBHigh {
		return fmt.Errorf("regime.range_bb_low must be < range_bb_high")
	}
	if c.Scheduler.Workers < 1 {
		return fmt.Errorf("scheduler.workers must be >= 1, got %d", c.Scheduler.Workers)
	}
	for name, every := range map[string]string{
		"ingest_scan_every":  c.Scheduler.IngestScanEvery,
		"dxy_refresh_every":  c.Scheduler.DXYRefreshEvery,
		"auto_select_every":  c.Scheduler.AutoSelectEvery,
		"predictive_every":   c.Scheduler.PredictiveEvery,
		"train_models_every": c.Scheduler.TrainModelsEvery,
	} {
		if _, err := time.ParseDuration(every); err != nil {
			return fmt.Errorf("scheduler.%s: invalid duration %q: %w", name, every, err)
		}
	}
	return nil
}

// GetDSN returns the PostgreSQL connection string
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// GetRedisAddr returns the Redis address
func (c *RedisConfig) GetRedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// GetAPIAddr returns the API server address
func (c *APIConfig) GetAPIAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// GetBridgeAddr returns the MT5 bridge address
func (c *BridgeConfig) GetBridgeAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// GetRequestTimeout returns the DXY provider request timeout as a duration
func (c *DXYConfig) GetRequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeout) * time.Millisecond
}
