// Package config defines the top-level configuration for the arbscan engine
// and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by ARBSCAN_* environment variables.
type Config struct {
	Venues   VenuesConfig   `toml:"venues"`
	Feed     FeedConfig     `toml:"feed"`
	Gas      GasConfig      `toml:"gas"`
	Catalog  CatalogConfig  `toml:"catalog"`
	Matcher  MatcherConfig  `toml:"matcher"`
	Detector DetectorConfig `toml:"detector"`
	Engine   EngineConfig   `toml:"engine"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Pipeline PipelineConfig `toml:"pipeline"`
	Server   ServerConfig   `toml:"server"`
	Notify   NotifyConfig   `toml:"notify"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// CEXVenueConfig describes one centralized-exchange candidate venue.
type CEXVenueConfig struct {
	ID        string `toml:"id"`
	BaseURL   string `toml:"base_url"`
	BulkQuote bool   `toml:"bulk_quote"`
}

// ChainConfig describes one chain whose DEX protocols are polled.
type ChainConfig struct {
	Name   string `toml:"name"`
	RPCURL string `toml:"rpc_url"` // JSON-RPC endpoint used for gas estimation
	// NativeUSD is the approximate USD price of the chain's native token,
	// used to convert gas quotes into percent-of-notional estimates.
	NativeUSD float64 `toml:"native_usd"`
}

// VenuesConfig lists the candidate venues the catalog builder considers.
type VenuesConfig struct {
	CEX    []CEXVenueConfig `toml:"cex"`
	Chains []ChainConfig    `toml:"chains"`
}

// FeedConfig holds the GraphQL trade-feed endpoint parameters.
type FeedConfig struct {
	URL    string `toml:"url"`
	APIKey string `toml:"api_key"`
}

// GasConfig tunes the chain-gas estimator.
type GasConfig struct {
	// AssumedNotionalUSD is the trade size used to convert an absolute gas
	// quote into a percent-of-notional figure.
	AssumedNotionalUSD float64  `toml:"assumed_notional_usd"`
	GasUnitsPerSwap    uint64   `toml:"gas_units_per_swap"`
	CacheTTL           duration `toml:"cache_ttl"`
	// FallbackPct is used when a chain has no RPC endpoint configured or the
	// RPC call fails.
	FallbackPct float64 `toml:"fallback_pct"`
}

// CatalogConfig tunes venue discovery and top-pair identification.
type CatalogConfig struct {
	TopVenueCount   int      `toml:"top_venue_count"`
	TargetPairCount int      `toml:"target_pair_count"`
	MinVolumeUSD    float64  `toml:"min_volume_usd"`
	FallbackPairs   []string `toml:"fallback_pairs"`
}

// MatcherConfig tunes the cross-venue pair matcher.
type MatcherConfig struct {
	MaxSubMarkets int `toml:"max_sub_markets"` // top-K protocols polled per chain
	MaxRecords    int `toml:"max_records"`     // records fetched per sub-market
	MinVenueCount int `toml:"min_venue_count"`
}

// DetectorConfig tunes the opportunity detector's fee model and filters.
type DetectorConfig struct {
	ThresholdPct        float64 `toml:"threshold_pct"`
	TradingFeePct       float64 `toml:"trading_fee_pct"`       // per leg
	SlippageGapFraction float64 `toml:"slippage_gap_fraction"` // fraction of gross gap
	MinLiquidityUSD     float64 `toml:"min_liquidity_usd"`
}

// EngineConfig tunes cycle scheduling and fan-out bounds.
type EngineConfig struct {
	QueryTimeout duration `toml:"query_timeout"`
	MaxInFlight  int      `toml:"max_in_flight"` // bound on concurrent venue/sub-market fetches
	CycleLockTTL duration `toml:"cycle_lock_ttl"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// PipelineConfig holds the cycle scheduling intervals.
type PipelineConfig struct {
	DetectInterval       duration `toml:"detect_interval"`
	CatalogInterval      duration `toml:"catalog_interval"`
	ArchiveEnabled       bool     `toml:"archive_enabled"`
	ArchiveInterval      duration `toml:"archive_interval"`
	ArchiveRetentionDays int      `toml:"archive_retention_days"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	APIKey      string   `toml:"api_key"`
	// RateLimit bounds requests per client per RateWindow; zero disables it.
	RateLimit  int      `toml:"rate_limit"`
	RateWindow duration `toml:"rate_window"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
	// MinNetProfitPct suppresses alerts for marginal opportunities.
	MinNetProfitPct float64 `toml:"min_net_profit_pct"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Venues: VenuesConfig{
			CEX: []CEXVenueConfig{
				{ID: "binance", BaseURL: "https://api.binance.com", BulkQuote: true},
				{ID: "coinbase", BaseURL: "https://api.exchange.coinbase.com", BulkQuote: true},
				{ID: "kraken", BaseURL: "https://api.kraken.com", BulkQuote: true},
			},
			Chains: []ChainConfig{
				{Name: "ethereum", RPCURL: "https://eth.llamarpc.com", NativeUSD: 3000},
				{Name: "bsc", RPCURL: "https://binance.llamarpc.com", NativeUSD: 600},
				{Name: "polygon", RPCURL: "https://polygon.llamarpc.com", NativeUSD: 0.5},
			},
		},
		Feed: FeedConfig{
			URL: "https://graphql.bitquery.io",
		},
		Gas: GasConfig{
			AssumedNotionalUSD: 10_000,
			GasUnitsPerSwap:    180_000,
			CacheTTL:           duration{2 * time.Minute},
			FallbackPct:        0.05,
		},
		Catalog: CatalogConfig{
			TopVenueCount:   10,
			TargetPairCount: 20,
			MinVolumeUSD:    100_000,
			FallbackPairs: []string{
				"BTC/USDT", "ETH/USDT", "BNB/USDT", "SOL/USDT", "XRP/USDT",
				"ADA/USDT", "DOGE/USDT", "AVAX/USDT", "DOT/USDT", "LINK/USDT",
			},
		},
		Matcher: MatcherConfig{
			MaxSubMarkets: 5,
			MaxRecords:    50,
			MinVenueCount: 2,
		},
		Detector: DetectorConfig{
			ThresholdPct:        1.0,
			TradingFeePct:       0.1,
			SlippageGapFraction: 0.1,
			MinLiquidityUSD:     50_000,
		},
		Engine: EngineConfig{
			QueryTimeout: duration{15 * time.Second},
			MaxInFlight:  8,
			CycleLockTTL: duration{5 * time.Minute},
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "arbscan",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "arbscan-data",
			ForcePathStyle: true,
		},
		Pipeline: PipelineConfig{
			DetectInterval:       duration{time.Minute},
			CatalogInterval:      duration{30 * time.Minute},
			ArchiveEnabled:       false,
			ArchiveInterval:      duration{24 * time.Hour},
			ArchiveRetentionDays: 30,
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000"},
			RateLimit:   120,
			RateWindow:  duration{time.Minute},
		},
		Notify: NotifyConfig{
			Events:          []string{"opportunity_detected", "cycle_failed"},
			MinNetProfitPct: 0.5,
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"detect": true,
	"serve":  true,
	"full":   true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found. A configuration with no
// venues at all is fatal here, at startup; mid-cycle venue failures are not.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: detect, serve, full)", c.Mode))
	}

	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	if len(c.Venues.CEX) == 0 && len(c.Venues.Chains) == 0 {
		errs = append(errs, "venues: at least one centralized venue or chain must be configured")
	}
	for i, v := range c.Venues.CEX {
		if v.ID == "" {
			errs = append(errs, fmt.Sprintf("venues.cex[%d]: id must not be empty", i))
		}
		if v.BaseURL == "" {
			errs = append(errs, fmt.Sprintf("venues.cex[%d]: base_url must not be empty", i))
		}
	}
	for i, ch := range c.Venues.Chains {
		if ch.Name == "" {
			errs = append(errs, fmt.Sprintf("venues.chains[%d]: name must not be empty", i))
		}
	}

	if len(c.Venues.Chains) > 0 && c.Feed.URL == "" {
		errs = append(errs, "feed: url is required when chains are configured")
	}

	if c.Catalog.TopVenueCount <= 0 {
		errs = append(errs, "catalog: top_venue_count must be positive")
	}
	if c.Catalog.TargetPairCount <= 0 {
		errs = append(errs, "catalog: target_pair_count must be positive")
	}

	if c.Matcher.MaxSubMarkets <= 0 {
		errs = append(errs, "matcher: max_sub_markets must be positive")
	}
	if c.Matcher.MaxRecords <= 0 {
		errs = append(errs, "matcher: max_records must be positive")
	}
	if c.Matcher.MinVenueCount < 1 {
		errs = append(errs, "matcher: min_venue_count must be at least 1")
	}

	if c.Detector.ThresholdPct < 0 {
		errs = append(errs, "detector: threshold_pct must not be negative")
	}
	if c.Detector.SlippageGapFraction < 0 || c.Detector.SlippageGapFraction > 1 {
		errs = append(errs, "detector: slippage_gap_fraction must be in [0, 1]")
	}

	if c.Engine.MaxInFlight <= 0 {
		errs = append(errs, "engine: max_in_flight must be positive")
	}
	if c.Engine.QueryTimeout.Duration <= 0 {
		errs = append(errs, "engine: query_timeout must be positive")
	}

	if strings.TrimSpace(c.Postgres.DSN) == "" && c.Postgres.Host == "" {
		errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
	}

	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}

	if c.Server.Enabled && (c.Server.Port <= 0 || c.Server.Port > 65535) {
		errs = append(errs, fmt.Sprintf("server: port %d out of range", c.Server.Port))
	}
	if c.Server.RateLimit > 0 && c.Server.RateWindow.Duration <= 0 {
		errs = append(errs, "server: rate_window must be positive when rate_limit is set")
	}

	if c.Pipeline.DetectInterval.Duration <= 0 {
		errs = append(errs, "pipeline: detect_interval must be positive")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}
