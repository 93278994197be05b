// Package config defines the top-level configuration for the swap engine
// and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/mr-tron/base58"

	"github.com/alanyoungcy/swapbot/internal/domain"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by SWAPBOT_* environment variables.
type Config struct {
	Engine     EngineConfig       `toml:"engine"`
	Candidates []domain.Candidate `toml:"candidates"`
	Gateway    GatewayConfig      `toml:"gateway"`
	Executor   ExecutorConfig     `toml:"executor"`
	Wallet     WalletConfig       `toml:"wallet"`
	Postgres   PostgresConfig     `toml:"postgres"`
	Redis      RedisConfig        `toml:"redis"`
	S3         S3Config           `toml:"s3"`
	Server     ServerConfig       `toml:"server"`
	Notify     NotifyConfig       `toml:"notify"`
	Telemetry  TelemetryConfig    `toml:"telemetry"`
	Mode       string             `toml:"mode"`
	LogLevel   string             `toml:"log_level"`
}

// EngineConfig holds the scan loop, risk thresholds and daily caps.
type EngineConfig struct {
	ScanInterval        duration `toml:"scan_interval"`
	NotionalUSD         float64  `toml:"notional_usd"`
	MinProfitPct        float64  `toml:"min_profit_pct"`
	MaxTradeNotionalUSD float64  `toml:"max_trade_notional_usd"`
	MinLiquidityUSD     float64  `toml:"min_liquidity_usd"`
	MaxPriceImpactPct   float64  `toml:"max_price_impact_pct"`
	RoundTripCheck      bool     `toml:"round_trip_check"`
	MinRoundTripRatio   float64  `toml:"min_round_trip_ratio"`
	StopLossPct         float64  `toml:"stop_loss_pct"`
	TakeProfitPct       float64  `toml:"take_profit_pct"`
	DailyTradeCap       int      `toml:"daily_trade_cap"`
	MaxDailyNotionalUSD float64  `toml:"max_daily_notional_usd"`
	StalenessTolerance  duration `toml:"staleness_tolerance"`
	HaltThreshold       int      `toml:"halt_threshold"`
	ScanConcurrency     int      `toml:"scan_concurrency"`
	AdminIDs            []string `toml:"admin_ids"`
	QuoteMint           string   `toml:"quote_mint"`
	QuoteDecimals       int      `toml:"quote_decimals"`
	SlippageBps         int      `toml:"slippage_bps"`
	StatusEveryCycles   int      `toml:"status_every_cycles"`
	Autostart           bool     `toml:"autostart"`
	// CandidatesFile, if set, is a YAML list of candidates appended to the
	// inline [[candidates]] tables.
	CandidatesFile string `toml:"candidates_file"`
}

// GatewayConfig holds the quote/price router endpoints and their throttling.
type GatewayConfig struct {
	QuoteURL      string   `toml:"quote_url"`
	PriceURL      string   `toml:"price_url"`
	APIKey        string   `toml:"api_key"`
	QuoteTimeout  duration `toml:"quote_timeout"`
	PriceTimeout  duration `toml:"price_timeout"`
	QuoteTTL      duration `toml:"quote_ttl"`
	RateLimit     int      `toml:"rate_limit"`
	RateWindow    duration `toml:"rate_window"`
	PriceCacheTTL duration `toml:"price_cache_ttl"`
}

// ExecutorConfig selects and tunes the swap executor.
type ExecutorConfig struct {
	DryRun         bool     `toml:"dry_run"`
	RPCURL         string   `toml:"rpc_url"`
	ExecuteTimeout duration `toml:"execute_timeout"`
	ConfirmPoll    duration `toml:"confirm_poll"`
	ConfirmTimeout duration `toml:"confirm_timeout"`
	MaxRetries     int      `toml:"max_retries"`
	RetryDelay     duration `toml:"retry_delay"`
	LockTTL        duration `toml:"lock_ttl"`
	ExplorerURL    string   `toml:"explorer_url"`
}

// WalletConfig holds the Solana wallet credentials.
type WalletConfig struct {
	PrivateKey       string `toml:"private_key"` // base58
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
}

// PostgresConfig holds PostgreSQL connection parameters for the trade
// journal and audit log. When disabled the journal is kept in memory, with
// an optional JSONL file.
type PostgresConfig struct {
	Enabled       bool   `toml:"enabled"`
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
	JournalPath   string `toml:"journal_path"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
	// StreamMaxLen caps the event history stream; 0 keeps the default.
	StreamMaxLen int64 `toml:"stream_max_len"`
}

// S3Config holds S3-compatible object storage parameters for the trade
// archive.
type S3Config struct {
	Enabled              bool     `toml:"enabled"`
	Endpoint             string   `toml:"endpoint"`
	Region               string   `toml:"region"`
	Bucket               string   `toml:"bucket"`
	AccessKey            string   `toml:"access_key"`
	SecretKey            string   `toml:"secret_key"`
	UseSSL               bool     `toml:"use_ssl"`
	ForcePathStyle       bool     `toml:"force_path_style"`
	ArchiveRetentionDays int      `toml:"archive_retention_days"`
	ArchiveInterval      duration `toml:"archive_interval"`
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

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled            bool     `toml:"enabled"`
	Port               int      `toml:"port"`
	APIKey             string   `toml:"api_key"`
	CORSOrigins        []string `toml:"cors_origins"`
	RateLimitPerMinute int      `toml:"rate_limit_per_minute"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
	Buffer            int      `toml:"buffer"`
}

// TelemetryConfig toggles Prometheus metrics and OpenTelemetry tracing.
type TelemetryConfig struct {
	MetricsEnabled bool   `toml:"metrics_enabled"`
	TracingEnabled bool   `toml:"tracing_enabled"`
	ServiceName    string `toml:"service_name"`
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Engine: EngineConfig{
			ScanInterval:        duration{30 * time.Second},
			NotionalUSD:         4,
			MinProfitPct:        2,
			MaxTradeNotionalUSD: 5,
			MinLiquidityUSD:     0,
			MaxPriceImpactPct:   5,
			RoundTripCheck:      true,
			MinRoundTripRatio:   0.5,
			StopLossPct:         10,
			TakeProfitPct:       25,
			DailyTradeCap:       10,
			MaxDailyNotionalUSD: 0,
			StalenessTolerance:  duration{20 * time.Second},
			HaltThreshold:       3,
			ScanConcurrency:     4,
			QuoteMint:           domain.USDCMint,
			QuoteDecimals:       6,
			SlippageBps:         100,
			StatusEveryCycles:   10,
		},
		Gateway: GatewayConfig{
			QuoteURL:      "https://lite-api.jup.ag/swap/v1",
			PriceURL:      "https://lite-api.jup.ag/price/v2",
			QuoteTimeout:  duration{5 * time.Second},
			PriceTimeout:  duration{5 * time.Second},
			QuoteTTL:      duration{15 * time.Second},
			RateLimit:     10,
			RateWindow:    duration{time.Second},
			PriceCacheTTL: duration{30 * time.Second},
		},
		Executor: ExecutorConfig{
			DryRun:         true,
			RPCURL:         "https://api.mainnet-beta.solana.com",
			ExecuteTimeout: duration{45 * time.Second},
			ConfirmPoll:    duration{2 * time.Second},
			ConfirmTimeout: duration{40 * time.Second},
			MaxRetries:     3,
			RetryDelay:     duration{500 * time.Millisecond},
			LockTTL:        duration{60 * time.Second},
			ExplorerURL:    "https://solscan.io/tx/",
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "swapbot",
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
			Endpoint:             "http://localhost:9000",
			Region:               "us-east-1",
			Bucket:               "swapbot-archive",
			ForcePathStyle:       true,
			ArchiveRetentionDays: 90,
			ArchiveInterval:      duration{24 * time.Hour},
		},
		Server: ServerConfig{
			Enabled:            true,
			Port:               8000,
			CORSOrigins:        []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimitPerMinute: 120,
		},
		Notify: NotifyConfig{
			Events: []string{"startup", "trade_executed", "trade_failed", "engine_halted", "automation_started", "automation_stopped", "status"},
			Buffer: 64,
		},
		Telemetry: TelemetryConfig{
			MetricsEnabled: true,
			ServiceName:    "swapbot",
		},
		Mode:     "trade",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"trade":   true,
	"monitor": true,
	"scan":    true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// ValidateMint checks that s is a base58 string decoding to 32 bytes.
func ValidateMint(s string) error {
	b, err := base58.Decode(s)
	if err != nil || len(b) != 32 {
		return fmt.Errorf("%w: %q", domain.ErrInvalidMint, s)
	}
	return nil
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: trade, monitor, scan)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Engine
	e := c.Engine
	if e.ScanInterval.Duration <= 0 {
		errs = append(errs, "engine: scan_interval must be > 0")
	}
	if e.NotionalUSD <= 0 {
		errs = append(errs, "engine: notional_usd must be > 0")
	}
	if e.MaxTradeNotionalUSD <= 0 {
		errs = append(errs, "engine: max_trade_notional_usd must be > 0")
	}
	if e.MinLiquidityUSD < 0 {
		errs = append(errs, "engine: min_liquidity_usd must be >= 0")
	}
	if e.MaxPriceImpactPct <= 0 {
		errs = append(errs, "engine: max_price_impact_pct must be > 0")
	}
	if e.MinRoundTripRatio < 0 || e.MinRoundTripRatio > 1 {
		errs = append(errs, fmt.Sprintf("engine: min_round_trip_ratio must be 0-1, got %g", e.MinRoundTripRatio))
	}
	if e.StopLossPct < 0 || e.StopLossPct >= 100 {
		errs = append(errs, fmt.Sprintf("engine: stop_loss_pct must be 0-100 (exclusive), got %g", e.StopLossPct))
	}
	if e.TakeProfitPct < 0 {
		errs = append(errs, "engine: take_profit_pct must be >= 0")
	}
	if e.DailyTradeCap < 1 {
		errs = append(errs, "engine: daily_trade_cap must be >= 1")
	}
	if e.MaxDailyNotionalUSD < 0 {
		errs = append(errs, "engine: max_daily_notional_usd must be >= 0")
	}
	if e.StalenessTolerance.Duration <= 0 {
		errs = append(errs, "engine: staleness_tolerance must be > 0")
	}
	if e.HaltThreshold < 1 {
		errs = append(errs, "engine: halt_threshold must be >= 1")
	}
	if e.ScanConcurrency < 1 {
		errs = append(errs, "engine: scan_concurrency must be >= 1")
	}
	if err := ValidateMint(e.QuoteMint); err != nil {
		errs = append(errs, "engine: quote_mint: "+err.Error())
	}
	if e.QuoteDecimals < 0 || e.QuoteDecimals > 18 {
		errs = append(errs, fmt.Sprintf("engine: quote_decimals must be 0-18, got %d", e.QuoteDecimals))
	}
	if e.SlippageBps < 0 || e.SlippageBps > 10_000 {
		errs = append(errs, fmt.Sprintf("engine: slippage_bps must be 0-10000, got %d", e.SlippageBps))
	}
	if len(e.AdminIDs) == 0 && c.Mode != "scan" {
		errs = append(errs, "engine: admin_ids is empty; no one could start automation or trade")
	}

	// Candidates
	if len(c.Candidates) == 0 {
		errs = append(errs, "candidates: at least one candidate is required")
	}
	seen := make(map[string]bool, len(c.Candidates))
	for i, cand := range c.Candidates {
		sym := strings.ToUpper(strings.TrimSpace(cand.Symbol))
		if sym == "" {
			errs = append(errs, fmt.Sprintf("candidates[%d]: symbol must not be empty", i))
		} else if seen[sym] {
			errs = append(errs, fmt.Sprintf("candidates[%d]: duplicate symbol %q", i, cand.Symbol))
		}
		seen[sym] = true
		if err := ValidateMint(cand.Mint); err != nil {
			errs = append(errs, fmt.Sprintf("candidates[%d]: %s", i, err))
		}
		if cand.Decimals < 0 || cand.Decimals > 18 {
			errs = append(errs, fmt.Sprintf("candidates[%d]: decimals must be 0-18, got %d", i, cand.Decimals))
		}
	}

	// Gateway
	if c.Gateway.QuoteURL == "" {
		errs = append(errs, "gateway: quote_url must not be empty")
	}
	if c.Gateway.RateLimit < 0 {
		errs = append(errs, "gateway: rate_limit must be >= 0")
	}
	if c.Gateway.RateLimit > 0 && c.Gateway.RateWindow.Duration <= 0 {
		errs = append(errs, "gateway: rate_window must be > 0 when rate_limit is set")
	}

	// Executor and wallet: live trading needs a key and an RPC node.
	if c.LiveTrading() {
		if c.Executor.RPCURL == "" {
			errs = append(errs, "executor: rpc_url must not be empty when dry_run is false")
		}
		if c.Wallet.PrivateKey == "" && c.Wallet.EncryptedKeyPath == "" {
			errs = append(errs, "wallet: either private_key or encrypted_key_path must be set when dry_run is false")
		}
		if c.Wallet.EncryptedKeyPath != "" && c.Wallet.KeyPassword == "" {
			errs = append(errs, "wallet: key_password is required when encrypted_key_path is set")
		}
	}
	if c.Executor.ExecuteTimeout.Duration <= 0 {
		errs = append(errs, "executor: execute_timeout must be > 0")
	}

	// Postgres
	if c.Postgres.Enabled {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns < 0 || c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must be between 0 and pool_max_conns")
		}
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	// S3
	if c.S3.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
		if c.S3.ArchiveRetentionDays < 1 {
			errs = append(errs, "s3: archive_retention_days must be >= 1")
		}
		if !c.Postgres.Enabled && c.Postgres.JournalPath == "" {
			errs = append(errs, "s3: archiving needs a persistent journal (postgres.enabled or postgres.journal_path)")
		}
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
	}

	// Notify
	if (c.Notify.TelegramToken == "") != (c.Notify.TelegramChatID == "") {
		errs = append(errs, "notify: telegram_token and telegram_chat_id must be set together")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// LiveTrading reports whether swaps will be signed and broadcast. Monitor
// and scan modes never trade.
func (c *Config) LiveTrading() bool {
	return !c.Executor.DryRun && strings.EqualFold(c.Mode, "trade")
}
