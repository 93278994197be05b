package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/alanyoungcy/swapbot/internal/domain"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies SWAPBOT_* environment variable overrides, and
// appends candidates from engine.candidates_file. The returned Config has NOT
// been validated; the caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	if f := cfg.Engine.CandidatesFile; f != "" {
		if !filepath.IsAbs(f) {
			f = filepath.Join(filepath.Dir(path), f)
		}
		extra, err := LoadCandidates(f)
		if err != nil {
			return nil, err
		}
		cfg.Candidates = append(cfg.Candidates, extra...)
	}

	return &cfg, nil
}

// candidatesFile is the YAML layout of engine.candidates_file:
//
//	candidates:
//	  - symbol: WIF
//	    mint: EKpQGSJtjMFqKZ9KQanSqYXRcF8fBopzLHYxdM65zcjm
//	    decimals: 6
type candidatesFile struct {
	Candidates []domain.Candidate `yaml:"candidates"`
}

// LoadCandidates reads a YAML candidate list.
func LoadCandidates(path string) ([]domain.Candidate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read candidates %s: %w", path, err)
	}
	var f candidatesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("config: parse candidates %s: %w", path, err)
	}
	for i := range f.Candidates {
		f.Candidates[i].Symbol = strings.TrimSpace(f.Candidates[i].Symbol)
		f.Candidates[i].Mint = strings.TrimSpace(f.Candidates[i].Mint)
	}
	return f.Candidates, nil
}

// applyEnvOverrides reads well-known SWAPBOT_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Engine ──
	setDuration(&cfg.Engine.ScanInterval, "SWAPBOT_ENGINE_SCAN_INTERVAL")
	setFloat64(&cfg.Engine.NotionalUSD, "SWAPBOT_ENGINE_NOTIONAL_USD")
	setFloat64(&cfg.Engine.MinProfitPct, "SWAPBOT_ENGINE_MIN_PROFIT_PCT")
	setFloat64(&cfg.Engine.MaxTradeNotionalUSD, "SWAPBOT_ENGINE_MAX_TRADE_NOTIONAL_USD")
	setFloat64(&cfg.Engine.MinLiquidityUSD, "SWAPBOT_ENGINE_MIN_LIQUIDITY_USD")
	setFloat64(&cfg.Engine.MaxPriceImpactPct, "SWAPBOT_ENGINE_MAX_PRICE_IMPACT_PCT")
	setBool(&cfg.Engine.RoundTripCheck, "SWAPBOT_ENGINE_ROUND_TRIP_CHECK")
	setFloat64(&cfg.Engine.MinRoundTripRatio, "SWAPBOT_ENGINE_MIN_ROUND_TRIP_RATIO")
	setFloat64(&cfg.Engine.StopLossPct, "SWAPBOT_ENGINE_STOP_LOSS_PCT")
	setFloat64(&cfg.Engine.TakeProfitPct, "SWAPBOT_ENGINE_TAKE_PROFIT_PCT")
	setInt(&cfg.Engine.DailyTradeCap, "SWAPBOT_ENGINE_DAILY_TRADE_CAP")
	setFloat64(&cfg.Engine.MaxDailyNotionalUSD, "SWAPBOT_ENGINE_MAX_DAILY_NOTIONAL_USD")
	setDuration(&cfg.Engine.StalenessTolerance, "SWAPBOT_ENGINE_STALENESS_TOLERANCE")
	setInt(&cfg.Engine.HaltThreshold, "SWAPBOT_ENGINE_HALT_THRESHOLD")
	setInt(&cfg.Engine.ScanConcurrency, "SWAPBOT_ENGINE_SCAN_CONCURRENCY")
	setStringSlice(&cfg.Engine.AdminIDs, "SWAPBOT_ENGINE_ADMIN_IDS")
	setStr(&cfg.Engine.QuoteMint, "SWAPBOT_ENGINE_QUOTE_MINT")
	setInt(&cfg.Engine.QuoteDecimals, "SWAPBOT_ENGINE_QUOTE_DECIMALS")
	setInt(&cfg.Engine.SlippageBps, "SWAPBOT_ENGINE_SLIPPAGE_BPS")
	setInt(&cfg.Engine.StatusEveryCycles, "SWAPBOT_ENGINE_STATUS_EVERY_CYCLES")
	setBool(&cfg.Engine.Autostart, "SWAPBOT_ENGINE_AUTOSTART")
	setStr(&cfg.Engine.CandidatesFile, "SWAPBOT_ENGINE_CANDIDATES_FILE")

	// ── Gateway ──
	setStr(&cfg.Gateway.QuoteURL, "SWAPBOT_GATEWAY_QUOTE_URL")
	setStr(&cfg.Gateway.PriceURL, "SWAPBOT_GATEWAY_PRICE_URL")
	setStr(&cfg.Gateway.APIKey, "SWAPBOT_GATEWAY_API_KEY")
	setDuration(&cfg.Gateway.QuoteTimeout, "SWAPBOT_GATEWAY_QUOTE_TIMEOUT")
	setDuration(&cfg.Gateway.PriceTimeout, "SWAPBOT_GATEWAY_PRICE_TIMEOUT")
	setDuration(&cfg.Gateway.QuoteTTL, "SWAPBOT_GATEWAY_QUOTE_TTL")
	setInt(&cfg.Gateway.RateLimit, "SWAPBOT_GATEWAY_RATE_LIMIT")
	setDuration(&cfg.Gateway.RateWindow, "SWAPBOT_GATEWAY_RATE_WINDOW")
	setDuration(&cfg.Gateway.PriceCacheTTL, "SWAPBOT_GATEWAY_PRICE_CACHE_TTL")

	// ── Executor ──
	setBool(&cfg.Executor.DryRun, "SWAPBOT_EXECUTOR_DRY_RUN")
	setStr(&cfg.Executor.RPCURL, "SWAPBOT_EXECUTOR_RPC_URL")
	setDuration(&cfg.Executor.ExecuteTimeout, "SWAPBOT_EXECUTOR_EXECUTE_TIMEOUT")
	setDuration(&cfg.Executor.ConfirmPoll, "SWAPBOT_EXECUTOR_CONFIRM_POLL")
	setDuration(&cfg.Executor.ConfirmTimeout, "SWAPBOT_EXECUTOR_CONFIRM_TIMEOUT")
	setInt(&cfg.Executor.MaxRetries, "SWAPBOT_EXECUTOR_MAX_RETRIES")
	setDuration(&cfg.Executor.RetryDelay, "SWAPBOT_EXECUTOR_RETRY_DELAY")
	setDuration(&cfg.Executor.LockTTL, "SWAPBOT_EXECUTOR_LOCK_TTL")
	setStr(&cfg.Executor.ExplorerURL, "SWAPBOT_EXECUTOR_EXPLORER_URL")

	// ── Wallet ──
	setStr(&cfg.Wallet.PrivateKey, "SWAPBOT_WALLET_PRIVATE_KEY")
	setStr(&cfg.Wallet.EncryptedKeyPath, "SWAPBOT_WALLET_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Wallet.KeyPassword, "SWAPBOT_WALLET_KEY_PASSWORD")

	// ── Postgres ──
	setBool(&cfg.Postgres.Enabled, "SWAPBOT_POSTGRES_ENABLED")
	setStr(&cfg.Postgres.DSN, "SWAPBOT_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "SWAPBOT_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "SWAPBOT_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "SWAPBOT_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "SWAPBOT_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "SWAPBOT_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "SWAPBOT_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "SWAPBOT_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "SWAPBOT_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "SWAPBOT_POSTGRES_RUN_MIGRATIONS")
	setStr(&cfg.Postgres.JournalPath, "SWAPBOT_POSTGRES_JOURNAL_PATH")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "SWAPBOT_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "SWAPBOT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "SWAPBOT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "SWAPBOT_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "SWAPBOT_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "SWAPBOT_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "SWAPBOT_REDIS_TLS_ENABLED")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "SWAPBOT_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "SWAPBOT_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "SWAPBOT_S3_REGION")
	setStr(&cfg.S3.Bucket, "SWAPBOT_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "SWAPBOT_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "SWAPBOT_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "SWAPBOT_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "SWAPBOT_S3_FORCE_PATH_STYLE")
	setInt(&cfg.S3.ArchiveRetentionDays, "SWAPBOT_S3_ARCHIVE_RETENTION_DAYS")
	setDuration(&cfg.S3.ArchiveInterval, "SWAPBOT_S3_ARCHIVE_INTERVAL")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "SWAPBOT_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "SWAPBOT_SERVER_PORT")
	setStr(&cfg.Server.APIKey, "SWAPBOT_SERVER_API_KEY")
	setStringSlice(&cfg.Server.CORSOrigins, "SWAPBOT_SERVER_CORS_ORIGINS")
	setInt(&cfg.Server.RateLimitPerMinute, "SWAPBOT_SERVER_RATE_LIMIT_PER_MINUTE")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "SWAPBOT_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "SWAPBOT_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "SWAPBOT_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "SWAPBOT_NOTIFY_EVENTS")
	setInt(&cfg.Notify.Buffer, "SWAPBOT_NOTIFY_BUFFER")

	// ── Telemetry ──
	setBool(&cfg.Telemetry.MetricsEnabled, "SWAPBOT_TELEMETRY_METRICS_ENABLED")
	setBool(&cfg.Telemetry.TracingEnabled, "SWAPBOT_TELEMETRY_TRACING_ENABLED")
	setStr(&cfg.Telemetry.ServiceName, "SWAPBOT_TELEMETRY_SERVICE_NAME")

	// ── Top-level ──
	setStr(&cfg.Mode, "SWAPBOT_MODE")
	setStr(&cfg.LogLevel, "SWAPBOT_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
