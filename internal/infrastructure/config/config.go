package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	App       AppConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Ledger    LedgerConfig
	Metadata  MetadataConfig
	Cache     CacheConfig
	Reconcile ReconcileConfig
	Admin     AdminConfig
	HTTP      HTTPConfig
	Log       LogConfig
	Telemetry TelemetryConfig
}

// AppConfig holds application-specific settings
type AppConfig struct {
	Name string
	Env  string
	Port string
}

// DatabaseConfig holds database connection settings for the durable tier
type DatabaseConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	DBName          string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime int // in minutes
	ConnMaxIdleTime int // in minutes
}

// RedisConfig holds Redis connection settings for the ephemeral tier
type RedisConfig struct {
	Host      string
	Port      int
	Password  string
	DB        int
	KeyPrefix string
}

// LedgerConfig holds the ledger (chain) connection settings.
// Endpoint must be a ws:// or wss:// URL so that event subscriptions work.
type LedgerConfig struct {
	Endpoint           string
	RegistryAddress    string
	MarketplaceAddress string
	DialTimeout        time.Duration
	CallTimeout        time.Duration
	ReconnectInterval  time.Duration
}

// MetadataConfig holds the content-addressed metadata gateway settings
type MetadataConfig struct {
	GatewayBaseURL string
	FetchTimeout   time.Duration
}

// CacheConfig holds cache tier behaviour settings
type CacheConfig struct {
	AssetTTL   time.Duration // ephemeral TTL for asset entries
	ListingTTL time.Duration
	BalanceTTL time.Duration // short: balances churn on every transfer
	ListTTL    time.Duration // bulk "all active" views
}

// ReconcileConfig holds full-rebuild settings
type ReconcileConfig struct {
	RunOnStartup bool
	Interval     time.Duration // 0 disables the periodic rebuild
	Concurrency  int           // parallel per-entity cold fetches during rebuild
}

// AdminConfig holds settings for the administrative endpoints
type AdminConfig struct {
	JWTSecret string
	Issuer    string
}

// HTTPConfig holds HTTP server configuration
type HTTPConfig struct {
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	MaxHeaderBytes int
	TrustedProxies []string
	AllowOrigins   []string
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string // debug, info, warn, error
	Format string // json, console
	Output string // stdout, stderr, or file path
}

// TelemetryConfig holds OpenTelemetry configuration
type TelemetryConfig struct {
	Enabled           bool
	CollectorEndpoint string
	SamplingRatio     float64
	ServiceName       string
	Insecure          bool
}

// Load loads configuration from TOML file and environment variables
// Priority (highest to lowest):
// 1. Environment variables with CHAINMIRROR_ prefix (e.g., CHAINMIRROR_DATABASE_PASSWORD)
// 2. config.toml
// 3. Built-in defaults
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(".")
	v.AddConfigPath("/app")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found is OK, we'll use defaults and env vars
	}

	v.SetEnvPrefix("CHAINMIRROR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{
		App: AppConfig{
			Name: v.GetString("app.name"),
			Env:  v.GetString("app.env"),
			Port: v.GetString("app.port"),
		},
		Database: DatabaseConfig{
			Host:            v.GetString("database.host"),
			Port:            v.GetInt("database.port"),
			User:            v.GetString("database.user"),
			Password:        v.GetString("database.password"),
			DBName:          v.GetString("database.dbname"),
			SSLMode:         v.GetString("database.sslmode"),
			MaxOpenConns:    v.GetInt("database.max_open_conns"),
			MaxIdleConns:    v.GetInt("database.max_idle_conns"),
			ConnMaxLifetime: v.GetInt("database.conn_max_lifetime"),
			ConnMaxIdleTime: v.GetInt("database.conn_max_idle_time"),
		},
		Redis: RedisConfig{
			Host:      v.GetString("redis.host"),
			Port:      v.GetInt("redis.port"),
			Password:  v.GetString("redis.password"),
			DB:        v.GetInt("redis.db"),
			KeyPrefix: v.GetString("redis.key_prefix"),
		},
		Ledger: LedgerConfig{
			Endpoint:           v.GetString("ledger.endpoint"),
			RegistryAddress:    v.GetString("ledger.registry_address"),
			MarketplaceAddress: v.GetString("ledger.marketplace_address"),
			DialTimeout:        v.GetDuration("ledger.dial_timeout"),
			CallTimeout:        v.GetDuration("ledger.call_timeout"),
			ReconnectInterval:  v.GetDuration("ledger.reconnect_interval"),
		},
		Metadata: MetadataConfig{
			GatewayBaseURL: v.GetString("metadata.gateway_base_url"),
			FetchTimeout:   v.GetDuration("metadata.fetch_timeout"),
		},
		Cache: CacheConfig{
			AssetTTL:   v.GetDuration("cache.asset_ttl"),
			ListingTTL: v.GetDuration("cache.listing_ttl"),
			BalanceTTL: v.GetDuration("cache.balance_ttl"),
			ListTTL:    v.GetDuration("cache.list_ttl"),
		},
		Reconcile: ReconcileConfig{
			RunOnStartup: v.GetBool("reconcile.run_on_startup"),
			Interval:     v.GetDuration("reconcile.interval"),
			Concurrency:  v.GetInt("reconcile.concurrency"),
		},
		Admin: AdminConfig{
			JWTSecret: v.GetString("admin.jwt_secret"),
			Issuer:    v.GetString("admin.issuer"),
		},
		HTTP: HTTPConfig{
			ReadTimeout:    v.GetDuration("http.read_timeout"),
			WriteTimeout:   v.GetDuration("http.write_timeout"),
			IdleTimeout:    v.GetDuration("http.idle_timeout"),
			MaxHeaderBytes: v.GetInt("http.max_header_bytes"),
			TrustedProxies: v.GetStringSlice("http.trusted_proxies"),
			AllowOrigins:   v.GetStringSlice("http.allow_origins"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
			Output: v.GetString("log.output"),
		},
		Telemetry: TelemetryConfig{
			Enabled:           v.GetBool("telemetry.enabled"),
			CollectorEndpoint: v.GetString("telemetry.collector_endpoint"),
			SamplingRatio:     v.GetFloat64("telemetry.sampling_ratio"),
			ServiceName:       v.GetString("telemetry.service_name"),
			Insecure:          v.GetBool("telemetry.insecure"),
		},
	}

	applyDefaults(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// applyDefaults fills in defaults for unset values
func applyDefaults(cfg *Config) {
	if cfg.App.Name == "" {
		cfg.App.Name = "chainmirror"
	}
	if cfg.App.Env == "" {
		cfg.App.Env = "development"
	}
	if cfg.App.Port == "" {
		cfg.App.Port = "8080"
	}

	if cfg.Database.Host == "" {
		cfg.Database.Host = "localhost"
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.User == "" {
		cfg.Database.User = "chainmirror"
	}
	if cfg.Database.DBName == "" {
		cfg.Database.DBName = "chainmirror"
	}
	if cfg.Database.SSLMode == "" {
		cfg.Database.SSLMode = "disable"
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 25
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Database.ConnMaxLifetime == 0 {
		cfg.Database.ConnMaxLifetime = 30
	}
	if cfg.Database.ConnMaxIdleTime == 0 {
		cfg.Database.ConnMaxIdleTime = 10
	}

	if cfg.Redis.Host == "" {
		cfg.Redis.Host = "localhost"
	}
	if cfg.Redis.Port == 0 {
		cfg.Redis.Port = 6379
	}
	if cfg.Redis.KeyPrefix == "" {
		cfg.Redis.KeyPrefix = "chainmirror:"
	}

	if cfg.Ledger.DialTimeout == 0 {
		cfg.Ledger.DialTimeout = 15 * time.Second
	}
	if cfg.Ledger.CallTimeout == 0 {
		cfg.Ledger.CallTimeout = 10 * time.Second
	}
	if cfg.Ledger.ReconnectInterval == 0 {
		cfg.Ledger.ReconnectInterval = 5 * time.Second
	}

	if cfg.Metadata.GatewayBaseURL == "" {
		cfg.Metadata.GatewayBaseURL = "https://ipfs.io/ipfs/"
	}
	if cfg.Metadata.FetchTimeout == 0 {
		cfg.Metadata.FetchTimeout = 10 * time.Second
	}

	if cfg.Cache.AssetTTL == 0 {
		cfg.Cache.AssetTTL = 5 * time.Minute
	}
	if cfg.Cache.ListingTTL == 0 {
		cfg.Cache.ListingTTL = time.Minute
	}
	if cfg.Cache.BalanceTTL == 0 {
		cfg.Cache.BalanceTTL = 30 * time.Second
	}
	if cfg.Cache.ListTTL == 0 {
		cfg.Cache.ListTTL = time.Minute
	}

	if cfg.Reconcile.Concurrency == 0 {
		cfg.Reconcile.Concurrency = 8
	}

	if cfg.HTTP.ReadTimeout == 0 {
		cfg.HTTP.ReadTimeout = 15 * time.Second
	}
	if cfg.HTTP.WriteTimeout == 0 {
		cfg.HTTP.WriteTimeout = 30 * time.Second
	}
	if cfg.HTTP.IdleTimeout == 0 {
		cfg.HTTP.IdleTimeout = 60 * time.Second
	}
	if cfg.HTTP.MaxHeaderBytes == 0 {
		cfg.HTTP.MaxHeaderBytes = 1 << 20
	}
	if len(cfg.HTTP.AllowOrigins) == 0 {
		cfg.HTTP.AllowOrigins = []string{"*"}
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		if cfg.App.Env == "production" {
			cfg.Log.Format = "json"
		} else {
			cfg.Log.Format = "console"
		}
	}
	if cfg.Log.Output == "" {
		cfg.Log.Output = "stdout"
	}

	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = cfg.App.Name
	}
	if cfg.Telemetry.SamplingRatio == 0 {
		cfg.Telemetry.SamplingRatio = 1.0
	}
}

// validate performs validation on the configuration.
// The ledger endpoint is checked here so the process fails fast at startup
// instead of serving reads against a ledger it cannot reach.
func (c *Config) validate() error {
	if c.Ledger.Endpoint == "" {
		return fmt.Errorf("ledger.endpoint is required")
	}
	u, err := url.Parse(c.Ledger.Endpoint)
	if err != nil {
		return fmt.Errorf("ledger.endpoint is malformed: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("ledger.endpoint must be a ws:// or wss:// URL, got %q", c.Ledger.Endpoint)
	}

	if c.Ledger.RegistryAddress == "" {
		return fmt.Errorf("ledger.registry_address is required")
	}
	if !common.IsHexAddress(c.Ledger.RegistryAddress) {
		return fmt.Errorf("ledger.registry_address is not a valid address: %q", c.Ledger.RegistryAddress)
	}
	if c.Ledger.MarketplaceAddress == "" {
		return fmt.Errorf("ledger.marketplace_address is required")
	}
	if !common.IsHexAddress(c.Ledger.MarketplaceAddress) {
		return fmt.Errorf("ledger.marketplace_address is not a valid address: %q", c.Ledger.MarketplaceAddress)
	}

	if c.Database.MaxOpenConns <= 0 {
		return fmt.Errorf("database.max_open_conns must be positive")
	}
	if c.Database.MaxIdleConns < 0 {
		return fmt.Errorf("database.max_idle_conns cannot be negative")
	}
	if c.Database.MaxIdleConns > c.Database.MaxOpenConns {
		return fmt.Errorf("database.max_idle_conns (%d) cannot exceed database.max_open_conns (%d)",
			c.Database.MaxIdleConns, c.Database.MaxOpenConns)
	}

	if c.App.Env == "production" {
		if c.Admin.JWTSecret == "" {
			return fmt.Errorf("admin.jwt_secret is required in production")
		}
		if len(c.Admin.JWTSecret) < 32 {
			return fmt.Errorf("admin.jwt_secret must be at least 32 characters in production")
		}
		if c.Database.Password == "" {
			return fmt.Errorf("database.password is required in production")
		}
		if c.Database.SSLMode == "disable" {
			return fmt.Errorf("database.sslmode cannot be 'disable' in production")
		}
	}

	if c.Telemetry.SamplingRatio < 0.0 || c.Telemetry.SamplingRatio > 1.0 {
		return fmt.Errorf("telemetry.sampling_ratio must be between 0.0 and 1.0, got %f", c.Telemetry.SamplingRatio)
	}

	return nil
}

// DSN returns the database connection string with properly escaped values
func (d *DatabaseConfig) DSN() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(d.User, d.Password),
		Host:   fmt.Sprintf("%s:%d", d.Host, d.Port),
		Path:   d.DBName,
	}
	q := u.Query()
	q.Set("sslmode", d.SSLMode)
	u.RawQuery = q.Encode()
	return u.String()
}

// Addr returns the host:port address for the Redis client
func (r *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}
