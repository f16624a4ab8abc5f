package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"strings"
	"time"

	"mccapes-reconciler/pkg/apperror"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Redis      RedisConfig      `mapstructure:"redis"`
	JWT        JWTConfig        `mapstructure:"jwt"`
	Log        LogConfig        `mapstructure:"log"`
	Providers  ProvidersConfig  `mapstructure:"providers"`
	Reconciler ReconcilerConfig `mapstructure:"reconciler"`
	Expiry     ExpiryConfig     `mapstructure:"expiry"`
	Email      EmailConfig      `mapstructure:"email"`
	Webhook    WebhookConfig    `mapstructure:"webhook"`
}

type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	Mode string `mapstructure:"mode"` // debug, release, test
}

type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	DBName          string        `mapstructure:"dbname"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// DSN returns the PostgreSQL connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode,
	)
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// Addr returns the Redis address string.
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// JWTConfig protects the operator routes.
type JWTConfig struct {
	Secret string        `mapstructure:"secret"`
	Expiry time.Duration `mapstructure:"expiry"`
	Issuer string        `mapstructure:"issuer"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Pretty bool   `mapstructure:"pretty"` // human-readable output (dev only)
}

type ProvidersConfig struct {
	BlockCypher     BlockCypherConfig `mapstructure:"blockcypher"`
	Helius          HeliusConfig      `mapstructure:"helius"`
	HTTPTimeout     time.Duration     `mapstructure:"http_timeout"`
	DefaultCooldown time.Duration     `mapstructure:"default_cooldown"`
	CooldownBackend string            `mapstructure:"cooldown_backend"` // memory, redis
}

type BlockCypherConfig struct {
	BaseURL string `mapstructure:"base_url"`
	Token   string `mapstructure:"token"`
	TxLimit int    `mapstructure:"tx_limit"`
}

type HeliusConfig struct {
	RPCURL         string `mapstructure:"rpc_url"`
	APIKey         string `mapstructure:"api_key"`
	SignatureLimit int    `mapstructure:"signature_limit"`
}

type ReconcilerConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	BatchSize   int           `mapstructure:"batch_size"`
	Interval    time.Duration `mapstructure:"interval"`
	CallSpacing time.Duration `mapstructure:"call_spacing"`
	RunTimeout  time.Duration `mapstructure:"run_timeout"`
	// Keyed by lower-case chain name (bitcoin, litecoin, ethereum, solana).
	MinConfirmations map[string]int `mapstructure:"min_confirmations"`
}

type ExpiryConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	Interval       time.Duration `mapstructure:"interval"`
	PendingTimeout time.Duration `mapstructure:"pending_timeout"`
}

type EmailConfig struct {
	SendGridAPIKey string          `mapstructure:"sendgrid_api_key"`
	FromAddress    string          `mapstructure:"from_address"`
	FromName       string          `mapstructure:"from_name"`
	Currency       string          `mapstructure:"currency"`
	StorefrontURL  string          `mapstructure:"storefront_url"`
	RetryIntervals []time.Duration `mapstructure:"retry_intervals"`
}

type WebhookConfig struct {
	Secret   string        `mapstructure:"secret"`
	DedupTTL time.Duration `mapstructure:"dedup_ttl"`
}

// ErrMissing is returned by Validate when a required credential is absent.
var ErrMissing = errors.New("required configuration missing")

// Validate checks the settings the pipeline cannot run without. The error
// carries CFG_001 and wraps ErrMissing.
func (c *Config) Validate() error {
	var missing []string
	if c.Providers.BlockCypher.Token == "" {
		missing = append(missing, "providers.blockcypher.token")
	}
	if c.Providers.Helius.APIKey == "" {
		missing = append(missing, "providers.helius.api_key")
	}
	if c.Email.SendGridAPIKey == "" {
		missing = append(missing, "email.sendgrid_api_key")
	}
	if c.Email.FromAddress == "" {
		missing = append(missing, "email.from_address")
	}
	if c.JWT.Secret == "" {
		missing = append(missing, "jwt.secret")
	}
	if len(missing) > 0 {
		err := fmt.Errorf("%w: %s", ErrMissing, strings.Join(missing, ", "))
		return apperror.Wrap("CFG_001", "configuration incomplete", http.StatusInternalServerError, err)
	}
	return nil
}

// Load reads configuration from an optional .env file, a config file and environment variables.
// Environment variables override file values. Prefix: MCR_ (MCCapes Reconciler).
// Nested keys use underscore: MCR_DATABASE_HOST, MCR_PROVIDERS_HELIUS_API_KEY, etc.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}

	v := viper.New()

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "debug")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "postgres")
	v.SetDefault("database.dbname", "mccapes")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_conns", 10)
	v.SetDefault("database.min_conns", 2)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.auto_migrate", true)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("jwt.secret", "")
	v.SetDefault("jwt.expiry", "12h")
	v.SetDefault("jwt.issuer", "mccapes-reconciler")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)
	v.SetDefault("providers.blockcypher.base_url", "https://api.blockcypher.com")
	v.SetDefault("providers.blockcypher.token", "")
	v.SetDefault("providers.blockcypher.tx_limit", 50)
	v.SetDefault("providers.helius.rpc_url", "https://mainnet.helius-rpc.com")
	v.SetDefault("providers.helius.api_key", "")
	v.SetDefault("providers.helius.signature_limit", 20)
	v.SetDefault("providers.http_timeout", "15s")
	v.SetDefault("providers.default_cooldown", "60s")
	v.SetDefault("providers.cooldown_backend", "memory")
	v.SetDefault("reconciler.enabled", true)
	v.SetDefault("reconciler.batch_size", 24)
	v.SetDefault("reconciler.interval", "30s")
	v.SetDefault("reconciler.call_spacing", "250ms")
	v.SetDefault("reconciler.run_timeout", "5m")
	v.SetDefault("expiry.enabled", true)
	v.SetDefault("expiry.interval", "1m")
	v.SetDefault("expiry.pending_timeout", "30m")
	v.SetDefault("email.from_name", "MCCapes")
	v.SetDefault("email.currency", "EUR")
	v.SetDefault("email.storefront_url", "https://mccapes.net")
	v.SetDefault("email.retry_intervals", []string{"15s", "60s", "2m"})
	v.SetDefault("webhook.secret", "")
	v.SetDefault("webhook.dedup_ttl", "24h")

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	// MCR_PROVIDERS_HELIUS_API_KEY -> providers.helius.api_key
	v.SetEnvPrefix("MCR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	return &cfg, nil
}
