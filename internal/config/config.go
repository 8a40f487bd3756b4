package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

type AppConfig struct {
	Name            string        `yaml:"name"`
	Port            string        `yaml:"port"`
	Env             string        `yaml:"env"`
	LogLevel        string        `yaml:"log_level"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type PostgresConfig struct {
	Host            string        `yaml:"host"`
	Port            string        `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	DBName          string        `yaml:"dbname"`
	SSLMode         string        `yaml:"sslmode"`
	MaxConns        int32         `yaml:"max_conns"`
	MinConns        int32         `yaml:"min_conns"`
	MaxConnLifetime time.Duration `yaml:"max_conn_lifetime"`
	MigrationsPath  string        `yaml:"migrations_path"`
}

type OIDCConfig struct {
	Issuer       string `yaml:"issuer"`
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	RedirectURL  string `yaml:"redirect_url"`
}

// Enabled reports whether an external identity provider is configured.
func (c OIDCConfig) Enabled() bool {
	return c.Issuer != "" && c.ClientID != ""
}

type AuthConfig struct {
	JWTSecret string        `yaml:"jwt_secret"`
	TokenTTL  time.Duration `yaml:"token_ttl"`
	OIDC      OIDCConfig    `yaml:"oidc"`
}

type StripeConfig struct {
	SecretKey     string `yaml:"secret_key"`
	WebhookSecret string `yaml:"webhook_secret"`
	Currency      string `yaml:"currency"`
	SuccessURL    string `yaml:"success_url"`
	CancelURL     string `yaml:"cancel_url"`
}

type ShippingConfig struct {
	FlatRate      decimal.Decimal `yaml:"flat_rate"`
	FreeThreshold decimal.Decimal `yaml:"free_threshold"`
}

type EmailConfig struct {
	Region          string `yaml:"region"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	Sender          string `yaml:"sender"`
}

// Enabled reports whether order e-mails should go through SES.
func (c EmailConfig) Enabled() bool {
	return c.Sender != ""
}

type WebhookConfig struct {
	DedupCapacity int `yaml:"dedup_capacity"`
}

type Config struct {
	App      AppConfig      `yaml:"app"`
	Postgres PostgresConfig `yaml:"postgres"`
	Auth     AuthConfig     `yaml:"auth"`
	Stripe   StripeConfig   `yaml:"stripe"`
	Shipping ShippingConfig `yaml:"shipping"`
	Email    EmailConfig    `yaml:"email"`
	Webhook  WebhookConfig  `yaml:"webhook"`
}

// NewConfig loads configuration from CONFIG_PATH (if set), .env and the environment.
func NewConfig() (*Config, error) {
	return Load(os.Getenv("CONFIG_PATH"))
}

// Load builds the configuration in three layers: defaults, the optional YAML
// file at path, then .env and process environment variables.
func Load(path string) (*Config, error) {
	cfg := defaults()

	if path != "" {
		file, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open config file: %w", err)
		}
		defer file.Close()

		if err := yaml.NewDecoder(file).Decode(cfg); err != nil {
			return nil, fmt.Errorf("invalid config file %s: %w", path, err)
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func defaults() *Config {
	cfg := &Config{}
	cfg.App.Name = "storefront"
	cfg.App.Port = "8080"
	cfg.App.Env = "development"
	cfg.App.LogLevel = "debug"
	cfg.App.ShutdownTimeout = 15 * time.Second

	cfg.Postgres.Port = "5432"
	cfg.Postgres.SSLMode = "disable"
	cfg.Postgres.MaxConns = 10
	cfg.Postgres.MinConns = 2
	cfg.Postgres.MaxConnLifetime = 30 * time.Minute
	cfg.Postgres.MigrationsPath = "migrations"

	cfg.Auth.TokenTTL = 24 * time.Hour

	cfg.Stripe.Currency = "usd"

	cfg.Shipping.FlatRate = decimal.RequireFromString("5.99")
	cfg.Shipping.FreeThreshold = decimal.RequireFromString("75.00")

	cfg.Email.Region = "us-east-1"

	cfg.Webhook.DedupCapacity = 1000
	return cfg
}

func (c *Config) applyEnv() error {
	setString(&c.App.Name, "APP_NAME")
	setString(&c.App.Port, "APP_PORT")
	setString(&c.App.Env, "APP_ENV")
	setString(&c.App.LogLevel, "LOG_LEVEL")

	setString(&c.Postgres.Host, "DB_HOST")
	setString(&c.Postgres.Port, "DB_PORT")
	setString(&c.Postgres.User, "DB_USER")
	setString(&c.Postgres.Password, "DB_PASSWORD")
	setString(&c.Postgres.DBName, "DB_NAME")
	setString(&c.Postgres.SSLMode, "DB_SSLMODE")
	setString(&c.Postgres.MigrationsPath, "DB_MIGRATIONS_PATH")

	setString(&c.Auth.JWTSecret, "JWT_SECRET")
	setString(&c.Auth.OIDC.Issuer, "OIDC_ISSUER")
	setString(&c.Auth.OIDC.ClientID, "OIDC_CLIENT_ID")
	setString(&c.Auth.OIDC.ClientSecret, "OIDC_CLIENT_SECRET")
	setString(&c.Auth.OIDC.RedirectURL, "OIDC_REDIRECT_URL")

	setString(&c.Stripe.SecretKey, "STRIPE_SECRET_KEY")
	setString(&c.Stripe.WebhookSecret, "STRIPE_WEBHOOK_SECRET")
	setString(&c.Stripe.Currency, "STRIPE_CURRENCY")
	setString(&c.Stripe.SuccessURL, "STRIPE_SUCCESS_URL")
	setString(&c.Stripe.CancelURL, "STRIPE_CANCEL_URL")

	setString(&c.Email.Region, "AWS_REGION")
	setString(&c.Email.AccessKeyID, "AWS_ACCESS_KEY_ID")
	setString(&c.Email.SecretAccessKey, "AWS_SECRET_ACCESS_KEY")
	setString(&c.Email.Sender, "AWS_SENDER_ADDRESS")

	if err := setDuration(&c.App.ShutdownTimeout, "APP_SHUTDOWN_TIMEOUT"); err != nil {
		return err
	}
	if err := setDuration(&c.Postgres.MaxConnLifetime, "DB_MAX_CONN_LIFETIME"); err != nil {
		return err
	}
	if err := setDuration(&c.Auth.TokenTTL, "JWT_TOKEN_TTL"); err != nil {
		return err
	}
	if err := setInt32(&c.Postgres.MaxConns, "DB_MAX_CONNS"); err != nil {
		return err
	}
	if err := setInt32(&c.Postgres.MinConns, "DB_MIN_CONNS"); err != nil {
		return err
	}
	if err := setDecimal(&c.Shipping.FlatRate, "SHIPPING_FLAT_RATE"); err != nil {
		return err
	}
	if err := setDecimal(&c.Shipping.FreeThreshold, "SHIPPING_FREE_THRESHOLD"); err != nil {
		return err
	}
	if v, ok := os.LookupEnv("WEBHOOK_DEDUP_CAPACITY"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid WEBHOOK_DEDUP_CAPACITY %q: %w", v, err)
		}
		c.Webhook.DedupCapacity = n
	}

	return nil
}

// Validate checks the settings the service cannot start without.
func (c *Config) Validate() error {
	required := map[string]string{
		"DB_HOST":     c.Postgres.Host,
		"DB_PORT":     c.Postgres.Port,
		"DB_USER":     c.Postgres.User,
		"DB_PASSWORD": c.Postgres.Password,
		"DB_NAME":     c.Postgres.DBName,
		"JWT_SECRET":  c.Auth.JWTSecret,
	}
	for _, key := range []string{"DB_HOST", "DB_PORT", "DB_USER", "DB_PASSWORD", "DB_NAME", "JWT_SECRET"} {
		if required[key] == "" {
			return fmt.Errorf("%s is required", key)
		}
	}

	if c.Postgres.MinConns > c.Postgres.MaxConns {
		return fmt.Errorf("DB_MIN_CONNS (%d) must not exceed DB_MAX_CONNS (%d)", c.Postgres.MinConns, c.Postgres.MaxConns)
	}
	if c.Webhook.DedupCapacity < 2 {
		return fmt.Errorf("webhook dedup capacity must be at least 2, got %d", c.Webhook.DedupCapacity)
	}
	if c.Shipping.FlatRate.IsNegative() || c.Shipping.FreeThreshold.IsNegative() {
		return errors.New("shipping amounts cannot be negative")
	}

	return nil
}

// IsProduction reports whether the service runs with production settings.
func (c *Config) IsProduction() bool {
	return c.App.Env == "production"
}

// DSN returns the pgx key/value connection string.
func (c PostgresConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode)
}

// MigrateURL returns the connection URL understood by golang-migrate's pgx/v5 driver.
func (c PostgresConfig) MigrateURL() string {
	u := url.URL{
		Scheme:   "pgx5",
		User:     url.UserPassword(c.User, c.Password),
		Host:     c.Host + ":" + c.Port,
		Path:     "/" + c.DBName,
		RawQuery: "sslmode=" + url.QueryEscape(c.SSLMode),
	}
	return u.String()
}

func setString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dst = v
	}
}

func setDuration(dst *time.Duration, key string) error {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	*dst = d
	return nil
}

func setInt32(dst *int32, key string) error {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return nil
	}
	n, err := strconv.ParseInt(v, 10, 32)
	if err != nil {
		return fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	*dst = int32(n)
	return nil
}

func setDecimal(dst *decimal.Decimal, key string) error {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return nil
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		return fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	*dst = d
	return nil
}
