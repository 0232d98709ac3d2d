package internal

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

type Config struct {
	Server        ServerConfig        `mapstructure:"http_server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Security      SecurityConfig      `mapstructure:"security"`
	Observability ObservabilityConfig `mapstructure:"observability"`
	Payments      PaymentsConfig      `mapstructure:"payments"`
	Providers     ProvidersConfig     `mapstructure:"providers"`
}

type ServerConfig struct {
	Port              int           `mapstructure:"port" validate:"required,min=1,max=65535"`
	BaseURL           string        `mapstructure:"base_url"`
	AllowedOrigins    string        `mapstructure:"allowed_origins"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout"`
	ReadTimeout       time.Duration `mapstructure:"read_timeout"`
	IdleTimeout       time.Duration `mapstructure:"idle_timeout"`
	WriteTimeout      time.Duration `mapstructure:"write_timeout"`
}

type DatabaseConfig struct {
	MaxOpenConns    int           `mapstructure:"max_open_conns" validate:"required,min=1"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns" validate:"required,min=1"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	Source          string        `mapstructure:"source" validate:"required"`
}

type SecurityConfig struct {
	AccessTokenSecret    string        `mapstructure:"access_token_secret" validate:"required,min=32"`
	RefreshTokenSecret   string        `mapstructure:"refresh_token_secret" validate:"required,min=32"`
	AccessTokenDuration  time.Duration `mapstructure:"access_token_duration"`
	RefreshTokenDuration time.Duration `mapstructure:"refresh_token_duration"`
	BCryptCost           int           `mapstructure:"bcrypt_cost" validate:"omitempty,min=10,max=15"`
}

// PaymentsConfig tunes the reconciliation engine itself, not any one provider.
type PaymentsConfig struct {
	InitiateTimeout time.Duration `mapstructure:"initiate_timeout"`
	SweepInterval   time.Duration `mapstructure:"sweep_interval"`
	PendingMaxAge   time.Duration `mapstructure:"pending_max_age"`
	PollInterval    time.Duration `mapstructure:"poll_interval"`
	PollMaxAttempts int           `mapstructure:"poll_max_attempts"`
}

type ProvidersConfig struct {
	Mpesa  MpesaConfig  `mapstructure:"mpesa"`
	Stripe StripeConfig `mapstructure:"stripe"`
	Paypal PaypalConfig `mapstructure:"paypal"`
}

type MpesaConfig struct {
	BaseURL        string `mapstructure:"base_url" validate:"required,url"`
	ConsumerKey    string `mapstructure:"consumer_key" validate:"required"`
	ConsumerSecret string `mapstructure:"consumer_secret" validate:"required"`
	ShortCode      string `mapstructure:"short_code" validate:"required"`
	Passkey        string `mapstructure:"passkey" validate:"required"`
	CallbackURL    string `mapstructure:"callback_url" validate:"required,url"`
}

type StripeConfig struct {
	APIKey        string `mapstructure:"api_key" validate:"required"`
	WebhookSecret string `mapstructure:"webhook_secret" validate:"required"`
}

type PaypalConfig struct {
	BaseURL      string `mapstructure:"base_url" validate:"required,url"`
	ClientID     string `mapstructure:"client_id" validate:"required"`
	ClientSecret string `mapstructure:"client_secret" validate:"required"`
}

type ObservabilityConfig struct {
	Logging LoggingConfig `mapstructure:"logging"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level" validate:"omitempty,oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"omitempty,oneof=json text"`
}

// ----------------- HELPERS -----------------

func getEnv(key, defaultVal string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultVal
}

// LoadConfigFromEnv builds a Config from environment variables, used for
// container deployments where no config file is mounted.
func LoadConfigFromEnv() *Config {
	return &Config{
		Server: ServerConfig{
			Port:              getEnvAsInt("SERVER_PORT", 8080),
			BaseURL:           getEnv("SERVER_BASE_URL", "http://localhost:8080"),
			AllowedOrigins:    getEnv("SERVER_ALLOWED_ORIGINS", "*"),
			ReadHeaderTimeout: getEnvAsDuration("SERVER_READ_HEADER_TIMEOUT", 5*time.Second),
			ReadTimeout:       getEnvAsDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:      getEnvAsDuration("SERVER_WRITE_TIMEOUT", 30*time.Second),
			IdleTimeout:       getEnvAsDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
		},
		Database: DatabaseConfig{
			MaxOpenConns:    getEnvAsInt("DB_MAX_OPEN_CONNS", 20),
			MaxIdleConns:    getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getEnvAsDuration("DB_CONN_MAX_LIFETIME", 30*time.Minute),
			ConnMaxIdleTime: getEnvAsDuration("DB_CONN_MAX_IDLE_TIME", 5*time.Minute),
			Source:          getEnv("DB_SOURCE", ""),
		},
		Security: SecurityConfig{
			AccessTokenSecret:    getEnv("ACCESS_TOKEN_SECRET", ""),
			RefreshTokenSecret:   getEnv("REFRESH_TOKEN_SECRET", ""),
			AccessTokenDuration:  getEnvAsDuration("ACCESS_TOKEN_DURATION", 15*time.Minute),
			RefreshTokenDuration: getEnvAsDuration("REFRESH_TOKEN_DURATION", 7*24*time.Hour),
			BCryptCost:           getEnvAsInt("BCRYPT_COST", 12),
		},
		Payments: PaymentsConfig{
			InitiateTimeout: getEnvAsDuration("PAYMENTS_INITIATE_TIMEOUT", 30*time.Second),
			SweepInterval:   getEnvAsDuration("PAYMENTS_SWEEP_INTERVAL", time.Minute),
			PendingMaxAge:   getEnvAsDuration("PAYMENTS_PENDING_MAX_AGE", 30*time.Minute),
			PollInterval:    getEnvAsDuration("PAYMENTS_POLL_INTERVAL", 5*time.Second),
			PollMaxAttempts: getEnvAsInt("PAYMENTS_POLL_MAX_ATTEMPTS", 12),
		},
		Providers: ProvidersConfig{
			Mpesa: MpesaConfig{
				BaseURL:        getEnv("MPESA_BASE_URL", "https://sandbox.safaricom.co.ke"),
				ConsumerKey:    getEnv("MPESA_CONSUMER_KEY", ""),
				ConsumerSecret: getEnv("MPESA_CONSUMER_SECRET", ""),
				ShortCode:      getEnv("MPESA_SHORT_CODE", ""),
				Passkey:        getEnv("MPESA_PASSKEY", ""),
				CallbackURL:    getEnv("MPESA_CALLBACK_URL", ""),
			},
			Stripe: StripeConfig{
				APIKey:        getEnv("STRIPE_API_KEY", ""),
				WebhookSecret: getEnv("STRIPE_WEBHOOK_SECRET", ""),
			},
			Paypal: PaypalConfig{
				BaseURL:      getEnv("PAYPAL_BASE_URL", "https://api-m.sandbox.paypal.com"),
				ClientID:     getEnv("PAYPAL_CLIENT_ID", ""),
				ClientSecret: getEnv("PAYPAL_CLIENT_SECRET", ""),
			},
		},
		Observability: ObservabilityConfig{
			Logging: LoggingConfig{
				Level:  getEnv("LOG_LEVEL", "info"),
				Format: getEnv("LOG_FORMAT", "json"),
			},
		},
	}
}

// ----------------- VALIDATION -----------------

// Validate runs the struct tag validation plus cross-field checks the tags
// cannot express.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("config validation: %w", err)
	}

	var errs []string

	if err := c.Server.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("server config: %v", err))
	}

	if err := c.Database.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("database config: %v", err))
	}

	if err := c.Payments.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("payments config: %v", err))
	}

	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}

	return nil
}

func (c *ServerConfig) Validate() error {
	if c.AllowedOrigins != "" {
		origins := strings.Split(c.AllowedOrigins, ",")
		for _, origin := range origins {
			origin = strings.TrimSpace(origin)
			if origin == "*" {
				continue
			}
			if _, err := url.Parse(origin); err != nil {
				return fmt.Errorf("invalid allowed origin %s: %w", origin, err)
			}
		}
	}
	if c.ReadTimeout < c.ReadHeaderTimeout {
		return errors.New("read_timeout must be >= read_header_timeout")
	}
	return nil
}

func (c *DatabaseConfig) Validate() error {
	if c.MaxIdleConns > c.MaxOpenConns {
		return errors.New("max_idle_conns cannot be greater than max_open_conns")
	}
	return nil
}

func (c *DatabaseConfig) GetDSN() string {
	return c.Source
}

func (c *PaymentsConfig) Validate() error {
	if c.InitiateTimeout <= 0 {
		return errors.New("initiate_timeout must be positive")
	}
	if c.PendingMaxAge > 0 && c.SweepInterval <= 0 {
		return errors.New("sweep_interval must be positive when pending_max_age is set")
	}
	if c.PollMaxAttempts < 0 {
		return errors.New("poll_max_attempts cannot be negative")
	}
	return nil
}
