package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"
)

// Config holds all application configuration
type Config struct {
	Env         string
	Server      ServerConfig
	Database    DatabaseConfig
	Redis       RedisConfig
	Insurer     InsurerConfig
	Eligibility EligibilityConfig
	OTEL        OTELConfig
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Host            string
	Port            int
	AllowedOrigins  []string
	ShutdownTimeout time.Duration
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string

	// AutoMigrate applies the embedded schema on startup.
	AutoMigrate bool
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// InsurerConfig holds the national insurer API credentials and call policy
type InsurerConfig struct {
	BaseURL        string
	ConsumerID     string
	ConsumerSecret string
	UserKey        string

	// Timeout bounds a single attempt.
	Timeout        time.Duration
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration

	// IneligibleCodes are metaData codes that always mean "not eligible".
	IneligibleCodes []string

	BreakerEnabled  bool
	BreakerFailures int
	BreakerCooldown time.Duration

	// TimeZone names the location the insurer's calendar day is taken in.
	TimeZone string
}

// Location resolves TimeZone, falling back to a fixed UTC+7 zone
func (c *InsurerConfig) Location() *time.Location {
	if c.TimeZone != "" {
		if loc, err := time.LoadLocation(c.TimeZone); err == nil {
			return loc
		}
	}
	return time.FixedZone("WIB", 7*60*60)
}

// EligibilityConfig holds verification workflow settings
type EligibilityConfig struct {
	CacheTTL          time.Duration
	VerifyTimeout     time.Duration
	OverrideMinReason int
	DedupeInFlight    bool
	OverrideApprovers []string
	ManualVerifiers   []string

	// EventsEnabled publishes audit events over Redis pub/sub.
	EventsEnabled bool
}

// OTELConfig holds OpenTelemetry configuration
type OTELConfig struct {
	ServiceName    string
	ServiceVersion string
	Endpoint       string
	Enabled        bool
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		Env: getEnv("APP_ENV", "production"),
		Server: ServerConfig{
			Host:            getEnv("SERVER_HOST", "0.0.0.0"),
			Port:            getEnvAsInt("SERVER_PORT", 8080),
			AllowedOrigins:  getEnvAsList("ALLOWED_ORIGINS", []string{"*"}),
			ShutdownTimeout: getEnvAsDuration("SERVER_SHUTDOWN_TIMEOUT", 30*time.Second),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvAsInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", ""),
			Database: getEnv("DB_NAME", "insurance_eligibility"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),

			AutoMigrate: getEnvAsBool("DB_AUTO_MIGRATE", false),
		},
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnvAsInt("REDIS_PORT", 6379),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		Insurer: InsurerConfig{
			BaseURL:         getEnv("INSURER_BASE_URL", ""),
			ConsumerID:      getEnv("INSURER_CONSUMER_ID", ""),
			ConsumerSecret:  getEnv("INSURER_CONSUMER_SECRET", ""),
			UserKey:         getEnv("INSURER_USER_KEY", ""),
			Timeout:         getEnvAsDuration("INSURER_TIMEOUT", 10*time.Second),
			MaxAttempts:     getEnvAsInt("INSURER_MAX_ATTEMPTS", 3),
			InitialBackoff:  getEnvAsDuration("INSURER_INITIAL_BACKOFF", 200*time.Millisecond),
			MaxBackoff:      getEnvAsDuration("INSURER_MAX_BACKOFF", 2*time.Second),
			IneligibleCodes: getEnvAsList("INSURER_INELIGIBLE_CODES", nil),
			BreakerEnabled:  getEnvAsBool("INSURER_BREAKER_ENABLED", true),
			BreakerFailures: getEnvAsInt("INSURER_BREAKER_FAILURES", 5),
			BreakerCooldown: getEnvAsDuration("INSURER_BREAKER_COOLDOWN", 30*time.Second),
			TimeZone:        getEnv("INSURER_TIMEZONE", "Asia/Jakarta"),
		},
		Eligibility: EligibilityConfig{
			CacheTTL:          getEnvAsDuration("ELIGIBILITY_CACHE_TTL", 24*time.Hour),
			VerifyTimeout:     getEnvAsDuration("ELIGIBILITY_VERIFY_TIMEOUT", 30*time.Second),
			OverrideMinReason: getEnvAsInt("ELIGIBILITY_OVERRIDE_MIN_REASON", 10),
			DedupeInFlight:    getEnvAsBool("ELIGIBILITY_DEDUPE_INFLIGHT", true),
			OverrideApprovers: getEnvAsList("ELIGIBILITY_OVERRIDE_APPROVERS", nil),
			ManualVerifiers:   getEnvAsList("ELIGIBILITY_MANUAL_VERIFIERS", nil),
			EventsEnabled:     getEnvAsBool("ELIGIBILITY_EVENTS_ENABLED", true),
		},
		OTEL: OTELConfig{
			ServiceName:    getEnv("OTEL_SERVICE_NAME", "insurance-eligibility"),
			ServiceVersion: getEnv("OTEL_SERVICE_VERSION", "1.0.0"),
			Endpoint:       getEnv("OTEL_ENDPOINT", ""),
			Enabled:        getEnvAsBool("OTEL_ENABLED", false),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the settings the service cannot start without
func (c *Config) Validate() error {
	var errs []error
	if c.Insurer.BaseURL == "" {
		errs = append(errs, errors.New("INSURER_BASE_URL is required"))
	}
	if c.Insurer.ConsumerID == "" {
		errs = append(errs, errors.New("INSURER_CONSUMER_ID is required"))
	}
	if c.Insurer.ConsumerSecret == "" {
		errs = append(errs, errors.New("INSURER_CONSUMER_SECRET is required"))
	}
	if c.Insurer.MaxAttempts < 1 {
		errs = append(errs, errors.New("INSURER_MAX_ATTEMPTS must be at least 1"))
	}
	if c.Eligibility.CacheTTL <= 0 {
		errs = append(errs, errors.New("ELIGIBILITY_CACHE_TTL must be positive"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	return nil
}

// IsDevelopment reports whether the service runs with developer defaults
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// DatabaseDSN returns the PostgreSQL connection string
func (c *DatabaseConfig) DatabaseDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// RedisAddr returns the Redis address
func (c *RedisConfig) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

// getEnvAsList splits a comma separated value, dropping empty items
func getEnvAsList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
