// Package config loads service settings from the environment.
//
// Values come from process env vars, optionally preloaded from a .env file
// (godotenv), and fall back to the defaults registered here (viper).
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// Environments.
const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
	EnvTest        = "test"
	// EnvMemory runs the server on the in-memory store (no database).
	EnvMemory = "memory"
)

const devJWTSecret = "dev-secret-change-me"

// Config holds every setting of the API server and the CLI tools.
type Config struct {
	AppPort  string
	AppEnv   string
	LogLevel string

	DatabaseURL string
	DBMaxConns  int32
	DBMinConns  int32

	JWTSecret string
	JWTIssuer string

	CertMaxRetries    int
	CertRetryBackoff  time.Duration
	CertFeePerStudent decimal.Decimal

	IdempotencyEnabled bool
	IdempotencyTTL     time.Duration

	FrontendURL string
}

// IsDevelopment reports whether the service runs with developer defaults.
func (c *Config) IsDevelopment() bool {
	return c.AppEnv == EnvDevelopment || c.AppEnv == EnvMemory
}

// UsesMemoryStore reports whether storage is in-process.
func (c *Config) UsesMemoryStore() bool {
	return c.AppEnv == EnvMemory
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetTypeByDefaultValue(true)

	v.SetDefault("APP_PORT", "8080")
	v.SetDefault("APP_ENV", EnvDevelopment)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("DB_MAX_CONNS", 10)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("JWT_SECRET", "")
	v.SetDefault("JWT_ISSUER", "odds")
	v.SetDefault("CERT_MAX_RETRIES", 5)
	v.SetDefault("CERT_RETRY_BACKOFF", 20*time.Millisecond)
	v.SetDefault("CERT_FEE_PER_STUDENT", "10")
	v.SetDefault("IDEMPOTENCY_ENABLED", true)
	v.SetDefault("IDEMPOTENCY_TTL", 24*time.Hour)
	v.SetDefault("FRONTEND_URL", "http://localhost:9000")

	v.AutomaticEnv()
	return v
}

// Load reads the configuration. Files in dotenv are loaded first when they
// exist; variables already set in the environment win.
func Load(dotenv ...string) (*Config, error) {
	for _, path := range dotenv {
		if _, err := os.Stat(path); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf("stat %s: %w", path, err)
		}
		if err := godotenv.Load(path); err != nil {
			return nil, fmt.Errorf("load %s: %w", path, err)
		}
	}
	return fromViper(newViper())
}

func fromViper(v *viper.Viper) (*Config, error) {
	fee, err := decimal.NewFromString(v.GetString("CERT_FEE_PER_STUDENT"))
	if err != nil {
		return nil, fmt.Errorf("CERT_FEE_PER_STUDENT: %w", err)
	}

	cfg := &Config{
		AppPort:            v.GetString("APP_PORT"),
		AppEnv:             strings.ToLower(v.GetString("APP_ENV")),
		LogLevel:           v.GetString("LOG_LEVEL"),
		DatabaseURL:        v.GetString("DATABASE_URL"),
		DBMaxConns:         v.GetInt32("DB_MAX_CONNS"),
		DBMinConns:         v.GetInt32("DB_MIN_CONNS"),
		JWTSecret:          v.GetString("JWT_SECRET"),
		JWTIssuer:          v.GetString("JWT_ISSUER"),
		CertMaxRetries:     v.GetInt("CERT_MAX_RETRIES"),
		CertRetryBackoff:   v.GetDuration("CERT_RETRY_BACKOFF"),
		CertFeePerStudent:  fee,
		IdempotencyEnabled: v.GetBool("IDEMPOTENCY_ENABLED"),
		IdempotencyTTL:     v.GetDuration("IDEMPOTENCY_TTL"),
		FrontendURL:        v.GetString("FRONTEND_URL"),
	}

	if cfg.JWTSecret == "" && cfg.IsDevelopment() {
		cfg.JWTSecret = devJWTSecret
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks required settings and value ranges.
func (c *Config) Validate() error {
	var errs []error
	if c.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required outside development"))
	}
	if c.DatabaseURL == "" && !c.UsesMemoryStore() {
		errs = append(errs, errors.New("DATABASE_URL is required"))
	}
	if c.CertMaxRetries < 1 {
		errs = append(errs, fmt.Errorf("CERT_MAX_RETRIES must be at least 1, got %d", c.CertMaxRetries))
	}
	if c.CertRetryBackoff <= 0 {
		errs = append(errs, fmt.Errorf("CERT_RETRY_BACKOFF must be positive, got %s", c.CertRetryBackoff))
	}
	if c.CertFeePerStudent.IsNegative() {
		errs = append(errs, errors.New("CERT_FEE_PER_STUDENT must not be negative"))
	}
	if c.DBMinConns > c.DBMaxConns {
		errs = append(errs, fmt.Errorf("DB_MIN_CONNS (%d) exceeds DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns))
	}
	return errors.Join(errs...)
}
