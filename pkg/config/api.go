package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// APIConfig holds runtime configuration for the API service.
type APIConfig struct {
	Environment         string        `toml:"environment"`
	Addr                string        `toml:"addr"`
	BasePath            string        `toml:"base_path"`
	DatabaseDriver      string        `toml:"database_driver"`
	DatabaseURL         string        `toml:"database_url"`
	JWTSecret           string        `toml:"jwt_secret"`
	TokenTTL            time.Duration `toml:"token_ttl"`
	BcryptCost          int           `toml:"bcrypt_cost"`
	AuthCheckUserExists bool          `toml:"auth_check_user_exists"`
	CORSOrigins         []string      `toml:"cors_origins"`
	TrustedProxies      []string      `toml:"trusted_proxies"`
	RateLimitRedisAddr  string        `toml:"rate_limit_redis_addr"`
	RateLimitRedisPass  string        `toml:"rate_limit_redis_password"`
	RateLimitRedisDB    int           `toml:"rate_limit_redis_db"`
	MetricsEnabled      bool          `toml:"metrics_enabled"`
	LogLevel            string        `toml:"log_level"`
	ShutdownTimeout     time.Duration `toml:"shutdown_timeout"`
}

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// DefaultAPIConfig returns the configuration used when nothing is set.
func DefaultAPIConfig() APIConfig {
	return APIConfig{
		Environment:     "development",
		Addr:            ":3001",
		BasePath:        "/api",
		DatabaseDriver:  DriverSQLite,
		DatabaseURL:     "file:./data/todos.db?_foreign_keys=on",
		JWTSecret:       "your-super-secret-key-change-in-production",
		TokenTTL:        7 * 24 * time.Hour,
		BcryptCost:      10,
		CORSOrigins:     []string{"http://localhost:5173", "http://localhost:5174"},
		MetricsEnabled:  true,
		LogLevel:        "info",
		ShutdownTimeout: 10 * time.Second,
	}
}

// LoadAPIConfig builds an APIConfig from defaults, the optional TOML file named
// by CONFIG_FILE, and environment variables, in increasing precedence.
func LoadAPIConfig() (APIConfig, error) {
	cfg := DefaultAPIConfig()
	if path := strings.TrimSpace(GetString("CONFIG_FILE", "")); path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return APIConfig{}, fmt.Errorf("decode config file %s: %w", path, err)
		}
	}

	if port := strings.TrimSpace(GetString("PORT", "")); port != "" {
		cfg.Addr = ":" + port
	}
	cfg.Environment = GetString("APP_ENV", cfg.Environment)
	cfg.Addr = GetString("API_ADDR", cfg.Addr)
	cfg.BasePath = GetString("API_BASE_PATH", cfg.BasePath)
	cfg.DatabaseDriver = GetString("DATABASE_DRIVER", cfg.DatabaseDriver)
	cfg.DatabaseURL = GetString("DATABASE_URL", cfg.DatabaseURL)
	cfg.JWTSecret = GetString("JWT_SECRET", cfg.JWTSecret)
	if _, ok := os.LookupEnv("TOKEN_TTL_HOURS"); ok {
		cfg.TokenTTL = time.Duration(GetInt("TOKEN_TTL_HOURS", int(cfg.TokenTTL/time.Hour))) * time.Hour
	}
	cfg.TokenTTL = GetDuration("TOKEN_TTL", cfg.TokenTTL)
	cfg.BcryptCost = GetInt("BCRYPT_COST", cfg.BcryptCost)
	cfg.AuthCheckUserExists = GetBool("AUTH_CHECK_USER_EXISTS", cfg.AuthCheckUserExists)
	cfg.CORSOrigins = GetList("CORS_ORIGINS", cfg.CORSOrigins)
	cfg.TrustedProxies = GetList("TRUSTED_PROXIES", cfg.TrustedProxies)
	cfg.RateLimitRedisAddr = GetString("RATE_LIMIT_REDIS_ADDR", cfg.RateLimitRedisAddr)
	cfg.RateLimitRedisPass = GetString("RATE_LIMIT_REDIS_PASSWORD", cfg.RateLimitRedisPass)
	cfg.RateLimitRedisDB = GetInt("RATE_LIMIT_REDIS_DB", cfg.RateLimitRedisDB)
	cfg.MetricsEnabled = GetBool("METRICS_ENABLED", cfg.MetricsEnabled)
	cfg.LogLevel = GetString("LOG_LEVEL", cfg.LogLevel)
	cfg.ShutdownTimeout = GetDuration("SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)

	if err := cfg.Validate(); err != nil {
		return APIConfig{}, err
	}
	return cfg, nil
}

// Validate reports settings the server cannot start with.
func (c APIConfig) Validate() error {
	switch c.DatabaseDriver {
	case DriverSQLite, DriverPostgres:
	default:
		return fmt.Errorf("unsupported database driver %q", c.DatabaseDriver)
	}
	if strings.TrimSpace(c.DatabaseURL) == "" {
		return fmt.Errorf("database url is required")
	}
	if strings.TrimSpace(c.JWTSecret) == "" {
		return fmt.Errorf("jwt secret is required")
	}
	if c.TokenTTL <= 0 {
		return fmt.Errorf("token ttl must be positive")
	}
	if c.BcryptCost < 4 || c.BcryptCost > 31 {
		return fmt.Errorf("bcrypt cost %d out of range", c.BcryptCost)
	}
	return nil
}
