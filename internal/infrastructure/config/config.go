package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// StoreBackend selects the entry store implementation
type StoreBackend string

const (
	StoreMemory   StoreBackend = "memory"
	StoreRedis    StoreBackend = "redis"
	StorePostgres StoreBackend = "postgres"
)

// Config holds the application configuration
type Config struct {
	// Server configuration
	ServerPort int
	Issuer     string

	// Entry store configuration
	StoreBackend StoreBackend

	// Database configuration (postgres backend)
	DBHost     string
	DBPort     int
	DBUser     string
	DBPassword string
	DBName     string

	// Redis configuration (redis backend)
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Signing configuration
	SigningAlgorithm string
	SigningKeyPath   string
	RSAKeySize       int

	// Token lifetimes per kind
	AccessTokenDuration  time.Duration
	RefreshTokenDuration time.Duration
	IDTokenDuration      time.Duration
	RPTDuration          time.Duration
	PCTDuration          time.Duration

	// Grant artifact lifetimes
	AuthorizationCodeDuration time.Duration
	PermissionTicketDuration  time.Duration
	CibaRequestDuration       time.Duration
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	// Load .env from project root
	_ = godotenv.Load()

	cfg := &Config{
		ServerPort:       getEnvInt("PORT", 8080),
		Issuer:           getEnv("ISSUER", "http://localhost:8080"),
		StoreBackend:     StoreBackend(getEnv("STORE_BACKEND", "memory")),
		DBHost:           getEnv("DB_HOST", "localhost"),
		DBPort:           getEnvInt("DB_PORT", 5432),
		DBUser:           getEnv("DB_USER", "owner"),
		DBPassword:       getEnv("DB_PASSWORD", ""),
		DBName:           getEnv("DB_NAME", "authz"),
		RedisAddr:        getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:    getEnv("REDIS_PASSWORD", ""),
		RedisDB:          getEnvInt("REDIS_DB", 0),
		SigningAlgorithm: getEnv("SIGNING_ALGORITHM", "RS256"),
		SigningKeyPath:   getEnv("SIGNING_KEY_PATH", ""),
		RSAKeySize:       getEnvInt("RSA_KEY_SIZE", 2048),
	}

	var err error
	if cfg.AccessTokenDuration, err = getEnvDuration("ACCESS_TOKEN_DURATION", "15m"); err != nil {
		return nil, err
	}
	if cfg.RefreshTokenDuration, err = getEnvDuration("REFRESH_TOKEN_DURATION", "24h"); err != nil {
		return nil, err
	}
	if cfg.IDTokenDuration, err = getEnvDuration("ID_TOKEN_DURATION", "1h"); err != nil {
		return nil, err
	}
	if cfg.RPTDuration, err = getEnvDuration("RPT_DURATION", "1h"); err != nil {
		return nil, err
	}
	if cfg.PCTDuration, err = getEnvDuration("PCT_DURATION", "720h"); err != nil {
		return nil, err
	}
	if cfg.AuthorizationCodeDuration, err = getEnvDuration("AUTHORIZATION_CODE_DURATION", "10m"); err != nil {
		return nil, err
	}
	if cfg.PermissionTicketDuration, err = getEnvDuration("PERMISSION_TICKET_DURATION", "30m"); err != nil {
		return nil, err
	}
	if cfg.CibaRequestDuration, err = getEnvDuration("CIBA_REQUEST_DURATION", "5m"); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for values that must fail at startup
// rather than at request time
func (c *Config) Validate() error {
	switch c.SigningAlgorithm {
	case "RS256", "RS384", "RS512":
	default:
		return fmt.Errorf("unsupported signing algorithm %q", c.SigningAlgorithm)
	}
	if c.RSAKeySize < 2048 {
		return fmt.Errorf("RSA key size %d below minimum 2048", c.RSAKeySize)
	}
	switch c.StoreBackend {
	case StoreMemory, StoreRedis, StorePostgres:
	default:
		return fmt.Errorf("unknown store backend %q", c.StoreBackend)
	}
	if c.AccessTokenDuration <= 0 || c.RefreshTokenDuration <= 0 {
		return fmt.Errorf("token durations must be positive")
	}
	return nil
}

// TokenDuration returns the configured lifetime for a token kind name
func (c *Config) TokenDuration(kind string) time.Duration {
	switch kind {
	case "access_token":
		return c.AccessTokenDuration
	case "refresh_token":
		return c.RefreshTokenDuration
	case "id_token":
		return c.IDTokenDuration
	case "rpt":
		return c.RPTDuration
	case "pct":
		return c.PCTDuration
	}
	return c.AccessTokenDuration
}

// getEnv gets an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

// getEnvInt gets an environment variable as an integer or returns a default value
func getEnvInt(key string, defaultValue int) int {
	if value, exists := os.LookupEnv(key); exists {
		intValue, err := strconv.Atoi(value)
		if err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvDuration gets an environment variable as a duration
func getEnvDuration(key, defaultValue string) (time.Duration, error) {
	return time.ParseDuration(getEnv(key, defaultValue))
}
