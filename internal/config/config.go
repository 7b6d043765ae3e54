package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Storage backends supported for encrypted blobs.
const (
	StorageBackendLocal = "local"
	StorageBackendMinIO = "minio"
)

// Config aggregates runtime configuration for the ShieldMaiden API.
type Config struct {
	Server   ServerConfig
	Postgres PostgresConfig
	Storage  StorageConfig
	MinIO    MinIOConfig
	Auth     AuthConfig
	Quota    QuotaConfig
	Sweeper  SweeperConfig
	Metrics  MetricsConfig
}

// ServerConfig parameterizes the HTTP server.
type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// Address returns the listen address in host:port form.
func (s ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// PostgresConfig contains PostgreSQL connection details.
type PostgresConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

// DSN returns the PostgreSQL DSN string.
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		p.User, p.Password, p.Host, p.Port, p.Database, p.SSLMode)
}

// StorageConfig selects and parameterizes the encrypted blob backend.
type StorageConfig struct {
	Backend      string
	EncryptedDir string
}

// MinIOConfig carries MinIO connection and bucket information.
type MinIOConfig struct {
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	Bucket          string
	UseSSL          bool
	Region          string
}

// AuthConfig groups authentication-related settings.
type AuthConfig struct {
	AccessTokenSecret  string
	RefreshTokenSecret string
	AccessTokenTTL     time.Duration
	RefreshTokenTTL    time.Duration
	BcryptCost         int
}

// QuotaConfig bounds per-owner storage consumption.
type QuotaConfig struct {
	BytesPerUser int64
}

// SweeperConfig controls the background reclamation passes.
type SweeperConfig struct {
	SweepInterval time.Duration
	PurgeInterval time.Duration
}

// MetricsConfig groups observability settings.
type MetricsConfig struct {
	PrometheusPath string
}

// Load reads configuration values from environment variables, applying defaults.
func Load() (Config, error) {
	cfg := Config{
		Server: ServerConfig{
			Host:         getString("SHIELDMAIDEN_API_HOST", "0.0.0.0"),
			Port:         getInt("SHIELDMAIDEN_API_PORT", 8080),
			ReadTimeout:  getDuration("SHIELDMAIDEN_API_READ_TIMEOUT", 15*time.Second),
			WriteTimeout: getDuration("SHIELDMAIDEN_API_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:  getDuration("SHIELDMAIDEN_API_IDLE_TIMEOUT", 60*time.Second),
		},
		Postgres: PostgresConfig{
			Host:     getString("POSTGRES_HOST", "localhost"),
			Port:     getInt("POSTGRES_PORT", 5432),
			User:     getString("POSTGRES_USER", "shieldmaiden_app"),
			Password: getString("POSTGRES_PASSWORD", "change-me"),
			Database: getString("POSTGRES_DB", "shieldmaiden"),
			SSLMode:  strings.ToLower(getString("POSTGRES_SSL_MODE", "disable")),
		},
		Storage: StorageConfig{
			Backend:      strings.ToLower(getString("STORAGE_BACKEND", StorageBackendLocal)),
			EncryptedDir: getString("STORAGE_ENCRYPTED_DIR", "uploads/encrypted"),
		},
		MinIO: MinIOConfig{
			Endpoint:        getString("MINIO_ENDPOINT", "localhost:9000"),
			AccessKeyID:     getString("MINIO_ROOT_USER", "shieldmaiden"),
			SecretAccessKey: getString("MINIO_ROOT_PASSWORD", "change-me-strong-password"),
			Bucket:          getString("MINIO_BUCKET", "shieldmaiden"),
			UseSSL:          getBool("MINIO_USE_SSL", false),
			Region:          getString("MINIO_REGION", ""),
		},
		Auth: loadAuthConfig(),
		Quota: QuotaConfig{
			BytesPerUser: getInt64("STORAGE_QUOTA_PER_USER", 1<<30), // 1GB
		},
		Sweeper: SweeperConfig{
			SweepInterval: getDuration("CLEANUP_SWEEP_INTERVAL", time.Hour),
			PurgeInterval: getDuration("CLEANUP_PURGE_INTERVAL", 6*time.Hour),
		},
		Metrics: MetricsConfig{
			PrometheusPath: getString("SHIELDMAIDEN_METRICS_PATH", "/metrics"),
		},
	}

	if cfg.Storage.Backend != StorageBackendLocal && cfg.Storage.Backend != StorageBackendMinIO {
		return Config{}, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}

	return cfg, nil
}

func getString(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return fallback
}

func getInt(key string, fallback int) int {
	if val, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.Atoi(val); err == nil {
			return parsed
		}
	}
	return fallback
}

func getInt64(key string, fallback int64) int64 {
	if val, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.ParseInt(val, 10, 64); err == nil {
			return parsed
		}
	}
	return fallback
}

func getBool(key string, fallback bool) bool {
	if val, ok := os.LookupEnv(key); ok {
		val = strings.ToLower(strings.TrimSpace(val))
		switch val {
		case "1", "true", "t", "yes", "y":
			return true
		case "0", "false", "f", "no", "n":
			return false
		}
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	if val, ok := os.LookupEnv(key); ok {
		if parsed, err := time.ParseDuration(val); err == nil {
			return parsed
		}
	}
	return fallback
}

func loadAuthConfig() AuthConfig {
	cost := getInt("SHIELDMAIDEN_AUTH_BCRYPT_COST", 12)
	if cost < 4 || cost > 31 {
		cost = 12
	}

	return AuthConfig{
		AccessTokenSecret:  getString("SHIELDMAIDEN_JWT_SECRET", "change-me-to-a-32-byte-secret"),
		RefreshTokenSecret: getString("SHIELDMAIDEN_JWT_REFRESH_SECRET", "change-me-to-a-64-byte-secret"),
		AccessTokenTTL:     getDuration("SHIELDMAIDEN_AUTH_ACCESS_TOKEN_TTL", 15*time.Minute),
		RefreshTokenTTL:    getDuration("SHIELDMAIDEN_AUTH_REFRESH_TOKEN_TTL", 720*time.Hour),
		BcryptCost:         cost,
	}
}
