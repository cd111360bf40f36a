package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Config holds the settings of the cmdkit deployer and host.
type Config struct {
	LogLevel  string
	LogFormat string

	// DatabaseURL is the host engine database. Empty selects lite mode:
	// a SQLite file under DataDir.
	DatabaseURL string
	DataDir     string
	// Datasources are tried in order for the dependency inventory query.
	// Empty means DatabaseURL.
	Datasources []string

	ArtifactStore    string
	ArtifactBucket   string
	ArtifactRegion   string
	ArtifactEndpoint string
	ArtifactPrefix   string

	SignatureAlgorithm string

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	LockTTL       time.Duration
	// LockWait bounds how long a deployment waits for another holder.
	LockWait time.Duration

	BridgeTimeout      time.Duration
	BridgeDetachedRPS  float64
	AccessorSigningKey string

	OTelEnabled  bool
	OTelEndpoint string
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		LogLevel:           getenv("LOG_LEVEL", "INFO"),
		LogFormat:          getenv("LOG_FORMAT", "text"),
		DatabaseURL:        os.Getenv("DATABASE_URL"),
		DataDir:            getenv("DATA_DIR", "data"),
		ArtifactStore:      getenv("ARTIFACT_STORE", "fs"),
		ArtifactBucket:     os.Getenv("ARTIFACT_BUCKET"),
		ArtifactRegion:     os.Getenv("ARTIFACT_REGION"),
		ArtifactEndpoint:   os.Getenv("ARTIFACT_ENDPOINT"),
		ArtifactPrefix:     os.Getenv("ARTIFACT_PREFIX"),
		SignatureAlgorithm: getenv("SIGNATURE_ALGORITHM", "sha256"),
		RedisAddr:          os.Getenv("REDIS_ADDR"),
		RedisPassword:      os.Getenv("REDIS_PASSWORD"),
		AccessorSigningKey: os.Getenv("ACCESSOR_SIGNING_KEY"),
		OTelEnabled:        os.Getenv("OTEL_ENABLED") == "true",
		OTelEndpoint:       getenv("OTEL_ENDPOINT", "localhost:4317"),
	}

	if raw := os.Getenv("CMDKIT_DATASOURCES"); raw != "" {
		for _, name := range strings.Split(raw, ",") {
			if name = strings.TrimSpace(name); name != "" {
				cfg.Datasources = append(cfg.Datasources, name)
			}
		}
	}

	var err error
	if cfg.RedisDB, err = intEnv("REDIS_DB", 0); err != nil {
		return nil, err
	}
	if cfg.LockTTL, err = durationEnv("DEPLOY_LOCK_TTL", 2*time.Minute); err != nil {
		return nil, err
	}
	if cfg.LockWait, err = durationEnv("DEPLOY_LOCK_WAIT", 5*time.Minute); err != nil {
		return nil, err
	}
	if cfg.BridgeTimeout, err = durationEnv("BRIDGE_TIMEOUT", 5*time.Minute); err != nil {
		return nil, err
	}
	if raw := os.Getenv("BRIDGE_DETACHED_RPS"); raw != "" {
		if cfg.BridgeDetachedRPS, err = strconv.ParseFloat(raw, 64); err != nil {
			return nil, fmt.Errorf("invalid BRIDGE_DETACHED_RPS %q: %w", raw, err)
		}
	}
	return cfg, nil
}

// LiteMode reports whether no external database is configured.
func (c *Config) LiteMode() bool {
	return c.DatabaseURL == ""
}

// DatabaseDSN is DatabaseURL, or the lite mode SQLite file.
func (c *Config) DatabaseDSN() string {
	if c.LiteMode() {
		return "sqlite:" + filepath.Join(c.DataDir, "cmdkit.db")
	}
	return c.DatabaseURL
}

// InventoryDatasources are the datasource names for the inventory query.
func (c *Config) InventoryDatasources() []string {
	if len(c.Datasources) > 0 {
		return c.Datasources
	}
	return []string{c.DatabaseDSN()}
}

// SlogLevel maps LogLevel to a slog level; unknown values are INFO.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToUpper(c.LogLevel) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func intEnv(key string, def int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return v, nil
}

func durationEnv(key string, def time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return v, nil
}
