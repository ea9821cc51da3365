package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

type Config struct {
	// HTTP server
	Port string

	// Database (users, sessions, events, optional ledger backend)
	DatabaseURL string

	// Ledger snapshot backend
	DataBackend  string // memory | file | postgres
	SnapshotPath string

	// Async workers
	EventBuffer    int
	SnapshotBuffer int
}

// Load reads configuration from a .env file (if present) and the
// environment, with defaults suitable for local development.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		Port:        getEnv("PORT", "5000"),
		DatabaseURL: getEnv("DATABASE_URL", "host=localhost port=5432 user=postgres password=postgres dbname=splitpocket sslmode=disable"),

		DataBackend:  getEnv("DATA_BACKEND", "file"),
		SnapshotPath: getEnv("SNAPSHOT_PATH", "./data/ledger.json"),

		EventBuffer:    getEnvInt("EVENT_BUFFER", 100),
		SnapshotBuffer: getEnvInt("SNAPSHOT_BUFFER", 8),
	}
}

// Validate returns an error listing every invalid setting.
func (c *Config) Validate() error {
	var errs []string

	if port, err := strconv.Atoi(c.Port); err != nil {
		errs = append(errs, fmt.Sprintf("invalid port '%s': must be a number", c.Port))
	} else if port < 1 || port > 65535 {
		errs = append(errs, fmt.Sprintf("invalid port %d: must be between 1 and 65535", port))
	}

	switch c.DataBackend {
	case "memory", "postgres":
	case "file":
		if c.SnapshotPath == "" {
			errs = append(errs, "snapshot path cannot be empty when using the file backend")
		}
	default:
		errs = append(errs, fmt.Sprintf("invalid data backend '%s': must be one of [memory file postgres]", c.DataBackend))
	}

	if c.DatabaseURL == "" {
		errs = append(errs, "database URL cannot be empty")
	}

	if c.EventBuffer < 1 {
		errs = append(errs, fmt.Sprintf("invalid event buffer %d: must be at least 1", c.EventBuffer))
	}
	if c.SnapshotBuffer < 1 {
		errs = append(errs, fmt.Sprintf("invalid snapshot buffer %d: must be at least 1", c.SnapshotBuffer))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errs, "\n- "))
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}
