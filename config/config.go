// Package config loads runtime configuration from the environment, with an
// optional .env file, and builds the process logger from it.
package config

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// Config centralises all environment and runtime configuration.
type Config struct {
	Port         int
	DatabasePath string

	LogLevel  string
	LogFormat string // text | json

	CORSOrigins []string

	// Optional YAML file overriding the import column mappings.
	ImportMappings string

	DefaultLeaveBalance decimal.Decimal
	UpsertConcurrency   int
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		Port:                8080,
		DatabasePath:        "hr.db",
		LogLevel:            "info",
		LogFormat:           "text",
		DefaultLeaveBalance: decimal.NewFromInt(12),
		UpsertConcurrency:   4,
	}
}

// Load reads the given .env files (".env" when none are named; missing
// files are ignored) and then the environment. Variables already set in
// the environment win over the files.
func Load(files ...string) (*Config, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if _, err := os.Stat(f); err != nil {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", f, err)
		}
	}
	return FromEnv(os.Getenv)
}

// FromEnv builds a Config from a lookup function.
func FromEnv(getenv func(string) string) (*Config, error) {
	cfg := Default()

	if v := getenv("PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil || port <= 0 || port > 65535 {
			return nil, fmt.Errorf("PORT: invalid value %q", v)
		}
		cfg.Port = port
	}
	cfg.DatabasePath = getEnvOrDefault(getenv, "DATABASE_PATH", cfg.DatabasePath)
	cfg.LogLevel = strings.ToLower(getEnvOrDefault(getenv, "LOG_LEVEL", cfg.LogLevel))
	cfg.LogFormat = strings.ToLower(getEnvOrDefault(getenv, "LOG_FORMAT", cfg.LogFormat))
	cfg.ImportMappings = getenv("IMPORT_MAPPINGS")
	cfg.CORSOrigins = splitList(getenv("CORS_ORIGINS"))

	if v := getenv("DEFAULT_LEAVE_BALANCE"); v != "" {
		d, err := decimal.NewFromString(strings.TrimSpace(v))
		if err != nil || d.IsNegative() {
			return nil, fmt.Errorf("DEFAULT_LEAVE_BALANCE: invalid value %q", v)
		}
		cfg.DefaultLeaveBalance = d
	}
	if v := getenv("UPSERT_CONCURRENCY"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return nil, fmt.Errorf("UPSERT_CONCURRENCY: invalid value %q", v)
		}
		cfg.UpsertConcurrency = n
	}

	if _, err := logrus.ParseLevel(cfg.LogLevel); err != nil {
		return nil, fmt.Errorf("LOG_LEVEL: %w", err)
	}
	if cfg.LogFormat != "text" && cfg.LogFormat != "json" {
		return nil, fmt.Errorf("LOG_FORMAT: must be text or json, got %q", cfg.LogFormat)
	}
	return cfg, nil
}

// NewLogger builds the process logger.
func (c *Config) NewLogger(out io.Writer) *logrus.Logger {
	log := logrus.New()
	log.SetOutput(out)
	if level, err := logrus.ParseLevel(c.LogLevel); err == nil {
		log.SetLevel(level)
	}
	if c.LogFormat == "json" {
		log.SetFormatter(&logrus.JSONFormatter{})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return log
}

func getEnvOrDefault(getenv func(string) string, key, def string) string {
	if v := strings.TrimSpace(getenv(key)); v != "" {
		return v
	}
	return def
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
