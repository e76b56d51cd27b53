package config

import (
	"os"

	"github.com/joho/godotenv"
)

// Env holds process settings that come from the environment rather than the policy file.
type Env struct {
	LogLevel     string
	LogFormat    string
	DatabaseURL  string // PostgreSQL directory when set, in-memory otherwise
	AccountsFile string // JSON seed for the in-memory directory
	OTLPEndpoint string
}

// Defaults for Env.
const (
	DefaultLogLevel     = "info"
	DefaultLogFormat    = "text"
	DefaultAccountsFile = "data/accounts.json"
)

// LoadEnv reads the environment, loading a .env file first when one exists.
func LoadEnv() Env {
	_ = godotenv.Load()

	return Env{
		LogLevel:     getEnv("LOG_LEVEL", DefaultLogLevel),
		LogFormat:    getEnv("LOG_FORMAT", DefaultLogFormat),
		DatabaseURL:  os.Getenv("DATABASE_URL"),
		AccountsFile: getEnv("ACCOUNTS_FILE", DefaultAccountsFile),
		OTLPEndpoint: os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
