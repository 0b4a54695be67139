package main

import (
	"errors"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"github.com/nkiryanov/blogpress/internal/logger"
	"github.com/nkiryanov/blogpress/internal/service/apiclient"
)

// Storage backends for persisted session
const (
	StorageMemory   = "memory"
	StorageSQLite   = "sqlite"
	StorageRedis    = "redis"
	StoragePostgres = "postgres"
)

const (
	defaultLoggingLevel = logger.LevelWarn
	defaultEnvironment  = logger.EnvProduction
	defaultStorage      = StorageSQLite
	defaultStorageDSN   = "blogctl.db"
)

type Config struct {
	// Default logging level
	LogLevel string

	// Environment
	Environment string

	// Blog API base URL
	APIURL string

	// Where session is persisted between runs and its connection string
	// DSN is a file path for sqlite and URL for redis and postgres
	Storage    string
	StorageDSN string

	// Hex encoded secret key
	// If set, stored session values are encrypted with key derived from it
	SecretKey string

	// Address to expose metrics on in agent mode. Metrics are not served if empty
	MetricsAddr string

	// Command with its arguments, what's left after global flags
	Command []string
}

func NewConfig() *Config {
	return &Config{
		LogLevel:    defaultLoggingLevel,
		Environment: defaultEnvironment,
		APIURL:      apiclient.DefaultBaseURL,
		Storage:     defaultStorage,
		StorageDSN:  defaultStorageDSN,
	}
}

// Load variable from '.env' file (should be located at working directory)
func (c *Config) LoadDotEnv(getwd func() (string, error)) error {
	wd, err := getwd()
	if err != nil {
		return err
	}

	envMap, err := godotenv.Read(filepath.Join(wd, ".env"))

	switch {
	case err == nil:
		c.LoadEnv(func(key string) string {
			return envMap[key]
		})
		return nil
	case errors.Is(err, os.ErrNotExist):
		return nil
	default:
		return err
	}
}

func (c *Config) LoadEnv(getenv func(string) string) {
	// Set option to value if it not empty
	setString := func(o *string) func(value string) {
		return func(value string) {
			if value != "" {
				*o = value
			}
		}
	}

	envMap := map[string]func(string){
		"BLOG_API_URL": setString(&c.APIURL),
		"LOG_LEVEL":    setString(&c.LogLevel),
		"ENVIRONMENT":  setString(&c.Environment),
		"STORAGE":      setString(&c.Storage),
		"STORAGE_DSN":  setString(&c.StorageDSN),
		"SECRET_KEY":   setString(&c.SecretKey),
		"METRICS_ADDR": setString(&c.MetricsAddr),
	}

	for key, parseFn := range envMap {
		parseFn(getenv(key))
	}
}

// Parse global flags, they go before the command
func (c *Config) ParseFlags(args []string) error {
	fs := pflag.NewFlagSet("blogctl", pflag.ContinueOnError)
	fs.SetInterspersed(false)

	fs.StringVarP(&c.APIURL, "api-url", "u", c.APIURL, "Blog API base URL")
	fs.StringVarP(&c.LogLevel, "log-level", "l", c.LogLevel, "Logging level (debug, info, warn, error)")
	fs.StringVarP(&c.Environment, "environment", "e", c.Environment, "Environment (dev, prod)")
	fs.StringVarP(&c.Storage, "storage", "s", c.Storage, "Session storage (memory, sqlite, redis, postgres)")
	fs.StringVarP(&c.StorageDSN, "storage-dsn", "d", c.StorageDSN, "Session storage file path or connection URL")
	fs.StringVarP(&c.SecretKey, "secret-key", "k", c.SecretKey, "Hex secret key to encrypt stored session")
	fs.StringVarP(&c.MetricsAddr, "metrics-addr", "m", c.MetricsAddr, "Agent metrics listen address")

	if err := fs.Parse(args); err != nil {
		return err
	}

	c.Command = fs.Args()
	return nil
}
