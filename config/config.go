// Package config provides environment-based configuration for the Aspen
// policy engine server.
//
// Configuration is loaded from environment variables using Viper, with
// sensible defaults for development. An optional config file (ASPEN_CONFIG)
// supplies values that are awkward to express in the environment, most
// importantly the global policy variables map.
//
// # Environment Variables
//
//   - POLICIES_PATH: Directory of *.aspen policy documents. Default: ./policies
//   - COMBINING_ALGORITHM: Top-level combining algorithm. Default: deny-overrides
//   - EVAL_TIMEOUT: Per-evaluation deadline. Default: 10s
//   - LOG_LEVEL: Logging level (debug, info, warn, error). Default: info
//   - PORT: HTTP server port. Default: 8080
//   - AUDIT_ENABLED: Persist a decision audit trail. Default: false
//   - DB_TYPE: Audit database type (sqlite, postgres, mysql). Default: sqlite
//   - DSN: Audit database connection string. Default: aspen.db
//   - OTLP_ENDPOINT: OTLP trace exporter endpoint. Empty disables export.
//   - ASPEN_CONFIG: Path to an optional YAML/JSON config file.
//
// # Policy Variables
//
// Global constants injected into every evaluation are read from the
// "variables" map of the config file:
//
//	variables:
//	  maximumAgeRating: 18
//
// # Example Usage
//
//	cfg, err := config.LoadConfig()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Printf("Serving policies from %s on port %d\n", cfg.PoliciesPath, cfg.Port)
package config

import (
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	PoliciesPath       string         `mapstructure:"POLICIES_PATH"`
	CombiningAlgorithm string         `mapstructure:"COMBINING_ALGORITHM"`
	EvalTimeout        time.Duration  `mapstructure:"EVAL_TIMEOUT"`
	LogLevel           string         `mapstructure:"LOG_LEVEL"`
	Port               int            `mapstructure:"PORT"`
	AuditEnabled       bool           `mapstructure:"AUDIT_ENABLED"`
	DBType             string         `mapstructure:"DB_TYPE"` // sqlite, postgres, mysql
	DSN                string         `mapstructure:"DSN"`
	OTLPEndpoint       string         `mapstructure:"OTLP_ENDPOINT"`
	Variables          map[string]any `mapstructure:"variables"`
}

func LoadConfig() (*Config, error) {
	viper.Reset()
	viper.SetDefault("POLICIES_PATH", "./policies")
	viper.SetDefault("COMBINING_ALGORITHM", "deny-overrides")
	viper.SetDefault("EVAL_TIMEOUT", "10s")
	viper.SetDefault("LOG_LEVEL", "info")
	viper.SetDefault("PORT", 8080)
	viper.SetDefault("AUDIT_ENABLED", false)
	viper.SetDefault("DB_TYPE", "sqlite")
	viper.SetDefault("DSN", "aspen.db") // Default to sqlite if not provided
	viper.SetDefault("OTLP_ENDPOINT", "")

	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if path := os.Getenv("ASPEN_CONFIG"); path != "" {
		viper.SetConfigFile(path)
		if err := viper.ReadInConfig(); err != nil {
			return nil, err
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}
