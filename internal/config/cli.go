package config

import (
	"flag"
	"fmt"
)

// CLIFlags holds command-line overrides. Nil fields were not given.
type CLIFlags struct {
	ConfigPath *string
	Port       *string
	LogLevel   *string
	DSN        *string
	NatsURL    *string
}

// ParseFlags parses serve flags. Only flags present on the command line are
// set in the result.
func ParseFlags(args []string) (CLIFlags, error) {
	fs := flag.NewFlagSet("eligibility", flag.ContinueOnError)
	var (
		configPath, port, logLevel, dsn, natsURL string
	)
	fs.StringVar(&configPath, "config", "", "path to YAML config")
	fs.StringVar(&configPath, "c", "", "path to YAML config (shorthand)")
	fs.StringVar(&port, "port", "", "HTTP port")
	fs.StringVar(&port, "p", "", "HTTP port (shorthand)")
	fs.StringVar(&logLevel, "log-level", "", "log level (debug|info|warn|error)")
	fs.StringVar(&dsn, "dsn", "", "PostgreSQL DSN")
	fs.StringVar(&natsURL, "nats-url", "", "NATS URL")

	if err := fs.Parse(args); err != nil {
		return CLIFlags{}, fmt.Errorf("parse flags: %w", err)
	}

	var out CLIFlags
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "config", "c":
			out.ConfigPath = &configPath
		case "port", "p":
			out.Port = &port
		case "log-level":
			out.LogLevel = &logLevel
		case "dsn":
			out.DSN = &dsn
		case "nats-url":
			out.NatsURL = &natsURL
		}
	})
	return out, nil
}

// applyCLI overlays non-nil flags onto cfg.
func applyCLI(cfg *Config, f CLIFlags) {
	if f.Port != nil {
		cfg.Server.Port = *f.Port
	}
	if f.LogLevel != nil {
		cfg.Logging.Level = *f.LogLevel
	}
	if f.DSN != nil {
		cfg.Postgres.DSN = *f.DSN
	}
	if f.NatsURL != nil {
		cfg.NATS.URL = *f.NatsURL
	}
}

// LoadWithCLI loads configuration with the hierarchy
// defaults < YAML < ENV < CLI and returns the YAML path that was used.
func LoadWithCLI(f CLIFlags) (*Config, string, error) {
	path := DefaultConfigFile
	if p := lookupEnv("CONFIG"); p != "" {
		path = p
	}
	if f.ConfigPath != nil {
		path = *f.ConfigPath
	}

	cfg, err := LoadFrom(path)
	if err != nil {
		return nil, "", err
	}
	applyCLI(cfg, f)
	if err := validate(cfg); err != nil {
		return nil, "", fmt.Errorf("config validate: %w", err)
	}
	return cfg, path, nil
}
