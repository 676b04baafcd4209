// Package config loads telephonyd runtime configuration from flags and
// TELEPHONY_* environment variables.
package config

import (
	"encoding/hex"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Config holds all runtime configuration for the telephony daemon.
// Precedence: CLI flags > env vars > defaults.
type Config struct {
	DataDir  string
	HTTPPort int

	LogLevel      string
	LogFormat     string // "text" or "json"
	LogFile       string // rotated log file; empty logs to stderr only
	LogMaxSizeMB  int
	LogMaxBackups int
	LogMaxAgeDays int

	DatabaseURL string // PostgreSQL DSN; empty uses SQLite in DataDir
	PhonesFile  string // YAML inventory of simulated voice stacks

	JWTSecret        string // hex-encoded 32-byte HS256 secret; empty disables API auth
	OperatorUsername string // operator created on first start when none exist
	OperatorPassword string
	APIRate          float64
	APIBurst         int

	RadioOnTimeout time.Duration
	RadioOnRetries int

	ComponentName string // component whose accounts the service accepts
}

// defaults
const (
	defaultDataDir        = "./data"
	defaultHTTPPort       = 8080
	defaultLogLevel       = "info"
	defaultLogFormat      = "text"
	defaultLogMaxSizeMB   = 50
	defaultLogMaxBackups  = 5
	defaultLogMaxAgeDays  = 28
	defaultAPIRate        = 20
	defaultAPIBurst       = 40
	defaultRadioOnTimeout = 5 * time.Second
	defaultRadioOnRetries = 6
	defaultComponentName  = "telephony"
)

// envPrefix is the prefix for all environment variables. A flag maps to
// the prefix plus its name upper-cased with dashes as underscores.
const envPrefix = "TELEPHONY_"

// Load parses configuration from the process arguments and environment.
func Load() (*Config, error) {
	return LoadArgs(os.Args[1:])
}

// LoadArgs parses configuration from args and the environment.
func LoadArgs(args []string) (*Config, error) {
	cfg := &Config{}

	fs := flag.NewFlagSet("telephonyd", flag.ContinueOnError)

	fs.StringVar(&cfg.DataDir, "data-dir", defaultDataDir, "data directory for the SQLite database")
	fs.IntVar(&cfg.HTTPPort, "http-port", defaultHTTPPort, "HTTP control API listen port")
	fs.StringVar(&cfg.LogLevel, "log-level", defaultLogLevel, "log level (debug, info, warn, error)")
	fs.StringVar(&cfg.LogFormat, "log-format", defaultLogFormat, "log output format (text, json)")
	fs.StringVar(&cfg.LogFile, "log-file", "", "also write logs to this file, rotated by size")
	fs.IntVar(&cfg.LogMaxSizeMB, "log-max-size-mb", defaultLogMaxSizeMB, "rotate the log file after this many megabytes")
	fs.IntVar(&cfg.LogMaxBackups, "log-max-backups", defaultLogMaxBackups, "number of rotated log files to keep")
	fs.IntVar(&cfg.LogMaxAgeDays, "log-max-age-days", defaultLogMaxAgeDays, "days to keep rotated log files")
	fs.StringVar(&cfg.DatabaseURL, "database-url", "", "PostgreSQL connection string (SQLite in data-dir if empty)")
	fs.StringVar(&cfg.PhonesFile, "phones-file", "", "YAML inventory of simulated voice stacks (one GSM slot if empty)")
	fs.StringVar(&cfg.JWTSecret, "jwt-secret", "", "hex-encoded 32-byte secret for API tokens (auth disabled if empty)")
	fs.StringVar(&cfg.OperatorUsername, "operator-username", "", "operator account created on first start")
	fs.StringVar(&cfg.OperatorPassword, "operator-password", "", "password for operator-username")
	fs.Float64Var(&cfg.APIRate, "api-rate", defaultAPIRate, "API requests per second allowed per client IP")
	fs.IntVar(&cfg.APIBurst, "api-burst", defaultAPIBurst, "API request burst allowed per client IP")
	fs.DurationVar(&cfg.RadioOnTimeout, "radio-on-timeout", defaultRadioOnTimeout, "wait per radio power-on attempt for emergency calls")
	fs.IntVar(&cfg.RadioOnRetries, "radio-on-retries", defaultRadioOnRetries, "radio power-on retries for emergency calls")
	fs.StringVar(&cfg.ComponentName, "component-name", defaultComponentName, "component name of accounts this service handles")

	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("parsing flags: %w", err)
	}

	if err := applyEnvOverrides(fs); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// EnvName returns the environment variable for a flag name.
func EnvName(flagName string) string {
	return envPrefix + strings.ToUpper(strings.ReplaceAll(flagName, "-", "_"))
}

// applyEnvOverrides sets every flag not given on the command line from its
// environment variable, if present and non-empty.
func applyEnvOverrides(fs *flag.FlagSet) error {
	set := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) {
		set[f.Name] = true
	})

	var err error
	fs.VisitAll(func(f *flag.Flag) {
		if err != nil || set[f.Name] {
			return
		}
		val, ok := os.LookupEnv(EnvName(f.Name))
		if !ok || val == "" {
			return
		}
		if serr := fs.Set(f.Name, val); serr != nil {
			err = fmt.Errorf("invalid value %q for %s: %w", val, EnvName(f.Name), serr)
		}
	})
	return err
}

// validate checks that the config values are sane.
func (c *Config) validate() error {
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("http-port must be between 1 and 65535, got %d", c.HTTPPort)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.LogLevel)] {
		return fmt.Errorf("log-level must be one of debug, info, warn, error; got %q", c.LogLevel)
	}
	c.LogLevel = strings.ToLower(c.LogLevel)

	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[strings.ToLower(c.LogFormat)] {
		return fmt.Errorf("log-format must be one of text, json; got %q", c.LogFormat)
	}
	c.LogFormat = strings.ToLower(c.LogFormat)

	if c.LogFile != "" && (c.LogMaxSizeMB < 1 || c.LogMaxBackups < 0 || c.LogMaxAgeDays < 0) {
		return fmt.Errorf("log rotation needs log-max-size-mb >= 1 and non-negative backups and age")
	}

	if c.APIRate <= 0 || c.APIBurst < 1 {
		return fmt.Errorf("api-rate must be positive and api-burst at least 1")
	}

	if c.RadioOnTimeout <= 0 {
		return fmt.Errorf("radio-on-timeout must be positive, got %s", c.RadioOnTimeout)
	}
	if c.RadioOnRetries < 0 {
		return fmt.Errorf("radio-on-retries must not be negative, got %d", c.RadioOnRetries)
	}

	if strings.TrimSpace(c.ComponentName) == "" {
		return fmt.Errorf("component-name must not be empty")
	}

	if (c.OperatorUsername == "") != (c.OperatorPassword == "") {
		return fmt.Errorf("operator-username and operator-password must both be provided or both be omitted")
	}

	if _, err := c.JWTSecretBytes(); err != nil {
		return err
	}

	return nil
}

// JWTSecretBytes returns the decoded 32-byte token secret, or nil when API
// authentication is disabled.
func (c *Config) JWTSecretBytes() ([]byte, error) {
	if c.JWTSecret == "" {
		return nil, nil
	}
	key, err := hex.DecodeString(c.JWTSecret)
	if err != nil {
		return nil, fmt.Errorf("decoding jwt secret: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("jwt secret must decode to 32 bytes, got %d", len(key))
	}
	return key, nil
}

// LogWriter returns the log destination: stderr, plus a size-rotated file
// when LogFile is set. The returned closer releases the file.
func (c *Config) LogWriter() (io.Writer, io.Closer) {
	if c.LogFile == "" {
		return os.Stderr, io.NopCloser(nil)
	}
	file := &lumberjack.Logger{
		Filename:   filepath.Clean(c.LogFile),
		MaxSize:    c.LogMaxSizeMB,
		MaxBackups: c.LogMaxBackups,
		MaxAge:     c.LogMaxAgeDays,
		Compress:   true,
	}
	return io.MultiWriter(os.Stderr, file), file
}

// SlogHandler returns a slog.Handler configured with the appropriate format
// (text or json) and log level.
func (c *Config) SlogHandler(w io.Writer) slog.Handler {
	opts := &slog.HandlerOptions{Level: c.SlogLevel()}
	if c.LogFormat == "json" {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

// SlogLevel returns the slog.Level corresponding to the configured log level.
func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
