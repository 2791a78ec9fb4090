// Package config provides application configuration management with support for environment variables, command-line flags, and .env files.
package config

import (
	"bufio"
	"errors"
	"flag"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Version is the server version, overridden at build time with
// -ldflags "-X github.com/barcodedrop/barcodedrop-server/internal/config.Version=...".
var Version = "0.6.0"

// Store backends.
const (
	BackendBadger = "badger"
	BackendSQLite = "sqlite"
)

// Config holds the application configuration.
type Config struct {
	App       AppConfig
	Logger    LoggerConfig
	Server    ServerConfig
	Store     StoreConfig
	Sync      SyncConfig
	RateLimit RateLimitConfig
}

// AppConfig holds application-level configuration.
type AppConfig struct {
	Environment string
	Name        string
}

// LoggerConfig holds logging configuration.
type LoggerConfig struct {
	Level  string
	Format string // pretty, text or json; empty picks by environment

	// File enables rotated file output when non-empty.
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// ServerConfig holds server configuration.
type ServerConfig struct {
	Host          string
	Port          string        // Server port (default: 8080)
	ReadTimeout   time.Duration // HTTP read timeout (default: 15s)
	WriteTimeout  time.Duration // HTTP write timeout (default: 15s)
	IdleTimeout   time.Duration // HTTP idle timeout (default: 60s)
	CORSOrigins   []string      // Allowed origins for browsers and WebSocket upgrades
	AdvertiseMDNS bool          // Advertise via mDNS/Zeroconf (default: true)
}

// Addr returns host:port for the listener.
func (s ServerConfig) Addr() string {
	return net.JoinHostPort(s.Host, s.Port)
}

// StoreConfig holds scan storage configuration.
type StoreConfig struct {
	Backend  string // badger or sqlite
	DataPath string

	// ChangelogRetention is how long change feed entries are kept.
	ChangelogRetention time.Duration
	TrimInterval       time.Duration
	// FeedPoll is the fallback re-read interval of change streams.
	FeedPoll time.Duration
}

// SearchIndexPath is where the bleve index lives.
func (s StoreConfig) SearchIndexPath() string {
	return filepath.Join(s.DataPath, "search.bleve")
}

// BackendPath is the badger directory or sqlite file.
func (s StoreConfig) BackendPath() string {
	if s.Backend == BackendSQLite {
		return filepath.Join(s.DataPath, "scans.db")
	}
	return filepath.Join(s.DataPath, "badger")
}

// SyncConfig tunes the live sync layer.
type SyncConfig struct {
	PingInterval       time.Duration // default 5s
	ResubscribeBackoff time.Duration // default 2s
	ResyncInterval     time.Duration // default 300s
	InitialResyncDelay time.Duration // default 1.5s
	SendTimeout        time.Duration // default 10s
	ShutdownTimeout    time.Duration // default 30s
	// DirectNotify pushes mutations from the HTTP handlers as well as the feed.
	DirectNotify bool
}

// RateLimitConfig limits mutating requests per client IP.
type RateLimitConfig struct {
	Enabled           bool
	RequestsPerSecond float64
	Burst             int
}

// LoadConfig loads configuration from the process arguments.
func LoadConfig() (*Config, error) {
	return Load(os.Args[1:])
}

// Load resolves configuration with precedence:
// 1. Command-line flags (highest priority).
// 2. Environment variables.
// 3. .env file.
// 4. Default values (lowest priority).
func Load(args []string) (*Config, error) {
	fs := flag.NewFlagSet("barcodedrop", flag.ContinueOnError)

	env := fs.String("env", "", "Environment (development, staging, production)")
	appName := fs.String("name", "", "Service name advertised on the LAN")
	logLevel := fs.String("log-level", "", "Log level (debug, info, warn, error)")
	logFormat := fs.String("log-format", "", "Log format (pretty, text, json)")
	logFile := fs.String("log-file", "", "Write logs to this file as well, with rotation")

	host := fs.String("host", "", "Listen host (default: all interfaces)")
	port := fs.String("port", "", "Server port (default: 8080)")
	readTimeout := fs.String("read-timeout", "", "HTTP read timeout (default: 15s)")
	writeTimeout := fs.String("write-timeout", "", "HTTP write timeout (default: 15s)")
	idleTimeout := fs.String("idle-timeout", "", "HTTP idle timeout (default: 60s)")
	corsOrigins := fs.String("cors-origins", "", "Comma separated allowed origins (default: *)")
	advertiseMDNS := fs.String("advertise-mdns", "", "Advertise via mDNS/Zeroconf (default: true)")

	backend := fs.String("store", "", "Store backend: badger or sqlite (default: badger)")
	dataPath := fs.String("data-path", "", "Directory for scan data")
	retention := fs.String("changelog-retention", "", "How long change feed entries are kept (default: 24h)")

	resyncInterval := fs.String("resync-interval", "", "Full resync interval (default: 300s)")
	directNotify := fs.String("direct-notify", "", "Push mutations straight from handlers (default: false)")

	envFile := fs.String("env-file", ".env", "Path to .env file")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	// Load .env file if it exists (silently ignore if not found).
	_ = loadEnvFile(*envFile)

	cfg := &Config{
		App: AppConfig{
			Environment: getConfigValue(*env, "ENV", "development"),
			Name:        getConfigValue(*appName, "APP_NAME", "barcodedrop"),
		},
		Logger: LoggerConfig{
			Level:      getConfigValue(*logLevel, "LOG_LEVEL", "info"),
			Format:     getConfigValue(*logFormat, "LOG_FORMAT", ""),
			File:       getConfigValue(*logFile, "LOG_FILE", ""),
			MaxSizeMB:  getIntConfigValue("", "LOG_MAX_SIZE_MB", 50),
			MaxBackups: getIntConfigValue("", "LOG_MAX_BACKUPS", 3),
			MaxAgeDays: getIntConfigValue("", "LOG_MAX_AGE_DAYS", 28),
		},
		Server: ServerConfig{
			Host:          getConfigValue(*host, "SERVER_HOST", ""),
			Port:          getConfigValue(*port, "SERVER_PORT", "8080"),
			CORSOrigins:   splitList(getConfigValue(*corsOrigins, "CORS_ORIGINS", "*")),
			AdvertiseMDNS: getBoolConfigValue(*advertiseMDNS, "ADVERTISE_MDNS", true),
		},
		Store: StoreConfig{
			Backend:  strings.ToLower(getConfigValue(*backend, "STORE_BACKEND", BackendBadger)),
			DataPath: getConfigValue(*dataPath, "DATA_PATH", ""),
		},
		Sync: SyncConfig{
			DirectNotify: getBoolConfigValue(*directNotify, "SYNC_DIRECT_NOTIFY", false),
		},
		RateLimit: RateLimitConfig{
			Enabled:           getBoolConfigValue("", "RATE_LIMIT_ENABLED", true),
			RequestsPerSecond: getFloatConfigValue("", "RATE_LIMIT_RPS", 20),
			Burst:             getIntConfigValue("", "RATE_LIMIT_BURST", 40),
		},
	}

	durations := []struct {
		dst      *time.Duration
		flag     string
		envKey   string
		fallback string
	}{
		{&cfg.Server.ReadTimeout, *readTimeout, "SERVER_READ_TIMEOUT", "15s"},
		{&cfg.Server.WriteTimeout, *writeTimeout, "SERVER_WRITE_TIMEOUT", "15s"},
		{&cfg.Server.IdleTimeout, *idleTimeout, "SERVER_IDLE_TIMEOUT", "60s"},
		{&cfg.Store.ChangelogRetention, *retention, "CHANGELOG_RETENTION", "24h"},
		{&cfg.Store.TrimInterval, "", "CHANGELOG_TRIM_INTERVAL", "1h"},
		{&cfg.Store.FeedPoll, "", "STORE_FEED_POLL", "1s"},
		{&cfg.Sync.PingInterval, "", "SYNC_PING_INTERVAL", "5s"},
		{&cfg.Sync.ResubscribeBackoff, "", "SYNC_RESUBSCRIBE_BACKOFF", "2s"},
		{&cfg.Sync.ResyncInterval, *resyncInterval, "SYNC_RESYNC_INTERVAL", "300s"},
		{&cfg.Sync.InitialResyncDelay, "", "SYNC_INITIAL_RESYNC_DELAY", "1.5s"},
		{&cfg.Sync.SendTimeout, "", "SYNC_SEND_TIMEOUT", "10s"},
		{&cfg.Sync.ShutdownTimeout, "", "SYNC_SHUTDOWN_TIMEOUT", "30s"},
	}
	for _, d := range durations {
		raw := getConfigValue(d.flag, d.envKey, d.fallback)
		parsed, err := time.ParseDuration(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid %s %q: %w", d.envKey, raw, err)
		}
		*d.dst = parsed
	}

	if err := cfg.expandDataPath(); err != nil {
		return nil, fmt.Errorf("invalid data path: %w", err)
	}
	if cfg.Logger.File != "" {
		expanded, err := expandPath(cfg.Logger.File, "")
		if err != nil {
			return nil, fmt.Errorf("invalid log file: %w", err)
		}
		cfg.Logger.File = expanded
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required config values are present and valid.
func (c *Config) Validate() error {
	if c.App.Environment == "" {
		return errors.New("ENV is required")
	}

	validEnvs := map[string]bool{
		"development": true,
		"staging":     true,
		"production":  true,
	}
	if !validEnvs[c.App.Environment] {
		return fmt.Errorf("invalid environment: %s (must be development, staging, or production)", c.App.Environment)
	}

	validLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLevels[strings.ToLower(c.Logger.Level)] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.Logger.Level)
	}

	switch c.Logger.Format {
	case "", "pretty", "text", "json":
	default:
		return fmt.Errorf("invalid log format: %s (must be pretty, text, or json)", c.Logger.Format)
	}

	port, err := strconv.Atoi(c.Server.Port)
	if err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("invalid port: %q", c.Server.Port)
	}

	switch c.Store.Backend {
	case BackendBadger, BackendSQLite:
	default:
		return fmt.Errorf("unknown store backend: %q (must be badger or sqlite)", c.Store.Backend)
	}

	if c.Store.DataPath == "" {
		return errors.New("data path cannot be empty after expansion")
	}

	positive := map[string]time.Duration{
		"changelog retention":     c.Store.ChangelogRetention,
		"changelog trim interval": c.Store.TrimInterval,
		"feed poll interval":      c.Store.FeedPoll,
		"ping interval":           c.Sync.PingInterval,
		"resubscribe backoff":     c.Sync.ResubscribeBackoff,
		"resync interval":         c.Sync.ResyncInterval,
		"initial resync delay":    c.Sync.InitialResyncDelay,
		"send timeout":            c.Sync.SendTimeout,
		"shutdown timeout":        c.Sync.ShutdownTimeout,
	}
	for name, d := range positive {
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", name, d)
		}
	}

	if c.RateLimit.Enabled && (c.RateLimit.RequestsPerSecond <= 0 || c.RateLimit.Burst <= 0) {
		return errors.New("rate limit needs positive requests per second and burst")
	}

	return nil
}

// expandPath expands ~ and makes the path absolute.
// If path is empty and defaultPath is provided, uses the default.
func expandPath(path, defaultPath string) (string, error) {
	if path == "" {
		return defaultPath, nil
	}

	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		path = filepath.Join(homeDir, path[2:])
	}

	if !filepath.IsAbs(path) {
		absPath, err := filepath.Abs(path)
		if err != nil {
			return "", fmt.Errorf("failed to get absolute path: %w", err)
		}
		path = absPath
	}

	return filepath.Clean(path), nil
}

// expandDataPath defaults to ~/barcodedrop/data.
func (c *Config) expandDataPath() error {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("failed to get home directory: %w", err)
	}
	defaultPath := filepath.Join(homeDir, "barcodedrop", "data")

	expanded, err := expandPath(c.Store.DataPath, defaultPath)
	if err != nil {
		return err
	}
	c.Store.DataPath = expanded
	return nil
}

// getConfigValue returns the first non-empty value from flag, env var, or default.
func getConfigValue(flagValue, envKey, defaultValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if envValue := os.Getenv(envKey); envValue != "" {
		return envValue
	}
	return defaultValue
}

// getBoolConfigValue returns a bool from flag, env var, or default.
// Accepts: "true", "1", "yes" (case-insensitive) as true; anything else is false.
func getBoolConfigValue(flagValue, envKey string, defaultValue bool) bool {
	strValue := getConfigValue(flagValue, envKey, "")
	if strValue == "" {
		return defaultValue
	}
	strValue = strings.ToLower(strValue)
	return strValue == "true" || strValue == "1" || strValue == "yes"
}

// getIntConfigValue returns an int from flag, env var, or default.
func getIntConfigValue(flagValue, envKey string, defaultValue int) int {
	strValue := getConfigValue(flagValue, envKey, "")
	if strValue == "" {
		return defaultValue
	}
	result, err := strconv.Atoi(strValue)
	if err != nil {
		return defaultValue
	}
	return result
}

func getFloatConfigValue(flagValue, envKey string, defaultValue float64) float64 {
	strValue := getConfigValue(flagValue, envKey, "")
	if strValue == "" {
		return defaultValue
	}
	result, err := strconv.ParseFloat(strValue, 64)
	if err != nil {
		return defaultValue
	}
	return result
}

func splitList(s string) []string {
	var out []string
	for part := range strings.SplitSeq(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// loadEnvFile loads environment variables from a .env file.
// Format: KEY=value (one per line, # for comments).
func loadEnvFile(path string) error {
	file, err := os.Open(path) //#nosec G304 -- Config file path from user input is expected
	if err != nil {
		return err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())

		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		key, value, ok := strings.Cut(line, "=")
		if !ok {
			return fmt.Errorf("invalid format at line %d: %s", lineNum, line)
		}

		key = strings.TrimSpace(key)
		value = strings.Trim(strings.TrimSpace(value), `"'`)

		// Real environment variables win over the file.
		if os.Getenv(key) == "" {
			if err := os.Setenv(key, value); err != nil {
				return fmt.Errorf("failed to set env var %s: %w", key, err)
			}
		}
	}

	return scanner.Err()
}
