package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		App:    AppConfig{Environment: "development", Name: "barcodedrop"},
		Logger: LoggerConfig{Level: "info"},
		Server: ServerConfig{Port: "8080"},
		Store: StoreConfig{
			Backend:            BackendBadger,
			DataPath:           "/some/path",
			ChangelogRetention: 24 * time.Hour,
			TrimInterval:       time.Hour,
			FeedPoll:           time.Second,
		},
		Sync: SyncConfig{
			PingInterval:       5 * time.Second,
			ResubscribeBackoff: 2 * time.Second,
			ResyncInterval:     300 * time.Second,
			InitialResyncDelay: 1500 * time.Millisecond,
			SendTimeout:        10 * time.Second,
			ShutdownTimeout:    30 * time.Second,
		},
		RateLimit: RateLimitConfig{Enabled: true, RequestsPerSecond: 20, Burst: 40},
	}
}

// clearEnv isolates Load from the developer's environment.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"ENV", "APP_NAME", "LOG_LEVEL", "LOG_FORMAT", "LOG_FILE", "SERVER_HOST", "SERVER_PORT",
		"CORS_ORIGINS", "ADVERTISE_MDNS", "STORE_BACKEND", "DATA_PATH", "CHANGELOG_RETENTION",
		"SYNC_PING_INTERVAL", "SYNC_RESYNC_INTERVAL", "SYNC_DIRECT_NOTIFY", "RATE_LIMIT_RPS",
	} {
		t.Setenv(key, "")
	}
}

func TestValidate_ValidConfig(t *testing.T) {
	assert.NoError(t, validConfig().Validate())
}

func TestValidate_AllEnvironments(t *testing.T) {
	tests := []struct {
		env   string
		valid bool
	}{
		{"development", true},
		{"staging", true},
		{"production", true},
		{"test", false},
		{"", false},
		{"DEVELOPMENT", false}, // case sensitive
	}

	for _, tt := range tests {
		t.Run(tt.env, func(t *testing.T) {
			cfg := validConfig()
			cfg.App.Environment = tt.env

			err := cfg.Validate()
			if tt.valid {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestValidate_AllLogLevels(t *testing.T) {
	tests := []struct {
		level string
		valid bool
	}{
		{"debug", true},
		{"info", true},
		{"warn", true},
		{"error", true},
		{"DEBUG", true},  // case insensitive
		{"trace", false}, // not supported
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			cfg := validConfig()
			cfg.Logger.Level = tt.level

			err := cfg.Validate()
			if tt.valid {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestValidate_Rejects(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"log format", func(c *Config) { c.Logger.Format = "xml" }, "invalid log format"},
		{"non numeric port", func(c *Config) { c.Server.Port = "http" }, "invalid port"},
		{"port out of range", func(c *Config) { c.Server.Port = "70000" }, "invalid port"},
		{"unknown backend", func(c *Config) { c.Store.Backend = "mongo" }, "unknown store backend"},
		{"empty data path", func(c *Config) { c.Store.DataPath = "" }, "data path cannot be empty"},
		{"zero ping interval", func(c *Config) { c.Sync.PingInterval = 0 }, "ping interval must be positive"},
		{"negative backoff", func(c *Config) { c.Sync.ResubscribeBackoff = -time.Second }, "resubscribe backoff must be positive"},
		{"zero resync interval", func(c *Config) { c.Sync.ResyncInterval = 0 }, "resync interval must be positive"},
		{"zero retention", func(c *Config) { c.Store.ChangelogRetention = 0 }, "changelog retention must be positive"},
		{"rate limit without burst", func(c *Config) { c.RateLimit.Burst = 0 }, "rate limit"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidate_DisabledRateLimitIgnoresValues(t *testing.T) {
	cfg := validConfig()
	cfg.RateLimit = RateLimitConfig{Enabled: false}
	assert.NoError(t, cfg.Validate())
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)
	dataDir := t.TempDir()
	t.Setenv("DATA_PATH", dataDir)

	cfg, err := Load([]string{"-env-file", filepath.Join(t.TempDir(), "missing.env")})
	require.NoError(t, err)

	assert.Equal(t, "development", cfg.App.Environment)
	assert.Equal(t, "barcodedrop", cfg.App.Name)
	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, ":8080", cfg.Server.Addr())
	assert.Equal(t, []string{"*"}, cfg.Server.CORSOrigins)
	assert.True(t, cfg.Server.AdvertiseMDNS)
	assert.Equal(t, BackendBadger, cfg.Store.Backend)
	assert.Equal(t, filepath.Join(dataDir, "badger"), cfg.Store.BackendPath())
	assert.Equal(t, filepath.Join(dataDir, "search.bleve"), cfg.Store.SearchIndexPath())

	assert.Equal(t, 5*time.Second, cfg.Sync.PingInterval)
	assert.Equal(t, 2*time.Second, cfg.Sync.ResubscribeBackoff)
	assert.Equal(t, 300*time.Second, cfg.Sync.ResyncInterval)
	assert.Equal(t, 1500*time.Millisecond, cfg.Sync.InitialResyncDelay)
	assert.Equal(t, 10*time.Second, cfg.Sync.SendTimeout)
	assert.Equal(t, 30*time.Second, cfg.Sync.ShutdownTimeout)
	assert.False(t, cfg.Sync.DirectNotify)
	assert.Equal(t, 24*time.Hour, cfg.Store.ChangelogRetention)
}

func TestLoad_FlagBeatsEnvBeatsEnvFile(t *testing.T) {
	clearEnv(t)
	t.Setenv("DATA_PATH", t.TempDir())
	t.Setenv("SERVER_PORT", "9090")

	envFile := filepath.Join(t.TempDir(), ".env")
	content := "SERVER_PORT=7070\nSTORE_BACKEND=sqlite\nSYNC_DIRECT_NOTIFY=true\n"
	require.NoError(t, os.WriteFile(envFile, []byte(content), 0o644))

	cfg, err := Load([]string{"-env-file", envFile, "-resync-interval", "1m"})
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Server.Port, "environment beats .env")
	assert.Equal(t, BackendSQLite, cfg.Store.Backend, ".env beats default")
	assert.True(t, cfg.Sync.DirectNotify)
	assert.Equal(t, time.Minute, cfg.Sync.ResyncInterval, "flag beats default")
	assert.Equal(t, filepath.Join(cfg.Store.DataPath, "scans.db"), cfg.Store.BackendPath())

	cfg, err = Load([]string{"-env-file", envFile, "-port", "6060"})
	require.NoError(t, err)
	assert.Equal(t, "6060", cfg.Server.Port, "flag beats environment")
}

func TestLoad_InvalidDuration(t *testing.T) {
	clearEnv(t)
	t.Setenv("DATA_PATH", t.TempDir())
	t.Setenv("SYNC_PING_INTERVAL", "often")

	_, err := Load([]string{"-env-file", filepath.Join(t.TempDir(), "missing.env")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SYNC_PING_INTERVAL")
}

func TestLoad_CORSOriginsList(t *testing.T) {
	clearEnv(t)
	t.Setenv("DATA_PATH", t.TempDir())

	cfg, err := Load([]string{
		"-env-file", filepath.Join(t.TempDir(), "missing.env"),
		"-cors-origins", "http://localhost:3000, https://scan.example.com ,",
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"http://localhost:3000", "https://scan.example.com"}, cfg.Server.CORSOrigins)
}

func TestExpandDataPath(t *testing.T) {
	homeDir, err := os.UserHomeDir()
	require.NoError(t, err)

	tests := []struct {
		in   string
		want string
	}{
		{"", filepath.Join(homeDir, "barcodedrop", "data")},
		{"~/scans", filepath.Join(homeDir, "scans")},
		{"/absolute/path/to/data", "/absolute/path/to/data"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			cfg := &Config{Store: StoreConfig{DataPath: tt.in}}
			require.NoError(t, cfg.expandDataPath())
			assert.Equal(t, tt.want, cfg.Store.DataPath)
		})
	}

	cfg := &Config{Store: StoreConfig{DataPath: "relative/path"}}
	require.NoError(t, cfg.expandDataPath())
	assert.True(t, filepath.IsAbs(cfg.Store.DataPath))
}

func TestGetConfigValue_Precedence(t *testing.T) {
	assert.Equal(t, "flag-value", getConfigValue("flag-value", "ENV_KEY", "default-value"))

	t.Setenv("TEST_ENV_KEY", "env-value")
	assert.Equal(t, "env-value", getConfigValue("", "TEST_ENV_KEY", "default-value"))
	assert.Equal(t, "default-value", getConfigValue("", "NONEXISTENT_KEY", "default-value"))
}

func TestTypedConfigValues(t *testing.T) {
	t.Setenv("TEST_BOOL", "YES")
	t.Setenv("TEST_INT", "12")
	t.Setenv("TEST_BAD_INT", "twelve")
	t.Setenv("TEST_FLOAT", "2.5")

	assert.True(t, getBoolConfigValue("", "TEST_BOOL", false))
	assert.False(t, getBoolConfigValue("off", "TEST_BOOL", true))
	assert.Equal(t, 12, getIntConfigValue("", "TEST_INT", 1))
	assert.Equal(t, 1, getIntConfigValue("", "TEST_BAD_INT", 1))
	assert.InDelta(t, 2.5, getFloatConfigValue("", "TEST_FLOAT", 1), 0.001)
}

func TestLoadEnvFile_ValidFile(t *testing.T) {
	envFile := filepath.Join(t.TempDir(), ".env")
	content := `# Test env file
BD_TEST_ENV=staging
# Comment line
BD_TEST_QUOTED="some value"
BD_TEST_SINGLE='another value'

  BD_TEST_SPACES  =  value with spaces
`
	require.NoError(t, os.WriteFile(envFile, []byte(content), 0o644))

	for _, key := range []string{"BD_TEST_ENV", "BD_TEST_QUOTED", "BD_TEST_SINGLE", "BD_TEST_SPACES"} {
		t.Setenv(key, "")
	}

	require.NoError(t, loadEnvFile(envFile))

	assert.Equal(t, "staging", os.Getenv("BD_TEST_ENV"))
	assert.Equal(t, "some value", os.Getenv("BD_TEST_QUOTED"))
	assert.Equal(t, "another value", os.Getenv("BD_TEST_SINGLE"))
	assert.Equal(t, "value with spaces", os.Getenv("BD_TEST_SPACES"))
}

func TestLoadEnvFile_InvalidFormat(t *testing.T) {
	envFile := filepath.Join(t.TempDir(), ".env")
	content := "VALID_KEY=valid_value\nINVALID LINE WITHOUT EQUALS\n"
	require.NoError(t, os.WriteFile(envFile, []byte(content), 0o644))

	err := loadEnvFile(envFile)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid format")
}

func TestLoadEnvFile_NonExistentFile(t *testing.T) {
	assert.Error(t, loadEnvFile("/nonexistent/file/.env"))
}

func TestLoadEnvFile_ExistingEnvVarsNotOverwritten(t *testing.T) {
	t.Setenv("BD_TEST_VAR", "original-value")

	envFile := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(envFile, []byte(`BD_TEST_VAR=new-value`), 0o644))

	require.NoError(t, loadEnvFile(envFile))
	assert.Equal(t, "original-value", os.Getenv("BD_TEST_VAR"))
}
