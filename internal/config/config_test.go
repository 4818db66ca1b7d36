package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	path := writeConfig(t, `
server: mc.example.com
port: 25565
db_connection_string: /tmp/ledger.db
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "mc.example.com", cfg.Server)
	assert.Equal(t, 25565, cfg.Port)
	assert.Equal(t, "/tmp/ledger.db", cfg.DBConnectionString)
	assert.Equal(t, StorageSQLite, cfg.Storage.Type)
	assert.Equal(t, 10, cfg.Storage.Redis.PoolSize)
	assert.Equal(t, 5*time.Second, cfg.Fetch.Timeout)
	assert.Equal(t, 47, cfg.Fetch.ProtocolVersion)
	assert.Equal(t, time.Minute, cfg.Tracking.Increment)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, "127.0.0.1:9090", cfg.Metrics.ListenAddress)
	assert.False(t, cfg.ServerOptions.SRVLookup)

	loc, err := cfg.Location()
	require.NoError(t, err)
	assert.Equal(t, time.Local, loc)
}

func TestLoad_MissingRequiredKey(t *testing.T) {
	tests := map[string]string{
		"server": `
port: 25565
db_connection_string: /tmp/ledger.db
`,
		"port": `
server: mc.example.com
db_connection_string: /tmp/ledger.db
`,
		"db_connection_string": `
server: mc.example.com
port: 25565
`,
	}

	for key, body := range tests {
		t.Run(key, func(t *testing.T) {
			_, err := Load(writeConfig(t, body))
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrMissingKey), "expected ErrMissingKey, got %v", err)
			assert.Contains(t, err.Error(), key)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestLoad_EnvironmentOverride(t *testing.T) {
	path := writeConfig(t, `
server: mc.example.com
port: 25565
db_connection_string: /tmp/ledger.db
`)
	t.Setenv("MCLEDGER_PORT", "25566")
	t.Setenv("MCLEDGER_TRACKING_INCREMENT", "30s")
	t.Setenv("MCLEDGER_STORAGE_TYPE", "bolt")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 25566, cfg.Port)
	assert.Equal(t, 30*time.Second, cfg.Tracking.Increment)
	assert.Equal(t, StorageBolt, cfg.Storage.Type)
}

func TestLoad_RequiredKeyFromEnvironment(t *testing.T) {
	path := writeConfig(t, `
server: mc.example.com
port: 25565
`)
	t.Setenv("MCLEDGER_DB_CONNECTION_STRING", "/srv/ledger.db")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/srv/ledger.db", cfg.DBConnectionString)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		extra string
	}{
		{"storage type", "storage:\n  type: mongo\n"},
		{"fractional increment", "tracking:\n  increment: 1500ms\n"},
		{"timezone", "tracking:\n  timezone: Mars/Olympus\n"},
		{"log level", "logging:\n  level: loud\n"},
		{"log format", "logging:\n  format: xml\n"},
		{"map start", "reports:\n  map_start: 26/07/2024\n"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			path := writeConfig(t, "server: mc.example.com\nport: 25565\ndb_connection_string: x.db\n"+tc.extra)
			_, err := Load(path)
			assert.Error(t, err)
		})
	}

	path := writeConfig(t, "server: mc.example.com\nport: 70000\ndb_connection_string: x.db\n")
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoad_MapStart(t *testing.T) {
	path := writeConfig(t, "server: mc.example.com\nport: 25565\ndb_connection_string: x.db\n")
	cfg, err := Load(path)
	require.NoError(t, err)
	start, err := cfg.MapStartDate()
	require.NoError(t, err)
	assert.True(t, start.IsZero())

	path = writeConfig(t, "server: mc.example.com\nport: 25565\ndb_connection_string: x.db\nreports:\n  map_start: \"2024-07-26\"\n")
	cfg, err = Load(path)
	require.NoError(t, err)
	start, err = cfg.MapStartDate()
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 7, 26, 0, 0, 0, 0, time.UTC), start)
}

func TestDefaultPath(t *testing.T) {
	t.Setenv(EnvironmentVariable, "")
	assert.Equal(t, "config.yaml", DefaultPath())

	t.Setenv(EnvironmentVariable, "production")
	assert.Equal(t, "config.production.yaml", DefaultPath())
}
