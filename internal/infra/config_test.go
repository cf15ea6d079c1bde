package infra

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	return dir
}

func TestLoadConfigDefaults(t *testing.T) {
	chdirTemp(t)
	t.Setenv("STORAGE_DRIVER", "memory")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "memory", cfg.Storage.Driver)
	assert.Equal(t, 2*time.Second, cfg.Engine.PredictorTimeout)
	assert.Equal(t, 8, cfg.Engine.Workers)
	assert.Equal(t, 0, cfg.Risk.BlockThreshold)
	assert.Equal(t, 10, cfg.Risk.VelocityLimit)
	assert.False(t, cfg.Risk.RequireSignature)
	assert.Equal(t, 10*time.Second, cfg.Network.CacheTTL)
}

func TestLoadConfigFileAndEnv(t *testing.T) {
	dir := chdirTemp(t)
	yaml := []byte(`
storage:
  driver: memory
server:
  port: 9000
risk:
  block_threshold: 85
limits:
  gold:
    per_transaction: 750
    daily: 3000
    monthly: 12000
`)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), yaml, 0o600))
	t.Setenv("SERVER_PORT", "9100")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, 9100, cfg.Server.Port)
	assert.Equal(t, 85, cfg.Risk.BlockThreshold)
	require.Contains(t, cfg.Limits, "gold")
	assert.Equal(t, 750.0, cfg.Limits["gold"].PerTransaction)
}

func TestLoadConfigDotEnv(t *testing.T) {
	dir := chdirTemp(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("STORAGE_DRIVER=memory\nLOGGER_LEVEL=debug\n"), 0o600))
	t.Cleanup(func() {
		os.Unsetenv("STORAGE_DRIVER")
		os.Unsetenv("LOGGER_LEVEL")
	})

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Logger.Level)
}

func TestValidate(t *testing.T) {
	base := Config{Storage: StorageConfig{Driver: "memory"}, Engine: EngineConfig{Workers: 1}}
	require.NoError(t, base.Validate())

	pg := base
	pg.Storage.Driver = "postgres"
	assert.Error(t, pg.Validate())
	pg.Database.URL = "postgres://localhost/agentspend"
	assert.NoError(t, pg.Validate())

	bad := base
	bad.Storage.Driver = "sqlite"
	assert.Error(t, bad.Validate())

	bad = base
	bad.Risk.BlockThreshold = 101
	assert.Error(t, bad.Validate())

	bad = base
	bad.Risk.VelocityLimit = -1
	assert.Error(t, bad.Validate())
}

func TestNewLogger(t *testing.T) {
	l, err := NewLogger(LoggerConfig{Level: "warn", Format: "console"})
	require.NoError(t, err)
	assert.NotNil(t, l)

	_, err = NewLogger(LoggerConfig{Level: "loud"})
	assert.Error(t, err)
	_, err = NewLogger(LoggerConfig{Level: "info", Format: "xml"})
	assert.Error(t, err)
}
