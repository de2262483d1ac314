package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, ":8090", cfg.Server.Listen)
	assert.Equal(t, time.Minute, cfg.Scheduler.Period.Std())
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reminderd.yaml")
	data := []byte(`
server:
  listen: ":9999"
scheduler:
  period: 30s
  fanOut: 4
push:
  timeout: 3s
`)
	require.NoError(t, os.WriteFile(path, data, 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9999", cfg.Server.Listen)
	assert.Equal(t, 30*time.Second, cfg.Scheduler.Period.Std())
	assert.Equal(t, 4, cfg.Scheduler.FanOut)
	assert.Equal(t, 3*time.Second, cfg.Push.Timeout.Std())
	// Untouched sections keep their defaults.
	assert.NotEmpty(t, cfg.Prayer.BaseURL)
}

func TestEnvironmentOverridesFile(t *testing.T) {
	t.Setenv("SERVER_LISTEN", ":7070")
	t.Setenv("SCHEDULER_PERIOD", "2m")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ":7070", cfg.Server.Listen)
	assert.Equal(t, 2*time.Minute, cfg.Scheduler.Period.Std())
}

func TestValidationRejectsBadValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("scheduler:\n  period: 10ms\n"), 0o644))

	_, err := Load(path)
	require.Error(t, err, "sub-second tick period must be rejected")
}
