package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/egostrategy/datahub/pkg/errors"
)

func TestDefaults(t *testing.T) {
	cfg := New()

	assert.False(t, cfg.DebugMode)
	assert.Equal(t, 10, cfg.DebugStockLimit)
	assert.Equal(t, "data", cfg.DataDir)
	assert.Equal(t, DefaultMaxHistory, cfg.MaxHistory)
	assert.False(t, cfg.ForceFullHistory)
	require.NoError(t, cfg.Validate())
}

func TestBuilder(t *testing.T) {
	cfg := New().
		WithDebugMode(true).
		WithDebugStockLimit(2).
		WithDataDir("/tmp/hub").
		WithMaxHistory(50).
		WithForceFullHistory(true)

	assert.True(t, cfg.DebugMode)
	assert.Equal(t, 2, cfg.DebugStockLimit)
	assert.Equal(t, "/tmp/hub", cfg.DataDir)
	assert.Equal(t, 50, cfg.MaxHistory)
	assert.True(t, cfg.ForceFullHistory)
	require.NoError(t, cfg.Validate())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero max_history", func(c *Config) { c.MaxHistory = 0 }},
		{"negative max_history", func(c *Config) { c.MaxHistory = -1 }},
		{"debug limit zero in debug mode", func(c *Config) { c.DebugMode = true; c.DebugStockLimit = 0 }},
		{"empty data_dir", func(c *Config) { c.DataDir = "" }},
		{"zero request timeout", func(c *Config) { c.RequestTimeout = 0 }},
		{"zero rate", func(c *Config) { c.RequestsPerSecond = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := New()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
		})
	}
}

func TestLoad(t *testing.T) {
	t.Run("overrides on top of defaults", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.yaml")
		content := "max_history: 100\ndata_dir: ${DATAHUB_TEST_DIR}\nrequest_timeout: 10s\n"
		require.NoError(t, os.WriteFile(path, []byte(content), 0644))
		t.Setenv("DATAHUB_TEST_DIR", "/var/lib/datahub")

		cfg, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, 100, cfg.MaxHistory)
		assert.Equal(t, "/var/lib/datahub", cfg.DataDir)
		assert.Equal(t, 10*time.Second, cfg.RequestTimeout)
		// untouched keys keep their defaults
		assert.Equal(t, 10, cfg.DebugStockLimit)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
		require.Error(t, err)
		assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
	})

	t.Run("invalid values rejected", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.yaml")
		require.NoError(t, os.WriteFile(path, []byte("max_history: -5\n"), 0644))

		_, err := Load(path)
		require.Error(t, err)
		assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
	})
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	cfg := New().WithMaxHistory(77)
	require.NoError(t, Save(path, cfg))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 77, loaded.MaxHistory)
}
