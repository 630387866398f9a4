package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigValidates(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
}

func TestValidateAccumulatesErrors(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Engine.Address = "not-an-address"
	cfg.Pool.Address = ""
	cfg.Monitor.ScanInterval = 0
	cfg.Monitor.MinProfit = "abc"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "engine.address")
	assert.Contains(t, err.Error(), "pool.address")
	assert.Contains(t, err.Error(), "scan_interval")
	assert.Contains(t, err.Error(), "min_profit")
}

func TestParseAmount(t *testing.T) {
	value, err := ParseAmount("123456789012345678901234567890")
	require.NoError(t, err)
	assert.Equal(t, "123456789012345678901234567890", value.String())

	_, err = ParseAmount("")
	require.Error(t, err)
	_, err = ParseAmount("0x10")
	require.Error(t, err)
}

func TestLoadAppliesOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "world.yaml")

	data := `
metrics_addr: ":9999"
monitor:
  scan_interval: 5s
  min_profit: "42"
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	t.Setenv(EnvMetricsAddr, ":7777")
	t.Setenv(EnvDebug, "true")

	cfg, err := Load(path)
	require.NoError(t, err)

	// file beats defaults, env beats file
	assert.Equal(t, Duration(5*time.Second), cfg.Monitor.ScanInterval)
	assert.Equal(t, "42", cfg.Monitor.MinProfit)
	assert.Equal(t, ":7777", cfg.MetricsAddr)
	assert.True(t, cfg.Debug)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/nonexistent/world.yaml")
	require.Error(t, err)
}
