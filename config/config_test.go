package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewReadsFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rentwatch.yml")
	body := `
address: https://market.example.com
api_key: filekey
machine_ids: [12, 34]
check_frequency: 120
notify:
  on_start: true
  error_ping_interval_minutes: 15
targets:
  - url: https://hooks.example.com/x
    events: [rental_start, rental_end]
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	t.Setenv(configPathKey, path)
	t.Setenv(apiKeyKey, "envkey")

	cfg, err := New()
	require.NoError(t, err)

	assert.Equal(t, "https://market.example.com", cfg.Address)
	assert.Equal(t, "envkey", cfg.APIKey, "env should override the file")
	assert.Equal(t, []int64{12, 34}, cfg.MachineIDs)
	assert.Equal(t, 2*time.Minute, cfg.Interval())
	assert.Equal(t, 15*time.Minute, cfg.ErrorPingInterval())
	assert.True(t, cfg.Notify.OnStart)
	require.Len(t, cfg.Targets, 1)
	assert.True(t, cfg.Targets[0].IsEnabled())
}

func TestIntervalClamped(t *testing.T) {
	cfg := &Config{CheckFrequency: 5}
	assert.Equal(t, time.Minute, cfg.Interval())

	cfg = &Config{}
	assert.Equal(t, 5*time.Minute, cfg.Interval())
}

func TestWriteReadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rentwatch.yml")
	disabled := false
	cfg := &Config{
		Address:    "https://market.example.com",
		APIKey:     "k",
		MachineIDs: []int64{7},
		Targets: []Target{
			{URL: "discord://hooks.example.com/id/token", Enabled: &disabled},
		},
	}
	require.NoError(t, WriteConfig(cfg, path))

	var got Config
	require.NoError(t, ReadConfigFromFile(path, &got))
	assert.Equal(t, cfg.Address, got.Address)
	assert.Equal(t, cfg.MachineIDs, got.MachineIDs)
	require.Len(t, got.Targets, 1)
	assert.False(t, got.Targets[0].IsEnabled())
}
