package oracled

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "oracled.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadConfigAppliesDefaults(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, `
gateway: http://localhost:8545
oracle_address: "0x00000000000000000000000000000000000000bb"
engagement_dir: /var/lib/oracled/engagement
`))
	require.NoError(t, err)
	require.Equal(t, ":9464", cfg.ListenAddress)
	require.Equal(t, 30*time.Second, cfg.PollInterval.Duration)
	require.Equal(t, 5, cfg.MaxAttempts)
	require.Equal(t, time.Second, cfg.InitialBackoff.Duration)
	require.Equal(t, time.Minute, cfg.MaxBackoff.Duration)
	require.Equal(t, testAddr(0xBB), cfg.Oracle())
}

func TestLoadConfigParsesDurations(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, `
gateway: http://localhost:8545
oracle_address: "0x00000000000000000000000000000000000000bb"
engagement_dir: /var/lib/oracled/engagement
poll_interval: 5s
initial_backoff: 250ms
max_backoff: 10s
max_attempts: 3
`))
	require.NoError(t, err)
	require.Equal(t, 5*time.Second, cfg.PollInterval.Duration)
	require.Equal(t, 250*time.Millisecond, cfg.InitialBackoff.Duration)
	require.Equal(t, 10*time.Second, cfg.MaxBackoff.Duration)
	require.Equal(t, 3, cfg.MaxAttempts)
}

func TestLoadConfigRejectsMissingFields(t *testing.T) {
	_, err := LoadConfig(writeConfig(t, `
oracle_address: "0x00000000000000000000000000000000000000bb"
engagement_dir: /var/lib/oracled/engagement
`))
	require.Error(t, err, "gateway endpoint is required")

	_, err = LoadConfig(writeConfig(t, `
gateway: http://localhost:8545
oracle_address: "not-an-address"
engagement_dir: /var/lib/oracled/engagement
`))
	require.Error(t, err)

	_, err = LoadConfig(writeConfig(t, `
gateway: http://localhost:8545
oracle_address: "0x00000000000000000000000000000000000000bb"
`))
	require.Error(t, err, "engagement_dir is required")
}
