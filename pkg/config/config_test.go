package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeTmpConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	p := filepath.Join(dir, "config.yml")
	require.NoError(t, os.WriteFile(p, []byte(content), 0644))
	return p
}

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeTmpConfig(t, `
broker:
  host: mqtt.internal
`))
	require.NoError(t, err)

	require.Equal(t, "mqtt.internal", cfg.Broker.Host)
	require.Equal(t, 1883, cfg.Broker.Port)
	require.Equal(t, "meek", cfg.Topic.Prefix)
	require.Equal(t, 0.4, cfg.Dispatch.ResourceWeight)
	require.Equal(t, 0.4, cfg.Dispatch.BalanceWeight)
	require.Equal(t, 0.2, cfg.Dispatch.NodeWeight)
	require.Equal(t, 20*1e9, float64(cfg.Health.Interval))
	require.Equal(t, 3, cfg.Retry.MaxRetries)
	require.Equal(t, 5, cfg.Stream.WorkerPool)
}

func TestLoadOverridesDefaults(t *testing.T) {
	cfg, err := Load(writeTmpConfig(t, `
broker:
  host: mqtt.internal
  port: 8883
retry:
  max_retries: 5
  base_delay: 1s
health:
  interval: 10s
  offline_multiple: 3
`))
	require.NoError(t, err)

	require.Equal(t, 8883, cfg.Broker.Port)
	require.Equal(t, 5, cfg.Retry.MaxRetries)
	require.Equal(t, 3.0, cfg.Health.OfflineMultiple)
}

func TestValidateRejectsBadWeights(t *testing.T) {
	cfg, err := Load(writeTmpConfig(t, `
broker:
  host: mqtt.internal
dispatch:
  resource_weight: 0
  balance_weight: 0
  node_weight: 0
`))
	require.Error(t, err)
	require.Nil(t, cfg)
}

func TestValidateRejectsBadOfflineMultiple(t *testing.T) {
	cfg, err := Load(writeTmpConfig(t, `
broker:
  host: mqtt.internal
health:
  offline_multiple: 1
`))
	require.Error(t, err)
	require.Nil(t, cfg)
}
