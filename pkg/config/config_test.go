package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAppliesDefaults(t *testing.T) {
	c, err := Parse([]byte("environment: test\n"))
	require.NoError(t, err)

	assert.Equal(t, "test", c.Environment)
	assert.Equal(t, 8080, c.Server.Port)
	assert.Equal(t, 60*time.Second, c.Server.WriteTimeout)
	assert.Equal(t, "clickhouse", c.Artifacts.Backend)
	assert.Equal(t, "clinicpulse.triggers", c.Kafka.TriggerTopic)
	assert.Equal(t, -1, c.Kafka.RequiredAcks)
	assert.Equal(t, int32(10), c.Postgres.MaxConns)
	assert.True(t, c.Redis.Enabled)
	assert.InDelta(t, 0.05, c.Analytics.Risk.NoiseAmplitude, 1e-12)
	require.NoError(t, c.Validate())
}

func TestParseKeepsExplicitFalse(t *testing.T) {
	c, err := Parse([]byte("redis:\n  enabled: false\nqueue:\n  enabled: false\n"))
	require.NoError(t, err)
	assert.False(t, c.Redis.Enabled)
	assert.False(t, c.Queue.Enabled)
	require.NoError(t, c.Validate())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"bad backend", "artifacts:\n  backend: s3\n"},
		{"kafka without brokers", "kafka:\n  enabled: true\n"},
		{"queue without redis", "redis:\n  enabled: false\n"},
		{"bad baseline", "analytics:\n  anomaly:\n    baseline: median\n"},
		{"pair arity", "analytics:\n  correlation:\n    pairs: [[mrr]]\n"},
		{"unknown risk model", "analytics:\n  risk:\n    models: [churn]\n"},
		{"horizon too long", "analytics:\n  forecast:\n    horizon: 48\n"},
		{"bad log level", "log:\n  level: loud\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := Parse([]byte(tt.yaml))
			require.NoError(t, err)
			assert.Error(t, c.Validate())
		})
	}
}

func TestApplyEnv(t *testing.T) {
	c, err := Parse(nil)
	require.NoError(t, err)

	env := map[string]string{
		"CLINICPULSE_ENV":               "production",
		"CLINICPULSE_SERVER_PORT":       "9090",
		"CLINICPULSE_KAFKA_BROKERS":     "k1:9092,k2:9092",
		"CLINICPULSE_ARTIFACTS_BACKEND": "memory",
		"CLINICPULSE_QUEUE_ENABLED":     "false",
	}
	require.NoError(t, c.applyEnv(func(k string) (string, bool) { v, ok := env[k]; return v, ok }))

	assert.Equal(t, "production", c.Environment)
	assert.Equal(t, 9090, c.Server.Port)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, c.Kafka.Brokers)
	assert.True(t, c.Kafka.Enabled)
	assert.Equal(t, "memory", c.Artifacts.Backend)
	assert.False(t, c.Queue.Enabled)

	bad := map[string]string{"CLINICPULSE_REDIS_PORT": "six"}
	assert.Error(t, c.applyEnv(func(k string) (string, bool) { v, ok := bad[k]; return v, ok }))
}

func TestLoadSampleConfig(t *testing.T) {
	c, err := Load(filepath.Join("..", "..", "config", "config.yaml"))
	require.NoError(t, err)
	assert.Len(t, c.Scheduler.Specs, 7)
	assert.Len(t, c.Analytics.Correlation.Pairs, 3)

	path := filepath.Join(t.TempDir(), "broken.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: [1, 2"), 0o600))
	_, err = Load(path)
	assert.Error(t, err)
}
