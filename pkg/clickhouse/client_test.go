package clickhouse

import (
	"testing"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOptionsMapping(t *testing.T) {
	cfg := defaultClientConfig()
	for _, o := range []ClientOption{
		WithHost("ch.local"),
		WithPort(8123),
		WithDatabase("clinicpulse"),
		WithCredentials("svc", "pw"),
		WithHTTP(true),
		WithAsyncInsert(true, true),
		WithMaxExecutionTime(90 * time.Second),
		WithTimeouts(0, 30*time.Second, 0),
	} {
		o(cfg)
	}
	require.NoError(t, cfg.validate())

	opts := options(cfg)
	assert.Equal(t, clickhouse.HTTP, opts.Protocol)
	assert.Equal(t, []string{"ch.local:8123"}, opts.Addr)
	assert.Equal(t, "clinicpulse", opts.Auth.Database)
	assert.Equal(t, "svc", opts.Auth.Username)
	assert.Equal(t, 90, opts.Settings["max_execution_time"])
	assert.Equal(t, 1, opts.Settings["async_insert"])
	assert.Equal(t, 1, opts.Settings["wait_for_async_insert"])
	assert.Equal(t, 5*time.Second, opts.DialTimeout)
	assert.Equal(t, 30*time.Second, opts.ReadTimeout)
}

func TestConfigDefaultsAndValidation(t *testing.T) {
	cfg := defaultClientConfig()
	assert.Error(t, cfg.validate())

	WithHost("h")(cfg)
	WithAsyncInsert(false, true)(cfg)
	WithDatabase("")(cfg)
	WithMaxConnections(2, 8)(cfg)
	require.NoError(t, cfg.validate())
	assert.False(t, cfg.WaitForAsync)
	assert.Equal(t, "default", cfg.Database)
	assert.Equal(t, 2, cfg.MaxIdleConns)

	opts := options(cfg)
	assert.Equal(t, clickhouse.Native, opts.Protocol)
	assert.Empty(t, opts.Settings)
}
