package logger

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capturePublisher struct {
	mu      sync.Mutex
	topics  []string
	digests []LogDigest
}

func (p *capturePublisher) PublishMessage(_ context.Context, topic string, payload interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.topics = append(p.topics, topic)
	p.digests = append(p.digests, payload.(LogDigest))
	return nil
}

func (p *capturePublisher) snapshot() []LogDigest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]LogDigest(nil), p.digests...)
}

func TestLoggerWritesJSONWithFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")
	l, err := New(&Config{Level: "debug", Format: "json", Output: path})
	require.NoError(t, err)

	l.With(String("tenant_id", "t1")).Info("recompute done", Int("written", 3), Duration("duration_ms", 1500*time.Millisecond))

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	line := string(b)
	assert.Contains(t, line, `"tenant_id":"t1"`)
	assert.Contains(t, line, `"written":3`)
	assert.Contains(t, line, `"duration_ms":1500`)
	assert.Contains(t, line, `"message":"recompute done"`)
}

func TestNewRejectsBadLevel(t *testing.T) {
	_, err := New(&Config{Level: "loud", Output: "stderr"})
	assert.Error(t, err)
}

func TestCollectorDeduplicatesAndFlushes(t *testing.T) {
	pub := &capturePublisher{}
	l := Nop()
	l.AddCollector(&CollectionConfig{
		Service:        "clinicpulse-test",
		TimeInterval:   time.Hour,
		CountThreshold: 2,
		Topic:          "logs",
		Publisher:      pub,
	})
	defer l.RemoveCollector()

	boom := errors.New("boom")
	for i := 0; i < 3; i++ {
		l.Error("recompute failed", String("entry", "risk"), Error(boom))
	}
	l.Warn("ignored without IncludeWarn")
	l.Error("publish failed", String("topic", "events"))

	require.Eventually(t, func() bool { return len(pub.snapshot()) == 1 }, 2*time.Second, 10*time.Millisecond)
	d := pub.snapshot()[0]
	assert.Equal(t, "clinicpulse-test", d.Service)
	require.Len(t, d.Entries, 2)
	assert.Equal(t, "recompute failed", d.Entries[0].Message)
	assert.Equal(t, 3, d.Entries[0].Count)
	assert.Equal(t, "boom", d.Entries[0].Fields["error"])
	assert.True(t, strings.HasPrefix(d.Entries[0].Caller, "pkg/logger/logger_test.go:"), d.Entries[0].Caller)
}

func TestTrimModulePath(t *testing.T) {
	assert.Equal(t, "internal/usecase/risk.go", trimModulePath("/src/clinicpulse/internal/usecase/risk.go"))
	assert.Equal(t, "cmd/app/main.go", trimModulePath("/build/cmd/app/main.go"))
	assert.Equal(t, "main.go", trimModulePath("main.go"))
}

func TestCollectorCloseFlushesPending(t *testing.T) {
	pub := &capturePublisher{}
	c := NewLogCollector(&CollectionConfig{Service: "s", TimeInterval: time.Hour, Topic: "logs", Publisher: pub})
	c.AddLog("warn", "slow query", map[string]interface{}{"tenant_id": "t1"}, "x.go:1")
	c.Close()
	c.Close()

	got := pub.snapshot()
	require.Len(t, got, 1)
	assert.Equal(t, "slow query", got[0].Entries[0].Message)
}

func TestFingerprintIgnoresFieldOrder(t *testing.T) {
	a := fingerprint("error", "m", map[string]interface{}{"a": 1, "b": "x"}, "c.go:1")
	b := fingerprint("error", "m", map[string]interface{}{"b": "x", "a": 1}, "c.go:1")
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, fingerprint("error", "m", map[string]interface{}{"a": 2, "b": "x"}, "c.go:1"))
}

func TestErrorFieldHandlesNil(t *testing.T) {
	assert.Equal(t, "", Error(nil).value())
	assert.Equal(t, int64(1500), Duration("d", 1500*time.Millisecond).value())
}
