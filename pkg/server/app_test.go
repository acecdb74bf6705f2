package server

import (
	"context"
	"testing"
	"time"

	"ClinicPulse/internal/service/ratelimit"
	"ClinicPulse/pkg/config"
	xhttp "ClinicPulse/pkg/http"
	applogger "ClinicPulse/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingCloser struct {
	name  string
	order *[]string
}

func (c recordingCloser) Close() error {
	*c.order = append(*c.order, c.name)
	return nil
}

func TestRunContextShutsDownInReverseOrder(t *testing.T) {
	cfg, err := config.Parse(nil)
	require.NoError(t, err)
	cfg.Server.ShutdownTimeout = 2 * time.Second

	srv := xhttp.NewServer(nil, xhttp.WithHost("127.0.0.1"), xhttp.WithPort(0))
	app := New(cfg, applogger.Nop(), srv, nil, nil, nil, ratelimit.New(1, 1))

	var order []string
	app.AddCloser("facts", recordingCloser{"facts", &order})
	app.AddCloser("artifacts", recordingCloser{"artifacts", &order})
	app.AddCloser("nil", nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.RunContext(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("app did not stop")
	}
	assert.Equal(t, []string{"artifacts", "facts"}, order)
}
