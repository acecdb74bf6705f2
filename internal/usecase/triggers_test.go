package usecase

import (
	"context"
	"sync"
	"testing"

	"ClinicPulse/internal/domain/models"
	"ClinicPulse/internal/domain/service"
	pkgkafka "ClinicPulse/pkg/kafka"
	applogger "ClinicPulse/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingDispatcher struct {
	mu   sync.Mutex
	seen []models.RecomputeTrigger
	resp models.RecomputeResponse
}

func (d *recordingDispatcher) Dispatch(_ context.Context, t models.RecomputeTrigger) (models.RecomputeResponse, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.seen = append(d.seen, t)
	return d.resp, nil
}

func TestKafkaTriggerHandler(t *testing.T) {
	d := &recordingDispatcher{resp: models.RecomputeResponse{RunID: "r1", Entry: "risk", Failed: 1}}
	h := NewKafkaTriggerHandler("clinicpulse.triggers", d, noMetrics{}, applogger.Nop())
	assert.Equal(t, "clinicpulse.triggers", h.Topic())

	ctx := context.Background()
	require.NoError(t, h.Handle(ctx, []byte(`{"entry":"risk","tenant_id":"t1","as_of":"2024-01-31T00:00:00Z","model":"delinquency"}`)))
	require.Len(t, d.seen, 1)
	assert.Equal(t, "t1", d.seen[0].TenantID)
	assert.Equal(t, "delinquency", d.seen[0].Model)
	assert.True(t, d.seen[0].AsOf.Equal(asOf))

	err := h.Handle(ctx, []byte(`{"entry":`))
	assert.True(t, pkgkafka.IsPermanent(err))
	err = h.Handle(ctx, []byte(`{"entry":"risk"}`))
	assert.ErrorIs(t, err, service.ErrInvalidRange)
	assert.True(t, pkgkafka.IsPermanent(err))
	assert.Len(t, d.seen, 1)
}

func TestRecomputeJob(t *testing.T) {
	d := &recordingDispatcher{}
	j := NewRecomputeJob(d)
	assert.Equal(t, RecomputeJobType, j.Type())

	ctx := context.Background()
	require.NoError(t, j.Handle(ctx, map[string]interface{}{
		"entry": "insights",
		"as_of": "2024-01-31T00:00:00Z",
	}))
	require.Len(t, d.seen, 1)
	assert.Equal(t, models.EntryInsights, d.seen[0].Entry)
	assert.Empty(t, d.seen[0].TenantID)

	assert.ErrorIs(t, j.Handle(ctx, models.RecomputeTrigger{Entry: "nope", AsOf: asOf}), service.ErrInvalidRange)
	assert.Len(t, d.seen, 1)
}
