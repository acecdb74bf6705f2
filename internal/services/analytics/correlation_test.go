package analytics

import (
	"context"
	"math"
	"testing"
	"time"

	"ClinicPulse/internal/domain/models"
	"ClinicPulse/internal/domain/service"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCorrelateSymmetric(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	x := dailySeries(MetricTrialStarts, start, 3, 5, 4, 8, 9, 7, 12, 11)
	y := dailySeries(MetricNewSubscriptions, start, 1, 2, 2, 4, 3, 3, 6, 5)
	e := NewPearsonEngine()

	xy, err := e.Correlate(context.Background(), x, y, service.CorrelationParams{})
	require.NoError(t, err)
	yx, err := e.Correlate(context.Background(), y, x, service.CorrelationParams{})
	require.NoError(t, err)

	assert.Equal(t, xy, yx)
	assert.Equal(t, MetricNewSubscriptions, xy.MetricX)
	assert.Equal(t, MetricTrialStarts, xy.MetricY)
	assert.Equal(t, 8, xy.SampleSize)
	assert.Greater(t, xy.Coefficient, 0.8)
	assert.Equal(t, "strong", xy.Strength)
}

func TestCorrelatePerfectLinear(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	x := dailySeries("a", start, 1, 2, 3, 4, 5, 6)
	y := dailySeries("b", start, 3, 5, 7, 9, 11, 13)

	res, err := NewPearsonEngine().Correlate(context.Background(), x, y, service.CorrelationParams{})
	require.NoError(t, err)
	assert.InDelta(t, 1, res.Coefficient, 1e-9)
	assert.LessOrEqual(t, res.Coefficient, 1.0)
	assert.Equal(t, models.Significance99, res.Significance)
	assert.Equal(t, 0.01, res.PValueBound)
	assert.False(t, res.Degenerate)
}

func TestCorrelateDegenerate(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	e := NewPearsonEngine()

	flat, err := e.Correlate(context.Background(),
		dailySeries("a", start, 4, 4, 4, 4), dailySeries("b", start, 1, 2, 3, 4), service.CorrelationParams{})
	require.NoError(t, err)
	assert.True(t, flat.Degenerate)
	assert.Equal(t, 0.0, flat.Coefficient)
	assert.Equal(t, models.SignificanceNone, flat.Significance)

	short, err := e.Correlate(context.Background(),
		dailySeries("a", start, 1, 2), dailySeries("b", start, 2, 1), service.CorrelationParams{})
	require.NoError(t, err)
	assert.True(t, short.Degenerate)
	assert.Equal(t, 2, short.SampleSize)
}

func TestCorrelateAlignsWindowAndAsOf(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	x := dailySeries("a", start, 1, 2, 3, 4, 5, 6, 7, 8)
	// y is missing the first two buckets
	y := dailySeries("b", start.AddDate(0, 0, 2), 9, 7, 8, 6, 4, 5)

	res, err := NewPearsonEngine().Correlate(context.Background(), x, y, service.CorrelationParams{
		Window: 3,
		AsOf:   start.AddDate(0, 0, 6),
	})
	require.NoError(t, err)
	// aligned buckets 2..6, trailing three kept
	assert.Equal(t, 3, res.SampleSize)
	assert.Equal(t, 3, res.Window)
}

func TestSignificanceFromT(t *testing.T) {
	cases := []struct {
		t      float64
		label  string
		pBound float64
	}{
		{0, models.SignificanceNone, 1.0},
		{1.6, models.SignificanceNone, 1.0},
		{1.645, models.Significance90, 0.10},
		{-2.0, models.Significance95, 0.05},
		{2.576, models.Significance99, 0.01},
		{math.Inf(-1), models.Significance99, 0.01},
	}
	for _, c := range cases {
		label, p := SignificanceFromT(c.t)
		assert.Equal(t, c.label, label, "t=%v", c.t)
		assert.Equal(t, c.pBound, p, "t=%v", c.t)
	}
}

func TestTagSeries(t *testing.T) {
	s := dailySeries("x", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), 1, 2)
	s.Points[1].Dimensions = map[string]float64{"campaign:spring": 1}

	tag := TagSeries(s, "campaign:spring")
	assert.Equal(t, "tag:campaign:spring", tag.Metric)
	assert.Equal(t, []float64{0, 1}, tag.Values())
}
