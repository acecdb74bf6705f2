package analytics

import (
	"context"
	"testing"
	"time"

	"ClinicPulse/internal/domain/models"
	"ClinicPulse/internal/domain/service"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func monthlySeries(metric string, start time.Time, values ...float64) models.TimeSeries {
	s := models.TimeSeries{Metric: metric, TenantID: "t1", Granularity: models.GranularityMonthly}
	for i, v := range values {
		s.Points = append(s.Points, models.Observation{
			Metric:   metric,
			TenantID: "t1",
			Bucket:   start.AddDate(0, i, 0),
			Value:    v,
		})
	}
	return s
}

func TestForecastConstantSeries(t *testing.T) {
	vals := make([]float64, 12)
	for i := range vals {
		vals[i] = 4200
	}
	series := monthlySeries(MetricMRR, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), vals...)

	pts, err := NewForecaster(nil).Forecast(context.Background(), series, service.ForecastParams{Horizon: 3})
	require.NoError(t, err)
	require.Len(t, pts, 3)
	for _, p := range pts {
		assert.InDelta(t, 4200, p.Predicted, 1e-6)
		assert.InDelta(t, 0, p.Upper-p.Lower, 1e-6)
	}
}

func TestForecastLinearGrowth(t *testing.T) {
	// 13 months: 10,000 rising by 1,000 each month to 22,000
	vals := make([]float64, 13)
	for i := range vals {
		vals[i] = 10000 + float64(i)*1000
	}
	start := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	asOf := time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC)
	series := monthlySeries(MetricMRR, start, vals...)

	pts, err := NewForecaster(nil).Forecast(context.Background(), series, service.ForecastParams{
		Horizon: 1,
		AsOf:    asOf,
	})
	require.NoError(t, err)
	require.Len(t, pts, 1)

	p := pts[0]
	assert.InDelta(t, 23000, p.Predicted, 1e-6)
	assert.LessOrEqual(t, p.Upper-p.Lower, 1.0)
	assert.Equal(t, time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC), p.TargetDate)
	assert.Equal(t, LinearModelVersion, p.ModelVersion)
	assert.Equal(t, asOf, p.GeneratedAt)
}

func TestForecastFloorAndBand(t *testing.T) {
	// steep decline extrapolates below zero; the floor holds it at half the mean
	series := monthlySeries(MetricMRR, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), 1000, 600, 200)

	pts, err := NewForecaster(nil).Forecast(context.Background(), series, service.ForecastParams{Horizon: 2})
	require.NoError(t, err)
	for _, p := range pts {
		assert.InDelta(t, 300, p.Predicted, 1e-9)
		assert.GreaterOrEqual(t, p.Lower, 0.6*p.Predicted-1e-9)
		assert.LessOrEqual(t, p.Upper, 1.4*p.Predicted+1e-9)
	}
}

func TestForecastNoisyIntervalIsClamped(t *testing.T) {
	series := monthlySeries(MetricMRR, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		100, 400, 50, 500, 80, 450, 60, 520)

	pts, err := NewForecaster(nil).Forecast(context.Background(), series, service.ForecastParams{Horizon: 4})
	require.NoError(t, err)
	for _, p := range pts {
		assert.True(t, p.TargetDate.After(series.Points[len(series.Points)-1].Bucket))
		assert.LessOrEqual(t, p.Lower, p.Predicted)
		assert.GreaterOrEqual(t, p.Upper, p.Predicted)
		assert.GreaterOrEqual(t, p.Lower, 0.6*p.Predicted-1e-9)
		assert.LessOrEqual(t, p.Upper, 1.4*p.Predicted+1e-9)
	}
}

func TestForecastErrors(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	f := NewForecaster(nil)

	_, err := f.Forecast(context.Background(), monthlySeries(MetricMRR, start, 1, 2), service.ForecastParams{Horizon: 1})
	assert.ErrorIs(t, err, service.ErrDataInsufficient)

	_, err = f.Forecast(context.Background(), monthlySeries(MetricMRR, start, 1, 2, 3), service.ForecastParams{Horizon: 0})
	assert.ErrorIs(t, err, service.ErrInvalidRange)

	_, err = f.Forecast(context.Background(), monthlySeries(MetricMRR, start, 1, 2, 3), service.ForecastParams{Horizon: 1, Model: "arima"})
	assert.ErrorIs(t, err, service.ErrModelNotFound)
}

func TestModelRegistryNames(t *testing.T) {
	r := NewModelRegistry(NewLinearTrendModel())
	assert.Equal(t, []string{LinearModelName}, r.Names())
}
