package usecase

import (
	"context"
	"fmt"

	"ClinicPulse/internal/domain/models"
	"ClinicPulse/internal/domain/service"
)

// RecomputeForecast projects each metric Horizon buckets past the as-of bucket.
// Window overrides the lookback. A metric that cannot be forecast is skipped
// unless every metric fails.
func (a *Analytics) RecomputeForecast(ctx context.Context, p Params) (Result, error) {
	return a.run(ctx, models.EntryForecast, p, func(ctx context.Context) (Result, error) {
		fp := service.ForecastParams{
			Model:    pick(p.Model, a.settings.ForecastModel),
			Lookback: pick(p.Window, a.settings.ForecastLookback),
			Horizon:  pick(p.Horizon, a.settings.ForecastHorizon),
			AsOf:     p.AsOf,
		}

		var (
			obs    []models.Observation
			points []models.ForecastPoint
			failed metricFailures
		)
		metrics := pickList(p.Metrics, a.settings.ForecastMetrics)
		for _, metric := range metrics {
			s, err := a.buildSeries(ctx, p.TenantID, p.AsOf, metric, p.Granularity, fp.Lookback)
			if err != nil {
				if err := failed.record(ctx, metric, fmt.Errorf("series %s: %w", metric, err)); err != nil {
					return Result{}, err
				}
				continue
			}
			pts, err := a.forecaster.Forecast(ctx, s, fp)
			if err != nil {
				if err := failed.record(ctx, metric, fmt.Errorf("forecast %s: %w", metric, err)); err != nil {
					return Result{}, err
				}
				continue
			}
			obs = append(obs, s.Points...)
			points = append(points, pts...)
		}
		if err := failed.err(len(metrics)); err != nil {
			return Result{}, err
		}

		if err := a.storeObservations(ctx, obs); err != nil {
			return Result{}, err
		}
		if len(points) > 0 {
			if err := a.store.UpsertForecastPoints(ctx, points); err != nil {
				return Result{}, fmt.Errorf("store forecasts: %w", err)
			}
		}
		a.metrics.RecordArtifacts("forecast", len(points))
		return failed.result(len(points)), nil
	})
}
