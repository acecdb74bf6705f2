package usecase

import (
	"context"
	"fmt"
	"time"

	"ClinicPulse/internal/domain/models"
	"ClinicPulse/internal/domain/service"
)

// RecomputeObservations rebuilds the bucketed series of each metric and stores
// every point.
func (a *Analytics) RecomputeObservations(ctx context.Context, p Params) (Result, error) {
	return a.run(ctx, models.EntryObservations, p, func(ctx context.Context) (Result, error) {
		names := pickList(p.Metrics, a.settings.ObservationMetrics)
		if len(names) == 0 {
			for _, d := range a.repo.Registry().Definitions() {
				names = append(names, d.Name)
			}
		}

		var (
			obs    []models.Observation
			failed metricFailures
		)
		for _, name := range names {
			s, err := a.buildSeries(ctx, p.TenantID, p.AsOf, name, p.Granularity, p.Window)
			if err != nil {
				if err := failed.record(ctx, name, fmt.Errorf("series %s: %w", name, err)); err != nil {
					return Result{}, err
				}
				continue
			}
			obs = append(obs, s.Points...)
		}
		if err := failed.err(len(names)); err != nil {
			return Result{}, err
		}
		if err := a.storeObservations(ctx, obs); err != nil {
			return Result{}, err
		}
		return failed.result(len(obs)), nil
	})
}

// buildSeries builds n buckets of metric ending with the as-of bucket. A zero
// g or n falls back to the metric's default granularity and history length.
func (a *Analytics) buildSeries(ctx context.Context, tenantID string, asOf time.Time, metric string, g models.Granularity, n int) (models.TimeSeries, error) {
	def, _, err := a.repo.Definition(metric)
	if err != nil {
		return models.TimeSeries{}, err
	}
	if g == "" {
		g = def.Granularity
	}
	if !models.IsValidGranularity(g) {
		return models.TimeSeries{}, service.InvalidRange("unsupported granularity %q", g)
	}
	if n <= 0 {
		n = historyBuckets(g)
	}
	from, to := asOfRange(asOf, g, n)
	return a.series.Build(ctx, service.SeriesRequest{
		TenantID:    tenantID,
		Metric:      metric,
		From:        from,
		To:          to,
		Granularity: g,
	})
}

func (a *Analytics) storeObservations(ctx context.Context, obs []models.Observation) error {
	if len(obs) == 0 {
		return nil
	}
	if err := a.store.UpsertObservations(ctx, obs); err != nil {
		return fmt.Errorf("store observations: %w", err)
	}
	a.metrics.RecordArtifacts("observation", len(obs))
	return nil
}
