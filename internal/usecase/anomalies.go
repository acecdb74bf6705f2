package usecase

import (
	"context"
	"fmt"

	"ClinicPulse/internal/domain/models"
	"ClinicPulse/internal/domain/service"
)

// ScanAnomalies scores each metric over twice the baseline window so the most
// recent Window points have a full baseline.
func (a *Analytics) ScanAnomalies(ctx context.Context, p Params) (Result, error) {
	return a.run(ctx, models.EntryAnomalies, p, func(ctx context.Context) (Result, error) {
		ap := service.AnomalyParams{
			Window:    pick(p.Window, a.settings.AnomalyWindow),
			Threshold: a.settings.AnomalyThreshold,
			Baseline:  a.settings.AnomalyBaseline,
		}

		var (
			obs     []models.Observation
			records []models.AnomalyRecord
			events  []models.ArtifactEvent
			failed  metricFailures
		)
		metrics := pickList(p.Metrics, a.settings.AnomalyMetrics)
		for _, metric := range metrics {
			s, err := a.buildSeries(ctx, p.TenantID, p.AsOf, metric, p.Granularity, 2*ap.Window)
			if err != nil {
				if err := failed.record(ctx, metric, fmt.Errorf("series %s: %w", metric, err)); err != nil {
					return Result{}, err
				}
				continue
			}
			recs, err := a.detector.Detect(ctx, s, ap)
			if err != nil {
				if err := failed.record(ctx, metric, fmt.Errorf("detect %s: %w", metric, err)); err != nil {
					return Result{}, err
				}
				continue
			}
			obs = append(obs, s.Points...)
			records = append(records, recs...)
			if last, ok := s.Last(); ok {
				events = append(events, anomalyEvents(p, recs, last.Bucket)...)
			}
		}
		if err := failed.err(len(metrics)); err != nil {
			return Result{}, err
		}

		if err := a.storeObservations(ctx, obs); err != nil {
			return Result{}, err
		}
		if len(records) > 0 {
			if err := a.store.UpsertAnomalies(ctx, records); err != nil {
				return Result{}, fmt.Errorf("store anomalies: %w", err)
			}
		}
		a.metrics.RecordArtifacts("anomaly", len(records))
		a.publish(ctx, p, events)
		return failed.result(len(records)), nil
	})
}
