package usecase

import (
	"context"
	"fmt"
	"time"

	"ClinicPulse/internal/domain/models"
	"ClinicPulse/internal/domain/service"
	"ClinicPulse/internal/services/analytics"

	"golang.org/x/sync/errgroup"
)

// RefreshCohorts recomputes the trailing acquisition cohorts. Window overrides
// how many cohorts are tracked; cohorts are analyzed in parallel.
func (a *Analytics) RefreshCohorts(ctx context.Context, p Params) (Result, error) {
	return a.run(ctx, models.EntryCohorts, p, func(ctx context.Context) (Result, error) {
		g := pick(p.Granularity, a.settings.CohortGranularity)
		if !models.IsValidGranularity(g) {
			return Result{}, service.InvalidRange("unsupported granularity %q", g)
		}
		from, to := asOfRange(p.AsOf, g, pick(p.Window, a.settings.CohortWindows))

		// every subscription started up to the as-of day, so first acquisitions resolve
		subs, err := a.data.Subscriptions(ctx, p.TenantID, time.Time{}, endOfDay(p.AsOf))
		if err != nil {
			return Result{}, fmt.Errorf("load subscriptions: %w", err)
		}

		windows := analytics.CohortWindows(from, to, g)
		rows := make([][]models.CohortPeriodMetric, len(windows))
		eg, ectx := errgroup.WithContext(ctx)
		eg.SetLimit(pick(a.settings.Concurrency, 1))
		for i, w := range windows {
			eg.Go(func() error {
				_, r, err := a.cohorts.Analyze(ectx, subs, service.CohortParams{
					TenantID:    p.TenantID,
					Window:      w,
					Granularity: g,
					Periods:     a.settings.CohortPeriods,
					Dimension:   p.Dimension,
					AsOf:        p.AsOf,
				})
				if err != nil {
					return fmt.Errorf("cohort %s: %w", w.Start.Format("2006-01-02"), err)
				}
				rows[i] = r
				return nil
			})
		}
		if err := eg.Wait(); err != nil {
			return Result{}, err
		}

		var out []models.CohortPeriodMetric
		for _, r := range rows {
			out = append(out, r...)
		}
		if len(out) > 0 {
			if err := a.store.UpsertCohortMetrics(ctx, out); err != nil {
				return Result{}, fmt.Errorf("store cohorts: %w", err)
			}
		}
		a.metrics.RecordArtifacts("cohort", len(out))
		return Result{Written: len(out)}, nil
	})
}
