package usecase

import (
	"context"
	"fmt"

	"ClinicPulse/internal/domain/models"
	drepo "ClinicPulse/internal/domain/repository"
	"ClinicPulse/internal/domain/service"
	"ClinicPulse/internal/services/analytics"
)

// GenerateInsights compares the trailing month ending on the as-of day with the
// month before it, reads the stored artifacts and replaces the insight set of
// (tenant, as-of).
func (a *Analytics) GenerateInsights(ctx context.Context, p Params) (Result, error) {
	return a.run(ctx, models.EntryInsights, p, func(ctx context.Context) (Result, error) {
		end := endOfDay(p.AsOf)
		cur := models.Bucket{Start: end.AddDate(0, -1, 0), End: end}
		prior := models.Bucket{Start: end.AddDate(0, -2, 0), End: cur.Start}

		in := service.InsightInput{TenantID: p.TenantID, AsOf: p.AsOf}
		var err error
		if in.Current, err = a.snapshot(ctx, p.TenantID, cur); err != nil {
			return Result{}, err
		}
		if in.Prior, err = a.snapshot(ctx, p.TenantID, prior); err != nil {
			return Result{}, err
		}
		if err := a.loadArtifacts(ctx, p, &in); err != nil {
			return Result{}, err
		}

		insights, err := a.insights.Generate(ctx, in)
		if err != nil {
			return Result{}, fmt.Errorf("generate insights: %w", err)
		}
		if err := a.store.ReplaceInsights(ctx, p.TenantID, p.AsOf, insights); err != nil {
			return Result{}, fmt.Errorf("store insights: %w", err)
		}
		a.metrics.RecordArtifacts("insight", len(insights))
		a.publish(ctx, p, insightEvents(p, insights))
		return Result{Written: len(insights)}, nil
	})
}

// snapshot reads the headline numbers of b. Revenue is MRR at the close of b
// so it compares directly with the MRR forecast.
func (a *Analytics) snapshot(ctx context.Context, tenantID string, b models.Bucket) (service.PeriodSnapshot, error) {
	var s service.PeriodSnapshot
	for _, f := range []struct {
		metric string
		dst    *float64
	}{
		{analytics.MetricActiveSubscriptions, &s.Subscriptions},
		{analytics.MetricMRR, &s.Revenue},
		{analytics.MetricChurnRate, &s.ChurnRate},
		{analytics.MetricTrialConversionRate, &s.ConversionRate},
	} {
		v, _, err := a.repo.Value(ctx, tenantID, f.metric, b)
		if err != nil {
			return service.PeriodSnapshot{}, fmt.Errorf("snapshot %s: %w", f.metric, err)
		}
		*f.dst = v
	}
	return s, nil
}

func (a *Analytics) loadArtifacts(ctx context.Context, p Params, in *service.InsightInput) error {
	end := endOfDay(p.AsOf)
	var err error

	days := pick(a.settings.InsightAnomalyDays, 30)
	in.Anomalies, err = a.store.ListAnomalies(ctx, drepo.ArtifactFilter{
		TenantID: p.TenantID,
		From:     end.AddDate(0, 0, -days),
		To:       end,
	})
	if err != nil {
		return fmt.Errorf("list anomalies: %w", err)
	}

	in.Correlations, err = a.store.ListCorrelations(ctx, drepo.ArtifactFilter{TenantID: p.TenantID, From: p.AsOf, To: end})
	if err != nil {
		return fmt.Errorf("list correlations: %w", err)
	}

	in.Forecasts, err = a.store.ListForecastPoints(ctx, drepo.ArtifactFilter{
		TenantID: p.TenantID,
		Metric:   analytics.MetricMRR,
		Model:    a.settings.ForecastModel,
		From:     end,
	})
	if err != nil {
		return fmt.Errorf("list forecasts: %w", err)
	}

	in.Risk, err = a.store.ListRiskProfiles(ctx, drepo.ArtifactFilter{TenantID: p.TenantID, Model: RiskDelinquency})
	if err != nil {
		return fmt.Errorf("list risk profiles: %w", err)
	}

	in.Cohorts, err = a.store.ListCohortMetrics(ctx, drepo.ArtifactFilter{
		TenantID: p.TenantID,
		Metric:   analytics.DimensionAll,
		From:     end.AddDate(-1, 0, 0),
		To:       end,
	})
	if err != nil {
		return fmt.Errorf("list cohorts: %w", err)
	}
	return nil
}
