package usecase

import (
	"context"
	"time"

	"ClinicPulse/internal/domain/models"
	"ClinicPulse/internal/services/analytics"
	applogger "ClinicPulse/pkg/logger"
)

// Event severities.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// publish announces events after their artifacts are stored. A failed publish
// is logged and does not fail the run.
func (a *Analytics) publish(ctx context.Context, p Params, evs []models.ArtifactEvent) {
	if len(evs) == 0 {
		return
	}
	if err := a.events.PublishBatch(ctx, evs); err != nil {
		a.metrics.RecordError("publish_events")
		a.logger.Warn("artifact events not published",
			applogger.String("run_id", p.RunID),
			applogger.String("tenant_id", p.TenantID),
			applogger.Int("events", len(evs)),
			applogger.Error(err),
		)
	}
}

// anomalyEvents announces flagged anomalies on the latest bucket only, so
// reruns over the same history do not repeat older alerts.
func anomalyEvents(p Params, recs []models.AnomalyRecord, latest time.Time) []models.ArtifactEvent {
	var out []models.ArtifactEvent
	for _, r := range recs {
		if !r.IsAnomaly || !r.Date.Equal(latest) {
			continue
		}
		sev := SeverityInfo
		if r.Classification == models.AnomalyNegative {
			sev = SeverityWarning
		}
		out = append(out, models.ArtifactEvent{
			Kind:       models.EventAnomaly,
			TenantID:   r.TenantID,
			Key:        r.Metric + "|" + r.Date.UTC().Format(time.RFC3339),
			Severity:   sev,
			OccurredAt: p.AsOf,
			RunID:      p.RunID,
			Payload:    r,
		})
	}
	return out
}

func riskEvents(p Params, profiles []models.RiskProfile) []models.ArtifactEvent {
	var out []models.ArtifactEvent
	for _, r := range profiles {
		var sev string
		switch r.Tier {
		case analytics.TierHigh:
			sev = SeverityWarning
		case analytics.TierCritical:
			sev = SeverityCritical
		default:
			continue
		}
		out = append(out, models.ArtifactEvent{
			Kind:       models.EventRisk,
			TenantID:   r.TenantID,
			Key:        r.SubjectID + "|" + r.ModelVersion,
			Severity:   sev,
			OccurredAt: p.AsOf,
			RunID:      p.RunID,
			Payload:    r,
		})
	}
	return out
}

func insightEvents(p Params, insights []models.Insight) []models.ArtifactEvent {
	var out []models.ArtifactEvent
	for _, in := range insights {
		if in.Type != models.InsightWarning && in.Type != models.InsightCritical {
			continue
		}
		out = append(out, models.ArtifactEvent{
			Kind:       models.EventInsight,
			TenantID:   in.TenantID,
			Key:        in.RuleID + "|" + in.AsOf.UTC().Format(time.RFC3339),
			Severity:   in.Type,
			OccurredAt: p.AsOf,
			RunID:      p.RunID,
			Payload:    in,
		})
	}
	return out
}
