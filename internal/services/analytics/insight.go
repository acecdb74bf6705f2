package analytics

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"ClinicPulse/internal/domain/models"
	"ClinicPulse/internal/domain/service"
)

// InsightThresholds are the relative-change cutoffs of the growth rules.
type InsightThresholds struct {
	SubscriptionGrowth  float64
	SubscriptionDecline float64
	ARPUChange          float64
	ChurnIncrease       float64
	ChurnDecrease       float64
	ConversionChange    float64
	CriticalRiskShare   float64
	WeakRetention       float64
	ForecastDecline     float64
}

// DefaultInsightThresholds returns the stock cutoffs.
func DefaultInsightThresholds() InsightThresholds {
	return InsightThresholds{
		SubscriptionGrowth:  0.20,
		SubscriptionDecline: 0.10,
		ARPUChange:          0.10,
		ChurnIncrease:       0.25,
		ChurnDecrease:       0.20,
		ConversionChange:    0.15,
		CriticalRiskShare:   0.10,
		WeakRetention:       0.60,
		ForecastDecline:     0.05,
	}
}

// insightRule fires at most once per run. check returns the message args when breached.
type insightRule struct {
	id         string
	category   string
	kind       string
	confidence int
	priority   string
	action     string
	message    string
	check      func(in service.InsightInput, th InsightThresholds) ([]interface{}, bool)
}

// relChange returns (cur-prior)/prior; ok is false when prior is 0.
func relChange(cur, prior float64) (float64, bool) {
	if prior == 0 {
		return 0, false
	}
	return (cur - prior) / math.Abs(prior), true
}

func growth(pick func(service.PeriodSnapshot) float64, fires func(ch float64, th InsightThresholds) bool) func(service.InsightInput, InsightThresholds) ([]interface{}, bool) {
	return func(in service.InsightInput, th InsightThresholds) ([]interface{}, bool) {
		ch, ok := relChange(pick(in.Current), pick(in.Prior))
		if !ok || !fires(ch, th) {
			return nil, false
		}
		return []interface{}{math.Abs(ch) * 100}, true
	}
}

var (
	pickSubs       = func(s service.PeriodSnapshot) float64 { return s.Subscriptions }
	pickARPU       = func(s service.PeriodSnapshot) float64 { return s.RevenuePerSubscriber() }
	pickChurn      = func(s service.PeriodSnapshot) float64 { return s.ChurnRate }
	pickConversion = func(s service.PeriodSnapshot) float64 { return s.ConversionRate }
)

var insightRules = []insightRule{
	{
		id: "subscription_growth", category: "growth", kind: models.InsightPositive,
		confidence: 85, priority: models.PriorityMedium,
		message: "Active subscriptions grew %.1f%% over the prior period",
		action:  "Scale onboarding and scheduling capacity to absorb new patients",
		check:   growth(pickSubs, func(ch float64, th InsightThresholds) bool { return ch > th.SubscriptionGrowth }),
	},
	{
		id: "subscription_decline", category: "growth", kind: models.InsightCritical,
		confidence: 90, priority: models.PriorityHigh,
		message: "Active subscriptions fell %.1f%% over the prior period",
		action:  "Review recent cancellations and contact lapsed patients",
		check:   growth(pickSubs, func(ch float64, th InsightThresholds) bool { return ch < -th.SubscriptionDecline }),
	},
	{
		id: "arpu_increase", category: "revenue", kind: models.InsightPositive,
		confidence: 75, priority: models.PriorityLow,
		message: "Revenue per subscriber rose %.1f%%",
		action:  "Identify the plans driving the increase and promote them",
		check:   growth(pickARPU, func(ch float64, th InsightThresholds) bool { return ch > th.ARPUChange }),
	},
	{
		id: "arpu_decrease", category: "revenue", kind: models.InsightWarning,
		confidence: 75, priority: models.PriorityMedium,
		message: "Revenue per subscriber dropped %.1f%%",
		action:  "Check discounting and plan downgrades in the last period",
		check:   growth(pickARPU, func(ch float64, th InsightThresholds) bool { return ch < -th.ARPUChange }),
	},
	{
		id: "churn_increase", category: "retention", kind: models.InsightCritical,
		confidence: 88, priority: models.PriorityHigh,
		message: "Churn rate increased %.1f%% relative to the prior period",
		action:  "Launch a retention campaign for subscribers nearing renewal",
		check:   growth(pickChurn, func(ch float64, th InsightThresholds) bool { return ch > th.ChurnIncrease }),
	},
	{
		id: "churn_decrease", category: "retention", kind: models.InsightPositive,
		confidence: 80, priority: models.PriorityLow,
		message: "Churn rate improved %.1f%% relative to the prior period",
		action:  "Document what changed and keep the retention playbook running",
		check:   growth(pickChurn, func(ch float64, th InsightThresholds) bool { return ch < -th.ChurnDecrease }),
	},
	{
		id: "conversion_increase", category: "conversion", kind: models.InsightPositive,
		confidence: 78, priority: models.PriorityMedium,
		message: "Trial conversion rate rose %.1f%%",
		action:  "Extend the trial onboarding flow that is currently converting",
		check:   growth(pickConversion, func(ch float64, th InsightThresholds) bool { return ch > th.ConversionChange }),
	},
	{
		id: "conversion_decrease", category: "conversion", kind: models.InsightWarning,
		confidence: 82, priority: models.PriorityMedium,
		message: "Trial conversion rate fell %.1f%%",
		action:  "Follow up with active trials that have low engagement",
		check:   growth(pickConversion, func(ch float64, th InsightThresholds) bool { return ch < -th.ConversionChange }),
	},
	{
		id: "negative_anomalies", category: "anomaly", kind: models.InsightWarning,
		confidence: 70, priority: models.PriorityMedium,
		message: "Unusual drops detected in %s",
		action:  "Verify data feeds and investigate the flagged dates",
		check:   negativeAnomalies,
	},
	{
		id: "strong_correlation", category: "correlation", kind: models.InsightPositive,
		confidence: 65, priority: models.PriorityLow,
		message: "%s and %s move together (r=%.2f, %s)",
		action:  "Use the leading metric as an early signal in planning",
		check:   strongestCorrelation,
	},
	{
		id: "forecast_decline", category: "forecast", kind: models.InsightWarning,
		confidence: 65, priority: models.PriorityHigh,
		message: "%s is projected to fall %.1f%% next period",
		action:  "Plan acquisition spend before the projected dip",
		check:   forecastDecline,
	},
	{
		id: "critical_delinquency", category: "billing", kind: models.InsightCritical,
		confidence: 85, priority: models.PriorityHigh,
		message: "%.1f%% of paying subjects are at critical delinquency risk",
		action:  "Start dunning outreach and offer payment plans",
		check:   criticalDelinquency,
	},
	{
		id: "weak_retention", category: "retention", kind: models.InsightWarning,
		confidence: 72, priority: models.PriorityMedium,
		message: "Cohort starting %s retains only %.0f%% by period 3",
		action:  "Review the first-quarter experience for that acquisition cohort",
		check:   weakRetention,
	},
}

func negativeAnomalies(in service.InsightInput, _ InsightThresholds) ([]interface{}, bool) {
	seen := make(map[string]bool)
	for _, a := range in.Anomalies {
		if a.IsAnomaly && a.Classification == models.AnomalyNegative {
			seen[a.Metric] = true
		}
	}
	if len(seen) == 0 {
		return nil, false
	}
	names := make([]string, 0, len(seen))
	for m := range seen {
		names = append(names, m)
	}
	sort.Strings(names)
	return []interface{}{strings.Join(names, ", ")}, true
}

func strongestCorrelation(in service.InsightInput, _ InsightThresholds) ([]interface{}, bool) {
	var best *models.CorrelationResult
	for i := range in.Correlations {
		c := &in.Correlations[i]
		if c.Degenerate || c.Strength != "strong" {
			continue
		}
		if c.Significance != models.Significance95 && c.Significance != models.Significance99 {
			continue
		}
		if best == nil || math.Abs(c.Coefficient) > math.Abs(best.Coefficient) {
			best = c
		}
	}
	if best == nil {
		return nil, false
	}
	return []interface{}{best.MetricX, best.MetricY, best.Coefficient, best.Significance}, true
}

func forecastDecline(in service.InsightInput, th InsightThresholds) ([]interface{}, bool) {
	if len(in.Forecasts) == 0 || in.Current.Revenue == 0 {
		return nil, false
	}
	next := in.Forecasts[0]
	for _, f := range in.Forecasts[1:] {
		if f.TargetDate.Before(next.TargetDate) {
			next = f
		}
	}
	ch, ok := relChange(next.Predicted, in.Current.Revenue)
	if !ok || ch >= -th.ForecastDecline {
		return nil, false
	}
	return []interface{}{next.Metric, -ch * 100}, true
}

func criticalDelinquency(in service.InsightInput, th InsightThresholds) ([]interface{}, bool) {
	total, critical := 0, 0
	for _, p := range in.Risk {
		if p.ModelVersion != DelinquencyModelVersion {
			continue
		}
		total++
		if p.Tier == TierCritical {
			critical++
		}
	}
	if total == 0 {
		return nil, false
	}
	share := float64(critical) / float64(total)
	if share <= th.CriticalRiskShare {
		return nil, false
	}
	return []interface{}{share * 100}, true
}

func weakRetention(in service.InsightInput, th InsightThresholds) ([]interface{}, bool) {
	var worst *models.CohortPeriodMetric
	for i := range in.Cohorts {
		c := &in.Cohorts[i]
		if c.Period != 3 || c.RetentionRate >= th.WeakRetention {
			continue
		}
		if worst == nil || c.RetentionRate < worst.RetentionRate {
			worst = c
		}
	}
	if worst == nil {
		return nil, false
	}
	return []interface{}{worst.CohortStart.Format("2006-01"), worst.RetentionRate * 100}, true
}

// RuleInsightGenerator implements service.InsightGenerator over a fixed rule table.
type RuleInsightGenerator struct {
	thresholds InsightThresholds
}

func NewRuleInsightGenerator(th InsightThresholds) *RuleInsightGenerator {
	return &RuleInsightGenerator{thresholds: th}
}

var _ service.InsightGenerator = (*RuleInsightGenerator)(nil)

// Generate evaluates every rule in order. No breach yields an empty list.
func (g *RuleInsightGenerator) Generate(ctx context.Context, in service.InsightInput) ([]models.Insight, error) {
	out := make([]models.Insight, 0, 4)
	for _, r := range insightRules {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		args, ok := r.check(in, g.thresholds)
		if !ok {
			continue
		}
		out = append(out, models.Insight{
			TenantID:   in.TenantID,
			AsOf:       in.AsOf,
			RuleID:     r.id,
			Category:   r.category,
			Type:       r.kind,
			Message:    fmt.Sprintf(r.message, args...),
			Confidence: r.confidence,
			Action:     r.action,
			Priority:   r.priority,
		})
	}
	return out, nil
}
