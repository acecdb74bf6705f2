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

func ruleIDs(ins []models.Insight) []string {
	out := make([]string, 0, len(ins))
	for _, i := range ins {
		out = append(out, i.RuleID)
	}
	return out
}

func TestGenerateNoBreach(t *testing.T) {
	g := NewRuleInsightGenerator(DefaultInsightThresholds())
	snap := service.PeriodSnapshot{Subscriptions: 100, Revenue: 8000, ChurnRate: 0.05, ConversionRate: 0.3}

	out, err := g.Generate(context.Background(), service.InsightInput{TenantID: "t1", Current: snap, Prior: snap})
	require.NoError(t, err)
	assert.NotNil(t, out)
	assert.Empty(t, out)
}

func TestGenerateGrowthRules(t *testing.T) {
	asOf := time.Date(2024, 6, 30, 0, 0, 0, 0, time.UTC)
	g := NewRuleInsightGenerator(DefaultInsightThresholds())

	out, err := g.Generate(context.Background(), service.InsightInput{
		TenantID: "t1",
		AsOf:     asOf,
		Current:  service.PeriodSnapshot{Subscriptions: 130, Revenue: 13000, ChurnRate: 0.10, ConversionRate: 0.30},
		Prior:    service.PeriodSnapshot{Subscriptions: 100, Revenue: 10000, ChurnRate: 0.05, ConversionRate: 0.30},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"subscription_growth", "churn_increase"}, ruleIDs(out))

	growth := out[0]
	assert.Equal(t, models.InsightPositive, growth.Type)
	assert.Equal(t, "Active subscriptions grew 30.0% over the prior period", growth.Message)
	assert.Equal(t, asOf, growth.AsOf)
	assert.Equal(t, "t1", growth.TenantID)
	assert.Equal(t, models.InsightCritical, out[1].Type)
	assert.Equal(t, models.PriorityHigh, out[1].Priority)
}

func TestGenerateSkipsZeroPrior(t *testing.T) {
	g := NewRuleInsightGenerator(DefaultInsightThresholds())
	out, err := g.Generate(context.Background(), service.InsightInput{
		Current: service.PeriodSnapshot{Subscriptions: 40, Revenue: 4000, ChurnRate: 0.2, ConversionRate: 0.5},
	})
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestGenerateArtifactRules(t *testing.T) {
	day := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	snap := service.PeriodSnapshot{Subscriptions: 100, Revenue: 10000}
	risk := []models.RiskProfile{
		{ModelVersion: DelinquencyModelVersion, Tier: TierCritical},
		{ModelVersion: DelinquencyModelVersion, Tier: TierLow},
		{ModelVersion: DelinquencyModelVersion, Tier: TierLow},
		{ModelVersion: ConversionModelVersion, Tier: TierUnlikely},
	}

	out, err := NewRuleInsightGenerator(DefaultInsightThresholds()).Generate(context.Background(), service.InsightInput{
		TenantID: "t1",
		Current:  snap,
		Prior:    snap,
		Anomalies: []models.AnomalyRecord{
			{Metric: MetricRevenue, IsAnomaly: true, Classification: models.AnomalyNegative},
			{Metric: MetricNoShowRate, IsAnomaly: true, Classification: models.AnomalyPositive},
		},
		Correlations: []models.CorrelationResult{
			{MetricX: MetricNewSubscriptions, MetricY: MetricTrialStarts, Coefficient: 0.91, Strength: "strong", Significance: models.Significance99},
			{MetricX: "a", MetricY: "b", Coefficient: 0.95, Strength: "strong", Significance: models.Significance90},
		},
		Forecasts: []models.ForecastPoint{
			{Metric: MetricRevenue, TargetDate: day.AddDate(0, 2, 0), Predicted: 12000},
			{Metric: MetricRevenue, TargetDate: day.AddDate(0, 1, 0), Predicted: 9000},
		},
		Risk: risk,
		Cohorts: []models.CohortPeriodMetric{
			{CohortStart: day.AddDate(0, -4, 0), Period: 3, RetentionRate: 0.55},
			{CohortStart: day.AddDate(0, -5, 0), Period: 3, RetentionRate: 0.75},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{
		"negative_anomalies",
		"strong_correlation",
		"forecast_decline",
		"critical_delinquency",
		"weak_retention",
	}, ruleIDs(out))

	assert.Equal(t, "Unusual drops detected in revenue", out[0].Message)
	assert.Contains(t, out[1].Message, "r=0.91")
	assert.Equal(t, "revenue is projected to fall 10.0% next period", out[2].Message)
	assert.Equal(t, "33.3% of paying subjects are at critical delinquency risk", out[3].Message)
	assert.Equal(t, "Cohort starting 2024-02 retains only 55% by period 3", out[4].Message)
}
