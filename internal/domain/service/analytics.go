package service

import (
	"context"
	"time"

	"ClinicPulse/internal/domain/models"
)

// SeriesRequest selects a metric series for one tenant over [From, To).
type SeriesRequest struct {
	TenantID    string
	Metric      string
	From        time.Time
	To          time.Time
	Granularity models.Granularity
}

// TimeSeriesBuilder assembles a dense, gap-filled, tagged observation series.
type TimeSeriesBuilder interface {
	Build(ctx context.Context, req SeriesRequest) (models.TimeSeries, error)
}

// Prediction is one projected step produced by a ForecastModel.
type Prediction struct {
	Step      int
	Predicted float64
	Lower     float64
	Upper     float64
}

// ForecastModel is a pluggable projection strategy.
type ForecastModel interface {
	Name() string
	Version() string
	MinPoints() int
	Predict(history []float64, horizon int) ([]Prediction, error)
}

type ForecastParams struct {
	Model    string
	Lookback int
	Horizon  int
	AsOf     time.Time
}

// ForecastEngine projects a series forward with confidence bounds.
type ForecastEngine interface {
	Forecast(ctx context.Context, series models.TimeSeries, p ForecastParams) ([]models.ForecastPoint, error)
}

type CohortParams struct {
	TenantID    string
	Window      models.Bucket
	Granularity models.Granularity
	Periods     int
	Dimension   string
	AsOf        time.Time
}

// CohortEngine tracks one acquisition cohort across relative periods.
type CohortEngine interface {
	Analyze(ctx context.Context, subs []models.Subscription, p CohortParams) (*models.Cohort, []models.CohortPeriodMetric, error)
}

// BaselineMode selects which points form the rolling anomaly baseline.
type BaselineMode string

const (
	// BaselineIncludeCurrent keeps the evaluated point inside its own window.
	BaselineIncludeCurrent BaselineMode = "include_current"
	BaselineExcludeCurrent BaselineMode = "exclude_current"
)

type AnomalyParams struct {
	Window    int
	Threshold float64
	Baseline  BaselineMode
}

// AnomalyDetector scores every point of a series against a rolling baseline.
type AnomalyDetector interface {
	Detect(ctx context.Context, series models.TimeSeries, p AnomalyParams) ([]models.AnomalyRecord, error)
}

type CorrelationParams struct {
	Window int
	AsOf   time.Time
}

// CorrelationEngine measures association between two aligned series.
type CorrelationEngine interface {
	Correlate(ctx context.Context, x, y models.TimeSeries, p CorrelationParams) (models.CorrelationResult, error)
}

// SubjectScorer produces one risk profile per subject found in the facts.
type SubjectScorer interface {
	ModelVersion() string
	ScoreSubjects(ctx context.Context, tenantID string, facts *models.FactSet, asOf time.Time) ([]models.RiskProfile, error)
}

// PeriodSnapshot carries the headline numbers of one period for insight rules.
type PeriodSnapshot struct {
	Subscriptions  float64
	Revenue        float64
	ChurnRate      float64
	ConversionRate float64
}

// RevenuePerSubscriber returns revenue divided by subscriptions, 0 when there are none.
func (s PeriodSnapshot) RevenuePerSubscriber() float64 {
	if s.Subscriptions == 0 {
		return 0
	}
	return s.Revenue / s.Subscriptions
}

// InsightInput is everything the insight rules read.
type InsightInput struct {
	TenantID     string
	AsOf         time.Time
	Current      PeriodSnapshot
	Prior        PeriodSnapshot
	Anomalies    []models.AnomalyRecord
	Correlations []models.CorrelationResult
	Forecasts    []models.ForecastPoint
	Risk         []models.RiskProfile
	Cohorts      []models.CohortPeriodMetric
}

// InsightGenerator turns growth signals and artifacts into business insights.
type InsightGenerator interface {
	Generate(ctx context.Context, in InsightInput) ([]models.Insight, error)
}
