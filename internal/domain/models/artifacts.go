package models

import "time"

// ForecastPoint is one projected value. Natural key: (Metric, TenantID, TargetDate, ModelVersion).
type ForecastPoint struct {
	Metric       string    `json:"metric"`
	TenantID     string    `json:"tenant_id"`
	TargetDate   time.Time `json:"target_date"`
	ModelVersion string    `json:"model_version"`
	Predicted    float64   `json:"predicted"`
	Lower        float64   `json:"lower"`
	Upper        float64   `json:"upper"`
	GeneratedAt  time.Time `json:"generated_at"`
}

// Cohort is an acquisition-window group of subjects. Membership is frozen at definition.
type Cohort struct {
	TenantID    string      `json:"tenant_id"`
	Start       time.Time   `json:"start"`
	End         time.Time   `json:"end"`
	Granularity Granularity `json:"granularity"`
	Dimension   string      `json:"dimension"`
	Size        int         `json:"size"`
}

// CohortPeriodMetric is keyed by (TenantID, CohortStart, Dimension, Period).
type CohortPeriodMetric struct {
	TenantID          string    `json:"tenant_id"`
	CohortStart       time.Time `json:"cohort_start"`
	Dimension         string    `json:"dimension"`
	Period            int       `json:"period"`
	CohortSize        int       `json:"cohort_size"`
	ActiveCount       int       `json:"active_count"`
	Revenue           float64   `json:"revenue"`
	CumulativeRevenue float64   `json:"cumulative_revenue"`
	ChurnCount        int       `json:"churn_count"`
	UpgradeCount      int       `json:"upgrade_count"`
	DowngradeCount    int       `json:"downgrade_count"`
	RetentionRate     float64   `json:"retention_rate"`
}

// Anomaly classifications.
const (
	AnomalyPositive = "positive"
	AnomalyNegative = "negative"
	AnomalyNormal   = "normal"
)

// AnomalyRecord is keyed by (Metric, TenantID, Date).
type AnomalyRecord struct {
	Metric         string    `json:"metric"`
	TenantID       string    `json:"tenant_id"`
	Date           time.Time `json:"date"`
	Actual         float64   `json:"actual"`
	Expected       float64   `json:"expected"`
	ZScore         float64   `json:"z_score"`
	IsAnomaly      bool      `json:"is_anomaly"`
	Classification string    `json:"classification"`
}

// Significance buckets.
const (
	SignificanceNone = "not_significant"
	Significance90   = "90%"
	Significance95   = "95%"
	Significance99   = "99%"
)

// CorrelationResult is keyed by (TenantID, MetricX, MetricY, Window, AsOf) with MetricX < MetricY.
type CorrelationResult struct {
	TenantID     string    `json:"tenant_id"`
	MetricX      string    `json:"metric_x"`
	MetricY      string    `json:"metric_y"`
	Window       int       `json:"window"`
	AsOf         time.Time `json:"as_of"`
	Coefficient  float64   `json:"coefficient"`
	SampleSize   int       `json:"sample_size"`
	TStat        float64   `json:"t_stat"`
	Significance string    `json:"significance"`
	PValueBound  float64   `json:"p_value_bound"`
	Strength     string    `json:"strength"`
	Degenerate   bool      `json:"degenerate"`
}

// RiskProfile is keyed by (TenantID, SubjectID, ModelVersion).
type RiskProfile struct {
	TenantID     string             `json:"tenant_id"`
	SubjectID    string             `json:"subject_id"`
	ModelVersion string             `json:"model_version"`
	Factors      map[string]float64 `json:"factors"`
	Score        float64            `json:"score"`
	Tier         string             `json:"tier"`
	ComputedAt   time.Time          `json:"computed_at"`
}

// Insight types.
const (
	InsightPositive = "positive"
	InsightWarning  = "warning"
	InsightCritical = "critical"
)

// Insight priorities.
const (
	PriorityLow    = "low"
	PriorityMedium = "medium"
	PriorityHigh   = "high"
)

// Insight is replaced as a set per (TenantID, AsOf).
type Insight struct {
	TenantID   string    `json:"tenant_id"`
	AsOf       time.Time `json:"as_of"`
	RuleID     string    `json:"rule_id"`
	Category   string    `json:"category"`
	Type       string    `json:"type"`
	Message    string    `json:"message"`
	Confidence int       `json:"confidence"`
	Action     string    `json:"action"`
	Priority   string    `json:"priority"`
}
