package models

import "time"

// Requests for the recompute and artifact HTTP endpoints. Defined in domain so the
// Kafka and queue triggers bind the same shape.

// Recompute entry names.
const (
	EntryObservations = "observations"
	EntryForecast     = "forecast"
	EntryCohorts      = "cohorts"
	EntryAnomalies    = "anomalies"
	EntryCorrelations = "correlations"
	EntryRisk         = "risk"
	EntryInsights     = "insights"
)

// RecomputeTrigger asks for one entry point to run. An empty TenantID fans out to every tenant.
type RecomputeTrigger struct {
	Entry       string    `param:"entry" json:"entry" validate:"required,oneof=observations forecast cohorts anomalies correlations risk insights"`
	TenantID    string    `json:"tenant_id"`
	Metrics     []string  `json:"metrics,omitempty"`
	AsOf        time.Time `json:"as_of" validate:"required"`
	Horizon     int       `json:"horizon,omitempty" validate:"gte=0,lte=36"`
	Window      int       `json:"window,omitempty" validate:"gte=0,lte=730"`
	Granularity string    `json:"granularity,omitempty" validate:"omitempty,oneof=daily weekly monthly"`
	Model       string    `json:"model,omitempty"`
	Dimension   string    `json:"dimension,omitempty"`
}

type InsightsRequest struct {
	TenantID string `query:"tenant_id" json:"tenant_id" validate:"required"`
	AsOf     string `query:"as_of" json:"as_of"`
}

type AnomaliesRequest struct {
	TenantID string `query:"tenant_id" json:"tenant_id" validate:"required"`
	Metric   string `query:"metric" json:"metric"`
	From     string `query:"from" json:"from"`
	To       string `query:"to" json:"to"`
	Flagged  bool   `query:"flagged" json:"flagged"`
	Limit    int    `query:"limit" json:"limit" default:"500" validate:"gte=1,lte=5000"`
}

type RiskRequest struct {
	TenantID string `query:"tenant_id" json:"tenant_id" validate:"required"`
	Model    string `query:"model" json:"model" default:"delinquency" validate:"oneof=delinquency trial_conversion"`
	Tier     string `query:"tier" json:"tier"`
}

type ForecastsRequest struct {
	TenantID string `query:"tenant_id" json:"tenant_id" validate:"required"`
	Metric   string `query:"metric" json:"metric" validate:"required"`
	Model    string `query:"model" json:"model" default:"linear"`
}

type CohortsRequest struct {
	TenantID  string `query:"tenant_id" json:"tenant_id" validate:"required"`
	Dimension string `query:"dimension" json:"dimension" default:"all"`
	From      string `query:"from" json:"from"`
	To        string `query:"to" json:"to"`
}

type CorrelationsRequest struct {
	TenantID string `query:"tenant_id" json:"tenant_id" validate:"required"`
	Metric   string `query:"metric" json:"metric"`
	From     string `query:"from" json:"from"`
	To       string `query:"to" json:"to"`
	// Significant drops results below the 90% bucket and degenerate pairs.
	Significant bool `query:"significant" json:"significant"`
}

// RecomputeResponse is returned by every recompute entry point.
type RecomputeResponse struct {
	RunID   string            `json:"run_id"`
	Entry   string            `json:"entry"`
	Written int               `json:"written"`
	Failed  int               `json:"failed"`
	Errors  map[string]string `json:"errors,omitempty"`
	// Skipped lists metrics that produced nothing, keyed "<tenant>/<metric>".
	Skipped map[string]string `json:"skipped,omitempty"`
}
