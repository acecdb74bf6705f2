package models

import "time"

// MetricKind is the value kind of a metric.
type MetricKind string

const (
	KindCount      MetricKind = "count"
	KindCurrency   MetricKind = "currency"
	KindPercentage MetricKind = "percentage"
)

// FactSource names the fact entity a metric aggregates over.
type FactSource string

const (
	SourceSubscriptions FactSource = "subscriptions"
	SourceTrials        FactSource = "trials"
	SourcePayments      FactSource = "payments"
	SourceAppointments  FactSource = "appointments"
)

// FillPolicy decides what a bucket without underlying facts holds.
type FillPolicy string

const (
	FillZero         FillPolicy = "zero"
	FillCarryForward FillPolicy = "carry_forward"
)

// MetricDefinition is static reference data describing a named metric.
type MetricDefinition struct {
	Name        string      `json:"name"`
	Kind        MetricKind  `json:"kind"`
	Source      FactSource  `json:"source"`
	Aggregation string      `json:"aggregation"`
	Granularity Granularity `json:"granularity"`
	Fill        FillPolicy  `json:"fill"`
}

// Bucket is a half-open time interval [Start, End).
type Bucket struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Contains reports whether t falls inside the bucket.
func (b Bucket) Contains(t time.Time) bool {
	return !t.Before(b.Start) && t.Before(b.End)
}

// Observation is one bucketed value of a metric for a tenant.
// Natural key: (Metric, TenantID, Bucket).
type Observation struct {
	Metric      string             `json:"metric"`
	TenantID    string             `json:"tenant_id"`
	Granularity Granularity        `json:"granularity"`
	Bucket      time.Time          `json:"bucket"`
	Value       float64            `json:"value"`
	Dimensions  map[string]float64 `json:"dimensions,omitempty"`
}

// TimeSeries is a dense, ordered run of observations.
type TimeSeries struct {
	Metric      string        `json:"metric"`
	TenantID    string        `json:"tenant_id"`
	Granularity Granularity   `json:"granularity"`
	Points      []Observation `json:"points"`
}

// Values returns the observation values in bucket order.
func (s TimeSeries) Values() []float64 {
	out := make([]float64, len(s.Points))
	for i, p := range s.Points {
		out[i] = p.Value
	}
	return out
}

// Last returns the latest observation, if any.
func (s TimeSeries) Last() (Observation, bool) {
	if len(s.Points) == 0 {
		return Observation{}, false
	}
	return s.Points[len(s.Points)-1], true
}

// Tail returns a series restricted to its trailing n points.
func (s TimeSeries) Tail(n int) TimeSeries {
	if n <= 0 || n >= len(s.Points) {
		return s
	}
	out := s
	out.Points = s.Points[len(s.Points)-n:]
	return out
}
