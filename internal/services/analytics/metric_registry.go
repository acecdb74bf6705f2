package analytics

import (
	"fmt"
	"sort"
	"sync"

	"ClinicPulse/internal/domain/models"
	"ClinicPulse/internal/domain/service"
)

// AggregateFunc computes a metric value for one bucket. ok=false means the bucket
// has no underlying facts and the definition's fill policy applies.
type AggregateFunc func(facts *models.FactSet, b models.Bucket) (value float64, ok bool)

type registeredMetric struct {
	def models.MetricDefinition
	fn  AggregateFunc
}

// MetricRegistry maps metric names to their definition and aggregation.
type MetricRegistry struct {
	mu      sync.RWMutex
	metrics map[string]registeredMetric
}

// NewMetricRegistry returns an empty registry.
func NewMetricRegistry() *MetricRegistry {
	return &MetricRegistry{metrics: make(map[string]registeredMetric)}
}

// Register adds or replaces a metric.
func (r *MetricRegistry) Register(def models.MetricDefinition, fn AggregateFunc) error {
	if def.Name == "" {
		return fmt.Errorf("register metric: name is required")
	}
	if fn == nil {
		return fmt.Errorf("register metric %s: aggregate func is required", def.Name)
	}
	if !models.IsValidGranularity(def.Granularity) {
		return fmt.Errorf("register metric %s: invalid granularity %q", def.Name, def.Granularity)
	}
	if def.Fill == "" {
		def.Fill = models.FillZero
	}
	r.mu.Lock()
	r.metrics[def.Name] = registeredMetric{def: def, fn: fn}
	r.mu.Unlock()
	return nil
}

// Lookup returns the definition and aggregation for name, or a ModelNotFound error.
func (r *MetricRegistry) Lookup(name string) (models.MetricDefinition, AggregateFunc, error) {
	r.mu.RLock()
	m, ok := r.metrics[name]
	r.mu.RUnlock()
	if !ok {
		return models.MetricDefinition{}, nil, service.ModelNotFound("unknown metric %q", name)
	}
	return m.def, m.fn, nil
}

// Definitions lists registered metrics sorted by name.
func (r *MetricRegistry) Definitions() []models.MetricDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]models.MetricDefinition, 0, len(r.metrics))
	for _, m := range r.metrics {
		out = append(out, m.def)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Built-in metric names.
const (
	MetricNewSubscriptions      = "new_subscriptions"
	MetricActiveSubscriptions   = "active_subscriptions"
	MetricMRR                   = "mrr"
	MetricARPU                  = "arpu"
	MetricCancellations         = "cancellations"
	MetricChurnRate             = "churn_rate"
	MetricTrialStarts           = "trial_starts"
	MetricTrialConversions      = "trial_conversions"
	MetricTrialConversionRate   = "trial_conversion_rate"
	MetricRevenue               = "revenue"
	MetricFailedPayments        = "failed_payments"
	MetricAppointmentsCompleted = "appointments_completed"
	MetricNoShowRate            = "no_show_rate"
)

// DefaultMetricRegistry returns a registry with the built-in clinic metrics.
func DefaultMetricRegistry() *MetricRegistry {
	r := NewMetricRegistry()
	for _, m := range builtinMetrics() {
		// built-ins are statically valid
		_ = r.Register(m.def, m.fn)
	}
	return r
}

func builtinMetrics() []registeredMetric {
	def := func(name string, kind models.MetricKind, src models.FactSource, agg string, g models.Granularity, fill models.FillPolicy) models.MetricDefinition {
		return models.MetricDefinition{Name: name, Kind: kind, Source: src, Aggregation: agg, Granularity: g, Fill: fill}
	}
	return []registeredMetric{
		{def(MetricNewSubscriptions, models.KindCount, models.SourceSubscriptions, "count", models.GranularityDaily, models.FillZero), newSubscriptions},
		{def(MetricActiveSubscriptions, models.KindCount, models.SourceSubscriptions, "count_active", models.GranularityDaily, models.FillZero), activeSubscriptions},
		{def(MetricMRR, models.KindCurrency, models.SourceSubscriptions, "sum_active", models.GranularityMonthly, models.FillZero), monthlyRecurringRevenue},
		{def(MetricARPU, models.KindCurrency, models.SourceSubscriptions, "ratio", models.GranularityMonthly, models.FillCarryForward), revenuePerSubscriber},
		{def(MetricCancellations, models.KindCount, models.SourceSubscriptions, "count", models.GranularityDaily, models.FillZero), cancellations},
		{def(MetricChurnRate, models.KindPercentage, models.SourceSubscriptions, "ratio", models.GranularityMonthly, models.FillCarryForward), churnRate},
		{def(MetricTrialStarts, models.KindCount, models.SourceTrials, "count", models.GranularityDaily, models.FillZero), trialStarts},
		{def(MetricTrialConversions, models.KindCount, models.SourceTrials, "count", models.GranularityDaily, models.FillZero), trialConversions},
		{def(MetricTrialConversionRate, models.KindPercentage, models.SourceTrials, "ratio", models.GranularityMonthly, models.FillCarryForward), trialConversionRate},
		{def(MetricRevenue, models.KindCurrency, models.SourcePayments, "sum", models.GranularityDaily, models.FillZero), collectedRevenue},
		{def(MetricFailedPayments, models.KindCount, models.SourcePayments, "count", models.GranularityDaily, models.FillZero), failedPayments},
		{def(MetricAppointmentsCompleted, models.KindCount, models.SourceAppointments, "count", models.GranularityDaily, models.FillZero), appointmentsCompleted},
		{def(MetricNoShowRate, models.KindPercentage, models.SourceAppointments, "ratio", models.GranularityWeekly, models.FillCarryForward), noShowRate},
	}
}

// activeAtClose reports whether s is still running at the end of b.
func activeAtClose(s models.Subscription, b models.Bucket) bool {
	return s.StartedAt.Before(b.End) && (s.EndedAt == nil || !s.EndedAt.Before(b.End))
}

func newSubscriptions(f *models.FactSet, b models.Bucket) (float64, bool) {
	n := 0
	for _, s := range f.Subscriptions {
		if b.Contains(s.StartedAt) {
			n++
		}
	}
	return float64(n), true
}

func activeSubscriptions(f *models.FactSet, b models.Bucket) (float64, bool) {
	n := 0
	for _, s := range f.Subscriptions {
		if activeAtClose(s, b) {
			n++
		}
	}
	return float64(n), true
}

func monthlyRecurringRevenue(f *models.FactSet, b models.Bucket) (float64, bool) {
	sum := 0.0
	for _, s := range f.Subscriptions {
		if activeAtClose(s, b) {
			sum += s.Amount
		}
	}
	return sum, true
}

func revenuePerSubscriber(f *models.FactSet, b models.Bucket) (float64, bool) {
	active, _ := activeSubscriptions(f, b)
	if active == 0 {
		return 0, false
	}
	mrr, _ := monthlyRecurringRevenue(f, b)
	return mrr / active, true
}

func cancellations(f *models.FactSet, b models.Bucket) (float64, bool) {
	n := 0
	for _, s := range f.Subscriptions {
		if s.EndedAt != nil && b.Contains(*s.EndedAt) {
			n++
		}
	}
	return float64(n), true
}

// churnRate is cancellations in the bucket over subscriptions active when it opened.
func churnRate(f *models.FactSet, b models.Bucket) (float64, bool) {
	base, churned := 0, 0
	for _, s := range f.Subscriptions {
		if !s.ActiveAt(b.Start) {
			continue
		}
		base++
		if s.EndedAt != nil && s.EndedAt.Before(b.End) {
			churned++
		}
	}
	if base == 0 {
		return 0, false
	}
	return float64(churned) / float64(base), true
}

func trialStarts(f *models.FactSet, b models.Bucket) (float64, bool) {
	n := 0
	for _, t := range f.Trials {
		if b.Contains(t.StartedAt) {
			n++
		}
	}
	return float64(n), true
}

func trialConversions(f *models.FactSet, b models.Bucket) (float64, bool) {
	n := 0
	for _, t := range f.Trials {
		if t.ConvertedAt != nil && b.Contains(*t.ConvertedAt) {
			n++
		}
	}
	return float64(n), true
}

// trialConversionRate is the share of trials started in the bucket that converted.
func trialConversionRate(f *models.FactSet, b models.Bucket) (float64, bool) {
	started, converted := 0, 0
	for _, t := range f.Trials {
		if !b.Contains(t.StartedAt) {
			continue
		}
		started++
		if t.ConvertedAt != nil {
			converted++
		}
	}
	if started == 0 {
		return 0, false
	}
	return float64(converted) / float64(started), true
}

func collectedRevenue(f *models.FactSet, b models.Bucket) (float64, bool) {
	sum := 0.0
	for _, p := range f.Payments {
		if p.PaidAt != nil && b.Contains(*p.PaidAt) {
			sum += p.Amount
		}
	}
	return sum, true
}

func failedPayments(f *models.FactSet, b models.Bucket) (float64, bool) {
	n := 0
	for _, p := range f.Payments {
		if p.Status == models.PaymentFailed && b.Contains(p.DueAt) {
			n++
		}
	}
	return float64(n), true
}

func appointmentsCompleted(f *models.FactSet, b models.Bucket) (float64, bool) {
	n := 0
	for _, a := range f.Appointments {
		if a.Status == models.AppointmentCompleted && b.Contains(a.ScheduledAt) {
			n++
		}
	}
	return float64(n), true
}

func noShowRate(f *models.FactSet, b models.Bucket) (float64, bool) {
	attended, missed := 0, 0
	for _, a := range f.Appointments {
		if !b.Contains(a.ScheduledAt) {
			continue
		}
		switch a.Status {
		case models.AppointmentCompleted:
			attended++
		case models.AppointmentNoShow:
			missed++
		}
	}
	if attended+missed == 0 {
		return 0, false
	}
	return float64(missed) / float64(attended+missed), true
}
