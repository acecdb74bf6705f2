package analytics

import (
	"context"
	"fmt"
	"time"

	"ClinicPulse/internal/domain/models"
	domrepo "ClinicPulse/internal/domain/repository"
	"ClinicPulse/internal/domain/service"
)

// MetricRepository turns raw facts into bucketed, tenant-scoped metric values.
type MetricRepository struct {
	data     domrepo.DataAccess
	registry *MetricRegistry
}

func NewMetricRepository(data domrepo.DataAccess, registry *MetricRegistry) *MetricRepository {
	if registry == nil {
		registry = DefaultMetricRegistry()
	}
	return &MetricRepository{data: data, registry: registry}
}

// Registry exposes the metric registry for extension.
func (r *MetricRepository) Registry() *MetricRegistry { return r.registry }

// Definition resolves a metric name.
func (r *MetricRepository) Definition(name string) (models.MetricDefinition, AggregateFunc, error) {
	return r.registry.Lookup(name)
}

// Facts loads only the fact entity a metric needs.
func (r *MetricRepository) Facts(ctx context.Context, tenantID string, src models.FactSource, from, to time.Time) (*models.FactSet, error) {
	fs := &models.FactSet{}
	var err error
	switch src {
	case models.SourceSubscriptions:
		fs.Subscriptions, err = r.data.Subscriptions(ctx, tenantID, from, to)
	case models.SourceTrials:
		fs.Trials, err = r.data.Trials(ctx, tenantID, from, to)
	case models.SourcePayments:
		fs.Payments, err = r.data.Payments(ctx, tenantID, from, to)
	case models.SourceAppointments:
		fs.Appointments, err = r.data.Appointments(ctx, tenantID, from, to)
	default:
		return nil, service.ModelNotFound("unknown fact source %q", src)
	}
	if err != nil {
		return nil, fmt.Errorf("load %s facts: %w", src, err)
	}
	return fs, nil
}

// FirstFactAt reports when the tenant's history for src begins.
func (r *MetricRepository) FirstFactAt(ctx context.Context, tenantID string, src models.FactSource) (time.Time, bool, error) {
	first, ok, err := r.data.FirstFactAt(ctx, tenantID, src)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("first %s fact: %w", src, err)
	}
	return first, ok, nil
}

// Events loads calendar events overlapping the range.
func (r *MetricRepository) Events(ctx context.Context, tenantID string, from, to time.Time) ([]models.CalendarEvent, error) {
	evs, err := r.data.CalendarEvents(ctx, tenantID, from, to)
	if err != nil {
		return nil, fmt.Errorf("load calendar events: %w", err)
	}
	return evs, nil
}

// Value computes one metric value for a bucket.
func (r *MetricRepository) Value(ctx context.Context, tenantID, metric string, b models.Bucket) (float64, bool, error) {
	def, fn, err := r.registry.Lookup(metric)
	if err != nil {
		return 0, false, err
	}
	facts, err := r.Facts(ctx, tenantID, def.Source, b.Start, b.End)
	if err != nil {
		return 0, false, err
	}
	v, ok := fn(facts, b)
	return v, ok, nil
}
