package repository

import (
	"context"
	"time"

	"ClinicPulse/internal/domain/models"
)

// DataAccess is the read-only view over the clinic platform's transactional facts.
// Every accessor is scoped by tenant and the half-open range [from, to).
type DataAccess interface {
	Tenants(ctx context.Context) ([]models.Tenant, error)
	// Subscriptions returns subscriptions overlapping the range.
	Subscriptions(ctx context.Context, tenantID string, from, to time.Time) ([]models.Subscription, error)
	// Trials returns trials started before to that were still running or converted on or after from.
	Trials(ctx context.Context, tenantID string, from, to time.Time) ([]models.Trial, error)
	// Payments returns payments due or paid inside the range.
	Payments(ctx context.Context, tenantID string, from, to time.Time) ([]models.Payment, error)
	Appointments(ctx context.Context, tenantID string, from, to time.Time) ([]models.Appointment, error)
	CalendarEvents(ctx context.Context, tenantID string, from, to time.Time) ([]models.CalendarEvent, error)
	// FirstFactAt reports the earliest fact timestamp of src for the tenant.
	// ok is false when the tenant has no facts of that kind.
	FirstFactAt(ctx context.Context, tenantID string, src models.FactSource) (first time.Time, ok bool, err error)
	Close() error
}

// ArtifactFilter narrows artifact reads. Zero fields do not filter.
type ArtifactFilter struct {
	TenantID string
	Metric   string
	From     time.Time
	To       time.Time
	Model    string
	// Granularity narrows observation reads.
	Granularity models.Granularity
	Limit       int
}

// ArtifactStore persists computed artifacts keyed by natural composite keys.
// Every write is an idempotent upsert.
type ArtifactStore interface {
	UpsertObservations(ctx context.Context, obs []models.Observation) error
	UpsertForecastPoints(ctx context.Context, pts []models.ForecastPoint) error
	UpsertCohortMetrics(ctx context.Context, rows []models.CohortPeriodMetric) error
	UpsertAnomalies(ctx context.Context, recs []models.AnomalyRecord) error
	UpsertCorrelations(ctx context.Context, res []models.CorrelationResult) error
	UpsertRiskProfiles(ctx context.Context, profiles []models.RiskProfile) error
	// ReplaceInsights swaps the full insight set of (tenantID, asOf).
	ReplaceInsights(ctx context.Context, tenantID string, asOf time.Time, insights []models.Insight) error

	ListObservations(ctx context.Context, f ArtifactFilter) ([]models.Observation, error)
	ListForecastPoints(ctx context.Context, f ArtifactFilter) ([]models.ForecastPoint, error)
	ListCohortMetrics(ctx context.Context, f ArtifactFilter) ([]models.CohortPeriodMetric, error)
	ListAnomalies(ctx context.Context, f ArtifactFilter) ([]models.AnomalyRecord, error)
	ListCorrelations(ctx context.Context, f ArtifactFilter) ([]models.CorrelationResult, error)
	ListRiskProfiles(ctx context.Context, f ArtifactFilter) ([]models.RiskProfile, error)
	ListInsights(ctx context.Context, tenantID string, asOf time.Time) ([]models.Insight, error)

	Health(ctx context.Context) error
	Close() error
}

// EventPublisher announces artifacts to downstream alerting collaborators.
type EventPublisher interface {
	Publish(ctx context.Context, ev models.ArtifactEvent) error
	PublishBatch(ctx context.Context, evs []models.ArtifactEvent) error
	Close() error
}

// Locker serializes work on the same (tenant, entry, metric) key.
type Locker interface {
	// Acquire blocks until the key is held or ctx is done. The returned func releases it.
	Acquire(ctx context.Context, key string) (func(), error)
}

type Metrics interface {
	RecordRecompute(entry, result string)
	RecordArtifacts(kind string, n int)
	RecordError(kind string)
	RecordLatency(op string, seconds float64)
}
