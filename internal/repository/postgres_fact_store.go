package repository

import (
	"context"
	"fmt"
	"time"

	"ClinicPulse/internal/domain/models"
	domrepo "ClinicPulse/internal/domain/repository"
	applogger "ClinicPulse/pkg/logger"
	pkgpg "ClinicPulse/pkg/postgres"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGFactStore implements DataAccess over the clinic platform's PostgreSQL schema.
// It only reads.
type PGFactStore struct {
	pool *pgxpool.Pool
	l    *applogger.Logger
}

func NewPGFactStore(pg *pkgpg.Client, l *applogger.Logger) *PGFactStore {
	return &PGFactStore{pool: pg.Pool(), l: l}
}

var _ domrepo.DataAccess = (*PGFactStore)(nil)

const (
	qTenants = `SELECT id, name FROM tenants ORDER BY id`

	qSubscriptions = `
        SELECT id, tenant_id, subject_id, plan, amount, started_at, ended_at
        FROM subscriptions
        WHERE tenant_id = $1 AND started_at < $3 AND (ended_at IS NULL OR ended_at >= $2)
        ORDER BY started_at, id`

	qTrials = `
        SELECT id, tenant_id, subject_id, started_at, ends_at, converted_at, last_active_at,
               features_used, emails_sent, emails_opened, support_tickets
        FROM trials
        WHERE tenant_id = $1 AND started_at < $3
          AND (ends_at >= $2 OR converted_at >= $2)
        ORDER BY started_at, id`

	qPayments = `
        SELECT id, tenant_id, subject_id, amount, status, due_at, paid_at
        FROM payments
        WHERE tenant_id = $1
          AND ((due_at >= $2 AND due_at < $3) OR (paid_at >= $2 AND paid_at < $3))
        ORDER BY due_at, id`

	qAppointments = `
        SELECT id, tenant_id, subject_id, scheduled_at, status
        FROM appointments
        WHERE tenant_id = $1 AND scheduled_at >= $2 AND scheduled_at < $3
        ORDER BY scheduled_at, id`

	qCalendarEvents = `
        SELECT tenant_id, kind, name, starts_at, ends_at
        FROM calendar_events
        WHERE tenant_id = $1 AND starts_at < $3 AND (ends_at IS NULL OR ends_at >= $2)
        ORDER BY starts_at`
)

// firstFactQueries return NULL when the tenant has no rows.
var firstFactQueries = map[models.FactSource]string{
	models.SourceSubscriptions: `SELECT min(started_at) FROM subscriptions WHERE tenant_id = $1`,
	models.SourceTrials:        `SELECT min(started_at) FROM trials WHERE tenant_id = $1`,
	models.SourcePayments:      `SELECT min(LEAST(due_at, COALESCE(paid_at, due_at))) FROM payments WHERE tenant_id = $1`,
	models.SourceAppointments:  `SELECT min(scheduled_at) FROM appointments WHERE tenant_id = $1`,
}

// collect runs q and scans every row with scan, logging failures with the query name.
func collect[T any](ctx context.Context, s *PGFactStore, name, q string, scan func(pgx.Rows) (T, error), args ...any) ([]T, error) {
	start := time.Now()
	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		s.logErr(name, err)
		return nil, fmt.Errorf("query %s: %w", name, err)
	}
	defer rows.Close()

	var out []T
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			s.logErr(name, err)
			return nil, fmt.Errorf("scan %s: %w", name, err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		s.logErr(name, err)
		return nil, fmt.Errorf("rows %s: %w", name, err)
	}
	if s.l != nil {
		s.l.Debug("postgres facts ok",
			applogger.String("query", name),
			applogger.Int("rows", len(out)),
			applogger.Duration("duration_ms", time.Since(start)),
		)
	}
	return out, nil
}

func (s *PGFactStore) logErr(name string, err error) {
	if s.l != nil {
		s.l.Error("postgres facts error", applogger.String("query", name), applogger.Error(err))
	}
}

func (s *PGFactStore) Tenants(ctx context.Context) ([]models.Tenant, error) {
	return collect(ctx, s, "tenants", qTenants, func(r pgx.Rows) (models.Tenant, error) {
		var t models.Tenant
		err := r.Scan(&t.ID, &t.Name)
		return t, err
	})
}

func (s *PGFactStore) Subscriptions(ctx context.Context, tenantID string, from, to time.Time) ([]models.Subscription, error) {
	return collect(ctx, s, "subscriptions", qSubscriptions, func(r pgx.Rows) (models.Subscription, error) {
		var v models.Subscription
		err := r.Scan(&v.ID, &v.TenantID, &v.SubjectID, &v.Plan, &v.Amount, &v.StartedAt, &v.EndedAt)
		return v, err
	}, tenantID, from, to)
}

func (s *PGFactStore) Trials(ctx context.Context, tenantID string, from, to time.Time) ([]models.Trial, error) {
	return collect(ctx, s, "trials", qTrials, func(r pgx.Rows) (models.Trial, error) {
		var v models.Trial
		err := r.Scan(&v.ID, &v.TenantID, &v.SubjectID, &v.StartedAt, &v.EndsAt, &v.ConvertedAt, &v.LastActiveAt,
			&v.FeaturesUsed, &v.EmailsSent, &v.EmailsOpened, &v.SupportTickets)
		return v, err
	}, tenantID, from, to)
}

func (s *PGFactStore) Payments(ctx context.Context, tenantID string, from, to time.Time) ([]models.Payment, error) {
	return collect(ctx, s, "payments", qPayments, func(r pgx.Rows) (models.Payment, error) {
		var v models.Payment
		err := r.Scan(&v.ID, &v.TenantID, &v.SubjectID, &v.Amount, &v.Status, &v.DueAt, &v.PaidAt)
		return v, err
	}, tenantID, from, to)
}

func (s *PGFactStore) Appointments(ctx context.Context, tenantID string, from, to time.Time) ([]models.Appointment, error) {
	return collect(ctx, s, "appointments", qAppointments, func(r pgx.Rows) (models.Appointment, error) {
		var v models.Appointment
		err := r.Scan(&v.ID, &v.TenantID, &v.SubjectID, &v.ScheduledAt, &v.Status)
		return v, err
	}, tenantID, from, to)
}

func (s *PGFactStore) CalendarEvents(ctx context.Context, tenantID string, from, to time.Time) ([]models.CalendarEvent, error) {
	return collect(ctx, s, "calendar_events", qCalendarEvents, func(r pgx.Rows) (models.CalendarEvent, error) {
		var (
			v    models.CalendarEvent
			ends *time.Time
		)
		err := r.Scan(&v.TenantID, &v.Kind, &v.Name, &v.StartsAt, &ends)
		if ends != nil {
			v.EndsAt = *ends
		}
		return v, err
	}, tenantID, from, to)
}

func (s *PGFactStore) FirstFactAt(ctx context.Context, tenantID string, src models.FactSource) (time.Time, bool, error) {
	q, ok := firstFactQueries[src]
	if !ok {
		return time.Time{}, false, fmt.Errorf("unknown fact source %q", src)
	}
	var first *time.Time
	if err := s.pool.QueryRow(ctx, q, tenantID).Scan(&first); err != nil {
		s.logErr("first_"+string(src), err)
		return time.Time{}, false, fmt.Errorf("query first %s: %w", src, err)
	}
	if first == nil {
		return time.Time{}, false, nil
	}
	return first.UTC(), true, nil
}

// Close is a no-op; the pool is closed by its owner.
func (s *PGFactStore) Close() error { return nil }
