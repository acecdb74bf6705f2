package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"ClinicPulse/internal/domain/models"
	domrepo "ClinicPulse/internal/domain/repository"
)

// MemoryFactStore is an in-process DataAccess used by tests and local runs.
type MemoryFactStore struct {
	mu            sync.RWMutex
	tenants       []models.Tenant
	subscriptions []models.Subscription
	trials        []models.Trial
	payments      []models.Payment
	appointments  []models.Appointment
	events        []models.CalendarEvent
}

func NewMemoryFactStore() *MemoryFactStore { return &MemoryFactStore{} }

var _ domrepo.DataAccess = (*MemoryFactStore)(nil)

func (m *MemoryFactStore) AddTenants(ts ...models.Tenant) {
	m.mu.Lock()
	m.tenants = append(m.tenants, ts...)
	m.mu.Unlock()
}

func (m *MemoryFactStore) AddSubscriptions(ss ...models.Subscription) {
	m.mu.Lock()
	m.subscriptions = append(m.subscriptions, ss...)
	m.mu.Unlock()
}

func (m *MemoryFactStore) AddTrials(ts ...models.Trial) {
	m.mu.Lock()
	m.trials = append(m.trials, ts...)
	m.mu.Unlock()
}

func (m *MemoryFactStore) AddPayments(ps ...models.Payment) {
	m.mu.Lock()
	m.payments = append(m.payments, ps...)
	m.mu.Unlock()
}

func (m *MemoryFactStore) AddAppointments(as ...models.Appointment) {
	m.mu.Lock()
	m.appointments = append(m.appointments, as...)
	m.mu.Unlock()
}

func (m *MemoryFactStore) AddCalendarEvents(es ...models.CalendarEvent) {
	m.mu.Lock()
	m.events = append(m.events, es...)
	m.mu.Unlock()
}

func (m *MemoryFactStore) Tenants(_ context.Context) ([]models.Tenant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := append([]models.Tenant(nil), m.tenants...)
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryFactStore) Subscriptions(_ context.Context, tenantID string, from, to time.Time) ([]models.Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.Subscription
	for _, s := range m.subscriptions {
		if s.TenantID != tenantID || !s.StartedAt.Before(to) {
			continue
		}
		if s.EndedAt != nil && s.EndedAt.Before(from) {
			continue
		}
		out = append(out, s)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	return out, nil
}

func (m *MemoryFactStore) Trials(_ context.Context, tenantID string, from, to time.Time) ([]models.Trial, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.Trial
	for _, t := range m.trials {
		if t.TenantID != tenantID || !t.StartedAt.Before(to) {
			continue
		}
		converted := t.ConvertedAt != nil && !t.ConvertedAt.Before(from)
		if t.EndsAt.Before(from) && !converted {
			continue
		}
		out = append(out, t)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out, nil
}

func (m *MemoryFactStore) Payments(_ context.Context, tenantID string, from, to time.Time) ([]models.Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	in := func(t time.Time) bool { return !t.Before(from) && t.Before(to) }
	var out []models.Payment
	for _, p := range m.payments {
		if p.TenantID != tenantID {
			continue
		}
		if in(p.DueAt) || (p.PaidAt != nil && in(*p.PaidAt)) {
			out = append(out, p)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].DueAt.Before(out[j].DueAt) })
	return out, nil
}

func (m *MemoryFactStore) Appointments(_ context.Context, tenantID string, from, to time.Time) ([]models.Appointment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.Appointment
	for _, a := range m.appointments {
		if a.TenantID == tenantID && !a.ScheduledAt.Before(from) && a.ScheduledAt.Before(to) {
			out = append(out, a)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ScheduledAt.Before(out[j].ScheduledAt) })
	return out, nil
}

func (m *MemoryFactStore) CalendarEvents(_ context.Context, tenantID string, from, to time.Time) ([]models.CalendarEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.CalendarEvent
	for _, e := range m.events {
		if e.TenantID != tenantID || !e.StartsAt.Before(to) {
			continue
		}
		if !e.EndsAt.IsZero() && e.EndsAt.Before(from) {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func (m *MemoryFactStore) FirstFactAt(_ context.Context, tenantID string, src models.FactSource) (time.Time, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var first time.Time
	seen := false
	see := func(t time.Time) {
		if !seen || t.Before(first) {
			first, seen = t, true
		}
	}
	switch src {
	case models.SourceSubscriptions:
		for _, s := range m.subscriptions {
			if s.TenantID == tenantID {
				see(s.StartedAt)
			}
		}
	case models.SourceTrials:
		for _, t := range m.trials {
			if t.TenantID == tenantID {
				see(t.StartedAt)
			}
		}
	case models.SourcePayments:
		for _, p := range m.payments {
			if p.TenantID != tenantID {
				continue
			}
			see(p.DueAt)
			if p.PaidAt != nil {
				see(*p.PaidAt)
			}
		}
	case models.SourceAppointments:
		for _, a := range m.appointments {
			if a.TenantID == tenantID {
				see(a.ScheduledAt)
			}
		}
	default:
		return time.Time{}, false, fmt.Errorf("unknown fact source %q", src)
	}
	return first, seen, nil
}

func (m *MemoryFactStore) Close() error { return nil }
