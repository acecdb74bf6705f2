package models

import "time"

// Raw transactional facts read from the clinic platform's relational store.
// The analytics core never mutates them.

type Tenant struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type Subscription struct {
	ID        string     `json:"id"`
	TenantID  string     `json:"tenant_id"`
	SubjectID string     `json:"subject_id"`
	Plan      string     `json:"plan"`
	Amount    float64    `json:"amount"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
}

// ActiveAt reports whether the subscription is running at instant t.
func (s Subscription) ActiveAt(t time.Time) bool {
	if t.Before(s.StartedAt) {
		return false
	}
	return s.EndedAt == nil || s.EndedAt.After(t)
}

type Trial struct {
	ID             string     `json:"id"`
	TenantID       string     `json:"tenant_id"`
	SubjectID      string     `json:"subject_id"`
	StartedAt      time.Time  `json:"started_at"`
	EndsAt         time.Time  `json:"ends_at"`
	ConvertedAt    *time.Time `json:"converted_at,omitempty"`
	LastActiveAt   *time.Time `json:"last_active_at,omitempty"`
	FeaturesUsed   int        `json:"features_used"`
	EmailsSent     int        `json:"emails_sent"`
	EmailsOpened   int        `json:"emails_opened"`
	SupportTickets int        `json:"support_tickets"`
}

// Payment statuses.
const (
	PaymentPaid    = "paid"
	PaymentFailed  = "failed"
	PaymentPending = "pending"
)

type Payment struct {
	ID        string     `json:"id"`
	TenantID  string     `json:"tenant_id"`
	SubjectID string     `json:"subject_id"`
	Amount    float64    `json:"amount"`
	Status    string     `json:"status"`
	DueAt     time.Time  `json:"due_at"`
	PaidAt    *time.Time `json:"paid_at,omitempty"`
}

// Appointment outcomes.
const (
	AppointmentCompleted = "completed"
	AppointmentNoShow    = "no_show"
	AppointmentCancelled = "cancelled"
	AppointmentScheduled = "scheduled"
)

type Appointment struct {
	ID          string    `json:"id"`
	TenantID    string    `json:"tenant_id"`
	SubjectID   string    `json:"subject_id"`
	ScheduledAt time.Time `json:"scheduled_at"`
	Status      string    `json:"status"`
}

// Calendar event kinds, surfaced as dimension tags.
const (
	EventCampaign = "campaign"
	EventRelease  = "release"
)

type CalendarEvent struct {
	TenantID string    `json:"tenant_id"`
	Kind     string    `json:"kind"`
	Name     string    `json:"name"`
	StartsAt time.Time `json:"starts_at"`
	EndsAt   time.Time `json:"ends_at"`
}

// FactSet holds the facts loaded for one tenant and range.
type FactSet struct {
	Subscriptions []Subscription
	Trials        []Trial
	Payments      []Payment
	Appointments  []Appointment
}
