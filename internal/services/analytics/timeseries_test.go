package analytics

import (
	"context"
	"testing"
	"time"

	"ClinicPulse/internal/domain/models"
	"ClinicPulse/internal/domain/service"
	"ClinicPulse/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBuilder(store *repository.MemoryFactStore) *SeriesBuilder {
	return NewSeriesBuilder(NewMetricRepository(store, nil))
}

func TestBuildNoShowRateCarriesForward(t *testing.T) {
	store := repository.NewMemoryFactStore()
	mon := time.Date(2024, 4, 1, 9, 0, 0, 0, time.UTC) // Monday
	store.AddAppointments(
		models.Appointment{ID: "a1", TenantID: "t1", ScheduledAt: mon, Status: models.AppointmentCompleted},
		models.Appointment{ID: "a2", TenantID: "t1", ScheduledAt: mon.AddDate(0, 0, 1), Status: models.AppointmentNoShow},
		// week 2 has nothing
		models.Appointment{ID: "a3", TenantID: "t1", ScheduledAt: mon.AddDate(0, 0, 14), Status: models.AppointmentCompleted},
		models.Appointment{ID: "x1", TenantID: "t2", ScheduledAt: mon, Status: models.AppointmentNoShow},
	)

	s, err := newTestBuilder(store).Build(context.Background(), service.SeriesRequest{
		TenantID: "t1",
		Metric:   MetricNoShowRate,
		From:     time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC),
		To:       time.Date(2024, 4, 22, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	assert.Equal(t, models.GranularityWeekly, s.Granularity)
	assert.Equal(t, []float64{0.5, 0.5, 0}, s.Values())
}

func TestBuildZeroFillAndTags(t *testing.T) {
	store := repository.NewMemoryFactStore()
	day := time.Date(2024, 5, 3, 0, 0, 0, 0, time.UTC)
	store.AddSubscriptions(
		models.Subscription{ID: "s1", TenantID: "t1", SubjectID: "p1", Amount: 90, StartedAt: day.Add(10 * time.Hour)},
		models.Subscription{ID: "s2", TenantID: "t1", SubjectID: "p2", Amount: 90, StartedAt: day.AddDate(0, 0, 2)},
	)
	store.AddCalendarEvents(models.CalendarEvent{
		TenantID: "t1", Kind: models.EventCampaign, Name: "spring", StartsAt: day,
	})

	s, err := newTestBuilder(store).Build(context.Background(), service.SeriesRequest{
		TenantID: "t1",
		Metric:   MetricNewSubscriptions,
		From:     day,
		To:       day.AddDate(0, 0, 3),
	})
	require.NoError(t, err)
	require.Len(t, s.Points, 3)
	assert.Equal(t, []float64{1, 0, 1}, s.Values())
	assert.Equal(t, 1.0, s.Points[0].Dimensions["campaign:spring"])
	assert.Equal(t, 0.0, s.Points[1].Dimensions["campaign:spring"])
	assert.Equal(t, 1.0, s.Points[1].Dimensions["is_weekend"]) // Saturday
	for _, p := range s.Points {
		assert.Equal(t, "t1", p.TenantID)
		assert.Equal(t, MetricNewSubscriptions, p.Metric)
	}
}

func TestBuildStartsAtFirstFact(t *testing.T) {
	store := repository.NewMemoryFactStore()
	store.AddSubscriptions(models.Subscription{
		ID: "s1", TenantID: "t1", SubjectID: "p1", Amount: 5000,
		StartedAt: time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC),
	})
	b := newTestBuilder(store)
	req := service.SeriesRequest{
		TenantID: "t1",
		Metric:   MetricMRR,
		From:     time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		To:       time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC),
	}

	s, err := b.Build(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, s.Points, 3)
	assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), s.Points[0].Bucket)
	assert.Equal(t, []float64{5000, 5000, 5000}, s.Values())

	req.TenantID = "t2"
	s, err = b.Build(context.Background(), req)
	require.NoError(t, err)
	assert.Empty(t, s.Points)
	assert.Equal(t, "t2", s.TenantID)
}

func TestBuildErrors(t *testing.T) {
	b := newTestBuilder(repository.NewMemoryFactStore())
	from := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	_, err := b.Build(context.Background(), service.SeriesRequest{TenantID: "t1", Metric: "ebitda", From: from, To: from.AddDate(0, 1, 0)})
	assert.ErrorIs(t, err, service.ErrModelNotFound)

	_, err = b.Build(context.Background(), service.SeriesRequest{TenantID: "t1", Metric: MetricMRR, From: from, To: from})
	assert.ErrorIs(t, err, service.ErrInvalidRange)

	_, err = b.Build(context.Background(), service.SeriesRequest{Metric: MetricMRR, From: from, To: from.AddDate(0, 1, 0)})
	assert.ErrorIs(t, err, service.ErrInvalidRange)
}

func TestRegistryRejectsInvalidDefinition(t *testing.T) {
	r := NewMetricRegistry()
	fn := func(*models.FactSet, models.Bucket) (float64, bool) { return 1, true }

	assert.Error(t, r.Register(models.MetricDefinition{Name: ""}, fn))
	assert.Error(t, r.Register(models.MetricDefinition{Name: "x", Granularity: "hourly"}, fn))
	require.NoError(t, r.Register(models.MetricDefinition{Name: "x", Granularity: models.GranularityDaily}, fn))

	def, _, err := r.Lookup("x")
	require.NoError(t, err)
	assert.Equal(t, models.FillZero, def.Fill)
	assert.Len(t, DefaultMetricRegistry().Definitions(), 13)
}
