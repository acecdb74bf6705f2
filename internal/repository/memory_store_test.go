package repository

import (
	"context"
	"testing"
	"time"

	"ClinicPulse/internal/domain/models"
	domrepo "ClinicPulse/internal/domain/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFactStoreSubscriptionsOverlap(t *testing.T) {
	s := NewMemoryFactStore()
	jan := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	endedEarly := jan.AddDate(0, 0, -10)
	s.AddSubscriptions(
		models.Subscription{ID: "b", TenantID: "t1", StartedAt: jan.AddDate(0, 0, 3)},
		models.Subscription{ID: "a", TenantID: "t1", StartedAt: jan.AddDate(0, 0, 3)},
		models.Subscription{ID: "old", TenantID: "t1", StartedAt: jan.AddDate(0, -3, 0), EndedAt: &endedEarly},
		models.Subscription{ID: "future", TenantID: "t1", StartedAt: jan.AddDate(0, 2, 0)},
		models.Subscription{ID: "other", TenantID: "t2", StartedAt: jan},
	)

	got, err := s.Subscriptions(context.Background(), "t1", jan, jan.AddDate(0, 1, 0))
	require.NoError(t, err)
	ids := make([]string, 0, len(got))
	for _, g := range got {
		ids = append(ids, g.ID)
	}
	assert.Equal(t, []string{"a", "b"}, ids)
}

func TestFactStorePaymentsDueOrPaid(t *testing.T) {
	s := NewMemoryFactStore()
	jan := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	paidInJan := jan.AddDate(0, 0, 2)
	s.AddPayments(
		models.Payment{ID: "due-dec-paid-jan", TenantID: "t1", DueAt: jan.AddDate(0, 0, -5), PaidAt: &paidInJan},
		models.Payment{ID: "due-jan", TenantID: "t1", DueAt: jan.AddDate(0, 0, 10)},
		models.Payment{ID: "due-feb", TenantID: "t1", DueAt: jan.AddDate(0, 1, 1)},
	)
	got, err := s.Payments(context.Background(), "t1", jan, jan.AddDate(0, 1, 0))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "due-dec-paid-jan", got[0].ID)
}

func TestArtifactStoreUpsertIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryArtifactStore()
	day := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	recs := []models.AnomalyRecord{
		{Metric: "revenue", TenantID: "t1", Date: day, Actual: 10, ZScore: 1},
		{Metric: "revenue", TenantID: "t1", Date: day.AddDate(0, 0, 1), Actual: 30, ZScore: 3, IsAnomaly: true},
	}

	require.NoError(t, s.UpsertAnomalies(ctx, recs))
	first := s.Counts()
	recs[0].Actual = 11
	require.NoError(t, s.UpsertAnomalies(ctx, recs))
	assert.Equal(t, first, s.Counts())

	got, err := s.ListAnomalies(ctx, domrepo.ArtifactFilter{TenantID: "t1", Metric: "revenue"})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, 11.0, got[0].Actual)

	ranged, err := s.ListAnomalies(ctx, domrepo.ArtifactFilter{TenantID: "t1", From: day.AddDate(0, 0, 1)})
	require.NoError(t, err)
	assert.Len(t, ranged, 1)
}

func TestArtifactStoreReplaceInsights(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryArtifactStore()
	asOf := time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC)

	require.NoError(t, s.ReplaceInsights(ctx, "t1", asOf, []models.Insight{{RuleID: "a"}, {RuleID: "b"}}))
	require.NoError(t, s.ReplaceInsights(ctx, "t1", asOf, []models.Insight{{RuleID: "c"}}))

	got, err := s.ListInsights(ctx, "t1", asOf)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "c", got[0].RuleID)

	require.NoError(t, s.ReplaceInsights(ctx, "t1", asOf, nil))
	got, err = s.ListInsights(ctx, "t1", asOf)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestArtifactStoreRiskModelFilter(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryArtifactStore()
	require.NoError(t, s.UpsertRiskProfiles(ctx, []models.RiskProfile{
		{TenantID: "t1", SubjectID: "p1", ModelVersion: "delinquency-v1", Score: 100},
		{TenantID: "t1", SubjectID: "p1", ModelVersion: "trial-conversion-v1", Score: 0.4},
		{TenantID: "t2", SubjectID: "p9", ModelVersion: "delinquency-v1", Score: 900},
	}))

	got, err := s.ListRiskProfiles(ctx, domrepo.ArtifactFilter{TenantID: "t1", Model: "delinquency"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 100.0, got[0].Score)
}

func TestFactStoreFirstFactAt(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryFactStore()
	jan := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	paidEarly := jan.AddDate(0, 0, -3)
	s.AddPayments(
		models.Payment{ID: "p1", TenantID: "t1", DueAt: jan.AddDate(0, 0, 5)},
		models.Payment{ID: "p2", TenantID: "t1", DueAt: jan, PaidAt: &paidEarly},
		models.Payment{ID: "x", TenantID: "t2", DueAt: jan.AddDate(-1, 0, 0)},
	)

	first, ok, err := s.FirstFactAt(ctx, "t1", models.SourcePayments)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, paidEarly, first)

	_, ok, err = s.FirstFactAt(ctx, "t1", models.SourceAppointments)
	require.NoError(t, err)
	assert.False(t, ok)

	_, _, err = s.FirstFactAt(ctx, "t1", models.FactSource("ledger"))
	assert.Error(t, err)
}

func TestArtifactStoreObservationsKeyedByGranularity(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryArtifactStore()
	feb := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, s.UpsertObservations(ctx, []models.Observation{
		{Metric: "mrr", TenantID: "t1", Granularity: models.GranularityMonthly, Bucket: feb, Value: 12000},
	}))
	require.NoError(t, s.UpsertObservations(ctx, []models.Observation{
		{Metric: "mrr", TenantID: "t1", Granularity: models.GranularityDaily, Bucket: feb, Value: 11500},
	}))

	all, err := s.ListObservations(ctx, domrepo.ArtifactFilter{TenantID: "t1", Metric: "mrr"})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	monthly, err := s.ListObservations(ctx, domrepo.ArtifactFilter{TenantID: "t1", Metric: "mrr", Granularity: models.GranularityMonthly})
	require.NoError(t, err)
	require.Len(t, monthly, 1)
	assert.Equal(t, 12000.0, monthly[0].Value)
}
