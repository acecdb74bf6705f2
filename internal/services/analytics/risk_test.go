package analytics

import (
	"context"
	"testing"
	"time"

	"ClinicPulse/internal/domain/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWeightedScorerValidation(t *testing.T) {
	tests := []struct {
		name    string
		factors []Factor
		min     float64
		max     float64
		wantErr bool
	}{
		{"valid", []Factor{{"a", 0.6}, {"b", 0.4}}, 0, 1, false},
		{"empty", nil, 0, 1, true},
		{"sum below one", []Factor{{"a", 0.5}, {"b", 0.4}}, 0, 1, true},
		{"negative", []Factor{{"a", 1.2}, {"b", -0.2}}, 0, 1, true},
		{"duplicate", []Factor{{"a", 0.5}, {"a", 0.5}}, 0, 1, true},
		{"inverted bounds", []Factor{{"a", 1}}, 1, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewWeightedScorer(tt.factors, 1, tt.min, tt.max, nil)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestCompositeBounds(t *testing.T) {
	d, err := NewDelinquencyScorer()
	require.NoError(t, err)

	all := func(v float64) map[string]float64 {
		return map[string]float64{FactorPunctuality: v, FactorDelay: v, FactorFrequency: v, FactorRecency: v}
	}
	lo, _, err := d.scorer.Composite(all(0))
	require.NoError(t, err)
	hi, _, err := d.scorer.Composite(all(1))
	require.NoError(t, err)
	over, clamped, err := d.scorer.Composite(all(3))
	require.NoError(t, err)

	assert.Equal(t, 0.0, lo)
	assert.InDelta(t, 1000, hi, 1e-9)
	assert.InDelta(t, 1000, over, 1e-9)
	assert.Equal(t, 1.0, clamped[FactorDelay])

	_, _, err = d.scorer.Composite(map[string]float64{FactorDelay: 0.5})
	assert.Error(t, err)
}

func TestDelinquencyScore(t *testing.T) {
	asOf := time.Date(2024, 10, 6, 0, 0, 0, 0, time.UTC)
	var payments []models.Payment
	for m := 1; m <= 10; m++ {
		due := time.Date(2024, time.Month(m), 1, 0, 0, 0, 0, time.UTC)
		paid := due
		switch m {
		case 7:
			paid = due.AddDate(0, 0, 10)
		case 9:
			paid = due.AddDate(0, 0, 5)
		}
		payments = append(payments, models.Payment{
			ID: "p", TenantID: "t1", SubjectID: "pt-1", Amount: 80,
			Status: models.PaymentPaid, DueAt: due, PaidAt: &paid,
		})
	}
	// not yet due
	payments = append(payments, models.Payment{
		ID: "p11", TenantID: "t1", SubjectID: "pt-1", Amount: 80,
		Status: models.PaymentPending, DueAt: time.Date(2024, 11, 1, 0, 0, 0, 0, time.UTC),
	})

	sums := SummarizePayments(payments, asOf)
	require.Len(t, sums, 1)
	s := sums[0]
	assert.Equal(t, 10, s.Total)
	assert.Equal(t, 8, s.OnTime)
	assert.InDelta(t, 1.5, s.AvgDelayDays, 1e-9)

	d, err := NewDelinquencyScorer()
	require.NoError(t, err)
	p, err := d.Score("t1", s, asOf)
	require.NoError(t, err)

	// 1000 * (0.4*0.2 + 0.25*0.05 + 0.15*(2/12) + 0.2*(5/90))
	assert.InDelta(t, 128.611, p.Score, 0.01)
	assert.Equal(t, TierLow, p.Tier)
	assert.Equal(t, DelinquencyModelVersion, p.ModelVersion)
	assert.Equal(t, asOf, p.ComputedAt)
}

func TestDelinquencyOverdueUnpaid(t *testing.T) {
	asOf := time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC)
	payments := []models.Payment{{
		ID: "p1", TenantID: "t1", SubjectID: "pt-2", Amount: 80,
		Status: models.PaymentFailed, DueAt: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
	}}
	sums := SummarizePayments(payments, asOf)
	require.Len(t, sums, 1)
	assert.Equal(t, 1, sums[0].Total)
	assert.Equal(t, 0, sums[0].OnTime)
	assert.InDelta(t, 30, sums[0].AvgDelayDays, 1e-9)

	d, err := NewDelinquencyScorer()
	require.NoError(t, err)
	p, err := d.Score("t1", sums[0], asOf)
	require.NoError(t, err)
	// punctuality 1, delay 1, frequency 11/12, recency 1 (never paid)
	assert.InDelta(t, 1000*(0.4+0.25+0.15*11.0/12+0.2), p.Score, 1e-6)
	assert.Equal(t, TierCritical, p.Tier)
}

func TestDelinquencyNoHistory(t *testing.T) {
	d, err := NewDelinquencyScorer()
	require.NoError(t, err)
	p, err := d.Score("t1", PaymentSummary{SubjectID: "pt-3"}, time.Now())
	require.NoError(t, err)
	assert.InDelta(t, 550, p.Score, 1e-9)
	assert.Equal(t, TierHigh, p.Tier)
}

func sampleTrial() models.Trial {
	last := time.Date(2024, 9, 7, 0, 0, 0, 0, time.UTC)
	return models.Trial{
		ID:             "tr-1",
		TenantID:       "t1",
		SubjectID:      "pt-9",
		StartedAt:      time.Date(2024, 9, 1, 0, 0, 0, 0, time.UTC),
		EndsAt:         time.Date(2024, 9, 15, 0, 0, 0, 0, time.UTC),
		LastActiveAt:   &last,
		FeaturesUsed:   5,
		EmailsSent:     4,
		EmailsOpened:   2,
		SupportTickets: 1,
	}
}

func TestConversionScoreWithoutNoise(t *testing.T) {
	asOf := time.Date(2024, 9, 8, 0, 0, 0, 0, time.UTC)
	c, err := NewConversionScorer(nil, DefaultNoiseAmplitude)
	require.NoError(t, err)

	profiles, err := c.ScoreSubjects(context.Background(), "t1", &models.FactSet{Trials: []models.Trial{sampleTrial()}}, asOf)
	require.NoError(t, err)
	require.Len(t, profiles, 1)

	// 0.3*(13/14) + 0.25*0.5 + 0.1*0.5 + 0.2*0.5 + 0.15*1
	assert.InDelta(t, 0.3*13.0/14+0.425, profiles[0].Score, 1e-9)
	assert.Equal(t, TierLikely, profiles[0].Tier)
}

func TestConversionNoiseDeterministic(t *testing.T) {
	asOf := time.Date(2024, 9, 8, 0, 0, 0, 0, time.UTC)
	s := SummarizeTrials([]models.Trial{sampleTrial()}, asOf)[0]
	raw := 0.3*13.0/14 + 0.425

	a, err := NewConversionScorer(NewSeededNoise(42), DefaultNoiseAmplitude)
	require.NoError(t, err)
	b, err := NewConversionScorer(NewSeededNoise(42), DefaultNoiseAmplitude)
	require.NoError(t, err)

	pa, err := a.Score("t1", s, asOf)
	require.NoError(t, err)
	pb, err := b.Score("t1", s, asOf)
	require.NoError(t, err)

	assert.Equal(t, pa.Score, pb.Score)
	assert.GreaterOrEqual(t, pa.Score, raw*(1-DefaultNoiseAmplitude)-1e-12)
	assert.LessOrEqual(t, pa.Score, raw*(1+DefaultNoiseAmplitude)+1e-12)
}

func TestConversionBounds(t *testing.T) {
	asOf := time.Date(2024, 9, 8, 0, 0, 0, 0, time.UTC)
	c, err := NewConversionScorer(nil, 0)
	require.NoError(t, err)

	cold, err := c.Score("t1", TrialSummary{SubjectID: "x", DaysSinceActive: -1, SupportTickets: 9, LengthDays: 14, RemainingDays: 14}, asOf)
	require.NoError(t, err)
	assert.Equal(t, 0.02, cold.Score)
	assert.Equal(t, TierUnlikely, cold.Tier)

	hot, err := c.Score("t1", TrialSummary{SubjectID: "y", DaysSinceActive: 0, FeaturesUsed: 20, EmailsSent: 2, EmailsOpened: 2, SupportTickets: 1, LengthDays: 14}, asOf)
	require.NoError(t, err)
	assert.Equal(t, 0.98, hot.Score)

	_, err = NewConversionScorer(nil, -0.1)
	assert.Error(t, err)
}

func TestSummarizeTrialsSkipsConvertedAndExpired(t *testing.T) {
	asOf := time.Date(2024, 9, 8, 0, 0, 0, 0, time.UTC)
	converted := sampleTrial()
	conv := time.Date(2024, 9, 5, 0, 0, 0, 0, time.UTC)
	converted.SubjectID, converted.ConvertedAt = "pt-c", &conv
	expired := sampleTrial()
	expired.SubjectID, expired.EndsAt = "pt-e", time.Date(2024, 9, 6, 0, 0, 0, 0, time.UTC)

	sums := SummarizeTrials([]models.Trial{converted, expired, sampleTrial()}, asOf)
	require.Len(t, sums, 1)
	assert.Equal(t, "pt-9", sums[0].SubjectID)
	assert.InDelta(t, 1, sums[0].DaysSinceActive, 1e-9)
}
