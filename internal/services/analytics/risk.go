package analytics

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"ClinicPulse/internal/domain/models"
	"ClinicPulse/internal/domain/service"
)

const weightTolerance = 1e-9

// Factor is a named sub-score with its weight in the composite.
type Factor struct {
	Name   string
	Weight float64
}

// WeightedScorer computes Scale * sum(weight * factor), clamped to [Min, Max].
type WeightedScorer struct {
	factors []Factor
	scale   float64
	min     float64
	max     float64
	tier    func(score float64) string
}

// NewWeightedScorer rejects weights that are negative or do not sum to 1.
func NewWeightedScorer(factors []Factor, scale, min, max float64, tier func(float64) string) (*WeightedScorer, error) {
	if len(factors) == 0 {
		return nil, fmt.Errorf("weighted scorer: no factors")
	}
	if min > max {
		return nil, fmt.Errorf("weighted scorer: min %.4f > max %.4f", min, max)
	}
	sum := 0.0
	seen := make(map[string]bool, len(factors))
	for _, f := range factors {
		if f.Weight < 0 {
			return nil, fmt.Errorf("weighted scorer: factor %s has negative weight", f.Name)
		}
		if seen[f.Name] {
			return nil, fmt.Errorf("weighted scorer: duplicate factor %s", f.Name)
		}
		seen[f.Name] = true
		sum += f.Weight
	}
	if math.Abs(sum-1) > weightTolerance {
		return nil, fmt.Errorf("weighted scorer: weights sum to %.6f, want 1", sum)
	}
	if scale == 0 {
		scale = 1
	}
	return &WeightedScorer{factors: factors, scale: scale, min: min, max: max, tier: tier}, nil
}

// Composite clamps each factor to [0,1] and returns the bounded weighted score.
// A missing factor is an error.
func (s *WeightedScorer) Composite(values map[string]float64) (float64, map[string]float64, error) {
	clamped := make(map[string]float64, len(s.factors))
	total := 0.0
	for _, f := range s.factors {
		v, ok := values[f.Name]
		if !ok {
			return 0, nil, fmt.Errorf("weighted scorer: missing factor %s", f.Name)
		}
		v = clamp(v, 0, 1)
		clamped[f.Name] = v
		total += f.Weight * v
	}
	return s.Clamp(total * s.scale), clamped, nil
}

// Clamp bounds a score to the scorer's output range.
func (s *WeightedScorer) Clamp(score float64) float64 { return clamp(score, s.min, s.max) }

// Tier maps a score to its tier name.
func (s *WeightedScorer) Tier(score float64) string {
	if s.tier == nil {
		return ""
	}
	return s.tier(score)
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	return math.Max(lo, math.Min(hi, v))
}

// --- Delinquency risk ---

const (
	DelinquencyModelVersion = "delinquency-v1"

	FactorPunctuality = "punctuality"
	FactorDelay       = "delay"
	FactorFrequency   = "frequency"
	FactorRecency     = "recency"

	maxDelayDays        = 30.0
	fullHistoryPayments = 12.0
	staleAfterDays      = 90.0
)

// Delinquency tiers on the 0-1000 scale.
const (
	TierLow      = "low"
	TierMedium   = "medium"
	TierHigh     = "high"
	TierCritical = "critical"
)

func delinquencyTier(score float64) string {
	switch {
	case score <= 250:
		return TierLow
	case score <= 500:
		return TierMedium
	case score <= 750:
		return TierHigh
	default:
		return TierCritical
	}
}

// PaymentSummary is the payment behaviour of one subject as of a date.
type PaymentSummary struct {
	SubjectID     string
	Total         int
	OnTime        int
	AvgDelayDays  float64
	LastPaymentAt *time.Time
}

// SummarizePayments folds payment facts due on or before asOf into per-subject
// summaries. Unpaid overdue payments count as late with delay up to asOf.
func SummarizePayments(payments []models.Payment, asOf time.Time) []PaymentSummary {
	type acc struct {
		sum   PaymentSummary
		delay float64
	}
	by := make(map[string]*acc)
	for _, p := range payments {
		if p.DueAt.After(asOf) {
			continue
		}
		a, ok := by[p.SubjectID]
		if !ok {
			a = &acc{sum: PaymentSummary{SubjectID: p.SubjectID}}
			by[p.SubjectID] = a
		}
		if p.PaidAt != nil && !p.PaidAt.After(asOf) {
			a.sum.Total++
			if !p.PaidAt.After(p.DueAt) {
				a.sum.OnTime++
			} else {
				a.delay += p.PaidAt.Sub(p.DueAt).Hours() / 24
			}
			if a.sum.LastPaymentAt == nil || p.PaidAt.After(*a.sum.LastPaymentAt) {
				paid := *p.PaidAt
				a.sum.LastPaymentAt = &paid
			}
			continue
		}
		if p.DueAt.Before(asOf) {
			a.sum.Total++
			a.delay += asOf.Sub(p.DueAt).Hours() / 24
		}
	}

	out := make([]PaymentSummary, 0, len(by))
	for _, a := range by {
		if a.sum.Total > 0 {
			a.sum.AvgDelayDays = a.delay / float64(a.sum.Total)
		}
		out = append(out, a.sum)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SubjectID < out[j].SubjectID })
	return out
}

// DelinquencyFactors normalizes a payment summary to [0,1] risk factors.
func DelinquencyFactors(s PaymentSummary, asOf time.Time) map[string]float64 {
	if s.Total == 0 {
		return map[string]float64{
			FactorPunctuality: 0.5,
			FactorDelay:       0,
			FactorFrequency:   1,
			FactorRecency:     1,
		}
	}
	recency := 1.0
	if s.LastPaymentAt != nil {
		days := asOf.Sub(*s.LastPaymentAt).Hours() / 24
		recency = math.Min(math.Max(days, 0)/staleAfterDays, 1)
	}
	return map[string]float64{
		FactorPunctuality: 1 - float64(s.OnTime)/float64(s.Total),
		FactorDelay:       math.Min(s.AvgDelayDays, maxDelayDays) / maxDelayDays,
		FactorFrequency:   1 - math.Min(float64(s.Total)/fullHistoryPayments, 1),
		FactorRecency:     recency,
	}
}

// DelinquencyScorer scores payment-delinquency risk on a 0-1000 scale.
type DelinquencyScorer struct {
	scorer *WeightedScorer
}

func NewDelinquencyScorer() (*DelinquencyScorer, error) {
	ws, err := NewWeightedScorer([]Factor{
		{FactorPunctuality, 0.40},
		{FactorDelay, 0.25},
		{FactorFrequency, 0.15},
		{FactorRecency, 0.20},
	}, 1000, 0, 1000, delinquencyTier)
	if err != nil {
		return nil, err
	}
	return &DelinquencyScorer{scorer: ws}, nil
}

var _ service.SubjectScorer = (*DelinquencyScorer)(nil)

func (d *DelinquencyScorer) ModelVersion() string { return DelinquencyModelVersion }

// Score computes one subject's profile from its summary.
func (d *DelinquencyScorer) Score(tenantID string, s PaymentSummary, asOf time.Time) (models.RiskProfile, error) {
	score, factors, err := d.scorer.Composite(DelinquencyFactors(s, asOf))
	if err != nil {
		return models.RiskProfile{}, err
	}
	return models.RiskProfile{
		TenantID:     tenantID,
		SubjectID:    s.SubjectID,
		ModelVersion: DelinquencyModelVersion,
		Factors:      factors,
		Score:        score,
		Tier:         d.scorer.Tier(score),
		ComputedAt:   asOf,
	}, nil
}

func (d *DelinquencyScorer) ScoreSubjects(ctx context.Context, tenantID string, facts *models.FactSet, asOf time.Time) ([]models.RiskProfile, error) {
	sums := SummarizePayments(facts.Payments, asOf)
	out := make([]models.RiskProfile, 0, len(sums))
	for _, s := range sums {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		p, err := d.Score(tenantID, s, asOf)
		if err != nil {
			return nil, fmt.Errorf("score %s: %w", s.SubjectID, err)
		}
		out = append(out, p)
	}
	return out, nil
}

// --- Trial conversion probability ---

const (
	ConversionModelVersion = "trial-conversion-v1"

	FactorEngagement   = "engagement_recency"
	FactorFeatureUsage = "feature_usage"
	FactorUrgency      = "urgency"
	FactorEmailOpen    = "email_open"
	FactorSupport      = "support"

	engagementHorizonDays = 14.0
	fullFeatureUsage      = 10.0

	DefaultNoiseAmplitude = 0.05
	minConversion         = 0.02
	maxConversion         = 0.98
)

// Conversion tiers.
const (
	TierLikely   = "likely"
	TierPossible = "possible"
	TierUnlikely = "unlikely"
)

func conversionTier(p float64) string {
	switch {
	case p >= 0.7:
		return TierLikely
	case p >= 0.4:
		return TierPossible
	default:
		return TierUnlikely
	}
}

// TrialSummary is the engagement of one running trial as of a date.
type TrialSummary struct {
	SubjectID       string
	DaysSinceActive float64 // negative when never active
	FeaturesUsed    int
	EmailsSent      int
	EmailsOpened    int
	SupportTickets  int
	LengthDays      float64
	RemainingDays   float64
}

// SummarizeTrials keeps trials running at asOf that have not converted.
func SummarizeTrials(trials []models.Trial, asOf time.Time) []TrialSummary {
	out := make([]TrialSummary, 0, len(trials))
	for _, t := range trials {
		if t.StartedAt.After(asOf) || !t.EndsAt.After(asOf) {
			continue
		}
		if t.ConvertedAt != nil && !t.ConvertedAt.After(asOf) {
			continue
		}
		s := TrialSummary{
			SubjectID:       t.SubjectID,
			DaysSinceActive: -1,
			FeaturesUsed:    t.FeaturesUsed,
			EmailsSent:      t.EmailsSent,
			EmailsOpened:    t.EmailsOpened,
			SupportTickets:  t.SupportTickets,
			LengthDays:      t.EndsAt.Sub(t.StartedAt).Hours() / 24,
			RemainingDays:   t.EndsAt.Sub(asOf).Hours() / 24,
		}
		if t.LastActiveAt != nil && !t.LastActiveAt.After(asOf) {
			s.DaysSinceActive = asOf.Sub(*t.LastActiveAt).Hours() / 24
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SubjectID < out[j].SubjectID })
	return out
}

// supportEngagement is non-monotonic: some contact signals intent, a lot signals friction.
func supportEngagement(tickets int) float64 {
	switch {
	case tickets <= 0:
		return 0.3
	case tickets <= 2:
		return 1.0
	case tickets <= 4:
		return 0.6
	default:
		return 0.1
	}
}

// ConversionFactors normalizes a trial summary to [0,1] factors.
func ConversionFactors(s TrialSummary) map[string]float64 {
	engagement := 0.0
	if s.DaysSinceActive >= 0 {
		engagement = 1 - math.Min(s.DaysSinceActive/engagementHorizonDays, 1)
	}
	urgency := 1.0
	if s.LengthDays > 0 {
		urgency = 1 - math.Max(s.RemainingDays, 0)/s.LengthDays
	}
	emailOpen := 0.0
	if s.EmailsSent > 0 {
		emailOpen = float64(s.EmailsOpened) / float64(s.EmailsSent)
	}
	return map[string]float64{
		FactorEngagement:   engagement,
		FactorFeatureUsage: math.Min(float64(s.FeaturesUsed)/fullFeatureUsage, 1),
		FactorUrgency:      urgency,
		FactorEmailOpen:    emailOpen,
		FactorSupport:      supportEngagement(s.SupportTickets),
	}
}

// ConversionScorer estimates trial-conversion probability in [0.02, 0.98].
type ConversionScorer struct {
	scorer    *WeightedScorer
	noise     NoiseSource
	amplitude float64
}

// NewConversionScorer builds the scorer. A nil noise source disables jitter.
func NewConversionScorer(noise NoiseSource, amplitude float64) (*ConversionScorer, error) {
	ws, err := NewWeightedScorer([]Factor{
		{FactorEngagement, 0.30},
		{FactorFeatureUsage, 0.25},
		{FactorUrgency, 0.10},
		{FactorEmailOpen, 0.20},
		{FactorSupport, 0.15},
	}, 1, minConversion, maxConversion, conversionTier)
	if err != nil {
		return nil, err
	}
	if noise == nil {
		noise = NoNoise{}
	}
	if amplitude < 0 {
		return nil, fmt.Errorf("conversion scorer: negative noise amplitude")
	}
	return &ConversionScorer{scorer: ws, noise: noise, amplitude: amplitude}, nil
}

var _ service.SubjectScorer = (*ConversionScorer)(nil)

func (c *ConversionScorer) ModelVersion() string { return ConversionModelVersion }

// Score applies the weighted composite, a relative perturbation of at most
// ±amplitude, then the output bounds.
func (c *ConversionScorer) Score(tenantID string, s TrialSummary, asOf time.Time) (models.RiskProfile, error) {
	raw, factors, err := c.scorer.Composite(ConversionFactors(s))
	if err != nil {
		return models.RiskProfile{}, err
	}
	key := tenantID + "|" + s.SubjectID + "|" + asOf.UTC().Format(time.RFC3339)
	score := c.scorer.Clamp(raw * (1 + c.amplitude*c.noise.Sample(key)))
	return models.RiskProfile{
		TenantID:     tenantID,
		SubjectID:    s.SubjectID,
		ModelVersion: ConversionModelVersion,
		Factors:      factors,
		Score:        score,
		Tier:         c.scorer.Tier(score),
		ComputedAt:   asOf,
	}, nil
}

func (c *ConversionScorer) ScoreSubjects(ctx context.Context, tenantID string, facts *models.FactSet, asOf time.Time) ([]models.RiskProfile, error) {
	sums := SummarizeTrials(facts.Trials, asOf)
	out := make([]models.RiskProfile, 0, len(sums))
	for _, s := range sums {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		p, err := c.Score(tenantID, s, asOf)
		if err != nil {
			return nil, fmt.Errorf("score %s: %w", s.SubjectID, err)
		}
		out = append(out, p)
	}
	return out, nil
}
