package analytics

import (
	"context"
	"sort"
	"strings"
	"time"

	"ClinicPulse/internal/domain/models"
	"ClinicPulse/internal/domain/service"
	"ClinicPulse/internal/services/features"
)

const (
	DefaultCohortPeriods = 12
	DimensionAll         = "all"
	planDimensionPrefix  = "plan:"
)

// CohortAnalyzer implements service.CohortEngine.
type CohortAnalyzer struct{}

func NewCohortAnalyzer() *CohortAnalyzer { return &CohortAnalyzer{} }

var _ service.CohortEngine = (*CohortAnalyzer)(nil)

type cohortMember struct {
	subjectID  string
	acquiredAt time.Time
	subs       []models.Subscription
}

// amountAt sums the member's subscription amounts running at t.
func (m cohortMember) amountAt(t time.Time) (float64, bool) {
	sum, active := 0.0, false
	for _, s := range m.subs {
		if s.ActiveAt(t) {
			sum += s.Amount
			active = true
		}
	}
	return sum, active
}

// acquisitionAmount sums the subscriptions that started at acquisition,
// including any that ended at that same instant.
func (m cohortMember) acquisitionAmount() float64 {
	sum := 0.0
	for _, s := range m.subs {
		if s.StartedAt.Equal(m.acquiredAt) {
			sum += s.Amount
		}
	}
	return sum
}

// Analyze tracks one acquisition cohort over relative periods 0..Periods.
// subs must include every subscription of the tenant started before the
// window end so first acquisitions are identified correctly.
func (a *CohortAnalyzer) Analyze(ctx context.Context, subs []models.Subscription, p service.CohortParams) (*models.Cohort, []models.CohortPeriodMetric, error) {
	if !p.Window.Start.Before(p.Window.End) {
		return nil, nil, service.InvalidRange("cohort window start %s must be before end %s", p.Window.Start, p.Window.End)
	}
	g := p.Granularity
	if g == "" {
		g = models.GranularityMonthly
	}
	if !models.IsValidGranularity(g) {
		return nil, nil, service.InvalidRange("unsupported granularity %q", g)
	}
	periods := p.Periods
	if periods <= 0 {
		periods = DefaultCohortPeriods
	}
	dim := p.Dimension
	if dim == "" {
		dim = DimensionAll
	}

	members := cohortMembers(subs, p.Window, dim)
	if len(members) == 0 {
		return nil, nil, nil
	}

	cohort := &models.Cohort{
		TenantID:    p.TenantID,
		Start:       p.Window.Start,
		End:         p.Window.End,
		Granularity: g,
		Dimension:   dim,
		Size:        len(members),
	}

	size := len(members)
	prevAmount := make([]float64, size)
	prevActive := make([]bool, size)
	cumulative := 0.0
	out := make([]models.CohortPeriodMetric, 0, periods+1)

	for period := 0; period <= periods; period++ {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		boundary := features.Advance(p.Window.Start, g, period)
		if period > 0 && !p.AsOf.IsZero() && boundary.After(p.AsOf) {
			break
		}

		row := models.CohortPeriodMetric{
			TenantID:    p.TenantID,
			CohortStart: p.Window.Start,
			Dimension:   dim,
			Period:      period,
			CohortSize:  size,
		}
		for i, m := range members {
			var (
				amount float64
				active bool
			)
			if period == 0 {
				// every member is active at acquisition by definition
				amount, active = m.acquisitionAmount(), true
			} else {
				amount, active = m.amountAt(boundary)
			}
			if active {
				row.ActiveCount++
				row.Revenue += amount
				if period > 0 && prevActive[i] {
					switch {
					case amount > prevAmount[i]:
						row.UpgradeCount++
					case amount < prevAmount[i]:
						row.DowngradeCount++
					}
				}
			}
			prevAmount[i], prevActive[i] = amount, active
		}
		row.ChurnCount = size - row.ActiveCount
		cumulative += row.Revenue
		row.CumulativeRevenue = cumulative
		row.RetentionRate = float64(row.ActiveCount) / float64(size)
		out = append(out, row)
	}
	return cohort, out, nil
}

// cohortMembers returns subjects whose first subscription started inside the window.
func cohortMembers(subs []models.Subscription, window models.Bucket, dim string) []cohortMember {
	bySubject := make(map[string]*cohortMember)
	firstPlan := make(map[string]string)
	for _, s := range subs {
		m, ok := bySubject[s.SubjectID]
		if !ok {
			m = &cohortMember{subjectID: s.SubjectID, acquiredAt: s.StartedAt}
			bySubject[s.SubjectID] = m
			firstPlan[s.SubjectID] = s.Plan
		}
		if s.StartedAt.Before(m.acquiredAt) {
			m.acquiredAt = s.StartedAt
			firstPlan[s.SubjectID] = s.Plan
		}
		m.subs = append(m.subs, s)
	}

	plan := ""
	if strings.HasPrefix(dim, planDimensionPrefix) {
		plan = strings.TrimPrefix(dim, planDimensionPrefix)
	}

	out := make([]cohortMember, 0, len(bySubject))
	for id, m := range bySubject {
		if !window.Contains(m.acquiredAt) {
			continue
		}
		if plan != "" && firstPlan[id] != plan {
			continue
		}
		out = append(out, *m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].subjectID < out[j].subjectID })
	return out
}

// CohortWindows enumerates acquisition windows of granularity g covering [from, to).
func CohortWindows(from, to time.Time, g models.Granularity) []models.Bucket {
	return features.Buckets(from, to, g)
}
