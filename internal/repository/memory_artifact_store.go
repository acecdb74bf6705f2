package repository

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"ClinicPulse/internal/domain/models"
	domrepo "ClinicPulse/internal/domain/repository"
)

// MemoryArtifactStore keeps artifacts in maps keyed by their natural keys.
// It backs tests and single-process runs without ClickHouse.
type MemoryArtifactStore struct {
	mu           sync.RWMutex
	observations map[string]models.Observation
	forecasts    map[string]models.ForecastPoint
	cohorts      map[string]models.CohortPeriodMetric
	anomalies    map[string]models.AnomalyRecord
	correlations map[string]models.CorrelationResult
	risk         map[string]models.RiskProfile
	insights     map[string][]models.Insight
}

func NewMemoryArtifactStore() *MemoryArtifactStore {
	return &MemoryArtifactStore{
		observations: make(map[string]models.Observation),
		forecasts:    make(map[string]models.ForecastPoint),
		cohorts:      make(map[string]models.CohortPeriodMetric),
		anomalies:    make(map[string]models.AnomalyRecord),
		correlations: make(map[string]models.CorrelationResult),
		risk:         make(map[string]models.RiskProfile),
		insights:     make(map[string][]models.Insight),
	}
}

var _ domrepo.ArtifactStore = (*MemoryArtifactStore)(nil)

func tkey(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func (m *MemoryArtifactStore) UpsertObservations(_ context.Context, obs []models.Observation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range obs {
		m.observations[fmt.Sprintf("%s|%s|%s|%s", o.TenantID, o.Metric, o.Granularity, tkey(o.Bucket))] = o
	}
	return nil
}

func (m *MemoryArtifactStore) UpsertForecastPoints(_ context.Context, pts []models.ForecastPoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range pts {
		m.forecasts[fmt.Sprintf("%s|%s|%s|%s", p.TenantID, p.Metric, tkey(p.TargetDate), p.ModelVersion)] = p
	}
	return nil
}

func (m *MemoryArtifactStore) UpsertCohortMetrics(_ context.Context, rows []models.CohortPeriodMetric) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range rows {
		m.cohorts[fmt.Sprintf("%s|%s|%s|%04d", r.TenantID, tkey(r.CohortStart), r.Dimension, r.Period)] = r
	}
	return nil
}

func (m *MemoryArtifactStore) UpsertAnomalies(_ context.Context, recs []models.AnomalyRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range recs {
		m.anomalies[fmt.Sprintf("%s|%s|%s", r.TenantID, r.Metric, tkey(r.Date))] = r
	}
	return nil
}

func (m *MemoryArtifactStore) UpsertCorrelations(_ context.Context, res []models.CorrelationResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range res {
		m.correlations[fmt.Sprintf("%s|%s|%s|%d|%s", r.TenantID, r.MetricX, r.MetricY, r.Window, tkey(r.AsOf))] = r
	}
	return nil
}

func (m *MemoryArtifactStore) UpsertRiskProfiles(_ context.Context, profiles []models.RiskProfile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range profiles {
		m.risk[fmt.Sprintf("%s|%s|%s", p.TenantID, p.SubjectID, p.ModelVersion)] = p
	}
	return nil
}

func (m *MemoryArtifactStore) ReplaceInsights(_ context.Context, tenantID string, asOf time.Time, insights []models.Insight) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := tenantID + "|" + tkey(asOf)
	if len(insights) == 0 {
		delete(m.insights, key)
		return nil
	}
	m.insights[key] = append([]models.Insight(nil), insights...)
	return nil
}

// inRange applies the From/To part of a filter to t.
func inRange(f domrepo.ArtifactFilter, t time.Time) bool {
	if !f.From.IsZero() && t.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && !t.Before(f.To) {
		return false
	}
	return true
}

func matches(f domrepo.ArtifactFilter, tenantID, metric string) bool {
	if f.TenantID != "" && f.TenantID != tenantID {
		return false
	}
	return f.Metric == "" || f.Metric == metric
}

// sortedValues returns map values ordered by key, truncated to limit when positive.
func sortedValues[T any](src map[string]T, keep func(T) bool, limit int) []T {
	keys := make([]string, 0, len(src))
	for k := range src {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]T, 0, len(keys))
	for _, k := range keys {
		v := src[k]
		if keep != nil && !keep(v) {
			continue
		}
		out = append(out, v)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

func (m *MemoryArtifactStore) ListObservations(_ context.Context, f domrepo.ArtifactFilter) ([]models.Observation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return sortedValues(m.observations, func(o models.Observation) bool {
		if f.Granularity != "" && f.Granularity != o.Granularity {
			return false
		}
		return matches(f, o.TenantID, o.Metric) && inRange(f, o.Bucket)
	}, f.Limit), nil
}

func (m *MemoryArtifactStore) ListForecastPoints(_ context.Context, f domrepo.ArtifactFilter) ([]models.ForecastPoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return sortedValues(m.forecasts, func(p models.ForecastPoint) bool {
		if f.Model != "" && !strings.HasPrefix(p.ModelVersion, f.Model) {
			return false
		}
		return matches(f, p.TenantID, p.Metric) && inRange(f, p.TargetDate)
	}, f.Limit), nil
}

func (m *MemoryArtifactStore) ListCohortMetrics(_ context.Context, f domrepo.ArtifactFilter) ([]models.CohortPeriodMetric, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return sortedValues(m.cohorts, func(r models.CohortPeriodMetric) bool {
		if f.TenantID != "" && f.TenantID != r.TenantID {
			return false
		}
		return (f.Metric == "" || f.Metric == r.Dimension) && inRange(f, r.CohortStart)
	}, f.Limit), nil
}

func (m *MemoryArtifactStore) ListAnomalies(_ context.Context, f domrepo.ArtifactFilter) ([]models.AnomalyRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return sortedValues(m.anomalies, func(r models.AnomalyRecord) bool {
		return matches(f, r.TenantID, r.Metric) && inRange(f, r.Date)
	}, f.Limit), nil
}

func (m *MemoryArtifactStore) ListCorrelations(_ context.Context, f domrepo.ArtifactFilter) ([]models.CorrelationResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return sortedValues(m.correlations, func(r models.CorrelationResult) bool {
		if f.TenantID != "" && f.TenantID != r.TenantID {
			return false
		}
		if f.Metric != "" && f.Metric != r.MetricX && f.Metric != r.MetricY {
			return false
		}
		return inRange(f, r.AsOf)
	}, f.Limit), nil
}

func (m *MemoryArtifactStore) ListRiskProfiles(_ context.Context, f domrepo.ArtifactFilter) ([]models.RiskProfile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return sortedValues(m.risk, func(p models.RiskProfile) bool {
		if f.TenantID != "" && f.TenantID != p.TenantID {
			return false
		}
		return f.Model == "" || strings.HasPrefix(p.ModelVersion, f.Model)
	}, f.Limit), nil
}

func (m *MemoryArtifactStore) ListInsights(_ context.Context, tenantID string, asOf time.Time) ([]models.Insight, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]models.Insight(nil), m.insights[tenantID+"|"+tkey(asOf)]...), nil
}

// ArtifactCounts is the number of stored rows per artifact kind.
type ArtifactCounts struct {
	Observations int
	Forecasts    int
	Cohorts      int
	Anomalies    int
	Correlations int
	Risk         int
	Insights     int
}

// Counts reports how many rows each table holds.
func (m *MemoryArtifactStore) Counts() ArtifactCounts {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, ins := range m.insights {
		n += len(ins)
	}
	return ArtifactCounts{
		Observations: len(m.observations),
		Forecasts:    len(m.forecasts),
		Cohorts:      len(m.cohorts),
		Anomalies:    len(m.anomalies),
		Correlations: len(m.correlations),
		Risk:         len(m.risk),
		Insights:     n,
	}
}

func (m *MemoryArtifactStore) Health(_ context.Context) error { return nil }

func (m *MemoryArtifactStore) Close() error { return nil }
