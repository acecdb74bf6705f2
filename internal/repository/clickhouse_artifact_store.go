package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"ClinicPulse/internal/domain/models"
	domrepo "ClinicPulse/internal/domain/repository"
	pkgch "ClinicPulse/pkg/clickhouse"
	applogger "ClinicPulse/pkg/logger"
)

// CHArtifactStore implements ArtifactStore backed by ClickHouse.
type CHArtifactStore struct {
	ch *pkgch.Client
	db *sql.DB
	ns string
	l  *applogger.Logger
}

func NewCHArtifactStore(ch *pkgch.Client, l *applogger.Logger) *CHArtifactStore {
	return &CHArtifactStore{ch: ch, db: ch.DB(), ns: ch.Database(), l: l}
}

var _ domrepo.ArtifactStore = (*CHArtifactStore)(nil)

func (s *CHArtifactStore) table(name string) string { return s.ns + "." + name }

// insert runs a batch insert and logs its outcome.
func (s *CHArtifactStore) insert(ctx context.Context, table, cols string, rows [][]any) error {
	if len(rows) == 0 {
		return nil
	}
	start := time.Now()
	q := fmt.Sprintf("INSERT INTO %s (%s)", s.table(table), cols)
	if err := s.ch.InsertBatch(ctx, q, rows); err != nil {
		if s.l != nil {
			s.l.Error("clickhouse insert error",
				applogger.String("table", table),
				applogger.Int("rows", len(rows)),
				applogger.Error(err),
			)
		}
		return fmt.Errorf("insert %s: %w", table, err)
	}
	if s.l != nil {
		s.l.Debug("clickhouse insert ok",
			applogger.String("table", table),
			applogger.Int("rows", len(rows)),
			applogger.Duration("duration_ms", time.Since(start)),
		)
	}
	return nil
}

func (s *CHArtifactStore) UpsertObservations(ctx context.Context, obs []models.Observation) error {
	rows := make([][]any, 0, len(obs))
	for _, o := range obs {
		dims := o.Dimensions
		if dims == nil {
			dims = map[string]float64{}
		}
		rows = append(rows, []any{o.TenantID, o.Metric, string(o.Granularity), o.Bucket.UTC(), o.Value, dims})
	}
	return s.insert(ctx, "metric_observations", "tenant_id, metric, granularity, bucket, value, dimensions", rows)
}

func (s *CHArtifactStore) UpsertForecastPoints(ctx context.Context, pts []models.ForecastPoint) error {
	rows := make([][]any, 0, len(pts))
	for _, p := range pts {
		rows = append(rows, []any{p.TenantID, p.Metric, p.TargetDate.UTC(), p.ModelVersion, p.Predicted, p.Lower, p.Upper, p.GeneratedAt.UTC()})
	}
	return s.insert(ctx, "forecast_points",
		"tenant_id, metric, target_date, model_version, predicted, lower, upper, generated_at", rows)
}

func (s *CHArtifactStore) UpsertCohortMetrics(ctx context.Context, ms []models.CohortPeriodMetric) error {
	rows := make([][]any, 0, len(ms))
	for _, r := range ms {
		rows = append(rows, []any{
			r.TenantID, r.CohortStart.UTC(), r.Dimension, uint16(r.Period),
			uint32(r.CohortSize), uint32(r.ActiveCount), r.Revenue, r.CumulativeRevenue,
			uint32(r.ChurnCount), uint32(r.UpgradeCount), uint32(r.DowngradeCount), r.RetentionRate,
		})
	}
	return s.insert(ctx, "cohort_metrics",
		"tenant_id, cohort_start, dimension, period, cohort_size, active_count, revenue, cumulative_revenue, churn_count, upgrade_count, downgrade_count, retention_rate", rows)
}

func (s *CHArtifactStore) UpsertAnomalies(ctx context.Context, recs []models.AnomalyRecord) error {
	rows := make([][]any, 0, len(recs))
	for _, r := range recs {
		rows = append(rows, []any{r.TenantID, r.Metric, r.Date.UTC(), r.Actual, r.Expected, r.ZScore, r.IsAnomaly, r.Classification})
	}
	return s.insert(ctx, "anomalies",
		"tenant_id, metric, date, actual, expected, z_score, is_anomaly, classification", rows)
}

func (s *CHArtifactStore) UpsertCorrelations(ctx context.Context, res []models.CorrelationResult) error {
	rows := make([][]any, 0, len(res))
	for _, r := range res {
		rows = append(rows, []any{
			r.TenantID, r.MetricX, r.MetricY, uint32(r.Window), r.AsOf.UTC(), r.Coefficient,
			uint32(r.SampleSize), r.TStat, r.Significance, r.PValueBound, r.Strength, r.Degenerate,
		})
	}
	return s.insert(ctx, "correlations",
		"tenant_id, metric_x, metric_y, window_size, as_of, coefficient, sample_size, t_stat, significance, p_value_bound, strength, degenerate", rows)
}

func (s *CHArtifactStore) UpsertRiskProfiles(ctx context.Context, profiles []models.RiskProfile) error {
	rows := make([][]any, 0, len(profiles))
	for _, p := range profiles {
		factors := p.Factors
		if factors == nil {
			factors = map[string]float64{}
		}
		rows = append(rows, []any{p.TenantID, p.SubjectID, p.ModelVersion, factors, p.Score, p.Tier, p.ComputedAt.UTC()})
	}
	return s.insert(ctx, "risk_profiles",
		"tenant_id, subject_id, model_version, factors, score, tier, computed_at", rows)
}

// ReplaceInsights deletes the (tenant, asOf) set before inserting the new one.
func (s *CHArtifactStore) ReplaceInsights(ctx context.Context, tenantID string, asOf time.Time, insights []models.Insight) error {
	q := fmt.Sprintf("DELETE FROM %s WHERE tenant_id = ? AND as_of = ?", s.table("insights"))
	if _, err := s.db.ExecContext(ctx, q, tenantID, asOf.UTC()); err != nil {
		return fmt.Errorf("clear insights: %w", err)
	}
	rows := make([][]any, 0, len(insights))
	for _, in := range insights {
		rows = append(rows, []any{in.TenantID, in.AsOf.UTC(), in.RuleID, in.Category, in.Type, in.Message, uint8(in.Confidence), in.Action, in.Priority})
	}
	return s.insert(ctx, "insights",
		"tenant_id, as_of, rule_id, category, type, message, confidence, action, priority", rows)
}

// filterClause renders the WHERE/ORDER/LIMIT tail of a FINAL read.
type filterClause struct {
	conds []string
	args  []any
}

func (c *filterClause) add(cond string, args ...any) {
	c.conds = append(c.conds, cond)
	c.args = append(c.args, args...)
}

func (c *filterClause) render(order string, limit int) string {
	var b strings.Builder
	if len(c.conds) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(c.conds, " AND "))
	}
	b.WriteString(" ORDER BY ")
	b.WriteString(order)
	if limit > 0 {
		fmt.Fprintf(&b, " LIMIT %d", limit)
	}
	return b.String()
}

// commonFilter applies tenant, metric and time range to the named columns.
func commonFilter(f domrepo.ArtifactFilter, metricCol, timeCol string) *filterClause {
	c := &filterClause{}
	if f.TenantID != "" {
		c.add("tenant_id = ?", f.TenantID)
	}
	if f.Metric != "" && metricCol != "" {
		c.add(metricCol+" = ?", f.Metric)
	}
	if !f.From.IsZero() && timeCol != "" {
		c.add(timeCol+" >= ?", f.From.UTC())
	}
	if !f.To.IsZero() && timeCol != "" {
		c.add(timeCol+" < ?", f.To.UTC())
	}
	return c
}

func (s *CHArtifactStore) query(ctx context.Context, table, cols string, c *filterClause, order string, limit int) (*sql.Rows, error) {
	q := fmt.Sprintf("SELECT %s FROM %s FINAL%s", cols, s.table(table), c.render(order, limit))
	rows, err := s.db.QueryContext(ctx, q, c.args...)
	if err != nil {
		if s.l != nil {
			s.l.Error("clickhouse query error", applogger.String("table", table), applogger.Error(err))
		}
		return nil, fmt.Errorf("query %s: %w", table, err)
	}
	return rows, nil
}

func (s *CHArtifactStore) ListObservations(ctx context.Context, f domrepo.ArtifactFilter) ([]models.Observation, error) {
	c := commonFilter(f, "metric", "bucket")
	if f.Granularity != "" {
		c.add("granularity = ?", string(f.Granularity))
	}
	rows, err := s.query(ctx, "metric_observations", "tenant_id, metric, granularity, bucket, value, dimensions",
		c, "tenant_id, metric, granularity, bucket", f.Limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Observation
	for rows.Next() {
		var (
			o models.Observation
			g string
		)
		if err := rows.Scan(&o.TenantID, &o.Metric, &g, &o.Bucket, &o.Value, &o.Dimensions); err != nil {
			return nil, fmt.Errorf("scan observation: %w", err)
		}
		o.Granularity = models.Granularity(g)
		out = append(out, o)
	}
	return out, rows.Err()
}

func (s *CHArtifactStore) ListForecastPoints(ctx context.Context, f domrepo.ArtifactFilter) ([]models.ForecastPoint, error) {
	c := commonFilter(f, "metric", "target_date")
	if f.Model != "" {
		c.add("startsWith(model_version, ?)", f.Model)
	}
	rows, err := s.query(ctx, "forecast_points",
		"tenant_id, metric, target_date, model_version, predicted, lower, upper, generated_at",
		c, "tenant_id, metric, target_date, model_version", f.Limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.ForecastPoint
	for rows.Next() {
		var p models.ForecastPoint
		if err := rows.Scan(&p.TenantID, &p.Metric, &p.TargetDate, &p.ModelVersion, &p.Predicted, &p.Lower, &p.Upper, &p.GeneratedAt); err != nil {
			return nil, fmt.Errorf("scan forecast point: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *CHArtifactStore) ListCohortMetrics(ctx context.Context, f domrepo.ArtifactFilter) ([]models.CohortPeriodMetric, error) {
	rows, err := s.query(ctx, "cohort_metrics",
		"tenant_id, cohort_start, dimension, period, cohort_size, active_count, revenue, cumulative_revenue, churn_count, upgrade_count, downgrade_count, retention_rate",
		commonFilter(f, "dimension", "cohort_start"), "tenant_id, cohort_start, dimension, period", f.Limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.CohortPeriodMetric
	for rows.Next() {
		var (
			r                             models.CohortPeriodMetric
			period                        uint16
			size, active, churn, up, down uint32
		)
		if err := rows.Scan(&r.TenantID, &r.CohortStart, &r.Dimension, &period, &size, &active,
			&r.Revenue, &r.CumulativeRevenue, &churn, &up, &down, &r.RetentionRate); err != nil {
			return nil, fmt.Errorf("scan cohort metric: %w", err)
		}
		r.Period, r.CohortSize, r.ActiveCount = int(period), int(size), int(active)
		r.ChurnCount, r.UpgradeCount, r.DowngradeCount = int(churn), int(up), int(down)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *CHArtifactStore) ListAnomalies(ctx context.Context, f domrepo.ArtifactFilter) ([]models.AnomalyRecord, error) {
	rows, err := s.query(ctx, "anomalies",
		"tenant_id, metric, date, actual, expected, z_score, is_anomaly, classification",
		commonFilter(f, "metric", "date"), "tenant_id, metric, date", f.Limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.AnomalyRecord
	for rows.Next() {
		var r models.AnomalyRecord
		if err := rows.Scan(&r.TenantID, &r.Metric, &r.Date, &r.Actual, &r.Expected, &r.ZScore, &r.IsAnomaly, &r.Classification); err != nil {
			return nil, fmt.Errorf("scan anomaly: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *CHArtifactStore) ListCorrelations(ctx context.Context, f domrepo.ArtifactFilter) ([]models.CorrelationResult, error) {
	c := commonFilter(f, "", "as_of")
	if f.Metric != "" {
		c.add("(metric_x = ? OR metric_y = ?)", f.Metric, f.Metric)
	}
	rows, err := s.query(ctx, "correlations",
		"tenant_id, metric_x, metric_y, window_size, as_of, coefficient, sample_size, t_stat, significance, p_value_bound, strength, degenerate",
		c, "tenant_id, metric_x, metric_y, window_size, as_of", f.Limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.CorrelationResult
	for rows.Next() {
		var (
			r            models.CorrelationResult
			window, size uint32
		)
		if err := rows.Scan(&r.TenantID, &r.MetricX, &r.MetricY, &window, &r.AsOf, &r.Coefficient, &size,
			&r.TStat, &r.Significance, &r.PValueBound, &r.Strength, &r.Degenerate); err != nil {
			return nil, fmt.Errorf("scan correlation: %w", err)
		}
		r.Window, r.SampleSize = int(window), int(size)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *CHArtifactStore) ListRiskProfiles(ctx context.Context, f domrepo.ArtifactFilter) ([]models.RiskProfile, error) {
	c := commonFilter(f, "", "")
	if f.Model != "" {
		c.add("startsWith(model_version, ?)", f.Model)
	}
	rows, err := s.query(ctx, "risk_profiles",
		"tenant_id, subject_id, model_version, factors, score, tier, computed_at",
		c, "tenant_id, subject_id, model_version", f.Limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.RiskProfile
	for rows.Next() {
		var p models.RiskProfile
		if err := rows.Scan(&p.TenantID, &p.SubjectID, &p.ModelVersion, &p.Factors, &p.Score, &p.Tier, &p.ComputedAt); err != nil {
			return nil, fmt.Errorf("scan risk profile: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *CHArtifactStore) ListInsights(ctx context.Context, tenantID string, asOf time.Time) ([]models.Insight, error) {
	c := &filterClause{}
	c.add("tenant_id = ?", tenantID)
	c.add("as_of = ?", asOf.UTC())
	rows, err := s.query(ctx, "insights",
		"tenant_id, as_of, rule_id, category, type, message, confidence, action, priority",
		c, "rule_id", 0)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Insight
	for rows.Next() {
		var (
			in   models.Insight
			conf uint8
		)
		if err := rows.Scan(&in.TenantID, &in.AsOf, &in.RuleID, &in.Category, &in.Type, &in.Message, &conf, &in.Action, &in.Priority); err != nil {
			return nil, fmt.Errorf("scan insight: %w", err)
		}
		in.Confidence = int(conf)
		out = append(out, in)
	}
	return out, rows.Err()
}

func (s *CHArtifactStore) Health(ctx context.Context) error { return s.ch.Health(ctx) }

// Close is a no-op; the client is closed by its owner.
func (s *CHArtifactStore) Close() error { return nil }
