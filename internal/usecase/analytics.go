package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"ClinicPulse/internal/domain/models"
	drepo "ClinicPulse/internal/domain/repository"
	"ClinicPulse/internal/domain/service"
	"ClinicPulse/internal/service/lock"
	"ClinicPulse/internal/services/analytics"
	"ClinicPulse/internal/services/features"
	applogger "ClinicPulse/pkg/logger"
)

// Risk model names accepted by triggers.
const (
	RiskDelinquency     = "delinquency"
	RiskTrialConversion = "trial_conversion"
)

// Settings are the defaults used when a trigger leaves a parameter unset.
type Settings struct {
	// ObservationMetrics empty means every registered metric.
	ObservationMetrics []string

	ForecastMetrics  []string
	ForecastModel    string
	ForecastLookback int
	ForecastHorizon  int

	AnomalyMetrics   []string
	AnomalyWindow    int
	AnomalyThreshold float64
	AnomalyBaseline  service.BaselineMode

	CorrelationWindow int
	CorrelationPairs  [][2]string
	// CorrelationTags are dimension tags correlated against every paired metric.
	CorrelationTags []string
	// CorrelationTagPrefixes add every tag seen with the prefix, e.g. "campaign:".
	CorrelationTagPrefixes []string

	CohortGranularity models.Granularity
	CohortPeriods     int
	CohortWindows     int

	RiskModels       []string
	RiskLookbackDays int

	InsightAnomalyDays int

	// Concurrency bounds how many tenants a batch processes at once.
	Concurrency int
}

// DefaultSettings returns the stock analytics defaults.
func DefaultSettings() Settings {
	return Settings{
		ForecastMetrics:  []string{analytics.MetricMRR},
		ForecastModel:    analytics.LinearModelName,
		ForecastLookback: analytics.DefaultForecastLookback,
		ForecastHorizon:  3,
		AnomalyMetrics: []string{
			analytics.MetricNewSubscriptions,
			analytics.MetricCancellations,
			analytics.MetricRevenue,
			analytics.MetricAppointmentsCompleted,
		},
		AnomalyWindow:     analytics.DefaultAnomalyWindow,
		AnomalyThreshold:  analytics.DefaultAnomalyThreshold,
		AnomalyBaseline:   service.BaselineIncludeCurrent,
		CorrelationWindow: analytics.DefaultCorrelationWindow,
		CorrelationPairs: [][2]string{
			{analytics.MetricNewSubscriptions, analytics.MetricCancellations},
			{analytics.MetricTrialStarts, analytics.MetricTrialConversions},
			{analytics.MetricRevenue, analytics.MetricAppointmentsCompleted},
		},
		CorrelationTags:        []string{"is_weekend"},
		CorrelationTagPrefixes: []string{models.EventCampaign + ":"},
		CohortGranularity:      models.GranularityMonthly,
		CohortPeriods:          analytics.DefaultCohortPeriods,
		CohortWindows:          12,
		RiskModels:             []string{RiskDelinquency, RiskTrialConversion},
		RiskLookbackDays:       365,
		InsightAnomalyDays:     30,
		Concurrency:            4,
	}
}

// Params is one resolved recompute request for a single tenant.
type Params struct {
	RunID       string
	TenantID    string
	AsOf        time.Time
	Metrics     []string
	Horizon     int
	Window      int
	Granularity models.Granularity
	Model       string
	Dimension   string
}

// ParamsFromTrigger copies a trigger into Params for tenantID.
func ParamsFromTrigger(t models.RecomputeTrigger, runID, tenantID string) Params {
	return Params{
		RunID:       runID,
		TenantID:    tenantID,
		AsOf:        t.AsOf.UTC(),
		Metrics:     t.Metrics,
		Horizon:     t.Horizon,
		Window:      t.Window,
		Granularity: models.Granularity(t.Granularity),
		Model:       t.Model,
		Dimension:   t.Dimension,
	}
}

// Result reports how many primary artifacts an entry point wrote. Skipped
// maps each metric that produced nothing to the error that stopped it.
type Result struct {
	Written int               `json:"written"`
	Skipped map[string]string `json:"skipped,omitempty"`
}

// metricFailures collects per-metric errors so one metric with too little
// history or a failing read does not discard the others.
type metricFailures struct {
	skipped map[string]string
	errs    []error
}

// record keeps err for metric. It returns the context error instead when the
// run itself was cancelled.
func (f *metricFailures) record(ctx context.Context, metric string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if f.skipped == nil {
		f.skipped = make(map[string]string)
	}
	f.skipped[metric] = err.Error()
	f.errs = append(f.errs, err)
	return nil
}

// err is non-nil only when every one of total metrics failed.
func (f *metricFailures) err(total int) error {
	if len(f.errs) == 0 || len(f.errs) < total {
		return nil
	}
	return errors.Join(f.errs...)
}

func (f *metricFailures) result(written int) Result {
	return Result{Written: written, Skipped: f.skipped}
}

// Analytics orchestrates the engines into the recompute entry points. Every
// entry point computes all of its artifacts before it writes, so a failed run
// leaves the previous artifacts in place.
type Analytics struct {
	data    drepo.DataAccess
	store   drepo.ArtifactStore
	events  drepo.EventPublisher
	locker  drepo.Locker
	metrics drepo.Metrics
	logger  *applogger.Logger

	repo       *analytics.MetricRepository
	series     service.TimeSeriesBuilder
	forecaster service.ForecastEngine
	cohorts    service.CohortEngine
	detector   service.AnomalyDetector
	correlator service.CorrelationEngine
	scorers    map[string]service.SubjectScorer
	insights   service.InsightGenerator

	settings Settings
}

// Option configures Analytics.
type Option func(*Analytics)

func WithLogger(l *applogger.Logger) Option { return func(a *Analytics) { a.logger = l } }

func WithMetrics(m drepo.Metrics) Option { return func(a *Analytics) { a.metrics = m } }

func WithEvents(p drepo.EventPublisher) Option { return func(a *Analytics) { a.events = p } }

func WithLocker(l drepo.Locker) Option { return func(a *Analytics) { a.locker = l } }

func WithSettings(s Settings) Option { return func(a *Analytics) { a.settings = s } }

func WithRegistry(r *analytics.MetricRegistry) Option {
	return func(a *Analytics) { a.repo = analytics.NewMetricRepository(a.data, r) }
}

func WithForecastEngine(f service.ForecastEngine) Option {
	return func(a *Analytics) { a.forecaster = f }
}

func WithScorer(name string, s service.SubjectScorer) Option {
	return func(a *Analytics) { a.scorers[name] = s }
}

func WithInsightGenerator(g service.InsightGenerator) Option {
	return func(a *Analytics) { a.insights = g }
}

// NewAnalytics wires the default engines over data and store.
func NewAnalytics(data drepo.DataAccess, store drepo.ArtifactStore, opts ...Option) (*Analytics, error) {
	delinquency, err := analytics.NewDelinquencyScorer()
	if err != nil {
		return nil, fmt.Errorf("delinquency scorer: %w", err)
	}
	conversion, err := analytics.NewConversionScorer(nil, 0)
	if err != nil {
		return nil, fmt.Errorf("conversion scorer: %w", err)
	}

	a := &Analytics{
		data:       data,
		store:      store,
		events:     noEvents{},
		locker:     lock.NewKeyedMutex(),
		metrics:    noMetrics{},
		repo:       analytics.NewMetricRepository(data, nil),
		forecaster: analytics.NewForecaster(nil),
		cohorts:    analytics.NewCohortAnalyzer(),
		detector:   analytics.NewZScoreDetector(),
		correlator: analytics.NewPearsonEngine(),
		scorers: map[string]service.SubjectScorer{
			RiskDelinquency:     delinquency,
			RiskTrialConversion: conversion,
		},
		insights: analytics.NewRuleInsightGenerator(analytics.DefaultInsightThresholds()),
		settings: DefaultSettings(),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.logger == nil {
		a.logger = applogger.Nop()
	}
	a.series = analytics.NewSeriesBuilder(a.repo)
	return a, nil
}

// Settings returns the active defaults.
func (a *Analytics) Settings() Settings { return a.settings }

// Tenants lists every tenant the fact store knows about.
func (a *Analytics) Tenants(ctx context.Context) ([]models.Tenant, error) {
	return a.data.Tenants(ctx)
}

// run wraps one entry point with the per-key lock, latency and outcome metrics.
func (a *Analytics) run(ctx context.Context, entry string, p Params, fn func(context.Context) (Result, error)) (Result, error) {
	if p.TenantID == "" {
		return Result{}, service.InvalidRange("tenant is required")
	}
	if p.AsOf.IsZero() {
		return Result{}, service.InvalidRange("as_of is required")
	}

	key := lockKey(entry, p)
	release, err := a.locker.Acquire(ctx, key)
	if err != nil {
		return Result{}, fmt.Errorf("lock %s: %w", key, err)
	}
	defer release()

	start := time.Now()
	res, err := fn(ctx)
	a.metrics.RecordLatency("recompute_"+entry, time.Since(start).Seconds())
	if err != nil {
		a.metrics.RecordRecompute(entry, "error")
		a.metrics.RecordError(entry)
		a.logger.Error("recompute failed",
			applogger.String("run_id", p.RunID),
			applogger.String("entry", entry),
			applogger.String("tenant_id", p.TenantID),
			applogger.Error(err),
		)
		return Result{}, err
	}
	a.metrics.RecordRecompute(entry, "ok")
	for metric, reason := range res.Skipped {
		a.metrics.RecordError(entry)
		a.logger.Warn("recompute skipped metric",
			applogger.String("run_id", p.RunID),
			applogger.String("entry", entry),
			applogger.String("tenant_id", p.TenantID),
			applogger.String("metric", metric),
			applogger.String("reason", reason),
		)
	}
	a.logger.Info("recompute done",
		applogger.String("run_id", p.RunID),
		applogger.String("entry", entry),
		applogger.String("tenant_id", p.TenantID),
		applogger.Int("written", res.Written),
		applogger.Int("skipped", len(res.Skipped)),
		applogger.Duration("duration_ms", time.Since(start)),
	)
	return res, nil
}

// lockKey is (tenant, entry, metrics); runs on disjoint metrics do not wait on each other.
func lockKey(entry string, p Params) string {
	m := "*"
	if len(p.Metrics) > 0 {
		m = strings.Join(p.Metrics, ",")
	}
	return p.TenantID + ":" + entry + ":" + m
}

// asOfRange returns n buckets of granularity g ending with the bucket that
// contains the as-of day.
func asOfRange(asOf time.Time, g models.Granularity, n int) (time.Time, time.Time) {
	if n < 1 {
		n = 1
	}
	last := features.Truncate(asOf, g)
	return features.Advance(last, g, -(n - 1)), features.Advance(last, g, 1)
}

// endOfDay is the exclusive upper bound of the as-of day.
func endOfDay(asOf time.Time) time.Time {
	return features.Truncate(asOf, models.GranularityDaily).AddDate(0, 0, 1)
}

func historyBuckets(g models.Granularity) int {
	switch g {
	case models.GranularityMonthly:
		return 13
	case models.GranularityWeekly:
		return 26
	default:
		return 90
	}
}

func pick[T comparable](v, def T) T {
	var zero T
	if v == zero {
		return def
	}
	return v
}

func pickList(v, def []string) []string {
	if len(v) > 0 {
		return v
	}
	return def
}

type noEvents struct{}

func (noEvents) Publish(context.Context, models.ArtifactEvent) error        { return nil }
func (noEvents) PublishBatch(context.Context, []models.ArtifactEvent) error { return nil }
func (noEvents) Close() error                                               { return nil }

type noMetrics struct{}

func (noMetrics) RecordRecompute(string, string) {}
func (noMetrics) RecordArtifacts(string, int)    {}
func (noMetrics) RecordError(string)             {}
func (noMetrics) RecordLatency(string, float64)  {}
