package analytics

import (
	"context"
	"math"
	"sort"
	"sync"

	"ClinicPulse/internal/domain/models"
	"ClinicPulse/internal/domain/service"
	"ClinicPulse/internal/services/features"

	"gonum.org/v1/gonum/stat"
)

const (
	LinearModelName    = "linear"
	LinearModelVersion = "linear-v1"

	DefaultForecastLookback = 12

	// z for a two-sided 95% interval
	ciZ = 1.96
)

// LinearTrendModel fits an OLS trend line over x = 0..n-1 and extrapolates it.
type LinearTrendModel struct {
	// FloorRatio bounds predictions below at FloorRatio times the historical mean.
	FloorRatio float64
	// BandLow and BandHigh clamp the interval to [BandLow*p, BandHigh*p].
	BandLow  float64
	BandHigh float64
}

// NewLinearTrendModel returns the baseline linear strategy.
func NewLinearTrendModel() *LinearTrendModel {
	return &LinearTrendModel{FloorRatio: 0.5, BandLow: 0.6, BandHigh: 1.4}
}

func (m *LinearTrendModel) Name() string    { return LinearModelName }
func (m *LinearTrendModel) Version() string { return LinearModelVersion }
func (m *LinearTrendModel) MinPoints() int  { return 3 }

// Predict projects horizon steps past the last history point.
func (m *LinearTrendModel) Predict(history []float64, horizon int) ([]service.Prediction, error) {
	n := len(history)
	if n < m.MinPoints() {
		return nil, service.DataInsufficient("linear forecast needs %d points, got %d", m.MinPoints(), n)
	}
	if horizon < 1 {
		return nil, service.InvalidRange("horizon must be >= 1, got %d", horizon)
	}

	xs := make([]float64, n)
	for i := range xs {
		xs[i] = float64(i)
	}
	intercept, slope := stat.LinearRegression(xs, history, nil, false)

	residuals := make([]float64, n)
	for i, y := range history {
		residuals[i] = y - (intercept + slope*xs[i])
	}
	sigma := stat.StdDev(residuals, nil)
	floor := m.FloorRatio * stat.Mean(history, nil)

	out := make([]service.Prediction, 0, horizon)
	for step := 1; step <= horizon; step++ {
		t := float64(n - 1 + step)
		p := slope*t + intercept
		if p < floor {
			p = floor
		}
		bandLo, bandHi := m.BandLow*p, m.BandHigh*p
		if bandLo > bandHi {
			bandLo, bandHi = bandHi, bandLo
		}
		out = append(out, service.Prediction{
			Step:      step,
			Predicted: p,
			Lower:     math.Max(p-ciZ*sigma, bandLo),
			Upper:     math.Min(p+ciZ*sigma, bandHi),
		})
	}
	return out, nil
}

// ModelRegistry holds the forecast strategies selectable by name.
type ModelRegistry struct {
	mu     sync.RWMutex
	models map[string]service.ForecastModel
}

func NewModelRegistry(ms ...service.ForecastModel) *ModelRegistry {
	r := &ModelRegistry{models: make(map[string]service.ForecastModel)}
	for _, m := range ms {
		r.Register(m)
	}
	return r
}

func (r *ModelRegistry) Register(m service.ForecastModel) {
	r.mu.Lock()
	r.models[m.Name()] = m
	r.mu.Unlock()
}

// Get resolves a model by name.
func (r *ModelRegistry) Get(name string) (service.ForecastModel, error) {
	r.mu.RLock()
	m, ok := r.models[name]
	r.mu.RUnlock()
	if !ok {
		return nil, service.ModelNotFound("unknown forecast model %q", name)
	}
	return m, nil
}

func (r *ModelRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.models))
	for name := range r.models {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Forecaster implements service.ForecastEngine.
type Forecaster struct {
	models *ModelRegistry
}

func NewForecaster(models *ModelRegistry) *Forecaster {
	if models == nil {
		models = NewModelRegistry(NewLinearTrendModel())
	}
	return &Forecaster{models: models}
}

var _ service.ForecastEngine = (*Forecaster)(nil)

// Forecast fits the selected model to the trailing Lookback points and emits
// one ForecastPoint per future bucket.
func (f *Forecaster) Forecast(ctx context.Context, series models.TimeSeries, p service.ForecastParams) ([]models.ForecastPoint, error) {
	name := p.Model
	if name == "" {
		name = LinearModelName
	}
	model, err := f.models.Get(name)
	if err != nil {
		return nil, err
	}
	if p.Horizon < 1 {
		return nil, service.InvalidRange("horizon must be >= 1, got %d", p.Horizon)
	}
	lookback := p.Lookback
	if lookback <= 0 {
		lookback = DefaultForecastLookback
	}

	hist := series.Tail(lookback)
	last, ok := hist.Last()
	if !ok || len(hist.Points) < model.MinPoints() {
		return nil, service.DataInsufficient("%s: %d points, need %d", series.Metric, len(hist.Points), model.MinPoints())
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	preds, err := model.Predict(hist.Values(), p.Horizon)
	if err != nil {
		return nil, err
	}

	out := make([]models.ForecastPoint, 0, len(preds))
	for _, pr := range preds {
		target := features.Advance(last.Bucket, series.Granularity, pr.Step)
		if !target.After(last.Bucket) {
			return nil, service.InvalidRange("target %s not after history end %s", target, last.Bucket)
		}
		out = append(out, models.ForecastPoint{
			Metric:       series.Metric,
			TenantID:     series.TenantID,
			TargetDate:   target,
			ModelVersion: model.Version(),
			Predicted:    pr.Predicted,
			Lower:        pr.Lower,
			Upper:        pr.Upper,
			GeneratedAt:  p.AsOf,
		})
	}
	return out, nil
}
