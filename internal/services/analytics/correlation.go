package analytics

import (
	"context"
	"math"

	"ClinicPulse/internal/domain/models"
	"ClinicPulse/internal/domain/service"

	"gonum.org/v1/gonum/stat"
)

const DefaultCorrelationWindow = 90

// significanceBuckets approximate two-sided normal critical values. They are a
// fixed lookup, not a Student's t CDF.
var significanceBuckets = []struct {
	t      float64
	label  string
	pBound float64
}{
	{2.576, models.Significance99, 0.01},
	{1.96, models.Significance95, 0.05},
	{1.645, models.Significance90, 0.10},
}

// SignificanceFromT maps a t statistic to a discrete significance bucket and
// the p-value upper bound that bucket guarantees.
func SignificanceFromT(t float64) (string, float64) {
	at := math.Abs(t)
	for _, b := range significanceBuckets {
		if at >= b.t {
			return b.label, b.pBound
		}
	}
	return models.SignificanceNone, 1.0
}

// CorrelationStrength labels |r|.
func CorrelationStrength(r float64) string {
	ar := math.Abs(r)
	switch {
	case ar >= 0.7:
		return "strong"
	case ar >= 0.4:
		return "moderate"
	default:
		return "weak"
	}
}

// PearsonEngine implements service.CorrelationEngine.
type PearsonEngine struct{}

func NewPearsonEngine() *PearsonEngine { return &PearsonEngine{} }

var _ service.CorrelationEngine = (*PearsonEngine)(nil)

// Correlate aligns x and y by bucket, keeps the trailing Window pairs and
// computes Pearson r with its t statistic. Results are stored under the
// lexically ordered metric pair so Correlate(x, y) == Correlate(y, x).
func (e *PearsonEngine) Correlate(ctx context.Context, x, y models.TimeSeries, p service.CorrelationParams) (models.CorrelationResult, error) {
	if x.Metric > y.Metric {
		x, y = y, x
	}
	window := p.Window
	if window <= 0 {
		window = DefaultCorrelationWindow
	}

	xs, ys := alignSeries(x, y, p)
	if len(xs) > window {
		xs = xs[len(xs)-window:]
		ys = ys[len(ys)-window:]
	}
	if err := ctx.Err(); err != nil {
		return models.CorrelationResult{}, err
	}

	n := len(xs)
	res := models.CorrelationResult{
		TenantID:     x.TenantID,
		MetricX:      x.Metric,
		MetricY:      y.Metric,
		Window:       window,
		AsOf:         p.AsOf,
		SampleSize:   n,
		Significance: models.SignificanceNone,
		PValueBound:  1.0,
		Strength:     CorrelationStrength(0),
	}
	if n <= 2 || stat.StdDev(xs, nil) == 0 || stat.StdDev(ys, nil) == 0 {
		res.Degenerate = true
		return res, nil
	}

	r := stat.Correlation(xs, ys, nil)
	if math.IsNaN(r) {
		res.Degenerate = true
		return res, nil
	}
	r = math.Max(-1, math.Min(1, r))

	var t float64
	if 1-r*r <= 0 {
		t = math.Copysign(math.Inf(1), r)
	} else {
		t = r * math.Sqrt(float64(n-2)/(1-r*r))
	}

	res.Coefficient = r
	res.TStat = t
	res.Significance, res.PValueBound = SignificanceFromT(t)
	res.Strength = CorrelationStrength(r)
	return res, nil
}

// alignSeries pairs values sharing a bucket, in x order, dropping buckets after AsOf.
func alignSeries(x, y models.TimeSeries, p service.CorrelationParams) ([]float64, []float64) {
	yv := make(map[int64]float64, len(y.Points))
	for _, o := range y.Points {
		yv[o.Bucket.UnixNano()] = o.Value
	}
	xs := make([]float64, 0, len(x.Points))
	ys := make([]float64, 0, len(x.Points))
	for _, o := range x.Points {
		if !p.AsOf.IsZero() && o.Bucket.After(p.AsOf) {
			continue
		}
		v, ok := yv[o.Bucket.UnixNano()]
		if !ok {
			continue
		}
		xs = append(xs, o.Value)
		ys = append(ys, v)
	}
	return xs, ys
}

// TagSeries derives a pseudo-series from a dimension tag of s, named "tag:<name>".
func TagSeries(s models.TimeSeries, tag string) models.TimeSeries {
	out := models.TimeSeries{Metric: "tag:" + tag, TenantID: s.TenantID, Granularity: s.Granularity}
	out.Points = make([]models.Observation, len(s.Points))
	for i, o := range s.Points {
		out.Points[i] = models.Observation{
			Metric:      out.Metric,
			TenantID:    s.TenantID,
			Granularity: s.Granularity,
			Bucket:      o.Bucket,
			Value:       o.Dimensions[tag],
		}
	}
	return out
}
