package analytics

import (
	"context"
	"math"

	"ClinicPulse/internal/domain/models"
	"ClinicPulse/internal/domain/service"

	"gonum.org/v1/gonum/stat"
)

const (
	DefaultAnomalyWindow    = 30
	DefaultAnomalyThreshold = 2.0
)

// ZScoreDetector implements service.AnomalyDetector with a rolling mean/stddev baseline.
type ZScoreDetector struct{}

func NewZScoreDetector() *ZScoreDetector { return &ZScoreDetector{} }

var _ service.AnomalyDetector = (*ZScoreDetector)(nil)

// Detect emits one record per point whose baseline window has at least two
// values and a non-zero stddev. With BaselineIncludeCurrent (the default) the
// window ends at and includes the evaluated point.
func (d *ZScoreDetector) Detect(ctx context.Context, series models.TimeSeries, p service.AnomalyParams) ([]models.AnomalyRecord, error) {
	window := p.Window
	if window <= 0 {
		window = DefaultAnomalyWindow
	}
	threshold := p.Threshold
	if threshold <= 0 {
		threshold = DefaultAnomalyThreshold
	}
	mode := p.Baseline
	if mode == "" {
		mode = service.BaselineIncludeCurrent
	}
	if mode != service.BaselineIncludeCurrent && mode != service.BaselineExcludeCurrent {
		return nil, service.InvalidRange("unknown baseline mode %q", mode)
	}

	values := series.Values()
	if len(values) < 2 {
		return nil, nil
	}

	var out []models.AnomalyRecord
	for i, v := range values {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		lo, hi := baselineBounds(i, window, mode)
		if hi-lo < 2 {
			continue
		}
		mean, sd := stat.MeanStdDev(values[lo:hi], nil)
		if sd == 0 || math.IsNaN(sd) {
			continue
		}
		z := (v - mean) / sd
		rec := models.AnomalyRecord{
			Metric:         series.Metric,
			TenantID:       series.TenantID,
			Date:           series.Points[i].Bucket,
			Actual:         v,
			Expected:       mean,
			ZScore:         z,
			IsAnomaly:      math.Abs(z) > threshold,
			Classification: models.AnomalyNormal,
		}
		if rec.IsAnomaly {
			if z > 0 {
				rec.Classification = models.AnomalyPositive
			} else {
				rec.Classification = models.AnomalyNegative
			}
		}
		out = append(out, rec)
	}
	return out, nil
}

// baselineBounds returns the [lo, hi) slice bounds of the window for point i.
func baselineBounds(i, window int, mode service.BaselineMode) (int, int) {
	hi := i + 1
	if mode == service.BaselineExcludeCurrent {
		hi = i
	}
	lo := hi - window
	if lo < 0 {
		lo = 0
	}
	return lo, hi
}
