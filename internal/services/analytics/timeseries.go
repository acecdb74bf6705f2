package analytics

import (
	"context"

	"ClinicPulse/internal/domain/models"
	"ClinicPulse/internal/domain/service"
	"ClinicPulse/internal/services/features"
)

// SeriesBuilder implements service.TimeSeriesBuilder over a MetricRepository.
type SeriesBuilder struct {
	repo *MetricRepository
}

func NewSeriesBuilder(repo *MetricRepository) *SeriesBuilder {
	return &SeriesBuilder{repo: repo}
}

var _ service.TimeSeriesBuilder = (*SeriesBuilder)(nil)

// Build produces one observation per bucket of [From, To), starting at the
// bucket holding the tenant's first fact for the metric's source. Later
// buckets with no underlying facts follow the metric's fill policy.
func (b *SeriesBuilder) Build(ctx context.Context, req service.SeriesRequest) (models.TimeSeries, error) {
	if req.TenantID == "" {
		return models.TimeSeries{}, service.InvalidRange("tenant is required")
	}
	if !req.From.Before(req.To) {
		return models.TimeSeries{}, service.InvalidRange("from %s must be before to %s", req.From.Format("2006-01-02"), req.To.Format("2006-01-02"))
	}
	def, fn, err := b.repo.Definition(req.Metric)
	if err != nil {
		return models.TimeSeries{}, err
	}
	g := req.Granularity
	if g == "" {
		g = def.Granularity
	}
	if !models.IsValidGranularity(g) {
		return models.TimeSeries{}, service.InvalidRange("unsupported granularity %q", g)
	}

	buckets := features.Buckets(req.From, req.To, g)
	out := models.TimeSeries{Metric: def.Name, TenantID: req.TenantID, Granularity: g}
	if len(buckets) == 0 {
		return out, nil
	}
	from, to := buckets[0].Start, buckets[len(buckets)-1].End

	facts, err := b.repo.Facts(ctx, req.TenantID, def.Source, from, to)
	if err != nil {
		return models.TimeSeries{}, err
	}
	first, ok, err := b.repo.FirstFactAt(ctx, req.TenantID, def.Source)
	if err != nil {
		return models.TimeSeries{}, err
	}
	out.Points = make([]models.Observation, 0, len(buckets))
	if !ok {
		return out, nil
	}
	events, err := b.repo.Events(ctx, req.TenantID, from, to)
	if err != nil {
		return models.TimeSeries{}, err
	}

	last := 0.0
	for _, bk := range buckets {
		if err := ctx.Err(); err != nil {
			return models.TimeSeries{}, err
		}
		// buckets that end before the tenant's first fact are not history
		if !bk.End.After(first) {
			continue
		}
		v, ok := fn(facts, bk)
		if !ok {
			v = 0
			if def.Fill == models.FillCarryForward {
				v = last
			}
		}
		last = v
		out.Points = append(out.Points, models.Observation{
			Metric:      def.Name,
			TenantID:    req.TenantID,
			Granularity: g,
			Bucket:      bk.Start,
			Value:       v,
			Dimensions:  features.Tags(bk, g, events),
		})
	}
	return out, nil
}
