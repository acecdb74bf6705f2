package usecase

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"ClinicPulse/internal/domain/models"
	"ClinicPulse/internal/domain/service"
	"ClinicPulse/internal/services/analytics"
)

// ScanCorrelations correlates the configured metric pairs, plus every tag
// pseudo-series against each paired metric. With two or more Metrics in the
// request, every pair among them is scanned instead. Pairs touching a metric
// whose series failed to build are skipped.
func (a *Analytics) ScanCorrelations(ctx context.Context, p Params) (Result, error) {
	return a.run(ctx, models.EntryCorrelations, p, func(ctx context.Context) (Result, error) {
		window := pick(p.Window, a.settings.CorrelationWindow)
		g := pick(p.Granularity, models.GranularityDaily)
		pairs := correlationPairs(p.Metrics, a.settings.CorrelationPairs)
		if len(pairs) == 0 {
			return Result{}, service.InvalidRange("no metric pairs to correlate")
		}

		series := make(map[string]models.TimeSeries)
		seen := make(map[string]bool)
		var (
			names  []string
			failed metricFailures
		)
		for _, pair := range pairs {
			for _, m := range pair {
				if seen[m] {
					continue
				}
				seen[m] = true
				s, err := a.buildSeries(ctx, p.TenantID, p.AsOf, m, g, window)
				if err != nil {
					if err := failed.record(ctx, m, fmt.Errorf("series %s: %w", m, err)); err != nil {
						return Result{}, err
					}
					continue
				}
				series[m] = s
				names = append(names, m)
			}
		}
		if err := failed.err(len(seen)); err != nil {
			return Result{}, err
		}

		cp := service.CorrelationParams{Window: window, AsOf: p.AsOf}
		var results []models.CorrelationResult
		for _, pair := range pairs {
			x, okX := series[pair[0]]
			y, okY := series[pair[1]]
			if !okX || !okY {
				continue
			}
			r, err := a.correlator.Correlate(ctx, x, y, cp)
			if err != nil {
				return Result{}, fmt.Errorf("correlate %s/%s: %w", pair[0], pair[1], err)
			}
			results = append(results, r)
		}

		// tags come from the longest series; shorter ones start at a later first fact
		base := series[names[0]]
		for _, m := range names[1:] {
			if len(series[m].Points) > len(base.Points) {
				base = series[m]
			}
		}
		for _, tag := range a.correlationTags(base) {
			ts := analytics.TagSeries(base, tag)
			for _, m := range names {
				r, err := a.correlator.Correlate(ctx, ts, series[m], cp)
				if err != nil {
					return Result{}, fmt.Errorf("correlate %s/%s: %w", ts.Metric, m, err)
				}
				results = append(results, r)
			}
		}

		if len(results) > 0 {
			if err := a.store.UpsertCorrelations(ctx, results); err != nil {
				return Result{}, fmt.Errorf("store correlations: %w", err)
			}
		}
		a.metrics.RecordArtifacts("correlation", len(results))
		return failed.result(len(results)), nil
	})
}

func correlationPairs(requested []string, def [][2]string) [][2]string {
	if len(requested) < 2 {
		return def
	}
	var out [][2]string
	for i := 0; i < len(requested); i++ {
		for j := i + 1; j < len(requested); j++ {
			if requested[i] != requested[j] {
				out = append(out, [2]string{requested[i], requested[j]})
			}
		}
	}
	return out
}

// correlationTags returns the configured tags plus every tag of s matching a
// configured prefix, sorted.
func (a *Analytics) correlationTags(s models.TimeSeries) []string {
	seen := make(map[string]bool)
	for _, t := range a.settings.CorrelationTags {
		seen[t] = true
	}
	for _, o := range s.Points {
		for k := range o.Dimensions {
			for _, prefix := range a.settings.CorrelationTagPrefixes {
				if strings.HasPrefix(k, prefix) {
					seen[k] = true
				}
			}
		}
	}
	out := make([]string, 0, len(seen))
	for t := range seen {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}
