package usecase

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"ClinicPulse/internal/domain/models"
	"ClinicPulse/internal/domain/service"
	applogger "ClinicPulse/pkg/logger"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// EntryFunc is one recompute entry point.
type EntryFunc func(ctx context.Context, p Params) (Result, error)

var triggerValidator = validator.New()

// ValidateTrigger checks a trigger received outside the HTTP layer.
func ValidateTrigger(t models.RecomputeTrigger) error {
	if err := triggerValidator.Struct(t); err != nil {
		return service.InvalidRange("invalid trigger: %v", err)
	}
	return nil
}

// Entry resolves an entry point by name.
func (a *Analytics) Entry(name string) (EntryFunc, error) {
	switch name {
	case models.EntryObservations:
		return a.RecomputeObservations, nil
	case models.EntryForecast:
		return a.RecomputeForecast, nil
	case models.EntryCohorts:
		return a.RefreshCohorts, nil
	case models.EntryAnomalies:
		return a.ScanAnomalies, nil
	case models.EntryCorrelations:
		return a.ScanCorrelations, nil
	case models.EntryRisk:
		return a.RecomputeRisk, nil
	case models.EntryInsights:
		return a.GenerateInsights, nil
	default:
		return nil, service.ModelNotFound("unknown entry %q", name)
	}
}

// Entries lists every entry name in dependency order: insights read what the
// others write.
func Entries() []string {
	return []string{
		models.EntryObservations,
		models.EntryForecast,
		models.EntryCohorts,
		models.EntryAnomalies,
		models.EntryCorrelations,
		models.EntryRisk,
		models.EntryInsights,
	}
}

// Dispatch runs the trigger's entry point. A trigger naming a tenant runs for
// that tenant and returns its error. An empty TenantID fans out to every
// tenant with bounded concurrency; one tenant's failure is reported in the
// response and does not stop the others.
func (a *Analytics) Dispatch(ctx context.Context, t models.RecomputeTrigger) (models.RecomputeResponse, error) {
	fn, err := a.Entry(t.Entry)
	if err != nil {
		return models.RecomputeResponse{}, err
	}
	resp := models.RecomputeResponse{RunID: uuid.NewString(), Entry: t.Entry}

	if t.TenantID != "" {
		res, err := fn(ctx, ParamsFromTrigger(t, resp.RunID, t.TenantID))
		if err != nil {
			resp.Failed = 1
			return resp, err
		}
		resp.Written = res.Written
		addSkipped(&resp, t.TenantID, res.Skipped)
		return resp, nil
	}

	tenants, err := a.data.Tenants(ctx)
	if err != nil {
		return resp, fmt.Errorf("list tenants: %w", err)
	}
	sort.Slice(tenants, func(i, j int) bool { return tenants[i].ID < tenants[j].ID })

	start := time.Now()
	var (
		mu sync.Mutex
		eg errgroup.Group
	)
	eg.SetLimit(pick(a.settings.Concurrency, 1))
	for _, tn := range tenants {
		eg.Go(func() error {
			res, err := fn(ctx, ParamsFromTrigger(t, resp.RunID, tn.ID))
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				resp.Failed++
				if resp.Errors == nil {
					resp.Errors = make(map[string]string)
				}
				resp.Errors[tn.ID] = err.Error()
				return nil
			}
			resp.Written += res.Written
			addSkipped(&resp, tn.ID, res.Skipped)
			return nil
		})
	}
	_ = eg.Wait()
	if err := ctx.Err(); err != nil {
		return resp, err
	}

	a.logger.Info("batch recompute done",
		applogger.String("run_id", resp.RunID),
		applogger.String("entry", t.Entry),
		applogger.Int("tenants", len(tenants)),
		applogger.Int("written", resp.Written),
		applogger.Int("failed", resp.Failed),
		applogger.Int("skipped", len(resp.Skipped)),
		applogger.Duration("duration_ms", time.Since(start)),
	)
	return resp, nil
}

func addSkipped(resp *models.RecomputeResponse, tenantID string, skipped map[string]string) {
	if len(skipped) == 0 {
		return
	}
	if resp.Skipped == nil {
		resp.Skipped = make(map[string]string, len(skipped))
	}
	for metric, reason := range skipped {
		resp.Skipped[tenantID+"/"+metric] = reason
	}
}
