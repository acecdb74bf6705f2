package usecase

import (
	"context"
	"fmt"

	"ClinicPulse/internal/domain/models"
	"ClinicPulse/internal/domain/service"
)

// RecomputeRisk scores every subject under each requested risk model. Model
// selects a single model by name.
func (a *Analytics) RecomputeRisk(ctx context.Context, p Params) (Result, error) {
	return a.run(ctx, models.EntryRisk, p, func(ctx context.Context) (Result, error) {
		names := a.settings.RiskModels
		if p.Model != "" {
			names = []string{p.Model}
		}
		scorers := make([]service.SubjectScorer, 0, len(names))
		for _, name := range names {
			s, ok := a.scorers[name]
			if !ok {
				return Result{}, service.ModelNotFound("risk model %q", name)
			}
			scorers = append(scorers, s)
		}

		facts, err := a.riskFacts(ctx, p, names)
		if err != nil {
			return Result{}, err
		}

		var profiles []models.RiskProfile
		for _, s := range scorers {
			ps, err := s.ScoreSubjects(ctx, p.TenantID, facts, p.AsOf)
			if err != nil {
				return Result{}, fmt.Errorf("score %s: %w", s.ModelVersion(), err)
			}
			profiles = append(profiles, ps...)
		}

		if len(profiles) > 0 {
			if err := a.store.UpsertRiskProfiles(ctx, profiles); err != nil {
				return Result{}, fmt.Errorf("store risk profiles: %w", err)
			}
		}
		a.metrics.RecordArtifacts("risk", len(profiles))
		a.publish(ctx, p, riskEvents(p, profiles))
		return Result{Written: len(profiles)}, nil
	})
}

// riskFacts loads the payment and trial history the named models read.
func (a *Analytics) riskFacts(ctx context.Context, p Params, names []string) (*models.FactSet, error) {
	from := p.AsOf.AddDate(0, 0, -pick(a.settings.RiskLookbackDays, 365))
	to := endOfDay(p.AsOf)
	facts := &models.FactSet{}
	for _, name := range names {
		var err error
		switch name {
		case RiskDelinquency:
			facts.Payments, err = a.data.Payments(ctx, p.TenantID, from, to)
		case RiskTrialConversion:
			facts.Trials, err = a.data.Trials(ctx, p.TenantID, from, to)
		default:
			// custom scorers see both
			if facts.Payments == nil {
				facts.Payments, err = a.data.Payments(ctx, p.TenantID, from, to)
			}
			if err == nil && facts.Trials == nil {
				facts.Trials, err = a.data.Trials(ctx, p.TenantID, from, to)
			}
		}
		if err != nil {
			return nil, fmt.Errorf("load %s facts: %w", name, err)
		}
	}
	return facts, nil
}
