package service

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"github.com/matt-riley/surveyz/internal/core"
	"github.com/matt-riley/surveyz/internal/repository"
)

// normalizePlan validates the plan's JSON columns and rewrites them in
// canonical form with presentation defaults filled in.
func normalizePlan(plan repository.SurveyPlan) (repository.SurveyPlan, error) {
	ruleSets, err := core.ParseRuleSets(plan.TriggerConditions)
	if err != nil {
		return repository.SurveyPlan{}, fmt.Errorf("%w: %w", ErrInvalidConditions, err)
	}
	if ruleSets == nil {
		ruleSets = []core.RuleSet{}
	}
	presentation, err := core.ParsePresentation(plan.Presentation)
	if err != nil {
		return repository.SurveyPlan{}, fmt.Errorf("%w: %w", ErrInvalidPresentation, err)
	}
	if presentation.MaxWidgetHeightInPercent < 0 || presentation.MaxWidgetHeightInPercent > 100 ||
		presentation.MaxWidgetWidthInPercent < 0 || presentation.MaxWidgetWidthInPercent > 100 {
		return repository.SurveyPlan{}, fmt.Errorf("%w: widget size must be within 0-100 percent", ErrInvalidPresentation)
	}
	if presentation.DisplayDuration < 0 {
		return repository.SurveyPlan{}, fmt.Errorf("%w: displayDuration must be >= 0", ErrInvalidPresentation)
	}

	conditions, err := json.Marshal(ruleSets)
	if err != nil {
		return repository.SurveyPlan{}, fmt.Errorf("%w: %w", ErrInvalidConditions, err)
	}
	encodedPresentation, err := json.Marshal(presentation)
	if err != nil {
		return repository.SurveyPlan{}, fmt.Errorf("%w: %w", ErrInvalidPresentation, err)
	}

	plan.ProjectID = strings.TrimSpace(plan.ProjectID)
	plan.ID = strings.TrimSpace(plan.ID)
	plan.TriggerConditions = conditions
	plan.Presentation = encodedPresentation
	return plan, nil
}

func repositoryPlanToCore(plan repository.SurveyPlan) (core.SurveyPlan, error) {
	ruleSets, err := core.ParseRuleSets(plan.TriggerConditions)
	if err != nil {
		return core.SurveyPlan{}, fmt.Errorf("trigger conditions: %w", err)
	}
	presentation, err := core.ParsePresentation(plan.Presentation)
	if err != nil {
		return core.SurveyPlan{}, fmt.Errorf("presentation: %w", err)
	}
	if ruleSets == nil {
		ruleSets = []core.RuleSet{}
	}
	return core.SurveyPlan{
		ID:           plan.ID,
		Presentation: presentation,
		RuleSets:     ruleSets,
	}, nil
}

// sortPlans orders plans by position, then id.
func sortPlans(plans []repository.SurveyPlan) {
	slices.SortStableFunc(plans, func(a, b repository.SurveyPlan) int {
		if a.Position != b.Position {
			return a.Position - b.Position
		}
		return strings.Compare(a.ID, b.ID)
	})
}
