package core

import (
	"reflect"
	"strconv"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func plansForEvents(names []string) []SurveyPlan {
	plans := make([]SurveyPlan, 0, len(names))
	for i, name := range names {
		plans = append(plans, SurveyPlan{
			ID:       "plan-" + strconv.Itoa(i),
			RuleSets: []RuleSet{{event(name), screen(name)}},
		})
	}
	return plans
}

func TestOnEvent_PropertyUnconfiguredEventNeverMatches(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("event absent from every rule set yields no match", prop.ForAll(
		func(configured []string, query string) bool {
			snap := snapshotOf(plansForEvents(configured)...)
			// configured names are alphabetic, the query never is
			_, ok := NewEvaluator().OnEvent(snap, "#"+query, nil)
			return !ok
		},
		gen.SliceOf(gen.AlphaString()),
		gen.AlphaString(),
	))

	properties.TestingRun(t)
}

func TestPageOpened_PropertyDelayIsSecondsTimesThousand(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("session duration of n seconds delays n*1000 ms", prop.ForAll(
		func(seconds int) bool {
			snap := snapshotOf(SurveyPlan{ID: "p1", RuleSets: []RuleSet{
				{screen("home"), sessionDuration(strconv.Itoa(seconds))},
			}})
			got, ok := NewEvaluator().PageOpened(snap, "home")
			return ok && got.DelayMs == int64(seconds)*1000
		},
		gen.IntRange(0, 1_000_000),
	))

	properties.Property("non numeric session duration delays 0 ms", prop.ForAll(
		func(value string) bool {
			snap := snapshotOf(SurveyPlan{ID: "p1", RuleSets: []RuleSet{
				{screen("home"), sessionDuration("x" + value)},
			}})
			got, ok := NewEvaluator().PageOpened(snap, "home")
			return ok && got.DelayMs == 0
		},
		gen.AnyString(),
	))

	properties.TestingRun(t)
}

func TestEvaluate_PropertyFirstMatchFollowsOrder(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("reordering two matching plans changes the winner", prop.ForAll(
		func(name string, delayA, delayB int) bool {
			a := SurveyPlan{ID: "a", RuleSets: []RuleSet{{event(name), screen(name), sessionDuration(strconv.Itoa(delayA))}}}
			b := SurveyPlan{ID: "b", RuleSets: []RuleSet{{screen(name), event(name), sessionDuration(strconv.Itoa(delayB))}}}
			evaluator := NewEvaluator()

			for _, trigger := range []Trigger{EventTrigger(name, nil), PageTrigger(name)} {
				first, ok1 := evaluator.Evaluate(snapshotOf(a, b), trigger)
				second, ok2 := evaluator.Evaluate(snapshotOf(b, a), trigger)
				if !ok1 || !ok2 {
					return false
				}
				if first.PlanID != "a" || second.PlanID != "b" {
					return false
				}
				if reflect.DeepEqual(first.MatchedRuleSet, second.MatchedRuleSet) {
					return false
				}
			}
			return true
		},
		gen.AlphaString(),
		gen.IntRange(0, 3600),
		gen.IntRange(0, 3600),
	))

	properties.TestingRun(t)
}

func TestEvaluate_PropertyIdempotent(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("same snapshot and trigger give the same result", prop.ForAll(
		func(configured []string, query string, page bool) bool {
			snap := snapshotOf(plansForEvents(configured)...)
			trigger := EventTrigger(query, nil)
			if page {
				trigger = PageTrigger(query)
			}
			evaluator := NewEvaluator()
			first, ok1 := evaluator.Evaluate(snap, trigger)
			second, ok2 := evaluator.Evaluate(snap, trigger)
			return ok1 == ok2 && reflect.DeepEqual(first, second)
		},
		gen.SliceOf(gen.AlphaString()),
		gen.AlphaString(),
		gen.Bool(),
	))

	properties.TestingRun(t)
}
