package core

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"strconv"
	"strings"
)

// EventMatchMode selects how Event conditions inside a rule set combine.
type EventMatchMode int

const (
	// EventMatchAny matches a rule set when any one of its Event conditions
	// names the event.
	EventMatchAny EventMatchMode = iota
	// EventMatchAll requires every Event condition in the set to name the
	// event and satisfy its operator against the event value.
	EventMatchAll
)

var ErrUnknownMatchMode = errors.New("unknown event match mode")

func (m EventMatchMode) String() string {
	switch m {
	case EventMatchAny:
		return "any"
	case EventMatchAll:
		return "all"
	default:
		return fmt.Sprintf("EventMatchMode(%d)", int(m))
	}
}

// ParseEventMatchMode accepts "any" or "all"; the empty string selects "any".
func ParseEventMatchMode(s string) (EventMatchMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "any":
		return EventMatchAny, nil
	case "all":
		return EventMatchAll, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownMatchMode, s)
	}
}

// Evaluator selects the survey to show for a trigger. It holds no mutable
// state and is safe for concurrent use.
type Evaluator struct {
	logger *slog.Logger
	mode   EventMatchMode
}

type Option func(*Evaluator)

func WithLogger(logger *slog.Logger) Option {
	return func(e *Evaluator) {
		if logger != nil {
			e.logger = logger
		}
	}
}

func WithEventMatchMode(mode EventMatchMode) Option {
	return func(e *Evaluator) {
		e.mode = mode
	}
}

func NewEvaluator(opts ...Option) *Evaluator {
	e := &Evaluator{
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		mode:   EventMatchAny,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Mode returns the configured event match mode.
func (e *Evaluator) Mode() EventMatchMode {
	return e.mode
}

// Evaluate dispatches to OnEvent or PageOpened based on the trigger kind.
func (e *Evaluator) Evaluate(snap Snapshot, trigger Trigger) (MatchResult, bool) {
	switch trigger.Kind {
	case TriggerEvent:
		return e.OnEvent(snap, trigger.Name, trigger.Value)
	case TriggerPage:
		return e.PageOpened(snap, trigger.Name)
	default:
		e.logger.Warn("ignoring trigger of unknown kind", "kind", int(trigger.Kind), "name", trigger.Name)
		return MatchResult{}, false
	}
}

// OnEvent returns the first rule set, in plan then rule set order, that the
// event satisfies. Event matches never carry a delay.
func (e *Evaluator) OnEvent(snap Snapshot, name string, value *string) (MatchResult, bool) {
	e.logger.Debug("evaluating event", "event", name, "has_value", value != nil, "plans", len(snap.Config.SurveyPlans))

	for _, plan := range snap.Config.SurveyPlans {
		for _, ruleSet := range plan.RuleSets {
			if !e.eventRuleSetMatches(plan.ID, ruleSet, name, value) {
				continue
			}
			return MatchResult{
				PlanID:         plan.ID,
				Presentation:   plan.Presentation,
				DelayMs:        0,
				MatchedRuleSet: ruleSet,
			}, true
		}
	}
	return MatchResult{}, false
}

// PageOpened returns the first page rule set naming the page, with the delay
// taken from its first session_duration condition.
func (e *Evaluator) PageOpened(snap Snapshot, page string) (MatchResult, bool) {
	e.logger.Debug("evaluating page", "page", page, "plans", len(snap.Config.SurveyPlans))

	for _, plan := range snap.Config.SurveyPlans {
		for _, ruleSet := range plan.RuleSets {
			if !IsPageTrigger(ruleSet) {
				continue
			}
			if !e.pageRuleSetMatches(ruleSet, page) {
				continue
			}
			return MatchResult{
				PlanID:         plan.ID,
				Presentation:   plan.Presentation,
				DelayMs:        e.delayMs(plan.ID, ruleSet),
				MatchedRuleSet: ruleSet,
			}, true
		}
	}
	return MatchResult{}, false
}

// IsPageTrigger reports whether the rule set contains a screen condition.
func IsPageTrigger(ruleSet RuleSet) bool {
	for _, condition := range ruleSet {
		if condition.Kind == KindScreen {
			return true
		}
	}
	return false
}

func (e *Evaluator) eventRuleSetMatches(planID string, ruleSet RuleSet, name string, value *string) bool {
	if e.mode == EventMatchAll {
		sawEvent := false
		for _, condition := range ruleSet {
			if condition.Kind != KindEvent {
				continue
			}
			sawEvent = true
			if !e.eventConditionMatches(planID, condition, name, value, true) {
				return false
			}
		}
		return sawEvent
	}

	for _, condition := range ruleSet {
		if condition.Kind != KindEvent {
			continue
		}
		if e.eventConditionMatches(planID, condition, name, value, false) {
			return true
		}
	}
	return false
}

// eventConditionMatches tests one Event condition. The operator is only
// applied to the event value when strict is set and the condition carries a
// value; an unknown operator never matches.
func (e *Evaluator) eventConditionMatches(planID string, condition TriggerCondition, name string, value *string, strict bool) bool {
	if condition.Property != name {
		return false
	}
	if condition.Operator == "" {
		if strict && condition.Value != "" {
			ok, _ := Compare(OpEq, value, condition.Value)
			return ok
		}
		return true
	}
	if !condition.Operator.Known() {
		e.logger.Warn("unknown operator on event condition",
			"plan_id", planID,
			"event", name,
			"operator", string(condition.Operator),
		)
		return false
	}
	if !strict || condition.Value == "" {
		return true
	}
	ok, err := Compare(condition.Operator, value, condition.Value)
	if err != nil {
		e.logger.Warn("event condition comparison failed", "plan_id", planID, "event", name, "error", err)
		return false
	}
	return ok
}

func (e *Evaluator) pageRuleSetMatches(ruleSet RuleSet, page string) bool {
	if e.mode == EventMatchAll {
		for _, condition := range ruleSet {
			if condition.Kind == KindScreen && condition.Property != page {
				return false
			}
		}
		return true
	}

	for _, condition := range ruleSet {
		if condition.Property == page {
			return true
		}
	}
	return false
}

func (e *Evaluator) delayMs(planID string, ruleSet RuleSet) int64 {
	for _, condition := range ruleSet {
		if condition.Kind != KindSessionDuration {
			continue
		}
		delay, err := ParseDelayMs(condition.Value)
		if err != nil {
			e.logger.Warn("invalid session duration value, using no delay",
				"plan_id", planID,
				"value", condition.Value,
				"error", err,
			)
			return 0
		}
		return delay
	}
	return 0
}

var ErrInvalidDelay = errors.New("invalid delay")

// ParseDelayMs converts a whole number of seconds to milliseconds. An empty
// value is no delay.
func ParseDelayMs(value string) (int64, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, nil
	}
	seconds, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrInvalidDelay, err)
	}
	if seconds < 0 {
		return 0, fmt.Errorf("%w: negative seconds %d", ErrInvalidDelay, seconds)
	}
	if seconds > math.MaxInt64/1000 {
		return 0, fmt.Errorf("%w: %d seconds overflows", ErrInvalidDelay, seconds)
	}
	return seconds * 1000, nil
}
