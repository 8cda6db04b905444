package core

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrUnknownConditionKind = errors.New("unknown condition kind")
	ErrUnknownPosition      = errors.New("unknown display location")
	ErrInvalidConfig        = errors.New("invalid survey config")
)

var conditionKindNames = map[ConditionKind]string{
	KindEvent:           "event",
	KindSessionDuration: "session_duration",
	KindSinceLast:       "since_last",
	KindScreen:          "screen",
	KindAppOpen:         "app_open",
}

var conditionKindsByName = invert(conditionKindNames)

var positionNames = map[Position]string{
	PositionTopBanner:    "top_banner",
	PositionBottomBanner: "bottom_banner",
	PositionCenterModal:  "center_modal",
	PositionFullScreen:   "full_screen",
}

var positionsByName = invert(positionNames)

func invert[K comparable](names map[K]string) map[string]K {
	out := make(map[string]K, len(names))
	for k, name := range names {
		out[name] = k
	}
	return out
}

func (k ConditionKind) String() string {
	if name, ok := conditionKindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("ConditionKind(%d)", int(k))
}

// ParseConditionKind maps a wire string to a condition kind.
func ParseConditionKind(s string) (ConditionKind, error) {
	kind, ok := conditionKindsByName[s]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownConditionKind, s)
	}
	return kind, nil
}

func (k ConditionKind) MarshalJSON() ([]byte, error) {
	name, ok := conditionKindNames[k]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownConditionKind, int(k))
	}
	return json.Marshal(name)
}

func (k *ConditionKind) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return fmt.Errorf("condition kind: %w", err)
	}
	kind, err := ParseConditionKind(name)
	if err != nil {
		return err
	}
	*k = kind
	return nil
}

func (p Position) String() string {
	if name, ok := positionNames[p]; ok {
		return name
	}
	return fmt.Sprintf("Position(%d)", int(p))
}

// ParsePosition maps a wire string to a display location.
func ParsePosition(s string) (Position, error) {
	position, ok := positionsByName[s]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownPosition, s)
	}
	return position, nil
}

func (p Position) MarshalJSON() ([]byte, error) {
	name, ok := positionNames[p]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownPosition, int(p))
	}
	return json.Marshal(name)
}

func (p *Position) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return fmt.Errorf("display location: %w", err)
	}
	position, err := ParsePosition(name)
	if err != nil {
		return err
	}
	*p = position
	return nil
}

// DefaultPresentation is the presentation used for absent fields.
func DefaultPresentation() SurveyPresentation {
	return SurveyPresentation{
		DisplayLocation:          PositionBottomBanner,
		MaxWidgetHeightInPercent: defaultMaxWidgetHeightPercent,
		MaxWidgetWidthInPercent:  defaultMaxWidgetWidthPercent,
	}
}

// UnmarshalJSON applies the presentation defaults for absent fields.
func (p *SurveyPresentation) UnmarshalJSON(data []byte) error {
	type plain SurveyPresentation
	decoded := plain(DefaultPresentation())
	if err := json.Unmarshal(data, &decoded); err != nil {
		return err
	}
	*p = SurveyPresentation(decoded)
	return nil
}

func (p *SurveyPlan) UnmarshalJSON(data []byte) error {
	type plain SurveyPlan
	decoded := plain{Presentation: DefaultPresentation()}
	if err := json.Unmarshal(data, &decoded); err != nil {
		return err
	}
	*p = SurveyPlan(decoded)
	return nil
}

// UnmarshalJSON accepts the condition value as a string, number or bool.
func (c *TriggerCondition) UnmarshalJSON(data []byte) error {
	var raw struct {
		Kind     ConditionKind   `json:"type"`
		Property string          `json:"property"`
		Operator Operator        `json:"operator"`
		Value    json.RawMessage `json:"value"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	value, err := conditionValue(raw.Value)
	if err != nil {
		return err
	}
	*c = TriggerCondition{
		Kind:     raw.Kind,
		Property: raw.Property,
		Operator: raw.Operator,
		Value:    value,
	}
	return nil
}

func conditionValue(raw json.RawMessage) (string, error) {
	trimmed := strings.TrimSpace(string(raw))
	switch {
	case trimmed == "" || trimmed == "null":
		return "", nil
	case strings.HasPrefix(trimmed, `"`):
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", err
		}
		return s, nil
	case trimmed == "true" || trimmed == "false":
		return trimmed, nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return "", fmt.Errorf("condition value must be a string, number or bool: %w", err)
	}
	return n.String(), nil
}

// ParseConfig decodes the wire format served to SDKs and validates it.
func ParseConfig(payload []byte) (Config, error) {
	var cfg Config
	if err := json.Unmarshal(payload, &cfg); err != nil {
		return Config{}, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	if cfg.SurveyPlans == nil {
		cfg.SurveyPlans = []SurveyPlan{}
	}
	return cfg, nil
}

// ParseRuleSets decodes the triggerConditions array of a single plan.
func ParseRuleSets(payload []byte) ([]RuleSet, error) {
	ruleSets := make([]RuleSet, 0)
	if len(payload) == 0 {
		return ruleSets, nil
	}
	if err := json.Unmarshal(payload, &ruleSets); err != nil {
		return nil, err
	}
	if err := validateRuleSets(ruleSets); err != nil {
		return nil, err
	}
	return ruleSets, nil
}

func validateRuleSets(ruleSets []RuleSet) error {
	for setIdx, ruleSet := range ruleSets {
		for condIdx, condition := range ruleSet {
			if _, ok := conditionKindNames[condition.Kind]; !ok {
				return fmt.Errorf("%w: ruleSet[%d][%d] has no type", ErrUnknownConditionKind, setIdx, condIdx)
			}
		}
	}
	return nil
}

// ParsePresentation decodes a surveyPresentation object.
func ParsePresentation(payload []byte) (SurveyPresentation, error) {
	var presentation SurveyPresentation
	if len(payload) == 0 {
		payload = []byte(`{}`)
	}
	if err := json.Unmarshal(payload, &presentation); err != nil {
		return SurveyPresentation{}, err
	}
	return presentation, nil
}

// Validate checks structural invariants the evaluator relies on.
func (c Config) Validate() error {
	seen := make(map[string]struct{}, len(c.SurveyPlans))
	for idx, plan := range c.SurveyPlans {
		id := strings.TrimSpace(plan.ID)
		if id == "" {
			return fmt.Errorf("%w: surveyPlans[%d].id is required", ErrInvalidConfig, idx)
		}
		if _, dup := seen[id]; dup {
			return fmt.Errorf("%w: duplicate plan id %q", ErrInvalidConfig, id)
		}
		seen[id] = struct{}{}
		if err := validateRuleSets(plan.RuleSets); err != nil {
			return fmt.Errorf("%w: plan %q: %w", ErrInvalidConfig, id, err)
		}
	}
	if c.SDKConfig != nil && c.SDKConfig.RefreshIntervalSec < 0 {
		return fmt.Errorf("%w: sdkConfig.refreshIntervalSec must be >= 0", ErrInvalidConfig)
	}
	return nil
}
