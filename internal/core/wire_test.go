package core

import (
	"encoding/json"
	"errors"
	"testing"
)

const sampleConfig = `{
  "surveyPlans": [
    {
      "id": "p1",
      "surveyPresentation": {
        "surveyWebAppUrl": "https://s.example/p1",
        "displayLocation": "center_modal",
        "displayDuration": 1.5,
        "isFullBleed": true
      },
      "triggerConditions": [
        [{"type": "event", "property": "signup", "operator": "eq", "value": ""}],
        [{"type": "screen", "property": "home", "operator": "eq", "value": ""},
         {"type": "session_duration", "property": "", "operator": "gt", "value": "3"}]
      ]
    },
    {"id": "p2", "triggerConditions": []}
  ],
  "sdkConfig": {"refreshIntervalSec": 120, "baseServerUrl": "https://api.example"}
}`

func TestParseConfig(t *testing.T) {
	cfg, err := ParseConfig([]byte(sampleConfig))
	if err != nil {
		t.Fatalf("ParseConfig() error = %v", err)
	}
	if len(cfg.SurveyPlans) != 2 {
		t.Fatalf("expected 2 plans, got %d", len(cfg.SurveyPlans))
	}

	p1 := cfg.SurveyPlans[0]
	if p1.Presentation.DisplayLocation != PositionCenterModal {
		t.Fatalf("DisplayLocation = %v, want center_modal", p1.Presentation.DisplayLocation)
	}
	if p1.Presentation.MaxWidgetHeightInPercent != 70 || p1.Presentation.MaxWidgetWidthInPercent != 90 {
		t.Fatalf("size defaults not applied: %+v", p1.Presentation)
	}
	if !p1.Presentation.IsFullBleed || p1.Presentation.DisplayDuration != 1.5 {
		t.Fatalf("presentation fields not decoded: %+v", p1.Presentation)
	}
	if got := p1.RuleSets[1][1]; got.Kind != KindSessionDuration || got.Operator != OpGt || got.Value != "3" {
		t.Fatalf("unexpected condition %+v", got)
	}

	p2 := cfg.SurveyPlans[1]
	if p2.Presentation != DefaultPresentation() {
		t.Fatalf("absent presentation = %+v, want defaults", p2.Presentation)
	}
	if cfg.SDKConfig == nil || cfg.SDKConfig.RefreshIntervalSec != 120 || cfg.SDKConfig.BaseServerURL != "https://api.example" {
		t.Fatalf("unexpected sdkConfig %+v", cfg.SDKConfig)
	}
}

func TestParseConfigErrors(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		wantErr error
	}{
		{
			name:    "unknown condition type",
			payload: `{"surveyPlans":[{"id":"p1","triggerConditions":[[{"type":"geo","property":"x"}]]}]}`,
			wantErr: ErrUnknownConditionKind,
		},
		{
			name:    "missing condition type",
			payload: `{"surveyPlans":[{"id":"p1","triggerConditions":[[{"property":"x"}]]}]}`,
			wantErr: ErrUnknownConditionKind,
		},
		{
			name:    "unknown display location",
			payload: `{"surveyPlans":[{"id":"p1","surveyPresentation":{"displayLocation":"sidebar"}}]}`,
			wantErr: ErrUnknownPosition,
		},
		{
			name:    "missing plan id",
			payload: `{"surveyPlans":[{"triggerConditions":[]}]}`,
			wantErr: ErrInvalidConfig,
		},
		{
			name:    "duplicate plan id",
			payload: `{"surveyPlans":[{"id":"p1"},{"id":"p1"}]}`,
			wantErr: ErrInvalidConfig,
		},
		{
			name:    "negative refresh interval",
			payload: `{"surveyPlans":[],"sdkConfig":{"refreshIntervalSec":-1}}`,
			wantErr: ErrInvalidConfig,
		},
		{
			name:    "malformed json",
			payload: `{"surveyPlans":`,
			wantErr: ErrInvalidConfig,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseConfig([]byte(tt.payload))
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("ParseConfig() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestParseConfigEmptyPlans(t *testing.T) {
	cfg, err := ParseConfig([]byte(`{}`))
	if err != nil {
		t.Fatalf("ParseConfig() error = %v", err)
	}
	if cfg.SurveyPlans == nil || len(cfg.SurveyPlans) != 0 {
		t.Fatalf("expected empty non-nil plans, got %#v", cfg.SurveyPlans)
	}
	if _, ok := NewEvaluator().OnEvent(Snapshot{Config: cfg}, "signup", nil); ok {
		t.Fatal("empty config should not match")
	}
}

func TestConditionKindRoundTrip(t *testing.T) {
	for kind, name := range conditionKindNames {
		data, err := json.Marshal(kind)
		if err != nil {
			t.Fatalf("Marshal(%v) error = %v", kind, err)
		}
		if string(data) != `"`+name+`"` {
			t.Fatalf("Marshal(%v) = %s, want %q", kind, data, name)
		}
		parsed, err := ParseConditionKind(name)
		if err != nil || parsed != kind {
			t.Fatalf("ParseConditionKind(%q) = (%v, %v)", name, parsed, err)
		}
	}
	if _, err := json.Marshal(ConditionKind(0)); err == nil {
		t.Fatal("expected error marshalling zero kind")
	}
	if got := ConditionKind(42).String(); got != "ConditionKind(42)" {
		t.Fatalf("String() = %q", got)
	}
}

func TestPositionIsBanner(t *testing.T) {
	tests := map[Position]bool{
		PositionTopBanner:    true,
		PositionBottomBanner: true,
		PositionCenterModal:  false,
		PositionFullScreen:   false,
	}
	for position, want := range tests {
		if got := position.IsBanner(); got != want {
			t.Fatalf("%v.IsBanner() = %v, want %v", position, got, want)
		}
	}
}

func TestParseRuleSets(t *testing.T) {
	ruleSets, err := ParseRuleSets(nil)
	if err != nil || ruleSets == nil || len(ruleSets) != 0 {
		t.Fatalf("ParseRuleSets(nil) = (%#v, %v)", ruleSets, err)
	}

	ruleSets, err = ParseRuleSets([]byte(`[[{"type":"app_open"},{"type":"since_last","value":"3600"}]]`))
	if err != nil {
		t.Fatalf("ParseRuleSets() error = %v", err)
	}
	if ruleSets[0][0].Kind != KindAppOpen || ruleSets[0][1].Kind != KindSinceLast {
		t.Fatalf("unexpected kinds %+v", ruleSets)
	}

	if _, err := ParseRuleSets([]byte(`[[{"type":"nope"}]]`)); !errors.Is(err, ErrUnknownConditionKind) {
		t.Fatalf("expected ErrUnknownConditionKind, got %v", err)
	}
}

func TestMatchResultMarshalsWireNames(t *testing.T) {
	res := MatchResult{
		PlanID:         "p1",
		Presentation:   DefaultPresentation(),
		DelayMs:        3000,
		MatchedRuleSet: RuleSet{screen("home")},
	}
	data, err := json.Marshal(res)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	for _, key := range []string{"planId", "surveyPresentation", "delayMs", "ruleSet"} {
		if _, ok := decoded[key]; !ok {
			t.Fatalf("missing key %q in %s", key, data)
		}
	}
	presentation := decoded["surveyPresentation"].(map[string]any)
	if presentation["displayLocation"] != "bottom_banner" {
		t.Fatalf("displayLocation = %v", presentation["displayLocation"])
	}
}

func TestLocalStateClone(t *testing.T) {
	state := LocalState{Events: []string{"a"}, Pages: []string{"home"}}
	clone := state.Clone()
	clone.Events[0] = "changed"
	clone.Pages = append(clone.Pages, "cart")
	if state.Events[0] != "a" || len(state.Pages) != 1 {
		t.Fatalf("Clone shares backing arrays: %+v", state)
	}
}

func TestTriggerConditionValueForms(t *testing.T) {
	tests := []struct {
		payload string
		want    string
		wantErr bool
	}{
		{payload: `{"type":"session_duration","value":"5"}`, want: "5"},
		{payload: `{"type":"session_duration","value":5}`, want: "5"},
		{payload: `{"type":"event","value":12.5}`, want: "12.5"},
		{payload: `{"type":"event","value":true}`, want: "true"},
		{payload: `{"type":"event","value":null}`, want: ""},
		{payload: `{"type":"event"}`, want: ""},
		{payload: `{"type":"event","value":{"nested":1}}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.payload, func(t *testing.T) {
			var condition TriggerCondition
			err := json.Unmarshal([]byte(tt.payload), &condition)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Unmarshal() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && condition.Value != tt.want {
				t.Fatalf("Value = %q, want %q", condition.Value, tt.want)
			}
		})
	}
}
