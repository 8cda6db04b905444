package core

import "testing"

func FuzzParseConfigEvaluate(f *testing.F) {
	f.Add([]byte(`{"surveyPlans":[{"id":"p1","surveyPresentation":{},"triggerConditions":[[{"type":"event","property":"signup","operator":"eq","value":""}]]}]}`), "signup", "home")
	f.Add([]byte(`{"surveyPlans":[{"id":"p1","triggerConditions":[[{"type":"screen","property":"home"},{"type":"session_duration","value":"abc"}]]}]}`), "x", "home")
	f.Add([]byte(`{"surveyPlans":[],"sdkConfig":{"refreshIntervalSec":60}}`), "", "")
	f.Add([]byte(`not json`), "a", "b")

	f.Fuzz(func(t *testing.T, payload []byte, eventName, page string) {
		cfg, err := ParseConfig(payload)
		if err != nil {
			return
		}
		if err := cfg.Validate(); err != nil {
			t.Fatalf("ParseConfig returned a config that fails Validate: %v", err)
		}

		snap := Snapshot{Config: cfg}
		for _, mode := range []EventMatchMode{EventMatchAny, EventMatchAll} {
			evaluator := NewEvaluator(WithEventMatchMode(mode))
			if res, ok := evaluator.OnEvent(snap, eventName, &page); ok && res.DelayMs != 0 {
				t.Fatalf("event match carried delay %d", res.DelayMs)
			}
			if res, ok := evaluator.PageOpened(snap, page); ok {
				if res.DelayMs < 0 {
					t.Fatalf("negative delay %d", res.DelayMs)
				}
				if !IsPageTrigger(res.MatchedRuleSet) {
					t.Fatalf("page match on a rule set without a screen condition: %+v", res.MatchedRuleSet)
				}
			}
		}
	})
}

func FuzzParseDelayMs(f *testing.F) {
	f.Add("5")
	f.Add(" 10 ")
	f.Add("-3")
	f.Add("abc")
	f.Add("9223372036854775807")

	f.Fuzz(func(t *testing.T, value string) {
		got, err := ParseDelayMs(value)
		if err != nil && got != 0 {
			t.Fatalf("ParseDelayMs(%q) = %d with error %v", value, got, err)
		}
		if got < 0 || got%1000 != 0 {
			t.Fatalf("ParseDelayMs(%q) = %d, want a non-negative multiple of 1000", value, got)
		}
	})
}
