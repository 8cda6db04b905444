// Package core holds the survey trigger model and the rule evaluation engine.
//
// Evaluation is synchronous and side-effect free: every call reads an
// immutable [Snapshot] and returns at most one [MatchResult].
package core

import "time"

// ConditionKind identifies what a trigger condition describes.
type ConditionKind int

const (
	KindEvent ConditionKind = iota + 1
	KindSessionDuration
	KindSinceLast
	KindScreen
	KindAppOpen
)

// Position is where a survey is rendered on screen.
type Position int

const (
	PositionBottomBanner Position = iota
	PositionTopBanner
	PositionCenterModal
	PositionFullScreen
)

// IsBanner reports whether the position is a top or bottom banner.
func (p Position) IsBanner() bool {
	return p == PositionTopBanner || p == PositionBottomBanner
}

const (
	defaultMaxWidgetHeightPercent = 70
	defaultMaxWidgetWidthPercent  = 90
)

// SurveyPresentation is display metadata for a survey. The engine forwards it
// untouched.
type SurveyPresentation struct {
	SurveyWebAppURL          string   `json:"surveyWebAppUrl"`
	UseHeightMargin          bool     `json:"useHeightMargin"`
	UseWidthMargin           bool     `json:"useWidthMargin"`
	IsFullBleed              bool     `json:"isFullBleed"`
	DisplayLocation          Position `json:"displayLocation"`
	DisplayDuration          float64  `json:"displayDuration"`
	MaxWidgetHeightInPercent int      `json:"maxWidgetHeightInPercent"`
	MaxWidgetWidthInPercent  int      `json:"maxWidgetWidthInPercent"`
}

// TriggerCondition is one atomic predicate inside a rule set. How Property
// and Value are read depends on Kind; for events Property is the event name.
type TriggerCondition struct {
	Kind     ConditionKind `json:"type"`
	Property string        `json:"property"`
	Operator Operator      `json:"operator"`
	Value    string        `json:"value"`
}

// RuleSet is an ordered group of conditions gating a survey.
type RuleSet []TriggerCondition

// SurveyPlan is a configured survey with the rule sets that can trigger it.
type SurveyPlan struct {
	ID           string             `json:"id"`
	Presentation SurveyPresentation `json:"surveyPresentation"`
	RuleSets     []RuleSet          `json:"triggerConditions"`
}

// SDKConfig carries client tuning shipped alongside the plans.
type SDKConfig struct {
	RefreshIntervalSec int    `json:"refreshIntervalSec"`
	BaseServerURL      string `json:"baseServerUrl,omitempty"`
}

// Config is one fetched survey configuration. It is replaced wholesale on
// refresh and never mutated in place.
type Config struct {
	SurveyPlans []SurveyPlan `json:"surveyPlans"`
	SDKConfig   *SDKConfig   `json:"sdkConfig,omitempty"`
}

// UserData identifies the app user.
type UserData struct {
	UserID      string `json:"userId"`
	Email       string `json:"email,omitempty"`
	PhoneNumber string `json:"phoneNumber,omitempty"`
}

// LocalState holds session and user aggregates recorded on the device.
type LocalState struct {
	LaunchCount             int      `json:"numberOfLaunches"`
	TotalSessionDurationSec int      `json:"totalSessionDurationSec"`
	LastSessionDurationSec  int      `json:"lastSessionDurationSec"`
	FirstSessionEpochSec    int64    `json:"firstSessionDate"`
	User                    UserData `json:"userData"`
	Events                  []string `json:"events"`
	Pages                   []string `json:"pages"`
}

// DefaultLocalState returns the state of a device that has never launched.
func DefaultLocalState(now time.Time) LocalState {
	return LocalState{
		FirstSessionEpochSec: now.Unix(),
		Events:               []string{},
		Pages:                []string{},
	}
}

// Clone returns a deep copy of the state.
func (s LocalState) Clone() LocalState {
	out := s
	out.Events = append([]string(nil), s.Events...)
	out.Pages = append([]string(nil), s.Pages...)
	return out
}

// TriggerKind distinguishes event triggers from page views.
type TriggerKind int

const (
	TriggerEvent TriggerKind = iota + 1
	TriggerPage
)

// Trigger is something the app reported: an event occurrence (Name is the
// event name, Value optional) or a page view (Name is the page name).
type Trigger struct {
	Kind  TriggerKind
	Name  string
	Value *string
}

// EventTrigger builds an event trigger.
func EventTrigger(name string, value *string) Trigger {
	return Trigger{Kind: TriggerEvent, Name: name, Value: value}
}

// PageTrigger builds a page-view trigger.
func PageTrigger(page string) Trigger {
	return Trigger{Kind: TriggerPage, Name: page}
}

// Snapshot is the read-only input of one evaluation call.
type Snapshot struct {
	Config Config
	State  LocalState
}

// MatchResult is the outcome of a successful evaluation.
type MatchResult struct {
	PlanID         string             `json:"planId"`
	Presentation   SurveyPresentation `json:"surveyPresentation"`
	DelayMs        int64              `json:"delayMs"`
	MatchedRuleSet RuleSet            `json:"ruleSet"`
}

// Delay returns DelayMs as a duration.
func (r MatchResult) Delay() time.Duration {
	return time.Duration(r.DelayMs) * time.Millisecond
}
