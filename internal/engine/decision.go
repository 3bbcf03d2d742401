package engine

import (
	"strconv"
	"strings"
)

// FilterDecision is the outcome of the single-tier binary filter.
type FilterDecision struct {
	Download bool
	// Reason records a fail-open substitution when one happened; the
	// job_evaluation contract itself carries no reason field.
	Reason string
}

// TriageOutcome is one of the three card_triage decisions.
type TriageOutcome string

const (
	TriageReject TriageOutcome = "reject"
	TriageKeep   TriageOutcome = "keep"
	TriageMaybe  TriageOutcome = "maybe"
)

// TriageDecision is the outcome of the cheap limited-information first pass.
type TriageDecision struct {
	Outcome TriageOutcome
	Reason  string
}

// FullDecision is the final verdict from complete record information.
type FullDecision struct {
	Accept bool
	Reason string
}

// ScoreDecision grades a person profile's relevance.
type ScoreDecision struct {
	Value  int
	Label  string
	Reason string
}

// NeutralScore is the mid-scale fail-open value for people scoring.
const NeutralScore = 3

var scoreLabels = map[int]string{
	0: "Irrelevant",
	1: "Low interest",
	2: "Some interest",
	3: "Moderate interest",
	4: "Good match",
	5: "Strong match",
}

// ScoreLabel maps a score to its fixed label. It is a pure function; invalid
// values map to the neutral label since the engine substitutes the neutral
// score before labeling anyway.
func ScoreLabel(value int) string {
	if label, ok := scoreLabels[value]; ok {
		return label
	}
	return scoreLabels[NeutralScore]
}

// Tool field coercion. Providers disagree on JSON number handling and models
// occasionally return quoted values; coercion keeps those out of the
// fail-open path when the intent is unambiguous.

func coerceBool(v any) (bool, bool) {
	switch val := v.(type) {
	case bool:
		return val, true
	case string:
		switch strings.ToLower(strings.TrimSpace(val)) {
		case "true", "yes":
			return true, true
		case "false", "no":
			return false, true
		}
	}
	return false, false
}

func coerceInt(v any) (int, bool) {
	switch val := v.(type) {
	case int:
		return val, true
	case float64:
		if val == float64(int(val)) {
			return int(val), true
		}
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(val))
		if err == nil {
			return n, true
		}
	}
	return 0, false
}

func coerceString(v any) string {
	if s, ok := v.(string); ok {
		return strings.TrimSpace(s)
	}
	return ""
}
