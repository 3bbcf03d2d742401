package llm

import "strings"

// The four decision tools. The engine trusts no output it did not request via
// one of these names.
const (
	ToolJobEvaluation  = "job_evaluation"
	ToolCardTriage     = "card_triage"
	ToolFullEvaluation = "full_evaluation"
	ToolPeopleScore    = "people_score"
)

// Valid card_triage decision strings.
const (
	TriageReject = "reject"
	TriageKeep   = "keep"
	TriageMaybe  = "maybe"
)

// Reason length caps, in runes, per tool contract.
const (
	TriageReasonCap = 100
	FullReasonCap   = 150
	ScoreReasonCap  = 200
)

// People score bounds.
const (
	ScoreMin = 0
	ScoreMax = 5
)

// JobEvaluationTool is the binary download filter from limited card information.
func JobEvaluationTool() Tool {
	return Tool{
		Name:        ToolJobEvaluation,
		Description: "Decide whether a job posting matches the user's criteria based on the limited card information.",
		Schema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"download": map[string]any{
					"type":        "boolean",
					"description": "true to keep the job posting, false to skip it",
				},
			},
			"required": []string{"download"},
		},
	}
}

// CardTriageTool is the conservative three-way triage from limited information.
func CardTriageTool() Tool {
	return Tool{
		Name:        ToolCardTriage,
		Description: "Triage a job card with limited information: reject only when clearly irrelevant, keep when clearly matching, maybe when full details are needed.",
		Schema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"decision": map[string]any{
					"type": "string",
					"enum": []string{TriageReject, TriageKeep, TriageMaybe},
				},
				"reason": map[string]any{
					"type":        "string",
					"description": "short justification, at most 100 characters",
					"maxLength":   TriageReasonCap,
				},
			},
			"required": []string{"decision", "reason"},
		},
	}
}

// FullEvaluationTool is the final decision from complete job information.
func FullEvaluationTool() Tool {
	return Tool{
		Name:        ToolFullEvaluation,
		Description: "Make the final accept/reject decision for a job posting using its complete description.",
		Schema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"accept": map[string]any{
					"type": "boolean",
				},
				"reason": map[string]any{
					"type":        "string",
					"description": "short justification, at most 150 characters",
					"maxLength":   FullReasonCap,
				},
			},
			"required": []string{"accept", "reason"},
		},
	}
}

// PeopleScoreTool grades a person profile's relevance on a 0-5 scale.
func PeopleScoreTool() Tool {
	return Tool{
		Name:        ToolPeopleScore,
		Description: "Score how relevant a person profile is to the user's criteria, from 0 (irrelevant) to 5 (strong match).",
		Schema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"score": map[string]any{
					"type":    "integer",
					"minimum": ScoreMin,
					"maximum": ScoreMax,
				},
				"reason": map[string]any{
					"type":        "string",
					"description": "short justification, at most 200 characters",
					"maxLength":   ScoreReasonCap,
				},
			},
			"required": []string{"score", "reason"},
		},
	}
}

// ValidTriageDecision reports whether s is one of the allowed triage outcomes.
func ValidTriageDecision(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case TriageReject, TriageKeep, TriageMaybe:
		return true
	}
	return false
}
