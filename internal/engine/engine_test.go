package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/sievelabs/sift/internal/conversation"
	"github.com/sievelabs/sift/internal/llm"
	"github.com/sievelabs/sift/internal/record"
	"go.uber.org/zap"
)

type stubCaller struct {
	call *llm.ToolCall
	err  error

	requests []*llm.ToolRequest
}

func (s *stubCaller) SendTool(_ context.Context, req *llm.ToolRequest) (*llm.ToolCall, error) {
	s.requests = append(s.requests, req)
	if s.err != nil {
		return nil, s.err
	}
	return s.call, nil
}

func (s *stubCaller) Models(context.Context) ([]llm.Model, error) {
	return nil, nil
}

func newTestEngine(caller llm.Caller) *Engine {
	return New(caller, conversation.NewManager(), Config{
		JobsCriteria:   "Remote Go roles",
		PeopleCriteria: "Backend engineers",
		Model:          "test-model",
	}, zap.NewNop())
}

func TestReady(t *testing.T) {
	e := newTestEngine(&stubCaller{})
	if !e.Ready(record.DomainJobs) || !e.Ready(record.DomainPeople) {
		t.Error("engine with caller and criteria must be ready")
	}

	if New(nil, conversation.NewManager(), Config{JobsCriteria: "x"}, zap.NewNop()).Ready(record.DomainJobs) {
		t.Error("engine without a caller must not be ready")
	}

	noCriteria := New(&stubCaller{}, conversation.NewManager(), Config{JobsCriteria: "x"}, zap.NewNop())
	if noCriteria.Ready(record.DomainPeople) {
		t.Error("domain without criteria must not be ready")
	}
}

func TestEvaluateNotConfigured(t *testing.T) {
	e := New(nil, conversation.NewManager(), Config{}, zap.NewNop())

	decision := e.Evaluate(context.Background(), "card")
	if !decision.Download {
		t.Error("unconfigured engine must default to download=true")
	}
	if decision.Reason == "" {
		t.Error("expected a substitution reason")
	}
}

func TestEvaluateAppendsExchange(t *testing.T) {
	caller := &stubCaller{call: &llm.ToolCall{
		ID:    "call-1",
		Name:  llm.ToolJobEvaluation,
		Input: map[string]any{"download": false},
	}}
	e := newTestEngine(caller)

	decision := e.Evaluate(context.Background(), "Go developer, remote")
	if decision.Download {
		t.Error("expected download=false from tool input")
	}
	if decision.Reason != "" {
		t.Errorf("clean decision must carry no reason, got %q", decision.Reason)
	}

	if got := e.Conversations().Len(record.DomainJobs); got != conversation.PrimingTurns+conversation.ExchangeTurns {
		t.Errorf("history length = %d, want %d", got, conversation.PrimingTurns+conversation.ExchangeTurns)
	}

	req := caller.requests[0]
	if req.ForceTool != llm.ToolJobEvaluation {
		t.Errorf("ForceTool = %q, want %q", req.ForceTool, llm.ToolJobEvaluation)
	}
	// Priming triple plus the new record turn.
	if len(req.Messages) != conversation.PrimingTurns+1 {
		t.Errorf("first request carried %d messages, want %d", len(req.Messages), conversation.PrimingTurns+1)
	}
}

func TestEvaluateFailOpenOnError(t *testing.T) {
	caller := &stubCaller{err: errors.New("transport down")}
	e := newTestEngine(caller)

	decision := e.Evaluate(context.Background(), "card")
	if !decision.Download {
		t.Error("errors must resolve to download=true")
	}

	// The failed exchange must not pollute the shared history.
	if got := e.Conversations().Len(record.DomainJobs); got != conversation.PrimingTurns {
		t.Errorf("history length after failure = %d, want %d", got, conversation.PrimingTurns)
	}
}

func TestEvaluateNonBooleanField(t *testing.T) {
	caller := &stubCaller{call: &llm.ToolCall{
		Name:  llm.ToolJobEvaluation,
		Input: map[string]any{"download": 42},
	}}
	e := newTestEngine(caller)

	decision := e.Evaluate(context.Background(), "card")
	if !decision.Download {
		t.Error("non-boolean download field must resolve to true")
	}
	if got := e.Conversations().Len(record.DomainJobs); got != conversation.PrimingTurns {
		t.Errorf("malformed exchange must not be committed, history = %d", got)
	}
}

func TestEvaluateCoercesStringBool(t *testing.T) {
	caller := &stubCaller{call: &llm.ToolCall{
		Name:  llm.ToolJobEvaluation,
		Input: map[string]any{"download": "false"},
	}}
	e := newTestEngine(caller)

	if decision := e.Evaluate(context.Background(), "card"); decision.Download {
		t.Error("quoted boolean must coerce to false")
	}
}

func TestTriageOutcomes(t *testing.T) {
	cases := []struct {
		name     string
		call     *llm.ToolCall
		err      error
		want     TriageOutcome
		appended bool
	}{
		{
			name: "reject",
			call: &llm.ToolCall{Name: llm.ToolCardTriage, Input: map[string]any{
				"decision": "reject", "reason": "wrong field",
			}},
			want:     TriageReject,
			appended: true,
		},
		{
			name: "maybe",
			call: &llm.ToolCall{Name: llm.ToolCardTriage, Input: map[string]any{
				"decision": "maybe", "reason": "needs full text",
			}},
			want:     TriageMaybe,
			appended: true,
		},
		{
			name: "uppercase decision normalized",
			call: &llm.ToolCall{Name: llm.ToolCardTriage, Input: map[string]any{
				"decision": "KEEP",
			}},
			want:     TriageKeep,
			appended: true,
		},
		{
			name: "invalid decision falls back to keep",
			call: &llm.ToolCall{Name: llm.ToolCardTriage, Input: map[string]any{
				"decision": "discard",
			}},
			want: TriageKeep,
		},
		{
			name: "error falls back to keep",
			err:  errors.New("timeout"),
			want: TriageKeep,
		},
		{
			name: "wrong tool falls back to keep",
			call: &llm.ToolCall{Name: llm.ToolJobEvaluation, Input: map[string]any{}},
			want: TriageKeep,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			e := newTestEngine(&stubCaller{call: tc.call, err: tc.err})

			decision := e.Triage(context.Background(), "card")
			if decision.Outcome != tc.want {
				t.Errorf("outcome = %q, want %q", decision.Outcome, tc.want)
			}

			wantLen := conversation.PrimingTurns
			if tc.appended {
				wantLen += conversation.ExchangeTurns
			}
			if got := e.Conversations().Len(record.DomainJobs); got != wantLen {
				t.Errorf("history length = %d, want %d", got, wantLen)
			}
		})
	}
}

func TestTriageReasonCapped(t *testing.T) {
	long := make([]byte, 0, 300)
	for i := 0; i < 300; i++ {
		long = append(long, 'x')
	}
	caller := &stubCaller{call: &llm.ToolCall{Name: llm.ToolCardTriage, Input: map[string]any{
		"decision": "reject",
		"reason":   string(long),
	}}}
	e := newTestEngine(caller)

	decision := e.Triage(context.Background(), "card")
	if len([]rune(decision.Reason)) > llm.TriageReasonCap {
		t.Errorf("reason length %d exceeds cap %d", len([]rune(decision.Reason)), llm.TriageReasonCap)
	}
}

func TestEvaluateFull(t *testing.T) {
	caller := &stubCaller{call: &llm.ToolCall{
		Name:  llm.ToolFullEvaluation,
		Input: map[string]any{"accept": false, "reason": "stack mismatch"},
	}}
	e := newTestEngine(caller)

	decision := e.EvaluateFull(context.Background(), "full description")
	if decision.Accept {
		t.Error("expected accept=false")
	}
	if decision.Reason != "stack mismatch" {
		t.Errorf("reason = %q", decision.Reason)
	}
}

func TestEvaluateFullFailOpen(t *testing.T) {
	e := newTestEngine(&stubCaller{err: errors.New("boom")})

	if decision := e.EvaluateFull(context.Background(), "full"); !decision.Accept {
		t.Error("errors must resolve to accept=true")
	}
}

func TestScore(t *testing.T) {
	cases := []struct {
		name      string
		call      *llm.ToolCall
		err       error
		wantValue int
		wantLabel string
	}{
		{
			name: "valid score",
			call: &llm.ToolCall{Name: llm.ToolPeopleScore, Input: map[string]any{
				"score": float64(5), "reason": "exact match",
			}},
			wantValue: 5,
			wantLabel: "Strong match",
		},
		{
			name: "string score coerced",
			call: &llm.ToolCall{Name: llm.ToolPeopleScore, Input: map[string]any{
				"score": "1",
			}},
			wantValue: 1,
			wantLabel: "Low interest",
		},
		{
			name: "out of range falls back to neutral",
			call: &llm.ToolCall{Name: llm.ToolPeopleScore, Input: map[string]any{
				"score": float64(9),
			}},
			wantValue: NeutralScore,
			wantLabel: "Moderate interest",
		},
		{
			name: "fractional score falls back to neutral",
			call: &llm.ToolCall{Name: llm.ToolPeopleScore, Input: map[string]any{
				"score": 4.5,
			}},
			wantValue: NeutralScore,
			wantLabel: "Moderate interest",
		},
		{
			name:      "error falls back to neutral",
			err:       errors.New("rate limited"),
			wantValue: NeutralScore,
			wantLabel: "Moderate interest",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			e := newTestEngine(&stubCaller{call: tc.call, err: tc.err})

			decision := e.Score(context.Background(), "profile")
			if decision.Value != tc.wantValue {
				t.Errorf("value = %d, want %d", decision.Value, tc.wantValue)
			}
			if decision.Label != tc.wantLabel {
				t.Errorf("label = %q, want %q", decision.Label, tc.wantLabel)
			}
		})
	}
}

func TestScoreUsesPeopleConversation(t *testing.T) {
	caller := &stubCaller{call: &llm.ToolCall{
		Name:  llm.ToolPeopleScore,
		Input: map[string]any{"score": float64(4)},
	}}
	e := newTestEngine(caller)

	e.Score(context.Background(), "profile")

	if got := e.Conversations().Len(record.DomainPeople); got != conversation.PrimingTurns+conversation.ExchangeTurns {
		t.Errorf("people history = %d, want %d", got, conversation.PrimingTurns+conversation.ExchangeTurns)
	}
	if got := e.Conversations().Len(record.DomainJobs); got != 0 {
		t.Errorf("jobs history must stay untouched, got %d", got)
	}
}

func TestDomainsShareNoHistory(t *testing.T) {
	jobCall := &llm.ToolCall{Name: llm.ToolJobEvaluation, Input: map[string]any{"download": true}}
	caller := &stubCaller{call: jobCall}
	e := newTestEngine(caller)

	e.Evaluate(context.Background(), "card one")
	e.Evaluate(context.Background(), "card two")

	// Second request carries priming, one full exchange, and the new turn.
	second := caller.requests[1]
	want := conversation.PrimingTurns + conversation.ExchangeTurns + 1
	if len(second.Messages) != want {
		t.Errorf("second request carried %d messages, want %d", len(second.Messages), want)
	}
}
