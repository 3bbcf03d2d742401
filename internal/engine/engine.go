package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	_ "embed"

	"github.com/sievelabs/sift/internal/conversation"
	"github.com/sievelabs/sift/internal/llm"
	"github.com/sievelabs/sift/internal/record"
	"github.com/sievelabs/sift/internal/utils"
	"go.uber.org/zap"
)

//go:embed prompt_jobs.md
var jobsPromptTemplate string

//go:embed prompt_people.md
var peoplePromptTemplate string

const (
	jobsSystemPrompt   = "You are a job-search screening assistant. Respond only by invoking the required tool."
	peopleSystemPrompt = "You are a people-search relevance assistant. Respond only by invoking the required tool."

	primingAck   = "Understood. Send the records and I will evaluate each one with the required tool."
	primingBegin = "Records follow, one per message."
)

// Stage timeouts: triage-class calls carry little input and a small response
// budget, full evaluation carries the complete record and a larger one.
const (
	defaultFilterTimeout = 30 * time.Second
	defaultTriageTimeout = 30 * time.Second
	defaultFullTimeout   = 90 * time.Second
	defaultScoreTimeout  = 30 * time.Second

	defaultFilterMaxTokens = 256
	defaultTriageMaxTokens = 256
	defaultFullMaxTokens   = 512
	defaultScoreMaxTokens  = 256

	defaultMaxLogLength = 200
)

// Config carries the engine's criteria and per-stage ceilings.
type Config struct {
	JobsCriteria   string
	PeopleCriteria string
	Model          string

	FilterTimeout time.Duration
	TriageTimeout time.Duration
	FullTimeout   time.Duration
	ScoreTimeout  time.Duration

	FilterMaxTokens int
	TriageMaxTokens int
	FullMaxTokens   int
	ScoreMaxTokens  int

	MaxLogLength int
}

// Engine implements the staged evaluation protocols. Every operation is
// fail-open: an error or malformed response resolves to the permissive
// outcome of its protocol, never to silent rejection. Records are evaluated
// strictly one at a time; concurrent calls would race on the shared ordered
// conversation.
type Engine struct {
	caller llm.Caller
	conv   *conversation.Manager
	cfg    Config
	logger *zap.Logger
}

func New(caller llm.Caller, conv *conversation.Manager, cfg Config, logger *zap.Logger) *Engine {
	if conv == nil {
		conv = conversation.NewManager()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	if cfg.FilterTimeout <= 0 {
		cfg.FilterTimeout = defaultFilterTimeout
	}
	if cfg.TriageTimeout <= 0 {
		cfg.TriageTimeout = defaultTriageTimeout
	}
	if cfg.FullTimeout <= 0 {
		cfg.FullTimeout = defaultFullTimeout
	}
	if cfg.ScoreTimeout <= 0 {
		cfg.ScoreTimeout = defaultScoreTimeout
	}
	if cfg.FilterMaxTokens <= 0 {
		cfg.FilterMaxTokens = defaultFilterMaxTokens
	}
	if cfg.TriageMaxTokens <= 0 {
		cfg.TriageMaxTokens = defaultTriageMaxTokens
	}
	if cfg.FullMaxTokens <= 0 {
		cfg.FullMaxTokens = defaultFullMaxTokens
	}
	if cfg.ScoreMaxTokens <= 0 {
		cfg.ScoreMaxTokens = defaultScoreMaxTokens
	}
	if cfg.MaxLogLength <= 0 {
		cfg.MaxLogLength = defaultMaxLogLength
	}

	return &Engine{caller: caller, conv: conv, cfg: cfg, logger: logger}
}

// Conversations exposes the engine's conversation manager for session resets.
func (e *Engine) Conversations() *conversation.Manager {
	return e.conv
}

// Ready reports whether the domain has a usable caller and criteria. When
// false, every operation short-circuits to its permissive default without a
// network call.
func (e *Engine) Ready(domain record.Domain) bool {
	return e.configured(domain)
}

// Evaluate runs the single-tier binary filter over a job card. Without a
// usable credential/criteria pair it returns download=true with no network
// call.
func (e *Engine) Evaluate(ctx context.Context, cardText string) *FilterDecision {
	if !e.configured(record.DomainJobs) {
		return &FilterDecision{Download: true, Reason: "ai filter not configured"}
	}

	call, err := e.send(ctx, record.DomainJobs, cardText, llm.JobEvaluationTool(), e.cfg.FilterTimeout, e.cfg.FilterMaxTokens)
	if err != nil {
		e.failOpen(record.DomainJobs, llm.ToolJobEvaluation, err)
		return &FilterDecision{Download: true, Reason: failReason("evaluation failed", err)}
	}

	if call == nil || call.Name != llm.ToolJobEvaluation {
		return &FilterDecision{Download: true, Reason: unexpectedToolReason(call)}
	}

	download, ok := coerceBool(call.Input["download"])
	if !ok {
		return &FilterDecision{Download: true, Reason: "defaulted to download=true: non-boolean download field"}
	}

	e.conv.AppendExchange(record.DomainJobs, cardText, *call,
		fmt.Sprintf("Recorded decision: download=%t", download))

	return &FilterDecision{Download: download}
}

// Triage runs the cheap three-way first pass over a job card. Outcomes:
// reject means discard without further cost, keep means accept as-is, maybe
// means the caller must fetch full detail and invoke EvaluateFull. Any
// failure resolves to keep so an error never silently loses a record.
func (e *Engine) Triage(ctx context.Context, cardText string) *TriageDecision {
	if !e.configured(record.DomainJobs) {
		return &TriageDecision{Outcome: TriageKeep, Reason: "ai triage not configured"}
	}

	call, err := e.send(ctx, record.DomainJobs, cardText, llm.CardTriageTool(), e.cfg.TriageTimeout, e.cfg.TriageMaxTokens)
	if err != nil {
		e.failOpen(record.DomainJobs, llm.ToolCardTriage, err)
		return &TriageDecision{Outcome: TriageKeep, Reason: failReason("triage failed", err)}
	}

	if call == nil || call.Name != llm.ToolCardTriage {
		return &TriageDecision{Outcome: TriageKeep, Reason: unexpectedToolReason(call)}
	}

	decision := strings.ToLower(coerceString(call.Input["decision"]))
	if !llm.ValidTriageDecision(decision) {
		return &TriageDecision{
			Outcome: TriageKeep,
			Reason:  utils.CapRunes(fmt.Sprintf("defaulted to keep: invalid decision %q", decision), llm.TriageReasonCap),
		}
	}

	reason := utils.CapRunes(coerceString(call.Input["reason"]), llm.TriageReasonCap)

	e.conv.AppendExchange(record.DomainJobs, cardText, *call,
		fmt.Sprintf("Recorded triage: %s", decision))

	return &TriageDecision{Outcome: TriageOutcome(decision), Reason: reason}
}

// EvaluateFull makes the final decision from the complete record text,
// submitted as a fresh user turn. Whether a prior triage said maybe is the
// caller's business, not the engine's. Any failure resolves to accept=true.
func (e *Engine) EvaluateFull(ctx context.Context, fullText string) *FullDecision {
	if !e.configured(record.DomainJobs) {
		return &FullDecision{Accept: true, Reason: "ai evaluation not configured"}
	}

	call, err := e.send(ctx, record.DomainJobs, fullText, llm.FullEvaluationTool(), e.cfg.FullTimeout, e.cfg.FullMaxTokens)
	if err != nil {
		e.failOpen(record.DomainJobs, llm.ToolFullEvaluation, err)
		return &FullDecision{Accept: true, Reason: failReason("full evaluation failed", err)}
	}

	if call == nil || call.Name != llm.ToolFullEvaluation {
		return &FullDecision{Accept: true, Reason: unexpectedToolReason(call)}
	}

	accept, ok := coerceBool(call.Input["accept"])
	if !ok {
		return &FullDecision{Accept: true, Reason: "defaulted to accept=true: non-boolean accept field"}
	}

	reason := utils.CapRunes(coerceString(call.Input["reason"]), llm.FullReasonCap)

	e.conv.AppendExchange(record.DomainJobs, fullText, *call,
		fmt.Sprintf("Recorded decision: accept=%t", accept))

	return &FullDecision{Accept: accept, Reason: reason}
}

// Score grades a person profile on the 0-5 scale. Every failure mode resolves
// to the mid-scale neutral value.
func (e *Engine) Score(ctx context.Context, profileText string) *ScoreDecision {
	if !e.configured(record.DomainPeople) {
		return neutralScore("ai scoring not configured")
	}

	call, err := e.send(ctx, record.DomainPeople, profileText, llm.PeopleScoreTool(), e.cfg.ScoreTimeout, e.cfg.ScoreMaxTokens)
	if err != nil {
		e.failOpen(record.DomainPeople, llm.ToolPeopleScore, err)
		return neutralScore(failReason("scoring failed", err))
	}

	if call == nil || call.Name != llm.ToolPeopleScore {
		return neutralScore(unexpectedToolReason(call))
	}

	value, ok := coerceInt(call.Input["score"])
	if !ok {
		return neutralScore("defaulted to neutral score: non-integer score field")
	}

	if value < llm.ScoreMin || value > llm.ScoreMax {
		return neutralScore(fmt.Sprintf("defaulted to neutral score: value %d out of range", value))
	}

	reason := utils.CapRunes(coerceString(call.Input["reason"]), llm.ScoreReasonCap)

	e.conv.AppendExchange(record.DomainPeople, profileText, *call,
		fmt.Sprintf("Recorded score: %d", value))

	return &ScoreDecision{Value: value, Label: ScoreLabel(value), Reason: reason}
}

func (e *Engine) configured(domain record.Domain) bool {
	return e.caller != nil && strings.TrimSpace(e.criteria(domain)) != ""
}

func (e *Engine) criteria(domain record.Domain) string {
	if domain == record.DomainPeople {
		return e.cfg.PeopleCriteria
	}
	return e.cfg.JobsCriteria
}

// send seeds the conversation if needed, submits the record with the forced
// tool, and returns the parsed call. The shared history is not touched here;
// each operation commits the exchange only after validating the response.
func (e *Engine) send(ctx context.Context, domain record.Domain, text string, tool llm.Tool, timeout time.Duration, maxTokens int) (*llm.ToolCall, error) {
	e.seed(domain)

	messages := append(e.conv.Turns(domain), llm.Turn{Role: llm.RoleUser, Text: text})

	system := jobsSystemPrompt
	if domain == record.DomainPeople {
		system = peopleSystemPrompt
	}

	req := &llm.ToolRequest{
		Model:     e.cfg.Model,
		System:    system,
		MaxTokens: maxTokens,
		Messages:  messages,
		Tools:     []llm.Tool{tool},
		ForceTool: tool.Name,
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	return e.caller.SendTool(ctx, req)
}

func (e *Engine) seed(domain record.Domain) {
	if e.conv.Seeded(domain) {
		return
	}

	template := jobsPromptTemplate
	if domain == record.DomainPeople {
		template = peoplePromptTemplate
	}
	if strings.TrimSpace(template) == "" {
		template = "Criteria:\n{{CRITERIA}}"
	}

	criteria := strings.ReplaceAll(template, "{{CRITERIA}}", strings.TrimSpace(e.criteria(domain)))
	e.conv.Seed(domain, criteria, primingAck, primingBegin)
}

func (e *Engine) failOpen(domain record.Domain, tool string, err error) {
	e.logger.Warn("evaluation call failed, applying permissive default",
		zap.String("domain", string(domain)),
		zap.String("tool", tool),
		zap.Error(err),
	)
}

func failReason(prefix string, err error) string {
	return utils.TruncateForLog(prefix+": "+err.Error(), defaultMaxLogLength)
}

func unexpectedToolReason(call *llm.ToolCall) string {
	if call == nil {
		return "no tool invocation in response"
	}
	return "unexpected tool response: " + call.Name
}

func neutralScore(reason string) *ScoreDecision {
	return &ScoreDecision{Value: NeutralScore, Label: ScoreLabel(NeutralScore), Reason: reason}
}
