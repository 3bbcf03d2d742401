package conversation

import (
	"github.com/sievelabs/sift/internal/llm"
	"github.com/sievelabs/sift/internal/record"
)

// PrimingTurns is how many turns the seeding exchange occupies.
const PrimingTurns = 3

// ExchangeTurns is how many turns one evaluated record occupies: the
// submitted record, the assistant tool call, and the paired tool result.
const ExchangeTurns = 3

// Manager owns one ordered message history per evaluation domain. It is a
// process-lifetime singleton; no other component may hold a writable copy.
// The pipeline evaluates records strictly one at a time, so no locking is
// needed here.
type Manager struct {
	convs map[record.Domain]*conversation
}

type conversation struct {
	turns  []llm.Turn
	seeded bool
}

func NewManager() *Manager {
	return &Manager{
		convs: map[record.Domain]*conversation{
			record.DomainJobs:   {},
			record.DomainPeople: {},
		},
	}
}

func (m *Manager) conv(domain record.Domain) *conversation {
	c, ok := m.convs[domain]
	if !ok {
		c = &conversation{}
		m.convs[domain] = c
	}
	return c
}

// Seed primes the conversation with the user's criteria: a user turn carrying
// the criteria prompt, an assistant acknowledgment, and a user go-ahead.
// Seeding happens at most once per conversation lifetime; repeated calls are
// no-ops.
func (m *Manager) Seed(domain record.Domain, criteria, ack, begin string) {
	c := m.conv(domain)
	if c.seeded {
		return
	}

	c.turns = append(c.turns,
		llm.Turn{Role: llm.RoleUser, Text: criteria},
		llm.Turn{Role: llm.RoleAssistant, Text: ack},
		llm.Turn{Role: llm.RoleUser, Text: begin},
	)
	c.seeded = true
}

// Seeded reports whether the domain's conversation carries its priming turns.
func (m *Manager) Seeded(domain record.Domain) bool {
	return m.conv(domain).seeded
}

// Turns returns a copy of the domain's history. Callers append their pending
// record turn to the copy without mutating shared state, so a failed call
// never corrupts history.
func (m *Manager) Turns(domain record.Domain) []llm.Turn {
	c := m.conv(domain)
	out := make([]llm.Turn, len(c.turns))
	copy(out, c.turns)
	return out
}

// Len returns the number of turns in the domain's history.
func (m *Manager) Len(domain record.Domain) int {
	return len(m.conv(domain).turns)
}

// AppendExchange commits one successful evaluation to the history: the
// submitted record text, the assistant tool call, and its paired tool result.
// Appending them as a unit keeps the call/result pairing invariant that
// stateful providers require.
func (m *Manager) AppendExchange(domain record.Domain, recordText string, call llm.ToolCall, resultContent string) {
	c := m.conv(domain)
	c.turns = append(c.turns,
		llm.Turn{Role: llm.RoleUser, Text: recordText},
		llm.Turn{Role: llm.RoleAssistant, ToolCall: &call},
		llm.Turn{Role: llm.RoleTool, ToolResult: &llm.ToolResult{
			ID:      call.ID,
			Name:    call.Name,
			Content: resultContent,
		}},
	)
}

// Reset drops the domain's history. Conversations are scoped to a scraping
// session, not to the process.
func (m *Manager) Reset(domain record.Domain) {
	m.convs[domain] = &conversation{}
}

// ResetAll drops every domain's history.
func (m *Manager) ResetAll() {
	for domain := range m.convs {
		m.convs[domain] = &conversation{}
	}
}
