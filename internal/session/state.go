package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/sievelabs/sift/internal/record"
	"go.uber.org/zap"
)

const ns = "session"

// State keys. Each scalar is its own row so writes touching one field never
// rewrite the others; a crash can therefore leave e.g. a counter one step
// behind the record buffer, which Load tolerates.
const (
	keyVersion         = "version"
	keyPhase           = "phase"
	keyMode            = "mode"
	keyCurrentPage     = "current_page"
	keyStartPage       = "start_page"
	keyTargetPageCount = "target_page_count"
	keySearchLocator   = "search_locator"
	keyFormats         = "formats"
	keyIncludeViewed   = "include_viewed"
	keyAIEnabled       = "ai_enabled"
	keyFullAIEnabled   = "full_ai_enabled"
	keyPeopleAIEnabled = "people_ai_enabled"
)

func counterKey(domain record.Domain, counter string) string {
	return string(domain) + "_" + counter
}

// Counter names.
const (
	CounterRecordsProcessed = "records_processed"
	CounterAIEvaluated      = "ai_evaluated"
	CounterAIAccepted       = "ai_accepted"
)

// Cursor tracks pagination progress.
type Cursor struct {
	CurrentPage     int `json:"currentPage"`
	StartPage       int `json:"startPage"`
	TargetPageCount int `json:"targetPageCount"`
}

// Toggles are the per-session AI switches.
type Toggles struct {
	AIEnabled       bool `json:"aiEnabled"`
	FullAIEnabled   bool `json:"fullAiEnabled"`
	PeopleAIEnabled bool `json:"peopleAiEnabled"`
}

// Counters accumulate per-domain progress totals.
type Counters struct {
	RecordsProcessed int `json:"recordsProcessed"`
	AIEvaluated      int `json:"aiEvaluated"`
	AIAccepted       int `json:"aiAccepted"`
}

// State is the typed snapshot of a persisted session.
type State struct {
	Version       int      `json:"version"`
	Phase         Phase    `json:"phase"`
	Mode          string   `json:"mode"`
	Cursor        Cursor   `json:"cursor"`
	SearchLocator string   `json:"searchLocator"`
	Formats       []string `json:"formats"`
	IncludeViewed bool     `json:"includeViewed"`
	Toggles       Toggles  `json:"toggles"`
	Jobs          Counters `json:"jobs"`
	People        Counters `json:"people"`
}

func defaultState() *State {
	return &State{Version: stateVersion, Phase: PhaseIdle}
}

// StartParams describe the search a new session should run.
type StartParams struct {
	Mode            string
	SearchLocator   string
	StartPage       int
	TargetPageCount int
	Formats         []string
	IncludeViewed   bool
	Toggles         Toggles
}

// Load assembles the persisted snapshot. Individual malformed values are
// logged and replaced with their zero value; a snapshot that fails validation
// as a whole resets to a fresh idle state rather than poisoning the run.
func (s *Store) Load(ctx context.Context) (*State, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM state WHERE ns = ?;`, ns)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	values := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		values[k] = v
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(values) == 0 {
		return defaultState(), nil
	}

	st := &State{
		Version: s.intValue(values, keyVersion),
		Phase:   Phase(values[keyPhase]),
		Mode:    values[keyMode],
		Cursor: Cursor{
			CurrentPage:     s.intValue(values, keyCurrentPage),
			StartPage:       s.intValue(values, keyStartPage),
			TargetPageCount: s.intValue(values, keyTargetPageCount),
		},
		SearchLocator: values[keySearchLocator],
		IncludeViewed: s.boolValue(values, keyIncludeViewed),
		Toggles: Toggles{
			AIEnabled:       s.boolValue(values, keyAIEnabled),
			FullAIEnabled:   s.boolValue(values, keyFullAIEnabled),
			PeopleAIEnabled: s.boolValue(values, keyPeopleAIEnabled),
		},
		Jobs:   s.loadCounters(values, record.DomainJobs),
		People: s.loadCounters(values, record.DomainPeople),
	}

	if raw, ok := values[keyFormats]; ok && raw != "" {
		if err := json.Unmarshal([]byte(raw), &st.Formats); err != nil {
			s.logger.Warn("malformed formats value, dropping", zap.Error(err))
			st.Formats = nil
		}
	}

	if err := st.validate(); err != nil {
		s.logger.Warn("persisted session state failed validation, resetting",
			zap.Error(err))
		return defaultState(), nil
	}

	return st, nil
}

func (st *State) validate() error {
	if st.Version != stateVersion {
		return fmt.Errorf("unsupported state version %d", st.Version)
	}
	switch st.Phase {
	case PhaseIdle, PhaseActive:
	default:
		return fmt.Errorf("unknown phase %q", st.Phase)
	}
	if st.Cursor.StartPage < 0 || st.Cursor.CurrentPage < 0 || st.Cursor.TargetPageCount < 0 {
		return fmt.Errorf("negative cursor values %+v", st.Cursor)
	}
	if st.Cursor.CurrentPage < st.Cursor.StartPage {
		return fmt.Errorf("current page %d behind start page %d",
			st.Cursor.CurrentPage, st.Cursor.StartPage)
	}
	if st.Phase == PhaseActive && st.SearchLocator == "" {
		return fmt.Errorf("active session without a search locator")
	}
	return nil
}

// Active reports whether a session is currently running.
func (s *Store) Active(ctx context.Context) (bool, error) {
	st, err := s.Load(ctx)
	if err != nil {
		return false, err
	}
	return st.Phase == PhaseActive, nil
}

// Start begins a new session. All counters reset to zero; a still-active
// session is rejected with ErrSessionActive so two runs never interleave
// writes on one cursor.
func (s *Store) Start(ctx context.Context, params StartParams) error {
	active, err := s.Active(ctx)
	if err != nil {
		return err
	}
	if active {
		return ErrSessionActive
	}

	// Mode names the domain the search targets; an unset mode means jobs.
	mode := params.Mode
	if strings.TrimSpace(mode) == "" {
		mode = string(record.DomainJobs)
	}
	domain, err := record.ParseDomain(mode)
	if err != nil {
		return fmt.Errorf("invalid session mode: %w", err)
	}

	formats, err := json.Marshal(params.Formats)
	if err != nil {
		return fmt.Errorf("encoding formats: %w", err)
	}

	writes := []struct {
		key   string
		value string
	}{
		{keyVersion, strconv.Itoa(stateVersion)},
		{keyMode, string(domain)},
		{keySearchLocator, params.SearchLocator},
		{keyStartPage, strconv.Itoa(params.StartPage)},
		{keyCurrentPage, strconv.Itoa(params.StartPage)},
		{keyTargetPageCount, strconv.Itoa(params.TargetPageCount)},
		{keyFormats, string(formats)},
		{keyIncludeViewed, strconv.FormatBool(params.IncludeViewed)},
		{keyAIEnabled, strconv.FormatBool(params.Toggles.AIEnabled)},
		{keyFullAIEnabled, strconv.FormatBool(params.Toggles.FullAIEnabled)},
		{keyPeopleAIEnabled, strconv.FormatBool(params.Toggles.PeopleAIEnabled)},
		{counterKey(record.DomainJobs, CounterRecordsProcessed), "0"},
		{counterKey(record.DomainJobs, CounterAIEvaluated), "0"},
		{counterKey(record.DomainJobs, CounterAIAccepted), "0"},
		{counterKey(record.DomainPeople, CounterRecordsProcessed), "0"},
		{counterKey(record.DomainPeople, CounterAIEvaluated), "0"},
		{counterKey(record.DomainPeople, CounterAIAccepted), "0"},
	}
	for _, w := range writes {
		if err := s.setKey(ctx, w.key, w.value); err != nil {
			return err
		}
	}

	// Phase flips last so a crash mid-Start leaves the session idle.
	return s.setKey(ctx, keyPhase, string(PhaseActive))
}

// Stop marks the session idle. Counters and the record buffer survive until
// the next Start or Clear.
func (s *Store) Stop(ctx context.Context) error {
	return s.setKey(ctx, keyPhase, string(PhaseIdle))
}

// Clear wipes all session state and buffered records.
func (s *Store) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM state WHERE ns = ?;`, ns); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM records WHERE ns = ?;`, ns)
	return err
}

// AdvancePage moves the cursor forward by exactly one page.
func (s *Store) AdvancePage(ctx context.Context) (int, error) {
	current, err := s.intKey(ctx, keyCurrentPage)
	if err != nil {
		return 0, err
	}
	next := current + 1
	if err := s.setKey(ctx, keyCurrentPage, strconv.Itoa(next)); err != nil {
		return 0, err
	}
	return next, nil
}

// IncrCounter bumps one per-domain counter by one.
func (s *Store) IncrCounter(ctx context.Context, domain record.Domain, counter string) error {
	key := counterKey(domain, counter)
	current, err := s.intKey(ctx, key)
	if err != nil {
		return err
	}
	return s.setKey(ctx, key, strconv.Itoa(current+1))
}

// SetToggle flips one AI switch mid-session.
func (s *Store) SetToggle(ctx context.Context, domain record.Domain, full, enabled bool) error {
	key := keyAIEnabled
	switch {
	case domain == record.DomainPeople:
		key = keyPeopleAIEnabled
	case full:
		key = keyFullAIEnabled
	}
	return s.setKey(ctx, key, strconv.FormatBool(enabled))
}

// AppendRecords adds accepted records to the durable buffer.
func (s *Store) AppendRecords(ctx context.Context, recs []record.Record) error {
	for _, r := range recs {
		payload, err := json.Marshal(r)
		if err != nil {
			return fmt.Errorf("encoding record %q: %w", r.Title, err)
		}
		if _, err := s.db.ExecContext(ctx, `
INSERT INTO records(ns, domain, stage, title, payload, created_at)
VALUES(?,?,?,?,?,?);`,
			ns, string(r.Domain), string(r.Stage), r.Title, string(payload),
			time.Now().UTC().Format(time.RFC3339),
		); err != nil {
			return err
		}
	}
	return nil
}

// Buffer returns the accepted records for a domain in insertion order.
func (s *Store) Buffer(ctx context.Context, domain record.Domain) ([]record.Record, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT payload FROM records WHERE ns = ? AND domain = ? ORDER BY id;`,
		ns, string(domain))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []record.Record
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var r record.Record
		if err := json.Unmarshal([]byte(payload), &r); err != nil {
			s.logger.Warn("malformed buffered record, skipping", zap.Error(err))
			continue
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) setKey(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO state(ns, key, value) VALUES(?,?,?)
ON CONFLICT(ns, key) DO UPDATE SET value = excluded.value;`,
		ns, key, value)
	return err
}

func (s *Store) intKey(ctx context.Context, key string) (int, error) {
	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM state WHERE ns = ? AND key = ?;`, ns, key).Scan(&raw)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		s.logger.Warn("malformed integer state value, treating as zero",
			zap.String("key", key), zap.String("value", raw))
		return 0, nil
	}
	return n, nil
}

func (s *Store) loadCounters(values map[string]string, domain record.Domain) Counters {
	return Counters{
		RecordsProcessed: s.intValue(values, counterKey(domain, CounterRecordsProcessed)),
		AIEvaluated:      s.intValue(values, counterKey(domain, CounterAIEvaluated)),
		AIAccepted:       s.intValue(values, counterKey(domain, CounterAIAccepted)),
	}
}

func (s *Store) intValue(values map[string]string, key string) int {
	raw, ok := values[key]
	if !ok {
		return 0
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		s.logger.Warn("malformed integer state value, treating as zero",
			zap.String("key", key), zap.String("value", raw))
		return 0
	}
	return n
}

func (s *Store) boolValue(values map[string]string, key string) bool {
	raw, ok := values[key]
	if !ok {
		return false
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		s.logger.Warn("malformed boolean state value, treating as false",
			zap.String("key", key), zap.String("value", raw))
		return false
	}
	return b
}
