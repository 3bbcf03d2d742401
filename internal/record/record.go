package record

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mitchellh/mapstructure"
	"go.uber.org/zap"
)

// Domain tags a record with the evaluation conversation it belongs to.
type Domain string

const (
	DomainJobs   Domain = "jobs"
	DomainPeople Domain = "people"
)

// Stage describes how much information the record carries.
type Stage string

const (
	// StageCard is the limited information visible on a search-results card.
	StageCard Stage = "card"
	// StageFull is the complete detail view of a record.
	StageFull Stage = "full"
)

// Record is one extracted item as produced by the scraper: Markdown text plus
// a domain tag and stage. The core makes no assumption about how the text was
// produced.
type Record struct {
	Domain   Domain `json:"domain" mapstructure:"domain"`
	Stage    Stage  `json:"stage" mapstructure:"stage"`
	Title    string `json:"title" mapstructure:"title"`
	URL      string `json:"url,omitempty" mapstructure:"url"`
	Text     string `json:"text" mapstructure:"text"`
	FullText string `json:"full_text,omitempty" mapstructure:"full_text"`
}

// ParseDomain validates a domain tag coming from the feed or configuration.
func ParseDomain(s string) (Domain, error) {
	switch Domain(strings.ToLower(strings.TrimSpace(s))) {
	case DomainJobs:
		return DomainJobs, nil
	case DomainPeople:
		return DomainPeople, nil
	}
	return "", fmt.Errorf("unknown domain %q", s)
}

// Validate reports whether the record is usable by the evaluation pipeline.
func (r *Record) Validate() error {
	if _, err := ParseDomain(string(r.Domain)); err != nil {
		return err
	}
	if r.Stage != StageCard && r.Stage != StageFull {
		return fmt.Errorf("unknown stage %q", r.Stage)
	}
	if strings.TrimSpace(r.Text) == "" {
		return fmt.Errorf("record text is empty")
	}
	return nil
}

// Records is an ordered batch of extracted records.
type Records struct {
	Items []*Record
}

func (r *Records) Len() int {
	return len(r.Items)
}

// ReadFeed parses a JSONL stream produced by the scraper into records.
// Invalid lines are logged and skipped so one bad extraction never aborts a
// run.
func ReadFeed(in io.Reader, logger *zap.Logger) (*Records, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	records := &Records{}
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	line := 0
	for scanner.Scan() {
		line++
		raw := strings.TrimSpace(scanner.Text())
		if raw == "" || strings.HasPrefix(raw, "#") {
			continue
		}

		var loose map[string]any
		if err := json.Unmarshal([]byte(raw), &loose); err != nil {
			logger.Warn("skipping malformed feed line",
				zap.Int("line", line),
				zap.Error(err),
			)
			continue
		}

		rec, err := decodeRecord(loose)
		if err != nil {
			logger.Warn("skipping invalid record",
				zap.Int("line", line),
				zap.Error(err),
			)
			continue
		}

		records.Items = append(records.Items, rec)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading feed: %w", err)
	}

	return records, nil
}

func decodeRecord(loose map[string]any) (*Record, error) {
	var rec Record
	cfg := &mapstructure.DecoderConfig{
		Metadata:         nil,
		Result:           &rec,
		WeaklyTypedInput: true,
	}
	decoder, err := mapstructure.NewDecoder(cfg)
	if err != nil {
		return nil, err
	}
	if err := decoder.Decode(loose); err != nil {
		return nil, err
	}

	if err := rec.Validate(); err != nil {
		return nil, err
	}

	return &rec, nil
}

// DumpToTmpFile writes the records to a temporary JSON file for inspection.
func (r *Records) DumpToTmpFile() (string, error) {
	file, err := os.CreateTemp("", "records_*.json")
	if err != nil {
		return "", err
	}
	defer file.Close()

	enc := json.NewEncoder(file)
	enc.SetIndent("", "  ")
	if err := enc.Encode(r); err != nil {
		return "", err
	}
	return file.Name(), nil
}
