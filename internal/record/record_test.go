package record

import (
	"strings"
	"testing"

	"go.uber.org/zap"
)

func TestReadFeed(t *testing.T) {
	feed := strings.Join([]string{
		`{"domain":"jobs","stage":"card","title":"Go Developer","text":"**Go Developer** at Acme"}`,
		``,
		`# comment line`,
		`{"domain":"people","stage":"card","title":"Jane Doe","text":"Jane Doe, SRE"}`,
		`not json at all`,
		`{"domain":"mars","stage":"card","text":"bad domain"}`,
		`{"domain":"jobs","stage":"full","title":"Backend Engineer","text":"card text","full_text":"long description"}`,
	}, "\n")

	records, err := ReadFeed(strings.NewReader(feed), zap.NewNop())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if records.Len() != 3 {
		t.Fatalf("expected 3 records, got %d", records.Len())
	}

	first := records.Items[0]
	if first.Domain != DomainJobs || first.Stage != StageCard {
		t.Fatalf("unexpected first record: %+v", first)
	}

	last := records.Items[2]
	if last.FullText != "long description" {
		t.Fatalf("expected full text to survive decoding, got %q", last.FullText)
	}
}

func TestReadFeedPreservesOrder(t *testing.T) {
	feed := strings.Join([]string{
		`{"domain":"jobs","stage":"card","title":"a","text":"a"}`,
		`{"domain":"jobs","stage":"card","title":"b","text":"b"}`,
		`{"domain":"jobs","stage":"card","title":"c","text":"c"}`,
	}, "\n")

	records, err := ReadFeed(strings.NewReader(feed), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	titles := make([]string, 0, records.Len())
	for _, rec := range records.Items {
		titles = append(titles, rec.Title)
	}

	if got := strings.Join(titles, ""); got != "abc" {
		t.Fatalf("expected extraction order preserved, got %q", got)
	}
}

func TestRecordValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		rec     Record
		wantErr bool
	}{
		{
			name: "valid jobs card",
			rec:  Record{Domain: DomainJobs, Stage: StageCard, Text: "text"},
		},
		{
			name:    "empty text",
			rec:     Record{Domain: DomainJobs, Stage: StageCard, Text: "   "},
			wantErr: true,
		},
		{
			name:    "unknown stage",
			rec:     Record{Domain: DomainPeople, Stage: "preview", Text: "text"},
			wantErr: true,
		},
		{
			name:    "unknown domain",
			rec:     Record{Domain: "pets", Stage: StageCard, Text: "text"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.rec.Validate()
			if tt.wantErr && err == nil {
				t.Fatal("expected error")
			}
			if !tt.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}
