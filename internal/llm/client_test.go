package llm

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
)

func newTestClient(t *testing.T, kind Kind, baseURL string) *Client {
	t.Helper()

	client, err := NewClient(kind, Config{
		APIKey:            "test-key",
		BaseURL:           baseURL,
		MaxRetries:        1,
		RequestsPerSecond: 1000,
	}, zap.NewNop())
	if err != nil {
		t.Fatalf("creating client: %v", err)
	}

	return client
}

func TestClientSendToolAnthropic(t *testing.T) {
	var gotVersion, gotKey string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotVersion = r.Header.Get("anthropic-version")
		gotKey = r.Header.Get("x-api-key")

		if r.URL.Path != "/v1/messages" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}

		w.Write([]byte(`{"content": [{"type": "tool_use", "id": "tu_1", "name": "job_evaluation", "input": {"download": false}}]}`))
	}))
	defer server.Close()

	client := newTestClient(t, KindAnthropic, server.URL)

	call, err := client.SendTool(context.Background(), &ToolRequest{
		Model:     "claude-sonnet",
		MaxTokens: 256,
		Messages:  []Turn{{Role: RoleUser, Text: "record"}},
		Tools:     []Tool{JobEvaluationTool()},
		ForceTool: ToolJobEvaluation,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if call == nil || call.Name != ToolJobEvaluation {
		t.Fatalf("unexpected call: %+v", call)
	}

	if call.Input["download"] != false {
		t.Fatalf("unexpected input: %v", call.Input)
	}

	if gotKey != "test-key" {
		t.Fatalf("expected x-api-key header, got %q", gotKey)
	}

	if gotVersion == "" {
		t.Fatal("expected anthropic-version header")
	}
}

func TestClientSendToolOpenAIBearerAuth(t *testing.T) {
	var gotAuth string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.Write([]byte(`{"choices": [{"message": {"tool_calls": [{"id": "c1", "function": {"name": "card_triage", "arguments": "{\"decision\":\"keep\",\"reason\":\"ok\"}"}}]}}]}`))
	}))
	defer server.Close()

	client := newTestClient(t, KindOpenAI, server.URL)

	call, err := client.SendTool(context.Background(), &ToolRequest{
		Model:     "gpt-4o-mini",
		MaxTokens: 256,
		Messages:  []Turn{{Role: RoleUser, Text: "record"}},
		Tools:     []Tool{CardTriageTool()},
		ForceTool: ToolCardTriage,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if call == nil || call.Input["decision"] != "keep" {
		t.Fatalf("unexpected call: %+v", call)
	}

	if gotAuth != "Bearer test-key" {
		t.Fatalf("expected bearer auth, got %q", gotAuth)
	}
}

func TestClientRetriesOnServerError(t *testing.T) {
	var calls atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(`{"content": [{"type": "tool_use", "id": "tu_2", "name": "job_evaluation", "input": {"download": true}}]}`))
	}))
	defer server.Close()

	client := newTestClient(t, KindAnthropic, server.URL)
	// Keep the test fast.
	client.backoff = time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	call, err := client.SendTool(ctx, &ToolRequest{
		Model:     "claude-sonnet",
		MaxTokens: 64,
		Messages:  []Turn{{Role: RoleUser, Text: "record"}},
		ForceTool: ToolJobEvaluation,
	})
	if err != nil {
		t.Fatalf("expected retry to succeed, got %v", err)
	}

	if call == nil || call.Input["download"] != true {
		t.Fatalf("unexpected call: %+v", call)
	}

	if calls.Load() != 2 {
		t.Fatalf("expected 2 requests, got %d", calls.Load())
	}
}

func TestClientReturnsStatusErrorOnClientFailure(t *testing.T) {
	var calls atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error": "bad key"}`))
	}))
	defer server.Close()

	client := newTestClient(t, KindAnthropic, server.URL)

	_, err := client.SendTool(context.Background(), &ToolRequest{
		Model:     "claude-sonnet",
		MaxTokens: 64,
		Messages:  []Turn{{Role: RoleUser, Text: "record"}},
		ForceTool: ToolJobEvaluation,
	})
	if err == nil {
		t.Fatal("expected error")
	}

	// 4xx other than 429 must not be retried.
	if calls.Load() != 1 {
		t.Fatalf("expected single request, got %d", calls.Load())
	}
}

func TestClientModels(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/models" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if r.Method != http.MethodGet {
			t.Errorf("unexpected method: %s", r.Method)
		}
		w.Write([]byte(`{"data": [{"id": "m1", "display_name": "Model One"}]}`))
	}))
	defer server.Close()

	client := newTestClient(t, KindAnthropic, server.URL)

	models, err := client.Models(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(models) != 1 || models[0].Name != "Model One" {
		t.Fatalf("unexpected models: %+v", models)
	}
}

func TestNewClientValidation(t *testing.T) {
	if _, err := NewClient(KindAnthropic, Config{}, nil); err == nil {
		t.Fatal("expected error for missing api key")
	}

	if _, err := NewClient(KindGemini, Config{APIKey: "k"}, nil); err == nil {
		t.Fatal("expected error: gemini has no wire adapter")
	}
}
