package capabilities

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"inkwell/internal/engine/pipeline"
)

func TestStripFences(t *testing.T) {
	tests := []struct {
		name, in, want string
	}{
		{"plain", `["a","b"]`, `["a","b"]`},
		{"fenced", "```\n[\"a\"]\n```", `["a"]`},
		{"fenced with language", "```json\n{\"k\":1}\n```", `{"k":1}`},
		{"surrounding whitespace", "  \n```json\n[1]\n```\n  ", `[1]`},
		{"no closing fence", "```json\n[1,2]", `[1,2]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := stripFences(tt.in); got != tt.want {
				t.Errorf("stripFences(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func chatServer(t *testing.T, content string, tokens int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("bad request body: %v", err)
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"choices": []map[string]interface{}{
				{"message": map[string]string{"role": "assistant", "content": content}},
			},
			"usage": map[string]int{"total_tokens": tokens},
		})
	}))
}

func TestGenerateTitlesParsesFencedJSON(t *testing.T) {
	server := chatServer(t, "```json\n[\"Title One\", \" Title Two \", \"\"]\n```", 120)
	defer server.Close()

	c := NewLLMClient(server.URL, "test-model", "key", 5*time.Second)
	titles, err := c.GenerateTitles(context.Background(), "golang", 3)
	if err != nil {
		t.Fatalf("GenerateTitles: %v", err)
	}
	// Blank entries dropped, whitespace trimmed.
	if len(titles) != 2 || titles[0] != "Title One" || titles[1] != "Title Two" {
		t.Errorf("titles = %v", titles)
	}
}

func TestAnalyzeDefaultsMissingFields(t *testing.T) {
	server := chatServer(t, `{"strategy":"listicle"}`, 80)
	defer server.Close()

	c := NewLLMClient(server.URL, "test-model", "", 5*time.Second)
	brief, err := c.Analyze(context.Background(), pipeline.AnalyzeRequest{Topic: "golang"})
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if brief.Outline != "[]" {
		t.Errorf("outline = %q, want empty array", brief.Outline)
	}
	if brief.Keywords == nil || len(brief.Keywords) != 0 {
		t.Errorf("keywords = %v, want empty non-nil slice", brief.Keywords)
	}
	if brief.Strategy != "listicle" {
		t.Errorf("strategy = %q", brief.Strategy)
	}
}

func TestWriteReturnsTokenUsage(t *testing.T) {
	server := chatServer(t, "# Article\n\nBody text.", 2750)
	defer server.Close()

	c := NewLLMClient(server.URL, "test-model", "", 5*time.Second)
	result, err := c.Write(context.Background(), pipeline.WriteRequest{Topic: "golang", TargetLength: 1500})
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if result.Content != "# Article\n\nBody text." {
		t.Errorf("content = %q", result.Content)
	}
	if result.TokensUsed != 2750 {
		t.Errorf("tokens = %d, want 2750", result.TokensUsed)
	}
}

func TestChatNon200IsError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	c := NewLLMClient(server.URL, "test-model", "", 5*time.Second)
	if _, err := c.GenerateTitles(context.Background(), "golang", 3); err == nil {
		t.Error("expected error on 429 response")
	}
}
