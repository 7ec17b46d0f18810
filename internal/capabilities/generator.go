package capabilities

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"inkwell/internal/engine/pipeline"
)

// LLMClient talks to an OpenAI-compatible chat completions endpoint and
// implements pipeline.ContentGenerator on top of it.
type LLMClient struct {
	baseURL    string
	model      string
	apiKey     string
	httpClient *http.Client
}

func NewLLMClient(baseURL, model, apiKey string, timeout time.Duration) *LLMClient {
	return &LLMClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		model:      model,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Usage struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
}

// chat sends one system+user exchange and returns the assistant text
// with the total tokens the provider billed for the call.
func (c *LLMClient) chat(ctx context.Context, system, user string, temperature float64) (string, int, error) {
	body, err := json.Marshal(chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		Temperature: temperature,
	})
	if err != nil {
		return "", 0, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", 0, fmt.Errorf("creating chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", 0, fmt.Errorf("chat request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", 0, fmt.Errorf("chat: unexpected status %d", resp.StatusCode)
	}

	var result chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", 0, fmt.Errorf("decoding chat response: %w", err)
	}
	if len(result.Choices) == 0 {
		return "", 0, fmt.Errorf("chat: empty choices")
	}
	return result.Choices[0].Message.Content, result.Usage.TotalTokens, nil
}

// GenerateTitles asks for count distinct article titles on a topic.
func (c *LLMClient) GenerateTitles(ctx context.Context, topic string, count int) ([]string, error) {
	system := "You are an editor planning article titles. Respond with a JSON array of strings, nothing else."
	user := fmt.Sprintf("Generate %d distinct, specific article titles about: %s", count, topic)

	text, _, err := c.chat(ctx, system, user, 0.9)
	if err != nil {
		return nil, err
	}

	var titles []string
	if err := json.Unmarshal([]byte(stripFences(text)), &titles); err != nil {
		return nil, fmt.Errorf("parsing titles: %w", err)
	}

	out := titles[:0]
	for _, t := range titles {
		t = strings.TrimSpace(t)
		if t != "" {
			out = append(out, t)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no titles in model response")
	}
	return out, nil
}

type briefPayload struct {
	Keywords []string        `json:"keywords"`
	Outline  json.RawMessage `json:"outline"`
	Strategy string          `json:"strategy"`
}

// Analyze produces a content brief from the scraped sources.
func (c *LLMClient) Analyze(ctx context.Context, req pipeline.AnalyzeRequest) (*pipeline.BriefDraft, error) {
	system := "You are a content strategist. Respond with a JSON object with keys " +
		`"keywords" (array of strings), "outline" (array of section objects) and "strategy" (string). Nothing else.`

	var b strings.Builder
	fmt.Fprintf(&b, "Topic: %s\nCategory: %s\nTarget length: %d words\n\nSources:\n",
		req.Topic, req.Category, req.TargetLength)
	for i, s := range req.Sources {
		fmt.Fprintf(&b, "--- Source %d: %s ---\n%s\n", i+1, s.Title, clip(s.FullContent, 4000))
	}

	text, _, err := c.chat(ctx, system, b.String(), 0.3)
	if err != nil {
		return nil, err
	}

	var payload briefPayload
	if err := json.Unmarshal([]byte(stripFences(text)), &payload); err != nil {
		return nil, fmt.Errorf("parsing brief: %w", err)
	}

	outline := "[]"
	if len(payload.Outline) > 0 {
		outline = string(payload.Outline)
	}
	keywords := payload.Keywords
	if keywords == nil {
		keywords = []string{}
	}
	return &pipeline.BriefDraft{
		Keywords: keywords,
		Outline:  outline,
		Strategy: payload.Strategy,
	}, nil
}

// Write produces the final article body in markdown.
func (c *LLMClient) Write(ctx context.Context, req pipeline.WriteRequest) (*pipeline.WriteResult, error) {
	system := "You are a professional writer. Write a complete article in markdown. Respond with the article only."

	var b strings.Builder
	fmt.Fprintf(&b, "Write an article about: %s\nCategory: %s\nTarget length: about %d words\n",
		req.Topic, req.Category, req.TargetLength)
	if len(req.Brief.Keywords) > 0 {
		fmt.Fprintf(&b, "Keywords to cover: %s\n", strings.Join(req.Brief.Keywords, ", "))
	}
	if req.Brief.Outline != "" && req.Brief.Outline != "[]" {
		fmt.Fprintf(&b, "Outline: %s\n", req.Brief.Outline)
	}
	if req.Brief.Strategy != "" {
		fmt.Fprintf(&b, "Strategy: %s\n", req.Brief.Strategy)
	}
	b.WriteString("\nSource material:\n")
	for i, s := range req.Sources {
		fmt.Fprintf(&b, "--- Source %d: %s ---\n%s\n", i+1, s.Title, clip(s.FullContent, 6000))
	}

	text, tokens, err := c.chat(ctx, system, b.String(), 0.7)
	if err != nil {
		return nil, err
	}
	content := strings.TrimSpace(stripFences(text))
	if content == "" {
		return nil, fmt.Errorf("empty article in model response")
	}
	return &pipeline.WriteResult{Content: content, TokensUsed: tokens}, nil
}

// stripFences removes a surrounding markdown code fence, which models
// add around JSON despite instructions.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:] // drop the language tag line
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

func clip(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
