package pipeline

import "context"

// SourceResult is one research candidate before scraping.
type SourceResult struct {
	URL     string
	Title   string
	Snippet string
	Origin  string
}

// SourceResearcher finds candidate sources for a topic. Implementations
// own their own rate limiting.
type SourceResearcher interface {
	Search(ctx context.Context, topic string, limit int) ([]SourceResult, error)
}

// SourceFetcher extracts the full text of a URL.
type SourceFetcher interface {
	Fetch(ctx context.Context, url string) (string, error)
}

// BriefDraft is the analyze stage's output before persistence.
type BriefDraft struct {
	Keywords []string
	Outline  string // JSON document
	Strategy string
}

// AnalyzeRequest carries everything the generator needs to build a
// brief.
type AnalyzeRequest struct {
	Topic        string
	Category     string
	TargetLength int
	Sources      []ScrapedSource
}

type ScrapedSource struct {
	URL         string
	Title       string
	FullContent string
	Origin      string
}

// WriteRequest carries the brief and sources into the write stage.
type WriteRequest struct {
	Topic        string
	Category     string
	TargetLength int
	Brief        BriefDraft
	Sources      []ScrapedSource
}

type WriteResult struct {
	Content    string
	TokensUsed int
}

// ContentGenerator is the opaque text-generation capability.
type ContentGenerator interface {
	GenerateTitles(ctx context.Context, topic string, count int) ([]string, error)
	Analyze(ctx context.Context, req AnalyzeRequest) (*BriefDraft, error)
	Write(ctx context.Context, req WriteRequest) (*WriteResult, error)
}

// CompletionNotifier reports a finished job back to the control plane.
type CompletionNotifier interface {
	JobComplete(ctx context.Context, jobID string, tokensUsed int) error
}
