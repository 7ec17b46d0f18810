package capabilities

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"inkwell/internal/engine/pipeline"
)

// SearchClient queries an external search service for candidate sources.
// Each client instance carries its own rate limiter, so two workers with
// separate clients never contend on a shared token bucket.
type SearchClient struct {
	baseURL    string
	httpClient *http.Client

	mu          sync.Mutex
	minInterval time.Duration
	lastCall    time.Time
}

// NewSearchClient builds a client limited to ratePerMinute requests.
func NewSearchClient(baseURL string, ratePerMinute int, timeout time.Duration) *SearchClient {
	if ratePerMinute <= 0 {
		ratePerMinute = 60
	}
	return &SearchClient{
		baseURL:     strings.TrimRight(baseURL, "/"),
		httpClient:  &http.Client{Timeout: timeout},
		minInterval: time.Minute / time.Duration(ratePerMinute),
	}
}

type searchResponse struct {
	Results []struct {
		URL     string `json:"url"`
		Title   string `json:"title"`
		Snippet string `json:"snippet"`
		Source  string `json:"source"`
	} `json:"results"`
}

func (c *SearchClient) Search(ctx context.Context, topic string, limit int) ([]pipeline.SourceResult, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}

	q := url.Values{}
	q.Set("q", topic)
	q.Set("limit", strconv.Itoa(limit))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/search?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("creating search request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("search: unexpected status %d", resp.StatusCode)
	}

	var body searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decoding search response: %w", err)
	}

	results := make([]pipeline.SourceResult, 0, len(body.Results))
	for _, r := range body.Results {
		if r.URL == "" {
			continue
		}
		results = append(results, pipeline.SourceResult{
			URL:     r.URL,
			Title:   r.Title,
			Snippet: r.Snippet,
			Origin:  r.Source,
		})
	}
	return results, nil
}

// wait blocks until the next request slot opens or the context ends.
func (c *SearchClient) wait(ctx context.Context) error {
	c.mu.Lock()
	now := time.Now()
	next := c.lastCall.Add(c.minInterval)
	if next.Before(now) {
		next = now
	}
	c.lastCall = next
	c.mu.Unlock()

	delay := time.Until(next)
	if delay <= 0 {
		return nil
	}
	select {
	case <-time.After(delay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
