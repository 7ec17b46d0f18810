package capabilities

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// ExtractClient fetches the readable text of a page through an external
// extraction service.
type ExtractClient struct {
	baseURL    string
	httpClient *http.Client
}

func NewExtractClient(baseURL string, timeout time.Duration) *ExtractClient {
	return &ExtractClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

type extractRequest struct {
	URL string `json:"url"`
}

type extractResponse struct {
	Content string `json:"content"`
}

func (c *ExtractClient) Fetch(ctx context.Context, target string) (string, error) {
	body, err := json.Marshal(extractRequest{URL: target})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/extract", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("creating extract request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("extract request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("extract %s: unexpected status %d", target, resp.StatusCode)
	}

	var result extractResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decoding extract response: %w", err)
	}
	return result.Content, nil
}
