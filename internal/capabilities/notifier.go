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

// InternalNotifier reports finished jobs to the control-plane API so
// billing and webhook delivery happen in one place.
type InternalNotifier struct {
	baseURL    string
	secret     string
	httpClient *http.Client
}

func NewInternalNotifier(baseURL, secret string, timeout time.Duration) *InternalNotifier {
	return &InternalNotifier{
		baseURL:    strings.TrimRight(baseURL, "/"),
		secret:     secret,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type completionPayload struct {
	JobID      string `json:"job_id"`
	TokensUsed int    `json:"tokens_used"`
}

func (n *InternalNotifier) JobComplete(ctx context.Context, jobID string, tokensUsed int) error {
	body, err := json.Marshal(completionPayload{JobID: jobID, TokensUsed: tokensUsed})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.baseURL+"/internal/jobs/complete", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating completion request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Internal-Secret", n.secret)

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("completion request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("completion callback: unexpected status %d", resp.StatusCode)
	}
	return nil
}
