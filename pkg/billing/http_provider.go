package billing

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// HTTPStatusProvider queries the status endpoint of a deployed API
type HTTPStatusProvider struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewHTTPStatusProvider creates a provider for baseURL authenticated with a bearer token.
// A nil client gets a 10 second timeout.
func NewHTTPStatusProvider(baseURL, token string, client *http.Client) *HTTPStatusProvider {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTPStatusProvider{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  client,
	}
}

// Fetch implements StatusProvider. Non-2xx answers and malformed bodies are errors.
func (p *HTTPStatusProvider) Fetch(ctx context.Context, sessionID string) (*RawStatus, error) {
	endpoint := p.baseURL + "/api/v1/payments/status/" + url.PathEscape(sessionID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build status request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if p.token != "" {
		req.Header.Set("Authorization", "Bearer "+p.token)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("status request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("status endpoint returned %d", resp.StatusCode)
	}

	var raw RawStatus
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&raw); err != nil {
		return nil, fmt.Errorf("malformed status response: %w", err)
	}
	return &raw, nil
}
