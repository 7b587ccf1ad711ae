package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// TokenSource fetches short-lived push credentials from the internal auth service.
type TokenSource struct {
	url    string
	client *http.Client
}

// NewTokenSource creates a TokenSource for url. A nil client means http.DefaultClient.
func NewTokenSource(url string, client *http.Client) *TokenSource {
	if client == nil {
		client = http.DefaultClient
	}

	return &TokenSource{url: url, client: client}
}

// Token returns a fresh bearer credential. It is never cached.
func (s *TokenSource) Token(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return "", fmt.Errorf("build token request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch push credential: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return "", fmt.Errorf("fetch push credential: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var out struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode push credential: %w", err)
	}
	if out.Token == "" {
		return "", fmt.Errorf("fetch push credential: empty token")
	}

	return out.Token, nil
}
