package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HTTPStore appends rows by POSTing them as JSON to an external results
// service, one request per row.
type HTTPStore struct {
	url        string
	token      string
	httpClient *http.Client
}

// HTTPOption configures an HTTPStore.
type HTTPOption func(*HTTPStore)

// WithHTTPToken sets a bearer token sent with every request.
func WithHTTPToken(token string) HTTPOption {
	return func(s *HTTPStore) {
		s.token = token
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) HTTPOption {
	return func(s *HTTPStore) {
		s.httpClient = client
	}
}

// NewHTTP creates a store that POSTs rows to the given URL.
func NewHTTP(url string, opts ...HTTPOption) *HTTPStore {
	s := &HTTPStore{
		url: url,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Name returns the backend identifier.
func (s *HTTPStore) Name() string { return "http" }

// Append POSTs the row. Any non-2xx response is an error.
func (s *HTTPStore) Append(ctx context.Context, row Row) error {
	body, err := json.Marshal(row)
	if err != nil {
		return fmt.Errorf("marshal row: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("ledger request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("ledger error %d: %s", resp.StatusCode, detail)
	}
	return nil
}
