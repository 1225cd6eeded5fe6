// Package webhook delivers usage events to a downstream HTTP endpoint.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/toolgate-io/toolgate/internal/port/outbound"
)

// defaultTimeout bounds one delivery attempt.
const defaultTimeout = 10 * time.Second

// Sink implements outbound.UsageSink by POSTing events as JSON.
type Sink struct {
	url    string
	secret string
	client *http.Client
}

// Option configures a Sink.
type Option func(*Sink)

// WithHTTPClient overrides the HTTP client, e.g. for tests.
func WithHTTPClient(c *http.Client) Option {
	return func(s *Sink) {
		s.client = c
	}
}

// WithSecret sets a bearer token attached to every delivery.
func WithSecret(secret string) Option {
	return func(s *Sink) {
		s.secret = secret
	}
}

// NewSink creates a webhook sink targeting url.
func NewSink(url string, opts ...Option) *Sink {
	s := &Sink{
		url:    url,
		client: &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Send posts one event. An empty event ID is assigned before delivery so
// the receiver can deduplicate retries.
func (s *Sink) Send(ctx context.Context, event outbound.UsageEvent) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}

	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encoding usage event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Event-ID", event.ID)
	if s.secret != "" {
		req.Header.Set("Authorization", "Bearer "+s.secret)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("delivering usage event %s: %w", event.ID, err)
	}
	defer func() {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d for event %s", resp.StatusCode, event.ID)
	}
	return nil
}

// Compile-time interface verification.
var _ outbound.UsageSink = (*Sink)(nil)
