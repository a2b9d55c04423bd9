// Package gateway sends run envelopes to the remote multi-provider gateway.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/davidbz/heyboss/internal/domain"
	"github.com/davidbz/heyboss/internal/observability"
)

const runPath = "/run"

// Client implements domain.Gateway on top of a resilient transport.
type Client struct {
	config    Config
	transport domain.Transport
}

// NewClient creates a new gateway client (DI constructor).
// Credentials are checked on every Run, not here.
func NewClient(config *Config, transport domain.Transport) *Client {
	cfg := Config{}
	if config != nil {
		cfg = *config
	}
	return &Client{
		config:    cfg,
		transport: transport,
	}
}

// Run posts the request envelope to the run endpoint and returns the raw response.
func (c *Client) Run(ctx context.Context, req *domain.Request) (*http.Response, error) {
	if err := c.config.Validate(); err != nil {
		return nil, err
	}
	if req == nil {
		return nil, errors.New("request cannot be nil")
	}

	inputs := req.Inputs
	if inputs == nil {
		inputs = map[string]any{}
	}

	body, err := json.Marshal(domain.Envelope{
		Model:        req.Model,
		Inputs:       inputs,
		Stream:       req.Stream,
		AutoFallback: req.Fallback(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	header := http.Header{}
	header.Set("Content-Type", "application/json")
	header.Set("Authorization", "Bearer "+strings.TrimSpace(c.config.APIKey))
	if req.Stream {
		header.Set("Accept", "text/event-stream")
	}

	url := c.RunURL()
	observability.FromContext(ctx).Debug("sending run request",
		observability.String("url", url),
		observability.Bool("stream", req.Stream),
		observability.Bool("auto_fallback", req.Fallback()),
	)

	return c.transport.Send(ctx, http.MethodPost, url, header, body)
}

// RunURL returns the run endpoint derived from the configured base URL.
func (c *Client) RunURL() string {
	return strings.TrimRight(strings.TrimSpace(c.config.BaseURL), "/") + runPath
}
