package domain

import (
	"fmt"
)

// ConfigurationError indicates missing or placeholder credentials.
// It is raised before any network activity and never retried.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error: %s %s", e.Field, e.Reason)
}

// TransportError indicates an HTTP call that failed after all attempts.
type TransportError struct {
	URL        string
	Attempts   int
	StatusCode int // zero when no response was received
	Err        error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("request to %s failed after %d attempt(s): %v", e.URL, e.Attempts, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// GatewayError is an application-level error reported inside a 2xx response.
type GatewayError struct {
	Code    int
	Message string
}

func (e *GatewayError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("gateway error %d", e.Code)
	}
	return fmt.Sprintf("gateway error %d: %s", e.Code, e.Message)
}

// MediaDownloadError means the gateway call worked but fetching the referenced asset did not.
type MediaDownloadError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *MediaDownloadError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("failed to download media %s: status %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("failed to download media %s: %v", e.URL, e.Err)
}

func (e *MediaDownloadError) Unwrap() error {
	return e.Err
}

// ParseError marks a malformed SSE data line. Decoders skip these.
type ParseError struct {
	Line string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("malformed event payload %q: %v", e.Line, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// StreamError is a failure raised while reading an event stream after it started.
type StreamError struct {
	Err error
}

func (e *StreamError) Error() string {
	return fmt.Sprintf("stream failed: %v", e.Err)
}

func (e *StreamError) Unwrap() error {
	return e.Err
}
