package domain

import (
	"context"
	"io"
	"net/http"
)

// Transport issues HTTP calls with bounded retry.
type Transport interface {
	// Send performs the call and returns once response headers arrive.
	// Non-2xx final responses and exhausted retries yield a *TransportError.
	Send(ctx context.Context, method, url string, header http.Header, body []byte) (*http.Response, error)
}

// Gateway sends the run envelope to the remote gateway.
type Gateway interface {
	// Run posts the request envelope and returns the raw response.
	Run(ctx context.Context, req *Request) (*http.Response, error)
}

// StreamDecoder turns an SSE response body into an event stream.
type StreamDecoder interface {
	// Decode wraps body; the returned stream owns and closes it.
	Decode(ctx context.Context, body io.ReadCloser) EventStream
}

// Classifier inspects JSON response bodies.
type Classifier interface {
	// Classify is pure: it performs no I/O.
	Classify(body []byte) (*Classification, error)

	// CheckError returns a *GatewayError when body carries an error marker.
	CheckError(body []byte) error
}

// Materializer persists classified results to disk.
type Materializer interface {
	// Materialize downloads media or writes JSON to dest.
	Materialize(ctx context.Context, c *Classification, dest string) (*Outcome, error)

	// SaveBinary streams a raw binary body to dest.
	SaveBinary(ctx context.Context, body io.Reader, contentType, dest string) (*Outcome, error)
}

// EventPublisher publishes events for observability.
type EventPublisher interface {
	// Publish publishes an event with the given type and data.
	Publish(ctx context.Context, eventType string, data map[string]interface{})
}

// Event types published by the dispatch pipeline.
const (
	EventDispatchCompleted = "dispatch.completed"
	EventTransportAttempt  = "transport.attempt"
	EventMediaSaved        = "media.saved"
)
