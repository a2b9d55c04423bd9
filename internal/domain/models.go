package domain

import (
	"encoding/json"
	"io"
	"strings"
)

// Mode is the response mode selected for a dispatch call.
type Mode string

const (
	// ModeStream yields decoded server-sent events.
	ModeStream Mode = "stream"
	// ModeOutput writes the result to a file.
	ModeOutput Mode = "output"
	// ModeInline returns the JSON body unmodified.
	ModeInline Mode = "inline"
)

// Request represents a unified gateway call.
type Request struct {
	Model        string         `json:"model"`
	Inputs       map[string]any `json:"inputs"`
	Stream       bool           `json:"stream,omitempty"`
	OutputPath   string         `json:"output,omitempty"`
	AutoFallback *bool          `json:"auto_fallback,omitempty"` // nil means true
}

// Mode returns the response mode implied by the request fields.
func (r *Request) Mode() Mode {
	switch {
	case r.Stream:
		return ModeStream
	case r.OutputPath != "":
		return ModeOutput
	default:
		return ModeInline
	}
}

// Fallback reports whether the gateway may fall back to another provider.
func (r *Request) Fallback() bool {
	if r.AutoFallback == nil {
		return true
	}
	return *r.AutoFallback
}

// Envelope is the wire body sent to the gateway run endpoint.
type Envelope struct {
	Model        string         `json:"model"`
	Inputs       map[string]any `json:"inputs"`
	Stream       bool           `json:"stream"`
	AutoFallback bool           `json:"auto_fallback"`
}

// StreamEvent represents one decoded JSON value from an SSE data line.
type StreamEvent struct {
	Data json.RawMessage `json:"data"`
}

// Decode unmarshals the event payload into v.
func (e StreamEvent) Decode(v any) error {
	return json.Unmarshal(e.Data, v)
}

// MediaType labels what kind of payload was persisted.
type MediaType string

const (
	MediaImage MediaType = "image"
	MediaAudio MediaType = "audio"
	MediaVideo MediaType = "video"
	MediaFile  MediaType = "file"
)

// MediaTypeForContentType maps a binary content type to the persisted media type.
func MediaTypeForContentType(contentType string) MediaType {
	ct := strings.ToLower(strings.TrimSpace(contentType))
	switch {
	case strings.HasPrefix(ct, "audio/"):
		return MediaAudio
	case strings.HasPrefix(ct, "image/"):
		return MediaImage
	case strings.HasPrefix(ct, "video/"):
		return MediaVideo
	default:
		return MediaFile
	}
}

// IsBinaryContentType reports whether a response bypasses JSON classification.
func IsBinaryContentType(contentType string) bool {
	ct := strings.ToLower(strings.TrimSpace(contentType))
	return strings.HasPrefix(ct, "application/octet-stream") || MediaTypeForContentType(ct) != MediaFile
}

// Kind tags the variant of a Classification.
type Kind int

const (
	// KindJSON means no media or pending job was recognised.
	KindJSON Kind = iota
	// KindMedia means a media URL was extracted.
	KindMedia
	// KindProcessing means the gateway reported an async job still running.
	KindProcessing
)

// Classification is the result of inspecting a JSON response body.
type Classification struct {
	Kind      Kind
	URL       string
	MediaType MediaType
	JobID     string
	Raw       []byte
}

// Outcome describes what a file-output call persisted.
type Outcome struct {
	Saved      string    `json:"saved"`
	URL        string    `json:"url,omitempty"`
	Type       MediaType `json:"type,omitempty"`
	Processing bool      `json:"processing,omitempty"`
	JobID      string    `json:"jobId,omitempty"`
}

// Result holds the product of a dispatch; exactly one field is set.
type Result struct {
	Mode    Mode
	Events  EventStream
	Outcome *Outcome
	JSON    json.RawMessage
}

// EventStream is a lazy, single-pass sequence of stream events.
//
// Next advances to the next event and reports whether one is available.
// Once Next returns false the stream is exhausted; Err reports a terminal
// failure, or nil for a normal end ([DONE] or end of body).
type EventStream interface {
	Next() bool
	Event() StreamEvent
	Err() error
	io.Closer
}
