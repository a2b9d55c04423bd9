package domain

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"time"

	"github.com/davidbz/heyboss/internal/observability"
)

// ErrInvalidRequest marks requests rejected before any network activity.
var ErrInvalidRequest = errors.New("invalid request")

// ErrInvalidResponse marks a gateway body that could not be parsed as JSON.
var ErrInvalidResponse = errors.New("invalid gateway response")

// Dispatch outcome labels reported in dispatch.completed events.
const (
	OutcomeSuccess        = "success"
	OutcomeInvalidRequest = "invalid_request"
	OutcomeConfigError    = "config_error"
	OutcomeTransportError = "transport_error"
	OutcomeGatewayError   = "gateway_error"
	OutcomeMediaError     = "media_error"
	OutcomeStreamError    = "stream_error"
	OutcomeError          = "error"
)

const eventStreamContentType = "text/event-stream"

// Dispatcher runs one gateway call and shapes its response for the selected mode.
type Dispatcher struct {
	gateway      Gateway
	decoder      StreamDecoder
	classifier   Classifier
	materializer Materializer
	publisher    EventPublisher
}

// NewDispatcher creates a new dispatcher (DI constructor).
func NewDispatcher(
	gateway Gateway,
	decoder StreamDecoder,
	classifier Classifier,
	materializer Materializer,
	publisher EventPublisher,
) *Dispatcher {
	return &Dispatcher{
		gateway:      gateway,
		decoder:      decoder,
		classifier:   classifier,
		materializer: materializer,
		publisher:    publisher,
	}
}

// Dispatch sends req to the gateway and returns a result for the mode req selects:
// an event stream, a saved outcome, or the inline JSON body.
func (d *Dispatcher) Dispatch(ctx context.Context, req *Request) (*Result, error) {
	ctx = observability.EnsureRequestID(ctx)
	if err := validate(req); err != nil {
		d.completed(ctx, modeOf(req), 0, err)
		return nil, err
	}

	call := *req
	if call.Inputs == nil {
		call.Inputs = map[string]any{}
	}

	mode := call.Mode()
	ctx = observability.WithModel(ctx, call.Model)
	ctx = observability.WithMode(ctx, string(mode))

	start := time.Now()
	result, err := d.dispatch(ctx, &call, mode)
	if err == nil && mode == ModeStream {
		// Reported when the stream ends so mid-stream failures are counted.
		result.Events = &trackedStream{
			EventStream: result.Events,
			onEnd: func(streamErr error) {
				d.completed(ctx, mode, time.Since(start), streamErr)
			},
		}
		return result, nil
	}
	d.completed(ctx, mode, time.Since(start), err)

	return result, err
}

// Stream dispatches req in streaming mode regardless of its Stream field.
func (d *Dispatcher) Stream(ctx context.Context, req *Request) (EventStream, error) {
	if req == nil {
		return nil, fmt.Errorf("%w: request cannot be nil", ErrInvalidRequest)
	}
	streamReq := *req
	streamReq.Stream = true

	result, err := d.Dispatch(ctx, &streamReq)
	if err != nil {
		return nil, err
	}
	return result.Events, nil
}

// Save dispatches req and persists the result to dest.
func (d *Dispatcher) Save(ctx context.Context, req *Request, dest string) (*Outcome, error) {
	if req == nil {
		return nil, fmt.Errorf("%w: request cannot be nil", ErrInvalidRequest)
	}
	if dest == "" {
		return nil, fmt.Errorf("%w: output path cannot be empty", ErrInvalidRequest)
	}
	saveReq := *req
	saveReq.Stream = false
	saveReq.OutputPath = dest

	result, err := d.Dispatch(ctx, &saveReq)
	if err != nil {
		return nil, err
	}
	return result.Outcome, nil
}

// Invoke dispatches req and returns the gateway JSON body unmodified.
func (d *Dispatcher) Invoke(ctx context.Context, req *Request) (json.RawMessage, error) {
	if req == nil {
		return nil, fmt.Errorf("%w: request cannot be nil", ErrInvalidRequest)
	}
	inlineReq := *req
	inlineReq.Stream = false
	inlineReq.OutputPath = ""

	result, err := d.Dispatch(ctx, &inlineReq)
	if err != nil {
		return nil, err
	}
	return result.JSON, nil
}

func (d *Dispatcher) dispatch(ctx context.Context, req *Request, mode Mode) (*Result, error) {
	//nolint:bodyclose // closed by the mode handlers; streams own the body
	resp, err := d.gateway.Run(ctx, req)
	if err != nil {
		return nil, err
	}

	switch mode {
	case ModeStream:
		events, streamErr := d.stream(ctx, resp)
		if streamErr != nil {
			return nil, streamErr
		}
		return &Result{Mode: mode, Events: events}, nil

	case ModeOutput:
		outcome, saveErr := d.save(ctx, resp, req.OutputPath)
		if saveErr != nil {
			return nil, saveErr
		}
		return &Result{Mode: mode, Outcome: outcome}, nil

	default:
		body, readErr := d.readJSON(resp)
		if readErr != nil {
			return nil, readErr
		}
		return &Result{Mode: mode, JSON: body}, nil
	}
}

func (d *Dispatcher) stream(ctx context.Context, resp *http.Response) (EventStream, error) {
	if mediaType(resp) == eventStreamContentType {
		return d.decoder.Decode(ctx, resp.Body), nil
	}

	// Some upstreams omit or mislabel the content type on event streams,
	// so the first significant byte decides without consuming the body.
	buffered := bufio.NewReader(resp.Body)
	body := readCloser{Reader: buffered, Closer: resp.Body}
	if !startsWithJSON(buffered) {
		return d.decoder.Decode(ctx, body), nil
	}

	raw, err := io.ReadAll(body)
	_ = body.Close()
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if !json.Valid(raw) {
		return nil, fmt.Errorf("%w: body is not valid JSON", ErrInvalidResponse)
	}

	observability.FromContext(ctx).Debug("gateway answered a streaming request with JSON",
		observability.String("content_type", resp.Header.Get("Content-Type")))

	if checkErr := d.classifier.CheckError(raw); checkErr != nil {
		return nil, checkErr
	}
	return newSingleEventStream(raw), nil
}

func (d *Dispatcher) save(ctx context.Context, resp *http.Response, dest string) (*Outcome, error) {
	contentType := resp.Header.Get("Content-Type")
	if IsBinaryContentType(contentType) {
		defer resp.Body.Close()
		return d.materializer.SaveBinary(ctx, resp.Body, contentType, dest)
	}

	body, err := d.readJSON(resp)
	if err != nil {
		return nil, err
	}

	classification, err := d.classifier.Classify(body)
	if err != nil {
		return nil, err
	}

	return d.materializer.Materialize(ctx, classification, dest)
}

// readJSON reads and closes the body, then applies the gateway error check.
func (d *Dispatcher) readJSON(resp *http.Response) (json.RawMessage, error) {
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if !json.Valid(body) {
		return nil, fmt.Errorf("%w: body is not valid JSON", ErrInvalidResponse)
	}
	if checkErr := d.classifier.CheckError(body); checkErr != nil {
		return nil, checkErr
	}
	return body, nil
}

func (d *Dispatcher) completed(ctx context.Context, mode Mode, elapsed time.Duration, err error) {
	outcome := OutcomeLabel(err)

	logger := observability.FromContext(ctx)
	if err != nil {
		logger.Info("dispatch failed",
			observability.String("outcome", outcome),
			observability.Duration("duration", elapsed),
			observability.Error(err))
	} else {
		logger.Debug("dispatch completed", observability.Duration("duration", elapsed))
	}

	if d.publisher == nil {
		return
	}
	d.publisher.Publish(ctx, EventDispatchCompleted, map[string]interface{}{
		"mode":     string(mode),
		"outcome":  outcome,
		"duration": elapsed.Seconds(),
	})
}

// OutcomeLabel maps a dispatch error to its outcome label.
func OutcomeLabel(err error) string {
	var (
		cfgErr       *ConfigurationError
		transportErr *TransportError
		gatewayErr   *GatewayError
		mediaErr     *MediaDownloadError
		streamErr    *StreamError
	)

	switch {
	case err == nil:
		return OutcomeSuccess
	case errors.Is(err, ErrInvalidRequest):
		return OutcomeInvalidRequest
	case errors.As(err, &cfgErr):
		return OutcomeConfigError
	case errors.As(err, &mediaErr):
		return OutcomeMediaError
	case errors.As(err, &transportErr):
		return OutcomeTransportError
	case errors.As(err, &gatewayErr), errors.Is(err, ErrInvalidResponse):
		return OutcomeGatewayError
	case errors.As(err, &streamErr):
		return OutcomeStreamError
	default:
		return OutcomeError
	}
}

func validate(req *Request) error {
	if req == nil {
		return fmt.Errorf("%w: request cannot be nil", ErrInvalidRequest)
	}
	if req.Model == "" {
		return fmt.Errorf("%w: model cannot be empty", ErrInvalidRequest)
	}
	return nil
}

func modeOf(req *Request) Mode {
	if req == nil {
		return ModeInline
	}
	return req.Mode()
}

func mediaType(resp *http.Response) string {
	parsed, _, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if err != nil {
		return ""
	}
	return parsed
}

// startsWithJSON peeks past leading whitespace and reports whether the body
// opens like a JSON document rather than an SSE field or comment.
func startsWithJSON(r *bufio.Reader) bool {
	for n := 1; n <= r.Size(); n++ {
		peeked, err := r.Peek(n)
		if len(peeked) < n {
			return false
		}
		switch c := peeked[n-1]; c {
		case ' ', '\t', '\r', '\n':
			if err != nil {
				return false
			}
			continue
		case '{', '[', '"', '-', 't', 'f', 'n':
			return true
		default:
			return c >= '0' && c <= '9'
		}
	}
	return false
}

type readCloser struct {
	io.Reader
	io.Closer
}

// trackedStream runs onEnd once, when the stream is exhausted or closed.
type trackedStream struct {
	EventStream
	onEnd func(error)
	ended bool
}

func (s *trackedStream) Next() bool {
	if s.EventStream.Next() {
		return true
	}
	s.end()
	return false
}

func (s *trackedStream) Close() error {
	err := s.EventStream.Close()
	s.end()
	return err
}

func (s *trackedStream) end() {
	if s.ended {
		return
	}
	s.ended = true
	var err error
	if streamErr := s.EventStream.Err(); streamErr != nil {
		err = &StreamError{Err: streamErr}
	}
	s.onEnd(err)
}

// singleEventStream yields one JSON body as a single event.
type singleEventStream struct {
	event    StreamEvent
	consumed bool
	current  bool
}

func newSingleEventStream(body []byte) *singleEventStream {
	return &singleEventStream{event: StreamEvent{Data: body}}
}

func (s *singleEventStream) Next() bool {
	if s.consumed {
		s.current = false
		return false
	}
	s.consumed = true
	s.current = true
	return true
}

func (s *singleEventStream) Event() StreamEvent {
	if !s.current {
		return StreamEvent{}
	}
	return s.event
}

func (s *singleEventStream) Err() error { return nil }

func (s *singleEventStream) Close() error {
	s.consumed = true
	return nil
}
