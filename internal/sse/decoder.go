// Package sse decodes server-sent event bodies into a pull-based stream of JSON events.
//
// Only "data:" lines are considered. A "[DONE]" payload ends the stream at once,
// payloads that are not valid JSON are skipped, and end of body is a normal end.
package sse

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/davidbz/heyboss/internal/domain"
	"github.com/davidbz/heyboss/internal/observability"
)

const (
	dataPrefix   = "data:"
	doneSentinel = "[DONE]"

	readChunkSize = 32 * 1024

	// maxLineSize bounds the reassembly buffer for a single line.
	maxLineSize = 8 * 1024 * 1024
)

// ErrLineTooLong is reported by Err when a single line exceeds the buffer limit.
var ErrLineTooLong = errors.New("sse: line exceeds maximum size")

// Decoder implements domain.StreamDecoder.
type Decoder struct{}

// NewDecoder creates a new SSE decoder.
func NewDecoder() *Decoder {
	return &Decoder{}
}

// Decode wraps body in a Stream.
func (d *Decoder) Decode(ctx context.Context, body io.ReadCloser) domain.EventStream {
	return NewStream(ctx, body)
}

// Stream is a single-pass iterator over the events of one response body.
// It is not safe for concurrent use.
type Stream struct {
	body   io.ReadCloser
	logger *zap.Logger

	buf   []byte // bytes read but not yet consumed as lines
	start int    // offset of the first unconsumed byte in buf
	chunk []byte

	event   domain.StreamEvent
	err     error
	readErr error
	eof     bool
	done    bool
	closed  bool
	skipped int
}

// NewStream creates a stream reading from body. The stream closes body when it ends.
func NewStream(ctx context.Context, body io.ReadCloser) *Stream {
	return &Stream{
		body:   body,
		logger: observability.FromContext(ctx),
		chunk:  make([]byte, readChunkSize),
	}
}

// Next advances to the next event. It returns false once the stream has ended.
func (s *Stream) Next() bool {
	if s.done {
		return false
	}

	for {
		line, ok := s.nextLine()
		if !ok {
			s.finish()
			return false
		}

		payload, isData := dataPayload(line)
		if !isData {
			continue
		}

		if string(bytes.TrimSpace(payload)) == doneSentinel {
			s.finish()
			return false
		}

		if !json.Valid(payload) {
			s.skip(line)
			continue
		}

		data := make([]byte, len(payload))
		copy(data, payload)
		s.event = domain.StreamEvent{Data: data}
		return true
	}
}

// Event returns the event produced by the last successful call to Next.
func (s *Stream) Event() domain.StreamEvent {
	return s.event
}

// Err returns the terminal error, or nil if the stream ended normally.
func (s *Stream) Err() error {
	return s.err
}

// Skipped returns how many data lines were dropped as malformed.
func (s *Stream) Skipped() int {
	return s.skipped
}

// Close releases the underlying body. It is safe to call more than once.
func (s *Stream) Close() error {
	s.done = true
	if s.closed {
		return nil
	}
	s.closed = true
	return s.body.Close()
}

func (s *Stream) finish() {
	_ = s.Close()
}

func (s *Stream) skip(line []byte) {
	s.skipped++
	if ce := s.logger.Check(zap.DebugLevel, "skipping malformed stream line"); ce != nil {
		parseErr := &domain.ParseError{Line: string(line), Err: errors.New("invalid JSON")}
		ce.Write(observability.Error(parseErr))
	}
}

// nextLine returns the next complete line, reading more input as needed.
// A trailing line without a newline is returned once the body is exhausted.
func (s *Stream) nextLine() ([]byte, bool) {
	for {
		if i := bytes.IndexByte(s.buf[s.start:], '\n'); i >= 0 {
			line := s.buf[s.start : s.start+i]
			s.start += i + 1
			return trimCR(line), true
		}

		if s.eof {
			if s.readErr != nil {
				// A partial line cut off by a read failure is not trustworthy.
				s.err = s.readErr
				return nil, false
			}
			if s.start < len(s.buf) {
				line := s.buf[s.start:]
				s.start = len(s.buf)
				return trimCR(line), true
			}
			return nil, false
		}

		if s.start > 0 {
			n := copy(s.buf, s.buf[s.start:])
			s.buf = s.buf[:n]
			s.start = 0
		}

		if len(s.buf) > maxLineSize {
			s.err = ErrLineTooLong
			return nil, false
		}

		n, err := s.body.Read(s.chunk)
		s.buf = append(s.buf, s.chunk[:n]...)
		if err != nil {
			s.eof = true
			if !errors.Is(err, io.EOF) {
				s.readErr = fmt.Errorf("failed to read stream: %w", err)
			}
		}
	}
}

// dataPayload strips the data prefix and a single following space.
func dataPayload(line []byte) ([]byte, bool) {
	if !bytes.HasPrefix(line, []byte(dataPrefix)) {
		return nil, false
	}
	payload := line[len(dataPrefix):]
	if len(payload) > 0 && payload[0] == ' ' {
		payload = payload[1:]
	}
	return payload, true
}

func trimCR(line []byte) []byte {
	return bytes.TrimSuffix(line, []byte("\r"))
}
