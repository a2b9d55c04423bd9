package classify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/davidbz/heyboss/internal/domain"
	"github.com/davidbz/heyboss/internal/observability"
)

const jsonIndent = "  "

// Materializer implements domain.Materializer.
type Materializer struct {
	transport domain.Transport
	publisher domain.EventPublisher
}

// NewMaterializer creates a new materializer (DI constructor). publisher may be nil.
func NewMaterializer(transport domain.Transport, publisher domain.EventPublisher) *Materializer {
	return &Materializer{
		transport: transport,
		publisher: publisher,
	}
}

// Materialize persists a classified body to dest.
//
// Media is downloaded without credentials. Pending jobs keep the raw JSON so
// the job id survives, and anything else is written as indented JSON.
func (m *Materializer) Materialize(ctx context.Context, c *domain.Classification, dest string) (*domain.Outcome, error) {
	if c == nil {
		return nil, errors.New("classification cannot be nil")
	}
	if dest == "" {
		return nil, errors.New("destination path cannot be empty")
	}

	switch c.Kind {
	case domain.KindMedia:
		return m.download(ctx, c, dest)

	case domain.KindProcessing:
		n, err := writeFile(dest, bytes.NewReader(c.Raw))
		if err != nil {
			return nil, err
		}
		m.published(ctx, domain.KindProcessing, domain.MediaFile, n)
		return &domain.Outcome{Saved: dest, Processing: true, JobID: c.JobID}, nil

	default:
		var indented bytes.Buffer
		if err := json.Indent(&indented, c.Raw, "", jsonIndent); err != nil {
			return nil, fmt.Errorf("failed to format response: %w", err)
		}
		n, err := writeFile(dest, &indented)
		if err != nil {
			return nil, err
		}
		m.published(ctx, domain.KindJSON, domain.MediaFile, n)
		return &domain.Outcome{Saved: dest, Type: domain.MediaFile}, nil
	}
}

// SaveBinary streams a raw response body to dest.
func (m *Materializer) SaveBinary(ctx context.Context, body io.Reader, contentType, dest string) (*domain.Outcome, error) {
	if dest == "" {
		return nil, errors.New("destination path cannot be empty")
	}

	n, err := writeFile(dest, body)
	if err != nil {
		return nil, err
	}

	mediaType := domain.MediaTypeForContentType(contentType)
	m.published(ctx, domain.KindMedia, mediaType, n)

	return &domain.Outcome{Saved: dest, Type: mediaType}, nil
}

func (m *Materializer) download(ctx context.Context, c *domain.Classification, dest string) (*domain.Outcome, error) {
	logger := observability.FromContext(ctx)
	logger.Debug("downloading media",
		observability.String("url", c.URL),
		observability.String("type", string(c.MediaType)),
	)

	resp, err := m.transport.Send(ctx, http.MethodGet, c.URL, nil, nil)
	if err != nil {
		mediaErr := &domain.MediaDownloadError{URL: c.URL, Err: err}
		var transportErr *domain.TransportError
		if errors.As(err, &transportErr) {
			mediaErr.StatusCode = transportErr.StatusCode
		}
		return nil, mediaErr
	}
	defer resp.Body.Close()

	body := &trackedReader{r: resp.Body}
	n, err := writeFile(dest, body)
	if err != nil {
		if body.err != nil {
			return nil, &domain.MediaDownloadError{URL: c.URL, Err: body.err}
		}
		return nil, err
	}

	m.published(ctx, domain.KindMedia, c.MediaType, n)

	return &domain.Outcome{Saved: dest, URL: c.URL, Type: c.MediaType}, nil
}

func (m *Materializer) published(ctx context.Context, kind domain.Kind, mediaType domain.MediaType, size int64) {
	if m.publisher == nil {
		return
	}
	m.publisher.Publish(ctx, domain.EventMediaSaved, map[string]interface{}{
		"type":       string(mediaType),
		"processing": kind == domain.KindProcessing,
		"bytes":      size,
	})
}

// trackedReader remembers the first read failure so download errors can be
// told apart from local write errors.
type trackedReader struct {
	r   io.Reader
	err error
}

func (t *trackedReader) Read(p []byte) (int, error) {
	n, err := t.r.Read(p)
	if err != nil && !errors.Is(err, io.EOF) && t.err == nil {
		t.err = err
	}
	return n, err
}

// writeFile creates dest and its parent directories and copies r into it.
// Content goes to a temporary sibling first and replaces dest only once
// fully written, so a failed copy never leaves a truncated file behind.
func writeFile(dest string, r io.Reader) (int64, error) {
	dir := filepath.Dir(dest)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return 0, fmt.Errorf("failed to create output directory: %w", err)
		}
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(dest)+".*.tmp")
	if err != nil {
		return 0, fmt.Errorf("failed to create output file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		if tmpName != "" {
			_ = os.Remove(tmpName)
		}
	}()

	n, copyErr := io.Copy(tmp, r)
	if copyErr == nil {
		copyErr = tmp.Chmod(0o644)
	}
	closeErr := tmp.Close()
	if copyErr != nil {
		return n, fmt.Errorf("failed to write output file: %w", copyErr)
	}
	if closeErr != nil {
		return n, fmt.Errorf("failed to write output file: %w", closeErr)
	}

	if err := os.Rename(tmpName, dest); err != nil {
		return n, fmt.Errorf("failed to write output file: %w", err)
	}
	tmpName = ""
	return n, nil
}
