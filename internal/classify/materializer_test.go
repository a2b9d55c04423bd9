package classify_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"testing/iotest"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/davidbz/heyboss/internal/classify"
	"github.com/davidbz/heyboss/internal/domain"
	"github.com/davidbz/heyboss/internal/mocks"
	"github.com/davidbz/heyboss/internal/transport"
)

func newTransport() *transport.Client {
	return transport.NewClient(&transport.Config{
		MaxAttempts:    2,
		BaseDelay:      time.Millisecond,
		MaxDelay:       2 * time.Millisecond,
		RequestTimeout: 5 * time.Second,
	}, nil)
}

func TestMaterializer_Materialize(t *testing.T) {
	ctx := context.Background()

	t.Run("should download media without credentials", func(t *testing.T) {
		var authHeader string
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader = r.Header.Get("Authorization")
			require.Equal(t, http.MethodGet, r.Method)
			w.Header().Set("Content-Type", "image/png")
			_, _ = w.Write([]byte("PNGDATA"))
		}))
		defer srv.Close()

		dest := filepath.Join(t.TempDir(), "nested", "dir", "out.png")
		m := classify.NewMaterializer(newTransport(), nil)

		outcome, err := m.Materialize(ctx, &domain.Classification{
			Kind:      domain.KindMedia,
			URL:       srv.URL + "/a.png",
			MediaType: domain.MediaImage,
		}, dest)

		require.NoError(t, err)
		require.Equal(t, &domain.Outcome{Saved: dest, URL: srv.URL + "/a.png", Type: domain.MediaImage}, outcome)
		require.Empty(t, authHeader)

		content, err := os.ReadFile(dest)
		require.NoError(t, err)
		require.Equal(t, "PNGDATA", string(content))
	})

	t.Run("should report a failed download with its status", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		}))
		defer srv.Close()

		dest := filepath.Join(t.TempDir(), "missing.png")
		m := classify.NewMaterializer(newTransport(), nil)

		outcome, err := m.Materialize(ctx, &domain.Classification{
			Kind:      domain.KindMedia,
			URL:       srv.URL + "/gone.png",
			MediaType: domain.MediaImage,
		}, dest)

		require.Nil(t, outcome)
		var mediaErr *domain.MediaDownloadError
		require.True(t, errors.As(err, &mediaErr))
		require.Equal(t, http.StatusNotFound, mediaErr.StatusCode)
		require.Equal(t, srv.URL+"/gone.png", mediaErr.URL)
		require.NoFileExists(t, dest)
	})

	t.Run("should write unrecognised JSON indented with key order preserved", func(t *testing.T) {
		dest := filepath.Join(t.TempDir(), "result.json")
		raw := []byte(`{"zeta":1,"alpha":{"b":[1,2],"a":"x"}}`)
		m := classify.NewMaterializer(mocks.NewMockTransport(t), nil)

		outcome, err := m.Materialize(ctx, &domain.Classification{Kind: domain.KindJSON, Raw: raw}, dest)

		require.NoError(t, err)
		require.Equal(t, &domain.Outcome{Saved: dest, Type: domain.MediaFile}, outcome)

		content, err := os.ReadFile(dest)
		require.NoError(t, err)
		expected := "{\n  \"zeta\": 1,\n  \"alpha\": {\n    \"b\": [\n      1,\n      2\n    ],\n    \"a\": \"x\"\n  }\n}"
		require.Equal(t, expected, string(content))
	})

	t.Run("should save a pending job without downloading", func(t *testing.T) {
		dest := filepath.Join(t.TempDir(), "job.json")
		raw := []byte(`{"task_id":"j1","status":"queued","video_url":"https://x/v.mp4"}`)
		mockTransport := mocks.NewMockTransport(t)
		m := classify.NewMaterializer(mockTransport, nil)

		outcome, err := m.Materialize(ctx, &domain.Classification{Kind: domain.KindProcessing, JobID: "j1", Raw: raw}, dest)

		require.NoError(t, err)
		require.Equal(t, &domain.Outcome{Saved: dest, Processing: true, JobID: "j1"}, outcome)
		mockTransport.AssertNotCalled(t, "Send", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)

		content, err := os.ReadFile(dest)
		require.NoError(t, err)
		require.Equal(t, raw, content)
	})

	t.Run("should overwrite an existing file", func(t *testing.T) {
		dest := filepath.Join(t.TempDir(), "result.json")
		require.NoError(t, os.WriteFile(dest, []byte(strings.Repeat("x", 100)), 0o600))
		m := classify.NewMaterializer(mocks.NewMockTransport(t), nil)

		_, err := m.Materialize(ctx, &domain.Classification{Kind: domain.KindJSON, Raw: []byte(`{}`)}, dest)

		require.NoError(t, err)
		content, err := os.ReadFile(dest)
		require.NoError(t, err)
		require.Equal(t, "{}", string(content))
	})

	t.Run("should publish a media saved event", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte("ID3"))
		}))
		defer srv.Close()

		publisher := mocks.NewMockEventPublisher(t)
		publisher.EXPECT().
			Publish(mock.Anything, domain.EventMediaSaved, mock.MatchedBy(func(data map[string]interface{}) bool {
				return data["type"] == "audio" && data["bytes"] == int64(3)
			})).
			Return().
			Once()

		m := classify.NewMaterializer(newTransport(), publisher)
		_, err := m.Materialize(ctx, &domain.Classification{
			Kind:      domain.KindMedia,
			URL:       srv.URL,
			MediaType: domain.MediaAudio,
		}, filepath.Join(t.TempDir(), "a.mp3"))

		require.NoError(t, err)
	})

	t.Run("should reject an empty destination", func(t *testing.T) {
		m := classify.NewMaterializer(mocks.NewMockTransport(t), nil)

		_, err := m.Materialize(ctx, &domain.Classification{Kind: domain.KindJSON, Raw: []byte(`{}`)}, "")

		require.Error(t, err)
	})
}

func TestMaterializer_SaveBinary(t *testing.T) {
	t.Run("should stream the body and derive the type from the content type", func(t *testing.T) {
		dest := filepath.Join(t.TempDir(), "speech.mp3")
		m := classify.NewMaterializer(mocks.NewMockTransport(t), nil)

		outcome, err := m.SaveBinary(context.Background(), bytes.NewReader([]byte{0xff, 0xfb, 0x90}), "audio/mpeg", dest)

		require.NoError(t, err)
		require.Equal(t, &domain.Outcome{Saved: dest, Type: domain.MediaAudio}, outcome)

		content, err := os.ReadFile(dest)
		require.NoError(t, err)
		require.Equal(t, []byte{0xff, 0xfb, 0x90}, content)
	})

	t.Run("should label octet streams as files", func(t *testing.T) {
		dest := filepath.Join(t.TempDir(), "blob.bin")
		m := classify.NewMaterializer(mocks.NewMockTransport(t), nil)

		outcome, err := m.SaveBinary(context.Background(), strings.NewReader("raw"), "application/octet-stream", dest)

		require.NoError(t, err)
		require.Equal(t, domain.MediaFile, outcome.Type)
	})
}

func TestMaterializer_FailedDownload(t *testing.T) {
	t.Run("should not leave a partial file when the body breaks", func(t *testing.T) {
		dest := filepath.Join(t.TempDir(), "clip.mp4")
		mockTransport := mocks.NewMockTransport(t)
		mockTransport.EXPECT().
			Send(mock.Anything, http.MethodGet, "https://cdn.example/clip.mp4", mock.Anything, mock.Anything).
			Return(&http.Response{
				StatusCode: http.StatusOK,
				Body: io.NopCloser(io.MultiReader(
					strings.NewReader("partial-bytes"),
					iotest.ErrReader(errors.New("connection reset")),
				)),
			}, nil).
			Once()

		m := classify.NewMaterializer(mockTransport, nil)
		outcome, err := m.Materialize(context.Background(), &domain.Classification{
			Kind:      domain.KindMedia,
			URL:       "https://cdn.example/clip.mp4",
			MediaType: domain.MediaVideo,
		}, dest)

		require.Nil(t, outcome)
		var mediaErr *domain.MediaDownloadError
		require.True(t, errors.As(err, &mediaErr))
		require.ErrorContains(t, err, "connection reset")
		require.NoFileExists(t, dest)

		entries, readErr := os.ReadDir(filepath.Dir(dest))
		require.NoError(t, readErr)
		require.Empty(t, entries)
	})

	t.Run("should keep the previous file when a replacement fails", func(t *testing.T) {
		dest := filepath.Join(t.TempDir(), "speech.mp3")
		require.NoError(t, os.WriteFile(dest, []byte("previous"), 0o600))
		m := classify.NewMaterializer(mocks.NewMockTransport(t), nil)

		_, err := m.SaveBinary(context.Background(), iotest.ErrReader(errors.New("closed")), "audio/mpeg", dest)

		require.Error(t, err)
		content, readErr := os.ReadFile(dest)
		require.NoError(t, readErr)
		require.Equal(t, "previous", string(content))
	})
}
