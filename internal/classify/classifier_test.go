package classify_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/davidbz/heyboss/internal/classify"
	"github.com/davidbz/heyboss/internal/domain"
)

func TestClassifier_Classify(t *testing.T) {
	classifier := classify.NewClassifier()

	mediaCases := []struct {
		name      string
		body      string
		url       string
		mediaType domain.MediaType
	}{
		{"bare string array", `["https://x/a.png","https://x/b.png"]`, "https://x/a.png", domain.MediaImage},
		{"data item urls", `{"data":[{"url":"https://x/d.png"}]}`, "https://x/d.png", domain.MediaImage},
		{"output item urls", `{"output":[{"url":"https://x/o.png"}]}`, "https://x/o.png", domain.MediaImage},
		{"images list of strings", `{"images":["https://x/i.jpg"]}`, "https://x/i.jpg", domain.MediaImage},
		{"images list of objects", `{"images":[{"url":"https://x/io.jpg"}]}`, "https://x/io.jpg", domain.MediaImage},
		{"image_urls list", `{"image_urls":["https://x/u.webp"]}`, "https://x/u.webp", domain.MediaImage},
		{"generated_images list", `{"generated_images":[{"url":"https://x/g.png"}]}`, "https://x/g.png", domain.MediaImage},
		{"direct image_url", `{"image_url":"https://x/direct.png"}`, "https://x/direct.png", domain.MediaImage},
		{"direct audio_url", `{"audio_url":"https://x/a.mp3"}`, "https://x/a.mp3", domain.MediaAudio},
		{"direct video_url", `{"video_url":"https://x/v.mp4"}`, "https://x/v.mp4", domain.MediaVideo},
		{"generic output string", `{"output":"https://x/out.mp4"}`, "https://x/out.mp4", domain.MediaVideo},
		{"video object", `{"video":{"url":"https://x/vo.mp4"}}`, "https://x/vo.mp4", domain.MediaVideo},
		{"generated samples", `{"generatedSamples":[{"video":{"uri":"https://x/s.mp4"}}]}`, "https://x/s.mp4", domain.MediaVideo},
		{
			"nested generated samples",
			`{"response":{"generateVideoResponse":{"generatedSamples":[{"video":{"uri":"https://x/n.mp4"}}]}}}`,
			"https://x/n.mp4", domain.MediaVideo,
		},
		{"videos list", `{"videos":["https://x/l.mp4"]}`, "https://x/l.mp4", domain.MediaVideo},
		{"video_urls list", `{"video_urls":[{"url":"https://x/lu.mp4"}]}`, "https://x/lu.mp4", domain.MediaVideo},
	}

	for _, tc := range mediaCases {
		t.Run("should classify "+tc.name+" as media", func(t *testing.T) {
			c, err := classifier.Classify([]byte(tc.body))

			require.NoError(t, err)
			require.Equal(t, domain.KindMedia, c.Kind)
			require.Equal(t, tc.url, c.URL)
			require.Equal(t, tc.mediaType, c.MediaType)
		})
	}

	t.Run("should prefer earlier URL rules over later ones", func(t *testing.T) {
		body := `{"audio_url":"https://x/a.mp3","image_url":"https://x/i.png","data":[{"url":"https://x/d.png"}]}`

		c, err := classifier.Classify([]byte(body))

		require.NoError(t, err)
		require.Equal(t, "https://x/d.png", c.URL)
		require.Equal(t, domain.MediaImage, c.MediaType)
	})

	t.Run("should prefer a direct audio url over video fields", func(t *testing.T) {
		c, err := classifier.Classify([]byte(`{"video_url":"https://x/v.mp4","audio_url":"https://x/a.wav"}`))

		require.NoError(t, err)
		require.Equal(t, domain.MediaAudio, c.MediaType)
		require.Equal(t, "https://x/a.wav", c.URL)
	})

	t.Run("should report a pending job before probing urls", func(t *testing.T) {
		body := `{"task_id":"job-42","status":"processing","video_url":"https://x/partial.mp4"}`

		c, err := classifier.Classify([]byte(body))

		require.NoError(t, err)
		require.Equal(t, domain.KindProcessing, c.Kind)
		require.Equal(t, "job-42", c.JobID)
		require.Empty(t, c.URL)
	})

	t.Run("should recognise pending jobs nested under data", func(t *testing.T) {
		c, err := classifier.Classify([]byte(`{"data":{"id":"abc","state":"QUEUED"}}`))

		require.NoError(t, err)
		require.Equal(t, domain.KindProcessing, c.Kind)
		require.Equal(t, "abc", c.JobID)
	})

	t.Run("should treat a non-zero numeric status with a job id as pending", func(t *testing.T) {
		c, err := classifier.Classify([]byte(`{"request_id":"r1","status":1}`))

		require.NoError(t, err)
		require.Equal(t, domain.KindProcessing, c.Kind)
	})

	t.Run("should not treat a completed job as pending", func(t *testing.T) {
		c, err := classifier.Classify([]byte(`{"task_id":"t1","status":"succeeded","video_url":"https://x/done.mp4"}`))

		require.NoError(t, err)
		require.Equal(t, domain.KindMedia, c.Kind)
		require.Equal(t, "https://x/done.mp4", c.URL)
	})

	t.Run("should raise a gateway error before anything else", func(t *testing.T) {
		body := `{"code":404,"message":"model not found","task_id":"t","status":"pending","image_url":"https://x/i.png"}`

		c, err := classifier.Classify([]byte(body))

		require.Nil(t, c)
		var gwErr *domain.GatewayError
		require.True(t, errors.As(err, &gwErr))
		require.Equal(t, 404, gwErr.Code)
		require.Equal(t, "model not found", gwErr.Message)
	})

	t.Run("should ignore codes below 400", func(t *testing.T) {
		c, err := classifier.Classify([]byte(`{"code":200,"image_url":"https://x/i.png"}`))

		require.NoError(t, err)
		require.Equal(t, domain.KindMedia, c.Kind)
	})

	t.Run("should fall back to plain JSON when nothing matches", func(t *testing.T) {
		body := []byte(`{"text":"hello","urls":"not-a-list"}`)

		c, err := classifier.Classify(body)

		require.NoError(t, err)
		require.Equal(t, domain.KindJSON, c.Kind)
		require.Equal(t, domain.MediaFile, c.MediaType)
		require.Equal(t, body, c.Raw)
	})

	t.Run("should ignore relative urls", func(t *testing.T) {
		c, err := classifier.Classify([]byte(`{"image_url":"/local/path.png"}`))

		require.NoError(t, err)
		require.Equal(t, domain.KindJSON, c.Kind)
	})

	t.Run("should reject invalid JSON", func(t *testing.T) {
		_, err := classifier.Classify([]byte(`{"broken`))

		require.ErrorIs(t, err, classify.ErrInvalidJSON)
	})
}

func TestCheckGatewayError(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		code    int
		message string
	}{
		{"message field", `{"code":500,"message":"boom"}`, 500, "boom"},
		{"msg field", `{"code":401,"msg":"bad key"}`, 401, "bad key"},
		{"nested error message", `{"code":429,"error":{"message":"slow down"}}`, 429, "slow down"},
		{"error string", `{"code":400,"error":"invalid inputs"}`, 400, "invalid inputs"},
		{"no message", `{"code":503}`, 503, ""},
	}

	for _, tc := range tests {
		t.Run("should extract "+tc.name, func(t *testing.T) {
			err := classify.CheckGatewayError([]byte(tc.body))

			var gwErr *domain.GatewayError
			require.True(t, errors.As(err, &gwErr))
			require.Equal(t, tc.code, gwErr.Code)
			require.Equal(t, tc.message, gwErr.Message)
		})
	}

	t.Run("should pass bodies without an error code", func(t *testing.T) {
		require.NoError(t, classify.CheckGatewayError([]byte(`{"ok":true}`)))
		require.NoError(t, classify.CheckGatewayError([]byte(`{"code":"500"}`)))
		require.NoError(t, classify.CheckGatewayError([]byte(`[{"code":500}]`)))
	})
}
