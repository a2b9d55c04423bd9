// Package classify inspects gateway JSON bodies and persists what they reference.
package classify

import (
	"errors"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/davidbz/heyboss/internal/domain"
)

// ErrInvalidJSON is returned when the body to classify is not valid JSON.
var ErrInvalidJSON = errors.New("response body is not valid JSON")

var (
	errorMessagePaths = []string{"message", "msg", "error.message", "error"}

	jobIDPaths = []string{
		"task_id", "job_id", "request_id", "prediction_id", "generation_id", "id",
		"data.task_id", "data.job_id", "data.request_id", "data.prediction_id", "data.generation_id", "data.id",
	}

	statusPaths = []string{"status", "task_status", "state", "data.status", "data.task_status", "data.state"}

	pendingStatuses = map[string]struct{}{
		"pending":     {},
		"processing":  {},
		"queued":      {},
		"running":     {},
		"in_progress": {},
		"in_queue":    {},
		"submitted":   {},
		"starting":    {},
		"created":     {},
	}
)

// urlRule extracts a media URL from a parsed body.
type urlRule struct {
	name      string
	mediaType domain.MediaType
	match     func(root gjson.Result) string
}

// urlRules is the match table. Order is precedence: the first hit wins.
var urlRules = []urlRule{
	{name: "string-array", mediaType: domain.MediaImage, match: matchStringArray},
	{name: "item-urls", mediaType: domain.MediaImage, match: firstOf(listURL("data"), listURL("output"))},
	{name: "image-list", mediaType: domain.MediaImage, match: firstOf(listURL("images"), listURL("image_urls"), listURL("generated_images"))},
	{name: "image-url", mediaType: domain.MediaImage, match: direct("image_url")},
	{name: "audio-url", mediaType: domain.MediaAudio, match: direct("audio_url")},
	{name: "video-url", mediaType: domain.MediaVideo, match: firstOf(direct("video_url"), direct("output"), direct("video"))},
	{name: "video-samples", mediaType: domain.MediaVideo, match: firstOf(
		samplesURI("generatedSamples"),
		samplesURI("response.generateVideoResponse.generatedSamples"),
	)},
	{name: "video-list", mediaType: domain.MediaVideo, match: firstOf(listURL("videos"), listURL("video_urls"))},
}

// Classifier implements domain.Classifier.
type Classifier struct{}

// NewClassifier creates a new response classifier.
func NewClassifier() *Classifier {
	return &Classifier{}
}

// Classify inspects body and reports what it contains.
// A gateway error marker yields *domain.GatewayError before anything else is examined.
func (c *Classifier) Classify(body []byte) (*domain.Classification, error) {
	if !gjson.ValidBytes(body) {
		return nil, ErrInvalidJSON
	}

	if err := CheckGatewayError(body); err != nil {
		return nil, err
	}

	root := gjson.ParseBytes(body)

	if jobID, ok := pendingJob(root); ok {
		return &domain.Classification{Kind: domain.KindProcessing, JobID: jobID, Raw: body}, nil
	}

	for _, p := range urlRules {
		if url := p.match(root); url != "" {
			return &domain.Classification{
				Kind:      domain.KindMedia,
				URL:       url,
				MediaType: p.mediaType,
				Raw:       body,
			}, nil
		}
	}

	return &domain.Classification{Kind: domain.KindJSON, MediaType: domain.MediaFile, Raw: body}, nil
}

// CheckError implements the gateway error check of domain.Classifier.
func (c *Classifier) CheckError(body []byte) error {
	return CheckGatewayError(body)
}

// CheckGatewayError returns a *domain.GatewayError when body is an object
// carrying a numeric code of 400 or above.
func CheckGatewayError(body []byte) error {
	root := gjson.ParseBytes(body)
	if !root.IsObject() {
		return nil
	}

	code := root.Get("code")
	if code.Type != gjson.Number || code.Int() < 400 {
		return nil
	}

	return &domain.GatewayError{Code: int(code.Int()), Message: errorMessage(root)}
}

func errorMessage(root gjson.Result) string {
	for _, path := range errorMessagePaths {
		if v := root.Get(path); v.Type == gjson.String && v.Str != "" {
			return v.Str
		}
	}
	return ""
}

func pendingJob(root gjson.Result) (string, bool) {
	if !root.IsObject() {
		return "", false
	}

	jobID := ""
	for _, path := range jobIDPaths {
		v := root.Get(path)
		if v.Type == gjson.String && v.Str != "" {
			jobID = v.Str
			break
		}
		if v.Type == gjson.Number {
			jobID = v.Raw
			break
		}
	}
	if jobID == "" {
		return "", false
	}

	for _, path := range statusPaths {
		v := root.Get(path)
		switch v.Type {
		case gjson.String:
			if _, ok := pendingStatuses[strings.ToLower(strings.TrimSpace(v.Str))]; ok {
				return jobID, true
			}
		case gjson.Number:
			if v.Num != 0 {
				return jobID, true
			}
		}
	}

	return "", false
}

func matchStringArray(root gjson.Result) string {
	if !root.IsArray() {
		return ""
	}
	first := root.Get("0")
	if first.Type == gjson.String && isAbsoluteURL(first.Str) {
		return first.Str
	}
	return ""
}

// listURL matches the first element of the array at path, either a URL string or an object with a url field.
func listURL(path string) func(gjson.Result) string {
	return func(root gjson.Result) string {
		list := root.Get(path)
		if !list.IsArray() {
			return ""
		}
		return urlOf(list.Get("0"))
	}
}

// direct matches a URL string, or an object with a url field, at path.
func direct(path string) func(gjson.Result) string {
	return func(root gjson.Result) string {
		return urlOf(root.Get(path))
	}
}

func samplesURI(path string) func(gjson.Result) string {
	return func(root gjson.Result) string {
		samples := root.Get(path)
		if !samples.IsArray() {
			return ""
		}
		uri := samples.Get("0.video.uri")
		if uri.Type == gjson.String && isAbsoluteURL(uri.Str) {
			return uri.Str
		}
		return ""
	}
}

func firstOf(matchers ...func(gjson.Result) string) func(gjson.Result) string {
	return func(root gjson.Result) string {
		for _, m := range matchers {
			if url := m(root); url != "" {
				return url
			}
		}
		return ""
	}
}

func urlOf(v gjson.Result) string {
	switch {
	case v.Type == gjson.String && isAbsoluteURL(v.Str):
		return v.Str
	case v.IsObject():
		u := v.Get("url")
		if u.Type == gjson.String && isAbsoluteURL(u.Str) {
			return u.Str
		}
	}
	return ""
}

func isAbsoluteURL(s string) bool {
	return strings.HasPrefix(s, "https://") || strings.HasPrefix(s, "http://")
}
