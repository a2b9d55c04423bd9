package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"path/filepath"

	"github.com/davidbz/heyboss/internal/config"
	"github.com/davidbz/heyboss/internal/domain"
	"github.com/davidbz/heyboss/internal/observability"
)

// maxRequestBodySize bounds relay request bodies.
const maxRequestBodySize = 10 * 1024 * 1024

var (
	errOutputDisabled = errors.New("file output is disabled on this relay")
	errOutputPath     = errors.New("output must be a relative path inside the output directory")
)

// Handler relays run requests to the dispatcher.
type Handler struct {
	dispatcher *domain.Dispatcher
	outputDir  string
}

// NewHandler creates a new HTTP handler (DI constructor).
func NewHandler(dispatcher *domain.Dispatcher, cfg *config.ServerConfig) *Handler {
	h := &Handler{dispatcher: dispatcher}
	if cfg != nil {
		h.outputDir = cfg.OutputDir
	}
	return h
}

type errorResponse struct {
	Error string `json:"error"`
	Code  int    `json:"code,omitempty"`
}

// HandleRun dispatches a run request and writes the result for its mode.
func (h *Handler) HandleRun(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if !isJSONRequest(r) {
		writeJSON(ctx, w, http.StatusUnsupportedMediaType, errorResponse{Error: "content type must be application/json"})
		return
	}

	var req domain.Request
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBodySize)).Decode(&req); err != nil {
		writeJSON(ctx, w, http.StatusBadRequest, errorResponse{Error: fmt.Sprintf("invalid request body: %v", err)})
		return
	}

	if !req.Stream && req.OutputPath != "" {
		dest, err := h.resolveOutput(req.OutputPath)
		if err != nil {
			writeJSON(ctx, w, http.StatusBadRequest, errorResponse{Error: err.Error()})
			return
		}
		req.OutputPath = dest
	}

	ctx = observability.WithModel(ctx, req.Model)
	logger := observability.FromContext(ctx)
	logger.Info("run request received",
		observability.String("mode", string(req.Mode())),
		observability.Bool("auto_fallback", req.Fallback()),
	)

	result, err := h.dispatcher.Dispatch(ctx, &req)
	if err != nil {
		status, body := errorStatus(err)
		logger.Warn("run failed", observability.Int("status", status), observability.Error(err))
		writeJSON(ctx, w, status, body)
		return
	}

	switch result.Mode {
	case domain.ModeStream:
		h.writeStream(ctx, w, result.Events)
	case domain.ModeOutput:
		writeJSON(ctx, w, http.StatusOK, result.Outcome)
	default:
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		if _, writeErr := w.Write(result.JSON); writeErr != nil {
			logger.Debug("failed to write response", observability.Error(writeErr))
		}
	}
}

// writeStream re-emits decoded events as SSE and terminates with [DONE].
func (h *Handler) writeStream(ctx context.Context, w http.ResponseWriter, events domain.EventStream) {
	defer events.Close()
	logger := observability.FromContext(ctx)

	flusher, ok := w.(http.Flusher)
	if !ok {
		logger.Error("streaming not supported")
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	count := 0
	for events.Next() {
		if _, err := fmt.Fprintf(w, "data: %s\n\n", events.Event().Data); err != nil {
			logger.Debug("client went away", observability.Error(err))
			return
		}
		flusher.Flush()
		count++
	}

	if err := events.Err(); err != nil {
		logger.Error("stream failed", observability.Int("events", count), observability.Error(err))
		data, _ := json.Marshal(errorResponse{Error: err.Error()})
		fmt.Fprintf(w, "event: error\ndata: %s\n\n", data)
		flusher.Flush()
		return
	}

	fmt.Fprint(w, "data: [DONE]\n\n")
	flusher.Flush()
	logger.Info("stream completed", observability.Int("events", count))
}

// HandleHealth handles health check requests.
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(r.Context(), w, http.StatusOK, map[string]string{
		"status": "healthy",
	})
}

// resolveOutput confines a requested output path to the configured directory.
func (h *Handler) resolveOutput(output string) (string, error) {
	if h.outputDir == "" {
		return "", errOutputDisabled
	}
	if filepath.IsAbs(output) || !filepath.IsLocal(output) {
		return "", errOutputPath
	}

	root, err := filepath.Abs(h.outputDir)
	if err != nil {
		return "", fmt.Errorf("invalid output directory: %w", err)
	}
	return filepath.Join(root, filepath.Clean(output)), nil
}

func isJSONRequest(r *http.Request) bool {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return err == nil && mediaType == "application/json"
}

func errorStatus(err error) (int, errorResponse) {
	body := errorResponse{Error: err.Error()}

	var (
		cfgErr       *domain.ConfigurationError
		gatewayErr   *domain.GatewayError
		mediaErr     *domain.MediaDownloadError
		transportErr *domain.TransportError
	)

	switch {
	case errors.Is(err, domain.ErrInvalidRequest):
		return http.StatusBadRequest, body
	case errors.As(err, &cfgErr):
		return http.StatusInternalServerError, body
	case errors.As(err, &gatewayErr):
		body.Code = gatewayErr.Code
		return http.StatusBadGateway, body
	case errors.As(err, &mediaErr):
		body.Code = mediaErr.StatusCode
		return http.StatusBadGateway, body
	case errors.As(err, &transportErr):
		body.Code = transportErr.StatusCode
		return http.StatusBadGateway, body
	case errors.Is(err, domain.ErrInvalidResponse):
		return http.StatusBadGateway, body
	default:
		return http.StatusInternalServerError, body
	}
}

func writeJSON(ctx context.Context, w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		// Already written status, can't change it, just log.
		observability.FromContext(ctx).Debug("failed to encode response", observability.Error(err))
	}
}
