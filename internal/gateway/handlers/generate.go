package handlers

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/anyllm/gateway/internal/gateway/auth"
	"github.com/anyllm/gateway/internal/gateway/budget"
	"github.com/anyllm/gateway/internal/gateway/generate"
	"github.com/anyllm/gateway/internal/gateway/providers"
	"github.com/anyllm/gateway/internal/shared/models"
)

const maxPromptLength = 10_000

var (
	errUnauthorized         = errors.New("unauthorized")
	errInvalidBody          = errors.New("invalid request body")
	errInvalidPrompt        = errors.New("prompt must be between 1 and 10000 characters")
	errStreamingUnsupported = errors.New("streaming not supported")
)

type GenerateHandler struct {
	providerMgr *providers.Manager
	gate        *budget.Gate
	db          UsageStore
	log         *zap.SugaredLogger
}

func NewGenerateHandler(providerMgr *providers.Manager, gate *budget.Gate, db UsageStore, log *zap.SugaredLogger) *GenerateHandler {
	return &GenerateHandler{
		providerMgr: providerMgr,
		gate:        gate,
		db:          db,
		log:         log,
	}
}

type generateImageRequest struct {
	Prompt      string `json:"prompt"`
	Model       string `json:"model,omitempty"`
	AspectRatio string `json:"aspect_ratio,omitempty"`
	ImageSize   string `json:"image_size,omitempty"`
	Stream      bool   `json:"stream,omitempty"`

	// User names the billable user when the caller authenticated with
	// the master key.
	User string `json:"user,omitempty"`
}

type generateImageResponse struct {
	MimeType string   `json:"mimeType"`
	Base64   string   `json:"base64"`
	Texts    []string `json:"texts"`
	Thoughts []string `json:"thoughts"`
}

// usageTrackingStream records upstream token counts as chunks pass
// through on their way to the multiplexer.
type usageTrackingStream struct {
	generate.Stream
	usage generate.UsageMetadata
}

func (s *usageTrackingStream) Recv() (*generate.Chunk, error) {
	chunk, err := s.Stream.Recv()
	if chunk != nil && chunk.UsageMetadata.TotalTokenCount > 0 {
		s.usage = chunk.UsageMetadata
	}
	return chunk, err
}

func orEmpty(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}

// HandleGenerateImage handles POST /v1/generate/image
func (h *GenerateHandler) HandleGenerateImage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	identity := IdentityFrom(ctx)
	if identity == nil {
		writeErrorStatus(w, http.StatusUnauthorized, errUnauthorized)
		return
	}

	var req generateImageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorStatus(w, http.StatusBadRequest, errInvalidBody)
		return
	}
	if req.Prompt == "" || len(req.Prompt) > maxPromptLength {
		writeErrorStatus(w, http.StatusBadRequest, errInvalidPrompt)
		return
	}

	userID, err := identity.TargetUser(req.User)
	if err != nil {
		writeError(w, err)
		return
	}

	// Admission runs before any billable upstream work.
	if err := h.gate.CheckAdmission(ctx, userID); err != nil {
		writeError(w, err)
		return
	}

	gemini, err := h.providerMgr.Gemini()
	if err != nil {
		writeError(w, err)
		return
	}

	imgReq := providers.NewImageRequest(req.Prompt, req.Model, req.AspectRatio, req.ImageSize)
	h.log.Infow("generating image", "user", userID, "model", imgReq.Model, "stream", req.Stream)

	if req.Stream {
		h.streamImage(w, r, identity, userID, gemini, imgReq)
		return
	}

	chunk, err := gemini.GenerateImage(ctx, imgReq)
	if err != nil {
		writeErrorStatus(w, http.StatusBadGateway, err)
		h.recordUsage(identity, userID, imgReq.Model, generate.UsageMetadata{}, "error", err)
		return
	}

	result, err := generate.Collect(chunk)
	if err != nil {
		writeError(w, err)
		h.recordUsage(identity, userID, imgReq.Model, chunk.UsageMetadata, "error", err)
		return
	}

	h.recordUsage(identity, userID, imgReq.Model, chunk.UsageMetadata, "success", nil)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(generateImageResponse{
		MimeType: result.MimeType,
		Base64:   base64.StdEncoding.EncodeToString(result.Data),
		Texts:    orEmpty(result.Texts),
		Thoughts: orEmpty(result.Thoughts),
	})
}

// streamImage multiplexes the upstream chunk stream into a server-sent
// event sequence. Failures before the first event are ordinary request
// failures; once streaming starts they become in-band error events.
func (h *GenerateHandler) streamImage(w http.ResponseWriter, r *http.Request, identity *auth.Identity, userID string, gemini *providers.GeminiProvider, imgReq providers.ImageRequest) {
	ctx := r.Context()

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeErrorStatus(w, http.StatusInternalServerError, errStreamingUnsupported)
		return
	}

	stream, err := gemini.GenerateImageStream(ctx, imgReq)
	if err != nil {
		writeErrorStatus(w, http.StatusBadGateway, err)
		h.recordUsage(identity, userID, imgReq.Model, generate.UsageMetadata{}, "error", err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	tracked := &usageTrackingStream{Stream: stream}
	status := "success"
	var streamErr error

	generate.Multiplex(tracked, func(event generate.Event) error {
		if event.Type == generate.EventError {
			status = "error"
			streamErr = errors.New(event.Message)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if _, err := w.Write(event.SSE()); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	})

	h.recordUsage(identity, userID, imgReq.Model, tracked.usage, status, streamErr)
}

// recordUsage writes one accounting row per completed request, without
// blocking the response path.
func (h *GenerateHandler) recordUsage(identity *auth.Identity, userID, model string, usage generate.UsageMetadata, status string, cause error) {
	entry := &models.UsageLog{
		UserID:           userID,
		Model:            model,
		Provider:         "google",
		Endpoint:         "/v1/generate/image",
		PromptTokens:     usage.PromptTokenCount,
		CompletionTokens: usage.CandidatesTokenCount,
		TotalTokens:      usage.TotalTokenCount,
		Status:           status,
	}
	if identity != nil && identity.APIKey != nil {
		id := identity.APIKey.ID
		entry.APIKeyID = &id
	}
	if cause != nil {
		msg := cause.Error()
		entry.ErrorMessage = &msg
	}

	if pricing, err := h.db.GetModelPricing(context.Background(), "google", model); err == nil {
		entry.Cost = float64(usage.PromptTokenCount)/1000.0*pricing.InputPer1kTokens +
			float64(usage.CandidatesTokenCount)/1000.0*pricing.OutputPer1kTokens
	}

	go func() {
		if err := h.db.LogUsage(context.Background(), entry); err != nil {
			h.log.Warnw("failed to record usage", "user", userID, "error", err)
		}
	}()
}
