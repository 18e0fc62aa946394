package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/anyllm/gateway/internal/gateway/auth"
	"github.com/anyllm/gateway/internal/gateway/budget"
	"github.com/anyllm/gateway/internal/gateway/cache"
	"github.com/anyllm/gateway/internal/gateway/providers"
	"github.com/anyllm/gateway/internal/shared/models"
)

type ChatHandler struct {
	providerMgr *providers.Manager
	gate        *budget.Gate
	cache       *cache.Cache
	db          UsageStore
	log         *zap.SugaredLogger
}

func NewChatHandler(providerMgr *providers.Manager, gate *budget.Gate, cacheService *cache.Cache, db UsageStore, log *zap.SugaredLogger) *ChatHandler {
	return &ChatHandler{
		providerMgr: providerMgr,
		gate:        gate,
		cache:       cacheService,
		db:          db,
		log:         log,
	}
}

// HandleChatCompletion handles POST /v1/chat/completions
func (h *ChatHandler) HandleChatCompletion(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	startTime := time.Now()

	identity := IdentityFrom(ctx)
	if identity == nil {
		writeErrorStatus(w, http.StatusUnauthorized, errUnauthorized)
		return
	}

	var req providers.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorStatus(w, http.StatusBadRequest, errInvalidBody)
		return
	}

	userID, err := identity.TargetUser(req.User)
	if err != nil {
		writeError(w, err)
		return
	}

	if err := h.gate.CheckAdmission(ctx, userID); err != nil {
		writeError(w, err)
		return
	}

	if req.Stream {
		h.handleStreamingChat(w, r, identity, userID, req)
		return
	}

	// Check cache if the caller's key opts in
	var cacheHit bool
	var resp *providers.ChatResponse
	if identity.APIKey != nil && identity.APIKey.CacheEnabled {
		cachedResp, err := h.cache.Get(ctx, req)
		if err == nil {
			resp = cachedResp
			resp.CostUSD = 0 // Cache hits are free
			cacheHit = true
		}
	}

	var providerName string
	var failoverUsed bool
	if !cacheHit {
		var err error
		resp, providerName, failoverUsed, err = h.providerMgr.ChatCompletion(ctx, req)
		if err != nil {
			writeErrorStatus(w, http.StatusBadGateway, err)
			h.recordUsage(identity, userID, req.Model, providerName, nil, err)
			return
		}

		cost, _ := h.calculateCost(ctx, providerName, req.Model, resp.Usage)
		resp.CostUSD = cost

		if identity.APIKey != nil && identity.APIKey.CacheEnabled {
			ttl := time.Duration(identity.APIKey.CacheTTLSeconds) * time.Second
			h.cache.Set(ctx, req, resp, ttl)
		}
	}

	totalLatency := int(time.Since(startTime).Milliseconds())
	resp.LatencyMs = totalLatency

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Cache-Hit", fmt.Sprintf("%v", cacheHit))
	w.Header().Set("X-Cost-USD", fmt.Sprintf("%.6f", resp.CostUSD))
	w.Header().Set("X-Provider", providerName)
	w.Header().Set("X-Latency-Ms", fmt.Sprintf("%d", totalLatency))
	if failoverUsed {
		w.Header().Set("X-Failover", "true")
	}

	h.recordUsage(identity, userID, req.Model, providerName, resp, nil)

	json.NewEncoder(w).Encode(resp)
}

// handleStreamingChat handles streaming chat completions
func (h *ChatHandler) handleStreamingChat(w http.ResponseWriter, r *http.Request, identity *auth.Identity, userID string, req providers.ChatRequest) {
	ctx := r.Context()

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeErrorStatus(w, http.StatusInternalServerError, errStreamingUnsupported)
		return
	}

	provider, providerName, err := h.providerMgr.GetProvider(req.Model)
	if err != nil {
		writeErrorStatus(w, http.StatusBadGateway, err)
		return
	}

	stream, err := provider.ChatCompletionStream(ctx, req)
	if err != nil {
		writeErrorStatus(w, http.StatusBadGateway, err)
		h.recordUsage(identity, userID, req.Model, providerName, nil, err)
		return
	}
	defer stream.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	var usage openai.Usage
	for {
		chunk, err := stream.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			payload, _ := json.Marshal(map[string]string{"error": err.Error()})
			fmt.Fprintf(w, "data: %s\n\n", payload)
			flusher.Flush()
			h.recordUsage(identity, userID, req.Model, providerName, nil, err)
			return
		}

		if chunk.Usage != nil {
			usage = *chunk.Usage
		}

		data, _ := json.Marshal(chunk)
		fmt.Fprintf(w, "data: %s\n\n", string(data))
		flusher.Flush()
	}

	fmt.Fprintf(w, "data: [DONE]\n\n")
	flusher.Flush()

	resp := &providers.ChatResponse{Usage: usage}
	cost, _ := h.calculateCost(ctx, providerName, req.Model, usage)
	resp.CostUSD = cost

	h.recordUsage(identity, userID, req.Model, providerName, resp, nil)
}

// calculateCost calculates the cost of a request
func (h *ChatHandler) calculateCost(ctx context.Context, provider, model string, usage openai.Usage) (float64, error) {
	pricing, err := h.db.GetModelPricing(ctx, provider, model)
	if err != nil {
		return 0, err
	}

	inputCost := float64(usage.PromptTokens) / 1000.0 * pricing.InputPer1kTokens
	outputCost := float64(usage.CompletionTokens) / 1000.0 * pricing.OutputPer1kTokens

	return inputCost + outputCost, nil
}

// recordUsage writes one accounting row per completed request.
func (h *ChatHandler) recordUsage(identity *auth.Identity, userID, model, provider string, resp *providers.ChatResponse, cause error) {
	entry := &models.UsageLog{
		UserID:   userID,
		Model:    model,
		Provider: provider,
		Endpoint: "/v1/chat/completions",
		Status:   "success",
	}

	if identity != nil && identity.APIKey != nil {
		id := identity.APIKey.ID
		entry.APIKeyID = &id
	}

	if resp != nil {
		entry.Cost = resp.CostUSD
		entry.PromptTokens = resp.Usage.PromptTokens
		entry.CompletionTokens = resp.Usage.CompletionTokens
		entry.TotalTokens = resp.Usage.TotalTokens
	}

	if cause != nil {
		entry.Status = "error"
		msg := cause.Error()
		entry.ErrorMessage = &msg
	}

	// Log asynchronously to avoid blocking
	go func() {
		if err := h.db.LogUsage(context.Background(), entry); err != nil {
			h.log.Warnw("failed to record usage", "user", userID, "error", err)
		}
	}()
}
