package providers

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/anyllm/gateway/internal/gateway/generate"
)

const geminiBaseURL = "https://generativelanguage.googleapis.com/v1beta/models"

// Image generation defaults. These are part of the observable contract:
// unspecified fields fall back to them.
const (
	DefaultImageModel       = "gemini-3-pro-image-preview"
	DefaultImageAspectRatio = "16:9"
	DefaultImageSize        = "4K"
)

// ErrGeminiNotConfigured is returned when image generation is requested
// but no Gemini API key is configured on the gateway.
var ErrGeminiNotConfigured = errors.New("gemini provider is not configured on the gateway")

// GeminiProvider handles Google Gemini API requests: chat completions
// and image generation, both over the REST API.
type GeminiProvider struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// GeminiRequest represents a request to Gemini's API
type GeminiRequest struct {
	Contents         []GeminiContent         `json:"contents"`
	GenerationConfig *GeminiGenerationConfig `json:"generationConfig,omitempty"`
	Tools            []GeminiTool            `json:"tools,omitempty"`
}

// GeminiContent represents content in Gemini format
type GeminiContent struct {
	Role  string       `json:"role"`
	Parts []GeminiPart `json:"parts"`
}

// GeminiPart represents a part of the content
type GeminiPart struct {
	Text string `json:"text"`
}

// GeminiGenerationConfig represents generation parameters
type GeminiGenerationConfig struct {
	Temperature        *float32              `json:"temperature,omitempty"`
	TopP               *float32              `json:"topP,omitempty"`
	MaxOutputTokens    *int                  `json:"maxOutputTokens,omitempty"`
	ResponseModalities []string              `json:"responseModalities,omitempty"`
	ImageConfig        *GeminiImageConfig    `json:"imageConfig,omitempty"`
	ThinkingConfig     *GeminiThinkingConfig `json:"thinkingConfig,omitempty"`
}

type GeminiImageConfig struct {
	AspectRatio string `json:"aspectRatio,omitempty"`
	ImageSize   string `json:"imageSize,omitempty"`
}

type GeminiThinkingConfig struct {
	IncludeThoughts bool `json:"includeThoughts"`
}

// GeminiTool enables a server-side tool; an empty object enables
// search augmentation.
type GeminiTool struct {
	GoogleSearch *struct{} `json:"google_search,omitempty"`
}

// GeminiResponse represents a chat response from Gemini API
type GeminiResponse struct {
	Candidates    []GeminiCandidate `json:"candidates"`
	UsageMetadata GeminiUsage       `json:"usageMetadata"`
}

// GeminiCandidate represents a candidate response
type GeminiCandidate struct {
	Content      GeminiContent `json:"content"`
	FinishReason string        `json:"finishReason"`
	Index        int           `json:"index"`
}

// GeminiUsage represents token usage
type GeminiUsage struct {
	PromptTokenCount     int `json:"promptTokenCount"`
	CandidatesTokenCount int `json:"candidatesTokenCount"`
	TotalTokenCount      int `json:"totalTokenCount"`
}

// NewGeminiProvider creates a new Gemini provider
func NewGeminiProvider(apiKey string) *GeminiProvider {
	return NewGeminiProviderWithBase(apiKey, geminiBaseURL)
}

// NewGeminiProviderWithBase creates a Gemini provider against a
// non-default API endpoint.
func NewGeminiProviderWithBase(apiKey, baseURL string) *GeminiProvider {
	return &GeminiProvider{
		apiKey:  apiKey,
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

// ImageRequest describes one image generation call.
type ImageRequest struct {
	Prompt      string
	Model       string
	AspectRatio string
	ImageSize   string
}

// NewImageRequest fills unset fields with the documented defaults.
func NewImageRequest(prompt, model, aspectRatio, imageSize string) ImageRequest {
	if model == "" {
		model = DefaultImageModel
	}
	if aspectRatio == "" {
		aspectRatio = DefaultImageAspectRatio
	}
	if imageSize == "" {
		imageSize = DefaultImageSize
	}
	return ImageRequest{Prompt: prompt, Model: model, AspectRatio: aspectRatio, ImageSize: imageSize}
}

// buildImageRequest assembles the upstream call: text+image modalities,
// image sizing, search augmentation, and thinking disclosure.
func (p *GeminiProvider) buildImageRequest(req ImageRequest) GeminiRequest {
	return GeminiRequest{
		Contents: []GeminiContent{
			{Role: "user", Parts: []GeminiPart{{Text: req.Prompt}}},
		},
		GenerationConfig: &GeminiGenerationConfig{
			ResponseModalities: []string{"Text", "Image"},
			ImageConfig: &GeminiImageConfig{
				AspectRatio: req.AspectRatio,
				ImageSize:   req.ImageSize,
			},
			ThinkingConfig: &GeminiThinkingConfig{IncludeThoughts: true},
		},
		Tools: []GeminiTool{{GoogleSearch: &struct{}{}}},
	}
}

// GenerateImage makes a synchronous image generation request and
// returns the single response chunk.
func (p *GeminiProvider) GenerateImage(ctx context.Context, req ImageRequest) (*generate.Chunk, error) {
	url := fmt.Sprintf("%s/%s:generateContent?key=%s", p.baseURL, req.Model, p.apiKey)

	reqBody, _ := json.Marshal(p.buildImageRequest(req))
	httpReq, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("failed to build Gemini request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("Gemini API error: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("Gemini API error (status %d): %s", resp.StatusCode, string(body))
	}

	var chunk generate.Chunk
	if err := json.Unmarshal(body, &chunk); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	return &chunk, nil
}

// GenerateImageStream makes a streaming image generation request.
func (p *GeminiProvider) GenerateImageStream(ctx context.Context, req ImageRequest) (generate.Stream, error) {
	url := fmt.Sprintf("%s/%s:streamGenerateContent?key=%s&alt=sse", p.baseURL, req.Model, p.apiKey)

	reqBody, _ := json.Marshal(p.buildImageRequest(req))
	httpReq, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("failed to build Gemini request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("Gemini streaming API error: %w", err)
	}

	if httpResp.StatusCode != http.StatusOK {
		defer httpResp.Body.Close()
		body, _ := io.ReadAll(httpResp.Body)
		return nil, fmt.Errorf("Gemini API error (status %d): %s", httpResp.StatusCode, string(body))
	}

	return &geminiChunkStream{
		reader: bufio.NewReader(httpResp.Body),
		resp:   httpResp,
	}, nil
}

// geminiChunkStream reads SSE-framed generation chunks off the wire.
type geminiChunkStream struct {
	reader *bufio.Reader
	resp   *http.Response
}

// Recv reads the next chunk, returning io.EOF when the stream ends.
func (s *geminiChunkStream) Recv() (*generate.Chunk, error) {
	for {
		line, err := s.reader.ReadString('\n')
		if err != nil {
			return nil, err
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "data: ") {
			dataStr := strings.TrimSpace(strings.TrimPrefix(line, "data:"))

			var chunk generate.Chunk
			if err := json.Unmarshal([]byte(dataStr), &chunk); err != nil {
				continue
			}

			return &chunk, nil
		}
	}
}

// Close releases the upstream connection.
func (s *geminiChunkStream) Close() error {
	if s.resp != nil && s.resp.Body != nil {
		return s.resp.Body.Close()
	}
	return nil
}

// ChatCompletion makes a chat completion request to Gemini
func (p *GeminiProvider) ChatCompletion(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	startTime := time.Now()

	geminiReq := p.convertRequest(req)

	url := fmt.Sprintf("%s/%s:generateContent?key=%s", p.baseURL, req.Model, p.apiKey)

	reqBody, _ := json.Marshal(geminiReq)
	httpReq, _ := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(reqBody))
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("Gemini API error: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("Gemini API error (status %d): %s", resp.StatusCode, string(body))
	}

	var geminiResp GeminiResponse
	if err := json.Unmarshal(body, &geminiResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	latencyMs := int(time.Since(startTime).Milliseconds())

	return p.convertResponse(geminiResp, req.Model, latencyMs), nil
}

// ChatCompletionStream makes a streaming request
func (p *GeminiProvider) ChatCompletionStream(ctx context.Context, req ChatRequest) (StreamReader, error) {
	geminiReq := p.convertRequest(req)

	url := fmt.Sprintf("%s/%s:streamGenerateContent?key=%s&alt=sse", p.baseURL, req.Model, p.apiKey)

	reqBody, _ := json.Marshal(geminiReq)
	httpReq, _ := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(reqBody))
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("Gemini streaming API error: %w", err)
	}

	if httpResp.StatusCode != http.StatusOK {
		defer httpResp.Body.Close()
		body, _ := io.ReadAll(httpResp.Body)
		return nil, fmt.Errorf("Gemini API error (status %d): %s", httpResp.StatusCode, string(body))
	}

	return &GeminiStreamReader{
		reader: bufio.NewReader(httpResp.Body),
		resp:   httpResp,
		model:  req.Model,
	}, nil
}

// GeminiStreamReader wraps the HTTP response for streaming
type GeminiStreamReader struct {
	reader *bufio.Reader
	resp   *http.Response
	model  string
}

// Recv reads the next streaming chunk
func (r *GeminiStreamReader) Recv() (openai.ChatCompletionStreamResponse, error) {
	for {
		line, err := r.reader.ReadString('\n')
		if err != nil {
			return openai.ChatCompletionStreamResponse{}, err
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "data: ") {
			dataStr := strings.TrimSpace(strings.TrimPrefix(line, "data:"))

			var geminiResp GeminiResponse
			if err := json.Unmarshal([]byte(dataStr), &geminiResp); err != nil {
				continue
			}

			chunk := r.convertChunkToOpenAI(geminiResp)
			return chunk, nil
		}
	}
}

// Close closes the stream
func (r *GeminiStreamReader) Close() error {
	if r.resp != nil && r.resp.Body != nil {
		return r.resp.Body.Close()
	}
	return nil
}

// convertChunkToOpenAI converts Gemini chunk to OpenAI format
func (r *GeminiStreamReader) convertChunkToOpenAI(resp GeminiResponse) openai.ChatCompletionStreamResponse {
	chunk := openai.ChatCompletionStreamResponse{
		ID:      fmt.Sprintf("gemini-stream-%d", time.Now().UnixNano()),
		Object:  "chat.completion.chunk",
		Created: time.Now().Unix(),
		Model:   r.model,
		Choices: []openai.ChatCompletionStreamChoice{},
	}

	if len(resp.Candidates) > 0 {
		candidate := resp.Candidates[0]
		var content string
		for _, part := range candidate.Content.Parts {
			content += part.Text
		}

		choice := openai.ChatCompletionStreamChoice{
			Index: candidate.Index,
			Delta: openai.ChatCompletionStreamChoiceDelta{},
		}

		if candidate.Content.Role != "" {
			choice.Delta.Role = "assistant"
		}

		if content != "" {
			choice.Delta.Content = content
		}

		if candidate.FinishReason != "" {
			choice.FinishReason = openai.FinishReason("stop")
		}

		chunk.Choices = []openai.ChatCompletionStreamChoice{choice}
	}

	if resp.UsageMetadata.TotalTokenCount > 0 {
		chunk.Usage = &openai.Usage{
			PromptTokens:     resp.UsageMetadata.PromptTokenCount,
			CompletionTokens: resp.UsageMetadata.CandidatesTokenCount,
			TotalTokens:      resp.UsageMetadata.TotalTokenCount,
		}
	}

	return chunk
}

// convertRequest converts to Gemini format
func (p *GeminiProvider) convertRequest(req ChatRequest) GeminiRequest {
	geminiReq := GeminiRequest{
		Contents: make([]GeminiContent, 0),
	}

	for _, msg := range req.Messages {
		role := msg.Role
		if role == "assistant" {
			role = "model"
		}
		if role == "system" {
			role = "user"
		}

		content := GeminiContent{
			Role:  role,
			Parts: []GeminiPart{{Text: msg.Content}},
		}
		geminiReq.Contents = append(geminiReq.Contents, content)
	}

	if req.Temperature != nil || req.MaxTokens != nil || req.TopP != nil {
		geminiReq.GenerationConfig = &GeminiGenerationConfig{
			Temperature:     req.Temperature,
			TopP:            req.TopP,
			MaxOutputTokens: req.MaxTokens,
		}
	}

	return geminiReq
}

// convertResponse converts Gemini response to standard format
func (p *GeminiProvider) convertResponse(resp GeminiResponse, model string, latencyMs int) *ChatResponse {
	var content string
	if len(resp.Candidates) > 0 {
		for _, part := range resp.Candidates[0].Content.Parts {
			content += part.Text
		}
	}

	return &ChatResponse{
		ID:      fmt.Sprintf("gemini-%d", time.Now().Unix()),
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   model,
		Choices: []openai.ChatCompletionChoice{
			{
				Index: 0,
				Message: openai.ChatCompletionMessage{
					Role:    "assistant",
					Content: content,
				},
				FinishReason: "stop",
			},
		},
		Usage: openai.Usage{
			PromptTokens:     resp.UsageMetadata.PromptTokenCount,
			CompletionTokens: resp.UsageMetadata.CandidatesTokenCount,
			TotalTokens:      resp.UsageMetadata.TotalTokenCount,
		},
		LatencyMs: latencyMs,
	}
}

// ValidateModel checks if a model is valid
func (p *GeminiProvider) ValidateModel(model string) bool {
	validModels := map[string]bool{
		"gemini-2.5-flash": true,
		"gemini-2.5-pro":   true,
		"gemini-2.0-flash": true,
		DefaultImageModel:  true,
	}
	return validModels[model]
}

// GetProviderName returns the provider name
func (p *GeminiProvider) GetProviderName() string {
	return "google"
}
