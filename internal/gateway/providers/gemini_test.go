package providers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anyllm/gateway/internal/gateway/generate"
)

func testGeminiProvider(baseURL string) *GeminiProvider {
	return NewGeminiProviderWithBase("test-key", baseURL)
}

func TestNewImageRequestDefaults(t *testing.T) {
	req := NewImageRequest("a red fox", "", "", "")
	assert.Equal(t, DefaultImageModel, req.Model)
	assert.Equal(t, DefaultImageAspectRatio, req.AspectRatio)
	assert.Equal(t, DefaultImageSize, req.ImageSize)
	assert.Equal(t, "a red fox", req.Prompt)
}

func TestNewImageRequestExplicit(t *testing.T) {
	req := NewImageRequest("p", "custom-model", "1:1", "2K")
	assert.Equal(t, "custom-model", req.Model)
	assert.Equal(t, "1:1", req.AspectRatio)
	assert.Equal(t, "2K", req.ImageSize)
}

func TestBuildImageRequest(t *testing.T) {
	p := NewGeminiProvider("test-key")
	req := p.buildImageRequest(NewImageRequest("a red fox", "", "16:9", "4K"))

	require.Len(t, req.Contents, 1)
	assert.Equal(t, "user", req.Contents[0].Role)
	require.Len(t, req.Contents[0].Parts, 1)
	assert.Equal(t, "a red fox", req.Contents[0].Parts[0].Text)

	require.NotNil(t, req.GenerationConfig)
	assert.Equal(t, []string{"Text", "Image"}, req.GenerationConfig.ResponseModalities)
	require.NotNil(t, req.GenerationConfig.ImageConfig)
	assert.Equal(t, "16:9", req.GenerationConfig.ImageConfig.AspectRatio)
	assert.Equal(t, "4K", req.GenerationConfig.ImageConfig.ImageSize)
	require.NotNil(t, req.GenerationConfig.ThinkingConfig)
	assert.True(t, req.GenerationConfig.ThinkingConfig.IncludeThoughts)

	require.Len(t, req.Tools, 1)
	assert.NotNil(t, req.Tools[0].GoogleSearch)
}

func TestGenerateImage(t *testing.T) {
	var gotPath string
	var gotBody GeminiRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &gotBody)
		_ = json.NewEncoder(w).Encode(generate.Chunk{
			Candidates: []generate.Candidate{
				{Content: generate.Content{Parts: []generate.Part{{Text: "done"}}}},
			},
			UsageMetadata: generate.UsageMetadata{TotalTokenCount: 42},
		})
	}))
	defer server.Close()

	p := testGeminiProvider(server.URL)
	chunk, err := p.GenerateImage(context.Background(), NewImageRequest("a red fox", "", "", ""))
	require.NoError(t, err)

	assert.Equal(t, "/"+DefaultImageModel+":generateContent", gotPath)
	assert.Equal(t, "a red fox", gotBody.Contents[0].Parts[0].Text)
	assert.Equal(t, 42, chunk.UsageMetadata.TotalTokenCount)

	parts := generate.PartsOf(chunk)
	require.Len(t, parts, 1)
	assert.Equal(t, "done", parts[0].Text)
}

func TestGenerateImageUpstreamError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"quota exceeded"}`, http.StatusTooManyRequests)
	}))
	defer server.Close()

	p := testGeminiProvider(server.URL)
	_, err := p.GenerateImage(context.Background(), NewImageRequest("p", "", "", ""))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 429")
}

func TestGenerateImageStream(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "sse", r.URL.Query().Get("alt"))
		w.Header().Set("Content-Type", "text/event-stream")
		io.WriteString(w, "data: {\"candidates\":[{\"content\":{\"parts\":[{\"text\":\"thinking\",\"thought\":true}]}}]}\n\n")
		io.WriteString(w, ": keepalive comment\n\n")
		io.WriteString(w, "data: not json at all\n\n")
		io.WriteString(w, "data: {\"candidates\":[{\"content\":{\"parts\":[{\"inlineData\":{\"mimeType\":\"image/png\",\"data\":\"cGl4ZWxz\"}}]}}]}\n\n")
	}))
	defer server.Close()

	p := testGeminiProvider(server.URL)
	stream, err := p.GenerateImageStream(context.Background(), NewImageRequest("p", "", "", ""))
	require.NoError(t, err)
	defer stream.Close()

	first, err := stream.Recv()
	require.NoError(t, err)
	parts := generate.PartsOf(first)
	require.Len(t, parts, 1)
	assert.True(t, parts[0].Thought)

	// The keepalive comment and the malformed data line are skipped.
	second, err := stream.Recv()
	require.NoError(t, err)
	parts = generate.PartsOf(second)
	require.Len(t, parts, 1)
	require.NotNil(t, parts[0].InlineData)
	assert.Equal(t, "image/png", parts[0].InlineData.MimeType)

	_, err = stream.Recv()
	assert.Equal(t, io.EOF, err)
}

func TestGenerateImageStreamUpstreamError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad key", http.StatusUnauthorized)
	}))
	defer server.Close()

	p := testGeminiProvider(server.URL)
	_, err := p.GenerateImageStream(context.Background(), NewImageRequest("p", "", "", ""))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 401")
}

func TestValidateModelIncludesImageModel(t *testing.T) {
	p := NewGeminiProvider("test-key")
	assert.True(t, p.ValidateModel(DefaultImageModel))
	assert.True(t, p.ValidateModel("gemini-2.5-flash"))
	assert.False(t, p.ValidateModel("made-up-model"))
}
