package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/anyllm/gateway/internal/gateway/providers"
	"github.com/anyllm/gateway/internal/shared/redis"
)

type Cache struct {
	redis *redis.Client
}

// New creates a new cache instance
func New(redisClient *redis.Client) *Cache {
	return &Cache{redis: redisClient}
}

// cacheKey is the deterministic subset of a request that identifies a
// cacheable response. The billable user is excluded so identical
// prompts share entries across callers.
type cacheKey struct {
	Model       string                         `json:"model"`
	Messages    []openai.ChatCompletionMessage `json:"messages"`
	Temperature *float32                       `json:"temperature"`
	MaxTokens   *int                           `json:"max_tokens"`
	TopP        *float32                       `json:"top_p"`
}

func (c *Cache) keyFor(req providers.ChatRequest) string {
	payload, _ := json.Marshal(cacheKey{
		Model:       req.Model,
		Messages:    req.Messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		TopP:        req.TopP,
	})

	hash := sha256.Sum256(payload)
	return "cache:chat:" + hex.EncodeToString(hash[:])
}

// Get retrieves a cached response
func (c *Cache) Get(ctx context.Context, req providers.ChatRequest) (*providers.ChatResponse, error) {
	key := c.keyFor(req)

	val, err := c.redis.Get(ctx, key)
	if err != nil {
		return nil, err
	}

	var cachedResp providers.ChatResponse
	if err := json.Unmarshal([]byte(val), &cachedResp); err != nil {
		return nil, fmt.Errorf("failed to deserialize cached response: %w", err)
	}

	return &cachedResp, nil
}

// Set stores a response in cache
func (c *Cache) Set(ctx context.Context, req providers.ChatRequest, resp *providers.ChatResponse, ttl time.Duration) error {
	key := c.keyFor(req)

	data, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("failed to serialize response: %w", err)
	}

	return c.redis.Set(ctx, key, string(data), ttl)
}
