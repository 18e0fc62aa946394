package cache

import (
	"strings"
	"testing"

	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"

	"github.com/anyllm/gateway/internal/gateway/providers"
)

func chatReq(prompt string) providers.ChatRequest {
	return providers.ChatRequest{
		Model: "gpt-4o",
		Messages: []openai.ChatCompletionMessage{
			{Role: "user", Content: prompt},
		},
	}
}

func TestKeyForDeterministic(t *testing.T) {
	c := New(nil)

	first := c.keyFor(chatReq("hello"))
	assert.Equal(t, first, c.keyFor(chatReq("hello")))
	assert.True(t, strings.HasPrefix(first, "cache:chat:"))

	assert.NotEqual(t, first, c.keyFor(chatReq("goodbye")))
}

func TestKeyForIgnoresCaller(t *testing.T) {
	c := New(nil)

	a := chatReq("hello")
	b := chatReq("hello")
	b.User = "someone-else"
	b.Stream = true

	assert.Equal(t, c.keyFor(a), c.keyFor(b))
}

func TestKeyForVariesOnParameters(t *testing.T) {
	c := New(nil)

	base := chatReq("hello")
	temp := chatReq("hello")
	v := float32(0.7)
	temp.Temperature = &v

	assert.NotEqual(t, c.keyFor(base), c.keyFor(temp))
}
