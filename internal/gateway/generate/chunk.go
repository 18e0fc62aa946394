// Package generate turns heterogeneous upstream generation chunks into
// the ordered client-facing event sequence the gateway streams back.
package generate

// Chunk is one upstream response chunk. Parts may appear directly on
// the chunk or nested inside the first candidate's content; Parts
// resolves both shapes.
type Chunk struct {
	Parts         []Part        `json:"parts,omitempty"`
	Candidates    []Candidate   `json:"candidates,omitempty"`
	UsageMetadata UsageMetadata `json:"usageMetadata,omitempty"`
}

type Candidate struct {
	Content      Content `json:"content"`
	FinishReason string  `json:"finishReason,omitempty"`
}

type Content struct {
	Role  string `json:"role,omitempty"`
	Parts []Part `json:"parts,omitempty"`
}

// Part carries a textual projection, a binary projection, both, or
// neither; the two are evaluated independently.
type Part struct {
	Text       string      `json:"text,omitempty"`
	Thought    bool        `json:"thought,omitempty"`
	InlineData *InlineData `json:"inlineData,omitempty"`
}

// InlineData is a binary payload as it arrives on the wire: a declared
// mime type and base64 text.
type InlineData struct {
	MimeType string `json:"mimeType,omitempty"`
	Data     string `json:"data,omitempty"`
}

type UsageMetadata struct {
	PromptTokenCount     int `json:"promptTokenCount,omitempty"`
	CandidatesTokenCount int `json:"candidatesTokenCount,omitempty"`
	TotalTokenCount      int `json:"totalTokenCount,omitempty"`
}

// Stream yields upstream chunks one at a time and ends with io.EOF.
type Stream interface {
	Recv() (*Chunk, error)
	Close() error
}

// PartsOf extracts the part list from a chunk: the direct location
// first, then the first candidate's content, else none.
func PartsOf(chunk *Chunk) []Part {
	if chunk == nil {
		return nil
	}
	if len(chunk.Parts) > 0 {
		return chunk.Parts
	}
	if len(chunk.Candidates) > 0 {
		return chunk.Candidates[0].Content.Parts
	}
	return nil
}
