package generate

import (
	"encoding/json"
	"fmt"
)

// EventType is the closed set of client event kinds.
type EventType string

const (
	EventThought EventType = "thought"
	EventText    EventType = "text"
	EventImage   EventType = "image"
	EventDone    EventType = "done"
	EventError   EventType = "error"
)

// Event is one client-facing stream event. Content is set for thought
// and text events, MimeType and Base64 for image events, Message for
// error events.
type Event struct {
	Type     EventType `json:"type"`
	Content  string    `json:"content,omitempty"`
	MimeType string    `json:"mimeType,omitempty"`
	Base64   string    `json:"base64,omitempty"`
	Message  string    `json:"message,omitempty"`
}

// SSE renders the event in server-sent-event framing: a single
// `data: <JSON>` line followed by a blank line.
func (e Event) SSE() []byte {
	payload, _ := json.Marshal(e)
	return []byte(fmt.Sprintf("data: %s\n\n", payload))
}
