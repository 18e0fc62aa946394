package generate

import (
	"encoding/base64"
	"errors"
	"io"
	"strings"
)

const defaultMimeType = "image/png"

// ErrEmptyResult is returned when a non-streaming response carried no
// binary payload in any part.
var ErrEmptyResult = errors.New("generation returned no image parts")

// Sink consumes one event at a time. Returning an error stops the
// multiplexer; the sink is how client disconnects propagate back.
type Sink func(Event) error

// Result is the synchronous (non-streaming) aggregation of a response.
type Result struct {
	MimeType string
	Data     []byte
	Texts    []string
	Thoughts []string
}

// resolveMimeType keeps a declared image mime type and defaults
// everything else to image/png.
func resolveMimeType(declared string) string {
	if strings.HasPrefix(declared, "image/") {
		return declared
	}
	return defaultMimeType
}

// decodeInline normalizes a binary projection to canonical bytes.
// Values that do not decode as base64 are skipped, not errors.
func decodeInline(inline *InlineData) []byte {
	if inline == nil || inline.Data == "" {
		return nil
	}
	data, err := base64.StdEncoding.DecodeString(inline.Data)
	if err != nil {
		if data, err = base64.RawStdEncoding.DecodeString(inline.Data); err != nil {
			return nil
		}
	}
	if len(data) == 0 {
		return nil
	}
	return data
}

// PartEvents projects one part onto client events. The textual and
// binary projections are independent: a part may yield zero, one, or
// two events.
func PartEvents(part Part) []Event {
	var events []Event

	if part.Text != "" {
		kind := EventText
		if part.Thought {
			kind = EventThought
		}
		events = append(events, Event{Type: kind, Content: part.Text})
	}

	if data := decodeInline(part.InlineData); data != nil {
		mimeType := ""
		if part.InlineData != nil {
			mimeType = part.InlineData.MimeType
		}
		events = append(events, Event{
			Type:     EventImage,
			MimeType: resolveMimeType(mimeType),
			Base64:   base64.StdEncoding.EncodeToString(data),
		})
	}

	return events
}

// Multiplex drives an upstream stream to completion, emitting events to
// the sink. Exactly one done event or one error event terminates the
// sequence; an upstream failure mid-stream becomes the error event
// rather than escaping. The stream is always closed, and close
// failures are swallowed.
func Multiplex(stream Stream, sink Sink) {
	defer func() {
		_ = stream.Close()
	}()

	for {
		chunk, err := stream.Recv()
		if err == io.EOF {
			_ = sink(Event{Type: EventDone})
			return
		}
		if err != nil {
			_ = sink(Event{Type: EventError, Message: err.Error()})
			return
		}

		for _, part := range PartsOf(chunk) {
			for _, event := range PartEvents(part) {
				if sink(event) != nil {
					// Client gone; stop pulling upstream chunks.
					return
				}
			}
		}
	}
}

// Collect aggregates a single non-streaming response: all texts and
// thoughts in order, and the first binary payload encountered. Parts
// after the first image are not scanned.
func Collect(chunk *Chunk) (*Result, error) {
	result := &Result{MimeType: defaultMimeType}

	for _, part := range PartsOf(chunk) {
		if part.Text != "" {
			if part.Thought {
				result.Thoughts = append(result.Thoughts, part.Text)
			} else {
				result.Texts = append(result.Texts, part.Text)
			}
		}

		data := decodeInline(part.InlineData)
		if data == nil {
			continue
		}
		if part.InlineData.MimeType != "" {
			result.MimeType = resolveMimeType(part.InlineData.MimeType)
		}
		result.Data = data
		break
	}

	if result.Data == nil {
		return nil, ErrEmptyResult
	}
	return result, nil
}
