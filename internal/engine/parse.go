// ABOUTME: NDJSON event decoding for the engine's stream-json output.
// ABOUTME: Unknown event types are preserved as KindUnknown, never discarded.

package engine

import (
	"encoding/json"
	"fmt"
)

// wireEvent is the union shape of one NDJSON line from the engine.
type wireEvent struct {
	Type    string          `json:"type"`
	Text    string          `json:"text,omitempty"`
	ID      string          `json:"id,omitempty"`
	Name    string          `json:"name,omitempty"`
	Input   json.RawMessage `json:"input,omitempty"`
	Output  string          `json:"output,omitempty"`
	IsError bool            `json:"is_error,omitempty"`
	Denials []Denial        `json:"denials,omitempty"`
	Message string          `json:"message,omitempty"`
}

// ParseEvent decodes one NDJSON line into an Event.
// A line that is not valid JSON is an error; a valid line with an
// unrecognized type is NOT — it becomes a KindUnknown event with the raw
// payload attached, so schema additions on the engine side degrade gracefully.
func ParseEvent(line []byte) (*Event, error) {
	var w wireEvent
	if err := json.Unmarshal(line, &w); err != nil {
		return nil, fmt.Errorf("decoding event: %w", err)
	}

	switch Kind(w.Type) {
	case KindTextDelta, KindThinkingDelta:
		return &Event{Kind: Kind(w.Type), Text: w.Text}, nil

	case KindToolCallStart:
		return &Event{Kind: KindToolCallStart, ToolCall: &ToolCallStart{
			ID:    w.ID,
			Name:  w.Name,
			Input: w.Input,
		}}, nil

	case KindToolCallResult:
		return &Event{Kind: KindToolCallResult, ToolResult: &ToolCallResult{
			ID:      w.ID,
			Output:  w.Output,
			IsError: w.IsError,
		}}, nil

	case KindPermissionDenied:
		return &Event{Kind: KindPermissionDenied, Denials: w.Denials}, nil

	case KindDone:
		return &Event{Kind: KindDone}, nil

	case KindError:
		return &Event{Kind: KindError, ErrorMsg: w.Message}, nil

	default:
		raw := make(json.RawMessage, len(line))
		copy(raw, line)
		return &Event{Kind: KindUnknown, Raw: raw}, nil
	}
}
