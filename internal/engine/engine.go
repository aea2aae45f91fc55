// ABOUTME: Event model and Engine interface for the agent engine collaborator.
// ABOUTME: The engine is an opaque streaming service; halyard only consumes its events.

package engine

import (
	"context"
	"encoding/json"
	"errors"
)

// ErrEngineBusy indicates a run is already in flight for the session.
var ErrEngineBusy = errors.New("engine already running for session")

// Kind identifies the type of an engine event.
type Kind string

const (
	KindTextDelta        Kind = "text_delta"
	KindThinkingDelta    Kind = "thinking_delta"
	KindToolCallStart    Kind = "tool_call_start"
	KindToolCallResult   Kind = "tool_call_result"
	KindPermissionDenied Kind = "permission_denied"
	KindDone             Kind = "done"
	KindError            Kind = "error"

	// KindUnknown marks events whose type the client does not recognize.
	// The engine's schema may evolve ahead of this client; unknown events
	// are preserved and surfaced, never dropped.
	KindUnknown Kind = "unknown"
)

// ToolCallStart announces a tool invocation by the engine.
type ToolCallStart struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

// ToolCallResult carries the output of a previously started tool call.
type ToolCallResult struct {
	ID      string `json:"id"`
	Output  string `json:"output"`
	IsError bool   `json:"is_error"`
}

// Denial describes a single tool call the engine blocked pending approval.
type Denial struct {
	ToolCallID string          `json:"tool_use_id"`
	ToolName   string          `json:"tool_name"`
	ToolInput  json.RawMessage `json:"tool_input"`
}

// Event is one element of a run's ordered event stream.
// Exactly one payload field is populated, selected by Kind.
type Event struct {
	Kind       Kind
	Text       string          // text_delta, thinking_delta
	ToolCall   *ToolCallStart  // tool_call_start
	ToolResult *ToolCallResult // tool_call_result
	Denials    []Denial        // permission_denied
	ErrorMsg   string          // error
	Raw        json.RawMessage // original line, retained for unknown kinds
}

// Terminal reports whether the event ends the run's stream.
func (e *Event) Terminal() bool {
	return e.Kind == KindDone || e.Kind == KindError
}

// SendConfig is the immutable per-run configuration handed to the engine.
// It is captured by the send pipeline at dispatch time and never read from
// shared mutable state afterwards.
type SendConfig struct {
	Model         string
	Provider      string
	Backend       string
	ExecutionMode string // plan, build, yolo
	ThinkingLevel string
	EffortLevel   string
	AllowedTools  []string // per-run allowlist from approve-for-rest-of-run
	MCPServers    []string
}

// SendRequest describes one run to dispatch.
type SendRequest struct {
	SessionID string
	Prompt    string
	Config    SendConfig
}

// Engine is the external agent engine. Send starts a run and returns the
// ordered event stream for it; the channel is closed after a terminal event.
// Cancel requests cooperative cancellation and reports whether a running
// process was actually interrupted.
type Engine interface {
	Send(ctx context.Context, req *SendRequest) (<-chan *Event, error)
	Cancel(sessionID string) bool
}
