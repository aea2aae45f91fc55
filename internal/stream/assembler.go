// ABOUTME: Reassembles a per-session ordered engine event stream into content blocks.
// ABOUTME: Maintains a flat text fallback buffer and tool-call state keyed by id.

package stream

import (
	"encoding/json"
	"log/slog"
	"strings"
	"sync"

	"github.com/halyard-dev/halyard/internal/engine"
)

// BlockKind identifies the variant of a content block.
type BlockKind string

const (
	BlockText     BlockKind = "text"
	BlockThinking BlockKind = "thinking"
	BlockToolCall BlockKind = "tool_call"
	BlockUnknown  BlockKind = "unknown"
)

// ToolCall is the assembled state of one tool invocation.
type ToolCall struct {
	ID        string
	Name      string
	Input     json.RawMessage
	Output    *string // nil while the call is pending
	IsError   bool
	Completed bool
}

// Block is one typed, ordered unit of assistant output.
type Block struct {
	Kind  BlockKind
	Index int // arrival order within the run

	Text     string    // text and thinking variants
	ToolCall *ToolCall // tool_call variant

	// Unsupported marks blocks the client could not interpret: unknown event
	// kinds and protocol violations (orphan results, duplicate ids). They are
	// kept in place so nothing the engine said is lost.
	Unsupported bool
	Raw         json.RawMessage
}

// buffer holds one session's in-progress run.
type buffer struct {
	blocks    []*Block
	text      strings.Builder
	toolIndex map[string]int // toolCallID -> block index for the current run
}

// Assembler converts engine event streams into ordered content blocks,
// one buffer per session. Reset is the only way a buffer is cleared: the
// send pipeline resets at beginSend, never reactively on event arrival,
// so a fast out-of-order first event cannot discard prior content.
type Assembler struct {
	mu       sync.Mutex
	sessions map[string]*buffer
	// seenTools tracks tool-call ids for the whole session lifetime; ids must
	// be unique per session, not just per run.
	seenTools map[string]map[string]bool
	logger    *slog.Logger
}

// New creates an Assembler. Pass nil logger for the default.
func New(logger *slog.Logger) *Assembler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Assembler{
		sessions:  make(map[string]*buffer),
		seenTools: make(map[string]map[string]bool),
		logger:    logger.With("component", "assembler"),
	}
}

// Reset clears the session's buffer for a new run.
func (a *Assembler) Reset(sessionID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sessions[sessionID] = &buffer{toolIndex: make(map[string]int)}
}

// Drop discards all state for a session, including the lifetime tool-id set.
func (a *Assembler) Drop(sessionID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.sessions, sessionID)
	delete(a.seenTools, sessionID)
}

// buf returns the session's buffer, creating it if the first event beats the
// Reset (the buffer is still only ever cleared by Reset).
func (a *Assembler) buf(sessionID string) *buffer {
	b, ok := a.sessions[sessionID]
	if !ok {
		b = &buffer{toolIndex: make(map[string]int)}
		a.sessions[sessionID] = b
	}
	return b
}

// Apply folds one engine event into the session's buffer.
// Events that carry no content (permission_denied, done, error) are ignored.
func (a *Assembler) Apply(sessionID string, ev *engine.Event) {
	a.mu.Lock()
	defer a.mu.Unlock()

	b := a.buf(sessionID)

	switch ev.Kind {
	case engine.KindTextDelta:
		b.text.WriteString(ev.Text)
		a.appendDelta(b, BlockText, ev.Text)

	case engine.KindThinkingDelta:
		a.appendDelta(b, BlockThinking, ev.Text)

	case engine.KindToolCallStart:
		a.applyToolStart(sessionID, b, ev)

	case engine.KindToolCallResult:
		a.applyToolResult(sessionID, b, ev)

	case engine.KindUnknown:
		b.blocks = append(b.blocks, &Block{
			Kind:        BlockUnknown,
			Index:       len(b.blocks),
			Unsupported: true,
			Raw:         ev.Raw,
		})

	case engine.KindPermissionDenied, engine.KindDone, engine.KindError:
		// Handled by the gate and the registry, not the assembler.
	}
}

// appendDelta merges a delta into the open block of the same kind, or opens one.
func (a *Assembler) appendDelta(b *buffer, kind BlockKind, text string) {
	if n := len(b.blocks); n > 0 && b.blocks[n-1].Kind == kind {
		b.blocks[n-1].Text += text
		return
	}
	b.blocks = append(b.blocks, &Block{Kind: kind, Index: len(b.blocks), Text: text})
}

func (a *Assembler) applyToolStart(sessionID string, b *buffer, ev *engine.Event) {
	seen := a.seenTools[sessionID]
	if seen == nil {
		seen = make(map[string]bool)
		a.seenTools[sessionID] = seen
	}

	if seen[ev.ToolCall.ID] {
		// Id reuse is a protocol violation; keep the event but flag it.
		a.logger.Warn("duplicate tool call id",
			"session_id", sessionID,
			"tool_call_id", ev.ToolCall.ID,
		)
		b.blocks = append(b.blocks, &Block{
			Kind:        BlockUnknown,
			Index:       len(b.blocks),
			Unsupported: true,
			Raw:         ev.ToolCall.Input,
		})
		return
	}
	seen[ev.ToolCall.ID] = true

	b.toolIndex[ev.ToolCall.ID] = len(b.blocks)
	b.blocks = append(b.blocks, &Block{
		Kind:  BlockToolCall,
		Index: len(b.blocks),
		ToolCall: &ToolCall{
			ID:    ev.ToolCall.ID,
			Name:  ev.ToolCall.Name,
			Input: ev.ToolCall.Input,
		},
	})
}

func (a *Assembler) applyToolResult(sessionID string, b *buffer, ev *engine.Event) {
	idx, ok := b.toolIndex[ev.ToolResult.ID]
	if !ok {
		a.logger.Warn("tool result for unknown call",
			"session_id", sessionID,
			"tool_call_id", ev.ToolResult.ID,
		)
		b.blocks = append(b.blocks, &Block{
			Kind:        BlockUnknown,
			Index:       len(b.blocks),
			Unsupported: true,
		})
		return
	}
	tc := b.blocks[idx].ToolCall
	output := ev.ToolResult.Output
	tc.Output = &output
	tc.IsError = ev.ToolResult.IsError
	tc.Completed = true
}

// Text returns the session's flat text buffer (fallback rendering).
func (a *Assembler) Text(sessionID string) string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if b, ok := a.sessions[sessionID]; ok {
		return b.text.String()
	}
	return ""
}

// Blocks returns a copy of the session's assembled blocks in arrival order.
func (a *Assembler) Blocks(sessionID string) []Block {
	a.mu.Lock()
	defer a.mu.Unlock()

	b, ok := a.sessions[sessionID]
	if !ok {
		return nil
	}
	out := make([]Block, len(b.blocks))
	for i, blk := range b.blocks {
		out[i] = *blk
		if blk.ToolCall != nil {
			tc := *blk.ToolCall
			out[i].ToolCall = &tc
		}
	}
	return out
}

// ActiveToolIndex returns the block index of the most recent incomplete tool
// call, or -1 when none is pending. This is the single spinner anchor.
func (a *Assembler) ActiveToolIndex(sessionID string) int {
	a.mu.Lock()
	defer a.mu.Unlock()

	b, ok := a.sessions[sessionID]
	if !ok {
		return -1
	}
	for i := len(b.blocks) - 1; i >= 0; i-- {
		if tc := b.blocks[i].ToolCall; tc != nil && !tc.Completed {
			return i
		}
	}
	return -1
}
