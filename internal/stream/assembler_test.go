// ABOUTME: Tests for content block assembly from engine event streams.
// ABOUTME: Covers delta merging, tool matching, unknown preservation, reset policy.

package stream

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/halyard-dev/halyard/internal/engine"
)

func textDelta(s string) *engine.Event {
	return &engine.Event{Kind: engine.KindTextDelta, Text: s}
}

func thinkingDelta(s string) *engine.Event {
	return &engine.Event{Kind: engine.KindThinkingDelta, Text: s}
}

func toolStart(id, name string) *engine.Event {
	return &engine.Event{Kind: engine.KindToolCallStart, ToolCall: &engine.ToolCallStart{
		ID: id, Name: name, Input: json.RawMessage(`{}`),
	}}
}

func toolResult(id, output string) *engine.Event {
	return &engine.Event{Kind: engine.KindToolCallResult, ToolResult: &engine.ToolCallResult{
		ID: id, Output: output,
	}}
}

func TestAssembler_MergesConsecutiveTextAndMatchesTool(t *testing.T) {
	a := New(nil)
	a.Reset("s1")

	// textDelta x3, toolCallStart, toolCallResult, done => exactly 2 blocks.
	for _, ev := range []*engine.Event{
		textDelta("one "), textDelta("two "), textDelta("three"),
		toolStart("t1", "Bash"), toolResult("t1", "ok"),
		{Kind: engine.KindDone},
	} {
		a.Apply("s1", ev)
	}

	blocks := a.Blocks("s1")
	require.Len(t, blocks, 2)

	assert.Equal(t, BlockText, blocks[0].Kind)
	assert.Equal(t, "one two three", blocks[0].Text)
	assert.Equal(t, 0, blocks[0].Index)

	require.Equal(t, BlockToolCall, blocks[1].Kind)
	require.NotNil(t, blocks[1].ToolCall)
	assert.Equal(t, "Bash", blocks[1].ToolCall.Name)
	assert.True(t, blocks[1].ToolCall.Completed)
	require.NotNil(t, blocks[1].ToolCall.Output)
	assert.Equal(t, "ok", *blocks[1].ToolCall.Output)

	assert.Equal(t, "one two three", a.Text("s1"))
}

func TestAssembler_TextAfterToolOpensNewBlock(t *testing.T) {
	a := New(nil)
	a.Reset("s1")

	a.Apply("s1", textDelta("before"))
	a.Apply("s1", toolStart("t1", "Read"))
	a.Apply("s1", textDelta("after"))

	blocks := a.Blocks("s1")
	require.Len(t, blocks, 3)
	assert.Equal(t, "before", blocks[0].Text)
	assert.Equal(t, BlockToolCall, blocks[1].Kind)
	assert.Equal(t, "after", blocks[2].Text)
}

func TestAssembler_ThinkingAndTextDoNotMerge(t *testing.T) {
	a := New(nil)
	a.Reset("s1")

	a.Apply("s1", thinkingDelta("hmm "))
	a.Apply("s1", thinkingDelta("ok"))
	a.Apply("s1", textDelta("answer"))

	blocks := a.Blocks("s1")
	require.Len(t, blocks, 2)
	assert.Equal(t, BlockThinking, blocks[0].Kind)
	assert.Equal(t, "hmm ok", blocks[0].Text)
	assert.Equal(t, BlockText, blocks[1].Kind)

	// Thinking stays out of the flat fallback text.
	assert.Equal(t, "answer", a.Text("s1"))
}

func TestAssembler_ActiveToolIndex(t *testing.T) {
	a := New(nil)
	a.Reset("s1")
	assert.Equal(t, -1, a.ActiveToolIndex("s1"))

	a.Apply("s1", toolStart("t1", "Bash"))
	a.Apply("s1", toolResult("t1", "ok"))
	a.Apply("s1", toolStart("t2", "Write"))

	assert.Equal(t, 1, a.ActiveToolIndex("s1"))

	a.Apply("s1", toolResult("t2", "done"))
	assert.Equal(t, -1, a.ActiveToolIndex("s1"))
}

func TestAssembler_UnknownEventPreserved(t *testing.T) {
	a := New(nil)
	a.Reset("s1")

	raw := json.RawMessage(`{"type":"usage_report","tokens":5}`)
	a.Apply("s1", &engine.Event{Kind: engine.KindUnknown, Raw: raw})

	blocks := a.Blocks("s1")
	require.Len(t, blocks, 1)
	assert.Equal(t, BlockUnknown, blocks[0].Kind)
	assert.True(t, blocks[0].Unsupported)
	assert.JSONEq(t, string(raw), string(blocks[0].Raw))
}

func TestAssembler_OrphanToolResultFlagged(t *testing.T) {
	a := New(nil)
	a.Reset("s1")

	a.Apply("s1", toolResult("ghost", "boo"))

	blocks := a.Blocks("s1")
	require.Len(t, blocks, 1)
	assert.True(t, blocks[0].Unsupported)
}

func TestAssembler_DuplicateToolIDAcrossRuns(t *testing.T) {
	a := New(nil)
	a.Reset("s1")
	a.Apply("s1", toolStart("t1", "Bash"))

	// New run: buffer clears, but ids stay unique for the session lifetime.
	a.Reset("s1")
	a.Apply("s1", toolStart("t1", "Bash"))

	blocks := a.Blocks("s1")
	require.Len(t, blocks, 1)
	assert.Equal(t, BlockUnknown, blocks[0].Kind)
	assert.True(t, blocks[0].Unsupported)
}

func TestAssembler_ResetClearsBufferOnly(t *testing.T) {
	a := New(nil)
	a.Reset("s1")
	a.Apply("s1", textDelta("old run"))

	a.Reset("s1")
	assert.Empty(t, a.Blocks("s1"))
	assert.Empty(t, a.Text("s1"))
}

func TestAssembler_EventBeforeResetIsKept(t *testing.T) {
	a := New(nil)

	// A fast first event arriving before any Reset must not be discarded.
	a.Apply("s1", textDelta("early"))

	blocks := a.Blocks("s1")
	require.Len(t, blocks, 1)
	assert.Equal(t, "early", blocks[0].Text)
}

func TestAssembler_SessionsAreIndependent(t *testing.T) {
	a := New(nil)
	a.Reset("s1")
	a.Reset("s2")

	a.Apply("s1", textDelta("for s1"))
	a.Apply("s2", toolStart("t1", "Bash"))

	assert.Len(t, a.Blocks("s1"), 1)
	assert.Len(t, a.Blocks("s2"), 1)
	assert.Equal(t, -1, a.ActiveToolIndex("s1"))
	assert.Equal(t, 0, a.ActiveToolIndex("s2"))
}
