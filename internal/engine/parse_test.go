// ABOUTME: Tests for NDJSON event decoding.
// ABOUTME: Covers every known kind plus unknown-type passthrough and bad JSON.

package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEvent_TextDelta(t *testing.T) {
	ev, err := ParseEvent([]byte(`{"type":"text_delta","text":"hello"}`))
	require.NoError(t, err)
	assert.Equal(t, KindTextDelta, ev.Kind)
	assert.Equal(t, "hello", ev.Text)
}

func TestParseEvent_ThinkingDelta(t *testing.T) {
	ev, err := ParseEvent([]byte(`{"type":"thinking_delta","text":"hmm"}`))
	require.NoError(t, err)
	assert.Equal(t, KindThinkingDelta, ev.Kind)
	assert.Equal(t, "hmm", ev.Text)
}

func TestParseEvent_ToolCallStart(t *testing.T) {
	ev, err := ParseEvent([]byte(`{"type":"tool_call_start","id":"t1","name":"Bash","input":{"command":"ls"}}`))
	require.NoError(t, err)
	require.NotNil(t, ev.ToolCall)
	assert.Equal(t, "t1", ev.ToolCall.ID)
	assert.Equal(t, "Bash", ev.ToolCall.Name)
	assert.JSONEq(t, `{"command":"ls"}`, string(ev.ToolCall.Input))
}

func TestParseEvent_ToolCallResult(t *testing.T) {
	ev, err := ParseEvent([]byte(`{"type":"tool_call_result","id":"t1","output":"ok","is_error":false}`))
	require.NoError(t, err)
	require.NotNil(t, ev.ToolResult)
	assert.Equal(t, "t1", ev.ToolResult.ID)
	assert.Equal(t, "ok", ev.ToolResult.Output)
	assert.False(t, ev.ToolResult.IsError)
}

func TestParseEvent_PermissionDenied(t *testing.T) {
	line := `{"type":"permission_denied","denials":[{"tool_use_id":"t2","tool_name":"Write","tool_input":{"path":"x"}}]}`
	ev, err := ParseEvent([]byte(line))
	require.NoError(t, err)
	require.Len(t, ev.Denials, 1)
	assert.Equal(t, "t2", ev.Denials[0].ToolCallID)
	assert.Equal(t, "Write", ev.Denials[0].ToolName)
}

func TestParseEvent_Terminal(t *testing.T) {
	done, err := ParseEvent([]byte(`{"type":"done"}`))
	require.NoError(t, err)
	assert.True(t, done.Terminal())

	errEv, err := ParseEvent([]byte(`{"type":"error","message":"boom"}`))
	require.NoError(t, err)
	assert.True(t, errEv.Terminal())
	assert.Equal(t, "boom", errEv.ErrorMsg)

	text, err := ParseEvent([]byte(`{"type":"text_delta","text":"x"}`))
	require.NoError(t, err)
	assert.False(t, text.Terminal())
}

func TestParseEvent_UnknownKindPreserved(t *testing.T) {
	line := `{"type":"usage_report","input_tokens":12}`
	ev, err := ParseEvent([]byte(line))
	require.NoError(t, err)
	assert.Equal(t, KindUnknown, ev.Kind)
	assert.JSONEq(t, line, string(ev.Raw))
}

func TestParseEvent_InvalidJSON(t *testing.T) {
	_, err := ParseEvent([]byte(`{not json`))
	require.Error(t, err)
}
