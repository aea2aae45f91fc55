// ABOUTME: Tests for the approval gate: plan exits, denials, questions, skip semantics.
// ABOUTME: Includes the stale-denial clearing on plan approval and per-denial isolation.

package approval

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGate_PlanExitBlocksAndResolves(t *testing.T) {
	g := New(nil)
	assert.False(t, g.HasPending("s1"))

	g.NotePlanExit("s1", "t1", "# Refactor the parser\n\nSteps...")
	assert.Equal(t, KindPlan, g.Pending("s1"))

	plan, err := g.ResolvePlan("s1")
	require.NoError(t, err)
	assert.Equal(t, "t1", plan.ToolCallID)
	assert.Equal(t, "Refactor the parser", plan.Title)
	assert.False(t, g.HasPending("s1"))

	_, err = g.ResolvePlan("s1")
	assert.ErrorIs(t, err, ErrNoPendingPlan)
}

func TestGate_PlanApprovalClearsStaleDenials(t *testing.T) {
	g := New(nil)
	g.NoteDenials("s1", []PermissionDenial{{ToolCallID: "t1", ToolName: "Bash"}})
	g.NotePlanExit("s1", "t2", "# Plan")

	_, err := g.ResolvePlan("s1")
	require.NoError(t, err)

	// The old run's blocked tools are moot once a new run starts.
	assert.Empty(t, g.Denials("s1"))
	assert.False(t, g.HasPending("s1"))
}

func TestGate_DenialResolutionIsPerDenial(t *testing.T) {
	g := New(nil)
	g.NoteDenials("s1", []PermissionDenial{
		{ToolCallID: "t1", ToolName: "Bash"},
		{ToolCallID: "t2", ToolName: "Write"},
		{ToolCallID: "t3", ToolName: "Edit"},
	})

	d, err := g.ResolveDenial("s1", "t2", Deny)
	require.NoError(t, err)
	assert.Equal(t, "Write", d.ToolName)

	remaining := g.Denials("s1")
	require.Len(t, remaining, 2)
	assert.Equal(t, "t1", remaining[0].ToolCallID)
	assert.Equal(t, "t3", remaining[1].ToolCallID)
	assert.Equal(t, KindPermission, g.Pending("s1"))
}

func TestGate_ResolveDenialUnknownID(t *testing.T) {
	g := New(nil)
	g.NoteDenials("s1", []PermissionDenial{{ToolCallID: "t1", ToolName: "Bash"}})

	_, err := g.ResolveDenial("s1", "ghost", Approve)
	assert.ErrorIs(t, err, ErrDenialNotFound)

	_, err = g.ResolveDenial("other", "t1", Approve)
	assert.ErrorIs(t, err, ErrDenialNotFound)
}

func TestGate_ApproveForRunBuildsAllowlist(t *testing.T) {
	g := New(nil)
	g.NoteDenials("s1", []PermissionDenial{
		{ToolCallID: "t1", ToolName: "Bash"},
		{ToolCallID: "t2", ToolName: "Write"},
	})

	_, err := g.ResolveDenial("s1", "t1", ApproveForRun)
	require.NoError(t, err)
	_, err = g.ResolveDenial("s1", "t2", Approve)
	require.NoError(t, err)

	// Plain approve is a one-shot grant; only for-run approvals persist.
	assert.Equal(t, []string{"Bash"}, g.AllowedTools("s1"))
}

func TestGate_QuestionAnswerFlow(t *testing.T) {
	g := New(nil)
	payload := json.RawMessage(`{"question":"which db?"}`)
	g.NoteQuestion("s1", "q1", payload)
	assert.Equal(t, KindQuestion, g.Pending("s1"))

	_, err := g.AnswerQuestion("s1", "wrong-id", json.RawMessage(`{}`))
	assert.ErrorIs(t, err, ErrQuestionMismatch)

	answers := json.RawMessage(`{"choice":"sqlite"}`)
	q, err := g.AnswerQuestion("s1", "q1", answers)
	require.NoError(t, err)
	assert.JSONEq(t, string(payload), string(q.Payload))
	assert.False(t, g.HasPending("s1"))

	recorded := g.AnsweredQuestions("s1")
	require.Contains(t, recorded, "q1")
	assert.JSONEq(t, string(answers), string(recorded["q1"]))
}

func TestGate_SkipSuppressesLaterQuestions(t *testing.T) {
	g := New(nil)
	g.NoteQuestion("s1", "q1", nil)

	_, err := g.SkipQuestion("s1")
	require.NoError(t, err)
	assert.False(t, g.HasPending("s1"))

	// Later questions in the same run no longer block.
	g.NoteQuestion("s1", "q2", nil)
	assert.False(t, g.HasPending("s1"))

	// A fresh run re-enables question blocking.
	g.ClearRun("s1")
	g.NoteQuestion("s1", "q3", nil)
	assert.Equal(t, KindQuestion, g.Pending("s1"))
}

func TestGate_SkipWithNothingPending(t *testing.T) {
	g := New(nil)
	_, err := g.SkipQuestion("s1")
	assert.ErrorIs(t, err, ErrNoPendingQuestion)
}

func TestGate_ClearRunKeepsAnsweredQuestions(t *testing.T) {
	g := New(nil)
	g.NoteQuestion("s1", "q1", nil)
	_, err := g.AnswerQuestion("s1", "q1", json.RawMessage(`{"a":1}`))
	require.NoError(t, err)

	g.NoteDenials("s1", []PermissionDenial{{ToolCallID: "t1", ToolName: "Bash"}})
	g.ClearRun("s1")

	assert.False(t, g.HasPending("s1"))
	assert.Empty(t, g.AllowedTools("s1"))
	assert.Contains(t, g.AnsweredQuestions("s1"), "q1")
}

func TestGate_SessionsAreIsolated(t *testing.T) {
	g := New(nil)
	g.NotePlanExit("s1", "t1", "# A")
	assert.False(t, g.HasPending("s2"))

	g.Drop("s1")
	assert.False(t, g.HasPending("s1"))
}

func TestPlanTitle(t *testing.T) {
	tests := []struct {
		name string
		plan string
		want string
	}{
		{"first heading", "# Add caching layer\n\ndetails", "Add caching layer"},
		{"later heading", "intro text\n\n## Migration steps\n", "Migration steps"},
		{"no heading", "just do the thing\nmore", "just do the thing"},
		{"empty", "", ""},
		{"emphasis in heading", "# Fix *flaky* tests", "Fix  tests"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Title(tt.plan))
		})
	}
}
