// ABOUTME: Tracks pending irreversible approvals per session: plan exits, permission denials, questions.
// ABOUTME: Any unresolved item blocks queue draining and keeps the run from being considered finished.

package approval

import (
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
)

var (
	// ErrNoPendingPlan indicates no plan exit awaits approval for the session.
	ErrNoPendingPlan = errors.New("no pending plan approval")

	// ErrDenialNotFound indicates the tool call id is not in the pending denial set.
	ErrDenialNotFound = errors.New("permission denial not found")

	// ErrNoPendingQuestion indicates no question awaits an answer for the session.
	ErrNoPendingQuestion = errors.New("no pending question")

	// ErrQuestionMismatch indicates the answer targets a different question
	// than the one currently pending.
	ErrQuestionMismatch = errors.New("answer does not match pending question")
)

// Kind identifies which approval category is blocking a session.
type Kind string

const (
	KindNone       Kind = ""
	KindPlan       Kind = "plan"
	KindPermission Kind = "permission"
	KindQuestion   Kind = "question"
)

// PermissionDenial is one tool call the engine blocked pending a decision.
type PermissionDenial struct {
	ToolCallID string
	ToolName   string
	ToolInput  json.RawMessage
}

// PlanExit is a pending ExitPlanMode approval.
type PlanExit struct {
	ToolCallID string
	Plan       string // plan markdown as produced by the engine
	Title      string // first heading of the plan, for display and run naming
}

// Question is a pending AskUserQuestion awaiting a structured answer.
type Question struct {
	ToolCallID string
	Payload    json.RawMessage
}

// runState is the gate's view of one session's current run.
type runState struct {
	plan     *PlanExit
	denials  []PermissionDenial
	question *Question

	// questionsSkipped suppresses further question blocking for the rest of
	// the run once the user skips one.
	questionsSkipped bool

	// allowedTools accumulates approve-for-rest-of-run grants.
	allowedTools []string

	// answered maps tool call id to the submitted answer payload, for the
	// whole session lifetime (survives ClearRun).
	answered map[string]json.RawMessage
}

// Gate tracks pending approval state per session.
type Gate struct {
	mu       sync.Mutex
	sessions map[string]*runState
	logger   *slog.Logger
}

// New creates a Gate. Pass nil logger for the default.
func New(logger *slog.Logger) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{
		sessions: make(map[string]*runState),
		logger:   logger.With("component", "gate"),
	}
}

func (g *Gate) state(sessionID string) *runState {
	s, ok := g.sessions[sessionID]
	if !ok {
		s = &runState{answered: make(map[string]json.RawMessage)}
		g.sessions[sessionID] = s
	}
	return s
}

// NotePlanExit records an ExitPlanMode tool call awaiting approval.
func (g *Gate) NotePlanExit(sessionID, toolCallID, planMarkdown string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	s := g.state(sessionID)
	s.plan = &PlanExit{
		ToolCallID: toolCallID,
		Plan:       planMarkdown,
		Title:      Title(planMarkdown),
	}
	g.logger.Debug("plan exit pending", "session_id", sessionID, "tool_call_id", toolCallID)
}

// NoteDenials appends blocked tool calls to the session's pending denial set.
func (g *Gate) NoteDenials(sessionID string, denials []PermissionDenial) {
	if len(denials) == 0 {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	s := g.state(sessionID)
	s.denials = append(s.denials, denials...)
	g.logger.Debug("permission denials pending",
		"session_id", sessionID,
		"count", len(s.denials),
	)
}

// NoteQuestion records an AskUserQuestion tool call. Once the user has
// skipped a question in this run, later questions no longer block.
func (g *Gate) NoteQuestion(sessionID, toolCallID string, payload json.RawMessage) {
	g.mu.Lock()
	defer g.mu.Unlock()

	s := g.state(sessionID)
	if s.questionsSkipped {
		g.logger.Debug("question ignored after skip",
			"session_id", sessionID,
			"tool_call_id", toolCallID,
		)
		return
	}
	s.question = &Question{ToolCallID: toolCallID, Payload: payload}
}

// Pending returns the approval category currently blocking the session.
// At most one awaiting-state is active at a time because the engine executes
// tools serially, but the categories are checked in plan, permission,
// question order should a protocol hiccup ever leave more than one set.
func (g *Gate) Pending(sessionID string) Kind {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.pendingLocked(sessionID)
}

func (g *Gate) pendingLocked(sessionID string) Kind {
	s, ok := g.sessions[sessionID]
	if !ok {
		return KindNone
	}
	switch {
	case s.plan != nil:
		return KindPlan
	case len(s.denials) > 0:
		return KindPermission
	case s.question != nil:
		return KindQuestion
	default:
		return KindNone
	}
}

// HasPending reports whether any approval blocks the session.
func (g *Gate) HasPending(sessionID string) bool {
	return g.Pending(sessionID) != KindNone
}

// ResolvePlan clears and returns the pending plan exit. Stale permission
// denials from the same run are implicitly resolved: approving a plan starts
// a new run, so decisions about the old run's blocked tools are moot.
func (g *Gate) ResolvePlan(sessionID string) (*PlanExit, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	s, ok := g.sessions[sessionID]
	if !ok || s.plan == nil {
		return nil, ErrNoPendingPlan
	}
	plan := s.plan
	s.plan = nil
	if len(s.denials) > 0 {
		g.logger.Debug("plan approval clears stale denials",
			"session_id", sessionID,
			"count", len(s.denials),
		)
		s.denials = nil
	}
	return plan, nil
}

// Decision is the user's verdict on one permission denial.
type Decision int

const (
	Approve Decision = iota
	ApproveForRun
	Deny
)

// ResolveDenial removes exactly one denial from the pending set and returns
// it. Other denials from the same run are untouched. ApproveForRun also adds
// the tool name to the run's allowlist.
func (g *Gate) ResolveDenial(sessionID, toolCallID string, decision Decision) (*PermissionDenial, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	s, ok := g.sessions[sessionID]
	if !ok {
		return nil, ErrDenialNotFound
	}
	for i, d := range s.denials {
		if d.ToolCallID != toolCallID {
			continue
		}
		s.denials = append(s.denials[:i], s.denials[i+1:]...)
		if decision == ApproveForRun {
			s.allowedTools = append(s.allowedTools, d.ToolName)
		}
		return &d, nil
	}
	return nil, ErrDenialNotFound
}

// Denials returns a copy of the session's pending denial set.
func (g *Gate) Denials(sessionID string) []PermissionDenial {
	g.mu.Lock()
	defer g.mu.Unlock()

	s, ok := g.sessions[sessionID]
	if !ok {
		return nil
	}
	out := make([]PermissionDenial, len(s.denials))
	copy(out, s.denials)
	return out
}

// AnswerQuestion records the submitted answer for the pending question and
// clears it. The answer must target the currently pending question.
func (g *Gate) AnswerQuestion(sessionID, toolCallID string, answers json.RawMessage) (*Question, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	s, ok := g.sessions[sessionID]
	if !ok || s.question == nil {
		return nil, ErrNoPendingQuestion
	}
	if s.question.ToolCallID != toolCallID {
		return nil, ErrQuestionMismatch
	}
	q := s.question
	s.question = nil
	s.answered[toolCallID] = answers
	return q, nil
}

// SkipQuestion clears the pending question without an answer and suppresses
// question blocking for the remainder of the run.
func (g *Gate) SkipQuestion(sessionID string) (*Question, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	s, ok := g.sessions[sessionID]
	if !ok || s.question == nil {
		return nil, ErrNoPendingQuestion
	}
	q := s.question
	s.question = nil
	s.questionsSkipped = true
	return q, nil
}

// AnsweredQuestions returns a copy of the session's answered-question map.
func (g *Gate) AnsweredQuestions(sessionID string) map[string]json.RawMessage {
	g.mu.Lock()
	defer g.mu.Unlock()

	s, ok := g.sessions[sessionID]
	if !ok {
		return nil
	}
	out := make(map[string]json.RawMessage, len(s.answered))
	for k, v := range s.answered {
		out[k] = v
	}
	return out
}

// AllowedTools returns the run's accumulated approve-for-rest-of-run grants.
func (g *Gate) AllowedTools(sessionID string) []string {
	g.mu.Lock()
	defer g.mu.Unlock()

	s, ok := g.sessions[sessionID]
	if !ok {
		return nil
	}
	out := make([]string, len(s.allowedTools))
	copy(out, s.allowedTools)
	return out
}

// ClearRun resets per-run state at the start of a fresh run. Answered
// questions persist for the session lifetime; everything else is run-scoped.
func (g *Gate) ClearRun(sessionID string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	s, ok := g.sessions[sessionID]
	if !ok {
		return
	}
	s.plan = nil
	s.denials = nil
	s.question = nil
	s.questionsSkipped = false
	s.allowedTools = nil
}

// Drop removes all gate state for a session (archive/delete teardown).
func (g *Gate) Drop(sessionID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.sessions, sessionID)
}
