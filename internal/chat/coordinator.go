// ABOUTME: The send pipeline: composes engine, store, registry, queue, gate, and assembler.
// ABOUTME: All dispatch decisions are serialized through one mutex so idle+gate checks are atomic.

package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/halyard-dev/halyard/internal/approval"
	"github.com/halyard-dev/halyard/internal/engine"
	"github.com/halyard-dev/halyard/internal/notify"
	"github.com/halyard-dev/halyard/internal/queue"
	"github.com/halyard-dev/halyard/internal/registry"
	"github.com/halyard-dev/halyard/internal/store"
	"github.com/halyard-dev/halyard/internal/stream"
)

var (
	// ErrEmptySubmission indicates the submitted text and attachments were both empty.
	ErrEmptySubmission = errors.New("nothing to send")

	// ErrSessionNotFound indicates the target session no longer exists in the store.
	ErrSessionNotFound = errors.New("session not found")

	// ErrSessionBusy indicates an operation that requires an idle session was
	// attempted while a run was in flight or an approval was pending.
	ErrSessionBusy = errors.New("session is busy")
)

// Blocking tool names. When the engine invokes one of these the run ends and
// the gate holds the session until the user responds.
const (
	toolExitPlanMode    = "ExitPlanMode"
	toolAskUserQuestion = "AskUserQuestion"
)

// Options configures a Coordinator.
type Options struct {
	WorkDir  string
	Defaults Defaults
	// SuppressThinkingOutsidePlan blanks the thinking level for build and
	// yolo runs.
	SuppressThinkingOutsidePlan bool
	Logger                      *slog.Logger
}

// SubmitResult reports what happened to a submission.
type SubmitResult struct {
	Queued          bool
	QueuedMessageID string // set when Queued
}

// Coordinator is the single owner of session run lifecycles. Every message,
// cancellation, and approval decision flows through it.
type Coordinator struct {
	engine    engine.Engine
	store     store.Store
	registry  *registry.Registry
	queue     *queue.Queue
	gate      *approval.Gate
	assembler *stream.Assembler
	notifier  *notify.Broadcaster

	workDir          string
	defaults         Defaults
	suppressThinking bool
	logger           *slog.Logger

	// mu serializes dispatch decisions: the idle check, the gate check, and
	// the dispatch itself happen under one lock so two submissions can never
	// both see an idle session.
	mu         sync.Mutex
	lastPrompt map[string]string
	cancelled  map[string]bool
	// runGen is bumped on every dispatch and by the cancel repair path. A
	// run loop may only close out the run whose generation it was started
	// with, so a stale stream ending cannot finish a newer run.
	runGen map[string]uint64
}

// NewCoordinator wires the send pipeline together.
func NewCoordinator(eng engine.Engine, st store.Store, opts Options) *Coordinator {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "chat")

	return &Coordinator{
		engine:           eng,
		store:            st,
		registry:         registry.New(logger),
		queue:            queue.New(),
		gate:             approval.New(logger),
		assembler:        stream.New(logger),
		notifier:         notify.NewBroadcaster(logger),
		workDir:          opts.WorkDir,
		defaults:         opts.Defaults,
		suppressThinking: opts.SuppressThinkingOutsidePlan,
		logger:           logger,
		lastPrompt:       make(map[string]string),
		cancelled:        make(map[string]bool),
		runGen:           make(map[string]uint64),
	}
}

// Registry exposes run state snapshots for observers.
func (c *Coordinator) Registry() *registry.Registry { return c.registry }

// Gate exposes pending approval state for observers.
func (c *Coordinator) Gate() *approval.Gate { return c.gate }

// Assembler exposes assembled run content for observers.
func (c *Coordinator) Assembler() *stream.Assembler { return c.assembler }

// Queue exposes the message queue for observers.
func (c *Coordinator) Queue() *queue.Queue { return c.queue }

// Subscribe registers for state updates on a session.
func (c *Coordinator) Subscribe(ctx context.Context, sessionID string) (<-chan notify.Update, string) {
	return c.notifier.Subscribe(ctx, sessionID)
}

// Close shuts down the update broadcaster.
func (c *Coordinator) Close() {
	c.notifier.Close()
}

// Submit accepts a user message for a session. If the session is idle and no
// approval is pending the message dispatches immediately; otherwise it joins
// the session's FIFO queue with a config snapshot taken now.
func (c *Coordinator) Submit(ctx context.Context, sessionID, text string, attachments []store.Attachment) (*SubmitResult, error) {
	text = strings.TrimSpace(text)
	if text == "" && len(attachments) == 0 {
		return nil, ErrEmptySubmission
	}

	sess, err := c.store.GetSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("loading session: %w", err)
	}

	// The draft and pending attachments belong to this submission no matter
	// what happens next; flush them at the boundary.
	pending, err := c.store.TakeAttachments(ctx, sessionID)
	if err != nil {
		c.logger.Warn("taking pending attachments failed", "session_id", sessionID, "error", err)
	}
	attachments = append(pending, attachments...)
	if err := c.store.ClearDraft(ctx, sessionID); err != nil {
		c.logger.Warn("clearing draft failed", "session_id", sessionID, "error", err)
	}

	if err := c.saveUserMessage(ctx, sessionID, text); err != nil {
		c.logger.Warn("persisting user message failed", "session_id", sessionID, "error", err)
	}

	snapshot := c.buildSnapshot(sess)

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.registry.IsSending(sessionID) || c.gate.HasPending(sessionID) {
		msg := c.queue.Enqueue(sessionID, text, attachments, snapshot)
		c.publishLocked(sessionID)
		return &SubmitResult{Queued: true, QueuedMessageID: msg.ID}, nil
	}

	if err := c.dispatchLocked(ctx, sessionID, promptWithAttachments(text, attachments), snapshot, true); err != nil {
		return nil, err
	}
	return &SubmitResult{}, nil
}

// promptWithAttachments folds attachment references into the prompt so the
// engine sees them as part of the message.
func promptWithAttachments(text string, attachments []store.Attachment) string {
	if len(attachments) == 0 {
		return text
	}
	var b strings.Builder
	b.WriteString(text)
	for _, att := range attachments {
		b.WriteString("\n@")
		b.WriteString(att.Path)
	}
	return b.String()
}

// Cancel interrupts the session's in-flight run. Cancelling an idle session
// is a no-op. Partially streamed content is kept and persisted as a
// cancelled message.
func (c *Coordinator) Cancel(ctx context.Context, sessionID string) error {
	c.mu.Lock()
	if !c.registry.IsSending(sessionID) {
		c.mu.Unlock()
		return nil
	}
	c.cancelled[sessionID] = true
	c.mu.Unlock()

	if c.engine.Cancel(sessionID) {
		// The run loop observes the stream ending and finishes the run.
		return nil
	}

	// The engine had nothing running but the registry still says sending:
	// the terminal event and the cancel raced. Repair the flag here instead
	// of leaving the session stuck.
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.registry.IsSending(sessionID) {
		c.logger.Warn("cancel found no running process, forcing idle", "session_id", sessionID)
		// The interrupted run's loop must not close out whatever dispatches
		// next; retire its generation here.
		c.runGen[sessionID]++
		c.registry.ForceIdle(sessionID)
		delete(c.cancelled, sessionID)
		c.persistRunLocked(ctx, sessionID, true)
		c.publishLocked(sessionID)
		c.drainLocked(ctx, sessionID)
	}
	return nil
}

// ApprovePlan approves the pending plan exit and starts a build-mode run
// whose prompt is the (possibly edited) plan text.
func (c *Coordinator) ApprovePlan(ctx context.Context, sessionID, editedPlan string) error {
	return c.approvePlan(ctx, sessionID, editedPlan, "build")
}

// ApprovePlanYolo approves the pending plan exit and starts the
// implementation run with all permission prompts bypassed.
func (c *Coordinator) ApprovePlanYolo(ctx context.Context, sessionID, editedPlan string) error {
	return c.approvePlan(ctx, sessionID, editedPlan, "yolo")
}

func (c *Coordinator) approvePlan(ctx context.Context, sessionID, editedPlan, mode string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Resolving the plan consumes it. The plan is noted when the tool call
	// arrives, which can be before the run's stream closes; refuse until the
	// run is over so a lost dispatch cannot eat the approval.
	if c.registry.IsSending(sessionID) {
		return ErrSessionBusy
	}

	plan, err := c.gate.ResolvePlan(sessionID)
	if err != nil {
		return err
	}

	prompt := editedPlan
	if strings.TrimSpace(prompt) == "" {
		prompt = plan.Plan
	}

	// The session moves to the implementation mode so subsequent sends
	// inherit it.
	if err := c.setSessionMode(ctx, sessionID, mode); err != nil {
		c.logger.Warn("updating session mode failed", "session_id", sessionID, "error", err)
	}

	sess, err := c.store.GetSession(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("loading session: %w", err)
	}
	snapshot := c.buildSnapshot(sess)
	snapshot.ExecutionMode = mode

	return c.dispatchAndDrainLocked(ctx, sessionID, prompt, snapshot, true)
}

// ApprovePermission approves a single blocked tool call for one use and
// resumes the run once no other approval is pending.
func (c *Coordinator) ApprovePermission(ctx context.Context, sessionID, toolCallID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.registry.IsSending(sessionID) {
		return ErrSessionBusy
	}
	denial, err := c.gate.ResolveDenial(sessionID, toolCallID, approval.Approve)
	if err != nil {
		return err
	}
	return c.resumeAfterDenialLocked(ctx, sessionID, denial.ToolName)
}

// ApprovePermissionForRun approves a blocked tool call and allows the tool
// for the remainder of the run.
func (c *Coordinator) ApprovePermissionForRun(ctx context.Context, sessionID, toolCallID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.registry.IsSending(sessionID) {
		return ErrSessionBusy
	}
	if _, err := c.gate.ResolveDenial(sessionID, toolCallID, approval.ApproveForRun); err != nil {
		return err
	}
	// The gate's run allowlist already carries the tool name.
	return c.resumeAfterDenialLocked(ctx, sessionID, "")
}

// DenyPermission rejects a blocked tool call. The run is not resumed; the
// session becomes available for new messages (and queued ones drain).
func (c *Coordinator) DenyPermission(ctx context.Context, sessionID, toolCallID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.registry.IsSending(sessionID) {
		return ErrSessionBusy
	}
	if _, err := c.gate.ResolveDenial(sessionID, toolCallID, approval.Deny); err != nil {
		return err
	}

	c.publishLocked(sessionID)
	c.drainLocked(ctx, sessionID)
	return nil
}

// resumeAfterDenialLocked re-dispatches the interrupted run when the approval
// just granted was the last thing blocking it. Other same-run denials keep
// the session gated until each is decided. Caller holds c.mu.
func (c *Coordinator) resumeAfterDenialLocked(ctx context.Context, sessionID, approvedTool string) error {
	if c.gate.HasPending(sessionID) {
		c.publishLocked(sessionID)
		return nil
	}

	prompt := c.lastPrompt[sessionID]
	sess, err := c.store.GetSession(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("loading session: %w", err)
	}
	snapshot := c.buildSnapshot(sess)
	snapshot.AllowedTools = c.gate.AllowedTools(sessionID)
	if approvedTool != "" {
		snapshot.AllowedTools = append(snapshot.AllowedTools, approvedTool)
	}

	// Resume continues the same logical run: run-scoped gate state
	// (the allowlist in particular) must survive.
	return c.dispatchAndDrainLocked(ctx, sessionID, prompt, snapshot, false)
}

// AnswerQuestion submits the structured answers for the pending question and
// resumes the run with the answers as its prompt.
func (c *Coordinator) AnswerQuestion(ctx context.Context, sessionID, toolCallID string, answers json.RawMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.registry.IsSending(sessionID) {
		return ErrSessionBusy
	}
	if _, err := c.gate.AnswerQuestion(sessionID, toolCallID, answers); err != nil {
		return err
	}

	sess, err := c.store.GetSession(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("loading session: %w", err)
	}
	snapshot := c.buildSnapshot(sess)
	snapshot.AllowedTools = c.gate.AllowedTools(sessionID)
	return c.dispatchAndDrainLocked(ctx, sessionID, string(answers), snapshot, false)
}

// SkipQuestion dismisses the pending question and resumes the run. Later
// questions in the same run no longer block.
func (c *Coordinator) SkipQuestion(ctx context.Context, sessionID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.registry.IsSending(sessionID) {
		return ErrSessionBusy
	}
	if _, err := c.gate.SkipQuestion(sessionID); err != nil {
		return err
	}

	sess, err := c.store.GetSession(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("loading session: %w", err)
	}
	snapshot := c.buildSnapshot(sess)
	prompt := c.lastPrompt[sessionID]
	snapshot.AllowedTools = c.gate.AllowedTools(sessionID)
	return c.dispatchAndDrainLocked(ctx, sessionID, prompt, snapshot, false)
}

// RemoveQueued deletes a message from the session's queue.
func (c *Coordinator) RemoveQueued(sessionID, messageID string) error {
	if err := c.queue.Remove(sessionID, messageID); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.publishLocked(sessionID)
	return nil
}

// ForceSendQueued promotes a queued message to the head and dispatches it
// immediately. Refused while a run is in flight. A pending approval does not
// refuse it: forcing a send is an explicit user override, and the stale
// approval items from the interrupted run are discarded with the fresh run.
func (c *Coordinator) ForceSendQueued(ctx context.Context, sessionID, messageID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.registry.IsSending(sessionID) {
		return ErrSessionBusy
	}
	if err := c.queue.Promote(sessionID, messageID); err != nil {
		return err
	}
	msg := c.queue.Pop(sessionID)
	return c.dispatchAndDrainLocked(ctx, sessionID, promptWithAttachments(msg.Text, msg.Attachments), msg.Snapshot, true)
}

// DropSession tears down all in-memory state for a deleted session.
func (c *Coordinator) DropSession(sessionID string) {
	c.engine.Cancel(sessionID)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.registry.Drop(sessionID)
	c.gate.Drop(sessionID)
	c.queue.Drop(sessionID)
	c.assembler.Drop(sessionID)
	delete(c.lastPrompt, sessionID)
	delete(c.cancelled, sessionID)
	delete(c.runGen, sessionID)
}

// dispatchLocked starts an engine run. Caller holds c.mu. freshRun resets
// run-scoped gate state; resume dispatches keep it.
func (c *Coordinator) dispatchLocked(ctx context.Context, sessionID, prompt string, snapshot engine.SendConfig, freshRun bool) error {
	if !c.registry.BeginSend(sessionID, snapshot.ExecutionMode) {
		return ErrSessionBusy
	}
	c.runGen[sessionID]++
	gen := c.runGen[sessionID]
	if freshRun {
		c.gate.ClearRun(sessionID)
	}
	c.assembler.Reset(sessionID)
	c.lastPrompt[sessionID] = prompt
	delete(c.cancelled, sessionID)

	events, err := c.engine.Send(ctx, &engine.SendRequest{
		SessionID: sessionID,
		Prompt:    prompt,
		Config:    snapshot,
	})
	if err != nil {
		// Dispatch failure must not poison the queue: clear the sending
		// flag, record the error, and let the next message through.
		c.logger.Error("engine dispatch failed", "session_id", sessionID, "error", err)
		c.registry.RecordError(sessionID, err)
		c.registry.CompleteSend(sessionID)
		c.registry.MarkResumable(sessionID)
		c.publishLocked(sessionID)
		return fmt.Errorf("dispatching to engine: %w", err)
	}

	c.publishLocked(sessionID)
	go c.runLoop(sessionID, gen, events)
	return nil
}

// dispatchAndDrainLocked dispatches and, when the dispatch itself fails,
// immediately lets messages queued behind it advance. Caller holds c.mu.
func (c *Coordinator) dispatchAndDrainLocked(ctx context.Context, sessionID, prompt string, snapshot engine.SendConfig, freshRun bool) error {
	err := c.dispatchLocked(ctx, sessionID, prompt, snapshot, freshRun)
	if err != nil && !errors.Is(err, ErrSessionBusy) {
		c.drainLocked(ctx, sessionID)
	}
	return err
}

// runLoop consumes one run's event stream and feeds the assembler, the gate,
// and the registry. It exits when the stream ends.
func (c *Coordinator) runLoop(sessionID string, gen uint64, events <-chan *engine.Event) {
	for ev := range events {
		c.assembler.Apply(sessionID, ev)

		switch ev.Kind {
		case engine.KindToolCallStart:
			c.noteBlockingTool(sessionID, ev.ToolCall)
		case engine.KindPermissionDenied:
			denials := make([]approval.PermissionDenial, 0, len(ev.Denials))
			for _, d := range ev.Denials {
				denials = append(denials, approval.PermissionDenial{
					ToolCallID: d.ToolCallID,
					ToolName:   d.ToolName,
					ToolInput:  d.ToolInput,
				})
			}
			c.gate.NoteDenials(sessionID, denials)
		case engine.KindError:
			c.registry.RecordError(sessionID, errors.New(ev.ErrorMsg))
		}
	}
	c.finishRun(sessionID, gen)
}

// noteBlockingTool records gate state for tools that end the run and wait on
// the user.
func (c *Coordinator) noteBlockingTool(sessionID string, tc *engine.ToolCallStart) {
	if tc == nil {
		return
	}
	switch tc.Name {
	case toolExitPlanMode:
		var input struct {
			Plan string `json:"plan"`
		}
		if err := json.Unmarshal(tc.Input, &input); err != nil {
			c.logger.Warn("unparseable plan input", "session_id", sessionID, "error", err)
		}
		c.gate.NotePlanExit(sessionID, tc.ID, input.Plan)
	case toolAskUserQuestion:
		c.gate.NoteQuestion(sessionID, tc.ID, tc.Input)
	}
}

// finishRun closes out a run after its stream ends: persists the transcript,
// settles registry state, and drains the queue if nothing is pending.
func (c *Coordinator) finishRun(sessionID string, gen uint64) {
	ctx := context.Background()

	c.mu.Lock()
	defer c.mu.Unlock()

	// Only the run that set the current generation may close it out. A
	// cancel race repair bumps the generation, so a stale stream ending
	// after the repair (and after whatever dispatched next) is a no-op.
	if c.runGen[sessionID] != gen {
		return
	}

	wasCancelled := c.cancelled[sessionID]
	delete(c.cancelled, sessionID)

	c.persistRunLocked(ctx, sessionID, wasCancelled)

	c.registry.CompleteSend(sessionID)
	if c.gate.HasPending(sessionID) {
		c.registry.MarkResumable(sessionID)
	}
	c.updateSessionStatusLocked(ctx, sessionID)
	c.publishLocked(sessionID)
	c.drainLocked(ctx, sessionID)
}

// persistRunLocked saves the run's assembled content as one assistant
// message. Cancelled runs keep whatever streamed before the interrupt.
func (c *Coordinator) persistRunLocked(ctx context.Context, sessionID string, wasCancelled bool) {
	blocks := c.assembler.Blocks(sessionID)
	text := c.assembler.Text(sessionID)
	if len(blocks) == 0 && text == "" {
		return
	}

	blocksJSON, err := json.Marshal(blocks)
	if err != nil {
		c.logger.Error("encoding blocks failed", "session_id", sessionID, "error", err)
		blocksJSON = nil
	}

	msg := &store.Message{
		ID:         uuid.New().String(),
		SessionID:  sessionID,
		Role:       store.RoleAssistant,
		Content:    text,
		BlocksJSON: string(blocksJSON),
		Cancelled:  wasCancelled,
	}
	if err := c.store.SaveMessage(ctx, msg); err != nil {
		c.logger.Error("persisting run transcript failed", "session_id", sessionID, "error", err)
	}
}

func (c *Coordinator) saveUserMessage(ctx context.Context, sessionID, text string) error {
	return c.store.SaveMessage(ctx, &store.Message{
		ID:        uuid.New().String(),
		SessionID: sessionID,
		Role:      store.RoleUser,
		Content:   text,
	})
}

// drainLocked dispatches queued messages while the session is free. Caller
// holds c.mu. Each message goes out with its enqueue-time snapshot.
func (c *Coordinator) drainLocked(ctx context.Context, sessionID string) {
	for !c.registry.IsSending(sessionID) && !c.gate.HasPending(sessionID) {
		msg := c.queue.Pop(sessionID)
		if msg == nil {
			return
		}
		if err := c.dispatchLocked(ctx, sessionID, promptWithAttachments(msg.Text, msg.Attachments), msg.Snapshot, true); err != nil {
			c.logger.Error("queued dispatch failed", "session_id", sessionID, "message_id", msg.ID, "error", err)
		}
	}
}

// updateSessionStatusLocked mirrors the registry's run status onto the
// durable session record.
func (c *Coordinator) updateSessionStatusLocked(ctx context.Context, sessionID string) {
	sess, err := c.store.GetSession(ctx, sessionID)
	if err != nil {
		return
	}
	sess.LastRunStatus = string(c.registry.Snapshot(sessionID).LastStatus)
	if err := c.store.UpdateSession(ctx, sess); err != nil {
		c.logger.Warn("updating session status failed", "session_id", sessionID, "error", err)
	}
}

func (c *Coordinator) setSessionMode(ctx context.Context, sessionID, mode string) error {
	sess, err := c.store.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	sess.ExecutionMode = mode
	return c.store.UpdateSession(ctx, sess)
}

// publishLocked broadcasts the session's derived state. Caller holds c.mu.
func (c *Coordinator) publishLocked(sessionID string) {
	rec := c.registry.Snapshot(sessionID)
	c.notifier.Publish(notify.Update{
		SessionID:       sessionID,
		Sending:         rec.Sending,
		ExecutionMode:   rec.ExecutingMode,
		QueueLen:        c.queue.Len(sessionID),
		PendingApproval: string(c.gate.Pending(sessionID)),
		LastRunStatus:   string(rec.LastStatus),
	})
}
