// Package chat is the send pipeline: the single owner of session run
// lifecycles.
//
// The Coordinator composes the engine, the store, the run registry, the
// message queue, the approval gate, and the stream assembler. Every message
// submission, cancellation, queue operation, and approval decision flows
// through it, and all dispatch decisions are serialized through one mutex so
// the idle check, the gate check, and the dispatch itself are atomic.
//
// A run dispatches with an immutable config snapshot captured at submit (or
// enqueue) time; changing session settings mid-run affects only future runs.
// Runs end at a terminal event or at a blocking tool call (ExitPlanMode,
// AskUserQuestion) or permission denial, after which the session is
// resumable: the corresponding approval operation starts the follow-up run.
package chat
