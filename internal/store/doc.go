// Package store provides persistent storage for halyard using SQLite.
//
// # Data Models
//
//   - Session: Durable chat session with its send settings
//   - Message: Transcript entry (user text or assembled assistant blocks)
//   - Attachment: Pending item buffered against a draft
//
// Drafts and pending attachments are keyed by session and flushed by the
// send pipeline at submit boundaries.
//
// # SQLite Configuration
//
// The store uses SQLite with WAL mode for concurrent reads:
//
//	PRAGMA journal_mode=WAL;
//	PRAGMA foreign_keys=ON;
//
// The schema is created automatically on open, including parent directories
// for the database file.
//
// # Error Handling
//
// Common errors:
//
//   - ErrNotFound: Requested entity does not exist
//   - ErrDuplicateSession: Session already exists
//
// All methods accept context.Context for cancellation support.
//
// # Testing
//
// Use NewMemoryStore() for unit tests, or NewSQLiteStore(":memory:") for
// integration tests with real SQLite.
package store
