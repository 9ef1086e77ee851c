package out

import (
	"context"
	"time"

	"subscan/core/domain"
)

// Store is the persistence port for sessions, candidates and the event log.
// Grounded on the teacher's repository-port-per-concern convention (each
// persistence.* adapter in the teacher implements one narrow interface like
// OAuthRepository); this pipeline collapses session/candidate/event
// persistence into one port since all three share a single orchestrator
// lifecycle and a single sqlx-backed adapter (adapter/out/persistence/store.go).
type Store interface {
	CreateSession(ctx context.Context, s *domain.Session) error
	GetSession(ctx context.Context, id string) (*domain.Session, error)
	CancelSession(ctx context.Context, id string) error

	// LeaseNext claims one queued-or-expired-lease session for this worker
	// and marks it running, returning nil if nothing is available.
	LeaseNext(ctx context.Context, workerID string, leaseFor time.Duration) (*domain.Session, error)

	// RenewLease extends the lease on a session this worker still owns.
	RenewLease(ctx context.Context, id, workerID string, leaseFor time.Duration) error

	// UpdateSessionProgress persists cursor/pages/scannedTotal/foundTotal/lastStats.
	UpdateSessionProgress(ctx context.Context, s *domain.Session) error

	// FinishSession sets a terminal status (and, on error, the error code/message).
	FinishSession(ctx context.Context, id string, status domain.SessionStatus, errCode, errMsg string) error

	// UpsertCandidates inserts candidates into the (sessionId, fingerprint)
	// table, leaving an already-stored fingerprint's row unchanged, and
	// returns how many of them were newly inserted (not re-seen fingerprints).
	UpsertCandidates(ctx context.Context, sessionID string, cands []domain.Candidate) (int, error)

	ListCandidates(ctx context.Context, sessionID string) ([]domain.Candidate, error)

	// AppendEvent inserts one append-only event row, no-op on a
	// (sessionId, dedupeKey) conflict.
	AppendEvent(ctx context.Context, e *domain.Event) error

	// PollEventsAfter returns events with id > afterID, in id order, used by
	// the SSE handler as its poll loop's source of truth.
	PollEventsAfter(ctx context.Context, sessionID string, afterID int64, limit int) ([]domain.Event, error)
}
