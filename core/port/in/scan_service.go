package in

import (
	"context"

	"subscan/core/domain"
)

// ScanService is the inbound port the HTTP adapter drives. Grounded on the
// teacher's service-per-feature inbound ports (core/port/in), narrowed to
// the five operations SPEC_FULL §6 exposes over HTTP.
type ScanService interface {
	// Start validates and clamps Options, persists a queued Session, enqueues
	// its first chunk job, and returns the new session id.
	Start(ctx context.Context, userID string, provider domain.Provider, opts domain.Options) (*domain.Session, error)

	// Run executes exactly one chunk of work for a leased session: it is the
	// entry point the queue consumer calls per job, bounded by the chunk's
	// wall-clock deadline.
	Run(ctx context.Context, sessionID string) error

	// Cancel marks a session canceled. A chunk already running is not
	// interrupted; the next Run for the session sees the canceled status,
	// emits a done event and enqueues nothing further.
	Cancel(ctx context.Context, sessionID, userID string) error

	Status(ctx context.Context, sessionID, userID string) (*domain.Session, error)

	// Stream returns events with id > afterID for the SSE handler's poll loop.
	Stream(ctx context.Context, sessionID, userID string, afterID int64) ([]domain.Event, error)
}
