// Package session implements the SessionOrchestrator: the in.ScanService
// that creates, leases, advances and finishes scan Sessions one chunk at a
// time. Grounded on the teacher's internal/stream/worker_producer.go +
// worker_redis.go (Redis Streams XADD/XREADGROUP/XACK/XPENDING) for the
// enqueue/lease discipline, generalized from the teacher's uuid.New() job
// ids to deterministic ids derived from (sessionId, phase, cursor); a
// duplicate job message does not double-process a chunk because the work
// itself is picked by the Store lease, not by the message.
package session

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"subscan/core/domain"
	"subscan/core/port/in"
	"subscan/core/port/out"
	"subscan/core/service/chunk"
	"subscan/core/service/merchant"
	"subscan/pkg/apperr"
	"subscan/pkg/logger"
)

const leaseFor = 30 * time.Second

// sloQuick and sloDeep are the clamp ceilings for Options per mode
// (SPEC_FULL §4.I step 4).
var sloQuick = domain.Options{
	DaysBack: 120, MaxPages: 8, MaxListIds: 1200, FullFetchCap: 20,
	MaxCandidates: 80, ChunkMs: 12000, QueryMode: domain.QueryTransactions, IncludePromotions: false,
}

var sloDeep = domain.Options{
	DaysBack: 3650, MaxPages: 400, MaxListIds: 25000, FullFetchCap: 120,
	MaxCandidates: 400, ChunkMs: 45000, QueryMode: domain.QueryBroad, IncludePromotions: true,
}

// Orchestrator implements in.ScanService.
type Orchestrator struct {
	Store    out.Store
	Queue    out.Queue
	Tokens   out.TokenProvider
	Gmail    out.MailboxDriver
	IMAP     out.MailboxDriver
	Resolver *merchant.Resolver
	Overrides out.OverrideStore
	WorkerID string
}

func New(store out.Store, q out.Queue, tokens out.TokenProvider, gmail, imapDriver out.MailboxDriver,
	resolver *merchant.Resolver, overrides out.OverrideStore, workerID string) *Orchestrator {
	return &Orchestrator{
		Store: store, Queue: q, Tokens: tokens, Gmail: gmail, IMAP: imapDriver,
		Resolver: resolver, Overrides: overrides, WorkerID: workerID,
	}
}

// Start validates/clamps Options, persists a queued Session, writes the
// hello event, and enqueues the first chunk job.
func (o *Orchestrator) Start(ctx context.Context, userID string, provider domain.Provider, opts domain.Options) (*domain.Session, error) {
	if provider != domain.ProviderGmail && provider != domain.ProviderIMAP {
		return nil, apperr.UnsupportedProvider(string(provider))
	}
	opts = clampOptions(opts)

	sess := &domain.Session{
		ID:        uuid.New().String(),
		UserID:    userID,
		Provider:  provider,
		Status:    domain.SessionQueued,
		Options:   opts,
		CreatedAt: time.Now(),
	}
	if opts.Cursor != nil {
		sess.Cursor = opts.Cursor
	}

	if err := o.Store.CreateSession(ctx, sess); err != nil {
		return nil, apperr.SessionCreateFailed(err)
	}

	if err := o.appendEvent(ctx, sess, domain.EventHello, "hello:"+sess.ID, map[string]any{"sessionId": sess.ID}); err != nil {
		logger.Warn("failed to append hello event for session %s: %v", sess.ID, err)
	}

	jobID := deterministicJobID(sess.ID, "start", "")
	if err := o.Queue.Enqueue(ctx, jobID, sess.ID); err != nil {
		return nil, apperr.QueueEnqueueFailed(err)
	}
	return sess, nil
}

// Run executes exactly one chunk job: load, advance, persist, enqueue-next
// or finish (SPEC_FULL §4.I steps 1-9).
func (o *Orchestrator) Run(ctx context.Context, sessionID string) error {
	sess, err := o.Store.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	// A cancel observed between enqueue and lease (Cancel() ran against the
	// session row directly, with no chunk in flight to notice) still needs a
	// done event emitted and nothing re-enqueued, so check it before the
	// generic terminal short-circuit swallows it silently.
	if sess.Status == domain.SessionCanceled {
		if err := o.appendEvent(ctx, sess, domain.EventDone, "done:canceled", map[string]any{"canceled": true}); err != nil {
			logger.Warn("failed to append canceled-done event for session %s: %v", sess.ID, err)
		}
		return nil
	}
	if sess.IsTerminal() {
		return nil
	}

	if sess.Status == domain.SessionQueued {
		sess.Status = domain.SessionRunning
		if err := o.appendEvent(ctx, sess, domain.EventProgress, "", map[string]any{"phase": "starting"}); err != nil {
			logger.Warn("failed to append starting progress for session %s: %v", sess.ID, err)
		}
	}

	conn, err := o.Tokens.Resolve(ctx, sess.UserID, sess.Provider)
	if err != nil || conn == nil {
		o.fail(ctx, sess, apperr.CodeMissingToken, "no usable oauth connection")
		return apperr.MissingToken(sess.UserID)
	}

	driver, err := o.driverFor(sess.Provider)
	if err != nil {
		o.fail(ctx, sess, apperr.CodeUnsupportedProvider, err.Error())
		return err
	}

	engine := chunk.New(driver, o.Resolver)
	overrides, err := o.listOverrides(ctx, sess.UserID)
	if err != nil {
		logger.Warn("failed to load overrides for session %s: %v", sess.ID, err)
	}

	runOpts := sess.Options
	runOpts.Cursor = sess.Cursor
	result := engine.Run(ctx, conn, runOpts, overrides)

	foundDelta, err := o.Store.UpsertCandidates(ctx, sess.ID, result.Candidates)
	if err != nil {
		o.fail(ctx, sess, apperr.CodeChunkError, err.Error())
		return apperr.ChunkError(err)
	}

	sess.Pages++
	sess.ScannedTotal += result.Stats.Scanned
	sess.FoundTotal += foundDelta
	if result.NextCursor != "" && !result.Done {
		sess.Cursor = &result.NextCursor
	} else {
		sess.Cursor = nil
	}
	statsJSON, _ := json.Marshal(result.Stats)
	sess.LastStats = statsJSON

	if err := o.Store.UpdateSessionProgress(ctx, sess); err != nil {
		return apperr.DatabaseError("updateSessionProgress", err)
	}

	cursorTag := "end"
	if sess.Cursor != nil {
		cursorTag = *sess.Cursor
	}
	if err := o.appendEvent(ctx, sess, domain.EventProgress,
		fmt.Sprintf("progress:%d:%s", sess.Pages, cursorTag),
		map[string]any{"pages": sess.Pages, "scannedTotal": sess.ScannedTotal, "foundTotal": sess.FoundTotal}); err != nil {
		logger.Warn("failed to append progress event for session %s: %v", sess.ID, err)
	}
	if len(result.Candidates) > 0 {
		if err := o.appendEvent(ctx, sess, domain.EventCandidates,
			fmt.Sprintf("candidates:%d:%s", sess.Pages, cursorTag),
			map[string]any{"count": len(result.Candidates)}); err != nil {
			logger.Warn("failed to append candidates event for session %s: %v", sess.ID, err)
		}
	}

	done := sess.Cursor == nil || sess.Pages >= sess.Options.MaxPages || sess.FoundTotal >= sess.Options.MaxCandidates
	if done {
		if err := o.Store.FinishSession(ctx, sess.ID, domain.SessionDone, "", ""); err != nil {
			return apperr.DatabaseError("finishSession", err)
		}
		if err := o.appendEvent(ctx, sess, domain.EventDone, "done", map[string]any{"foundTotal": sess.FoundTotal}); err != nil {
			logger.Warn("failed to append done event for session %s: %v", sess.ID, err)
		}
		return nil
	}

	nextJobID := deterministicJobID(sess.ID, "chunk", cursorTag)
	if err := o.Queue.Enqueue(ctx, nextJobID, sess.ID); err != nil {
		o.fail(ctx, sess, apperr.CodeQueueEnqueueFailed, err.Error())
		return apperr.QueueEnqueueFailed(err)
	}
	return nil
}

func (o *Orchestrator) Cancel(ctx context.Context, sessionID, userID string) error {
	sess, err := o.Store.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if sess.UserID != userID {
		return apperr.Forbidden("session does not belong to this user")
	}
	if sess.Status != domain.SessionQueued && sess.Status != domain.SessionRunning {
		return nil
	}
	if err := o.Store.CancelSession(ctx, sessionID); err != nil {
		return apperr.DatabaseError("cancelSession", err)
	}
	return o.appendEvent(ctx, sess, domain.EventError, "canceled", map[string]any{"reason": "canceled"})
}

func (o *Orchestrator) Status(ctx context.Context, sessionID, userID string) (*domain.Session, error) {
	sess, err := o.Store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.UserID != userID {
		return nil, apperr.Forbidden("session does not belong to this user")
	}
	return sess, nil
}

func (o *Orchestrator) Stream(ctx context.Context, sessionID, userID string, afterID int64) ([]domain.Event, error) {
	sess, err := o.Store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.UserID != userID {
		return nil, apperr.Forbidden("session does not belong to this user")
	}
	return o.Store.PollEventsAfter(ctx, sessionID, afterID, 100)
}

// LeaseAndRun is the queue-consumer driver loop's per-job call: lease one
// ready session and run exactly one chunk for it. Grounded on the teacher's
// Consumer.consume handler-dispatch shape, with Redis lease renewal
// replaced by Store.RenewLease so the lease lives beside the session row it
// protects rather than in a separate visibility-timeout mechanism.
func (o *Orchestrator) LeaseAndRun(ctx context.Context) error {
	sess, err := o.Store.LeaseNext(ctx, o.WorkerID, leaseFor)
	if err != nil {
		return apperr.DatabaseError("leaseNext", err)
	}
	if sess == nil {
		return nil
	}
	renewCtx, cancelRenew := context.WithCancel(ctx)
	defer cancelRenew()
	go o.renewLeaseUntilDone(renewCtx, sess.ID)

	return o.Run(ctx, sess.ID)
}

func (o *Orchestrator) renewLeaseUntilDone(ctx context.Context, sessionID string) {
	ticker := time.NewTicker(leaseFor / 3)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := o.Store.RenewLease(ctx, sessionID, o.WorkerID, leaseFor); err != nil {
				logger.Warn("failed to renew lease for session %s: %v", sessionID, err)
			}
		}
	}
}

func (o *Orchestrator) driverFor(provider domain.Provider) (out.MailboxDriver, error) {
	switch provider {
	case domain.ProviderGmail:
		return o.Gmail, nil
	case domain.ProviderIMAP:
		return o.IMAP, nil
	default:
		return nil, errors.New("unsupported provider: " + string(provider))
	}
}

func (o *Orchestrator) listOverrides(ctx context.Context, userID string) ([]domain.UserOverride, error) {
	if o.Overrides == nil {
		return nil, nil
	}
	return o.Overrides.ListForUser(ctx, userID)
}

func (o *Orchestrator) fail(ctx context.Context, sess *domain.Session, code, msg string) {
	if err := o.Store.FinishSession(ctx, sess.ID, domain.SessionError, code, msg); err != nil {
		logger.Warn("failed to finish session %s as error: %v", sess.ID, err)
	}
	if err := o.appendEvent(ctx, sess, domain.EventError, "error:"+code, map[string]any{"code": code, "message": msg}); err != nil {
		logger.Warn("failed to append error event for session %s: %v", sess.ID, err)
	}
}

func (o *Orchestrator) appendEvent(ctx context.Context, sess *domain.Session, t domain.EventType, dedupeKey string, payload map[string]any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	e := &domain.Event{
		SessionID: sess.ID,
		UserID:    sess.UserID,
		Type:      t,
		Payload:   data,
		DedupeKey: dedupeKey,
		CreatedAt: time.Now(),
	}
	return o.Store.AppendEvent(ctx, e)
}

// deterministicJobID derives a stable id from (sessionId, phase, cursor), so
// re-enqueuing the same chunk after a crash carries the same job id. The
// queue does not deduplicate on it; a duplicate message only triggers one
// more LeaseAndRun (SPEC_FULL §4.I).
func deterministicJobID(sessionID, phase, cursor string) string {
	h := sha1.New()
	h.Write([]byte(sessionID))
	h.Write([]byte{'|'})
	h.Write([]byte(phase))
	h.Write([]byte{'|'})
	h.Write([]byte(cursor))
	return hex.EncodeToString(h.Sum(nil))
}

// clampOptions applies per-mode SLO ceilings (SPEC_FULL §4.I step 4), then
// the absolute schema bounds (§6) as a final safety clamp.
func clampOptions(opts domain.Options) domain.Options {
	ceiling := sloQuick
	if opts.Mode == domain.ModeDeep {
		ceiling = sloDeep
	} else {
		opts.Mode = domain.ModeQuick
	}

	if opts.DaysBack <= 0 || opts.DaysBack > ceiling.DaysBack {
		opts.DaysBack = ceiling.DaysBack
	}
	if opts.MaxPages <= 0 || opts.MaxPages > ceiling.MaxPages {
		opts.MaxPages = ceiling.MaxPages
	}
	if opts.MaxListIds <= 0 || opts.MaxListIds > ceiling.MaxListIds {
		opts.MaxListIds = ceiling.MaxListIds
	}
	if opts.FullFetchCap < 0 || opts.FullFetchCap > ceiling.FullFetchCap {
		opts.FullFetchCap = ceiling.FullFetchCap
	}
	if opts.MaxCandidates <= 0 || opts.MaxCandidates > ceiling.MaxCandidates {
		opts.MaxCandidates = ceiling.MaxCandidates
	}
	if opts.ChunkMs <= 0 || opts.ChunkMs > ceiling.ChunkMs {
		opts.ChunkMs = ceiling.ChunkMs
	}
	if opts.Mode == domain.ModeQuick {
		opts.QueryMode = domain.QueryTransactions
		opts.IncludePromotions = false
	}

	opts.ChunkMs = clampInt(opts.ChunkMs, 8000, 45000)
	opts.DaysBack = clampInt(opts.DaysBack, 1, 3650)
	opts.PageSize = clampInt(orDefault(opts.PageSize, 100), 50, 500)
	opts.Concurrency = clampInt(orDefault(opts.Concurrency, 6), 2, 10)
	opts.MaxPages = clampInt(opts.MaxPages, 1, 400)
	opts.MaxCandidates = clampInt(opts.MaxCandidates, 10, 400)
	opts.MaxListIds = clampInt(opts.MaxListIds, 300, 25000)
	opts.ClusterCap = clampInt(orDefault(opts.ClusterCap, 60), 10, 200)
	if opts.QueryMode == "" {
		opts.QueryMode = domain.QueryTransactions
	}
	return opts
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

var _ in.ScanService = (*Orchestrator)(nil)
