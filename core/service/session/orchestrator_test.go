package session

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"subscan/core/domain"
	"subscan/core/port/out"
	"subscan/core/service/merchant"
)

var errNotFound = errors.New("session not found")

// fakeStore is an in-memory out.Store good enough to drive Orchestrator
// through Start/Run/Cancel/LeaseAndRun without a real database.
type fakeStore struct {
	mu         sync.Mutex
	sessions   map[string]*domain.Session
	candidates map[string][]domain.Candidate
	events     []domain.Event
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		sessions:   map[string]*domain.Session{},
		candidates: map[string][]domain.Candidate{},
	}
}

func (s *fakeStore) CreateSession(ctx context.Context, sess *domain.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *sess
	s.sessions[sess.ID] = &cp
	return nil
}

func (s *fakeStore) GetSession(ctx context.Context, id string) (*domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, errNotFound
	}
	cp := *sess
	return &cp, nil
}

func (s *fakeStore) CancelSession(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return errNotFound
	}
	sess.Status = domain.SessionCanceled
	return nil
}

func (s *fakeStore) LeaseNext(ctx context.Context, workerID string, leaseFor time.Duration) (*domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	for _, sess := range s.sessions {
		expired := sess.LeaseExpiresAt != nil && sess.LeaseExpiresAt.Before(now)
		if sess.Status == domain.SessionQueued || (sess.Status == domain.SessionRunning && expired) {
			sess.LeasedBy = workerID
			until := now.Add(leaseFor)
			sess.LeaseExpiresAt = &until
			sess.Status = domain.SessionRunning
			cp := *sess
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *fakeStore) RenewLease(ctx context.Context, id, workerID string, leaseFor time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return errNotFound
	}
	until := time.Now().Add(leaseFor)
	sess.LeaseExpiresAt = &until
	return nil
}

func (s *fakeStore) UpdateSessionProgress(ctx context.Context, sess *domain.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[sess.ID]; !ok {
		return errNotFound
	}
	cp := *sess
	s.sessions[sess.ID] = &cp
	return nil
}

func (s *fakeStore) FinishSession(ctx context.Context, id string, status domain.SessionStatus, errCode, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return errNotFound
	}
	sess.Status = status
	sess.ErrorCode = errCode
	sess.ErrorMessage = errMsg
	return nil
}

// UpsertCandidates mimics the real Store's (session_id, fingerprint)
// upsert: only fingerprints not already recorded for this session count
// toward the returned insert count, the same distinction the orchestrator
// needs to compute foundDelta instead of re-counting re-seen candidates.
func (s *fakeStore) UpsertCandidates(ctx context.Context, sessionID string, cands []domain.Candidate) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := map[string]bool{}
	for _, c := range s.candidates[sessionID] {
		seen[c.Fingerprint] = true
	}
	inserted := 0
	for _, c := range cands {
		if !seen[c.Fingerprint] {
			inserted++
			seen[c.Fingerprint] = true
		}
	}
	s.candidates[sessionID] = append(s.candidates[sessionID], cands...)
	return inserted, nil
}

func (s *fakeStore) ListCandidates(ctx context.Context, sessionID string) ([]domain.Candidate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.candidates[sessionID], nil
}

func (s *fakeStore) AppendEvent(ctx context.Context, e *domain.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e.ID = int64(len(s.events) + 1)
	s.events = append(s.events, *e)
	return nil
}

func (s *fakeStore) PollEventsAfter(ctx context.Context, sessionID string, afterID int64, limit int) ([]domain.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Event
	for _, e := range s.events {
		if e.SessionID == sessionID && e.ID > afterID {
			out = append(out, e)
			if len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

// fakeQueue records every enqueued job; Enqueue never fails.
type fakeQueue struct {
	mu      sync.Mutex
	jobIDs  []string
	sessIDs []string
}

func (q *fakeQueue) Enqueue(ctx context.Context, jobID, sessionID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.jobIDs = append(q.jobIDs, jobID)
	q.sessIDs = append(q.sessIDs, sessionID)
	return nil
}

func (q *fakeQueue) count() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.jobIDs)
}

// fakeTokens resolves a fixed connection for every user, or nil if missing
// is set.
type fakeTokens struct {
	missing bool
}

func (t *fakeTokens) Resolve(ctx context.Context, userID string, provider domain.Provider) (*domain.OAuthConnection, error) {
	if t.missing {
		return nil, nil
	}
	return &domain.OAuthConnection{ID: 1, UserID: userID, Email: "user@example.com"}, nil
}

// fakeDriver returns a single page of ids then reports exhaustion, with no
// matches ever built (FetchMetadata/FetchFull return empty).
type fakeDriver struct {
	pages [][]string
	calls int
}

func (d *fakeDriver) ListPage(ctx context.Context, conn *domain.OAuthConnection, q out.ListQuery) (out.ListPageResult, error) {
	if d.calls >= len(d.pages) {
		return out.ListPageResult{Done: true}, nil
	}
	ids := d.pages[d.calls]
	d.calls++
	done := d.calls >= len(d.pages)
	next := ""
	if !done {
		next = "cursor-" + ids[0]
	}
	return out.ListPageResult{IDs: ids, NextCursor: next, Done: done}, nil
}

func (d *fakeDriver) FetchMetadata(ctx context.Context, conn *domain.OAuthConnection, ids []string) ([]domain.MessageMeta, error) {
	return nil, nil
}

func (d *fakeDriver) FetchFull(ctx context.Context, conn *domain.OAuthConnection, id string) (*domain.MessageBody, error) {
	return nil, nil
}

// dedupeDriver serves the same message across two chunk pages, letting
// TestOrchestratorFoundTotalCountsOnlyNewInserts confirm a re-seen
// fingerprint isn't double-counted into FoundTotal.
type dedupeDriver struct {
	calls int
	meta  domain.MessageMeta
	doc   *domain.MessageBody
}

func (d *dedupeDriver) ListPage(ctx context.Context, conn *domain.OAuthConnection, q out.ListQuery) (out.ListPageResult, error) {
	d.calls++
	done := d.calls >= 2
	next := ""
	if !done {
		next = "cursor-1"
	}
	return out.ListPageResult{IDs: []string{"receipt-1"}, NextCursor: next, Done: done}, nil
}

func (d *dedupeDriver) FetchMetadata(ctx context.Context, conn *domain.OAuthConnection, ids []string) ([]domain.MessageMeta, error) {
	return []domain.MessageMeta{d.meta}, nil
}

func (d *dedupeDriver) FetchFull(ctx context.Context, conn *domain.OAuthConnection, id string) (*domain.MessageBody, error) {
	return d.doc, nil
}

func TestOrchestratorFoundTotalCountsOnlyNewInserts(t *testing.T) {
	store := newFakeStore()
	queue := &fakeQueue{}
	tokens := &fakeTokens{}
	driver := &dedupeDriver{
		meta: domain.MessageMeta{
			ID:           "receipt-1",
			SenderEmail:  "billing@netflix.com",
			SenderDomain: "netflix.com",
			Subject:      "Your Netflix payment receipt",
			Snippet:      "Payment successful, we charged your card $15.49",
			DateMs:       1,
		},
		doc: &domain.MessageBody{Text: "Your subscription renews monthly. Amount due: $15.49."},
	}
	resolver := merchant.New(nil, nil)
	o := New(store, queue, tokens, driver, driver, resolver, nil, "worker-1")
	ctx := context.Background()

	sess, err := o.Start(ctx, "user-1", domain.ProviderGmail, domain.Options{Mode: domain.ModeQuick, MaxPages: 5, MaxCandidates: 300})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	if err := o.Run(ctx, sess.ID); err != nil {
		t.Fatalf("Run (chunk 1): %v", err)
	}
	if got := store.sessions[sess.ID].FoundTotal; got != 1 {
		t.Fatalf("foundTotal after first chunk = %d, want 1", got)
	}

	if err := o.Run(ctx, sess.ID); err != nil {
		t.Fatalf("Run (chunk 2): %v", err)
	}
	if got := store.sessions[sess.ID].FoundTotal; got != 1 {
		t.Fatalf("foundTotal after re-seeing the same candidate = %d, want still 1 (no double count)", got)
	}
}

func newTestOrchestrator(tokensMissing bool) (*Orchestrator, *fakeStore, *fakeQueue) {
	store := newFakeStore()
	queue := &fakeQueue{}
	tokens := &fakeTokens{missing: tokensMissing}
	driver := &fakeDriver{pages: [][]string{{"m1", "m2"}}}
	resolver := merchant.New(nil, nil)
	o := New(store, queue, tokens, driver, driver, resolver, nil, "worker-1")
	return o, store, queue
}

func TestOrchestratorStartEnqueuesFirstChunk(t *testing.T) {
	o, store, queue := newTestOrchestrator(false)
	ctx := context.Background()

	sess, err := o.Start(ctx, "user-1", domain.ProviderGmail, domain.Options{Mode: domain.ModeQuick})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if sess.Status != domain.SessionQueued {
		t.Fatalf("status = %s, want %s", sess.Status, domain.SessionQueued)
	}
	if queue.count() != 1 {
		t.Fatalf("queue count = %d, want 1", queue.count())
	}
	if _, ok := store.sessions[sess.ID]; !ok {
		t.Fatalf("session %s not persisted", sess.ID)
	}
}

func TestOrchestratorStartRejectsUnsupportedProvider(t *testing.T) {
	o, _, _ := newTestOrchestrator(false)
	_, err := o.Start(context.Background(), "user-1", domain.Provider("outlook"), domain.Options{})
	if err == nil {
		t.Fatal("expected an error for an unsupported provider")
	}
}

func TestOrchestratorRunFinishesWhenDriverExhausted(t *testing.T) {
	o, store, queue := newTestOrchestrator(false)
	ctx := context.Background()

	sess, err := o.Start(ctx, "user-1", domain.ProviderGmail, domain.Options{Mode: domain.ModeQuick})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	queue.jobIDs = nil // Run's own enqueue-next call is what we assert on below

	if err := o.Run(ctx, sess.ID); err != nil {
		t.Fatalf("Run: %v", err)
	}

	got := store.sessions[sess.ID]
	if got.Status != domain.SessionDone {
		t.Fatalf("status = %s, want %s", got.Status, domain.SessionDone)
	}
	if queue.count() != 0 {
		t.Fatalf("expected no further chunk enqueued once the driver is exhausted, got %d", queue.count())
	}
}

func TestOrchestratorRunFailsOnMissingToken(t *testing.T) {
	o, store, _ := newTestOrchestrator(true)
	ctx := context.Background()

	sess, err := o.Start(ctx, "user-1", domain.ProviderGmail, domain.Options{Mode: domain.ModeQuick})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	if err := o.Run(ctx, sess.ID); err == nil {
		t.Fatal("expected Run to fail when no oauth connection resolves")
	}

	got := store.sessions[sess.ID]
	if got.Status != domain.SessionError {
		t.Fatalf("status = %s, want %s", got.Status, domain.SessionError)
	}
}

func TestOrchestratorCancelRejectsWrongUser(t *testing.T) {
	o, _, _ := newTestOrchestrator(false)
	ctx := context.Background()

	sess, err := o.Start(ctx, "user-1", domain.ProviderGmail, domain.Options{})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	if err := o.Cancel(ctx, sess.ID, "someone-else"); err == nil {
		t.Fatal("expected Cancel to reject a mismatched userID")
	}
}

func TestOrchestratorRunOnExternallyCanceledSessionEmitsDoneAndEnqueuesNothing(t *testing.T) {
	o, store, queue := newTestOrchestrator(false)
	ctx := context.Background()

	sess, err := o.Start(ctx, "user-1", domain.ProviderGmail, domain.Options{Mode: domain.ModeQuick})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	queue.jobIDs = nil

	// Simulate the session having been canceled directly (e.g. by Cancel())
	// between enqueue and this chunk picking it up, with no Run in flight to
	// have noticed yet.
	store.sessions[sess.ID].Status = domain.SessionCanceled

	if err := o.Run(ctx, sess.ID); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if queue.count() != 0 {
		t.Fatalf("expected no chunk enqueued for a canceled session, got %d", queue.count())
	}

	var done *domain.Event
	for i := range store.events {
		if store.events[i].Type == domain.EventDone {
			done = &store.events[i]
		}
	}
	if done == nil {
		t.Fatal("expected a done event for the canceled session")
	}
	var payload map[string]any
	if err := json.Unmarshal(done.Payload, &payload); err != nil {
		t.Fatalf("unmarshal done payload: %v", err)
	}
	if canceled, _ := payload["canceled"].(bool); !canceled {
		t.Errorf("done event payload = %+v, want canceled:true", payload)
	}
}

func TestOrchestratorLeaseAndRunIsNoOpWhenNothingQueued(t *testing.T) {
	o, _, _ := newTestOrchestrator(false)
	if err := o.LeaseAndRun(context.Background()); err != nil {
		t.Fatalf("LeaseAndRun on an empty store should be a no-op, got: %v", err)
	}
}

func TestDeterministicJobIDIsStableAndCursorSensitive(t *testing.T) {
	a := deterministicJobID("sess-1", "chunk", "cursor-a")
	b := deterministicJobID("sess-1", "chunk", "cursor-a")
	c := deterministicJobID("sess-1", "chunk", "cursor-b")

	if a != b {
		t.Fatalf("deterministicJobID should be stable for identical inputs: %q != %q", a, b)
	}
	if a == c {
		t.Fatal("deterministicJobID should differ when the cursor differs")
	}
}

func TestClampOptionsAppliesQuickCeiling(t *testing.T) {
	opts := clampOptions(domain.Options{Mode: domain.ModeQuick, DaysBack: 99999, MaxPages: 99999, ChunkMs: 1})

	if opts.DaysBack != sloQuick.DaysBack {
		t.Errorf("daysBack = %d, want clamped to %d", opts.DaysBack, sloQuick.DaysBack)
	}
	if opts.MaxPages != sloQuick.MaxPages {
		t.Errorf("maxPages = %d, want clamped to %d", opts.MaxPages, sloQuick.MaxPages)
	}
	if opts.ChunkMs != 8000 {
		t.Errorf("chunkMs = %d, want floor of 8000", opts.ChunkMs)
	}
	if opts.QueryMode != domain.QueryTransactions || opts.IncludePromotions {
		t.Errorf("quick mode must force transactions-only, got queryMode=%s includePromotions=%v", opts.QueryMode, opts.IncludePromotions)
	}
}

func TestClampOptionsAppliesDeepCeiling(t *testing.T) {
	opts := clampOptions(domain.Options{Mode: domain.ModeDeep, DaysBack: 1, MaxCandidates: 1})

	if opts.Mode != domain.ModeDeep {
		t.Errorf("mode = %s, want %s preserved", opts.Mode, domain.ModeDeep)
	}
	if opts.DaysBack != 1 {
		t.Errorf("daysBack = %d, an in-range value should pass through unchanged", opts.DaysBack)
	}
	if opts.MaxCandidates != 10 {
		t.Errorf("maxCandidates = %d, want floor of 10", opts.MaxCandidates)
	}
}

func TestClampOptionsDefaultsUnsetModeToQuick(t *testing.T) {
	opts := clampOptions(domain.Options{})
	if opts.Mode != domain.ModeQuick {
		t.Errorf("mode = %s, want default %s", opts.Mode, domain.ModeQuick)
	}
}
