package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"subscan/core/domain"
	"subscan/core/port/out"
)

// sessionRow mirrors scan_sessions, following the teacher's
// OAuthConnectionEntity db-tagged-struct-per-table convention
// (worker_oauth_repository.go).
type sessionRow struct {
	ID             string         `db:"id"`
	UserID         string         `db:"user_id"`
	Provider       string         `db:"provider"`
	Status         string         `db:"status"`
	Cursor         sql.NullString `db:"cursor"`
	Options        []byte         `db:"options"`
	Pages          int            `db:"pages"`
	ScannedTotal   int            `db:"scanned_total"`
	FoundTotal     int            `db:"found_total"`
	LastStats      []byte         `db:"last_stats"`
	ErrorCode      sql.NullString `db:"error_code"`
	ErrorMessage   sql.NullString `db:"error_message"`
	LeasedBy       sql.NullString `db:"leased_by"`
	LeaseExpiresAt sql.NullTime   `db:"lease_expires_at"`
	CreatedAt      time.Time      `db:"created_at"`
}

func (r sessionRow) toDomain() (*domain.Session, error) {
	s := &domain.Session{
		ID:           r.ID,
		UserID:       r.UserID,
		Provider:     domain.Provider(r.Provider),
		Status:       domain.SessionStatus(r.Status),
		Pages:        r.Pages,
		ScannedTotal: r.ScannedTotal,
		FoundTotal:   r.FoundTotal,
		ErrorCode:    r.ErrorCode.String,
		ErrorMessage: r.ErrorMessage.String,
		LeasedBy:     r.LeasedBy.String,
		CreatedAt:    r.CreatedAt,
	}
	if r.Cursor.Valid {
		s.Cursor = &r.Cursor.String
	}
	if r.LeaseExpiresAt.Valid {
		t := r.LeaseExpiresAt.Time
		s.LeaseExpiresAt = &t
	}
	if len(r.LastStats) > 0 {
		s.LastStats = json.RawMessage(r.LastStats)
	}
	if len(r.Options) > 0 {
		if err := json.Unmarshal(r.Options, &s.Options); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// candidateRow mirrors scan_candidates: a handful of indexed/sortable
// columns plus the full Candidate as jsonb, the same split the teacher uses
// nowhere directly but matches its cache layer's get/set-JSON idiom
// (pkg/cache.RedisCache.GetJSON/SetJSON) applied here to a Postgres jsonb
// column instead of Redis.
type candidateRow struct {
	SessionID  string `db:"session_id"`
	Fingerprint string `db:"fingerprint"`
	Merchant   string `db:"merchant"`
	Confidence int    `db:"confidence"`
	EventType  string `db:"event_type"`
	Data       []byte `db:"data"`
}

// eventRow mirrors scan_events.
type eventRow struct {
	ID        int64     `db:"id"`
	SessionID string    `db:"session_id"`
	UserID    string    `db:"user_id"`
	Type      string    `db:"type"`
	Payload   []byte    `db:"payload"`
	DedupeKey string    `db:"dedupe_key"`
	CreatedAt time.Time `db:"created_at"`
}

// Store implements out.Store over PostgreSQL via sqlx, following the
// teacher's SelectContext/GetContext/ExecContext idiom from
// adapter/out/persistence/worker_oauth_adapter.go.
type Store struct {
	db *sqlx.DB
}

func NewStore(db *sqlx.DB) *Store {
	return &Store{db: db}
}

func (s *Store) CreateSession(ctx context.Context, sess *domain.Session) error {
	optionsJSON, err := json.Marshal(sess.Options)
	if err != nil {
		return err
	}
	query := `
		INSERT INTO scan_sessions (id, user_id, provider, status, cursor, options, pages,
		                           scanned_total, found_total, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`
	_, err = s.db.ExecContext(ctx, query,
		sess.ID, sess.UserID, string(sess.Provider), string(sess.Status),
		sess.Cursor, optionsJSON, sess.Pages, sess.ScannedTotal, sess.FoundTotal, sess.CreatedAt)
	return err
}

func (s *Store) GetSession(ctx context.Context, id string) (*domain.Session, error) {
	var row sessionRow
	query := `
		SELECT id, user_id, provider, status, cursor, options, pages, scanned_total,
		       found_total, last_stats, error_code, error_message, leased_by,
		       lease_expires_at, created_at
		FROM scan_sessions WHERE id = $1`
	if err := s.db.GetContext(ctx, &row, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return row.toDomain()
}

func (s *Store) CancelSession(ctx context.Context, id string) error {
	query := `
		UPDATE scan_sessions SET status = $1, leased_by = NULL, lease_expires_at = NULL
		WHERE id = $2 AND status NOT IN ($3, $4, $5)`
	_, err := s.db.ExecContext(ctx, query, string(domain.SessionCanceled), id,
		string(domain.SessionDone), string(domain.SessionCanceled), string(domain.SessionError))
	return err
}

// LeaseNext claims one queued session, or one running session whose lease
// has expired (a crashed worker), atomically via an UPDATE ... RETURNING so
// concurrent workers never double-lease the same row.
func (s *Store) LeaseNext(ctx context.Context, workerID string, leaseFor time.Duration) (*domain.Session, error) {
	var row sessionRow
	query := `
		UPDATE scan_sessions
		SET status = $1, leased_by = $2, lease_expires_at = $3
		WHERE id = (
			SELECT id FROM scan_sessions
			WHERE status = $4
			   OR (status = $1 AND lease_expires_at < now())
			ORDER BY created_at ASC
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, user_id, provider, status, cursor, options, pages, scanned_total,
		          found_total, last_stats, error_code, error_message, leased_by,
		          lease_expires_at, created_at`
	err := s.db.GetContext(ctx, &row, query,
		string(domain.SessionRunning), workerID, time.Now().Add(leaseFor), string(domain.SessionQueued))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return row.toDomain()
}

func (s *Store) RenewLease(ctx context.Context, id, workerID string, leaseFor time.Duration) error {
	query := `
		UPDATE scan_sessions SET lease_expires_at = $1
		WHERE id = $2 AND leased_by = $3`
	_, err := s.db.ExecContext(ctx, query, time.Now().Add(leaseFor), id, workerID)
	return err
}

func (s *Store) UpdateSessionProgress(ctx context.Context, sess *domain.Session) error {
	query := `
		UPDATE scan_sessions
		SET cursor = $1, pages = $2, scanned_total = $3, found_total = $4, last_stats = $5
		WHERE id = $6`
	_, err := s.db.ExecContext(ctx, query,
		sess.Cursor, sess.Pages, sess.ScannedTotal, sess.FoundTotal, []byte(sess.LastStats), sess.ID)
	return err
}

func (s *Store) FinishSession(ctx context.Context, id string, status domain.SessionStatus, errCode, errMsg string) error {
	query := `
		UPDATE scan_sessions
		SET status = $1, error_code = NULLIF($2, ''), error_message = NULLIF($3, ''),
		    leased_by = NULL, lease_expires_at = NULL
		WHERE id = $4`
	_, err := s.db.ExecContext(ctx, query, string(status), errCode, errMsg, id)
	return err
}

// UpsertCandidates inserts candidates keyed by (sessionId, fingerprint); a
// fingerprint already stored for the session is skipped and its existing
// row is left unchanged. It returns the number of rows that were genuinely new (xmax=0), not the
// number of candidates handed in, so the caller can count foundDelta
// instead of re-seen fingerprints.
func (s *Store) UpsertCandidates(ctx context.Context, sessionID string, cands []domain.Candidate) (int, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	inserted := 0
	for _, c := range cands {
		data, err := json.Marshal(c)
		if err != nil {
			return 0, err
		}
		query := `
			INSERT INTO scan_candidates (session_id, fingerprint, merchant, confidence, event_type, data)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (session_id, fingerprint) DO NOTHING
			RETURNING (xmax = 0) AS inserted`
		var isNew bool
		if err := tx.QueryRowxContext(ctx, query,
			sessionID, c.Fingerprint, c.Merchant, c.Confidence, string(c.EventType), data).Scan(&isNew); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				// The fingerprint was already stored for this session, so
				// DO NOTHING returned no row; not a new row.
				continue
			}
			return 0, err
		}
		if isNew {
			inserted++
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return inserted, nil
}

func (s *Store) ListCandidates(ctx context.Context, sessionID string) ([]domain.Candidate, error) {
	var rows []candidateRow
	query := `
		SELECT session_id, fingerprint, merchant, confidence, event_type, data
		FROM scan_candidates WHERE session_id = $1
		ORDER BY confidence DESC, merchant ASC`
	if err := s.db.SelectContext(ctx, &rows, query, sessionID); err != nil {
		return nil, err
	}
	out := make([]domain.Candidate, 0, len(rows))
	for _, r := range rows {
		var c domain.Candidate
		if err := json.Unmarshal(r.Data, &c); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

func (s *Store) AppendEvent(ctx context.Context, e *domain.Event) error {
	query := `
		INSERT INTO scan_events (session_id, user_id, type, payload, dedupe_key, created_at)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6)
		ON CONFLICT (session_id, dedupe_key) DO NOTHING
		RETURNING id`
	row := s.db.QueryRowContext(ctx, query, e.SessionID, e.UserID, string(e.Type),
		[]byte(e.Payload), e.DedupeKey, e.CreatedAt)
	if err := row.Scan(&e.ID); err != nil && !errors.Is(err, sql.ErrNoRows) {
		return err
	}
	return nil
}

func (s *Store) PollEventsAfter(ctx context.Context, sessionID string, afterID int64, limit int) ([]domain.Event, error) {
	var rows []eventRow
	query := `
		SELECT id, session_id, user_id, type, payload, COALESCE(dedupe_key, '') AS dedupe_key, created_at
		FROM scan_events
		WHERE session_id = $1 AND id > $2
		ORDER BY id ASC
		LIMIT $3`
	if err := s.db.SelectContext(ctx, &rows, query, sessionID, afterID, limit); err != nil {
		return nil, err
	}
	out := make([]domain.Event, 0, len(rows))
	for _, r := range rows {
		out = append(out, domain.Event{
			ID:        r.ID,
			SessionID: r.SessionID,
			UserID:    r.UserID,
			Type:      domain.EventType(r.Type),
			Payload:   json.RawMessage(r.Payload),
			DedupeKey: r.DedupeKey,
			CreatedAt: r.CreatedAt,
		})
	}
	return out, nil
}

var _ out.Store = (*Store)(nil)
