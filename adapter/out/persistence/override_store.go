package persistence

import (
	"context"

	"github.com/jmoiron/sqlx"

	"subscan/core/domain"
	"subscan/core/port/out"
)

type overrideRow struct {
	UserID        string `db:"user_id"`
	SenderEmail   string `db:"sender_email"`
	SenderDomain  string `db:"sender_domain"`
	CanonicalName string `db:"canonical_name"`
}

// OverrideStore implements out.OverrideStore over PostgreSQL, following the
// same sqlx idiom as Store and OAuthAdapter.
type OverrideStore struct {
	db *sqlx.DB
}

func NewOverrideStore(db *sqlx.DB) *OverrideStore {
	return &OverrideStore{db: db}
}

func (s *OverrideStore) ListForUser(ctx context.Context, userID string) ([]domain.UserOverride, error) {
	var rows []overrideRow
	query := `
		SELECT user_id, COALESCE(sender_email, '') AS sender_email,
		       COALESCE(sender_domain, '') AS sender_domain, canonical_name
		FROM merchant_overrides WHERE user_id = $1`
	if err := s.db.SelectContext(ctx, &rows, query, userID); err != nil {
		return nil, err
	}
	out := make([]domain.UserOverride, 0, len(rows))
	for _, r := range rows {
		out = append(out, domain.UserOverride{
			UserID:        r.UserID,
			SenderEmail:   r.SenderEmail,
			SenderDomain:  r.SenderDomain,
			CanonicalName: r.CanonicalName,
		})
	}
	return out, nil
}

func (s *OverrideStore) Save(ctx context.Context, o domain.UserOverride) error {
	query := `
		INSERT INTO merchant_overrides (user_id, sender_email, sender_domain, canonical_name)
		VALUES ($1, NULLIF($2, ''), NULLIF($3, ''), $4)
		ON CONFLICT (user_id, sender_email, sender_domain) DO UPDATE
		SET canonical_name = EXCLUDED.canonical_name`
	_, err := s.db.ExecContext(ctx, query, o.UserID, o.SenderEmail, o.SenderDomain, o.CanonicalName)
	return err
}

var _ out.OverrideStore = (*OverrideStore)(nil)
