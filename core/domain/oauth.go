package domain

import "time"

// OAuthConnection is the stored Gmail OAuth grant a Session's TokenProvider
// resolves against. Adapted from the teacher's core/domain OAuthConnection —
// narrowed to the single provider (Gmail) this pipeline drives.
type OAuthConnection struct {
	ID           int64     `json:"id"`
	UserID       string    `json:"userId"`
	Email        string    `json:"email"`
	AccessToken  string    `json:"-"`
	RefreshToken string    `json:"-"`
	ExpiresAt    time.Time `json:"expiresAt"`
	IsConnected  bool      `json:"isConnected"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}
