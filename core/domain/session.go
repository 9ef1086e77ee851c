// Package domain holds the core types of the subscription-scan pipeline.
package domain

import (
	"encoding/json"
	"time"
)

// Provider identifies which mailbox driver a Session talks to.
type Provider string

const (
	ProviderGmail Provider = "gmail"
	ProviderIMAP  Provider = "imap"
)

// SessionStatus is the closed set of Session lifecycle states.
type SessionStatus string

const (
	SessionQueued   SessionStatus = "queued"
	SessionRunning  SessionStatus = "running"
	SessionDone     SessionStatus = "done"
	SessionCanceled SessionStatus = "canceled"
	SessionError    SessionStatus = "error"
)

// ScanMode selects an SLO budget tier; see Options.EnforceBudgets.
type ScanMode string

const (
	ModeQuick ScanMode = "quick"
	ModeDeep  ScanMode = "deep"
)

// QueryMode selects the Gmail query shape.
type QueryMode string

const (
	QueryTransactions QueryMode = "transactions"
	QueryBroad        QueryMode = "broad"
)

// Options is the normative, clamp-able scan configuration (SPEC §6).
type Options struct {
	Mode              ScanMode  `json:"mode,omitempty"`
	DaysBack          int       `json:"daysBack"`
	PageSize          int       `json:"pageSize"`
	ChunkMs           int       `json:"chunkMs"`
	FullFetchCap      int       `json:"fullFetchCap"`
	Concurrency       int       `json:"concurrency"`
	MaxPages          int       `json:"maxPages"`
	MaxCandidates     int       `json:"maxCandidates"`
	MaxListIds        int       `json:"maxListIds"`
	ClusterCap        int       `json:"clusterCap"`
	QueryMode         QueryMode `json:"queryMode,omitempty"`
	IncludePromotions bool      `json:"includePromotions"`
	Cursor            *string   `json:"cursor,omitempty"`
}

// Session is one scanning job bound to (userId, provider).
type Session struct {
	ID             string          `json:"id"`
	UserID         string          `json:"userId"`
	Provider       Provider        `json:"provider"`
	Status         SessionStatus   `json:"status"`
	Cursor         *string         `json:"cursor"`
	Options        Options         `json:"options"`
	Pages          int             `json:"pages"`
	ScannedTotal   int             `json:"scannedTotal"`
	FoundTotal     int             `json:"foundTotal"`
	LastStats      json.RawMessage `json:"lastStats,omitempty"`
	ErrorCode      string          `json:"errorCode,omitempty"`
	ErrorMessage   string          `json:"errorMessage,omitempty"`
	LeasedBy       string          `json:"leasedBy,omitempty"`
	LeaseExpiresAt *time.Time      `json:"leaseExpiresAt,omitempty"`
	CreatedAt      time.Time       `json:"createdAt"`
}

// IsTerminal reports whether the session has reached a sticky end state.
func (s *Session) IsTerminal() bool {
	switch s.Status {
	case SessionDone, SessionCanceled, SessionError:
		return true
	default:
		return false
	}
}

// EventType is the closed set of SSE/EventLog event types.
type EventType string

const (
	EventHello      EventType = "hello"
	EventProgress   EventType = "progress"
	EventCandidates EventType = "candidates"
	EventDone       EventType = "done"
	EventError      EventType = "error"
	EventPing       EventType = "ping"
)

// Event is one append-only row visible to SSE clients, in id order.
type Event struct {
	ID        int64           `json:"id"`
	SessionID string          `json:"sessionId"`
	UserID    string          `json:"userId"`
	Type      EventType       `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	DedupeKey string          `json:"dedupeKey,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
}
