package out

import (
	"context"

	"subscan/core/domain"
)

// MailboxDriver is the narrow, provider-agnostic mailbox contract a
// ChunkEngine drives one page at a time. Decomposed from the teacher's
// EmailProviderPort (core/port/out/worker_email_provider.go), which bundled
// auth/sync/read/send/modify/label/attachment sub-interfaces behind one big
// port — here narrowed to exactly the three calls a read-only scan needs.
type MailboxDriver interface {
	// ListPage returns the message ids on one page for a query, plus the
	// opaque provider cursor to resume from (empty string when exhausted).
	ListPage(ctx context.Context, conn *domain.OAuthConnection, q ListQuery) (ListPageResult, error)

	// FetchMetadata resolves headers/subject/snippet/date for a batch of
	// message ids without downloading bodies.
	FetchMetadata(ctx context.Context, conn *domain.OAuthConnection, ids []string) ([]domain.MessageMeta, error)

	// FetchFull resolves the full body (text/html) for one message id.
	FetchFull(ctx context.Context, conn *domain.OAuthConnection, id string) (*domain.MessageBody, error)
}

// ListQuery parameterizes one ListPage call.
type ListQuery struct {
	DaysBack          int
	QueryMode         domain.QueryMode
	IncludePromotions bool
	PageSize          int
	Cursor            string
}

// ListPageResult is one page of message ids plus the cursor to resume from.
type ListPageResult struct {
	IDs        []string
	NextCursor string
	Done       bool
}
