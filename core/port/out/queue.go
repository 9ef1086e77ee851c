package out

import "context"

// Queue is the durable work-queue port a SessionOrchestrator enqueues chunk
// jobs onto. Grounded on the teacher's Redis Streams producer
// (internal/stream/worker_producer.go) — generalized here from random-UUID
// job ids to deterministic ids derived from (sessionId, phase, cursor). The
// queue itself does not deduplicate: re-enqueuing the same chunk adds a
// second message, and the worker's Store lease decides what actually runs.
type Queue interface {
	// Enqueue pushes one chunk job. Callers pass the same jobID for the same
	// (sessionID, phase, cursor); Enqueue does not check for an existing one.
	Enqueue(ctx context.Context, jobID, sessionID string) error
}

// QueueConsumer is the worker-side counterpart: claim, ack, and requeue
// chunk jobs via a consumer group.
type QueueConsumer interface {
	// Claim blocks up to the given context deadline for the next pending or
	// new job, returning its jobID and sessionID.
	Claim(ctx context.Context, consumerID string) (jobID, sessionID string, err error)
	Ack(ctx context.Context, jobID string) error
	// Nack returns a job to the pending list for another consumer to claim.
	Nack(ctx context.Context, jobID string) error
}
