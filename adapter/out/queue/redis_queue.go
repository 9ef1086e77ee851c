// Package queue implements out.Queue/out.QueueConsumer over a single Redis
// Stream. Grounded on adapter/out/messaging's XReadGroup/XClaim/XAck
// consumer loop (pending-message reprocessing, idle-time reclaim), narrowed
// to one stream ("scan:jobs") carrying deterministic (sessionId, phase,
// cursor) job ids instead of the teacher's uuid.New() job ids. The jobID->entryID
// side map uses a Redis hash, the same HSet/HGet idiom the teacher's
// RedisProducer.SetSyncStatus/GetSyncStatus use for sync-progress bookkeeping.
package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"

	"subscan/core/port/out"
)

const (
	streamScanJobs        = "scan:jobs"
	entryIDHashKey        = "scan:jobs:entryid"
	defaultReclaimIdleFor = 2 * time.Minute
)

type job struct {
	JobID     string    `json:"jobId"`
	SessionID string    `json:"sessionId"`
	CreatedAt time.Time `json:"createdAt"`
}

// RedisQueue implements both out.Queue and out.QueueConsumer against one
// Redis Streams consumer group.
type RedisQueue struct {
	client         *redis.Client
	group          string
	reclaimIdleFor time.Duration
}

// NewRedisQueue builds a queue that reclaims pending entries once they've
// been idle past idleSec seconds (config's CONSUMER_PENDING_IDLE_SEC);
// idleSec<=0 falls back to defaultReclaimIdleFor.
func NewRedisQueue(client *redis.Client, group string, idleSec int) *RedisQueue {
	idle := defaultReclaimIdleFor
	if idleSec > 0 {
		idle = time.Duration(idleSec) * time.Second
	}
	return &RedisQueue{client: client, group: group, reclaimIdleFor: idle}
}

// EnsureGroup creates the consumer group if it doesn't already exist.
// Grounded on the teacher's createConsumerGroup/CreateGroup helper.
func (q *RedisQueue) EnsureGroup(ctx context.Context) error {
	err := q.client.XGroupCreateMkStream(ctx, streamScanJobs, q.group, "0").Err()
	if err != nil && err.Error() != "BUSYGROUP Consumer Group name already exists" {
		return err
	}
	return nil
}

// Enqueue publishes one chunk job keyed by a caller-supplied deterministic
// jobID. Redis Streams entry ids themselves stay auto-generated ("*"), and
// no check is made for an earlier entry with the same jobID: enqueuing it
// twice adds two entries. A duplicate only causes one more
// Orchestrator.LeaseAndRun, which runs whatever session Store.LeaseNext
// hands out, if any.
func (q *RedisQueue) Enqueue(ctx context.Context, jobID, sessionID string) error {
	j := job{JobID: jobID, SessionID: sessionID, CreatedAt: time.Now()}
	data, err := json.Marshal(j)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	return q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: streamScanJobs,
		Values: map[string]any{"data": string(data)},
	}).Err()
}

// Claim reads the next new message for consumerID, falling back to
// reclaiming an idle pending message from a dead consumer. Grounded on the
// teacher's XReadGroup block-then-XPendingExt-then-XClaim sequence, folded
// into one synchronous call instead of a background ticker; the worker's
// consume loop calls Claim repeatedly, one job per call. The returned jobID's Redis entry id is recorded in
// entryIDHashKey so a later Ack/Nack call (which only carries jobID, per the
// out.QueueConsumer contract) can resolve back to the entry XAck/XClaim need.
func (q *RedisQueue) Claim(ctx context.Context, consumerID string) (string, string, error) {
	streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    q.group,
		Consumer: consumerID,
		Streams:  []string{streamScanJobs, ">"},
		Count:    1,
		Block:    5 * time.Second,
	}).Result()
	if err == nil {
		if entryID, j, ok := firstJob(streams); ok {
			q.rememberEntryID(ctx, j.JobID, entryID)
			return j.JobID, j.SessionID, nil
		}
	} else if !errors.Is(err, redis.Nil) {
		return "", "", err
	}

	entryID, j, err := q.reclaimIdle(ctx, consumerID)
	if err != nil {
		return "", "", err
	}
	if j == nil {
		return "", "", redis.Nil
	}
	q.rememberEntryID(ctx, j.JobID, entryID)
	return j.JobID, j.SessionID, nil
}

func (q *RedisQueue) reclaimIdle(ctx context.Context, consumerID string) (string, *job, error) {
	pending, err := q.client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: streamScanJobs,
		Group:  q.group,
		Start:  "-",
		End:    "+",
		Count:  1,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", nil, nil
		}
		return "", nil, err
	}
	if len(pending) == 0 || pending[0].Idle < q.reclaimIdleFor {
		return "", nil, nil
	}

	msgs, err := q.client.XClaim(ctx, &redis.XClaimArgs{
		Stream:   streamScanJobs,
		Group:    q.group,
		Consumer: consumerID,
		MinIdle:  q.reclaimIdleFor,
		Messages: []string{pending[0].ID},
	}).Result()
	if err != nil || len(msgs) == 0 {
		return "", nil, err
	}
	j, ok := decodeJob(msgs[0])
	if !ok {
		return "", nil, nil
	}
	return msgs[0].ID, &j, nil
}

func firstJob(streams []redis.XStream) (entryID string, j *job, ok bool) {
	for _, s := range streams {
		for _, msg := range s.Messages {
			if decoded, ok := decodeJob(msg); ok {
				return msg.ID, &decoded, true
			}
		}
	}
	return "", nil, false
}

func decodeJob(msg redis.XMessage) (job, bool) {
	raw, ok := msg.Values["data"].(string)
	if !ok {
		return job{}, false
	}
	var j job
	if err := json.Unmarshal([]byte(raw), &j); err != nil {
		return job{}, false
	}
	if j.JobID == "" {
		j.JobID = msg.ID
	}
	return j, true
}

func (q *RedisQueue) rememberEntryID(ctx context.Context, jobID, entryID string) {
	q.client.HSet(ctx, entryIDHashKey, jobID, entryID)
}

// Ack resolves jobID back to its Redis Streams entry id and acknowledges it.
func (q *RedisQueue) Ack(ctx context.Context, jobID string) error {
	entryID, err := q.client.HGet(ctx, entryIDHashKey, jobID).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return err
	}
	if err := q.client.XAck(ctx, streamScanJobs, q.group, entryID).Err(); err != nil {
		return err
	}
	return q.client.HDel(ctx, entryIDHashKey, jobID).Err()
}

// Nack drops the entry-id mapping but otherwise leaves the message
// unacknowledged in the stream's pending list; it stays claimable by
// reclaimIdle once it has been idle past q.reclaimIdleFor. This mirrors the
// teacher's pending-message reprocessing design rather than an explicit
// retry-queue.
func (q *RedisQueue) Nack(ctx context.Context, jobID string) error {
	return q.client.HDel(ctx, entryIDHashKey, jobID).Err()
}

var (
	_ out.Queue         = (*RedisQueue)(nil)
	_ out.QueueConsumer = (*RedisQueue)(nil)
)
