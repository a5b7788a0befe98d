// Package redisqueue implements the scheduled work queue on Redis sorted
// sets. Due times and lease expiries are ZSET scores; item state lives in a
// hash per item. Claiming is a Lua script so concurrent workers never lease
// the same item.
package redisqueue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/beaconcrm/journey/pkg/models"
	"github.com/beaconcrm/journey/pkg/persistence"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	keyPending = "journey:queue:pending"
	keyLeased  = "journey:queue:leased"
	keyDone    = "journey:queue:done"
	keyFailed  = "journey:queue:failed"

	itemKeyPrefix       = "journey:item:"
	enrollmentKeyPrefix = "journey:enrollment:"
)

// claimScript atomically moves due items to the leased set. It considers
// pending items whose due time passed and leased items whose lease expired,
// earliest first, up to the requested limit.
var claimScript = redis.NewScript(`
	local pending = KEYS[1]
	local leased = KEYS[2]
	local now = tonumber(ARGV[1])
	local limit = tonumber(ARGV[2])
	local expiry = tonumber(ARGV[3])
	local worker = ARGV[4]
	local prefix = ARGV[5]

	local claimed = {}

	local due = redis.call('ZRANGEBYSCORE', pending, '-inf', now, 'LIMIT', 0, limit)
	for _, id in ipairs(due) do
		redis.call('ZREM', pending, id)
		redis.call('ZADD', leased, expiry, id)
		redis.call('HSET', prefix .. id, 'status', 'leased', 'leased_by', worker, 'lease_expires', expiry)
		claimed[#claimed + 1] = id
	end

	if #claimed < limit then
		local expired = redis.call('ZRANGEBYSCORE', leased, '-inf', now, 'LIMIT', 0, limit - #claimed)
		for _, id in ipairs(expired) do
			redis.call('ZADD', leased, expiry, id)
			redis.call('HSET', prefix .. id, 'leased_by', worker, 'lease_expires', expiry)
			claimed[#claimed + 1] = id
		end
	end

	return claimed
`)

// resolveScript removes a claimed item, but only while the claim still
// holds. Schedule repurposes the enrollment's item for the successor step,
// so a stale claim must leave the item alone.
var resolveScript = redis.NewScript(`
	local pending = KEYS[1]
	local leased = KEYS[2]
	local counter = KEYS[3]
	local id = ARGV[1]
	local step = ARGV[2]
	local itemPrefix = ARGV[3]
	local enrollmentPrefix = ARGV[4]

	local state = redis.call('HMGET', itemPrefix .. id, 'status', 'step_id', 'enrollment_id')
	if state[1] ~= 'leased' or state[2] ~= step then
		return 0
	end

	redis.call('ZREM', pending, id)
	redis.call('ZREM', leased, id)
	redis.call('DEL', itemPrefix .. id)
	redis.call('DEL', enrollmentPrefix .. state[3])
	redis.call('INCR', counter)

	return 1
`)

// retryScript moves a claimed item back to pending with a bumped attempt
// counter, under the same claim guard as resolveScript.
var retryScript = redis.NewScript(`
	local pending = KEYS[1]
	local leased = KEYS[2]
	local id = ARGV[1]
	local step = ARGV[2]
	local due = ARGV[3]
	local itemPrefix = ARGV[4]

	local state = redis.call('HMGET', itemPrefix .. id, 'status', 'step_id')
	if state[1] ~= 'leased' or state[2] ~= step then
		return 0
	end

	redis.call('HINCRBY', itemPrefix .. id, 'attempts', 1)
	redis.call('HSET', itemPrefix .. id, 'status', 'pending', 'due_at', due, 'leased_by', '', 'lease_expires', 0)
	redis.call('ZREM', leased, id)
	redis.call('ZADD', pending, due, id)

	return 1
`)

// Queue implements persistence.Queue on a Redis instance.
type Queue struct {
	client *redis.Client
	logger *slog.Logger
}

// NewQueue connects to Redis and verifies the connection.
func NewQueue(ctx context.Context, logger *slog.Logger, redisURL string) (*Queue, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	err = client.Ping(ctx).Err()
	if err != nil {
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	return &Queue{
		client: client,
		logger: logger.With("module", "redisqueue"),
	}, nil
}

// Close releases the Redis connection.
func (q *Queue) Close() error {
	return q.client.Close()
}

// HealthCheck verifies the Redis connection is healthy.
func (q *Queue) HealthCheck(ctx context.Context) error {
	err := q.client.Ping(ctx).Err()
	if err != nil {
		return fmt.Errorf("failed to ping redis: %w", err)
	}

	return nil
}

// Schedule creates or replaces the live item for an enrollment.
func (q *Queue) Schedule(ctx context.Context, enrollmentID, stepID string, dueAt time.Time) error {
	itemID, err := q.client.Get(ctx, enrollmentKeyPrefix+enrollmentID).Result()
	if errors.Is(err, redis.Nil) {
		itemID = uuid.New().String()
	} else if err != nil {
		return fmt.Errorf("failed to look up live item for enrollment %s: %w", enrollmentID, err)
	}

	pipe := q.client.TxPipeline()
	pipe.HSet(ctx, itemKeyPrefix+itemID, map[string]any{
		"enrollment_id": enrollmentID,
		"step_id":       stepID,
		"due_at":        dueAt.Unix(),
		"attempts":      0,
		"status":        string(models.WorkItemStatusPending),
		"leased_by":     "",
		"lease_expires": 0,
	})
	pipe.Set(ctx, enrollmentKeyPrefix+enrollmentID, itemID, 0)
	pipe.ZRem(ctx, keyLeased, itemID)
	pipe.ZAdd(ctx, keyPending, redis.Z{Score: float64(dueAt.Unix()), Member: itemID})

	_, err = pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to schedule work item for enrollment %s: %w", enrollmentID, err)
	}

	return nil
}

// ClaimDue atomically leases up to limit due items for a worker.
func (q *Queue) ClaimDue(ctx context.Context, now time.Time, limit int, worker string, lease time.Duration) ([]*models.WorkItem, error) {
	ids, err := claimScript.Run(ctx, q.client,
		[]string{keyPending, keyLeased},
		now.Unix(), limit, now.Add(lease).Unix(), worker, itemKeyPrefix,
	).StringSlice()
	if err != nil {
		return nil, fmt.Errorf("failed to claim due work items: %w", err)
	}

	items := make([]*models.WorkItem, 0, len(ids))

	for _, id := range ids {
		item, err := q.loadItem(ctx, id)
		if err != nil {
			q.logger.ErrorContext(ctx, "Failed to load claimed item", "item_id", id, "error", err)

			continue
		}

		items = append(items, item)
	}

	return items, nil
}

// Complete marks a claimed item done.
func (q *Queue) Complete(ctx context.Context, item *models.WorkItem) error {
	return q.resolve(ctx, item, keyDone)
}

// Fail marks a claimed item permanently failed.
func (q *Queue) Fail(ctx context.Context, item *models.WorkItem) error {
	return q.resolve(ctx, item, keyFailed)
}

func (q *Queue) resolve(ctx context.Context, claim *models.WorkItem, counter string) error {
	err := resolveScript.Run(ctx, q.client,
		[]string{keyPending, keyLeased, counter},
		claim.ID, claim.StepID, itemKeyPrefix, enrollmentKeyPrefix,
	).Err()
	if err != nil {
		return fmt.Errorf("failed to resolve work item %s: %w", claim.ID, err)
	}

	return nil
}

// Retry returns a claimed item to pending with a bumped attempt counter.
func (q *Queue) Retry(ctx context.Context, claim *models.WorkItem, dueAt time.Time) error {
	err := retryScript.Run(ctx, q.client,
		[]string{keyPending, keyLeased},
		claim.ID, claim.StepID, dueAt.Unix(), itemKeyPrefix,
	).Err()
	if err != nil {
		return fmt.Errorf("failed to retry work item %s: %w", claim.ID, err)
	}

	return nil
}

// CancelByEnrollment removes any live item for an enrollment.
func (q *Queue) CancelByEnrollment(ctx context.Context, enrollmentID string) error {
	itemID, err := q.client.Get(ctx, enrollmentKeyPrefix+enrollmentID).Result()
	if errors.Is(err, redis.Nil) {
		return nil
	} else if err != nil {
		return fmt.Errorf("failed to look up live item for enrollment %s: %w", enrollmentID, err)
	}

	pipe := q.client.TxPipeline()
	pipe.ZRem(ctx, keyPending, itemID)
	pipe.ZRem(ctx, keyLeased, itemID)
	pipe.Del(ctx, itemKeyPrefix+itemID)
	pipe.Del(ctx, enrollmentKeyPrefix+enrollmentID)

	_, err = pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to cancel work items for enrollment %s: %w", enrollmentID, err)
	}

	return nil
}

// Stats returns aggregate work item counts by state. Done and failed counts
// are monotonic counters since the items themselves are removed.
func (q *Queue) Stats(ctx context.Context) (persistence.QueueStats, error) {
	pipe := q.client.TxPipeline()
	pending := pipe.ZCard(ctx, keyPending)
	leased := pipe.ZCard(ctx, keyLeased)
	done := pipe.Get(ctx, keyDone)
	failed := pipe.Get(ctx, keyFailed)

	_, err := pipe.Exec(ctx)
	if err != nil && !errors.Is(err, redis.Nil) {
		return persistence.QueueStats{}, fmt.Errorf("failed to query queue stats: %w", err)
	}

	return persistence.QueueStats{
		Pending: int(pending.Val()),
		Leased:  int(leased.Val()),
		Done:    counterValue(done),
		Failed:  counterValue(failed),
	}, nil
}

func counterValue(cmd *redis.StringCmd) int {
	value, err := strconv.Atoi(cmd.Val())
	if err != nil {
		return 0
	}

	return value
}

func (q *Queue) loadItem(ctx context.Context, id string) (*models.WorkItem, error) {
	fields, err := q.client.HGetAll(ctx, itemKeyPrefix+id).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load work item %s: %w", id, err)
	}

	if len(fields) == 0 {
		return nil, persistence.ErrWorkItemNotFound
	}

	dueAt, _ := strconv.ParseInt(fields["due_at"], 10, 64)
	attempts, _ := strconv.Atoi(fields["attempts"])
	leaseExpires, _ := strconv.ParseInt(fields["lease_expires"], 10, 64)

	item := &models.WorkItem{
		ID:           id,
		EnrollmentID: fields["enrollment_id"],
		StepID:       fields["step_id"],
		DueAt:        time.Unix(dueAt, 0).UTC(),
		Attempts:     attempts,
		Status:       models.WorkItemStatus(fields["status"]),
		LeasedBy:     fields["leased_by"],
	}

	if leaseExpires > 0 {
		expires := time.Unix(leaseExpires, 0).UTC()
		item.LeaseExpires = &expires
	}

	return item, nil
}
