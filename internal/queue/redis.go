package queue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisQueue is the durable Queue backend.
//
// Per kind it keeps a waiting LIST, an active ZSET scored by lease deadline,
// and ZSETs of delayed (scored by run time), completed and failed ids
// (scored by finish time). Each task is a HASH; terminal tasks get an EXPIRE
// matching their kind's retention and the index ZSETs are trimmed to the
// same window.
type RedisQueue struct {
	rdb    redis.UniversalClient
	prefix string
	now    func() time.Time
}

func NewRedisQueue(rdb redis.UniversalClient) *RedisQueue {
	return &RedisQueue{rdb: rdb, prefix: "jobq", now: time.Now}
}

// claim pops the oldest waiting id and leases it in one step, so a crash
// cannot drop an id between the two keys.
var claim = redis.NewScript(`
local id = redis.call('RPOP', KEYS[1])
if not id then
	return false
end
redis.call('ZADD', KEYS[2], ARGV[1], id)
return id
`)

func (q *RedisQueue) key(kind Kind, list string) string {
	return fmt.Sprintf("%s:%s:%s", q.prefix, kind, list)
}

func (q *RedisQueue) taskKey(id string) string {
	return fmt.Sprintf("%s:task:%s", q.prefix, id)
}

func ms(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10)
}

func (q *RedisQueue) Enqueue(ctx context.Context, kind Kind, payload any) (Task, error) {
	t, err := newTask(kind, payload, q.now())
	if err != nil {
		return Task{}, err
	}
	_, err = q.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, q.taskKey(t.ID), toHash(&t))
		p.LPush(ctx, q.key(kind, "wait"), t.ID)
		return nil
	})
	if err != nil {
		return Task{}, fmt.Errorf("enqueue %s: %w", kind, err)
	}
	return t, nil
}

func (q *RedisQueue) Dequeue(ctx context.Context, kind Kind) (*Task, error) {
	if _, err := ParseKind(string(kind)); err != nil {
		return nil, err
	}
	if err := q.reclaim(ctx, kind); err != nil {
		return nil, err
	}
	if err := q.promote(ctx, kind); err != nil {
		return nil, err
	}

	now := q.now()
	active := q.key(kind, "active")
	deadline := now.Add(PolicyFor(kind).Lease)
	id, err := claim.Run(ctx, q.rdb, []string{q.key(kind, "wait"), active}, deadline.UnixMilli()).Text()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("dequeue %s: %w", kind, err)
	}

	t, err := q.Get(ctx, id)
	if errors.Is(err, ErrTaskNotFound) {
		// Hash expired under us; drop the dangling id.
		q.rdb.ZRem(ctx, active, id)
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := checkTransition(id, t.Status, StatusActive); err != nil {
		q.rdb.ZRem(ctx, active, id)
		return nil, err
	}

	attempts, err := q.rdb.HIncrBy(ctx, q.taskKey(id), "attempts", 1).Result()
	if err != nil {
		return nil, fmt.Errorf("dequeue %s: %w", kind, err)
	}
	if err := q.rdb.HSet(ctx, q.taskKey(id), "status", string(StatusActive), "updatedAt", now.Format(time.RFC3339Nano)).Err(); err != nil {
		return nil, fmt.Errorf("dequeue %s: %w", kind, err)
	}
	t.Status = StatusActive
	t.Attempts = int(attempts)
	t.UpdatedAt = now
	return t, nil
}

func (q *RedisQueue) Extend(ctx context.Context, t *Task) error {
	active := q.key(t.Kind, "active")
	if err := q.rdb.ZScore(ctx, active, t.ID).Err(); err != nil {
		if errors.Is(err, redis.Nil) {
			return fmt.Errorf("extend %s: %w", t.ID, ErrLeaseLost)
		}
		return fmt.Errorf("extend %s: %w", t.ID, err)
	}
	deadline := q.now().Add(PolicyFor(t.Kind).Lease)
	if err := q.rdb.ZAddXX(ctx, active, redis.Z{Score: float64(deadline.UnixMilli()), Member: t.ID}).Err(); err != nil {
		return fmt.Errorf("extend %s: %w", t.ID, err)
	}
	return nil
}

// reclaim takes back active tasks of kind whose lease ran out and fails them
// as of their deadline. ZREM decides the winner when several workers race.
func (q *RedisQueue) reclaim(ctx context.Context, kind Kind) error {
	active := q.key(kind, "active")
	expired, err := q.rdb.ZRangeByScoreWithScores(ctx, active, &redis.ZRangeBy{
		Min: "-inf",
		Max: "(" + ms(q.now()),
	}).Result()
	if err != nil {
		return fmt.Errorf("reclaim %s: %w", kind, err)
	}
	for _, z := range expired {
		id, _ := z.Member.(string)
		n, err := q.rdb.ZRem(ctx, active, id).Result()
		if err != nil {
			return fmt.Errorf("reclaim %s: %w", kind, err)
		}
		if n == 0 {
			continue
		}
		stored, err := q.Get(ctx, id)
		if errors.Is(err, ErrTaskNotFound) {
			continue
		}
		if err != nil {
			return err
		}
		if stored.Status == StatusWaiting {
			// Claimed but never marked active; hand it back untouched.
			if err := q.rdb.RPush(ctx, q.key(kind, "wait"), id).Err(); err != nil {
				return fmt.Errorf("reclaim %s: %w", kind, err)
			}
			continue
		}
		if stored.Status != StatusActive {
			continue
		}
		deadline := time.UnixMilli(int64(z.Score))
		next, runAt := afterFailure(stored, ErrLeaseExpired, deadline)
		if err := q.settle(ctx, stored, next, runAt, ErrLeaseExpired.Error(), q.now()); err != nil {
			return fmt.Errorf("reclaim %s: %w", kind, err)
		}
	}
	return nil
}

// promote moves due delayed tasks of kind back to the waiting list. ZREM
// decides the winner when several workers promote at once.
func (q *RedisQueue) promote(ctx context.Context, kind Kind) error {
	delayed := q.key(kind, "delayed")
	ids, err := q.rdb.ZRangeByScore(ctx, delayed, &redis.ZRangeBy{
		Min: "-inf",
		Max: ms(q.now()),
	}).Result()
	if err != nil {
		return fmt.Errorf("promote %s: %w", kind, err)
	}
	for _, id := range ids {
		n, err := q.rdb.ZRem(ctx, delayed, id).Result()
		if err != nil {
			return fmt.Errorf("promote %s: %w", kind, err)
		}
		if n == 0 {
			continue
		}
		_, err = q.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.HSet(ctx, q.taskKey(id), "status", string(StatusWaiting), "updatedAt", q.now().Format(time.RFC3339Nano))
			p.LPush(ctx, q.key(kind, "wait"), id)
			return nil
		})
		if err != nil {
			return fmt.Errorf("promote %s: %w", kind, err)
		}
	}
	return nil
}

func (q *RedisQueue) Complete(ctx context.Context, t *Task) error {
	stored, err := q.Get(ctx, t.ID)
	if err != nil {
		return err
	}
	if err := checkTransition(t.ID, stored.Status, StatusCompleted); err != nil {
		return err
	}

	now := q.now()
	keep := PolicyFor(stored.Kind).KeepCompleted
	_, err = q.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.ZRem(ctx, q.key(stored.Kind, "active"), t.ID)
		p.HSet(ctx, q.taskKey(t.ID), "status", string(StatusCompleted), "updatedAt", now.Format(time.RFC3339Nano))
		p.Expire(ctx, q.taskKey(t.ID), keep)
		q.index(ctx, p, q.key(stored.Kind, "completed"), t.ID, now, keep)
		return nil
	})
	if err != nil {
		return fmt.Errorf("complete %s: %w", t.ID, err)
	}

	stored.Status, stored.UpdatedAt = StatusCompleted, now
	*t = *stored
	return nil
}

func (q *RedisQueue) Fail(ctx context.Context, t *Task, cause error) (Status, error) {
	stored, err := q.Get(ctx, t.ID)
	if err != nil {
		return "", err
	}
	now := q.now()
	next, runAt := afterFailure(stored, cause, now)
	if err := checkTransition(t.ID, stored.Status, next); err != nil {
		return "", err
	}

	lastErr := ""
	if cause != nil {
		lastErr = cause.Error()
	}
	if err := q.settle(ctx, stored, next, runAt, lastErr, now); err != nil {
		return "", fmt.Errorf("fail %s: %w", t.ID, err)
	}

	stored.Status, stored.LastError, stored.RunAt, stored.UpdatedAt = next, lastErr, runAt, now
	*t = *stored
	return next, nil
}

// settle writes a failed attempt of an active task: delayed until runAt, or
// failed for good.
func (q *RedisQueue) settle(ctx context.Context, t *Task, next Status, runAt time.Time, lastErr string, now time.Time) error {
	keep := PolicyFor(t.Kind).KeepFailed
	_, err := q.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.ZRem(ctx, q.key(t.Kind, "active"), t.ID)
		p.HSet(ctx, q.taskKey(t.ID),
			"status", string(next),
			"lastError", lastErr,
			"runAt", ms(runAt),
			"updatedAt", now.Format(time.RFC3339Nano),
		)
		if next == StatusDelayed {
			p.ZAdd(ctx, q.key(t.Kind, "delayed"), redis.Z{Score: float64(runAt.UnixMilli()), Member: t.ID})
			return nil
		}
		p.Expire(ctx, q.taskKey(t.ID), keep)
		q.index(ctx, p, q.key(t.Kind, "failed"), t.ID, now, keep)
		return nil
	})
	return err
}

// index records id in a terminal ZSET and trims entries older than keep.
func (q *RedisQueue) index(ctx context.Context, p redis.Pipeliner, key, id string, now time.Time, keep time.Duration) {
	p.ZAdd(ctx, key, redis.Z{Score: float64(now.UnixMilli()), Member: id})
	p.ZRemRangeByScore(ctx, key, "-inf", "("+ms(now.Add(-keep)))
}

func (q *RedisQueue) Get(ctx context.Context, id string) (*Task, error) {
	h, err := q.rdb.HGetAll(ctx, q.taskKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("get task %s: %w", id, err)
	}
	if len(h) == 0 {
		return nil, ErrTaskNotFound
	}
	return fromHash(id, h)
}

func (q *RedisQueue) Stats(ctx context.Context) (map[Kind]Counts, error) {
	type cmds struct {
		wait, active      *redis.IntCmd
		completed, failed *redis.IntCmd
		delayed           *redis.IntCmd
	}
	now := q.now()
	per := make(map[Kind]cmds, len(Kinds()))

	_, err := q.rdb.Pipelined(ctx, func(p redis.Pipeliner) error {
		for _, k := range Kinds() {
			pol := PolicyFor(k)
			per[k] = cmds{
				wait:      p.LLen(ctx, q.key(k, "wait")),
				active:    p.ZCard(ctx, q.key(k, "active")),
				completed: p.ZCount(ctx, q.key(k, "completed"), ms(now.Add(-pol.KeepCompleted)), "+inf"),
				failed:    p.ZCount(ctx, q.key(k, "failed"), ms(now.Add(-pol.KeepFailed)), "+inf"),
				delayed:   p.ZCard(ctx, q.key(k, "delayed")),
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("queue stats: %w", err)
	}

	out := make(map[Kind]Counts, len(per))
	for k, c := range per {
		out[k] = Counts{
			Waiting:   c.wait.Val(),
			Active:    c.active.Val(),
			Completed: c.completed.Val(),
			Failed:    c.failed.Val(),
			Delayed:   c.delayed.Val(),
		}
	}
	return out, nil
}

func toHash(t *Task) map[string]any {
	return map[string]any{
		"kind":        string(t.Kind),
		"payload":     string(t.Payload),
		"status":      string(t.Status),
		"attempts":    t.Attempts,
		"maxAttempts": t.MaxAttempts,
		"lastError":   t.LastError,
		"runAt":       ms(t.RunAt),
		"createdAt":   t.CreatedAt.Format(time.RFC3339Nano),
		"updatedAt":   t.UpdatedAt.Format(time.RFC3339Nano),
	}
}

func fromHash(id string, h map[string]string) (*Task, error) {
	status, err := ParseStatus(h["status"])
	if err != nil {
		return nil, fmt.Errorf("task %s: %w", id, err)
	}
	t := &Task{
		ID:        id,
		Kind:      Kind(h["kind"]),
		Payload:   []byte(h["payload"]),
		Status:    status,
		LastError: h["lastError"],
	}
	t.Attempts, _ = strconv.Atoi(h["attempts"])
	t.MaxAttempts, _ = strconv.Atoi(h["maxAttempts"])
	if n, err := strconv.ParseInt(h["runAt"], 10, 64); err == nil && n > 0 {
		t.RunAt = time.UnixMilli(n)
	}
	t.CreatedAt, _ = time.Parse(time.RFC3339Nano, h["createdAt"])
	t.UpdatedAt, _ = time.Parse(time.RFC3339Nano, h["updatedAt"])
	return t, nil
}
