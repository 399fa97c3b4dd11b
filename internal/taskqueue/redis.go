package taskqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/VX1D/ralphy/internal/tasksource"
)

const (
	redisLockTTL    = 2 * time.Minute
	redisSweepEvery = 60 * time.Second
)

// dequeueScript atomically pops the lowest-scored pending id, claims a
// lock keyed by worker id, and moves the item into running: ZRANGE 0 0,
// ZREM from pending, SETEX the lock, ZADD now to running.
var dequeueScript = redis.NewScript(`
local pendingKey = KEYS[1]
local runningKey = KEYS[2]
local lockPrefix = KEYS[3]
local now = ARGV[1]
local workerID = ARGV[2]
local ttl = ARGV[3]

local ids = redis.call('ZRANGE', pendingKey, 0, 0)
if #ids == 0 then
  return nil
end
local id = ids[1]
redis.call('ZREM', pendingKey, id)
redis.call('SETEX', lockPrefix .. id, ttl, workerID)
redis.call('ZADD', runningKey, now, id)
return id
`)

func partKey(prefix, part string) string { return prefix + ":" + part }

func lockKey(prefix, id string) string { return prefix + ":locks:" + id }

func itemsHashKey(prefix string) string { return prefix + ":items" }

// Redis is the distributed queue backend: sorted sets per partition,
// scored by priority for pending and by timestamp elsewhere, a hash of
// serialized items, and TTL lock keys claiming running ownership.
type Redis struct {
	client *redis.Client
	prefix string

	stop chan struct{}
}

// OpenRedis constructs a Redis-backed queue using client, namespacing all
// keys under prefix (e.g. "ralphy:queue"). A background goroutine sweeps
// expired running locks back to pending every 60s.
func OpenRedis(client *redis.Client, prefix string) *Redis {
	r := &Redis{client: client, prefix: prefix, stop: make(chan struct{})}
	go r.sweepLoop()
	return r
}

func (r *Redis) sweepLoop() {
	ticker := time.NewTicker(redisSweepEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			_ = r.sweepExpiredLocks(context.Background())
		case <-r.stop:
			return
		}
	}
}

// sweepExpiredLocks moves items whose lock TTL has expired from running
// back to pending at their original priority score, releasing the lock.
func (r *Redis) sweepExpiredLocks(ctx context.Context) error {
	running, err := r.client.ZRangeWithScores(ctx, partKey(r.prefix, "running"), 0, -1).Result()
	if err != nil {
		return fmt.Errorf("scan running partition: %w", err)
	}
	for _, z := range running {
		id, _ := z.Member.(string)
		exists, err := r.client.Exists(ctx, lockKey(r.prefix, id)).Result()
		if err != nil {
			return err
		}
		if exists == 1 {
			continue
		}
		it, ok, err := r.GetTask(ctx, id)
		if err != nil || !ok {
			continue
		}
		if err := r.client.ZRem(ctx, partKey(r.prefix, "running"), id).Err(); err != nil {
			return err
		}
		if err := r.client.ZAdd(ctx, partKey(r.prefix, "pending"), redis.Z{
			Score: it.score(), Member: id,
		}).Err(); err != nil {
			return err
		}
	}
	return nil
}

func (r *Redis) putItem(ctx context.Context, it *Item) error {
	data, err := json.Marshal(it)
	if err != nil {
		return err
	}
	return r.client.HSet(ctx, itemsHashKey(r.prefix), it.Task.ID, data).Err()
}

func (r *Redis) fetchItem(ctx context.Context, id string) (*Item, bool, error) {
	data, err := r.client.HGet(ctx, itemsHashKey(r.prefix), id).Result()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var it Item
	if err := json.Unmarshal([]byte(data), &it); err != nil {
		return nil, false, fmt.Errorf("parse queue item %s: %w", id, err)
	}
	return &it, true, nil
}

func (r *Redis) Enqueue(ctx context.Context, task tasksource.Task, priority Priority, maxAttempts int) error {
	it := &Item{Task: task, Priority: priority, EnqueuedAt: nowMillis(), MaxAttempts: maxAttempts}
	if err := r.putItem(ctx, it); err != nil {
		return err
	}
	return r.client.ZAdd(ctx, partKey(r.prefix, "pending"), redis.Z{Score: it.score(), Member: task.ID}).Err()
}

func (r *Redis) Dequeue(ctx context.Context, workerID string) (*Item, bool, error) {
	res, err := dequeueScript.Run(ctx, r.client,
		[]string{partKey(r.prefix, "pending"), partKey(r.prefix, "running"), r.prefix + ":locks:"},
		fmt.Sprintf("%d", nowMillis()), workerID, int(redisLockTTL.Seconds()),
	).Result()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("run dequeue script: %w", err)
	}
	id, ok := res.(string)
	if !ok {
		return nil, false, nil
	}
	it, ok, err := r.fetchItem(ctx, id)
	if err != nil || !ok {
		return nil, false, err
	}
	now := nowMillis()
	it.StartedAt = &now
	if err := r.putItem(ctx, it); err != nil {
		return nil, false, err
	}
	return it, true, nil
}

func (r *Redis) Peek(ctx context.Context) (*Item, bool, error) {
	ids, err := r.client.ZRange(ctx, partKey(r.prefix, "pending"), 0, 0).Result()
	if err != nil {
		return nil, false, err
	}
	if len(ids) == 0 {
		return nil, false, nil
	}
	return r.fetchItem(ctx, ids[0])
}

func (r *Redis) moveTo(ctx context.Context, id, fromPart, toPart string, score float64) error {
	if err := r.client.ZRem(ctx, partKey(r.prefix, fromPart), id).Err(); err != nil {
		return err
	}
	return r.client.ZAdd(ctx, partKey(r.prefix, toPart), redis.Z{Score: score, Member: id}).Err()
}

func (r *Redis) MarkRunning(ctx context.Context, id, workerID string) error {
	it, ok, err := r.fetchItem(ctx, id)
	if err != nil || !ok {
		return err
	}
	now := nowMillis()
	it.StartedAt = &now
	if err := r.putItem(ctx, it); err != nil {
		return err
	}
	if err := r.client.SetEx(ctx, lockKey(r.prefix, id), workerID, redisLockTTL).Err(); err != nil {
		return err
	}
	return r.moveTo(ctx, id, "pending", "running", float64(now))
}

func (r *Redis) MarkComplete(ctx context.Context, id string) error {
	it, ok, err := r.fetchItem(ctx, id)
	if err != nil || !ok {
		return err
	}
	now := nowMillis()
	it.CompletedAt = &now
	if err := r.putItem(ctx, it); err != nil {
		return err
	}
	_ = r.client.Del(ctx, lockKey(r.prefix, id)).Err()
	return r.moveAcrossPartitions(ctx, id, "completed", float64(now))
}

func (r *Redis) MarkFailed(ctx context.Context, id string, _ string) (bool, error) {
	it, ok, err := r.fetchItem(ctx, id)
	if err != nil || !ok {
		return false, err
	}
	it.Attempts++
	_ = r.client.Del(ctx, lockKey(r.prefix, id)).Err()
	if it.MaxAttempts > 0 && it.Attempts >= it.MaxAttempts {
		if err := r.putItem(ctx, it); err != nil {
			return false, err
		}
		return false, r.moveAcrossPartitions(ctx, id, "failed", float64(nowMillis()))
	}
	it.StartedAt = nil
	if err := r.putItem(ctx, it); err != nil {
		return false, err
	}
	return true, r.moveAcrossPartitions(ctx, id, "pending", it.score())
}

// MarkSkipped removes from both pending and running without checking
// location, accepting an item from either; this is idempotent since ZREM
// on an absent member is a no-op.
func (r *Redis) MarkSkipped(ctx context.Context, id string) error {
	if err := r.client.ZRem(ctx, partKey(r.prefix, "pending"), id).Err(); err != nil {
		return err
	}
	if err := r.client.ZRem(ctx, partKey(r.prefix, "running"), id).Err(); err != nil {
		return err
	}
	_ = r.client.Del(ctx, lockKey(r.prefix, id)).Err()
	return r.client.ZAdd(ctx, partKey(r.prefix, "skipped"), redis.Z{Score: float64(nowMillis()), Member: id}).Err()
}

func (r *Redis) ResetTask(ctx context.Context, id string) error {
	it, ok, err := r.fetchItem(ctx, id)
	if err != nil || !ok {
		return err
	}
	it.Attempts = 0
	it.StartedAt = nil
	it.CompletedAt = nil
	it.EnqueuedAt = nowMillis()
	if err := r.putItem(ctx, it); err != nil {
		return err
	}
	_ = r.client.Del(ctx, lockKey(r.prefix, id)).Err()
	return r.moveAcrossPartitions(ctx, id, "pending", it.score())
}

func (r *Redis) moveAcrossPartitions(ctx context.Context, id, toPart string, score float64) error {
	for _, p := range []string{"pending", "running", "completed", "failed", "skipped"} {
		if p == toPart {
			continue
		}
		if err := r.client.ZRem(ctx, partKey(r.prefix, p), id).Err(); err != nil {
			return err
		}
	}
	return r.client.ZAdd(ctx, partKey(r.prefix, toPart), redis.Z{Score: score, Member: id}).Err()
}

func (r *Redis) Remove(ctx context.Context, id string) error {
	for _, p := range []string{"pending", "running", "completed", "failed", "skipped"} {
		if err := r.client.ZRem(ctx, partKey(r.prefix, p), id).Err(); err != nil {
			return err
		}
	}
	_ = r.client.Del(ctx, lockKey(r.prefix, id)).Err()
	return r.client.HDel(ctx, itemsHashKey(r.prefix), id).Err()
}

func (r *Redis) HasTask(ctx context.Context, id string) (bool, error) {
	n, err := r.client.HExists(ctx, itemsHashKey(r.prefix), id).Result()
	return n, err
}

func (r *Redis) GetTask(ctx context.Context, id string) (*Item, bool, error) {
	return r.fetchItem(ctx, id)
}

func (r *Redis) partitionItems(ctx context.Context, part string) ([]Item, error) {
	ids, err := r.client.ZRange(ctx, partKey(r.prefix, part), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	out := make([]Item, 0, len(ids))
	for _, id := range ids {
		it, ok, err := r.fetchItem(ctx, id)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, *it)
		}
	}
	return out, nil
}

func (r *Redis) GetPending(ctx context.Context) ([]Item, error)   { return r.partitionItems(ctx, "pending") }
func (r *Redis) GetRunning(ctx context.Context) ([]Item, error)   { return r.partitionItems(ctx, "running") }
func (r *Redis) GetCompleted(ctx context.Context) ([]Item, error) { return r.partitionItems(ctx, "completed") }
func (r *Redis) GetFailed(ctx context.Context) ([]Item, error)    { return r.partitionItems(ctx, "failed") }
func (r *Redis) GetSkipped(ctx context.Context) ([]Item, error)   { return r.partitionItems(ctx, "skipped") }

func (r *Redis) GetStats(ctx context.Context) (Stats, error) {
	var s Stats
	var err error
	if s.Pending, err = r.card(ctx, "pending"); err != nil {
		return s, err
	}
	if s.Running, err = r.card(ctx, "running"); err != nil {
		return s, err
	}
	if s.Completed, err = r.card(ctx, "completed"); err != nil {
		return s, err
	}
	if s.Failed, err = r.card(ctx, "failed"); err != nil {
		return s, err
	}
	if s.Skipped, err = r.card(ctx, "skipped"); err != nil {
		return s, err
	}

	pending, err := r.partitionItems(ctx, "pending")
	if err != nil {
		return s, err
	}
	s.ByPriority = map[Priority]int{}
	for _, it := range pending {
		s.ByPriority[it.Priority]++
	}
	return s, nil
}

func (r *Redis) card(ctx context.Context, part string) (int, error) {
	n, err := r.client.ZCard(ctx, partKey(r.prefix, part)).Result()
	return int(n), err
}

func (r *Redis) Clear(ctx context.Context) error {
	keys := []string{
		partKey(r.prefix, "pending"), partKey(r.prefix, "running"),
		partKey(r.prefix, "completed"), partKey(r.prefix, "failed"),
		partKey(r.prefix, "skipped"), itemsHashKey(r.prefix),
	}
	return r.client.Del(ctx, keys...).Err()
}

func (r *Redis) Close() error {
	close(r.stop)
	return nil
}

var _ Queue = (*Redis)(nil)
