// Package scheduler dispatches delayed reconciliation wake-ups through Redis.
//
// Keys (all derived from the configured base key):
//
//	<key>           ZSET  task id -> due time (unix ms)
//	<key>:inflight  ZSET  task id -> lease deadline (unix ms)
//	<key>:tasks     HASH  task id -> PollTask JSON
//
// A claimed task moves from the due set to the in-flight set. It is removed
// only on Ack; an expired lease puts it back in the due set, so every wake-up
// is delivered at least once.
package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sender-identity/internal/domain"
	"github.com/sender-identity/internal/metrics"
)

// NewRedisClient parses a redis:// URL and checks connectivity.
func NewRedisClient(ctx context.Context, rawURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return client, nil
}

var claimScript = redis.NewScript(`
local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, tonumber(ARGV[2]))
local out = {}
for _, id in ipairs(ids) do
  redis.call('ZREM', KEYS[1], id)
  redis.call('ZADD', KEYS[2], ARGV[3], id)
  local payload = redis.call('HGET', KEYS[3], id)
  if payload then
    table.insert(out, payload)
  end
end
return out
`)

var ackScript = redis.NewScript(`
redis.call('ZREM', KEYS[2], ARGV[1])
if not redis.call('ZSCORE', KEYS[1], ARGV[1]) then
  redis.call('HDEL', KEYS[3], ARGV[1])
end
return 1
`)

var requeueScript = redis.NewScript(`
local ids = redis.call('ZRANGEBYSCORE', KEYS[2], '-inf', ARGV[1])
for _, id in ipairs(ids) do
  redis.call('ZREM', KEYS[2], id)
  if not redis.call('ZSCORE', KEYS[1], id) then
    redis.call('ZADD', KEYS[1], ARGV[1], id)
  end
end
return #ids
`)

// Handler processes one due wake-up. A non-nil error leaves the task leased
// so it is redelivered once the lease expires.
type Handler func(ctx context.Context, task domain.PollTask) error

type Scheduler struct {
	rdb   *redis.Client
	key   string
	lease time.Duration
	now   func() time.Time
}

func New(rdb *redis.Client, key string, lease time.Duration) *Scheduler {
	return &Scheduler{rdb: rdb, key: key, lease: lease, now: time.Now}
}

func (s *Scheduler) keys() []string {
	return []string{s.key, s.key + ":inflight", s.key + ":tasks"}
}

// TaskID identifies the single pending wake-up of a sender; scheduling again replaces it.
func TaskID(t domain.PollTask) string { return t.TenantID + "/" + t.SenderID }

// Schedule stores task to be delivered at or after at.
func (s *Scheduler) Schedule(ctx context.Context, task domain.PollTask, at time.Time) error {
	payload, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("marshal poll task: %w", err)
	}
	id := TaskID(task)
	k := s.keys()
	_, err = s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, k[2], id, payload)
		p.ZAdd(ctx, k[0], redis.Z{Score: float64(at.UnixMilli()), Member: id})
		return nil
	})
	if err != nil {
		return fmt.Errorf("schedule %s: %w", id, err)
	}
	metrics.AddSchedulerTasks("scheduled", 1)
	return nil
}

// Claim leases up to limit due tasks.
func (s *Scheduler) Claim(ctx context.Context, limit int) ([]domain.PollTask, error) {
	now := s.now()
	res, err := claimScript.Run(ctx, s.rdb, s.keys(),
		now.UnixMilli(), limit, now.Add(s.lease).UnixMilli()).StringSlice()
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("claim tasks: %w", err)
	}
	tasks := make([]domain.PollTask, 0, len(res))
	for _, raw := range res {
		var t domain.PollTask
		if err := json.Unmarshal([]byte(raw), &t); err != nil {
			slog.Warn("dropping malformed poll task", "payload", raw, "err", err)
			continue
		}
		tasks = append(tasks, t)
	}
	return tasks, nil
}

// Ack releases a delivered task. A task rescheduled while in flight keeps its new entry.
func (s *Scheduler) Ack(ctx context.Context, task domain.PollTask) error {
	return ackScript.Run(ctx, s.rdb, s.keys(), TaskID(task)).Err()
}

// RequeueExpired returns tasks whose lease ran out to the due set.
func (s *Scheduler) RequeueExpired(ctx context.Context) (int, error) {
	n, err := requeueScript.Run(ctx, s.rdb, s.keys(), s.now().UnixMilli()).Int()
	if err != nil {
		return 0, fmt.Errorf("requeue expired leases: %w", err)
	}
	metrics.AddSchedulerTasks("requeued", n)
	return n, nil
}

// Run polls for due tasks every interval until ctx is done.
func (s *Scheduler) Run(ctx context.Context, interval time.Duration, batch int, handle Handler) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		s.tick(ctx, batch, handle)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) tick(ctx context.Context, batch int, handle Handler) {
	if n, err := s.RequeueExpired(ctx); err != nil {
		slog.Error("scheduler requeue failed", "err", err)
	} else if n > 0 {
		slog.Info("requeued expired poll tasks", "count", n)
	}

	tasks, err := s.Claim(ctx, batch)
	if err != nil {
		slog.Error("scheduler claim failed", "err", err)
		return
	}
	for _, t := range tasks {
		if err := handle(ctx, t); err != nil {
			metrics.AddSchedulerTasks("failed", 1)
			slog.Warn("poll task failed, will be redelivered",
				"tenant_id", t.TenantID, "sender_id", t.SenderID, "err", err)
			continue
		}
		metrics.AddSchedulerTasks("dispatched", 1)
		if err := s.Ack(ctx, t); err != nil {
			slog.Warn("ack poll task", "tenant_id", t.TenantID, "sender_id", t.SenderID, "err", err)
		}
	}
}
