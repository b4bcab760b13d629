package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sender-identity/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupScheduler(t *testing.T) (*Scheduler, *time.Time) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	clock := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	s := New(rdb, "test:schedule", 5*time.Minute)
	s.now = func() time.Time { return clock }
	return s, &clock
}

func task(sender string) domain.PollTask {
	return domain.PollTask{
		TenantID:  "t1",
		SenderID:  sender,
		ExpiresAt: time.Date(2026, 1, 2, 12, 0, 0, 0, time.UTC),
	}
}

func TestClaim_OnlyDueTasks(t *testing.T) {
	s, clock := setupScheduler(t)
	ctx := context.Background()

	require.NoError(t, s.Schedule(ctx, task("due"), clock.Add(-time.Second)))
	require.NoError(t, s.Schedule(ctx, task("later"), clock.Add(time.Hour)))

	got, err := s.Claim(ctx, 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "due", got[0].SenderID)
	assert.True(t, got[0].ExpiresAt.Equal(task("due").ExpiresAt))

	// A leased task is not handed out twice.
	got, err = s.Claim(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestClaim_RespectsLimit(t *testing.T) {
	s, clock := setupScheduler(t)
	ctx := context.Background()
	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, s.Schedule(ctx, task(id), clock.Add(-time.Minute)))
	}
	got, err := s.Claim(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestSchedule_ReplacesPendingWakeUp(t *testing.T) {
	s, clock := setupScheduler(t)
	ctx := context.Background()

	first := task("s1")
	require.NoError(t, s.Schedule(ctx, first, clock.Add(-time.Minute)))
	second := first
	second.RetryCount = 3
	require.NoError(t, s.Schedule(ctx, second, clock.Add(-time.Minute)))

	got, err := s.Claim(ctx, 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 3, got[0].RetryCount)
}

func TestRequeueExpired_RedeliversUnackedTask(t *testing.T) {
	s, clock := setupScheduler(t)
	ctx := context.Background()

	require.NoError(t, s.Schedule(ctx, task("s1"), *clock))
	got, err := s.Claim(ctx, 10)
	require.NoError(t, err)
	require.Len(t, got, 1)

	n, err := s.RequeueExpired(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "lease still valid")

	*clock = clock.Add(6 * time.Minute)
	n, err = s.RequeueExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err = s.Claim(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestAck_KeepsRescheduledTask(t *testing.T) {
	s, clock := setupScheduler(t)
	ctx := context.Background()

	require.NoError(t, s.Schedule(ctx, task("s1"), *clock))
	got, err := s.Claim(ctx, 10)
	require.NoError(t, err)
	require.Len(t, got, 1)

	// The handler schedules the next wake-up before the delivery is acked.
	next := got[0]
	next.RetryCount++
	require.NoError(t, s.Schedule(ctx, next, clock.Add(time.Hour)))
	require.NoError(t, s.Ack(ctx, got[0]))

	*clock = clock.Add(2 * time.Hour)
	got, err = s.Claim(ctx, 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 1, got[0].RetryCount)
}

func TestAck_RemovesCompletedTask(t *testing.T) {
	s, clock := setupScheduler(t)
	ctx := context.Background()

	require.NoError(t, s.Schedule(ctx, task("s1"), *clock))
	got, err := s.Claim(ctx, 10)
	require.NoError(t, err)
	require.NoError(t, s.Ack(ctx, got[0]))

	*clock = clock.Add(time.Hour)
	n, err := s.RequeueExpired(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	exists, err := s.rdb.HExists(ctx, "test:schedule:tasks", TaskID(got[0])).Result()
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestTick_FailedHandlerLeavesLease(t *testing.T) {
	s, clock := setupScheduler(t)
	ctx := context.Background()
	require.NoError(t, s.Schedule(ctx, task("ok"), *clock))
	require.NoError(t, s.Schedule(ctx, task("bad"), *clock))

	var handled []string
	s.tick(ctx, 10, func(_ context.Context, pt domain.PollTask) error {
		handled = append(handled, pt.SenderID)
		if pt.SenderID == "bad" {
			return errors.New("boom")
		}
		return nil
	})
	assert.ElementsMatch(t, []string{"ok", "bad"}, handled)

	inflight, err := s.rdb.ZRange(ctx, "test:schedule:inflight", 0, -1).Result()
	require.NoError(t, err)
	assert.Equal(t, []string{"t1/bad"}, inflight)
}
