package dispatch

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis"
	"github.com/go-redis/redis"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/patchtrack/patchtrack/internal/ingester/deadletter"
	"github.com/patchtrack/patchtrack/internal/ingester/upstream"
)

func withPool(t *testing.T, handler Handler, maxAttempts uint, action func(q *Queue, router *deadletter.Router, run func())) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()
	db := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer db.Close()

	queue := NewQueue(db)
	router := deadletter.NewRouter(db, 0, nil)
	pool := NewPool(queue, handler, router, 2, 5*time.Millisecond, time.Second, maxAttempts, time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	action(queue, router, func() {
		pool.Run(ctx)
	})
	cancel()
}

func TestPool_DeliversRequests(t *testing.T) {
	var handled int64
	handler := func(_ context.Context, req *DiscussionRequest) error {
		atomic.AddInt64(&handled, 1)
		return nil
	}
	withPool(t, handler, 3, func(q *Queue, router *deadletter.Router, run func()) {
		for i := 0; i < 5; i++ {
			require.NoError(t, q.Enqueue(&DiscussionRequest{PatchId: "1"}))
		}
		go run()

		assert.Eventually(t, func() bool {
			return atomic.LoadInt64(&handled) == 5
		}, 2*time.Second, 10*time.Millisecond)

		depth, err := q.Depth()
		require.NoError(t, err)
		assert.Equal(t, int64(0), depth)
	})
}

func TestPool_RetriesTransientFailures(t *testing.T) {
	var attempts int64
	handler := func(_ context.Context, _ *DiscussionRequest) error {
		if atomic.AddInt64(&attempts, 1) < 3 {
			return &upstream.Error{Op: "comments", StatusCode: 503}
		}
		return nil
	}
	withPool(t, handler, 3, func(q *Queue, router *deadletter.Router, run func()) {
		require.NoError(t, q.Enqueue(&DiscussionRequest{PatchId: "1"}))
		go run()

		assert.Eventually(t, func() bool {
			return atomic.LoadInt64(&attempts) == 3
		}, 2*time.Second, 10*time.Millisecond)

		depth, err := router.Depth()
		require.NoError(t, err)
		assert.Equal(t, int64(0), depth)
	})
}

func TestPool_ExhaustedRequestIsDeadLettered(t *testing.T) {
	var attempts int64
	handler := func(_ context.Context, _ *DiscussionRequest) error {
		atomic.AddInt64(&attempts, 1)
		return &upstream.Error{Op: "comments", StatusCode: 503}
	}
	withPool(t, handler, 2, func(q *Queue, router *deadletter.Router, run func()) {
		require.NoError(t, q.Enqueue(&DiscussionRequest{InvocationId: "inv-1", PatchId: "42"}))
		go run()

		assert.Eventually(t, func() bool {
			depth, err := router.Depth()
			return err == nil && depth == 1
		}, 2*time.Second, 10*time.Millisecond)
		assert.Equal(t, int64(2), atomic.LoadInt64(&attempts))

		entries, err := router.List(10)
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, "discussion-fetch", entries[0].Task)
		assert.Equal(t, deadletter.ClassTransient, entries[0].ErrorClass)

		replay := &DiscussionRequest{}
		require.NoError(t, json.Unmarshal(entries[0].Payload, replay))
		assert.Equal(t, "inv-1", replay.InvocationId)
		assert.Equal(t, "42", replay.PatchId)
	})
}

func TestPool_PermanentFailureIsNotRetried(t *testing.T) {
	var attempts int64
	handler := func(_ context.Context, _ *DiscussionRequest) error {
		atomic.AddInt64(&attempts, 1)
		return &upstream.Error{Op: "comments", StatusCode: 404}
	}
	withPool(t, handler, 3, func(q *Queue, router *deadletter.Router, run func()) {
		require.NoError(t, q.Enqueue(&DiscussionRequest{PatchId: "1"}))
		go run()

		assert.Eventually(t, func() bool {
			depth, err := router.Depth()
			return err == nil && depth == 1
		}, 2*time.Second, 10*time.Millisecond)
		assert.Equal(t, int64(1), atomic.LoadInt64(&attempts))

		entries, err := router.List(10)
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, deadletter.ClassPermanent, entries[0].ErrorClass)
	})
}
