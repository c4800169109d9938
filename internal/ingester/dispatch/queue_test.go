package dispatch

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis"
	"github.com/go-redis/redis"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func withQueue(t *testing.T, action func(q *Queue)) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()
	db := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer db.Close()
	action(NewQueue(db))
}

func TestQueue_RoundTrip(t *testing.T) {
	withQueue(t, func(q *Queue) {
		since := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
		req := &DiscussionRequest{
			PatchId: "1",
			Since:   &since,
			Source:  "hourly",
		}
		require.NoError(t, q.Enqueue(req))
		assert.NotEmpty(t, req.InvocationId)

		depth, err := q.Depth()
		require.NoError(t, err)
		assert.Equal(t, int64(1), depth)

		got, err := q.Dequeue()
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, req.InvocationId, got.InvocationId)
		assert.Equal(t, "1", got.PatchId)
		require.NotNil(t, got.Since)
		assert.True(t, got.Since.Equal(since))
	})
}

func TestQueue_FIFO(t *testing.T) {
	withQueue(t, func(q *Queue) {
		require.NoError(t, q.Enqueue(&DiscussionRequest{PatchId: "1"}))
		require.NoError(t, q.Enqueue(&DiscussionRequest{PatchId: "2"}))

		first, err := q.Dequeue()
		require.NoError(t, err)
		assert.Equal(t, "1", first.PatchId)
		second, err := q.Dequeue()
		require.NoError(t, err)
		assert.Equal(t, "2", second.PatchId)
	})
}

func TestQueue_DequeueEmpty(t *testing.T) {
	withQueue(t, func(q *Queue) {
		req, err := q.Dequeue()
		require.NoError(t, err)
		assert.Nil(t, req)
	})
}

func TestQueue_PreservesInvocationId(t *testing.T) {
	withQueue(t, func(q *Queue) {
		require.NoError(t, q.Enqueue(&DiscussionRequest{InvocationId: "fixed", PatchId: "1"}))
		got, err := q.Dequeue()
		require.NoError(t, err)
		assert.Equal(t, "fixed", got.InvocationId)
	})
}
