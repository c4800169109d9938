package deadletter

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis"
	"github.com/go-redis/redis"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/patchtrack/patchtrack/internal/ingester/store"
	"github.com/patchtrack/patchtrack/internal/ingester/upstream"
)

func withRouter(t *testing.T, retention time.Duration, action func(r *Router, mr *miniredis.Miniredis)) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()
	db := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer db.Close()
	action(NewRouter(db, retention, nil), mr)
}

type payload struct {
	Page int `json:"page"`
}

func TestRouter_RouteAndList(t *testing.T) {
	withRouter(t, 0, func(r *Router, _ *miniredis.Miniredis) {
		require.NoError(t, r.Route("patch-fetch", &payload{Page: 3}, errors.New("boom")))
		require.NoError(t, r.Route("patch-fetch", &payload{Page: 4}, errors.New("boom again")))

		depth, err := r.Depth()
		require.NoError(t, err)
		assert.Equal(t, int64(2), depth)

		entries, err := r.List(10)
		require.NoError(t, err)
		require.Len(t, entries, 2)

		first := entries[0]
		assert.NotEmpty(t, first.Id)
		assert.Equal(t, "patch-fetch", first.Task)
		assert.Equal(t, "boom", first.Error)
		assert.False(t, first.RoutedAt.IsZero())

		replay := &payload{}
		require.NoError(t, json.Unmarshal(first.Payload, replay))
		assert.Equal(t, 3, replay.Page)
	})
}

func TestRouter_ListDoesNotConsume(t *testing.T) {
	withRouter(t, 0, func(r *Router, _ *miniredis.Miniredis) {
		require.NoError(t, r.Route("patch-fetch", &payload{}, errors.New("boom")))

		_, err := r.List(10)
		require.NoError(t, err)
		depth, err := r.Depth()
		require.NoError(t, err)
		assert.Equal(t, int64(1), depth)
	})
}

func TestRouter_TakeConsumesOldestFirst(t *testing.T) {
	withRouter(t, 0, func(r *Router, _ *miniredis.Miniredis) {
		require.NoError(t, r.Route("patch-fetch", &payload{Page: 1}, errors.New("boom")))
		require.NoError(t, r.Route("patch-fetch", &payload{Page: 2}, errors.New("boom")))

		entry, err := r.Take()
		require.NoError(t, err)
		require.NotNil(t, entry)
		replay := &payload{}
		require.NoError(t, json.Unmarshal(entry.Payload, replay))
		assert.Equal(t, 1, replay.Page)

		depth, err := r.Depth()
		require.NoError(t, err)
		assert.Equal(t, int64(1), depth)
	})
}

func TestRouter_TakeEmpty(t *testing.T) {
	withRouter(t, 0, func(r *Router, _ *miniredis.Miniredis) {
		entry, err := r.Take()
		require.NoError(t, err)
		assert.Nil(t, entry)
	})
}

func TestRouter_RetentionExpiresChannel(t *testing.T) {
	withRouter(t, time.Hour, func(r *Router, mr *miniredis.Miniredis) {
		require.NoError(t, r.Route("patch-fetch", &payload{}, errors.New("boom")))

		mr.FastForward(2 * time.Hour)
		depth, err := r.Depth()
		require.NoError(t, err)
		assert.Equal(t, int64(0), depth)
	})
}

func TestClassify(t *testing.T) {
	tests := map[string]struct {
		err  error
		want string
	}{
		"timeout":           {context.DeadlineExceeded, ClassTimeout},
		"wrapped timeout":   {errors.Wrap(context.DeadlineExceeded, "fetching"), ClassTimeout},
		"client error":      {&upstream.Error{Op: "patches", StatusCode: 404}, ClassPermanent},
		"throttling":        {&upstream.Error{Op: "patches", StatusCode: 429}, ClassTransient},
		"server error":      {&upstream.Error{Op: "patches", StatusCode: 500}, ClassTransient},
		"retries exhausted": {&store.ErrMaxRetriesExceeded{Message: "redis down"}, ClassTransient},
		"anything else":     {errors.New("corrupt record"), ClassPermanent},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tc.want, Classify(tc.err))
		})
	}
}
