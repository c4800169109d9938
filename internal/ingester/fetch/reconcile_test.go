package fetch

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/patchtrack/patchtrack/internal/ingester/model"
)

func seedPatchUpdatedAt(t *testing.T, f *fixture, id string, status model.PatchStatus, updatedAt time.Time) {
	t.Helper()
	_, err := f.patches.Upsert(&model.Patch{
		Id:            id,
		Name:          "[PATCH] change " + id,
		Submitter:     model.Submitter{Id: "42", Name: "Ada", Email: "ada@example.com"},
		SubmittedAt:   updatedAt.Add(-time.Hour),
		LastUpdatedAt: updatedAt,
		Status:        status,
		MessageId:     "<patch-" + id + "@example.com>",
	})
	require.NoError(t, err)
}

func TestReconcile_DispatchesOldestUpdatedFirst(t *testing.T) {
	withFixture(t, func(f *fixture) {
		// Eight patches updated across the last week, spread over statuses so
		// the window spans multiple index partitions.
		statuses := []model.PatchStatus{
			model.StatusNew, model.StatusUnderReview, model.StatusAccepted, model.StatusRFC,
		}
		for i := 0; i < 8; i++ {
			seedPatchUpdatedAt(t, f,
				fmt.Sprintf("%d", i),
				statuses[i%len(statuses)],
				fixedNow.Add(-time.Duration(i+1)*24*time.Hour))
		}

		reconciler := NewReconciler(f.patches, f.queue, testMetrics())
		reconciler.clock = func() time.Time { return fixedNow }

		dispatched, err := reconciler.Run(context.Background(), &ReconcileConfig{
			DaysToLookBack: 30,
			Limit:          5,
		})
		require.NoError(t, err)
		assert.Equal(t, 5, dispatched)

		requests := drainQueue(t, f.queue)
		require.Len(t, requests, 5)
		// Patch 7 was updated longest ago, so it is healed first.
		assert.Equal(t, "7", requests[0].PatchId)
		for _, req := range requests {
			assert.Equal(t, "reconciliation", req.Source)
		}
	})
}

func TestReconcile_ExcludesPatchesOutsideWindow(t *testing.T) {
	withFixture(t, func(f *fixture) {
		seedPatchUpdatedAt(t, f, "recent", model.StatusNew, fixedNow.Add(-24*time.Hour))
		seedPatchUpdatedAt(t, f, "stale", model.StatusNew, fixedNow.Add(-60*24*time.Hour))

		reconciler := NewReconciler(f.patches, f.queue, testMetrics())
		reconciler.clock = func() time.Time { return fixedNow }

		dispatched, err := reconciler.Run(context.Background(), &ReconcileConfig{DaysToLookBack: 30})
		require.NoError(t, err)
		assert.Equal(t, 1, dispatched)

		requests := drainQueue(t, f.queue)
		require.Len(t, requests, 1)
		assert.Equal(t, "recent", requests[0].PatchId)
	})
}

func TestReconcile_CarriesLastDiscussionMarker(t *testing.T) {
	withFixture(t, func(f *fixture) {
		seedPatchUpdatedAt(t, f, "1", model.StatusNew, fixedNow.Add(-24*time.Hour))
		marker := fixedNow.Add(-12 * time.Hour)
		require.NoError(t, f.patches.RecordDiscussion("1", marker))

		reconciler := NewReconciler(f.patches, f.queue, testMetrics())
		reconciler.clock = func() time.Time { return fixedNow }

		_, err := reconciler.Run(context.Background(), &ReconcileConfig{DaysToLookBack: 30})
		require.NoError(t, err)

		requests := drainQueue(t, f.queue)
		require.Len(t, requests, 1)
		require.NotNil(t, requests[0].Since)
		assert.True(t, requests[0].Since.Equal(marker))
	})
}

func TestReconcile_EmptyStore(t *testing.T) {
	withFixture(t, func(f *fixture) {
		reconciler := NewReconciler(f.patches, f.queue, testMetrics())
		dispatched, err := reconciler.Run(context.Background(), &ReconcileConfig{DaysToLookBack: 30, Limit: 10})
		require.NoError(t, err)
		assert.Equal(t, 0, dispatched)
	})
}
