package fetch

import (
	"context"
	"sort"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/patchtrack/patchtrack/internal/ingester/dispatch"
	"github.com/patchtrack/patchtrack/internal/ingester/metrics"
	"github.com/patchtrack/patchtrack/internal/ingester/model"
	"github.com/patchtrack/patchtrack/internal/ingester/store"
)

// ReconcileConfig parameterises one reconciliation invocation and is the
// payload replayed from dead-letter entries.
type ReconcileConfig struct {
	DaysToLookBack int `json:"daysToLookBack"`
	Limit          int `json:"limit"`
}

// Reconciler heals discussions missed by incremental fetches: it re-scans
// patches updated within the lookback window and re-enters the normal
// discussion dispatch path with each patch's last-discussion marker.
// Idempotent by construction since it only re-triggers idempotent fetches.
type Reconciler struct {
	patches *store.PatchStore
	queue   *dispatch.Queue
	metrics *metrics.Metrics
	clock   func() time.Time
}

func NewReconciler(patches *store.PatchStore, queue *dispatch.Queue, m *metrics.Metrics) *Reconciler {
	return &Reconciler{
		patches: patches,
		queue:   queue,
		metrics: m,
		clock:   time.Now,
	}
}

// Run selects up to config.Limit patches updated within the lookback window,
// oldest last-update first (ties broken by id), and dispatches a discussion
// fetch for each.
func (r *Reconciler) Run(ctx context.Context, config *ReconcileConfig) (int, error) {
	now := r.clock().UTC()
	cutoff := now.AddDate(0, 0, -config.DaysToLookBack)
	window := store.Between(model.TimeScore(cutoff), model.TimeScore(now))

	// The by-status index is partitioned by status and sorted by last-update
	// date, so the lookback window is the union of all status partitions.
	var candidates []*model.Patch
	for _, status := range model.AllStatuses {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		it := r.patches.ByStatus(status, window)
		for {
			patch, ok, err := it.Next()
			if err != nil {
				return 0, err
			}
			if !ok {
				break
			}
			candidates = append(candidates, patch)
		}
	}

	sort.Slice(candidates, func(i, j int) bool {
		if !candidates[i].LastUpdatedAt.Equal(candidates[j].LastUpdatedAt) {
			return candidates[i].LastUpdatedAt.Before(candidates[j].LastUpdatedAt)
		}
		return candidates[i].Id < candidates[j].Id
	})
	if config.Limit > 0 && len(candidates) > config.Limit {
		candidates = candidates[:config.Limit]
	}

	dispatched := 0
	for _, patch := range candidates {
		err := r.queue.Enqueue(&dispatch.DiscussionRequest{
			PatchId: patch.Id,
			Since:   patch.LastDiscussionAt,
			Source:  "reconciliation",
		})
		if err != nil {
			return dispatched, err
		}
		dispatched++
	}

	r.metrics.RecordFetched(metrics.TaskReconciliation, len(candidates))
	log.Infof("Reconciliation dispatched discussion fetches for %d of %d candidate patches", dispatched, len(candidates))
	return dispatched, nil
}
