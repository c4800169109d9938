package fetch

import (
	"context"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/patchtrack/patchtrack/internal/ingester/convert"
	"github.com/patchtrack/patchtrack/internal/ingester/dispatch"
	"github.com/patchtrack/patchtrack/internal/ingester/metrics"
	"github.com/patchtrack/patchtrack/internal/ingester/store"
	"github.com/patchtrack/patchtrack/internal/ingester/upstream"
)

type DiscussionFetcher struct {
	source      upstream.Source
	discussions *store.DiscussionStore
	patches     *store.PatchStore
	metrics     *metrics.Metrics
}

func NewDiscussionFetcher(
	source upstream.Source,
	discussions *store.DiscussionStore,
	patches *store.PatchStore,
	m *metrics.Metrics,
) *DiscussionFetcher {
	return &DiscussionFetcher{
		source:      source,
		discussions: discussions,
		patches:     patches,
		metrics:     m,
	}
}

// Run retrieves and upserts all discussion messages for the patch, returning
// the number of newly inserted ones. Safe to invoke concurrently for the same
// patch: each upsert is independently idempotent, and only accepted
// conditional inserts drive the parent's discussion counter, so overlapping
// fetches can never double-count.
func (f *DiscussionFetcher) Run(ctx context.Context, patchId string, since *time.Time) (int, error) {
	raws, err := f.source.FetchDiscussions(ctx, patchId, since)
	if err != nil {
		return 0, errors.WithMessagef(err, "fetching discussions for patch %s", patchId)
	}
	f.metrics.RecordFetched(metrics.TaskDiscussionFetch, len(raws))

	inserted := 0
	for _, raw := range raws {
		discussion, err := convert.MapDiscussion(raw, patchId)
		if err != nil {
			log.WithError(err).Warnf("Skipping unmappable discussion record for patch %s", patchId)
			f.metrics.RecordRejected(metrics.TaskDiscussionFetch, 1)
			continue
		}

		created, err := f.discussions.Upsert(discussion)
		if err != nil {
			return inserted, errors.WithMessagef(err, "upserting discussion %s", discussion.Id)
		}
		f.metrics.RecordUpserted(metrics.TaskDiscussionFetch, 1)
		if !created {
			continue
		}

		if err := f.patches.RecordDiscussion(patchId, discussion.Timestamp); err != nil {
			return inserted, errors.WithMessagef(err, "recording discussion on patch %s", patchId)
		}
		inserted++
	}

	log.Debugf("Discussion fetch for patch %s: %d messages, %d new", patchId, len(raws), inserted)
	return inserted, nil
}

// Handle adapts Run to the dispatch pool's handler contract.
func (f *DiscussionFetcher) Handle(ctx context.Context, req *dispatch.DiscussionRequest) error {
	_, err := f.Run(ctx, req.PatchId, req.Since)
	return err
}
