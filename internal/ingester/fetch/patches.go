// Package fetch contains the scheduled ingestion tasks: patch fetching,
// discussion fetching and reconciliation. Tasks are stateless; all
// coordination between concurrent invocations happens through the store's
// conditional writes and counters.
package fetch

import (
	"context"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/patchtrack/patchtrack/internal/ingester/convert"
	"github.com/patchtrack/patchtrack/internal/ingester/dispatch"
	"github.com/patchtrack/patchtrack/internal/ingester/metrics"
	"github.com/patchtrack/patchtrack/internal/ingester/model"
	"github.com/patchtrack/patchtrack/internal/ingester/store"
	"github.com/patchtrack/patchtrack/internal/ingester/upstream"
)

const defaultMaxPages = 50

// PatchFetchConfig parameterises one patch-fetch invocation. It is also the
// payload persisted on dead-letter entries, so a failed run can be replayed
// with its exact parameters.
type PatchFetchConfig struct {
	Page             int    `json:"page"`
	PageSize         int    `json:"pageSize"`
	ProcessAllPages  bool   `json:"processAllPages"`
	FetchDiscussions bool   `json:"fetchDiscussions"`
	Source           string `json:"source"`
}

// PatchFetchResult summarises one invocation. RecordErrors aggregates the
// per-record mapping rejections, which never abort a page.
type PatchFetchResult struct {
	Pages        int
	Fetched      int
	Upserted     int
	Rejected     int
	Dispatched   int
	RecordErrors error
}

type PatchFetcher struct {
	source   upstream.Source
	patches  *store.PatchStore
	queue    *dispatch.Queue
	metrics  *metrics.Metrics
	maxPages int
	clock    func() time.Time
}

// NewPatchFetcher builds the patch-fetch task. maxPages is the safety ceiling
// bounding a processAllPages run; zero means the default.
func NewPatchFetcher(
	source upstream.Source,
	patches *store.PatchStore,
	queue *dispatch.Queue,
	m *metrics.Metrics,
	maxPages int,
) *PatchFetcher {
	if maxPages <= 0 {
		maxPages = defaultMaxPages
	}
	return &PatchFetcher{
		source:   source,
		patches:  patches,
		queue:    queue,
		metrics:  m,
		maxPages: maxPages,
		clock:    time.Now,
	}
}

// Run iterates pages from the upstream source starting at config.Page,
// upserting every patch and dispatching a discussion fetch per patch when
// requested. A record that fails mapping is logged and skipped; only a page
// that cannot be fetched at all fails the invocation.
func (f *PatchFetcher) Run(ctx context.Context, config *PatchFetchConfig) (*PatchFetchResult, error) {
	result := &PatchFetchResult{}
	page := config.Page

	for {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		patchPage, err := f.source.FetchPatchPage(ctx, page, config.PageSize)
		if err != nil {
			return result, errors.WithMessagef(err, "fetching patch page %d", page)
		}
		result.Pages++
		result.Fetched += len(patchPage.Patches)
		f.metrics.RecordFetched(metrics.TaskPatchFetch, len(patchPage.Patches))

		f.processPage(patchPage.Patches, config, result)

		if !config.ProcessAllPages || !patchPage.HasNext {
			break
		}
		if result.Pages >= f.maxPages {
			log.Warnf("Stopping patch fetch after %d pages; safety ceiling reached", result.Pages)
			break
		}
		page++
	}

	log.WithField("source", config.Source).
		Infof("Patch fetch processed %d pages: %d upserted, %d rejected, %d discussion fetches dispatched",
			result.Pages, result.Upserted, result.Rejected, result.Dispatched)
	return result, nil
}

func (f *PatchFetcher) processPage(raws []*model.RawPatch, config *PatchFetchConfig, result *PatchFetchResult) {
	now := f.clock()
	for _, raw := range raws {
		patch, err := convert.MapPatch(raw, now)
		if err != nil {
			// Permanent per-record rejection: record it and move on, the
			// rest of the page is unaffected.
			log.WithError(err).Warn("Skipping unmappable patch record")
			result.Rejected++
			result.RecordErrors = multierror.Append(result.RecordErrors, err)
			f.metrics.RecordRejected(metrics.TaskPatchFetch, 1)
			continue
		}

		if _, err := f.patches.Upsert(patch); err != nil {
			log.WithError(err).Errorf("Error upserting patch %s", patch.Id)
			result.RecordErrors = multierror.Append(result.RecordErrors, err)
			continue
		}
		result.Upserted++
		f.metrics.RecordUpserted(metrics.TaskPatchFetch, 1)

		if !config.FetchDiscussions {
			continue
		}
		err = f.queue.Enqueue(&dispatch.DiscussionRequest{
			PatchId: patch.Id,
			Source:  config.Source,
		})
		if err != nil {
			log.WithError(err).Errorf("Error dispatching discussion fetch for patch %s", patch.Id)
			result.RecordErrors = multierror.Append(result.RecordErrors, err)
			continue
		}
		result.Dispatched++
	}
}
