package fetch

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis"
	"github.com/go-redis/redis"
	"github.com/stretchr/testify/require"

	"github.com/patchtrack/patchtrack/internal/ingester/dispatch"
	"github.com/patchtrack/patchtrack/internal/ingester/metrics"
	"github.com/patchtrack/patchtrack/internal/ingester/model"
	"github.com/patchtrack/patchtrack/internal/ingester/store"
	"github.com/patchtrack/patchtrack/internal/ingester/upstream"
)

var fixedNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	patches     *store.PatchStore
	discussions *store.DiscussionStore
	queue       *dispatch.Queue
}

func withFixture(t *testing.T, action func(f *fixture)) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()
	db := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer db.Close()
	action(&fixture{
		patches:     store.NewPatchStore(db),
		discussions: store.NewDiscussionStore(db),
		queue:       dispatch.NewQueue(db),
	})
}

// stubSource serves canned pages and discussion lists, recording which pages
// were requested.
type stubSource struct {
	pages          map[int]*upstream.PatchPage
	pageErr        error
	discussions    map[string][]*model.RawDiscussion
	discussionErr  error
	requestedPages []int
}

func (s *stubSource) FetchPatchPage(_ context.Context, page, _ int) (*upstream.PatchPage, error) {
	s.requestedPages = append(s.requestedPages, page)
	if s.pageErr != nil {
		return nil, s.pageErr
	}
	if p, ok := s.pages[page]; ok {
		return p, nil
	}
	return &upstream.PatchPage{}, nil
}

func (s *stubSource) FetchDiscussions(_ context.Context, patchId string, _ *time.Time) ([]*model.RawDiscussion, error) {
	if s.discussionErr != nil {
		return nil, s.discussionErr
	}
	return s.discussions[patchId], nil
}

func rawPatch(id int) *model.RawPatch {
	return &model.RawPatch{
		Id:        id,
		Name:      fmt.Sprintf("[PATCH] change %d", id),
		Submitter: &model.RawSubmitter{Id: 42, Name: "Ada", Email: "ada@example.com"},
		Date:      "2024-02-28T10:30:00",
		MessageId: fmt.Sprintf("<patch-%d@example.com>", id),
	}
}

func rawDiscussion(id int, messageId string) *model.RawDiscussion {
	return &model.RawDiscussion{
		Id:        id,
		MessageId: messageId,
		Subject:   "Re: [PATCH] change",
		Content:   "Reviewed.",
		Submitter: &model.RawSubmitter{Id: 7, Name: "Grace", Email: "grace@example.com"},
		Date:      "2024-02-28T11:00:00",
	}
}

func drainQueue(t *testing.T, queue *dispatch.Queue) []*dispatch.DiscussionRequest {
	t.Helper()
	var requests []*dispatch.DiscussionRequest
	for {
		req, err := queue.Dequeue()
		require.NoError(t, err)
		if req == nil {
			return requests
		}
		requests = append(requests, req)
	}
}

func testMetrics() *metrics.Metrics {
	return metrics.Get()
}
