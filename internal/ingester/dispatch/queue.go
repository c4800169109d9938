// Package dispatch carries the fire-and-forget handoff between patch
// ingestion and discussion fetching. Requests are enqueued onto a durable
// Redis list and consumed by a worker pool with its own retry and
// dead-letter policy, so a slow discussion fetch can never stall patch
// ingestion.
package dispatch

import (
	"encoding/json"
	"time"

	"github.com/go-redis/redis"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

const discussionQueueKey = "Queue:Discussions"

// DiscussionRequest asks for the discussions of one patch to be fetched.
// Since, when set, is the parent patch's last-discussion marker for
// incremental fetches.
type DiscussionRequest struct {
	InvocationId string     `json:"invocationId"`
	PatchId      string     `json:"patchId"`
	Since        *time.Time `json:"since,omitempty"`
	Source       string     `json:"source"`
}

type Queue struct {
	db redis.UniversalClient
}

func NewQueue(db redis.UniversalClient) *Queue {
	return &Queue{db: db}
}

// Enqueue appends the request to the channel. Non-blocking for the producer;
// the request is picked up by whichever worker gets to it first.
func (q *Queue) Enqueue(req *DiscussionRequest) error {
	if req.InvocationId == "" {
		req.InvocationId = uuid.NewString()
	}
	data, err := json.Marshal(req)
	if err != nil {
		return errors.Wrap(err, "cannot encode discussion request")
	}
	return q.db.RPush(discussionQueueKey, data).Err()
}

// Dequeue removes and returns the oldest request, or nil when the channel is
// empty.
func (q *Queue) Dequeue() (*DiscussionRequest, error) {
	data, err := q.db.LPop(discussionQueueKey).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	req := &DiscussionRequest{}
	if err := json.Unmarshal([]byte(data), req); err != nil {
		return nil, errors.Wrap(err, "corrupt discussion request")
	}
	return req, nil
}

func (q *Queue) Depth() (int64, error) {
	return q.db.LLen(discussionQueueKey).Result()
}
