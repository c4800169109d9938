// Package deadletter implements the failure router: invocation payloads whose
// processing permanently failed are persisted to a durable channel for
// inspection and manual replay, never silently dropped.
package deadletter

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-redis/redis"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/patchtrack/patchtrack/internal/ingester/metrics"
	"github.com/patchtrack/patchtrack/internal/ingester/store"
	"github.com/patchtrack/patchtrack/internal/ingester/upstream"
)

const deadLetterKey = "DeadLetter:Tasks"

// Error classifications recorded on dead-letter entries.
const (
	ClassPermanent = "permanent"
	ClassTransient = "transient"
	ClassTimeout   = "timeout"
)

// Entry is one dead-lettered invocation: the exact trigger payload plus the
// error that exhausted its retry budget, so the run can be replayed manually.
type Entry struct {
	Id         string          `json:"id"`
	Task       string          `json:"task"`
	Payload    json.RawMessage `json:"payload"`
	ErrorClass string          `json:"errorClass"`
	Error      string          `json:"error"`
	RoutedAt   time.Time       `json:"routedAt"`
}

type Router struct {
	db        redis.UniversalClient
	retention time.Duration
	metrics   *metrics.Metrics
}

func NewRouter(db redis.UniversalClient, retention time.Duration, metrics *metrics.Metrics) *Router {
	return &Router{db: db, retention: retention, metrics: metrics}
}

// Route persists the failed invocation's payload. The returned error reports
// only a failure to persist; callers treat that as fatal since dropping the
// payload is not an option.
func (r *Router) Route(task string, payload interface{}, cause error) error {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return errors.Wrapf(err, "cannot encode dead-letter payload for task %s", task)
	}
	entry := Entry{
		Id:         uuid.NewString(),
		Task:       task,
		Payload:    encoded,
		ErrorClass: Classify(cause),
		Error:      cause.Error(),
		RoutedAt:   time.Now().UTC(),
	}

	pipe := r.db.TxPipeline()
	pipe.RPush(deadLetterKey, mustMarshal(&entry))
	if r.retention > 0 {
		pipe.Expire(deadLetterKey, r.retention)
	}
	depthCmd := pipe.LLen(deadLetterKey)
	if _, err := pipe.Exec(); err != nil {
		return errors.Wrapf(err, "cannot persist dead-letter entry for task %s", task)
	}

	if r.metrics != nil {
		r.metrics.RecordDeadLetterRouted()
		r.metrics.SetDeadLetterDepth(depthCmd.Val())
	}
	log.WithError(cause).
		WithField("task", task).
		WithField("entry", entry.Id).
		WithField("class", entry.ErrorClass).
		Error("Invocation routed to dead-letter channel")
	return nil
}

// List returns up to limit entries, oldest first, without consuming them.
func (r *Router) List(limit int64) ([]Entry, error) {
	if limit <= 0 {
		limit = -1
	}
	raw, err := r.db.LRange(deadLetterKey, 0, limit-1).Result()
	if err != nil {
		return nil, err
	}
	entries := make([]Entry, 0, len(raw))
	for _, data := range raw {
		var entry Entry
		if err := json.Unmarshal([]byte(data), &entry); err != nil {
			return nil, errors.Wrap(err, "corrupt dead-letter entry")
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// Take removes and returns the oldest entry, or nil if the channel is empty.
func (r *Router) Take() (*Entry, error) {
	data, err := r.db.LPop(deadLetterKey).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	entry := &Entry{}
	if err := json.Unmarshal([]byte(data), entry); err != nil {
		return nil, errors.Wrap(err, "corrupt dead-letter entry")
	}
	if r.metrics != nil {
		if depth, err := r.Depth(); err == nil {
			r.metrics.SetDeadLetterDepth(depth)
		}
	}
	return entry, nil
}

func (r *Router) Depth() (int64, error) {
	return r.db.LLen(deadLetterKey).Result()
}

// Classify maps an error to the class recorded on its dead-letter entry.
func Classify(err error) string {
	var upstreamErr *upstream.Error
	var exhausted *store.ErrMaxRetriesExceeded
	switch {
	case err == nil:
		return ClassTransient
	case errors.Is(err, context.DeadlineExceeded):
		return ClassTimeout
	case errors.As(err, &upstreamErr):
		if upstreamErr.Permanent() {
			return ClassPermanent
		}
		return ClassTransient
	case store.IsRetryableError(err):
		return ClassTransient
	case errors.As(err, &exhausted):
		return ClassTransient
	default:
		return ClassPermanent
	}
}

func mustMarshal(v interface{}) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return data
}
