package dispatch

import (
	"context"
	"sync"
	"time"

	"github.com/avast/retry-go"
	log "github.com/sirupsen/logrus"

	"github.com/patchtrack/patchtrack/internal/ingester/deadletter"
	"github.com/patchtrack/patchtrack/internal/ingester/upstream"
)

// Handler processes one dequeued discussion request. Implementations must be
// idempotent: a request may be delivered more than once.
type Handler func(ctx context.Context, req *DiscussionRequest) error

// Pool consumes the dispatch channel with a fixed number of workers. Each
// request runs under its own timeout and retry budget, independent of the
// producing task's lifecycle; exhausted requests go to the failure router.
type Pool struct {
	queue        *Queue
	handler      Handler
	router       *deadletter.Router
	workers      int
	pollInterval time.Duration
	timeout      time.Duration
	maxAttempts  uint
	retryDelay   time.Duration
}

func NewPool(
	queue *Queue,
	handler Handler,
	router *deadletter.Router,
	workers int,
	pollInterval time.Duration,
	timeout time.Duration,
	maxAttempts uint,
	retryDelay time.Duration,
) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if maxAttempts == 0 {
		maxAttempts = 1
	}
	return &Pool{
		queue:        queue,
		handler:      handler,
		router:       router,
		workers:      workers,
		pollInterval: pollInterval,
		timeout:      timeout,
		maxAttempts:  maxAttempts,
		retryDelay:   retryDelay,
	}
}

// Run consumes the channel until ctx is done.
func (p *Pool) Run(ctx context.Context) {
	wg := &sync.WaitGroup{}
	for i := 0; i < p.workers; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			p.consume(ctx, worker)
		}(i)
	}
	wg.Wait()
}

func (p *Pool) consume(ctx context.Context, worker int) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		req, err := p.queue.Dequeue()
		if err != nil {
			log.WithError(err).Warn("Error reading from dispatch channel")
			p.sleep(ctx)
			continue
		}
		if req == nil {
			p.sleep(ctx)
			continue
		}
		p.process(ctx, worker, req)
	}
}

func (p *Pool) process(ctx context.Context, worker int, req *DiscussionRequest) {
	entry := log.WithField("worker", worker).
		WithField("invocation", req.InvocationId).
		WithField("patch", req.PatchId)

	err := retry.Do(
		func() error {
			invocationCtx, cancel := context.WithTimeout(ctx, p.timeout)
			defer cancel()
			return p.handler(invocationCtx, req)
		},
		retry.Attempts(p.maxAttempts),
		retry.Delay(p.retryDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			return !upstream.IsPermanent(err)
		}),
	)
	if err == nil {
		return
	}

	entry.WithError(err).Warn("Discussion fetch exhausted its retry budget")
	if routeErr := p.router.Route("discussion-fetch", req, err); routeErr != nil {
		// The payload could not be persisted either; this is the one place
		// where losing it is possible, so shout.
		entry.WithError(routeErr).Error("Failed to dead-letter discussion request")
	}
}

func (p *Pool) sleep(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-time.After(p.pollInterval):
	}
}
