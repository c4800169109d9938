// Package ingester wires the patchtrack ingestion pipeline: scheduled patch
// fetches feed the store and dispatch per-patch discussion fetches onto a
// durable queue consumed by a worker pool, with failed invocations routed to
// the dead-letter channel.
package ingester

import (
	"context"
	"time"

	"github.com/avast/retry-go"
	"github.com/go-redis/redis"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/patchtrack/patchtrack/internal/common"
	"github.com/patchtrack/patchtrack/internal/common/task"
	"github.com/patchtrack/patchtrack/internal/ingester/configuration"
	"github.com/patchtrack/patchtrack/internal/ingester/deadletter"
	"github.com/patchtrack/patchtrack/internal/ingester/dispatch"
	"github.com/patchtrack/patchtrack/internal/ingester/fetch"
	"github.com/patchtrack/patchtrack/internal/ingester/metrics"
	"github.com/patchtrack/patchtrack/internal/ingester/store"
	"github.com/patchtrack/patchtrack/internal/ingester/upstream"
)

// App bundles the constructed pipeline components. The operations CLI reuses
// it to run one-shot invocations against the same wiring as the service.
type App struct {
	Config            *configuration.ApplicationConfig
	Patches           *store.PatchStore
	Discussions       *store.DiscussionStore
	Queue             *dispatch.Queue
	Router            *deadletter.Router
	PatchFetcher      *fetch.PatchFetcher
	DiscussionFetcher *fetch.DiscussionFetcher
	Reconciler        *fetch.Reconciler
	Metrics           *metrics.Metrics

	db redis.UniversalClient
}

func NewApp(config *configuration.ApplicationConfig) *App {
	db := redis.NewUniversalClient(&config.Redis)

	m := metrics.Get()
	patches := store.NewPatchStore(db)
	discussions := store.NewDiscussionStore(db)
	queue := dispatch.NewQueue(db)
	router := deadletter.NewRouter(db, config.DeadLetter.Retention, m)
	source := upstream.NewPatchworkClient(
		config.Upstream.BaseUrl,
		config.Upstream.Project,
		config.Upstream.RequestTimeout,
	)

	return &App{
		Config:            config,
		Patches:           patches,
		Discussions:       discussions,
		Queue:             queue,
		Router:            router,
		PatchFetcher:      fetch.NewPatchFetcher(source, patches, queue, m, config.MaxPagesPerInvocation),
		DiscussionFetcher: fetch.NewDiscussionFetcher(source, discussions, patches, m),
		Reconciler:        fetch.NewReconciler(patches, queue, m),
		Metrics:           m,
		db:                db,
	}
}

func (a *App) Close() {
	if err := a.db.Close(); err != nil {
		log.WithError(err).Error("Failed to close Redis client")
	}
}

// Run starts the ingestion service and blocks until ctx is done.
func Run(ctx context.Context, config *configuration.ApplicationConfig) error {
	log.Info("Patchtrack ingester starting")

	app := NewApp(config)
	defer app.Close()

	shutdownMetricServer := common.ServeMetrics(config.MetricsPort)
	defer shutdownMetricServer()

	pool := dispatch.NewPool(
		app.Queue,
		app.DiscussionFetcher.Handle,
		app.Router,
		config.Dispatch.Workers,
		config.Dispatch.PollInterval,
		config.Invocation.Timeout,
		config.Invocation.MaxAttempts,
		config.Invocation.RetryDelay,
	)
	poolDone := make(chan struct{})
	go func() {
		pool.Run(ctx)
		close(poolDone)
	}()

	taskManager := task.NewBackgroundTaskManager(metrics.MetricsPrefix)
	registerSchedules(ctx, app, taskManager)

	<-ctx.Done()
	log.Info("Shutdown event received - closing")
	if taskManager.StopAll(30 * time.Second) {
		log.Warn("Timed out waiting for scheduled tasks to stop")
	}
	<-poolDone
	return nil
}

func registerSchedules(ctx context.Context, app *App, taskManager *task.BackgroundTaskManager) {
	config := app.Config

	if config.HourlyFetch.Enabled {
		payload := patchFetchConfigFrom(&config.HourlyFetch, "hourly")
		taskManager.Register(func() {
			app.InvokePatchFetch(ctx, payload)
		}, config.HourlyFetch.Interval, "hourly_patch_fetch")
	}
	if config.DailyFetch.Enabled {
		payload := patchFetchConfigFrom(&config.DailyFetch, "daily")
		taskManager.Register(func() {
			app.InvokePatchFetch(ctx, payload)
		}, config.DailyFetch.Interval, "daily_patch_fetch")
	}
	if config.Reconciliation.Enabled {
		payload := &fetch.ReconcileConfig{
			DaysToLookBack: config.Reconciliation.DaysToLookBack,
			Limit:          config.Reconciliation.Limit,
		}
		taskManager.Register(func() {
			app.InvokeReconciliation(ctx, payload)
		}, config.Reconciliation.Interval, "reconciliation")
	}
}

func patchFetchConfigFrom(schedule *configuration.PatchFetchScheduleConfig, source string) *fetch.PatchFetchConfig {
	return &fetch.PatchFetchConfig{
		Page:             schedule.Page,
		PageSize:         schedule.PageSize,
		ProcessAllPages:  schedule.ProcessAllPages,
		FetchDiscussions: schedule.FetchDiscussions,
		Source:           source,
	}
}

// InvokePatchFetch runs one patch-fetch invocation under the scheduler-level
// retry policy, dead-lettering the payload on exhaustion.
func (a *App) InvokePatchFetch(ctx context.Context, config *fetch.PatchFetchConfig) {
	a.invoke(ctx, metrics.TaskPatchFetch, "patch-fetch", config, func(invocationCtx context.Context) error {
		_, err := a.PatchFetcher.Run(invocationCtx, config)
		return err
	})
}

// InvokeReconciliation runs one reconciliation invocation under the
// scheduler-level retry policy.
func (a *App) InvokeReconciliation(ctx context.Context, config *fetch.ReconcileConfig) {
	a.invoke(ctx, metrics.TaskReconciliation, "reconciliation", config, func(invocationCtx context.Context) error {
		_, err := a.Reconciler.Run(invocationCtx, config)
		return err
	})
}

// invoke applies the invocation policy shared by all scheduled tasks: each
// attempt runs under a bounded timeout, transient failures are retried a
// small fixed number of times with growing delay, and exhaustion routes the
// original payload to the failure router. Nothing is ever silently dropped;
// there is no synchronous caller to report to.
func (a *App) invoke(ctx context.Context, metricTask, taskName string, payload interface{}, run func(context.Context) error) {
	start := time.Now()
	err := retry.Do(
		func() error {
			invocationCtx, cancel := context.WithTimeout(ctx, a.Config.Invocation.Timeout)
			defer cancel()
			err := run(invocationCtx)
			if errors.Is(err, context.DeadlineExceeded) {
				// Treat a timed-out attempt as transient.
				return errors.WithMessagef(err, "%s invocation timed out", taskName)
			}
			return err
		},
		retry.Attempts(a.Config.Invocation.MaxAttempts),
		retry.Delay(a.Config.Invocation.RetryDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			return !upstream.IsPermanent(err) && ctx.Err() == nil
		}),
	)

	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	a.Metrics.RecordInvocation(metricTask, outcome, time.Since(start).Seconds())

	if err == nil {
		return
	}
	log.WithError(err).Errorf("%s invocation failed after retries", taskName)
	if routeErr := a.Router.Route(taskName, payload, err); routeErr != nil {
		log.WithError(routeErr).Errorf("Failed to dead-letter %s payload", taskName)
	}
}
