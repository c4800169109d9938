package task

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"
)

type task struct {
	function    func()
	interval    time.Duration
	name        string
	stopChannel chan bool
}

// BackgroundTaskManager runs registered functions on fixed intervals, each on
// its own goroutine, recording a latency histogram per task. It is not
// threadsafe; register tasks from a single goroutine.
type BackgroundTaskManager struct {
	tasks         []*task
	metricsPrefix string
	wg            *sync.WaitGroup
}

func NewBackgroundTaskManager(metricsPrefix string) *BackgroundTaskManager {
	return &BackgroundTaskManager{
		tasks:         []*task{},
		metricsPrefix: metricsPrefix,
		wg:            &sync.WaitGroup{},
	}
}

// Register starts backgroundTask immediately and then re-runs it every
// interval until StopAll is called.
func (m *BackgroundTaskManager) Register(backgroundTask func(), interval time.Duration, name string) {
	t := &task{
		function:    backgroundTask,
		interval:    interval,
		name:        name,
		stopChannel: make(chan bool),
	}
	m.startBackgroundTask(t)
	m.tasks = append(m.tasks, t)
}

// StopAll signals every task to stop and waits up to timeout for them to
// finish. Returns true if the wait timed out.
func (m *BackgroundTaskManager) StopAll(timeout time.Duration) bool {
	for _, t := range m.tasks {
		t.stopChannel <- true
	}
	return m.waitForShutdownCompletion(timeout)
}

func (m *BackgroundTaskManager) startBackgroundTask(t *task) {
	taskDurationHistogram := promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    m.metricsPrefix + t.name + "_latency_seconds",
			Help:    "Background loop " + t.name + " latency in seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 15),
		})

	m.wg.Add(1)
	go func() {
		run := func() {
			start := time.Now()
			t.function()
			taskDurationHistogram.Observe(time.Since(start).Seconds())
		}
		log.Infof("Starting background task %s with interval %s", t.name, t.interval)
		run()
		for {
			select {
			case <-time.After(t.interval):
			case <-t.stopChannel:
				m.wg.Done()
				return
			}
			run()
		}
	}()
}

func (m *BackgroundTaskManager) waitForShutdownCompletion(timeout time.Duration) bool {
	c := make(chan struct{})
	go func() {
		defer close(c)
		m.wg.Wait()
	}()
	select {
	case <-c:
		return false
	case <-time.After(timeout):
		return true
	}
}
