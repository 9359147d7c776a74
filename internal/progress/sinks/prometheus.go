package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/scrapeflow/internal/progress"
)

// PrometheusSink exports task lifecycle metrics.
type PrometheusSink struct {
	tasksCreated  prometheus.Counter
	tasksFinished *prometheus.CounterVec
	tasksRunning  prometheus.Gauge
	submitRuntime *prometheus.HistogramVec
	items         *prometheus.CounterVec

	tracker *taskTracker
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		tasksCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scrapeflow_tasks_created_total",
			Help: "Total task records created.",
		}),
		tasksFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scrapeflow_tasks_finished_total",
			Help: "Submit calls finished, partitioned by the status written.",
		}, []string{"status"}),
		tasksRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "scrapeflow_tasks_running",
			Help: "Submit calls between record creation and the final status write.",
		}),
		submitRuntime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "scrapeflow_submit_runtime_seconds",
			Help:    "Wall time per Submit call.",
			Buckets: []float64{0.5, 1, 5, 15, 30, 60, 120},
		}, []string{"status"}),
		items: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scrapeflow_items_total",
			Help: "Scraped item inserts partitioned by result.",
		}, []string{"result"}),
		tracker: newTaskTracker(),
	}
	for _, collector := range []prometheus.Collector{
		s.tasksCreated,
		s.tasksFinished,
		s.tasksRunning,
		s.submitRuntime,
		s.items,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors from the batch.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt progress.Event) {
	switch evt.Stage {
	case progress.StageTaskCreated:
		s.tasksCreated.Inc()
		if s.tracker.start(evt.TaskID) {
			s.tasksRunning.Inc()
		}
	case progress.StageItemStored:
		s.items.WithLabelValues("stored").Add(float64(max(evt.Items, 1)))
	case progress.StageItemFailed:
		s.items.WithLabelValues("failed").Add(float64(max(evt.Items, 1)))
	case progress.StageTaskCompleted, progress.StageTaskPending, progress.StageTaskError:
		label := stageLabel(evt.Stage)
		s.tasksFinished.WithLabelValues(label).Inc()
		if evt.Dur > 0 {
			s.submitRuntime.WithLabelValues(label).Observe(evt.Dur.Seconds())
		}
		if s.tracker.complete(evt.TaskID) {
			s.tasksRunning.Dec()
		}
	}
}

func stageLabel(stage progress.Stage) string {
	switch stage {
	case progress.StageTaskCompleted:
		return "completed"
	case progress.StageTaskPending:
		return "processing"
	default:
		return "error"
	}
}

// Close performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

type taskTracker struct {
	mu      sync.Mutex
	running map[string]struct{}
}

func newTaskTracker() *taskTracker {
	return &taskTracker{running: make(map[string]struct{})}
}

func (t *taskTracker) start(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; ok {
		return false
	}
	t.running[id] = struct{}{}
	return true
}

func (t *taskTracker) complete(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; !ok {
		return false
	}
	delete(t.running, id)
	return true
}
