// Package prometheus exports processor statistics as Prometheus metrics.
package prometheus

import (
	"time"

	"github.com/BranchIntl/couponqueue/item"
	"github.com/prometheus/client_golang/prometheus"
)

// Options for the Prometheus statistics backend
type Options struct {
	Namespace string
	Buckets   []float64
}

// DefaultOptions returns default options
func DefaultOptions() Options {
	return Options{
		Namespace: "couponqueue",
		Buckets:   prometheus.DefBuckets,
	}
}

// Statistics records processor events into Prometheus collectors
type Statistics struct {
	items              *prometheus.CounterVec
	itemDuration       *prometheus.HistogramVec
	invocations        *prometheus.CounterVec
	invocationDuration *prometheus.HistogramVec
	runs               *prometheus.CounterVec
	successful         *prometheus.CounterVec
}

// NewStatistics creates the collectors and registers them with reg
func NewStatistics(reg prometheus.Registerer, options Options) (*Statistics, error) {
	if options.Buckets == nil {
		options.Buckets = prometheus.DefBuckets
	}

	s := &Statistics{
		items: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: options.Namespace,
			Name:      "work_items_total",
			Help:      "Work items processed, by outcome.",
		}, []string{"identifier", "class", "outcome"}),
		itemDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: options.Namespace,
			Name:      "work_item_duration_seconds",
			Help:      "Time spent executing one work item.",
			Buckets:   options.Buckets,
		}, []string{"identifier", "class"}),
		invocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: options.Namespace,
			Name:      "invocations_total",
			Help:      "Processor invocations, by outcome.",
		}, []string{"identifier", "outcome"}),
		invocationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: options.Namespace,
			Name:      "invocation_duration_seconds",
			Help:      "Wall-clock time of one processor invocation.",
			Buckets:   options.Buckets,
		}, []string{"identifier"}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: options.Namespace,
			Name:      "runs_completed_total",
			Help:      "Completed bulk runs, by action.",
		}, []string{"identifier", "action"}),
		successful: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: options.Namespace,
			Name:      "run_successful_items_total",
			Help:      "Items reported successful by completed runs.",
		}, []string{"identifier", "action"}),
	}

	for _, c := range []prometheus.Collector{
		s.items, s.itemDuration, s.invocations, s.invocationDuration, s.runs, s.successful,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Type returns the statistics backend type
func (s *Statistics) Type() string {
	return "prometheus"
}

func (s *Statistics) RecordItemCompleted(identifier string, w item.WorkItem, duration time.Duration) {
	s.items.WithLabelValues(identifier, w.Class, "completed").Inc()
	s.itemDuration.WithLabelValues(identifier, w.Class).Observe(duration.Seconds())
}

func (s *Statistics) RecordItemFailed(identifier string, w item.WorkItem, err error, duration time.Duration) {
	s.items.WithLabelValues(identifier, w.Class, "failed").Inc()
	s.itemDuration.WithLabelValues(identifier, w.Class).Observe(duration.Seconds())
}

func (s *Statistics) RecordItemRequeued(identifier string, w item.WorkItem) {
	s.items.WithLabelValues(identifier, w.Class, "requeued").Inc()
}

func (s *Statistics) RecordInvocation(identifier string, outcome string, duration time.Duration) {
	s.invocations.WithLabelValues(identifier, outcome).Inc()
	s.invocationDuration.WithLabelValues(identifier).Observe(duration.Seconds())
}

func (s *Statistics) RecordRunCompleted(identifier string, result item.RunResult) {
	s.runs.WithLabelValues(identifier, string(result.Action)).Inc()
	s.successful.WithLabelValues(identifier, string(result.Action)).Add(float64(result.Successful))
}
