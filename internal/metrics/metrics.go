// Package metrics collects and exposes Prometheus metrics for the
// streaming relay and conversation store.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder is the subset the HTTP layer needs; handlers depend on this
// rather than the concrete collector.
type Recorder interface {
	RecordStreamStarted()
	RecordStreamCompleted(duration time.Duration)
	RecordStreamFailed(category string)
	RecordMessagePersisted()
	RecordPersistenceFailure()
}

type Collector struct {
	streamsStarted      prometheus.Counter
	streamsCompleted    prometheus.Counter
	streamsFailed       *prometheus.CounterVec
	streamDuration      prometheus.Histogram
	messagesPersisted   prometheus.Counter
	persistenceFailures prometheus.Counter
}

func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		streamsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gemchat_streams_started_total",
			Help: "Completion streams opened to clients.",
		}),
		streamsCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gemchat_streams_completed_total",
			Help: "Completion streams that reached the done event.",
		}),
		streamsFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gemchat_streams_failed_total",
			Help: "Completion streams terminated by an error event.",
		}, []string{"category"}),
		streamDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "gemchat_stream_duration_seconds",
			Help:    "Wall time from stream start to terminal event.",
			Buckets: prometheus.DefBuckets,
		}),
		messagesPersisted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gemchat_messages_persisted_total",
			Help: "Assistant messages written to the conversation store.",
		}),
		persistenceFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gemchat_persistence_failures_total",
			Help: "Failed writes of already-streamed assistant messages.",
		}),
	}

	reg.MustRegister(
		c.streamsStarted,
		c.streamsCompleted,
		c.streamsFailed,
		c.streamDuration,
		c.messagesPersisted,
		c.persistenceFailures,
	)

	return c
}

func (c *Collector) RecordStreamStarted() {
	c.streamsStarted.Inc()
}

func (c *Collector) RecordStreamCompleted(duration time.Duration) {
	c.streamsCompleted.Inc()
	c.streamDuration.Observe(duration.Seconds())
}

func (c *Collector) RecordStreamFailed(category string) {
	if category == "" {
		category = "unknown"
	}
	c.streamsFailed.WithLabelValues(category).Inc()
}

func (c *Collector) RecordMessagePersisted() {
	c.messagesPersisted.Inc()
}

func (c *Collector) RecordPersistenceFailure() {
	c.persistenceFailures.Inc()
}

// Handler returns the scrape endpoint for the given gatherer.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
