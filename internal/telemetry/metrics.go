// Package telemetry defines the relay's prometheus metrics and serves them
// over HTTP.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	Consumed         *prometheus.CounterVec
	Produced         *prometheus.CounterVec
	Skipped          *prometheus.CounterVec
	DeliveryFailures *prometheus.CounterVec
	Commits          *prometheus.CounterVec
	CommitFailures   *prometheus.CounterVec
	EndOfPartition   *prometheus.CounterVec
	ConsumeErrors    prometheus.Counter
	RelayDuration    prometheus.Histogram
	Assigned         prometheus.Gauge
	State            prometheus.Gauge
	StartupAttempts  prometheus.Counter
}

// NewMetrics registers the relay metrics with reg. A nil reg uses the
// default prometheus registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Metrics{
		Consumed: f.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_records_consumed_total",
			Help: "Records read from the source topic",
		}, []string{"topic"}),
		Produced: f.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_records_produced_total",
			Help: "Records acknowledged by the sink topic",
		}, []string{"topic"}),
		Skipped: f.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_records_skipped_total",
			Help: "Records skipped because they do not match the source schema",
		}, []string{"topic", "format"}),
		DeliveryFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_delivery_failures_total",
			Help: "Produce requests rejected by the sink topic",
		}, []string{"topic"}),
		Commits: f.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_commits_total",
			Help: "Successful offset commits",
		}, []string{"topic"}),
		CommitFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_commit_failures_total",
			Help: "Failed offset commits",
		}, []string{"topic"}),
		EndOfPartition: f.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_end_of_partition_total",
			Help: "Times the consumer reached the end of a partition",
		}, []string{"topic"}),
		ConsumeErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "relay_consume_errors_total",
			Help: "Errors returned by the consumer",
		}),
		RelayDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "relay_record_duration_seconds",
			Help:    "Time from decode to sink acknowledgement per record",
			Buckets: prometheus.DefBuckets,
		}),
		Assigned: f.NewGauge(prometheus.GaugeOpts{
			Name: "relay_assigned_partitions",
			Help: "Partitions currently assigned to this instance",
		}),
		State: f.NewGauge(prometheus.GaugeOpts{
			Name: "relay_state",
			Help: "Relay lifecycle state (0 starting, 1 subscribed, 2 running, 3 draining, 4 closed)",
		}),
		StartupAttempts: f.NewCounter(prometheus.CounterOpts{
			Name: "relay_startup_attempts_total",
			Help: "Connection attempts made while starting",
		}),
	}
}
