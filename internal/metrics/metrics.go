package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	EventsIngestedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hookrelay_events_ingested_total",
			Help: "Total number of inbound events accepted for delivery.",
		},
		[]string{"owner_id"},
	)

	DeliveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hookrelay_deliveries_total",
			Help: "Total number of deliveries that reached a terminal status.",
		},
		[]string{"status"}, // delivered, failed
	)

	AttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hookrelay_attempts_total",
			Help: "Total number of HTTP delivery attempts by result class.",
		},
		[]string{"result"},
	)

	AttemptLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "hookrelay_attempt_latency_seconds",
			Help:    "Latency of HTTP delivery attempts.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"result"},
	)

	RetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hookrelay_retries_total",
			Help: "Total number of delivery retries by reason.",
		},
		[]string{"reason"}, // e.g. http_5xx, timeout, network, other
	)

	DLQTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hookrelay_dlq_total",
			Help: "Total number of deliveries dead-lettered after exhausting attempts.",
		},
		[]string{"reason"},
	)

	DeliveriesInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "hookrelay_deliveries_in_flight",
			Help: "Number of delivery attempt loops currently running in this process.",
		},
	)

	DispatchErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hookrelay_dispatch_errors_total",
			Help: "Total number of deliveries that could not be handed to a scheduler.",
		},
		[]string{"mode"},
	)

	QueueBacklog = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "hookrelay_queue_backlog",
			Help: "Messages waiting on the worker channel of the deliveries topic.",
		},
	)

	NSQChannelDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "hookrelay_nsq_channel_depth",
			Help: "Depth of NSQ channels by topic and channel.",
		},
		[]string{"topic", "channel"},
	)

	NSQChannelInFlight = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "hookrelay_nsq_channel_in_flight",
			Help: "In-flight messages of NSQ channels by topic and channel.",
		},
		[]string{"topic", "channel"},
	)
)

func MustRegister(reg prometheus.Registerer) {
	reg.MustRegister(
		EventsIngestedTotal,
		DeliveriesTotal,
		AttemptsTotal,
		AttemptLatency,
		RetriesTotal,
		DLQTotal,
		DeliveriesInFlight,
		DispatchErrorsTotal,
		QueueBacklog,
		NSQChannelDepth,
		NSQChannelInFlight,
	)
}

// RecordEventIngested counts an accepted inbound event for an owner
func RecordEventIngested(ownerID string) {
	EventsIngestedTotal.WithLabelValues(ownerID).Inc()
}

// RecordAttempt counts one HTTP attempt and observes its latency
func RecordAttempt(result string, latency time.Duration) {
	AttemptsTotal.WithLabelValues(result).Inc()
	AttemptLatency.WithLabelValues(result).Observe(latency.Seconds())
}

// RecordDelivery counts a delivery reaching a terminal status
func RecordDelivery(status string) {
	DeliveriesTotal.WithLabelValues(status).Inc()
}

// RecordRetry counts a retry scheduled after a failed attempt
func RecordRetry(reason string) {
	RetriesTotal.WithLabelValues(reason).Inc()
}

// RecordDLQ counts a delivery that exhausted its attempts
func RecordDLQ(reason string) {
	DLQTotal.WithLabelValues(reason).Inc()
}

// DeliveryStarted marks an attempt loop as running
func DeliveryStarted() {
	DeliveriesInFlight.Inc()
}

// DeliveryFinished marks an attempt loop as done
func DeliveryFinished() {
	DeliveriesInFlight.Dec()
}

// RecordDispatchError counts a failed hand-off to the given dispatch mode
func RecordDispatchError(mode string) {
	DispatchErrorsTotal.WithLabelValues(mode).Inc()
}

// UpdateQueueBacklog sets the worker channel depth
func UpdateQueueBacklog(depth float64) {
	QueueBacklog.Set(depth)
}

func UpdateNSQChannel(topic, channel string, depth, inFlight float64) {
	NSQChannelDepth.WithLabelValues(topic, channel).Set(depth)
	NSQChannelInFlight.WithLabelValues(topic, channel).Set(inFlight)
}
