package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "vanlive"

var (
	SamplesAccepted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "ingestion",
		Name:      "samples_accepted_total",
		Help:      "Samples validated and appended to the ring buffer.",
	}, []string{"transport"})

	SamplesRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "ingestion",
		Name:      "samples_rejected_total",
		Help:      "Samples rejected before storage, by reason.",
	}, []string{"transport", "reason"})

	AlertsRaised = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "alerts",
		Name:      "active_total",
		Help:      "Alerts active on accepted samples, by type.",
	}, []string{"type"})

	MQTTChannelDrops = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "mqtt",
		Name:      "channel_drops_total",
		Help:      "MQTT messages dropped because the ingest channel was full.",
	})

	DispatchDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "dispatch",
		Name:      "dropped_total",
		Help:      "Queued notifications dropped for slow subscribers.",
	})

	Subscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "dispatch",
		Name:      "subscribers",
		Help:      "Currently connected push subscribers.",
	})

	WeatherFetches = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "weather",
		Name:      "fetches_total",
		Help:      "Weather provider fetches, by result.",
	}, []string{"result"})

	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "Count of processed HTTP requests.",
	}, []string{"method", "route", "status"})

	HTTPLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "Latency distribution of HTTP handlers.",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	}, []string{"method", "route"})

	RateLimitHits = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "rate_limit_hits_total",
		Help:      "Number of rate-limited ingestion requests.",
	})
)

func Handler() http.Handler {
	return promhttp.Handler()
}
