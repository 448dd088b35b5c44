package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "seekstream",
		Name:      "active_sessions",
		Help:      "Number of live transcoding sessions.",
	})

	SegmentsCompleted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "seekstream",
		Name:      "segments_completed_total",
		Help:      "Segments reconciled and made available for delivery.",
	})

	EncoderRestarts = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "seekstream",
		Name:      "encoder_restarts_total",
		Help:      "Seek-triggered encoder restarts.",
	})

	EncoderFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "seekstream",
		Name:      "encoder_failures_total",
		Help:      "Encoder spawn failures, non-zero exits and startup timeouts.",
	})

	SessionsEvicted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "seekstream",
		Name:      "sessions_evicted_total",
		Help:      "Sessions discarded by the idle eviction sweep.",
	})
)

func Handler() http.Handler {
	return promhttp.Handler()
}
