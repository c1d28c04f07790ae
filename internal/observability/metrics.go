package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the service.
type Metrics struct {
	ActiveRooms      prometheus.Gauge
	ActiveExecutions prometheus.Gauge
	RoomEvents       *prometheus.CounterVec
	WSMessages       *prometheus.CounterVec
	GateResolutions  *prometheus.CounterVec
	TaskOutcomes     *prometheus.CounterVec
	TaskIterations   prometheus.Histogram
}

func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		ActiveRooms: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_rooms",
			Help:      "Number of rooms with at least one member connection.",
		}),
		ActiveExecutions: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_task_executions",
			Help:      "Number of live task state machines.",
		}),
		RoomEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "room_events_total",
			Help:      "Room membership events by type.",
		}, []string{"event"}),
		WSMessages: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_messages_total",
			Help:      "WebSocket messages by direction and event.",
		}, []string{"direction", "event"}),
		GateResolutions: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gate_resolutions_total",
			Help:      "Gate resolutions by gate and outcome.",
		}, []string{"gate", "outcome"}),
		TaskOutcomes: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "task_outcomes_total",
			Help:      "Task executions by terminal outcome.",
		}, []string{"outcome"}),
		TaskIterations: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "task_iterations",
			Help:      "Iterations consumed per task execution.",
			Buckets:   []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10},
		}),
	}
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
