package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "garagehub"

var (
	once sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by endpoint.",
		},
		[]string{"endpoint"},
	)

	statusTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "booking_status_transitions_total",
			Help:      "Booking status changes by target status.",
		},
		[]string{"status"},
	)

	trackingViews = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tracking_views_active",
			Help:      "Tracking views with a running ticker.",
		},
	)

	trackingTicks = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tracking_ticks_total",
			Help:      "Simulation ticks across all tracking views.",
		},
	)

	trackingArrivals = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tracking_arrivals_total",
			Help:      "Tracking views that reached the destination.",
		},
	)

	workerTasks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "worker_tasks_total",
			Help:      "Background tasks by type and outcome.",
		},
		[]string{"type", "result"},
	)
)

// Register registers Prometheus metrics. Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(
			httpRequests,
			statusTransitions,
			trackingViews,
			trackingTicks,
			trackingArrivals,
			workerTasks,
		)
	})
}

// IncHTTP increments the counter for an endpoint label.
func IncHTTP(endpoint string) {
	httpRequests.WithLabelValues(endpoint).Inc()
}

func IncStatusTransition(status string) {
	statusTransitions.WithLabelValues(status).Inc()
}

// TrackingViewStarted and TrackingViewStopped move the active view gauge.
func TrackingViewStarted() { trackingViews.Inc() }
func TrackingViewStopped() { trackingViews.Dec() }

func IncTrackingTick()    { trackingTicks.Inc() }
func IncTrackingArrival() { trackingArrivals.Inc() }

// IncWorkerTask records a processed task; result is "ok", "retry" or "failed".
func IncWorkerTask(taskType, result string) {
	workerTasks.WithLabelValues(taskType, result).Inc()
}
