package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP Metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "botengine_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// Dispatch Metrics
	DispatchAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "botengine_dispatch_attempts_total",
			Help: "Total number of HTTP attempts made to bots",
		},
		[]string{"platform", "result"},
	)

	DispatchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "botengine_dispatches_total",
			Help: "Total number of dispatches by terminal outcome",
		},
		[]string{"platform", "running_type", "outcome"},
	)

	DispatchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "botengine_dispatch_duration_seconds",
			Help:    "Dispatch duration including retries in seconds",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
		[]string{"platform"},
	)

	DispatchesInProgress = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "botengine_dispatches_in_progress",
			Help: "Number of dispatches currently running",
		},
	)

	// Routing Metrics
	EventsRoutedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "botengine_events_routed_total",
			Help: "Total number of events routed",
		},
		[]string{"event"},
	)

	RouteFanout = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "botengine_route_fanout",
			Help:    "Number of dispatch targets produced per routed event",
			Buckets: []float64{0, 1, 2, 5, 10, 25, 50, 100},
		},
	)

	// Schedule Metrics
	CronTicksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "botengine_cron_ticks_total",
			Help: "Total number of cron ticks handled",
		},
		[]string{"kind"},
	)

	ScheduleTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "botengine_schedule_transitions_total",
			Help: "Total number of schedule status transitions",
		},
		[]string{"from", "to"},
	)

	CrontabSavesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "botengine_crontab_saves_total",
			Help: "Total number of crontab rewrites",
		},
		[]string{"status"},
	)

	// Queue Metrics
	QueueTasksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "botengine_queue_tasks_total",
			Help: "Total number of tasks enqueued",
		},
		[]string{"task_type", "broker"},
	)

	QueueTasksProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "botengine_queue_tasks_processed_total",
			Help: "Total number of tasks processed",
		},
		[]string{"task_type", "status"},
	)
)

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// MetricsMiddleware records HTTP metrics
func MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		HTTPRequestsTotal.WithLabelValues(r.Method, r.URL.Path, strconv.Itoa(wrapped.statusCode)).Inc()
	})
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// RecordDispatch records the terminal outcome of one dispatch
func RecordDispatch(platform, runningType, outcome string, elapsed time.Duration) {
	DispatchesTotal.WithLabelValues(platform, runningType, outcome).Inc()
	DispatchDuration.WithLabelValues(platform).Observe(elapsed.Seconds())
}

func RecordDispatchAttempt(platform, result string) {
	DispatchAttemptsTotal.WithLabelValues(platform, result).Inc()
}

// RecordRoute records one routed event and its fan-out size
func RecordRoute(event string, targets int) {
	EventsRoutedTotal.WithLabelValues(event).Inc()
	RouteFanout.Observe(float64(targets))
}

func RecordTransition(from, to string) {
	ScheduleTransitionsTotal.WithLabelValues(from, to).Inc()
}

func RecordCronTick(kind string) {
	CronTicksTotal.WithLabelValues(kind).Inc()
}

func RecordCrontabSave(err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	CrontabSavesTotal.WithLabelValues(status).Inc()
}
