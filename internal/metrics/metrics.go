package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups the collectors of the order subsystem. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	ordersCreated  *prometheus.CounterVec
	paymentResults *prometheus.CounterVec
	carrierEvents  *prometheus.CounterVec
	schedulerRuns  *prometheus.CounterVec
	schedulerItems *prometheus.CounterVec
	httpDuration   *prometheus.HistogramVec
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ordersCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "orders_created_total",
			Help: "Orders created at checkout.",
		}, []string{"payment_method"}),
		paymentResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "payment_results_total",
			Help: "Payment results applied, by mapped status and outcome.",
		}, []string{"status", "outcome"}),
		carrierEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "carrier_events_total",
			Help: "Carrier webhook events, by event type and outcome.",
		}, []string{"event", "outcome"}),
		schedulerRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scheduler_runs_total",
			Help: "Reconciliation job runs.",
		}, []string{"job", "outcome"}),
		schedulerItems: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scheduler_items_total",
			Help: "Orders touched by reconciliation jobs.",
		}, []string{"job", "outcome"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
	}
	reg.MustRegister(
		m.ordersCreated,
		m.paymentResults,
		m.carrierEvents,
		m.schedulerRuns,
		m.schedulerItems,
		m.httpDuration,
	)
	return m
}

func (m *Metrics) OrderCreated(method string) {
	if m == nil {
		return
	}
	m.ordersCreated.WithLabelValues(method).Inc()
}

func (m *Metrics) PaymentResult(status, outcome string) {
	if m == nil {
		return
	}
	m.paymentResults.WithLabelValues(status, outcome).Inc()
}

func (m *Metrics) CarrierEvent(event, outcome string) {
	if m == nil {
		return
	}
	m.carrierEvents.WithLabelValues(event, outcome).Inc()
}

func (m *Metrics) SchedulerRun(job, outcome string) {
	if m == nil {
		return
	}
	m.schedulerRuns.WithLabelValues(job, outcome).Inc()
}

func (m *Metrics) SchedulerItem(job, outcome string) {
	if m == nil {
		return
	}
	m.schedulerItems.WithLabelValues(job, outcome).Inc()
}

func (m *Metrics) ObserveHTTP(method, route, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.httpDuration.WithLabelValues(method, route, status).Observe(d.Seconds())
}

// Handler exposes the collectors of g in the text exposition format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

type Timer struct {
	start time.Time
}

func StartTimer() *Timer {
	return &Timer{start: time.Now()}
}

func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
