package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics is safe to use as a nil pointer; every method is then a no-op.
type Metrics struct {
	gatherer prometheus.Gatherer

	orderTransitions *prometheus.CounterVec
	directSales      *prometheus.CounterVec
	negativeStock    prometheus.Counter
	paymentIntents   *prometheus.CounterVec
	httpRequests     *prometheus.CounterVec
	httpDuration     *prometheus.HistogramVec
}

func New(reg *prometheus.Registry) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		gatherer: reg,
		orderTransitions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "barpos_order_transitions_total",
			Help: "Committed order status transitions by target status.",
		}, []string{"to"}),
		directSales: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "barpos_direct_sales_total",
			Help: "Direct sales recorded by payment method.",
		}, []string{"method"}),
		negativeStock: factory.NewCounter(prometheus.CounterOpts{
			Name: "barpos_stock_negative_total",
			Help: "Stock writes that left a product below zero.",
		}),
		paymentIntents: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "barpos_payment_intents_total",
			Help: "Payment intent status changes.",
		}, []string{"status"}),
		httpRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "barpos_http_requests_total",
			Help: "HTTP requests by method and status code.",
		}, []string{"method", "status"}),
		httpDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "barpos_http_request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method"}),
	}
}

func (m *Metrics) OrderTransition(to string) {
	if m == nil {
		return
	}
	m.orderTransitions.WithLabelValues(to).Inc()
}

func (m *Metrics) DirectSale(method string) {
	if m == nil {
		return
	}
	m.directSales.WithLabelValues(method).Inc()
}

func (m *Metrics) NegativeStock() {
	if m == nil {
		return
	}
	m.negativeStock.Inc()
}

func (m *Metrics) PaymentIntent(status string) {
	if m == nil {
		return
	}
	m.paymentIntents.WithLabelValues(status).Inc()
}

func (m *Metrics) HTTPRequest(method string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(method).Observe(elapsed.Seconds())
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
