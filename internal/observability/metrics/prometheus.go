// Package metrics provides Prometheus metrics for the pharmacy core.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all application metrics
type Metrics struct {
	OrdersPlaced           prometheus.Counter
	OrdersCancelled        prometheus.Counter
	OrdersRejected         *prometheus.CounterVec
	OrderValue             prometheus.Histogram
	PrescriptionsUploaded  prometheus.Counter
	PrescriptionsVerified  *prometheus.CounterVec
	PaymentCallbacks       *prometheus.CounterVec
	StockRejections        prometheus.Counter
	OutboxPending          prometheus.Gauge
	NotificationsDelivered prometheus.Counter
	CircuitBreakerState    *prometheus.GaugeVec
}

// New creates and registers all metrics
func New() *Metrics {
	m := &Metrics{
		OrdersPlaced: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "orders_placed_total",
			Help: "Total orders successfully placed",
		}),
		OrdersCancelled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "orders_cancelled_total",
			Help: "Total orders cancelled",
		}),
		OrdersRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "orders_rejected_total",
			Help: "Orders rejected at placement, by reason",
		}, []string{"reason"}),
		OrderValue: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "order_value",
			Help:    "Order totals including fees",
			Buckets: []float64{100, 250, 500, 1000, 2500, 5000, 10000},
		}),
		PrescriptionsUploaded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "prescriptions_uploaded_total",
			Help: "Total prescriptions uploaded",
		}),
		PrescriptionsVerified: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "prescriptions_verified_total",
			Help: "Verification decisions, by outcome",
		}, []string{"outcome"}),
		PaymentCallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "payment_callbacks_total",
			Help: "Gateway callbacks, by result",
		}, []string{"result"}),
		StockRejections: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "stock_rejections_total",
			Help: "Order lines rejected for insufficient stock",
		}),
		OutboxPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "outbox_pending_entries",
			Help: "Pending outbox entries",
		}),
		NotificationsDelivered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "notifications_delivered_total",
			Help: "Notifications handed to a sender",
		}),
		CircuitBreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
		}, []string{"name"}),
	}

	prometheus.MustRegister(
		m.OrdersPlaced,
		m.OrdersCancelled,
		m.OrdersRejected,
		m.OrderValue,
		m.PrescriptionsUploaded,
		m.PrescriptionsVerified,
		m.PaymentCallbacks,
		m.StockRejections,
		m.OutboxPending,
		m.NotificationsDelivered,
		m.CircuitBreakerState,
	)

	return m
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
