package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the storefront's prometheus collectors. A nil *Metrics is
// valid and records nothing, so tests can pass nil.
type Metrics struct {
	CheckoutTotal    *prometheus.CounterVec
	CartOpsTotal     *prometheus.CounterVec
	CheckoutDuration prometheus.Histogram
}

func New(namespace string) *Metrics {
	m := &Metrics{
		CheckoutTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkout_total",
			Help:      "Checkout attempts by result.",
		}, []string{"result"}),
		CartOpsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cart_operations_total",
			Help:      "Cart mutations by operation and result.",
		}, []string{"operation", "result"}),
		CheckoutDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "checkout_duration_seconds",
			Help:      "Wall time of checkout transactions.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
	prometheus.MustRegister(m.CheckoutTotal, m.CartOpsTotal, m.CheckoutDuration)
	return m
}

func (m *Metrics) ObserveCheckout(result string, seconds float64) {
	if m == nil {
		return
	}
	m.CheckoutTotal.WithLabelValues(result).Inc()
	m.CheckoutDuration.Observe(seconds)
}

func (m *Metrics) ObserveCartOp(operation, result string) {
	if m == nil {
		return
	}
	m.CartOpsTotal.WithLabelValues(operation, result).Inc()
}
