package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	OrdersCreated          prometheus.Counter
	AllocationsApplied     prometheus.Counter
	AllocationsReversed    prometheus.Counter
	AllocationsRejected    prometheus.Counter
	ModificationsReviewed  *prometheus.CounterVec
	CreateOrderDuration    prometheus.Histogram
	DeclarationsCreated    prometheus.Counter
}

// New creates and registers all Prometheus metrics.
func New() *Metrics {
	return &Metrics{
		OrdersCreated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "escorte_mission_orders_created_total",
			Help: "Total number of mission orders created",
		}),
		AllocationsApplied: promauto.NewCounter(prometheus.CounterOpts{
			Name: "escorte_parcel_allocations_total",
			Help: "Total number of parcel allocations committed",
		}),
		AllocationsReversed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "escorte_parcel_allocations_reversed_total",
			Help: "Total number of parcel allocations reversed by correction",
		}),
		AllocationsRejected: promauto.NewCounter(prometheus.CounterOpts{
			Name: "escorte_parcel_allocations_rejected_total",
			Help: "Total number of allocations rejected for insufficient remaining quantity",
		}),
		ModificationsReviewed: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "escorte_modification_requests_reviewed_total",
			Help: "Total number of modification requests reviewed, by decision",
		}, []string{"decision"}),
		CreateOrderDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "escorte_mission_order_create_seconds",
			Help:    "Duration of the mission order creation transaction",
			Buckets: prometheus.DefBuckets,
		}),
		DeclarationsCreated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "escorte_declarations_created_total",
			Help: "Total number of declarations created",
		}),
	}
}

// IncrementOrdersCreated increments the mission orders created counter by 1.
func (m *Metrics) IncrementOrdersCreated() {
	if m == nil {
		return
	}
	m.OrdersCreated.Inc()
}

// IncrementAllocationsApplied adds n committed allocations.
func (m *Metrics) IncrementAllocationsApplied(n int) {
	if m == nil {
		return
	}
	m.AllocationsApplied.Add(float64(n))
}

// IncrementAllocationsReversed increments the reversal counter by 1.
func (m *Metrics) IncrementAllocationsReversed() {
	if m == nil {
		return
	}
	m.AllocationsReversed.Inc()
}

// IncrementAllocationsRejected increments the shortfall rejection counter by 1.
func (m *Metrics) IncrementAllocationsRejected() {
	if m == nil {
		return
	}
	m.AllocationsRejected.Inc()
}

// RecordModificationReview counts a review by its decision label.
func (m *Metrics) RecordModificationReview(decision string) {
	if m == nil {
		return
	}
	m.ModificationsReviewed.WithLabelValues(decision).Inc()
}

// ObserveCreateOrderDuration records one creation transaction duration.
func (m *Metrics) ObserveCreateOrderDuration(seconds float64) {
	if m == nil {
		return
	}
	m.CreateOrderDuration.Observe(seconds)
}

// IncrementDeclarationsCreated increments the declarations created counter by 1.
func (m *Metrics) IncrementDeclarationsCreated() {
	if m == nil {
		return
	}
	m.DeclarationsCreated.Inc()
}
