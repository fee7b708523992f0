package metrics

import (
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"labgrid/core/events"
	"labgrid/core/types"
	"labgrid/native/reservation"
)

// ReservationMetrics exposes the lifecycle counters and gauges scraped from
// the daemon's /metrics endpoint.
type ReservationMetrics struct {
	requested  prometheus.Counter
	confirmed  prometheus.Counter
	denied     prometheus.Counter
	cancelled  prometheus.Counter
	collected  prometheus.Counter
	sweepSizes prometheus.Histogram
}

var (
	reservationOnce     sync.Once
	reservationRegistry *ReservationMetrics
)

// Reservations returns the singleton metrics set, registering it on first
// use.
func Reservations() *ReservationMetrics {
	reservationOnce.Do(func() {
		reservationRegistry = &ReservationMetrics{
			requested: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "labgrid_reservations_requested_total",
				Help: "Count of pending reservation requests accepted.",
			}),
			confirmed: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "labgrid_reservations_confirmed_total",
				Help: "Count of reservations confirmed and inserted into the calendar.",
			}),
			denied: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "labgrid_reservations_denied_total",
				Help: "Count of denials, including payment-failure conversions.",
			}),
			cancelled: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "labgrid_reservations_cancelled_total",
				Help: "Count of explicit and sweep-driven cancellations.",
			}),
			collected: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "labgrid_reservations_collected_total",
				Help: "Count of reservations whose revenue was collected.",
			}),
			sweepSizes: prometheus.NewHistogram(prometheus.HistogramOpts{
				Name:    "labgrid_release_sweep_size",
				Help:    "Reservations processed per batch release call.",
				Buckets: prometheus.LinearBuckets(1, 5, 10),
			}),
		}
		prometheus.MustRegister(
			reservationRegistry.requested,
			reservationRegistry.confirmed,
			reservationRegistry.denied,
			reservationRegistry.cancelled,
			reservationRegistry.collected,
			reservationRegistry.sweepSizes,
		)
	})
	return reservationRegistry
}

// ObserveSweep records the size of a completed batch release.
func (m *ReservationMetrics) ObserveSweep(processed int) {
	m.sweepSizes.Observe(float64(processed))
}

// Emitter adapts the metrics set to the engine's event stream so lifecycle
// transitions are counted without the engine importing prometheus.
type Emitter struct {
	metrics *ReservationMetrics
	next    events.Emitter
}

// NewEmitter wraps next, counting reservation events as they pass through.
// A nil next discards events after counting.
func NewEmitter(metrics *ReservationMetrics, next events.Emitter) *Emitter {
	if next == nil {
		next = events.NoopEmitter{}
	}
	return &Emitter{metrics: metrics, next: next}
}

// Emit implements events.Emitter.
func (e *Emitter) Emit(evt events.Event) {
	if e.metrics != nil {
		switch evt.EventType() {
		case reservation.EventTypeReservationRequested:
			e.metrics.requested.Inc()
		case reservation.EventTypeReservationConfirmed:
			e.metrics.confirmed.Inc()
		case reservation.EventTypeReservationDenied:
			e.metrics.denied.Inc()
		case reservation.EventTypeReservationCancelled:
			e.metrics.cancelled.Inc()
		case reservation.EventTypeReservationCollected:
			e.metrics.collected.Inc()
		case reservation.EventTypeReservationSwept:
			if processed, ok := sweptBatchSize(evt); ok {
				e.metrics.ObserveSweep(processed)
			}
		}
	}
	e.next.Emit(evt)
}

func sweptBatchSize(evt events.Event) (int, bool) {
	payload, ok := evt.(interface{ Event() *types.Event })
	if !ok || payload.Event() == nil {
		return 0, false
	}
	processed, err := strconv.Atoi(payload.Event().Attributes["processed"])
	if err != nil {
		return 0, false
	}
	return processed, true
}
