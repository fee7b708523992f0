package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"

	"labgrid/core/events"
	"labgrid/core/types"
	"labgrid/native/reservation"
)

type stubEvent string

func (e stubEvent) EventType() string { return string(e) }

type recordingEmitter struct {
	seen []string
}

func (r *recordingEmitter) Emit(evt events.Event) {
	r.seen = append(r.seen, evt.EventType())
}

func TestEmitterCountsLifecycleEvents(t *testing.T) {
	set := Reservations()
	next := &recordingEmitter{}
	emitter := NewEmitter(set, next)

	before := testutil.ToFloat64(set.confirmed)
	emitter.Emit(stubEvent(reservation.EventTypeReservationConfirmed))
	emitter.Emit(stubEvent(reservation.EventTypeReservationConfirmed))
	emitter.Emit(stubEvent("unrelated.event"))

	require.Equal(t, before+2, testutil.ToFloat64(set.confirmed))
	require.Equal(t, []string{
		reservation.EventTypeReservationConfirmed,
		reservation.EventTypeReservationConfirmed,
		"unrelated.event",
	}, next.seen)
}

func TestEmitterWithNilNextDiscards(t *testing.T) {
	emitter := NewEmitter(Reservations(), nil)
	require.NotPanics(t, func() {
		emitter.Emit(stubEvent(reservation.EventTypeReservationRequested))
	})
}

func TestReservationsIsSingleton(t *testing.T) {
	require.Same(t, Reservations(), Reservations())
}

type payloadEvent struct {
	evt *types.Event
}

func (e payloadEvent) EventType() string   { return e.evt.Type }
func (e payloadEvent) Event() *types.Event { return e.evt }

func sweepSnapshot(t *testing.T, set *ReservationMetrics) (uint64, float64) {
	t.Helper()
	metric := &dto.Metric{}
	require.NoError(t, set.sweepSizes.Write(metric))
	return metric.GetHistogram().GetSampleCount(), metric.GetHistogram().GetSampleSum()
}

func TestEmitterObservesSweepSizes(t *testing.T) {
	set := Reservations()
	emitter := NewEmitter(set, nil)

	countBefore, sumBefore := sweepSnapshot(t, set)
	emitter.Emit(payloadEvent{evt: reservation.NewSweptEvent("lab-a", 3)})
	count, sum := sweepSnapshot(t, set)
	require.Equal(t, countBefore+1, count)
	require.Equal(t, sumBefore+3, sum)

	// A swept event without a structured payload is skipped, not observed.
	emitter.Emit(stubEvent(reservation.EventTypeReservationSwept))
	count, _ = sweepSnapshot(t, set)
	require.Equal(t, countBefore+1, count)
}
