package reservation

import (
	"encoding/hex"
	"strconv"

	"labgrid/core/types"
)

const (
	EventTypeReservationRequested = "reservation.requested"
	EventTypeReservationConfirmed = "reservation.confirmed"
	EventTypeReservationDenied    = "reservation.denied"
	EventTypeReservationCancelled = "reservation.cancelled"
	EventTypeReservationCollected = "reservation.collected"
	EventTypeReservationInUse     = "reservation.in_use"
	EventTypeReservationCompleted = "reservation.completed"
	EventTypeReservationSwept     = "reservation.swept"
)

// NewRequestedEvent returns the canonical payload for a new pending request.
func NewRequestedEvent(r *Reservation) *types.Event {
	return newReservationEvent(EventTypeReservationRequested, r, nil)
}

// NewConfirmedEvent returns the canonical payload for a confirmed booking.
func NewConfirmedEvent(r *Reservation) *types.Event {
	return newReservationEvent(EventTypeReservationConfirmed, r, nil)
}

// NewDeniedEvent returns the payload emitted when a pending request is denied
// or a confirmation converts into a denial (payment failure, unfulfillable
// lab, elapsed acceptance window).
func NewDeniedEvent(r *Reservation, reason string) *types.Event {
	return newReservationEvent(EventTypeReservationDenied, r, map[string]string{"reason": reason})
}

// NewCancelledEvent returns the payload for an explicit or sweep-driven
// cancellation.
func NewCancelledEvent(r *Reservation, fee CancellationFee) *types.Event {
	extra := map[string]string{}
	if fee.Refund != nil {
		extra["refund"] = fee.Refund.String()
	}
	if total := fee.Total(); total.Sign() > 0 {
		extra["fee"] = total.String()
	}
	return newReservationEvent(EventTypeReservationCancelled, r, extra)
}

// NewCollectedEvent returns the payload emitted when accrued revenue is
// credited for an elapsed booking.
func NewCollectedEvent(r *Reservation) *types.Event {
	return newReservationEvent(EventTypeReservationCollected, r, nil)
}

// NewInUseEvent returns the payload emitted when usage begins.
func NewInUseEvent(r *Reservation) *types.Event {
	return newReservationEvent(EventTypeReservationInUse, r, nil)
}

// NewCompletedEvent returns the payload emitted when a usage session ends.
func NewCompletedEvent(r *Reservation) *types.Event {
	return newReservationEvent(EventTypeReservationCompleted, r, nil)
}

// NewSweptEvent returns the payload summarising a batch expiry sweep.
func NewSweptEvent(labID string, processed int) *types.Event {
	return &types.Event{
		Type: EventTypeReservationSwept,
		Attributes: map[string]string{
			"lab":       labID,
			"processed": strconv.Itoa(processed),
		},
	}
}

func newReservationEvent(eventType string, r *Reservation, extra map[string]string) *types.Event {
	attrs := map[string]string{}
	if r != nil {
		attrs["key"] = hex.EncodeToString(r.Key[:])
		attrs["lab"] = r.LabID
		attrs["renter"] = hex.EncodeToString(r.Renter[:])
		attrs["status"] = r.Status.String()
		attrs["start"] = strconv.FormatInt(r.Start, 10)
		attrs["end"] = strconv.FormatInt(r.End, 10)
		if r.Price != nil {
			attrs["price"] = r.Price.String()
		}
		if r.Institutional != nil {
			attrs["institution"] = hex.EncodeToString(r.Institutional.Institution[:])
		}
	}
	for k, v := range extra {
		attrs[k] = v
	}
	return &types.Event{Type: eventType, Attributes: attrs}
}
