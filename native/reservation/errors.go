package reservation

import "errors"

var (
	// ErrNotFound indicates the reservation key resolves to no stored record.
	ErrNotFound = errors.New("reservation: not found")
	// ErrInvalidWindow indicates a malformed or too-soon booking window.
	ErrInvalidWindow = errors.New("reservation: invalid time window")
	// ErrLabNotListed indicates the target lab is not listed for booking.
	ErrLabNotListed = errors.New("reservation: lab not listed")
	// ErrInsufficientStake indicates the lab owner's bonded collateral is below
	// the listing requirement.
	ErrInsufficientStake = errors.New("reservation: owner stake below requirement")
	// ErrSlotOccupied indicates an unexpired reservation already occupies the
	// derived key.
	ErrSlotOccupied = errors.New("reservation: slot already requested")
	// ErrMaxReservationsReached indicates the renter is at the per-lab active
	// quota and no expired booking could be reclaimed.
	ErrMaxReservationsReached = errors.New("reservation: max active reservations reached")
	// ErrNotPending indicates the transition requires a PENDING reservation.
	ErrNotPending = errors.New("reservation: not pending")
	// ErrNotActive indicates the transition requires a CONFIRMED or IN_USE
	// reservation.
	ErrNotActive = errors.New("reservation: not active")
	// ErrUnauthorized indicates the caller is neither the renter, the lab owner,
	// nor an authorized backend for the operation.
	ErrUnauthorized = errors.New("reservation: unauthorized caller")
	// ErrBatchLimit indicates a zero or oversized release batch parameter.
	ErrBatchLimit = errors.New("reservation: invalid batch limit")
	// ErrInvalidUserRef indicates an empty or mismatched institutional user
	// reference.
	ErrInvalidUserRef = errors.New("reservation: invalid user reference")
	// ErrInstitutionNotRegistered indicates the paying institution is unknown
	// to the registry.
	ErrInstitutionNotRegistered = errors.New("reservation: institution not registered")
	// ErrTerminalStatus indicates the reservation already reached a terminal
	// status and cannot transition further.
	ErrTerminalStatus = errors.New("reservation: terminal status")

	// ErrOverlap indicates the interval intersects a stored booking.
	ErrOverlap = errors.New("calendar: interval overlap")
	// ErrIntervalNotFound indicates no stored interval starts at the given key.
	ErrIntervalNotFound = errors.New("calendar: interval not found")

	errNilState    = errors.New("reservation engine: state not configured")
	errNilLedger   = errors.New("reservation engine: ledger not configured")
	errNilRegistry = errors.New("reservation engine: registry not configured")
)
