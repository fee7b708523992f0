package reservation

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"sync"
	"time"

	"labgrid/core/events"
	"labgrid/core/types"
)

// ActivityEntry is one row of the per-lab recent past/upcoming logs.
type ActivityEntry struct {
	Key [32]byte
	At  int64
}

// engineState is the index backend consumed by the lifecycle engine. All
// mutation of trees, heaps, counters and logs is routed through the engine,
// which serializes operations; the backend only owns the arenas.
type engineState interface {
	ReservationPut(*Reservation) error
	ReservationGet(key [32]byte) (*Reservation, bool)

	Calendar(labID string) *Calendar
	Payouts(labID string) *PayoutScheduler
	Actives(labID, trackingKey string) *ActiveHeap

	IndexAdd(labID, trackingKey string, key [32]byte)
	IndexRemove(labID, trackingKey string, key [32]byte)
	LabKeys(labID string) [][32]byte
	TrackedKeys(labID, trackingKey string) [][32]byte

	ActiveCount(labID, trackingKey string) int
	IncrementActive(labID, trackingKey string)
	DecrementActive(labID, trackingKey string)

	NextActive(labID, trackingKey string) (int64, bool)
	SetNextActive(labID, trackingKey string, start int64, exists bool)

	LogPast(labID string, entry ActivityEntry)
	LogUpcoming(labID string, entry ActivityEntry)
	RecentPast(labID string) []ActivityEntry
	RecentUpcoming(labID string) []ActivityEntry

	AccruePayout(beneficiary [20]byte, amount *big.Int)
	PendingPayout(beneficiary [20]byte) *big.Int
}

// PaymentLedger is the fungible-token collaborator. Transfer failures are
// business outcomes, not fatal errors: a failed confirmation payment cancels
// the pending reservation and records a denial.
type PaymentLedger interface {
	Transfer(from, to [20]byte, amount *big.Int) error
	SpendFromTreasury(institution [20]byte, userRefHash [32]byte, amount *big.Int) error
	CreditTreasury(institution [20]byte, userRefHash [32]byte, amount *big.Int) error
}

// OwnerRegistry is the lab listing and staking collaborator.
type OwnerRegistry interface {
	IsListed(labID string) bool
	Owner(labID string) ([20]byte, bool)
	IsAuthorizedOwner(labID string, caller [20]byte) bool
	RequiredStake(owner [20]byte) *big.Int
	CurrentStake(owner [20]byte) *big.Int
}

// InstitutionRegistry resolves institutional identities. Tracking keys are
// index material only, never authorization.
type InstitutionRegistry interface {
	Registered(institution [20]byte) bool
	ResolveTrackingKey(institution [20]byte, digest [32]byte) string
}

type reservationEvent struct {
	evt *types.Event
}

func (e reservationEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e reservationEvent) Event() *types.Event { return e.evt }

// Engine implements the reservation lifecycle: request, confirm, deny,
// cancel, batch release and the read-only queries, for both wallet-funded
// and institution-funded flows. Every mutating operation runs under the
// engine mutex and validates fully before touching any index, so each call
// is all-or-nothing.
type Engine struct {
	mu sync.Mutex

	state        engineState
	ledger       PaymentLedger
	owners       OwnerRegistry
	institutions InstitutionRegistry
	emitter      events.Emitter

	params   Params
	splitCfg SplitConfig

	vault      [20]byte
	treasury   [20]byte
	subsidy    [20]byte
	governance [20]byte

	nowFn func() int64
}

// NewEngine creates a lifecycle engine with default params and a no-op
// emitter. Callers wire collaborators via the setters before use.
func NewEngine() *Engine {
	return &Engine{
		emitter:  events.NoopEmitter{},
		params:   DefaultParams(),
		splitCfg: DefaultSplitConfig(),
		nowFn:    func() int64 { return time.Now().Unix() },
	}
}

// SetState configures the index backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetLedger configures the payment ledger collaborator.
func (e *Engine) SetLedger(ledger PaymentLedger) { e.ledger = ledger }

// SetOwnerRegistry configures the lab listing/staking collaborator.
func (e *Engine) SetOwnerRegistry(owners OwnerRegistry) { e.owners = owners }

// SetInstitutionRegistry configures the institutional identity collaborator.
func (e *Engine) SetInstitutionRegistry(reg InstitutionRegistry) { e.institutions = reg }

// SetParams overrides the engine limits.
func (e *Engine) SetParams(p Params) { e.params = p.Clone() }

// SetSplitConfig overrides the confirmation revenue allocation.
func (e *Engine) SetSplitConfig(cfg SplitConfig) { e.splitCfg = cfg }

// SetAccounts configures the vault plus the treasury, subsidy and governance
// beneficiaries credited by splits and cancellation fees.
func (e *Engine) SetAccounts(vault, treasury, subsidy, governance [20]byte) {
	e.vault = vault
	e.treasury = treasury
	e.subsidy = subsidy
	e.governance = governance
}

// SetEmitter configures the event emitter. Passing nil resets it to a no-op.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetNowFunc overrides the time source. Primarily for deterministic tests.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

func (e *Engine) now() int64 { return e.nowFn() }

func (e *Engine) emit(event *types.Event) {
	if e.emitter == nil || event == nil {
		return
	}
	e.emitter.Emit(reservationEvent{evt: event})
}

func (e *Engine) ready() error {
	if e.state == nil {
		return errNilState
	}
	if e.ledger == nil {
		return errNilLedger
	}
	if e.owners == nil {
		return errNilRegistry
	}
	return nil
}

func walletTrackingKey(renter [20]byte) string {
	return hex.EncodeToString(renter[:])
}

func (e *Engine) trackingKey(r *Reservation) string {
	if r.Institutional != nil && e.institutions != nil {
		return e.institutions.ResolveTrackingKey(r.Institutional.Institution, r.Institutional.UserRefHash)
	}
	return walletTrackingKey(r.Renter)
}

// RequestReservation records a wallet-funded pending booking. The calendar is
// not touched: pending requests never block availability. When the renter is
// at the active quota the engine first runs a bounded expiry sweep to reclaim
// slots before rejecting.
func (e *Engine) RequestReservation(labID string, renter [20]byte, start, end int64, price *big.Int) (*Reservation, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.ready(); err != nil {
		return nil, err
	}
	res := &Reservation{
		LabID:  labID,
		Renter: renter,
		Price:  cloneBigInt(price),
		Start:  start,
		End:    end,
	}
	return e.requestLocked(res, walletTrackingKey(renter))
}

// RequestInstitutionalReservation records a treasury-funded pending booking.
// The raw user reference is hashed immediately; only the digest is stored.
// periodStart/periodDuration bound the acceptance window checked at
// confirmation time.
func (e *Engine) RequestInstitutionalReservation(labID string, institution, collector [20]byte, userRef []byte, start, end int64, price *big.Int, periodStart, periodDuration int64) (*Reservation, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.ready(); err != nil {
		return nil, err
	}
	if e.institutions == nil {
		return nil, errNilRegistry
	}
	if len(userRef) == 0 {
		return nil, ErrInvalidUserRef
	}
	if !e.institutions.Registered(institution) {
		return nil, ErrInstitutionNotRegistered
	}
	digest := HashUserReference(userRef)
	res := &Reservation{
		LabID:  labID,
		Renter: collector,
		Price:  cloneBigInt(price),
		Start:  start,
		End:    end,
		Institutional: &InstitutionalMeta{
			Institution:    institution,
			Collector:      collector,
			UserRefHash:    digest,
			PeriodStart:    periodStart,
			PeriodDuration: periodDuration,
		},
	}
	return e.requestLocked(res, e.institutions.ResolveTrackingKey(institution, digest))
}

func (e *Engine) requestLocked(res *Reservation, tracking string) (*Reservation, error) {
	now := e.now()
	if res.Start >= res.End {
		return nil, ErrInvalidWindow
	}
	if res.Start < now+e.params.MinStartLead {
		return nil, ErrInvalidWindow
	}
	if res.Price == nil || res.Price.Sign() <= 0 {
		return nil, fmt.Errorf("reservation: price must be positive")
	}
	if !e.owners.IsListed(res.LabID) {
		return nil, ErrLabNotListed
	}
	owner, ok := e.owners.Owner(res.LabID)
	if !ok {
		return nil, ErrLabNotListed
	}
	if e.owners.CurrentStake(owner).Cmp(e.owners.RequiredStake(owner)) < 0 {
		return nil, ErrInsufficientStake
	}
	key := Key(res.LabID, res.Start)
	if existing, found := e.state.ReservationGet(key); found {
		if !existing.Status.Terminal() && !e.reclaimLocked(existing, now) {
			return nil, ErrSlotOccupied
		}
		// The slot is being reused; the terminal record's key must leave its
		// previous holder's tracked set before the new holder claims it.
		if previous := e.trackingKey(existing); previous != tracking {
			e.state.IndexRemove(res.LabID, previous, key)
		}
	}
	if e.state.ActiveCount(res.LabID, tracking) >= e.params.MaxActivePerUser {
		e.sweepLocked(res.LabID, tracking, e.params.MaxReleaseBatch, now)
		if e.state.ActiveCount(res.LabID, tracking) >= e.params.MaxActivePerUser {
			return nil, ErrMaxReservationsReached
		}
	}
	res.Key = key
	res.Status = StatusPending
	res.CreatedAt = now
	if err := e.state.ReservationPut(res); err != nil {
		return nil, err
	}
	e.state.IndexAdd(res.LabID, tracking, key)
	e.emit(NewRequestedEvent(res))
	return res.Clone(), nil
}

// reclaimLocked finalizes a reservation that still occupies its key but has
// run out its clock: expired actives are collected, stale pendings cancelled.
// Returns false when the reservation is still live and the key stays taken.
func (e *Engine) reclaimLocked(res *Reservation, now int64) bool {
	switch {
	case res.Status.Active() && now >= res.End:
		e.collectLocked(res)
		return true
	case res.Status == StatusCompleted && now >= res.End:
		e.collectLocked(res)
		return true
	case res.Status == StatusPending && now > res.CreatedAt+e.params.PendingTTL:
		e.cancelPendingLocked(res)
		return true
	default:
		return false
	}
}

// ConfirmReservation settles a wallet-funded pending request. An
// unfulfillable lab or a failed payment does not surface as an error: the
// reservation is cancelled, a denial recorded, and the terminal record
// returned.
func (e *Engine) ConfirmReservation(labID string, start int64, caller [20]byte) (*Reservation, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.ready(); err != nil {
		return nil, err
	}
	res, err := e.pendingForConfirm(labID, start, caller)
	if err != nil {
		return nil, err
	}
	if res.Institutional != nil {
		return nil, fmt.Errorf("reservation: institutional booking requires institutional confirmation")
	}
	if reason, ok := e.fulfillable(res); !ok {
		return e.denyLocked(res, reason), nil
	}
	if err := e.ledger.Transfer(res.Renter, e.vault, res.Price); err != nil {
		return e.denyLocked(res, "payment failed"), nil
	}
	return e.confirmLocked(res), nil
}

// ConfirmInstitutionalReservation settles a treasury-funded pending request.
// The caller supplies the raw user reference, which must hash to the digest
// stored at request time. An elapsed acceptance window or a failed treasury
// spend converts into a cancellation plus denial outcome.
func (e *Engine) ConfirmInstitutionalReservation(labID string, start int64, caller [20]byte, userRef []byte) (*Reservation, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.ready(); err != nil {
		return nil, err
	}
	if e.institutions == nil {
		return nil, errNilRegistry
	}
	res, err := e.pendingForConfirm(labID, start, caller)
	if err != nil {
		return nil, err
	}
	meta := res.Institutional
	if meta == nil {
		return nil, fmt.Errorf("reservation: wallet booking requires wallet confirmation")
	}
	if len(userRef) == 0 || HashUserReference(userRef) != meta.UserRefHash {
		return nil, ErrInvalidUserRef
	}
	if !e.institutions.Registered(meta.Institution) {
		return nil, ErrInstitutionNotRegistered
	}
	if e.acceptanceElapsed(meta, e.now()) {
		return e.denyLocked(res, "acceptance window elapsed"), nil
	}
	if reason, ok := e.fulfillable(res); !ok {
		return e.denyLocked(res, reason), nil
	}
	if err := e.ledger.SpendFromTreasury(meta.Institution, meta.UserRefHash, res.Price); err != nil {
		return e.denyLocked(res, "treasury spend failed"), nil
	}
	return e.confirmLocked(res), nil
}

func (e *Engine) acceptanceElapsed(meta *InstitutionalMeta, now int64) bool {
	window := meta.PeriodDuration
	if window <= 0 {
		window = e.params.PendingTTL
	}
	anchor := meta.PeriodStart
	if anchor <= 0 {
		anchor = now
	}
	return now > anchor+window
}

func (e *Engine) pendingForConfirm(labID string, start int64, caller [20]byte) (*Reservation, error) {
	res, ok := e.state.ReservationGet(Key(labID, start))
	if !ok {
		return nil, ErrNotFound
	}
	if res.Status != StatusPending {
		return nil, ErrNotPending
	}
	if !e.owners.IsAuthorizedOwner(labID, caller) {
		return nil, ErrUnauthorized
	}
	return res, nil
}

// fulfillable checks that the lab can still honour a confirmation: listed,
// adequately staked, and conflict-free on the calendar.
func (e *Engine) fulfillable(res *Reservation) (string, bool) {
	if !e.owners.IsListed(res.LabID) {
		return "lab unlisted", false
	}
	owner, ok := e.owners.Owner(res.LabID)
	if !ok {
		return "lab unlisted", false
	}
	if e.owners.CurrentStake(owner).Cmp(e.owners.RequiredStake(owner)) < 0 {
		return "owner under-staked", false
	}
	if e.state.Calendar(res.LabID).HasConflict(res.Start, res.End) {
		return "calendar conflict", false
	}
	return "", true
}

func (e *Engine) denyLocked(res *Reservation, reason string) *Reservation {
	res.Status = StatusCancelled
	_ = e.state.ReservationPut(res)
	e.emit(NewDeniedEvent(res, reason))
	return res.Clone()
}

func (e *Engine) confirmLocked(res *Reservation) *Reservation {
	owner, _ := e.owners.Owner(res.LabID)
	res.Owner = owner
	res.Split = Split(res.Price, e.splitCfg)
	res.Status = StatusConfirmed
	// Conflict-checked in fulfillable; the insert cannot fail here.
	if err := e.state.Calendar(res.LabID).Insert(res.Start, res.End); err != nil {
		res.Status = StatusPending
		res.Split = nil
		return e.denyLocked(res, "calendar conflict")
	}
	_ = e.state.ReservationPut(res)
	tracking := e.trackingKey(res)
	e.state.IncrementActive(res.LabID, tracking)
	e.state.Payouts(res.LabID).Enqueue(res.Key, res.End)
	e.state.Actives(res.LabID, tracking).Enqueue(res.Key, res.Start)
	if current, ok := e.state.NextActive(res.LabID, tracking); !ok || res.Start < current {
		e.state.SetNextActive(res.LabID, tracking, res.Start, true)
	}
	e.state.LogUpcoming(res.LabID, ActivityEntry{Key: res.Key, At: res.Start})
	e.emit(NewConfirmedEvent(res))
	return res.Clone()
}

// DenyReservation is the provider-initiated rejection of a pending request,
// equivalent to cancellation without a fee.
func (e *Engine) DenyReservation(labID string, start int64, caller [20]byte) (*Reservation, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.ready(); err != nil {
		return nil, err
	}
	res, err := e.pendingForConfirm(labID, start, caller)
	if err != nil {
		return nil, err
	}
	return e.denyLocked(res, "denied by provider"), nil
}

// MarkInUse flags a confirmed booking as in use. The trigger is external; the
// engine only validates the transition.
func (e *Engine) MarkInUse(labID string, start int64, caller [20]byte) (*Reservation, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.ready(); err != nil {
		return nil, err
	}
	res, ok := e.state.ReservationGet(Key(labID, start))
	if !ok {
		return nil, ErrNotFound
	}
	if res.Status != StatusConfirmed {
		return nil, ErrNotActive
	}
	if caller != res.Renter && !e.owners.IsAuthorizedOwner(labID, caller) {
		return nil, ErrUnauthorized
	}
	res.Status = StatusInUse
	if err := e.state.ReservationPut(res); err != nil {
		return nil, err
	}
	e.emit(NewInUseEvent(res))
	return res.Clone(), nil
}

// MarkCompleted records the end of a usage session. The booking leaves the
// calendar and quota immediately; its revenue stays scheduled and is credited
// once the window elapses.
func (e *Engine) MarkCompleted(labID string, start int64, caller [20]byte) (*Reservation, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.ready(); err != nil {
		return nil, err
	}
	res, ok := e.state.ReservationGet(Key(labID, start))
	if !ok {
		return nil, ErrNotFound
	}
	if res.Status != StatusInUse {
		return nil, ErrNotActive
	}
	if caller != res.Renter && !e.owners.IsAuthorizedOwner(labID, caller) {
		return nil, ErrUnauthorized
	}
	res.Status = StatusCompleted
	if err := e.state.ReservationPut(res); err != nil {
		return nil, err
	}
	e.detachActiveLocked(res)
	e.emit(NewCompletedEvent(res))
	return res.Clone(), nil
}

// CancelReservation cancels a wallet-funded booking. Pending requests cancel
// free of charge; active bookings pay the cancellation fee, with the
// remainder refunded to the renter.
func (e *Engine) CancelReservation(labID string, start int64, caller [20]byte) (*Reservation, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.ready(); err != nil {
		return nil, err
	}
	res, ok := e.state.ReservationGet(Key(labID, start))
	if !ok {
		return nil, ErrNotFound
	}
	if res.Institutional != nil {
		return nil, fmt.Errorf("reservation: institutional booking requires institutional cancellation")
	}
	if caller != res.Renter && !e.owners.IsAuthorizedOwner(labID, caller) {
		return nil, ErrUnauthorized
	}
	return e.cancelLocked(res)
}

// CancelInstitutionalReservation cancels a treasury-funded booking. The user
// reference must hash to the stored digest; refunds return to the
// institution's treasury budget.
func (e *Engine) CancelInstitutionalReservation(labID string, start int64, caller [20]byte, userRef []byte) (*Reservation, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.ready(); err != nil {
		return nil, err
	}
	res, ok := e.state.ReservationGet(Key(labID, start))
	if !ok {
		return nil, ErrNotFound
	}
	meta := res.Institutional
	if meta == nil {
		return nil, fmt.Errorf("reservation: wallet booking requires wallet cancellation")
	}
	if len(userRef) == 0 || HashUserReference(userRef) != meta.UserRefHash {
		return nil, ErrInvalidUserRef
	}
	if caller != meta.Collector && !e.owners.IsAuthorizedOwner(labID, caller) {
		return nil, ErrUnauthorized
	}
	return e.cancelLocked(res)
}

func (e *Engine) cancelLocked(res *Reservation) (*Reservation, error) {
	if res.Status.Terminal() {
		return nil, ErrTerminalStatus
	}
	if res.Status == StatusPending {
		return e.cancelPendingLocked(res), nil
	}
	if !res.Status.Active() {
		return nil, ErrNotActive
	}
	fee := ComputeCancellationFee(res.Price, e.params.MinCancellationFee)
	if fee.Refund.Sign() > 0 {
		if err := e.refund(res, fee.Refund); err != nil {
			return nil, err
		}
	}
	e.releaseIndexesLocked(res)
	e.state.AccruePayout(res.Owner, fee.ProviderFee)
	e.state.AccruePayout(e.treasury, fee.TreasuryFee)
	e.state.AccruePayout(e.governance, fee.GovernanceFee)
	res.Status = StatusCancelled
	_ = e.state.ReservationPut(res)
	e.state.LogPast(res.LabID, ActivityEntry{Key: res.Key, At: res.End})
	e.emit(NewCancelledEvent(res, fee))
	return res.Clone(), nil
}

func (e *Engine) cancelPendingLocked(res *Reservation) *Reservation {
	res.Status = StatusCancelled
	_ = e.state.ReservationPut(res)
	e.emit(NewCancelledEvent(res, CancellationFee{Refund: big.NewInt(0)}))
	return res.Clone()
}

func (e *Engine) refund(res *Reservation, amount *big.Int) error {
	if res.Institutional != nil {
		return e.ledger.CreditTreasury(res.Institutional.Institution, res.Institutional.UserRefHash, amount)
	}
	return e.ledger.Transfer(e.vault, res.Renter, amount)
}

// releaseIndexesLocked removes an active booking from the calendar, counters
// and heaps, and refreshes the (lab, user) earliest-active pointer.
func (e *Engine) releaseIndexesLocked(res *Reservation) {
	e.detachActiveLocked(res)
	e.state.Payouts(res.LabID).Invalidate(res.Key)
}

// detachActiveLocked frees the calendar slot, quota counter and active heap
// without touching the payout schedule, so revenue collection stays pending.
func (e *Engine) detachActiveLocked(res *Reservation) {
	cal := e.state.Calendar(res.LabID)
	if cal.Exists(res.Start) {
		_ = cal.Remove(res.Start)
	}
	tracking := e.trackingKey(res)
	e.state.DecrementActive(res.LabID, tracking)
	e.state.Actives(res.LabID, tracking).RemoveKey(res.Key)
	e.refreshNextActiveLocked(res.LabID, tracking)
}

// refreshNextActiveLocked drains stale heap roots and records the earliest
// remaining active booking for the tracking key.
func (e *Engine) refreshNextActiveLocked(labID, tracking string) {
	actives := e.state.Actives(labID, tracking)
	for {
		key, start, ok := actives.Peek()
		if !ok {
			e.state.SetNextActive(labID, tracking, 0, false)
			return
		}
		res, found := e.state.ReservationGet(key)
		if found && res.Status.Active() {
			e.state.SetNextActive(labID, tracking, start, true)
			return
		}
		actives.RemoveRoot()
	}
}

// collectLocked finalizes an elapsed booking: calendar and heap cleanup, the
// precomputed split credited to the pending-payout accumulators, status
// COLLECTED.
func (e *Engine) collectLocked(res *Reservation) {
	if res.Status.Active() {
		e.releaseIndexesLocked(res)
	} else {
		e.state.Payouts(res.LabID).Invalidate(res.Key)
	}
	split := res.Split
	if split == nil {
		split = Split(res.Price, e.splitCfg)
	}
	e.state.AccruePayout(res.Owner, split.Provider)
	e.state.AccruePayout(e.treasury, split.Treasury)
	e.state.AccruePayout(e.subsidy, split.Subsidy)
	e.state.AccruePayout(e.governance, split.Governance)
	res.Status = StatusCollected
	_ = e.state.ReservationPut(res)
	e.state.LogPast(res.LabID, ActivityEntry{Key: res.Key, At: res.End})
	e.emit(NewCollectedEvent(res))
}

// ReleaseExpired sweeps up to maxBatch of the renter's bookings in the lab:
// elapsed active bookings are collected, stale pendings cancelled without
// fee. Entries that consume no budget are skipped. Returns the number of
// reservations processed.
func (e *Engine) ReleaseExpired(labID string, renter [20]byte, caller [20]byte, maxBatch int) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.ready(); err != nil {
		return 0, err
	}
	if caller != renter && !e.owners.IsAuthorizedOwner(labID, caller) {
		return 0, ErrUnauthorized
	}
	return e.releaseLocked(labID, walletTrackingKey(renter), maxBatch)
}

// ReleaseExpiredInstitutional is the treasury-funded variant of
// ReleaseExpired, keyed by the institution and hashed user reference.
func (e *Engine) ReleaseExpiredInstitutional(labID string, institution [20]byte, userRef []byte, caller [20]byte, maxBatch int) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.ready(); err != nil {
		return 0, err
	}
	if e.institutions == nil {
		return 0, errNilRegistry
	}
	if len(userRef) == 0 {
		return 0, ErrInvalidUserRef
	}
	if caller != institution && !e.owners.IsAuthorizedOwner(labID, caller) {
		return 0, ErrUnauthorized
	}
	digest := HashUserReference(userRef)
	return e.releaseLocked(labID, e.institutions.ResolveTrackingKey(institution, digest), maxBatch)
}

func (e *Engine) releaseLocked(labID, tracking string, maxBatch int) (int, error) {
	if maxBatch <= 0 || maxBatch > e.params.MaxReleaseBatch {
		return 0, ErrBatchLimit
	}
	processed := e.sweepLocked(labID, tracking, maxBatch, e.now())
	if processed > 0 {
		e.emit(NewSweptEvent(labID, processed))
	}
	return processed, nil
}

// sweepLocked walks the (lab, tracking) key set, finalizing expired entries
// until the budget is spent. Entries that need no work do not consume budget.
func (e *Engine) sweepLocked(labID, tracking string, budget int, now int64) int {
	processed := 0
	for _, key := range e.state.TrackedKeys(labID, tracking) {
		if processed >= budget {
			break
		}
		res, ok := e.state.ReservationGet(key)
		if !ok {
			continue
		}
		switch {
		case res.Status.Active() && now >= res.End:
			e.collectLocked(res)
			processed++
		case res.Status == StatusCompleted && now >= res.End:
			e.collectLocked(res)
			processed++
		case res.Status == StatusPending && now > res.CreatedAt+e.params.PendingTTL:
			e.cancelPendingLocked(res)
			processed++
		}
	}
	return processed
}

// CollectDue pops eligible entries from the lab's payout heap and collects
// them, up to maxBatch. Anyone may trigger collection; funds only ever move
// into the pending-payout accumulators.
func (e *Engine) CollectDue(labID string, maxBatch int) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.ready(); err != nil {
		return 0, err
	}
	if maxBatch <= 0 || maxBatch > e.params.MaxReleaseBatch {
		return 0, ErrBatchLimit
	}
	now := e.now()
	payouts := e.state.Payouts(labID)
	processed := 0
	for processed < maxBatch {
		key, ok := payouts.PopEligible(now, func(key [32]byte) bool {
			res, found := e.state.ReservationGet(key)
			return found && res.LabID == labID && res.Status.Collectible()
		})
		if !ok {
			break
		}
		res, found := e.state.ReservationGet(key)
		if !found {
			continue
		}
		e.collectLocked(res)
		processed++
	}
	return processed, nil
}

// Get returns the reservation for a lab slot.
func (e *Engine) Get(labID string, start int64) (*Reservation, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == nil {
		return nil, errNilState
	}
	res, ok := e.state.ReservationGet(Key(labID, start))
	if !ok {
		return nil, ErrNotFound
	}
	return res.Clone(), nil
}

// GetByKey returns the reservation for a derived key.
func (e *Engine) GetByKey(key [32]byte) (*Reservation, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == nil {
		return nil, errNilState
	}
	res, ok := e.state.ReservationGet(key)
	if !ok {
		return nil, ErrNotFound
	}
	return res.Clone(), nil
}

// ReservationsByLab returns a page of the lab's reservations in insertion
// order.
func (e *Engine) ReservationsByLab(labID string, offset, limit int) ([]*Reservation, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == nil {
		return nil, errNilState
	}
	keys := e.state.LabKeys(labID)
	if offset < 0 || offset >= len(keys) {
		return nil, nil
	}
	if limit <= 0 {
		limit = len(keys) - offset
	}
	end := offset + limit
	if end > len(keys) {
		end = len(keys)
	}
	page := make([]*Reservation, 0, end-offset)
	for _, key := range keys[offset:end] {
		if res, ok := e.state.ReservationGet(key); ok {
			page = append(page, res.Clone())
		}
	}
	return page, nil
}

// UserReservations returns the reservation keys tracked for a renter in a
// lab, along with the active count.
func (e *Engine) UserReservations(labID string, renter [20]byte) ([][32]byte, int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == nil {
		return nil, 0, errNilState
	}
	tracking := walletTrackingKey(renter)
	return e.state.TrackedKeys(labID, tracking), e.state.ActiveCount(labID, tracking), nil
}

// IsAvailable reports whether [start, end) is free on the lab's calendar.
// Pending requests do not affect availability.
func (e *Engine) IsAvailable(labID string, start, end int64) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == nil {
		return false, errNilState
	}
	return !e.state.Calendar(labID).HasConflict(start, end), nil
}

// NextActiveStart returns the start of the renter's earliest active booking
// in the lab.
func (e *Engine) NextActiveStart(labID string, renter [20]byte) (int64, bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == nil {
		return 0, false, errNilState
	}
	start, ok := e.state.NextActive(labID, walletTrackingKey(renter))
	return start, ok, nil
}

// RecentActivity returns the lab's bounded past and upcoming activity logs.
func (e *Engine) RecentActivity(labID string) (past, upcoming []ActivityEntry, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == nil {
		return nil, nil, errNilState
	}
	return e.state.RecentPast(labID), e.state.RecentUpcoming(labID), nil
}

// PendingPayout returns the accrued, not yet disbursed share balance for a
// beneficiary.
func (e *Engine) PendingPayout(beneficiary [20]byte) (*big.Int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == nil {
		return nil, errNilState
	}
	return e.state.PendingPayout(beneficiary), nil
}
