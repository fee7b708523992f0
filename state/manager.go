// Package state owns the arena collections behind the reservation engine:
// per-lab calendars and payout heaps, per-(lab,user) key sets, active counts
// and heaps, bounded activity logs, and the pending-payout accumulators.
// Reservation records are additionally persisted through storage.Database;
// the derived indexes are rebuilt in memory by replaying confirmations.
package state

import (
	"encoding/json"
	"fmt"
	"math/big"
	"sort"
	"sync"

	"labgrid/native/reservation"
	"labgrid/storage"
)

var reservationPrefix = []byte("reservation/")

type userScope struct {
	lab      string
	tracking string
}

type nextActive struct {
	start  int64
	exists bool
}

// Manager implements the index backend consumed by the reservation engine.
// All lifecycle mutation is serialized by the engine; the manager's own lock
// only guards arena creation and record access.
type Manager struct {
	mu sync.Mutex

	db      storage.Database
	records map[[32]byte]*reservation.Reservation

	calendars map[string]*reservation.Calendar
	payouts   map[string]*reservation.PayoutScheduler
	actives   map[userScope]*reservation.ActiveHeap

	labKeys     map[string][][32]byte
	labIndexed  map[string]map[[32]byte]bool
	trackedKeys map[userScope][][32]byte
	indexed     map[userScope]map[[32]byte]bool

	activeCounts map[userScope]int
	nextActives  map[userScope]nextActive

	pastLogs     map[string]*ringLog
	upcomingLogs map[string]*ringLog
	ringCapacity int

	payoutAccruals map[[20]byte]*big.Int
}

// NewManager creates a state manager persisting reservation records to db.
// A nil db keeps records purely in memory.
func NewManager(db storage.Database, ringCapacity int) *Manager {
	if ringCapacity <= 0 {
		ringCapacity = reservation.DefaultParams().RingCapacity
	}
	return &Manager{
		db:             db,
		records:        make(map[[32]byte]*reservation.Reservation),
		calendars:      make(map[string]*reservation.Calendar),
		payouts:        make(map[string]*reservation.PayoutScheduler),
		actives:        make(map[userScope]*reservation.ActiveHeap),
		labKeys:        make(map[string][][32]byte),
		labIndexed:     make(map[string]map[[32]byte]bool),
		trackedKeys:    make(map[userScope][][32]byte),
		indexed:        make(map[userScope]map[[32]byte]bool),
		activeCounts:   make(map[userScope]int),
		nextActives:    make(map[userScope]nextActive),
		pastLogs:       make(map[string]*ringLog),
		upcomingLogs:   make(map[string]*ringLog),
		ringCapacity:   ringCapacity,
		payoutAccruals: make(map[[20]byte]*big.Int),
	}
}

func recordKey(key [32]byte) []byte {
	return append(append([]byte(nil), reservationPrefix...), key[:]...)
}

// ReservationPut sanitizes and stores a reservation record, both in memory
// and in the persistent backend when configured.
func (m *Manager) ReservationPut(r *reservation.Reservation) error {
	sanitized, err := reservation.Sanitize(r)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[sanitized.Key] = sanitized
	if m.db == nil {
		return nil
	}
	encoded, err := json.Marshal(sanitized)
	if err != nil {
		return fmt.Errorf("state: encode reservation: %w", err)
	}
	return m.db.Put(recordKey(sanitized.Key), encoded)
}

// ReservationGet returns a clone of the stored record, falling through to
// the persistent backend on a memory miss.
func (m *Manager) ReservationGet(key [32]byte) (*reservation.Reservation, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.records[key]; ok {
		return r.Clone(), true
	}
	if m.db == nil {
		return nil, false
	}
	encoded, err := m.db.Get(recordKey(key))
	if err != nil {
		return nil, false
	}
	decoded := &reservation.Reservation{}
	if err := json.Unmarshal(encoded, decoded); err != nil {
		return nil, false
	}
	m.records[key] = decoded
	return decoded.Clone(), true
}

// Calendar returns the lab's interval tree, creating it on first use.
func (m *Manager) Calendar(labID string) *reservation.Calendar {
	m.mu.Lock()
	defer m.mu.Unlock()
	cal, ok := m.calendars[labID]
	if !ok {
		cal = reservation.NewCalendar()
		m.calendars[labID] = cal
	}
	return cal
}

// Payouts returns the lab's payout scheduler, creating it on first use.
func (m *Manager) Payouts(labID string) *reservation.PayoutScheduler {
	m.mu.Lock()
	defer m.mu.Unlock()
	sched, ok := m.payouts[labID]
	if !ok {
		sched = reservation.NewPayoutScheduler()
		m.payouts[labID] = sched
	}
	return sched
}

// Actives returns the (lab, user) active-booking heap, creating it on first
// use.
func (m *Manager) Actives(labID, trackingKey string) *reservation.ActiveHeap {
	m.mu.Lock()
	defer m.mu.Unlock()
	scope := userScope{lab: labID, tracking: trackingKey}
	h, ok := m.actives[scope]
	if !ok {
		h = reservation.NewActiveHeap()
		m.actives[scope] = h
	}
	return h
}

// IndexAdd records the reservation key in both the lab set and the
// (lab, user) set. Duplicate adds are ignored; the lab set is deduplicated
// across all tracking scopes so a reused slot key appears once.
func (m *Manager) IndexAdd(labID, trackingKey string, key [32]byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	scope := userScope{lab: labID, tracking: trackingKey}
	seen, ok := m.indexed[scope]
	if !ok {
		seen = make(map[[32]byte]bool)
		m.indexed[scope] = seen
	}
	if seen[key] {
		return
	}
	seen[key] = true
	m.trackedKeys[scope] = append(m.trackedKeys[scope], key)
	labSeen, ok := m.labIndexed[labID]
	if !ok {
		labSeen = make(map[[32]byte]bool)
		m.labIndexed[labID] = labSeen
	}
	if !labSeen[key] {
		labSeen[key] = true
		m.labKeys[labID] = append(m.labKeys[labID], key)
	}
}

// IndexRemove drops the reservation key from the (lab, user) set when a slot
// key changes hands. The lab-wide enumeration keeps the key; the record still
// belongs to the lab's history.
func (m *Manager) IndexRemove(labID, trackingKey string, key [32]byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	scope := userScope{lab: labID, tracking: trackingKey}
	seen, ok := m.indexed[scope]
	if !ok || !seen[key] {
		return
	}
	delete(seen, key)
	keys := m.trackedKeys[scope]
	for i, candidate := range keys {
		if candidate == key {
			m.trackedKeys[scope] = append(keys[:i], keys[i+1:]...)
			break
		}
	}
}

// LabKeys returns a copy of the lab's reservation keys in insertion order.
func (m *Manager) LabKeys(labID string) [][32]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][32]byte(nil), m.labKeys[labID]...)
}

// TrackedKeys returns a copy of the (lab, user) reservation keys in
// insertion order.
func (m *Manager) TrackedKeys(labID, trackingKey string) [][32]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][32]byte(nil), m.trackedKeys[userScope{lab: labID, tracking: trackingKey}]...)
}

// ActiveCount returns the number of CONFIRMED/IN_USE reservations tracked
// for the (lab, user) pair.
func (m *Manager) ActiveCount(labID, trackingKey string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.activeCounts[userScope{lab: labID, tracking: trackingKey}]
}

// IncrementActive bumps the (lab, user) active counter.
func (m *Manager) IncrementActive(labID, trackingKey string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.activeCounts[userScope{lab: labID, tracking: trackingKey}]++
}

// DecrementActive lowers the (lab, user) active counter, clamped at zero.
func (m *Manager) DecrementActive(labID, trackingKey string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	scope := userScope{lab: labID, tracking: trackingKey}
	if m.activeCounts[scope] > 0 {
		m.activeCounts[scope]--
	}
}

// NextActive returns the recorded earliest-active start for the pair.
func (m *Manager) NextActive(labID, trackingKey string) (int64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry := m.nextActives[userScope{lab: labID, tracking: trackingKey}]
	return entry.start, entry.exists
}

// SetNextActive records the earliest-active start for the pair.
func (m *Manager) SetNextActive(labID, trackingKey string, start int64, exists bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextActives[userScope{lab: labID, tracking: trackingKey}] = nextActive{start: start, exists: exists}
}

func (m *Manager) log(logs map[string]*ringLog, labID string, entry reservation.ActivityEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ring, ok := logs[labID]
	if !ok {
		ring = newRingLog(m.ringCapacity)
		logs[labID] = ring
	}
	ring.add(entry)
}

// LogPast appends a finished booking to the lab's past-activity ring.
func (m *Manager) LogPast(labID string, entry reservation.ActivityEntry) {
	m.log(m.pastLogs, labID, entry)
}

// LogUpcoming appends a confirmed booking to the lab's upcoming ring.
func (m *Manager) LogUpcoming(labID string, entry reservation.ActivityEntry) {
	m.log(m.upcomingLogs, labID, entry)
}

// RecentPast returns the lab's past-activity log, oldest first.
func (m *Manager) RecentPast(labID string) []reservation.ActivityEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ring, ok := m.pastLogs[labID]; ok {
		return ring.snapshot()
	}
	return nil
}

// RecentUpcoming returns the lab's upcoming log, earliest first.
func (m *Manager) RecentUpcoming(labID string) []reservation.ActivityEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ring, ok := m.upcomingLogs[labID]; ok {
		return ring.snapshot()
	}
	return nil
}

// AccruePayout credits a beneficiary's pending-payout accumulator.
func (m *Manager) AccruePayout(beneficiary [20]byte, amount *big.Int) {
	if amount == nil || amount.Sign() <= 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.payoutAccruals[beneficiary]
	if !ok {
		current = big.NewInt(0)
	}
	m.payoutAccruals[beneficiary] = new(big.Int).Add(current, amount)
}

// PendingPayout returns a copy of the beneficiary's accrued balance.
func (m *Manager) PendingPayout(beneficiary [20]byte) *big.Int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if current, ok := m.payoutAccruals[beneficiary]; ok {
		return new(big.Int).Set(current)
	}
	return big.NewInt(0)
}

// ringLog is a fixed-capacity, insertion-sorted activity buffer. When full,
// the oldest entry is silently dropped to admit the new one.
type ringLog struct {
	entries  []reservation.ActivityEntry
	capacity int
}

func newRingLog(capacity int) *ringLog {
	return &ringLog{capacity: capacity}
}

func (r *ringLog) add(entry reservation.ActivityEntry) {
	idx := sort.Search(len(r.entries), func(i int) bool {
		return r.entries[i].At > entry.At
	})
	r.entries = append(r.entries, reservation.ActivityEntry{})
	copy(r.entries[idx+1:], r.entries[idx:])
	r.entries[idx] = entry
	if len(r.entries) > r.capacity {
		r.entries = r.entries[1:]
	}
}

func (r *ringLog) snapshot() []reservation.ActivityEntry {
	return append([]reservation.ActivityEntry(nil), r.entries...)
}
