package reservation

import (
	"encoding/binary"
	"fmt"
	"math/big"
	"strings"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"lukechampine.com/blake3"
)

// Status represents the lifecycle states of a reservation. CANCELLED and
// COLLECTED are terminal; a reservation is never deleted, only transitioned.
type Status uint8

const (
	StatusPending Status = iota
	StatusConfirmed
	StatusInUse
	StatusCompleted
	StatusCancelled
	StatusCollected
)

// Valid reports whether the status value is within the supported range.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusInUse, StatusCompleted, StatusCancelled, StatusCollected:
		return true
	default:
		return false
	}
}

// Terminal reports whether the status admits no further transition.
func (s Status) Terminal() bool {
	return s == StatusCancelled || s == StatusCollected
}

// Active reports whether the reservation currently occupies the calendar and
// counts toward the per-user quota.
func (s Status) Active() bool {
	return s == StatusConfirmed || s == StatusInUse
}

// Collectible reports whether accrued revenue may still be collected for the
// reservation once its window elapses.
func (s Status) Collectible() bool {
	return s == StatusConfirmed || s == StatusInUse || s == StatusCompleted
}

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusConfirmed:
		return "confirmed"
	case StatusInUse:
		return "in_use"
	case StatusCompleted:
		return "completed"
	case StatusCancelled:
		return "cancelled"
	case StatusCollected:
		return "collected"
	default:
		return fmt.Sprintf("status(%d)", uint8(s))
	}
}

// RevenueSplit records the precomputed share allocation for a confirmed
// reservation. Shares always sum exactly to the reservation price.
type RevenueSplit struct {
	Provider   *big.Int `json:"provider"`
	Treasury   *big.Int `json:"treasury"`
	Subsidy    *big.Int `json:"subsidy"`
	Governance *big.Int `json:"governance"`
}

// Total returns the sum of all shares.
func (s *RevenueSplit) Total() *big.Int {
	total := big.NewInt(0)
	if s == nil {
		return total
	}
	for _, share := range []*big.Int{s.Provider, s.Treasury, s.Subsidy, s.Governance} {
		if share != nil {
			total.Add(total, share)
		}
	}
	return total
}

// Clone returns a deep copy of the split.
func (s *RevenueSplit) Clone() *RevenueSplit {
	if s == nil {
		return nil
	}
	return &RevenueSplit{
		Provider:   cloneBigInt(s.Provider),
		Treasury:   cloneBigInt(s.Treasury),
		Subsidy:    cloneBigInt(s.Subsidy),
		Governance: cloneBigInt(s.Governance),
	}
}

// InstitutionalMeta carries the extra fields attached to treasury-funded
// bookings. The raw user reference is never stored; only its blake3 digest.
type InstitutionalMeta struct {
	Institution    [20]byte
	Collector      [20]byte
	UserRefHash    [32]byte
	PeriodStart    int64
	PeriodDuration int64
}

// Clone returns a copy of the institutional metadata.
func (m *InstitutionalMeta) Clone() *InstitutionalMeta {
	if m == nil {
		return nil
	}
	clone := *m
	return &clone
}

// Reservation captures a single booking against a lab's calendar. The key is
// the keccak256 hash of the lab identifier and the big-endian start time, so
// one slot start maps to exactly one record per lab.
type Reservation struct {
	Key           [32]byte
	LabID         string
	Renter        [20]byte
	Owner         [20]byte
	Price         *big.Int
	Status        Status
	Start         int64
	End           int64
	CreatedAt     int64
	Split         *RevenueSplit
	Institutional *InstitutionalMeta
}

// Key derives the deterministic reservation identifier for a lab slot.
func Key(labID string, start int64) [32]byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(start))
	return ethcrypto.Keccak256Hash([]byte(labID), buf[:])
}

// HashUserReference digests an institutional user reference for index keying.
// The digest is never used for authorization.
func HashUserReference(ref []byte) [32]byte {
	return blake3.Sum256(ref)
}

// Clone returns a deep copy of the reservation so callers can safely mutate
// the copy without affecting the stored instance.
func (r *Reservation) Clone() *Reservation {
	if r == nil {
		return nil
	}
	clone := *r
	clone.Price = cloneBigInt(r.Price)
	clone.Split = r.Split.Clone()
	clone.Institutional = r.Institutional.Clone()
	return &clone
}

// Sanitize validates and normalises the supplied reservation, returning a
// cloned instance with a non-nil price. The original value is not mutated.
func Sanitize(r *Reservation) (*Reservation, error) {
	if r == nil {
		return nil, fmt.Errorf("reservation: nil record")
	}
	clone := r.Clone()
	if strings.TrimSpace(clone.LabID) == "" {
		return nil, fmt.Errorf("reservation: lab id required")
	}
	if clone.Price == nil {
		clone.Price = big.NewInt(0)
	}
	if clone.Price.Sign() < 0 {
		return nil, fmt.Errorf("reservation: price must be non-negative")
	}
	if clone.Start >= clone.End {
		return nil, fmt.Errorf("reservation: start must precede end")
	}
	if !clone.Status.Valid() {
		return nil, fmt.Errorf("reservation: invalid status: %d", clone.Status)
	}
	if clone.Key != Key(clone.LabID, clone.Start) {
		return nil, fmt.Errorf("reservation: key does not match lab and start")
	}
	return clone, nil
}

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}
