// Package registry tracks lab listings, provider collateral, delegated
// backends and registered institutions. It answers the yes/no authorization
// and staking questions the lifecycle engine asks; it never moves funds.
package registry

import (
	"encoding/hex"
	"errors"
	"math/big"
	"strings"
	"sync"
)

var (
	// ErrAlreadyListed indicates the lab identifier is taken.
	ErrAlreadyListed = errors.New("registry: lab already listed")
	// ErrNotListed indicates the lab identifier is unknown.
	ErrNotListed = errors.New("registry: lab not listed")
	// ErrEmptyLabID indicates a blank lab identifier.
	ErrEmptyLabID = errors.New("registry: lab id required")
)

// Registry is the mutex-guarded listing and staking book.
type Registry struct {
	mu           sync.Mutex
	owners       map[string][20]byte
	listedCount  map[[20]byte]int
	stake        map[[20]byte]*big.Int
	backends     map[[20]byte][20]byte
	institutions map[[20]byte]bool
	perLabStake  *big.Int
}

// NewRegistry returns an empty registry requiring perLabStake collateral per
// listed lab.
func NewRegistry(perLabStake *big.Int) *Registry {
	stake := big.NewInt(0)
	if perLabStake != nil {
		stake = new(big.Int).Set(perLabStake)
	}
	return &Registry{
		owners:       make(map[string][20]byte),
		listedCount:  make(map[[20]byte]int),
		stake:        make(map[[20]byte]*big.Int),
		backends:     make(map[[20]byte][20]byte),
		institutions: make(map[[20]byte]bool),
		perLabStake:  stake,
	}
}

// List registers a lab under its owning provider.
func (r *Registry) List(labID string, owner [20]byte) error {
	trimmed := strings.TrimSpace(labID)
	if trimmed == "" {
		return ErrEmptyLabID
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, taken := r.owners[trimmed]; taken {
		return ErrAlreadyListed
	}
	r.owners[trimmed] = owner
	r.listedCount[owner]++
	return nil
}

// Unlist removes a lab listing. Existing reservations are unaffected; the
// lifecycle engine rejects new requests and confirmations for unlisted labs.
func (r *Registry) Unlist(labID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	owner, ok := r.owners[labID]
	if !ok {
		return ErrNotListed
	}
	delete(r.owners, labID)
	if r.listedCount[owner] > 0 {
		r.listedCount[owner]--
	}
	return nil
}

// IsListed reports whether the lab is currently bookable.
func (r *Registry) IsListed(labID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.owners[labID]
	return ok
}

// Owner returns the provider that listed the lab.
func (r *Registry) Owner(labID string) ([20]byte, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	owner, ok := r.owners[labID]
	return owner, ok
}

// SetBackend delegates provider operations to a backend address.
func (r *Registry) SetBackend(owner, backend [20]byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if backend == ([20]byte{}) {
		delete(r.backends, owner)
		return
	}
	r.backends[owner] = backend
}

// IsAuthorizedOwner reports whether the caller is the lab's provider or its
// delegated backend.
func (r *Registry) IsAuthorizedOwner(labID string, caller [20]byte) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	owner, ok := r.owners[labID]
	if !ok {
		return false
	}
	if caller == owner {
		return true
	}
	backend, ok := r.backends[owner]
	return ok && caller == backend
}

// BondStake adds collateral for a provider.
func (r *Registry) BondStake(owner [20]byte, amount *big.Int) {
	if amount == nil || amount.Sign() <= 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	current, ok := r.stake[owner]
	if !ok {
		current = big.NewInt(0)
	}
	r.stake[owner] = new(big.Int).Add(current, amount)
}

// UnbondStake withdraws collateral, clamped at zero.
func (r *Registry) UnbondStake(owner [20]byte, amount *big.Int) {
	if amount == nil || amount.Sign() <= 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	current, ok := r.stake[owner]
	if !ok {
		return
	}
	next := new(big.Int).Sub(current, amount)
	if next.Sign() < 0 {
		next = big.NewInt(0)
	}
	r.stake[owner] = next
}

// CurrentStake returns a copy of the provider's bonded collateral.
func (r *Registry) CurrentStake(owner [20]byte) *big.Int {
	r.mu.Lock()
	defer r.mu.Unlock()
	current, ok := r.stake[owner]
	if !ok {
		return big.NewInt(0)
	}
	return new(big.Int).Set(current)
}

// RequiredStake scales the per-lab collateral requirement by the provider's
// listed lab count.
func (r *Registry) RequiredStake(owner [20]byte) *big.Int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return new(big.Int).Mul(r.perLabStake, big.NewInt(int64(r.listedCount[owner])))
}

// ListedCount returns the number of labs the provider has listed.
func (r *Registry) ListedCount(owner [20]byte) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.listedCount[owner]
}

// RegisterInstitution marks an institution as a recognised treasury payer.
func (r *Registry) RegisterInstitution(institution [20]byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.institutions[institution] = true
}

// Registered reports whether the institution may fund reservations.
func (r *Registry) Registered(institution [20]byte) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.institutions[institution]
}

// ResolveTrackingKey derives the opaque per-user index key for an
// institution and a hashed user reference. The key is stable and is never
// used for authorization.
func (r *Registry) ResolveTrackingKey(institution [20]byte, digest [32]byte) string {
	return "inst:" + hex.EncodeToString(institution[:]) + ":" + hex.EncodeToString(digest[:])
}
