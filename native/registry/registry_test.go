package registry

import (
	"errors"
	"math/big"
	"testing"
)

func addr(b byte) [20]byte {
	var a [20]byte
	a[0] = b
	return a
}

func TestListUnlist(t *testing.T) {
	reg := NewRegistry(big.NewInt(100))
	owner := addr(1)

	if err := reg.List("  ", owner); !errors.Is(err, ErrEmptyLabID) {
		t.Fatalf("blank id: %v", err)
	}
	if err := reg.List("lab-a", owner); err != nil {
		t.Fatalf("list: %v", err)
	}
	if err := reg.List("lab-a", addr(2)); !errors.Is(err, ErrAlreadyListed) {
		t.Fatalf("duplicate list: %v", err)
	}
	if !reg.IsListed("lab-a") {
		t.Fatalf("lab should be listed")
	}
	got, ok := reg.Owner("lab-a")
	if !ok || got != owner {
		t.Fatalf("owner = %x ok=%v", got, ok)
	}

	if err := reg.Unlist("lab-a"); err != nil {
		t.Fatalf("unlist: %v", err)
	}
	if reg.IsListed("lab-a") {
		t.Fatalf("lab should be gone")
	}
	if err := reg.Unlist("lab-a"); !errors.Is(err, ErrNotListed) {
		t.Fatalf("double unlist: %v", err)
	}
}

func TestRequiredStakeScalesWithListings(t *testing.T) {
	reg := NewRegistry(big.NewInt(100))
	owner := addr(1)

	if reg.RequiredStake(owner).Sign() != 0 {
		t.Fatalf("no listings, required = %s", reg.RequiredStake(owner))
	}
	for _, lab := range []string{"lab-a", "lab-b", "lab-c"} {
		if err := reg.List(lab, owner); err != nil {
			t.Fatalf("list %s: %v", lab, err)
		}
	}
	if reg.RequiredStake(owner).Int64() != 300 {
		t.Fatalf("required = %s, want 300", reg.RequiredStake(owner))
	}
	if reg.ListedCount(owner) != 3 {
		t.Fatalf("listed count = %d", reg.ListedCount(owner))
	}
	if err := reg.Unlist("lab-b"); err != nil {
		t.Fatalf("unlist: %v", err)
	}
	if reg.RequiredStake(owner).Int64() != 200 {
		t.Fatalf("required after unlist = %s", reg.RequiredStake(owner))
	}
}

func TestStakeBonding(t *testing.T) {
	reg := NewRegistry(big.NewInt(100))
	owner := addr(1)

	reg.BondStake(owner, big.NewInt(250))
	if reg.CurrentStake(owner).Int64() != 250 {
		t.Fatalf("stake = %s", reg.CurrentStake(owner))
	}
	reg.UnbondStake(owner, big.NewInt(100))
	if reg.CurrentStake(owner).Int64() != 150 {
		t.Fatalf("stake after unbond = %s", reg.CurrentStake(owner))
	}
	// Unbonding past zero clamps.
	reg.UnbondStake(owner, big.NewInt(1_000))
	if reg.CurrentStake(owner).Sign() != 0 {
		t.Fatalf("stake should clamp at zero, got %s", reg.CurrentStake(owner))
	}
	reg.BondStake(owner, nil)
	reg.BondStake(owner, big.NewInt(-5))
	if reg.CurrentStake(owner).Sign() != 0 {
		t.Fatalf("nil/negative bond must be ignored")
	}
}

func TestAuthorizedOwnerAndBackend(t *testing.T) {
	reg := NewRegistry(big.NewInt(100))
	owner := addr(1)
	backend := addr(2)
	stranger := addr(3)

	if err := reg.List("lab-a", owner); err != nil {
		t.Fatalf("list: %v", err)
	}
	if !reg.IsAuthorizedOwner("lab-a", owner) {
		t.Fatalf("owner must be authorized")
	}
	if reg.IsAuthorizedOwner("lab-a", backend) {
		t.Fatalf("backend not yet delegated")
	}
	reg.SetBackend(owner, backend)
	if !reg.IsAuthorizedOwner("lab-a", backend) {
		t.Fatalf("delegated backend must be authorized")
	}
	if reg.IsAuthorizedOwner("lab-a", stranger) {
		t.Fatalf("stranger must not be authorized")
	}
	// Clearing the delegation revokes the backend.
	reg.SetBackend(owner, [20]byte{})
	if reg.IsAuthorizedOwner("lab-a", backend) {
		t.Fatalf("cleared backend must lose authorization")
	}
	if reg.IsAuthorizedOwner("lab-ghost", owner) {
		t.Fatalf("unknown lab authorizes nobody")
	}
}

func TestInstitutions(t *testing.T) {
	reg := NewRegistry(nil)
	inst := addr(10)

	if reg.Registered(inst) {
		t.Fatalf("institution not yet registered")
	}
	reg.RegisterInstitution(inst)
	if !reg.Registered(inst) {
		t.Fatalf("institution should be registered")
	}

	var digest [32]byte
	digest[0] = 0xAB
	key := reg.ResolveTrackingKey(inst, digest)
	if key != reg.ResolveTrackingKey(inst, digest) {
		t.Fatalf("tracking key must be stable")
	}
	var other [32]byte
	other[0] = 0xCD
	if key == reg.ResolveTrackingKey(inst, other) {
		t.Fatalf("distinct digests must yield distinct keys")
	}
}
