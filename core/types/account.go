package types

import "math/big"

// Account tracks the token balance and staked collateral held by an address.
type Account struct {
	Nonce   uint64
	Balance *big.Int
	Stake   *big.Int
}

// EnsureDefaults replaces nil big.Int fields with zero values so callers can
// operate on the account without nil checks.
func (a *Account) EnsureDefaults() *Account {
	if a == nil {
		return &Account{Balance: big.NewInt(0), Stake: big.NewInt(0)}
	}
	if a.Balance == nil {
		a.Balance = big.NewInt(0)
	}
	if a.Stake == nil {
		a.Stake = big.NewInt(0)
	}
	return a
}

// Clone returns a deep copy of the account.
func (a *Account) Clone() *Account {
	if a == nil {
		return (&Account{}).EnsureDefaults()
	}
	clone := &Account{Nonce: a.Nonce, Balance: big.NewInt(0), Stake: big.NewInt(0)}
	if a.Balance != nil {
		clone.Balance = new(big.Int).Set(a.Balance)
	}
	if a.Stake != nil {
		clone.Stake = new(big.Int).Set(a.Stake)
	}
	return clone
}
