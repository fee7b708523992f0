// Package ledger provides the in-process fungible-token ledger backing
// reservation payments: wallet balances, the engine vault, and per-
// institution treasury budgets keyed to hashed user references.
package ledger

import (
	"errors"
	"fmt"
	"math/big"
	"sync"

	"labgrid/core/types"
)

var (
	// ErrInsufficientBalance indicates the sender cannot cover the transfer.
	ErrInsufficientBalance = errors.New("ledger: insufficient balance")
	// ErrBudgetExhausted indicates the institution treasury cannot cover the
	// spend.
	ErrBudgetExhausted = errors.New("ledger: treasury budget exhausted")
	// ErrUnknownInstitution indicates no treasury budget exists for the
	// institution.
	ErrUnknownInstitution = errors.New("ledger: unknown institution")
)

// Ledger is a mutex-guarded account book. Amounts are *big.Int in the
// token's smallest unit and are always cloned at the boundary.
type Ledger struct {
	mu        sync.Mutex
	accounts  map[[20]byte]*types.Account
	treasury  map[[20]byte]*big.Int
	userSpend map[[20]byte]map[[32]byte]*big.Int
}

// NewLedger returns an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{
		accounts:  make(map[[20]byte]*types.Account),
		treasury:  make(map[[20]byte]*big.Int),
		userSpend: make(map[[20]byte]map[[32]byte]*big.Int),
	}
}

func (l *Ledger) account(addr [20]byte) *types.Account {
	acc, ok := l.accounts[addr]
	if !ok {
		acc = (&types.Account{}).EnsureDefaults()
		l.accounts[addr] = acc
	}
	return acc.EnsureDefaults()
}

// Mint credits freshly issued tokens to an address. Test and genesis helper.
func (l *Ledger) Mint(addr [20]byte, amount *big.Int) {
	if amount == nil || amount.Sign() <= 0 {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	acc := l.account(addr)
	acc.Balance = new(big.Int).Add(acc.Balance, amount)
}

// Balance returns a copy of the address balance.
func (l *Ledger) Balance(addr [20]byte) *big.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return new(big.Int).Set(l.account(addr).Balance)
}

// Transfer moves amount between accounts, failing without effect when the
// sender balance is insufficient. A zero amount is a no-op.
func (l *Ledger) Transfer(from, to [20]byte, amount *big.Int) error {
	if amount == nil || amount.Sign() == 0 {
		return nil
	}
	if amount.Sign() < 0 {
		return fmt.Errorf("ledger: negative transfer amount")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	fromAcc := l.account(from)
	if fromAcc.Balance.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	toAcc := l.account(to)
	fromAcc.Balance = new(big.Int).Sub(fromAcc.Balance, amount)
	toAcc.Balance = new(big.Int).Add(toAcc.Balance, amount)
	return nil
}

// FundTreasury tops up an institution's spending budget.
func (l *Ledger) FundTreasury(institution [20]byte, amount *big.Int) {
	if amount == nil || amount.Sign() <= 0 {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	budget, ok := l.treasury[institution]
	if !ok {
		budget = big.NewInt(0)
	}
	l.treasury[institution] = new(big.Int).Add(budget, amount)
}

// TreasuryBalance returns a copy of the institution's remaining budget.
func (l *Ledger) TreasuryBalance(institution [20]byte) *big.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	budget, ok := l.treasury[institution]
	if !ok {
		return big.NewInt(0)
	}
	return new(big.Int).Set(budget)
}

// SpendFromTreasury debits the institution budget for a hashed user
// reference, failing without effect when the budget cannot cover the amount.
func (l *Ledger) SpendFromTreasury(institution [20]byte, userRefHash [32]byte, amount *big.Int) error {
	if amount == nil || amount.Sign() == 0 {
		return nil
	}
	if amount.Sign() < 0 {
		return fmt.Errorf("ledger: negative treasury spend")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	budget, ok := l.treasury[institution]
	if !ok {
		return ErrUnknownInstitution
	}
	if budget.Cmp(amount) < 0 {
		return ErrBudgetExhausted
	}
	l.treasury[institution] = new(big.Int).Sub(budget, amount)
	spends, ok := l.userSpend[institution]
	if !ok {
		spends = make(map[[32]byte]*big.Int)
		l.userSpend[institution] = spends
	}
	spent, ok := spends[userRefHash]
	if !ok {
		spent = big.NewInt(0)
	}
	spends[userRefHash] = new(big.Int).Add(spent, amount)
	return nil
}

// CreditTreasury returns funds to the institution budget, unwinding the
// per-user spend bookkeeping where possible.
func (l *Ledger) CreditTreasury(institution [20]byte, userRefHash [32]byte, amount *big.Int) error {
	if amount == nil || amount.Sign() == 0 {
		return nil
	}
	if amount.Sign() < 0 {
		return fmt.Errorf("ledger: negative treasury credit")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	budget, ok := l.treasury[institution]
	if !ok {
		return ErrUnknownInstitution
	}
	l.treasury[institution] = new(big.Int).Add(budget, amount)
	if spends, ok := l.userSpend[institution]; ok {
		if spent, ok := spends[userRefHash]; ok {
			refund := new(big.Int).Set(amount)
			if refund.Cmp(spent) > 0 {
				refund = new(big.Int).Set(spent)
			}
			spends[userRefHash] = new(big.Int).Sub(spent, refund)
		}
	}
	return nil
}

// UserSpend returns the cumulative treasury spend recorded for a hashed user
// reference.
func (l *Ledger) UserSpend(institution [20]byte, userRefHash [32]byte) *big.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if spends, ok := l.userSpend[institution]; ok {
		if spent, ok := spends[userRefHash]; ok {
			return new(big.Int).Set(spent)
		}
	}
	return big.NewInt(0)
}
