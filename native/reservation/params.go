package reservation

import "math/big"

// Basis-point denominators and default share allocation applied when a
// reservation is confirmed. Remainder from integer division accrues to the
// treasury so the four shares always sum exactly to the price.
const (
	bpsDenominator = 10_000

	DefaultProviderShareBps   = 7_000
	DefaultTreasuryShareBps   = 1_500
	DefaultSubsidyShareBps    = 1_000
	DefaultGovernanceShareBps = 500

	DefaultProviderCancelBps   = 300
	DefaultTreasuryCancelBps   = 500
	DefaultGovernanceCancelBps = 200
)

// Params bundles the tunable limits enforced by the lifecycle engine.
type Params struct {
	// MinStartLead is the minimum number of seconds a booking start must sit
	// in the future at request time.
	MinStartLead int64
	// PendingTTL is the acceptance window for a pending request, in seconds.
	// Pending requests older than this are cancelled instead of confirmed.
	PendingTTL int64
	// MaxActivePerUser caps CONFIRMED/IN_USE reservations per (lab, user).
	MaxActivePerUser int
	// MaxReleaseBatch is the ceiling on the maxBatch argument to ReleaseExpired.
	MaxReleaseBatch int
	// RingCapacity bounds the past/upcoming recent-activity logs per lab.
	RingCapacity int
	// MinCancellationFee is the flat fee floor charged when the basis-point
	// fee would fall below it. Capped at the reservation price.
	MinCancellationFee *big.Int
	// PerLabStake is the collateral a provider must bond per listed lab.
	PerLabStake *big.Int
}

// DefaultParams returns the canonical engine limits. The pending TTL is one
// hour for both wallet and institutional flows.
func DefaultParams() Params {
	return Params{
		MinStartLead:       300,
		PendingTTL:         3_600,
		MaxActivePerUser:   10,
		MaxReleaseBatch:    50,
		RingCapacity:       16,
		MinCancellationFee: big.NewInt(300),
		PerLabStake:        big.NewInt(1_000_000),
	}
}

// Clone returns a deep copy of the params structure.
func (p Params) Clone() Params {
	clone := p
	if p.MinCancellationFee != nil {
		clone.MinCancellationFee = new(big.Int).Set(p.MinCancellationFee)
	}
	if p.PerLabStake != nil {
		clone.PerLabStake = new(big.Int).Set(p.PerLabStake)
	}
	return clone
}
