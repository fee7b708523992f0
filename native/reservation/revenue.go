package reservation

import "math/big"

// SplitConfig captures the basis-point allocation applied when a reservation
// is confirmed.
type SplitConfig struct {
	ProviderBps   uint32
	TreasuryBps   uint32
	SubsidyBps    uint32
	GovernanceBps uint32
}

// DefaultSplitConfig returns the canonical 70/15/10/5 allocation.
func DefaultSplitConfig() SplitConfig {
	return SplitConfig{
		ProviderBps:   DefaultProviderShareBps,
		TreasuryBps:   DefaultTreasuryShareBps,
		SubsidyBps:    DefaultSubsidyShareBps,
		GovernanceBps: DefaultGovernanceShareBps,
	}
}

// CancellationFee itemises the fee debited when an active booking is
// cancelled. ProviderFee + TreasuryFee + GovernanceFee + Refund always equals
// the cancelled price.
type CancellationFee struct {
	ProviderFee   *big.Int
	TreasuryFee   *big.Int
	GovernanceFee *big.Int
	Refund        *big.Int
}

// Total returns the full fee excluding the refund.
func (f CancellationFee) Total() *big.Int {
	total := big.NewInt(0)
	for _, share := range []*big.Int{f.ProviderFee, f.TreasuryFee, f.GovernanceFee} {
		if share != nil {
			total.Add(total, share)
		}
	}
	return total
}

func bpsShare(price *big.Int, bps uint32) *big.Int {
	share := new(big.Int).Mul(price, big.NewInt(int64(bps)))
	return share.Div(share, big.NewInt(bpsDenominator))
}

// Split allocates price across provider, treasury, subsidy and governance
// shares. Any integer-division remainder accrues to the treasury so the
// shares always sum exactly to price.
func Split(price *big.Int, cfg SplitConfig) *RevenueSplit {
	amount := cloneBigInt(price)
	if amount.Sign() < 0 {
		amount = big.NewInt(0)
	}
	split := &RevenueSplit{
		Provider:   bpsShare(amount, cfg.ProviderBps),
		Treasury:   bpsShare(amount, cfg.TreasuryBps),
		Subsidy:    bpsShare(amount, cfg.SubsidyBps),
		Governance: bpsShare(amount, cfg.GovernanceBps),
	}
	allocated := split.Total()
	if allocated.Cmp(amount) < 0 {
		split.Treasury.Add(split.Treasury, new(big.Int).Sub(amount, allocated))
	}
	return split
}

// ComputeCancellationFee charges the larger of the basis-point fee and the
// minimum flat fee, capped at price. The flat-fee path splits the minimum
// three ways with any remainder going to governance. The refund is whatever
// remains of price after the fee.
func ComputeCancellationFee(price, minFee *big.Int) CancellationFee {
	amount := cloneBigInt(price)
	if amount.Sign() < 0 {
		amount = big.NewInt(0)
	}
	floor := cloneBigInt(minFee)
	fee := CancellationFee{
		ProviderFee:   bpsShare(amount, DefaultProviderCancelBps),
		TreasuryFee:   bpsShare(amount, DefaultTreasuryCancelBps),
		GovernanceFee: bpsShare(amount, DefaultGovernanceCancelBps),
	}
	if fee.Total().Cmp(floor) < 0 {
		base := floor
		if base.Cmp(amount) > 0 {
			base = amount
		}
		each := new(big.Int).Div(base, big.NewInt(3))
		fee.ProviderFee = new(big.Int).Set(each)
		fee.TreasuryFee = new(big.Int).Set(each)
		fee.GovernanceFee = new(big.Int).Sub(base, new(big.Int).Mul(each, big.NewInt(2)))
	}
	fee.Refund = new(big.Int).Sub(amount, fee.Total())
	return fee
}
