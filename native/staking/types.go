package staking

import "math/big"

// Position tracks one user's stake. Rewards accrue linearly against
// RewardRateBps and are folded into AccumulatedRewards on every settlement;
// between settlements PendingRewards derives the unsettled remainder.
type Position struct {
	Address [20]byte
	// StakingToken is the symbol the stake is denominated in. A position holds
	// a single token; staking a second symbol requires unwinding first.
	StakingToken string
	// StakedAmount is the principal in native token units.
	StakedAmount *big.Int
	// RewardRateBps is the annual reward rate fixed at entry, or replaced on
	// privileged deposits. Always within [100, 2000].
	RewardRateBps uint64
	// LastRewardUpdate is the unix time of the most recent settlement.
	LastRewardUpdate int64
	// AccumulatedRewards holds settled, not-yet-paid rewards in native units.
	AccumulatedRewards *big.Int
	UnstakeRequested   bool
	UnstakeRequestTime int64
}

// Clone returns a deep copy of the position.
func (p *Position) Clone() *Position {
	if p == nil {
		return nil
	}
	clone := *p
	if p.StakedAmount != nil {
		clone.StakedAmount = new(big.Int).Set(p.StakedAmount)
	} else {
		clone.StakedAmount = big.NewInt(0)
	}
	if p.AccumulatedRewards != nil {
		clone.AccumulatedRewards = new(big.Int).Set(p.AccumulatedRewards)
	} else {
		clone.AccumulatedRewards = big.NewInt(0)
	}
	return &clone
}

// Active reports whether the position holds any principal.
func (p *Position) Active() bool {
	return p != nil && p.StakedAmount != nil && p.StakedAmount.Sign() > 0
}

// Info is the aggregate view returned to queries. Values are computed as of
// the call, including rewards accrued since the last settlement.
type Info struct {
	StakingToken       string   `json:"stakingToken"`
	StakedAmount       *big.Int `json:"stakedAmount"`
	PendingRewards     *big.Int `json:"pendingRewards"`
	RewardRateBps      uint64   `json:"rewardRateBps"`
	LiquidBalance      *big.Int `json:"liquidBalance"`
	CollateralValueUSD *big.Int `json:"collateralValueUSD"`
	Healthy            bool     `json:"healthy"`
	UnstakeRequested   bool     `json:"unstakeRequested"`
	UnstakeReady       bool     `json:"unstakeReady"`
}
