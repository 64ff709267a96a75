package collateral

import (
	"fmt"
	"math/big"
	"strings"

	"stakevault/native/bank"
)

// TokenConfig describes one supported collateral asset. The feed identifier
// and decimal scale are immutable once the token is added; support can only be
// soft-disabled so existing balances stay queryable.
type TokenConfig struct {
	// Symbol is the canonical uppercase token symbol used as the ledger key.
	Symbol string
	// PriceFeedID is the opaque identifier passed to the price oracle.
	// Stablecoins may leave it empty because their valuation skips the oracle.
	PriceFeedID string
	// Decimals is the scale of the token's native unit.
	Decimals uint8
	// LiquidationThresholdBps is the health level below which a backing
	// position becomes liquidatable, in basis points.
	LiquidationThresholdBps uint64
	// MaxDepositPerTx bounds a single deposit. The cap is evaluated per call,
	// not cumulatively.
	MaxDepositPerTx *big.Int
	// IsStablecoin switches valuation to the discounted fixed 1:1 USD rate.
	IsStablecoin bool
	// IsSupported soft-deletes the token when false: new deposits and stakes
	// fail while existing balances remain withdrawable.
	IsSupported bool
}

// Clone returns a deep copy of the token configuration.
func (t *TokenConfig) Clone() *TokenConfig {
	if t == nil {
		return nil
	}
	clone := *t
	if t.MaxDepositPerTx != nil {
		clone.MaxDepositPerTx = new(big.Int).Set(t.MaxDepositPerTx)
	}
	return &clone
}

// SanitizeToken validates and canonicalises a token configuration without
// mutating the original.
func SanitizeToken(t *TokenConfig) (*TokenConfig, error) {
	if t == nil {
		return nil, fmt.Errorf("collateral: nil token config")
	}
	clone := t.Clone()
	symbol, err := bank.NormalizeToken(clone.Symbol)
	if err != nil {
		return nil, err
	}
	clone.Symbol = symbol
	clone.PriceFeedID = strings.TrimSpace(clone.PriceFeedID)
	if !clone.IsStablecoin && clone.PriceFeedID == "" {
		return nil, fmt.Errorf("collateral: price feed required for %s", symbol)
	}
	if clone.LiquidationThresholdBps > 10_000 {
		return nil, fmt.Errorf("collateral: liquidation threshold out of range: %d", clone.LiquidationThresholdBps)
	}
	if clone.MaxDepositPerTx == nil || clone.MaxDepositPerTx.Sign() <= 0 {
		return nil, fmt.Errorf("collateral: max deposit per tx must be positive")
	}
	return clone, nil
}

// Position aggregates one user's collateral holdings. TotalValueUSD is a
// derived cache recomputed after every balance mutation; it must never be
// treated as a source of truth across calls.
type Position struct {
	Address [20]byte
	// Balances maps token symbol to amount in native units.
	Balances map[string]*big.Int
	// TotalValueUSD is the 8-decimal fixed-point aggregate as of
	// LastUpdateTime.
	TotalValueUSD  *big.Int
	LastUpdateTime int64
	DepositCount   uint64
	// IsActive flips true on the first deposit and never reverts.
	IsActive bool
}

// Clone returns a deep copy of the position.
func (p *Position) Clone() *Position {
	if p == nil {
		return nil
	}
	clone := &Position{
		Address:        p.Address,
		Balances:       make(map[string]*big.Int, len(p.Balances)),
		LastUpdateTime: p.LastUpdateTime,
		DepositCount:   p.DepositCount,
		IsActive:       p.IsActive,
	}
	for token, amount := range p.Balances {
		if amount != nil {
			clone.Balances[token] = new(big.Int).Set(amount)
		}
	}
	if p.TotalValueUSD != nil {
		clone.TotalValueUSD = new(big.Int).Set(p.TotalValueUSD)
	} else {
		clone.TotalValueUSD = big.NewInt(0)
	}
	return clone
}

// Balance returns the stored amount for the token, zero when absent.
func (p *Position) Balance(token string) *big.Int {
	if p == nil || p.Balances == nil {
		return big.NewInt(0)
	}
	if amount, ok := p.Balances[token]; ok && amount != nil {
		return new(big.Int).Set(amount)
	}
	return big.NewInt(0)
}
