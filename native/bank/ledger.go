package bank

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
)

var (
	ErrInsufficientBalance = errors.New("bank: insufficient balance")
	errNilState            = errors.New("bank: state not configured")
	errInvalidAmount       = errors.New("bank: amount must be non-negative")
)

// NormalizeToken canonicalises a token symbol. Symbols are uppercase,
// whitespace-trimmed and at most 16 characters.
func NormalizeToken(symbol string) (string, error) {
	trimmed := strings.ToUpper(strings.TrimSpace(symbol))
	if trimmed == "" {
		return "", fmt.Errorf("bank: token symbol required")
	}
	if len(trimmed) > 16 {
		return "", fmt.Errorf("bank: token symbol too long: %s", symbol)
	}
	return trimmed, nil
}

// Transferer moves fungible token balances between accounts. Implementations
// must be all-or-nothing: a failed transfer leaves both balances untouched.
type Transferer interface {
	Transfer(from, to [20]byte, token string, amount *big.Int) error
}

type accountState interface {
	TokenBalance(addr [20]byte, token string) (*big.Int, error)
	SetTokenBalance(addr [20]byte, token string, amount *big.Int) error
}

// Ledger implements safe fungible-token accounting over a key-value state.
// It is the ledger-side stand-in for the external token contract: balances
// never go negative and transfers either fully apply or fail.
type Ledger struct {
	state accountState
}

// NewLedger constructs a ledger over the supplied account state.
func NewLedger(state accountState) *Ledger {
	return &Ledger{state: state}
}

// BalanceOf returns the current balance for the account, zero when unset.
func (l *Ledger) BalanceOf(addr [20]byte, token string) (*big.Int, error) {
	if l == nil || l.state == nil {
		return nil, errNilState
	}
	normalized, err := NormalizeToken(token)
	if err != nil {
		return nil, err
	}
	balance, err := l.state.TokenBalance(addr, normalized)
	if err != nil {
		return nil, err
	}
	if balance == nil {
		return big.NewInt(0), nil
	}
	return new(big.Int).Set(balance), nil
}

// Mint credits freshly issued tokens to the account. Used by genesis funding
// and tests; production inflows arrive through Transfer from a bridge vault.
func (l *Ledger) Mint(to [20]byte, token string, amount *big.Int) error {
	if l == nil || l.state == nil {
		return errNilState
	}
	if amount == nil || amount.Sign() < 0 {
		return errInvalidAmount
	}
	normalized, err := NormalizeToken(token)
	if err != nil {
		return err
	}
	balance, err := l.BalanceOf(to, normalized)
	if err != nil {
		return err
	}
	return l.state.SetTokenBalance(to, normalized, balance.Add(balance, amount))
}

// Burn removes tokens from the account. The reward issuer uses it to unwind
// a failed payout; burning more than the balance fails without touching state.
func (l *Ledger) Burn(from [20]byte, token string, amount *big.Int) error {
	if l == nil || l.state == nil {
		return errNilState
	}
	if amount == nil || amount.Sign() < 0 {
		return errInvalidAmount
	}
	normalized, err := NormalizeToken(token)
	if err != nil {
		return err
	}
	balance, err := l.BalanceOf(from, normalized)
	if err != nil {
		return err
	}
	if balance.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	return l.state.SetTokenBalance(from, normalized, balance.Sub(balance, amount))
}

// Transfer moves amount from one account to the other. A zero amount is a
// no-op; a negative amount or insufficient source balance fails without
// touching state.
func (l *Ledger) Transfer(from, to [20]byte, token string, amount *big.Int) error {
	if l == nil || l.state == nil {
		return errNilState
	}
	if amount == nil || amount.Sign() < 0 {
		return errInvalidAmount
	}
	if amount.Sign() == 0 {
		return nil
	}
	normalized, err := NormalizeToken(token)
	if err != nil {
		return err
	}
	fromBal, err := l.BalanceOf(from, normalized)
	if err != nil {
		return err
	}
	if fromBal.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	toBal, err := l.BalanceOf(to, normalized)
	if err != nil {
		return err
	}
	if err := l.state.SetTokenBalance(from, normalized, new(big.Int).Sub(fromBal, amount)); err != nil {
		return err
	}
	if err := l.state.SetTokenBalance(to, normalized, new(big.Int).Add(toBal, amount)); err != nil {
		// Restore the debit so a failed credit cannot burn funds.
		if restoreErr := l.state.SetTokenBalance(from, normalized, fromBal); restoreErr != nil {
			return fmt.Errorf("bank: credit failed (%v) and debit restore failed: %w", err, restoreErr)
		}
		return err
	}
	return nil
}
