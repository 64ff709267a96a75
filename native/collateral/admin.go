package collateral

import "stakevault/native/bank"

// Admin operations. Callers are expected to have performed capability checks
// already; the gateway only routes these for the configured administrator.

// AddToken registers a new collateral asset. Symbols are immutable once
// added: re-adding an existing symbol fails even when the token has been
// soft-disabled.
func (e *Engine) AddToken(cfg *TokenConfig) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	sanitized, err := SanitizeToken(cfg)
	if err != nil {
		return err
	}
	existing, err := e.state.GetToken(sanitized.Symbol)
	if err != nil {
		return err
	}
	if existing != nil {
		return ErrTokenExists
	}
	sanitized.IsSupported = true
	if err := e.state.PutToken(sanitized); err != nil {
		return err
	}
	symbols, err := e.state.TokenList()
	if err != nil {
		return err
	}
	if err := e.state.SetTokenList(append(symbols, sanitized.Symbol)); err != nil {
		return err
	}
	e.emit(tokenAddedEvent(sanitized))
	return nil
}

// RemoveToken soft-disables the asset and removes it from the iterated list
// with swap-and-pop, so the list order is not stable. Existing balances remain
// queryable and withdrawable.
func (e *Engine) RemoveToken(symbol string) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	normalized, err := bank.NormalizeToken(symbol)
	if err != nil {
		return err
	}
	cfg, err := e.state.GetToken(normalized)
	if err != nil {
		return err
	}
	if cfg == nil {
		return ErrTokenUnknown
	}
	cfg = cfg.Clone()
	cfg.IsSupported = false
	if err := e.state.PutToken(cfg); err != nil {
		return err
	}
	symbols, err := e.state.TokenList()
	if err != nil {
		return err
	}
	for i, entry := range symbols {
		if entry != cfg.Symbol {
			continue
		}
		symbols[i] = symbols[len(symbols)-1]
		symbols = symbols[:len(symbols)-1]
		break
	}
	if err := e.state.SetTokenList(symbols); err != nil {
		return err
	}
	e.emit(tokenRemovedEvent(cfg))
	return nil
}

// Token returns a copy of the stored token configuration, nil when unknown.
func (e *Engine) Token(symbol string) (*TokenConfig, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	normalized, err := bank.NormalizeToken(symbol)
	if err != nil {
		return nil, err
	}
	cfg, err := e.state.GetToken(normalized)
	if err != nil {
		return nil, err
	}
	return cfg.Clone(), nil
}

// Tokens returns the current iterated token list.
func (e *Engine) Tokens() ([]string, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.TokenList()
}

// UpdateFees replaces the deposit and withdrawal fee rates. Each fee is capped
// at 5%.
func (e *Engine) UpdateFees(depositBps, withdrawBps uint64) error {
	if e == nil {
		return errNilState
	}
	if depositBps > MaxFeeBps || withdrawBps > MaxFeeBps {
		return ErrFeeTooHigh
	}
	e.mu.Lock()
	e.depositFeeBps = depositBps
	e.withdrawFeeBps = withdrawBps
	e.mu.Unlock()
	return nil
}

// UpdateFeeCollector replaces the fee recipient. The zero address is rejected.
func (e *Engine) UpdateFeeCollector(addr [20]byte) error {
	if e == nil {
		return errNilState
	}
	if addr == ([20]byte{}) {
		return ErrInvalidRecipient
	}
	e.mu.Lock()
	e.feeCollector = addr
	e.mu.Unlock()
	return nil
}

// Fees returns the current deposit and withdrawal fee rates.
func (e *Engine) Fees() (depositBps, withdrawBps uint64) {
	if e == nil {
		return 0, 0
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.depositFeeBps, e.withdrawFeeBps
}
