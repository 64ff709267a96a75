package collateral

import (
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"stakevault/core/events"
	"stakevault/native/bank"
	nativecommon "stakevault/native/common"
	"stakevault/oracle"
)

var (
	ErrTokenNotSupported   = errors.New("collateral engine: token not supported")
	ErrInvalidAmount       = errors.New("collateral engine: amount must be positive")
	ErrExceedsMaxDeposit   = errors.New("collateral engine: amount exceeds per-tx deposit cap")
	ErrInsufficientBalance = errors.New("collateral engine: insufficient balance")
	ErrTokenExists         = errors.New("collateral engine: token already added")
	ErrTokenUnknown        = errors.New("collateral engine: token not added")
	ErrFeeTooHigh          = errors.New("collateral engine: fee exceeds cap")
	ErrInvalidRecipient    = errors.New("collateral engine: fee collector required")
	errNilState            = errors.New("collateral engine: state not configured")
	errNilBank             = errors.New("collateral engine: token ledger not configured")
	errNilOracle           = errors.New("collateral engine: price oracle not configured")
)

const moduleName = "collateral"

const (
	basisPoints = 10_000
	// MaxFeeBps caps deposit and withdrawal fees at 5%.
	MaxFeeBps = 500
	// StakeRatioBps is the minimum collateral-to-stake ratio for new stakes.
	StakeRatioBps = 15_000
	// LiquidationRatioBps is the ratio below which a backed position becomes
	// liquidatable.
	LiquidationRatioBps = 13_000
	// stableHaircutNumerator / stableHaircutDenominator apply the intentional
	// 1% haircut to stablecoin valuations.
	stableHaircutNumerator   = 99
	stableHaircutDenominator = 100
)

var bpsBig = big.NewInt(basisPoints)

type engineState interface {
	GetToken(symbol string) (*TokenConfig, error)
	PutToken(cfg *TokenConfig) error
	TokenList() ([]string, error)
	SetTokenList(symbols []string) error
	GetPosition(addr [20]byte) (*Position, error)
	PutPosition(pos *Position) error
}

// Engine owns the collateral ledger: per-user per-token balances, the cached
// USD valuation and the health predicates consumed by the staking ledger.
// Every mutation recomputes the valuation with a full rescan of the supported
// token list; that is a deliberate design for a small bounded token set, not
// an oversight.
type Engine struct {
	mu             sync.Mutex
	state          engineState
	tokens         bank.Transferer
	prices         oracle.Source
	vault          [20]byte
	feeCollector   [20]byte
	depositFeeBps  uint64
	withdrawFeeBps uint64
	maxQuoteAge    time.Duration
	pauses         nativecommon.PauseView
	emitter        events.Emitter
	nowFn          func() int64
}

// NewEngine constructs a collateral engine bound to the module vault address.
func NewEngine(vault, feeCollector [20]byte) *Engine {
	return &Engine{
		vault:        vault,
		feeCollector: feeCollector,
		maxQuoteAge:  oracle.DefaultMaxAge,
		emitter:      events.NoopEmitter{},
		nowFn:        func() int64 { return time.Now().Unix() },
	}
}

// SetState wires the engine to the external persistence layer.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetTokenLedger wires the fungible-token transfer collaborator.
func (e *Engine) SetTokenLedger(ledger bank.Transferer) { e.tokens = ledger }

// SetOracle wires the price source used for non-stablecoin valuation.
func (e *Engine) SetOracle(src oracle.Source) { e.prices = src }

// SetMaxQuoteAge overrides the oracle freshness window.
func (e *Engine) SetMaxQuoteAge(maxAge time.Duration) {
	if e == nil || maxAge <= 0 {
		return
	}
	e.maxQuoteAge = maxAge
}

func (e *Engine) SetPauses(p nativecommon.PauseView) {
	if e == nil {
		return
	}
	e.pauses = p
}

// SetEmitter configures the event emitter. Passing nil resets to a no-op.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetNowFunc overrides the time source, primarily for deterministic tests.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

func (e *Engine) now() int64 { return e.nowFn() }

func (e *Engine) emit(evt events.Event) {
	if e == nil || e.emitter == nil || evt == nil {
		return
	}
	e.emitter.Emit(evt)
}

func (e *Engine) ready() error {
	switch {
	case e == nil || e.state == nil:
		return errNilState
	case e.tokens == nil:
		return errNilBank
	case e.prices == nil:
		return errNilOracle
	}
	return nil
}

func (e *Engine) ensurePosition(addr [20]byte) (*Position, error) {
	pos, err := e.state.GetPosition(addr)
	if err != nil {
		return nil, err
	}
	if pos == nil {
		pos = &Position{Address: addr}
	}
	if pos.Balances == nil {
		pos.Balances = make(map[string]*big.Int)
	}
	if pos.TotalValueUSD == nil {
		pos.TotalValueUSD = big.NewInt(0)
	}
	return pos, nil
}

// Deposit credits collateral to the user's position after deducting the
// proportional deposit fee. The per-transaction cap is enforced on the gross
// amount; valuation is recomputed before any funds move so a stale oracle
// leaves no partial effect.
func (e *Engine) Deposit(user [20]byte, token string, amount *big.Int, priceUpdate [][]byte) error {
	if err := e.ready(); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	symbol, err := bank.NormalizeToken(token)
	if err != nil {
		return err
	}
	cfg, err := e.state.GetToken(symbol)
	if err != nil {
		return err
	}
	if cfg == nil || !cfg.IsSupported {
		return ErrTokenNotSupported
	}
	if cfg.MaxDepositPerTx != nil && amount.Cmp(cfg.MaxDepositPerTx) > 0 {
		return ErrExceedsMaxDeposit
	}

	if err := e.applyPriceUpdate(priceUpdate); err != nil {
		return err
	}

	fee := mulBps(amount, e.depositFeeBps)
	net := new(big.Int).Sub(amount, fee)

	pos, err := e.ensurePosition(user)
	if err != nil {
		return err
	}
	staged := pos.Clone()
	staged.Balances[symbol] = new(big.Int).Add(staged.Balance(symbol), net)
	staged.DepositCount++
	staged.IsActive = true
	staged.LastUpdateTime = e.now()
	value, err := e.recomputeValue(staged)
	if err != nil {
		return err
	}
	staged.TotalValueUSD = value

	if err := e.tokens.Transfer(user, e.vault, symbol, net); err != nil {
		return err
	}
	if fee.Sign() > 0 {
		if err := e.tokens.Transfer(user, e.feeCollector, symbol, fee); err != nil {
			// Unwind the vault credit so the failed fee split has no effect.
			if undoErr := e.tokens.Transfer(e.vault, user, symbol, net); undoErr != nil {
				return fmt.Errorf("collateral engine: fee transfer failed (%v) and unwind failed: %w", err, undoErr)
			}
			return err
		}
	}

	if err := e.state.PutPosition(staged); err != nil {
		// Return the moved funds so a failed persist leaves no partial effect.
		if undoErr := e.unwindTransfers(user, symbol, net, fee, e.vault, e.feeCollector); undoErr != nil {
			return fmt.Errorf("collateral engine: persist failed (%v) and unwind failed: %w", err, undoErr)
		}
		return err
	}
	e.emit(depositedEvent(user, symbol, net, fee, staged.TotalValueUSD))
	return nil
}

// Withdraw releases collateral back to the user, deducting the withdrawal fee
// from the amount leaving the vault. Health against open staking positions is
// deliberately not checked here; that gate belongs to the staking ledger.
func (e *Engine) Withdraw(user [20]byte, token string, amount *big.Int, priceUpdate [][]byte) error {
	if err := e.ready(); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	symbol, err := bank.NormalizeToken(token)
	if err != nil {
		return err
	}
	pos, err := e.ensurePosition(user)
	if err != nil {
		return err
	}
	if pos.Balance(symbol).Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}

	if err := e.applyPriceUpdate(priceUpdate); err != nil {
		return err
	}

	fee := mulBps(amount, e.withdrawFeeBps)
	net := new(big.Int).Sub(amount, fee)

	staged := pos.Clone()
	remaining := new(big.Int).Sub(staged.Balance(symbol), amount)
	if remaining.Sign() == 0 {
		delete(staged.Balances, symbol)
	} else {
		staged.Balances[symbol] = remaining
	}
	staged.LastUpdateTime = e.now()
	value, err := e.recomputeValue(staged)
	if err != nil {
		return err
	}
	staged.TotalValueUSD = value

	if err := e.tokens.Transfer(e.vault, user, symbol, net); err != nil {
		return err
	}
	if fee.Sign() > 0 {
		if err := e.tokens.Transfer(e.vault, e.feeCollector, symbol, fee); err != nil {
			if undoErr := e.tokens.Transfer(user, e.vault, symbol, net); undoErr != nil {
				return fmt.Errorf("collateral engine: fee transfer failed (%v) and unwind failed: %w", err, undoErr)
			}
			return err
		}
	}

	if err := e.state.PutPosition(staged); err != nil {
		if undoErr := e.unwindTransfers(e.vault, symbol, net, fee, user, e.feeCollector); undoErr != nil {
			return fmt.Errorf("collateral engine: persist failed (%v) and unwind failed: %w", err, undoErr)
		}
		return err
	}
	e.emit(withdrawnEvent(user, symbol, net, fee, staged.TotalValueUSD))
	return nil
}

// Valuation returns the cached USD value for the user's position.
func (e *Engine) Valuation(user [20]byte) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	pos, err := e.ensurePosition(user)
	if err != nil {
		return nil, err
	}
	return new(big.Int).Set(pos.TotalValueUSD), nil
}

// Position returns a copy of the stored position for queries.
func (e *Engine) Position(user [20]byte) (*Position, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	pos, err := e.ensurePosition(user)
	if err != nil {
		return nil, err
	}
	return pos.Clone(), nil
}

// CanSupportStake reports whether the collateral valuation covers at least
// 150% of the proposed stake value.
func (e *Engine) CanSupportStake(user [20]byte, stakeValueUSD *big.Int) (bool, error) {
	value, err := e.Valuation(user)
	if err != nil {
		return false, err
	}
	if stakeValueUSD == nil || stakeValueUSD.Sign() <= 0 {
		return true, nil
	}
	lhs := new(big.Int).Mul(value, bpsBig)
	rhs := new(big.Int).Mul(stakeValueUSD, big.NewInt(StakeRatioBps))
	return lhs.Cmp(rhs) >= 0, nil
}

// IsLiquidatable reports whether the collateral valuation has fallen below
// 130% of the staked value. A zero stake is never liquidatable.
func (e *Engine) IsLiquidatable(user [20]byte, stakeValueUSD *big.Int) (bool, error) {
	if stakeValueUSD == nil || stakeValueUSD.Sign() == 0 {
		return false, nil
	}
	value, err := e.Valuation(user)
	if err != nil {
		return false, err
	}
	lhs := new(big.Int).Mul(value, bpsBig)
	rhs := new(big.Int).Mul(stakeValueUSD, big.NewInt(LiquidationRatioBps))
	return lhs.Cmp(rhs) < 0, nil
}

// HealthRatioBps returns valuation*10000/stakeValueUSD. The infinite flag is
// set when the stake value is zero.
func (e *Engine) HealthRatioBps(user [20]byte, stakeValueUSD *big.Int) (ratio *big.Int, infinite bool, err error) {
	value, err := e.Valuation(user)
	if err != nil {
		return nil, false, err
	}
	if stakeValueUSD == nil || stakeValueUSD.Sign() == 0 {
		return nil, true, nil
	}
	ratio = new(big.Int).Mul(value, bpsBig)
	ratio.Quo(ratio, stakeValueUSD)
	return ratio, false, nil
}

// ValueOf prices an arbitrary token amount through the same valuation rules
// the ledger applies to balances. The staking ledger uses it to express stake
// amounts in USD.
func (e *Engine) ValueOf(token string, amount *big.Int) (*big.Int, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	symbol, err := bank.NormalizeToken(token)
	if err != nil {
		return nil, err
	}
	cfg, err := e.state.GetToken(symbol)
	if err != nil {
		return nil, err
	}
	if cfg == nil || !cfg.IsSupported {
		return nil, ErrTokenNotSupported
	}
	return e.tokenValue(cfg, amount)
}

// unwindTransfers reverses the net and fee legs of a deposit or withdrawal,
// returning both amounts to the given account.
func (e *Engine) unwindTransfers(to [20]byte, symbol string, net, fee *big.Int, netFrom, feeFrom [20]byte) error {
	if err := e.tokens.Transfer(netFrom, to, symbol, net); err != nil {
		return err
	}
	if fee.Sign() > 0 {
		if err := e.tokens.Transfer(feeFrom, to, symbol, fee); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) applyPriceUpdate(priceUpdate [][]byte) error {
	if len(priceUpdate) == 0 {
		return nil
	}
	updater, ok := e.prices.(oracle.Updater)
	if !ok {
		return nil
	}
	if err := updater.ApplyUpdate(priceUpdate); err != nil {
		return fmt.Errorf("collateral engine: price update: %w", err)
	}
	return nil
}

func (e *Engine) tokenValue(cfg *TokenConfig, balance *big.Int) (*big.Int, error) {
	if balance == nil || balance.Sign() <= 0 {
		return big.NewInt(0), nil
	}
	if cfg.IsStablecoin {
		// value = balance * 0.99 * 1e8 / 10^decimals
		value := new(big.Int).Mul(balance, big.NewInt(stableHaircutNumerator))
		value.Mul(value, oracleScale)
		den := new(big.Int).Mul(big.NewInt(stableHaircutDenominator), tenPow(int(cfg.Decimals)))
		return value.Quo(value, den), nil
	}
	quote, err := e.prices.GetPrice(cfg.PriceFeedID)
	if err != nil {
		return nil, fmt.Errorf("collateral engine: %s: %w", cfg.Symbol, err)
	}
	if err := quote.Validate(e.now(), e.maxQuoteAge); err != nil {
		return nil, fmt.Errorf("collateral engine: %s: %w", cfg.Symbol, err)
	}
	value, err := oracle.USDValue(quote, balance, cfg.Decimals)
	if err != nil {
		return nil, fmt.Errorf("collateral engine: %s: %w", cfg.Symbol, err)
	}
	return value, nil
}

var oracleScale = new(big.Int).Exp(big.NewInt(10), big.NewInt(oracle.USDDecimals), nil)

func tenPow(n int) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n)), nil)
}

// recomputeValue walks the supported token list and sums the USD value of the
// position's balances. Any stale or invalid quote fails the whole valuation.
func (e *Engine) recomputeValue(pos *Position) (*big.Int, error) {
	symbols, err := e.state.TokenList()
	if err != nil {
		return nil, err
	}
	total := big.NewInt(0)
	for _, symbol := range symbols {
		cfg, err := e.state.GetToken(symbol)
		if err != nil {
			return nil, err
		}
		if cfg == nil || !cfg.IsSupported {
			continue
		}
		balance := pos.Balance(symbol)
		if balance.Sign() == 0 {
			continue
		}
		value, err := e.tokenValue(cfg, balance)
		if err != nil {
			return nil, err
		}
		total.Add(total, value)
	}
	return total, nil
}

func mulBps(amount *big.Int, bps uint64) *big.Int {
	if amount == nil || bps == 0 {
		return big.NewInt(0)
	}
	fee := new(big.Int).Mul(amount, new(big.Int).SetUint64(bps))
	return fee.Quo(fee, bpsBig)
}
