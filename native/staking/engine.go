package staking

import (
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"stakevault/core/events"
	"stakevault/native/bank"
	"stakevault/native/collateral"
	nativecommon "stakevault/native/common"
)

var (
	ErrTokenNotSupported      = errors.New("staking engine: token not stakeable")
	ErrTokenMismatch          = errors.New("staking engine: position staked in different token")
	ErrInvalidAmount          = errors.New("staking engine: amount must be positive")
	ErrInsufficientStake      = errors.New("staking engine: staked amount too low")
	ErrInsufficientCollateral = errors.New("staking engine: collateral below required ratio")
	ErrUnstakeNotRequested    = errors.New("staking engine: no pending unstake request")
	ErrUnstakeDelayNotMet     = errors.New("staking engine: unstake cooldown not elapsed")
	ErrInvalidRewardRate      = errors.New("staking engine: reward rate out of range")
	ErrRewardFeeTooHigh       = errors.New("staking engine: reward fee exceeds cap")
	ErrInvalidRecipient       = errors.New("staking engine: treasury address required")
	errNilState               = errors.New("staking engine: state not configured")
	errNilBank                = errors.New("staking engine: token ledger not configured")
	errNilCollateral          = errors.New("staking engine: collateral view not configured")
)

const moduleName = "staking"

const (
	basisPoints    = 10_000
	secondsPerYear = 31_536_000
	// UnstakeDelaySeconds is the mandatory cooldown between requesting and
	// executing an unstake.
	UnstakeDelaySeconds = 7 * 86_400
	// MinRewardRateBps / MaxRewardRateBps bound every stored reward rate.
	MinRewardRateBps = 100
	MaxRewardRateBps = 2_000
	// DefaultRewardRateBps is applied to positions opened without a
	// privileged custom rate.
	DefaultRewardRateBps = 500
	// MaxRewardFeeBps caps the protocol cut of paid-out rewards at 10%.
	MaxRewardFeeBps = 1_000
	// DefaultRewardFeeBps is the initial protocol cut, 1%.
	DefaultRewardFeeBps = 100
)

var bpsBig = big.NewInt(basisPoints)

type engineState interface {
	GetPosition(addr [20]byte) (*Position, error)
	PutPosition(pos *Position) error
}

// TokenLedger is the fungible-token collaborator. Stake principal moves
// through Transfer; reward issuance is minted into the vault at payout and
// burned again when a later leg of the payout fails.
type TokenLedger interface {
	bank.Transferer
	BalanceOf(addr [20]byte, token string) (*big.Int, error)
	Mint(to [20]byte, token string, amount *big.Int) error
	Burn(from [20]byte, token string, amount *big.Int) error
}

// CollateralView is the read-only slice of the collateral ledger the staking
// engine consults: stake admission, liquidation health and USD pricing.
type CollateralView interface {
	Valuation(user [20]byte) (*big.Int, error)
	CanSupportStake(user [20]byte, stakeValueUSD *big.Int) (bool, error)
	IsLiquidatable(user [20]byte, stakeValueUSD *big.Int) (bool, error)
	ValueOf(token string, amount *big.Int) (*big.Int, error)
}

// Engine owns staking positions: principal, linear reward accrual and the
// unstake cooldown. It never mutates collateral state; admission is a
// read-only consult of the collateral view.
type Engine struct {
	mu                sync.Mutex
	state             engineState
	tokens            TokenLedger
	backing           CollateralView
	vault             [20]byte
	treasury          [20]byte
	baseRewardRateBps uint64
	rewardFeeBps      uint64
	pauses            nativecommon.PauseView
	emitter           events.Emitter
	nowFn             func() int64
}

// NewEngine constructs a staking engine bound to the stake vault and protocol
// treasury addresses.
func NewEngine(vault, treasury [20]byte) *Engine {
	return &Engine{
		vault:             vault,
		treasury:          treasury,
		baseRewardRateBps: DefaultRewardRateBps,
		rewardFeeBps:      DefaultRewardFeeBps,
		emitter:           events.NoopEmitter{},
		nowFn:             func() int64 { return time.Now().Unix() },
	}
}

// SetState wires the engine to the external persistence layer.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetTokenLedger wires the fungible-token collaborator.
func (e *Engine) SetTokenLedger(ledger TokenLedger) { e.tokens = ledger }

// SetCollateral wires the collateral view used for admission and health.
func (e *Engine) SetCollateral(view CollateralView) { e.backing = view }

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

// SetBaseRewardRate replaces the rate applied to newly opened positions.
// Rates of zero or above 20% are rejected.
func (e *Engine) SetBaseRewardRate(bps uint64) error {
	if e == nil {
		return errNilState
	}
	if bps == 0 || bps > MaxRewardRateBps {
		return ErrInvalidRewardRate
	}
	e.mu.Lock()
	e.baseRewardRateBps = bps
	e.mu.Unlock()
	return nil
}

// SetRewardFee replaces the protocol cut of paid-out rewards, capped at 10%.
func (e *Engine) SetRewardFee(bps uint64) error {
	if e == nil {
		return errNilState
	}
	if bps > MaxRewardFeeBps {
		return ErrRewardFeeTooHigh
	}
	e.mu.Lock()
	e.rewardFeeBps = bps
	e.mu.Unlock()
	return nil
}

// SetTreasury replaces the reward-fee recipient. The zero address is rejected.
func (e *Engine) SetTreasury(addr [20]byte) error {
	if e == nil {
		return errNilState
	}
	if addr == ([20]byte{}) {
		return ErrInvalidRecipient
	}
	e.mu.Lock()
	e.treasury = addr
	e.mu.Unlock()
	return nil
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
	case e.backing == nil:
		return errNilCollateral
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
	if pos.StakedAmount == nil {
		pos.StakedAmount = big.NewInt(0)
	}
	if pos.AccumulatedRewards == nil {
		pos.AccumulatedRewards = big.NewInt(0)
	}
	return pos, nil
}

// clampRate forces a requested rate into the [100, 2000] bps corridor rather
// than rejecting it; privileged callers ask for a rate, they always get a
// legal one.
func clampRate(bps uint64) uint64 {
	if bps < MinRewardRateBps {
		return MinRewardRateBps
	}
	if bps > MaxRewardRateBps {
		return MaxRewardRateBps
	}
	return bps
}

// accrued computes the linear reward earned between last and now:
// staked * rateBps * elapsed / (10000 * secondsPerYear).
func accrued(staked *big.Int, rateBps uint64, last, now int64) *big.Int {
	if staked == nil || staked.Sign() <= 0 || rateBps == 0 || now <= last {
		return big.NewInt(0)
	}
	reward := new(big.Int).Mul(staked, new(big.Int).SetUint64(rateBps))
	reward.Mul(reward, big.NewInt(now-last))
	den := new(big.Int).Mul(bpsBig, big.NewInt(secondsPerYear))
	return reward.Quo(reward, den)
}

// settleRewards folds accrual since the last settlement into
// AccumulatedRewards and resets the clock. Inactive positions only advance
// the clock.
func (e *Engine) settleRewards(pos *Position, now int64) {
	reward := accrued(pos.StakedAmount, pos.RewardRateBps, pos.LastRewardUpdate, now)
	if reward.Sign() > 0 {
		pos.AccumulatedRewards = new(big.Int).Add(pos.AccumulatedRewards, reward)
	}
	pos.LastRewardUpdate = now
}

// Stake adds principal to the user's position at the current base reward
// rate. Admission requires the collateral ledger to cover 150% of the USD
// value of the staked amount.
func (e *Engine) Stake(user [20]byte, token string, amount *big.Int) error {
	return e.stake(user, token, amount, 0, false)
}

// StakeWithRate is the privileged entry used by the request router: the
// supplied rate replaces the position's reward rate, clamped to [100, 2000]
// bps.
func (e *Engine) StakeWithRate(user [20]byte, token string, amount *big.Int, rateBps uint64) error {
	return e.stake(user, token, amount, rateBps, true)
}

func (e *Engine) stake(user [20]byte, token string, amount *big.Int, rateBps uint64, customRate bool) error {
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
	if pos.Active() && pos.StakingToken != symbol {
		return ErrTokenMismatch
	}

	stakeValue, err := e.backing.ValueOf(symbol, amount)
	if err != nil {
		if errors.Is(err, collateral.ErrTokenNotSupported) {
			return ErrTokenNotSupported
		}
		return fmt.Errorf("staking engine: price stake: %w", err)
	}
	ok, err := e.backing.CanSupportStake(user, stakeValue)
	if err != nil {
		return err
	}
	if !ok {
		return ErrInsufficientCollateral
	}

	now := e.now()
	staged := pos.Clone()
	e.settleRewards(staged, now)
	staged.StakingToken = symbol
	staged.StakedAmount = new(big.Int).Add(staged.StakedAmount, amount)
	switch {
	case customRate:
		staged.RewardRateBps = clampRate(rateBps)
	case !pos.Active():
		// Fresh positions and re-stakes after a full unstake pick up the
		// current base rate; an active position keeps the rate it opened with.
		staged.RewardRateBps = clampRate(e.baseRewardRateBps)
	}

	if err := e.tokens.Transfer(user, e.vault, symbol, amount); err != nil {
		return err
	}
	if err := e.state.PutPosition(staged); err != nil {
		if undoErr := e.tokens.Transfer(e.vault, user, symbol, amount); undoErr != nil {
			return fmt.Errorf("staking engine: persist failed (%v) and unwind failed: %w", err, undoErr)
		}
		return err
	}
	e.emit(stakedEvent(user, symbol, amount, staged.RewardRateBps, stakeValue))
	return nil
}

// RequestUnstake starts the cooldown for the given amount. A later request
// supersedes an earlier one: the clock restarts and there is no queue.
func (e *Engine) RequestUnstake(user [20]byte, amount *big.Int) error {
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
	pos, err := e.ensurePosition(user)
	if err != nil {
		return err
	}
	if !pos.Active() || pos.StakedAmount.Cmp(amount) < 0 {
		return ErrInsufficientStake
	}

	now := e.now()
	staged := pos.Clone()
	e.settleRewards(staged, now)
	staged.UnstakeRequested = true
	staged.UnstakeRequestTime = now

	if err := e.state.PutPosition(staged); err != nil {
		return err
	}
	e.emit(unstakeRequestedEvent(user, staged.StakingToken, amount, now+UnstakeDelaySeconds))
	return nil
}

// ExecuteUnstake pays out principal plus accumulated rewards once the
// cooldown has elapsed. The protocol fee is carved out of the reward portion
// only; principal is never touched.
func (e *Engine) ExecuteUnstake(user [20]byte, amount *big.Int) error {
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
	pos, err := e.ensurePosition(user)
	if err != nil {
		return err
	}
	if !pos.UnstakeRequested {
		return ErrUnstakeNotRequested
	}
	now := e.now()
	if now-pos.UnstakeRequestTime < UnstakeDelaySeconds {
		return ErrUnstakeDelayNotMet
	}
	if pos.StakedAmount.Cmp(amount) < 0 {
		return ErrInsufficientStake
	}

	staged := pos.Clone()
	e.settleRewards(staged, now)
	rewards := new(big.Int).Set(staged.AccumulatedRewards)
	fee := new(big.Int).Mul(rewards, new(big.Int).SetUint64(e.rewardFeeBps))
	fee.Quo(fee, bpsBig)
	netRewards := new(big.Int).Sub(rewards, fee)

	payout := new(big.Int).Add(amount, netRewards)
	staged.StakedAmount = new(big.Int).Sub(staged.StakedAmount, amount)
	staged.AccumulatedRewards = big.NewInt(0)
	staged.UnstakeRequested = false
	staged.UnstakeRequestTime = 0

	symbol := staged.StakingToken
	var undo []func() error
	unwind := func(cause error) error {
		for i := len(undo) - 1; i >= 0; i-- {
			if undoErr := undo[i](); undoErr != nil {
				return fmt.Errorf("staking engine: unstake failed (%v) and unwind failed: %w", cause, undoErr)
			}
		}
		return cause
	}

	// The vault only ever holds principal; the reward issuance is minted here
	// so the payout leg is always funded.
	if rewards.Sign() > 0 {
		if err := e.tokens.Mint(e.vault, symbol, rewards); err != nil {
			return err
		}
		undo = append(undo, func() error { return e.tokens.Burn(e.vault, symbol, rewards) })
	}
	if err := e.tokens.Transfer(e.vault, user, symbol, payout); err != nil {
		return unwind(err)
	}
	undo = append(undo, func() error { return e.tokens.Transfer(user, e.vault, symbol, payout) })
	if fee.Sign() > 0 {
		if err := e.tokens.Transfer(e.vault, e.treasury, symbol, fee); err != nil {
			return unwind(err)
		}
		undo = append(undo, func() error { return e.tokens.Transfer(e.treasury, e.vault, symbol, fee) })
	}

	if err := e.state.PutPosition(staged); err != nil {
		return unwind(err)
	}
	e.emit(unstakedEvent(user, symbol, amount, netRewards, fee))
	return nil
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

// PendingRewards returns settled rewards plus accrual up to now without
// mutating the position.
func (e *Engine) PendingRewards(user [20]byte) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	pos, err := e.ensurePosition(user)
	if err != nil {
		return nil, err
	}
	pending := new(big.Int).Set(pos.AccumulatedRewards)
	pending.Add(pending, accrued(pos.StakedAmount, pos.RewardRateBps, pos.LastRewardUpdate, e.now()))
	return pending, nil
}

// Info aggregates the user's staking view: stake, live rewards, liquid
// balance, collateral valuation and health.
func (e *Engine) Info(user [20]byte) (*Info, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	pos, err := e.ensurePosition(user)
	if err != nil {
		return nil, err
	}
	now := e.now()
	pending := new(big.Int).Set(pos.AccumulatedRewards)
	pending.Add(pending, accrued(pos.StakedAmount, pos.RewardRateBps, pos.LastRewardUpdate, now))

	info := &Info{
		StakingToken:     pos.StakingToken,
		StakedAmount:     new(big.Int).Set(pos.StakedAmount),
		PendingRewards:   pending,
		RewardRateBps:    pos.RewardRateBps,
		LiquidBalance:    big.NewInt(0),
		Healthy:          true,
		UnstakeRequested: pos.UnstakeRequested,
		UnstakeReady:     pos.UnstakeRequested && now-pos.UnstakeRequestTime >= UnstakeDelaySeconds,
	}
	if pos.StakingToken != "" {
		balance, err := e.tokens.BalanceOf(user, pos.StakingToken)
		if err != nil {
			return nil, err
		}
		info.LiquidBalance = balance
	}
	valuation, err := e.backing.Valuation(user)
	if err != nil {
		return nil, err
	}
	info.CollateralValueUSD = valuation
	if pos.Active() {
		stakeValue, err := e.backing.ValueOf(pos.StakingToken, pos.StakedAmount)
		if err != nil {
			return nil, fmt.Errorf("staking engine: price stake: %w", err)
		}
		liquidatable, err := e.backing.IsLiquidatable(user, stakeValue)
		if err != nil {
			return nil, err
		}
		info.Healthy = !liquidatable
	}
	return info, nil
}
