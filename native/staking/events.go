package staking

import (
	"encoding/hex"
	"math/big"
	"strconv"

	"stakevault/core/types"
)

const (
	EventTypeStaked           = "staking.staked"
	EventTypeUnstakeRequested = "staking.unstake_requested"
	EventTypeUnstaked         = "staking.unstaked"
)

type stakingEvent struct {
	evt *types.Event
}

func (e stakingEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

// Event exposes the broadcastable payload.
func (e stakingEvent) Event() *types.Event { return e.evt }

func formatAmount(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func stakedEvent(user [20]byte, token string, amount *big.Int, rateBps uint64, valueUSD *big.Int) stakingEvent {
	return stakingEvent{evt: &types.Event{Type: EventTypeStaked, Attributes: map[string]string{
		"user":     hex.EncodeToString(user[:]),
		"token":    token,
		"amount":   formatAmount(amount),
		"rateBps":  strconv.FormatUint(rateBps, 10),
		"valueUSD": formatAmount(valueUSD),
	}}}
}

func unstakeRequestedEvent(user [20]byte, token string, amount *big.Int, readyAt int64) stakingEvent {
	return stakingEvent{evt: &types.Event{Type: EventTypeUnstakeRequested, Attributes: map[string]string{
		"user":    hex.EncodeToString(user[:]),
		"token":   token,
		"amount":  formatAmount(amount),
		"readyAt": strconv.FormatInt(readyAt, 10),
	}}}
}

func unstakedEvent(user [20]byte, token string, amount, rewards, fee *big.Int) stakingEvent {
	attrs := map[string]string{
		"user":    hex.EncodeToString(user[:]),
		"token":   token,
		"amount":  formatAmount(amount),
		"rewards": formatAmount(rewards),
	}
	if fee != nil && fee.Sign() > 0 {
		attrs["fee"] = fee.String()
	}
	return stakingEvent{evt: &types.Event{Type: EventTypeUnstaked, Attributes: attrs}}
}
