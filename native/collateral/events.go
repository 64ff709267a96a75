package collateral

import (
	"encoding/hex"
	"math/big"
	"strconv"

	"stakevault/core/types"
)

const (
	EventTypeDeposited    = "collateral.deposited"
	EventTypeWithdrawn    = "collateral.withdrawn"
	EventTypeTokenAdded   = "collateral.token_added"
	EventTypeTokenRemoved = "collateral.token_removed"
)

type collateralEvent struct {
	evt *types.Event
}

func (e collateralEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

// Event exposes the broadcastable payload.
func (e collateralEvent) Event() *types.Event { return e.evt }

func formatAmount(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func balanceEvent(eventType string, user [20]byte, token string, net, fee, valueUSD *big.Int) collateralEvent {
	attrs := map[string]string{
		"user":     hex.EncodeToString(user[:]),
		"token":    token,
		"amount":   formatAmount(net),
		"valueUSD": formatAmount(valueUSD),
	}
	if fee != nil && fee.Sign() > 0 {
		attrs["fee"] = fee.String()
	}
	return collateralEvent{evt: &types.Event{Type: eventType, Attributes: attrs}}
}

func depositedEvent(user [20]byte, token string, net, fee, valueUSD *big.Int) collateralEvent {
	return balanceEvent(EventTypeDeposited, user, token, net, fee, valueUSD)
}

func withdrawnEvent(user [20]byte, token string, net, fee, valueUSD *big.Int) collateralEvent {
	return balanceEvent(EventTypeWithdrawn, user, token, net, fee, valueUSD)
}

func tokenAddedEvent(cfg *TokenConfig) collateralEvent {
	attrs := map[string]string{
		"token":    cfg.Symbol,
		"decimals": strconv.FormatUint(uint64(cfg.Decimals), 10),
	}
	if cfg.PriceFeedID != "" {
		attrs["feedId"] = cfg.PriceFeedID
	}
	if cfg.IsStablecoin {
		attrs["stablecoin"] = "true"
	}
	return collateralEvent{evt: &types.Event{Type: EventTypeTokenAdded, Attributes: attrs}}
}

func tokenRemovedEvent(cfg *TokenConfig) collateralEvent {
	return collateralEvent{evt: &types.Event{Type: EventTypeTokenRemoved, Attributes: map[string]string{
		"token": cfg.Symbol,
	}}}
}
