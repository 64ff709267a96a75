package main

import (
	"fmt"

	"stakevault/native/agent"
	"stakevault/native/collateral"
	"stakevault/native/staking"
)

// ledgerDispatcher turns executed agent requests into ledger calls. Routing
// lives here rather than in the router so the request engine stays free of
// financial state.
type ledgerDispatcher struct {
	collateral *collateral.Engine
	staking    *staking.Engine
}

func (d *ledgerDispatcher) Dispatch(req *agent.Request, payload agent.Payload) error {
	switch p := payload.(type) {
	case agent.TransferPayload:
		if req.Type == agent.RequestTypeDeposit {
			return d.collateral.Deposit(req.User, p.Token, p.Amount, nil)
		}
		return d.collateral.Withdraw(req.User, p.Token, p.Amount, nil)
	case agent.BridgeAndStakePayload:
		// Bridge transport is out of scope; the stake leg settles against
		// tokens already credited on this side.
		return d.staking.Stake(req.User, p.Token, p.Amount)
	case agent.RebalancePayload, agent.OptimizePayload, agent.LiquidatePayload:
		// Strategy requests are recorded for the off-process strategy worker;
		// execution here is acknowledgement only.
		return nil
	default:
		return fmt.Errorf("stakevaultd: no dispatch rule for %s", req.Type)
	}
}
