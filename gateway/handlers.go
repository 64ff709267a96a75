package gateway

import (
	"encoding/json"
	"math/big"
	"net/http"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/go-chi/chi/v5"

	"stakevault/native/agent"
	"stakevault/native/collateral"
)

type balanceRequest struct {
	User         string   `json:"user"`
	Token        string   `json:"token"`
	Amount       string   `json:"amount"`
	PriceUpdates []string `json:"priceUpdates,omitempty"`
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	var req balanceRequest
	if !decodeBody(w, r, &req) {
		return
	}
	user, err := parseAddress(req.User)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "user: "+err.Error())
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "amount: "+err.Error())
		return
	}
	updates, err := parsePriceUpdates(req.PriceUpdates)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if err := s.collateral.Deposit(user, req.Token, amount, updates); err != nil {
		s.fail(w, r, "collateral.deposit", err)
		return
	}
	s.metrics.ObserveDeposit(req.Token)
	s.writePosition(w, r, user, http.StatusOK)
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	var req balanceRequest
	if !decodeBody(w, r, &req) {
		return
	}
	user, err := parseAddress(req.User)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "user: "+err.Error())
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "amount: "+err.Error())
		return
	}
	updates, err := parsePriceUpdates(req.PriceUpdates)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if err := s.collateral.Withdraw(user, req.Token, amount, updates); err != nil {
		s.fail(w, r, "collateral.withdraw", err)
		return
	}
	s.metrics.ObserveWithdrawal(req.Token)
	s.writePosition(w, r, user, http.StatusOK)
}

type positionResponse struct {
	Address        string            `json:"address"`
	Balances       map[string]string `json:"balances"`
	TotalValueUSD  string            `json:"totalValueUSD"`
	LastUpdateTime int64             `json:"lastUpdateTime"`
	DepositCount   uint64            `json:"depositCount"`
	IsActive       bool              `json:"isActive"`
}

func (s *Server) writePosition(w http.ResponseWriter, r *http.Request, user [20]byte, status int) {
	pos, err := s.collateral.Position(user)
	if err != nil {
		s.fail(w, r, "collateral.position", err)
		return
	}
	resp := positionResponse{
		Address:        hexutil.Encode(pos.Address[:]),
		Balances:       make(map[string]string, len(pos.Balances)),
		TotalValueUSD:  pos.TotalValueUSD.String(),
		LastUpdateTime: pos.LastUpdateTime,
		DepositCount:   pos.DepositCount,
		IsActive:       pos.IsActive,
	}
	for token, amount := range pos.Balances {
		resp.Balances[token] = amount.String()
	}
	s.metrics.SetValuation(resp.Address, float64FromUSD(pos.TotalValueUSD))
	writeJSON(w, status, resp)
}

// float64FromUSD converts an 8-decimal fixed-point value for gauge export.
// Precision loss is fine here; metrics are not a ledger.
func float64FromUSD(value *big.Int) float64 {
	if value == nil {
		return 0
	}
	f, _ := new(big.Float).Quo(new(big.Float).SetInt(value), big.NewFloat(1e8)).Float64()
	return f
}

func (s *Server) handleCollateralPosition(w http.ResponseWriter, r *http.Request) {
	user, err := parseAddress(chi.URLParam(r, "address"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "address: "+err.Error())
		return
	}
	s.writePosition(w, r, user, http.StatusOK)
}

type tokenResponse struct {
	Symbol                  string `json:"symbol"`
	PriceFeedID             string `json:"priceFeedId,omitempty"`
	Decimals                uint8  `json:"decimals"`
	LiquidationThresholdBps uint64 `json:"liquidationThresholdBps"`
	MaxDepositPerTx         string `json:"maxDepositPerTx"`
	IsStablecoin            bool   `json:"isStablecoin"`
	IsSupported             bool   `json:"isSupported"`
}

func (s *Server) handleListTokens(w http.ResponseWriter, r *http.Request) {
	symbols, err := s.collateral.Tokens()
	if err != nil {
		s.fail(w, r, "collateral.tokens", err)
		return
	}
	tokens := make([]tokenResponse, 0, len(symbols))
	for _, symbol := range symbols {
		cfg, err := s.collateral.Token(symbol)
		if err != nil {
			s.fail(w, r, "collateral.tokens", err)
			return
		}
		if cfg == nil {
			continue
		}
		tokens = append(tokens, tokenResponse{
			Symbol:                  cfg.Symbol,
			PriceFeedID:             cfg.PriceFeedID,
			Decimals:                cfg.Decimals,
			LiquidationThresholdBps: cfg.LiquidationThresholdBps,
			MaxDepositPerTx:         cfg.MaxDepositPerTx.String(),
			IsStablecoin:            cfg.IsStablecoin,
			IsSupported:             cfg.IsSupported,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"tokens": tokens})
}

type stakeRequest struct {
	User    string `json:"user"`
	Token   string `json:"token"`
	Amount  string `json:"amount"`
	RateBps uint64 `json:"rateBps,omitempty"`
}

func (s *Server) handleStake(w http.ResponseWriter, r *http.Request) {
	var req stakeRequest
	if !decodeBody(w, r, &req) {
		return
	}
	user, err := parseAddress(req.User)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "user: "+err.Error())
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "amount: "+err.Error())
		return
	}
	if req.RateBps != 0 {
		writeError(w, r, http.StatusForbidden, "forbidden", "custom rates require the admin stake endpoint")
		return
	}
	if err := s.staking.Stake(user, req.Token, amount); err != nil {
		s.fail(w, r, "staking.stake", err)
		return
	}
	s.metrics.ObserveStake(req.Token)
	s.writeStakingInfo(w, r, user)
}

func (s *Server) handleStakeWithRate(w http.ResponseWriter, r *http.Request) {
	var req stakeRequest
	if !decodeBody(w, r, &req) {
		return
	}
	user, err := parseAddress(req.User)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "user: "+err.Error())
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "amount: "+err.Error())
		return
	}
	if err := s.staking.StakeWithRate(user, req.Token, amount, req.RateBps); err != nil {
		s.fail(w, r, "staking.stake_with_rate", err)
		return
	}
	s.metrics.ObserveStake(req.Token)
	s.writeStakingInfo(w, r, user)
}

type unstakeRequest struct {
	User   string `json:"user"`
	Amount string `json:"amount"`
}

func (s *Server) handleRequestUnstake(w http.ResponseWriter, r *http.Request) {
	var req unstakeRequest
	if !decodeBody(w, r, &req) {
		return
	}
	user, err := parseAddress(req.User)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "user: "+err.Error())
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "amount: "+err.Error())
		return
	}
	if err := s.staking.RequestUnstake(user, amount); err != nil {
		s.fail(w, r, "staking.request_unstake", err)
		return
	}
	s.writeStakingInfo(w, r, user)
}

func (s *Server) handleExecuteUnstake(w http.ResponseWriter, r *http.Request) {
	var req unstakeRequest
	if !decodeBody(w, r, &req) {
		return
	}
	user, err := parseAddress(req.User)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "user: "+err.Error())
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "amount: "+err.Error())
		return
	}
	if err := s.staking.ExecuteUnstake(user, amount); err != nil {
		s.fail(w, r, "staking.execute_unstake", err)
		return
	}
	pos, err := s.staking.Position(user)
	if err == nil && pos != nil {
		s.metrics.ObserveUnstake(pos.StakingToken)
	}
	s.writeStakingInfo(w, r, user)
}

type stakingInfoResponse struct {
	StakingToken       string `json:"stakingToken"`
	StakedAmount       string `json:"stakedAmount"`
	PendingRewards     string `json:"pendingRewards"`
	RewardRateBps      uint64 `json:"rewardRateBps"`
	LiquidBalance      string `json:"liquidBalance"`
	CollateralValueUSD string `json:"collateralValueUSD"`
	Healthy            bool   `json:"healthy"`
	UnstakeRequested   bool   `json:"unstakeRequested"`
	UnstakeReady       bool   `json:"unstakeReady"`
}

func (s *Server) writeStakingInfo(w http.ResponseWriter, r *http.Request, user [20]byte) {
	info, err := s.staking.Info(user)
	if err != nil {
		s.fail(w, r, "staking.info", err)
		return
	}
	writeJSON(w, http.StatusOK, stakingInfoResponse{
		StakingToken:       info.StakingToken,
		StakedAmount:       info.StakedAmount.String(),
		PendingRewards:     info.PendingRewards.String(),
		RewardRateBps:      info.RewardRateBps,
		LiquidBalance:      info.LiquidBalance.String(),
		CollateralValueUSD: info.CollateralValueUSD.String(),
		Healthy:            info.Healthy,
		UnstakeRequested:   info.UnstakeRequested,
		UnstakeReady:       info.UnstakeReady,
	})
}

func (s *Server) handleStakingInfo(w http.ResponseWriter, r *http.Request) {
	user, err := parseAddress(chi.URLParam(r, "address"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "address: "+err.Error())
		return
	}
	s.writeStakingInfo(w, r, user)
}

type createRequestBody struct {
	Agent     string          `json:"agent"`
	User      string          `json:"user"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	ExpiresAt int64           `json:"expiresAt"`
}

type requestResponse struct {
	ID        string          `json:"id"`
	User      string          `json:"user"`
	Agent     string          `json:"agent"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt int64           `json:"createdAt"`
	ExpiresAt int64           `json:"expiresAt"`
	Status    string          `json:"status"`
}

func requestToResponse(req *agent.Request) requestResponse {
	return requestResponse{
		ID:        hexutil.Encode(req.ID[:]),
		User:      hexutil.Encode(req.User[:]),
		Agent:     hexutil.Encode(req.Agent[:]),
		Type:      req.Type.String(),
		Payload:   json.RawMessage(req.Payload),
		CreatedAt: req.CreatedAt,
		ExpiresAt: req.ExpiresAt,
		Status:    req.Status.String(),
	}
}

func (s *Server) handleCreateRequest(w http.ResponseWriter, r *http.Request) {
	var body createRequestBody
	if !decodeBody(w, r, &body) {
		return
	}
	agentAddr, err := parseAddress(body.Agent)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "agent: "+err.Error())
		return
	}
	user, err := parseAddress(body.User)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "user: "+err.Error())
		return
	}
	kind, err := agent.ParseRequestType(body.Type)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	req, err := s.agents.CreateRequest(agentAddr, user, kind, body.Payload, body.ExpiresAt)
	if err != nil {
		s.metrics.ObserveAgentRequest(kind.String(), "rejected")
		s.fail(w, r, "agent.create_request", err)
		return
	}
	s.metrics.ObserveAgentRequest(kind.String(), "created")
	writeJSON(w, http.StatusCreated, requestToResponse(req))
}

func (s *Server) handleGetRequest(w http.ResponseWriter, r *http.Request) {
	id, err := parseRequestID(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	req, err := s.agents.Request(id)
	if err != nil {
		s.fail(w, r, "agent.get_request", err)
		return
	}
	if req == nil {
		writeError(w, r, http.StatusNotFound, "not_found", "request not found")
		return
	}
	writeJSON(w, http.StatusOK, requestToResponse(req))
}

type callerBody struct {
	Caller string `json:"caller"`
}

func (s *Server) handleExecuteRequest(w http.ResponseWriter, r *http.Request) {
	id, err := parseRequestID(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	var body callerBody
	if !decodeBody(w, r, &body) {
		return
	}
	caller, err := parseAddress(body.Caller)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "caller: "+err.Error())
		return
	}
	if err := s.agents.Execute(id, caller); err != nil {
		s.fail(w, r, "agent.execute_request", err)
		return
	}
	req, err := s.agents.Request(id)
	if err != nil || req == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": agent.StatusExecuted.String()})
		return
	}
	s.metrics.ObserveAgentRequest(req.Type.String(), "executed")
	writeJSON(w, http.StatusOK, requestToResponse(req))
}

func (s *Server) handleCancelRequest(w http.ResponseWriter, r *http.Request) {
	id, err := parseRequestID(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	var body callerBody
	if !decodeBody(w, r, &body) {
		return
	}
	caller, err := parseAddress(body.Caller)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "caller: "+err.Error())
		return
	}
	if err := s.agents.Cancel(id, caller); err != nil {
		s.fail(w, r, "agent.cancel_request", err)
		return
	}
	req, err := s.agents.Request(id)
	if err != nil || req == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": agent.StatusCancelled.String()})
		return
	}
	s.metrics.ObserveAgentRequest(req.Type.String(), "cancelled")
	writeJSON(w, http.StatusOK, requestToResponse(req))
}

type addTokenBody struct {
	Symbol                  string `json:"symbol"`
	PriceFeedID             string `json:"priceFeedId,omitempty"`
	Decimals                uint8  `json:"decimals"`
	LiquidationThresholdBps uint64 `json:"liquidationThresholdBps"`
	MaxDepositPerTx         string `json:"maxDepositPerTx"`
	IsStablecoin            bool   `json:"isStablecoin"`
}

func (s *Server) handleAddToken(w http.ResponseWriter, r *http.Request) {
	var body addTokenBody
	if !decodeBody(w, r, &body) {
		return
	}
	limit, err := parseAmount(body.MaxDepositPerTx)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "maxDepositPerTx: "+err.Error())
		return
	}
	cfg := &collateral.TokenConfig{
		Symbol:                  body.Symbol,
		PriceFeedID:             body.PriceFeedID,
		Decimals:                body.Decimals,
		LiquidationThresholdBps: body.LiquidationThresholdBps,
		MaxDepositPerTx:         limit,
		IsStablecoin:            body.IsStablecoin,
	}
	if err := s.collateral.AddToken(cfg); err != nil {
		s.fail(w, r, "admin.add_token", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"symbol": body.Symbol})
}

func (s *Server) handleRemoveToken(w http.ResponseWriter, r *http.Request) {
	symbol := chi.URLParam(r, "symbol")
	if err := s.collateral.RemoveToken(symbol); err != nil {
		s.fail(w, r, "admin.remove_token", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type feesBody struct {
	DepositBps  uint64 `json:"depositBps"`
	WithdrawBps uint64 `json:"withdrawBps"`
}

func (s *Server) handleUpdateFees(w http.ResponseWriter, r *http.Request) {
	var body feesBody
	if !decodeBody(w, r, &body) {
		return
	}
	if err := s.collateral.UpdateFees(body.DepositBps, body.WithdrawBps); err != nil {
		s.fail(w, r, "admin.update_fees", err)
		return
	}
	writeJSON(w, http.StatusOK, body)
}

type addressBody struct {
	Address string `json:"address"`
}

func (s *Server) handleUpdateFeeCollector(w http.ResponseWriter, r *http.Request) {
	var body addressBody
	if !decodeBody(w, r, &body) {
		return
	}
	addr, err := parseAddress(body.Address)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "address: "+err.Error())
		return
	}
	if err := s.collateral.UpdateFeeCollector(addr); err != nil {
		s.fail(w, r, "admin.update_fee_collector", err)
		return
	}
	writeJSON(w, http.StatusOK, body)
}

type pauseBody struct {
	Module string `json:"module"`
	Paused bool   `json:"paused"`
}

func (s *Server) handleSetPause(w http.ResponseWriter, r *http.Request) {
	var body pauseBody
	if !decodeBody(w, r, &body) {
		return
	}
	s.pauses.SetPaused(body.Module, body.Paused)
	writeJSON(w, http.StatusOK, map[string]any{"paused": s.pauses.Paused()})
}

type authorizeAgentBody struct {
	Address string `json:"address"`
	Label   string `json:"label"`
}

func (s *Server) handleAuthorizeAgent(w http.ResponseWriter, r *http.Request) {
	var body authorizeAgentBody
	if !decodeBody(w, r, &body) {
		return
	}
	addr, err := parseAddress(body.Address)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "address: "+err.Error())
		return
	}
	if err := s.agents.Authorize(addr, body.Label); err != nil {
		s.fail(w, r, "admin.authorize_agent", err)
		return
	}
	writeJSON(w, http.StatusCreated, body)
}

func (s *Server) handleRevokeAgent(w http.ResponseWriter, r *http.Request) {
	addr, err := parseAddress(chi.URLParam(r, "address"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "address: "+err.Error())
		return
	}
	if err := s.agents.Revoke(addr); err != nil {
		s.fail(w, r, "admin.revoke_agent", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
