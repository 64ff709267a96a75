package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math/big"
	"net/http"
	"strings"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"stakevault/config"
	"stakevault/native/agent"
	"stakevault/native/bank"
	"stakevault/native/collateral"
	nativecommon "stakevault/native/common"
	"stakevault/native/staking"
	"stakevault/observability/metrics"
	"stakevault/oracle"
)

type correlationKey struct{}

func withCorrelation(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationKey{}, id)
}

// CorrelationFromContext returns the request's correlation id, empty when the
// request skipped the middleware.
func CorrelationFromContext(ctx context.Context) string {
	id, _ := ctx.Value(correlationKey{}).(string)
	return id
}

// Server exposes the ledger engines over HTTP.
type Server struct {
	log        *slog.Logger
	collateral *collateral.Engine
	staking    *staking.Engine
	agents     *agent.Engine
	pauses     *config.PauseRegistry
	metrics    *metrics.LedgerMetrics
}

// NewServer wires the HTTP surface to the ledger engines.
func NewServer(log *slog.Logger, collateralEngine *collateral.Engine, stakingEngine *staking.Engine, agentEngine *agent.Engine, pauses *config.PauseRegistry) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		log:        log,
		collateral: collateralEngine,
		staking:    stakingEngine,
		agents:     agentEngine,
		pauses:     pauses,
		metrics:    metrics.Ledger(),
	}
}

// Router assembles the chi handler: correlation ids, OTel spans, token auth
// and per-token rate limiting around the versioned API.
func (s *Server) Router(cfg *Config) http.Handler {
	auth := newAuthenticator(cfg.APITokens, cfg.AdminTokens)
	limiter := newRateLimiter(cfg.RatePerSecond, cfg.RateBurst)

	r := chi.NewRouter()
	r.Use(correlationID)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(api chi.Router) {
		api.Use(limiter.middleware)
		api.Use(auth.require)

		api.Route("/collateral", func(cr chi.Router) {
			cr.Post("/deposit", s.handleDeposit)
			cr.Post("/withdraw", s.handleWithdraw)
			cr.Get("/position/{address}", s.handleCollateralPosition)
			cr.Get("/tokens", s.handleListTokens)
		})

		api.Route("/staking", func(sr chi.Router) {
			sr.Post("/stake", s.handleStake)
			sr.Post("/unstake/request", s.handleRequestUnstake)
			sr.Post("/unstake/execute", s.handleExecuteUnstake)
			sr.Get("/info/{address}", s.handleStakingInfo)
		})

		api.Route("/agents", func(ar chi.Router) {
			ar.Post("/requests", s.handleCreateRequest)
			ar.Get("/requests/{id}", s.handleGetRequest)
			ar.Post("/requests/{id}/execute", s.handleExecuteRequest)
			ar.Post("/requests/{id}/cancel", s.handleCancelRequest)
		})

		api.Route("/admin", func(adm chi.Router) {
			adm.Use(auth.requireAdmin)
			adm.Post("/tokens", s.handleAddToken)
			adm.Delete("/tokens/{symbol}", s.handleRemoveToken)
			adm.Post("/fees", s.handleUpdateFees)
			adm.Post("/fee-collector", s.handleUpdateFeeCollector)
			adm.Post("/pauses", s.handleSetPause)
			adm.Post("/agents", s.handleAuthorizeAgent)
			adm.Delete("/agents/{address}", s.handleRevokeAgent)
			adm.Post("/staking/stake-with-rate", s.handleStakeWithRate)
		})
	})

	return otelhttp.NewHandler(r, "stakevault.gateway")
}

type errorBody struct {
	Error struct {
		Kind          string `json:"kind"`
		Message       string `json:"message"`
		CorrelationID string `json:"correlationId,omitempty"`
	} `json:"error"`
}

func writeError(w http.ResponseWriter, r *http.Request, status int, kind, message string) {
	body := errorBody{}
	body.Error.Kind = kind
	body.Error.Message = message
	body.Error.CorrelationID = CorrelationFromContext(r.Context())
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// mapError translates typed engine errors onto HTTP statuses so clients can
// branch without parsing messages.
func mapError(err error) (int, string) {
	switch {
	case errors.Is(err, collateral.ErrInvalidAmount),
		errors.Is(err, staking.ErrInvalidAmount),
		errors.Is(err, agent.ErrInvalidExpiry):
		return http.StatusBadRequest, "invalid_request"
	case errors.Is(err, collateral.ErrTokenNotSupported),
		errors.Is(err, staking.ErrTokenNotSupported):
		return http.StatusBadRequest, "token_not_supported"
	case errors.Is(err, collateral.ErrExceedsMaxDeposit):
		return http.StatusBadRequest, "exceeds_max_deposit"
	case errors.Is(err, collateral.ErrFeeTooHigh),
		errors.Is(err, collateral.ErrInvalidRecipient),
		errors.Is(err, staking.ErrInvalidRewardRate),
		errors.Is(err, staking.ErrRewardFeeTooHigh),
		errors.Is(err, staking.ErrTokenMismatch):
		return http.StatusUnprocessableEntity, "invalid_parameters"
	case errors.Is(err, collateral.ErrTokenUnknown),
		errors.Is(err, agent.ErrAgentUnknown),
		errors.Is(err, agent.ErrRequestNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, collateral.ErrTokenExists),
		errors.Is(err, agent.ErrAgentExists):
		return http.StatusConflict, "already_exists"
	case errors.Is(err, collateral.ErrInsufficientBalance),
		errors.Is(err, bank.ErrInsufficientBalance):
		return http.StatusConflict, "insufficient_balance"
	case errors.Is(err, staking.ErrInsufficientStake):
		return http.StatusConflict, "insufficient_stake"
	case errors.Is(err, staking.ErrInsufficientCollateral):
		return http.StatusConflict, "insufficient_collateral"
	case errors.Is(err, staking.ErrUnstakeNotRequested),
		errors.Is(err, staking.ErrUnstakeDelayNotMet),
		errors.Is(err, agent.ErrRequestExpired),
		errors.Is(err, agent.ErrRequestAlreadyExecuted):
		return http.StatusConflict, "invalid_state"
	case errors.Is(err, agent.ErrRateLimitExceeded):
		return http.StatusTooManyRequests, "rate_limited"
	case errors.Is(err, agent.ErrAgentNotAuthorized),
		errors.Is(err, agent.ErrUnauthorizedCaller):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, nativecommon.ErrModulePaused):
		return http.StatusServiceUnavailable, "module_paused"
	case errors.Is(err, oracle.ErrStaleQuote),
		errors.Is(err, oracle.ErrInvalidPrice),
		errors.Is(err, oracle.ErrFeedNotFound):
		return http.StatusBadGateway, "oracle_failure"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, operation string, err error) {
	status, kind := mapError(err)
	s.metrics.ObserveError(operation, kind)
	level := slog.LevelWarn
	if status >= http.StatusInternalServerError {
		level = slog.LevelError
	}
	s.log.Log(r.Context(), level, "request rejected",
		"operation", operation,
		"kind", kind,
		"status", status,
		"correlationId", CorrelationFromContext(r.Context()),
		"err", err,
	)
	writeError(w, r, status, kind, err.Error())
}

func decodeBody(w http.ResponseWriter, r *http.Request, into any) bool {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(into); err != nil {
		writeError(w, r, http.StatusBadRequest, "malformed_body", err.Error())
		return false
	}
	return true
}

func parseAddress(value string) ([20]byte, error) {
	trimmed := strings.TrimSpace(value)
	if !ethcommon.IsHexAddress(trimmed) {
		return [20]byte{}, errors.New("invalid 0x address")
	}
	return ethcommon.HexToAddress(trimmed), nil
}

func parseAmount(value string) (*big.Int, error) {
	amount, ok := new(big.Int).SetString(strings.TrimSpace(value), 10)
	if !ok {
		return nil, errors.New("amount must be a decimal string")
	}
	return amount, nil
}

func parseRequestID(value string) ([32]byte, error) {
	raw, err := hexutil.Decode(strings.TrimSpace(value))
	if err != nil || len(raw) != 32 {
		return [32]byte{}, errors.New("request id must be 32 bytes of 0x hex")
	}
	var id [32]byte
	copy(id[:], raw)
	return id, nil
}

func parsePriceUpdates(values []string) ([][]byte, error) {
	if len(values) == 0 {
		return nil, nil
	}
	updates := make([][]byte, 0, len(values))
	for _, value := range values {
		raw, err := hexutil.Decode(strings.TrimSpace(value))
		if err != nil {
			return nil, errors.New("price updates must be 0x hex blobs")
		}
		updates = append(updates, raw)
	}
	return updates, nil
}
