package agent

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"
)

// RequestType selects the payload schema an agent request carries.
type RequestType uint8

const (
	RequestTypeUnspecified RequestType = iota
	RequestTypeBridgeAndStake
	RequestTypeRebalance
	RequestTypeOptimize
	RequestTypeLiquidate
	RequestTypeDeposit
	RequestTypeWithdraw
)

var requestTypeNames = map[RequestType]string{
	RequestTypeBridgeAndStake: "bridge_and_stake",
	RequestTypeRebalance:      "rebalance",
	RequestTypeOptimize:       "optimize",
	RequestTypeLiquidate:      "liquidate",
	RequestTypeDeposit:        "deposit",
	RequestTypeWithdraw:       "withdraw",
}

func (t RequestType) String() string {
	if name, ok := requestTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("unknown(%d)", uint8(t))
}

// ParseRequestType resolves the wire name of a request type.
func ParseRequestType(name string) (RequestType, error) {
	trimmed := strings.ToLower(strings.TrimSpace(name))
	for t, n := range requestTypeNames {
		if n == trimmed {
			return t, nil
		}
	}
	return RequestTypeUnspecified, fmt.Errorf("agent: unknown request type %q", name)
}

// RequestStatus is the request lifecycle state. Executed and Cancelled are
// both terminal; a terminal request is immutable evidence and never deleted.
type RequestStatus uint8

const (
	StatusPending RequestStatus = iota
	StatusExecuted
	StatusCancelled
)

func (s RequestStatus) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusExecuted:
		return "executed"
	case StatusCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(s))
	}
}

// Terminal reports whether the status admits no further transitions.
func (s RequestStatus) Terminal() bool {
	return s == StatusExecuted || s == StatusCancelled
}

// Payload is the decoded, type-checked request body. Each request type has
// one concrete payload struct; raw bytes are rejected at creation when they
// do not decode and validate for the declared type.
type Payload interface {
	Kind() RequestType
	validate() error
}

// BridgeAndStakePayload moves tokens across chains and stakes them on
// arrival.
type BridgeAndStakePayload struct {
	SourceChain string   `json:"sourceChain"`
	TargetChain string   `json:"targetChain"`
	Token       string   `json:"token"`
	Amount      *big.Int `json:"amount"`
}

func (BridgeAndStakePayload) Kind() RequestType { return RequestTypeBridgeAndStake }

func (p BridgeAndStakePayload) validate() error {
	if strings.TrimSpace(p.SourceChain) == "" || strings.TrimSpace(p.TargetChain) == "" {
		return errors.New("agent: bridge payload requires source and target chains")
	}
	if strings.TrimSpace(p.Token) == "" {
		return errors.New("agent: bridge payload requires a token")
	}
	if p.Amount == nil || p.Amount.Sign() <= 0 {
		return errors.New("agent: bridge payload requires a positive amount")
	}
	return nil
}

// RebalancePayload adjusts portfolio allocations, expressed in basis points
// that must sum to 10000.
type RebalancePayload struct {
	Allocations map[string]uint64 `json:"allocations"`
}

func (RebalancePayload) Kind() RequestType { return RequestTypeRebalance }

func (p RebalancePayload) validate() error {
	if len(p.Allocations) == 0 {
		return errors.New("agent: rebalance payload requires allocations")
	}
	var total uint64
	for token, bps := range p.Allocations {
		if strings.TrimSpace(token) == "" {
			return errors.New("agent: rebalance payload has an empty token key")
		}
		total += bps
	}
	if total != 10_000 {
		return fmt.Errorf("agent: rebalance allocations sum to %d bps, want 10000", total)
	}
	return nil
}

// OptimizePayload asks the strategy layer for a yield optimisation pass.
type OptimizePayload struct {
	RiskTolerance string `json:"riskTolerance"`
	HorizonDays   uint32 `json:"horizonDays"`
}

func (OptimizePayload) Kind() RequestType { return RequestTypeOptimize }

func (p OptimizePayload) validate() error {
	switch strings.ToLower(strings.TrimSpace(p.RiskTolerance)) {
	case "low", "medium", "high":
	default:
		return fmt.Errorf("agent: unknown risk tolerance %q", p.RiskTolerance)
	}
	if p.HorizonDays == 0 {
		return errors.New("agent: optimize payload requires a horizon")
	}
	return nil
}

// LiquidatePayload targets an undercollateralised position.
type LiquidatePayload struct {
	Target string `json:"target"`
}

func (LiquidatePayload) Kind() RequestType { return RequestTypeLiquidate }

func (p LiquidatePayload) validate() error {
	if strings.TrimSpace(p.Target) == "" {
		return errors.New("agent: liquidate payload requires a target")
	}
	return nil
}

// TransferPayload backs both deposit and withdraw requests.
type TransferPayload struct {
	kind   RequestType
	Token  string   `json:"token"`
	Amount *big.Int `json:"amount"`
}

func (p TransferPayload) Kind() RequestType { return p.kind }

func (p TransferPayload) validate() error {
	if strings.TrimSpace(p.Token) == "" {
		return errors.New("agent: transfer payload requires a token")
	}
	if p.Amount == nil || p.Amount.Sign() <= 0 {
		return errors.New("agent: transfer payload requires a positive amount")
	}
	return nil
}

// DecodePayload parses and validates raw bytes against the declared request
// type.
func DecodePayload(kind RequestType, raw []byte) (Payload, error) {
	if len(raw) == 0 {
		return nil, errors.New("agent: empty payload")
	}
	var payload Payload
	switch kind {
	case RequestTypeBridgeAndStake:
		var p BridgeAndStakePayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("agent: decode %s payload: %w", kind, err)
		}
		payload = p
	case RequestTypeRebalance:
		var p RebalancePayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("agent: decode %s payload: %w", kind, err)
		}
		payload = p
	case RequestTypeOptimize:
		var p OptimizePayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("agent: decode %s payload: %w", kind, err)
		}
		payload = p
	case RequestTypeLiquidate:
		var p LiquidatePayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("agent: decode %s payload: %w", kind, err)
		}
		payload = p
	case RequestTypeDeposit, RequestTypeWithdraw:
		var p TransferPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("agent: decode %s payload: %w", kind, err)
		}
		p.kind = kind
		payload = p
	default:
		return nil, fmt.Errorf("agent: unknown request type %d", kind)
	}
	if err := payload.validate(); err != nil {
		return nil, err
	}
	return payload, nil
}

// AgentInfo records one allow-listed agent.
type AgentInfo struct {
	Address      [20]byte
	Label        string
	AuthorizedAt int64
}

// Clone returns a copy of the agent record.
func (a *AgentInfo) Clone() *AgentInfo {
	if a == nil {
		return nil
	}
	clone := *a
	return &clone
}

// Request is one routed work item. The payload is persisted raw; it was
// validated against Type at creation.
type Request struct {
	ID        [32]byte
	User      [20]byte
	Agent     [20]byte
	Type      RequestType
	Payload   []byte
	CreatedAt int64
	ExpiresAt int64
	Status    RequestStatus
}

// Clone returns a deep copy of the request.
func (r *Request) Clone() *Request {
	if r == nil {
		return nil
	}
	clone := *r
	if r.Payload != nil {
		clone.Payload = append([]byte(nil), r.Payload...)
	}
	return &clone
}

// DecodedPayload re-decodes the stored payload. It only fails when state was
// tampered with outside the engine.
func (r *Request) DecodedPayload() (Payload, error) {
	return DecodePayload(r.Type, r.Payload)
}
