package agent

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"stakevault/core/events"
	nativecommon "stakevault/native/common"
)

var (
	ErrAgentNotAuthorized     = errors.New("agent engine: caller not on the allow-list")
	ErrAgentExists            = errors.New("agent engine: agent already authorized")
	ErrAgentUnknown           = errors.New("agent engine: agent not authorized")
	ErrInvalidExpiry          = errors.New("agent engine: expiry must be in the future and at most 24h out")
	ErrRateLimitExceeded      = errors.New("agent engine: request rate limit exceeded")
	ErrRequestNotFound        = errors.New("agent engine: request not found")
	ErrRequestAlreadyExecuted = errors.New("agent engine: request already in a terminal state")
	ErrRequestExpired         = errors.New("agent engine: request expired")
	ErrUnauthorizedCaller     = errors.New("agent engine: caller may not act on this request")
	errNilState               = errors.New("agent engine: state not configured")
)

const moduleName = "agent"

const (
	// MaxRequestsPerHour bounds each agent to ten requests per hour bucket.
	MaxRequestsPerHour = 10
	// MaxExpiryWindow is the furthest a request expiry may sit in the future.
	MaxExpiryWindow = 24 * time.Hour
)

type engineState interface {
	GetAgent(addr [20]byte) (*AgentInfo, error)
	PutAgent(info *AgentInfo) error
	DeleteAgent(addr [20]byte) error
	GetRequest(id [32]byte) (*Request, error)
	PutRequest(req *Request) error
	GetQuota(addr [20]byte) (nativecommon.QuotaNow, error)
	PutQuota(addr [20]byte, usage nativecommon.QuotaNow) error
}

// Dispatcher receives executed requests. The router owns no financial state;
// the dispatcher is where a request's payload turns into ledger calls. A nil
// dispatcher makes Execute a pure bookkeeping transition.
type Dispatcher interface {
	Dispatch(req *Request, payload Payload) error
}

// Engine routes agent-originated requests: allow-listing, rate limiting,
// time-boxing and the pending/executed/cancelled lifecycle.
type Engine struct {
	mu         sync.Mutex
	state      engineState
	dispatcher Dispatcher
	executor   [20]byte
	quota      nativecommon.Quota
	pauses     nativecommon.PauseView
	emitter    events.Emitter
	nowFn      func() int64
}

// NewEngine constructs a request router.
func NewEngine() *Engine {
	return &Engine{
		quota:   nativecommon.Quota{MaxRequestsPerBucket: MaxRequestsPerHour},
		emitter: events.NoopEmitter{},
		nowFn:   func() int64 { return time.Now().Unix() },
	}
}

// SetState wires the engine to the external persistence layer.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetDispatcher wires the executed-request sink.
func (e *Engine) SetDispatcher(d Dispatcher) { e.dispatcher = d }

// SetExecutor configures the privileged address allowed to execute any
// request on behalf of its user.
func (e *Engine) SetExecutor(addr [20]byte) { e.executor = addr }

// SetQuota overrides the per-agent request quota.
func (e *Engine) SetQuota(q nativecommon.Quota) { e.quota = q }

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

// Authorize adds an agent to the allow-list. Re-authorizing an existing agent
// fails; revoke first to change the label.
func (e *Engine) Authorize(addr [20]byte, label string) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	existing, err := e.state.GetAgent(addr)
	if err != nil {
		return err
	}
	if existing != nil {
		return ErrAgentExists
	}
	info := &AgentInfo{Address: addr, Label: label, AuthorizedAt: e.now()}
	if err := e.state.PutAgent(info); err != nil {
		return err
	}
	e.emit(authorizedEvent(info))
	return nil
}

// Revoke removes an agent from the allow-list. The stored label is cleared
// with the record.
func (e *Engine) Revoke(addr [20]byte) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	existing, err := e.state.GetAgent(addr)
	if err != nil {
		return err
	}
	if existing == nil {
		return ErrAgentUnknown
	}
	if err := e.state.DeleteAgent(addr); err != nil {
		return err
	}
	e.emit(revokedEvent(addr))
	return nil
}

// IsAuthorized reports allow-list membership.
func (e *Engine) IsAuthorized(addr [20]byte) (bool, error) {
	if e == nil || e.state == nil {
		return false, errNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	info, err := e.state.GetAgent(addr)
	if err != nil {
		return false, err
	}
	return info != nil, nil
}

// Agent returns the stored allow-list record, nil when unknown.
func (e *Engine) Agent(addr [20]byte) (*AgentInfo, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	info, err := e.state.GetAgent(addr)
	if err != nil {
		return nil, err
	}
	return info.Clone(), nil
}

// CreateRequest admits a new pending request from an allow-listed agent. The
// payload must decode and validate for the declared type, the expiry must be
// strictly in the future and at most 24h out, and the agent must be within
// its hourly quota.
func (e *Engine) CreateRequest(agentAddr, user [20]byte, kind RequestType, payload []byte, expiresAt int64) (*Request, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	info, err := e.state.GetAgent(agentAddr)
	if err != nil {
		return nil, err
	}
	if info == nil {
		return nil, ErrAgentNotAuthorized
	}
	now := e.now()
	if expiresAt <= now || expiresAt > now+int64(MaxExpiryWindow/time.Second) {
		return nil, ErrInvalidExpiry
	}
	if _, err := DecodePayload(kind, payload); err != nil {
		return nil, err
	}

	usage, err := e.state.GetQuota(agentAddr)
	if err != nil {
		return nil, err
	}
	updated, err := nativecommon.CheckQuota(e.quota, nativecommon.Bucket(now), usage, 1)
	if err != nil {
		if errors.Is(err, nativecommon.ErrQuotaRequestsExceeded) {
			return nil, ErrRateLimitExceeded
		}
		return nil, err
	}

	req := &Request{
		ID:        requestID(agentAddr, user, kind, updated),
		User:      user,
		Agent:     agentAddr,
		Type:      kind,
		Payload:   append([]byte(nil), payload...),
		CreatedAt: now,
		ExpiresAt: expiresAt,
		Status:    StatusPending,
	}
	if err := e.state.PutRequest(req); err != nil {
		return nil, err
	}
	if err := e.state.PutQuota(agentAddr, updated); err != nil {
		return nil, err
	}
	e.emit(requestCreatedEvent(req))
	return req.Clone(), nil
}

// Execute transitions a pending request to executed. Only the request's user
// or the privileged executor may call it; expired or terminal requests are
// rejected. When a dispatcher is wired it runs before the transition is
// persisted, so a dispatch failure leaves the request pending and retryable.
func (e *Engine) Execute(id [32]byte, caller [20]byte) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	req, err := e.state.GetRequest(id)
	if err != nil {
		return err
	}
	if req == nil {
		return ErrRequestNotFound
	}
	if req.Status.Terminal() {
		return ErrRequestAlreadyExecuted
	}
	if caller != req.User && (e.executor == ([20]byte{}) || caller != e.executor) {
		return ErrUnauthorizedCaller
	}
	if e.now() > req.ExpiresAt {
		return ErrRequestExpired
	}

	if e.dispatcher != nil {
		payload, err := req.DecodedPayload()
		if err != nil {
			return err
		}
		if err := e.dispatcher.Dispatch(req.Clone(), payload); err != nil {
			return fmt.Errorf("agent engine: dispatch %s: %w", req.Type, err)
		}
	}

	staged := req.Clone()
	staged.Status = StatusExecuted
	if err := e.state.PutRequest(staged); err != nil {
		return err
	}
	e.emit(requestExecutedEvent(staged, caller))
	return nil
}

// Cancel transitions a pending request to cancelled. Only the request's user
// may cancel, and cancellation stays available while the module is paused.
func (e *Engine) Cancel(id [32]byte, caller [20]byte) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	req, err := e.state.GetRequest(id)
	if err != nil {
		return err
	}
	if req == nil {
		return ErrRequestNotFound
	}
	if req.Status.Terminal() {
		return ErrRequestAlreadyExecuted
	}
	if caller != req.User {
		return ErrUnauthorizedCaller
	}

	staged := req.Clone()
	staged.Status = StatusCancelled
	if err := e.state.PutRequest(staged); err != nil {
		return err
	}
	e.emit(requestCancelledEvent(staged))
	return nil
}

// Request returns a copy of the stored request, nil when unknown.
func (e *Engine) Request(id [32]byte) (*Request, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	req, err := e.state.GetRequest(id)
	if err != nil {
		return nil, err
	}
	return req.Clone(), nil
}

// requestID derives a deterministic identifier from the participants, the
// request type and the agent's quota counters. The (bucket, count) pair makes
// ids unique even for byte-identical submissions inside one second.
func requestID(agentAddr, user [20]byte, kind RequestType, usage nativecommon.QuotaNow) [32]byte {
	var seq [13]byte
	binary.BigEndian.PutUint64(seq[:8], usage.BucketID)
	binary.BigEndian.PutUint32(seq[8:12], usage.ReqCount)
	seq[12] = byte(kind)
	return ethcrypto.Keccak256Hash(agentAddr[:], user[:], seq[:])
}
