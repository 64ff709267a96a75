package agent

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"stakevault/core/events"
	nativecommon "stakevault/native/common"
)

type mockState struct {
	agents   map[[20]byte]*AgentInfo
	requests map[[32]byte]*Request
	quotas   map[[20]byte]nativecommon.QuotaNow
}

func newMockState() *mockState {
	return &mockState{
		agents:   make(map[[20]byte]*AgentInfo),
		requests: make(map[[32]byte]*Request),
		quotas:   make(map[[20]byte]nativecommon.QuotaNow),
	}
}

func (m *mockState) GetAgent(addr [20]byte) (*AgentInfo, error) {
	if info, ok := m.agents[addr]; ok {
		return info.Clone(), nil
	}
	return nil, nil
}

func (m *mockState) PutAgent(info *AgentInfo) error {
	m.agents[info.Address] = info.Clone()
	return nil
}

func (m *mockState) DeleteAgent(addr [20]byte) error {
	delete(m.agents, addr)
	return nil
}

func (m *mockState) GetRequest(id [32]byte) (*Request, error) {
	if req, ok := m.requests[id]; ok {
		return req.Clone(), nil
	}
	return nil, nil
}

func (m *mockState) PutRequest(req *Request) error {
	m.requests[req.ID] = req.Clone()
	return nil
}

func (m *mockState) GetQuota(addr [20]byte) (nativecommon.QuotaNow, error) {
	return m.quotas[addr], nil
}

func (m *mockState) PutQuota(addr [20]byte, usage nativecommon.QuotaNow) error {
	m.quotas[addr] = usage
	return nil
}

func makeAddr(suffix byte) [20]byte {
	var a [20]byte
	a[19] = suffix
	return a
}

type fixture struct {
	engine *Engine
	state  *mockState
	agent  [20]byte
	user   [20]byte
	now    int64
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		state: newMockState(),
		agent: makeAddr(0xA0),
		user:  makeAddr(0x01),
		now:   int64(472_222) * nativecommon.BucketSeconds,
	}
	f.engine = NewEngine()
	f.engine.SetState(f.state)
	f.engine.SetNowFunc(func() int64 { return f.now })
	if err := f.engine.Authorize(f.agent, "yield-bot"); err != nil {
		t.Fatalf("authorize: %v", err)
	}
	return f
}

func depositPayload(t *testing.T, token string, amount int64) []byte {
	t.Helper()
	raw, err := json.Marshal(map[string]any{"token": token, "amount": amount})
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return raw
}

func (f *fixture) create(t *testing.T) *Request {
	t.Helper()
	req, err := f.engine.CreateRequest(f.agent, f.user, RequestTypeDeposit, depositPayload(t, "USDS", 100), f.now+600)
	if err != nil {
		t.Fatalf("create request: %v", err)
	}
	return req
}

func TestCreateRequiresAuthorization(t *testing.T) {
	f := newFixture(t)
	stranger := makeAddr(0xBB)
	_, err := f.engine.CreateRequest(stranger, f.user, RequestTypeDeposit, depositPayload(t, "USDS", 100), f.now+600)
	if !errors.Is(err, ErrAgentNotAuthorized) {
		t.Fatalf("expected not authorized, got %v", err)
	}
	if err := f.engine.Revoke(f.agent); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	_, err = f.engine.CreateRequest(f.agent, f.user, RequestTypeDeposit, depositPayload(t, "USDS", 100), f.now+600)
	if !errors.Is(err, ErrAgentNotAuthorized) {
		t.Fatalf("expected not authorized after revoke, got %v", err)
	}
	// Revocation cleared the record; re-authorizing with a new label works.
	if err := f.engine.Authorize(f.agent, "yield-bot-v2"); err != nil {
		t.Fatalf("re-authorize: %v", err)
	}
	info, _ := f.engine.Agent(f.agent)
	if info.Label != "yield-bot-v2" {
		t.Fatalf("label not replaced: %q", info.Label)
	}
}

func TestAuthorizeRejectsDuplicate(t *testing.T) {
	f := newFixture(t)
	if err := f.engine.Authorize(f.agent, "again"); !errors.Is(err, ErrAgentExists) {
		t.Fatalf("expected duplicate rejection, got %v", err)
	}
}

func TestHourlyRateLimit(t *testing.T) {
	f := newFixture(t)
	seen := make(map[[32]byte]bool)
	for i := 0; i < MaxRequestsPerHour; i++ {
		req, err := f.engine.CreateRequest(f.agent, f.user, RequestTypeDeposit, depositPayload(t, "USDS", 100), f.now+600)
		if err != nil {
			t.Fatalf("request %d: %v", i+1, err)
		}
		if seen[req.ID] {
			t.Fatalf("request %d reused an id", i+1)
		}
		seen[req.ID] = true
	}
	_, err := f.engine.CreateRequest(f.agent, f.user, RequestTypeDeposit, depositPayload(t, "USDS", 100), f.now+600)
	if !errors.Is(err, ErrRateLimitExceeded) {
		t.Fatalf("11th request should hit the limit, got %v", err)
	}
	// First call in the next hour bucket succeeds.
	f.now += nativecommon.BucketSeconds
	if _, err := f.engine.CreateRequest(f.agent, f.user, RequestTypeDeposit, depositPayload(t, "USDS", 100), f.now+600); err != nil {
		t.Fatalf("first request of next bucket: %v", err)
	}
}

func TestExpiryWindow(t *testing.T) {
	f := newFixture(t)
	payload := depositPayload(t, "USDS", 100)
	cases := []struct {
		name      string
		expiresAt int64
		wantErr   bool
	}{
		{"past", f.now - 1, true},
		{"now", f.now, true},
		{"one second out", f.now + 1, false},
		{"exactly 24h", f.now + 86_400, false},
		{"beyond 24h", f.now + 86_401, true},
	}
	for _, tc := range cases {
		_, err := f.engine.CreateRequest(f.agent, f.user, RequestTypeDeposit, payload, tc.expiresAt)
		if tc.wantErr && !errors.Is(err, ErrInvalidExpiry) {
			t.Fatalf("%s: expected invalid expiry, got %v", tc.name, err)
		}
		if !tc.wantErr && err != nil {
			t.Fatalf("%s: unexpected error %v", tc.name, err)
		}
	}
}

func TestPayloadValidation(t *testing.T) {
	f := newFixture(t)
	if _, err := f.engine.CreateRequest(f.agent, f.user, RequestTypeDeposit, []byte("{"), f.now+600); err == nil {
		t.Fatalf("malformed payload accepted")
	}
	bad, _ := json.Marshal(map[string]any{"allocations": map[string]uint64{"USDS": 4000, "WETH": 4000}})
	if _, err := f.engine.CreateRequest(f.agent, f.user, RequestTypeRebalance, bad, f.now+600); err == nil {
		t.Fatalf("rebalance allocations not summing to 10000 accepted")
	}
	good, _ := json.Marshal(map[string]any{"allocations": map[string]uint64{"USDS": 4000, "WETH": 6000}})
	if _, err := f.engine.CreateRequest(f.agent, f.user, RequestTypeRebalance, good, f.now+600); err != nil {
		t.Fatalf("valid rebalance rejected: %v", err)
	}
}

func TestExecuteTerminalIdempotence(t *testing.T) {
	f := newFixture(t)
	req := f.create(t)
	if err := f.engine.Execute(req.ID, f.user); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if err := f.engine.Execute(req.ID, f.user); !errors.Is(err, ErrRequestAlreadyExecuted) {
		t.Fatalf("second execute should fail terminally, got %v", err)
	}
	if err := f.engine.Cancel(req.ID, f.user); !errors.Is(err, ErrRequestAlreadyExecuted) {
		t.Fatalf("cancel after execute should fail terminally, got %v", err)
	}
	stored, _ := f.engine.Request(req.ID)
	if stored.Status != StatusExecuted {
		t.Fatalf("unexpected status %s", stored.Status)
	}
}

func TestCancelThenExecuteFails(t *testing.T) {
	f := newFixture(t)
	req := f.create(t)
	if err := f.engine.Cancel(req.ID, f.user); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if err := f.engine.Execute(req.ID, f.user); !errors.Is(err, ErrRequestAlreadyExecuted) {
		t.Fatalf("execute after cancel should fail terminally, got %v", err)
	}
	stored, _ := f.engine.Request(req.ID)
	if stored.Status != StatusCancelled {
		t.Fatalf("unexpected status %s", stored.Status)
	}
}

func TestExecuteCallerAuthorization(t *testing.T) {
	f := newFixture(t)
	req := f.create(t)
	stranger := makeAddr(0xCC)
	if err := f.engine.Execute(req.ID, stranger); !errors.Is(err, ErrUnauthorizedCaller) {
		t.Fatalf("expected unauthorized caller, got %v", err)
	}
	if err := f.engine.Cancel(req.ID, stranger); !errors.Is(err, ErrUnauthorizedCaller) {
		t.Fatalf("expected unauthorized cancel, got %v", err)
	}

	executor := makeAddr(0xEE)
	f.engine.SetExecutor(executor)
	if err := f.engine.Execute(req.ID, executor); err != nil {
		t.Fatalf("privileged executor: %v", err)
	}
}

func TestExecuteRejectsExpired(t *testing.T) {
	f := newFixture(t)
	req := f.create(t)
	f.now = req.ExpiresAt + 1
	if err := f.engine.Execute(req.ID, f.user); !errors.Is(err, ErrRequestExpired) {
		t.Fatalf("expected expired, got %v", err)
	}
	// Expired requests remain cancellable for cleanliness.
	if err := f.engine.Cancel(req.ID, f.user); err != nil {
		t.Fatalf("cancel expired: %v", err)
	}
}

func TestExecuteUnknownRequest(t *testing.T) {
	f := newFixture(t)
	if err := f.engine.Execute([32]byte{0x01}, f.user); !errors.Is(err, ErrRequestNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

type pausedView struct{}

func (pausedView) IsPaused(string) bool { return true }

func TestPauseBlocksCreateAndExecuteButNotCancel(t *testing.T) {
	f := newFixture(t)
	req := f.create(t)
	f.engine.SetPauses(pausedView{})

	if _, err := f.engine.CreateRequest(f.agent, f.user, RequestTypeDeposit, depositPayload(t, "USDS", 1), f.now+600); !errors.Is(err, nativecommon.ErrModulePaused) {
		t.Fatalf("expected paused create, got %v", err)
	}
	if err := f.engine.Execute(req.ID, f.user); !errors.Is(err, nativecommon.ErrModulePaused) {
		t.Fatalf("expected paused execute, got %v", err)
	}
	if err := f.engine.Cancel(req.ID, f.user); err != nil {
		t.Fatalf("cancel must stay available while paused: %v", err)
	}
}

type failingDispatcher struct {
	calls int
	fail  bool
}

func (d *failingDispatcher) Dispatch(_ *Request, _ Payload) error {
	d.calls++
	if d.fail {
		return fmt.Errorf("downstream unavailable")
	}
	return nil
}

func TestDispatchFailureLeavesRequestPending(t *testing.T) {
	f := newFixture(t)
	req := f.create(t)
	dispatcher := &failingDispatcher{fail: true}
	f.engine.SetDispatcher(dispatcher)

	if err := f.engine.Execute(req.ID, f.user); err == nil {
		t.Fatalf("expected dispatch failure to surface")
	}
	stored, _ := f.engine.Request(req.ID)
	if stored.Status != StatusPending {
		t.Fatalf("failed dispatch must leave the request pending, got %s", stored.Status)
	}

	dispatcher.fail = false
	if err := f.engine.Execute(req.ID, f.user); err != nil {
		t.Fatalf("retry after recovery: %v", err)
	}
	if dispatcher.calls != 2 {
		t.Fatalf("expected two dispatch attempts, got %d", dispatcher.calls)
	}
}

func TestParseRequestTypeRoundTrip(t *testing.T) {
	for kind, name := range map[RequestType]string{
		RequestTypeBridgeAndStake: "bridge_and_stake",
		RequestTypeOptimize:       "optimize",
		RequestTypeWithdraw:       "withdraw",
	} {
		parsed, err := ParseRequestType(name)
		if err != nil || parsed != kind {
			t.Fatalf("parse %q: got %v err %v", name, parsed, err)
		}
	}
	if _, err := ParseRequestType("teleport"); err == nil {
		t.Fatalf("unknown type accepted")
	}
}

func TestRequestFlowEmitsAuditEvents(t *testing.T) {
	f := newFixture(t)
	rec := &events.Recorder{}
	f.engine.SetEmitter(rec)

	req := f.create(t)
	if err := f.engine.Execute(req.ID, f.user); err != nil {
		t.Fatalf("execute: %v", err)
	}

	want := []string{EventTypeRequestCreated, EventTypeRequestExecuted}
	got := rec.Types()
	if len(got) != len(want) {
		t.Fatalf("event count mismatch: got %v want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("event sequence mismatch: got %v want %v", got, want)
		}
	}
	attrs := rec.Events[0].(agentEvent).Event().Attributes
	if attrs["type"] != RequestTypeDeposit.String() {
		t.Fatalf("created event type attribute: %q", attrs["type"])
	}
}
