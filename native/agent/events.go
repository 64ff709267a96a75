package agent

import (
	"encoding/hex"
	"strconv"

	"stakevault/core/types"
)

const (
	EventTypeAuthorized       = "agent.authorized"
	EventTypeRevoked          = "agent.revoked"
	EventTypeRequestCreated   = "agent.request_created"
	EventTypeRequestExecuted  = "agent.request_executed"
	EventTypeRequestCancelled = "agent.request_cancelled"
)

type agentEvent struct {
	evt *types.Event
}

func (e agentEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

// Event exposes the broadcastable payload.
func (e agentEvent) Event() *types.Event { return e.evt }

func authorizedEvent(info *AgentInfo) agentEvent {
	return agentEvent{evt: &types.Event{Type: EventTypeAuthorized, Attributes: map[string]string{
		"agent": hex.EncodeToString(info.Address[:]),
		"label": info.Label,
	}}}
}

func revokedEvent(addr [20]byte) agentEvent {
	return agentEvent{evt: &types.Event{Type: EventTypeRevoked, Attributes: map[string]string{
		"agent": hex.EncodeToString(addr[:]),
	}}}
}

func requestAttributes(req *Request) map[string]string {
	return map[string]string{
		"requestId": hex.EncodeToString(req.ID[:]),
		"user":      hex.EncodeToString(req.User[:]),
		"agent":     hex.EncodeToString(req.Agent[:]),
		"type":      req.Type.String(),
		"expiresAt": strconv.FormatInt(req.ExpiresAt, 10),
	}
}

func requestCreatedEvent(req *Request) agentEvent {
	return agentEvent{evt: &types.Event{Type: EventTypeRequestCreated, Attributes: requestAttributes(req)}}
}

func requestExecutedEvent(req *Request, caller [20]byte) agentEvent {
	attrs := requestAttributes(req)
	attrs["caller"] = hex.EncodeToString(caller[:])
	return agentEvent{evt: &types.Event{Type: EventTypeRequestExecuted, Attributes: attrs}}
}

func requestCancelledEvent(req *Request) agentEvent {
	return agentEvent{evt: &types.Event{Type: EventTypeRequestCancelled, Attributes: requestAttributes(req)}}
}
