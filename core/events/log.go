package events

import (
	"log/slog"

	"stakevault/core/types"
)

// payloadCarrier is implemented by module events that wrap a broadcastable
// *types.Event.
type payloadCarrier interface {
	Event() *types.Event
}

// LogEmitter writes every emitted event to a structured logger. Shipped logs
// form the audit trail for ledger state changes.
type LogEmitter struct {
	log *slog.Logger
}

// NewLogEmitter constructs an emitter over the given logger, falling back to
// the process default when nil.
func NewLogEmitter(log *slog.Logger) *LogEmitter {
	if log == nil {
		log = slog.Default()
	}
	return &LogEmitter{log: log}
}

// Emit implements the Emitter interface.
func (l *LogEmitter) Emit(evt Event) {
	if l == nil || evt == nil {
		return
	}
	attrs := []any{slog.String("event", evt.EventType())}
	if carrier, ok := evt.(payloadCarrier); ok {
		if payload := carrier.Event(); payload != nil {
			for key, value := range payload.Attributes {
				attrs = append(attrs, slog.String(key, value))
			}
		}
	}
	l.log.Info("ledger event", attrs...)
}
