package observability

import (
	"context"
	"time"
)

// Publisher is satisfied by rabbitmq.Publisher.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, event any) error
}

type EventEnvelope struct {
	EventType  string      `json:"event_type"`
	EventName  string      `json:"event_name"`
	OccurredAt string      `json:"occurred_at"`
	RequestID  string      `json:"request_id,omitempty"`
	TraceID    string      `json:"trace_id,omitempty"`
	Payload    interface{} `json:"payload"`
}

// WSEvent describes one websocket lifecycle transition.
type WSEvent struct {
	Event      string `json:"event"`
	Group      string `json:"group,omitempty"`
	ConnID     string `json:"conn_id"`
	UserID     int    `json:"user_id,omitempty"`
	IP         string `json:"ip,omitempty"`
	DurationMS int64  `json:"duration_ms"`
	Reason     string `json:"reason,omitempty"`
}

// Events publishes websocket lifecycle events. A nil *Events or a nil
// publisher only updates metrics.
type Events struct {
	publisher Publisher
}

func NewEvents(publisher Publisher) *Events {
	return &Events{publisher: publisher}
}

// EmitWS records ev in metrics and publishes it under ws_events.<event>.
func (e *Events) EmitWS(ctx context.Context, ev WSEvent, requestID, traceID string) {
	IncWSEvent(ev.Event)
	if e == nil || e.publisher == nil {
		return
	}
	err := e.publisher.Publish(ctx, "ws_events."+ev.Event, EventEnvelope{
		EventType:  "ws_events",
		EventName:  ev.Event,
		OccurredAt: time.Now().UTC().Format(time.RFC3339Nano),
		RequestID:  requestID,
		TraceID:    traceID,
		Payload:    ev,
	})
	if err != nil {
		IncAMQPPublishError()
	}
}
