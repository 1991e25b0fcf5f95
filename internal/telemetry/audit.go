package telemetry

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"
)

// Operator actions recorded on the audit trail.
const (
	ActionSessionSelected   = "session_selected"
	ActionMessageSent       = "message_sent"
	ActionSessionForceEnded = "session_force_ended"
	ActionCleanupRequested  = "cleanup_requested"
)

type Publisher interface {
	Publish(ctx context.Context, routingKey string, event any) error
	Close() error
}

// ActionEmitter publishes operator console actions to the audit exchange.
type ActionEmitter struct {
	publisher   Publisher
	routingKey  string
	operatorID  string
	environment string
}

type ActionEnvelope struct {
	SchemaVersion int           `json:"schema_version"`
	EventType     string        `json:"event_type"`
	OccurredAt    string        `json:"occurred_at"`
	Service       string        `json:"service"`
	Environment   string        `json:"environment"`
	RequestID     string        `json:"request_id"`
	OperatorID    string        `json:"operator_id"`
	Payload       ActionPayload `json:"payload"`
}

type ActionPayload struct {
	Action string `json:"action"`
	ChatID string `json:"chat_id,omitempty"`
	Detail string `json:"detail,omitempty"`
}

func NewActionEmitter(publisher Publisher, routingKey, operatorID, environment string) *ActionEmitter {
	return &ActionEmitter{
		publisher:   publisher,
		routingKey:  routingKey,
		operatorID:  operatorID,
		environment: environment,
	}
}

// Emit records one operator action. Publish failures are logged, never
// surfaced; audit loss must not disturb the chat view.
func (e *ActionEmitter) Emit(ctx context.Context, action, chatID, detail string) {
	if e == nil || e.publisher == nil {
		return
	}

	envelope := ActionEnvelope{
		SchemaVersion: 1,
		EventType:     "operator_action",
		OccurredAt:    time.Now().UTC().Format(time.RFC3339Nano),
		Service:       "support-console",
		Environment:   e.environment,
		RequestID:     uuid.NewString(),
		OperatorID:    e.operatorID,
		Payload: ActionPayload{
			Action: action,
			ChatID: chatID,
			Detail: detail,
		},
	}

	if err := e.publisher.Publish(ctx, e.routingKey, envelope); err != nil {
		log.Printf("audit publish failed: %v", err)
	}
}
