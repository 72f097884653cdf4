package domain

import (
	"time"

	"github.com/google/uuid"
)

// DefaultTTLSeconds is the header TTL assigned by NewMessage.
const DefaultTTLSeconds = 300

// Priority is the delivery band of a message, workflow or task.
// Higher values are more urgent.
type Priority int

const (
	PriorityLow      Priority = 1
	PriorityNormal   Priority = 2
	PriorityHigh     Priority = 3
	PriorityCritical Priority = 4
)

// PriorityLevels is the number of distinct bands.
const PriorityLevels = 4

// Clamp forces p into the [PriorityLow, PriorityCritical] range.
func (p Priority) Clamp() Priority {
	if p < PriorityLow {
		return PriorityLow
	}
	if p > PriorityCritical {
		return PriorityCritical
	}
	return p
}

func (p Priority) String() string {
	switch p.Clamp() {
	case PriorityCritical:
		return "critical"
	case PriorityHigh:
		return "high"
	case PriorityNormal:
		return "normal"
	default:
		return "low"
	}
}

// MessageType categorises the payload carried by a Message.
type MessageType string

const (
	TypeVehicleData              MessageType = "vehicle_data"
	TypeAnalysisRequest          MessageType = "analysis_request"
	TypeAnalysisResult           MessageType = "analysis_result"
	TypeDiagnosisRequest         MessageType = "diagnosis_request"
	TypeDiagnosisResult          MessageType = "diagnosis_result"
	TypeUrgencyRequest           MessageType = "urgency_request"
	TypeUrgencyResult            MessageType = "urgency_result"
	TypeCustomerEngagement       MessageType = "customer_engagement"
	TypeCustomerEngagementResult MessageType = "customer_engagement_result"
	TypeSchedulingRequest        MessageType = "scheduling_request"
	TypeSchedulingResult         MessageType = "scheduling_result"
	TypeFeedback                 MessageType = "feedback"
	TypeFeedbackResult           MessageType = "feedback_result"
	TypeManufacturingInsight     MessageType = "manufacturing_insight"
	TypeError                    MessageType = "error"
	TypeTimeout                  MessageType = "timeout"
	TypeAcknowledgment           MessageType = "acknowledgment"
	TypeStatus                   MessageType = "status"
	TypeCommand                  MessageType = "command"
)

// Message is the envelope carried by the bus.
// Values are treated as immutable once published.
type Message struct {
	ID            string         `json:"message_id"`
	CorrelationID string         `json:"correlation_id"`
	Sender        string         `json:"sender"`
	Receiver      string         `json:"receiver"`
	Type          MessageType    `json:"message_type"`
	Priority      Priority       `json:"priority"`
	Payload       map[string]any `json:"payload,omitempty"`
	CreatedAt     time.Time      `json:"timestamp"`
	ReplyTo       string         `json:"reply_to,omitempty"`
	TTLSeconds    int            `json:"ttl"`

	// InReplyTo carries the ID of the request a result answers.
	InReplyTo string `json:"in_reply_to,omitempty"`
}

// NewMessage builds a message with a fresh ID and the default TTL.
// The correlation ID defaults to the message ID.
func NewMessage(sender, receiver string, typ MessageType, priority Priority, payload map[string]any) Message {
	id := NewID()
	return Message{
		ID:            id,
		CorrelationID: id,
		Sender:        sender,
		Receiver:      receiver,
		Type:          typ,
		Priority:      priority.Clamp(),
		Payload:       payload,
		CreatedAt:     time.Now(),
		TTLSeconds:    DefaultTTLSeconds,
	}
}

// WithCorrelation returns a copy of m bound to the given correlation ID.
func (m Message) WithCorrelation(correlationID string) Message {
	m.CorrelationID = correlationID
	return m
}

// Reply builds a result message answering m.
func (m Message) Reply(sender string, typ MessageType, payload map[string]any) Message {
	r := NewMessage(sender, m.Sender, typ, m.Priority, payload)
	r.CorrelationID = m.CorrelationID
	r.InReplyTo = m.ID
	return r
}

// Clone returns a copy of m whose payload map can be mutated independently.
func (m Message) Clone() Message {
	m.Payload = CloneMap(m.Payload)
	return m
}

// NewID returns a time-ordered unique identifier.
func NewID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// CloneMap deep-copies nested maps and slices of a JSON-like payload.
func CloneMap(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return CloneMap(t)
	case []any:
		s := make([]any, len(t))
		for i, e := range t {
			s[i] = cloneValue(e)
		}
		return s
	case []map[string]any:
		s := make([]map[string]any, len(t))
		for i, e := range t {
			s[i] = CloneMap(e)
		}
		return s
	default:
		return v
	}
}
