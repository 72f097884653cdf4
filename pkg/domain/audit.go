package domain

import "time"

// AuditAction names what the bus did with a message.
type AuditAction string

const (
	AuditPublished AuditAction = "published"
	AuditConsumed  AuditAction = "consumed"
	AuditEvicted   AuditAction = "evicted"
)

// AuditEntry is one record of the bus audit trail.
type AuditEntry struct {
	Timestamp     time.Time   `json:"timestamp"`
	Channel       string      `json:"channel"`
	Action        AuditAction `json:"action"`
	MessageID     string      `json:"message_id"`
	CorrelationID string      `json:"correlation_id"`
	Sender        string      `json:"sender"`
	Receiver      string      `json:"receiver"`
	Type          MessageType `json:"message_type"`
	Priority      Priority    `json:"priority"`
}

// NewAuditEntry captures the header fields of msg.
func NewAuditEntry(channel string, action AuditAction, msg Message) AuditEntry {
	return AuditEntry{
		Timestamp:     time.Now(),
		Channel:       channel,
		Action:        action,
		MessageID:     msg.ID,
		CorrelationID: msg.CorrelationID,
		Sender:        msg.Sender,
		Receiver:      msg.Receiver,
		Type:          msg.Type,
		Priority:      msg.Priority,
	}
}
