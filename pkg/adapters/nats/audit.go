// Package nats streams the bus audit trail to a NATS server.
package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aretw0/pitcrew/pkg/domain"
	"github.com/nats-io/nats.go"
)

// DefaultSubjectPrefix is prepended to the bus channel of each entry, so
// consumers can subscribe to "pitcrew.audit.>" or a single channel.
const DefaultSubjectPrefix = "pitcrew.audit"

// Publisher is the part of *nats.Conn the sink needs.
type Publisher interface {
	Publish(subject string, data []byte) error
}

type flusher interface {
	FlushWithContext(ctx context.Context) error
}

// AuditSink implements ports.AuditSink by publishing every entry as JSON.
type AuditSink struct {
	pub    Publisher
	prefix string
}

// Option configures the AuditSink.
type Option func(*AuditSink)

// WithSubjectPrefix overrides DefaultSubjectPrefix.
func WithSubjectPrefix(prefix string) Option {
	return func(s *AuditSink) {
		s.prefix = strings.TrimSuffix(prefix, ".")
	}
}

// Connect dials the server at url.
func Connect(url string) (*nats.Conn, error) {
	conn, err := nats.Connect(url, nats.Name("pitcrew"))
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	return conn, nil
}

// NewAuditSink creates a sink publishing through pub.
func NewAuditSink(pub Publisher, opts ...Option) *AuditSink {
	s := &AuditSink{
		pub:    pub,
		prefix: DefaultSubjectPrefix,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Subject returns the subject entries of channel are published on.
func (s *AuditSink) Subject(channel string) string {
	return s.prefix + "." + channel
}

// Record publishes the batch and, when the publisher supports it, flushes
// so the batch is on the wire before returning.
func (s *AuditSink) Record(ctx context.Context, entries []domain.AuditEntry) error {
	for _, entry := range entries {
		data, err := json.Marshal(entry)
		if err != nil {
			return fmt.Errorf("failed to marshal audit entry: %w", err)
		}
		if err := s.pub.Publish(s.Subject(entry.Channel), data); err != nil {
			return fmt.Errorf("failed to publish audit entry %s: %w", entry.MessageID, err)
		}
	}
	if f, ok := s.pub.(flusher); ok && len(entries) > 0 {
		if err := f.FlushWithContext(ctx); err != nil {
			return fmt.Errorf("failed to flush audit entries: %w", err)
		}
	}
	return nil
}
