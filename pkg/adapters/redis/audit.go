package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aretw0/pitcrew/pkg/domain"
	backend "github.com/redis/go-redis/v9"
)

// DefaultAuditLimit caps the redis audit list.
const DefaultAuditLimit = 100000

// AuditSink implements ports.AuditSink as a capped Redis list, newest last.
type AuditSink struct {
	client *backend.Client
	key    string
	limit  int64
}

// AuditOption configures the AuditSink.
type AuditOption func(*AuditSink)

// WithAuditKey overrides the list key.
func WithAuditKey(key string) AuditOption {
	return func(s *AuditSink) {
		s.key = key
	}
}

// WithAuditLimit caps the list length. Zero or less disables trimming.
func WithAuditLimit(n int64) AuditOption {
	return func(s *AuditSink) {
		s.limit = n
	}
}

// NewAuditSink creates a sink writing to DefaultPrefix + "audit".
func NewAuditSink(client *backend.Client, opts ...AuditOption) *AuditSink {
	s := &AuditSink{
		client: client,
		key:    DefaultPrefix + "audit",
		limit:  DefaultAuditLimit,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Record appends the batch in one round trip and trims the list.
func (s *AuditSink) Record(ctx context.Context, entries []domain.AuditEntry) error {
	if len(entries) == 0 {
		return nil
	}

	values := make([]any, 0, len(entries))
	for _, entry := range entries {
		data, err := json.Marshal(entry)
		if err != nil {
			return fmt.Errorf("failed to marshal audit entry: %w", err)
		}
		values = append(values, data)
	}

	pipe := s.client.Pipeline()
	pipe.RPush(ctx, s.key, values...)
	if s.limit > 0 {
		pipe.LTrim(ctx, s.key, -s.limit, -1)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to record audit entries: %w", err)
	}
	return nil
}

// Recent returns up to limit of the newest stored entries, oldest first.
func (s *AuditSink) Recent(ctx context.Context, limit int64) ([]domain.AuditEntry, error) {
	if limit <= 0 {
		return nil, nil
	}
	raw, err := s.client.LRange(ctx, s.key, -limit, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read audit entries: %w", err)
	}

	entries := make([]domain.AuditEntry, 0, len(raw))
	for _, r := range raw {
		var entry domain.AuditEntry
		if err := json.Unmarshal([]byte(r), &entry); err != nil {
			return nil, fmt.Errorf("failed to unmarshal audit entry: %w", err)
		}
		entries = append(entries, entry)
	}
	return entries, nil
}
