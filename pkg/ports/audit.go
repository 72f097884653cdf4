package ports

import (
	"context"

	"github.com/aretw0/pitcrew/pkg/domain"
)

// AuditSink receives the bus audit stream.
// Delivery is best-effort; the bus never blocks a publish on a sink.
type AuditSink interface {
	Record(ctx context.Context, entries []domain.AuditEntry) error
}
