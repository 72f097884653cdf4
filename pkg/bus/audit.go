package bus

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/aretw0/pitcrew/pkg/domain"
	"github.com/aretw0/pitcrew/pkg/ports"
)

const (
	// DefaultAuditCeiling is the audit size that triggers truncation.
	DefaultAuditCeiling = 100000
	// DefaultAuditKeep is the number of most recent entries kept after truncation.
	DefaultAuditKeep = 50000

	sinkBuffer    = 4096
	sinkBatchSize = 256
	sinkFlush     = time.Second
)

// auditLog is the append-only trail of bus actions, truncated to the most
// recent entries once it grows past its ceiling.
type auditLog struct {
	mu      sync.Mutex
	entries []domain.AuditEntry
	ceiling int
	keep    int

	sinkCh     chan domain.AuditEntry
	sinkClosed bool
	sinkDone   chan struct{}
	dropped    int64
}

func newAuditLog(ceiling, keep int) *auditLog {
	if ceiling <= 0 {
		ceiling = DefaultAuditCeiling
	}
	if keep <= 0 || keep > ceiling {
		keep = ceiling / 2
	}
	return &auditLog{ceiling: ceiling, keep: keep}
}

func (a *auditLog) record(e domain.AuditEntry) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.entries = append(a.entries, e)
	if len(a.entries) > a.ceiling {
		n := copy(a.entries, a.entries[len(a.entries)-a.keep:])
		clear(a.entries[n:])
		a.entries = a.entries[:n]
	}

	if a.sinkCh != nil && !a.sinkClosed {
		select {
		case a.sinkCh <- e:
		default:
			a.dropped++
		}
	}
}

func (a *auditLog) len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.entries)
}

// recent returns up to limit of the newest entries, oldest first.
func (a *auditLog) recent(limit int) []domain.AuditEntry {
	a.mu.Lock()
	defer a.mu.Unlock()

	start := 0
	if limit > 0 && limit < len(a.entries) {
		start = len(a.entries) - limit
	}
	return append([]domain.AuditEntry(nil), a.entries[start:]...)
}

func (a *auditLog) droppedCount() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.dropped
}

// forward starts streaming every future entry to sink in batches.
func (a *auditLog) forward(sink ports.AuditSink, logger *slog.Logger) {
	a.mu.Lock()
	a.sinkCh = make(chan domain.AuditEntry, sinkBuffer)
	a.sinkDone = make(chan struct{})
	ch, done := a.sinkCh, a.sinkDone
	a.mu.Unlock()

	go func() {
		defer close(done)

		ticker := time.NewTicker(sinkFlush)
		defer ticker.Stop()

		batch := make([]domain.AuditEntry, 0, sinkBatchSize)
		flush := func() {
			if len(batch) == 0 {
				return
			}
			if err := sink.Record(context.Background(), batch); err != nil {
				logger.Warn("audit sink rejected batch", "entries", len(batch), "err", err)
			}
			batch = make([]domain.AuditEntry, 0, sinkBatchSize)
		}

		for {
			select {
			case e, ok := <-ch:
				if !ok {
					flush()
					return
				}
				batch = append(batch, e)
				if len(batch) >= sinkBatchSize {
					flush()
				}
			case <-ticker.C:
				flush()
			}
		}
	}()
}

// closeSink stops forwarding and waits for the last batch to be flushed.
func (a *auditLog) closeSink(ctx context.Context) {
	a.mu.Lock()
	if a.sinkCh == nil || a.sinkClosed {
		a.mu.Unlock()
		return
	}
	a.sinkClosed = true
	close(a.sinkCh)
	done := a.sinkDone
	a.mu.Unlock()

	select {
	case <-done:
	case <-ctx.Done():
	}
}
