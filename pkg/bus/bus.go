package bus

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"

	"github.com/aretw0/pitcrew/internal/logging"
	"github.com/aretw0/pitcrew/pkg/domain"
	"github.com/aretw0/pitcrew/pkg/ports"
	"github.com/sourcegraph/conc"
)

// Observer receives bus activity, typically for metrics.
// Implementations must be safe for concurrent use and must not block.
type Observer interface {
	MessagePublished(channel string, priority domain.Priority)
	MessageEvicted(channel string, priority domain.Priority)
	MessageConsumed(channel string, priority domain.Priority)
	DeliveryPanicked(channel string)
}

// Stats is a point-in-time view of the bus.
type Stats struct {
	ChannelCount       int                     `json:"channel_count"`
	SubscriberCount    int                     `json:"subscriber_count"`
	LoggedMessageCount int                     `json:"logged_message_count"`
	DroppedAuditCount  int64                   `json:"dropped_audit_count"`
	PerChannel         map[string]ChannelStats `json:"per_channel"`
}

// ChannelStats describes a single channel.
type ChannelStats struct {
	MessageCount    int `json:"message_count"`
	SubscriberCount int `json:"subscriber_count"`
}

// Bus owns the channel registry, the subscriber lists and the audit trail.
type Bus struct {
	mu          sync.RWMutex
	channels    map[string]*PriorityChannel
	subscribers map[string][]Subscriber

	// lifecycle guards closed against concurrent fan-out spawns.
	lifecycle sync.RWMutex
	closed    bool
	inflight  conc.WaitGroup

	audit          *auditLog
	capacity       int
	monitorChannel string
	announcements  map[string]bool
	sink           ports.AuditSink
	observer       Observer
	logger         *slog.Logger

	auditCeiling, auditKeep int
}

// Option configures the Bus.
type Option func(*Bus)

// WithLogger configures a logger for the Bus.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Bus) {
		b.logger = logger
	}
}

// WithQueueCapacity sets the per-band capacity of every channel.
func WithQueueCapacity(capacity int) Option {
	return func(b *Bus) {
		b.capacity = capacity
	}
}

// WithAuditLimit bounds the audit trail: once it holds more than ceiling
// entries it is truncated to the most recent keep entries.
func WithAuditLimit(ceiling, keep int) Option {
	return func(b *Bus) {
		b.auditCeiling = ceiling
		b.auditKeep = keep
	}
}

// WithMonitorChannel sets the channel whose subscribers receive a copy of
// every publish. An empty name disables mirroring.
func WithMonitorChannel(channel string) Option {
	return func(b *Bus) {
		b.monitorChannel = channel
	}
}

// WithAnnouncementChannels replaces the set of channels that are published
// to without anyone draining their queues. Evictions on them are expected
// once a band fills and are logged at debug level instead of warn.
func WithAnnouncementChannels(channels ...string) Option {
	return func(b *Bus) {
		b.announcements = make(map[string]bool, len(channels))
		for _, c := range channels {
			b.announcements[c] = true
		}
	}
}

// DefaultAnnouncementChannels are the engine's status, monitoring and
// insight channels plus the request channel of every agent kind.
func DefaultAnnouncementChannels() []string {
	channels := []string{
		domain.ChannelOrchestratorStatus,
		domain.ChannelSystemMonitoring,
		domain.ChannelManufacturingInsight,
	}
	for _, kind := range domain.AgentKinds {
		channels = append(channels, domain.RequestChannel(kind))
	}
	return channels
}

// WithAuditSink streams audit entries to an external sink.
func WithAuditSink(sink ports.AuditSink) Option {
	return func(b *Bus) {
		b.sink = sink
	}
}

// WithObserver attaches an activity observer.
func WithObserver(observer Observer) Option {
	return func(b *Bus) {
		b.observer = observer
	}
}

// New creates a Bus.
func New(opts ...Option) *Bus {
	b := &Bus{
		channels:       make(map[string]*PriorityChannel),
		subscribers:    make(map[string][]Subscriber),
		capacity:       DefaultQueueCapacity,
		monitorChannel: domain.ChannelSystemMonitoring,
		logger:         logging.NewNop(),
		auditCeiling:   DefaultAuditCeiling,
		auditKeep:      DefaultAuditKeep,
	}
	WithAnnouncementChannels(DefaultAnnouncementChannels()...)(b)
	for _, opt := range opts {
		opt(b)
	}
	b.audit = newAuditLog(b.auditCeiling, b.auditKeep)
	if b.sink != nil {
		b.audit.forward(b.sink, b.logger)
	}
	return b
}

// channelLocked returns the PriorityChannel for name, creating it on first use.
// The caller must hold b.mu for writing.
func (b *Bus) channelLocked(name string) *PriorityChannel {
	ch, ok := b.channels[name]
	if !ok {
		ch = NewPriorityChannel(b.capacity)
		b.channels[name] = ch
	}
	return ch
}

// Publish enqueues msg on channel and fans it out to the channel's subscribers.
// A full priority band evicts its oldest message instead of blocking.
// It returns false only if the bus is closed or the channel name is empty.
func (b *Bus) Publish(ctx context.Context, channel string, msg domain.Message) bool {
	if channel == "" {
		b.logger.Warn("publish rejected: empty channel name", "message_id", msg.ID)
		return false
	}

	b.lifecycle.RLock()
	defer b.lifecycle.RUnlock()
	if b.closed {
		b.logger.Debug("publish rejected: bus closed", "channel", channel, "message_id", msg.ID)
		return false
	}

	msg = msg.Clone()
	msg.Priority = msg.Priority.Clamp()

	b.mu.Lock()
	ch := b.channelLocked(channel)
	subs := append([]Subscriber(nil), b.subscribers[channel]...)
	var monitors []Subscriber
	if b.monitorChannel != "" && channel != b.monitorChannel {
		monitors = append(monitors, b.subscribers[b.monitorChannel]...)
	}
	b.mu.Unlock()

	if evicted, dropped := ch.Push(msg); dropped {
		level := slog.LevelWarn
		if b.announcements[channel] {
			level = slog.LevelDebug
		}
		b.logger.Log(ctx, level, "priority band full, evicted oldest message",
			"channel", channel,
			"priority", evicted.Priority.String(),
			"message_id", evicted.ID,
		)
		b.audit.record(domain.NewAuditEntry(channel, domain.AuditEvicted, evicted))
		if b.observer != nil {
			b.observer.MessageEvicted(channel, evicted.Priority)
		}
	}

	b.audit.record(domain.NewAuditEntry(channel, domain.AuditPublished, msg))
	if b.observer != nil {
		b.observer.MessagePublished(channel, msg.Priority)
	}

	deliverCtx := context.WithoutCancel(ctx)
	for _, sub := range subs {
		b.deliver(deliverCtx, channel, sub, msg)
	}
	for _, sub := range monitors {
		b.deliver(deliverCtx, channel, sub, msg)
	}

	b.logger.Debug("message published",
		"channel", channel,
		"message_id", msg.ID,
		"type", string(msg.Type),
		"priority", msg.Priority.String(),
		"subscribers", len(subs),
	)
	return true
}

// deliver runs one subscriber invocation on its own goroutine.
// The caller must hold b.lifecycle for reading.
func (b *Bus) deliver(ctx context.Context, channel string, sub Subscriber, msg domain.Message) {
	// Each subscriber gets its own copy so payload mutations stay local.
	msg = msg.Clone()
	b.inflight.Go(func() {
		b.safeDeliver(ctx, channel, sub, msg)
	})
}

// safeDeliver invokes a subscriber and recovers from any panics.
func (b *Bus) safeDeliver(ctx context.Context, channel string, sub Subscriber, msg domain.Message) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("subscriber panicked",
				"channel", channel,
				"subscriber", sub.SubscriberID(),
				"message_id", msg.ID,
				"err", fmt.Errorf("panic: %v", r),
				"stack", string(debug.Stack()),
			)
			if b.observer != nil {
				b.observer.DeliveryPanicked(channel)
			}
		}
	}()
	sub.Deliver(ctx, msg)
}

// Subscribe registers sub on channel. Subscribing the same ID twice is a no-op.
func (b *Bus) Subscribe(channel string, sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.channelLocked(channel)
	for _, existing := range b.subscribers[channel] {
		if existing.SubscriberID() == sub.SubscriberID() {
			return
		}
	}
	b.subscribers[channel] = append(b.subscribers[channel], sub)
	b.logger.Debug("subscriber added", "channel", channel, "subscriber", sub.SubscriberID())
}

// Unsubscribe removes sub from channel. Removing an unknown subscriber is a no-op.
func (b *Bus) Unsubscribe(channel string, sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subscribers[channel]
	for i, existing := range subs {
		if existing.SubscriberID() == sub.SubscriberID() {
			b.subscribers[channel] = append(subs[:i:i], subs[i+1:]...)
			b.logger.Debug("subscriber removed", "channel", channel, "subscriber", sub.SubscriberID())
			return
		}
	}
}

// NextMessage pops the oldest message of the highest non-empty band of channel.
func (b *Bus) NextMessage(channel string) (domain.Message, bool) {
	b.mu.RLock()
	ch, ok := b.channels[channel]
	b.mu.RUnlock()
	if !ok {
		return domain.Message{}, false
	}

	msg, ok := ch.Pop()
	if !ok {
		return domain.Message{}, false
	}

	b.audit.record(domain.NewAuditEntry(channel, domain.AuditConsumed, msg))
	if b.observer != nil {
		b.observer.MessageConsumed(channel, msg.Priority)
	}
	return msg, true
}

// Stats returns a snapshot of channel and subscriber counts.
func (b *Bus) Stats() Stats {
	b.mu.RLock()
	defer b.mu.RUnlock()

	stats := Stats{
		ChannelCount:       len(b.channels),
		LoggedMessageCount: b.audit.len(),
		DroppedAuditCount:  b.audit.droppedCount(),
		PerChannel:         make(map[string]ChannelStats, len(b.channels)),
	}
	for name, ch := range b.channels {
		n := len(b.subscribers[name])
		stats.SubscriberCount += n
		stats.PerChannel[name] = ChannelStats{
			MessageCount:    ch.Len(),
			SubscriberCount: n,
		}
	}
	return stats
}

// AuditLog returns the most recent limit audit entries, oldest first.
// A limit of zero or less returns the whole trail.
func (b *Bus) AuditLog(limit int) []domain.AuditEntry {
	return b.audit.recent(limit)
}

// QueueDepth returns the number of messages waiting on channel.
func (b *Bus) QueueDepth(channel string) int {
	b.mu.RLock()
	ch, ok := b.channels[channel]
	b.mu.RUnlock()
	if !ok {
		return 0
	}
	return ch.Len()
}

// Close stops accepting publishes and waits for in-flight deliveries and the
// audit sink to drain, or for ctx to be done.
func (b *Bus) Close(ctx context.Context) error {
	b.lifecycle.Lock()
	if b.closed {
		b.lifecycle.Unlock()
		return nil
	}
	b.closed = true
	b.lifecycle.Unlock()

	done := make(chan struct{})
	go func() {
		b.inflight.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return fmt.Errorf("failed to drain subscriber deliveries: %w", ctx.Err())
	}

	b.audit.closeSink(ctx)
	return nil
}
