package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/aretw0/pitcrew/pkg/bus"
	"github.com/aretw0/pitcrew/pkg/domain"
)

// maxEarlyReplies bounds replies kept for requests nobody waits on yet.
const maxEarlyReplies = 1024

// ErrAgentReply is wrapped around an error reported by a remote agent.
var ErrAgentReply = errors.New("agent reported an error")

// BusAgent lets an agent living outside the process serve a stage. It sends
// the stage request on the kind's request channel and waits for the reply
// whose InReplyTo names the request.
type BusAgent struct {
	bus  MessageBus
	kind domain.AgentKind
	sub  bus.Subscriber

	mu      sync.Mutex
	waiters map[string]chan domain.Message
	early   map[string]domain.Message
	order   []string
}

// NewBusAgent subscribes to the result channel of kind. Call Close to detach.
func NewBusAgent(b MessageBus, kind domain.AgentKind) *BusAgent {
	a := &BusAgent{
		bus:     b,
		kind:    kind,
		waiters: make(map[string]chan domain.Message),
		early:   make(map[string]domain.Message),
	}
	a.sub = bus.SubscriberFunc(subscriberPrefix+"bridge."+string(kind), a.deliver)
	b.Subscribe(domain.ResultChannel(kind), a.sub)
	return a
}

// Handle implements Handler. When invoked by the engine the request was
// already published; otherwise Handle publishes one itself.
func (a *BusAgent) Handle(ctx context.Context, payload map[string]any) (map[string]any, error) {
	req, dispatched := RequestFromContext(ctx)
	if !dispatched {
		req = domain.NewMessage(domain.OrchestratorSender, string(a.kind), a.kind.RequestType(), domain.PriorityNormal, payload)
		req.ReplyTo = domain.ResultChannel(a.kind)
	}

	ch := a.wait(req.ID)
	defer a.forget(req.ID)

	if !dispatched {
		if !a.bus.Publish(ctx, domain.RequestChannel(a.kind), req) {
			return nil, fmt.Errorf("failed to publish %s request: %w", a.kind, domain.ErrBusClosed)
		}
	}

	select {
	case reply := <-ch:
		if reply.Type == domain.TypeError {
			reason, _ := reply.Payload[domain.KeyError].(string)
			return nil, fmt.Errorf("%w: %s: %s", ErrAgentReply, a.kind, reason)
		}
		return reply.Payload, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close detaches the agent from the bus.
func (a *BusAgent) Close() {
	a.bus.Unsubscribe(domain.ResultChannel(a.kind), a.sub)
}

func (a *BusAgent) wait(id string) chan domain.Message {
	a.mu.Lock()
	defer a.mu.Unlock()

	ch := make(chan domain.Message, 1)
	if reply, ok := a.early[id]; ok {
		delete(a.early, id)
		ch <- reply
		return ch
	}
	a.waiters[id] = ch
	return ch
}

func (a *BusAgent) forget(id string) {
	a.mu.Lock()
	delete(a.waiters, id)
	a.mu.Unlock()
}

func (a *BusAgent) deliver(_ context.Context, msg domain.Message) {
	if msg.InReplyTo == "" {
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if ch, ok := a.waiters[msg.InReplyTo]; ok {
		delete(a.waiters, msg.InReplyTo)
		select {
		case ch <- msg:
		default:
		}
		return
	}

	a.early[msg.InReplyTo] = msg
	a.order = append(a.order, msg.InReplyTo)
	for len(a.order) > maxEarlyReplies {
		delete(a.early, a.order[0])
		a.order = a.order[1:]
	}
}
