package bus

import (
	"context"

	"github.com/aretw0/pitcrew/pkg/domain"
)

// Subscriber receives messages published on the channels it is subscribed to.
// Two subscribers with the same SubscriberID are the same subscription.
type Subscriber interface {
	SubscriberID() string
	Deliver(ctx context.Context, msg domain.Message)
}

type funcSubscriber struct {
	id string
	fn func(context.Context, domain.Message)
}

func (s funcSubscriber) SubscriberID() string { return s.id }

func (s funcSubscriber) Deliver(ctx context.Context, msg domain.Message) { s.fn(ctx, msg) }

// SubscriberFunc adapts a function into a Subscriber identified by id.
func SubscriberFunc(id string, fn func(context.Context, domain.Message)) Subscriber {
	return funcSubscriber{id: id, fn: fn}
}
