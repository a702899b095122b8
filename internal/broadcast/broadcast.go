// Package broadcast is the ephemeral delivery path: a topic-based
// publish/subscribe primitive with at-most-once, best-effort delivery
// to currently-connected subscribers and no replay for clients that
// were offline at publish time.
package broadcast

import "context"

// Handler receives raw payloads published on a channel.
type Handler func(payload []byte)

// Subscription is an active channel subscription. Close releases it;
// the handler is not invoked afterwards.
type Subscription interface {
	Close() error
}

// Bus is the broadcast primitive the delivery dispatcher and typing
// coordinator publish on.
type Bus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string, h Handler) (Subscription, error)
}
