package broadcast

import (
	"context"
	"fmt"

	"github.com/nats-io/nats.go"
)

// NATSBus implements Bus over core NATS subjects. Core NATS is
// at-most-once with no persistence of missed events, which is exactly
// the contract the ephemeral path wants.
type NATSBus struct {
	nc     *nats.Conn
	prefix string
}

// NewNATSBus connects to the given URL.
func NewNATSBus(url, prefix string) (*NATSBus, error) {
	nc, err := nats.Connect(url)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	return &NATSBus{nc: nc, prefix: prefix}, nil
}

func (b *NATSBus) subject(channel string) string {
	if b.prefix == "" {
		return channel
	}
	return b.prefix + "." + channel
}

func (b *NATSBus) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return b.nc.Publish(b.subject(channel), payload)
}

func (b *NATSBus) Subscribe(ctx context.Context, channel string, h Handler) (Subscription, error) {
	sub, err := b.nc.Subscribe(b.subject(channel), func(m *nats.Msg) {
		h(m.Data)
	})
	if err != nil {
		return nil, fmt.Errorf("nats subscribe %s: %w", channel, err)
	}
	return natsSub{sub: sub}, nil
}

// Close drains the connection.
func (b *NATSBus) Close() error { return b.nc.Drain() }

type natsSub struct{ sub *nats.Subscription }

func (s natsSub) Close() error { return s.sub.Unsubscribe() }
