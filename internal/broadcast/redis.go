package broadcast

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisBus implements Bus over redis pub/sub so multiple bridge
// instances fan events out to each other's subscribers.
type RedisBus struct {
	client *redis.Client
	prefix string
}

// NewRedisBus wraps an existing client. prefix namespaces channels,
// e.g. "chat".
func NewRedisBus(client *redis.Client, prefix string) *RedisBus {
	return &RedisBus{client: client, prefix: prefix}
}

func (b *RedisBus) key(channel string) string {
	if b.prefix == "" {
		return channel
	}
	return fmt.Sprintf("%s:%s", b.prefix, channel)
}

func (b *RedisBus) Publish(ctx context.Context, channel string, payload []byte) error {
	return b.client.Publish(ctx, b.key(channel), payload).Err()
}

func (b *RedisBus) Subscribe(ctx context.Context, channel string, h Handler) (Subscription, error) {
	ps := b.client.Subscribe(ctx, b.key(channel))
	// Force the subscription onto the wire before returning so a
	// publish issued right after Subscribe is not missed.
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("redis subscribe %s: %w", channel, err)
	}
	go func() {
		for msg := range ps.Channel() {
			h([]byte(msg.Payload))
		}
	}()
	return redisSub{ps: ps}, nil
}

type redisSub struct{ ps *redis.PubSub }

func (s redisSub) Close() error { return s.ps.Close() }
