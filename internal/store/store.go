// Package store is the durable delivery path: persistence-backed
// writes visible to all future readers of a conversation, independent
// of current connectivity, plus a change feed for rows inserted by
// other clients.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/fathima-sithara/chat-client-core/internal/domain"
)

var ErrNotFound = errors.New("not found")

// InsertHandler receives rows from the insert change feed.
type InsertHandler func(m domain.Message)

// Subscription is an active change-feed subscription.
type Subscription interface {
	Close() error
}

// MessageStore is the durable row store the dispatcher writes to.
// Insert returns the stored row with its server-assigned id.
type MessageStore interface {
	Insert(ctx context.Context, m domain.Message) (domain.Message, error)
	List(ctx context.Context, conversationID string, limit int64, before time.Time) ([]domain.Message, error)
	MarkRead(ctx context.Context, conversationID, userID string) error
	SubscribeInserts(ctx context.Context, conversationID string, h InsertHandler) (Subscription, error)
}
