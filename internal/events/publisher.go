// Package events publishes message lifecycle transitions to kafka for
// downstream consumers (sync, analytics). Delivery is best-effort and
// never blocks or fails the send path.
package events

import (
	"context"
	"encoding/json"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/fathima-sithara/chat-client-core/internal/domain"
)

// Transition is one lifecycle step of a message.
type Transition struct {
	ConversationID string        `json:"conversation_id"`
	TempID         string        `json:"temp_id"`
	MessageID      string        `json:"message_id,omitempty"`
	SenderID       string        `json:"sender_id"`
	Status         domain.Status `json:"status"`
	At             time.Time     `json:"at"`
	Error          string        `json:"error,omitempty"`
}

// Publisher writes transitions to one kafka topic.
type Publisher struct {
	writer *kafkago.Writer
	log    *zap.SugaredLogger
}

// NewPublisher builds an async writer; write errors surface through
// the error logger only.
func NewPublisher(brokers []string, topic string, log *zap.SugaredLogger) *Publisher {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafkago.LeastBytes{},
		RequiredAcks: kafkago.RequireOne,
		Async:        true,
	}
	return &Publisher{writer: w, log: log}
}

// PublishTransition enqueues one transition. Errors are logged and
// swallowed.
func (p *Publisher) PublishTransition(ctx context.Context, t Transition) {
	if p == nil {
		return
	}
	b, err := json.Marshal(t)
	if err != nil {
		p.log.Warnw("transition marshal", "err", err)
		return
	}
	msg := kafkago.Message{
		Key:   []byte(t.ConversationID),
		Value: b,
		Time:  t.At,
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.log.Warnw("transition publish", "temp_id", t.TempID, "err", err)
	}
}

func (p *Publisher) Close() error {
	if p == nil {
		return nil
	}
	return p.writer.Close()
}
