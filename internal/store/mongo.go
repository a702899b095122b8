package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/fathima-sithara/chat-client-core/internal/domain"
)

// MongoStore implements MessageStore on a mongo collection. The insert
// change feed rides on collection change streams filtered to inserts
// for one conversation.
type MongoStore struct {
	coll *mongo.Collection
	log  *zap.SugaredLogger
}

// NewMongoStore wires the messages collection and ensures the listing
// index exists.
func NewMongoStore(db *mongo.Database, log *zap.SugaredLogger) *MongoStore {
	s := &MongoStore{coll: db.Collection("messages"), log: log}
	_, err := s.coll.Indexes().CreateMany(context.Background(), []mongo.IndexModel{
		{Keys: bson.D{{Key: "conversation_id", Value: 1}, {Key: "created_at", Value: -1}}},
		{Keys: bson.D{{Key: "temp_id", Value: 1}}, Options: options.Index().SetUnique(true).SetSparse(true)},
	})
	if err != nil {
		log.Warnw("message index create", "err", err)
	}
	return s
}

type messageRow struct {
	ID             string            `bson:"_id"`
	TempID         string            `bson:"temp_id"`
	ConversationID string            `bson:"conversation_id"`
	SenderID       string            `bson:"sender_id"`
	RecipientID    string            `bson:"recipient_id,omitempty"`
	OriginalText   string            `bson:"original_text"`
	TranslatedText string            `bson:"translated_text,omitempty"`
	Kind           domain.Kind       `bson:"kind"`
	CreatedAt      time.Time         `bson:"created_at"`
	ReadBy         []string          `bson:"read_by"`
}

func toRow(m domain.Message) messageRow {
	return messageRow{
		ID:             m.ID,
		TempID:         m.TempID,
		ConversationID: m.ConversationID,
		SenderID:       m.SenderID,
		RecipientID:    m.RecipientID,
		OriginalText:   m.OriginalText,
		TranslatedText: m.TranslatedText,
		Kind:           m.Kind,
		CreatedAt:      m.CreatedAt,
		ReadBy:         []string{},
	}
}

func (r messageRow) toMessage() domain.Message {
	return domain.Message{
		ID:             r.ID,
		TempID:         r.TempID,
		ConversationID: r.ConversationID,
		SenderID:       r.SenderID,
		RecipientID:    r.RecipientID,
		OriginalText:   r.OriginalText,
		TranslatedText: r.TranslatedText,
		Kind:           r.Kind,
		CreatedAt:      r.CreatedAt,
	}
}

// Insert writes the row keyed by temp id. Retries with the same temp
// id upsert onto the existing row instead of duplicating it.
func (s *MongoStore) Insert(ctx context.Context, m domain.Message) (domain.Message, error) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	row := toRow(m)
	if row.ID == "" {
		row.ID = uuid.NewString()
	}
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now().UTC()
	}

	_, err := s.coll.UpdateOne(ctx,
		bson.M{"temp_id": row.TempID},
		bson.M{"$setOnInsert": row},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return domain.Message{}, fmt.Errorf("insert message: %w", err)
	}

	var stored messageRow
	if err := s.coll.FindOne(ctx, bson.M{"temp_id": row.TempID}).Decode(&stored); err != nil {
		return domain.Message{}, fmt.Errorf("read back message: %w", err)
	}
	return stored.toMessage(), nil
}

func (s *MongoStore) List(ctx context.Context, conversationID string, limit int64, before time.Time) ([]domain.Message, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	filter := bson.M{"conversation_id": conversationID}
	if !before.IsZero() {
		filter["created_at"] = bson.M{"$lt": before}
	}
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}}).SetLimit(limit)
	cur, err := s.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer cur.Close(ctx)

	out := []domain.Message{}
	for cur.Next(ctx) {
		var r messageRow
		if err := cur.Decode(&r); err != nil {
			return nil, err
		}
		out = append(out, r.toMessage())
	}
	// Reverse into created_at ascending for the view.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, cur.Err()
}

// MarkRead tags every message in the conversation not sent by userID
// as read by them. Invoked on view focus.
func (s *MongoStore) MarkRead(ctx context.Context, conversationID, userID string) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	_, err := s.coll.UpdateMany(ctx,
		bson.M{"conversation_id": conversationID, "sender_id": bson.M{"$ne": userID}},
		bson.M{"$addToSet": bson.M{"read_by": userID}},
	)
	if err != nil {
		return fmt.Errorf("mark read: %w", err)
	}
	return nil
}

// SubscribeInserts tails the collection change stream for inserts into
// one conversation and hands each new row to h.
func (s *MongoStore) SubscribeInserts(ctx context.Context, conversationID string, h InsertHandler) (Subscription, error) {
	pipeline := mongo.Pipeline{bson.D{{Key: "$match", Value: bson.D{
		{Key: "operationType", Value: "insert"},
		{Key: "fullDocument.conversation_id", Value: conversationID},
	}}}}
	streamCtx, cancel := context.WithCancel(context.Background())
	stream, err := s.coll.Watch(streamCtx, pipeline)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("watch inserts: %w", err)
	}
	go func() {
		defer stream.Close(context.Background())
		for stream.Next(streamCtx) {
			var ev struct {
				FullDocument messageRow `bson:"fullDocument"`
			}
			if err := stream.Decode(&ev); err != nil {
				s.log.Warnw("change stream decode", "err", err)
				continue
			}
			h(ev.FullDocument.toMessage())
		}
		if err := stream.Err(); err != nil && streamCtx.Err() == nil {
			s.log.Warnw("change stream closed", "conversation_id", conversationID, "err", err)
		}
	}()
	return mongoSub{cancel: cancel}, nil
}

type mongoSub struct{ cancel context.CancelFunc }

func (s mongoSub) Close() error {
	s.cancel()
	return nil
}
