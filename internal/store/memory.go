package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fathima-sithara/chat-client-core/internal/domain"
)

// MemoryStore is an in-process MessageStore for tests and local dev.
// Inserts fan out synchronously to subscribed insert handlers.
type MemoryStore struct {
	mu     sync.Mutex
	rows   map[string][]domain.Message // conversationID -> rows
	byTemp map[string]domain.Message
	subs   map[string]map[int]InsertHandler
	subSeq int

	// FailInsert, when set, makes Insert return its error. Lets tests
	// simulate a durable-path outage.
	FailInsert error
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rows:   make(map[string][]domain.Message),
		byTemp: make(map[string]domain.Message),
		subs:   make(map[string]map[int]InsertHandler),
	}
}

func (s *MemoryStore) Insert(ctx context.Context, m domain.Message) (domain.Message, error) {
	if err := ctx.Err(); err != nil {
		return domain.Message{}, err
	}
	s.mu.Lock()
	if s.FailInsert != nil {
		err := s.FailInsert
		s.mu.Unlock()
		return domain.Message{}, err
	}
	if existing, ok := s.byTemp[m.TempID]; ok {
		// Retry with the same temp id lands on the original row.
		s.mu.Unlock()
		return existing, nil
	}
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	m.Status = ""
	m.IsEphemeral = false
	s.rows[m.ConversationID] = append(s.rows[m.ConversationID], m)
	s.byTemp[m.TempID] = m
	handlers := make([]InsertHandler, 0, len(s.subs[m.ConversationID]))
	for _, h := range s.subs[m.ConversationID] {
		handlers = append(handlers, h)
	}
	s.mu.Unlock()

	for _, h := range handlers {
		h(m)
	}
	return m, nil
}

func (s *MemoryStore) List(ctx context.Context, conversationID string, limit int64, before time.Time) ([]domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []domain.Message{}
	for _, m := range s.rows[conversationID] {
		if !before.IsZero() && !m.CreatedAt.Before(before) {
			continue
		}
		out = append(out, m)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && int64(len(out)) > limit {
		out = out[int64(len(out))-limit:]
	}
	return out, nil
}

func (s *MemoryStore) MarkRead(ctx context.Context, conversationID, userID string) error {
	return nil
}

func (s *MemoryStore) SubscribeInserts(ctx context.Context, conversationID string, h InsertHandler) (Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.subs[conversationID] == nil {
		s.subs[conversationID] = make(map[int]InsertHandler)
	}
	s.subSeq++
	id := s.subSeq
	s.subs[conversationID][id] = h
	return &memoryStoreSub{store: s, conversationID: conversationID, id: id}, nil
}

type memoryStoreSub struct {
	store          *MemoryStore
	conversationID string
	id             int
}

func (s *memoryStoreSub) Close() error {
	s.store.mu.Lock()
	defer s.store.mu.Unlock()
	delete(s.store.subs[s.conversationID], s.id)
	return nil
}
