// Package presence keeps online/offline state in redis so other
// clients and bridge instances can see who is reachable.
package presence

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Keys used:
// - <prefix>:presence:<userID> -> json {status,conversation_id,last_seen}

type Store struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

type Info struct {
	Status         string `json:"status"`
	ConversationID string `json:"conversation_id,omitempty"`
	LastSeen       int64  `json:"last_seen"`
}

func NewStore(client *redis.Client, prefix string, ttl time.Duration) *Store {
	if ttl == 0 {
		ttl = 5 * time.Minute
	}
	return &Store{client: client, prefix: prefix, ttl: ttl}
}

func (s *Store) key(userID string) string {
	return fmt.Sprintf("%s:presence:%s", s.prefix, userID)
}

// SetOnline marks the user online in the given conversation, with TTL
// so a crashed client decays to offline.
func (s *Store) SetOnline(ctx context.Context, userID, conversationID string) error {
	info := Info{Status: "online", ConversationID: conversationID, LastSeen: time.Now().Unix()}
	b, _ := json.Marshal(info)
	return s.client.Set(ctx, s.key(userID), b, s.ttl).Err()
}

func (s *Store) SetOffline(ctx context.Context, userID string) error {
	info := Info{Status: "offline", LastSeen: time.Now().Unix()}
	b, _ := json.Marshal(info)
	return s.client.Set(ctx, s.key(userID), b, s.ttl).Err()
}

func (s *Store) Get(ctx context.Context, userID string) (Info, error) {
	b, err := s.client.Get(ctx, s.key(userID)).Bytes()
	if err == redis.Nil {
		return Info{Status: "offline"}, nil
	}
	if err != nil {
		return Info{}, err
	}
	var info Info
	if err := json.Unmarshal(b, &info); err != nil {
		return Info{}, err
	}
	return info, nil
}
