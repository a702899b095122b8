package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// ChannelEventType discriminates payloads on a conversation's broadcast
// channel.
type ChannelEventType string

const (
	ChannelEventMessage ChannelEventType = "message"
	ChannelEventTyping  ChannelEventType = "typing"
	ChannelEventRead    ChannelEventType = "read"
)

// ChannelEvent is the wire envelope for the ephemeral path. Treat this
// as a contract: version it when breaking changes are required.
type ChannelEvent struct {
	Type           ChannelEventType    `json:"type"`
	ConversationID string              `json:"conversation_id"`
	SenderID       string              `json:"sender_id"`
	SentAt         time.Time           `json:"sent_at"`
	Message        *Message            `json:"message,omitempty"`
	Typing         *TypingAnnouncement `json:"typing,omitempty"`
	// ReadAt is set only on read receipts; omitted elsewhere.
	ReadAt         *time.Time          `json:"read_at,omitempty"`
}

// EncodeChannelEvent serializes an event for publishing.
func EncodeChannelEvent(ev ChannelEvent) ([]byte, error) {
	b, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("encode channel event: %w", err)
	}
	return b, nil
}

// DecodeChannelEvent parses a payload received from the broadcast
// channel.
func DecodeChannelEvent(data []byte) (ChannelEvent, error) {
	var ev ChannelEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return ChannelEvent{}, fmt.Errorf("decode channel event: %w", err)
	}
	return ev, nil
}
