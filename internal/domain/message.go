package domain

import "time"

// Kind is the message content type.
type Kind string

const (
	KindText  Kind = "text"
	KindImage Kind = "image"
	KindVideo Kind = "video"
)

// Status is the client-side delivery lifecycle of a message.
type Status string

const (
	StatusComposing Status = "composing"
	StatusSending   Status = "sending"
	StatusSent      Status = "sent"
	StatusDelivered Status = "delivered"
	StatusRead      Status = "read"
	StatusFailed    Status = "failed"
)

// rank orders the forward-only lifecycle. Failed sits outside the
// ordering: it is forced by a durable write failure and cleared only
// by an explicit retry.
func (s Status) rank() int {
	switch s {
	case StatusComposing:
		return 0
	case StatusSending:
		return 1
	case StatusSent:
		return 2
	case StatusDelivered:
		return 3
	case StatusRead:
		return 4
	}
	return -1
}

// Max returns the further-advanced of two statuses. Failed wins
// unconditionally: a durable write failure must surface even after a
// delivery inference.
func (s Status) Max(other Status) Status {
	if s == StatusFailed || other == StatusFailed {
		return StatusFailed
	}
	if other.rank() > s.rank() {
		return other
	}
	return s
}

// Message is the client-visible record unifying the broadcast and the
// durable delivery paths. ID is assigned by the store on insert and is
// empty until the durable path acknowledges; TempID is generated per
// compose action and is the deduplication key across both paths.
type Message struct {
	ID             string    `bson:"_id,omitempty" json:"id,omitempty"`
	TempID         string    `bson:"temp_id" json:"temp_id"`
	ConversationID string    `bson:"conversation_id" json:"conversation_id"`
	SenderID       string    `bson:"sender_id" json:"sender_id"`
	RecipientID    string    `bson:"recipient_id,omitempty" json:"recipient_id,omitempty"`
	OriginalText   string    `bson:"original_text" json:"original_text"`
	TranslatedText string    `bson:"translated_text,omitempty" json:"translated_text,omitempty"`
	Kind           Kind      `bson:"kind" json:"kind"`
	CreatedAt      time.Time `bson:"created_at" json:"created_at"`

	// Lifecycle fields live only on the client, never in the store.
	Status      Status `bson:"-" json:"status"`
	IsEphemeral bool   `bson:"-" json:"is_ephemeral"`
}

// TypingAnnouncement is a start/stop typing signal on the conversation
// broadcast channel.
type TypingAnnouncement struct {
	ConversationID string `json:"conversation_id"`
	UserID         string `json:"user_id"`
	IsTyping       bool   `json:"is_typing"`
}
