package bridge

import (
	"context"
	"time"

	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/fathima-sithara/chat-client-core/internal/broadcast"
	"github.com/fathima-sithara/chat-client-core/internal/conversation"
	"github.com/fathima-sithara/chat-client-core/internal/events"
	"github.com/fathima-sithara/chat-client-core/internal/presence"
	"github.com/fathima-sithara/chat-client-core/internal/store"
	"github.com/fathima-sithara/chat-client-core/internal/translate"
)

// Server builds one conversation session per attached UI socket.
type Server struct {
	Bus            broadcast.Bus
	Store          store.MessageStore
	Translator     translate.Translator
	TargetLang     string
	Telemetry      *events.Publisher
	Presence       *presence.Store
	TypingDebounce time.Duration
	Log            *zap.SugaredLogger
}

// HandleWS is the websocket.Handler used with websocket.New(). Locals
// set by the JWT middleware are preserved through the upgrade.
func (s *Server) HandleWS(wsConn *websocket.Conn) {
	userVal := wsConn.Locals("user_id")
	userID, _ := userVal.(string)
	conversationID := wsConn.Params("conversation_id")
	if userID == "" || conversationID == "" {
		_ = wsConn.Close()
		return
	}

	session := conversation.New(conversation.Config{
		ConversationID: conversationID,
		LocalUserID:    userID,
		Bus:            s.Bus,
		Store:          s.Store,
		Translator:     s.Translator,
		TargetLang:     s.TargetLang,
		Telemetry:      s.Telemetry,
		Presence:       s.Presence,
		TypingDebounce: s.TypingDebounce,
		Log:            s.Log,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	err := session.Open(ctx)
	cancel()
	if err != nil {
		s.Log.Errorw("session open", "conversation_id", conversationID, "user_id", userID, "err", err)
		closeCtx, closeCancel := context.WithTimeout(context.Background(), time.Second)
		session.Close(closeCtx)
		closeCancel()
		_ = wsConn.Close()
		return
	}

	NewConnection(wsConn, session, s.Log).Run()
}
