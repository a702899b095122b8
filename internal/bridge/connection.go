// Package bridge attaches thin UI clients to conversation sessions
// over a websocket. The UI submits send/typing/retry commands and
// receives projection snapshots whenever the session changes.
package bridge

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/fathima-sithara/chat-client-core/internal/conversation"
	"github.com/fathima-sithara/chat-client-core/internal/domain"
)

// Command is one inbound frame from the UI.
type Command struct {
	Type         string `json:"type"` // send | typing | retry | read
	RecipientID  string `json:"recipient_id,omitempty"`
	Text         string `json:"text,omitempty"`
	PreviousText string `json:"previous_text,omitempty"`
	TempID       string `json:"temp_id,omitempty"`
}

// Snapshot is the outbound projection frame.
type Snapshot struct {
	Type        string           `json:"type"` // state
	Messages    []domain.Message `json:"messages"`
	TypingUsers []string         `json:"typing_users"`
}

// SendResult reports a durable-path settlement for one temp id.
type SendResult struct {
	Type   string `json:"type"` // send_result
	TempID string `json:"temp_id"`
	Error  string `json:"error,omitempty"`
}

type Connection struct {
	ws      *websocket.Conn
	session *conversation.Session
	send    chan any
	done    chan struct{}
	log     *zap.SugaredLogger
}

func NewConnection(ws *websocket.Conn, session *conversation.Session, log *zap.SugaredLogger) *Connection {
	return &Connection{
		ws:      ws,
		session: session,
		send:    make(chan any, 64),
		done:    make(chan struct{}),
		log:     log,
	}
}

// Run pumps until the socket closes, then releases the session.
func (c *Connection) Run() {
	go c.writePump()
	go c.updatePump()
	c.readPump()

	close(c.done)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c.session.Close(ctx)
}

func (c *Connection) enqueue(v any) {
	select {
	case c.send <- v:
	default:
		// Slow UI: drop the frame, the next snapshot supersedes it.
	}
}

func (c *Connection) readPump() {
	c.ws.SetReadLimit(64 * 1024)
	_ = c.ws.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(60 * time.Second))
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			return
		}
		var cmd Command
		if err := json.Unmarshal(data, &cmd); err != nil {
			c.log.Debugw("bad command frame", "err", err)
			continue
		}
		c.handle(cmd)
	}
}

func (c *Connection) handle(cmd Command) {
	ctx := context.Background()
	switch cmd.Type {
	case "send":
		receipt, err := c.session.Send(ctx, cmd.RecipientID, cmd.Text)
		if err != nil {
			c.enqueue(SendResult{Type: "send_result", Error: err.Error()})
			return
		}
		go c.awaitDurable(receipt.TempID, receipt.Durable)
	case "typing":
		c.session.OnTextChanged(ctx, cmd.Text, cmd.PreviousText)
	case "read":
		c.session.MarkRead(ctx)
	case "retry":
		receipt, err := c.session.Retry(ctx, cmd.TempID)
		if err != nil {
			c.enqueue(SendResult{Type: "send_result", TempID: cmd.TempID, Error: err.Error()})
			return
		}
		go c.awaitDurable(receipt.TempID, receipt.Durable)
	}
}

// awaitDurable relays the durable settlement so the UI can restore the
// compose box for retry on failure.
func (c *Connection) awaitDurable(tempID string, durable <-chan error) {
	err := <-durable
	res := SendResult{Type: "send_result", TempID: tempID}
	if err != nil {
		res.Error = err.Error()
	}
	c.enqueue(res)
}

// updatePump turns session change signals into snapshot frames.
func (c *Connection) updatePump() {
	c.snapshot()
	for {
		select {
		case <-c.session.Updates():
			c.snapshot()
		case <-c.done:
			return
		}
	}
}

func (c *Connection) snapshot() {
	c.enqueue(Snapshot{
		Type:        "state",
		Messages:    c.session.Messages(),
		TypingUsers: c.session.TypingUsers(),
	})
}

func (c *Connection) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()
	for {
		select {
		case msg := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.ws.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := c.ws.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(time.Second)); err != nil {
				return
			}
		case <-c.done:
			_ = c.ws.WriteControl(websocket.CloseMessage, []byte{}, time.Now().Add(time.Second))
			return
		}
	}
}
