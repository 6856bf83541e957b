package stream

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nattskiftet/chatbot/internal/handler/session"
	"github.com/nattskiftet/chatbot/internal/service/widget"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

type inboundMessage struct {
	Type  string `json:"type"`
	Text  string `json:"text,omitempty"`
	ID    string `json:"id,omitempty"`
	Draft string `json:"draft,omitempty"`
}

type outgoingMessage struct {
	Type      string `json:"type"`
	Data      any    `json:"data,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

type wsConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (c *wsConn) send(msg outgoingMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	msg.Timestamp = time.Now().UnixMilli()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteJSON(msg)
}

func (c *wsConn) ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

// handleWebSocket streams views of the request's widget and accepts session
// commands from the client.
func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	wd, ok := session.WidgetFrom(r.Context())
	if !ok {
		http.Error(w, "widget not resolved", http.StatusInternalServerError)
		return
	}

	header := http.Header{}
	h.cookies.Apply(header, r, wd.ID(), wd.Store().Load())

	conn, err := h.upgrader.Upgrade(w, r, header)
	if err != nil {
		h.logger.Warn().Err(err).Str("widget_id", wd.ID()).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	logger := h.logger.With().Str("widget_id", wd.ID()).Logger()
	logger.Debug().Msg("websocket connected")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	c := &wsConn{conn: conn}
	conn.SetReadLimit(64 << 10)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	go h.writeLoop(ctx, cancel, c, wd)

	for {
		var msg inboundMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Debug().Err(err).Msg("websocket read failed")
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		wd.Touch()

		if err := h.dispatch(ctx, wd, &msg); err != nil {
			status, code := session.StatusFor(err)
			if sendErr := c.send(outgoingMessage{Type: "error", Data: map[string]any{
				"command": msg.Type,
				"code":    code,
				"status":  status,
				"error":   err.Error(),
			}}); sendErr != nil {
				return
			}
			continue
		}

		// Window state does not produce session snapshots on its own.
		if err := c.send(outgoingMessage{Type: "view", Data: wd.View()}); err != nil {
			return
		}
	}
}

func (h *Handler) dispatch(ctx context.Context, wd *widget.Widget, msg *inboundMessage) error {
	m := wd.Manager()
	switch msg.Type {
	case "message":
		return m.SendMessage(ctx, msg.Text)
	case "action":
		return m.SendAction(ctx, msg.ID)
	case "typing":
		m.Compose(msg.Draft)
		return nil
	case "ping":
		m.SendPing(ctx)
		return nil
	case "start":
		return m.Start(ctx)
	case "restart":
		return wd.Restart(ctx)
	case "finish":
		return wd.Finish(ctx)
	case "open":
		return wd.Open(ctx)
	case "close":
		wd.Close()
		return nil
	default:
		return errUnknownCommand(msg.Type)
	}
}

type errUnknownCommand string

func (e errUnknownCommand) Error() string { return "unknown command " + string(e) }

// writeLoop owns outbound traffic. Closing the connection on exit unblocks
// the read loop.
func (h *Handler) writeLoop(ctx context.Context, cancel context.CancelFunc, c *wsConn, wd *widget.Widget) {
	defer c.conn.Close()
	defer cancel()

	views := wd.Watch(ctx)
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	if err := c.send(outgoingMessage{Type: "view", Data: wd.View()}); err != nil {
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case view, ok := <-views:
			if !ok {
				_ = c.send(outgoingMessage{Type: "closed"})
				return
			}
			if err := c.send(outgoingMessage{Type: "view", Data: view}); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.ping(); err != nil {
				return
			}
		}
	}
}
