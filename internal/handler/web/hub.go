package web

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	sessionmodel "github.com/zhouzirui/foodbot/internal/model/session"
	"github.com/zhouzirui/foodbot/internal/service/reservation"
)

// ErrNotConnected is returned when the user has no open socket.
var ErrNotConnected = errors.New("user is not connected")

const writeTimeout = 10 * time.Second

// Handler consumes inbound events.
type Handler interface {
	Handle(ctx context.Context, ev reservation.Event) error
}

// inboundFrame is what a browser sends.
type inboundFrame struct {
	Kind    string `json:"kind"`
	Payload string `json:"payload"`
	// Handle names the bot message a button belongs to, or the client's
	// own id for a text frame.
	Handle string `json:"handle,omitempty"`
	Name   string `json:"name,omitempty"`
}

// outboundFrame is what the hub writes.
type outboundFrame struct {
	Type    string                 `json:"type"`
	Handle  string                 `json:"handle,omitempty"`
	User    string                 `json:"user,omitempty"`
	Text    string                 `json:"text,omitempty"`
	Buttons [][]reservation.Button `json:"buttons,omitempty"`
}

type conn struct {
	ws *websocket.Conn
	mu sync.Mutex
}

func (c *conn) write(frame outboundFrame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.ws.WriteJSON(frame)
}

// Hub is a reservation.Gateway over WebSocket connections. A user id is a
// uuid handed out on connect; reconnecting with ?user=<id> resumes it.
type Hub struct {
	upgrader websocket.Upgrader
	handler  Handler

	mu    sync.RWMutex
	conns map[string]*conn
}

var _ reservation.Gateway = (*Hub)(nil)

// NewHub creates an empty hub. The handler is attached with Attach.
func NewHub() *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		conns: make(map[string]*conn),
	}
}

// Attach sets the event handler. The hub is the handler's gateway, so the
// two are wired in this order.
func (h *Hub) Attach(handler Handler) {
	h.handler = handler
}

// ServeHTTP upgrades the request and pumps frames until the socket closes.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.handler == nil {
		http.Error(w, "gateway not ready", http.StatusServiceUnavailable)
		return
	}

	userID := strings.TrimSpace(r.URL.Query().Get("user"))
	if _, err := uuid.Parse(userID); err != nil {
		userID = uuid.NewString()
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.WithError(err).Warn("websocket upgrade failed")
		return
	}

	c := &conn{ws: ws}
	h.register(userID, c)
	defer h.unregister(userID, c)

	logger := log.WithField("user", userID)
	logger.Debug("websocket connected")

	if err := c.write(outboundFrame{Type: "hello", User: userID}); err != nil {
		logger.WithError(err).Warn("failed to greet websocket client")
		return
	}

	ctx := r.Context()
	for {
		var frame inboundFrame
		if err := ws.ReadJSON(&frame); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.WithError(err).Debug("websocket read ended")
			}
			return
		}

		ev, ok := eventFromFrame(userID, frame)
		if !ok {
			_ = c.write(outboundFrame{Type: "error", Text: "unknown frame kind"})
			continue
		}
		if err := h.handler.Handle(ctx, ev); err != nil {
			logger.WithError(err).Error("failed to handle websocket event")
		}
	}
}

// Send writes a new message frame and returns its handle.
func (h *Hub) Send(ctx context.Context, userID string, out reservation.Outbound) (sessionmodel.MessageRef, error) {
	c, ok := h.conn(userID)
	if !ok {
		return sessionmodel.MessageRef{}, ErrNotConnected
	}

	handle := uuid.NewString()
	if err := c.write(outboundFrame{Type: "send", Handle: handle, Text: out.Text, Buttons: out.Buttons}); err != nil {
		return sessionmodel.MessageRef{}, errors.Wrap(err, "failed to write websocket frame")
	}
	return sessionmodel.MessageRef{ChatID: userID, MessageID: handle}, nil
}

// Edit replaces an earlier message on the client.
func (h *Hub) Edit(ctx context.Context, ref sessionmodel.MessageRef, out reservation.Outbound) error {
	return h.frame(ref, outboundFrame{Type: "edit", Handle: ref.MessageID, Text: out.Text, Buttons: out.Buttons})
}

// Delete removes a message on the client.
func (h *Hub) Delete(ctx context.Context, ref sessionmodel.MessageRef) error {
	return h.frame(ref, outboundFrame{Type: "delete", Handle: ref.MessageID})
}

// Connected reports the number of open sockets.
func (h *Hub) Connected() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

func (h *Hub) frame(ref sessionmodel.MessageRef, frame outboundFrame) error {
	c, ok := h.conn(ref.ChatID)
	if !ok {
		return ErrNotConnected
	}
	if err := c.write(frame); err != nil {
		return errors.Wrap(err, "failed to write websocket frame")
	}
	return nil
}

func (h *Hub) conn(userID string) (*conn, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	c, ok := h.conns[userID]
	return c, ok
}

// register replaces any older socket of the same user.
func (h *Hub) register(userID string, c *conn) {
	h.mu.Lock()
	old := h.conns[userID]
	h.conns[userID] = c
	h.mu.Unlock()

	if old != nil {
		_ = old.ws.Close()
	}
}

func (h *Hub) unregister(userID string, c *conn) {
	h.mu.Lock()
	if h.conns[userID] == c {
		delete(h.conns, userID)
	}
	h.mu.Unlock()
	_ = c.ws.Close()
}

// eventFromFrame converts a browser frame into a workflow event. Text
// frames without a client id get a fresh handle.
func eventFromFrame(userID string, frame inboundFrame) (reservation.Event, bool) {
	ev := reservation.Event{
		UserID:  userID,
		Payload: frame.Payload,
		Profile: reservation.Profile{DisplayName: strings.TrimSpace(frame.Name)},
	}

	switch reservation.EventKind(frame.Kind) {
	case reservation.EventButton:
		ev.Kind = reservation.EventButton
		if frame.Handle != "" {
			ev.Reply = sessionmodel.MessageRef{ChatID: userID, MessageID: frame.Handle}
		}
	case reservation.EventText, reservation.EventCommand:
		ev.Kind = reservation.EventText
		if strings.HasPrefix(strings.TrimSpace(frame.Payload), "/") || frame.Kind == string(reservation.EventCommand) {
			ev.Kind = reservation.EventCommand
		}
		handle := frame.Handle
		if handle == "" {
			handle = uuid.NewString()
		}
		ev.Message = sessionmodel.MessageRef{ChatID: userID, MessageID: handle}
	default:
		return reservation.Event{}, false
	}
	return ev, true
}
