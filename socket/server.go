package socket

import (
	"context"
	"time"

	"klymo_server/services"

	socketio "github.com/googollee/go-socket.io"
	log "github.com/sirupsen/logrus"
)

// Client events.
const (
	EventQueueEnter  = "queue:enter"
	EventQueueLeave  = "queue:leave"
	EventChatMessage = "chat:message"
	EventChatLeave   = "chat:leave"
	EventChatNext    = "chat:next"
)

// RoomPayload is the body of chat:leave and chat:next.
type RoomPayload struct {
	RoomID string `json:"roomId"`
}

// MessagePayload is the body of chat:message. Older clients send the text
// as "message".
type MessagePayload struct {
	RoomID  string `json:"roomId"`
	Text    string `json:"text"`
	Message string `json:"message"`
}

func (p MessagePayload) body() string {
	if p.Text != "" {
		return p.Text
	}
	return p.Message
}

// Handler binds socket events to the matchmaker.
type Handler struct {
	Auth        *services.GatewayAuth
	Matchmaker  *services.Matchmaker
	CallTimeout time.Duration
}

// NewSocketServer initializes and returns a new Socket.IO server
func NewSocketServer(h *Handler) *socketio.Server {
	server := socketio.NewServer(nil)

	server.OnConnect("/", h.OnConnect)
	server.OnEvent("/", EventQueueEnter, h.OnQueueEnter)
	server.OnEvent("/", EventQueueLeave, h.OnQueueLeave)
	server.OnEvent("/", EventChatMessage, h.OnChatMessage)
	server.OnEvent("/", EventChatLeave, h.OnChatLeave)
	server.OnEvent("/", EventChatNext, h.OnChatNext)
	server.OnError("/", func(s socketio.Conn, err error) {
		log.WithError(err).Warn("⚠️ Socket error")
	})
	server.OnDisconnect("/", h.OnDisconnect)

	return server
}

func (h *Handler) callContext() (context.Context, context.CancelFunc) {
	timeout := h.CallTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return context.WithTimeout(context.Background(), timeout)
}

// connContext returns the identity bound at handshake, nil if the
// connection was rejected.
func connContext(s socketio.Conn) *services.ConnContext {
	cc, _ := s.Context().(*services.ConnContext)
	return cc
}

// bound is connContext restricted to the connection currently bound to its
// identity. Events from a replaced connection are dropped.
func (h *Handler) bound(s socketio.Conn) *services.ConnContext {
	cc := connContext(s)
	if cc == nil || !h.Matchmaker.Current(cc) {
		return nil
	}
	return cc
}

func (h *Handler) OnConnect(s socketio.Conn) error {
	u := s.URL()
	cc, err := h.Auth.Authenticate(s.ID(), s.RemoteHeader(), u.Query())
	if err != nil {
		return err
	}
	s.SetContext(cc)
	if old, ok := h.Matchmaker.Connect(cc, s).(socketio.Conn); ok {
		log.WithFields(log.Fields{"deviceId": cc.Identity, "connId": old.ID()}).Info("Closing replaced connection")
		if err := old.Close(); err != nil {
			log.WithError(err).WithField("connId", old.ID()).Warn("⚠️ Failed to close replaced connection")
		}
	}
	return nil
}

func (h *Handler) OnQueueEnter(s socketio.Conn) {
	cc := h.bound(s)
	if cc == nil {
		return
	}
	ctx, cancel := h.callContext()
	defer cancel()

	if err := h.Matchmaker.EnterQueue(ctx, cc.Identity); err != nil {
		queueError(s, cc, err)
	}
}

func (h *Handler) OnQueueLeave(s socketio.Conn) {
	cc := h.bound(s)
	if cc == nil {
		return
	}
	ctx, cancel := h.callContext()
	defer cancel()

	if err := h.Matchmaker.LeaveQueue(ctx, cc.Identity); err != nil {
		queueError(s, cc, err)
	}
}

func (h *Handler) OnChatMessage(s socketio.Conn, msg MessagePayload) {
	cc := h.bound(s)
	if cc == nil || msg.RoomID == "" || msg.body() == "" {
		return
	}
	if err := h.Matchmaker.Message(cc.Identity, msg.RoomID, msg.body()); err != nil {
		chatError(s, cc, err)
	}
}

func (h *Handler) OnChatLeave(s socketio.Conn, msg RoomPayload) {
	cc := h.bound(s)
	if cc == nil || msg.RoomID == "" {
		return
	}
	ctx, cancel := h.callContext()
	defer cancel()

	if err := h.Matchmaker.Leave(ctx, cc.Identity, msg.RoomID); err != nil {
		chatError(s, cc, err)
	}
}

func (h *Handler) OnChatNext(s socketio.Conn, msg RoomPayload) {
	cc := h.bound(s)
	if cc == nil || msg.RoomID == "" {
		return
	}
	ctx, cancel := h.callContext()
	defer cancel()

	if err := h.Matchmaker.Skip(ctx, cc.Identity, msg.RoomID); err != nil {
		if services.ReasonCode(err) == services.ReasonNotInRoom {
			chatError(s, cc, err)
			return
		}
		queueError(s, cc, err)
	}
}

func (h *Handler) OnDisconnect(s socketio.Conn, reason string) {
	cc := connContext(s)
	if cc == nil {
		return
	}
	ctx, cancel := h.callContext()
	defer cancel()

	h.Matchmaker.Disconnect(ctx, cc.Identity, cc.ConnID)
	log.WithFields(log.Fields{"deviceId": cc.Identity, "reason": reason}).Debug("Socket closed")
}

func queueError(s socketio.Conn, cc *services.ConnContext, err error) {
	reason := services.ReasonCode(err)
	if reason == services.ReasonInternal {
		log.WithError(err).WithField("deviceId", cc.Identity).Error("❌ Queue request failed")
	}
	s.Emit(services.EventQueueError, map[string]string{"reason": reason})
}

func chatError(s socketio.Conn, cc *services.ConnContext, err error) {
	reason := services.ReasonCode(err)
	if reason == services.ReasonInternal {
		log.WithError(err).WithField("deviceId", cc.Identity).Error("❌ Chat request failed")
	}
	s.Emit(services.EventChatError, map[string]string{"reason": reason})
}
