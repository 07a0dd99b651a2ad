package transport

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/rpggio/taskhub/internal/domain/activity"
	"github.com/rpggio/taskhub/internal/domain/presence"
	"github.com/rpggio/taskhub/internal/domain/user"
	"github.com/rpggio/taskhub/internal/event"
	"github.com/rpggio/taskhub/internal/hub"
)

// Inbound socket message types.
const (
	MsgStartEditing = "startEditingTask"
	MsgStopEditing  = "stopEditingTask"
	MsgTyping       = "typing"
	MsgStopTyping   = "stopTyping"
)

// InboundMessage is a message sent by a client over the socket.
type InboundMessage struct {
	Type   string `json:"type"`
	TaskID string `json:"taskId,omitempty"`
	Field  string `json:"field,omitempty"`
}

// PresenceTracker records who is connected.
type PresenceTracker interface {
	Connect(ctx context.Context, id user.Identity, handle presence.Handle) ([]user.User, error)
	Disconnect(ctx context.Context, id user.Identity, handle presence.Handle) ([]user.User, error)
}

// Broadcaster owns the outbound queue of every connection.
type Broadcaster interface {
	Register(handle, userID string) <-chan event.Event
	Unregister(handle string)
	Publish(ctx context.Context, ev event.Event)
	Send(handle string, ev event.Event) bool
}

// EditLocker takes and releases soft edit locks.
type EditLocker interface {
	StartEdit(ctx context.Context, actor user.Identity, taskID string) (bool, error)
	StopEdit(ctx context.Context, actor user.Identity, taskID string) error
}

// SocketConfig tunes the socket endpoint.
type SocketConfig struct {
	// TypingRate limits typing events per connection, per second.
	TypingRate  float64
	TypingBurst int
	ReadLimit   int64
	// OriginPatterns are extra hosts allowed to open cross-origin sockets.
	OriginPatterns []string
	Writer         hub.WriterConfig
}

// DefaultSocketConfig returns the socket settings used by the server.
func DefaultSocketConfig() SocketConfig {
	return SocketConfig{
		TypingRate:  5,
		TypingBurst: 10,
		ReadLimit:   64 << 10,
		Writer:      hub.DefaultWriterConfig(),
	}
}

// SocketHandler serves the persistent client connection.
type SocketHandler struct {
	presence PresenceTracker
	hub      Broadcaster
	locks    EditLocker
	feed     ActivityService
	cfg      SocketConfig
	logger   *slog.Logger
	active   sync.WaitGroup
}

// NewSocketHandler creates the socket endpoint.
func NewSocketHandler(p PresenceTracker, b Broadcaster, locks EditLocker, feed ActivityService, cfg SocketConfig, logger *slog.Logger) *SocketHandler {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &SocketHandler{
		presence: p,
		hub:      b,
		locks:    locks,
		feed:     feed,
		cfg:      cfg,
		logger:   logger,
	}
}

func (h *SocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	actor, ok := IdentityFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Authentication error")
		return
	}
	h.active.Add(1)
	defer h.active.Done()

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.cfg.OriginPatterns,
	})
	if err != nil {
		h.logger.Warn("socket accept failed", "user_id", actor.ID, "error", err)
		return
	}
	defer conn.CloseNow()
	if h.cfg.ReadLimit > 0 {
		conn.SetReadLimit(h.cfg.ReadLimit)
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	handle := presence.Handle(uuid.NewString())
	logger := h.logger.With("user_id", actor.ID, "handle", string(handle))
	queue := h.hub.Register(string(handle), actor.ID)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		defer cancel()
		if err := hub.Drain(ctx, conn, queue, h.cfg.Writer); err != nil && !isClosed(err) {
			logger.Debug("socket writer stopped", "error", err)
		}
	}()

	if _, err := h.presence.Connect(ctx, actor, handle); err != nil {
		logger.Error("recording presence", "error", err)
		conn.Close(websocket.StatusInternalError, "presence unavailable")
	} else {
		logger.Info("client connected", "username", actor.Username)
		h.sendRecent(ctx, handle, logger)
		h.readLoop(ctx, conn, actor, logger)
	}

	h.hub.Unregister(string(handle))
	if _, err := h.presence.Disconnect(context.WithoutCancel(ctx), actor, handle); err != nil {
		logger.Error("clearing presence", "error", err)
	}
	<-writerDone
	logger.Info("client disconnected", "username", actor.Username)
}

func (h *SocketHandler) readLoop(ctx context.Context, conn *websocket.Conn, actor user.Identity, logger *slog.Logger) {
	limiter := rate.NewLimiter(rate.Limit(h.cfg.TypingRate), h.cfg.TypingBurst)
	for {
		var msg InboundMessage
		if err := wsjson.Read(ctx, conn, &msg); err != nil {
			if !isClosed(err) {
				logger.Debug("socket read stopped", "error", err)
			}
			return
		}
		h.dispatch(ctx, actor, msg, limiter, logger)
	}
}

// Wait blocks until every connection served so far has finished its
// disconnect cleanup, or ctx is done.
func (h *SocketHandler) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		h.active.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *SocketHandler) sendRecent(ctx context.Context, handle presence.Handle, logger *slog.Logger) {
	if h.feed == nil {
		return
	}
	entries, err := h.feed.Recent(ctx, 0)
	if err != nil {
		logger.Warn("loading recent activity", "error", err)
		return
	}
	if entries == nil {
		entries = []activity.Entry{}
	}
	h.hub.Send(string(handle), event.Event{Name: event.RecentActivity, Payload: entries})
}

func (h *SocketHandler) dispatch(ctx context.Context, actor user.Identity, msg InboundMessage, limiter *rate.Limiter, logger *slog.Logger) {
	switch msg.Type {
	case MsgStartEditing:
		if _, err := h.locks.StartEdit(ctx, actor, msg.TaskID); err != nil {
			logger.Warn("start editing failed", "task_id", msg.TaskID, "error", err)
		}
	case MsgStopEditing:
		if err := h.locks.StopEdit(ctx, actor, msg.TaskID); err != nil {
			logger.Warn("stop editing failed", "task_id", msg.TaskID, "error", err)
		}
	case MsgTyping:
		if !limiter.Allow() {
			return
		}
		h.hub.Publish(ctx, event.Event{
			Name:    event.UserTyping,
			Payload: event.TypingPayload{TaskID: msg.TaskID, Field: msg.Field, Username: actor.Username},
			Except:  actor.ID,
		})
	case MsgStopTyping:
		h.hub.Publish(ctx, event.Event{
			Name:    event.UserStoppedTyping,
			Payload: event.TypingPayload{TaskID: msg.TaskID, Field: msg.Field, Username: actor.Username},
			Except:  actor.ID,
		})
	default:
		logger.Debug("ignoring unknown socket message", "type", msg.Type)
	}
}

func isClosed(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, io.EOF) {
		return true
	}
	status := websocket.CloseStatus(err)
	return status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway
}
