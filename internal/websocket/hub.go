package websocket

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/satriahrh/speechgate/domain/entities"
	"github.com/satriahrh/speechgate/domain/repositories"
	"github.com/satriahrh/speechgate/internal/auth"
	"github.com/satriahrh/speechgate/internal/metrics"
)

var upgrader = websocket.Upgrader{
	// Browser clients are served from arbitrary origins, access is gated by token
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// Hub maintains the set of active clients and the streaming sessions they own.
type Hub struct {
	// Registered clients.
	clients map[string]*Client

	// Live sessions by client supplied id.
	sessions map[string]*StreamingSession

	// Register requests from the clients.
	register chan *Client

	// Unregister requests from clients.
	unregister chan *Client

	// Closed when Run returns.
	stopped  chan struct{}
	stopOnce sync.Once

	// Mutex for thread-safe access to clients and sessions.
	// Always taken before any session lock.
	mu sync.RWMutex

	recognizer repositories.StreamingRecognizer
	observer   SessionObserver
	validator  *MessageValidator
	metrics    *metrics.Metrics
	jwtSecret  []byte

	logger *zap.Logger
}

// NewHub creates a new WebSocket hub. An empty jwtSecret disables token checks.
func NewHub(
	recognizer repositories.StreamingRecognizer,
	observer SessionObserver,
	m *metrics.Metrics,
	jwtSecret []byte,
	logger *zap.Logger,
) *Hub {
	if observer == nil {
		observer = nopObserver{}
	}
	return &Hub{
		clients:    make(map[string]*Client),
		sessions:   make(map[string]*StreamingSession),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		stopped:    make(chan struct{}),
		recognizer: recognizer,
		observer:   observer,
		validator:  NewMessageValidator(),
		metrics:    m,
		jwtSecret:  jwtSecret,
		logger:     logger,
	}
}

// Run starts the hub's main loop and closes every connection once ctx is done
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.id] = client
			h.mu.Unlock()
			h.metrics.RecordConnectionOpened()
			h.logger.Info("Client registered", zap.String("connectionID", client.id))

		case client := <-h.unregister:
			h.removeClient(client)

		case <-ctx.Done():
			h.shutdown()
			return
		}
	}
}

// HandleWebSocket upgrades the request and starts the connection pumps
func (h *Hub) HandleWebSocket(c echo.Context) error {
	if len(h.jwtSecret) > 0 {
		token, err := auth.TokenFromRequest(c.Request())
		if err != nil {
			return echo.NewHTTPError(http.StatusUnauthorized, "missing token")
		}
		if _, err := auth.ValidateToken(h.jwtSecret, token); err != nil {
			return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
		}
	}

	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		h.logger.Error("WebSocket upgrade failed", zap.Error(err))
		return err
	}

	client := newClient(h, conn, uuid.NewString(), h.logger)

	select {
	case h.register <- client:
	case <-h.stopped:
		conn.Close()
		return nil
	}

	client.SendJSON(StatusMessage{
		Type:         MessageTypeConnected,
		ConnectionID: client.id,
		Message:      "Connected to speech gateway",
	})

	// Allow collection of memory referenced by the caller by doing all work in
	// new goroutines.
	go client.writePump()
	go client.readPump()

	return nil
}

// SessionCount returns the number of registered sessions
func (h *Hub) SessionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// ClientCount returns the number of registered connections
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ReapIdle closes sessions without activity for longer than timeout
func (h *Hub) ReapIdle(timeout time.Duration) int {
	now := time.Now()

	h.mu.RLock()
	var idle []*StreamingSession
	for _, s := range h.sessions {
		if s.IdleFor(now) > timeout {
			idle = append(idle, s)
		}
	}
	h.mu.RUnlock()

	for _, s := range idle {
		h.logger.Info("Closing idle session",
			zap.String("sessionID", s.ID()),
			zap.String("connectionID", s.ConnectionID()))
		s.Close()
	}
	return len(idle)
}

func (h *Hub) leave(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.stopped:
	}
}

func (h *Hub) removeClient(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c.id]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c.id)
	owned := h.sessionsOfLocked(c.id)
	h.mu.Unlock()

	for _, s := range owned {
		s.Close()
	}
	c.close()

	h.metrics.RecordConnectionClosed()
	h.logger.Info("Client unregistered",
		zap.String("connectionID", c.id),
		zap.Int("closedSessions", len(owned)))
}

func (h *Hub) shutdown() {
	h.stopOnce.Do(func() { close(h.stopped) })

	h.mu.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for id, c := range h.clients {
		clients = append(clients, c)
		delete(h.clients, id)
	}
	sessions := make([]*StreamingSession, 0, len(h.sessions))
	for _, s := range h.sessions {
		sessions = append(sessions, s)
	}
	h.mu.Unlock()

	for _, s := range sessions {
		s.Close()
	}
	for _, c := range clients {
		c.close()
		h.metrics.RecordConnectionClosed()
	}
	h.logger.Info("Hub stopped",
		zap.Int("clients", len(clients)),
		zap.Int("sessions", len(sessions)))
}

func (h *Hub) sessionsOfLocked(connID string) []*StreamingSession {
	var owned []*StreamingSession
	for _, s := range h.sessions {
		if s.connID == connID {
			owned = append(owned, s)
		}
	}
	return owned
}

// removeSession drops s from the registry unless a newer session took its id
func (h *Hub) removeSession(s *StreamingSession) {
	h.mu.Lock()
	if current, ok := h.sessions[s.id]; ok && current == s {
		delete(h.sessions, s.id)
	}
	h.mu.Unlock()
}

func (h *Hub) ownedSession(c *Client, sessionID string) *StreamingSession {
	if sessionID == "" {
		return nil
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	s, ok := h.sessions[sessionID]
	if !ok || s.connID != c.id {
		return nil
	}
	return s
}

func (h *Hub) handleText(c *Client, data []byte) {
	msg, err := h.validator.Parse(data)
	if err != nil {
		h.reject(c, msg.SessionID, err)
		return
	}

	switch msg.Type {
	case MessageTypePing:
		c.SendJSON(newStatusMessage(MessageTypePong, msg.SessionID, ""))
	case MessageTypeStartStream:
		h.startStream(c, msg)
	case MessageTypeAudioChunk:
		h.audioChunk(c, msg)
	case MessageTypeEndStream:
		h.endStream(c, msg.SessionID)
	}
}

func (h *Hub) handleBinary(c *Client, data []byte) {
	s := h.ownedSession(c, c.lastSessionID)
	if s == nil {
		c.logger.Debug("Dropped binary frame without a live session", zap.Int("size", len(data)))
		return
	}
	if err := s.Submit(data); err != nil {
		c.logger.Debug("Dropped binary frame", zap.String("sessionID", s.id), zap.Error(err))
	}
}

// reject reports a bad message. A live session of this connection with the
// same id is failed, otherwise only the requester is told.
func (h *Hub) reject(c *Client, sessionID string, err error) {
	if s := h.ownedSession(c, sessionID); s != nil {
		s.Fail(err)
		return
	}
	c.logger.Info("Rejected message", zap.String("sessionID", sessionID), zap.Error(err))
	c.SendJSON(newStatusMessage(MessageTypeError, sessionID, entities.ClientMessage(err)))
}

func (h *Hub) startStream(c *Client, msg *ClientMessage) {
	cfg, err := msg.StreamConfig()
	if err != nil {
		h.reject(c, msg.SessionID, err)
		return
	}
	audio, err := msg.Audio()
	if err != nil {
		h.reject(c, msg.SessionID, err)
		return
	}

	h.mu.Lock()
	if existing, ok := h.sessions[msg.SessionID]; ok && existing.Live() {
		h.mu.Unlock()
		h.duplicateStart(c, existing, audio)
		return
	}

	s := NewStreamingSession(msg.SessionID, c.id, h.recognizer, c, h.observer, h.metrics, h.logger)
	s.onClosed = h.removeSession
	h.sessions[msg.SessionID] = s
	h.mu.Unlock()

	c.lastSessionID = msg.SessionID
	s.Start(cfg, audio)
}

// duplicateStart handles start_stream for an id that is already live. While
// the provider is still connecting the content is treated as a further
// chunk; once streaming the request is refused.
func (h *Hub) duplicateStart(c *Client, existing *StreamingSession, audio []byte) {
	if existing.connID != c.id {
		c.SendJSON(newStatusMessage(MessageTypeError, existing.id, "session is already active on another connection"))
		return
	}
	if existing.State() == entities.SessionStateStarting {
		if err := existing.Submit(audio); err == nil {
			return
		}
	}
	existing.Fail(entities.NewProtocolError("session is already streaming", nil))
}

func (h *Hub) audioChunk(c *Client, msg *ClientMessage) {
	s := h.ownedSession(c, msg.SessionID)
	if s == nil {
		c.logger.Debug("Dropped audio for unknown session", zap.String("sessionID", msg.SessionID))
		return
	}

	audio, err := msg.Audio()
	if err != nil {
		s.Fail(err)
		return
	}
	c.lastSessionID = msg.SessionID
	if err := s.Submit(audio); err != nil {
		c.logger.Debug("Dropped audio chunk", zap.String("sessionID", msg.SessionID), zap.Error(err))
	}
}

func (h *Hub) endStream(c *Client, sessionID string) {
	s := h.ownedSession(c, sessionID)
	if s == nil {
		c.logger.Debug("end_stream for unknown session", zap.String("sessionID", sessionID))
		return
	}
	s.End()
}
