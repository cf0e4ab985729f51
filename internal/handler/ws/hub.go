package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"MergeWatch/internal/domain/models"
	domrepo "MergeWatch/internal/domain/repository"
	"MergeWatch/pkg/logger"
	"MergeWatch/pkg/util"
)

const maxReadBytes = 512

// HubOption configures a Hub.
type HubOption func(*Hub)

// WithSendBuffer sets how many events may queue per client before it is dropped.
func WithSendBuffer(n int) HubOption {
	return func(h *Hub) {
		if n > 0 {
			h.sendBuffer = n
		}
	}
}

// WithPing sets the keepalive ping interval and the write deadline of every frame.
func WithPing(interval, writeTimeout time.Duration) HubOption {
	return func(h *Hub) {
		if interval > 0 {
			h.pingInterval = interval
		}
		if writeTimeout > 0 {
			h.writeTimeout = writeTimeout
		}
	}
}

func WithLogger(l *logger.Logger) HubOption {
	return func(h *Hub) {
		if l != nil {
			h.l = l
		}
	}
}

// Hub fans reconciled anomaly events out to websocket subscribers. A client
// may subscribe to one alert with ?alert_id=, otherwise it sees every alert.
type Hub struct {
	upgrader     websocket.Upgrader
	sendBuffer   int
	pingInterval time.Duration
	writeTimeout time.Duration
	l            *logger.Logger
	now          func() time.Time

	mu      sync.RWMutex
	clients map[*client]struct{}
	closed  bool
}

type client struct {
	conn    *websocket.Conn
	alertID int64
	send    chan []byte
	once    sync.Once
}

func (c *client) stop() {
	c.once.Do(func() { close(c.send) })
}

func NewHub(opts ...HubOption) *Hub {
	h := &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		sendBuffer:   64,
		pingInterval: 30 * time.Second,
		writeTimeout: 10 * time.Second,
		l:            logger.Nop(),
		now:          time.Now,
		clients:      make(map[*client]struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Hub) RegisterRoutes(e *echo.Echo) {
	e.GET("/api/anomalies/stream", h.Stream)
}

// Stream upgrades the request and serves the client until it disconnects.
func (h *Hub) Stream(c echo.Context) error {
	conn, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// the upgrader already wrote the error response
		h.l.Warn("websocket upgrade failed", logger.Error(err))
		return nil
	}
	cl := &client{
		conn:    conn,
		alertID: util.ParseInt64Default(c.QueryParam("alert_id"), 0),
		send:    make(chan []byte, h.sendBuffer),
	}
	if !h.add(cl) {
		_ = conn.Close()
		return nil
	}
	h.l.Debug("stream client connected", logger.Int64("alert_id", cl.alertID))

	go h.writeLoop(cl)
	h.readLoop(cl)
	h.remove(cl)
	return nil
}

func (h *Hub) add(cl *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[cl] = struct{}{}
	return true
}

func (h *Hub) remove(cl *client) {
	h.mu.Lock()
	delete(h.clients, cl)
	h.mu.Unlock()
	cl.stop()
}

// readLoop discards client frames; it only exists to process pongs and
// notice disconnects.
func (h *Hub) readLoop(cl *client) {
	pongWait := 2 * h.pingInterval
	cl.conn.SetReadLimit(maxReadBytes)
	_ = cl.conn.SetReadDeadline(h.now().Add(pongWait))
	cl.conn.SetPongHandler(func(string) error {
		return cl.conn.SetReadDeadline(h.now().Add(pongWait))
	})
	for {
		if _, _, err := cl.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writeLoop(cl *client) {
	ticker := time.NewTicker(h.pingInterval)
	defer func() {
		ticker.Stop()
		_ = cl.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-cl.send:
			_ = cl.conn.SetWriteDeadline(h.now().Add(h.writeTimeout))
			if !ok {
				_ = cl.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := cl.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = cl.conn.SetWriteDeadline(h.now().Add(h.writeTimeout))
			if err := cl.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// PublishReconciled broadcasts one event to matching clients. Clients whose
// queue is full are disconnected rather than blocking the reconciliation.
func (h *Hub) PublishReconciled(_ context.Context, alertID, enumerationItemID int64, anomalies []*models.Anomaly) error {
	if len(anomalies) == 0 {
		return nil
	}
	payload, err := json.Marshal(models.ReconciledEvent{
		AlertID:           alertID,
		EnumerationItemID: enumerationItemID,
		Anomalies:         models.TopLevel(anomalies),
		PublishedAt:       h.now(),
	})
	if err != nil {
		return err
	}

	var slow []*client
	h.mu.RLock()
	for cl := range h.clients {
		if cl.alertID != 0 && cl.alertID != alertID {
			continue
		}
		select {
		case cl.send <- payload:
		default:
			slow = append(slow, cl)
		}
	}
	h.mu.RUnlock()

	for _, cl := range slow {
		h.l.Warn("dropping slow stream client", logger.Int64("alert_id", cl.alertID))
		h.remove(cl)
	}
	return nil
}

// Clients returns the number of connected subscribers.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every client and refuses new ones.
func (h *Hub) Close() error {
	h.mu.Lock()
	h.closed = true
	clients := h.clients
	h.clients = make(map[*client]struct{})
	h.mu.Unlock()

	for cl := range clients {
		cl.stop()
	}
	return nil
}

var _ domrepo.AnomalyPublisher = (*Hub)(nil)
