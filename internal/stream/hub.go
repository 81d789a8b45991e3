// Package stream pushes live scan events to websocket clients.
package stream

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/caihongdao/antbox-monitor/internal/scanner"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
	broadcastSize  = 256
	clientSize     = 64
)

// Event types sent to clients.
const (
	TypeDeviceFound   = "device_found"
	TypeScanProgress  = "scan_progress"
	TypeScanCompleted = "scan_completed"
)

// ErrBroadcastFull is returned when the hub cannot keep up with events.
var ErrBroadcastFull = errors.New("broadcast channel full")

// Message is the envelope written to clients.
type Message struct {
	Type      string    `json:"type"`
	ScanID    uint64    `json:"scan_id"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data"`
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub fans scan events out to connected websocket clients. It implements
// scanner.EventSink. Slow clients are disconnected rather than waited for.
type Hub struct {
	upgrader websocket.Upgrader
	logger   *zap.SugaredLogger

	clients    map[*client]struct{}
	register   chan *client
	unregister chan *client
	broadcast  chan []byte
	shutdown   chan struct{}
	closeOnce  sync.Once
	connected  atomic.Int64
}

// NewHub creates a hub and starts its event loop.
func NewHub(logger *zap.SugaredLogger) *Hub {
	h := &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		logger:     logger,
		clients:    make(map[*client]struct{}),
		register:   make(chan *client),
		unregister: make(chan *client),
		broadcast:  make(chan []byte, broadcastSize),
		shutdown:   make(chan struct{}),
	}

	go h.run()
	return h
}

// ServeWS upgrades the request and streams events until the client leaves.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warnw("Failed to upgrade websocket connection", "remote_addr", r.RemoteAddr, "error", err)
		return
	}

	c := &client{conn: conn, send: make(chan []byte, clientSize)}
	select {
	case h.register <- c:
	case <-h.shutdown:
		_ = conn.Close()
		return
	}

	h.logger.Debugw("Websocket client connected", "remote_addr", r.RemoteAddr)

	go h.writePump(c)
	h.readPump(c)
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	return int(h.connected.Load())
}

// HandleResult broadcasts a discovered device.
func (h *Hub) HandleResult(sessionID uint64, outcome scanner.ProbeOutcome) error {
	return h.publish(TypeDeviceFound, sessionID, outcome)
}

// HandleProgress broadcasts a progress snapshot.
func (h *Hub) HandleProgress(snapshot scanner.ProgressSnapshot) error {
	return h.publish(TypeScanProgress, snapshot.SessionID, snapshot)
}

// HandleSummary broadcasts the end of a scan.
func (h *Hub) HandleSummary(summary scanner.Summary) error {
	return h.publish(TypeScanCompleted, summary.SessionID, summary)
}

// Close disconnects every client and stops the hub.
func (h *Hub) Close() {
	h.closeOnce.Do(func() { close(h.shutdown) })
}

func (h *Hub) publish(eventType string, scanID uint64, data any) error {
	if h.ClientCount() == 0 {
		return nil
	}

	payload, err := json.Marshal(Message{
		Type:      eventType,
		ScanID:    scanID,
		Timestamp: time.Now().UTC(),
		Data:      data,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal %s message: %w", eventType, err)
	}

	select {
	case h.broadcast <- payload:
		return nil
	case <-h.shutdown:
		return nil
	default:
		return ErrBroadcastFull
	}
}

func (h *Hub) run() {
	for {
		select {
		case <-h.shutdown:
			for c := range h.clients {
				h.drop(c)
			}
			return

		case c := <-h.register:
			h.clients[c] = struct{}{}
			h.connected.Store(int64(len(h.clients)))

		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				h.drop(c)
			}

		case msg := <-h.broadcast:
			for c := range h.clients {
				select {
				case c.send <- msg:
				default:
					h.logger.Debugw("Dropping slow websocket client", "remote_addr", c.conn.RemoteAddr().String())
					h.drop(c)
				}
			}
		}
	}
}

// drop must only be called from run.
func (h *Hub) drop(c *client) {
	delete(h.clients, c)
	close(c.send)
	h.connected.Store(int64(len(h.clients)))
}

func (h *Hub) readPump(c *client) {
	defer func() {
		select {
		case h.unregister <- c:
		case <-h.shutdown:
		}
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Debugw("Websocket closed unexpectedly", "error", err)
			}
			return
		}
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
