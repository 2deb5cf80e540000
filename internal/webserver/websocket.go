package webserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/nantokaworks/choice-wheel/internal/metrics"
	"github.com/nantokaworks/choice-wheel/internal/shared/logger"
	"github.com/nantokaworks/choice-wheel/internal/types"
	"go.uber.org/zap"
)

// WebSocket message types sent by the server.
const (
	MsgConnected     = "connected"
	MsgWheelSnapshot = "wheel_snapshot"
	MsgSpinCount     = "spin_count"
	MsgError         = "error"
)

const (
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 54 * time.Second
	wsWriteWait  = 10 * time.Second
)

// WSMessage はWebSocketメッセージの構造を定義
type WSMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// WSClient はWebSocket接続クライアントを表す
type WSClient struct {
	conn        *websocket.Conn
	hub         *WSHub
	send        chan []byte
	clientID    string
	wheelID     string
	connectedAt time.Time

	mu     sync.Mutex
	closed bool
}

// WSHub はすべてのWebSocket接続を管理
type WSHub struct {
	clients    map[*WSClient]bool
	register   chan *WSClient
	unregister chan *WSClient
	broadcast  chan WSMessage
	done       chan struct{}
	stopOnce   sync.Once
	mu         sync.RWMutex
	upgrader   websocket.Upgrader
}

func newWSHub(allowedOrigins []string) *WSHub {
	return &WSHub{
		clients:    make(map[*WSClient]bool),
		register:   make(chan *WSClient),
		unregister: make(chan *WSClient),
		broadcast:  make(chan WSMessage, 256),
		done:       make(chan struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				if len(allowedOrigins) == 0 {
					return true
				}
				return originAllowed(allowedOrigins, r.Header.Get("Origin"))
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// Start WebSocketハブを起動
func (h *WSHub) Start() {
	go h.run()
}

func (h *WSHub) Stop() {
	h.stopOnce.Do(func() { close(h.done) })
}

func (h *WSHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *WSHub) run() {
	for {
		select {
		case <-h.done:
			h.mu.Lock()
			for client := range h.clients {
				delete(h.clients, client)
				client.close()
			}
			h.mu.Unlock()
			metrics.SetWebSocketClients(0)
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			total := len(h.clients)
			h.mu.Unlock()
			metrics.SetWebSocketClients(total)

			logger.Info("WebSocket client connected",
				zap.String("clientId", client.clientID),
				zap.String("wheel_id", client.wheelID),
				zap.Int("total_clients", total))

			// 接続確認メッセージを送信
			client.sendMessage(MsgConnected, map[string]string{"clientId": client.clientID})

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				client.close()
				remaining := len(h.clients)
				h.mu.Unlock()
				metrics.SetWebSocketClients(remaining)

				logger.Info("WebSocket client disconnected",
					zap.String("clientId", client.clientID),
					zap.Int("remaining_clients", remaining))
			} else {
				h.mu.Unlock()
			}

		case message := <-h.broadcast:
			data, err := json.Marshal(message)
			if err != nil {
				logger.Error("Failed to marshal WebSocket message", zap.Error(err))
				continue
			}

			h.mu.RLock()
			for client := range h.clients {
				if !client.trySend(data) {
					// クライアントのバッファがフルの場合は切断
					go h.drop(client)
				}
			}
			h.mu.RUnlock()
		}
	}
}

func (h *WSHub) drop(c *WSClient) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
	c.conn.Close()
}

// Broadcast すべてのクライアントにメッセージを送信
func (h *WSHub) Broadcast(msgType string, data interface{}) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		logger.Error("Failed to marshal WebSocket broadcast data", zap.Error(err))
		return
	}

	select {
	case h.broadcast <- WSMessage{Type: msgType, Data: jsonData}:
		logger.Debug("WebSocket message queued for broadcast", zap.String("message_type", msgType))
	default:
		logger.Warn("WebSocket broadcast channel full, message dropped")
	}
}

func (c *WSClient) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

func (c *WSClient) trySend(data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return true
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

func (c *WSClient) sendMessage(msgType string, data interface{}) {
	payload, err := json.Marshal(data)
	if err != nil {
		logger.Error("Failed to marshal WebSocket message", zap.Error(err))
		return
	}
	msg, err := json.Marshal(WSMessage{Type: msgType, Data: payload})
	if err != nil {
		logger.Error("Failed to marshal WebSocket message", zap.Error(err))
		return
	}
	if !c.trySend(msg) {
		logger.Warn("WebSocket client buffer full, disconnecting", zap.String("clientId", c.clientID))
		go c.hub.drop(c)
	}
}

// handleWS WebSocket接続を処理。wheel を指定するとそのドキュメントのスナップショットを配信する
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)
	wheelID := r.URL.Query().Get("wheel")
	if wheelID != "" {
		if _, err := s.loadViewable(r, wheelID); err != nil {
			writeError(w, r, err)
			return
		}
	}

	// クライアントIDを取得または生成
	clientID := r.URL.Query().Get("clientId")
	if clientID == "" {
		clientID = generateClientID()
	}

	// WebSocketにアップグレード
	conn, err := s.hub.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error("Failed to upgrade to WebSocket", zap.Error(err))
		return
	}

	client := &WSClient{
		conn:        conn,
		hub:         s.hub,
		send:        make(chan []byte, 256),
		clientID:    clientID,
		wheelID:     wheelID,
		connectedAt: time.Now(),
	}

	select {
	case s.hub.register <- client:
	case <-s.hub.done:
		conn.Close()
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	unsubscribe := func() {}
	if wheelID != "" {
		unsubscribe, err = s.opts.Store.Subscribe(ctx, wheelID,
			func(wheel types.Wheel) {
				if !s.auth.CanView(user, wheel) {
					client.sendMessage(MsgError, map[string]string{"code": CodePermissionDenied, "error": "permission denied"})
					go s.hub.drop(client)
					return
				}
				client.sendMessage(MsgWheelSnapshot, wheel)
			},
			func(err error) {
				status, code := statusFor(err)
				logger.Warn("Wheel subscription error",
					zap.String("wheel_id", wheelID),
					zap.Int("status", status),
					zap.Error(err))
				client.sendMessage(MsgError, map[string]string{"code": code, "error": err.Error()})
			})
		if err != nil {
			cancel()
			logger.Error("Failed to subscribe wheel", zap.String("wheel_id", wheelID), zap.Error(err))
			s.hub.drop(client)
			return
		}
	}

	// ゴルーチンでクライアントの読み書きを処理
	go client.writePump()
	go client.readPump(func() {
		unsubscribe()
		cancel()
	})
}

func (c *WSClient) readPump(onClose func()) {
	defer func() {
		onClose()
		c.hub.drop(c)
	}()

	c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Debug("WebSocket read error", zap.Error(err))
			}
			break
		}

		// クライアントからのメッセージは使わない
		logger.Debug("Received WebSocket message from client",
			zap.String("clientId", c.clientID),
			zap.String("message", string(message)))
	}
}

func (c *WSClient) writePump() {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// generateClientID クライアントIDを生成
func generateClientID() string {
	id, err := gonanoid.New(16)
	if err != nil {
		return fmt.Sprintf("ws-%d", time.Now().UnixNano())
	}
	return "ws-" + id
}
