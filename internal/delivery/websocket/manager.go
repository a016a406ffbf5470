package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"fiction-server/pkg/imagejobs"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	TopicImages = "images"
	TopicTurns  = "turns"

	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	maxMessageSize = 512
	sendBuffer     = 64
)

// Manager управляет WebSocket-соединениями игроков. Клиент подписан на
// сессии и получает обновления задач на изображения своих сессий.
type Manager struct {
	clients    map[uuid.UUID]*Client
	register   chan *Client
	unregister chan *Client
	broadcast  chan Message
	done       chan struct{}
	mu         sync.RWMutex
	upgrader   websocket.Upgrader
	logger     *zap.Logger
}

// Client WebSocket-клиент.
type Client struct {
	ID      uuid.UUID
	Conn    *websocket.Conn
	manager *Manager
	send    chan []byte

	mu       sync.RWMutex
	sessions map[string]bool
}

// Message сообщение клиенту. Target: id сессии; пусто = всем клиентам.
type Message struct {
	Type    string `json:"type"`
	Topic   string `json:"topic"`
	Payload any    `json:"payload"`
	Target  string `json:"target,omitempty"`
}

// NewManager создаёт менеджер. checkOrigin nil разрешает любой источник.
func NewManager(checkOrigin func(r *http.Request) bool, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if checkOrigin == nil {
		checkOrigin = func(*http.Request) bool { return true }
	}
	return &Manager{
		clients:    make(map[uuid.UUID]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan Message, 256),
		done:       make(chan struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin,
		},
		logger: logger.Named("WebSocketManager"),
	}
}

// Run обрабатывает регистрацию и рассылку до отмены ctx.
func (m *Manager) Run(ctx context.Context) {
	defer close(m.done)
	for {
		select {
		case <-ctx.Done():
			m.mu.Lock()
			for id, client := range m.clients {
				close(client.send)
				delete(m.clients, id)
			}
			m.mu.Unlock()
			return

		case client := <-m.register:
			m.mu.Lock()
			m.clients[client.ID] = client
			m.mu.Unlock()
			m.logger.Debug("Client connected", zap.String("clientID", client.ID.String()))

		case client := <-m.unregister:
			m.remove(client)

		case message := <-m.broadcast:
			m.deliver(message)
		}
	}
}

func (m *Manager) remove(client *Client) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.clients[client.ID]; ok {
		close(client.send)
		delete(m.clients, client.ID)
		m.logger.Debug("Client disconnected", zap.String("clientID", client.ID.String()))
	}
}

func (m *Manager) deliver(message Message) {
	data, err := json.Marshal(message)
	if err != nil {
		m.logger.Error("Failed to marshal message", zap.String("type", message.Type), zap.Error(err))
		return
	}

	var slow []*Client
	m.mu.RLock()
	for _, client := range m.clients {
		if message.Target != "" && !client.IsSubscribed(message.Target) {
			continue
		}
		select {
		case client.send <- data:
		default:
			slow = append(slow, client)
		}
	}
	m.mu.RUnlock()

	// Переполненный буфер: клиент не успевает читать, отключаем.
	for _, client := range slow {
		m.logger.Warn("Dropping slow client", zap.String("clientID", client.ID.String()))
		m.remove(client)
	}
}

// ClientCount количество подключённых клиентов.
func (m *Manager) ClientCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.clients)
}

// Handler принимает соединения. Query-параметр session_id подписывает
// клиента на сессию сразу при подключении.
func (m *Manager) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sessionID := r.URL.Query().Get("session_id")
		if sessionID == "" {
			http.Error(w, "Отсутствует session_id", http.StatusBadRequest)
			return
		}

		conn, err := m.upgrader.Upgrade(w, r, nil)
		if err != nil {
			m.logger.Warn("Upgrade failed", zap.Error(err))
			return
		}

		client := &Client{
			ID:       uuid.New(),
			Conn:     conn,
			manager:  m,
			send:     make(chan []byte, sendBuffer),
			sessions: map[string]bool{sessionID: true},
		}
		select {
		case m.register <- client:
		case <-m.done:
			conn.Close()
			return
		}

		go client.readPump()
		go client.writePump()
	})
}

// HandleImageUpdate подходит для imagejobs.Pipeline.OnUpdate.
func (m *Manager) HandleImageUpdate(report imagejobs.Report) {
	m.SendToSession(report.OwnerID, "image_job_update", TopicImages, report)
}

// SendToSession отправляет сообщение клиентам, подписанным на сессию.
// Не блокирует: при переполненном буфере сообщение отбрасывается.
func (m *Manager) SendToSession(sessionID, messageType, topic string, payload any) {
	select {
	case m.broadcast <- Message{Type: messageType, Topic: topic, Payload: payload, Target: sessionID}:
	default:
		m.logger.Warn("Broadcast buffer full, dropping message",
			zap.String("type", messageType), zap.String("sessionID", sessionID))
	}
}

func (c *Client) readPump() {
	defer func() {
		select {
		case c.manager.unregister <- c:
		case <-c.manager.done:
		}
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(maxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.manager.logger.Warn("Read error", zap.String("clientID", c.ID.String()), zap.Error(err))
			}
			return
		}

		var cmd struct {
			Action    string `json:"action"`
			SessionID string `json:"session_id"`
		}
		if err := json.Unmarshal(message, &cmd); err != nil || cmd.SessionID == "" {
			continue
		}
		switch cmd.Action {
		case "subscribe":
			c.Subscribe(cmd.SessionID)
		case "unsubscribe":
			c.Unsubscribe(cmd.SessionID)
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) Subscribe(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessions[sessionID] = true
}

func (c *Client) Unsubscribe(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.sessions, sessionID)
}

func (c *Client) IsSubscribed(sessionID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sessions[sessionID]
}
