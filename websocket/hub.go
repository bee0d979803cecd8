package websocket

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"chatload/models"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// HubClient is one connection accepted by the local Hub.
type HubClient struct {
	Conn        *websocket.Conn
	Send        chan []byte
	ConnectedAt time.Time
	rooms       map[string]bool
}

type roomMessage struct {
	room    string
	payload []byte
}

// Hub is an in-process chat server speaking the same [type, payload]
// protocol as the service under test. It backs the -local-hub smoke mode
// and the session tests.
type Hub struct {
	clients    map[*HubClient]bool
	rooms      map[string]map[*HubClient]bool
	register   chan *HubClient
	unregister chan *HubClient
	broadcast  chan roomMessage
	join       chan roomChange
	leave      chan roomChange
	done       chan struct{}
	mutex      sync.RWMutex
	logger     *models.LoadLogger

	TotalConnected atomic.Int64
	FramesReceived atomic.Int64
	MessagesSent   atomic.Int64
}

type roomChange struct {
	client *HubClient
	room   string
}

func NewHub(logger *models.LoadLogger) *Hub {
	return &Hub{
		clients:    make(map[*HubClient]bool),
		rooms:      make(map[string]map[*HubClient]bool),
		register:   make(chan *HubClient),
		unregister: make(chan *HubClient),
		broadcast:  make(chan roomMessage, 256),
		join:       make(chan roomChange),
		leave:      make(chan roomChange),
		done:       make(chan struct{}),
		logger:     logger,
	}
}

// Run owns all room membership changes until ctx is done.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			h.mutex.Lock()
			for client := range h.clients {
				close(client.Send)
				delete(h.clients, client)
			}
			h.rooms = make(map[string]map[*HubClient]bool)
			h.mutex.Unlock()
			return

		case client := <-h.register:
			h.mutex.Lock()
			h.clients[client] = true
			h.mutex.Unlock()
			h.TotalConnected.Add(1)

		case client := <-h.unregister:
			h.mutex.Lock()
			if _, ok := h.clients[client]; ok {
				for room := range client.rooms {
					delete(h.rooms[room], client)
				}
				delete(h.clients, client)
				close(client.Send)
			}
			h.mutex.Unlock()

		case change := <-h.join:
			h.mutex.Lock()
			if _, ok := h.clients[change.client]; ok {
				if h.rooms[change.room] == nil {
					h.rooms[change.room] = make(map[*HubClient]bool)
				}
				h.rooms[change.room][change.client] = true
				change.client.rooms[change.room] = true
			}
			h.mutex.Unlock()

		case change := <-h.leave:
			h.mutex.Lock()
			delete(h.rooms[change.room], change.client)
			delete(change.client.rooms, change.room)
			h.mutex.Unlock()

		case msg := <-h.broadcast:
			h.broadcastToRoom(msg)
		}
	}
}

func (h *Hub) broadcastToRoom(msg roomMessage) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	for client := range h.rooms[msg.room] {
		select {
		case client.Send <- msg.payload:
			h.MessagesSent.Add(1)
		default:
			// Slow consumer; drop it like the production hub does.
			for room := range client.rooms {
				delete(h.rooms[room], client)
			}
			delete(h.clients, client)
			close(client.Send)
		}
	}
}

// RoomSize returns how many clients are subscribed to room.
func (h *Hub) RoomSize(room string) int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.rooms[room])
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}

// ServeHTTP upgrades the request and serves one client.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warning("WebSocket upgrade error: %v", err)
		return
	}

	client := &HubClient{
		Conn:        conn,
		Send:        make(chan []byte, 256),
		ConnectedAt: time.Now(),
		rooms:       make(map[string]bool),
	}

	select {
	case h.register <- client:
	case <-h.done:
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump(h)
}

func (c *HubClient) readPump(hub *Hub) {
	defer func() {
		select {
		case hub.unregister <- c:
		case <-hub.done:
		}
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(4096)

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				hub.logger.Debug("Hub read error: %v", err)
			}
			return
		}

		hub.FramesReceived.Add(1)
		hub.handleFrame(c, message)
	}
}

func (h *Hub) handleFrame(c *HubClient, message []byte) {
	env, err := Decode(message)
	if err != nil {
		h.logger.Debug("Hub ignoring frame: %v", err)
		return
	}

	switch {
	case env.Type.IsSubscribe():
		select {
		case h.join <- roomChange{client: c, room: env.Channel()}:
		case <-h.done:
		}
	case env.Type.IsUnsubscribe():
		select {
		case h.leave <- roomChange{client: c, room: env.Channel()}:
		case <-h.done:
		}
	case env.Type == MessageChat:
		var in ChatMessage
		if err := env.UnmarshalPayload(&in); err != nil {
			h.logger.Debug("Hub invalid chat payload: %v", err)
			return
		}
		sent := time.Now()
		out, err := Encode(MessageChat, ChatMessageOut{ChatMessage: in, Sent: &sent})
		if err != nil {
			return
		}
		select {
		case h.broadcast <- roomMessage{room: env.Type.Room(), payload: out}:
		case <-h.done:
		}
	}
}

func (c *HubClient) writePump() {
	defer c.Conn.Close()

	for message := range c.Send {
		if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
			return
		}
	}
	c.Conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}
