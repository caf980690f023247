package ws

import (
	"encoding/json"
	"errors"
	"log/slog"
	"sync"

	"github.com/splax/todolist/internal/domain"
)

// ErrSlowConsumer is returned by Send when a subscriber's queue is full.
var ErrSlowConsumer = errors.New("subscriber queue full")

// Subscriber abstracts a streaming client.
type Subscriber interface {
	Send([]byte) error
	Close()
}

// Hub fans todo events out to the subscribers of each user.
type Hub struct {
	mu        sync.RWMutex
	clients   map[int64]map[Subscriber]struct{}
	register  chan subscription
	unreg     chan subscription
	broadcast chan message
	done      chan struct{}
	closeOnce sync.Once
	log       *slog.Logger
}

// message couples payload with the owning user.
type message struct {
	userID  int64
	payload []byte
}

// subscription defines register/unregister requests.
type subscription struct {
	userID int64
	client Subscriber
}

// NewHub creates an initialized Hub.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Hub{
		clients:   make(map[int64]map[Subscriber]struct{}),
		register:  make(chan subscription),
		unreg:     make(chan subscription),
		broadcast: make(chan message, 64),
		done:      make(chan struct{}),
		log:       logger,
	}
	go h.run()
	return h
}

func (h *Hub) run() {
	for {
		select {
		case <-h.done:
			h.mu.Lock()
			for userID, clients := range h.clients {
				for c := range clients {
					c.Close()
				}
				delete(h.clients, userID)
			}
			h.mu.Unlock()
			return
		case sub := <-h.register:
			h.mu.Lock()
			if _, ok := h.clients[sub.userID]; !ok {
				h.clients[sub.userID] = make(map[Subscriber]struct{})
			}
			h.clients[sub.userID][sub.client] = struct{}{}
			h.mu.Unlock()
		case sub := <-h.unreg:
			h.mu.Lock()
			h.remove(sub.userID, sub.client)
			h.mu.Unlock()
		case msg := <-h.broadcast:
			h.mu.Lock()
			for c := range h.clients[msg.userID] {
				if err := c.Send(msg.payload); err != nil {
					h.log.Warn("dropping subscriber", "user_id", msg.userID, "error", err)
					c.Close()
					h.remove(msg.userID, c)
				}
			}
			h.mu.Unlock()
		}
	}
}

func (h *Hub) remove(userID int64, client Subscriber) {
	clients, ok := h.clients[userID]
	if !ok {
		return
	}
	delete(clients, client)
	if len(clients) == 0 {
		delete(h.clients, userID)
	}
}

// Register adds a client to a user's stream.
func (h *Hub) Register(userID int64, client Subscriber) {
	select {
	case h.register <- subscription{userID: userID, client: client}:
	case <-h.done:
		client.Close()
	}
}

// Unregister removes a client.
func (h *Hub) Unregister(userID int64, client Subscriber) {
	select {
	case h.unreg <- subscription{userID: userID, client: client}:
	case <-h.done:
	}
}

// Broadcast sends payload to all of a user's clients.
func (h *Hub) Broadcast(userID int64, payload []byte) {
	select {
	case h.broadcast <- message{userID: userID, payload: payload}:
	case <-h.done:
	}
}

// Publish encodes event and broadcasts it to the event owner.
func (h *Hub) Publish(event domain.TodoEvent) {
	payload, err := json.Marshal(event)
	if err != nil {
		h.log.Error("encode todo event", "type", event.Type, "error", err)
		return
	}
	h.Broadcast(event.OwnerID, payload)
}

// Subscribers reports how many clients userID currently has.
func (h *Hub) Subscribers(userID int64) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[userID])
}

// Close disconnects every client and stops the hub.
func (h *Hub) Close() {
	h.closeOnce.Do(func() { close(h.done) })
}
