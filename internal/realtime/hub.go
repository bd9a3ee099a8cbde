package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"nursery/internal/events"
)

// Комнаты: администраторы слушают AdminRoom, пользователь свою UserRoom.
const AdminRoom = "orders"

func UserRoom(userID string) string {
	return "user:" + userID
}

type Client struct {
	Send   chan []byte
	Rooms  []string
	UserID string
}

type broadcastMsg struct {
	Rooms []string
	Data  []byte
}

type Hub struct {
	rooms      map[string]map[*Client]bool
	register   chan *Client
	unregister chan *Client
	broadcast  chan broadcastMsg
	done       chan struct{}
	stopOnce   sync.Once
}

func NewHub() *Hub {
	return &Hub{
		rooms:      make(map[string]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan broadcastMsg, 64),
		done:       make(chan struct{}),
	}
}

// Run обслуживает регистрацию и рассылку до вызова Stop.
func (h *Hub) Run() {
	for {
		select {
		case c := <-h.register:
			for _, room := range c.Rooms {
				if h.rooms[room] == nil {
					h.rooms[room] = make(map[*Client]bool)
				}
				h.rooms[room][c] = true
			}

		case c := <-h.unregister:
			h.remove(c)

		case m := <-h.broadcast:
			sent := map[*Client]bool{}
			for _, room := range m.Rooms {
				for c := range h.rooms[room] {
					if sent[c] {
						continue
					}
					sent[c] = true
					select {
					case c.Send <- m.Data:
					default:
						// медленный клиент
						h.remove(c)
					}
				}
			}

		case <-h.done:
			for _, clients := range h.rooms {
				for c := range clients {
					h.remove(c)
				}
			}
			return
		}
	}
}

func (h *Hub) remove(c *Client) {
	registered := false
	for _, room := range c.Rooms {
		if clients := h.rooms[room]; clients[c] {
			registered = true
			delete(clients, c)
			if len(clients) == 0 {
				delete(h.rooms, room)
			}
		}
	}
	if registered {
		close(c.Send)
	}
}

func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.done) })
}

func (h *Hub) Register(c *Client) {
	select {
	case h.register <- c:
	case <-h.done:
		close(c.Send)
	}
}

func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

// Publish отправляет событие администраторам и владельцу заказа.
func (h *Hub) Publish(ctx context.Context, e events.Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	rooms := []string{AdminRoom}
	if e.UserID != "" {
		rooms = append(rooms, UserRoom(e.UserID))
	}
	select {
	case h.broadcast <- broadcastMsg{Rooms: rooms, Data: data}:
		return nil
	case <-h.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
