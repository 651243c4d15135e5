package websocket

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/matchcast/backend/internal/cache"
	"github.com/matchcast/backend/internal/events"
	"github.com/rs/zerolog"
)

// Hub fans broadcast lifecycle events out to connected status-feed clients.
// Events arrive on a Redis channel, so every replica sees every transition.
type Hub struct {
	// Connected clients
	clients map[*Client]struct{}

	// Register requests from clients
	register chan *Client

	// Unregister requests from clients
	unregister chan *Client

	// Raw event payloads to deliver
	incoming chan []byte

	redis   *cache.RedisClient
	channel string

	// Closed once Run returns
	done chan struct{}

	mu sync.RWMutex
}

func NewHub(redis *cache.RedisClient, channel string) *Hub {
	return &Hub{
		clients:    make(map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		incoming:   make(chan []byte, 256),
		redis:      redis,
		channel:    channel,
		done:       make(chan struct{}),
	}
}

// Run serves the hub until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	log := zerolog.Ctx(ctx)
	if h.redis != nil {
		go h.subscribe(ctx)
	}

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = struct{}{}
			h.mu.Unlock()
			log.Debug().Str("user_id", client.userID.String()).Str("organization_id", client.organizationID).Msg("status feed client registered")

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()
			log.Debug().Str("user_id", client.userID.String()).Msg("status feed client unregistered")

		case payload := <-h.incoming:
			h.deliver(ctx, payload)
		}
	}
}

// Register adds c to the hub. It returns false once the hub has stopped.
func (h *Hub) Register(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

// Unregister removes c from the hub. It is a no-op once the hub has stopped.
func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

// subscribe relays the events channel into the hub.
func (h *Hub) subscribe(ctx context.Context) {
	pubsub := h.redis.Subscribe(ctx, h.channel)
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			select {
			case h.incoming <- []byte(msg.Payload):
			case <-ctx.Done():
				return
			}
		}
	}
}

// deliver sends payload to every client allowed to see its organization.
// Slow clients whose buffer is full are dropped.
func (h *Hub) deliver(ctx context.Context, payload []byte) {
	var e events.Event
	if err := json.Unmarshal(payload, &e); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Msg("dropping malformed lifecycle event")
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		if !c.wants(e.OrganizationID) {
			continue
		}
		select {
		case c.send <- payload:
		default:
			delete(h.clients, c)
			close(c.send)
		}
	}
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
