package stream

import (
	"context"
	"log"
	"sync"

	"github.com/redis/go-redis/v9"
)

// Hub fans live bus positions out to websocket viewers, keyed by trip
// session id. When redis is configured, positions are also published so
// other instances can forward them to their own viewers.
type Hub struct {
	redis   *redis.Client
	viewers map[string]map[*Viewer]struct{}
	mu      sync.RWMutex
}

type Viewer struct {
	SessionID string
	Send      chan []byte
}

func NewHub(redisClient *redis.Client) *Hub {
	h := &Hub{
		redis:   redisClient,
		viewers: map[string]map[*Viewer]struct{}{},
	}

	if redisClient != nil {
		go h.subscribeRedis()
	}
	return h
}

func (h *Hub) Register(sessionID string) *Viewer {
	viewer := &Viewer{
		SessionID: sessionID,
		Send:      make(chan []byte, 64),
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.viewers[sessionID] == nil {
		h.viewers[sessionID] = map[*Viewer]struct{}{}
	}
	h.viewers[sessionID][viewer] = struct{}{}
	return viewer
}

func (h *Hub) Unregister(viewer *Viewer) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if sessionViewers, ok := h.viewers[viewer.SessionID]; ok {
		delete(sessionViewers, viewer)
		if len(sessionViewers) == 0 {
			delete(h.viewers, viewer.SessionID)
		}
	}
	close(viewer.Send)
}

// Broadcast delivers a position payload to local viewers and publishes it
// on redis. Slow viewers are skipped rather than blocked on.
func (h *Hub) Broadcast(sessionID string, payload []byte) {
	h.mu.RLock()
	viewers := h.viewers[sessionID]
	h.mu.RUnlock()

	for viewer := range viewers {
		select {
		case viewer.Send <- payload:
		default:
		}
	}

	if h.redis != nil {
		err := h.redis.Publish(context.Background(), redisChannel(sessionID), payload).Err()
		if err != nil {
			log.Printf("redis publish error: %v", err)
		}
	}
}

func (h *Hub) subscribeRedis() {
	ctx := context.Background()
	pubsub := h.redis.PSubscribe(ctx, "positions:*:live")
	defer pubsub.Close()

	for msg := range pubsub.Channel() {
		sessionID := sessionIDFromChannel(msg.Channel)
		h.mu.RLock()
		viewers := h.viewers[sessionID]
		h.mu.RUnlock()
		for viewer := range viewers {
			select {
			case viewer.Send <- []byte(msg.Payload):
			default:
			}
		}
	}
}

func redisChannel(sessionID string) string {
	return "positions:" + sessionID + ":live"
}

func sessionIDFromChannel(ch string) string {
	// positions:{session}:live
	const prefix = "positions:"
	const suffix = ":live"
	if len(ch) <= len(prefix)+len(suffix) {
		return ""
	}
	return ch[len(prefix) : len(ch)-len(suffix)]
}
