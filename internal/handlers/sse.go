package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"pricealerts/internal/events"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	heartbeatInterval = 15 * time.Second
	clientBuffer      = 10
)

// MessageSource is a pub/sub subscription, satisfied by *cache.Subscriber.
type MessageSource interface {
	ReceiveMessage(ctx context.Context) (*redis.Message, error)
}

type streamClient struct {
	ch   chan events.TriggerEvent
	user string
}

// Hub fans trigger events out to connected SSE and WebSocket clients.
// Events arrive either directly through Publish or from Redis via Listen.
type Hub struct {
	mu      sync.Mutex
	clients map[*streamClient]struct{}
	logger  *zap.Logger
}

func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		clients: make(map[*streamClient]struct{}),
		logger:  logger,
	}
}

// Publish broadcasts ev to local clients.
func (h *Hub) Publish(_ context.Context, ev events.TriggerEvent) error {
	h.broadcast(ev)
	return nil
}

// Listen relays trigger events received from src until ctx is done.
func (h *Hub) Listen(ctx context.Context, src MessageSource) {
	h.logger.Info("Starting to listen for trigger events from Redis")

	for {
		msg, err := src.ReceiveMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				h.logger.Info("Stopped listening for trigger events")
				return
			}
			h.logger.Error("Error receiving message from Redis", zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}

		var ev events.TriggerEvent
		if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
			h.logger.Error("Error unmarshaling trigger event", zap.Error(err))
			continue
		}
		h.broadcast(ev)
	}
}

// Clients returns the number of connected stream clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) register(user string) *streamClient {
	c := &streamClient{ch: make(chan events.TriggerEvent, clientBuffer), user: user}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()

	h.logger.Info("Stream client connected", zap.Int("total_clients", n))
	return c
}

func (h *Hub) unregister(c *streamClient) {
	h.mu.Lock()
	delete(h.clients, c)
	n := len(h.clients)
	h.mu.Unlock()

	h.logger.Info("Stream client disconnected", zap.Int("total_clients", n))
}

func (h *Hub) broadcast(ev events.TriggerEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.logger.Debug("Broadcasting trigger event",
		zap.Int("client_count", len(h.clients)),
		zap.Int64("alert_id", ev.AlertID),
	)

	for c := range h.clients {
		if c.user != "" && c.user != ev.UserIdentifier {
			continue
		}
		select {
		case c.ch <- ev:
		default:
			h.logger.Warn("Trigger event dropped due to slow client", zap.Int64("alert_id", ev.AlertID))
		}
	}
}

// ServeSSE streams trigger events as server-sent events. An optional
// user_identifier query parameter restricts the stream to one user.
func (h *Hub) ServeSSE(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
	w.Header().Set("Access-Control-Allow-Methods", "GET")
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	client := h.register(r.URL.Query().Get("user_identifier"))
	defer h.unregister(client)

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			fmt.Fprint(w, ": heartbeat\n\n")
			flusher.Flush()
		case ev := <-client.ch:
			data, err := json.Marshal(ev)
			if err != nil {
				h.logger.Error("Failed to marshal trigger event", zap.Error(err))
				continue
			}
			fmt.Fprintf(w, "event: alert_triggered\ndata: %s\n\n", data)
			flusher.Flush()
		}
	}
}
