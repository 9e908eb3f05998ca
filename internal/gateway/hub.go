package gateway

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"go-friendchat/internal/metrics"
	"go-friendchat/internal/push"
)

// Hub owns the websocket clients held by this node and the single Redis
// subscription that carries pushes addressed to them. Each client gets its
// own channel, so a publish to a connection held elsewhere reaches no one
// here and counts as gone at the sender.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client
	rdb     redis.UniversalClient
	pubsub  *redis.PubSub
	prefix  string
	log     zerolog.Logger
}

func NewHub(rdb redis.UniversalClient, channelPrefix string, log zerolog.Logger) *Hub {
	return &Hub{
		clients: make(map[string]*Client),
		rdb:     rdb,
		pubsub:  rdb.Subscribe(context.Background()),
		prefix:  channelPrefix,
		log:     log,
	}
}

const (
	subscribeTimeout = 2 * time.Second
	subscribePoll    = 10 * time.Millisecond
)

// Register subscribes to the client's push channel and returns once the
// server counts the subscription. It must complete before the connection is
// written to the registry, or a push could see zero receivers and reap it.
func (h *Hub) Register(ctx context.Context, c *Client) error {
	channel := push.Channel(h.prefix, c.ID)
	if err := h.pubsub.Subscribe(ctx, channel); err != nil {
		return err
	}
	if err := h.awaitSubscribed(ctx, channel); err != nil {
		if uerr := h.pubsub.Unsubscribe(context.WithoutCancel(ctx), channel); uerr != nil {
			h.log.Warn().Err(uerr).Str("connection_id", c.ID).Msg("unsubscribe push channel")
		}
		return err
	}

	h.mu.Lock()
	h.clients[c.ID] = c
	h.mu.Unlock()
	metrics.ActiveConnections.Inc()
	return nil
}

func (h *Hub) Unregister(ctx context.Context, c *Client) {
	h.mu.Lock()
	_, ok := h.clients[c.ID]
	if ok {
		delete(h.clients, c.ID)
		close(c.send)
	}
	h.mu.Unlock()
	if !ok {
		return
	}

	metrics.ActiveConnections.Dec()
	if err := h.pubsub.Unsubscribe(ctx, push.Channel(h.prefix, c.ID)); err != nil {
		h.log.Warn().Err(err).Str("connection_id", c.ID).Msg("unsubscribe push channel")
	}
}

// awaitSubscribed polls PUBSUB NUMSUB because SUBSCRIBE on the shared
// connection is not acknowledged to the caller.
func (h *Hub) awaitSubscribed(ctx context.Context, channel string) error {
	ctx, cancel := context.WithTimeout(ctx, subscribeTimeout)
	defer cancel()

	ticker := time.NewTicker(subscribePoll)
	defer ticker.Stop()
	for {
		counts, err := h.rdb.PubSubNumSub(ctx, channel).Result()
		if err == nil && counts[channel] > 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			if err == nil {
				err = ctx.Err()
			}
			return fmt.Errorf("subscription to %s not confirmed: %w", channel, err)
		case <-ticker.C:
		}
	}
}

// Run forwards pushes from Redis to local clients until ctx is done.
func (h *Hub) Run(ctx context.Context) {
	ch := h.pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			h.route(msg)
		}
	}
}

func (h *Hub) route(msg *redis.Message) {
	id := strings.TrimPrefix(msg.Channel, h.prefix+":")

	h.mu.RLock()
	defer h.mu.RUnlock()
	c, ok := h.clients[id]
	if !ok {
		return
	}
	select {
	case c.send <- []byte(msg.Payload):
	default:
		// Slow consumer: drop the socket, the read pump cleans up.
		h.log.Warn().Str("connection_id", id).Msg("send buffer full, closing connection")
		c.conn.Close()
	}
}

func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) Close() error {
	return h.pubsub.Close()
}
