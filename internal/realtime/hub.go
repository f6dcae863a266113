// Package realtime pushes notifications to connected websocket clients.
package realtime

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/gin-gonic/gin"
	json "github.com/goccy/go-json"

	"github.com/jwalitptl/erp-admin/internal/auth"
	"github.com/jwalitptl/erp-admin/internal/model"
	"github.com/jwalitptl/erp-admin/pkg/logger"
	"github.com/jwalitptl/erp-admin/pkg/metrics"
)

const (
	HubPath = "/hubs/notifications"

	// FrameReceiveNotification is the frame type clients listen for.
	FrameReceiveNotification = "ReceiveNotification"

	defaultSendBuffer   = 32
	defaultWriteTimeout = 10 * time.Second
)

// Frame is one message written to a client.
type Frame struct {
	Type string                    `json:"type"`
	Data model.NotificationPayload `json:"data"`
}

type TokenValidator interface {
	Validate(token string) (*auth.Claims, error)
}

type client struct {
	userID string
	groups []string
	send   chan []byte
	done   chan struct{}
	once   sync.Once
}

func (c *client) close() {
	c.once.Do(func() { close(c.done) })
}

type HubOptions struct {
	// OriginPatterns are passed to websocket.Accept; empty allows same origin only.
	OriginPatterns []string
	SendBuffer     int
	WriteTimeout   time.Duration
}

// Hub tracks websocket connections by user and by the groups carried in
// their token. User ids and group names are separate namespaces.
type Hub struct {
	mu      sync.RWMutex
	clients map[*client]struct{}
	users   map[string]map[*client]struct{}
	groups  map[string]map[*client]struct{}

	tokens  TokenValidator
	opts    HubOptions
	logger  *logger.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

func NewHub(tokens TokenValidator, opts HubOptions, logger *logger.Logger, metrics *metrics.Metrics) *Hub {
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = defaultSendBuffer
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = defaultWriteTimeout
	}
	return &Hub{
		clients: make(map[*client]struct{}),
		users:   make(map[string]map[*client]struct{}),
		groups:  make(map[string]map[*client]struct{}),
		tokens:  tokens,
		opts:    opts,
		logger:  logger,
		metrics: metrics,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (h *Hub) RegisterRoutes(r gin.IRouter) {
	r.GET(HubPath, gin.WrapH(h))
}

func (h *Hub) DeliverAll(ctx context.Context, payload model.NotificationPayload) error {
	h.mu.RLock()
	targets := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		targets = append(targets, c)
	}
	h.mu.RUnlock()
	return h.broadcast(ctx, targets, payload)
}

func (h *Hub) DeliverGroup(ctx context.Context, group string, payload model.NotificationPayload) error {
	return h.broadcast(ctx, h.members(h.groups, group), payload)
}

// DeliverUser reaches every connection of userID.
func (h *Hub) DeliverUser(ctx context.Context, userID string, payload model.NotificationPayload) error {
	return h.broadcast(ctx, h.members(h.users, userID), payload)
}

// Connections returns the number of open connections.
func (h *Hub) Connections() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) members(index map[string]map[*client]struct{}, key string) []*client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	set := index[key]
	out := make([]*client, 0, len(set))
	for c := range set {
		out = append(out, c)
	}
	return out
}

// broadcast queues the frame on each client. A client whose buffer is full
// is disconnected rather than allowed to stall delivery. Having no
// recipients is not an error.
func (h *Hub) broadcast(ctx context.Context, targets []*client, payload model.NotificationPayload) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	frame, err := json.Marshal(Frame{Type: FrameReceiveNotification, Data: payload})
	if err != nil {
		return err
	}
	for _, c := range targets {
		h.enqueue(c, frame)
	}
	return nil
}

func (h *Hub) enqueue(c *client, frame []byte) {
	select {
	case <-c.done:
	case c.send <- frame:
	default:
		h.logger.Warn(nil, "dropping slow hub client", "user_id", c.userID)
		c.close()
	}
}

func (h *Hub) add(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = struct{}{}
	join(h.users, c.userID, c)
	for _, g := range c.groups {
		join(h.groups, g, c)
	}
	if h.metrics != nil {
		h.metrics.HubConnections.Inc()
	}
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	leave(h.users, c.userID, c)
	for _, g := range c.groups {
		leave(h.groups, g, c)
	}
	if h.metrics != nil {
		h.metrics.HubConnections.Dec()
	}
}

func join(index map[string]map[*client]struct{}, key string, c *client) {
	if index[key] == nil {
		index[key] = make(map[*client]struct{})
	}
	index[key][c] = struct{}{}
}

func leave(index map[string]map[*client]struct{}, key string, c *client) {
	delete(index[key], c)
	if len(index[key]) == 0 {
		delete(index, key)
	}
}

// ServeHTTP authenticates the request, upgrades it and pumps frames until
// either side goes away. Client messages are ignored.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	claims, err := h.tokens.Validate(auth.TokenFromRequest(r))
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.opts.OriginPatterns})
	if err != nil {
		h.logger.Warn(err, "websocket upgrade failed", "user_id", claims.UserID())
		return
	}

	c := &client{
		userID: claims.UserID(),
		groups: claims.Groups,
		send:   make(chan []byte, h.opts.SendBuffer),
		done:   make(chan struct{}),
	}
	h.add(c)
	defer h.remove(c)
	h.logger.Debug("hub client connected", "user_id", c.userID, "groups", c.groups)

	ctx := conn.CloseRead(r.Context())

	// greet the connection before anything else is queued for it
	welcome, _ := json.Marshal(Frame{Type: FrameReceiveNotification, Data: model.NotificationPayload{
		Title:       "Welcome",
		Description: strPtr("You are now connected to the notification hub."),
		ReceiverID:  strPtr(c.userID),
		Created:     h.now(),
	}})
	if err := h.write(ctx, conn, welcome); err != nil {
		conn.Close(websocket.StatusInternalError, "write failed")
		return
	}

	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case <-c.done:
			conn.Close(websocket.StatusPolicyViolation, "client too slow")
			return
		case frame := <-c.send:
			if err := h.write(ctx, conn, frame); err != nil {
				if !errors.Is(err, context.Canceled) {
					h.logger.Warn(err, "hub write failed", "user_id", c.userID)
				}
				conn.Close(websocket.StatusInternalError, "write failed")
				return
			}
		}
	}
}

func (h *Hub) write(ctx context.Context, conn *websocket.Conn, frame []byte) error {
	ctx, cancel := context.WithTimeout(ctx, h.opts.WriteTimeout)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, frame)
}

func strPtr(s string) *string { return &s }
