package handlers

import (
	"context"
	"encoding/json"
	"strings"
	"sync"

	"github.com/finovatepay/backend/internal/auth"
	"github.com/finovatepay/backend/internal/config"
	"github.com/finovatepay/backend/internal/events"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// WSHub fans settlement events out to websocket clients. Clients subscribe
// to individual invoices; events arrive over redis pub/sub so every API
// instance sees them regardless of which instance performed the operation.
type WSHub struct {
	cfg         *config.Config
	subscriber  events.Subscriber
	log         *zap.Logger
	mu          sync.RWMutex
	connections map[uuid.UUID][]*websocket.Conn
}

func NewWSHub(cfg *config.Config, subscriber events.Subscriber, log *zap.Logger) *WSHub {
	return &WSHub{
		cfg:         cfg,
		subscriber:  subscriber,
		log:         log,
		connections: make(map[uuid.UUID][]*websocket.Conn),
	}
}

func (h *WSHub) Start(ctx context.Context) {
	_ = h.subscriber.SubscribePattern(ctx, events.InvoiceTopicPattern, func(topic string, event events.Event) {
		invoiceID, err := uuid.Parse(topic[strings.LastIndex(topic, ":")+1:])
		if err != nil {
			return
		}
		h.broadcast(invoiceID, event)
	})
}

func (h *WSHub) broadcast(invoiceID uuid.UUID, event events.Event) {
	data, err := json.Marshal(event)
	if err != nil {
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, conn := range h.connections[invoiceID] {
		_ = conn.WriteMessage(websocket.TextMessage, data)
	}
}

// WSUpgradeMiddleware checks for websocket upgrade
func WSUpgradeMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	}
}

type wsSubscribeMessage struct {
	Subscribe   string `json:"subscribe,omitempty"`
	Unsubscribe string `json:"unsubscribe,omitempty"`
}

func (h *WSHub) HandleWS(conn *websocket.Conn) {
	tokenStr := conn.Query("token")
	if tokenStr == "" {
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"error":"missing token"}`))
		conn.Close()
		return
	}

	if _, err := auth.ParseJWT(h.cfg.JWTSecret, tokenStr); err != nil {
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"error":"invalid token"}`))
		conn.Close()
		return
	}

	subscribed := make(map[uuid.UUID]bool)
	defer func() {
		h.mu.Lock()
		for invoiceID := range subscribed {
			h.remove(invoiceID, conn)
		}
		h.mu.Unlock()
		conn.Close()
	}()

	// An invoice id in the query subscribes immediately; further invoices
	// via subscribe messages.
	if raw := conn.Query("invoice_id"); raw != "" {
		if invoiceID, err := uuid.Parse(raw); err == nil {
			h.subscribe(invoiceID, conn)
			subscribed[invoiceID] = true
		}
	}

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var sub wsSubscribeMessage
		if err := json.Unmarshal(msg, &sub); err != nil {
			continue
		}
		if invoiceID, err := uuid.Parse(sub.Subscribe); err == nil {
			h.subscribe(invoiceID, conn)
			subscribed[invoiceID] = true
		}
		if invoiceID, err := uuid.Parse(sub.Unsubscribe); err == nil {
			h.mu.Lock()
			h.remove(invoiceID, conn)
			h.mu.Unlock()
			delete(subscribed, invoiceID)
		}
	}
}

func (h *WSHub) subscribe(invoiceID uuid.UUID, conn *websocket.Conn) {
	h.mu.Lock()
	h.connections[invoiceID] = append(h.connections[invoiceID], conn)
	h.mu.Unlock()
}

// remove expects h.mu held.
func (h *WSHub) remove(invoiceID uuid.UUID, conn *websocket.Conn) {
	conns := h.connections[invoiceID]
	for i, c := range conns {
		if c == conn {
			h.connections[invoiceID] = append(conns[:i], conns[i+1:]...)
			break
		}
	}
	if len(h.connections[invoiceID]) == 0 {
		delete(h.connections, invoiceID)
	}
}
