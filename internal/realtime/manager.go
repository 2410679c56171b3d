// Package realtime is the staff live-dashboard feed: a shop's staff can
// open a websocket and watch reservations get confirmed or cancelled as
// they happen. Kept and adapted from the teacher's generic CRUD
// subscription manager (internal/realtime/manager.go), now fed from the
// reservation committer's NATS events (pkg/events) instead of generic
// booking/availability-rule events, and keyed by shop rather than
// business.
package realtime

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/peluqueria/booking-engine/pkg/events"
	"github.com/peluqueria/booking-engine/pkg/logger"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
)

// Client is one connected staff-dashboard websocket.
type Client struct {
	ID      string
	Conn    *websocket.Conn
	Send    chan []byte
	ShopID  string
	Manager *SubscriptionManager
}

// SubscriptionManager fans reservation-lifecycle events out to every
// client subscribed to the event's shop.
type SubscriptionManager struct {
	clients       map[*Client]bool
	register      chan *Client
	unregister    chan *Client
	subscriptions map[string]map[*Client]bool
	logger        logger.Logger
	subscriber    *events.Subscriber
	mu            sync.RWMutex
}

func NewSubscriptionManager(log logger.Logger, subscriber *events.Subscriber) *SubscriptionManager {
	return &SubscriptionManager{
		register:      make(chan *Client),
		unregister:    make(chan *Client),
		clients:       make(map[*Client]bool),
		subscriptions: make(map[string]map[*Client]bool),
		logger:        log,
		subscriber:    subscriber,
	}
}

// EnqueueClientRegistration hands a freshly-upgraded client to Run's loop.
func (m *SubscriptionManager) EnqueueClientRegistration(client *Client) {
	m.register <- client
}

// Run is the manager's single event loop; it owns clients/subscriptions
// and must be started in its own goroutine.
func (m *SubscriptionManager) Run() {
	m.logger.Info("realtime subscription manager started")
	for {
		select {
		case client := <-m.register:
			m.mu.Lock()
			m.clients[client] = true
			m.mu.Unlock()
			m.logger.Info("dashboard client registered", "client_id", client.ID)
		case client := <-m.unregister:
			m.mu.Lock()
			if _, ok := m.clients[client]; ok {
				delete(m.clients, client)
				close(client.Send)
				if subs, ok := m.subscriptions[client.ShopID]; ok {
					delete(subs, client)
					if len(subs) == 0 {
						delete(m.subscriptions, client.ShopID)
					}
				}
			}
			m.mu.Unlock()
			m.logger.Info("dashboard client unregistered", "client_id", client.ID)
		}
	}
}

// RegisterClient subscribes client to shopID's reservation feed.
func (m *SubscriptionManager) RegisterClient(client *Client, shopID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	client.ShopID = shopID
	if _, ok := m.subscriptions[shopID]; !ok {
		m.subscriptions[shopID] = make(map[*Client]bool)
	}
	m.subscriptions[shopID][client] = true
	m.logger.Info("dashboard client subscribed", "client_id", client.ID, "shop_id", shopID)
}

// UnregisterClient tears a client down via the manager's own loop, never
// touching the maps directly from another goroutine.
func (m *SubscriptionManager) UnregisterClient(client *Client) {
	m.unregister <- client
}

// SendToShop delivers message to every client subscribed to shopID,
// non-blocking: a slow client drops the message rather than stalling the
// others.
func (m *SubscriptionManager) SendToShop(shopID string, message []byte) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for client := range m.subscriptions[shopID] {
		select {
		case client.Send <- message:
		default:
			m.logger.Warn("dashboard client send buffer full, dropping message", "client_id", client.ID, "shop_id", shopID)
		}
	}
}

func GenerateClientID() string { return uuid.New().String() }

// DashboardMessage is the envelope every event type is wrapped in before
// going out over the websocket.
type DashboardMessage struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

func (m *SubscriptionManager) broadcastReservationEvent(eventType string, data []byte) {
	var payload events.ReservationEvent
	if err := json.Unmarshal(data, &payload); err != nil {
		m.logger.Error("failed to unmarshal reservation event", "type", eventType, "error", err)
		return
	}
	msg, err := json.Marshal(DashboardMessage{Type: eventType, Payload: payload})
	if err != nil {
		m.logger.Error("failed to marshal dashboard message", "type", eventType, "error", err)
		return
	}
	m.SendToShop(payload.ShopID, msg)
}

func (m *SubscriptionManager) broadcastAvailabilityPurged(data []byte) {
	var payload events.AvailabilityPurgedEventData
	if err := json.Unmarshal(data, &payload); err != nil {
		m.logger.Error("failed to unmarshal availability-purged event", "error", err)
		return
	}
	msg, err := json.Marshal(DashboardMessage{Type: "availability_updated", Payload: payload})
	if err != nil {
		m.logger.Error("failed to marshal dashboard message", "error", err)
		return
	}
	m.SendToShop(payload.ShopID, msg)
}

// StartEventSubscriptions wires the NATS subjects the committer publishes
// (pkg/events) to this manager's broadcast methods.
func (m *SubscriptionManager) StartEventSubscriptions() {
	if m.subscriber == nil {
		m.logger.Warn("realtime manager has no NATS subscriber, dashboard feed is inert")
		return
	}

	subs := []struct {
		subject string
		handle  func([]byte)
	}{
		{events.ReservationConfirmedEvent, func(d []byte) { m.broadcastReservationEvent("reservation_confirmed", d) }},
		{events.ReservationCancelledEvent, func(d []byte) { m.broadcastReservationEvent("reservation_cancelled", d) }},
		{events.AvailabilityPurgedEvent, m.broadcastAvailabilityPurged},
	}
	for _, s := range subs {
		subject, handle := s.subject, s.handle
		if err := m.subscriber.Subscribe(subject, func(d []byte) error { handle(d); return nil }); err != nil {
			m.logger.Error("failed to subscribe to dashboard event", "subject", subject, "error", err)
			continue
		}
		m.logger.Info("dashboard subscribed to event", "subject", subject)
	}
}
