package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/peluqueria/booking-engine/internal/realtime"
	"github.com/peluqueria/booking-engine/pkg/logger"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
)

// WebSocketHandler upgrades GET /ws/dashboard connections for the staff
// live-dashboard feed (internal/realtime).
type WebSocketHandler struct {
	upgrader websocket.Upgrader
	manager  *realtime.SubscriptionManager
	logger   logger.Logger
}

func NewWebSocketHandler(manager *realtime.SubscriptionManager, log logger.Logger) *WebSocketHandler {
	return &WebSocketHandler{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		manager: manager,
		logger:  log,
	}
}

// subscribeMessage is the one client->server message shape this feed
// accepts: subscribe to a shop's reservation events.
type subscribeMessage struct {
	Type   string `json:"type"`
	ShopID string `json:"shopId,omitempty"`
}

func (h *WebSocketHandler) HandleConnections(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("failed to upgrade websocket connection", "error", err)
		return
	}

	client := &realtime.Client{
		ID:      realtime.GenerateClientID(),
		Conn:    conn,
		Send:    make(chan []byte, 256),
		Manager: h.manager,
	}
	h.manager.EnqueueClientRegistration(client)

	go h.writePump(client)
	go h.readPump(client)
}

func (h *WebSocketHandler) readPump(client *realtime.Client) {
	defer func() {
		client.Manager.UnregisterClient(client)
		client.Conn.Close()
	}()

	client.Conn.SetReadLimit(maxMessageSize)
	client.Conn.SetReadDeadline(time.Now().Add(pongWait))
	client.Conn.SetPongHandler(func(string) error {
		client.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := client.Conn.ReadMessage()
		if err != nil {
			break
		}

		var msg subscribeMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			h.logger.Warn("failed to unmarshal dashboard client message", "client_id", client.ID, "error", err)
			continue
		}
		if msg.Type == "subscribe" && msg.ShopID != "" {
			client.Manager.RegisterClient(client, msg.ShopID)
		}

		if err := client.Conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
			break
		}
	}
}

func (h *WebSocketHandler) writePump(client *realtime.Client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		client.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-client.Send:
			client.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				client.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := client.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			client.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
