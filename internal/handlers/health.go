package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/nats-io/nats.go"
	"gorm.io/gorm"

	"github.com/peluqueria/booking-engine/internal/kv"
	"github.com/peluqueria/booking-engine/pkg/logger"
)

// HealthHandler serves the three liveness/readiness probes the core's
// out-of-scope deployment tooling polls (spec §1's "health/readiness
// endpoints" external collaborator).
type HealthHandler struct {
	db     *gorm.DB
	store  kv.Store
	nats   *nats.Conn
	logger logger.Logger
}

func NewHealthHandler(db *gorm.DB, store kv.Store, natsConn *nats.Conn, log logger.Logger) *HealthHandler {
	return &HealthHandler{db: db, store: store, nats: natsConn, logger: log}
}

// Health is a bare liveness probe: if the process can answer HTTP at all.
func (h *HealthHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "booking-engine"})
}

// Ready checks that C2 and C1 are actually reachable before the load
// balancer sends traffic this instance's way.
func (h *HealthHandler) Ready(c *gin.Context) {
	checks := gin.H{}
	ready := true

	if sqlDB, err := h.db.DB(); err != nil || sqlDB.Ping() != nil {
		checks["database"] = "down"
		ready = false
	} else {
		checks["database"] = "up"
	}

	ctx := c.Request.Context()
	if _, _, err := h.store.Get(ctx, "__readiness_probe__"); err != nil {
		checks["kv"] = "down"
		ready = false
	} else {
		checks["kv"] = "up"
	}

	if h.nats == nil {
		checks["nats"] = "disabled"
	} else if h.nats.IsConnected() {
		checks["nats"] = "up"
	} else {
		checks["nats"] = "down"
	}

	status := http.StatusOK
	if !ready {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{"status": map[bool]string{true: "ready", false: "not_ready"}[ready], "checks": checks})
}

// Live is the process-liveness probe distinct from Ready: it never
// depends on downstream collaborators, only on the server loop itself.
func (h *HealthHandler) Live(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "alive"})
}
