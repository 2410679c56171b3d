package handlers

import (
	"net/http"
	"regexp"

	"github.com/gin-gonic/gin"

	"github.com/peluqueria/booking-engine/internal/dialogue"
	"github.com/peluqueria/booking-engine/internal/repository"
	"github.com/peluqueria/booking-engine/pkg/logger"
	"github.com/peluqueria/booking-engine/pkg/reporter"
)

// sessionIDPattern is spec §6's loopback request validation for session_id.
var sessionIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{4,40}$`)

// LoopbackHandler serves POST /webhook, the core API spec §6 calls the
// "inbound loopback" surface: any trusted caller (an internal test
// harness, an alternate channel adapter) can drive C7 directly by shop
// api_key instead of through the WhatsApp transport in internal/webhook.
type LoopbackHandler struct {
	shops  *repository.ShopRepository
	engine *dialogue.Engine
	logger logger.Logger
}

func NewLoopbackHandler(shops *repository.ShopRepository, engine *dialogue.Engine, log logger.Logger) *LoopbackHandler {
	return &LoopbackHandler{shops: shops, engine: engine, logger: log}
}

type loopbackRequest struct {
	SessionID string `json:"session_id" binding:"required"`
	Mensaje   string `json:"mensaje" binding:"required"`
	Origin    string `json:"origin" binding:"required"`
}

// Handle implements POST /webhook (spec §6's loopback body/response
// shapes: {session_id, mensaje, origin} in, {respuesta, respuesta2?, ui?,
// choices?} out). Always 200 on a completed dialogue step, including
// business-level outcomes like no_slot; 403 on a bad api_key; 500 only on
// an unexpected failure.
func (h *LoopbackHandler) Handle(c *gin.Context) {
	apiKey := c.GetHeader("X-API-KEY")
	if apiKey == "" {
		c.JSON(http.StatusForbidden, gin.H{"error": "missing X-API-KEY"})
		return
	}

	ctx := c.Request.Context()
	shop, err := h.shops.GetByAPIKey(ctx, apiKey)
	if err != nil {
		h.logger.Error("loopback api-key lookup failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"respuesta": "Error interno, inténtalo de nuevo más tarde."})
		return
	}
	if shop == nil {
		c.JSON(http.StatusForbidden, gin.H{"error": "invalid api key"})
		return
	}

	var req loopbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if !sessionIDPattern.MatchString(req.SessionID) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid session_id"})
		return
	}

	var origin dialogue.Origin
	switch req.Origin {
	case "text":
		origin = dialogue.OriginText
	case "button":
		origin = dialogue.OriginButton
	case "list":
		origin = dialogue.OriginList
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid origin"})
		return
	}

	ctx = dialogue.WithIdempotencyKey(ctx, c.GetHeader("Idempotency-Key"))

	reply, err := h.engine.Handle(ctx, req.SessionID, shop, req.Mensaje, origin)
	if err != nil {
		h.logger.Error("dialogue engine failed unexpectedly", "error", err, "shop_id", shop.ID, "session_id", req.SessionID)
		reporter.Capture(err, map[string]string{"shop_id": shop.ID, "session_id": req.SessionID})
		c.JSON(http.StatusInternalServerError, gin.H{"respuesta": "Lo siento, ha ocurrido un error interno. Inténtalo de nuevo más tarde."})
		return
	}

	c.JSON(http.StatusOK, reply)
}
