package http

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/paygate-protocol/paygate"
	"github.com/paygate-protocol/paygate/logger"
)

// FacilitatorHandler exposes a facilitator service over HTTP: POST /verify,
// POST /settle, and GET /supported. Gates point a FacilitatorClient at it.
type FacilitatorHandler struct {
	service paygate.FacilitatorService
	log     logger.Logger
}

// NewFacilitatorHandler wraps a facilitator service.
func NewFacilitatorHandler(service paygate.FacilitatorService, log logger.Logger) *FacilitatorHandler {
	if log == nil {
		log = logger.Noop{}
	}
	return &FacilitatorHandler{service: service, log: log}
}

// Register mounts the facilitator routes on a gin router.
func (h *FacilitatorHandler) Register(r gin.IRouter) {
	r.POST("/verify", h.handleVerify)
	r.POST("/settle", h.handleSettle)
	r.GET("/supported", h.handleSupported)
}

func (h *FacilitatorHandler) handleVerify(c *gin.Context) {
	var req paygate.VerifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}
	if req.Version != paygate.ProtocolVersion {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unsupported protocol version"})
		return
	}

	resp, err := h.service.Verify(c.Request.Context(), &req.PaymentPayload, &req.Requirements)
	if err != nil {
		h.log.Error("verify failed", map[string]any{
			"network": req.PaymentPayload.Network,
			"error":   err.Error(),
		})
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *FacilitatorHandler) handleSettle(c *gin.Context) {
	var req paygate.SettleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}
	if req.Version != paygate.ProtocolVersion {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unsupported protocol version"})
		return
	}

	resp, err := h.service.Settle(c.Request.Context(), &req.PaymentPayload, &req.Requirements)
	if err != nil {
		h.log.Error("settle failed", map[string]any{
			"network": req.PaymentPayload.Network,
			"error":   err.Error(),
		})
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *FacilitatorHandler) handleSupported(c *gin.Context) {
	c.JSON(http.StatusOK, paygate.SupportedResponse{Kinds: h.service.Supported()})
}
