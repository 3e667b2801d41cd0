package httpapi

import (
	"errors"
	"net/http"
	"net/url"

	"voicebridge/internal/auth"
	"voicebridge/internal/calls"
	"voicebridge/internal/config"
	"voicebridge/internal/opslog"
	"voicebridge/internal/transfer"
	"voicebridge/pkg/logger"

	"github.com/gin-gonic/gin"
)

// Handlers groups the operator-facing JSON endpoints for dependency
// injection. Keep these thin: parse/validate input, call internal services,
// return JSON.
type Handlers struct {
	Calls     calls.Store
	Transfers *transfer.Service
	Dialer    transfer.Dialer
	Ops       *opslog.Service
	Cfg       config.TwilioConfig
}

// --- Calls ---

type placeCallRequest struct {
	To string `json:"to"`
}

// PlaceCall dials an outbound call on behalf of the operator. The answered
// leg fetches the public outbound-connect document to reach its destination.
func (h Handlers) PlaceCall(c *gin.Context) {
	orgID, err := auth.OrgID(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "org_id required"})
		return
	}

	var req placeCallRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.To == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "to is required"})
		return
	}

	connectURL := h.Cfg.PublicBaseURL + "/webhooks/voice/outbound-connect?to=" + url.QueryEscape(req.To)
	sid, err := h.Dialer.PlaceCall(c.Request.Context(), req.To, h.Cfg.CallerID, connectURL)
	if err != nil {
		logger.FromGin(c).Error("outbound call failed", "to", req.To, "err", err)
		c.AbortWithStatusJSON(http.StatusBadGateway, gin.H{"error": "carrier call failed"})
		return
	}

	if _, err := h.Calls.Create(c.Request.Context(), calls.Call{
		Sid:       sid,
		OrgID:     orgID,
		Direction: calls.DirectionOutbound,
		From:      h.Cfg.CallerID,
		To:        req.To,
		Status:    calls.StatusQueued,
	}); err != nil && !errors.Is(err, calls.ErrAlreadyExists) {
		logger.FromGin(c).Error("outbound call record failed", "call_sid", sid, "err", err)
	}

	if h.Ops != nil {
		actorID, _ := auth.AgentID(c.Request.Context())
		_ = h.Ops.LogCallPlaced(c.Request.Context(), orgID, actorID, sid)
	}

	c.JSON(http.StatusCreated, gin.H{"sid": sid, "status": string(calls.StatusQueued)})
}

// GetCall returns a call record, org-scoped.
func (h Handlers) GetCall(c *gin.Context) {
	orgID, err := auth.OrgID(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "org_id required"})
		return
	}

	call, err := h.Calls.GetBySid(c.Request.Context(), c.Param("sid"))
	if err != nil || call.OrgID != orgID {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "call not found"})
		return
	}
	c.JSON(http.StatusOK, call)
}

// --- Transfers ---

// StartTransfer begins a warm transfer of a live call to a target agent.
// A second transfer while one is active is rejected synchronously with 409;
// the original session is unaffected.
func (h Handlers) StartTransfer(c *gin.Context) {
	orgID, err := auth.OrgID(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "org_id required"})
		return
	}

	var req transfer.StartRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.TargetNumber == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "target_number is required"})
		return
	}

	sid := c.Param("sid")
	if call, err := h.Calls.GetBySid(c.Request.Context(), sid); err != nil || call.OrgID != orgID {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "call not found"})
		return
	}

	sess, err := h.Transfers.Start(c.Request.Context(), sid, req)
	switch {
	case err == nil:
	case errors.Is(err, transfer.ErrTransferActive):
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "a transfer is already active for this call"})
		return
	case errors.Is(err, transfer.ErrCallNotFound):
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "call not found"})
		return
	case errors.Is(err, transfer.ErrCallNotLive):
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "call is not in progress"})
		return
	case errors.Is(err, transfer.ErrInvalidArgument):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid transfer request"})
		return
	default:
		logger.FromGin(c).Error("transfer start failed", "call_sid", sid, "err", err)
		c.AbortWithStatusJSON(http.StatusBadGateway, gin.H{"error": "transfer failed"})
		return
	}

	if h.Ops != nil {
		actorID, _ := auth.AgentID(c.Request.Context())
		_ = h.Ops.LogTransferStarted(c.Request.Context(), orgID, actorID, sid, sess.RoomID)
	}

	c.JSON(http.StatusCreated, sess)
}

// GetTransfer returns the session currently occupying the call's slot.
func (h Handlers) GetTransfer(c *gin.Context) {
	orgID, err := auth.OrgID(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "org_id required"})
		return
	}

	sess, err := h.Transfers.ActiveForSource(c.Request.Context(), c.Param("sid"))
	if err != nil || sess.OrgID != orgID {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "no active transfer"})
		return
	}
	c.JSON(http.StatusOK, sess)
}
