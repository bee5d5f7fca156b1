package httpapi

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"voicedial-platform/internal/campaign"
	"voicedial-platform/internal/scheduler"
	"voicedial-platform/pkg/logger"
)

// AdminHandler exposes the operator surface: manual campaign lifecycle
// control and scheduler introspection. All routes sit behind JWT auth.
type AdminHandler struct {
	sched     *scheduler.Scheduler
	campaigns campaign.Store
}

func NewAdminHandler(sched *scheduler.Scheduler, campaigns campaign.Store) *AdminHandler {
	return &AdminHandler{sched: sched, campaigns: campaigns}
}

func (h *AdminHandler) StartCampaign(c *gin.Context) {
	id := c.Param("id")
	if err := h.sched.StartNow(c.Request.Context(), id); err != nil {
		h.lifecycleError(c, id, "start", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"campaign_id": id, "status": "active"})
}

func (h *AdminHandler) PauseCampaign(c *gin.Context) {
	id := c.Param("id")
	if err := h.sched.Pause(c.Request.Context(), id); err != nil {
		h.lifecycleError(c, id, "pause", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"campaign_id": id, "status": "paused"})
}

func (h *AdminHandler) ResumeCampaign(c *gin.Context) {
	id := c.Param("id")
	if err := h.sched.Resume(c.Request.Context(), id); err != nil {
		h.lifecycleError(c, id, "resume", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"campaign_id": id, "status": "active"})
}

type resetRequest struct {
	UserID string `json:"user_id" binding:"required"`
}

func (h *AdminHandler) ResetCallState(c *gin.Context) {
	var req resetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id is required"})
		return
	}
	n, err := h.sched.ResetUserCallState(c.Request.Context(), req.UserID)
	if err != nil {
		logger.FromGin(c).Error("reset call state", "user_id", req.UserID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "reset failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"user_id": req.UserID, "contacts_reset": n})
}

func (h *AdminHandler) CallState(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"users": h.sched.CallState()})
}

func (h *AdminHandler) ResumableCampaigns(c *gin.Context) {
	userID := c.Query("userId")
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "userId query parameter is required"})
		return
	}
	out, err := h.sched.GetResumableCampaigns(c.Request.Context(), userID)
	if err != nil {
		logger.FromGin(c).Error("list resumable campaigns", "user_id", userID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "listing failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"user_id": userID, "campaigns": out})
}

func (h *AdminHandler) PendingSummary(c *gin.Context) {
	userID := c.Query("userId")
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "userId query parameter is required"})
		return
	}
	out, err := h.sched.GetPendingContactsSummary(c.Request.Context(), userID)
	if err != nil {
		logger.FromGin(c).Error("pending summary", "user_id", userID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "summary failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"user_id": userID, "campaigns": out})
}

// CampaignState returns one campaign's lifecycle fields and contact tallies.
func (h *AdminHandler) CampaignState(c *gin.Context) {
	id := c.Param("id")
	camp, err := h.campaigns.GetByID(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, campaign.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "campaign not found"})
			return
		}
		logger.FromGin(c).Error("load campaign", "campaign_id", id, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "lookup failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"campaign_id":      camp.CampaignID,
		"user_id":          camp.UserID,
		"status":           camp.Status,
		"paused_reason":    camp.PausedReason,
		"started_at":       camp.StartedAt,
		"completed_at":     camp.CompletedAt,
		"counts":           camp.CountContacts(),
		"completed_calls":  camp.CompletedCalls,
		"successful_calls": camp.SuccessfulCalls,
		"failed_calls":     camp.FailedCalls,
	})
}

type instantCallRequest struct {
	ContactID string `json:"contact_id" binding:"required"`
}

func (h *AdminHandler) GenerateInstantCall(c *gin.Context) {
	id := c.Param("id")
	var req instantCallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "contact_id is required"})
		return
	}
	err := h.sched.GenerateInstantCall(c.Request.Context(), id, req.ContactID)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"campaign_id": id, "contact_id": req.ContactID, "status": "dialing"})
	case errors.Is(err, campaign.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "campaign or contact not found"})
	case errors.Is(err, scheduler.ErrContactNotDialable):
		c.JSON(http.StatusConflict, gin.H{"error": "contact is not pending"})
	case errors.Is(err, scheduler.ErrBudgetExhausted):
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "concurrency budget exhausted"})
	default:
		logger.FromGin(c).Error("instant call", "campaign_id", id, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "instant call failed"})
	}
}

func (h *AdminHandler) lifecycleError(c *gin.Context, campaignID, op string, err error) {
	switch {
	case errors.Is(err, campaign.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "campaign not found"})
	case errors.Is(err, scheduler.ErrCampaignNotStartable),
		errors.Is(err, scheduler.ErrCampaignNotPausable),
		errors.Is(err, scheduler.ErrCampaignNotResumable):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		logger.FromGin(c).Error("campaign lifecycle op failed", "op", op, "campaign_id", campaignID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": op + " failed"})
	}
}
