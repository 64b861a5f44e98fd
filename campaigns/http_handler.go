package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/careforall/donation-platform/common/money"
)

type httpHandler struct {
	service CampaignService
}

func NewHTTPHandler(service CampaignService) *httpHandler {
	return &httpHandler{service: service}
}

// Per-request budgets: reads fail fast, writes get room for the
// transaction and outbox insert.
const (
	readTimeout  = 2 * time.Second
	writeTimeout = 5 * time.Second
)

// withTimeout bounds the request context so the store inherits the
// deadline.
func withTimeout(d time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), d)
		defer cancel()
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func (h *httpHandler) registerRoutes(r *gin.Engine) {
	v1 := r.Group("/v1")
	v1.POST("/campaigns", withTimeout(writeTimeout), h.createCampaign)
	v1.GET("/campaigns", withTimeout(readTimeout), h.listCampaigns)
	v1.GET("/campaigns/:id", withTimeout(readTimeout), h.getCampaign)
	v1.PATCH("/campaigns/:id", withTimeout(writeTimeout), h.updateCampaign)
	v1.POST("/campaigns/:id/close", withTimeout(writeTimeout), h.closeCampaign)
}

func (h *httpHandler) createCampaign(c *gin.Context) {
	var req CreateCampaignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}

	campaign, err := h.service.CreateCampaign(c.Request.Context(), req)
	if err != nil {
		if isValidationError(err) {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create campaign"})
		return
	}

	c.JSON(http.StatusCreated, campaign)
}

func (h *httpHandler) getCampaign(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid campaign id"})
		return
	}

	campaign, err := h.service.GetCampaign(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, ErrCampaignNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Campaign not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch campaign"})
		return
	}

	c.JSON(http.StatusOK, campaign)
}

func (h *httpHandler) listCampaigns(c *gin.Context) {
	var query struct {
		Status   string `form:"status"`
		Category string `form:"category"`
		Limit    int    `form:"limit,default=50"`
		Offset   int    `form:"offset,default=0"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	campaigns, err := h.service.ListCampaigns(c.Request.Context(), CampaignFilter{
		Status:   query.Status,
		Category: query.Category,
		Limit:    query.Limit,
		Offset:   query.Offset,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list campaigns"})
		return
	}

	c.JSON(http.StatusOK, campaigns)
}

func (h *httpHandler) updateCampaign(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid campaign id"})
		return
	}

	var req UpdateCampaignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}

	campaign, err := h.service.UpdateCampaign(c.Request.Context(), id, req)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, campaign)
	case errors.Is(err, ErrCampaignNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Campaign not found"})
	case errors.Is(err, ErrCampaignClosed):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case isValidationError(err):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update campaign"})
	}
}

func (h *httpHandler) closeCampaign(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid campaign id"})
		return
	}

	var req struct {
		Cancelled bool `json:"cancelled"`
	}
	// Body is optional; closing without one completes the campaign.
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
			return
		}
	}

	campaign, err := h.service.CloseCampaign(c.Request.Context(), id, req.Cancelled)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, campaign)
	case errors.Is(err, ErrCampaignNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Campaign not found"})
	case errors.Is(err, ErrCampaignClosed):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to close campaign"})
	}
}

func isValidationError(err error) bool {
	return errors.Is(err, money.ErrInvalidAmount) ||
		errors.Is(err, money.ErrNotPositive) ||
		errors.Is(err, money.ErrTooManyDecimals) ||
		errors.Is(err, money.ErrExceedsLimit) ||
		errors.Is(err, money.ErrInvalidCurrency) ||
		errors.Is(err, ErrEndDateInPast)
}
