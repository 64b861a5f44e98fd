package main

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Read path budget: a totals lookup that cannot finish in 2s should
// fail fast rather than pile up behind a slow tier.
const (
	readTimeout  = 2 * time.Second
	writeTimeout = 5 * time.Second
)

// withTimeout bounds the request context so downstream tiers inherit
// the deadline.
func withTimeout(d time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), d)
		defer cancel()
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

type httpHandler struct {
	service TotalsService
	logger  *zap.Logger
}

func NewHTTPHandler(service TotalsService, logger *zap.Logger) *httpHandler {
	return &httpHandler{service: service, logger: logger}
}

func (h *httpHandler) registerRoutes(r *gin.Engine) {
	v1 := r.Group("/v1")
	v1.GET("/totals/campaigns/:id", withTimeout(readTimeout), h.getTotals)
	v1.POST("/totals/refresh", h.refresh)
	v1.DELETE("/totals/cache/:id", withTimeout(writeTimeout), h.invalidate)
}

func (h *httpHandler) getTotals(c *gin.Context) {
	campaignID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid campaign id"})
		return
	}
	realtime := c.Query("realtime") == "true"

	totals, err := h.service.GetTotals(c.Request.Context(), campaignID, realtime)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch totals"})
		return
	}
	c.JSON(http.StatusOK, totals)
}

// refresh triggers a concurrent snapshot rebuild without blocking the
// request.
func (h *httpHandler) refresh(c *gin.Context) {
	go func() {
		// Detached from the request lifetime on purpose.
		if err := h.service.RefreshSnapshot(context.Background()); err != nil {
			h.logger.Error("manual snapshot refresh failed", zap.Error(err))
		}
	}()
	c.JSON(http.StatusAccepted, gin.H{"status": "scheduled"})
}

func (h *httpHandler) invalidate(c *gin.Context) {
	campaignID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid campaign id"})
		return
	}

	if err := h.service.InvalidateCampaign(c.Request.Context(), campaignID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to invalidate cache"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success"})
}
