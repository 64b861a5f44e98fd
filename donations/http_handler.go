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
	service DonationService
}

func NewHTTPHandler(service DonationService) *httpHandler {
	return &httpHandler{service: service}
}

// Per-request budgets: reads fail fast, writes get room for the
// transaction and outbox insert.
const (
	readTimeout  = 2 * time.Second
	writeTimeout = 5 * time.Second
)

// withTimeout bounds the request context so the store and cache
// inherit the deadline.
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
	v1.POST("/donations", withTimeout(writeTimeout), h.createDonation)
	v1.GET("/donations", withTimeout(readTimeout), h.getHistory)
	v1.GET("/donations/:id", withTimeout(readTimeout), h.getDonation)
	v1.PATCH("/donations/:id/status", withTimeout(writeTimeout), h.updateStatus)
}

func (h *httpHandler) createDonation(c *gin.Context) {
	var req CreateDonationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}

	donation, err := h.service.CreateDonation(c.Request.Context(), req)
	if err != nil {
		if isValidationError(err) {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create donation"})
		return
	}

	c.JSON(http.StatusCreated, donation)
}

func (h *httpHandler) getDonation(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid donation id"})
		return
	}

	donation, err := h.service.GetDonation(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, ErrDonationNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Donation not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch donation"})
		return
	}

	c.JSON(http.StatusOK, donation)
}

func (h *httpHandler) getHistory(c *gin.Context) {
	donorEmail := c.Query("donor_email")
	if donorEmail == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "donor_email is required"})
		return
	}

	var query struct {
		Limit  int `form:"limit,default=50"`
		Offset int `form:"offset,default=0"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	donations, err := h.service.GetHistory(c.Request.Context(), donorEmail, query.Limit, query.Offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch history"})
		return
	}

	c.JSON(http.StatusOK, donations)
}

func (h *httpHandler) updateStatus(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid donation id"})
		return
	}

	var req UpdateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}

	donation, err := h.service.UpdateStatus(c.Request.Context(), id, req)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, donation)
	case errors.Is(err, ErrDonationNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Donation not found"})
	case errors.Is(err, ErrUnknownStatus), errors.Is(err, ErrTerminalStatus):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update donation"})
	}
}

func isValidationError(err error) bool {
	return errors.Is(err, money.ErrInvalidAmount) ||
		errors.Is(err, money.ErrNotPositive) ||
		errors.Is(err, money.ErrTooManyDecimals) ||
		errors.Is(err, money.ErrExceedsLimit) ||
		errors.Is(err, money.ErrInvalidCurrency)
}
