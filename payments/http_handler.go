package main

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/careforall/donation-platform/common/money"
)

type httpHandler struct {
	service PaymentService
}

func NewHTTPHandler(service PaymentService) *httpHandler {
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
	v1.POST("/payments/intent", withTimeout(writeTimeout), h.createIntent)
	v1.POST("/payments/webhook", withTimeout(writeTimeout), h.webhook)
	v1.GET("/payments/:id", withTimeout(readTimeout), h.getPayment)
	v1.POST("/payments/:id/refund", withTimeout(writeTimeout), h.refund)
}

func (h *httpHandler) createIntent(c *gin.Context) {
	var req CreateIntentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}

	intent, err := h.service.CreateIntent(c.Request.Context(), req)
	if err != nil {
		if isValidationError(err) {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create payment intent"})
		return
	}

	c.JSON(http.StatusCreated, intent)
}

func (h *httpHandler) webhook(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read request body"})
		return
	}

	status, respBody, err := h.service.HandleWebhook(
		c.Request.Context(), body, c.GetHeader("X-Idempotency-Key"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "webhook processing failed"})
		return
	}

	c.Data(status, "application/json", respBody)
}

func (h *httpHandler) getPayment(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payment id"})
		return
	}

	intent, err := h.service.GetPayment(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, ErrPaymentNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Payment not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch payment"})
		return
	}

	c.JSON(http.StatusOK, intent)
}

func (h *httpHandler) refund(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payment id"})
		return
	}

	intent, err := h.service.Refund(c.Request.Context(), id)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, intent)
	case errors.Is(err, ErrPaymentNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Payment not found"})
	case errors.Is(err, ErrNotRefundable):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to refund payment"})
	}
}

func isValidationError(err error) bool {
	return errors.Is(err, money.ErrInvalidAmount) ||
		errors.Is(err, money.ErrNotPositive) ||
		errors.Is(err, money.ErrTooManyDecimals) ||
		errors.Is(err, money.ErrExceedsLimit) ||
		errors.Is(err, money.ErrInvalidCurrency)
}
