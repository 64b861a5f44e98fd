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
	service BankService
}

func NewHTTPHandler(service BankService) *httpHandler {
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
	v1.POST("/bank/accounts", withTimeout(writeTimeout), h.createAccount)
	v1.GET("/bank/accounts", withTimeout(readTimeout), h.listAccounts)
	v1.GET("/bank/accounts/:number", withTimeout(readTimeout), h.getAccount)
	v1.GET("/bank/accounts/:number/transactions", withTimeout(readTimeout), h.listTransactions)
	v1.POST("/bank/transfers", withTimeout(writeTimeout), h.transfer)
	v1.POST("/bank/transfers/:id/reverse", withTimeout(writeTimeout), h.reverse)
}

func (h *httpHandler) createAccount(c *gin.Context) {
	var req CreateAccountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}

	account, err := h.service.CreateAccount(c.Request.Context(), req)
	switch {
	case err == nil:
		c.JSON(http.StatusCreated, account)
	case errors.Is(err, ErrAccountExists):
		c.JSON(http.StatusBadRequest, gin.H{"error": "User already has a bank account"})
	case isMoneyError(err):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create account"})
	}
}

func (h *httpHandler) getAccount(c *gin.Context) {
	account, err := h.service.GetAccount(c.Request.Context(), c.Param("number"))
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Account not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch account"})
		return
	}
	c.JSON(http.StatusOK, account)
}

func (h *httpHandler) listAccounts(c *gin.Context) {
	var query struct {
		UserID string `form:"user_id"`
		Status string `form:"status"`
		Limit  int    `form:"limit,default=50"`
		Offset int    `form:"offset,default=0"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	filter := AccountFilter{Status: query.Status, Limit: query.Limit, Offset: query.Offset}
	if query.UserID != "" {
		userID, err := uuid.Parse(query.UserID)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user_id"})
			return
		}
		filter.UserID = &userID
	}

	accounts, err := h.service.ListAccounts(c.Request.Context(), filter)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list accounts"})
		return
	}
	c.JSON(http.StatusOK, accounts)
}

func (h *httpHandler) listTransactions(c *gin.Context) {
	var query struct {
		Limit  int `form:"limit,default=50"`
		Offset int `form:"offset,default=0"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	txs, err := h.service.ListTransactions(c.Request.Context(), c.Param("number"), query.Limit, query.Offset)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Account not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list transactions"})
		return
	}
	c.JSON(http.StatusOK, txs)
}

func (h *httpHandler) transfer(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read request body"})
		return
	}

	status, respBody, err := h.service.Transfer(
		c.Request.Context(), body, c.GetHeader("X-Idempotency-Key"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "transfer processing failed"})
		return
	}

	c.Data(status, "application/json", respBody)
}

func (h *httpHandler) reverse(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid transaction id"})
		return
	}

	reversal, err := h.service.Reverse(c.Request.Context(), id)
	switch {
	case err == nil:
		c.JSON(http.StatusCreated, reversal)
	case errors.Is(err, ErrTransactionNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Transaction not found"})
	case errors.Is(err, ErrNotReversible), errors.Is(err, ErrTransferInvalid):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to reverse transaction"})
	}
}

func isMoneyError(err error) bool {
	return errors.Is(err, money.ErrInvalidAmount) ||
		errors.Is(err, money.ErrNotPositive) ||
		errors.Is(err, money.ErrTooManyDecimals) ||
		errors.Is(err, money.ErrExceedsLimit) ||
		errors.Is(err, money.ErrInvalidCurrency)
}
