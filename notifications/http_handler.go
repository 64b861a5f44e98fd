package main

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type httpHandler struct {
	service *service
}

func NewHTTPHandler(svc *service) *httpHandler {
	return &httpHandler{service: svc}
}

func (h *httpHandler) registerRoutes(r *gin.Engine) {
	v1 := r.Group("/v1")
	v1.POST("/notifications/send", h.send)
	v1.GET("/notifications", h.list)
	v1.GET("/notifications/:id", h.get)
}

// send is the internal endpoint other services call directly.
func (h *httpHandler) send(c *gin.Context) {
	var req SendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}

	n, err := h.service.SendDirect(c.Request.Context(), req)
	switch {
	case err == nil:
		c.JSON(http.StatusCreated, n)
	case errors.Is(err, ErrAlreadyNotified):
		c.JSON(http.StatusConflict, gin.H{"error": "notification already sent for this event"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to send notification"})
	}
}

func (h *httpHandler) get(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid notification id"})
		return
	}

	n, err := h.service.Get(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, ErrNotificationNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Notification not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch notification"})
		return
	}
	c.JSON(http.StatusOK, n)
}

func (h *httpHandler) list(c *gin.Context) {
	recipient := c.Query("recipient")
	if recipient == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "recipient is required"})
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

	out, err := h.service.List(c.Request.Context(), recipient, query.Limit, query.Offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list notifications"})
		return
	}
	c.JSON(http.StatusOK, out)
}
