package bank

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

// Handler provides HTTP endpoints for account queries.
type Handler struct {
	ledger *Ledger
}

// NewHandler creates a new account handler.
func NewHandler(ledger *Ledger) *Handler {
	return &Handler{ledger: ledger}
}

// RegisterRoutes sets up account routes on the given group.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/accounts", h.ListAccounts)
	r.GET("/accounts/:owner", h.GetAccount)
	r.GET("/accounts/:owner/history", h.GetHistory)
}

// ListAccounts handles GET /api/v1/accounts
func (h *Handler) ListAccounts(c *gin.Context) {
	accounts, err := h.ledger.Summary(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"accounts": accounts})
}

// GetAccount handles GET /api/v1/accounts/:owner
func (h *Handler) GetAccount(c *gin.Context) {
	owner := c.Param("owner")
	if !IsKnownParty(owner) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "unknown account"})
		return
	}

	analytics, err := h.ledger.AccountAnalytics(c.Request.Context(), owner)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "unknown account"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"account": analytics})
}

// GetHistory handles GET /api/v1/accounts/:owner/history?limit=
func (h *Handler) GetHistory(c *gin.Context) {
	owner := c.Param("owner")
	if !IsKnownParty(owner) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "unknown account"})
		return
	}

	limit := 50
	if l := c.Query("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			limit = parsed
			if limit > 200 {
				limit = 200
			}
		}
	}

	entries, err := h.ledger.History(c.Request.Context(), owner, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"entries": entries,
		"count":   len(entries),
	})
}
