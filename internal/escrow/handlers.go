package escrow

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/midpay/internal/bank"
	"github.com/mbd888/midpay/internal/tx"
	"github.com/mbd888/midpay/internal/validation"
)

// Handler provides HTTP endpoints for transaction operations.
type Handler struct {
	service *Service
}

// NewHandler creates a new transaction handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up transaction routes on the given group.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/transactions", h.ListTransactions)
	r.GET("/transactions/:id", h.GetTransaction)
	r.POST("/transactions", h.CreateTransaction)
	r.POST("/transactions/:id/complete", h.MarkCompleted)
	r.POST("/transactions/:id/confirm", h.ConfirmTransaction)
	r.POST("/transactions/:id/cancel", h.CancelTransaction)
	r.POST("/transactions/:id/dispute", h.DisputeTransaction)
	r.POST("/transactions/:id/resolve", h.ResolveTransaction)
	r.GET("/chain", h.ListChain)
	r.GET("/chain/verify", h.VerifyChain)
	r.GET("/analytics/volume", h.VolumeAnalytics)
}

// respondError maps service errors to HTTP statuses.
func respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	code := "internal_error"
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, bank.ErrAccountNotFound):
		status = http.StatusNotFound
		code = "not_found"
	case errors.Is(err, tx.ErrInvalidTransition):
		status = http.StatusConflict
		code = "invalid_state"
	case errors.Is(err, bank.ErrInvalidAmount):
		status = http.StatusBadRequest
		code = "invalid_amount"
	case errors.Is(err, bank.ErrInsufficientFunds):
		status = http.StatusPaymentRequired
		code = "insufficient_funds"
	}
	c.JSON(status, gin.H{"error": code, "message": err.Error()})
}

// CreateTransaction handles POST /api/v1/transactions
func (h *Handler) CreateTransaction(c *gin.Context) {
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "amount is required",
		})
		return
	}

	if errs := validation.Validate(
		validation.Required("amount", req.Amount),
		validation.ValidAmount("amount", req.Amount),
		validation.MaxLength("description", req.Description, validation.MaxStringLength),
	); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": errs.Error(),
			"details": errs,
		})
		return
	}

	rec, err := h.service.Create(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"transaction": rec})
}

// GetTransaction handles GET /api/v1/transactions/:id
func (h *Handler) GetTransaction(c *gin.Context) {
	rec, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"transaction": rec})
}

// ListTransactions handles GET /api/v1/transactions?status=&party=
func (h *Handler) ListTransactions(c *gin.Context) {
	filter := HistoryFilter{
		Status: c.Query("status"),
		Party:  c.Query("party"),
	}

	records, err := h.service.History(c.Request.Context(), filter)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_filter", "message": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"transactions": records,
		"count":        len(records),
	})
}

// MarkCompleted handles POST /api/v1/transactions/:id/complete
func (h *Handler) MarkCompleted(c *gin.Context) {
	rec, err := h.service.MarkCompleted(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"transaction": rec})
}

// ConfirmTransaction handles POST /api/v1/transactions/:id/confirm
func (h *Handler) ConfirmTransaction(c *gin.Context) {
	rec, err := h.service.Confirm(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"transaction": rec})
}

// CancelTransaction handles POST /api/v1/transactions/:id/cancel
func (h *Handler) CancelTransaction(c *gin.Context) {
	rec, err := h.service.Cancel(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"transaction": rec})
}

// DisputeTransaction handles POST /api/v1/transactions/:id/dispute
func (h *Handler) DisputeTransaction(c *gin.Context) {
	var req DisputeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "reason is required",
		})
		return
	}

	rec, err := h.service.Dispute(c.Request.Context(), c.Param("id"), req.Reason)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"transaction": rec})
}

// ResolveTransaction handles POST /api/v1/transactions/:id/resolve
func (h *Handler) ResolveTransaction(c *gin.Context) {
	var req ResolveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "outcome is required (release or refund)",
		})
		return
	}

	rec, err := h.service.Resolve(c.Request.Context(), c.Param("id"), req.Outcome)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"transaction": rec})
}

// ListChain handles GET /api/v1/chain
func (h *Handler) ListChain(c *gin.Context) {
	blocks := h.service.Chain().Blocks()
	c.JSON(http.StatusOK, gin.H{
		"blocks":     blocks,
		"length":     len(blocks),
		"difficulty": h.service.Chain().Difficulty(),
	})
}

// VerifyChain handles GET /api/v1/chain/verify
func (h *Handler) VerifyChain(c *gin.Context) {
	c.JSON(http.StatusOK, h.service.VerifyChain())
}

// VolumeAnalytics handles GET /api/v1/analytics/volume?period=
func (h *Handler) VolumeAnalytics(c *gin.Context) {
	period := c.DefaultQuery("period", "day")

	points, err := h.service.Volume(c.Request.Context(), period)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_period", "message": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"period": period,
		"points": points,
	})
}
