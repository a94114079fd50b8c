package review

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/fraudgate/internal/validation"
)

// Handler provides HTTP endpoints for the review queue.
type Handler struct {
	service *Service
}

// NewHandler creates a new review handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up review routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/reviews", h.ListPending)
	r.GET("/reviews/:txId", validation.TxIDParamMiddleware(), h.Get)
	r.POST("/reviews/:txId/resolve", validation.TxIDParamMiddleware(), h.Resolve)
}

// ListPending handles GET /v1/reviews
func (h *Handler) ListPending(c *gin.Context) {
	limit := defaultPendingLimit
	if l := c.Query("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 && n <= 1000 {
			limit = n
		}
	}

	items, err := h.service.Pending(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to list reviews",
		})
		return
	}
	if items == nil {
		items = []Item{}
	}

	c.JSON(http.StatusOK, gin.H{
		"reviews": items,
		"count":   len(items),
	})
}

// Get handles GET /v1/reviews/:txId
func (h *Handler) Get(c *gin.Context) {
	txID := c.Param("txId")

	item, err := h.service.Get(c.Request.Context(), txID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "Review item not found",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to get review item",
		})
		return
	}

	resolutions, err := h.service.Resolutions(c.Request.Context(), txID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to load resolutions",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"review":      item,
		"resolutions": resolutions,
	})
}

// Resolve handles POST /v1/reviews/:txId/resolve
func (h *Handler) Resolve(c *gin.Context) {
	txID := c.Param("txId")

	var req ResolveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "final_decision is required",
		})
		return
	}

	res, err := h.service.Resolve(c.Request.Context(), txID, req)
	if err != nil {
		var verrs validation.ValidationErrors
		switch {
		case errors.Is(err, ErrInvalidDecision):
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_decision",
				"message": err.Error(),
			})
		case errors.As(err, &verrs):
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "validation_error",
				"message": verrs.Error(),
				"details": verrs,
			})
		case errors.Is(err, ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "Review item not found",
			})
		case errors.Is(err, ErrAlreadyResolved):
			c.JSON(http.StatusConflict, gin.H{
				"error":   "already_resolved",
				"message": "Review item already resolved",
			})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":   "internal_error",
				"message": "Failed to resolve review",
			})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"resolution": res,
	})
}
