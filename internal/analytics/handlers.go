package analytics

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

const (
	defaultTransactionsLimit = 50
	defaultBlocksLimit       = 5
	maxLimit                 = 1000
)

// Handler provides HTTP endpoints for dashboards.
type Handler struct {
	service *Service
}

// NewHandler creates a new analytics handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up analytics routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/transactions", h.Transactions)
	r.GET("/analytics/stats", h.Stats)
	r.GET("/analytics/decision-split", h.DecisionSplit)
	r.GET("/analytics/recent-blocks", h.RecentBlocks)
}

func limitParam(c *gin.Context, def int) int {
	if l := c.Query("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 && n <= maxLimit {
			return n
		}
	}
	return def
}

func internalError(c *gin.Context, msg string) {
	c.JSON(http.StatusInternalServerError, gin.H{
		"error":   "internal_error",
		"message": msg,
	})
}

// Stats handles GET /v1/analytics/stats
func (h *Handler) Stats(c *gin.Context) {
	stats, err := h.service.Stats(c.Request.Context())
	if err != nil {
		internalError(c, "Failed to load stats")
		return
	}
	c.JSON(http.StatusOK, stats)
}

// DecisionSplit handles GET /v1/analytics/decision-split
func (h *Handler) DecisionSplit(c *gin.Context) {
	split, err := h.service.DecisionSplit(c.Request.Context())
	if err != nil {
		internalError(c, "Failed to load decision split")
		return
	}
	c.JSON(http.StatusOK, split)
}

// Transactions handles GET /v1/transactions
func (h *Handler) Transactions(c *gin.Context) {
	txs, err := h.service.Transactions(c.Request.Context(), limitParam(c, defaultTransactionsLimit))
	if err != nil {
		internalError(c, "Failed to load transactions")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"transactions": txs,
		"count":        len(txs),
	})
}

// RecentBlocks handles GET /v1/analytics/recent-blocks
func (h *Handler) RecentBlocks(c *gin.Context) {
	txs, err := h.service.RecentBlocks(c.Request.Context(), limitParam(c, defaultBlocksLimit))
	if err != nil {
		internalError(c, "Failed to load recent blocks")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"blocks": txs,
		"count":  len(txs),
	})
}
