package audit

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/fraudgate/internal/validation"
)

// Handler provides HTTP endpoints over the audit log.
type Handler struct {
	store    Store
	pipeline *Pipeline
}

// NewHandler creates a new audit handler. pipeline may be nil.
func NewHandler(store Store, pipeline *Pipeline) *Handler {
	return &Handler{store: store, pipeline: pipeline}
}

// RegisterRoutes sets up audit routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/audit/:txId", validation.TxIDParamMiddleware(), h.GetByTx)
	r.GET("/dead-letters", h.ListDeadLetters)
}

// GetByTx handles GET /v1/audit/:txId
func (h *Handler) GetByTx(c *gin.Context) {
	txID := c.Param("txId")

	records, err := h.store.ListByTx(c.Request.Context(), txID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to load audit records",
		})
		return
	}
	if len(records) == 0 {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": "No audit records for transaction",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"tx_id":   txID,
		"records": records,
		"count":   len(records),
	})
}

// ListDeadLetters handles GET /v1/dead-letters
func (h *Handler) ListDeadLetters(c *gin.Context) {
	limit := 100
	if l := c.Query("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 && n <= 1000 {
			limit = n
		}
	}

	var out []DeadLetter
	if h.pipeline != nil {
		var err error
		out, err = h.pipeline.DeadLetters(c.Request.Context(), limit)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":   "internal_error",
				"message": "Failed to load dead letters",
			})
			return
		}
	}
	if out == nil {
		out = []DeadLetter{}
	}

	c.JSON(http.StatusOK, gin.H{
		"dead_letters": out,
		"count":        len(out),
	})
}
