package decision

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/fraudgate/internal/fraud"
	"github.com/mbd888/fraudgate/internal/validation"
)

// Response is the decision endpoint payload: the decision result plus the
// outcome of the audit hand-off.
type Response struct {
	fraud.DecisionResult
	AuditStatus AuditStatus `json:"audit_status"`
}

// Handler provides the HTTP decision endpoint.
type Handler struct {
	engine *Engine
	now    func() time.Time
}

// NewHandler creates a new decision handler.
func NewHandler(engine *Engine) *Handler {
	return &Handler{engine: engine, now: engine.now}
}

// RegisterRoutes sets up decision routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/decision", h.Decide)
}

// Decide handles POST /v1/decision
func (h *Handler) Decide(c *gin.Context) {
	receivedAt := h.now()

	var tx fraud.Transaction
	if err := c.ShouldBindJSON(&tx); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}
	if tx.Timestamp.IsZero() {
		tx.Timestamp = receivedAt.UTC()
	}

	out, err := h.engine.Evaluate(c.Request.Context(), tx, receivedAt)
	if err != nil {
		var verrs validation.ValidationErrors
		if errors.As(err, &verrs) {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "validation_error",
				"message": verrs.Error(),
				"details": verrs,
			})
			return
		}
		// Evaluate only errors on validation; anything else is a bug.
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to evaluate transaction",
		})
		return
	}

	c.JSON(http.StatusOK, Response{DecisionResult: out.Result, AuditStatus: out.AuditStatus})
}
