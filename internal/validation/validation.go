// Package validation provides input validation for decision requests.
package validation

import (
	"math"
	"net/http"
	"regexp"
	"strings"

	"github.com/gin-gonic/gin"
)

// MaxRequestSize is the maximum request body size (64KB). A decision
// request is a flat object of a dozen fields.
const MaxRequestSize = 64 << 10

// MaxStringLength is the maximum length for free-text fields such as
// review notes.
const MaxStringLength = 2000

// identifierRegex matches tx ids and payment addresses (UPI VPAs such as
// "alice@bank", account numbers, opaque ids).
var identifierRegex = regexp.MustCompile(`^[A-Za-z0-9@._:\-]+$`)

// RequestSizeMiddleware limits request body size
func RequestSizeMiddleware(maxSize int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxSize)
		c.Next()
	}
}

// IsValidIdentifier checks if a string is a usable identifier
func IsValidIdentifier(s string) bool {
	return identifierRegex.MatchString(s)
}

// SanitizeString removes dangerous characters and limits length
func SanitizeString(s string, maxLen int) string {
	s = strings.TrimSpace(s)
	if len(s) > maxLen {
		s = s[:maxLen]
	}
	return strings.ReplaceAll(s, "\x00", "")
}

// ValidationError represents a validation error
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "validation failed"
	}
	return e[0].Field + ": " + e[0].Message
}

// Validate runs validators and collects their failures
func Validate(validators ...func() *ValidationError) ValidationErrors {
	var errs ValidationErrors
	for _, v := range validators {
		if err := v(); err != nil {
			errs = append(errs, *err)
		}
	}
	return errs
}

// Required checks if a field is non-empty
func Required(field, value string) func() *ValidationError {
	return func() *ValidationError {
		if strings.TrimSpace(value) == "" {
			return &ValidationError{Field: field, Message: "is required"}
		}
		return nil
	}
}

// ValidIdentifier checks the identifier alphabet. Empty values pass; use
// Required for required fields.
func ValidIdentifier(field, value string) func() *ValidationError {
	return func() *ValidationError {
		if value == "" {
			return nil
		}
		if !IsValidIdentifier(value) {
			return &ValidationError{Field: field, Message: "contains invalid characters"}
		}
		return nil
	}
}

// MaxLength checks if a field exceeds max length
func MaxLength(field, value string, max int) func() *ValidationError {
	return func() *ValidationError {
		if len(value) > max {
			return &ValidationError{Field: field, Message: "exceeds maximum length"}
		}
		return nil
	}
}

// Positive checks that a number is strictly greater than zero
func Positive(field string, value float64) func() *ValidationError {
	return func() *ValidationError {
		if !(value > 0) {
			return &ValidationError{Field: field, Message: "must be greater than zero"}
		}
		return nil
	}
}

// Finite rejects NaN and infinities
func Finite(field string, value float64) func() *ValidationError {
	return func() *ValidationError {
		if math.IsNaN(value) || math.IsInf(value, 0) {
			return &ValidationError{Field: field, Message: "must be a finite number"}
		}
		return nil
	}
}

// AtMost checks value <= max. Non-finite values are left to Finite.
func AtMost(field string, value, max float64) func() *ValidationError {
	return func() *ValidationError {
		if !math.IsInf(value, 0) && value > max {
			return &ValidationError{Field: field, Message: "exceeds maximum"}
		}
		return nil
	}
}

// InRange checks min <= value <= max
func InRange(field string, value, min, max float64) func() *ValidationError {
	return func() *ValidationError {
		if math.IsNaN(value) || value < min || value > max {
			return &ValidationError{Field: field, Message: "is out of range"}
		}
		return nil
	}
}

// NonNegative checks that a counter is not negative
func NonNegative(field string, value int) func() *ValidationError {
	return func() *ValidationError {
		if value < 0 {
			return &ValidationError{Field: field, Message: "must not be negative"}
		}
		return nil
	}
}

// TxIDParamMiddleware validates the :txId URL parameter on routes that use it.
func TxIDParamMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("txId")
		if id != "" && (!IsValidIdentifier(id) || len(id) > 128) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_tx_id",
				"message": "txId must be 1-128 characters of [A-Za-z0-9@._:-]",
			})
			return
		}
		c.Next()
	}
}
