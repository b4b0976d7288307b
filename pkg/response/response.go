package response

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/ravitejakamalapuram/copytradepro-sub006/internal/brokers"
)

// Response represents a standardized API response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *Error      `json:"error,omitempty"`
}

// Error represents an error response
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Common error codes
const (
	ErrCodeNotFound          = "NOT_FOUND"
	ErrCodeBadRequest        = "BAD_REQUEST"
	ErrCodeUnauthorized      = "UNAUTHORIZED"
	ErrCodeForbidden         = "FORBIDDEN"
	ErrCodeInternalError     = "INTERNAL_ERROR"
	ErrCodeValidationFailed  = "VALIDATION_FAILED"
	ErrCodeDuplicateResource = "DUPLICATE_RESOURCE"
	ErrCodeAuthRequired      = "AUTH_REQUIRED"
	ErrCodeAuthFailed        = "AUTH_FAILED"
	ErrCodeUnknownBroker     = "UNKNOWN_BROKER"
	ErrCodeBrokerConnection  = "BROKER_CONNECTION"
)

// Handle processes the error and returns appropriate response
func Handle(c *gin.Context, data interface{}, err error) {
	if err == nil {
		Success(c, data)
		return
	}

	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		NotFound(c, "Resource not found")
	case errors.Is(err, gorm.ErrDuplicatedKey):
		Conflict(c, "Resource already exists")
	case errors.Is(err, brokers.ErrValidation):
		ErrorWithCode(c, http.StatusBadRequest, ErrCodeValidationFailed, err.Error())
	case errors.Is(err, brokers.ErrUnknownBroker):
		ErrorWithCode(c, http.StatusBadRequest, ErrCodeUnknownBroker, err.Error())
	case errors.Is(err, brokers.ErrAuthRequired):
		ErrorWithCode(c, http.StatusUnauthorized, ErrCodeAuthRequired, "No active broker session. Please reconnect your account.")
	case errors.Is(err, brokers.ErrAuthFailed):
		ErrorWithCode(c, http.StatusUnauthorized, ErrCodeAuthFailed, err.Error())
	case errors.Is(err, brokers.ErrBrokerConnection):
		ErrorWithCode(c, http.StatusServiceUnavailable, ErrCodeBrokerConnection, "Broker connection not available. Please reconnect your account.")
	default:
		handleError(c, err)
	}
}

// Success sends a successful response
func Success(c *gin.Context, data interface{}) {
	status := http.StatusOK
	if c.Request.Method == "POST" {
		status = http.StatusCreated
	}

	c.JSON(status, Response{
		Success: true,
		Data:    data,
	})
}

// ErrorWithCode sends a failure response with an explicit status and code.
func ErrorWithCode(c *gin.Context, status int, code, message string) {
	c.JSON(status, Response{
		Success: false,
		Error: &Error{
			Code:    code,
			Message: message,
		},
	})
}

// NotFound sends a 404 response
func NotFound(c *gin.Context, message string) {
	ErrorWithCode(c, http.StatusNotFound, ErrCodeNotFound, message)
}

// BadRequest sends a 400 response
func BadRequest(c *gin.Context, message string) {
	ErrorWithCode(c, http.StatusBadRequest, ErrCodeBadRequest, message)
}

// Unauthorized sends a 401 response
func Unauthorized(c *gin.Context, message string) {
	ErrorWithCode(c, http.StatusUnauthorized, ErrCodeUnauthorized, message)
}

// Forbidden sends a 403 response
func Forbidden(c *gin.Context, message string) {
	ErrorWithCode(c, http.StatusForbidden, ErrCodeForbidden, message)
}

// InternalError sends a 500 response
func InternalError(c *gin.Context, message string) {
	ErrorWithCode(c, http.StatusInternalServerError, ErrCodeInternalError, message)
}

// Conflict sends a 409 response
func Conflict(c *gin.Context, message string) {
	ErrorWithCode(c, http.StatusConflict, ErrCodeDuplicateResource, message)
}

// handleError determines the appropriate error response. Classified broker
// errors surface their code with a user-facing message; raw broker error
// text never reaches the client.
func handleError(c *gin.Context, err error) {
	var classified *brokers.ClassifiedError
	if errors.As(err, &classified) {
		status := http.StatusBadGateway
		if classified.Code == brokers.CodeAuthError {
			status = http.StatusUnauthorized
		}
		ErrorWithCode(c, status, string(classified.Code), classified.Message)
		return
	}

	InternalError(c, "An unexpected error occurred")
}
