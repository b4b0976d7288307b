package brokers

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

var (
	// ErrUnknownBroker is returned by the registry for an unregistered name.
	ErrUnknownBroker = errors.New("unknown broker")
	// ErrBrokerRegistered is returned when registering a name twice.
	ErrBrokerRegistered = errors.New("broker already registered")
	// ErrAuthRequired indicates no live session exists for the requested key.
	ErrAuthRequired = errors.New("authentication required")
	// ErrAuthFailed indicates the broker rejected the supplied credentials.
	ErrAuthFailed = errors.New("authentication failed")
	// ErrBrokerConnection indicates the owning session for an order is gone.
	ErrBrokerConnection = errors.New("broker connection not available")
	// ErrValidation indicates a malformed request rejected before any broker call.
	ErrValidation = errors.New("validation failed")
)

// ErrorCode is the fixed classification assigned to a broker failure.
type ErrorCode string

const (
	CodeAuthError         ErrorCode = "AUTH_ERROR"
	CodeNetworkError      ErrorCode = "NETWORK_ERROR"
	CodeRateLimit         ErrorCode = "RATE_LIMIT_ERROR"
	CodeInsufficientFunds ErrorCode = "INSUFFICIENT_FUNDS"
	CodeInvalidSymbol     ErrorCode = "INVALID_SYMBOL"
	CodeMarketClosed      ErrorCode = "MARKET_CLOSED"
	CodeOrderRejected     ErrorCode = "ORDER_REJECTED"
	CodeBrokerError       ErrorCode = "BROKER_ERROR"
	CodeTimeout           ErrorCode = "TIMEOUT_ERROR"
	CodeUnknown           ErrorCode = "UNKNOWN_ERROR"
)

// classification carries the fixed retryability bit and user-facing message
// template for each error code. Raw broker error text is never shown to users.
var classifications = map[ErrorCode]struct {
	retryable bool
	message   string
}{
	CodeAuthError:         {false, "Your broker session has expired. Please reconnect your account."},
	CodeNetworkError:      {true, "Could not reach your broker. Please try again."},
	CodeRateLimit:         {true, "Too many requests to your broker. Please wait a moment and retry."},
	CodeInsufficientFunds: {false, "Insufficient funds in your broker account for this order."},
	CodeInvalidSymbol:     {false, "The requested symbol is not tradable on this broker."},
	CodeMarketClosed:      {false, "The market is currently closed for this order type."},
	CodeOrderRejected:     {false, "Your broker rejected the order."},
	CodeBrokerError:       {true, "Your broker reported a temporary error. Please try again."},
	CodeTimeout:           {true, "The broker did not respond in time. Please try again."},
	CodeUnknown:           {false, "An unexpected error occurred. Please try again or reconnect."},
}

// ClassifiedError wraps a broker failure with its fixed classification so
// pipelines can branch on retryability without inspecting broker-specific text.
type ClassifiedError struct {
	Code      ErrorCode
	Retryable bool
	Message   string
	Err       error
}

func (e *ClassifiedError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Code, e.Err)
	}
	return string(e.Code)
}

func (e *ClassifiedError) Unwrap() error { return e.Err }

// NewClassifiedError builds a ClassifiedError for code wrapping cause, using
// the fixed retryability bit and message template for that code.
func NewClassifiedError(code ErrorCode, cause error) *ClassifiedError {
	c, ok := classifications[code]
	if !ok {
		c = classifications[CodeUnknown]
		code = CodeUnknown
	}
	return &ClassifiedError{
		Code:      code,
		Retryable: c.retryable,
		Message:   c.message,
		Err:       cause,
	}
}

// Classify maps an arbitrary error onto the fixed taxonomy. Errors already
// classified pass through unchanged; transport-level errors become
// NETWORK_ERROR or TIMEOUT_ERROR; everything else is matched against common
// broker error text before falling back to UNKNOWN_ERROR.
func Classify(err error) *ClassifiedError {
	if err == nil {
		return nil
	}

	var classified *ClassifiedError
	if errors.As(err, &classified) {
		return classified
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return NewClassifiedError(CodeTimeout, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return NewClassifiedError(CodeTimeout, err)
		}
		return NewClassifiedError(CodeNetworkError, err)
	}

	msg := strings.ToLower(err.Error())
	switch {
	case containsAny(msg, "unauthorized", "invalid token", "session expired", "invalid session", "not logged in", "invalid credentials"):
		return NewClassifiedError(CodeAuthError, err)
	case containsAny(msg, "rate limit", "too many requests", "429"):
		return NewClassifiedError(CodeRateLimit, err)
	case containsAny(msg, "insufficient", "margin shortfall", "not enough funds"):
		return NewClassifiedError(CodeInsufficientFunds, err)
	case containsAny(msg, "invalid symbol", "unknown symbol", "symbol not found", "instrument not found"):
		return NewClassifiedError(CodeInvalidSymbol, err)
	case containsAny(msg, "market closed", "market is closed", "outside market hours", "after market"):
		return NewClassifiedError(CodeMarketClosed, err)
	case containsAny(msg, "rejected", "rms:"):
		return NewClassifiedError(CodeOrderRejected, err)
	case containsAny(msg, "connection refused", "connection reset", "no such host", "broken pipe", "eof"):
		return NewClassifiedError(CodeNetworkError, err)
	case containsAny(msg, "timeout", "timed out", "deadline exceeded"):
		return NewClassifiedError(CodeTimeout, err)
	case containsAny(msg, "internal server error", "service unavailable", "bad gateway", "502", "503"):
		return NewClassifiedError(CodeBrokerError, err)
	default:
		return NewClassifiedError(CodeUnknown, err)
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
