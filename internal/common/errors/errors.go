package errors

import (
	stderrors "errors"
	"fmt"
	"runtime"
	"strings"
	"time"
)

// ErrorCode classifies an AppError.
type ErrorCode string

const (
	// General
	ErrCodeInternal           ErrorCode = "INTERNAL_ERROR"
	ErrCodeValidation         ErrorCode = "VALIDATION_ERROR"
	ErrCodeUnauthorized       ErrorCode = "UNAUTHORIZED"
	ErrCodeForbidden          ErrorCode = "FORBIDDEN"
	ErrCodeBadRequest         ErrorCode = "BAD_REQUEST"
	ErrCodePreconditionFailed ErrorCode = "PRECONDITION_FAILED"

	// Users and topics
	ErrCodeInitInProgress   ErrorCode = "INIT_IN_PROGRESS"
	ErrCodeGroupNotBound    ErrorCode = "GROUP_NOT_BOUND"
	ErrCodeNoPendingJob     ErrorCode = "NO_PENDING_BROADCAST"
	ErrCodeMalformedButtons ErrorCode = "MALFORMED_BUTTONS"

	// Storage
	ErrCodeCacheError     ErrorCode = "CACHE_ERROR"
	ErrCodeMalformedValue ErrorCode = "MALFORMED_VALUE"

	// Remote APIs
	ErrCodeTelegramAPI ErrorCode = "TELEGRAM_API_ERROR"
	ErrCodeExternalAPI ErrorCode = "EXTERNAL_API_ERROR"
	ErrCodeRateLimit   ErrorCode = "RATE_LIMIT_EXCEEDED"
)

// AppError is the typed application error.
type AppError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   map[string]interface{} `json:"details,omitempty"`
	Context   map[string]string      `json:"context,omitempty"`
	Stack     []string               `json:"stack,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	RequestID string                 `json:"request_id,omitempty"`
	UserID    int64                  `json:"user_id,omitempty"`
	Cause     error                  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// IsRemote reports failures of the messaging platform or the union authority.
func (e *AppError) IsRemote() bool {
	return e.Code == ErrCodeTelegramAPI ||
		e.Code == ErrCodeExternalAPI ||
		e.Code == ErrCodeRateLimit
}

// IsValidation reports malformed input.
func (e *AppError) IsValidation() bool {
	return e.Code == ErrCodeValidation ||
		e.Code == ErrCodeBadRequest ||
		e.Code == ErrCodeMalformedButtons
}

// IsPrecondition reports unmet permissions or setup (topics disabled, not admin, no group bound).
func (e *AppError) IsPrecondition() bool {
	return e.Code == ErrCodePreconditionFailed ||
		e.Code == ErrCodeForbidden ||
		e.Code == ErrCodeGroupNotBound
}

// IsInternal reports storage and decoding failures.
func (e *AppError) IsInternal() bool {
	return e.Code == ErrCodeInternal ||
		e.Code == ErrCodeCacheError ||
		e.Code == ErrCodeMalformedValue
}

func (e *AppError) WithContext(key, value string) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]string)
	}
	e.Context[key] = value
	return e
}

func (e *AppError) WithDetail(key string, value interface{}) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

func (e *AppError) WithRequestID(requestID string) *AppError {
	e.RequestID = requestID
	return e
}

func (e *AppError) WithUserID(userID int64) *AppError {
	e.UserID = userID
	return e
}

// New builds an AppError and captures the caller's stack.
func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:      code,
		Message:   message,
		Timestamp: time.Now(),
		Stack:     getStackTrace(),
	}
}

func Wrap(err error, code ErrorCode, message string) *AppError {
	appErr := New(code, message)
	appErr.Cause = err
	return appErr
}

func getStackTrace() []string {
	var stack []string
	for i := 2; ; i++ {
		pc, file, line, ok := runtime.Caller(i)
		if !ok {
			break
		}
		fn := runtime.FuncForPC(pc)
		if fn == nil {
			continue
		}
		if strings.Contains(fn.Name(), "internal/common/errors") {
			continue
		}
		stack = append(stack, fmt.Sprintf("%s:%d %s", file, line, fn.Name()))
		if len(stack) >= 10 {
			break
		}
	}
	return stack
}

func NewValidationError(field, reason string) *AppError {
	return New(ErrCodeValidation, fmt.Sprintf("Validation failed for field '%s': %s", field, reason)).
		WithDetail("field", field).
		WithDetail("reason", reason)
}

// NewPreconditionError describes a permission or setup requirement that is not met.
func NewPreconditionError(requirement string) *AppError {
	return New(ErrCodePreconditionFailed, fmt.Sprintf("Precondition failed: %s", requirement)).
		WithDetail("requirement", requirement)
}

// NewMalformedValueError marks a stored value that does not decode for its key category.
func NewMalformedValueError(key string, cause error) *AppError {
	return Wrap(cause, ErrCodeMalformedValue, fmt.Sprintf("Malformed stored value for key %s", key)).
		WithDetail("key", key)
}

func NewCacheError(operation string, err error) *AppError {
	return Wrap(err, ErrCodeCacheError, fmt.Sprintf("Cache operation failed: %s", operation)).
		WithDetail("operation", operation)
}

func NewTelegramAPIError(operation string, err error) *AppError {
	return Wrap(err, ErrCodeTelegramAPI, fmt.Sprintf("Telegram API operation failed: %s", operation)).
		WithDetail("operation", operation)
}

// NewExternalAPIError wraps a failure of the union verification authority.
func NewExternalAPIError(endpoint string, err error) *AppError {
	return Wrap(err, ErrCodeExternalAPI, fmt.Sprintf("External API call failed: %s", endpoint)).
		WithDetail("endpoint", endpoint)
}

// NewRateLimitError marks a remote call rejected for flooding; retryAfter is the
// wait the service asked for, zero when it did not say.
func NewRateLimitError(service string, retryAfter time.Duration, cause error) *AppError {
	return Wrap(cause, ErrCodeRateLimit, fmt.Sprintf("Rate limit exceeded for %s", service)).
		WithDetail("service", service).
		WithDetail("retry_after", retryAfter.String())
}

// RetryAfter returns the wait of the first rate limit error in err's chain.
func RetryAfter(err error) (time.Duration, bool) {
	for err != nil {
		appErr, ok := AsAppError(err)
		if !ok {
			return 0, false
		}
		if appErr.Code == ErrCodeRateLimit {
			raw, _ := appErr.Details["retry_after"].(string)
			d, perr := time.ParseDuration(raw)
			return d, perr == nil
		}
		err = appErr.Cause
	}
	return 0, false
}

func IsAppError(err error) bool {
	_, ok := AsAppError(err)
	return ok
}

// AsAppError finds the outermost AppError in err's chain.
func AsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if err == nil {
		return nil, false
	}
	if stderrors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// HasCode reports whether any AppError in err's chain carries code.
func HasCode(err error, code ErrorCode) bool {
	for err != nil {
		appErr, ok := AsAppError(err)
		if !ok {
			return false
		}
		if appErr.Code == code {
			return true
		}
		err = appErr.Cause
	}
	return false
}
