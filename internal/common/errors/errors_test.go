package errors

import (
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrapKeepsCause(t *testing.T) {
	err := NewTelegramAPIError("sendMessage", io.ErrUnexpectedEOF)

	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
	assert.True(t, err.IsRemote())
	assert.Contains(t, err.Error(), "TELEGRAM_API_ERROR")
	assert.Equal(t, "sendMessage", err.Details["operation"])
}

func TestAsAppErrorUnwrapsChain(t *testing.T) {
	base := NewMalformedValueError("config:union_ban", fmt.Errorf("unexpected %q", "maybe"))
	wrapped := fmt.Errorf("load settings: %w", base)

	appErr, ok := AsAppError(wrapped)
	require.True(t, ok)
	assert.Equal(t, ErrCodeMalformedValue, appErr.Code)
	assert.True(t, HasCode(wrapped, ErrCodeMalformedValue))
	assert.False(t, HasCode(wrapped, ErrCodeCacheError))
	assert.True(t, appErr.IsInternal())
}

func TestAsAppErrorNil(t *testing.T) {
	appErr, ok := AsAppError(nil)
	assert.False(t, ok)
	assert.Nil(t, appErr)
	assert.False(t, IsAppError(io.EOF))
}

func TestClassification(t *testing.T) {
	assert.True(t, NewPreconditionError("topics enabled").IsPrecondition())
	assert.True(t, NewValidationError("uid", "must be numeric").IsValidation())
	assert.True(t, New(ErrCodeMalformedButtons, "bad").IsValidation())
	assert.True(t, NewExternalAPIError("/check_ban", io.EOF).IsRemote())
}

func TestRateLimitErrorCarriesRetryAfter(t *testing.T) {
	err := NewRateLimitError("telegram", 7*time.Second, io.EOF)
	assert.True(t, err.IsRemote())
	assert.ErrorIs(t, err, io.EOF)

	d, ok := RetryAfter(fmt.Errorf("send: %w", NewTelegramAPIError("sendMessage", err)))
	require.True(t, ok)
	assert.Equal(t, 7*time.Second, d)

	_, ok = RetryAfter(NewTelegramAPIError("sendMessage", io.EOF))
	assert.False(t, ok)
}
