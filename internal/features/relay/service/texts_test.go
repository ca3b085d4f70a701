package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"relay-bot-backend/internal/features/broadcast"
)

func TestBroadcastReport(t *testing.T) {
	done := broadcastReport(&broadcast.Result{Sent: 3, Total: 3, NextOffset: 3})
	assert.Contains(t, done, "Broadcast finished")
	assert.NotContains(t, done, "/bcontinue")

	limited := broadcastReport(&broadcast.Result{
		Sent: 1, Failed: 1, Total: 3, NextOffset: 1, HasMore: true,
		RateLimited: true, RetryAfter: 4 * time.Second,
	})
	assert.Contains(t, limited, "paused by Telegram rate limit")
	assert.Contains(t, limited, "Retry after: 4s")
	assert.Contains(t, limited, "/bcontinue 1")

	failed := broadcastReport(&broadcast.Result{Sent: 1, Failed: 1, Total: 3, NextOffset: 1, HasMore: true})
	assert.Contains(t, failed, "paused after a delivery error")
	assert.NotContains(t, failed, "Retry after")
}
