package service

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"relay-bot-backend/internal/common/logger"
)

const reportTimeout = 10 * time.Second

// Reporter pushes failures to the owner's private chat. It is a no-op when no
// owner is configured.
type Reporter struct {
	bot     Bot
	ownerID int64
	logger  zerolog.Logger
}

func NewReporter(bot Bot, ownerID int64) *Reporter {
	return &Reporter{bot: bot, ownerID: ownerID, logger: logger.Component("reporter")}
}

// Report is best-effort; its own failures are only logged.
func (r *Reporter) Report(ctx context.Context, where string, err error) {
	if r == nil || r.ownerID == 0 || err == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), reportTimeout)
	defer cancel()

	text := fmt.Sprintf("🚨 Error: %s\n%s", where, err.Error())
	if _, sendErr := r.bot.SendMessage(ctx, r.ownerID, text, nil); sendErr != nil {
		r.logger.Warn().Err(sendErr).Msg("Failed to report error to owner")
	}
}
