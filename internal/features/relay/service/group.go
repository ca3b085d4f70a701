package service

import (
	"context"
	"strings"

	"relay-bot-backend/internal/platform/telegram"
)

// handleGroup relays staff replies from a user's thread back to the user.
func (r *Router) handleGroup(ctx context.Context, msg *telegram.Message) error {
	if !msg.IsTopicMessage || msg.MessageThreadID == 0 || msg.IsForumService() {
		return nil
	}

	userID, ok, err := r.Topics.ResolveThread(ctx, msg.MessageThreadID)
	if err != nil || !ok {
		return err
	}

	switch strings.TrimSpace(msg.Text) {
	case "/ban":
		return r.threadBan(ctx, msg, userID, true)
	case "/unban":
		return r.threadBan(ctx, msg, userID, false)
	}

	return r.relay(ctx, msg, userID, 0, "to_user")
}

func (r *Router) threadBan(ctx context.Context, msg *telegram.Message, userID int64, banned bool) error {
	if err := r.Topics.SetBanned(ctx, userID, banned, msg.MessageThreadID); err != nil {
		return err
	}
	text := textThreadUnbanned
	if banned {
		text = textThreadBanned
	}
	_, err := r.Bot.SendMessage(ctx, msg.Chat.ID, text, &telegram.SendOptions{ThreadID: msg.MessageThreadID})
	return err
}
