package service

import (
	"context"
	"strings"
	"unicode"

	"relay-bot-backend/internal/common/errors"
	"relay-bot-backend/internal/common/validation"
	"relay-bot-backend/internal/platform/telegram"
)

// splitCommand separates "/cmd rest"; rest keeps its inner line breaks.
func splitCommand(text string) (string, string) {
	text = strings.TrimSpace(text)
	i := strings.IndexFunc(text, unicode.IsSpace)
	if i < 0 {
		return text, ""
	}
	return text[:i], strings.TrimSpace(text[i:])
}

func (r *Router) handleOwner(ctx context.Context, msg *telegram.Message) error {
	chatID := msg.Chat.ID
	cmd, arg := splitCommand(msg.Text)

	switch cmd {
	case "/start":
		return r.sendHTML(ctx, chatID, textOwnerStart(r.opts.Version))

	case "/menu", "/cancel":
		return r.sendMenu(ctx, chatID)

	case "/ban", "/unban":
		banned := cmd == "/ban"
		id, err := validation.ParseUserID(arg)
		if err != nil {
			return r.sendHTML(ctx, chatID, textUsage(cmd, "<uid>"))
		}
		if err := r.Topics.SetBanned(ctx, id, banned, 0); err != nil {
			return err
		}
		if banned {
			return r.sendHTML(ctx, chatID, textBanned(id))
		}
		return r.sendHTML(ctx, chatID, textUnbanned(id))

	case "/welcome":
		if err := r.Settings.SetWelcomeMessage(ctx, arg); err != nil {
			return r.replyAdminError(ctx, chatID, err)
		}
		return r.sendPlain(ctx, chatID, textWelcomeUpdated)

	case "/welbtn":
		if _, err := r.Settings.SetWelcomeButtons(ctx, arg); err != nil {
			if errors.HasCode(err, errors.ErrCodeMalformedButtons) {
				return r.sendHTML(ctx, chatID, textButtonsMalformed)
			}
			return err
		}
		return r.sendPlain(ctx, chatID, textButtonsUpdated)

	case "/reply":
		if arg == "" {
			if err := r.Settings.ClearAutoReply(ctx); err != nil {
				return err
			}
			return r.sendPlain(ctx, chatID, textReplyDisabled)
		}
		if err := r.Settings.SetAutoReply(ctx, arg); err != nil {
			return r.replyAdminError(ctx, chatID, err)
		}
		return r.sendPlain(ctx, chatID, textReplyUpdated)

	case "/broadcast":
		if err := validation.ValidateMessageText(arg); err != nil {
			return r.sendPlain(ctx, chatID, textEmptyBroadcast)
		}
		res, err := r.Broadcasts.Start(ctx, chatID, arg)
		if err != nil {
			return err
		}
		return r.sendHTML(ctx, chatID, broadcastReport(res))

	case "/bcontinue":
		offset := 0
		if arg != "" {
			n, err := validation.ParseOffset(arg)
			if err != nil {
				return r.sendHTML(ctx, chatID, textUsage(cmd, "<offset>"))
			}
			offset = n
		}
		res, err := r.Broadcasts.Continue(ctx, chatID, offset)
		if errors.HasCode(err, errors.ErrCodeNoPendingJob) {
			return r.sendPlain(ctx, chatID, textNoPendingJob)
		}
		if err != nil {
			return err
		}
		return r.sendHTML(ctx, chatID, broadcastReport(res))

	case "/bcancel":
		if err := r.Broadcasts.Cancel(ctx, chatID); err != nil {
			return err
		}
		return r.sendPlain(ctx, chatID, textBroadcastCanceled)
	}

	return r.sendPlain(ctx, chatID, textOwnerFallback)
}

// replyAdminError explains invalid input instead of treating it as a failure.
func (r *Router) replyAdminError(ctx context.Context, chatID int64, err error) error {
	appErr, ok := errors.AsAppError(err)
	if !ok || !appErr.IsValidation() {
		return err
	}
	return r.sendPlain(ctx, chatID, "❌ "+appErr.Message)
}

func (r *Router) sendMenu(ctx context.Context, chatID int64) error {
	snap, err := r.Settings.Snapshot(ctx)
	if err != nil {
		return err
	}
	text, markup := renderMenu(snap)
	_, err = r.Bot.SendMessage(ctx, chatID, text, &telegram.SendOptions{
		ParseMode:   telegram.ParseModeHTML,
		ReplyMarkup: markup,
	})
	return err
}

func (r *Router) handleCallback(ctx context.Context, q *telegram.CallbackQuery) error {
	if q.Message == nil {
		return r.Bot.AnswerCallbackQuery(ctx, q.ID, "", false)
	}
	chatID, messageID := q.Message.Chat.ID, q.Message.MessageID

	switch q.Data {
	case cbToggleUnion:
		if _, err := r.Settings.ToggleUnionBan(ctx); err != nil {
			return err
		}

	case cbCycleLocal:
		if _, err := r.Settings.CycleLocalMode(ctx); err != nil {
			if appErr, ok := errors.AsAppError(err); ok && appErr.IsPrecondition() {
				return r.Bot.AnswerCallbackQuery(ctx, q.ID, textNeedUnionOff, true)
			}
			return err
		}

	case cbGuideWelcome, cbGuideReply, cbGuideBroadcast:
		snap, err := r.Settings.Snapshot(ctx)
		if err != nil {
			return err
		}
		text := guideBroadcast
		switch q.Data {
		case cbGuideWelcome:
			text = guideWelcome(snap)
		case cbGuideReply:
			text = guideReply(snap)
		}
		if err := r.Bot.EditMessageText(ctx, chatID, messageID, text, &telegram.SendOptions{
			ParseMode: telegram.ParseModeHTML,
		}); err != nil && !telegram.IsNotModified(err) {
			return err
		}
		return r.Bot.AnswerCallbackQuery(ctx, q.ID, "", false)

	case cbRefreshMenu:
	default:
		return r.Bot.AnswerCallbackQuery(ctx, q.ID, "", false)
	}

	snap, err := r.Settings.Snapshot(ctx)
	if err != nil {
		return err
	}
	text, markup := renderMenu(snap)
	if err := r.Bot.EditMessageText(ctx, chatID, messageID, text, &telegram.SendOptions{
		ParseMode:   telegram.ParseModeHTML,
		ReplyMarkup: markup,
	}); err != nil && !telegram.IsNotModified(err) {
		r.logger.Warn().Err(err).Msg("Failed to refresh menu")
	}
	return r.Bot.AnswerCallbackQuery(ctx, q.ID, "", false)
}
