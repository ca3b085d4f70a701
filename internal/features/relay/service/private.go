package service

import (
	"context"
	"strconv"
	"strings"

	"relay-bot-backend/internal/common/errors"
	"relay-bot-backend/internal/common/htmlsafe"
	"relay-bot-backend/internal/domain/user"
	"relay-bot-backend/internal/features/verification/models"
	verificationservice "relay-bot-backend/internal/features/verification/service"
	"relay-bot-backend/internal/platform/telegram"
)

const (
	lastReplyPrefix = "last_reply:"
	refreshPrefix   = "/start refresh_"
)

// handleUser runs the private chat of a non-owner. groupID is 0 when no staff
// group is bound.
func (r *Router) handleUser(ctx context.Context, groupID int64, msg *telegram.Message) error {
	uid := msg.From.ID

	rec, err := r.Topics.GetUser(ctx, uid)
	if err != nil {
		return err
	}
	if rec != nil && rec.IsBanned {
		return r.sendHTML(ctx, uid, textLocallyBanned)
	}

	union, err := r.Settings.UnionBanEnabled(ctx)
	if err != nil {
		return err
	}
	if union {
		banned, err := r.Verification.IsUnionBanned(ctx, uid)
		if err != nil {
			return err
		}
		if banned {
			return r.sendHTML(ctx, uid, textUnionBanned)
		}
		if strings.HasPrefix(msg.Text, refreshPrefix) {
			return r.refresh(ctx, groupID, msg)
		}
	}

	if rec.HasThread() {
		return r.relayVerified(ctx, groupID, rec.ThreadID, msg)
	}

	if union {
		return r.sendUnionPrompt(ctx, uid)
	}

	mode, err := r.Settings.LocalMode(ctx)
	if err != nil {
		return err
	}
	out, err := r.Verification.Evaluate(ctx, mode, verificationservice.Input{
		UserID:     uid,
		Text:       msg.Text,
		HasSticker: msg.Sticker != nil,
	})
	if err != nil {
		return err
	}

	switch out.Action {
	case models.ActionChallengeIssued:
		return r.sendHTML(ctx, uid, out.Prompt)
	case models.ActionFailed:
		return r.sendPlain(ctx, uid, textVerifyFailed)
	case models.ActionHint:
		return r.sendPlain(ctx, uid, textVerifyHint)
	}

	if mode.IsLocalChallenge() {
		if err := r.sendPlain(ctx, uid, textVerifyPassed); err != nil {
			return err
		}
	}
	return r.onboard(ctx, groupID, msg)
}

func (r *Router) relayVerified(ctx context.Context, groupID, threadID int64, msg *telegram.Message) error {
	uid := msg.From.ID
	if strings.TrimSpace(msg.Text) == "/start" {
		return r.sendWelcome(ctx, uid)
	}
	if groupID == 0 {
		return r.sendPlain(ctx, uid, textNotBound)
	}

	r.autoReply(ctx, uid)
	return r.relay(ctx, msg, groupID, threadID, "to_group")
}

// autoReply answers at most once per window. Album fragments after the first
// find the marker already set.
func (r *Router) autoReply(ctx context.Context, uid int64) {
	text, err := r.Settings.AutoReply(ctx)
	if err != nil {
		r.logger.Warn().Err(err).Msg("Failed to load auto-reply")
		return
	}
	if text == "" {
		return
	}

	first, err := r.Markers.SetNX(ctx, lastReplyPrefix+strconv.FormatInt(uid, 10), "1", r.opts.AutoReplyWindow)
	if err != nil {
		r.logger.Warn().Err(err).Int64("user_id", uid).Msg("Failed to set auto-reply marker")
		return
	}
	if !first {
		return
	}
	if err := r.sendPlain(ctx, uid, text); err != nil {
		r.logger.Warn().Err(err).Int64("user_id", uid).Msg("Failed to send auto-reply")
	}
}

// onboard opens the user's thread after verification and forwards the
// message that completed it.
func (r *Router) onboard(ctx context.Context, groupID int64, msg *telegram.Message) error {
	uid := msg.From.ID
	if groupID == 0 {
		return r.sendPlain(ctx, uid, textNotBound)
	}

	profile := user.Profile{
		ID:        uid,
		FirstName: msg.From.FirstName,
		LastName:  msg.From.LastName,
		Username:  msg.From.Username,
	}
	threadID, created, err := r.Topics.Assign(ctx, groupID, profile)
	if errors.HasCode(err, errors.ErrCodeInitInProgress) {
		return r.sendPlain(ctx, uid, textResend)
	}
	if err != nil {
		return err
	}

	if created {
		text, markup := introCard(profile)
		if _, err := r.Bot.SendMessage(ctx, groupID, text, &telegram.SendOptions{
			ThreadID:    threadID,
			ParseMode:   telegram.ParseModeHTML,
			ReplyMarkup: markup,
		}); err != nil {
			r.logger.Warn().Err(err).Int64("user_id", uid).Msg("Failed to post intro card")
		}
	}

	// Staff see the triggering message before the user gets the welcome.
	var relayErr error
	if !strings.HasPrefix(msg.Text, "/start") {
		relayErr = r.relay(ctx, msg, groupID, threadID, "to_group")
	}
	if created {
		if err := r.sendWelcome(ctx, uid); err != nil {
			r.logger.Warn().Err(err).Int64("user_id", uid).Msg("Failed to send welcome")
		}
	}
	return relayErr
}

func (r *Router) sendWelcome(ctx context.Context, uid int64) error {
	text, err := r.Settings.WelcomeMessage(ctx)
	if err != nil {
		return err
	}
	buttons, err := r.Settings.WelcomeButtons(ctx)
	if err != nil {
		return err
	}

	opts := &telegram.SendOptions{ParseMode: telegram.ParseModeHTML, DisableWebPagePreview: true}
	if len(buttons) > 0 {
		opts.ReplyMarkup = &telegram.InlineKeyboardMarkup{InlineKeyboard: buttons}
	}
	_, err = r.Bot.SendMessage(ctx, uid, htmlsafe.Sanitize(text), opts)
	return err
}

func (r *Router) sendUnionPrompt(ctx context.Context, uid int64) error {
	username, err := r.Settings.BotUsername(ctx)
	if err != nil {
		return err
	}
	link, err := r.Verification.DeepLink(r.opts.UnionBotUsername, r.opts.UnionWebAppName, uid, username)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "build verification link")
	}
	_, err = r.Bot.SendMessage(ctx, uid, textUnionPrompt, &telegram.SendOptions{
		ParseMode: telegram.ParseModeHTML,
		ReplyMarkup: &telegram.InlineKeyboardMarkup{InlineKeyboard: [][]telegram.InlineKeyboardButton{
			{{Text: textUnionButton, URL: link}},
		}},
	})
	return err
}

func (r *Router) refresh(ctx context.Context, groupID int64, msg *telegram.Message) error {
	uid := msg.From.ID
	status, err := r.Verification.Refresh(ctx, uid)
	if err != nil {
		r.logger.Error().Err(err).Int64("user_id", uid).Msg("Verification refresh failed")
		r.Reporter.Report(ctx, "union refresh", err)
		return r.sendPlain(ctx, uid, textNetworkError)
	}

	if !status.Verified {
		text := textRefreshFailed
		if status.DebugInfo != nil {
			text = textRefreshDebug(status.DebugInfo.Key, status.DebugInfo.Timestamp)
		}
		return r.sendPlain(ctx, uid, text)
	}

	if err := r.sendPlain(ctx, uid, textVerifyPassed); err != nil {
		return err
	}
	return r.onboard(ctx, groupID, msg)
}
