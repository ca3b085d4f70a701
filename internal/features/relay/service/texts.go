package service

import (
	"fmt"
	"html"
	"strings"

	"relay-bot-backend/internal/domain/user"
	"relay-bot-backend/internal/features/broadcast"
	"relay-bot-backend/internal/platform/telegram"
)

const (
	textCallbackDenied = "🚫"

	textLocallyBanned = "🚫 You have been banned from this bot. Contact the administrators if you think this is a mistake."
	textUnionBanned   = "🚫 <b>You are banned across the union network.</b>"
	textVerifyPassed  = "✅ Verification passed. You can start chatting now."
	textVerifyFailed  = "❌ Verification failed. You have been banned."
	textVerifyHint    = "🔒 Please send /start to begin verification."
	textNotBound      = "⚠️ The bot is not bound to a staff group yet."
	textResend        = "⏳ Your chat is being set up. Please send your message again in a moment."
	textNetworkError  = "❌ Network error, please try again later."
	textRefreshFailed = "❌ Verification has expired. Send /start to verify again."

	textUnionPrompt = "🔒 <b>Security check</b>\n\nThis bot uses the shared verification service. " +
		"Tap the button below to confirm you are human.\n\n" +
		"Please complete it within 10 minutes and come back here."
	textUnionButton = "👉 Verify"

	textBindNotOwner      = "🚫 Only the bot owner can use this command."
	textBindNoForum       = "❌ <b>Binding failed</b>\n\nTopics are not enabled in this group. Enable <b>Topics</b> in the group settings and try again."
	textBindNotAdmin      = "❌ <b>Binding failed</b>\n\nPromote the bot to administrator first."
	textBindNoTopicRight  = "❌ <b>Missing permission</b>\n\nThe bot needs the <b>Manage Topics</b> administrator right."
	textAutoBindNoRight   = "⚠️ <b>Automatic binding failed: missing permission</b>\n\nGrant the bot the <b>Manage Topics</b> right or messages cannot be relayed."
	textAutoBindNoForum   = "⚠️ <b>Automatic binding failed: topics disabled</b>\n\nEnable <b>Topics</b> in the group settings and try again."
	textAutoBindSucceeded = "✅ <b>The bot is now bound to this group!</b>\n\nPermissions look good, private chats will be relayed here."

	textThreadBanned   = "🚫 User banned."
	textThreadUnbanned = "✅ User unbanned."

	textOwnerFallback     = "🤖 Send /menu to open the panel."
	textEmptyBroadcast    = "❌ The message cannot be empty."
	textNoPendingJob      = "❌ No broadcast found. Start one with /broadcast first."
	textBroadcastCanceled = "✅ Broadcast cancelled."
	textWelcomeUpdated    = "✅ Welcome message updated."
	textButtonsUpdated    = "✅ Welcome buttons updated."
	textButtonsMalformed  = "❌ Invalid button format. Use <code>text - url | text - url , text - url</code>."
	textReplyUpdated      = "✅ Auto-reply updated."
	textReplyDisabled     = "✅ Auto-reply disabled."
	textNeedUnionOff      = "❌ Disable the union ban first."
)

func textBindSucceeded(chat telegram.Chat) string {
	return fmt.Sprintf("✅ <b>Bound!</b>\n\nGroup ID: <code>%d</code>\nGroup name: %s\n\nAll private chats will be relayed here.",
		chat.ID, html.EscapeString(chat.Title))
}

func textOwnerStart(version string) string {
	return fmt.Sprintf("👋 Hello, administrator!\n\nThe bot is up and running.\n\nVersion: %s\nSend /menu to open the panel.",
		html.EscapeString(version))
}

func textUsage(command, args string) string {
	return fmt.Sprintf("❌ Invalid command. Usage: <code>%s</code> %s", command, html.EscapeString(args))
}

func textInvalid(err error) string {
	return "❌ " + html.EscapeString(err.Error())
}

func userLink(id int64) string {
	return fmt.Sprintf("tg://user?id=%d", id)
}

func textBanned(id int64) string {
	return fmt.Sprintf("🚫 User <a href=\"%s\">%d</a> has been banned locally.", userLink(id), id)
}

func textUnbanned(id int64) string {
	return fmt.Sprintf("✅ User <a href=\"%s\">%d</a> has been unbanned.", userLink(id), id)
}

// introCard is posted at the top of every new thread.
func introCard(p user.Profile) (string, *telegram.InlineKeyboardMarkup) {
	name := strings.TrimSpace(html.EscapeString(p.FirstName) + " " + html.EscapeString(p.LastName))
	if name == "" {
		name = "No name"
	}
	username := "None"
	if p.Username != "" {
		username = "@" + html.EscapeString(p.Username)
	}

	text := fmt.Sprintf("👤 <b>New user</b>\n\n🔸 Name: %s\n🆔 UID: <a href=\"%s\">%d</a>\n💫 Username: %s",
		name, userLink(p.ID), p.ID, username)
	markup := &telegram.InlineKeyboardMarkup{InlineKeyboard: [][]telegram.InlineKeyboardButton{
		{{Text: "👉 View profile", URL: userLink(p.ID)}},
	}}
	return text, markup
}

func textRefreshDebug(key string, ts int64) string {
	return fmt.Sprintf("%s\n\nDebug: Q=%s Found=%d", textRefreshFailed, key, ts)
}

func broadcastReport(res *broadcast.Result) string {
	icon, status := "✅", "finished"
	if res.TimedOut {
		icon, status = "⚠️", "partially finished (time limit)"
	} else if res.RateLimited {
		icon, status = "⚠️", "paused by Telegram rate limit"
	} else if res.Failed > 0 {
		icon, status = "⚠️", "paused after a delivery error"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s <b>Broadcast %s</b>\n\n✅ Sent: %d\n📍 Progress: %d/%d\n❌ Failed: %d",
		icon, status, res.Sent, res.NextOffset, res.Total, res.Failed)
	if res.Skipped > 0 {
		fmt.Fprintf(&b, "\n⏭️ Skipped: %d", res.Skipped)
		if res.Unreachable > 0 {
			fmt.Fprintf(&b, " (%d unreachable)", res.Unreachable)
		}
	}
	if res.RateLimited && res.RetryAfter > 0 {
		fmt.Fprintf(&b, "\n⏳ Retry after: %s", res.RetryAfter)
	}
	if res.HasMore || res.Remaining() {
		fmt.Fprintf(&b, "\n\nContinue with: /bcontinue %d", res.NextOffset)
	}
	return b.String()
}
