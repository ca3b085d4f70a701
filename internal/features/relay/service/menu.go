package service

import (
	"fmt"
	"html"
	"strings"

	settings "relay-bot-backend/internal/features/settings/models"
	"relay-bot-backend/internal/platform/telegram"
)

const (
	cbToggleUnion    = "toggle_union"
	cbCycleLocal     = "cycle_verify_local"
	cbGuideWelcome   = "guide_welcome"
	cbGuideReply     = "guide_reply"
	cbGuideBroadcast = "guide_broadcast"
	cbRefreshMenu    = "refresh_menu"
)

func onOff(v bool) string {
	if v {
		return "🟢 On"
	}
	return "🔴 Off"
}

func modeLabel(m settings.VerifyMode) string {
	switch m {
	case settings.ModeUnion:
		return "🛡 Union"
	case settings.ModeMath:
		return "🔢 Math"
	case settings.ModeSticker:
		return "🎨 Sticker"
	}
	return "🔴 Off"
}

// renderMenu builds the owner control panel from a settings snapshot.
func renderMenu(s *settings.Settings) (string, *telegram.InlineKeyboardMarkup) {
	mode := modeLabel(s.EffectiveMode())
	reply := "⚪️ Disabled"
	if s.AutoReply != "" {
		reply = "🟢 Enabled"
	}
	group := "not bound"
	if s.GroupID != 0 {
		group = fmt.Sprintf("<code>%d</code>", s.GroupID)
	}

	text := fmt.Sprintf("🛠 <b>%s admin panel</b>\n\n"+
		"📊 <b>Current settings:</b>\n"+
		"🔸 Union ban: %s\n"+
		"🔸 Verification: %s\n"+
		"🔸 Auto-reply: %s\n"+
		"🔸 Staff group: %s\n\n"+
		"👇 Tap a button below to change settings",
		html.EscapeString(s.BotUsername), onOff(s.UnionBan), mode, reply, group)

	rows := [][]telegram.InlineKeyboardButton{
		{{Text: "🌐 Union ban: " + onOff(s.UnionBan), CallbackData: cbToggleUnion}},
	}
	if !s.UnionBan {
		rows = append(rows, []telegram.InlineKeyboardButton{
			{Text: "🛡 Local verification: " + mode, CallbackData: cbCycleLocal},
		})
	}
	rows = append(rows,
		[]telegram.InlineKeyboardButton{
			{Text: "👋 Welcome message", CallbackData: cbGuideWelcome},
			{Text: "🤖 Auto-reply", CallbackData: cbGuideReply},
		},
		[]telegram.InlineKeyboardButton{
			{Text: "📢 Broadcast", CallbackData: cbGuideBroadcast},
			{Text: "🔄 Refresh", CallbackData: cbRefreshMenu},
		},
	)
	return text, &telegram.InlineKeyboardMarkup{InlineKeyboard: rows}
}

func guideWelcome(s *settings.Settings) string {
	current := "(none)"
	if s.HasCustomWelcome {
		current = html.EscapeString(s.WelcomeMessage)
	}
	buttons := "(none)"
	if s.HasWelcomeButtons {
		buttons = "configured"
	}
	return strings.Join([]string{
		"📝 <b>Welcome message</b>",
		"",
		"Current text:",
		"<pre>" + current + "</pre>",
		"",
		"Current buttons: " + buttons,
		"",
		"👉 <b>Change text:</b>",
		"Send <code>/welcome</code> {text}",
		"",
		"👉 <b>Change buttons:</b>",
		"Send <code>/welbtn</code> {buttons}",
		"Format: text1 - url1 | text2 - url2 , text3 - url3",
		"(comma starts a new row, pipe stays on the row, at most 3 buttons)",
		"",
		"Send /cancel to go back",
	}, "\n")
}

func guideReply(s *settings.Settings) string {
	current := "(disabled)"
	if s.AutoReply != "" {
		current = html.EscapeString(s.AutoReply)
	}
	return "🤖 <b>Auto-reply</b>\n\nCurrent text:\n<pre>" + current + "</pre>\n\n" +
		"👉 <b>Change:</b>\nSend <code>/reply</code> {text}\n\n" +
		"👉 <b>Disable:</b>\nSend <code>/reply</code> without text\n\nSend /cancel to go back"
}

const guideBroadcast = "📢 <b>Broadcast</b>\n\n👉 <b>Send:</b>\nSend <code>/broadcast</code> {text}\n\nSend /cancel to go back"
