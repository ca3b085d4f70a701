package service

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"relay-bot-backend/internal/common/cache"
	"relay-bot-backend/internal/common/logger"
	"relay-bot-backend/internal/common/metrics"
	"relay-bot-backend/internal/features/broadcast"
	"relay-bot-backend/internal/features/mediagroup"
	settingsservice "relay-bot-backend/internal/features/settings/service"
	topicservice "relay-bot-backend/internal/features/topic/service"
	verificationservice "relay-bot-backend/internal/features/verification/service"
	"relay-bot-backend/internal/platform/telegram"
)

// Bot is the part of the Bot API the router drives.
type Bot interface {
	SendMessage(ctx context.Context, chatID int64, text string, opts *telegram.SendOptions) (*telegram.Message, error)
	CopyMessage(ctx context.Context, toChat, fromChat, messageID, threadID int64) (*telegram.MessageID, error)
	CopyMessages(ctx context.Context, toChat, fromChat int64, ids []int64, threadID int64) ([]telegram.MessageID, error)
	CreateForumTopic(ctx context.Context, chatID int64, name string) (*telegram.ForumTopic, error)
	GetChat(ctx context.Context, chatID int64) (*telegram.Chat, error)
	GetMe(ctx context.Context) (*telegram.User, error)
	GetChatMember(ctx context.Context, chatID, userID int64) (*telegram.ChatMember, error)
	AnswerCallbackQuery(ctx context.Context, callbackID, text string, showAlert bool) error
	EditMessageText(ctx context.Context, chatID, messageID int64, text string, opts *telegram.SendOptions) error
}

type Options struct {
	OwnerID          int64
	UnionBotUsername string
	UnionWebAppName  string
	Version          string
	AutoReplyWindow  time.Duration
}

// Deps groups the feature services the router coordinates.
type Deps struct {
	Bot          Bot
	Settings     *settingsservice.Service
	Topics       *topicservice.Service
	Verification *verificationservice.Service
	Albums       *mediagroup.Coalescer
	Broadcasts   *broadcast.Processor
	// Markers holds short-lived flags such as the auto-reply throttle.
	Markers  cache.Durable
	Reporter *Reporter
}

// Router applies the dispatch rules to one update at a time.
type Router struct {
	Deps
	opts   Options
	logger zerolog.Logger
}

func NewRouter(deps Deps, opts Options) *Router {
	if opts.AutoReplyWindow <= 0 {
		opts.AutoReplyWindow = 10 * time.Minute
	}
	if deps.Reporter == nil {
		deps.Reporter = NewReporter(deps.Bot, 0)
	}
	return &Router{Deps: deps, opts: opts, logger: logger.Component("router")}
}

func (r *Router) isOwner(id int64) bool {
	return r.opts.OwnerID != 0 && id == r.opts.OwnerID
}

// Handle routes a single update. Errors are logged and reported to the owner
// here so callers only need to bound the execution.
func (r *Router) Handle(ctx context.Context, u *telegram.Update) {
	kind, err := r.route(ctx, u)
	metrics.UpdatesTotal.WithLabelValues(kind).Inc()
	if err != nil {
		r.logger.Error().Err(err).Int64("update_id", u.UpdateID).Str("kind", kind).Msg("Update handling failed")
		r.Reporter.Report(ctx, kind, err)
	}
}

func (r *Router) route(ctx context.Context, u *telegram.Update) (string, error) {
	switch {
	case u.CallbackQuery != nil:
		q := u.CallbackQuery
		if !r.isOwner(q.From.ID) {
			return "callback", r.Bot.AnswerCallbackQuery(ctx, q.ID, textCallbackDenied, true)
		}
		return "callback", r.handleCallback(ctx, q)

	case u.MyChatMember != nil:
		return "my_chat_member", r.handleMembership(ctx, u.MyChatMember)

	case u.Message == nil:
		return "ignored", nil
	}

	msg := u.Message
	if msg.Chat.Type != telegram.ChatTypePrivate && strings.TrimSpace(msg.Text) == "/bind" {
		return "bind", r.handleBind(ctx, msg)
	}

	groupID, bound, err := r.Settings.GroupID(ctx)
	if err != nil {
		return "message", err
	}
	if bound && msg.Chat.ID == groupID {
		return "group", r.handleGroup(ctx, msg)
	}

	if msg.Chat.Type != telegram.ChatTypePrivate || msg.From == nil {
		return "ignored", nil
	}
	if r.isOwner(msg.From.ID) {
		return "owner", r.handleOwner(ctx, msg)
	}
	if !bound {
		groupID = 0
	}
	return "private", r.handleUser(ctx, groupID, msg)
}

// handleMembership binds the group when the bot is promoted to administrator.
func (r *Router) handleMembership(ctx context.Context, m *telegram.ChatMemberUpdated) error {
	if m.NewChatMember.Status != telegram.MemberStatusAdministrator || m.Chat.Type == telegram.ChatTypePrivate {
		return nil
	}
	chatID := m.Chat.ID

	if !m.NewChatMember.CanManageTopics {
		return r.sendHTML(ctx, chatID, textAutoBindNoRight)
	}
	chat, err := r.Bot.GetChat(ctx, chatID)
	if err != nil {
		return err
	}
	if !chat.IsForum {
		return r.sendHTML(ctx, chatID, textAutoBindNoForum)
	}

	username := ""
	if me, err := r.Bot.GetMe(ctx); err == nil {
		username = me.Username
	} else {
		r.logger.Warn().Err(err).Msg("getMe failed during binding")
	}
	if err := r.Settings.BindGroup(ctx, chatID, username); err != nil {
		return err
	}
	r.logger.Info().Int64("group_id", chatID).Msg("Bound staff group on promotion")
	return r.sendHTML(ctx, chatID, textAutoBindSucceeded)
}

func (r *Router) handleBind(ctx context.Context, msg *telegram.Message) error {
	chatID := msg.Chat.ID
	if msg.From == nil || !r.isOwner(msg.From.ID) {
		return r.sendHTML(ctx, chatID, textBindNotOwner)
	}

	chat, err := r.Bot.GetChat(ctx, chatID)
	if err != nil {
		return err
	}
	if !chat.IsForum {
		return r.sendHTML(ctx, chatID, textBindNoForum)
	}

	me, err := r.Bot.GetMe(ctx)
	if err != nil {
		return err
	}
	member, err := r.Bot.GetChatMember(ctx, chatID, me.ID)
	if err != nil {
		return err
	}
	if member.Status != telegram.MemberStatusAdministrator {
		return r.sendHTML(ctx, chatID, textBindNotAdmin)
	}
	if !member.CanManageTopics {
		return r.sendHTML(ctx, chatID, textBindNoTopicRight)
	}

	if err := r.Settings.BindGroup(ctx, chatID, me.Username); err != nil {
		return err
	}
	r.logger.Info().Int64("group_id", chatID).Msg("Bound staff group by command")
	if chat.Title == "" {
		chat.Title = msg.Chat.Title
	}
	return r.sendHTML(ctx, chatID, textBindSucceeded(*chat))
}

func (r *Router) sendHTML(ctx context.Context, chatID int64, text string) error {
	_, err := r.Bot.SendMessage(ctx, chatID, text, &telegram.SendOptions{ParseMode: telegram.ParseModeHTML})
	return err
}

func (r *Router) sendPlain(ctx context.Context, chatID int64, text string) error {
	_, err := r.Bot.SendMessage(ctx, chatID, text, nil)
	return err
}

// relay copies msg to toChat, coalescing album items.
func (r *Router) relay(ctx context.Context, msg *telegram.Message, toChat, threadID int64, direction string) error {
	var err error
	if msg.MediaGroupID != "" {
		_, err = r.Albums.Add(ctx, msg.MediaGroupID, mediagroup.Target{
			ToChat:   toChat,
			FromChat: msg.Chat.ID,
			ThreadID: threadID,
		}, msg.MessageID)
	} else {
		_, err = r.Bot.CopyMessage(ctx, toChat, msg.Chat.ID, msg.MessageID, threadID)
	}

	result := "ok"
	if err != nil {
		result = "error"
	}
	metrics.RelayedMessagesTotal.WithLabelValues(direction, result).Inc()
	return err
}
