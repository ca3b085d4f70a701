package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relay-bot-backend/internal/common/cache"
	"relay-bot-backend/internal/common/errors"
	"relay-bot-backend/internal/domain/user"
	"relay-bot-backend/internal/features/broadcast"
	"relay-bot-backend/internal/features/mediagroup"
	settingsservice "relay-bot-backend/internal/features/settings/service"
	topicrepo "relay-bot-backend/internal/features/topic/repository/redis"
	topicservice "relay-bot-backend/internal/features/topic/service"
	verificationservice "relay-bot-backend/internal/features/verification/service"
	"relay-bot-backend/internal/platform/telegram"
	"relay-bot-backend/internal/platform/union"
	"relay-bot-backend/internal/testutil"
)

const (
	ownerID = int64(1)
	groupID = int64(-100777)
)

type fakeAuthority struct {
	mu     sync.Mutex
	banned map[int64]bool
	status *union.VerifyStatus
}

func (f *fakeAuthority) CheckBan(_ context.Context, id int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.banned[id], nil
}

func (f *fakeAuthority) CheckVerifyTemp(context.Context, int64) (*union.VerifyStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.status == nil {
		return &union.VerifyStatus{}, nil
	}
	return f.status, nil
}

type fixture struct {
	router    *Router
	bot       *testutil.FakeBot
	store     *testutil.MemStore
	users     user.Repository
	settings  *settingsservice.Service
	authority *fakeAuthority
	nextID    atomic.Int64
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clk := clock.NewMock()
	store := testutil.NewMemStore(clk)
	c := cache.New(cache.NewMemoryLocal(cache.DefaultLocalSize, cache.DefaultLocalTTL, clk), store)
	bot := testutil.NewFakeBot()
	users := topicrepo.NewUserRepository(c)
	topics := topicservice.NewService(users, store, bot, clk)
	authority := &fakeAuthority{banned: map[int64]bool{}}

	f := &fixture{
		bot:       bot,
		store:     store,
		users:     users,
		settings:  settingsservice.NewService(c),
		authority: authority,
	}
	f.router = NewRouter(Deps{
		Bot:          bot,
		Settings:     f.settings,
		Topics:       topics,
		Verification: verificationservice.NewService(c, authority, topics, clk, 0),
		Albums: mediagroup.NewCoalescer(bot, clock.New(), mediagroup.Options{
			Poll:    5 * time.Millisecond,
			Quiet:   50 * time.Millisecond,
			Ceiling: time.Second,
		}),
		Broadcasts: broadcast.NewProcessor(users, store, bot, clk, broadcast.Options{BatchSize: 100}),
		Markers:    store,
		Reporter:   NewReporter(bot, ownerID),
	}, Options{
		OwnerID:          ownerID,
		UnionBotUsername: "RelayVerifyBot",
		UnionWebAppName:  "verify",
		Version:          "test",
	})
	return f
}

func (f *fixture) bind(t *testing.T) {
	t.Helper()
	require.NoError(t, f.settings.BindGroup(context.Background(), groupID, "relay_bot"))
}

func (f *fixture) private(from int64, text string) *telegram.Update {
	return &telegram.Update{Message: &telegram.Message{
		MessageID: f.nextID.Add(1),
		From:      &telegram.User{ID: from, FirstName: "Alice", LastName: "Smith", Username: "alice"},
		Chat:      telegram.Chat{ID: from, Type: telegram.ChatTypePrivate},
		Text:      text,
	}}
}

func (f *fixture) inThread(threadID int64, text string) *telegram.Update {
	return &telegram.Update{Message: &telegram.Message{
		MessageID:       f.nextID.Add(1),
		MessageThreadID: threadID,
		IsTopicMessage:  true,
		From:            &telegram.User{ID: 999, FirstName: "Staff"},
		Chat:            telegram.Chat{ID: groupID, Type: telegram.ChatTypeSupergroup},
		Text:            text,
	}}
}

func (f *fixture) handle(u *telegram.Update) {
	f.router.Handle(context.Background(), u)
}

func (f *fixture) record(t *testing.T, id int64) *user.Record {
	t.Helper()
	rec, err := f.users.Get(context.Background(), id)
	require.NoError(t, err)
	return rec
}

func texts(msgs []testutil.SentMessage) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.Text
	}
	return out
}

func TestCallbackFromStrangerIsRejected(t *testing.T) {
	f := newFixture(t)
	f.handle(&telegram.Update{CallbackQuery: &telegram.CallbackQuery{ID: "cb1", From: telegram.User{ID: 42}, Data: cbToggleUnion}})

	answers := f.bot.Answers()
	require.Len(t, answers, 1)
	assert.Equal(t, "🚫", answers[0].Text)
	assert.True(t, answers[0].ShowAlert)

	enabled, err := f.settings.UnionBanEnabled(context.Background())
	require.NoError(t, err)
	assert.False(t, enabled)
}

func TestAutoBindOnPromotion(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.bot.Chats[groupID] = &telegram.Chat{ID: groupID, Type: telegram.ChatTypeSupergroup, IsForum: true}

	promote := func(canManage bool) *telegram.Update {
		return &telegram.Update{MyChatMember: &telegram.ChatMemberUpdated{
			Chat:          telegram.Chat{ID: groupID, Type: telegram.ChatTypeSupergroup},
			NewChatMember: telegram.ChatMember{Status: telegram.MemberStatusAdministrator, CanManageTopics: canManage},
		}}
	}

	f.handle(promote(false))
	_, bound, err := f.settings.GroupID(ctx)
	require.NoError(t, err)
	assert.False(t, bound)
	assert.Contains(t, f.bot.SentTo(groupID)[0].Text, "Manage Topics")

	f.handle(promote(true))
	id, bound, err := f.settings.GroupID(ctx)
	require.NoError(t, err)
	assert.True(t, bound)
	assert.Equal(t, groupID, id)

	name, err := f.settings.BotUsername(ctx)
	require.NoError(t, err)
	assert.Equal(t, "relay_bot", name)
}

func TestAutoBindRequiresForum(t *testing.T) {
	f := newFixture(t)
	f.handle(&telegram.Update{MyChatMember: &telegram.ChatMemberUpdated{
		Chat:          telegram.Chat{ID: groupID, Type: telegram.ChatTypeSupergroup},
		NewChatMember: telegram.ChatMember{Status: telegram.MemberStatusAdministrator, CanManageTopics: true},
	}})

	_, bound, err := f.settings.GroupID(context.Background())
	require.NoError(t, err)
	assert.False(t, bound)
	assert.Contains(t, f.bot.SentTo(groupID)[0].Text, "topics disabled")
}

func TestBindCommand(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.bot.Chats[groupID] = &telegram.Chat{ID: groupID, Type: telegram.ChatTypeSupergroup, IsForum: true, Title: "Support"}

	bindFrom := func(from int64) *telegram.Update {
		return &telegram.Update{Message: &telegram.Message{
			MessageID: f.nextID.Add(1),
			From:      &telegram.User{ID: from},
			Chat:      telegram.Chat{ID: groupID, Type: telegram.ChatTypeSupergroup},
			Text:      "/bind",
		}}
	}

	f.handle(bindFrom(42))
	assert.Equal(t, textBindNotOwner, f.bot.SentTo(groupID)[0].Text)

	f.handle(bindFrom(ownerID))
	assert.Equal(t, textBindNotAdmin, f.bot.SentTo(groupID)[1].Text)

	f.bot.Members[groupID] = &telegram.ChatMember{Status: telegram.MemberStatusAdministrator}
	f.handle(bindFrom(ownerID))
	assert.Equal(t, textBindNoTopicRight, f.bot.SentTo(groupID)[2].Text)

	_, bound, err := f.settings.GroupID(ctx)
	require.NoError(t, err)
	require.False(t, bound)

	f.bot.Members[groupID] = &telegram.ChatMember{Status: telegram.MemberStatusAdministrator, CanManageTopics: true}
	f.handle(bindFrom(ownerID))
	assert.Contains(t, f.bot.SentTo(groupID)[3].Text, "Support")

	id, bound, err := f.settings.GroupID(ctx)
	require.NoError(t, err)
	assert.True(t, bound)
	assert.Equal(t, groupID, id)
}

func TestFirstContactOpensThread(t *testing.T) {
	f := newFixture(t)
	f.bind(t)

	first := f.private(42, "hello")
	f.handle(first)

	rec := f.record(t, 42)
	require.NotNil(t, rec)
	require.True(t, rec.HasThread())
	assert.Equal(t, []string{"Alice"}, f.bot.Topics())

	intro := f.bot.SentTo(groupID)
	require.Len(t, intro, 1)
	assert.Equal(t, rec.ThreadID, intro[0].Opts.ThreadID)
	assert.Contains(t, intro[0].Text, "Alice Smith")
	assert.Contains(t, intro[0].Text, "@alice")
	assert.Contains(t, intro[0].Text, `tg://user?id=42`)

	welcome := f.bot.SentTo(42)
	require.Len(t, welcome, 1)
	assert.Contains(t, welcome[0].Text, "Welcome")
	assert.True(t, welcome[0].Opts.DisableWebPagePreview)

	copies := f.bot.Copies()
	require.Len(t, copies, 1)
	assert.Equal(t, testutil.CopyCall{ToChat: groupID, FromChat: 42, IDs: []int64{first.Message.MessageID}, ThreadID: rec.ThreadID}, copies[0])

	// Intro card, then the relayed message, then the welcome.
	assert.Equal(t, []string{
		fmt.Sprintf("send:%d", groupID),
		fmt.Sprintf("copy:%d", groupID),
		"send:42",
	}, f.bot.Calls())

	f.handle(f.private(42, "second"))
	assert.Len(t, f.bot.Topics(), 1)
	assert.Len(t, f.bot.Copies(), 2)
	assert.Len(t, f.bot.SentTo(42), 1)
}

func TestFirstContactWithStartIsNotRelayed(t *testing.T) {
	f := newFixture(t)
	f.bind(t)

	f.handle(f.private(42, "/start"))
	assert.Len(t, f.bot.Topics(), 1)
	assert.Empty(t, f.bot.Copies())

	f.handle(f.private(42, "/start"))
	assert.Len(t, f.bot.SentTo(42), 2, "bare /start re-sends the welcome")
	assert.Empty(t, f.bot.Copies())
}

func TestWelcomeIsSanitisedWithButtons(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.bind(t)
	require.NoError(t, f.settings.SetWelcomeMessage(ctx, `<b>Hi</b><script>alert(1)</script>`))
	_, err := f.settings.SetWelcomeButtons(ctx, "Site - https://example.com")
	require.NoError(t, err)

	f.handle(f.private(42, "/start"))

	msgs := f.bot.SentTo(42)
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0].Text, "<b>Hi</b>")
	assert.NotContains(t, msgs[0].Text, "script")
	assert.Equal(t, telegram.ParseModeHTML, msgs[0].Opts.ParseMode)
	require.NotNil(t, msgs[0].Opts.ReplyMarkup)
	assert.Equal(t, "https://example.com", msgs[0].Opts.ReplyMarkup.InlineKeyboard[0][0].URL)
}

func TestUnboundGroupBlocksOnboarding(t *testing.T) {
	f := newFixture(t)
	f.handle(f.private(42, "hello"))

	assert.Equal(t, []string{textNotBound}, texts(f.bot.SentTo(42)))
	assert.Empty(t, f.bot.Topics())
}

func TestAutoReplyOncePerWindow(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.bind(t)
	require.NoError(t, f.users.Save(ctx, 42, &user.Record{ThreadID: 9}))
	require.NoError(t, f.settings.SetAutoReply(ctx, "We will answer soon."))

	f.handle(f.private(42, "one"))
	f.handle(f.private(42, "two"))

	assert.Equal(t, []string{"We will answer soon."}, texts(f.bot.SentTo(42)))
	assert.Len(t, f.bot.Copies(), 2)
}

func TestLocallyBannedUserIsNotRelayed(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.bind(t)
	require.NoError(t, f.users.Save(ctx, 42, &user.Record{ThreadID: 9, IsBanned: true}))

	f.handle(f.private(42, "hello"))
	assert.Equal(t, []string{textLocallyBanned}, texts(f.bot.SentTo(42)))
	assert.Empty(t, f.bot.Copies())
}

func TestMalformedRecordIsReportedToOwner(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.bind(t)
	require.NoError(t, f.store.Set(ctx, "user:42", "{broken", 0))

	f.handle(f.private(42, "hello"))
	assert.Empty(t, f.bot.Copies())
	reports := f.bot.SentTo(ownerID)
	require.Len(t, reports, 1)
	assert.True(t, strings.HasPrefix(reports[0].Text, "🚨 Error: private"))
}

func TestMathVerificationFlow(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.bind(t)
	_, err := f.settings.CycleLocalMode(ctx)
	require.NoError(t, err)

	f.handle(f.private(42, "hello"))
	assert.Equal(t, []string{textVerifyHint}, texts(f.bot.SentTo(42)))

	f.handle(f.private(42, "/start"))
	prompt := f.bot.SentTo(42)[1]
	assert.Contains(t, prompt.Text, "= ?")
	assert.Equal(t, telegram.ParseModeHTML, prompt.Opts.ParseMode)

	f.handle(f.private(42, "not a number"))
	assert.Equal(t, textVerifyFailed, f.bot.SentTo(42)[2].Text)
	assert.True(t, f.record(t, 42).IsBanned)
	assert.Empty(t, f.bot.Topics())

	f.handle(f.private(42, "anything"))
	assert.Equal(t, textLocallyBanned, f.bot.SentTo(42)[3].Text)
}

func TestStickerVerificationOnboards(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.bind(t)
	_, err := f.settings.CycleLocalMode(ctx)
	require.NoError(t, err)
	_, err = f.settings.CycleLocalMode(ctx)
	require.NoError(t, err)

	f.handle(f.private(42, "/start"))
	sticker := f.private(42, "")
	sticker.Message.Sticker = &telegram.Sticker{FileID: "abc"}
	f.handle(sticker)

	msgs := texts(f.bot.SentTo(42))
	require.Len(t, msgs, 3)
	assert.Equal(t, textVerifyPassed, msgs[1])
	assert.True(t, f.record(t, 42).HasThread())
	require.Len(t, f.bot.Copies(), 1)
	assert.Equal(t, []int64{sticker.Message.MessageID}, f.bot.Copies()[0].IDs)
}

func TestUnionModeFlow(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.bind(t)
	_, err := f.settings.ToggleUnionBan(ctx)
	require.NoError(t, err)
	f.authority.banned[66] = true

	f.handle(f.private(66, "hi"))
	assert.Equal(t, []string{textUnionBanned}, texts(f.bot.SentTo(66)))

	f.handle(f.private(42, "hi"))
	prompt := f.bot.SentTo(42)
	require.Len(t, prompt, 1)
	require.NotNil(t, prompt[0].Opts.ReplyMarkup)
	url := prompt[0].Opts.ReplyMarkup.InlineKeyboard[0][0].URL
	assert.True(t, strings.HasPrefix(url, "https://t.me/RelayVerifyBot/verify?startapp="), url)
	assert.Empty(t, f.bot.Topics())

	f.authority.status = &union.VerifyStatus{DebugInfo: &union.DebugInfo{Key: "k1", Timestamp: 5}}
	f.handle(f.private(42, "/start refresh_1"))
	assert.Contains(t, f.bot.SentTo(42)[1].Text, "Debug: Q=k1 Found=5")

	f.authority.status = &union.VerifyStatus{Verified: true}
	f.handle(f.private(42, "/start refresh_2"))
	msgs := texts(f.bot.SentTo(42))
	assert.Equal(t, textVerifyPassed, msgs[2])
	assert.True(t, f.record(t, 42).HasThread())
	assert.Empty(t, f.bot.Copies())

	raw, ok := f.store.Raw("gban:42")
	assert.True(t, !ok || raw == "0")
}

func TestStaffReplyRelayedToUser(t *testing.T) {
	f := newFixture(t)
	f.bind(t)
	f.handle(f.private(42, "hello"))
	tid := f.record(t, 42).ThreadID

	reply := f.inThread(tid, "hi there")
	f.handle(reply)

	copies := f.bot.Copies()
	require.Len(t, copies, 2)
	assert.Equal(t, testutil.CopyCall{ToChat: 42, FromChat: groupID, IDs: []int64{reply.Message.MessageID}}, copies[1])

	service := f.inThread(tid, "")
	service.Message.ForumTopicEdited = &telegram.ServiceMarker{}
	f.handle(service)
	f.handle(f.inThread(12345, "unknown thread"))
	assert.Len(t, f.bot.Copies(), 2)

	f.handle(f.inThread(tid, "/ban"))
	assert.True(t, f.record(t, 42).IsBanned)
	sent := f.bot.SentTo(groupID)
	assert.Equal(t, textThreadBanned, sent[len(sent)-1].Text)
	assert.Equal(t, tid, sent[len(sent)-1].Opts.ThreadID)

	f.handle(f.inThread(tid, "/unban"))
	rec := f.record(t, 42)
	assert.False(t, rec.IsBanned)
	assert.Equal(t, tid, rec.ThreadID)
	require.NotNil(t, rec.Profile)
	assert.Equal(t, "alice", rec.Profile.Username)
}

func TestAlbumCopiedAsOneBatch(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.bind(t)
	require.NoError(t, f.users.Save(ctx, 42, &user.Record{ThreadID: 9}))

	var wg sync.WaitGroup
	for _, id := range []int64{12, 10, 11} {
		u := f.private(42, "")
		u.Message.MessageID = id
		u.Message.MediaGroupID = "album"
		wg.Add(1)
		go func() {
			defer wg.Done()
			f.handle(u)
		}()
	}
	wg.Wait()

	require.Eventually(t, func() bool { return len(f.bot.Copies()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, testutil.CopyCall{ToChat: groupID, FromChat: 42, IDs: []int64{10, 11, 12}, ThreadID: 9}, f.bot.Copies()[0])
}

func TestTopicFailureIsReported(t *testing.T) {
	f := newFixture(t)
	f.bind(t)
	f.bot.CreateTopicErr = errors.NewTelegramAPIError("createForumTopic", &telegram.APIError{Code: 400, Description: "not enough rights"})

	f.handle(f.private(42, "hello"))

	assert.Nil(t, f.record(t, 42))
	reports := f.bot.SentTo(ownerID)
	require.Len(t, reports, 1)
	assert.Contains(t, reports[0].Text, "not enough rights")
}

func TestOwnerCommands(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.bind(t)

	owner := func(text string) string {
		f.handle(f.private(ownerID, text))
		sent := f.bot.SentTo(ownerID)
		require.NotEmpty(t, sent)
		return sent[len(sent)-1].Text
	}

	assert.Contains(t, owner("/start"), "Version: test")
	assert.Contains(t, owner("/menu"), "admin panel")
	assert.Equal(t, textOwnerFallback, owner("hello"))

	assert.Contains(t, owner("/ban 42"), "banned locally")
	assert.True(t, f.record(t, 42).IsBanned)
	assert.Contains(t, owner("/unban 42"), "unbanned")
	assert.False(t, f.record(t, 42).IsBanned)
	assert.Contains(t, owner("/ban abc"), "Usage")

	assert.Equal(t, textWelcomeUpdated, owner("/welcome Hello\nthere"))
	msg, err := f.settings.WelcomeMessage(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Hello\nthere", msg)

	assert.Equal(t, textButtonsMalformed, owner("/welbtn nonsense"))
	assert.Equal(t, textButtonsUpdated, owner("/welbtn A - https://a.io"))

	assert.Equal(t, textReplyUpdated, owner("/reply Back soon"))
	assert.Equal(t, textReplyDisabled, owner("/reply"))
	reply, err := f.settings.AutoReply(ctx)
	require.NoError(t, err)
	assert.Empty(t, reply)

	assert.Equal(t, textNoPendingJob, owner("/bcontinue 0"))
	assert.Equal(t, textEmptyBroadcast, owner("/broadcast"))
}

func TestOwnerBroadcast(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	for _, id := range []int64{10, 11, 12} {
		require.NoError(t, f.users.Save(ctx, id, &user.Record{ThreadID: id}))
	}
	require.NoError(t, f.users.Save(ctx, 13, &user.Record{IsBanned: true}))

	f.handle(f.private(ownerID, "/broadcast Maintenance tonight"))

	for _, id := range []int64{10, 11, 12} {
		assert.Equal(t, []string{"Maintenance tonight"}, texts(f.bot.SentTo(id)))
	}
	assert.Empty(t, f.bot.SentTo(13))
	report := f.bot.SentTo(ownerID)
	require.Len(t, report, 1)
	assert.Contains(t, report[0].Text, "Sent: 3")
	assert.Contains(t, report[0].Text, "Skipped: 1")
	assert.NotContains(t, report[0].Text, "/bcontinue")

	f.handle(f.private(ownerID, "/bcancel"))
	assert.Equal(t, textBroadcastCanceled, f.bot.SentTo(ownerID)[1].Text)
}

func TestOwnerCallbacks(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	menu := &telegram.Message{MessageID: 77, Chat: telegram.Chat{ID: ownerID, Type: telegram.ChatTypePrivate}}
	callback := func(data string) {
		f.handle(&telegram.Update{CallbackQuery: &telegram.CallbackQuery{
			ID: data, From: telegram.User{ID: ownerID}, Message: menu, Data: data,
		}})
	}

	callback(cbCycleLocal)
	mode, err := f.settings.LocalMode(ctx)
	require.NoError(t, err)
	assert.Equal(t, "math", string(mode))

	callback(cbToggleUnion)
	enabled, err := f.settings.UnionBanEnabled(ctx)
	require.NoError(t, err)
	assert.True(t, enabled)
	edits := f.bot.Edits()
	assert.Contains(t, edits[len(edits)-1].Text, "Union ban: 🟢 On")
	for _, row := range edits[len(edits)-1].Opts.ReplyMarkup.InlineKeyboard {
		for _, b := range row {
			assert.NotEqual(t, cbCycleLocal, b.CallbackData)
		}
	}

	callback(cbCycleLocal)
	answers := f.bot.Answers()
	last := answers[len(answers)-1]
	assert.Equal(t, textNeedUnionOff, last.Text)
	assert.True(t, last.ShowAlert)

	callback(cbGuideBroadcast)
	edits = f.bot.Edits()
	assert.Equal(t, guideBroadcast, edits[len(edits)-1].Text)

	f.bot.EditErr = errors.NewTelegramAPIError("editMessageText", &telegram.APIError{Code: 400, Description: "Bad Request: message is not modified"})
	callback(cbRefreshMenu)
	assert.Empty(t, f.bot.SentTo(ownerID), "not-modified edits are not reported")
	assert.Len(t, f.bot.Answers(), 5)
}
