package testutil

import (
	"context"
	"fmt"
	"sync"

	"relay-bot-backend/internal/platform/telegram"
)

type SentMessage struct {
	ChatID int64
	Text   string
	Opts   telegram.SendOptions
}

type CopyCall struct {
	ToChat   int64
	FromChat int64
	IDs      []int64
	ThreadID int64
}

type CallbackAnswer struct {
	ID        string
	Text      string
	ShowAlert bool
}

type EditedMessage struct {
	ChatID    int64
	MessageID int64
	Text      string
	Opts      telegram.SendOptions
}

// FakeBot records Bot API calls in memory. Error hooks, when set, decide the
// outcome of the matching call.
type FakeBot struct {
	mu sync.Mutex

	Me      telegram.User
	Chats   map[int64]*telegram.Chat
	Members map[int64]*telegram.ChatMember

	SendErr        func(chatID int64, text string) error
	CopyErr        func(toChat int64) error
	CreateTopicErr error
	EditErr        error

	sent      []SentMessage
	copies    []CopyCall
	topics    []string
	answers   []CallbackAnswer
	edits     []EditedMessage
	calls     []string
	nextMsgID int64
	nextTopic int64
}

func NewFakeBot() *FakeBot {
	return &FakeBot{
		Me:        telegram.User{ID: 555, IsBot: true, FirstName: "Relay", Username: "relay_bot"},
		Chats:     make(map[int64]*telegram.Chat),
		Members:   make(map[int64]*telegram.ChatMember),
		nextMsgID: 1000,
		nextTopic: 500,
	}
}

func copyOpts(opts *telegram.SendOptions) telegram.SendOptions {
	if opts == nil {
		return telegram.SendOptions{}
	}
	return *opts
}

func (b *FakeBot) SendMessage(_ context.Context, chatID int64, text string, opts *telegram.SendOptions) (*telegram.Message, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.SendErr != nil {
		if err := b.SendErr(chatID, text); err != nil {
			return nil, err
		}
	}
	b.sent = append(b.sent, SentMessage{ChatID: chatID, Text: text, Opts: copyOpts(opts)})
	b.calls = append(b.calls, fmt.Sprintf("send:%d", chatID))
	b.nextMsgID++
	return &telegram.Message{MessageID: b.nextMsgID, Chat: telegram.Chat{ID: chatID}, Text: text}, nil
}

func (b *FakeBot) CopyMessage(_ context.Context, toChat, fromChat, messageID, threadID int64) (*telegram.MessageID, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.CopyErr != nil {
		if err := b.CopyErr(toChat); err != nil {
			return nil, err
		}
	}
	b.copies = append(b.copies, CopyCall{ToChat: toChat, FromChat: fromChat, IDs: []int64{messageID}, ThreadID: threadID})
	b.calls = append(b.calls, fmt.Sprintf("copy:%d", toChat))
	b.nextMsgID++
	return &telegram.MessageID{MessageID: b.nextMsgID}, nil
}

func (b *FakeBot) CopyMessages(_ context.Context, toChat, fromChat int64, ids []int64, threadID int64) ([]telegram.MessageID, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.CopyErr != nil {
		if err := b.CopyErr(toChat); err != nil {
			return nil, err
		}
	}
	b.copies = append(b.copies, CopyCall{ToChat: toChat, FromChat: fromChat, IDs: append([]int64(nil), ids...), ThreadID: threadID})
	b.calls = append(b.calls, fmt.Sprintf("copy:%d", toChat))
	out := make([]telegram.MessageID, len(ids))
	for i := range out {
		b.nextMsgID++
		out[i] = telegram.MessageID{MessageID: b.nextMsgID}
	}
	return out, nil
}

func (b *FakeBot) CreateForumTopic(_ context.Context, _ int64, name string) (*telegram.ForumTopic, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.CreateTopicErr != nil {
		return nil, b.CreateTopicErr
	}
	b.topics = append(b.topics, name)
	b.nextTopic++
	return &telegram.ForumTopic{MessageThreadID: b.nextTopic, Name: name}, nil
}

func (b *FakeBot) GetChat(_ context.Context, chatID int64) (*telegram.Chat, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if c, ok := b.Chats[chatID]; ok {
		cp := *c
		return &cp, nil
	}
	return &telegram.Chat{ID: chatID, Type: telegram.ChatTypeSupergroup}, nil
}

func (b *FakeBot) GetMe(context.Context) (*telegram.User, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	me := b.Me
	return &me, nil
}

func (b *FakeBot) GetChatMember(_ context.Context, chatID, _ int64) (*telegram.ChatMember, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if m, ok := b.Members[chatID]; ok {
		cp := *m
		return &cp, nil
	}
	return &telegram.ChatMember{Status: telegram.MemberStatusMember}, nil
}

func (b *FakeBot) AnswerCallbackQuery(_ context.Context, id, text string, showAlert bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.answers = append(b.answers, CallbackAnswer{ID: id, Text: text, ShowAlert: showAlert})
	return nil
}

func (b *FakeBot) EditMessageText(_ context.Context, chatID, messageID int64, text string, opts *telegram.SendOptions) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.EditErr != nil {
		return b.EditErr
	}
	b.edits = append(b.edits, EditedMessage{ChatID: chatID, MessageID: messageID, Text: text, Opts: copyOpts(opts)})
	return nil
}

func (b *FakeBot) SetWebhook(context.Context, string, string) error {
	return nil
}

func (b *FakeBot) Sent() []SentMessage {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]SentMessage(nil), b.sent...)
}

// SentTo returns the messages sent to chatID in order.
func (b *FakeBot) SentTo(chatID int64) []SentMessage {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []SentMessage
	for _, m := range b.sent {
		if m.ChatID == chatID {
			out = append(out, m)
		}
	}
	return out
}

// Calls lists sends and copies as "send:<chat>" and "copy:<chat>" in call order.
func (b *FakeBot) Calls() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.calls...)
}

func (b *FakeBot) Copies() []CopyCall {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]CopyCall(nil), b.copies...)
}

func (b *FakeBot) Topics() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.topics...)
}

func (b *FakeBot) Answers() []CallbackAnswer {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]CallbackAnswer(nil), b.answers...)
}

func (b *FakeBot) Edits() []EditedMessage {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]EditedMessage(nil), b.edits...)
}
