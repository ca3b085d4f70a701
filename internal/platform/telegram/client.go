package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	apperrors "relay-bot-backend/internal/common/errors"
	"relay-bot-backend/internal/common/logger"
	"relay-bot-backend/internal/common/metrics"
)

const DefaultBaseURL = "https://api.telegram.org"

// APIError is a response with ok=false.
type APIError struct {
	Method      string
	Code        int
	Description string
	RetryAfter  int
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %d %s", e.Method, e.Code, e.Description)
}

// IsUnreachable reports errors proving the recipient can never be delivered to:
// the user blocked the bot, deleted the account, or the chat does not exist.
func IsUnreachable(err error) bool {
	var apiErr *APIError
	if !stderrors.As(err, &apiErr) {
		return false
	}
	if apiErr.Code == http.StatusForbidden {
		return true
	}
	desc := strings.ToLower(apiErr.Description)
	return apiErr.Code == http.StatusBadRequest &&
		(strings.Contains(desc, "chat not found") || strings.Contains(desc, "peer_id_invalid") ||
			strings.Contains(desc, "user is deactivated"))
}

// IsNotModified reports editMessageText calls that changed nothing.
func IsNotModified(err error) bool {
	var apiErr *APIError
	return stderrors.As(err, &apiErr) && strings.Contains(apiErr.Description, "message is not modified")
}

type tgResponse[T any] struct {
	Ok          bool   `json:"ok"`
	ErrorCode   int    `json:"error_code,omitempty"`
	Description string `json:"description,omitempty"`
	Parameters  *struct {
		RetryAfter int `json:"retry_after,omitempty"`
	} `json:"parameters,omitempty"`
	Result T `json:"result"`
}

// Client is a minimal Bot API client issuing JSON POST requests.
type Client struct {
	httpClient *http.Client
	baseURL    string
	token      string
	logger     zerolog.Logger
}

func NewClient(baseURL, token string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		logger:     logger.Component("telegram"),
	}
}

func call[T any](ctx context.Context, c *Client, method string, payload interface{}) (T, error) {
	var zero T

	body, err := json.Marshal(payload)
	if err != nil {
		return zero, fmt.Errorf("marshal %s payload: %w", method, err)
	}

	endpoint := fmt.Sprintf("%s/bot%s/%s", c.baseURL, c.token, method)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return zero, fmt.Errorf("build %s request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.RemoteErrorsTotal.WithLabelValues("telegram").Inc()
		return zero, apperrors.NewTelegramAPIError(method, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		metrics.RemoteErrorsTotal.WithLabelValues("telegram").Inc()
		return zero, apperrors.NewTelegramAPIError(method, err)
	}

	var result tgResponse[T]
	if err := json.Unmarshal(raw, &result); err != nil {
		metrics.RemoteErrorsTotal.WithLabelValues("telegram").Inc()
		return zero, apperrors.NewTelegramAPIError(method, fmt.Errorf("decode response (status %d): %w", resp.StatusCode, err))
	}
	if !result.Ok {
		metrics.RemoteErrorsTotal.WithLabelValues("telegram").Inc()
		apiErr := &APIError{Method: method, Code: result.ErrorCode, Description: result.Description}
		if apiErr.Code == 0 {
			apiErr.Code = resp.StatusCode
		}
		if result.Parameters != nil {
			apiErr.RetryAfter = result.Parameters.RetryAfter
		}
		c.logger.Debug().Str("method", method).Int("code", apiErr.Code).Str("description", apiErr.Description).Msg("Telegram API returned an error")
		if apiErr.Code == http.StatusTooManyRequests {
			return zero, apperrors.NewRateLimitError("telegram", time.Duration(apiErr.RetryAfter)*time.Second, apiErr).
				WithDetail("operation", method)
		}
		return zero, apperrors.NewTelegramAPIError(method, apiErr)
	}
	return result.Result, nil
}

type sendMessageRequest struct {
	ChatID                int64                 `json:"chat_id"`
	MessageThreadID       int64                 `json:"message_thread_id,omitempty"`
	Text                  string                `json:"text"`
	ParseMode             string                `json:"parse_mode,omitempty"`
	ReplyMarkup           *InlineKeyboardMarkup `json:"reply_markup,omitempty"`
	DisableWebPagePreview bool                  `json:"disable_web_page_preview,omitempty"`
}

func (c *Client) SendMessage(ctx context.Context, chatID int64, text string, opts *SendOptions) (*Message, error) {
	req := sendMessageRequest{ChatID: chatID, Text: text}
	if opts != nil {
		req.MessageThreadID = opts.ThreadID
		req.ParseMode = opts.ParseMode
		req.ReplyMarkup = opts.ReplyMarkup
		req.DisableWebPagePreview = opts.DisableWebPagePreview
	}
	msg, err := call[Message](ctx, c, "sendMessage", req)
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

func (c *Client) CopyMessage(ctx context.Context, toChat, fromChat, messageID, threadID int64) (*MessageID, error) {
	req := map[string]interface{}{
		"chat_id":      toChat,
		"from_chat_id": fromChat,
		"message_id":   messageID,
	}
	if threadID != 0 {
		req["message_thread_id"] = threadID
	}
	id, err := call[MessageID](ctx, c, "copyMessage", req)
	if err != nil {
		return nil, err
	}
	return &id, nil
}

// CopyMessages copies an album in one call. ids must be ascending.
func (c *Client) CopyMessages(ctx context.Context, toChat, fromChat int64, ids []int64, threadID int64) ([]MessageID, error) {
	req := map[string]interface{}{
		"chat_id":      toChat,
		"from_chat_id": fromChat,
		"message_ids":  ids,
	}
	if threadID != 0 {
		req["message_thread_id"] = threadID
	}
	return call[[]MessageID](ctx, c, "copyMessages", req)
}

func (c *Client) CreateForumTopic(ctx context.Context, chatID int64, name string) (*ForumTopic, error) {
	topic, err := call[ForumTopic](ctx, c, "createForumTopic", map[string]interface{}{
		"chat_id": chatID,
		"name":    name,
	})
	if err != nil {
		return nil, err
	}
	return &topic, nil
}

func (c *Client) GetChat(ctx context.Context, chatID int64) (*Chat, error) {
	chat, err := call[Chat](ctx, c, "getChat", map[string]interface{}{"chat_id": chatID})
	if err != nil {
		return nil, err
	}
	return &chat, nil
}

func (c *Client) GetMe(ctx context.Context) (*User, error) {
	me, err := call[User](ctx, c, "getMe", struct{}{})
	if err != nil {
		return nil, err
	}
	return &me, nil
}

func (c *Client) GetChatMember(ctx context.Context, chatID, userID int64) (*ChatMember, error) {
	member, err := call[ChatMember](ctx, c, "getChatMember", map[string]interface{}{
		"chat_id": chatID,
		"user_id": userID,
	})
	if err != nil {
		return nil, err
	}
	return &member, nil
}

func (c *Client) AnswerCallbackQuery(ctx context.Context, callbackID, text string, showAlert bool) error {
	req := map[string]interface{}{"callback_query_id": callbackID}
	if text != "" {
		req["text"] = text
	}
	if showAlert {
		req["show_alert"] = true
	}
	_, err := call[bool](ctx, c, "answerCallbackQuery", req)
	return err
}

func (c *Client) EditMessageText(ctx context.Context, chatID, messageID int64, text string, opts *SendOptions) error {
	req := map[string]interface{}{
		"chat_id":    chatID,
		"message_id": messageID,
		"text":       text,
	}
	if opts != nil {
		if opts.ParseMode != "" {
			req["parse_mode"] = opts.ParseMode
		}
		if opts.ReplyMarkup != nil {
			req["reply_markup"] = opts.ReplyMarkup
		}
	}
	// The result is a Message or true depending on the message kind.
	_, err := call[json.RawMessage](ctx, c, "editMessageText", req)
	return err
}

func (c *Client) SetWebhook(ctx context.Context, url, secret string) error {
	req := map[string]interface{}{
		"url":             url,
		"allowed_updates": []string{"message", "callback_query", "my_chat_member"},
	}
	if secret != "" {
		req["secret_token"] = secret
	}
	_, err := call[bool](ctx, c, "setWebhook", req)
	return err
}
