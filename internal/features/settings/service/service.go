package service

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/rs/zerolog"

	"relay-bot-backend/internal/common/cache"
	"relay-bot-backend/internal/common/errors"
	"relay-bot-backend/internal/common/logger"
	"relay-bot-backend/internal/common/validation"
	"relay-bot-backend/internal/domain/codec"
	"relay-bot-backend/internal/features/settings/models"
	"relay-bot-backend/internal/platform/telegram"
)

// Service reads and mutates the global configuration through the two-tier cache.
// Malformed stored values are logged and treated as unset.
type Service struct {
	cache  *cache.Cache
	logger zerolog.Logger
}

func NewService(c *cache.Cache) *Service {
	return &Service{cache: c, logger: logger.Component("settings")}
}

func (s *Service) get(ctx context.Context, key string) (string, bool, error) {
	v, ok, err := s.cache.Get(ctx, key)
	if err != nil {
		return "", false, errors.NewCacheError("get setting", err).WithDetail("key", key)
	}
	return v, ok, nil
}

func (s *Service) set(ctx context.Context, key, value string) error {
	if err := s.cache.Set(ctx, key, value, 0); err != nil {
		return errors.NewCacheError("set setting", err).WithDetail("key", key)
	}
	return nil
}

func (s *Service) malformed(err error) {
	s.logger.Warn().Err(err).Msg("Ignoring malformed setting")
}

func (s *Service) WelcomeMessage(ctx context.Context) (string, error) {
	v, ok, err := s.get(ctx, models.KeyWelcomeMessage)
	if err != nil {
		return "", err
	}
	if !ok || strings.TrimSpace(v) == "" {
		return models.DefaultWelcomeMessage, nil
	}
	return v, nil
}

func (s *Service) SetWelcomeMessage(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if err := validation.ValidateMessageText(text); err != nil {
		return errors.NewValidationError("welcome", err.Error())
	}
	return s.set(ctx, models.KeyWelcomeMessage, text)
}

func (s *Service) WelcomeButtons(ctx context.Context) ([][]telegram.InlineKeyboardButton, error) {
	v, ok, err := s.get(ctx, models.KeyWelcomeButtons)
	if err != nil || !ok {
		return nil, err
	}
	var rows [][]telegram.InlineKeyboardButton
	if err := json.Unmarshal([]byte(v), &rows); err != nil {
		s.malformed(errors.NewMalformedValueError(models.KeyWelcomeButtons, err))
		return nil, nil
	}
	return rows, nil
}

// SetWelcomeButtons parses raw button syntax and stores the resulting rows.
func (s *Service) SetWelcomeButtons(ctx context.Context, raw string) ([][]telegram.InlineKeyboardButton, error) {
	rows, err := models.ParseButtons(raw)
	if err != nil {
		return nil, err
	}
	b, err := json.Marshal(rows)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "encode buttons")
	}
	return rows, s.set(ctx, models.KeyWelcomeButtons, string(b))
}

// AutoReply returns the auto-reply text; empty means disabled.
func (s *Service) AutoReply(ctx context.Context) (string, error) {
	v, _, err := s.get(ctx, models.KeyAutoReply)
	return strings.TrimSpace(v), err
}

func (s *Service) SetAutoReply(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return s.ClearAutoReply(ctx)
	}
	if err := validation.ValidateMessageText(text); err != nil {
		return errors.NewValidationError("reply", err.Error())
	}
	return s.set(ctx, models.KeyAutoReply, text)
}

func (s *Service) ClearAutoReply(ctx context.Context) error {
	if err := s.cache.Delete(ctx, models.KeyAutoReply); err != nil {
		return errors.NewCacheError("delete setting", err).WithDetail("key", models.KeyAutoReply)
	}
	return nil
}

func (s *Service) UnionBanEnabled(ctx context.Context) (bool, error) {
	v, ok, err := s.get(ctx, models.KeyUnionBan)
	if err != nil || !ok {
		return false, err
	}
	enabled, err := codec.DecodeBool(models.KeyUnionBan, v)
	if err != nil {
		s.malformed(err)
		return false, nil
	}
	return enabled, nil
}

// ToggleUnionBan flips the union ban switch and returns the new state.
func (s *Service) ToggleUnionBan(ctx context.Context) (bool, error) {
	enabled, err := s.UnionBanEnabled(ctx)
	if err != nil {
		return false, err
	}
	enabled = !enabled
	return enabled, s.set(ctx, models.KeyUnionBan, codec.EncodeBool(enabled))
}

func (s *Service) LocalMode(ctx context.Context) (models.VerifyMode, error) {
	v, ok, err := s.get(ctx, models.KeyVerifyMode)
	if err != nil || !ok {
		return models.ModeOff, err
	}
	mode, err := models.ParseLocalMode(strings.TrimSpace(v))
	if err != nil {
		s.malformed(errors.NewMalformedValueError(models.KeyVerifyMode, err))
		return models.ModeOff, nil
	}
	return mode, nil
}

// CycleLocalMode advances the local verification mode. It is refused while
// union verification is on since the two are exclusive.
func (s *Service) CycleLocalMode(ctx context.Context) (models.VerifyMode, error) {
	union, err := s.UnionBanEnabled(ctx)
	if err != nil {
		return "", err
	}
	if union {
		return "", errors.NewPreconditionError("union ban must be disabled first")
	}
	mode, err := s.LocalMode(ctx)
	if err != nil {
		return "", err
	}
	next := mode.Next()
	return next, s.set(ctx, models.KeyVerifyMode, string(next))
}

// GroupID returns the bound staff group, or ok=false when none is bound.
func (s *Service) GroupID(ctx context.Context) (int64, bool, error) {
	v, ok, err := s.get(ctx, models.KeyGroupID)
	if err != nil || !ok {
		return 0, false, err
	}
	id, err := codec.DecodeInt(models.KeyGroupID, v)
	if err != nil || id == 0 {
		if err != nil {
			s.malformed(err)
		}
		return 0, false, nil
	}
	return id, true, nil
}

func (s *Service) BotUsername(ctx context.Context) (string, error) {
	v, ok, err := s.get(ctx, models.KeyBotUsername)
	if err != nil {
		return "", err
	}
	if !ok || strings.TrimSpace(v) == "" {
		return models.DefaultBotUsername, nil
	}
	return v, nil
}

// BindGroup records the staff group and, when known, the bot's username.
func (s *Service) BindGroup(ctx context.Context, groupID int64, botUsername string) error {
	if err := s.set(ctx, models.KeyGroupID, codec.EncodeInt(groupID)); err != nil {
		return err
	}
	if botUsername == "" {
		return nil
	}
	return s.set(ctx, models.KeyBotUsername, botUsername)
}

// Snapshot loads everything the owner menu displays.
func (s *Service) Snapshot(ctx context.Context) (*models.Settings, error) {
	out := &models.Settings{}

	raw, custom, err := s.get(ctx, models.KeyWelcomeMessage)
	if err != nil {
		return nil, err
	}
	out.HasCustomWelcome = custom && strings.TrimSpace(raw) != ""
	if out.WelcomeMessage, err = s.WelcomeMessage(ctx); err != nil {
		return nil, err
	}
	buttons, err := s.WelcomeButtons(ctx)
	if err != nil {
		return nil, err
	}
	out.HasWelcomeButtons = len(buttons) > 0
	if out.AutoReply, err = s.AutoReply(ctx); err != nil {
		return nil, err
	}
	if out.LocalMode, err = s.LocalMode(ctx); err != nil {
		return nil, err
	}
	if out.UnionBan, err = s.UnionBanEnabled(ctx); err != nil {
		return nil, err
	}
	if out.GroupID, _, err = s.GroupID(ctx); err != nil {
		return nil, err
	}
	if out.BotUsername, err = s.BotUsername(ctx); err != nil {
		return nil, err
	}
	return out, nil
}
