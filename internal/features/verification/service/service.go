package service

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"

	"relay-bot-backend/internal/common/cache"
	"relay-bot-backend/internal/common/errors"
	"relay-bot-backend/internal/common/logger"
	"relay-bot-backend/internal/common/metrics"
	"relay-bot-backend/internal/domain/codec"
	settings "relay-bot-backend/internal/features/settings/models"
	"relay-bot-backend/internal/features/verification/models"
	"relay-bot-backend/internal/platform/union"
	"relay-bot-backend/internal/utils/random"
)

const DefaultBanCacheTTL = 24 * time.Hour

// Authority is the remote ban list and delegated verification service.
type Authority interface {
	CheckBan(ctx context.Context, userID int64) (bool, error)
	CheckVerifyTemp(ctx context.Context, userID int64) (*union.VerifyStatus, error)
}

// Banner applies a local ban after a failed challenge.
type Banner interface {
	SetBanned(ctx context.Context, userID int64, banned bool, threadHint int64) error
}

// Input is the part of a private message the challenge looks at.
type Input struct {
	UserID     int64
	Text       string
	HasSticker bool
}

type Service struct {
	cache     *cache.Cache
	authority Authority
	banner    Banner
	clock     clock.Clock
	banTTL    time.Duration
	logger    zerolog.Logger
}

func NewService(c *cache.Cache, authority Authority, banner Banner, clk clock.Clock, banTTL time.Duration) *Service {
	if clk == nil {
		clk = clock.New()
	}
	if banTTL <= 0 {
		banTTL = DefaultBanCacheTTL
	}
	return &Service{
		cache:     c,
		authority: authority,
		banner:    banner,
		clock:     clk,
		banTTL:    banTTL,
		logger:    logger.Component("verification"),
	}
}

// IsUnionBanned consults the cached verdict first and the authority on a full
// miss. Remote failures count as not banned and are not cached.
func (s *Service) IsUnionBanned(ctx context.Context, userID int64) (bool, error) {
	key := models.GlobalBanKey(userID)

	raw, ok, err := s.cache.Get(ctx, key)
	if err != nil {
		return false, errors.NewCacheError("get ban verdict", err).WithUserID(userID)
	}
	if ok {
		banned, err := codec.DecodeBool(key, raw)
		if err == nil {
			return banned, nil
		}
		s.logger.Warn().Err(err).Int64("user_id", userID).Msg("Discarding malformed ban verdict")
	}

	banned, err := s.authority.CheckBan(ctx, userID)
	if err != nil {
		s.logger.Error().Err(err).Int64("user_id", userID).Msg("Union ban check failed")
		return false, nil
	}
	if err := s.cache.Set(ctx, key, codec.EncodeBool(banned), s.banTTL); err != nil {
		s.logger.Warn().Err(err).Int64("user_id", userID).Msg("Failed to cache ban verdict")
	}
	return banned, nil
}

// Evaluate advances the local challenge for an unverified user.
func (s *Service) Evaluate(ctx context.Context, mode settings.VerifyMode, in Input) (models.Outcome, error) {
	if !mode.IsLocalChallenge() {
		s.record(mode, models.ActionVerified)
		return models.Outcome{Action: models.ActionVerified}, nil
	}

	// Taking the challenge removes it, so concurrent messages cannot both be
	// evaluated against it; the losers see no challenge.
	pending, err := s.takePending(ctx, in.UserID)
	if err != nil {
		return models.Outcome{}, err
	}

	if pending == nil {
		if strings.TrimSpace(in.Text) != "/start" {
			return models.Outcome{Action: models.ActionHint}, nil
		}
		out, err := s.issue(ctx, mode, in.UserID)
		if err == nil {
			s.record(mode, out.Action)
		}
		return out, err
	}

	if passes(pending, in) {
		s.record(mode, models.ActionVerified)
		return models.Outcome{Action: models.ActionVerified}, nil
	}

	if err := s.banner.SetBanned(ctx, in.UserID, true, 0); err != nil {
		return models.Outcome{}, err
	}
	s.record(mode, models.ActionFailed)
	s.logger.Info().Int64("user_id", in.UserID).Str("mode", string(mode)).Msg("Challenge failed, user banned")
	return models.Outcome{Action: models.ActionFailed}, nil
}

func passes(p *models.PendingState, in Input) bool {
	switch p.Type {
	case models.ChallengeSticker:
		return in.HasSticker
	case models.ChallengeMath:
		if in.HasSticker {
			return false
		}
		n, err := strconv.Atoi(strings.TrimSpace(in.Text))
		return err == nil && n == *p.Ans
	}
	return false
}

// takePending consumes the challenge from the durable store only; the local
// layer would outlive its expiry.
func (s *Service) takePending(ctx context.Context, userID int64) (*models.PendingState, error) {
	key := models.PendingKey(userID)
	raw, ok, err := s.cache.Durable().GetDel(ctx, key)
	if err != nil {
		return nil, errors.NewCacheError("take challenge", err).WithUserID(userID)
	}
	if !ok {
		return nil, nil
	}
	p, err := models.DecodePending(key, raw)
	if err != nil {
		s.logger.Warn().Err(err).Int64("user_id", userID).Msg("Dropping malformed challenge")
		return nil, nil
	}
	return p, nil
}

func (s *Service) issue(ctx context.Context, mode settings.VerifyMode, userID int64) (models.Outcome, error) {
	state := models.PendingState{Type: models.ChallengeSticker}
	prompt := "🔒 <b>Security check</b>\n\nPlease send any <em>sticker</em> to continue.\n\n" +
		"Complete this within 2 minutes or you will be banned."

	if mode == settings.ModeMath {
		d, err := random.Digits(2)
		if err != nil {
			return models.Outcome{}, errors.Wrap(err, errors.ErrCodeInternal, "generate challenge")
		}
		ans := d[0] + d[1]
		state = models.PendingState{Type: models.ChallengeMath, Ans: &ans}
		prompt = fmt.Sprintf("🔒 <b>Security check</b>\n\nSolve and send the number: %d + %d = ?\n\n"+
			"Complete this within 2 minutes or you will be banned.", d[0], d[1])
	}

	raw, err := models.EncodePending(state)
	if err != nil {
		return models.Outcome{}, errors.Wrap(err, errors.ErrCodeInternal, "encode challenge")
	}
	if err := s.cache.Durable().Set(ctx, models.PendingKey(userID), raw, models.PendingTTL); err != nil {
		return models.Outcome{}, errors.NewCacheError("store challenge", err).WithUserID(userID)
	}
	return models.Outcome{Action: models.ActionChallengeIssued, Prompt: prompt}, nil
}

// Refresh drops the cached ban verdict and asks the authority whether the
// user has just completed delegated verification.
func (s *Service) Refresh(ctx context.Context, userID int64) (*union.VerifyStatus, error) {
	if err := s.cache.Delete(ctx, models.GlobalBanKey(userID)); err != nil {
		return nil, errors.NewCacheError("clear ban verdict", err).WithUserID(userID)
	}
	s.logger.Debug().Int64("user_id", userID).Msg("Cleared ban verdict")

	status, err := s.authority.CheckVerifyTemp(ctx, userID)
	if err != nil {
		return nil, err
	}
	outcome := models.ActionFailed
	if status.Verified {
		outcome = models.ActionVerified
	}
	s.record(settings.ModeUnion, outcome)
	return status, nil
}

// DeepLink builds the delegated verification link for userID.
func (s *Service) DeepLink(centralBot, webApp string, userID int64, botUsername string) (string, error) {
	return models.DeepLink(centralBot, webApp, userID, botUsername, s.clock.Now())
}

func (s *Service) record(mode settings.VerifyMode, a models.Action) {
	metrics.VerificationOutcomesTotal.WithLabelValues(string(mode), a.String()).Inc()
}
