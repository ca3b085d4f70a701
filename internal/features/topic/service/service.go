package service

import (
	"context"
	"strconv"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"relay-bot-backend/internal/common/cache"
	"relay-bot-backend/internal/common/errors"
	"relay-bot-backend/internal/common/logger"
	"relay-bot-backend/internal/common/validation"
	"relay-bot-backend/internal/domain/user"
	"relay-bot-backend/internal/platform/telegram"
)

const (
	initLockPrefix = "init_lock:"
	initLockTTL    = 30 * time.Second

	// A caller that loses the claim waits this long for the winner's record.
	claimWaitAttempts = 5
	claimWaitStep     = 200 * time.Millisecond
)

// TopicCreator opens forum topics in the staff group.
type TopicCreator interface {
	CreateForumTopic(ctx context.Context, chatID int64, name string) (*telegram.ForumTopic, error)
}

type Service struct {
	repo   user.Repository
	locks  cache.Durable
	topics TopicCreator
	group  singleflight.Group
	clock  clock.Clock
	logger zerolog.Logger
}

func NewService(repo user.Repository, locks cache.Durable, topics TopicCreator, clk clock.Clock) *Service {
	if clk == nil {
		clk = clock.New()
	}
	return &Service{
		repo:   repo,
		locks:  locks,
		topics: topics,
		clock:  clk,
		logger: logger.Component("topic"),
	}
}

// GetUser returns the user's record, or nil when the user was never seen.
func (s *Service) GetUser(ctx context.Context, userID int64) (*user.Record, error) {
	return s.repo.Get(ctx, userID)
}

// ResolveThread maps a staff group thread back to its user.
func (s *Service) ResolveThread(ctx context.Context, threadID int64) (int64, bool, error) {
	return s.repo.GetThreadOwner(ctx, threadID)
}

type assignResult struct {
	threadID int64
	created  bool
}

// Assign returns the user's thread, creating it on first verification.
// created is true only for the call that actually opened the topic.
func (s *Service) Assign(ctx context.Context, groupID int64, profile user.Profile) (int64, bool, error) {
	if groupID == 0 {
		return 0, false, errors.New(errors.ErrCodeGroupNotBound, "Staff group is not bound")
	}

	ran := false
	v, err, _ := s.group.Do(strconv.FormatInt(profile.ID, 10), func() (interface{}, error) {
		ran = true
		return s.assign(ctx, groupID, profile)
	})
	if err != nil {
		return 0, false, err
	}
	res := v.(assignResult)
	return res.threadID, ran && res.created, nil
}

func (s *Service) assign(ctx context.Context, groupID int64, profile user.Profile) (assignResult, error) {
	lockKey := initLockPrefix + strconv.FormatInt(profile.ID, 10)
	token := uuid.NewString()

	acquired, err := s.locks.SetNX(ctx, lockKey, token, initLockTTL)
	if err != nil {
		return assignResult{}, errors.NewCacheError("claim init", err).WithUserID(profile.ID)
	}
	if !acquired {
		return s.awaitThread(ctx, profile.ID)
	}
	defer s.release(lockKey, token)

	rec, err := s.repo.Get(ctx, profile.ID)
	if err != nil {
		return assignResult{}, err
	}
	if rec.HasThread() {
		return assignResult{threadID: rec.ThreadID}, nil
	}

	topic, err := s.topics.CreateForumTopic(ctx, groupID, validation.TopicName(profile.FirstName, profile.ID))
	if err != nil {
		return assignResult{}, err
	}

	if err := s.repo.SaveThreadOwner(ctx, topic.MessageThreadID, profile.ID); err != nil {
		return assignResult{}, err
	}
	next := &user.Record{ThreadID: topic.MessageThreadID, Profile: &profile}
	if rec != nil {
		next.IsBanned = rec.IsBanned
	}
	if err := s.repo.Save(ctx, profile.ID, next); err != nil {
		return assignResult{}, err
	}

	s.logger.Info().
		Int64("user_id", profile.ID).
		Int64("thread_id", topic.MessageThreadID).
		Msg("Created user thread")
	return assignResult{threadID: topic.MessageThreadID, created: true}, nil
}

// awaitThread polls for the record written by the instance holding the claim.
func (s *Service) awaitThread(ctx context.Context, userID int64) (assignResult, error) {
	for i := 0; i < claimWaitAttempts && ctx.Err() == nil; i++ {
		rec, err := s.repo.Get(ctx, userID)
		if err != nil {
			return assignResult{}, err
		}
		if rec.HasThread() {
			return assignResult{threadID: rec.ThreadID}, nil
		}
		s.clock.Sleep(claimWaitStep)
	}
	return assignResult{}, errors.New(errors.ErrCodeInitInProgress, "Thread initialisation already in progress").
		WithUserID(userID)
}

func (s *Service) release(key, token string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	holder, ok, err := s.locks.Get(ctx, key)
	if err != nil || !ok || holder != token {
		return
	}
	if err := s.locks.Delete(ctx, key); err != nil {
		s.logger.Warn().Err(err).Str("key", key).Msg("Failed to release init claim")
	}
}

// SetBanned updates the local ban flag, keeping the profile and thread.
// threadHint is used when the command came from a thread whose user has no
// record yet. Unbanning an unknown user without a hint is a no-op.
func (s *Service) SetBanned(ctx context.Context, userID int64, banned bool, threadHint int64) error {
	rec, err := s.repo.Get(ctx, userID)
	if err != nil {
		return err
	}
	switch {
	case rec == nil && !banned && threadHint == 0:
		return nil
	case rec == nil:
		rec = &user.Record{ThreadID: threadHint}
	case rec.IsBanned == banned:
		return nil
	}
	rec.IsBanned = banned
	if err := s.repo.Save(ctx, userID, rec); err != nil {
		return err
	}

	s.logger.Info().Int64("user_id", userID).Bool("banned", banned).Msg("Updated ban state")
	return nil
}
