package redis

import (
	"context"

	"relay-bot-backend/internal/common/cache"
	"relay-bot-backend/internal/common/errors"
	"relay-bot-backend/internal/domain/codec"
	"relay-bot-backend/internal/domain/user"
)

type userRepository struct {
	cache *cache.Cache
}

// NewUserRepository stores user records and thread owners behind the two-tier cache.
func NewUserRepository(c *cache.Cache) user.Repository {
	return &userRepository{cache: c}
}

// Get returns nil without error when the user has no record.
func (r *userRepository) Get(ctx context.Context, userID int64) (*user.Record, error) {
	key := user.Key(userID)
	raw, ok, err := r.cache.Get(ctx, key)
	if err != nil {
		return nil, errors.NewCacheError("get user", err).WithUserID(userID)
	}
	if !ok {
		return nil, nil
	}
	rec, err := user.Decode(key, raw)
	if err != nil {
		// Drop the bad value from the local layer so a repaired record is seen at once.
		r.cache.Invalidate(key)
		return nil, err
	}
	return rec, nil
}

func (r *userRepository) Save(ctx context.Context, userID int64, rec *user.Record) error {
	raw, err := user.Encode(rec)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "encode user record")
	}
	if err := r.cache.Set(ctx, user.Key(userID), raw, 0); err != nil {
		return errors.NewCacheError("save user", err).WithUserID(userID)
	}
	return nil
}

func (r *userRepository) GetThreadOwner(ctx context.Context, threadID int64) (int64, bool, error) {
	key := user.ThreadKey(threadID)
	raw, ok, err := r.cache.Get(ctx, key)
	if err != nil {
		return 0, false, errors.NewCacheError("get thread owner", err).WithDetail("thread_id", threadID)
	}
	if !ok {
		return 0, false, nil
	}
	id, err := user.DecodeThreadOwner(key, raw)
	if err != nil {
		r.cache.Invalidate(key)
		return 0, false, err
	}
	return id, true, nil
}

func (r *userRepository) SaveThreadOwner(ctx context.Context, threadID, userID int64) error {
	if err := r.cache.Set(ctx, user.ThreadKey(threadID), codec.EncodeInt(userID), 0); err != nil {
		return errors.NewCacheError("save thread owner", err).WithDetail("thread_id", threadID)
	}
	return nil
}

func (r *userRepository) ListKeys(ctx context.Context) ([]string, error) {
	keys, err := r.cache.ListKeys(ctx, user.KeyPrefix)
	if err != nil {
		return nil, errors.NewCacheError("list users", err)
	}
	return keys, nil
}
