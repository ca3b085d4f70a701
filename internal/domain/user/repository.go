package user

import "context"

// Repository persists user records and the thread reverse index.
type Repository interface {
	Get(ctx context.Context, userID int64) (*Record, error)
	Save(ctx context.Context, userID int64, r *Record) error
	GetThreadOwner(ctx context.Context, threadID int64) (int64, bool, error)
	SaveThreadOwner(ctx context.Context, threadID, userID int64) error
	// ListKeys returns all user:<id> keys in a stable order.
	ListKeys(ctx context.Context) ([]string, error)
}
