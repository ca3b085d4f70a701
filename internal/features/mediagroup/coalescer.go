// Package mediagroup re-assembles albums that Telegram delivers as separate
// updates so they can be copied in one call.
package mediagroup

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"

	"relay-bot-backend/internal/common/logger"
	"relay-bot-backend/internal/common/metrics"
	"relay-bot-backend/internal/platform/telegram"
)

const (
	DefaultPoll    = 300 * time.Millisecond
	DefaultQuiet   = 300 * time.Millisecond
	DefaultCeiling = 3 * time.Second
)

// Copier copies a batch of messages between chats.
type Copier interface {
	CopyMessages(ctx context.Context, toChat, fromChat int64, messageIDs []int64, threadID int64) ([]telegram.MessageID, error)
}

// Target is where a coalesced album is copied.
type Target struct {
	ToChat   int64
	FromChat int64
	ThreadID int64
}

type Options struct {
	Poll    time.Duration
	Quiet   time.Duration
	Ceiling time.Duration
}

type bufferKey struct {
	groupID  string
	fromChat int64
}

type buffer struct {
	target     Target
	ids        []int64
	created    time.Time
	lastAppend time.Time
}

// Coalescer buffers album items per media group id. The first event for a
// group becomes its leader and flushes the batch; later events only append.
type Coalescer struct {
	mu      sync.Mutex
	buffers map[bufferKey]*buffer

	copier Copier
	clock  clock.Clock
	opts   Options
	logger zerolog.Logger
}

func NewCoalescer(copier Copier, clk clock.Clock, opts Options) *Coalescer {
	if clk == nil {
		clk = clock.New()
	}
	if opts.Poll <= 0 {
		opts.Poll = DefaultPoll
	}
	if opts.Quiet <= 0 {
		opts.Quiet = DefaultQuiet
	}
	if opts.Ceiling <= 0 {
		opts.Ceiling = DefaultCeiling
	}
	return &Coalescer{
		buffers: make(map[bufferKey]*buffer),
		copier:  copier,
		clock:   clk,
		opts:    opts,
		logger:  logger.Component("mediagroup"),
	}
}

// Add records messageID under groupID and reports whether this call is the
// group's leader. The leader blocks until the album is quiet or the ceiling
// passes, then copies it.
func (c *Coalescer) Add(ctx context.Context, groupID string, target Target, messageID int64) (leader bool, err error) {
	key := bufferKey{groupID: groupID, fromChat: target.FromChat}
	now := c.clock.Now()

	c.mu.Lock()
	buf, ok := c.buffers[key]
	if !ok {
		buf = &buffer{target: target, created: now}
		c.buffers[key] = buf
	}
	if !slices.Contains(buf.ids, messageID) {
		buf.ids = append(buf.ids, messageID)
	}
	buf.lastAppend = now
	c.mu.Unlock()

	if ok {
		return false, nil
	}
	return true, c.lead(ctx, key)
}

func (c *Coalescer) lead(ctx context.Context, key bufferKey) error {
	for {
		c.clock.Sleep(c.opts.Poll)

		c.mu.Lock()
		buf := c.buffers[key]
		now := c.clock.Now()
		done := now.Sub(buf.lastAppend) >= c.opts.Quiet || now.Sub(buf.created) >= c.opts.Ceiling
		if done {
			delete(c.buffers, key)
		}
		c.mu.Unlock()

		if done {
			return c.flush(ctx, key.groupID, buf)
		}
	}
}

func (c *Coalescer) flush(ctx context.Context, groupID string, buf *buffer) error {
	ids := slices.Clone(buf.ids)
	slices.Sort(ids)

	metrics.MediaGroupFlushesTotal.Inc()
	metrics.MediaGroupSize.Observe(float64(len(ids)))

	if _, err := c.copier.CopyMessages(ctx, buf.target.ToChat, buf.target.FromChat, ids, buf.target.ThreadID); err != nil {
		c.logger.Error().Err(err).Str("media_group_id", groupID).Int("items", len(ids)).Msg("Failed to copy album")
		return err
	}
	c.logger.Debug().Str("media_group_id", groupID).Int("items", len(ids)).Msg("Copied album")
	return nil
}

// Pending reports how many items are buffered for groupID.
func (c *Coalescer) Pending(groupID string, fromChat int64) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if buf, ok := c.buffers[bufferKey{groupID: groupID, fromChat: fromChat}]; ok {
		return len(buf.ids)
	}
	return 0
}
