// Package broadcast sends owner announcements to every known user in bounded,
// resumable windows.
package broadcast

import (
	"context"
	"strconv"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"

	"relay-bot-backend/internal/common/cache"
	"relay-bot-backend/internal/common/errors"
	"relay-bot-backend/internal/common/logger"
	"relay-bot-backend/internal/common/metrics"
	"relay-bot-backend/internal/domain/user"
	"relay-bot-backend/internal/platform/telegram"
)

const jobPrefix = "broadcast_msg:"

// Sender delivers one broadcast message.
type Sender interface {
	SendMessage(ctx context.Context, chatID int64, text string, opts *telegram.SendOptions) (*telegram.Message, error)
}

type Options struct {
	BatchSize  int
	Budget     time.Duration
	PauseEvery int
	Pause      time.Duration
	JobTTL     time.Duration
}

func DefaultOptions() Options {
	return Options{
		BatchSize:  500,
		Budget:     25 * time.Second,
		PauseEvery: 25,
		Pause:      time.Second,
		JobTTL:     24 * time.Hour,
	}
}

// Result summarises one window. Unreachable recipients are also counted in Skipped.
type Result struct {
	Sent        int
	Failed      int
	Skipped     int
	Unreachable int
	Total       int
	HasMore     bool
	NextOffset  int
	TimedOut    bool
	// RetryAfter is set when the window stopped on a platform rate limit.
	RetryAfter  time.Duration
	RateLimited bool
}

// Remaining reports whether recipients are left after NextOffset.
func (r Result) Remaining() bool {
	return r.NextOffset < r.Total
}

type Processor struct {
	users  user.Repository
	jobs   cache.Durable
	sender Sender
	clock  clock.Clock
	opts   Options
	logger zerolog.Logger
}

func NewProcessor(users user.Repository, jobs cache.Durable, sender Sender, clk clock.Clock, opts Options) *Processor {
	if clk == nil {
		clk = clock.New()
	}
	def := DefaultOptions()
	if opts.BatchSize <= 0 {
		opts.BatchSize = def.BatchSize
	}
	if opts.Budget <= 0 {
		opts.Budget = def.Budget
	}
	if opts.JobTTL <= 0 {
		opts.JobTTL = def.JobTTL
	}
	return &Processor{
		users:  users,
		jobs:   jobs,
		sender: sender,
		clock:  clk,
		opts:   opts,
		logger: logger.Component("broadcast"),
	}
}

func jobKey(adminChat int64) string {
	return jobPrefix + strconv.FormatInt(adminChat, 10)
}

// Start stores the message for later continuation and runs the first window.
func (p *Processor) Start(ctx context.Context, adminChat int64, text string) (*Result, error) {
	if err := p.jobs.Set(ctx, jobKey(adminChat), text, p.opts.JobTTL); err != nil {
		return nil, errors.NewCacheError("save broadcast", err)
	}
	return p.RunWindow(ctx, text, 0)
}

// Continue resumes the stored broadcast at offset.
func (p *Processor) Continue(ctx context.Context, adminChat int64, offset int) (*Result, error) {
	text, ok, err := p.jobs.Get(ctx, jobKey(adminChat))
	if err != nil {
		return nil, errors.NewCacheError("load broadcast", err)
	}
	if !ok || text == "" {
		return nil, errors.New(errors.ErrCodeNoPendingJob, "No pending broadcast")
	}
	return p.RunWindow(ctx, text, offset)
}

func (p *Processor) Cancel(ctx context.Context, adminChat int64) error {
	if err := p.jobs.Delete(ctx, jobKey(adminChat)); err != nil {
		return errors.NewCacheError("cancel broadcast", err)
	}
	return nil
}

// RunWindow delivers text to at most BatchSize users starting at offset in the
// sorted user listing. A transient send failure ends the window so the failed
// recipient is first in line for the next one.
func (p *Processor) RunWindow(ctx context.Context, text string, offset int) (*Result, error) {
	keys, err := p.users.ListKeys(ctx)
	if err != nil {
		return nil, err
	}
	if offset < 0 {
		offset = 0
	}

	res := &Result{Total: len(keys)}
	start := p.clock.Now()
	attempts := 0

	end := min(offset+p.opts.BatchSize, len(keys))
window:
	for i := offset; i < end; i++ {
		if p.clock.Since(start) > p.opts.Budget {
			res.TimedOut = true
			break
		}
		if ctx.Err() != nil {
			res.TimedOut = true
			break
		}

		uid, err := user.IDFromKey(keys[i])
		if err != nil {
			p.logger.Warn().Err(err).Str("key", keys[i]).Msg("Skipping unparsable user key")
			res.Skipped++
			continue
		}

		rec, err := p.users.Get(ctx, uid)
		if err != nil && !errors.HasCode(err, errors.ErrCodeMalformedValue) {
			return nil, err
		}
		if rec != nil && rec.IsBanned {
			res.Skipped++
			metrics.BroadcastDeliveriesTotal.WithLabelValues("banned").Inc()
			continue
		}

		attempts++
		_, err = p.sender.SendMessage(ctx, uid, text, nil)
		switch {
		case err == nil:
			res.Sent++
			metrics.BroadcastDeliveriesTotal.WithLabelValues("sent").Inc()
		case telegram.IsUnreachable(err):
			res.Skipped++
			res.Unreachable++
			metrics.BroadcastDeliveriesTotal.WithLabelValues("unreachable").Inc()
		case errors.HasCode(err, errors.ErrCodeRateLimit):
			res.Failed++
			res.RateLimited = true
			res.RetryAfter, _ = errors.RetryAfter(err)
			metrics.BroadcastDeliveriesTotal.WithLabelValues("rate_limited").Inc()
			p.logger.Warn().Int64("user_id", uid).Dur("retry_after", res.RetryAfter).Msg("Broadcast rate limited, stopping window")
			break window
		default:
			res.Failed++
			metrics.BroadcastDeliveriesTotal.WithLabelValues("failed").Inc()
			p.logger.Warn().Err(err).Int64("user_id", uid).Msg("Broadcast delivery failed, stopping window")
			break window
		}

		if p.opts.Pause > 0 && p.opts.PauseEvery > 0 && attempts%p.opts.PauseEvery == 0 && i < end-1 {
			p.clock.Sleep(p.opts.Pause)
		}
	}

	res.NextOffset = min(offset, res.Total) + res.Sent + res.Skipped
	res.HasMore = res.NextOffset < res.Total && !res.TimedOut

	p.logger.Info().
		Int("offset", offset).
		Int("sent", res.Sent).
		Int("failed", res.Failed).
		Int("skipped", res.Skipped).
		Int("total", res.Total).
		Bool("timed_out", res.TimedOut).
		Bool("rate_limited", res.RateLimited).
		Msg("Broadcast window finished")
	return res, nil
}
