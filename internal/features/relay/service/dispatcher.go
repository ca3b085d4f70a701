package service

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"relay-bot-backend/internal/common/logger"
	"relay-bot-backend/internal/platform/telegram"
)

// UpdateHandler processes one update to completion.
type UpdateHandler interface {
	Handle(ctx context.Context, u *telegram.Update)
}

// Dispatcher runs updates in the background after the webhook has been
// acknowledged. At most maxConcurrent updates execute at once; there is no
// ordering between updates.
type Dispatcher struct {
	handler UpdateHandler
	timeout time.Duration
	sem     chan struct{}
	wg      sync.WaitGroup
	logger  zerolog.Logger
}

func NewDispatcher(handler UpdateHandler, maxConcurrent int, timeout time.Duration) *Dispatcher {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	if timeout <= 0 {
		timeout = time.Minute
	}
	return &Dispatcher{
		handler: handler,
		timeout: timeout,
		sem:     make(chan struct{}, maxConcurrent),
		logger:  logger.Component("dispatcher"),
	}
}

// Submit never blocks the caller.
func (d *Dispatcher) Submit(u *telegram.Update) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()

		d.sem <- struct{}{}        // acquire
		defer func() { <-d.sem }() // release

		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		defer cancel()
		defer func() {
			if rec := recover(); rec != nil {
				d.logger.Error().Interface("panic", rec).Int64("update_id", u.UpdateID).Msg("Recovered from panic in update handler")
			}
		}()

		d.handler.Handle(ctx, u)
	}()
}

// Shutdown waits for in-flight updates or until ctx is done.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.logger.Info().Msg("All updates processed")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
