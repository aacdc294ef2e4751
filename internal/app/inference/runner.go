package inference

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/tutu-network/pana/internal/domain"
)

// ActiveModel supplies the handle snapshot for a run.
type ActiveModel interface {
	Active() (domain.ModelHandle, bool)
}

// Runner dispatches sessions off the caller's goroutine, one at a time,
// and owns the shared cancellation flag.
type Runner struct {
	session *Session
	models  ActiveModel
	obs     domain.Observer
	log     zerolog.Logger

	flag    Flag
	running atomic.Bool
	wg      sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc
}

// NewRunner creates a Runner.
func NewRunner(session *Session, models ActiveModel, obs domain.Observer, log zerolog.Logger) *Runner {
	ctx, cancel := context.WithCancel(context.Background())
	return &Runner{
		session: session,
		models:  models,
		obs:     obs,
		log:     log.With().Str("component", "runner").Logger(),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start snapshots the active model and runs message in the background.
// It returns ErrInferenceBusy while another run is in progress. Outcomes,
// including a missing model, arrive through the observer.
func (r *Runner) Start(message string) error {
	if !r.running.CompareAndSwap(false, true) {
		return domain.ErrInferenceBusy
	}

	var handle domain.ModelHandle
	if h, ok := r.models.Active(); ok {
		handle = h
	}
	r.flag.Clear()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer r.running.Store(false)
		defer func() {
			if p := recover(); p != nil {
				r.log.Error().Interface("panic", p).Msg("inference run panicked")
				r.obs.Notify(domain.ErrorEvent(fmt.Sprintf("Inference failed: %v", p)))
			}
		}()
		_ = r.session.Run(r.ctx, message, handle, &r.flag)
	}()
	return nil
}

// Stop raises the cancellation flag. It does not wait for the run.
func (r *Runner) Stop() {
	r.flag.Set()
}

// Busy reports whether a run is in progress.
func (r *Runner) Busy() bool { return r.running.Load() }

// Wait blocks until the current run, if any, has returned.
func (r *Runner) Wait() { r.wg.Wait() }

// Close stops the current run and waits for it.
func (r *Runner) Close() {
	r.flag.Set()
	r.cancel()
	r.wg.Wait()
}
