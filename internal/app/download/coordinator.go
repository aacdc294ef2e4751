// Package download coordinates the single in-flight model download.
//
// At most one download is tracked at a time. Starting a new download
// cancels the tracked one and replaces it without waiting for it to
// finish; the superseded goroutine stops on its own once its context is
// cancelled. Errors inside the background task never reach the caller of
// StartDownload; they are pushed to the observer instead.
package download

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/tutu-network/pana/internal/app/slot"
	"github.com/tutu-network/pana/internal/domain"
	"github.com/tutu-network/pana/internal/infra/observability"
)

// task is one download goroutine.
type task struct {
	id     string
	model  string
	cancel context.CancelFunc
	done   chan struct{}

	mu      sync.Mutex
	stopped bool
}

// stop cancels the task and mutes it: once stop returns the task pushes
// no further events.
func (t *task) stop() {
	t.cancel()
	t.mu.Lock()
	t.stopped = true
	t.mu.Unlock()
}

func (t *task) emit(obs domain.Observer, ev domain.Event) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		return false
	}
	obs.Notify(ev)
	return true
}

// Coordinator owns the download slot.
type Coordinator struct {
	registry domain.ModelRegistry
	transfer domain.Transfer
	obs      domain.Observer
	log      zerolog.Logger

	current slot.Slot[*task]
	wg      sync.WaitGroup
}

// New creates a Coordinator.
func New(registry domain.ModelRegistry, transfer domain.Transfer, obs domain.Observer, log zerolog.Logger) *Coordinator {
	return &Coordinator{
		registry: registry,
		transfer: transfer,
		obs:      obs,
		log:      log.With().Str("component", "download").Logger(),
	}
}

// StartDownload resolves name and starts downloading it in the
// background. Returns once the task is accepted.
func (c *Coordinator) StartDownload(name string) error {
	desc, err := c.registry.Descriptor(name)
	if err != nil {
		if errors.Is(err, domain.ErrModelNotFound) {
			c.obs.Notify(domain.ErrorEvent(domain.MsgModelNotFound))
		} else {
			c.obs.Notify(domain.ErrorEvent(fmt.Sprintf("Failed to resolve model: %v", err)))
		}
		return fmt.Errorf("%w: %w", domain.ErrModelResolutionFailed, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	t := &task{
		id:     uuid.NewString(),
		model:  desc.Name,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	old, had, err := c.current.Replace(t)
	if err != nil {
		cancel()
		return err
	}
	if had {
		old.stop()
		observability.DownloadsSuperseded.Inc()
		c.log.Info().Str("task", old.id).Str("model", old.model).
			Str("by", t.id).Msg("superseded in-flight download")
	}

	observability.DownloadsStarted.Inc()
	c.log.Info().Str("task", t.id).Str("model", desc.Name).Str("url", desc.URL).Msg("download started")

	c.wg.Add(1)
	go c.run(ctx, t, desc)
	return nil
}

// StopDownload cancels the tracked download, if any. Calling it with
// nothing in flight is a no-op.
func (c *Coordinator) StopDownload() error {
	t, ok, err := c.current.Take()
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	t.stop()
	c.log.Info().Str("task", t.id).Str("model", t.model).Msg("download stop requested")
	c.obs.Notify(domain.NotificationEvent(domain.MsgDownloadStopped))
	return nil
}

// Active returns the model of the tracked task. The task may already
// have finished: the slot is not cleared on completion.
func (c *Coordinator) Active() (model string, ok bool) {
	t, ok, err := c.current.Get()
	if err != nil || !ok {
		return "", false
	}
	return t.model, true
}

// Close cancels the tracked download and waits for every task
// goroutine, superseded ones included, to return.
func (c *Coordinator) Close() {
	if t, ok, err := c.current.Take(); err == nil && ok {
		t.stop()
	}
	c.wg.Wait()
}

func (c *Coordinator) run(ctx context.Context, t *task, desc domain.ModelDescriptor) {
	defer c.wg.Done()
	defer close(t.done)
	defer t.cancel()

	start := time.Now()
	path, err := c.transfer.Fetch(ctx, desc, c.registry.TargetDir(), func(downloaded, total int64) {
		var pct float64
		if total > 0 {
			pct = float64(downloaded) / float64(total) * 100
		}
		t.emit(c.obs, domain.ProgressEvent(domain.Progress{
			Model:      desc.Name,
			Downloaded: downloaded,
			Total:      total,
			Percent:    pct,
		}))
	})

	log := c.log.With().Str("task", t.id).Str("model", desc.Name).Dur("elapsed", time.Since(start)).Logger()
	switch {
	case err == nil:
		var size int64
		if st, statErr := os.Stat(path); statErr == nil {
			size = st.Size()
		}
		if markErr := c.registry.MarkPulled(desc.Name, size); markErr != nil {
			log.Warn().Err(markErr).Msg("record pulled model")
		}
		observability.DownloadBytes.Add(float64(size))
		observability.DownloadsFinished.WithLabelValues("ok").Inc()
		log.Info().Str("path", path).Int64("bytes", size).Msg("download finished")
		t.emit(c.obs, domain.NotificationEvent(domain.MsgModelDownloaded))

	case ctx.Err() != nil:
		observability.DownloadsFinished.WithLabelValues("cancelled").Inc()
		log.Info().Err(err).Msg("download cancelled")

	default:
		observability.DownloadsFinished.WithLabelValues("failed").Inc()
		log.Warn().Err(err).Msg("download failed")
		err = fmt.Errorf("%w: %w", domain.ErrDownloadFailed, err)
		t.emit(c.obs, domain.ErrorEvent(fmt.Sprintf("Failed to download model: %v", err)))
	}
}
