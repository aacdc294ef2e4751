// Package model owns the single active-model slot.
package model

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/tutu-network/pana/internal/app/slot"
	"github.com/tutu-network/pana/internal/domain"
	"github.com/tutu-network/pana/internal/infra/observability"
)

// Controller loads and unloads models. At most one handle is live.
type Controller struct {
	registry domain.ModelRegistry
	loader   domain.ModelLoader
	obs      domain.Observer
	log      zerolog.Logger

	active slot.Slot[domain.ModelHandle]
}

// New creates a Controller with an empty slot.
func New(registry domain.ModelRegistry, loader domain.ModelLoader, obs domain.Observer, log zerolog.Logger) *Controller {
	return &Controller{
		registry: registry,
		loader:   loader,
		obs:      obs,
		log:      log.With().Str("component", "model").Logger(),
	}
}

// Load resolves name, builds a handle and makes it the active model.
// On any failure the previously active model stays active.
func (c *Controller) Load(name string) error {
	path, err := c.registry.ArtifactPath(name)
	if err != nil {
		observability.ModelLoads.WithLabelValues("unresolved").Inc()
		return fmt.Errorf("%w: %w", domain.ErrModelResolutionFailed, err)
	}

	handle, err := c.loader.Load(name, path)
	if err != nil {
		observability.ModelLoads.WithLabelValues("failed").Inc()
		if errors.Is(err, domain.ErrModelLoadFailed) {
			return err
		}
		return fmt.Errorf("%w: %w", domain.ErrModelLoadFailed, err)
	}

	var previous string
	err = c.active.Update(func(cur domain.ModelHandle, ok bool) (domain.ModelHandle, bool, error) {
		if ok {
			previous = cur.Name()
			if cerr := cur.Close(); cerr != nil {
				c.log.Warn().Err(cerr).Str("model", previous).Msg("close previous model")
			}
		}
		return handle, true, nil
	})
	if err != nil {
		handle.Close()
		return err
	}

	observability.ModelLoads.WithLabelValues("ok").Inc()
	observability.ModelLoaded.Set(1)
	ev := c.log.Info().Str("model", name).Str("path", path)
	if previous != "" {
		ev = ev.Str("replaced", previous)
	}
	ev.Msg("model loaded")
	c.obs.Notify(domain.NotificationEvent(domain.MsgModelLoaded))
	return nil
}

// Unload releases the active model. Unloading an empty slot succeeds.
func (c *Controller) Unload() error {
	handle, ok, err := c.active.Take()
	if err != nil {
		return err
	}
	if ok {
		if cerr := handle.Close(); cerr != nil {
			c.log.Warn().Err(cerr).Str("model", handle.Name()).Msg("close model")
		}
		c.log.Info().Str("model", handle.Name()).Msg("model unloaded")
	}
	observability.ModelLoaded.Set(0)
	c.obs.Notify(domain.NotificationEvent(domain.MsgModelUnloaded))
	return nil
}

// Active returns the loaded handle, if any. The handle is shared;
// callers must not Close it.
func (c *Controller) Active() (domain.ModelHandle, bool) {
	h, ok, err := c.active.Get()
	if err != nil {
		return nil, false
	}
	return h, ok
}

// ActiveName returns the name of the loaded model or "".
func (c *Controller) ActiveName() string {
	if h, ok := c.Active(); ok {
		return h.Name()
	}
	return ""
}
