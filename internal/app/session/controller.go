// Package session is the command boundary of pana.
//
// Every command returns promptly. Downloads and inference are accepted
// here and finish in the background; their outcomes reach the observer.
// Direct commands (catalog, load, history) return their errors.
package session

import (
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/tutu-network/pana/internal/app/download"
	"github.com/tutu-network/pana/internal/app/inference"
	"github.com/tutu-network/pana/internal/app/model"
	"github.com/tutu-network/pana/internal/domain"
)

// ErrEmptyMessage is returned by StartInference for a blank message.
var ErrEmptyMessage = errors.New("message is empty")

// Catalog is the local model catalog.
type Catalog interface {
	Sync() (int, error)
	List() ([]domain.ModelInfo, error)
	ArtifactPath(name string) (string, error)
	Remove(name string) error
}

// Deps are the collaborators of a Controller.
type Deps struct {
	Catalog   Catalog
	Downloads *download.Coordinator
	Models    *model.Controller
	Runner    *inference.Runner
	Store     domain.ConversationStore
	Observer  domain.Observer
	Logger    zerolog.Logger
}

// Controller dispatches user commands to the session components.
type Controller struct {
	catalog   Catalog
	downloads *download.Coordinator
	models    *model.Controller
	runner    *inference.Runner
	store     domain.ConversationStore
	obs       domain.Observer
	log       zerolog.Logger
}

// New creates a Controller.
func New(d Deps) *Controller {
	return &Controller{
		catalog:   d.Catalog,
		downloads: d.Downloads,
		models:    d.Models,
		runner:    d.Runner,
		store:     d.Store,
		obs:       d.Observer,
		log:       d.Logger.With().Str("component", "session").Logger(),
	}
}

// Status is a point-in-time view of the session.
type Status struct {
	ActiveModel string `json:"active_model,omitempty"`
	Downloading string `json:"downloading,omitempty"`
	Inferring   bool   `json:"inferring"`
}

// Status reports the active model, the tracked download and whether a
// run is in progress.
func (c *Controller) Status() Status {
	s := Status{
		ActiveModel: c.models.ActiveName(),
		Inferring:   c.runner.Busy(),
	}
	if m, ok := c.downloads.Active(); ok {
		s.Downloading = m
	}
	return s
}

// ─── Models ─────────────────────────────────────────────────────────────────

// SyncModelCatalog refreshes the model catalog.
func (c *Controller) SyncModelCatalog() (int, error) {
	n, err := c.catalog.Sync()
	if err != nil {
		return 0, fmt.Errorf("sync model catalog: %w", err)
	}
	c.log.Info().Int("models", n).Msg("catalog synced")
	c.obs.Notify(domain.NotificationEvent(domain.MsgCatalogSynced))
	return n, nil
}

// ListModels returns the catalog with local state.
func (c *Controller) ListModels() ([]domain.ModelInfo, error) {
	return c.catalog.List()
}

// DeleteModel removes a downloaded artifact, unloading it first when it
// is the active model.
func (c *Controller) DeleteModel(name string) error {
	if path, err := c.catalog.ArtifactPath(name); err == nil {
		if h, ok := c.models.Active(); ok && h.Path() == path {
			if err := c.models.Unload(); err != nil {
				return err
			}
		}
	}
	if err := c.catalog.Remove(name); err != nil {
		return fmt.Errorf("delete %s: %w", name, err)
	}
	c.log.Info().Str("model", name).Msg("model deleted")
	c.obs.Notify(domain.NotificationEvent(domain.MsgModelDeleted))
	return nil
}

// StartDownload accepts a download of name.
func (c *Controller) StartDownload(name string) error {
	return c.downloads.StartDownload(name)
}

// StopDownload aborts the tracked download, if any.
func (c *Controller) StopDownload() error {
	return c.downloads.StopDownload()
}

// LoadModel makes name the active model.
func (c *Controller) LoadModel(name string) error {
	return c.models.Load(name)
}

// UnloadModel releases the active model.
func (c *Controller) UnloadModel() error {
	return c.models.Unload()
}

// ─── Inference ──────────────────────────────────────────────────────────────

// StartInference accepts message for the active model.
func (c *Controller) StartInference(message string) error {
	if strings.TrimSpace(message) == "" {
		return ErrEmptyMessage
	}
	return c.runner.Start(message)
}

// StopInference asks the running inference to stop.
func (c *Controller) StopInference() error {
	busy := c.runner.Busy()
	c.runner.Stop()
	if busy {
		c.obs.Notify(domain.NotificationEvent(domain.MsgInferenceStopped))
	}
	return nil
}

// ─── History ────────────────────────────────────────────────────────────────

// SyncHistory pushes today's full history to the observer and returns it.
func (c *Controller) SyncHistory() ([]domain.Turn, error) {
	tree, err := c.store.OpenDailyTree()
	if err != nil {
		return nil, err
	}
	turns, err := tree.History()
	if err != nil {
		return nil, err
	}
	ev := domain.HistoryEvent(turns)
	c.obs.Notify(ev)
	return ev.History, nil
}

// ClearHistory removes today's history.
func (c *Controller) ClearHistory() error {
	tree, err := c.store.OpenDailyTree()
	if err != nil {
		return err
	}
	if err := tree.Clear(); err != nil {
		return err
	}
	c.log.Info().Str("tree", tree.Name()).Msg("history cleared")
	c.obs.Notify(domain.NotificationEvent(domain.MsgHistoryCleared))
	return nil
}

// Close stops background work and releases the active model.
func (c *Controller) Close() {
	c.runner.Close()
	c.downloads.Close()
	if h, ok := c.models.Active(); ok {
		if err := c.models.Unload(); err != nil {
			c.log.Warn().Err(err).Str("model", h.Name()).Msg("unload on close")
		}
	}
}
