package daemon

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/tutu-network/pana/internal/api"
	"github.com/tutu-network/pana/internal/app/download"
	"github.com/tutu-network/pana/internal/app/inference"
	"github.com/tutu-network/pana/internal/app/model"
	"github.com/tutu-network/pana/internal/app/session"
	"github.com/tutu-network/pana/internal/domain"
	"github.com/tutu-network/pana/internal/infra/engine"
	"github.com/tutu-network/pana/internal/infra/logging"
	"github.com/tutu-network/pana/internal/infra/registry"
	"github.com/tutu-network/pana/internal/infra/sqlite"
	"github.com/tutu-network/pana/internal/infra/transfer"
)

// ShutdownTimeout bounds graceful HTTP shutdown.
const ShutdownTimeout = 10 * time.Second

// Daemon owns every long-lived component.
type Daemon struct {
	cfg      Config
	log      zerolog.Logger
	db       *sqlite.DB
	registry *registry.Manager
	hub      *api.Hub
	session  *session.Controller
}

// New opens storage, syncs the model catalog and wires the session.
// Extra observers receive every event alongside the SSE hub and the log.
func New(cfg Config, log zerolog.Logger, extra ...domain.Observer) (*Daemon, error) {
	db, err := sqlite.Open(cfg.Home)
	if err != nil {
		return nil, err
	}

	reg := registry.NewManager(cfg.ModelsDir(), cfg.CatalogFile(), db)
	if err := reg.Init(); err != nil {
		db.Close()
		return nil, err
	}
	if n, err := reg.Sync(); err != nil {
		log.Warn().Err(err).Msg("model catalog sync failed")
	} else {
		log.Debug().Int("models", n).Msg("model catalog synced")
	}

	hub := api.NewHub()
	obs := domain.Observers{hub, logging.NewObserver(log)}
	obs = append(obs, extra...)

	tcfg := transfer.DefaultConfig()
	tcfg.MaxBytes = int64(cfg.MaxStorageBytes())
	downloads := download.New(reg, transfer.New(&http.Client{}, tcfg), obs, log)

	models := model.New(reg, engine.NewLoader(), obs, log)

	gen := engine.NewOpenAI(engine.Params{
		BaseURL:     cfg.Engine.BaseURL,
		APIKey:      cfg.Engine.APIKey,
		MaxTokens:   cfg.Engine.MaxTokens,
		Temperature: float32(cfg.Engine.Temperature),
		TopP:        float32(cfg.Engine.TopP),
	})
	sess := inference.NewSession(db, gen, obs, log, cfg.Inference.Persona)
	runner := inference.NewRunner(sess, models, obs, log)

	ctl := session.New(session.Deps{
		Catalog:   reg,
		Downloads: downloads,
		Models:    models,
		Runner:    runner,
		Store:     db,
		Observer:  obs,
		Logger:    log,
	})

	return &Daemon{
		cfg:      cfg,
		log:      log.With().Str("component", "daemon").Logger(),
		db:       db,
		registry: reg,
		hub:      hub,
		session:  ctl,
	}, nil
}

// Session returns the command controller.
func (d *Daemon) Session() *session.Controller { return d.session }

// DB returns the store.
func (d *Daemon) DB() *sqlite.DB { return d.db }

// Registry returns the model registry.
func (d *Daemon) Registry() *registry.Manager { return d.registry }

// Handler returns the HTTP handler.
func (d *Daemon) Handler() http.Handler {
	srv := api.NewServer(d.session, d.hub, d.log)
	if d.cfg.API.Metrics {
		srv.EnableMetrics()
	}
	return srv.Handler()
}

// Serve runs the HTTP API on ln until ctx is cancelled, then shuts down.
func (d *Daemon) Serve(ctx context.Context, ln net.Listener) error {
	httpSrv := &http.Server{
		Handler:           d.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		d.log.Info().Str("addr", ln.Addr().String()).Msg("listening")
		errCh <- httpSrv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	d.log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		// SSE clients hold connections open; cut them.
		httpSrv.Close()
	}
	return nil
}

// Run listens on the configured address and serves until ctx is cancelled.
func (d *Daemon) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", d.cfg.Addr())
	if err != nil {
		return fmt.Errorf("listen %s: %w", d.cfg.Addr(), err)
	}
	return d.Serve(ctx, ln)
}

// Close stops background work and closes the store.
func (d *Daemon) Close() error {
	d.session.Close()
	return d.db.Close()
}
