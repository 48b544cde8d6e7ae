package app

import (
	"context"
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"

	"backbone/internal/config"
	"backbone/internal/eventbus"
	"backbone/internal/services/auth"
	"backbone/internal/services/hub"
	"backbone/internal/services/jobs"
	"backbone/internal/services/ratelimit"
	"backbone/internal/storage"
	"backbone/pkg/logx"
)

// App owns the wiring: config -> logging -> storage -> bus -> services ->
// maintenance cron. Everything is an explicitly constructed instance with a
// defined lifetime; there is no ambient global state.
type App struct {
	cfgm *config.Manager

	logs *logx.Service
	log  logx.Logger

	store storage.Store
	bus   eventbus.Bus

	jobs *jobs.Service
	auth *auth.Service
	rate *ratelimit.Service
	hub  *hub.Service

	cron *cron.Cron

	mu        sync.Mutex
	runCancel context.CancelFunc
	bgWG      sync.WaitGroup
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	log = log.With(logx.String("comp", "app"))
	cfgm.SetLogger(log.With(logx.String("comp", "config")))
	cfgm.SetValidator(func(ctx context.Context, cfg *config.Config) error {
		_, err := buildServiceConfigs(cfg)
		return err
	})

	sc, err := buildServiceConfigs(cfg)
	if err != nil {
		return nil, err
	}

	var store storage.Store
	if cfg.Storage != nil {
		store, err = storage.Open(sc.storage, log.With(logx.String("comp", "storage")))
		if err != nil {
			return nil, fmt.Errorf("storage: %w", err)
		}
	}

	bus := eventbus.New()

	a := &App{
		cfgm:  cfgm,
		logs:  logSvc,
		log:   log,
		store: store,
		bus:   bus,
		jobs:  jobs.New(sc.jobs, logSvc.Logger().With(logx.String("comp", "jobs")), bus, store),
		auth:  auth.New(sc.auth, logSvc.Logger().With(logx.String("comp", "auth")), bus, store),
		rate:  ratelimit.New(sc.rate, logSvc.Logger().With(logx.String("comp", "ratelimit"))),
		hub:   hub.New(sc.hub, logSvc.Logger().With(logx.String("comp", "hub"))),
	}

	if err := a.scheduleMaintenance(cfg.Maintenance.WithDefaults()); err != nil {
		return nil, err
	}
	return a, nil
}

// Accessors for the gateway layer.
func (a *App) Jobs() *jobs.Service      { return a.jobs }
func (a *App) Auth() *auth.Service      { return a.auth }
func (a *App) Rate() *ratelimit.Service { return a.rate }
func (a *App) Hub() *hub.Service        { return a.hub }
func (a *App) Logger() logx.Logger      { return a.log }

func (a *App) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.runCancel != nil {
		a.mu.Unlock()
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	a.runCancel = cancel
	a.mu.Unlock()

	a.jobs.Start(runCtx)
	a.cron.Start()

	// Config hot reload: watch the file and apply published updates.
	updates := a.cfgm.Subscribe(4)
	a.bgWG.Add(2)
	go func() {
		defer a.bgWG.Done()
		_ = a.cfgm.Watch(runCtx)
	}()
	go func() {
		defer a.bgWG.Done()
		for {
			select {
			case <-runCtx.Done():
				a.cfgm.Unsubscribe(updates)
				return
			case cfg := <-updates:
				if cfg != nil {
					a.applyConfig(cfg)
				}
			}
		}
	}()

	a.startBridge(runCtx)

	a.log.Info("app started")
	return nil
}

func (a *App) Stop(ctx context.Context) error {
	a.mu.Lock()
	cancel := a.runCancel
	a.runCancel = nil
	a.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()

	cronCtx := a.cron.Stop()
	select {
	case <-cronCtx.Done():
	case <-ctx.Done():
	}

	a.jobs.Stop(ctx)
	a.bgWG.Wait()

	if a.store != nil {
		_ = a.store.Close()
	}
	a.log.Info("app stopped")
	return a.logs.Close()
}

// applyConfig pushes a hot-reloaded config into the running services.
// Storage driver and maintenance cron changes require a restart.
func (a *App) applyConfig(cfg *config.Config) {
	sc, err := buildServiceConfigs(cfg)
	if err != nil {
		// The validator already rejected bad configs; this is belt and braces.
		a.log.Warn("config apply failed", logx.Err(err))
		return
	}
	a.logs.Apply(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File:    logx.FileConfig{Enabled: cfg.Logging.File.Enabled, Path: cfg.Logging.File.Path},
	})
	a.jobs.Apply(sc.jobs)
	a.auth.Apply(sc.auth)
	a.rate.Apply(sc.rate)
	a.hub.Apply(sc.hub)
	a.log.Info("config applied")
}

// scheduleMaintenance registers the periodic sweeps. The sweeps are the only
// place state is evicted; the services themselves never discard records
// implicitly.
func (a *App) scheduleMaintenance(m config.MaintenanceConfig) error {
	c := cron.New()
	slog := a.log.With(logx.String("comp", "maintenance"))

	if _, err := c.AddFunc(m.JobSweep, func() {
		if n := a.jobs.Sweep(); n > 0 {
			slog.Debug("job sweep done", logx.Int("evicted", n))
		}
	}); err != nil {
		return fmt.Errorf("maintenance.job_sweep: %w", err)
	}
	if _, err := c.AddFunc(m.RevocationSweep, func() {
		a.auth.SweepRevocations()
	}); err != nil {
		return fmt.Errorf("maintenance.revocation_sweep: %w", err)
	}
	if _, err := c.AddFunc(m.RateLimitSweep, func() {
		a.rate.Sweep()
	}); err != nil {
		return fmt.Errorf("maintenance.rate_limit_sweep: %w", err)
	}

	a.cron = c
	return nil
}
