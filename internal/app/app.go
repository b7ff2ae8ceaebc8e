// Package app wires configuration, storage, the event bus, the task registry,
// the scheduler and the HTTP surface into one runnable daemon.
package app

import (
	"context"
	"errors"
	"net/http"
	"path/filepath"
	"time"

	"homeserverd/internal/api"
	"homeserverd/internal/config"
	"homeserverd/internal/eventbus"
	"homeserverd/internal/gauth"
	"homeserverd/internal/gdrive"
	"homeserverd/internal/gemini"
	"homeserverd/internal/gmail"
	"homeserverd/internal/runner"
	"homeserverd/internal/scheduler"
	"homeserverd/internal/storage"
	"homeserverd/internal/sysmon"
	"homeserverd/internal/task"
	"homeserverd/pkg/logx"
)

type App struct {
	cfgPath string

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store *storage.Store
	sched *scheduler.Service
	http  *http.Server

	done chan struct{}
}

func New(cfgPath string) (*App, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.ConsoleEnabled(),
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	log = log.With(logx.String("comp", "app"))

	bus := eventbus.New()

	storeCfg, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(storeCfg, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, err
	}

	// The bus expects typed events; handlers publish (type, data) pairs.
	pub := busPublisher{bus}

	googleTimeout, err := config.ParseDurationOrDefault("google.timeout", cfg.Google.Timeout, 30*time.Second)
	if err != nil {
		return nil, err
	}
	tokenPath := cfg.Google.TokenPath
	if tokenPath == "" {
		tokenPath = filepath.Join(cfg.DataDirectory(), "google-token.json")
	}
	tokens := gauth.NewFileSource(tokenPath)

	ai := gemini.New(cfg.Gemini.APIKey, cfg.Gemini.ResolvedModel(), cfg.Gemini.ResolvedTimeout())
	drive := gdrive.New(tokens, googleTimeout)
	mail := gmail.New(tokens, googleTimeout, log.With(logx.String("comp", "gmail")))
	shell := runner.New(log.With(logx.String("comp", "runner")))
	sampler := sysmon.New()

	cmdTimeout, err := config.ParseDurationField("jobs.command_timeout", cfg.Jobs.CommandTimeout)
	if err != nil {
		return nil, err
	}

	reg := task.NewRegistry()
	reg.Register(storage.JobHealthCheck,
		task.NewHealthCheck(sampler, store, pub, log.With(logx.String("job", "health-check"))))
	reg.Register(storage.JobDriveSync,
		task.NewDriveSync(drive, log.With(logx.String("job", "drive-sync"))))
	reg.Register(storage.JobBackup,
		task.NewBackup(store, cfg.Jobs.BackupDir, log.With(logx.String("job", "backup"))))
	reg.Register(storage.JobAIReport,
		task.NewAIReport(store, ai, store))
	reg.Register(storage.JobCleanup,
		task.NewCleanup(cfg.Jobs.ScratchDirs, log.With(logx.String("job", "cleanup"))))
	reg.Register(storage.JobEmailCheck,
		task.NewEmailCheck(mail, ai, drive, store, store, pub, task.EmailCheckOptions{
			ArchiveFolder:    cfg.Jobs.ResolvedArchiveFolder(),
			AttachmentFolder: cfg.Jobs.ResolvedAttachmentFolder(),
			MaxMessages:      cfg.Jobs.ResolvedMailboxMax(),
		}, log.With(logx.String("job", "email-check"))))
	reg.Register(storage.JobCustomCommand,
		task.NewCommand(shell, cmdTimeout, cfg.Jobs.MaxOutputBytes))

	sched := scheduler.New(store, reg, pub, cfg.Scheduler.Timezone, log.With(logx.String("comp", "scheduler")))

	srv := api.NewServer(store, sched, bus, api.Options{
		RatePerMinute:  cfg.API.RatePerMinute,
		AllowedOrigins: cfg.API.AllowedOrigins,
	}, log.With(logx.String("comp", "api")))

	return &App{
		cfgPath: cfgPath,
		log:     log,
		logs:    logSvc,
		bus:     bus,
		store:   store,
		sched:   sched,
		http: &http.Server{
			Addr:              cfg.ListenAddr(),
			Handler:           srv.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		},
		done: make(chan struct{}),
	}, nil
}

// Start registers timers and begins serving. It returns once everything is
// running; Done() reports a fatal listener failure.
func (a *App) Start(ctx context.Context) error {
	if err := a.sched.Start(ctx); err != nil {
		return err
	}

	go func() {
		defer close(a.done)
		a.log.Info("http listening", logx.String("addr", a.http.Addr))
		if err := a.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Error("http server failed", logx.Err(err))
		}
	}()

	// Hot-reload only touches logging; storage and listener changes need a
	// restart and the watch callback says so.
	go func() {
		err := config.Watch(ctx, a.cfgPath, a.log.With(logx.String("comp", "config")), a.applyConfig)
		if err != nil && !errors.Is(err, context.Canceled) {
			a.log.Warn("config watch stopped", logx.Err(err))
		}
	}()

	a.log.Info("started")
	return nil
}

// Done is closed when the HTTP listener exits.
func (a *App) Done() <-chan struct{} { return a.done }

func (a *App) applyConfig(cfg *config.Config) {
	a.logs.Apply(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.ConsoleEnabled(),
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	a.log.Info("logging config applied", logx.String("level", cfg.Logging.Level))
}

func (a *App) Stop(ctx context.Context) error {
	a.log.Info("stopping")

	if err := a.http.Shutdown(ctx); err != nil {
		a.log.Warn("http shutdown", logx.Err(err))
	}
	a.sched.Stop()
	if err := a.store.Close(); err != nil {
		a.log.Warn("storage close", logx.Err(err))
	}

	a.log.Info("stopped")
	_ = a.logs.Close()
	return nil
}

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	busy, err := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
	if err != nil {
		return storage.Config{}, err
	}
	path := cfg.Storage.Path
	if path == "" {
		path = filepath.Join(cfg.DataDirectory(), "homeserverd.db")
	}
	return storage.Config{
		Path:          path,
		BusyTimeout:   busy,
		DedupCapacity: cfg.Storage.DedupCapacity,
		SeedDefaults:  true,
	}, nil
}

// busPublisher adapts the eventbus to the narrower publish shape the task
// handlers and the scheduler use.
type busPublisher struct {
	bus eventbus.Bus
}

func (p busPublisher) Publish(eventType string, data any) {
	p.bus.Publish(eventbus.Event{Type: eventType, Data: data})
}
