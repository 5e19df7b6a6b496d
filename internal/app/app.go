// Package app wires logsentry's components together.
package app

import (
	"context"
	"errors"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"logsentry/internal/config"
	"logsentry/internal/digest"
	"logsentry/internal/eventbus"
	"logsentry/internal/mailer"
	"logsentry/internal/monitor"
	"logsentry/internal/runtime/supervisor"
	"logsentry/internal/storage"
	"logsentry/internal/watcher"
	"logsentry/pkg/logx"
)

type App struct {
	cfg *config.Config

	logs *logx.Service
	log  logx.Logger

	bus   eventbus.Bus
	mail  *mailer.Mailer
	wm    *watcher.Manager
	mon   *monitor.Monitor
	store storage.Store
	dig   *digest.Service

	sup *supervisor.Supervisor
}

// New loads and validates configuration and builds every component.
// A config error here is the operator's problem: the caller prints it
// and exits with status 1.
func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logs, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	log = log.With(logx.String("comp", "app"))

	bus := eventbus.New()

	mail := mailer.New(mailer.Config{
		Username: cfg.Email.Username,
		Password: cfg.Email.Password,
		Host:     cfg.Email.SMTP,
		Target:   cfg.Email.Target,
		LogID:    cfg.Log.ID,
	}, logs.Logger().With(logx.String("comp", "mailer")))

	wm, err := watcher.NewManager(logs.Logger().With(logx.String("comp", "watcher")), bus)
	if err != nil {
		_ = logs.Close()
		return nil, err
	}

	mon := monitor.New(monitor.Config{
		LogID:          cfg.Log.ID,
		Path:           cfg.Log.Path,
		CountThreshold: cfg.Email.CountThreshold,
		TimeThreshold:  time.Duration(cfg.Email.TimeThreshold) * time.Millisecond,
	}, wm, wm, mail, logs.Logger().With(logx.String("comp", "monitor")), bus)

	var store storage.Store
	if cfg.Storage != nil {
		busy, err := config.DurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
		if err != nil {
			_ = wm.Close()
			_ = logs.Close()
			return nil, err
		}
		store, err = storage.Open(storage.Config{
			Driver:      cfg.Storage.Driver,
			Path:        cfg.Storage.Path,
			BusyTimeout: busy,
		}, logs.Logger().With(logx.String("comp", "storage")))
		if err != nil {
			_ = wm.Close()
			_ = logs.Close()
			return nil, err
		}
	}

	var dig *digest.Service
	if cfg.Digest != nil && cfg.Digest.Enabled && store != nil {
		window, err := config.DurationOrDefault("digest.window", cfg.Digest.Window, 24*time.Hour)
		if err == nil {
			dig, err = digest.New(digest.Config{
				Schedule: cfg.Digest.Schedule,
				Window:   window,
				LogID:    cfg.Log.ID,
			}, store, mail, logs.Logger().With(logx.String("comp", "digest")), bus)
		}
		if err != nil {
			if store != nil {
				_ = store.Close()
			}
			_ = wm.Close()
			_ = logs.Close()
			return nil, err
		}
	}

	return &App{
		cfg:   cfg,
		logs:  logs,
		log:   log,
		bus:   bus,
		mail:  mail,
		wm:    wm,
		mon:   mon,
		store: store,
		dig:   dig,
	}, nil
}

// Start arms the watch and launches the long-running goroutines.
// A watch registration failure here is fatal: there is no point running
// a monitor with nothing to monitor.
func (a *App) Start(ctx context.Context) error {
	if err := a.wm.Arm(a.cfg.Log.Path); err != nil {
		return err
	}

	a.sup = supervisor.New(ctx,
		supervisor.WithLogger(a.log),
		supervisor.WithCancelOnError(true),
	)
	a.sup.Go("monitor", a.mon.Run)
	if a.store != nil {
		rec := storage.NewRecorder(a.store, a.bus,
			a.logs.Logger().With(logx.String("comp", "recorder")), a.cfg.Email.Target)
		a.sup.Go("recorder", rec.Run)
	}
	if a.dig != nil {
		a.sup.Go("digest", a.dig.Run)
	}

	// Tell systemd we're up. Harmless no-op outside a unit.
	if sent, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		a.log.Debug("sd_notify failed", logx.Err(err))
	} else if sent {
		a.log.Debug("sd_notify ready sent")
	}

	a.log.Info("logsentry started",
		logx.String("log_id", a.cfg.Log.ID),
		logx.String("path", a.cfg.Log.Path),
	)
	return nil
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Stop(ctx context.Context) error {
	var firstErr error
	if a.sup != nil {
		if err := a.sup.Stop(ctx); err != nil && !errors.Is(err, context.Canceled) {
			firstErr = err
		}
	}
	_ = a.wm.Close()
	if a.store != nil {
		_ = a.store.Close()
	}
	_ = a.logs.Close()
	return firstErr
}
