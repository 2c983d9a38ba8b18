package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	sdaemon "github.com/coreos/go-systemd/v22/daemon"
	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"

	"timerd/internal/config"
	"timerd/internal/dispatch"
	"timerd/internal/runtime/supervisor"
	"timerd/internal/sched"
	"timerd/internal/store"
	"timerd/internal/timer"
	logx "timerd/pkg/logx"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "./config.yaml", "path to config yaml")
	flag.Parse()

	// Local .env is optional; environment beats config for store settings.
	_ = godotenv.Load()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		if !os.IsNotExist(err) {
			fmt.Println("fatal:", err)
			os.Exit(1)
		}
		cfg = config.Default()
	}

	log, closeLog := logx.New(logx.Config{
		Level:   cfg.Log.Level,
		Console: cfg.Log.Console,
		File:    logx.FileConfig{Enabled: cfg.Log.File.Enabled, Path: cfg.Log.File.Path},
	})
	defer func() { _ = closeLog() }()

	if err := run(ctx, cfgPath, cfg, log); err != nil {
		log.Error("fatal", logx.Err(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfgPath string, cfg *config.Config, log logx.Logger) error {
	storeCfg := store.Config{
		Driver:      cfg.Store.Driver,
		DSN:         cfg.Store.DSN,
		BusyTimeout: cfg.Store.BusyTimeout.Duration,
	}
	if v := os.Getenv("TIMERD_STORE_DRIVER"); v != "" {
		storeCfg.Driver = v
	}
	if v := os.Getenv("TIMERD_STORE_DSN"); v != "" {
		storeCfg.DSN = v
	}

	st, err := store.Open(storeCfg, log.Named("store"))
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	sup := supervisor.New(ctx, log)
	reg := dispatch.NewRegistry(sup, log)
	registerBuiltins(reg, log)

	svc := sched.New(sched.Config{
		Horizon:         cfg.Sched.Horizon.Duration,
		EphemeralWindow: cfg.Sched.EphemeralWindow.Duration,
		RetryBackoff:    cfg.Sched.RetryBackoff.Duration,
	}, st, reg, log)
	svc.Start(ctx)

	var c *cron.Cron
	if cfg.Stats.Enabled {
		c = cron.New()
		_, err := c.AddFunc(cfg.Stats.Schedule, func() {
			snap := svc.Snapshot()
			log.Info("scheduler stats",
				logx.Bool("running", snap.Running),
				logx.Int64("current_id", snap.CurrentID),
				logx.Uint64("dispatched", snap.Dispatched),
				logx.Uint64("ephemeral", snap.Ephemeral),
				logx.Uint64("restarts", snap.Restarts))
		})
		if err != nil {
			return fmt.Errorf("stats schedule %q: %w", cfg.Stats.Schedule, err)
		}
		c.Start()
	}

	// Hot-apply log level changes; everything else needs a restart.
	sup.Go("config-watch", func(ctx context.Context) {
		err := config.Watch(ctx, cfgPath, log.Named("config"), func(next *config.Config) {
			logx.SetLevel(next.Log.Level)
		})
		if err != nil {
			log.Warn("config watch unavailable", logx.Err(err))
		}
	})

	notifySystemd(sup, log)
	log.Info("timerd up", logx.String("driver", storeCfg.Driver))

	<-ctx.Done()
	_, _ = sdaemon.SdNotify(false, sdaemon.SdNotifyStopping)

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer stopCancel()
	if c != nil {
		select {
		case <-c.Stop().Done():
		case <-stopCtx.Done():
		}
	}
	if err := svc.Stop(stopCtx); err != nil {
		log.Warn("scheduler stop timed out", logx.Err(err))
	}
	return sup.Stop(stopCtx)
}

// registerBuiltins wires operator-visibility handlers. Real consumers embed
// the scheduler and register their own events; the standalone daemon at
// least makes reminder deliveries observable.
func registerBuiltins(reg *dispatch.Registry, log logx.Logger) {
	reg.On("reminder"+dispatch.CompleteSuffix, func(ctx context.Context, t *timer.Timer) error {
		log.Info("reminder due",
			logx.Int64("id", t.ID),
			logx.Time("created", t.Created),
			logx.Any("args", t.Args))
		return nil
	})
}

// notifySystemd signals readiness and services the watchdog when running
// under a systemd unit with WatchdogSec set. Outside systemd both calls are
// no-ops.
func notifySystemd(sup *supervisor.Supervisor, log logx.Logger) {
	if ok, err := sdaemon.SdNotify(false, sdaemon.SdNotifyReady); err != nil {
		log.Warn("sd_notify failed", logx.Err(err))
	} else if ok {
		log.Debug("systemd notified ready")
	}

	interval, err := sdaemon.SdWatchdogEnabled(false)
	if err != nil || interval == 0 {
		return
	}
	sup.Go("sd-watchdog", func(ctx context.Context) {
		t := time.NewTicker(interval / 2)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				_, _ = sdaemon.SdNotify(false, sdaemon.SdNotifyWatchdog)
			case <-ctx.Done():
				return
			}
		}
	})
}
