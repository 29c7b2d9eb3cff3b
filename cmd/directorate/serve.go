package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/mtzanidakis/directorate/internal/config"
	"github.com/mtzanidakis/directorate/internal/natsbus"
	"github.com/mtzanidakis/directorate/internal/scheduler"
	"github.com/mtzanidakis/directorate/internal/telegram"
	"github.com/mtzanidakis/directorate/internal/web"
	"golang.org/x/sync/errgroup"
)

func runServe() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	slog.Info("starting directorate", "version", version)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	bus, err := natsbus.New(cfg.NATS)
	if err != nil {
		return fmt.Errorf("init nats: %w", err)
	}
	defer bus.Close()
	slog.Info("nats started", "port", bus.Port())

	publisher, err := natsbus.NewClient(bus)
	if err != nil {
		return err
	}
	defer publisher.Close()

	a, err := openApp(cfg, true, publisher)
	if err != nil {
		return err
	}
	defer a.Close()

	sched := scheduler.New(a.store, a.pipeline, publisher, cfg.Scheduler)
	if err := sched.Sync(cfg.Briefs); err != nil {
		return fmt.Errorf("sync briefs: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return sched.Start(ctx) })

	if cfg.Web.Enabled {
		srv := web.NewServer(a.store, a.pipeline, a.registry, a.secrets, bus, cfg.Web, version)
		g.Go(func() error { return srv.Start(ctx) })
	}

	if cfg.Telegram.Token != "" {
		bot, err := telegram.NewBot(cfg.Telegram, a.pipeline)
		if err != nil {
			return fmt.Errorf("init telegram bot: %w", err)
		}
		g.Go(func() error { return bot.Start(ctx) })
	} else {
		slog.Warn("telegram token not set, bot disabled")
	}

	g.Go(func() error {
		watchReload(ctx, cfg, a, sched)
		return nil
	})

	err = g.Wait()
	slog.Info("shutting down", "active_runs", a.pipeline.Active())
	return err
}

// watchReload applies config changes on SIGHUP. Directors, router, briefs
// and the poll interval reload in place; anything else needs a restart.
func watchReload(ctx context.Context, current *config.Config, a *app, sched *scheduler.Scheduler) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
		}

		next, err := config.Load()
		if err != nil {
			slog.Error("reload config", "error", err)
			continue
		}
		diff := config.Diff(current, next)
		for _, field := range diff.NonReloadable {
			slog.Warn("config change needs a restart", "field", field)
		}
		if !diff.HasChanges() {
			slog.Info("config reloaded, nothing to apply")
			current = next
			continue
		}

		if len(diff.DirectorsAdded)+len(diff.DirectorsRemoved)+len(diff.DirectorsChanged) > 0 {
			a.registry.Update(next.Directors)
			if err := a.registry.Sync(); err != nil {
				slog.Error("sync directors", "error", err)
			}
			slog.Info("directors reloaded",
				"added", diff.DirectorsAdded,
				"removed", diff.DirectorsRemoved,
				"changed", diff.DirectorsChanged)
		}
		if diff.RouterChanged {
			a.pipeline.SetRouter(diff.NewRouter)
			slog.Info("router reloaded", "enabled", diff.NewRouter.Enabled)
		}
		if diff.BriefsChanged {
			if err := sched.Sync(diff.NewBriefs); err != nil {
				slog.Error("sync briefs", "error", err)
			}
		}
		if diff.SchedulerChanged {
			sched.UpdateConfig(diff.NewPollInterval)
		}
		current = next
	}
}
