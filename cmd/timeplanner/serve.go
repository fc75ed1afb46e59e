package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"timeplanner/internal/api"
	"timeplanner/internal/bot"
	"timeplanner/internal/service"
)

const jobTimeout = 5 * time.Minute

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API, the daily sweep and the Telegram bot",
	Long: `Run the planner.

The HTTP API always starts. The reactivation sweep runs once at startup and
then daily at SWEEP_TIME. The Telegram bot starts when TELEGRAM_TOKEN is set.`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	guard, closeGuard := a.sessionGuard(ctx)
	defer closeGuard()

	sessions := service.NewSessionService(guard, a.sweep, a.log.Named("session"))
	tasks := service.NewTaskService(a.store, a.events, nil)
	categories := service.NewCategoryService(a.store)
	reminders := service.NewReminderService(a.store, a.occurrences, a.loc)

	startupCtx, cancel := context.WithTimeout(ctx, jobTimeout)
	res, err := a.sweep.Run(startupCtx, service.SweepOptions{})
	cancel()
	if err != nil {
		a.log.Warnw("startup sweep failed", "error", err)
	} else {
		a.log.Infow("startup sweep finished", "processed", res.Processed, "reactivated", res.Reactivated)
	}

	scheduler := service.NewSchedulerService(a.loc, a.log.Named("scheduler"))
	sweepID, err := scheduler.ScheduleSweep(a.cfg.SweepTime, a.sweep, jobTimeout)
	if err != nil {
		return err
	}

	var telegramBot *bot.Bot
	if a.cfg.TelegramToken != "" {
		telegramBot, err = bot.New(a.cfg.TelegramToken, bot.Deps{
			Users:      a.store.Users,
			Tasks:      tasks,
			Categories: categories,
			Events:     a.events,
			Sweep:      a.sweep,
			Sessions:   sessions,
			Reminders:  reminders,
			Location:   a.loc,
			Log:        a.log.Named("bot"),
		})
		if err != nil {
			return err
		}
		if interval := a.cfg.ReportInterval(); interval > 0 {
			if _, err := scheduler.ScheduleInterval(interval, func() {
				jobCtx, cancel := context.WithTimeout(ctx, jobTimeout)
				defer cancel()
				if err := telegramBot.SendDailyReports(jobCtx); err != nil && !errors.Is(err, context.Canceled) {
					a.log.Errorw("daily reports failed", "error", err)
				}
			}); err != nil {
				return err
			}
		}
	} else {
		a.log.Infow("TELEGRAM_TOKEN not set, bot disabled")
	}

	scheduler.Start()
	defer scheduler.Stop()
	a.log.Infow("sweep scheduled", "next", scheduler.Next(sweepID))

	server := api.NewServer(&api.Handlers{
		Events:   a.events,
		Sweeper:  a.sweep,
		Sessions: sessions,
		Calendar: a.occurrences,
		Store:    a.store,
		Location: a.loc,
		Log:      a.log.Named("http"),
	}, api.Options{
		Addr:              a.cfg.HTTPAddr,
		InternalAuthToken: a.cfg.InternalAuthToken,
		Production:        a.cfg.IsProduction(),
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.Run(gctx)
	})
	if telegramBot != nil {
		g.Go(func() error {
			if err := telegramBot.Start(gctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}

	a.log.Infow("timeplanner started", "version", Version, "addr", a.cfg.HTTPAddr, "bot", telegramBot != nil)
	err = g.Wait()
	a.log.Infow("shutdown complete")
	return err
}
