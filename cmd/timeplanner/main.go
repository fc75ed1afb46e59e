package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"timeplanner/internal/config"
	"timeplanner/internal/logging"
	"timeplanner/internal/repository"
	"timeplanner/internal/service"
)

var Version = "dev"

var configDir string

func main() {
	rootCmd := &cobra.Command{
		Use:           "timeplanner",
		Short:         "Task planner that keeps recurring tasks and calendar events in step",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&configDir, "config", ".", "directory holding the .env file")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(sweepCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(exportCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// app is the wiring shared by every command.
type app struct {
	cfg   config.Config
	loc   *time.Location
	log   *zap.SugaredLogger
	db    *gorm.DB
	store *repository.Store

	events      *service.EventService
	sweep       *service.SweepService
	occurrences *service.OccurrenceService
}

func newApp() (*app, error) {
	cfg, err := config.Load(configDir)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	log, err := logging.New(logging.Options{Dir: cfg.LogDir, Level: cfg.LogLevel})
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	db, err := repository.NewDB(cfg.DatabaseDriver, cfg.DatabaseURL, log)
	if err != nil {
		return nil, fmt.Errorf("db: %w", err)
	}
	store := repository.NewStore(db)

	a := &app{cfg: cfg, loc: loc, log: log, db: db, store: store}
	a.events = service.NewEventService(store, service.EventOptions{
		Location:               loc,
		DefaultStartTime:       cfg.DefaultStartTime,
		DefaultDurationMinutes: cfg.DefaultDurationMinutes,
		Logger:                 log.Named("events"),
	})
	a.sweep = service.NewSweepService(store, loc, nil, log.Named("sweep"))
	a.occurrences = service.NewOccurrenceService(store, loc, nil, log.Named("calendar"))
	return a, nil
}

// sessionGuard prefers Redis and falls back to process memory when Redis is
// not configured or does not answer.
func (a *app) sessionGuard(ctx context.Context) (service.SessionGuard, func()) {
	ttl := a.cfg.SessionTTL()
	if a.cfg.RedisAddr == "" {
		return service.NewMemorySessionGuard(ttl, nil), func() {}
	}

	client := redis.NewClient(&redis.Options{
		Addr:     a.cfg.RedisAddr,
		Password: a.cfg.RedisPassword,
		DB:       a.cfg.RedisDB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		a.log.Warnw("redis unavailable, keeping sessions in memory", "addr", a.cfg.RedisAddr, "error", err)
		_ = client.Close()
		return service.NewMemorySessionGuard(ttl, nil), func() {}
	}
	a.log.Infow("redis connected", "addr", a.cfg.RedisAddr)
	return service.NewRedisSessionGuard(client, ttl), func() { _ = client.Close() }
}

func (a *app) Close() {
	if sqlDB, err := a.db.DB(); err == nil {
		_ = sqlDB.Close()
	}
	_ = a.log.Sync()
}

// parseDay reads YYYY-MM-DD in the planner's location; empty means today.
func (a *app) parseDay(raw string) (time.Time, error) {
	if raw == "" {
		y, m, d := time.Now().In(a.loc).Date()
		return time.Date(y, m, d, 0, 0, 0, 0, a.loc), nil
	}
	day, err := time.ParseInLocation("2006-01-02", raw, a.loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q, expected YYYY-MM-DD", raw)
	}
	return day, nil
}
