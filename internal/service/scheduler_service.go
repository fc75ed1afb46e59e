package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// SchedulerService runs the planner's periodic jobs. A job still running when
// its next tick arrives is skipped; a panicking job is logged and recovered.
type SchedulerService struct {
	cron *cron.Cron
	loc  *time.Location
	log  *zap.SugaredLogger
}

func NewSchedulerService(loc *time.Location, log *zap.SugaredLogger) *SchedulerService {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	if loc == nil {
		loc = time.Local
	}
	cl := cronLogger{log: log}
	return &SchedulerService{
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithSeconds(),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		loc: loc,
		log: log,
	}
}

// ScheduleDaily registers job for every day at timeStr (HH:MM, scheduler location).
func (s *SchedulerService) ScheduleDaily(timeStr string, job func()) (cron.EntryID, error) {
	spec, err := buildDailySpec(timeStr)
	if err != nil {
		return 0, err
	}
	return s.cron.AddFunc(spec, job)
}

// ScheduleSweep runs the reactivation sweep for every user each day at timeStr.
func (s *SchedulerService) ScheduleSweep(timeStr string, sweep *SweepService, timeout time.Duration) (cron.EntryID, error) {
	return s.ScheduleDaily(timeStr, func() {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		res, err := sweep.Run(ctx, SweepOptions{})
		if err != nil && !errors.Is(err, context.Canceled) {
			s.log.Errorw("scheduled sweep failed", "error", err)
			return
		}
		s.log.Infow("scheduled sweep finished", "processed", res.Processed, "reactivated", res.Reactivated)
	})
}

// ScheduleInterval registers job every interval, starting one interval from now.
func (s *SchedulerService) ScheduleInterval(interval time.Duration, job func()) (cron.EntryID, error) {
	if interval < time.Second {
		return 0, fmt.Errorf("interval %s must be at least one second", interval)
	}
	return s.cron.Schedule(cron.Every(interval), cron.FuncJob(job)), nil
}

func (s *SchedulerService) Start() {
	s.cron.Start()
}

// Stop waits for running jobs to return.
func (s *SchedulerService) Stop() {
	<-s.cron.Stop().Done()
}

// Next reports when the given entry fires next, or zero for an unknown entry.
// The run loop fills Entry.Next asynchronously, so it is computed from the schedule.
func (s *SchedulerService) Next(id cron.EntryID) time.Time {
	entry := s.cron.Entry(id)
	if entry.Schedule == nil {
		return time.Time{}
	}
	return entry.Schedule.Next(time.Now().In(s.loc))
}

// buildDailySpec turns HH:MM into a seconds-aware cron spec.
func buildDailySpec(timeStr string) (string, error) {
	at, err := time.Parse(clockLayout, timeStr)
	if err != nil {
		return "", fmt.Errorf("invalid time %q, expected HH:MM", timeStr)
	}
	return fmt.Sprintf("0 %d %d * * *", at.Minute(), at.Hour()), nil
}

// cronLogger adapts zap to cron's logger.
type cronLogger struct {
	log *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debugw("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Errorw("cron: "+msg, append(keysAndValues, "error", err)...)
}
