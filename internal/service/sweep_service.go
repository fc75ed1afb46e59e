package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"timeplanner/internal/model"
	"timeplanner/internal/recurrence"
	"timeplanner/internal/repository"
)

// SweepOptions scopes one sweep. UserID 0 sweeps every user.
type SweepOptions struct {
	UserID uint
	Now    time.Time
}

// SweepResult is what the batch entry point reports.
type SweepResult struct {
	Processed          int    `json:"processed"`
	Reactivated        int    `json:"reactivated"`
	ReactivatedTaskIDs []uint `json:"reactivatedTaskIds"`
}

// SweepService reactivates completed recurring tasks whose next occurrence is due.
type SweepService struct {
	store *repository.Store
	loc   *time.Location
	now   Clock
	log   *zap.SugaredLogger
}

func NewSweepService(store *repository.Store, loc *time.Location, clock Clock, log *zap.SugaredLogger) *SweepService {
	if loc == nil {
		loc = time.Local
	}
	if clock == nil {
		clock = time.Now
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &SweepService{store: store, loc: loc, now: clock, log: log}
}

// ProcessRecurringTasks runs the sweep for one user at the current instant and
// returns how many tasks were reactivated.
func (s *SweepService) ProcessRecurringTasks(ctx context.Context, userID uint) (int, error) {
	res, err := s.Run(ctx, SweepOptions{UserID: userID, Now: s.now()})
	if err != nil {
		return 0, err
	}
	return res.Reactivated, nil
}

// Run walks the completed recurring task events one at a time. A failing item
// is logged and skipped; only a failure to list candidates aborts the sweep.
// Running it twice in a row reactivates nothing the second time.
func (s *SweepService) Run(ctx context.Context, opts SweepOptions) (SweepResult, error) {
	res := SweepResult{ReactivatedTaskIDs: make([]uint, 0)}
	now := opts.Now
	if now.IsZero() {
		now = s.now()
	}
	today := startOfDay(now.In(s.loc))

	candidates, err := s.store.Events.ListCompletedRecurring(ctx, opts.UserID)
	if err != nil {
		return SweepResult{ReactivatedTaskIDs: make([]uint, 0)}, fmt.Errorf("sweep recurring tasks: %w", err)
	}

	for _, ev := range candidates {
		if err := ctx.Err(); err != nil {
			s.log.Warnw("sweep cancelled", "processed", res.Processed, "reactivated", res.Reactivated)
			return res, err
		}
		res.Processed++

		ok, err := s.reactivate(ctx, ev, today)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return res, err
			}
			s.log.Warnw("sweep item skipped", "eventID", ev.ID, "taskID", ev.EntityID, "error", err)
			continue
		}
		if ok {
			res.Reactivated++
			res.ReactivatedTaskIDs = append(res.ReactivatedTaskIDs, ev.EntityID)
		}
	}

	if res.Reactivated > 0 {
		s.log.Infow("recurring tasks reactivated", "userID", opts.UserID, "processed", res.Processed, "reactivated", res.Reactivated)
	}
	return res, nil
}

// reactivate moves one event to its next occurrence when that falls on or
// before today. It reports false when the item is not due or another sweep
// already handled it.
func (s *SweepService) reactivate(ctx context.Context, ev model.TimeEvent, today time.Time) (bool, error) {
	spec, err := ev.RecurrenceSpec()
	if err != nil {
		return false, err
	}
	if spec == nil {
		return false, nil
	}

	applied := false
	err = s.store.InTx(ctx, func(tx *repository.Store) error {
		task, err := tx.Tasks.Get(ctx, ev.EntityID)
		if err != nil {
			return err
		}
		ref := task.LastCompletedAt
		if ref == nil {
			ref = ev.CompletedAt
		}
		if ref == nil {
			return fmt.Errorf("event %s has no completion time", ev.ID)
		}

		next, err := recurrence.Next(ref.In(s.loc), *spec)
		if err != nil {
			return err
		}
		if startOfDay(next).After(today) {
			return nil
		}

		ok, err := tx.Events.ReactivateIfCompleted(ctx, ev.ID, next, next.Add(eventDuration(ev)))
		if err != nil || !ok {
			return err
		}
		if err := tx.Tasks.Reactivate(ctx, task.ID, next.Format(dateLayout), next.Format(clockLayout)); err != nil {
			return err
		}
		applied = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return applied, nil
}
