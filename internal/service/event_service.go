package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"

	"timeplanner/internal/model"
	"timeplanner/internal/recurrence"
	"timeplanner/internal/repository"
)

// EventOptions configures the reconciler.
type EventOptions struct {
	Location               *time.Location
	DefaultStartTime       string
	DefaultDurationMinutes int
	Clock                  Clock
	Logger                 *zap.SugaredLogger
}

// ScheduleRequest carries the task-level schedule intent.
type ScheduleRequest struct {
	UserID          uint
	TaskID          uint
	Date            string // YYYY-MM-DD
	Time            string // HH:MM, optional
	DurationMinutes int
	IsRecurring     bool
}

// EventService keeps one time event per scheduled task in sync with the task.
type EventService struct {
	store           *repository.Store
	loc             *time.Location
	defaultStart    string
	defaultDuration int
	now             Clock
	log             *zap.SugaredLogger
}

func NewEventService(store *repository.Store, opts EventOptions) *EventService {
	s := &EventService{
		store:           store,
		loc:             opts.Location,
		defaultStart:    opts.DefaultStartTime,
		defaultDuration: opts.DefaultDurationMinutes,
		now:             opts.Clock,
		log:             opts.Logger,
	}
	if s.loc == nil {
		s.loc = time.Local
	}
	if s.defaultStart == "" {
		s.defaultStart = "09:00"
	}
	if s.defaultDuration <= 0 {
		s.defaultDuration = 60
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.log == nil {
		s.log = zap.NewNop().Sugar()
	}
	return s
}

// ScheduleTask creates or replaces the task's event and mirrors the schedule on
// the task. Calling it twice with the same request leaves one identical event.
// Scheduling a completed task reopens it.
func (s *EventService) ScheduleTask(ctx context.Context, req ScheduleRequest) (*model.TimeEvent, error) {
	clock := req.Time
	if clock == "" {
		clock = s.defaultStart
	}
	start, err := combineDateTime(req.Date, clock, s.loc)
	if err != nil {
		return nil, err
	}
	if req.DurationMinutes < 0 {
		return nil, fmt.Errorf("%w: duration %d", ErrInvalidSchedule, req.DurationMinutes)
	}

	var out *model.TimeEvent
	err = s.store.InTx(ctx, func(tx *repository.Store) error {
		task, err := tx.Tasks.FindByID(ctx, req.UserID, req.TaskID)
		if err != nil {
			return err
		}

		duration := s.durationFor(req.DurationMinutes, task)
		var raw datatypes.JSON
		if req.IsRecurring {
			if raw, err = encodeTaskRecurrence(task); err != nil {
				return err
			}
		}

		end := start.Add(time.Duration(duration) * time.Minute)
		ev, err := tx.Events.Upsert(ctx, &model.TimeEvent{
			UserID:          req.UserID,
			EntityType:      model.EntityTask,
			EntityID:        task.ID,
			StartsAt:        start,
			EndsAt:          &end,
			DurationMinutes: duration,
			Recurrence:      raw,
			Status:          model.StatusScheduled,
		})
		if err != nil {
			return err
		}
		date, at := start.Format(dateLayout), start.Format(clockLayout)
		if task.IsCompleted {
			err = tx.Tasks.Reactivate(ctx, task.ID, date, at)
		} else {
			err = tx.Tasks.UpdateSchedule(ctx, task.ID, date, at)
		}
		if err != nil {
			return err
		}
		if req.IsRecurring && !task.IsRecurring {
			if err := tx.Tasks.SetRecurring(ctx, task.ID, true, task.RecurrenceInterval); err != nil {
				return err
			}
		}
		out = ev
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Infow("task scheduled", "userID", req.UserID, "taskID", req.TaskID, "eventID", out.ID, "startsAt", out.StartsAt)
	return out, nil
}

// Unschedule removes the task's event. A task without an event is a no-op.
func (s *EventService) Unschedule(ctx context.Context, userID, taskID uint) error {
	err := s.store.InTx(ctx, func(tx *repository.Store) error {
		removed, err := tx.Events.DeleteByEntity(ctx, userID, model.EntityTask, taskID)
		if err != nil {
			return err
		}
		if removed == 0 {
			return nil
		}
		if _, err := tx.Tasks.FindByID(ctx, userID, taskID); err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return nil
			}
			return err
		}
		return tx.Tasks.UpdateSchedule(ctx, taskID, "", "")
	})
	if err != nil {
		return err
	}
	s.log.Infow("task unscheduled", "userID", userID, "taskID", taskID)
	return nil
}

// CompleteEvent marks a scheduled event completed and closes its task.
// Completing an already completed event returns it unchanged.
func (s *EventService) CompleteEvent(ctx context.Context, userID uint, eventID string) (*model.TimeEvent, error) {
	now := s.now()
	var out *model.TimeEvent
	err := s.store.InTx(ctx, func(tx *repository.Store) error {
		ev, err := s.ownedEvent(ctx, tx, userID, eventID)
		if err != nil {
			return err
		}
		switch ev.Status {
		case model.StatusCancelled:
			return fmt.Errorf("complete event %s: cancelled: %w", eventID, repository.ErrNotFound)
		case model.StatusCompleted:
			out = ev
			return nil
		}

		applied, err := tx.Events.CompleteIfScheduled(ctx, ev.ID, now)
		if err != nil {
			return err
		}
		if applied && ev.EntityType == model.EntityTask {
			if err := tx.Tasks.MarkCompleted(ctx, ev.EntityID, now); err != nil && !errors.Is(err, repository.ErrNotFound) {
				return err
			}
		}
		out, err = tx.Events.FindByID(ctx, ev.ID)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.log.Infow("event completed", "userID", userID, "eventID", out.ID, "taskID", out.EntityID)
	return out, nil
}

// RescheduleEvent moves an event to the day of newStart, keeping its duration,
// status and recurrence. newTime (HH:MM) replaces the clock of newStart when set.
func (s *EventService) RescheduleEvent(ctx context.Context, userID uint, eventID string, newStart time.Time, newTime string) (*model.TimeEvent, error) {
	start := newStart.In(s.loc)
	if newTime != "" {
		var err error
		if start, err = withClock(start, newTime); err != nil {
			return nil, err
		}
	}

	var out *model.TimeEvent
	err := s.store.InTx(ctx, func(tx *repository.Store) error {
		ev, err := s.ownedEvent(ctx, tx, userID, eventID)
		if err != nil {
			return err
		}
		end := start.Add(eventDuration(*ev))
		if err := tx.Events.Reschedule(ctx, ev.ID, start, end); err != nil {
			return err
		}
		if ev.EntityType == model.EntityTask {
			err := tx.Tasks.UpdateSchedule(ctx, ev.EntityID, start.Format(dateLayout), start.Format(clockLayout))
			if err != nil && !errors.Is(err, repository.ErrNotFound) {
				return err
			}
		}
		out, err = tx.Events.FindByID(ctx, ev.ID)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.log.Infow("event rescheduled", "userID", userID, "eventID", out.ID, "startsAt", out.StartsAt)
	return out, nil
}

// FindConflicts checks candidate against the user's stored events, expanding
// recurring series into the candidate's window.
func (s *EventService) FindConflicts(ctx context.Context, candidate model.TimeEvent) ([]model.TimeEvent, error) {
	from, to := candidate.StartsAt, candidate.End()
	if !from.Before(to) {
		return nil, fmt.Errorf("%w: event must end after it starts", ErrInvalidSchedule)
	}
	stored, err := s.store.Events.ListForWindow(ctx, candidate.UserID, from, to)
	if err != nil {
		return nil, err
	}

	existing := make([]model.TimeEvent, 0, len(stored))
	for _, ev := range stored {
		spec, err := ev.RecurrenceSpec()
		if err != nil {
			s.log.Warnw("ignoring unreadable recurrence", "eventID", ev.ID, "error", err)
			spec = nil
		}
		if spec == nil || ev.Status != model.StatusScheduled {
			existing = append(existing, ev)
			continue
		}
		starts, err := recurrence.Expand(*spec, ev.StartsAt.In(s.loc), eventDuration(ev), from, to)
		if err != nil {
			return nil, err
		}
		for _, st := range starts {
			existing = append(existing, shiftEvent(ev, st))
		}
	}
	return CheckConflicts(candidate, existing), nil
}

// SyncRecurrence applies the task's recurring flag to its event: a newly
// recurring task gets an event, an event whose task stopped recurring loses its
// recurrence, or is deleted when the task has no schedule of its own.
// The returned event is nil when none remains.
func (s *EventService) SyncRecurrence(ctx context.Context, userID, taskID uint) (*model.TimeEvent, error) {
	var out *model.TimeEvent
	err := s.store.InTx(ctx, func(tx *repository.Store) error {
		task, err := tx.Tasks.FindByID(ctx, userID, taskID)
		if err != nil {
			return err
		}
		ev, err := tx.Events.FindByEntity(ctx, model.EntityTask, taskID)
		if err != nil && !errors.Is(err, repository.ErrNotFound) {
			return err
		}
		if errors.Is(err, repository.ErrNotFound) {
			ev = nil
		}

		if !task.IsRecurring {
			switch {
			case ev == nil:
				return nil
			case task.ScheduledDate == "":
				_, err := tx.Events.DeleteByEntity(ctx, userID, model.EntityTask, taskID)
				return err
			default:
				if err := tx.Events.SetRecurrence(ctx, ev.ID, nil); err != nil {
					return err
				}
				out, err = tx.Events.FindByID(ctx, ev.ID)
				return err
			}
		}

		raw, err := encodeTaskRecurrence(task)
		if err != nil {
			return err
		}
		if ev != nil {
			if err := tx.Events.SetRecurrence(ctx, ev.ID, raw); err != nil {
				return err
			}
			out, err = tx.Events.FindByID(ctx, ev.ID)
			return err
		}

		start, err := s.initialStart(task)
		if err != nil {
			return err
		}
		duration := s.durationFor(0, task)
		end := start.Add(time.Duration(duration) * time.Minute)
		out, err = tx.Events.Upsert(ctx, &model.TimeEvent{
			UserID:          userID,
			EntityType:      model.EntityTask,
			EntityID:        task.ID,
			StartsAt:        start,
			EndsAt:          &end,
			DurationMinutes: duration,
			Recurrence:      raw,
			Status:          model.StatusScheduled,
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	s.log.Infow("task recurrence synced", "userID", userID, "taskID", taskID, "hasEvent", out != nil)
	return out, nil
}

// TaskEvent returns the event scheduling the user's task.
func (s *EventService) TaskEvent(ctx context.Context, userID, taskID uint) (*model.TimeEvent, error) {
	if _, err := s.store.Tasks.FindByID(ctx, userID, taskID); err != nil {
		return nil, err
	}
	return s.store.Events.FindByEntity(ctx, model.EntityTask, taskID)
}

func (s *EventService) ownedEvent(ctx context.Context, tx *repository.Store, userID uint, eventID string) (*model.TimeEvent, error) {
	ev, err := tx.Events.FindByID(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if userID != 0 && ev.UserID != userID {
		return nil, fmt.Errorf("find time event %s: %w", eventID, repository.ErrNotFound)
	}
	return ev, nil
}

func (s *EventService) durationFor(requested int, task *model.Task) int {
	switch {
	case requested > 0:
		return requested
	case task.EstimatedMinutes > 0:
		return task.EstimatedMinutes
	default:
		return s.defaultDuration
	}
}

// initialStart picks the first occurrence for a task that becomes recurring:
// its mirrored schedule when present, otherwise today at the default time.
func (s *EventService) initialStart(task *model.Task) (time.Time, error) {
	clock := task.ScheduledTime
	if clock == "" {
		clock = s.defaultStart
	}
	if task.ScheduledDate != "" {
		return combineDateTime(task.ScheduledDate, clock, s.loc)
	}
	return withClock(s.now().In(s.loc), clock)
}

func encodeTaskRecurrence(task *model.Task) (datatypes.JSON, error) {
	spec, err := recurrence.FromTaskInterval(string(task.RecurrenceInterval))
	if err != nil {
		return nil, err
	}
	raw, err := recurrence.Encode(spec)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(raw), nil
}

// eventDuration falls back to DurationMinutes when EndsAt is missing or not
// after StartsAt.
func eventDuration(ev model.TimeEvent) time.Duration {
	if d := ev.Duration(); d > 0 {
		return d
	}
	return time.Duration(ev.DurationMinutes) * time.Minute
}

// shiftEvent copies ev to another occurrence start.
func shiftEvent(ev model.TimeEvent, start time.Time) model.TimeEvent {
	end := start.Add(eventDuration(ev))
	ev.StartsAt = start
	ev.EndsAt = &end
	return ev
}
