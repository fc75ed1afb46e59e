package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"timeplanner/internal/model"
	"timeplanner/internal/recurrence"
	"timeplanner/internal/repository"
)

var ErrTitleRequired = errors.New("service: title is required")

// TaskInput represents data required to create a task.
type TaskInput struct {
	Title              string
	Description        string
	Category           string
	EstimatedMinutes   int
	Deadline           *time.Time
	IsRecurring        bool
	RecurrenceInterval model.RecurrenceInterval
}

// TaskService wraps task-related business logic.
type TaskService struct {
	store  *repository.Store
	events *EventService
	now    Clock
}

func NewTaskService(store *repository.Store, events *EventService, clock Clock) *TaskService {
	if clock == nil {
		clock = time.Now
	}
	return &TaskService{store: store, events: events, now: clock}
}

func (s *TaskService) CreateTask(ctx context.Context, user *model.User, input TaskInput) (*model.Task, error) {
	title := strings.TrimSpace(input.Title)
	if title == "" {
		return nil, ErrTitleRequired
	}
	if input.IsRecurring {
		if input.RecurrenceInterval == "" {
			input.RecurrenceInterval = model.IntervalWeekly
		}
		if _, err := recurrence.FromTaskInterval(string(input.RecurrenceInterval)); err != nil {
			return nil, err
		}
	}

	var categoryID *uint
	if input.Category != "" {
		category, err := s.store.Categories.GetOrCreate(ctx, user.ID, input.Category)
		if err != nil {
			return nil, err
		}
		if category != nil {
			categoryID = &category.ID
		}
	}

	task := model.Task{
		UserID:           user.ID,
		CategoryID:       categoryID,
		Title:            title,
		Description:      input.Description,
		EstimatedMinutes: input.EstimatedMinutes,
		Deadline:         input.Deadline,
		IsRecurring:      input.IsRecurring,
	}
	if input.IsRecurring {
		task.RecurrenceInterval = input.RecurrenceInterval
	}

	if err := s.store.Tasks.Create(ctx, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

func (s *TaskService) ListActive(ctx context.Context, user *model.User) ([]model.Task, error) {
	return s.store.Tasks.ListActiveOrRecurring(ctx, user.ID)
}

func (s *TaskService) GetTask(ctx context.Context, user *model.User, taskID uint) (*model.Task, error) {
	return s.store.Tasks.FindByID(ctx, user.ID, taskID)
}

// CompleteTask marks a task as done. A scheduled task is completed through its
// event so a recurring one can be reactivated by the sweep later.
func (s *TaskService) CompleteTask(ctx context.Context, user *model.User, taskID uint) (*model.Task, error) {
	task, err := s.store.Tasks.FindByID(ctx, user.ID, taskID)
	if err != nil {
		return nil, err
	}

	ev, err := s.store.Events.FindByEntity(ctx, model.EntityTask, task.ID)
	switch {
	case err == nil && ev.Status == model.StatusScheduled:
		if _, err := s.events.CompleteEvent(ctx, user.ID, ev.ID); err != nil {
			return nil, err
		}
	case err == nil, errors.Is(err, repository.ErrNotFound):
		if err := s.store.Tasks.MarkCompleted(ctx, task.ID, s.now()); err != nil {
			return nil, err
		}
	default:
		return nil, err
	}
	return s.store.Tasks.FindByID(ctx, user.ID, taskID)
}

// SetRecurring changes the task's recurring flag and keeps its event in line.
func (s *TaskService) SetRecurring(ctx context.Context, user *model.User, taskID uint, recurring bool, interval model.RecurrenceInterval) (*model.TimeEvent, error) {
	task, err := s.store.Tasks.FindByID(ctx, user.ID, taskID)
	if err != nil {
		return nil, err
	}
	if !recurring {
		interval = ""
	} else {
		if interval == "" {
			interval = task.RecurrenceInterval
		}
		if _, err := recurrence.FromTaskInterval(string(interval)); err != nil {
			return nil, err
		}
	}
	if err := s.store.Tasks.SetRecurring(ctx, task.ID, recurring, interval); err != nil {
		return nil, err
	}
	return s.events.SyncRecurrence(ctx, user.ID, task.ID)
}

// DeleteTask removes a task and its event (for both one-time and recurring tasks).
func (s *TaskService) DeleteTask(ctx context.Context, user *model.User, taskID uint) error {
	err := s.store.InTx(ctx, func(tx *repository.Store) error {
		if _, err := tx.Events.DeleteByEntity(ctx, user.ID, model.EntityTask, taskID); err != nil {
			return err
		}
		return tx.Tasks.Delete(ctx, user.ID, taskID)
	})
	if err != nil {
		return fmt.Errorf("delete task %d: %w", taskID, err)
	}
	return nil
}
