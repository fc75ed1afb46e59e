package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"timeplanner/internal/model"
)

// TaskRepository handles CRUD for tasks.
type TaskRepository struct {
	db *gorm.DB
}

func NewTaskRepository(db *gorm.DB) *TaskRepository {
	return &TaskRepository{db: db}
}

func (r *TaskRepository) Create(ctx context.Context, task *model.Task) error {
	return wrapErr("create task", r.db.WithContext(ctx).Create(task).Error)
}

func (r *TaskRepository) ListActiveOrRecurring(ctx context.Context, userID uint) ([]model.Task, error) {
	var tasks []model.Task
	if err := r.db.WithContext(ctx).Where("user_id = ? AND (is_completed = ? OR is_recurring = ?)", userID, false, true).
		Order("deadline IS NULL, deadline ASC, created_at DESC").
		Find(&tasks).Error; err != nil {
		return nil, wrapErr("list tasks", err)
	}
	return tasks, nil
}

// ListByIDs loads tasks keyed by id; missing ids are simply absent.
func (r *TaskRepository) ListByIDs(ctx context.Context, ids []uint) (map[uint]model.Task, error) {
	out := make(map[uint]model.Task, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var tasks []model.Task
	if err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&tasks).Error; err != nil {
		return nil, wrapErr("list tasks by id", err)
	}
	for _, task := range tasks {
		out[task.ID] = task
	}
	return out, nil
}

func (r *TaskRepository) FindByID(ctx context.Context, userID, taskID uint) (*model.Task, error) {
	var task model.Task
	if err := r.db.WithContext(ctx).Where("user_id = ? AND id = ?", userID, taskID).First(&task).Error; err != nil {
		return nil, wrapErr("find task", err)
	}
	return &task, nil
}

// Get loads a task regardless of owner. Used by background jobs.
func (r *TaskRepository) Get(ctx context.Context, taskID uint) (*model.Task, error) {
	var task model.Task
	if err := r.db.WithContext(ctx).First(&task, taskID).Error; err != nil {
		return nil, wrapErr("get task", err)
	}
	return &task, nil
}

func (r *TaskRepository) MarkCompleted(ctx context.Context, taskID uint, completedAt time.Time) error {
	return r.update(ctx, "complete task", taskID, map[string]interface{}{
		"is_completed":      true,
		"last_completed_at": completedAt.UTC(),
	})
}

// Reactivate flips a completed recurring task back to active and mirrors its
// next schedule.
func (r *TaskRepository) Reactivate(ctx context.Context, taskID uint, scheduledDate, scheduledTime string) error {
	return r.update(ctx, "reactivate task", taskID, map[string]interface{}{
		"is_completed":   false,
		"scheduled_date": scheduledDate,
		"scheduled_time": scheduledTime,
	})
}

// UpdateSchedule writes the denormalized schedule fields. Empty strings clear them.
func (r *TaskRepository) UpdateSchedule(ctx context.Context, taskID uint, scheduledDate, scheduledTime string) error {
	return r.update(ctx, "update task schedule", taskID, map[string]interface{}{
		"scheduled_date": scheduledDate,
		"scheduled_time": scheduledTime,
	})
}

func (r *TaskRepository) SetRecurring(ctx context.Context, taskID uint, recurring bool, interval model.RecurrenceInterval) error {
	return r.update(ctx, "set task recurrence", taskID, map[string]interface{}{
		"is_recurring":        recurring,
		"recurrence_interval": interval,
	})
}

// Delete removes a task for the given user, regardless of it being recurring or not.
func (r *TaskRepository) Delete(ctx context.Context, userID, taskID uint) error {
	res := r.db.WithContext(ctx).Where("user_id = ? AND id = ?", userID, taskID).Delete(&model.Task{})
	if res.Error != nil {
		return wrapErr("delete task", res.Error)
	}
	if res.RowsAffected == 0 {
		return wrapErr("delete task", ErrNotFound)
	}
	return nil
}

func (r *TaskRepository) update(ctx context.Context, op string, taskID uint, fields map[string]interface{}) error {
	res := r.db.WithContext(ctx).Model(&model.Task{}).Where("id = ?", taskID).Updates(fields)
	if res.Error != nil {
		return wrapErr(op, res.Error)
	}
	if res.RowsAffected == 0 {
		return wrapErr(op, ErrNotFound)
	}
	return nil
}
