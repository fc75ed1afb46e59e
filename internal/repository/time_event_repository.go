package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"timeplanner/internal/model"
	"timeplanner/internal/recurrence"
)

// maxEventSpan bounds how far before a window a one-off event may start and
// still overlap it.
const maxEventSpan = 7 * 24 * time.Hour

// TimeEventRepository handles the time_events table.
type TimeEventRepository struct {
	db *gorm.DB
}

func NewTimeEventRepository(db *gorm.DB) *TimeEventRepository {
	return &TimeEventRepository{db: db}
}

// Upsert inserts the event or replaces the one already stored for the same
// (entity_type, entity_id). The stored row is returned; its id is kept on replace.
func (r *TimeEventRepository) Upsert(ctx context.Context, ev *model.TimeEvent) (*model.TimeEvent, error) {
	if len(ev.Recurrence) > 0 {
		if _, err := recurrence.Parse(ev.Recurrence); err != nil {
			return nil, fmt.Errorf("upsert time event: %w", err)
		}
	}
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	ev.StartsAt = ev.StartsAt.UTC()
	if ev.EndsAt != nil {
		end := ev.EndsAt.UTC()
		ev.EndsAt = &end
	}

	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "entity_type"}, {Name: "entity_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"user_id", "starts_at", "ends_at", "duration_minutes", "recurrence", "status", "completed_at", "updated_at",
		}),
	}).Create(ev).Error
	if err != nil {
		return nil, wrapErr("upsert time event", err)
	}
	return r.FindByEntity(ctx, ev.EntityType, ev.EntityID)
}

func (r *TimeEventRepository) FindByID(ctx context.Context, id string) (*model.TimeEvent, error) {
	var ev model.TimeEvent
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&ev).Error; err != nil {
		return nil, wrapErr("find time event", err)
	}
	return &ev, nil
}

func (r *TimeEventRepository) FindByEntity(ctx context.Context, entityType model.EntityType, entityID uint) (*model.TimeEvent, error) {
	var ev model.TimeEvent
	if err := r.db.WithContext(ctx).Where("entity_type = ? AND entity_id = ?", entityType, entityID).First(&ev).Error; err != nil {
		return nil, wrapErr("find time event", err)
	}
	return &ev, nil
}

// DeleteByEntity removes the event of an entity and reports how many rows went.
// Deleting a missing event is not an error.
func (r *TimeEventRepository) DeleteByEntity(ctx context.Context, userID uint, entityType model.EntityType, entityID uint) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("user_id = ? AND entity_type = ? AND entity_id = ?", userID, entityType, entityID).
		Delete(&model.TimeEvent{})
	if res.Error != nil {
		return 0, wrapErr("delete time event", res.Error)
	}
	return res.RowsAffected, nil
}

// ListCompletedRecurring selects the sweep candidates. userID 0 means every user.
func (r *TimeEventRepository) ListCompletedRecurring(ctx context.Context, userID uint) ([]model.TimeEvent, error) {
	q := r.db.WithContext(ctx).
		Where("entity_type = ? AND status = ? AND recurrence IS NOT NULL", model.EntityTask, model.StatusCompleted)
	if userID != 0 {
		q = q.Where("user_id = ?", userID)
	}
	var events []model.TimeEvent
	if err := q.Order("starts_at ASC").Find(&events).Error; err != nil {
		return nil, wrapErr("list completed recurring events", err)
	}
	return events, nil
}

// ListForWindow returns the user's non-cancelled events that may occur in
// [from, to): one-off events starting near the window and every recurring series
// that started before its end.
func (r *TimeEventRepository) ListForWindow(ctx context.Context, userID uint, from, to time.Time) ([]model.TimeEvent, error) {
	var events []model.TimeEvent
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND status <> ? AND starts_at < ?", userID, model.StatusCancelled, to.UTC()).
		Where("recurrence IS NOT NULL OR starts_at >= ?", from.Add(-maxEventSpan).UTC()).
		Order("starts_at ASC").
		Find(&events).Error
	if err != nil {
		return nil, wrapErr("list time events", err)
	}
	return events, nil
}

// CompleteIfScheduled moves a scheduled event to completed. It reports false
// when the event was not in the scheduled state at write time.
func (r *TimeEventRepository) CompleteIfScheduled(ctx context.Context, id string, completedAt time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Model(&model.TimeEvent{}).
		Where("id = ? AND status = ?", id, model.StatusScheduled).
		Updates(map[string]interface{}{
			"status":       model.StatusCompleted,
			"completed_at": completedAt.UTC(),
		})
	if res.Error != nil {
		return false, wrapErr("complete time event", res.Error)
	}
	return res.RowsAffected > 0, nil
}

// ReactivateIfCompleted advances a completed event to its next occurrence. The
// status precondition makes a racing second sweep a no-op.
func (r *TimeEventRepository) ReactivateIfCompleted(ctx context.Context, id string, startsAt, endsAt time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Model(&model.TimeEvent{}).
		Where("id = ? AND status = ?", id, model.StatusCompleted).
		Updates(map[string]interface{}{
			"starts_at":    startsAt.UTC(),
			"ends_at":      endsAt.UTC(),
			"status":       model.StatusScheduled,
			"completed_at": gorm.Expr("NULL"),
		})
	if res.Error != nil {
		return false, wrapErr("reactivate time event", res.Error)
	}
	return res.RowsAffected > 0, nil
}

// Reschedule moves an event in place without touching status or recurrence.
func (r *TimeEventRepository) Reschedule(ctx context.Context, id string, startsAt, endsAt time.Time) error {
	res := r.db.WithContext(ctx).Model(&model.TimeEvent{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"starts_at": startsAt.UTC(),
			"ends_at":   endsAt.UTC(),
		})
	if res.Error != nil {
		return wrapErr("reschedule time event", res.Error)
	}
	if res.RowsAffected == 0 {
		return wrapErr("reschedule time event", ErrNotFound)
	}
	return nil
}

// SetRecurrence replaces the recurrence payload; nil clears it.
func (r *TimeEventRepository) SetRecurrence(ctx context.Context, id string, raw datatypes.JSON) error {
	var value interface{} = gorm.Expr("NULL")
	if len(raw) > 0 {
		if _, err := recurrence.Parse(raw); err != nil {
			return fmt.Errorf("set event recurrence: %w", err)
		}
		value = raw
	}
	res := r.db.WithContext(ctx).Model(&model.TimeEvent{}).
		Where("id = ?", id).
		Update("recurrence", value)
	if res.Error != nil {
		return wrapErr("set event recurrence", res.Error)
	}
	if res.RowsAffected == 0 {
		return wrapErr("set event recurrence", ErrNotFound)
	}
	return nil
}
