package model

import (
	"time"

	"gorm.io/datatypes"

	"timeplanner/internal/recurrence"
)

// EntityType tags what a time event schedules.
type EntityType string

const (
	EntityTask  EntityType = "task"
	EntityHabit EntityType = "habit"
)

type EventStatus string

const (
	StatusScheduled EventStatus = "scheduled"
	StatusCompleted EventStatus = "completed"
	StatusCancelled EventStatus = "cancelled"
)

// TimeEvent is the authoritative scheduling record for a task or habit.
// There is at most one row per (EntityType, EntityID).
type TimeEvent struct {
	ID              string         `gorm:"type:varchar(50);primaryKey" json:"id"`
	UserID          uint           `gorm:"index:idx_time_events_user_start" json:"userId"`
	EntityType      EntityType     `gorm:"type:varchar(20);uniqueIndex:idx_time_events_entity" json:"entityType"`
	EntityID        uint           `gorm:"uniqueIndex:idx_time_events_entity" json:"entityId"`
	StartsAt        time.Time      `gorm:"index:idx_time_events_user_start" json:"startsAt"`
	EndsAt          *time.Time     `json:"endsAt,omitempty"`
	DurationMinutes int            `json:"duration"`
	Recurrence      datatypes.JSON `json:"recurrence,omitempty"`
	Status          EventStatus    `gorm:"type:varchar(20);index" json:"status"`
	CompletedAt     *time.Time     `json:"completedAt,omitempty"`
	CreatedAt       time.Time      `json:"createdAt"`
	UpdatedAt       time.Time      `json:"updatedAt"`
}

func (TimeEvent) TableName() string {
	return "time_events"
}

// End returns EndsAt, or StartsAt plus the duration when EndsAt is unset.
func (e TimeEvent) End() time.Time {
	if e.EndsAt != nil {
		return *e.EndsAt
	}
	return e.StartsAt.Add(time.Duration(e.DurationMinutes) * time.Minute)
}

// Duration is the length of the occurrence.
func (e TimeEvent) Duration() time.Duration {
	return e.End().Sub(e.StartsAt)
}

func (e TimeEvent) IsRecurring() bool {
	return len(e.Recurrence) > 0
}

// RecurrenceSpec decodes the stored payload; nil means a one-off event.
func (e TimeEvent) RecurrenceSpec() (*recurrence.Spec, error) {
	if len(e.Recurrence) == 0 {
		return nil, nil
	}
	return recurrence.Parse(e.Recurrence)
}
