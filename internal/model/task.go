package model

import "time"

// RecurrenceInterval is the task-level repeat label shown in the planner.
type RecurrenceInterval string

const (
	IntervalDaily     RecurrenceInterval = "daily"
	IntervalWeekly    RecurrenceInterval = "weekly"
	IntervalBiMonthly RecurrenceInterval = "bi-monthly"
	IntervalMonthly   RecurrenceInterval = "monthly"
)

// Task represents a single item in the planner.
// ScheduledDate and ScheduledTime mirror the task's time event for list views;
// the event is authoritative when they disagree.
type Task struct {
	ID                 uint               `gorm:"primaryKey" json:"id"`
	UserID             uint               `gorm:"index" json:"userId"`
	CategoryID         *uint              `gorm:"index" json:"categoryId,omitempty"`
	Title              string             `json:"title"`
	Description        string             `json:"description"`
	EstimatedMinutes   int                `json:"estimatedMinutes"`
	Deadline           *time.Time         `json:"deadline,omitempty"`
	IsCompleted        bool               `gorm:"default:false" json:"isCompleted"`
	IsRecurring        bool               `gorm:"default:false" json:"isRecurring"`
	RecurrenceInterval RecurrenceInterval `gorm:"type:varchar(20)" json:"recurrenceInterval,omitempty"`
	LastCompletedAt    *time.Time         `json:"lastCompletedAt,omitempty"`
	ScheduledDate      string             `gorm:"type:varchar(10)" json:"scheduledDate,omitempty"`
	ScheduledTime      string             `gorm:"type:varchar(5)" json:"scheduledTime,omitempty"`
	CreatedAt          time.Time          `json:"createdAt"`
	UpdatedAt          time.Time          `json:"updatedAt"`
}
