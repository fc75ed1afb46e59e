package model

import "time"

// Category groups tasks by area (work, health, study, etc.).
type Category struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	UserID    uint      `gorm:"index:idx_user_category_name,unique" json:"userId"`
	Name      string    `gorm:"index:idx_user_category_name,unique" json:"name"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
	Tasks     []Task    `gorm:"foreignKey:CategoryID" json:"-"`
}
