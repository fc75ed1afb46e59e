package repository

import (
	"context"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"timeplanner/internal/model"
)

// CategoryRepository manages task categories.
type CategoryRepository struct {
	db *gorm.DB
}

func NewCategoryRepository(db *gorm.DB) *CategoryRepository {
	return &CategoryRepository{db: db}
}

// GetOrCreate resolves a category by its trimmed name. A blank name is no
// category and returns nil.
func (r *CategoryRepository) GetOrCreate(ctx context.Context, userID uint, name string) (*model.Category, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, nil
	}

	db := r.db.WithContext(ctx)
	err := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "name"}},
		DoNothing: true,
	}).Create(&model.Category{UserID: userID, Name: name}).Error
	if err != nil {
		return nil, wrapErr("create category", err)
	}

	var category model.Category
	if err := db.Where("user_id = ? AND name = ?", userID, name).Take(&category).Error; err != nil {
		return nil, wrapErr("find category", err)
	}
	return &category, nil
}

func (r *CategoryRepository) ListByUser(ctx context.Context, userID uint) ([]model.Category, error) {
	var categories []model.Category
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("name ASC").
		Find(&categories).Error
	if err != nil {
		return nil, wrapErr("list categories", err)
	}
	return categories, nil
}

// NamesByUser maps category ids to names for display.
func (r *CategoryRepository) NamesByUser(ctx context.Context, userID uint) (map[uint]string, error) {
	var rows []struct {
		ID   uint
		Name string
	}
	err := r.db.WithContext(ctx).
		Model(&model.Category{}).
		Select("id", "name").
		Where("user_id = ?", userID).
		Scan(&rows).Error
	if err != nil {
		return nil, wrapErr("list category names", err)
	}
	names := make(map[uint]string, len(rows))
	for _, row := range rows {
		names[row.ID] = row.Name
	}
	return names, nil
}
