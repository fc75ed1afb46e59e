package service

import (
	"context"
	"sort"

	"timeplanner/internal/model"
	"timeplanner/internal/repository"
)

// CategoryUsage is a category with the number of its open tasks.
type CategoryUsage struct {
	ID        uint   `json:"id"`
	Name      string `json:"name"`
	OpenTasks int    `json:"openTasks"`
	Recurring int    `json:"recurring"`
}

// CategoryService provides helpers around categories.
type CategoryService struct {
	store *repository.Store
}

func NewCategoryService(store *repository.Store) *CategoryService {
	return &CategoryService{store: store}
}

func (s *CategoryService) List(ctx context.Context, user *model.User) ([]model.Category, error) {
	return s.store.Categories.ListByUser(ctx, user.ID)
}

// Usage counts open and recurring tasks per category, busiest first.
func (s *CategoryService) Usage(ctx context.Context, user *model.User) ([]CategoryUsage, error) {
	categories, err := s.store.Categories.ListByUser(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	tasks, err := s.store.Tasks.ListActiveOrRecurring(ctx, user.ID)
	if err != nil {
		return nil, err
	}

	byID := make(map[uint]*CategoryUsage, len(categories))
	out := make([]CategoryUsage, len(categories))
	for i, c := range categories {
		out[i] = CategoryUsage{ID: c.ID, Name: c.Name}
		byID[c.ID] = &out[i]
	}
	for _, t := range tasks {
		if t.CategoryID == nil {
			continue
		}
		u, ok := byID[*t.CategoryID]
		if !ok {
			continue
		}
		if !t.IsCompleted {
			u.OpenTasks++
		}
		if t.IsRecurring {
			u.Recurring++
		}
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].OpenTasks > out[j].OpenTasks })
	return out, nil
}
