package repository

import (
	"context"

	"gorm.io/gorm"
)

// Store groups the repositories that share one connection so services can run
// several writes in a single transaction.
type Store struct {
	db         *gorm.DB
	Users      *UserRepository
	Categories *CategoryRepository
	Tasks      *TaskRepository
	Events     *TimeEventRepository
}

func NewStore(db *gorm.DB) *Store {
	return &Store{
		db:         db,
		Users:      NewUserRepository(db),
		Categories: NewCategoryRepository(db),
		Tasks:      NewTaskRepository(db),
		Events:     NewTimeEventRepository(db),
	}
}

// InTx runs fn against repositories bound to one transaction. Returning an
// error rolls every write back.
func (s *Store) InTx(ctx context.Context, fn func(tx *Store) error) error {
	var fnErr error
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		fnErr = fn(NewStore(tx))
		return fnErr
	})
	switch {
	case err == nil:
		return nil
	case fnErr != nil:
		return fnErr
	default:
		return wrapErr("transaction", err)
	}
}

// Ping checks that the database answers.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return wrapErr("ping", err)
	}
	return wrapErr("ping", sqlDB.PingContext(ctx))
}
