package repository

import (
	"context"

	"gorm.io/gorm"

	"timeplanner/internal/model"
)

// UserRepository stores planner owners.
type UserRepository struct {
	db *gorm.DB
}

func NewUserRepository(db *gorm.DB) *UserRepository {
	return &UserRepository{db: db}
}

// UpsertFromTelegram returns the user behind a chat sender, refreshing the
// profile fields Telegram reports on every message.
func (r *UserRepository) UpsertFromTelegram(ctx context.Context, telegramID int64, firstName, lastName, username string) (*model.User, error) {
	profile := model.User{FirstName: firstName, LastName: lastName, Username: username}

	var user model.User
	res := r.db.WithContext(ctx).
		Where(model.User{TelegramID: telegramID}).
		Assign(profile).
		FirstOrCreate(&user)
	if res.Error != nil {
		return nil, wrapErr("upsert telegram user", res.Error)
	}
	return &user, nil
}

func (r *UserRepository) Create(ctx context.Context, user *model.User) error {
	return wrapErr("create user", r.db.WithContext(ctx).Create(user).Error)
}

func (r *UserRepository) FindByID(ctx context.Context, id uint) (*model.User, error) {
	var user model.User
	if err := r.db.WithContext(ctx).First(&user, id).Error; err != nil {
		return nil, wrapErr("find user", err)
	}
	return &user, nil
}

// ListChatUsers returns users reachable over Telegram, oldest first.
func (r *UserRepository) ListChatUsers(ctx context.Context) ([]model.User, error) {
	var users []model.User
	err := r.db.WithContext(ctx).
		Where("telegram_id <> 0").
		Order("id ASC").
		Find(&users).Error
	if err != nil {
		return nil, wrapErr("list chat users", err)
	}
	return users, nil
}
