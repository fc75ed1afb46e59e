package repository

import (
	"context"
	"errors"
	"testing"

	"timeplanner/internal/model"
)

func TestUpsertFromTelegramRefreshesProfile(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	first, err := store.Users.UpsertFromTelegram(ctx, 555, "Ada", "", "ada")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	second, err := store.Users.UpsertFromTelegram(ctx, 555, "Ada", "Lovelace", "countess")
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if first.ID != second.ID {
		t.Fatalf("expected the same user, got %d and %d", first.ID, second.ID)
	}
	if second.LastName != "Lovelace" || second.Username != "countess" {
		t.Fatalf("profile not refreshed: %+v", second)
	}

	stored, err := store.Users.FindByID(ctx, first.ID)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if stored.Username != "countess" {
		t.Fatalf("expected stored username countess, got %q", stored.Username)
	}
}

func TestListChatUsersSkipsHTTPUsers(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	if _, err := store.Users.UpsertFromTelegram(ctx, 42, "Chat", "", ""); err != nil {
		t.Fatalf("telegram user: %v", err)
	}
	if err := store.Users.Create(ctx, &model.User{FirstName: "Web"}); err != nil {
		t.Fatalf("http user: %v", err)
	}

	users, err := store.Users.ListChatUsers(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(users) != 1 || users[0].TelegramID != 42 {
		t.Fatalf("expected only the telegram user, got %+v", users)
	}
}

func TestFindUserNotFound(t *testing.T) {
	store := setupStore(t)
	if _, err := store.Users.FindByID(context.Background(), 99); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCategoryGetOrCreateIsIdempotent(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	a, err := store.Categories.GetOrCreate(ctx, 1, " Work ")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	b, err := store.Categories.GetOrCreate(ctx, 1, "Work")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if a.ID != b.ID || b.Name != "Work" {
		t.Fatalf("expected one trimmed category, got %+v and %+v", a, b)
	}
	if blank, err := store.Categories.GetOrCreate(ctx, 1, "  "); err != nil || blank != nil {
		t.Fatalf("blank name should be no category, got %+v, %v", blank, err)
	}

	other, err := store.Categories.GetOrCreate(ctx, 2, "Work")
	if err != nil {
		t.Fatalf("other user: %v", err)
	}
	if other.ID == a.ID {
		t.Fatal("categories must be per user")
	}

	names, err := store.Categories.NamesByUser(ctx, 1)
	if err != nil {
		t.Fatalf("names: %v", err)
	}
	if len(names) != 1 || names[a.ID] != "Work" {
		t.Fatalf("unexpected names %v", names)
	}
}
