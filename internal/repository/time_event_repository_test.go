package repository

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"gorm.io/datatypes"

	"timeplanner/internal/model"
	"timeplanner/internal/recurrence"
)

func setupStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "timeplanner-test.db")
	db, err := NewDB(DriverSQLite, dbPath, nil)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	t.Cleanup(func() { _ = sqlDB.Close() })
	return NewStore(db)
}

func createTask(t *testing.T, store *Store, userID uint, title string) *model.Task {
	t.Helper()
	task := &model.Task{UserID: userID, Title: title, EstimatedMinutes: 30}
	if err := store.Tasks.Create(context.Background(), task); err != nil {
		t.Fatalf("create task: %v", err)
	}
	return task
}

func mustTime(t *testing.T, value string) time.Time {
	t.Helper()
	out, err := time.Parse(time.RFC3339, value)
	if err != nil {
		t.Fatalf("parse time: %v", err)
	}
	return out
}

func TestUpsertKeepsOneRowPerTask(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()
	task := createTask(t, store, 1, "Write report")
	start := mustTime(t, "2024-05-01T14:00:00Z")
	end := start.Add(time.Hour)

	first, err := store.Events.Upsert(ctx, &model.TimeEvent{
		UserID: 1, EntityType: model.EntityTask, EntityID: task.ID,
		StartsAt: start, EndsAt: &end, DurationMinutes: 60, Status: model.StatusScheduled,
	})
	if err != nil {
		t.Fatalf("first upsert: %v", err)
	}

	moved := start.Add(2 * time.Hour)
	movedEnd := moved.Add(30 * time.Minute)
	second, err := store.Events.Upsert(ctx, &model.TimeEvent{
		UserID: 1, EntityType: model.EntityTask, EntityID: task.ID,
		StartsAt: moved, EndsAt: &movedEnd, DurationMinutes: 30, Status: model.StatusScheduled,
		Recurrence: datatypes.JSON(`{"frequency":"daily","interval":1}`),
	})
	if err != nil {
		t.Fatalf("second upsert: %v", err)
	}

	if second.ID != first.ID {
		t.Fatalf("expected id %s to be kept, got %s", first.ID, second.ID)
	}
	if !second.StartsAt.Equal(moved) || second.DurationMinutes != 30 || !second.IsRecurring() {
		t.Fatalf("unexpected stored event: %#v", second)
	}

	var count int64
	if err := store.db.Model(&model.TimeEvent{}).Count(&count).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 event row, got %d", count)
	}
}

func TestDeleteByEntityMissingIsNoop(t *testing.T) {
	store := setupStore(t)
	n, err := store.Events.DeleteByEntity(context.Background(), 1, model.EntityTask, 42)
	if err != nil {
		t.Fatalf("delete missing event: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected 0 rows, got %d", n)
	}
}

func TestConditionalTransitions(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()
	task := createTask(t, store, 1, "Water plants")
	start := mustTime(t, "2024-03-01T08:00:00Z")

	ev, err := store.Events.Upsert(ctx, &model.TimeEvent{
		UserID: 1, EntityType: model.EntityTask, EntityID: task.ID,
		StartsAt: start, DurationMinutes: 15, Status: model.StatusScheduled,
		Recurrence: datatypes.JSON(`{"frequency":"daily","interval":1}`),
	})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}

	if ok, err := store.Events.ReactivateIfCompleted(ctx, ev.ID, start, start); err != nil || ok {
		t.Fatalf("reactivate on scheduled event should be a no-op, got ok=%v err=%v", ok, err)
	}

	done := start.Add(time.Hour)
	ok, err := store.Events.CompleteIfScheduled(ctx, ev.ID, done)
	if err != nil || !ok {
		t.Fatalf("complete: ok=%v err=%v", ok, err)
	}
	if ok, err := store.Events.CompleteIfScheduled(ctx, ev.ID, done); err != nil || ok {
		t.Fatalf("second complete should be a no-op, got ok=%v err=%v", ok, err)
	}

	candidates, err := store.Events.ListCompletedRecurring(ctx, 1)
	if err != nil {
		t.Fatalf("list candidates: %v", err)
	}
	if len(candidates) != 1 || candidates[0].CompletedAt == nil {
		t.Fatalf("unexpected candidates: %#v", candidates)
	}

	next := start.AddDate(0, 0, 1)
	ok, err = store.Events.ReactivateIfCompleted(ctx, ev.ID, next, next.Add(15*time.Minute))
	if err != nil || !ok {
		t.Fatalf("reactivate: ok=%v err=%v", ok, err)
	}
	if ok, _ := store.Events.ReactivateIfCompleted(ctx, ev.ID, next, next); ok {
		t.Fatal("second reactivation must not apply")
	}

	got, err := store.Events.FindByID(ctx, ev.ID)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if got.Status != model.StatusScheduled || got.CompletedAt != nil || !got.StartsAt.Equal(next) {
		t.Fatalf("unexpected reactivated event: %#v", got)
	}
}

func TestListCompletedRecurringSkipsOneOffAndOtherUsers(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()
	start := mustTime(t, "2024-03-01T08:00:00Z")
	done := start.Add(time.Hour)

	seed := []struct {
		user      uint
		recurring bool
		status    model.EventStatus
	}{
		{1, true, model.StatusCompleted},
		{1, false, model.StatusCompleted},
		{1, true, model.StatusScheduled},
		{2, true, model.StatusCompleted},
	}
	for i, s := range seed {
		task := createTask(t, store, s.user, "task")
		ev := &model.TimeEvent{
			UserID: s.user, EntityType: model.EntityTask, EntityID: task.ID,
			StartsAt: start.Add(time.Duration(i) * time.Minute), DurationMinutes: 10, Status: s.status,
		}
		if s.status == model.StatusCompleted {
			ev.CompletedAt = &done
		}
		if s.recurring {
			ev.Recurrence = datatypes.JSON(`{"frequency":"weekly","interval":1}`)
		}
		if _, err := store.Events.Upsert(ctx, ev); err != nil {
			t.Fatalf("seed %d: %v", i, err)
		}
	}

	mine, err := store.Events.ListCompletedRecurring(ctx, 1)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(mine) != 1 {
		t.Fatalf("expected 1 candidate for user 1, got %d", len(mine))
	}
	all, err := store.Events.ListCompletedRecurring(ctx, 0)
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 candidates across users, got %d", len(all))
	}
}

func TestListForWindow(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()
	day := mustTime(t, "2024-05-01T00:00:00Z")

	inside := createTask(t, store, 1, "inside")
	outside := createTask(t, store, 1, "outside")
	series := createTask(t, store, 1, "series")
	cancelled := createTask(t, store, 1, "cancelled")

	for _, ev := range []*model.TimeEvent{
		{UserID: 1, EntityType: model.EntityTask, EntityID: inside.ID, StartsAt: day.Add(10 * time.Hour), DurationMinutes: 60, Status: model.StatusScheduled},
		{UserID: 1, EntityType: model.EntityTask, EntityID: outside.ID, StartsAt: day.AddDate(0, 0, 3), DurationMinutes: 60, Status: model.StatusScheduled},
		{UserID: 1, EntityType: model.EntityTask, EntityID: series.ID, StartsAt: day.AddDate(0, -2, 0), DurationMinutes: 60, Status: model.StatusScheduled,
			Recurrence: datatypes.JSON(`{"frequency":"daily","interval":1}`)},
		{UserID: 1, EntityType: model.EntityTask, EntityID: cancelled.ID, StartsAt: day.Add(11 * time.Hour), DurationMinutes: 60, Status: model.StatusCancelled},
	} {
		if _, err := store.Events.Upsert(ctx, ev); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}

	events, err := store.Events.ListForWindow(ctx, 1, day, day.AddDate(0, 0, 1))
	if err != nil {
		t.Fatalf("list window: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected series and inside event, got %d", len(events))
	}
	if events[0].EntityID != series.ID || events[1].EntityID != inside.ID {
		t.Fatalf("unexpected window order: %#v", events)
	}
}

func TestNotFoundTranslation(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	if _, err := store.Events.FindByID(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := store.Tasks.FindByID(ctx, 1, 99); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for task, got %v", err)
	}
	if err := store.Events.Reschedule(ctx, "missing", time.Now(), time.Now()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound on reschedule, got %v", err)
	}
}

func TestClosedStoreIsUnavailable(t *testing.T) {
	store := setupStore(t)
	sqlDB, err := store.db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	_ = sqlDB.Close()

	_, err = store.Events.ListCompletedRecurring(context.Background(), 0)
	if !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
}

func TestInTxRollsBack(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()
	task := createTask(t, store, 1, "rollback")
	boom := errors.New("boom")

	err := store.InTx(ctx, func(tx *Store) error {
		if err := tx.Tasks.MarkCompleted(ctx, task.ID, time.Now()); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected callback error, got %v", err)
	}

	got, err := store.Tasks.Get(ctx, task.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.IsCompleted {
		t.Fatal("expected completion to be rolled back")
	}
}

func TestUpsertRejectsUnknownRecurrence(t *testing.T) {
	store := setupStore(t)
	task := createTask(t, store, 1, "bad payload")
	_, err := store.Events.Upsert(context.Background(), &model.TimeEvent{
		UserID: 1, EntityType: model.EntityTask, EntityID: task.ID,
		StartsAt: mustTime(t, "2024-01-01T09:00:00Z"), DurationMinutes: 30, Status: model.StatusScheduled,
		Recurrence: datatypes.JSON(`{"frequency":"hourly","interval":1}`),
	})
	if !errors.Is(err, recurrence.ErrInvalidRecurrenceKind) {
		t.Fatalf("expected ErrInvalidRecurrenceKind, got %v", err)
	}
}
