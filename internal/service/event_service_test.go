package service

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"gorm.io/gorm"

	"timeplanner/internal/model"
	"timeplanner/internal/recurrence"
	"timeplanner/internal/repository"
)

type testEnv struct {
	db    *gorm.DB
	store *repository.Store
	now   time.Time
}

func (e *testEnv) clock() time.Time { return e.now }

func setupEnv(t *testing.T) *testEnv {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "service-test.db")
	db, err := repository.NewDB(repository.DriverSQLite, dbPath, nil)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	t.Cleanup(func() { _ = sqlDB.Close() })
	return &testEnv{
		db:    db,
		store: repository.NewStore(db),
		now:   time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC),
	}
}

func (e *testEnv) events() *EventService {
	return NewEventService(e.store, EventOptions{Location: time.UTC, Clock: e.clock})
}

func (e *testEnv) eventsIn(loc *time.Location) *EventService {
	return NewEventService(e.store, EventOptions{Location: loc, Clock: e.clock})
}

func berlin(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("Europe/Berlin")
	if err != nil {
		t.Skipf("Europe/Berlin zone unavailable: %v", err)
	}
	return loc
}

func (e *testEnv) task(t *testing.T, userID uint, title string, mutate func(*model.Task)) *model.Task {
	t.Helper()
	task := &model.Task{UserID: userID, Title: title}
	if mutate != nil {
		mutate(task)
	}
	if err := e.store.Tasks.Create(context.Background(), task); err != nil {
		t.Fatalf("create task: %v", err)
	}
	return task
}

func (e *testEnv) countEvents(t *testing.T) int64 {
	t.Helper()
	var n int64
	if err := e.db.Model(&model.TimeEvent{}).Count(&n).Error; err != nil {
		t.Fatalf("count events: %v", err)
	}
	return n
}

func TestScheduleTaskIsIdempotent(t *testing.T) {
	env := setupEnv(t)
	svc := env.events()
	ctx := context.Background()
	task := env.task(t, 1, "Write report", nil)

	req := ScheduleRequest{UserID: 1, TaskID: task.ID, Date: "2024-05-01", Time: "14:00", DurationMinutes: 60}
	first, err := svc.ScheduleTask(ctx, req)
	if err != nil {
		t.Fatalf("first schedule: %v", err)
	}
	second, err := svc.ScheduleTask(ctx, req)
	if err != nil {
		t.Fatalf("second schedule: %v", err)
	}

	if env.countEvents(t) != 1 {
		t.Fatalf("expected exactly one event, got %d", env.countEvents(t))
	}
	if first.ID != second.ID || !first.StartsAt.Equal(second.StartsAt) || !first.End().Equal(second.End()) {
		t.Fatalf("second call changed the event: %#v vs %#v", first, second)
	}
	want := time.Date(2024, 5, 1, 14, 0, 0, 0, time.UTC)
	if !second.StartsAt.Equal(want) || !second.End().Equal(want.Add(time.Hour)) {
		t.Fatalf("unexpected interval %s - %s", second.StartsAt, second.End())
	}
	if second.Status != model.StatusScheduled || second.IsRecurring() {
		t.Fatalf("unexpected event state: %#v", second)
	}

	stored, err := env.store.Tasks.Get(ctx, task.ID)
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	if stored.ScheduledDate != "2024-05-01" || stored.ScheduledTime != "14:00" {
		t.Fatalf("denormalized fields not updated: %q %q", stored.ScheduledDate, stored.ScheduledTime)
	}
}

func TestScheduleTaskDefaults(t *testing.T) {
	env := setupEnv(t)
	svc := env.events()
	ctx := context.Background()

	estimated := env.task(t, 1, "Estimated", func(task *model.Task) { task.EstimatedMinutes = 25 })
	ev, err := svc.ScheduleTask(ctx, ScheduleRequest{UserID: 1, TaskID: estimated.ID, Date: "2024-05-02"})
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}
	if ev.StartsAt.Hour() != 9 || ev.StartsAt.Minute() != 0 {
		t.Fatalf("expected default 09:00 start, got %s", ev.StartsAt)
	}
	if ev.DurationMinutes != 25 {
		t.Fatalf("expected estimate as duration, got %d", ev.DurationMinutes)
	}

	plain := env.task(t, 1, "Plain", nil)
	ev, err = svc.ScheduleTask(ctx, ScheduleRequest{UserID: 1, TaskID: plain.ID, Date: "2024-05-02", Time: "11:30"})
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}
	if ev.DurationMinutes != 60 {
		t.Fatalf("expected default duration, got %d", ev.DurationMinutes)
	}
}

func TestScheduleTaskRecurringUsesTaskInterval(t *testing.T) {
	env := setupEnv(t)
	svc := env.events()
	ctx := context.Background()
	task := env.task(t, 1, "Payroll", func(task *model.Task) {
		task.RecurrenceInterval = model.IntervalBiMonthly
	})

	ev, err := svc.ScheduleTask(ctx, ScheduleRequest{UserID: 1, TaskID: task.ID, Date: "2024-05-01", Time: "10:00", IsRecurring: true})
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}
	spec, err := ev.RecurrenceSpec()
	if err != nil || spec == nil {
		t.Fatalf("expected recurrence, got %v %v", spec, err)
	}
	if spec.Frequency != recurrence.BiWeekly {
		t.Fatalf("expected bi-weekly frequency, got %q", spec.Frequency)
	}

	stored, err := env.store.Tasks.Get(ctx, task.ID)
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	if !stored.IsRecurring {
		t.Fatal("expected task to be flagged recurring")
	}
}

func TestScheduleTaskErrors(t *testing.T) {
	env := setupEnv(t)
	svc := env.events()
	ctx := context.Background()
	task := env.task(t, 1, "No interval", nil)

	cases := []struct {
		name   string
		req    ScheduleRequest
		target error
	}{
		{"bad date", ScheduleRequest{UserID: 1, TaskID: task.ID, Date: "01.05.2024"}, ErrInvalidSchedule},
		{"bad time", ScheduleRequest{UserID: 1, TaskID: task.ID, Date: "2024-05-01", Time: "25:00"}, ErrInvalidSchedule},
		{"negative duration", ScheduleRequest{UserID: 1, TaskID: task.ID, Date: "2024-05-01", DurationMinutes: -5}, ErrInvalidSchedule},
		{"missing task", ScheduleRequest{UserID: 1, TaskID: 999, Date: "2024-05-01"}, repository.ErrNotFound},
		{"other user", ScheduleRequest{UserID: 2, TaskID: task.ID, Date: "2024-05-01"}, repository.ErrNotFound},
		{"recurring without interval", ScheduleRequest{UserID: 1, TaskID: task.ID, Date: "2024-05-01", IsRecurring: true}, recurrence.ErrInvalidRecurrenceKind},
	}
	for _, tc := range cases {
		if _, err := svc.ScheduleTask(ctx, tc.req); !errors.Is(err, tc.target) {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.target, err)
		}
	}
	if env.countEvents(t) != 0 {
		t.Fatalf("failed calls must not leave events behind")
	}
}

func TestUnscheduleThenReschedule(t *testing.T) {
	env := setupEnv(t)
	svc := env.events()
	ctx := context.Background()
	task := env.task(t, 1, "T2", nil)

	if err := svc.Unschedule(ctx, 1, task.ID); err != nil {
		t.Fatalf("unschedule without event should succeed, got %v", err)
	}
	if _, err := svc.ScheduleTask(ctx, ScheduleRequest{UserID: 1, TaskID: task.ID, Date: "2024-05-03", Time: "08:00"}); err != nil {
		t.Fatalf("schedule: %v", err)
	}
	if n := env.countEvents(t); n != 1 {
		t.Fatalf("expected one event, got %d", n)
	}

	if err := svc.Unschedule(ctx, 1, task.ID); err != nil {
		t.Fatalf("unschedule: %v", err)
	}
	if n := env.countEvents(t); n != 0 {
		t.Fatalf("expected event to be removed, got %d", n)
	}
	stored, err := env.store.Tasks.Get(ctx, task.ID)
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	if stored.ScheduledDate != "" || stored.ScheduledTime != "" {
		t.Fatalf("expected schedule fields cleared, got %q %q", stored.ScheduledDate, stored.ScheduledTime)
	}
}

func TestCompleteEvent(t *testing.T) {
	env := setupEnv(t)
	svc := env.events()
	ctx := context.Background()
	task := env.task(t, 1, "Gym", nil)

	ev, err := svc.ScheduleTask(ctx, ScheduleRequest{UserID: 1, TaskID: task.ID, Date: "2024-05-01", Time: "07:00", DurationMinutes: 45})
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}

	done, err := svc.CompleteEvent(ctx, 1, ev.ID)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if done.Status != model.StatusCompleted || done.CompletedAt == nil || !done.CompletedAt.Equal(env.now) {
		t.Fatalf("unexpected completed event: %#v", done)
	}
	stored, err := env.store.Tasks.Get(ctx, task.ID)
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	if !stored.IsCompleted || stored.LastCompletedAt == nil || !stored.LastCompletedAt.Equal(env.now) {
		t.Fatalf("task not completed: %#v", stored)
	}

	env.now = env.now.Add(time.Hour)
	again, err := svc.CompleteEvent(ctx, 1, ev.ID)
	if err != nil {
		t.Fatalf("second complete should be idempotent, got %v", err)
	}
	if !again.CompletedAt.Equal(*done.CompletedAt) {
		t.Fatalf("second complete changed completedAt: %s", again.CompletedAt)
	}

	if _, err := svc.CompleteEvent(ctx, 1, "missing"); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for missing event, got %v", err)
	}
	if _, err := svc.CompleteEvent(ctx, 2, ev.ID); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for another user's event, got %v", err)
	}
}

func TestCompleteCancelledEventIsNotFound(t *testing.T) {
	env := setupEnv(t)
	svc := env.events()
	ctx := context.Background()
	task := env.task(t, 1, "Cancelled", nil)

	ev, err := env.store.Events.Upsert(ctx, &model.TimeEvent{
		UserID: 1, EntityType: model.EntityTask, EntityID: task.ID,
		StartsAt: env.now, DurationMinutes: 30, Status: model.StatusCancelled,
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, err := svc.CompleteEvent(ctx, 1, ev.ID); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRescheduleEventKeepsDurationAndRecurrence(t *testing.T) {
	env := setupEnv(t)
	svc := env.events()
	ctx := context.Background()
	task := env.task(t, 1, "Standup", func(task *model.Task) { task.RecurrenceInterval = model.IntervalDaily })

	ev, err := svc.ScheduleTask(ctx, ScheduleRequest{UserID: 1, TaskID: task.ID, Date: "2024-05-01", Time: "09:30", DurationMinutes: 15, IsRecurring: true})
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}

	moved, err := svc.RescheduleEvent(ctx, 1, ev.ID, time.Date(2024, 5, 6, 0, 0, 0, 0, time.UTC), "10:00")
	if err != nil {
		t.Fatalf("reschedule: %v", err)
	}
	want := time.Date(2024, 5, 6, 10, 0, 0, 0, time.UTC)
	if !moved.StartsAt.Equal(want) || moved.Duration() != 15*time.Minute {
		t.Fatalf("unexpected interval %s (%s)", moved.StartsAt, moved.Duration())
	}
	if !moved.IsRecurring() || moved.Status != model.StatusScheduled || moved.ID != ev.ID {
		t.Fatalf("reschedule altered the event: %#v", moved)
	}

	kept, err := svc.RescheduleEvent(ctx, 1, ev.ID, time.Date(2024, 5, 7, 16, 45, 0, 0, time.UTC), "")
	if err != nil {
		t.Fatalf("reschedule without time: %v", err)
	}
	if kept.StartsAt.Hour() != 16 || kept.StartsAt.Minute() != 45 {
		t.Fatalf("expected clock from newStart, got %s", kept.StartsAt)
	}

	stored, err := env.store.Tasks.Get(ctx, task.ID)
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	if stored.ScheduledDate != "2024-05-07" || stored.ScheduledTime != "16:45" {
		t.Fatalf("denormalized fields not updated: %q %q", stored.ScheduledDate, stored.ScheduledTime)
	}

	if _, err := svc.RescheduleEvent(ctx, 1, "missing", want, ""); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := svc.RescheduleEvent(ctx, 1, ev.ID, want, "9am"); !errors.Is(err, ErrInvalidSchedule) {
		t.Fatalf("expected ErrInvalidSchedule, got %v", err)
	}
}

func TestFindConflictsExpandsRecurringEvents(t *testing.T) {
	env := setupEnv(t)
	svc := env.events()
	ctx := context.Background()

	daily := env.task(t, 1, "Daily sync", func(task *model.Task) { task.RecurrenceInterval = model.IntervalDaily })
	if _, err := svc.ScheduleTask(ctx, ScheduleRequest{UserID: 1, TaskID: daily.ID, Date: "2024-04-01", Time: "14:00", DurationMinutes: 60, IsRecurring: true}); err != nil {
		t.Fatalf("schedule: %v", err)
	}

	candidate := model.TimeEvent{UserID: 1, StartsAt: time.Date(2024, 5, 1, 14, 30, 0, 0, time.UTC), DurationMinutes: 60}
	conflicts, err := svc.FindConflicts(ctx, candidate)
	if err != nil {
		t.Fatalf("find conflicts: %v", err)
	}
	if len(conflicts) != 1 || conflicts[0].EntityID != daily.ID {
		t.Fatalf("expected the daily series to conflict, got %#v", conflicts)
	}
	if !conflicts[0].StartsAt.Equal(time.Date(2024, 5, 1, 14, 0, 0, 0, time.UTC)) {
		t.Fatalf("expected the projected occurrence start, got %s", conflicts[0].StartsAt)
	}

	candidate.StartsAt = time.Date(2024, 5, 1, 15, 0, 0, 0, time.UTC)
	conflicts, err = svc.FindConflicts(ctx, candidate)
	if err != nil {
		t.Fatalf("find conflicts: %v", err)
	}
	if len(conflicts) != 0 {
		t.Fatalf("back-to-back slot must not conflict, got %#v", conflicts)
	}

	if _, err := svc.FindConflicts(ctx, model.TimeEvent{UserID: 1, StartsAt: candidate.StartsAt}); !errors.Is(err, ErrInvalidSchedule) {
		t.Fatalf("expected ErrInvalidSchedule for empty interval, got %v", err)
	}
}

func TestFindConflictsStepsOnLocalCalendar(t *testing.T) {
	loc := berlin(t)
	env := setupEnv(t)
	svc := env.eventsIn(loc)
	ctx := context.Background()

	standup := env.task(t, 1, "Standup", func(task *model.Task) { task.RecurrenceInterval = model.IntervalDaily })
	rent := env.task(t, 1, "Rent", func(task *model.Task) { task.RecurrenceInterval = model.IntervalMonthly })
	if _, err := svc.ScheduleTask(ctx, ScheduleRequest{UserID: 1, TaskID: standup.ID, Date: "2024-03-29", Time: "14:00", DurationMinutes: 60, IsRecurring: true}); err != nil {
		t.Fatalf("schedule standup: %v", err)
	}
	if _, err := svc.ScheduleTask(ctx, ScheduleRequest{UserID: 1, TaskID: rent.ID, Date: "2024-03-31", Time: "00:30", DurationMinutes: 60, IsRecurring: true}); err != nil {
		t.Fatalf("schedule rent: %v", err)
	}

	// Summer time started on 2024-03-31; the standup stays at 14:00 local.
	candidate := model.TimeEvent{UserID: 1, StartsAt: time.Date(2024, 4, 2, 14, 0, 0, 0, loc), DurationMinutes: 30}
	conflicts, err := svc.FindConflicts(ctx, candidate)
	if err != nil {
		t.Fatalf("find conflicts: %v", err)
	}
	if len(conflicts) != 1 || conflicts[0].EntityID != standup.ID {
		t.Fatalf("expected the standup to conflict, got %#v", conflicts)
	}
	if !conflicts[0].StartsAt.Equal(time.Date(2024, 4, 2, 14, 0, 0, 0, loc)) {
		t.Fatalf("expected 14:00 local, got %s", conflicts[0].StartsAt.In(loc))
	}

	candidate.StartsAt = time.Date(2024, 4, 2, 15, 0, 0, 0, loc)
	if conflicts, err = svc.FindConflicts(ctx, candidate); err != nil || len(conflicts) != 0 {
		t.Fatalf("slot after the standup must be free, got %#v, %v", conflicts, err)
	}

	// March 31 clips to April 30 on the local calendar.
	candidate.StartsAt = time.Date(2024, 4, 30, 0, 45, 0, 0, loc)
	conflicts, err = svc.FindConflicts(ctx, candidate)
	if err != nil {
		t.Fatalf("find conflicts: %v", err)
	}
	if len(conflicts) != 1 || conflicts[0].EntityID != rent.ID {
		t.Fatalf("expected the April rent to conflict, got %#v", conflicts)
	}
}

func TestScheduleTaskReopensCompletedTask(t *testing.T) {
	env := setupEnv(t)
	svc := env.events()
	ctx := context.Background()
	task := env.task(t, 1, "Dentist", nil)

	ev, err := svc.ScheduleTask(ctx, ScheduleRequest{UserID: 1, TaskID: task.ID, Date: "2024-05-01", Time: "10:00"})
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}
	if _, err := svc.CompleteEvent(ctx, 1, ev.ID); err != nil {
		t.Fatalf("complete: %v", err)
	}

	again, err := svc.ScheduleTask(ctx, ScheduleRequest{UserID: 1, TaskID: task.ID, Date: "2024-06-03", Time: "11:30"})
	if err != nil {
		t.Fatalf("reschedule: %v", err)
	}
	if again.ID != ev.ID || again.Status != model.StatusScheduled {
		t.Fatalf("expected the same event back to scheduled, got %#v", again)
	}

	stored, err := env.store.Tasks.Get(ctx, task.ID)
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	if stored.IsCompleted {
		t.Fatal("scheduling a completed task must reopen it")
	}
	if stored.ScheduledDate != "2024-06-03" || stored.ScheduledTime != "11:30" {
		t.Fatalf("schedule not mirrored: %s %s", stored.ScheduledDate, stored.ScheduledTime)
	}
}

func TestSyncRecurrenceLifecycle(t *testing.T) {
	env := setupEnv(t)
	svc := env.events()
	ctx := context.Background()

	floating := env.task(t, 1, "Floating", func(task *model.Task) {
		task.IsRecurring = true
		task.RecurrenceInterval = model.IntervalWeekly
	})
	ev, err := svc.SyncRecurrence(ctx, 1, floating.ID)
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if ev == nil || !ev.IsRecurring() {
		t.Fatalf("expected a recurring event, got %#v", ev)
	}
	if !ev.StartsAt.Equal(time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)) {
		t.Fatalf("expected today at the default time, got %s", ev.StartsAt)
	}

	if err := env.store.Tasks.SetRecurring(ctx, floating.ID, false, ""); err != nil {
		t.Fatalf("unset recurring: %v", err)
	}
	ev, err = svc.SyncRecurrence(ctx, 1, floating.ID)
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if ev != nil || env.countEvents(t) != 0 {
		t.Fatalf("expected the unscheduled series to be deleted, got %#v", ev)
	}

	pinned := env.task(t, 1, "Pinned", func(task *model.Task) { task.RecurrenceInterval = model.IntervalMonthly })
	if _, err := svc.ScheduleTask(ctx, ScheduleRequest{UserID: 1, TaskID: pinned.ID, Date: "2024-05-10", Time: "12:00", IsRecurring: true}); err != nil {
		t.Fatalf("schedule: %v", err)
	}
	if err := env.store.Tasks.SetRecurring(ctx, pinned.ID, false, ""); err != nil {
		t.Fatalf("unset recurring: %v", err)
	}
	ev, err = svc.SyncRecurrence(ctx, 1, pinned.ID)
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if ev == nil || ev.IsRecurring() {
		t.Fatalf("expected a one-off event to remain, got %#v", ev)
	}
}
