package service

import (
	"context"
	"fmt"
	"html"
	"sort"
	"strings"
	"time"

	"timeplanner/internal/model"
	"timeplanner/internal/repository"
)

// ReminderService builds human-readable summaries for daily notifications.
type ReminderService struct {
	store       *repository.Store
	occurrences *OccurrenceService
	loc         *time.Location
}

func NewReminderService(store *repository.Store, occurrences *OccurrenceService, loc *time.Location) *ReminderService {
	if loc == nil {
		loc = time.Local
	}
	return &ReminderService{store: store, occurrences: occurrences, loc: loc}
}

// DailySummary lists today's calendar followed by open unscheduled tasks.
// The text uses Telegram HTML markup.
func (s *ReminderService) DailySummary(ctx context.Context, user model.User, now time.Time) (string, error) {
	now = now.In(s.loc)
	day := startOfDay(now)

	agenda, err := s.occurrences.List(ctx, user.ID, day, day.AddDate(0, 0, 1))
	if err != nil {
		return "", err
	}
	tasks, err := s.store.Tasks.ListActiveOrRecurring(ctx, user.ID)
	if err != nil {
		return "", err
	}
	catNames, err := s.store.Categories.NamesByUser(ctx, user.ID)
	if err != nil {
		return "", err
	}

	var pending []model.Task
	for _, task := range tasks {
		if !task.IsCompleted && task.ScheduledDate == "" {
			pending = append(pending, task)
		}
	}
	sort.SliceStable(pending, func(i, j int) bool {
		switch {
		case pending[i].Deadline == nil && pending[j].Deadline == nil:
			return pending[i].CreatedAt.After(pending[j].CreatedAt)
		case pending[i].Deadline == nil:
			return false
		case pending[j].Deadline == nil:
			return true
		default:
			return pending[i].Deadline.Before(*pending[j].Deadline)
		}
	})

	var builder strings.Builder
	builder.WriteString("📋 <b>Daily agenda</b>\n")
	builder.WriteString(fmt.Sprintf("🗓 %s\n\n", now.Format("Mon, 02 Jan 2006")))

	builder.WriteString("🕘 <b>Today</b>\n")
	if len(agenda) == 0 {
		builder.WriteString("— nothing scheduled\n")
	} else {
		for _, occ := range agenda {
			builder.WriteString(formatOccurrence(occ))
		}
	}

	builder.WriteString("\n🔥 <b>Unscheduled tasks</b>\n")
	if len(pending) == 0 {
		builder.WriteString("— no open tasks\n")
	} else {
		for _, task := range pending {
			builder.WriteString(formatTask(task, catNames, now))
		}
	}

	return strings.TrimSpace(builder.String()), nil
}

func formatOccurrence(occ Occurrence) string {
	var sb strings.Builder

	icon := "🟢"
	switch occ.Status {
	case OccurrenceCompleted:
		icon = "✅"
	case OccurrenceOverdue:
		icon = "⚠️"
	}
	sb.WriteString(fmt.Sprintf("%s %s–%s %s", icon, occ.StartsAt.Format("15:04"), occ.EndsAt.Format("15:04"),
		html.EscapeString(strings.TrimSpace(occ.Title))))
	if occ.Category != "" {
		sb.WriteString(fmt.Sprintf(" <i>(%s)</i>", html.EscapeString(occ.Category)))
	}
	if occ.Recurring {
		sb.WriteString(" ♻️")
	}
	sb.WriteString(fmt.Sprintf("\n   #%d", occ.TaskID))

	sb.WriteByte('\n')
	return sb.String()
}

func formatTask(task model.Task, catNames map[uint]string, now time.Time) string {
	var sb strings.Builder

	icon := "🟢"
	if task.Deadline != nil {
		d := task.Deadline.In(now.Location())
		switch {
		case now.After(d):
			icon = "⚠️"
		case d.Sub(now) <= 48*time.Hour:
			icon = "⏳"
		}
	}

	title := html.EscapeString(strings.TrimSpace(task.Title))
	sb.WriteString(fmt.Sprintf("%s #%d %s", icon, task.ID, title))

	if task.CategoryID != nil {
		if name, ok := catNames[*task.CategoryID]; ok {
			trimmed := strings.TrimSpace(name)
			if trimmed != "" {
				sb.WriteString(fmt.Sprintf(" <i>(%s)</i>", html.EscapeString(trimmed)))
			}
		}
	}

	if task.Deadline != nil {
		d := task.Deadline.In(now.Location())
		if now.After(d) {
			sb.WriteString(fmt.Sprintf("\n   ⏰ due %s, <b>overdue</b>", d.Format("2006-01-02")))
		} else {
			daysLeft := int(d.Sub(now).Hours()/24) + 1
			sb.WriteString(fmt.Sprintf("\n   ⏰ due %s · ≈%d day(s) left", d.Format("2006-01-02"), daysLeft))
		}
	}
	if task.IsRecurring {
		sb.WriteString(fmt.Sprintf("\n   ♻️ repeats %s", task.RecurrenceInterval))
	}

	if task.Description != "" {
		sb.WriteString(fmt.Sprintf("\n   📝 %s", html.EscapeString(strings.TrimSpace(task.Description))))
	}

	sb.WriteByte('\n')
	return sb.String()
}
