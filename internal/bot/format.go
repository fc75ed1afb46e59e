package bot

import (
	"errors"
	"fmt"
	"html"
	"strconv"
	"strings"
	"time"
	"unicode"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"timeplanner/internal/model"
	"timeplanner/internal/recurrence"
	"timeplanner/internal/repository"
	"timeplanner/internal/service"
)

const (
	dateLayout  = "2006-01-02"
	clockLayout = "15:04"
)

var errUsage = errors.New("usage: /schedule <id> <YYYY-MM-DD> [HH:MM] [minutes] [repeat]")

// scheduleArgs is the parsed tail of /schedule and /reschedule.
type scheduleArgs struct {
	taskID    uint
	date      string
	clock     string
	minutes   int
	recurring bool
}

// parseScheduleArgs reads "<id> <date> [HH:MM] [minutes] [repeat]". The
// optional parts may come in any order.
func parseScheduleArgs(raw string) (scheduleArgs, error) {
	fields := strings.Fields(raw)
	if len(fields) < 2 {
		return scheduleArgs{}, errUsage
	}

	var args scheduleArgs
	id, err := parseTaskArg(fields[0])
	if err != nil {
		return scheduleArgs{}, fmt.Errorf("task id %q is not a number", fields[0])
	}
	args.taskID = id

	if _, err := time.Parse(dateLayout, fields[1]); err != nil {
		return scheduleArgs{}, fmt.Errorf("date %q must look like 2025-11-30", fields[1])
	}
	args.date = fields[1]

	for _, field := range fields[2:] {
		lower := strings.ToLower(field)
		switch {
		case lower == "repeat" || lower == "r" || lower == "recurring":
			args.recurring = true
		case strings.Contains(field, ":"):
			if _, err := time.Parse(clockLayout, field); err != nil {
				return scheduleArgs{}, fmt.Errorf("time %q must look like 09:30", field)
			}
			args.clock = field
		default:
			minutes, err := strconv.Atoi(field)
			if err != nil || minutes <= 0 {
				return scheduleArgs{}, fmt.Errorf("duration %q must be a positive number of minutes", field)
			}
			args.minutes = minutes
		}
	}
	return args, nil
}

func parseTaskArg(raw string) (uint, error) {
	return parseTaskID(strings.TrimSpace(raw), "")
}

func parseTaskID(data, prefix string) (uint, error) {
	raw := strings.TrimPrefix(data, prefix)
	value, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, err
	}
	if value == 0 {
		return 0, strconv.ErrRange
	}
	return uint(value), nil
}

func parseInterval(text string) (model.RecurrenceInterval, bool) {
	switch strings.TrimSpace(strings.ToLower(text)) {
	case "daily", "day":
		return model.IntervalDaily, true
	case "weekly", "week":
		return model.IntervalWeekly, true
	case "bi-monthly", "bimonthly", "biweekly", "bi-weekly":
		return model.IntervalBiMonthly, true
	case "monthly", "month":
		return model.IntervalMonthly, true
	default:
		return "", false
	}
}

type answer int

const (
	answerUnknown answer = iota
	answerYes
	answerNo
)

func parseYesNo(text string) answer {
	switch strings.TrimSpace(strings.ToLower(text)) {
	case strings.ToLower(btnYes), "y":
		return answerYes
	case strings.ToLower(btnNo), "n", "-":
		return answerNo
	default:
		return answerUnknown
	}
}

func isOffInput(text string) bool {
	value := strings.TrimSpace(strings.ToLower(text))
	return value == "off" || value == "none" || value == "no"
}

func isSkipInput(text string) bool {
	value := strings.TrimSpace(strings.ToLower(text))
	return value == "-" || value == strings.ToLower(btnSkip) || value == "skip"
}

func isConfirmInput(text string) bool {
	value := strings.TrimSpace(strings.ToLower(text))
	return value == strings.ToLower(btnConfirm) || value == "confirm" || value == "yes"
}

func isCancelInput(text string) bool {
	value := strings.TrimSpace(strings.ToLower(text))
	return value == strings.ToLower(btnCancel) || value == "cancel"
}

func isCancelDialogInput(text string) bool {
	value := strings.TrimSpace(strings.ToLower(text))
	return value == strings.ToLower(btnCancelDialog) || value == "stop"
}

// userMessage turns a service error into a chat reply.
func userMessage(err error) string {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return "Task not found."
	case errors.Is(err, service.ErrTitleRequired):
		return "The task needs a title."
	case errors.Is(err, service.ErrInvalidSchedule):
		return "Check the date, time and duration: " + escape(err.Error())
	case errors.Is(err, recurrence.ErrInvalidRecurrenceKind), errors.Is(err, recurrence.ErrInvalidInterval):
		return "This task has no valid repeat interval. Set one with /repeat first."
	case errors.Is(err, repository.ErrStoreUnavailable):
		return "The planner is unavailable right now. Try again later."
	default:
		return "Error: " + escape(err.Error())
	}
}

func completedText(task *model.Task) string {
	title := escape(normalizeTitle(task.Title))
	if task.IsRecurring {
		return fmt.Sprintf("%s \"%s\" is done. It comes back at its next occurrence.", iconRecurring, title)
	}
	return fmt.Sprintf("✅ \"%s\" is done.", title)
}

func alreadyDoneText(task model.Task) string {
	if task.IsRecurring {
		return "This recurring task is already done. It comes back at its next occurrence."
	}
	return "This task is already done."
}

func scheduledText(ev model.TimeEvent, conflicts []model.TimeEvent, loc *time.Location) string {
	var b strings.Builder
	start := ev.StartsAt.In(loc)
	b.WriteString(fmt.Sprintf("📅 Task #%d: %s %s–%s", ev.EntityID, start.Format(dateLayout), start.Format(clockLayout), ev.End().In(loc).Format(clockLayout)))
	if ev.IsRecurring() {
		b.WriteString(" " + iconRecurring)
	}
	for i, c := range conflicts {
		if i == 0 {
			b.WriteString("\n⚠️ <b>Overlaps with</b>")
		}
		b.WriteString(fmt.Sprintf("\n• %s #%d %s–%s", c.EntityType, c.EntityID, c.StartsAt.In(loc).Format("2006-01-02 15:04"), c.End().In(loc).Format(clockLayout)))
	}
	return b.String()
}

func confirmKeyboard() tgbotapi.ReplyKeyboardMarkup {
	kb := tgbotapi.NewReplyKeyboard(
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton(btnConfirm),
			tgbotapi.NewKeyboardButton(btnCancel),
			tgbotapi.NewKeyboardButton(btnCancelDialog),
		),
	)
	kb.ResizeKeyboard = true
	kb.OneTimeKeyboard = true
	return kb
}

func mainMenuKeyboard() tgbotapi.ReplyKeyboardMarkup {
	kb := tgbotapi.NewReplyKeyboard(
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton(menuLabelNewTask),
			tgbotapi.NewKeyboardButton(menuLabelTasks),
			tgbotapi.NewKeyboardButton(menuLabelAgenda),
		),
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton(menuLabelCategories),
			tgbotapi.NewKeyboardButton(menuLabelHelp),
		),
	)
	kb.ResizeKeyboard = true
	return kb
}

func cancelKeyboard() tgbotapi.ReplyKeyboardMarkup {
	kb := tgbotapi.NewReplyKeyboard(
		tgbotapi.NewKeyboardButtonRow(tgbotapi.NewKeyboardButton(btnCancelDialog)),
	)
	kb.ResizeKeyboard = true
	kb.OneTimeKeyboard = true
	return kb
}

func skipKeyboard() tgbotapi.ReplyKeyboardMarkup {
	kb := tgbotapi.NewReplyKeyboard(
		tgbotapi.NewKeyboardButtonRow(tgbotapi.NewKeyboardButton(btnSkip)),
		tgbotapi.NewKeyboardButtonRow(tgbotapi.NewKeyboardButton(btnCancelDialog)),
	)
	kb.ResizeKeyboard = true
	kb.OneTimeKeyboard = true
	return kb
}

func yesNoKeyboard() tgbotapi.ReplyKeyboardMarkup {
	kb := tgbotapi.NewReplyKeyboard(
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton(btnYes),
			tgbotapi.NewKeyboardButton(btnNo),
			tgbotapi.NewKeyboardButton(btnCancelDialog),
		),
	)
	kb.ResizeKeyboard = true
	kb.OneTimeKeyboard = true
	return kb
}

func intervalKeyboard() tgbotapi.ReplyKeyboardMarkup {
	kb := tgbotapi.NewReplyKeyboard(
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton(string(model.IntervalDaily)),
			tgbotapi.NewKeyboardButton(string(model.IntervalWeekly)),
		),
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton(string(model.IntervalBiMonthly)),
			tgbotapi.NewKeyboardButton(string(model.IntervalMonthly)),
		),
		tgbotapi.NewKeyboardButtonRow(tgbotapi.NewKeyboardButton(btnCancelDialog)),
	)
	kb.ResizeKeyboard = true
	kb.OneTimeKeyboard = true
	return kb
}

func categoryKeyboard() tgbotapi.ReplyKeyboardMarkup {
	kb := tgbotapi.NewReplyKeyboard(
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton("Study"),
			tgbotapi.NewKeyboardButton("Work"),
		),
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton("Shopping"),
			tgbotapi.NewKeyboardButton("Health"),
		),
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton(btnSkip),
			tgbotapi.NewKeyboardButton(btnCancelDialog),
		),
	)
	kb.ResizeKeyboard = true
	kb.OneTimeKeyboard = true
	return kb
}

func escape(s string) string {
	return html.EscapeString(s)
}

func normalizedCategory(categoryID *uint, catNames map[uint]string) (string, string) {
	if categoryID == nil {
		return noCategoryKey, categoryLabel(noCategory)
	}
	name := strings.TrimSpace(catNames[*categoryID])
	if name == "" {
		return noCategoryKey, categoryLabel(noCategory)
	}
	return strings.ToLower(name), categoryLabel(name)
}

func formatTask(task model.Task, now time.Time) string {
	var b strings.Builder
	icon := iconDefault
	if task.Deadline != nil {
		d := task.Deadline.In(now.Location())
		if now.After(d) {
			icon = iconOverdue
		} else if d.Sub(now) <= 48*time.Hour {
			icon = iconDue
		}
	}
	b.WriteString(fmt.Sprintf("%s <b>#%d</b> %s\n", icon, task.ID, escape(normalizeTitle(task.Title))))
	if task.ScheduledDate != "" {
		b.WriteString(fmt.Sprintf("   📅 %s %s\n", task.ScheduledDate, task.ScheduledTime))
	}
	if task.Deadline != nil {
		d := task.Deadline.In(now.Location())
		if now.After(d) {
			b.WriteString(fmt.Sprintf("   ⏰ Deadline %s, <b>overdue</b>\n", d.Format(dateLayout)))
		} else {
			daysLeft := int(d.Sub(now).Hours()/24) + 1
			b.WriteString(fmt.Sprintf("   ⏰ Deadline %s · ≈%d day(s) left\n", d.Format(dateLayout), daysLeft))
		}
	}
	if task.Description != "" {
		b.WriteString(fmt.Sprintf("   📝 %s\n", escape(task.Description)))
	}
	b.WriteByte('\n')
	return b.String()
}

func formatRecurringTask(task model.Task, now time.Time) string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("%s <b>#%d</b> %s\n", iconRecurring, task.ID, escape(normalizeTitle(task.Title))))

	interval := task.RecurrenceInterval
	if interval == "" {
		interval = model.IntervalWeekly
	}
	b.WriteString(fmt.Sprintf("   🔄 Repeats %s", interval))
	if task.ScheduledDate != "" {
		b.WriteString(fmt.Sprintf(" · 📅 %s %s", task.ScheduledDate, task.ScheduledTime))
	}
	b.WriteByte('\n')

	switch {
	case task.IsCompleted && task.LastCompletedAt != nil:
		last := task.LastCompletedAt.In(now.Location())
		b.WriteString(fmt.Sprintf("   ✅ Done %s", last.Format(dateLayout)))
		if next, ok := nextOccurrence(interval, last); ok {
			b.WriteString(fmt.Sprintf(", back on %s", next.Format(dateLayout)))
		}
		b.WriteByte('\n')
	case task.LastCompletedAt != nil:
		b.WriteString(fmt.Sprintf("   ✅ Last done %s\n", task.LastCompletedAt.In(now.Location()).Format(dateLayout)))
	default:
		b.WriteString("   ✅ Not done yet\n")
	}
	b.WriteByte('\n')
	return b.String()
}

func nextOccurrence(interval model.RecurrenceInterval, last time.Time) (time.Time, bool) {
	spec, err := recurrence.FromTaskInterval(string(interval))
	if err != nil {
		return time.Time{}, false
	}
	next, err := recurrence.Next(last, spec)
	if err != nil {
		return time.Time{}, false
	}
	return next, true
}

func normalizeTitle(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return value
	}
	runes := []rune(value)
	runes[0] = unicode.ToUpper(runes[0])
	return string(runes)
}

func shortTitle(title string, maxLen int) string {
	clean := normalizeTitle(strings.ReplaceAll(title, "\n", " "))
	runes := []rune(clean)
	if len(runes) <= maxLen {
		return clean
	}
	if maxLen <= 1 {
		return string(runes[:maxLen])
	}
	return string(runes[:maxLen-1]) + "…"
}

func categoryLabel(name string) string {
	base := strings.TrimSpace(name)
	var icon string
	switch strings.ToLower(base) {
	case "study":
		icon = "🎓"
	case "work":
		icon = "💼"
	case "shopping":
		icon = "🛒"
	case "health":
		icon = "🩺"
	case "personal":
		icon = "🧩"
	case strings.ToLower(noCategory):
		icon = "📁"
	default:
		icon = "🏷️"
	}
	return fmt.Sprintf("%s %s", icon, escape(normalizeTitle(base)))
}
