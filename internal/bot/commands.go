package bot

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"timeplanner/internal/model"
	"timeplanner/internal/repository"
	"timeplanner/internal/service"
)

const helpText = "ℹ️ <b>Commands</b>\n" +
	"• /newtask · add a task step by step\n" +
	"• /tasks · open tasks with complete buttons\n" +
	"• /agenda · today's calendar and unscheduled tasks\n" +
	"• /schedule &lt;id&gt; &lt;YYYY-MM-DD&gt; [HH:MM] [minutes] [repeat] · put a task on the calendar\n" +
	"• /reschedule &lt;id&gt; &lt;YYYY-MM-DD&gt; [HH:MM] · move a scheduled task\n" +
	"• /unschedule &lt;id&gt; · take a task off the calendar\n" +
	"• /repeat &lt;id&gt; &lt;daily|weekly|bi-monthly|monthly|off&gt; · change how a task repeats\n" +
	"• /complete &lt;id&gt; · mark a task done\n" +
	"• /delete &lt;id&gt; · delete a task and its calendar entry\n" +
	"• /sweep · bring back recurring tasks that are due\n" +
	"• /categories · categories and open task counts\n" +
	"• /cancel · stop the current input"

func (b *Bot) handleStart(ctx context.Context, msg *tgbotapi.Message) error {
	user, err := b.ensureUser(ctx, msg.From)
	if err != nil {
		return err
	}

	name := strings.TrimSpace(msg.From.FirstName)
	if name == "" {
		name = "there"
	}

	var text strings.Builder
	text.WriteString(fmt.Sprintf("👋 Hi, %s!\n<b>I keep your tasks and your calendar in step.</b>\n\n", escape(name)))

	res, err := b.sessionSvc.StartSession(ctx, user.ID, sessionClient)
	if err != nil {
		b.log.Warnw("session sweep failed", "userID", user.ID, "error", err)
	} else if res.Reactivated > 0 {
		text.WriteString(fmt.Sprintf("%s %d recurring task(s) are back on your list.\n\n", iconRecurring, res.Reactivated))
	}
	text.WriteString(helpText)
	return b.sendText(msg.Chat.ID, text.String())
}

func (b *Bot) handleHelp(msg *tgbotapi.Message) error {
	return b.sendText(msg.Chat.ID, helpText)
}

func (b *Bot) handleAgenda(ctx context.Context, msg *tgbotapi.Message) error {
	user, err := b.ensureUser(ctx, msg.From)
	if err != nil {
		return err
	}
	text, err := b.reminderSvc.DailySummary(ctx, *user, time.Now())
	if err != nil {
		return b.sendText(msg.Chat.ID, fmt.Sprintf("Could not build the agenda: %s", escape(err.Error())))
	}
	return b.sendText(msg.Chat.ID, text)
}

func (b *Bot) startNewTaskConversation(ctx context.Context, msg *tgbotapi.Message) error {
	if _, err := b.ensureUser(ctx, msg.From); err != nil {
		return err
	}
	b.log.Infow("start new task conversation", "from", msg.From.ID)
	b.setConversation(msg.From.ID, &conversationState{stage: stageTitle})
	return b.sendWithReplyMarkup(msg.Chat.ID, "🆕 New task.\n<b>Step 1:</b> what should it be called?", cancelKeyboard())
}

func (b *Bot) handleConversation(ctx context.Context, msg *tgbotapi.Message) error {
	state := b.getConversation(msg.From.ID)
	if state == nil {
		return nil
	}

	text := strings.TrimSpace(msg.Text)
	switch state.stage {
	case stageTitle:
		if text == "" {
			return b.sendWithReplyMarkup(msg.Chat.ID, "The title cannot be empty.", cancelKeyboard())
		}
		state.input.Title = text
		state.stage = stageDescription
		return b.sendWithReplyMarkup(msg.Chat.ID, "✏️ Add a short description (or press Skip).", skipKeyboard())
	case stageDescription:
		if !isSkipInput(text) {
			state.input.Description = text
		}
		state.stage = stageCategory
		return b.sendWithReplyMarkup(msg.Chat.ID, "🏷 Pick a category or type your own (Skip is fine).", categoryKeyboard())
	case stageCategory:
		if !isSkipInput(text) {
			state.input.Category = text
		}
		state.stage = stageDeadline
		return b.sendWithReplyMarkup(msg.Chat.ID, "⏰ Deadline as <code>2025-11-30</code> (or Skip).", skipKeyboard())
	case stageDeadline:
		if !isSkipInput(text) {
			parsed, err := time.ParseInLocation(dateLayout, text, b.loc)
			if err != nil {
				return b.sendWithReplyMarkup(msg.Chat.ID, "I cannot read that date. Use <code>2025-11-30</code> or Skip.", skipKeyboard())
			}
			state.input.Deadline = &parsed
		}
		state.stage = stageRecurring
		return b.sendWithReplyMarkup(msg.Chat.ID, "🔁 Should the task repeat?", yesNoKeyboard())
	case stageRecurring:
		switch parseYesNo(text) {
		case answerYes:
			state.input.IsRecurring = true
			state.stage = stageInterval
			return b.sendWithReplyMarkup(msg.Chat.ID, "📆 How often?", intervalKeyboard())
		case answerNo:
			err := b.finishTaskCreation(ctx, msg.From, state.input, msg.Chat.ID)
			b.clearConversation(msg.From.ID)
			return err
		default:
			return b.sendWithReplyMarkup(msg.Chat.ID, "Press Yes or No.", yesNoKeyboard())
		}
	case stageInterval:
		interval, ok := parseInterval(text)
		if !ok {
			return b.sendWithReplyMarkup(msg.Chat.ID, "Pick daily, weekly, bi-monthly or monthly.", intervalKeyboard())
		}
		state.input.RecurrenceInterval = interval
		err := b.finishTaskCreation(ctx, msg.From, state.input, msg.Chat.ID)
		b.clearConversation(msg.From.ID)
		return err
	default:
		b.clearConversation(msg.From.ID)
		return b.sendText(msg.Chat.ID, "The dialog was reset. Try /newtask again.")
	}
}

func (b *Bot) finishTaskCreation(ctx context.Context, from *tgbotapi.User, input service.TaskInput, chatID int64) error {
	user, err := b.ensureUser(ctx, from)
	if err != nil {
		return err
	}

	task, err := b.taskSvc.CreateTask(ctx, user, input)
	if err != nil {
		return b.sendTextWithRemove(chatID, fmt.Sprintf("Could not save the task: %s", escape(err.Error())))
	}

	b.log.Infow("task created", "taskID", task.ID, "userID", user.ID, "recurring", task.IsRecurring)

	var summary strings.Builder
	summary.WriteString("✅ <b>Task saved</b>\n")
	summary.WriteString(fmt.Sprintf("• <b>ID:</b> %d\n", task.ID))
	summary.WriteString(fmt.Sprintf("• <b>Title:</b> %s\n", escape(normalizeTitle(task.Title))))
	if task.Description != "" {
		summary.WriteString(fmt.Sprintf("• <b>Description:</b> %s\n", escape(task.Description)))
	}
	if task.Deadline != nil {
		summary.WriteString(fmt.Sprintf("• <b>Deadline:</b> %s\n", task.Deadline.Format(dateLayout)))
	}
	if task.IsRecurring {
		summary.WriteString(fmt.Sprintf("• <b>Repeats:</b> %s\n", task.RecurrenceInterval))
		summary.WriteString(fmt.Sprintf("Put it on the calendar with /schedule %d &lt;date&gt; [time] repeat\n", task.ID))
	}

	if err := b.sendWithReplyMarkup(chatID, strings.TrimSpace(summary.String()), tgbotapi.NewRemoveKeyboard(true)); err != nil {
		return err
	}
	return b.sendTaskList(ctx, chatID, user)
}

func (b *Bot) handleListTasks(ctx context.Context, msg *tgbotapi.Message) error {
	user, err := b.ensureUser(ctx, msg.From)
	if err != nil {
		return err
	}
	return b.sendTaskList(ctx, msg.Chat.ID, user)
}

func (b *Bot) sendTaskList(ctx context.Context, chatID int64, user *model.User) error {
	tasks, err := b.taskSvc.ListActive(ctx, user)
	if err != nil {
		return b.sendText(chatID, fmt.Sprintf("Could not load tasks: %s", escape(err.Error())))
	}
	categories, err := b.categorySvc.List(ctx, user)
	if err != nil {
		return b.sendText(chatID, fmt.Sprintf("Could not load categories: %s", escape(err.Error())))
	}
	catNames := make(map[uint]string, len(categories))
	for _, cat := range categories {
		catNames[cat.ID] = cat.Name
	}

	groups, order := groupTasks(tasks, catNames)
	if len(order) == 0 {
		return b.sendText(chatID, "No open tasks. Add one with /newtask.")
	}

	now := time.Now().In(b.loc)
	var builder strings.Builder
	builder.WriteString("📋 <b>Tasks</b>\n")
	builder.WriteString("Use the buttons to complete a task or delete a recurring one.\n\n")

	var buttons [][]tgbotapi.InlineKeyboardButton
	for _, key := range order {
		section := groups[key]
		builder.WriteString(fmt.Sprintf("<b>%s</b>\n", section.Name))
		for _, task := range section.Tasks {
			var row []tgbotapi.InlineKeyboardButton
			if task.IsRecurring {
				builder.WriteString(formatRecurringTask(task, now))
				if !task.IsCompleted {
					row = append(row, tgbotapi.NewInlineKeyboardButtonData(fmt.Sprintf("✅ #%d · %s", task.ID, shortTitle(task.Title, 20)), fmt.Sprintf("%s%d", cbCompletePrefix, task.ID)))
				}
				row = append(row, tgbotapi.NewInlineKeyboardButtonData("🗑 Delete", fmt.Sprintf("%s%d", cbDeletePrefix, task.ID)))
			} else {
				builder.WriteString(formatTask(task, now))
				row = append(row, tgbotapi.NewInlineKeyboardButtonData(fmt.Sprintf("✅ #%d · %s", task.ID, shortTitle(task.Title, 24)), fmt.Sprintf("%s%d", cbCompletePrefix, task.ID)))
			}
			buttons = append(buttons, row)
		}
		builder.WriteByte('\n')
	}

	return b.sendWithReplyMarkup(chatID, strings.TrimSpace(builder.String()), tgbotapi.NewInlineKeyboardMarkup(buttons...))
}

func (b *Bot) handleComplete(ctx context.Context, msg *tgbotapi.Message) error {
	taskID, err := parseTaskArg(msg.CommandArguments())
	if err != nil {
		return b.sendText(msg.Chat.ID, "Give the task ID: /complete 12")
	}
	user, err := b.ensureUser(ctx, msg.From)
	if err != nil {
		return err
	}

	task, err := b.taskSvc.CompleteTask(ctx, user, taskID)
	if err != nil {
		return b.replyError(msg.Chat.ID, err)
	}
	return b.sendText(msg.Chat.ID, completedText(task))
}

func (b *Bot) handleDelete(ctx context.Context, msg *tgbotapi.Message) error {
	taskID, err := parseTaskArg(msg.CommandArguments())
	if err != nil {
		return b.sendText(msg.Chat.ID, "Give the task ID: /delete 12")
	}
	user, err := b.ensureUser(ctx, msg.From)
	if err != nil {
		return err
	}

	task, err := b.taskSvc.GetTask(ctx, user, taskID)
	if err != nil {
		return b.replyError(msg.Chat.ID, err)
	}
	if err := b.taskSvc.DeleteTask(ctx, user, taskID); err != nil {
		return b.replyError(msg.Chat.ID, err)
	}
	b.log.Infow("task deleted", "taskID", taskID, "userID", user.ID)
	return b.sendText(msg.Chat.ID, fmt.Sprintf("🗑 Task \"%s\" deleted.", escape(normalizeTitle(task.Title))))
}

func (b *Bot) handleSchedule(ctx context.Context, msg *tgbotapi.Message) error {
	args, err := parseScheduleArgs(msg.CommandArguments())
	if err != nil {
		return b.sendText(msg.Chat.ID, fmt.Sprintf("%s\nExample: /schedule 12 2025-11-30 18:00 45 repeat", escape(err.Error())))
	}
	user, err := b.ensureUser(ctx, msg.From)
	if err != nil {
		return err
	}

	ev, err := b.eventSvc.ScheduleTask(ctx, service.ScheduleRequest{
		UserID:          user.ID,
		TaskID:          args.taskID,
		Date:            args.date,
		Time:            args.clock,
		DurationMinutes: args.minutes,
		IsRecurring:     args.recurring,
	})
	if err != nil {
		return b.replyError(msg.Chat.ID, err)
	}
	conflicts, err := b.eventSvc.FindConflicts(ctx, *ev)
	if err != nil {
		b.log.Warnw("conflict check failed", "eventID", ev.ID, "error", err)
	}
	return b.sendText(msg.Chat.ID, scheduledText(*ev, conflicts, b.loc))
}

func (b *Bot) handleUnschedule(ctx context.Context, msg *tgbotapi.Message) error {
	taskID, err := parseTaskArg(msg.CommandArguments())
	if err != nil {
		return b.sendText(msg.Chat.ID, "Give the task ID: /unschedule 12")
	}
	user, err := b.ensureUser(ctx, msg.From)
	if err != nil {
		return err
	}
	if err := b.eventSvc.Unschedule(ctx, user.ID, taskID); err != nil {
		return b.replyError(msg.Chat.ID, err)
	}
	return b.sendText(msg.Chat.ID, fmt.Sprintf("📭 Task #%d is off the calendar.", taskID))
}

func (b *Bot) handleReschedule(ctx context.Context, msg *tgbotapi.Message) error {
	args, err := parseScheduleArgs(msg.CommandArguments())
	if err != nil {
		return b.sendText(msg.Chat.ID, fmt.Sprintf("%s\nExample: /reschedule 12 2025-12-01 10:30", escape(err.Error())))
	}
	day, err := time.ParseInLocation(dateLayout, args.date, b.loc)
	if err != nil {
		return b.sendText(msg.Chat.ID, "The date must look like 2025-11-30.")
	}
	user, err := b.ensureUser(ctx, msg.From)
	if err != nil {
		return err
	}

	ev, err := b.eventSvc.TaskEvent(ctx, user.ID, args.taskID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return b.sendText(msg.Chat.ID, fmt.Sprintf("Task #%d is not on the calendar. Use /schedule first.", args.taskID))
		}
		return b.replyError(msg.Chat.ID, err)
	}

	clock := args.clock
	if clock == "" {
		clock = ev.StartsAt.In(b.loc).Format(clockLayout)
	}
	ev, err = b.eventSvc.RescheduleEvent(ctx, user.ID, ev.ID, day, clock)
	if err != nil {
		return b.replyError(msg.Chat.ID, err)
	}
	conflicts, err := b.eventSvc.FindConflicts(ctx, *ev)
	if err != nil {
		b.log.Warnw("conflict check failed", "eventID", ev.ID, "error", err)
	}
	return b.sendText(msg.Chat.ID, scheduledText(*ev, conflicts, b.loc))
}

func (b *Bot) handleRepeat(ctx context.Context, msg *tgbotapi.Message) error {
	fields := strings.Fields(msg.CommandArguments())
	if len(fields) != 2 {
		return b.sendText(msg.Chat.ID, "Usage: /repeat 12 weekly (or off)")
	}
	taskID, err := parseTaskArg(fields[0])
	if err != nil {
		return b.sendText(msg.Chat.ID, "The task ID must be a number.")
	}
	recurring := !isOffInput(fields[1])
	var interval model.RecurrenceInterval
	if recurring {
		var ok bool
		if interval, ok = parseInterval(fields[1]); !ok {
			return b.sendText(msg.Chat.ID, "Pick daily, weekly, bi-monthly, monthly or off.")
		}
	}
	user, err := b.ensureUser(ctx, msg.From)
	if err != nil {
		return err
	}

	if _, err := b.taskSvc.SetRecurring(ctx, user, taskID, recurring, interval); err != nil {
		return b.replyError(msg.Chat.ID, err)
	}
	if !recurring {
		return b.sendText(msg.Chat.ID, fmt.Sprintf("Task #%d no longer repeats.", taskID))
	}
	return b.sendText(msg.Chat.ID, fmt.Sprintf("%s Task #%d now repeats %s.", iconRecurring, taskID, interval))
}

func (b *Bot) handleSweep(ctx context.Context, msg *tgbotapi.Message) error {
	user, err := b.ensureUser(ctx, msg.From)
	if err != nil {
		return err
	}
	n, err := b.sweepSvc.ProcessRecurringTasks(ctx, user.ID)
	if err != nil {
		return b.replyError(msg.Chat.ID, err)
	}
	if n == 0 {
		return b.sendText(msg.Chat.ID, "Nothing is due yet.")
	}
	return b.sendText(msg.Chat.ID, fmt.Sprintf("%s %d recurring task(s) are back on your list.", iconRecurring, n))
}

func (b *Bot) handleCategories(ctx context.Context, msg *tgbotapi.Message) error {
	user, err := b.ensureUser(ctx, msg.From)
	if err != nil {
		return err
	}
	usage, err := b.categorySvc.Usage(ctx, user)
	if err != nil {
		return b.sendText(msg.Chat.ID, fmt.Sprintf("Could not load categories: %s", escape(err.Error())))
	}
	if len(usage) == 0 {
		return b.sendText(msg.Chat.ID, "No categories yet. Add one while creating a task.")
	}
	var builder strings.Builder
	builder.WriteString("📂 <b>Categories</b>\n")
	for _, cat := range usage {
		builder.WriteString(fmt.Sprintf("• %s · %d open", categoryLabel(cat.Name), cat.OpenTasks))
		if cat.Recurring > 0 {
			builder.WriteString(fmt.Sprintf(", %d %s", cat.Recurring, iconRecurring))
		}
		builder.WriteByte('\n')
	}
	return b.sendText(msg.Chat.ID, strings.TrimSpace(builder.String()))
}

func (b *Bot) handleCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) error {
	if cb == nil || cb.From == nil || cb.Message == nil {
		return nil
	}
	b.ack(cb)

	data := cb.Data
	b.log.Infow("callback", "from", cb.From.ID, "data", data)

	switch {
	case strings.HasPrefix(data, cbCompletePrefix):
		taskID, err := parseTaskID(data, cbCompletePrefix)
		if err != nil {
			return nil
		}
		return b.askConfirmation(ctx, cb.Message.Chat.ID, cb.From, taskID, actionComplete)
	case strings.HasPrefix(data, cbDeletePrefix):
		taskID, err := parseTaskID(data, cbDeletePrefix)
		if err != nil {
			return nil
		}
		return b.askConfirmation(ctx, cb.Message.Chat.ID, cb.From, taskID, actionDelete)
	case strings.HasPrefix(data, cbConfirmPrefix):
		taskID, err := parseTaskID(data, cbConfirmPrefix)
		if err != nil {
			return nil
		}
		return b.completeTaskAndRefresh(ctx, cb.Message.Chat.ID, cb.From, taskID)
	default:
		return nil
	}
}

func (b *Bot) askConfirmation(ctx context.Context, chatID int64, from *tgbotapi.User, taskID uint, action confirmationAction) error {
	user, err := b.ensureUser(ctx, from)
	if err != nil {
		return err
	}
	task, err := b.taskSvc.GetTask(ctx, user, taskID)
	if err != nil {
		return b.replyError(chatID, err)
	}

	title := escape(normalizeTitle(task.Title))
	var text string
	if action == actionDelete {
		text = fmt.Sprintf("Delete \"%s\" (#%d) and its calendar entry?", title, task.ID)
	} else {
		if task.IsCompleted {
			return b.sendText(chatID, alreadyDoneText(*task))
		}
		text = fmt.Sprintf("Mark \"%s\" (#%d) as done?", title, task.ID)
	}
	b.setConfirmation(from.ID, confirmationRequest{taskID: task.ID, action: action})
	return b.sendWithReplyMarkup(chatID, text, confirmKeyboard())
}

func (b *Bot) handleConfirmationResponse(ctx context.Context, msg *tgbotapi.Message, req confirmationRequest) error {
	text := strings.TrimSpace(msg.Text)
	switch {
	case isConfirmInput(text):
		b.clearConfirmation(msg.From.ID)
		if req.action == actionDelete {
			return b.deleteTaskAndRefresh(ctx, msg.Chat.ID, msg.From, req.taskID)
		}
		return b.completeTaskAndRefresh(ctx, msg.Chat.ID, msg.From, req.taskID)
	case isCancelInput(text):
		b.clearConfirmation(msg.From.ID)
		return b.sendText(msg.Chat.ID, "🔹 Main menu")
	default:
		prompt := "Confirm or cancel completing the task."
		if req.action == actionDelete {
			prompt = "Confirm or cancel deleting the task."
		}
		return b.sendWithReplyMarkup(msg.Chat.ID, prompt, confirmKeyboard())
	}
}

func (b *Bot) completeTaskAndRefresh(ctx context.Context, chatID int64, from *tgbotapi.User, taskID uint) error {
	user, err := b.ensureUser(ctx, from)
	if err != nil {
		return err
	}

	task, err := b.taskSvc.GetTask(ctx, user, taskID)
	if err != nil {
		return b.replyErrorWithRemove(chatID, err)
	}
	if task.IsCompleted {
		return b.sendTextWithRemove(chatID, alreadyDoneText(*task))
	}

	task, err = b.taskSvc.CompleteTask(ctx, user, taskID)
	if err != nil {
		return b.replyErrorWithRemove(chatID, err)
	}
	b.log.Infow("task completed", "taskID", task.ID, "userID", user.ID, "recurring", task.IsRecurring)
	if err := b.sendTextWithRemove(chatID, completedText(task)); err != nil {
		return err
	}
	return b.sendTaskList(ctx, chatID, user)
}

func (b *Bot) deleteTaskAndRefresh(ctx context.Context, chatID int64, from *tgbotapi.User, taskID uint) error {
	user, err := b.ensureUser(ctx, from)
	if err != nil {
		return err
	}

	task, err := b.taskSvc.GetTask(ctx, user, taskID)
	if err != nil {
		return b.replyErrorWithRemove(chatID, err)
	}
	if err := b.taskSvc.DeleteTask(ctx, user, taskID); err != nil {
		return b.replyErrorWithRemove(chatID, err)
	}

	b.log.Infow("task deleted", "taskID", task.ID, "userID", user.ID)
	if err := b.sendTextWithRemove(chatID, fmt.Sprintf("🗑 Task \"%s\" deleted.", escape(normalizeTitle(task.Title)))); err != nil {
		return err
	}
	return b.sendTaskList(ctx, chatID, user)
}

func (b *Bot) replyError(chatID int64, err error) error {
	return b.sendText(chatID, userMessage(err))
}

func (b *Bot) replyErrorWithRemove(chatID int64, err error) error {
	return b.sendTextWithRemove(chatID, userMessage(err))
}

type categoryGroup struct {
	Name  string
	Tasks []model.Task
}

// groupTasks buckets open and recurring tasks by category. Named categories
// sort alphabetically with the uncategorised bucket last.
func groupTasks(tasks []model.Task, catNames map[uint]string) (map[string]*categoryGroup, []string) {
	groups := make(map[string]*categoryGroup)
	var order []string
	for _, task := range tasks {
		if !task.IsRecurring && task.IsCompleted {
			continue
		}
		key, display := normalizedCategory(task.CategoryID, catNames)
		group, ok := groups[key]
		if !ok {
			group = &categoryGroup{Name: display}
			groups[key] = group
			order = append(order, key)
		}
		group.Tasks = append(group.Tasks, task)
	}

	sort.Slice(order, func(i, j int) bool {
		if order[i] == noCategoryKey {
			return false
		}
		if order[j] == noCategoryKey {
			return true
		}
		return groups[order[i]].Name < groups[order[j]].Name
	})
	for _, group := range groups {
		sortSection(group.Tasks)
	}
	return groups, order
}

func sortSection(tasks []model.Task) {
	sort.SliceStable(tasks, func(i, j int) bool {
		a, b := tasks[i], tasks[j]
		switch {
		case a.Deadline != nil && b.Deadline != nil:
			if !a.Deadline.Equal(*b.Deadline) {
				return a.Deadline.Before(*b.Deadline)
			}
		case a.Deadline != nil:
			return true
		case b.Deadline != nil:
			return false
		}
		if a.IsRecurring != b.IsRecurring {
			return !a.IsRecurring
		}
		return a.ID < b.ID
	})
}
