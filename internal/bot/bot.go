package bot

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"timeplanner/internal/model"
	"timeplanner/internal/repository"
	"timeplanner/internal/service"
)

type conversationStage int

const (
	stageNone conversationStage = iota
	stageTitle
	stageDescription
	stageCategory
	stageDeadline
	stageRecurring
	stageInterval
)

const (
	cbCompletePrefix = "complete:"
	cbDeletePrefix   = "delete:"
	cbConfirmPrefix  = "confirm:"
	cbCancelPrefix   = "cancel:"
)

const (
	btnSkip             = "⏭️ Skip"
	btnYes              = "Yes"
	btnNo               = "No"
	btnConfirm          = "✅ Confirm"
	btnCancel           = "↩️ Cancel"
	btnCancelDialog     = "⏪ Stop input"
	noCategory          = "No category"
	noCategoryKey       = "__no_category__"
	iconDefault         = "🟢"
	iconDue             = "⏳"
	iconOverdue         = "⚠️"
	iconRecurring       = "♻️"
	menuLabelNewTask    = "➕ New task"
	menuLabelTasks      = "📋 Tasks"
	menuLabelAgenda     = "🗓 Agenda"
	menuLabelCategories = "📂 Categories"
	menuLabelHelp       = "ℹ️ Help"
	sessionClient       = "telegram"
)

type conversationState struct {
	stage conversationStage
	input service.TaskInput
}

type confirmationAction int

const (
	actionComplete confirmationAction = iota
	actionDelete
)

type confirmationRequest struct {
	taskID uint
	action confirmationAction
}

// Deps are the services the bot talks to.
type Deps struct {
	Users      *repository.UserRepository
	Tasks      *service.TaskService
	Categories *service.CategoryService
	Events     *service.EventService
	Sweep      *service.SweepService
	Sessions   *service.SessionService
	Reminders  *service.ReminderService
	Location   *time.Location
	Log        *zap.SugaredLogger
}

// Bot is the Telegram front end of the planner.
type Bot struct {
	api           *tgbotapi.BotAPI
	userRepo      *repository.UserRepository
	taskSvc       *service.TaskService
	categorySvc   *service.CategoryService
	eventSvc      *service.EventService
	sweepSvc      *service.SweepService
	sessionSvc    *service.SessionService
	reminderSvc   *service.ReminderService
	loc           *time.Location
	log           *zap.SugaredLogger
	conversations map[int64]*conversationState
	confirmations map[int64]confirmationRequest
	mu            sync.Mutex
}

func New(token string, deps Deps) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create bot api: %w", err)
	}
	if deps.Log == nil {
		deps.Log = zap.NewNop().Sugar()
	}
	if deps.Location == nil {
		deps.Location = time.Local
	}

	deps.Log.Infow("bot authorized", "account", api.Self.UserName)

	return &Bot{
		api:           api,
		userRepo:      deps.Users,
		taskSvc:       deps.Tasks,
		categorySvc:   deps.Categories,
		eventSvc:      deps.Events,
		sweepSvc:      deps.Sweep,
		sessionSvc:    deps.Sessions,
		reminderSvc:   deps.Reminders,
		loc:           deps.Location,
		log:           deps.Log,
		conversations: make(map[int64]*conversationState),
		confirmations: make(map[int64]confirmationRequest),
	}, nil
}

// Start polls updates until ctx is cancelled.
func (b *Bot) Start(ctx context.Context) error {
	updateConfig := tgbotapi.NewUpdate(0)
	updateConfig.Timeout = 60
	updates := b.api.GetUpdatesChan(updateConfig)

	b.log.Infow("start polling updates")

	go func() {
		<-ctx.Done()
		b.api.StopReceivingUpdates()
	}()

	for update := range updates {
		switch {
		case update.CallbackQuery != nil:
			if err := b.handleCallback(ctx, update.CallbackQuery); err != nil {
				b.log.Errorw("handle callback", "error", err)
			}
		case update.Message != nil:
			if update.Message.Chat == nil || !update.Message.Chat.IsPrivate() {
				continue
			}
			if err := b.handleMessage(ctx, update.Message); err != nil {
				b.log.Errorw("handle message", "chatID", update.Message.Chat.ID, "error", err)
			}
		}
	}

	return ctx.Err()
}

func (b *Bot) handleMessage(ctx context.Context, msg *tgbotapi.Message) error {
	if msg.From == nil {
		return nil
	}

	if !msg.IsCommand() && isCancelDialogInput(msg.Text) {
		b.clearConversation(msg.From.ID)
		b.clearConfirmation(msg.From.ID)
		return b.sendText(msg.Chat.ID, "⏪ Input cancelled. Start again whenever you like.")
	}

	if !msg.IsCommand() {
		if handled, err := b.handleMenuAlias(ctx, msg); handled {
			return err
		}
	}

	if msg.IsCommand() {
		b.log.Infow("command", "from", msg.From.ID, "command", msg.Command(), "args", msg.CommandArguments())
		return b.handleCommand(ctx, msg)
	}

	if pending, ok := b.getConfirmation(msg.From.ID); ok {
		return b.handleConfirmationResponse(ctx, msg, pending)
	}

	if state := b.getConversation(msg.From.ID); state != nil {
		b.log.Debugw("conversation step", "from", msg.From.ID, "stage", state.stage)
		return b.handleConversation(ctx, msg)
	}

	return b.sendText(msg.Chat.ID, "I did not get that. Use /newtask to add a task or /help for the command list.")
}

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message) error {
	switch msg.Command() {
	case "start":
		return b.handleStart(ctx, msg)
	case "help":
		return b.handleHelp(msg)
	case "agenda", "report":
		return b.handleAgenda(ctx, msg)
	case "newtask":
		return b.startNewTaskConversation(ctx, msg)
	case "tasks":
		return b.handleListTasks(ctx, msg)
	case "complete":
		return b.handleComplete(ctx, msg)
	case "delete":
		return b.handleDelete(ctx, msg)
	case "schedule":
		return b.handleSchedule(ctx, msg)
	case "unschedule":
		return b.handleUnschedule(ctx, msg)
	case "reschedule":
		return b.handleReschedule(ctx, msg)
	case "repeat":
		return b.handleRepeat(ctx, msg)
	case "sweep":
		return b.handleSweep(ctx, msg)
	case "categories":
		return b.handleCategories(ctx, msg)
	case "cancel":
		b.clearConversation(msg.From.ID)
		b.clearConfirmation(msg.From.ID)
		return b.sendText(msg.Chat.ID, "⏪ Input cancelled.")
	default:
		return b.sendText(msg.Chat.ID, "Unknown command. See /help.")
	}
}

func (b *Bot) handleMenuAlias(ctx context.Context, msg *tgbotapi.Message) (bool, error) {
	switch strings.TrimSpace(strings.ToLower(msg.Text)) {
	case strings.ToLower(menuLabelNewTask):
		return true, b.startNewTaskConversation(ctx, msg)
	case strings.ToLower(menuLabelTasks):
		return true, b.handleListTasks(ctx, msg)
	case strings.ToLower(menuLabelAgenda):
		return true, b.handleAgenda(ctx, msg)
	case strings.ToLower(menuLabelCategories):
		return true, b.handleCategories(ctx, msg)
	case strings.ToLower(menuLabelHelp):
		return true, b.handleHelp(msg)
	default:
		return false, nil
	}
}

// SendDailyReports sends the daily agenda to every Telegram user.
func (b *Bot) SendDailyReports(ctx context.Context) error {
	users, err := b.userRepo.ListChatUsers(ctx)
	if err != nil {
		return err
	}
	now := time.Now()
	for _, user := range users {
		if err := ctx.Err(); err != nil {
			return err
		}
		text, err := b.reminderSvc.DailySummary(ctx, user, now)
		if err != nil {
			b.log.Warnw("build summary", "userID", user.ID, "error", err)
			continue
		}
		if err := b.sendText(user.TelegramID, text); err != nil {
			b.log.Warnw("send summary", "userID", user.ID, "telegramID", user.TelegramID, "error", err)
		}
	}
	return nil
}

func (b *Bot) ensureUser(ctx context.Context, from *tgbotapi.User) (*model.User, error) {
	return b.userRepo.UpsertFromTelegram(ctx, from.ID, from.FirstName, from.LastName, from.UserName)
}

func (b *Bot) getConfirmation(userID int64) (confirmationRequest, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	req, ok := b.confirmations[userID]
	return req, ok
}

func (b *Bot) setConfirmation(userID int64, req confirmationRequest) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.confirmations[userID] = req
}

func (b *Bot) clearConfirmation(userID int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.confirmations, userID)
}

func (b *Bot) setConversation(userID int64, state *conversationState) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.conversations[userID] = state
}

func (b *Bot) getConversation(userID int64) *conversationState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.conversations[userID]
}

func (b *Bot) clearConversation(userID int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.conversations, userID)
}

func (b *Bot) sendText(chatID int64, text string) error {
	return b.sendWithReplyMarkup(chatID, text, mainMenuKeyboard())
}

func (b *Bot) sendTextWithRemove(chatID int64, text string) error {
	if err := b.sendWithReplyMarkup(chatID, text, tgbotapi.NewRemoveKeyboard(true)); err != nil {
		return err
	}
	return b.sendWithReplyMarkup(chatID, "🔹 Main menu", mainMenuKeyboard())
}

func (b *Bot) sendWithReplyMarkup(chatID int64, text string, markup interface{}) error {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	msg.ReplyMarkup = markup
	_, err := b.api.Send(msg)
	return err
}

func (b *Bot) ack(cb *tgbotapi.CallbackQuery) {
	if _, err := b.api.Request(tgbotapi.NewCallback(cb.ID, "")); err != nil {
		b.log.Warnw("callback ack", "error", err)
	}
}
