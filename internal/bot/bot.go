package bot

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strconv"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"planner/internal/model"
	"planner/internal/repository"
	"planner/internal/service"
)

const cbCompletePrefix = "complete:"

const (
	menuLabelTasks   = "📋 Tasks"
	menuLabelSummary = "🗓 Summary"
	menuLabelHelp    = "ℹ️ Help"
)

// API is the subset of tgbotapi.BotAPI the bot uses.
type API interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// Settings manages the notification profile.
type Settings interface {
	Get(ctx context.Context) (*model.Profile, error)
	Update(ctx context.Context, upd service.SettingsUpdate) (*model.Profile, error)
	LinkAddress(ctx context.Context, address string) (*model.Profile, error)
	UnlinkAddress(ctx context.Context) (*model.Profile, error)
	SendTest(ctx context.Context) error
}

// Digests renders and triggers daily digests.
type Digests interface {
	TriggerNow(ctx context.Context, profileID string) service.TriggerResult
	Build(ctx context.Context, now time.Time) (string, error)
}

// Tasks is the task-mutation layer.
type Tasks interface {
	CreateTask(ctx context.Context, input service.TaskInput) (*model.Task, error)
	ListOpen(ctx context.Context) ([]model.Task, error)
	CompleteTask(ctx context.Context, id string) (*service.CompletionResult, error)
}

// Bot serves the Telegram command surface of the planner.
type Bot struct {
	api      API
	settings Settings
	digests  Digests
	tasks    Tasks
	now      func() time.Time
	log      zerolog.Logger

	mu       sync.Mutex
	listings map[int64][]string
}

func New(api API, settings Settings, digests Digests, tasks Tasks, log zerolog.Logger) *Bot {
	return &Bot{
		api:      api,
		settings: settings,
		digests:  digests,
		tasks:    tasks,
		now:      time.Now,
		log:      log.With().Str("component", "bot").Logger(),
		listings: make(map[int64][]string),
	}
}

// Start begins polling updates until ctx is cancelled.
func (b *Bot) Start(ctx context.Context) error {
	updateConfig := tgbotapi.NewUpdate(0)
	updateConfig.Timeout = 60
	updates := b.api.GetUpdatesChan(updateConfig)

	b.log.Info().Msg("start polling updates")

	go func() {
		<-ctx.Done()
		b.api.StopReceivingUpdates()
	}()

	for update := range updates {
		if err := b.handleUpdate(ctx, update); err != nil {
			b.log.Error().Err(err).Int("update", update.UpdateID).Msg("handle update")
		}
	}
	return nil
}

func (b *Bot) handleUpdate(ctx context.Context, update tgbotapi.Update) error {
	switch {
	case update.CallbackQuery != nil:
		return b.handleCallback(ctx, update.CallbackQuery)
	case update.Message != nil:
		if update.Message.Chat == nil || !update.Message.Chat.IsPrivate() {
			return nil
		}
		return b.handleMessage(ctx, update.Message)
	}
	return nil
}

func (b *Bot) handleMessage(ctx context.Context, msg *tgbotapi.Message) error {
	if msg.From == nil {
		return nil
	}

	if !msg.IsCommand() {
		switch strings.TrimSpace(msg.Text) {
		case menuLabelTasks:
			return b.guarded(ctx, msg, b.handleListTasks)
		case menuLabelSummary:
			return b.guarded(ctx, msg, b.handleSummary)
		case menuLabelHelp:
			return b.handleHelp(msg)
		}
		return b.sendText(msg.Chat.ID, "I did not get that. Send /help for the list of commands.")
	}

	b.log.Info().Int64("chat", msg.Chat.ID).Str("command", msg.Command()).Msg("command received")

	switch msg.Command() {
	case "start":
		return b.handleStart(ctx, msg)
	case "help":
		return b.handleHelp(msg)
	case "stop":
		return b.guarded(ctx, msg, b.handleStop)
	case "digest":
		return b.guarded(ctx, msg, b.handleDigest)
	case "summary":
		return b.guarded(ctx, msg, b.handleSummary)
	case "test":
		return b.guarded(ctx, msg, b.handleTest)
	case "daily":
		return b.guarded(ctx, msg, b.handleDaily)
	case "time":
		return b.guarded(ctx, msg, b.handleTime)
	case "tz":
		return b.guarded(ctx, msg, b.handleTimezone)
	case "settings":
		return b.guarded(ctx, msg, b.handleSettings)
	case "add":
		return b.guarded(ctx, msg, b.handleAdd)
	case "tasks":
		return b.guarded(ctx, msg, b.handleListTasks)
	case "done":
		return b.guarded(ctx, msg, b.handleDone)
	default:
		return b.sendText(msg.Chat.ID, "Unknown command. See /help.")
	}
}

// guarded runs h only for the chat linked as the planner's address.
func (b *Bot) guarded(ctx context.Context, msg *tgbotapi.Message, h func(context.Context, *tgbotapi.Message, *model.Profile) error) error {
	profile, err := b.settings.Get(ctx)
	if err != nil {
		return err
	}
	if !profile.AddressVerified || profile.Address != chatAddress(msg.Chat.ID) {
		return b.sendText(msg.Chat.ID, "This chat is not linked. Send /start to link it.")
	}
	return h(ctx, msg, profile)
}

func (b *Bot) handleStart(ctx context.Context, msg *tgbotapi.Message) error {
	profile, err := b.settings.Get(ctx)
	if err != nil {
		return err
	}
	address := chatAddress(msg.Chat.ID)
	if profile.AddressVerified && profile.Address != "" && profile.Address != address {
		return b.sendText(msg.Chat.ID, "The planner is already linked to another chat. Send /stop there first.")
	}
	if _, err := b.settings.LinkAddress(ctx, address); err != nil {
		return err
	}
	b.log.Info().Int64("chat", msg.Chat.ID).Msg("chat linked")

	name := strings.TrimSpace(msg.From.FirstName)
	if name == "" {
		name = "there"
	}
	text := fmt.Sprintf("👋 Hi, %s!\n<b>This chat now receives your planner notifications.</b>\n\n", escape(name)) +
		"Turn on the morning summary with /daily on and pick a time with /time 08:00.\n" +
		"See /help for everything else."
	return b.sendText(msg.Chat.ID, text)
}

func (b *Bot) handleHelp(msg *tgbotapi.Message) error {
	text := "ℹ️ <b>Commands</b>\n" +
		"• /add title; YYYY-MM-DD HH:MM; 15m; weekly: add a task (due, reminder lead and repeat are optional)\n" +
		"• /tasks: open tasks, tap to complete\n" +
		"• /done &lt;n&gt;: complete task n from the last /tasks list\n" +
		"• /summary: preview today's summary\n" +
		"• /digest: send the daily summary now\n" +
		"• /daily on|off: toggle the daily summary\n" +
		"• /time HH:MM: when to send it\n" +
		"• /tz Area/City: your timezone\n" +
		"• /settings: current settings\n" +
		"• /test: send a test message\n" +
		"• /stop: unlink this chat"
	return b.sendText(msg.Chat.ID, text)
}

func (b *Bot) handleStop(ctx context.Context, msg *tgbotapi.Message, _ *model.Profile) error {
	if _, err := b.settings.UnlinkAddress(ctx); err != nil {
		return err
	}
	b.log.Info().Int64("chat", msg.Chat.ID).Msg("chat unlinked")
	return b.sendText(msg.Chat.ID, "👋 Chat unlinked. Daily summaries are off. Send /start to link again.")
}

func (b *Bot) handleDigest(ctx context.Context, msg *tgbotapi.Message, profile *model.Profile) error {
	res := b.digests.TriggerNow(ctx, profile.ID)
	if !res.Success {
		return b.sendText(msg.Chat.ID, escape(res.Message))
	}
	return nil
}

func (b *Bot) handleSummary(ctx context.Context, msg *tgbotapi.Message, profile *model.Profile) error {
	text, err := b.digests.Build(ctx, b.now().In(profile.Location()))
	if err != nil {
		return b.sendText(msg.Chat.ID, fmt.Sprintf("Could not build the summary: %s", escape(err.Error())))
	}
	return b.sendPlain(msg.Chat.ID, text)
}

func (b *Bot) handleTest(ctx context.Context, msg *tgbotapi.Message, _ *model.Profile) error {
	if err := b.settings.SendTest(ctx); err != nil {
		return b.sendText(msg.Chat.ID, fmt.Sprintf("Test message failed: %s", escape(err.Error())))
	}
	return nil
}

func (b *Bot) handleDaily(ctx context.Context, msg *tgbotapi.Message, _ *model.Profile) error {
	var enabled bool
	switch strings.ToLower(strings.TrimSpace(msg.CommandArguments())) {
	case "on":
		enabled = true
	case "off":
		enabled = false
	default:
		return b.sendText(msg.Chat.ID, "Usage: /daily on or /daily off")
	}
	profile, err := b.settings.Update(ctx, service.SettingsUpdate{DigestEnabled: &enabled})
	if err != nil {
		return b.sendText(msg.Chat.ID, userError(err))
	}
	if profile.DigestEnabled {
		return b.sendText(msg.Chat.ID, fmt.Sprintf("✅ Daily summary on, sent at %s (%s).", profile.DigestTime, escape(profile.Timezone)))
	}
	return b.sendText(msg.Chat.ID, "Daily summary off.")
}

func (b *Bot) handleTime(ctx context.Context, msg *tgbotapi.Message, _ *model.Profile) error {
	arg := strings.TrimSpace(msg.CommandArguments())
	if arg == "" {
		return b.sendText(msg.Chat.ID, "Usage: /time 08:00")
	}
	profile, err := b.settings.Update(ctx, service.SettingsUpdate{DigestTime: &arg})
	if err != nil {
		return b.sendText(msg.Chat.ID, userError(err))
	}
	return b.sendText(msg.Chat.ID, fmt.Sprintf("⏰ Daily summary time set to %s.", profile.DigestTime))
}

func (b *Bot) handleTimezone(ctx context.Context, msg *tgbotapi.Message, _ *model.Profile) error {
	arg := strings.TrimSpace(msg.CommandArguments())
	if arg == "" {
		return b.sendText(msg.Chat.ID, "Usage: /tz Europe/Berlin")
	}
	profile, err := b.settings.Update(ctx, service.SettingsUpdate{Timezone: &arg})
	if err != nil {
		return b.sendText(msg.Chat.ID, userError(err))
	}
	return b.sendText(msg.Chat.ID, fmt.Sprintf("🌍 Timezone set to %s.", escape(profile.Timezone)))
}

func (b *Bot) handleSettings(_ context.Context, msg *tgbotapi.Message, profile *model.Profile) error {
	state := "off"
	if profile.DigestEnabled {
		state = "on"
	}
	last := profile.LastDigestOn
	if last == "" {
		last = "never"
	}
	text := fmt.Sprintf("⚙️ <b>Settings</b>\n• Daily summary: %s\n• Time: %s\n• Timezone: %s\n• Last sent: %s",
		state, profile.DigestTime, escape(profile.Timezone), last)
	return b.sendText(msg.Chat.ID, text)
}

func (b *Bot) handleAdd(ctx context.Context, msg *tgbotapi.Message, profile *model.Profile) error {
	input, err := parseAddArgs(msg.CommandArguments(), profile.Location())
	if err != nil {
		return b.sendText(msg.Chat.ID, escape(err.Error()))
	}
	task, err := b.tasks.CreateTask(ctx, input)
	if err != nil {
		return b.sendText(msg.Chat.ID, userError(err))
	}
	b.log.Info().Str("task", task.ID).Bool("recurring", task.IsRecurring()).Msg("task created")

	var summary strings.Builder
	summary.WriteString("✅ <b>Task saved</b>\n")
	summary.WriteString(fmt.Sprintf("• %s\n", escape(task.Title)))
	loc := profile.Location()
	if task.DueAt != nil {
		summary.WriteString(fmt.Sprintf("• Due: %s\n", task.DueAt.In(loc).Format("Mon Jan 2 15:04")))
	}
	if task.ReminderAt != nil {
		summary.WriteString(fmt.Sprintf("• Reminder: %s\n", task.ReminderAt.In(loc).Format("Mon Jan 2 15:04")))
	}
	if task.IsRecurring() {
		summary.WriteString(fmt.Sprintf("• Repeats: %s\n", task.Recurrence.Type))
	}
	return b.sendText(msg.Chat.ID, strings.TrimSpace(summary.String()))
}

func (b *Bot) handleListTasks(ctx context.Context, msg *tgbotapi.Message, profile *model.Profile) error {
	tasks, err := b.tasks.ListOpen(ctx)
	if err != nil {
		return b.sendText(msg.Chat.ID, fmt.Sprintf("Could not load tasks: %s", escape(err.Error())))
	}
	if len(tasks) == 0 {
		b.setListing(msg.Chat.ID, nil)
		return b.sendText(msg.Chat.ID, "No open tasks. Add one with /add.")
	}

	now := b.now().In(profile.Location())
	ids := make([]string, 0, len(tasks))
	var builder strings.Builder
	builder.WriteString("📋 <b>Open tasks</b>\n")
	var buttons [][]tgbotapi.InlineKeyboardButton
	for i, task := range tasks {
		ids = append(ids, task.ID)
		builder.WriteString(formatTask(i+1, task, now))
		buttons = append(buttons, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(fmt.Sprintf("✅ %d · %s", i+1, shortTitle(task.Title, 24)), cbCompletePrefix+task.ID),
		))
	}
	b.setListing(msg.Chat.ID, ids)

	out := tgbotapi.NewMessage(msg.Chat.ID, strings.TrimSpace(builder.String()))
	out.ParseMode = tgbotapi.ModeHTML
	out.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(buttons...)
	_, err = b.api.Send(out)
	return err
}

func (b *Bot) handleDone(ctx context.Context, msg *tgbotapi.Message, _ *model.Profile) error {
	n, err := strconv.Atoi(strings.TrimSpace(msg.CommandArguments()))
	if err != nil || n < 1 {
		return b.sendText(msg.Chat.ID, "Usage: /done 2 (number from the last /tasks list)")
	}
	id, ok := b.listed(msg.Chat.ID, n)
	if !ok {
		return b.sendText(msg.Chat.ID, "No such task in the last list. Send /tasks first.")
	}
	return b.complete(ctx, msg.Chat.ID, id)
}

func (b *Bot) handleCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) error {
	if cb == nil || cb.From == nil || cb.Message == nil || cb.Message.Chat == nil {
		return nil
	}
	if _, err := b.api.Request(tgbotapi.NewCallback(cb.ID, "")); err != nil {
		b.log.Warn().Err(err).Msg("callback ack")
	}
	if !strings.HasPrefix(cb.Data, cbCompletePrefix) {
		return nil
	}

	profile, err := b.settings.Get(ctx)
	if err != nil {
		return err
	}
	if profile.Address != chatAddress(cb.Message.Chat.ID) {
		return nil
	}
	return b.complete(ctx, cb.Message.Chat.ID, strings.TrimPrefix(cb.Data, cbCompletePrefix))
}

func (b *Bot) complete(ctx context.Context, chatID int64, id string) error {
	res, err := b.tasks.CompleteTask(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return b.sendText(chatID, "Task not found.")
		}
		return b.sendText(chatID, fmt.Sprintf("Error: %s", escape(err.Error())))
	}
	if res.AlreadyCompleted {
		return b.sendText(chatID, fmt.Sprintf("«%s» was already done.", escape(res.Task.Title)))
	}
	text := fmt.Sprintf("✅ «%s» done.", escape(res.Task.Title))
	if res.Successor != nil && res.Successor.DueAt != nil {
		text += fmt.Sprintf("\n♻️ Next one due %s.", res.Successor.DueAt.Format("Mon Jan 2"))
	}
	return b.sendText(chatID, text)
}

func (b *Bot) setListing(chatID int64, ids []string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listings[chatID] = ids
}

func (b *Bot) listed(chatID int64, n int) (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ids := b.listings[chatID]
	if n < 1 || n > len(ids) {
		return "", false
	}
	return ids[n-1], true
}

func (b *Bot) sendText(chatID int64, text string) error {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	msg.ReplyMarkup = mainMenuKeyboard()
	_, err := b.api.Send(msg)
	return err
}

func (b *Bot) sendPlain(chatID int64, text string) error {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ReplyMarkup = mainMenuKeyboard()
	_, err := b.api.Send(msg)
	return err
}

func mainMenuKeyboard() tgbotapi.ReplyKeyboardMarkup {
	kb := tgbotapi.NewReplyKeyboard(
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton(menuLabelTasks),
			tgbotapi.NewKeyboardButton(menuLabelSummary),
			tgbotapi.NewKeyboardButton(menuLabelHelp),
		),
	)
	kb.ResizeKeyboard = true
	return kb
}

func chatAddress(chatID int64) string {
	return strconv.FormatInt(chatID, 10)
}

func userError(err error) string {
	switch {
	case errors.Is(err, service.ErrAddressNotVerified):
		return "Link this chat with /start first."
	case errors.Is(err, service.ErrInvalidInput):
		return escape(strings.TrimPrefix(err.Error(), service.ErrInvalidInput.Error()+": "))
	default:
		return fmt.Sprintf("Error: %s", escape(err.Error()))
	}
}

func escape(s string) string {
	return html.EscapeString(s)
}
