// Package telegram lets allow-listed users start runs from a chat.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/mtzanidakis/directorate/internal/config"
	"github.com/mtzanidakis/directorate/internal/document"
	"github.com/mymmrac/telego"
	th "github.com/mymmrac/telego/telegohandler"
	tu "github.com/mymmrac/telego/telegoutil"
)

const helpText = `Send a task and the directors will analyse it.

/run <task> - start a run (plain text works too)
/show <run-id> - show a run summary
/help - this message

Prefix a task with @simple or @complex to force the route.`

// Runner is the part of the pipeline the bot drives.
type Runner interface {
	Run(ctx context.Context, task, source string) (*document.Document, error)
	Get(runID string) (*document.Document, error)
}

type Bot struct {
	bot     *telego.Bot
	handler *th.BotHandler
	runner  Runner
	cfg     config.TelegramConfig
	cancel  context.CancelFunc
}

func NewBot(cfg config.TelegramConfig, runner Runner) (*Bot, error) {
	bot, err := telego.NewBot(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	return &Bot{bot: bot, runner: runner, cfg: cfg}, nil
}

func (b *Bot) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	b.cancel = cancel

	updates, err := b.bot.UpdatesViaLongPolling(ctx, nil)
	if err != nil {
		cancel()
		return fmt.Errorf("start long polling: %w", err)
	}

	handler, err := th.NewBotHandler(b.bot, updates)
	if err != nil {
		cancel()
		return fmt.Errorf("create handler: %w", err)
	}
	b.handler = handler

	handler.HandleMessage(func(hctx *th.Context, message telego.Message) error {
		// Runs take minutes, keep the update loop free
		go b.handleMessage(ctx, message)
		return nil
	})

	go handler.Start()
	slog.Info("telegram bot started", "allow_from", len(b.cfg.AllowFrom))

	<-ctx.Done()
	_ = handler.Stop()
	return nil
}

func (b *Bot) Stop() {
	if b.cancel != nil {
		b.cancel()
	}
}

func (b *Bot) handleMessage(ctx context.Context, msg telego.Message) {
	if msg.From == nil {
		return
	}
	chatID := msg.Chat.ID
	text := msg.Text
	if text == "" {
		text = msg.Caption
	}

	if !b.allowed(msg.From.ID) {
		slog.Warn("unauthorized telegram user", "user_id", msg.From.ID, "chat_id", chatID)
		return
	}

	_ = b.bot.SendChatAction(ctx, tu.ChatAction(tu.ID(chatID), "typing"))

	reply := b.reply(ctx, text, fmt.Sprintf("telegram:%d", msg.From.ID))
	if reply == "" {
		return
	}
	if err := b.SendMessage(ctx, chatID, reply); err != nil {
		slog.Error("failed to send telegram message", "chat", chatID, "error", err)
	}
}

// allowed reports whether userID may use the bot. An empty allow list
// admits everyone.
func (b *Bot) allowed(userID int64) bool {
	return len(b.cfg.AllowFrom) == 0 || slices.Contains(b.cfg.AllowFrom, userID)
}

// reply handles one message and returns the text to send back.
func (b *Bot) reply(ctx context.Context, text, source string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return ""
	}

	cmd, arg := text, ""
	if strings.HasPrefix(text, "/") {
		cmd, arg, _ = strings.Cut(text, " ")
		// Commands may carry the bot name in groups: /run@directorate_bot
		cmd, _, _ = strings.Cut(cmd, "@")
		arg = strings.TrimSpace(arg)
	}

	switch cmd {
	case "/start", "/help":
		return helpText
	case "/show":
		if arg == "" {
			return "Usage: /show <run-id>"
		}
		doc, err := b.runner.Get(arg)
		if err != nil {
			return "Could not load run: " + err.Error()
		}
		return doc.Summary()
	case "/run":
		return b.run(ctx, arg, source)
	default:
		if strings.HasPrefix(cmd, "/") {
			return "Unknown command. " + helpText
		}
		return b.run(ctx, text, source)
	}
}

func (b *Bot) run(ctx context.Context, task, source string) string {
	doc, err := b.runner.Run(ctx, task, source)
	switch {
	case doc != nil:
		return doc.Summary()
	case errors.Is(err, context.Canceled):
		return ""
	case err != nil:
		slog.Error("telegram run failed", "error", err)
		return "Sorry, the run could not start: " + err.Error()
	default:
		return ""
	}
}

func (b *Bot) SendMessage(ctx context.Context, chatID int64, text string) error {
	for _, chunk := range chunkMessage(text, 4096) {
		if _, err := b.bot.SendMessage(ctx, tu.Message(tu.ID(chatID), chunk)); err != nil {
			return fmt.Errorf("send message: %w", err)
		}
	}
	return nil
}
