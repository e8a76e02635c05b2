package telegram

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/user/collectbot/internal/access"
	"github.com/user/collectbot/internal/collector"
	"github.com/user/collectbot/internal/delivery"
	"github.com/user/collectbot/internal/gateway"
	"github.com/user/collectbot/internal/types"
)

const (
	maxTelegramMessage = 4096
	maxBackupSize      = 20 << 20
)

const rejectedText = "The bot is restarting and could not take that message. Please send it again in a minute."

// Connect authenticates with the Bot API.
func Connect(token string) (*tgbotapi.BotAPI, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create bot: %w", err)
	}
	return bot, nil
}

// Adapter bridges Telegram updates to the collector through the gateway.
type Adapter struct {
	bot       *tgbotapi.BotAPI
	transport *Transport
	gateway   *gateway.Gateway
	svc       *collector.Service
	client    *http.Client
}

// New creates a Telegram adapter. transport must wrap bot.
func New(bot *tgbotapi.BotAPI, transport *Transport, gw *gateway.Gateway, svc *collector.Service) *Adapter {
	svc.SetBotName(bot.Self.UserName)
	return &Adapter{
		bot:       bot,
		transport: transport,
		gateway:   gw,
		svc:       svc,
		client:    &http.Client{Timeout: 60 * time.Second},
	}
}

// Start long-polls for updates until ctx is cancelled.
func (a *Adapter) Start(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30

	updates := a.bot.GetUpdatesChan(u)
	slog.Info("telegram polling started", "bot", a.bot.Self.UserName)

	for {
		select {
		case update := <-updates:
			a.dispatch(update)
		case <-ctx.Done():
			a.bot.StopReceivingUpdates()
			return nil
		}
	}
}

// dispatch queues the update behind the sender's earlier updates.
func (a *Adapter) dispatch(update tgbotapi.Update) {
	var (
		from *tgbotapi.User
		chat types.ChatID
		name string
		run  func(ctx context.Context) error
	)
	switch {
	case update.Message != nil && update.Message.From != nil:
		msg := update.Message
		from, chat = msg.From, types.ChatID(msg.Chat.ID)
		name = "message"
		if msg.IsCommand() {
			name = "command:" + msg.Command()
		}
		run = func(ctx context.Context) error {
			return a.withUser(ctx, msg.From, msg.IsCommand(), func() error {
				return a.handleMessage(ctx, msg)
			})
		}
	case update.CallbackQuery != nil && update.CallbackQuery.Message != nil:
		q := update.CallbackQuery
		from, chat = q.From, types.ChatID(q.Message.Chat.ID)
		name = "callback:" + collector.ParseCallback(q.Data).Action
		run = func(ctx context.Context) error {
			return a.withUser(ctx, q.From, false, func() error {
				return a.handleCallback(ctx, q)
			})
		}
	default:
		return
	}

	job := func(ctx context.Context) error {
		err := run(ctx)
		if err == nil {
			return nil
		}
		if _, known := errorText(err); known {
			a.fail(ctx, chat, err)
			return nil
		}
		return err
	}
	onError := gateway.WithOnError(func(error) {
		a.reply(context.Background(), chat, "Something went wrong. Please try again.")
	})
	if err := a.gateway.Dispatch(types.UserID(from.ID), name, job, onError); err != nil {
		slog.Warn("dispatch update failed", "user_id", from.ID, "job", name, "error", err)
		a.reply(context.Background(), chat, rejectedText)
	}
}

// withUser records the sender and, for explicit commands, clears any
// pending text-input mode before running fn.
func (a *Adapter) withUser(ctx context.Context, from *tgbotapi.User, resetModes bool, fn func() error) error {
	u := &types.User{
		ID:        types.UserID(from.ID),
		Username:  from.UserName,
		FirstName: from.FirstName,
		LastName:  from.LastName,
	}
	if err := a.svc.TouchUser(ctx, u, resetModes); err != nil {
		slog.Warn("record user failed", "user_id", from.ID, "error", err)
	}
	return fn()
}

// show replaces message with view, or posts it when editing fails.
func (a *Adapter) show(ctx context.Context, chat types.ChatID, messageID int, view collector.View) {
	msg := delivery.Message{Kind: types.KindText, Text: view.Text, ParseMode: view.ParseMode, Keyboard: view.Keyboard}
	if messageID != 0 {
		err := a.transport.EditMessage(ctx, chat, messageID, msg)
		if err == nil {
			return
		}
		slog.Debug("edit view failed, sending new", "chat_id", int64(chat), "error", err)
	}
	if _, err := a.transport.Send(ctx, chat, msg); err != nil {
		slog.Warn("send view failed", "chat_id", int64(chat), "error", err)
	}
}

func (a *Adapter) reply(ctx context.Context, chat types.ChatID, text string) {
	for _, part := range splitMessage(text) {
		if _, err := a.transport.Send(ctx, chat, delivery.TextMessage(part)); err != nil {
			slog.Warn("send message failed", "chat_id", int64(chat), "error", err)
			return
		}
	}
}

// fail reports a rejected request to the user.
func (a *Adapter) fail(ctx context.Context, chat types.ChatID, err error) {
	text, _ := errorText(err)
	slog.Debug("request rejected", "chat_id", int64(chat), "reason", err)
	a.reply(ctx, chat, text)
}

// download fetches a file the user sent.
func (a *Adapter) download(ctx context.Context, fileID string) ([]byte, error) {
	url, err := a.bot.GetFileDirectURL(fileID)
	if err != nil {
		return nil, fmt.Errorf("resolve file: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download file: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download file: status %d", resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxBackupSize))
}

// splitMessage cuts text into Telegram-sized parts, preferring line breaks.
func splitMessage(text string) []string {
	if len(text) <= maxTelegramMessage {
		return []string{text}
	}
	var parts []string
	for len(text) > 0 {
		end := maxTelegramMessage
		if end >= len(text) {
			parts = append(parts, text)
			break
		}
		if nl := strings.LastIndexByte(text[:end], '\n'); nl > 0 {
			end = nl + 1
		}
		parts = append(parts, text[:end])
		text = text[end:]
	}
	return parts
}

// itemFromMessage extracts the collectable content of a message.
func itemFromMessage(msg *tgbotapi.Message) (*types.Item, bool) {
	switch {
	case len(msg.Photo) > 0:
		p := msg.Photo[len(msg.Photo)-1]
		return &types.Item{Kind: types.KindPhoto, Handle: p.FileID, Text: msg.Caption, FileSize: int64(p.FileSize)}, true
	case msg.Video != nil:
		v := msg.Video
		return &types.Item{Kind: types.KindVideo, Handle: v.FileID, Text: msg.Caption, FileName: v.FileName, FileSize: int64(v.FileSize)}, true
	case msg.Audio != nil:
		au := msg.Audio
		return &types.Item{Kind: types.KindAudio, Handle: au.FileID, Text: msg.Caption, FileName: au.Title, FileSize: int64(au.FileSize)}, true
	case msg.Document != nil:
		d := msg.Document
		return &types.Item{Kind: types.KindDocument, Handle: d.FileID, Text: msg.Caption, FileName: d.FileName, FileSize: int64(d.FileSize)}, true
	case strings.TrimSpace(msg.Text) != "":
		return &types.Item{Kind: types.KindText, Text: msg.Text}, true
	}
	return nil, false
}

// errorText maps service errors to user-facing text. known is false for
// unexpected failures.
func errorText(err error) (text string, known bool) {
	switch {
	case errors.Is(err, collector.ErrNoActiveCollection):
		return "No active collection. Pick one with /collections or create one with /new.", true
	case errors.Is(err, collector.ErrEmptyCollection):
		return "This collection is empty.", true
	case errors.Is(err, collector.ErrEmptyGroup):
		return "No items in this group.", true
	case errors.Is(err, collector.ErrDuplicateItem):
		return "This item is already in the collection.", true
	case errors.Is(err, collector.ErrDuplicateName):
		return "You already have a collection with that name.", true
	case errors.Is(err, collector.ErrInvalidName):
		return "Collection name cannot be empty.", true
	case errors.Is(err, collector.ErrInvalidShareCode):
		return "Invalid or revoked access code.", true
	case errors.Is(err, collector.ErrInvalidBackup):
		return "That file is not a collection backup.", true
	case errors.Is(err, collector.ErrItemNotAllowed):
		return "That item is not available.", true
	case errors.Is(err, access.ErrNotFound):
		return "Collection not found.", true
	case errors.Is(err, access.ErrDenied):
		return "You don't have access to this collection.", true
	case errors.Is(err, delivery.ErrUnauthorized):
		return "The bot is not allowed to post here.", true
	}
	return "Something went wrong. Please try again.", false
}
