package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/user/collectbot/internal/delivery"
	"github.com/user/collectbot/internal/types"
)

// botAPI is the subset of *tgbotapi.BotAPI the transport calls.
type botAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	SendMediaGroup(config tgbotapi.MediaGroupConfig) ([]tgbotapi.Message, error)
}

// Transport implements delivery.Transport on the Telegram Bot API.
type Transport struct {
	api botAPI
}

// NewTransport wraps a connected bot.
func NewTransport(api botAPI) *Transport {
	return &Transport{api: api}
}

// Send posts one message. HTML text the API refuses to parse is resent as
// plain text.
func (t *Transport) Send(ctx context.Context, chat types.ChatID, msg delivery.Message) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	sent, err := t.api.Send(chattable(int64(chat), msg))
	if err != nil && msg.ParseMode == delivery.ParseHTML && isParseError(err) {
		slog.Debug("html rejected, resending as plain text", "chat_id", int64(chat))
		msg.Text, msg.ParseMode = plainText(msg.Text), delivery.ParsePlain
		sent, err = t.api.Send(chattable(int64(chat), msg))
	}
	if err != nil {
		return 0, classify(err)
	}
	return sent.MessageID, nil
}

// SendGroup posts 2-10 media of one family as an album.
func (t *Transport) SendGroup(ctx context.Context, chat types.ChatID, media []delivery.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	files := make([]interface{}, 0, len(media))
	for _, m := range media {
		in, err := inputMedia(m)
		if err != nil {
			return err
		}
		files = append(files, in)
	}
	if _, err := t.api.SendMediaGroup(tgbotapi.NewMediaGroup(int64(chat), files)); err != nil {
		return classify(err)
	}
	return nil
}

// Edit replaces a plain-text message body. A nil keyboard removes any
// attached buttons.
func (t *Transport) Edit(ctx context.Context, chat types.ChatID, messageID int, text string, kb delivery.Keyboard) error {
	return t.EditMessage(ctx, chat, messageID, delivery.Message{Kind: types.KindText, Text: text, Keyboard: kb})
}

// EditMessage is Edit with a parse mode.
func (t *Transport) EditMessage(ctx context.Context, chat types.ChatID, messageID int, msg delivery.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := t.api.Request(editConfig(int64(chat), messageID, msg))
	if err != nil && msg.ParseMode == delivery.ParseHTML && isParseError(err) {
		msg.Text, msg.ParseMode = plainText(msg.Text), delivery.ParsePlain
		_, err = t.api.Request(editConfig(int64(chat), messageID, msg))
	}
	if err != nil {
		if isNotModified(err) {
			return nil
		}
		return classify(err)
	}
	return nil
}

// Delete removes a message.
func (t *Transport) Delete(ctx context.Context, chat types.ChatID, messageID int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := t.api.Request(tgbotapi.NewDeleteMessage(int64(chat), messageID)); err != nil {
		return classify(err)
	}
	return nil
}

// SendFile uploads data as a document.
func (t *Transport) SendFile(ctx context.Context, chat types.ChatID, name string, data []byte, caption string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	doc := tgbotapi.NewDocument(int64(chat), tgbotapi.FileBytes{Name: name, Bytes: data})
	doc.Caption = caption
	if _, err := t.api.Send(doc); err != nil {
		return classify(err)
	}
	return nil
}

// Answer acknowledges a button press, optionally with a popup.
func (t *Transport) Answer(callbackID, text string, alert bool) error {
	cfg := tgbotapi.NewCallback(callbackID, text)
	if alert {
		cfg = tgbotapi.NewCallbackWithAlert(callbackID, text)
	}
	if _, err := t.api.Request(cfg); err != nil {
		return classify(err)
	}
	return nil
}

func chattable(chat int64, msg delivery.Message) tgbotapi.Chattable {
	file := tgbotapi.FileID(msg.Handle)
	mode := string(msg.ParseMode)
	markup := replyMarkup(msg.Keyboard)

	switch msg.Kind {
	case types.KindPhoto:
		c := tgbotapi.NewPhoto(chat, file)
		c.Caption, c.ParseMode = msg.Text, mode
		if markup != nil {
			c.ReplyMarkup = *markup
		}
		return c
	case types.KindVideo:
		c := tgbotapi.NewVideo(chat, file)
		c.Caption, c.ParseMode = msg.Text, mode
		if markup != nil {
			c.ReplyMarkup = *markup
		}
		return c
	case types.KindDocument:
		c := tgbotapi.NewDocument(chat, file)
		c.Caption, c.ParseMode = msg.Text, mode
		if markup != nil {
			c.ReplyMarkup = *markup
		}
		return c
	case types.KindAudio:
		c := tgbotapi.NewAudio(chat, file)
		c.Caption, c.ParseMode = msg.Text, mode
		if markup != nil {
			c.ReplyMarkup = *markup
		}
		return c
	default:
		c := tgbotapi.NewMessage(chat, msg.Text)
		c.ParseMode = mode
		c.DisableWebPagePreview = true
		if markup != nil {
			c.ReplyMarkup = *markup
		}
		return c
	}
}

func editConfig(chat int64, messageID int, msg delivery.Message) tgbotapi.EditMessageTextConfig {
	var c tgbotapi.EditMessageTextConfig
	if markup := replyMarkup(msg.Keyboard); markup != nil {
		c = tgbotapi.NewEditMessageTextAndMarkup(chat, messageID, msg.Text, *markup)
	} else {
		c = tgbotapi.NewEditMessageText(chat, messageID, msg.Text)
	}
	c.ParseMode = string(msg.ParseMode)
	c.DisableWebPagePreview = true
	return c
}

func inputMedia(m delivery.Message) (interface{}, error) {
	file := tgbotapi.FileID(m.Handle)
	switch m.Kind {
	case types.KindPhoto:
		in := tgbotapi.NewInputMediaPhoto(file)
		in.Caption = m.Text
		return in, nil
	case types.KindVideo:
		in := tgbotapi.NewInputMediaVideo(file)
		in.Caption = m.Text
		return in, nil
	case types.KindDocument:
		in := tgbotapi.NewInputMediaDocument(file)
		in.Caption = m.Text
		return in, nil
	case types.KindAudio:
		in := tgbotapi.NewInputMediaAudio(file)
		in.Caption = m.Text
		return in, nil
	}
	return nil, fmt.Errorf("kind %q cannot be grouped", m.Kind)
}

// replyMarkup converts a keyboard, returning nil for an empty one.
func replyMarkup(kb delivery.Keyboard) *tgbotapi.InlineKeyboardMarkup {
	if len(kb) == 0 {
		return nil
	}
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(kb))
	for _, row := range kb {
		buttons := make([]tgbotapi.InlineKeyboardButton, 0, len(row))
		for _, b := range row {
			if b.URL != "" {
				buttons = append(buttons, tgbotapi.NewInlineKeyboardButtonURL(b.Text, b.URL))
			} else {
				buttons = append(buttons, tgbotapi.NewInlineKeyboardButtonData(b.Text, b.Data))
			}
		}
		rows = append(rows, buttons)
	}
	markup := tgbotapi.NewInlineKeyboardMarkup(rows...)
	return &markup
}

// classify maps Bot API failures onto the delivery error taxonomy.
func classify(err error) error {
	var apiErr *tgbotapi.Error
	if !errors.As(err, &apiErr) {
		return err
	}
	msg := strings.ToLower(apiErr.Message)
	switch {
	case apiErr.Code == http.StatusTooManyRequests:
		wait := time.Duration(apiErr.RetryAfter) * time.Second
		if wait <= 0 {
			wait = time.Second
		}
		return &delivery.RateLimitedError{RetryAfter: wait}
	case apiErr.Code == http.StatusForbidden, apiErr.Code == http.StatusUnauthorized:
		return fmt.Errorf("%w: %s", delivery.ErrUnauthorized, apiErr.Message)
	case strings.Contains(msg, "message to edit not found"),
		strings.Contains(msg, "message to delete not found"),
		strings.Contains(msg, "message can't be edited"),
		strings.Contains(msg, "message can't be deleted"):
		return fmt.Errorf("%w: %s", delivery.ErrNotFound, apiErr.Message)
	}
	return fmt.Errorf("telegram api: %w", err)
}

func isParseError(err error) bool {
	var apiErr *tgbotapi.Error
	return errors.As(err, &apiErr) && strings.Contains(strings.ToLower(apiErr.Message), "can't parse entities")
}

func isNotModified(err error) bool {
	var apiErr *tgbotapi.Error
	return errors.As(err, &apiErr) && strings.Contains(strings.ToLower(apiErr.Message), "message is not modified")
}

// plainText renders HTML as markdown-flavored plain text.
func plainText(html string) string {
	md, err := htmltomarkdown.ConvertString(html)
	if err != nil {
		slog.Debug("html conversion failed", "error", err)
		return html
	}
	return md
}
