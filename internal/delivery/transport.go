// Package delivery sends stored items through a rate-limited Transport:
// it splits heterogeneous item lists into provider-sized batches and
// retries on flood-control signals.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/user/collectbot/internal/types"
)

var (
	// ErrUnauthorized means the bot may not post to the destination.
	// It is permanent and aborts the current operation.
	ErrUnauthorized = errors.New("transport: not authorized for destination")
	// ErrNotFound means the referenced message no longer exists or is too
	// old to modify.
	ErrNotFound = errors.New("transport: message not found")
)

// RateLimitedError reports a flood-control rejection with the wait the
// provider requires before the next attempt.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("transport: rate limited, retry after %s", e.RetryAfter)
}

// Button is one inline keyboard button. Exactly one of Data or URL is set.
type Button struct {
	Text string
	Data string
	URL  string
}

// Keyboard is an inline keyboard laid out in rows.
type Keyboard [][]Button

// Row builds a keyboard row.
func Row(buttons ...Button) []Button { return buttons }

// ParseMode selects message text formatting.
type ParseMode string

const (
	ParsePlain ParseMode = ""
	ParseHTML  ParseMode = "HTML"
)

// Message is a single outbound payload. Kind selects the send method; for
// KindText, Text is the body, otherwise Handle is the content reference and
// Text is its caption.
type Message struct {
	Kind      types.Kind
	Handle    string
	Text      string
	FileName  string
	ParseMode ParseMode
	Keyboard  Keyboard
}

// TextMessage is a plain text message.
func TextMessage(text string) Message {
	return Message{Kind: types.KindText, Text: text}
}

// ItemMessage converts a stored item into its outbound message.
func ItemMessage(item *types.Item) Message {
	return Message{
		Kind:     item.Kind,
		Handle:   item.Handle,
		Text:     item.Text,
		FileName: item.FileName,
	}
}

// Transport is the outbound delivery channel.
type Transport interface {
	// Send posts one message and returns its handle.
	Send(ctx context.Context, chat types.ChatID, msg Message) (int, error)
	// SendGroup posts 2-10 same-family media as one album.
	SendGroup(ctx context.Context, chat types.ChatID, media []Message) error
	// Edit replaces the text (and keyboard, when non-nil) of a message.
	Edit(ctx context.Context, chat types.ChatID, messageID int, text string, kb Keyboard) error
	// Delete removes a message.
	Delete(ctx context.Context, chat types.ChatID, messageID int) error
}
