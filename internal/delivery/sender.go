package delivery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/user/collectbot/internal/types"
)

// MaxGroupSize is the provider ceiling on items per album.
const MaxGroupSize = 10

// Summary counts the sends attempted by one SendBatches call. A send is a
// single text message or one album sub-chunk.
type Summary struct {
	Sent   int
	Failed int
}

// Total is Sent + Failed.
func (s Summary) Total() int { return s.Sent + s.Failed }

// Sender delivers Batches with pacing and bounded rate-limit retries.
type Sender struct {
	transport Transport
	policy    *RetryPolicy

	// Sleep is used for pacing and backoff.
	Sleep SleepFunc
	// TextDelay separates consecutive text messages.
	TextDelay time.Duration
	// ChunkDelay separates consecutive albums of the same family.
	ChunkDelay time.Duration
	// GroupSize caps items per album.
	GroupSize int
}

// NewSender creates a Sender with the default pacing: 500ms between texts,
// 4s between albums of one family.
func NewSender(transport Transport, policy *RetryPolicy) *Sender {
	if policy == nil {
		policy = DefaultRetryPolicy()
	}
	return &Sender{
		transport:  transport,
		policy:     policy,
		Sleep:      Sleep,
		TextDelay:  500 * time.Millisecond,
		ChunkDelay: 4 * time.Second,
		GroupSize:  MaxGroupSize,
	}
}

// Deliver chunks items and sends them.
func (s *Sender) Deliver(ctx context.Context, chat types.ChatID, items []*types.Item) (Summary, error) {
	return s.SendBatches(ctx, chat, Chunk(items))
}

// SendBatches sends texts one by one, then visual, document and audio
// albums. It returns after every send has been attempted. Rate-limited
// sends are retried per policy; any other failure abandons that send and
// moves on. ErrUnauthorized or context cancellation stops everything and is
// returned.
func (s *Sender) SendBatches(ctx context.Context, chat types.ChatID, b Batches) (Summary, error) {
	var sum Summary

	for i, item := range b.Texts {
		if i > 0 {
			if err := s.Sleep(ctx, s.TextDelay); err != nil {
				return sum, err
			}
		}
		msg := TextMessage(item.Text)
		err := s.policy.Execute(ctx, s.Sleep, func() error {
			_, err := s.transport.Send(ctx, chat, msg)
			return err
		})
		if err := s.record(&sum, err, "text", 1); err != nil {
			return sum, err
		}
	}

	for _, family := range []struct {
		name  string
		items []*types.Item
	}{
		{"visual", b.Visual},
		{"document", b.Documents},
		{"audio", b.Audio},
	} {
		if err := s.sendFamily(ctx, chat, family.name, family.items, &sum); err != nil {
			return sum, err
		}
	}

	return sum, nil
}

func (s *Sender) sendFamily(ctx context.Context, chat types.ChatID, name string, items []*types.Item, sum *Summary) error {
	size := s.GroupSize
	if size <= 0 || size > MaxGroupSize {
		size = MaxGroupSize
	}
	for start := 0; start < len(items); start += size {
		if start > 0 {
			if err := s.Sleep(ctx, s.ChunkDelay); err != nil {
				return err
			}
		}
		end := min(start+size, len(items))
		chunk := items[start:end]

		err := s.policy.Execute(ctx, s.Sleep, func() error {
			return s.sendChunk(ctx, chat, chunk)
		})
		if err := s.record(sum, err, name, len(chunk)); err != nil {
			return err
		}
	}
	return nil
}

func (s *Sender) sendChunk(ctx context.Context, chat types.ChatID, chunk []*types.Item) error {
	if len(chunk) == 1 {
		_, err := s.transport.Send(ctx, chat, ItemMessage(chunk[0]))
		return err
	}
	media := make([]Message, len(chunk))
	for i, item := range chunk {
		media[i] = ItemMessage(item)
	}
	return s.transport.SendGroup(ctx, chat, media)
}

// record tallies one send outcome and returns a non-nil error only when
// the whole call must stop.
func (s *Sender) record(sum *Summary, err error, family string, items int) error {
	if err == nil {
		sum.Sent++
		return nil
	}
	sum.Failed++
	if errors.Is(err, ErrUnauthorized) {
		slog.Error("delivery aborted: not authorized", "family", family)
		return fmt.Errorf("send %s: %w", family, err)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	slog.Error("send abandoned", "family", family, "items", items, "error", err)
	return nil
}
