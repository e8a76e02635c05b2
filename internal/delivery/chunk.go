package delivery

import (
	"log/slog"

	"github.com/user/collectbot/internal/types"
)

// Batches is a heterogeneous item list split into the families a provider
// can group: photos and videos share an album, documents and audio each get
// their own, and text is always sent one message at a time.
type Batches struct {
	Visual    []*types.Item
	Documents []*types.Item
	Audio     []*types.Item
	Texts     []*types.Item
}

// Len returns the number of items across all families.
func (b Batches) Len() int {
	return len(b.Visual) + len(b.Documents) + len(b.Audio) + len(b.Texts)
}

// Chunk partitions items by family, preserving relative order. Items that
// need a content handle but lack one, text items with no text, and unknown
// kinds are dropped and logged so one corrupt row cannot abort a send.
func Chunk(items []*types.Item) Batches {
	var b Batches
	for _, item := range items {
		if item == nil {
			continue
		}
		if item.Kind == types.KindText || (item.Handle == "" && item.Text != "") {
			if item.Text == "" {
				slog.Warn("dropping empty text item", "item_id", int64(item.ID))
				continue
			}
			b.Texts = append(b.Texts, item)
			continue
		}
		if item.Handle == "" {
			slog.Warn("dropping item without content handle", "item_id", int64(item.ID), "kind", string(item.Kind))
			continue
		}
		switch item.Kind {
		case types.KindPhoto, types.KindVideo:
			b.Visual = append(b.Visual, item)
		case types.KindDocument:
			b.Documents = append(b.Documents, item)
		case types.KindAudio:
			b.Audio = append(b.Audio, item)
		default:
			slog.Warn("dropping item with unknown kind", "item_id", int64(item.ID), "kind", string(item.Kind))
		}
	}
	return b
}
