package delivery_test

import (
	"testing"

	"github.com/user/collectbot/internal/delivery"
	"github.com/user/collectbot/internal/types"
)

func item(id int64, kind types.Kind, handle, text string) *types.Item {
	return &types.Item{ID: types.ItemID(id), Kind: kind, Handle: handle, Text: text}
}

func ids(items []*types.Item) []int64 {
	out := make([]int64, len(items))
	for i, it := range items {
		out[i] = int64(it.ID)
	}
	return out
}

func equalIDs(a, b []int64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestChunkPartitionsByFamily(t *testing.T) {
	items := []*types.Item{
		item(1, types.KindPhoto, "p1", "caption"),
		item(2, types.KindDocument, "d1", ""),
		item(3, types.KindText, "", "hello"),
		item(4, types.KindVideo, "v1", ""),
		item(5, types.KindAudio, "a1", ""),
		item(6, types.KindDocument, "d2", ""),
		item(7, types.KindPhoto, "p2", ""),
		item(8, types.KindText, "", "world"),
	}

	b := delivery.Chunk(items)

	if got := ids(b.Visual); !equalIDs(got, []int64{1, 4, 7}) {
		t.Errorf("visual = %v", got)
	}
	if got := ids(b.Documents); !equalIDs(got, []int64{2, 6}) {
		t.Errorf("documents = %v", got)
	}
	if got := ids(b.Audio); !equalIDs(got, []int64{5}) {
		t.Errorf("audio = %v", got)
	}
	if got := ids(b.Texts); !equalIDs(got, []int64{3, 8}) {
		t.Errorf("texts = %v", got)
	}
	if b.Len() != len(items) {
		t.Errorf("expected every valid item exactly once, got %d of %d", b.Len(), len(items))
	}
}

func TestChunkDropsCorruptItems(t *testing.T) {
	items := []*types.Item{
		item(1, types.KindPhoto, "", ""),
		item(2, types.Kind("sticker"), "s1", ""),
		item(3, types.KindText, "", ""),
		nil,
		item(4, types.KindVideo, "v1", ""),
	}

	b := delivery.Chunk(items)
	if b.Len() != 1 || b.Visual[0].ID != 4 {
		t.Errorf("expected only item 4 to survive, got %+v", b)
	}
}

func TestChunkTreatsCaptionOnlyItemAsText(t *testing.T) {
	b := delivery.Chunk([]*types.Item{item(1, types.KindDocument, "", "recovered note")})
	if len(b.Texts) != 1 || len(b.Documents) != 0 {
		t.Errorf("expected handle-less item with text to go to texts, got %+v", b)
	}
}
