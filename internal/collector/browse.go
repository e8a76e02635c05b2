package collector

import (
	"context"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"strings"

	"github.com/user/collectbot/internal/delivery"
	"github.com/user/collectbot/internal/paging"
	"github.com/user/collectbot/internal/types"
)

// infoGroupSize is the number of items listed per info page.
const infoGroupSize = 10

var kindLabels = map[types.Kind]string{
	types.KindPhoto:    "Photo",
	types.KindVideo:    "Video",
	types.KindDocument: "Document",
	types.KindAudio:    "Audio",
	types.KindText:     "Text",
}

// RenderPage renders the browsing view of one page: a header with the
// visible range and one button per group.
func (s *Service) RenderPage(ctx context.Context, user types.UserID, id types.CollectionID, page int) (View, error) {
	coll, err := s.access.CanAccess(ctx, user, id)
	if err != nil {
		return View{}, err
	}
	total, err := s.store.CountItems(ctx, id)
	if err != nil {
		return View{}, fmt.Errorf("count items: %w", err)
	}
	if total == 0 {
		return View{
			Text:     fmt.Sprintf("Collection %q is empty.", coll.Name),
			Keyboard: delivery.Keyboard{delivery.Row(mainButton())},
		}, nil
	}

	w := paging.Page(total, page, s.pageSize)
	text := fmt.Sprintf("Collection: %s\nShowing items %d-%d of %d\nPage %d of %d",
		coll.Name, w.FirstIndex(), w.LastIndex(), w.TotalItems, w.Number, w.TotalPages)
	shared := coll.OwnerID != user && !s.access.IsAdmin(user)
	return View{Text: text, Keyboard: s.pageKeyboard(id, w, shared)}, nil
}

// pageKeyboard lays out the browsing buttons. shared adds an exit button
// for viewers who reached the collection through a share code.
func (s *Service) pageKeyboard(id types.CollectionID, w paging.Window, shared bool) delivery.Keyboard {
	kb := delivery.Keyboard{
		delivery.Row(
			delivery.Button{Text: "Select all", Data: cb(CbPageMenu, id, w.Number)},
			delivery.Button{Text: "One by one", Data: cb(CbScroll, id, w.Offset)},
		),
	}

	groups := paging.GroupsInPage(w.ItemsInPage, s.groupSize)
	var row []delivery.Button
	for idx := 1; idx <= groups; idx++ {
		label := paging.GroupLabel(w.Number, idx)
		row = append(row, delivery.Button{
			Text: fmt.Sprint(label),
			Data: cb(CbGroup, id, w.Number, idx),
		})
		if len(row) == 5 {
			kb = append(kb, row)
			row = nil
		}
	}
	if len(row) > 0 {
		kb = append(kb, row)
	}

	var nav []delivery.Button
	if w.HasPrev() {
		nav = append(nav, delivery.Button{Text: "Previous", Data: cb(CbPage, id, w.Number-1)})
	}
	if w.HasNext() {
		nav = append(nav, delivery.Button{Text: "Next", Data: cb(CbPage, id, w.Number+1)})
	}
	if len(nav) > 0 {
		kb = append(kb, nav)
	}

	kb = append(kb,
		delivery.Row(
			delivery.Button{Text: "File info", Data: cb(CbInfo, id, w.Number, 0)},
			delivery.Button{Text: "Send whole collection", Data: cb(CbSendAll, id)},
		),
	)
	if shared {
		kb = append(kb, delivery.Row(delivery.Button{Text: "Exit shared collection", Data: CbExitShared}))
	}
	return append(kb, delivery.Row(mainButton()))
}

// ScrollItem shows the single item at index (0-based, clamped to the
// collection) with previous and next buttons. The message at messageID is
// replaced by a fresh one, since a media message cannot become another
// kind in place.
func (s *Service) ScrollItem(ctx context.Context, user types.UserID, chat types.ChatID, id types.CollectionID, index, messageID int) error {
	if _, err := s.access.CanAccess(ctx, user, id); err != nil {
		return err
	}
	total, err := s.store.CountItems(ctx, id)
	if err != nil {
		return fmt.Errorf("count items: %w", err)
	}
	if total == 0 {
		return ErrEmptyCollection
	}
	index = max(0, min(index, total-1))
	items, err := s.store.Items(ctx, id, index, 1)
	if err != nil {
		return fmt.Errorf("load item: %w", err)
	}
	if len(items) == 0 {
		return ErrEmptyCollection
	}

	msg := scrollMessage(id, items[0], index, total)
	if messageID != 0 {
		if err := s.transport.Delete(ctx, chat, messageID); err != nil {
			slog.Debug("delete scroll message failed", "chat_id", int64(chat), "error", err)
		}
	}
	if _, err := s.transport.Send(ctx, chat, msg); err != nil {
		if errors.Is(err, delivery.ErrUnauthorized) {
			return err
		}
		slog.Warn("send scroll item failed", "collection_id", int64(id), "index", index, "error", err)
		msg.Kind, msg.Handle = types.KindText, ""
		msg.Text = "Could not load this item.\n\n" + msg.Text
		if _, err := s.transport.Send(ctx, chat, msg); err != nil {
			return err
		}
	}
	return nil
}

func scrollMessage(id types.CollectionID, it *types.Item, index, total int) delivery.Message {
	text := fmt.Sprintf("Item %d of %d", index+1, total)
	if it.Text != "" {
		text += "\n\n" + it.Text
	}

	var nav []delivery.Button
	if index > 0 {
		nav = append(nav, delivery.Button{Text: "Previous", Data: cb(CbScroll, id, index-1)})
	}
	if index < total-1 {
		nav = append(nav, delivery.Button{Text: "Next", Data: cb(CbScroll, id, index+1)})
	}
	kb := delivery.Keyboard{}
	if len(nav) > 0 {
		kb = append(kb, nav)
	}
	kb = append(kb, delivery.Row(delivery.Button{Text: "Back to browsing", Data: cb(CbPage, id, 1)}))

	msg := delivery.Message{Kind: it.Kind, Handle: it.Handle, Text: text, Keyboard: kb}
	if it.Kind == types.KindText || it.Handle == "" || !it.Kind.Valid() {
		msg.Kind, msg.Handle = types.KindText, ""
	}
	return msg
}

// DeliverGroup sends the items of one group of a page to chat.
func (s *Service) DeliverGroup(ctx context.Context, user types.UserID, chat types.ChatID, id types.CollectionID, page, group int) (delivery.Summary, error) {
	if _, err := s.access.CanAccess(ctx, user, id); err != nil {
		return delivery.Summary{}, err
	}
	total, err := s.store.CountItems(ctx, id)
	if err != nil {
		return delivery.Summary{}, fmt.Errorf("count items: %w", err)
	}
	w := paging.Page(total, page, s.pageSize)
	if group < 1 || group > paging.GroupsInPage(w.ItemsInPage, s.groupSize) {
		return delivery.Summary{}, ErrEmptyGroup
	}

	start, end := paging.GroupRange(w.Number, group, s.pageSize, s.groupSize)
	items, err := s.store.Items(ctx, id, start, end-start)
	if err != nil {
		return delivery.Summary{}, fmt.Errorf("load group: %w", err)
	}
	if len(items) == 0 {
		return delivery.Summary{}, ErrEmptyGroup
	}

	label := paging.GroupLabel(w.Number, group)
	s.say(ctx, chat, fmt.Sprintf("Sending %d items from group %d...", len(items), label))
	return s.sender.Deliver(ctx, chat, items)
}

// PageMenu renders the "select all" menu for a page with per-kind counts.
func (s *Service) PageMenu(ctx context.Context, user types.UserID, id types.CollectionID, page int) (View, error) {
	if _, err := s.access.CanAccess(ctx, user, id); err != nil {
		return View{}, err
	}
	w, items, err := s.pageItems(ctx, id, page)
	if err != nil {
		return View{}, err
	}

	counts := make(map[types.Kind]int)
	for _, it := range items {
		counts[it.Kind]++
	}

	kb := delivery.Keyboard{}
	for _, k := range []types.Kind{types.KindVideo, types.KindPhoto, types.KindDocument} {
		if counts[k] == 0 {
			continue
		}
		kb = append(kb, delivery.Row(delivery.Button{
			Text: fmt.Sprintf("Send %ss (%d)", strings.ToLower(kindLabels[k]), counts[k]),
			Data: cb(CbPageKind, id, w.Number, k),
		}))
	}
	kb = append(kb,
		delivery.Row(delivery.Button{Text: fmt.Sprintf("Send everything (%d)", len(items)), Data: cb(CbPageKind, id, w.Number, "all")}),
		delivery.Row(delivery.Button{Text: "Back", Data: cb(CbPage, id, w.Number)}),
	)
	return View{
		Text:     fmt.Sprintf("All items on page %d selected. What should be sent?", w.Number),
		Keyboard: kb,
	}, nil
}

// DeliverPage sends every item on a page, or only those of kind when kind
// is non-empty.
func (s *Service) DeliverPage(ctx context.Context, user types.UserID, chat types.ChatID, id types.CollectionID, page int, kind types.Kind) (delivery.Summary, error) {
	if _, err := s.access.CanAccess(ctx, user, id); err != nil {
		return delivery.Summary{}, err
	}
	_, items, err := s.pageItems(ctx, id, page)
	if err != nil {
		return delivery.Summary{}, err
	}
	if kind != "" {
		filtered := items[:0]
		for _, it := range items {
			if it.Kind == kind {
				filtered = append(filtered, it)
			}
		}
		items = filtered
	}
	if len(items) == 0 {
		return delivery.Summary{}, ErrEmptyGroup
	}
	s.say(ctx, chat, fmt.Sprintf("Sending %d items...", len(items)))
	return s.sender.Deliver(ctx, chat, items)
}

func (s *Service) pageItems(ctx context.Context, id types.CollectionID, page int) (paging.Window, []*types.Item, error) {
	total, err := s.store.CountItems(ctx, id)
	if err != nil {
		return paging.Window{}, nil, fmt.Errorf("count items: %w", err)
	}
	if total == 0 {
		return paging.Window{}, nil, ErrEmptyCollection
	}
	w := paging.Page(total, page, s.pageSize)
	items, err := s.store.Items(ctx, id, w.Offset, w.ItemsInPage)
	if err != nil {
		return w, nil, fmt.Errorf("load page: %w", err)
	}
	return w, items, nil
}

// InfoPage lists type, name and id of up to ten items from a page. The
// listed ids become fetchable by the user until their next command.
func (s *Service) InfoPage(ctx context.Context, user types.UserID, id types.CollectionID, page, infoPage int) (View, error) {
	if _, err := s.access.CanAccess(ctx, user, id); err != nil {
		return View{}, err
	}
	w, items, err := s.pageItems(ctx, id, page)
	if err != nil {
		return View{}, err
	}

	pages := (len(items) + infoGroupSize - 1) / infoGroupSize
	if infoPage < 0 || infoPage >= pages {
		infoPage = 0
	}
	start := infoPage * infoGroupSize
	end := min(start+infoGroupSize, len(items))
	shown := items[start:end]

	var b strings.Builder
	fmt.Fprintf(&b, "<b>File info, page %d</b>\n", w.Number)
	fmt.Fprintf(&b, "Showing %d-%d of %d\n\n", start+1, end, len(items))
	for _, it := range shown {
		name := it.FileName
		if name == "" {
			name = "(no file name)"
		}
		label, ok := kindLabels[it.Kind]
		if !ok {
			label = "File"
		}
		fmt.Fprintf(&b, "Type: %s\nName: %s\nID: <code>%d</code>\n----------\n", label, html.EscapeString(name), it.ID)
	}
	b.WriteString("\n<i>Send an ID to receive that file.</i>")

	sess := s.sessions.Get(user)
	sess.Lock()
	clear(sess.AllowedItems)
	for _, it := range shown {
		sess.AllowedItems[it.ID] = true
	}
	sess.Unlock()

	kb := delivery.Keyboard{}
	var nav []delivery.Button
	if infoPage > 0 {
		nav = append(nav, delivery.Button{Text: "Previous", Data: cb(CbInfo, id, w.Number, infoPage-1)})
	}
	if infoPage < pages-1 {
		nav = append(nav, delivery.Button{Text: "Next", Data: cb(CbInfo, id, w.Number, infoPage+1)})
	}
	if len(nav) > 0 {
		kb = append(kb, nav)
	}
	kb = append(kb,
		delivery.Row(delivery.Button{Text: "Back to browsing", Data: cb(CbPage, id, w.Number)}),
		delivery.Row(mainButton()),
	)
	return View{Text: b.String(), ParseMode: delivery.ParseHTML, Keyboard: kb}, nil
}

// AllowsItem reports whether id was listed on the user's last info page.
func (s *Service) AllowsItem(user types.UserID, id types.ItemID) bool {
	sess := s.sessions.Get(user)
	sess.Lock()
	defer sess.Unlock()
	return sess.AllowedItems[id]
}

// DeliverItem sends a single item. Admins may fetch any item; other users
// only items listed on their last info page of a collection they can read.
func (s *Service) DeliverItem(ctx context.Context, user types.UserID, chat types.ChatID, id types.ItemID) error {
	admin := s.access.IsAdmin(user)
	if !admin && !s.AllowsItem(user, id) {
		return ErrItemNotAllowed
	}
	item, err := s.store.Item(ctx, id)
	if err != nil {
		return fmt.Errorf("load item: %w", err)
	}
	if item == nil {
		return ErrItemNotAllowed
	}
	if !admin {
		if _, err := s.access.CanAccess(ctx, user, item.CollectionID); err != nil {
			return err
		}
	}
	sum, err := s.sender.Deliver(ctx, chat, []*types.Item{item})
	if err != nil {
		return err
	}
	if sum.Sent == 0 {
		return fmt.Errorf("send item %d failed", id)
	}
	return nil
}

// say posts a best-effort progress line.
func (s *Service) say(ctx context.Context, chat types.ChatID, text string) {
	if _, err := s.transport.Send(ctx, chat, delivery.TextMessage(text)); err != nil {
		slog.Debug("progress message failed", "chat_id", int64(chat), "error", err)
	}
}

func mainButton() delivery.Button {
	return delivery.Button{Text: "Main menu", Data: CbMain}
}
