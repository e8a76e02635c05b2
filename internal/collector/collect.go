package collector

import (
	"context"
	"fmt"
	"html"
	"strings"

	"github.com/user/collectbot/internal/delivery"
	"github.com/user/collectbot/internal/notify"
	"github.com/user/collectbot/internal/session"
	"github.com/user/collectbot/internal/types"
)

// maxNameLen bounds collection names so they fit in buttons and messages.
const maxNameLen = 64

// truncateName cuts name to at most n runes.
func truncateName(name string, n int) string {
	if r := []rune(name); len(r) > n {
		return strings.TrimSpace(string(r[:n]))
	}
	return name
}

// Collections lists the user's own collections.
func (s *Service) Collections(ctx context.Context, user types.UserID) ([]*types.Collection, error) {
	return s.store.Collections(ctx, user)
}

// CreateCollection creates a collection and makes it the active target.
func (s *Service) CreateCollection(ctx context.Context, user types.UserID, name string) (*types.Collection, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrInvalidName
	}
	name = truncateName(name, maxNameLen)

	existing, err := s.store.Collections(ctx, user)
	if err != nil {
		return nil, fmt.Errorf("list collections: %w", err)
	}
	for _, c := range existing {
		if strings.EqualFold(c.Name, name) {
			return c, ErrDuplicateName
		}
	}

	id, err := s.store.CreateCollection(ctx, user, name)
	if err != nil {
		return nil, err
	}
	coll := &types.Collection{ID: id, Name: name, OwnerID: user}
	s.activate(user, id)
	return coll, nil
}

// SelectCollection makes an existing collection the user's active target.
// Selecting resets that collection's ingestion status.
func (s *Service) SelectCollection(ctx context.Context, user types.UserID, id types.CollectionID) (*types.Collection, error) {
	coll, err := s.access.CanModify(ctx, user, id)
	if err != nil {
		return nil, err
	}
	s.activate(user, id)
	return coll, nil
}

func (s *Service) activate(user types.UserID, id types.CollectionID) {
	sess := s.sessions.Get(user)
	sess.Lock()
	sess.ActiveCollection = id
	sess.Mode = session.ModeNone
	sess.Unlock()
	s.status.Reset(user, id)
}

// StopCollecting clears the active target and its ingestion status. It
// returns the collection that was active, or zero.
func (s *Service) StopCollecting(user types.UserID) types.CollectionID {
	sess := s.sessions.Get(user)
	sess.Lock()
	id := sess.ActiveCollection
	sess.ActiveCollection = 0
	sess.Unlock()
	if id != 0 {
		s.status.Reset(user, id)
	}
	return id
}

// ActiveCollection returns the user's active target.
func (s *Service) ActiveCollection(ctx context.Context, user types.UserID) (*types.Collection, error) {
	sess := s.sessions.Get(user)
	sess.Lock()
	id := sess.ActiveCollection
	sess.Unlock()
	if id == 0 {
		return nil, ErrNoActiveCollection
	}

	coll, err := s.store.Collection(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load collection: %w", err)
	}
	if coll == nil {
		s.StopCollecting(user)
		return nil, ErrNoActiveCollection
	}
	return coll, nil
}

// IngestCount returns how many items were added to the active collection
// since it was selected.
func (s *Service) IngestCount(ctx context.Context, user types.UserID) (int, *types.Collection, error) {
	coll, err := s.ActiveCollection(ctx, user)
	if err != nil {
		return 0, nil, err
	}
	return s.status.Count(user, coll.ID), coll, nil
}

// Ingest stores item in the user's active collection, advances the status
// message and queues an archive pointer. Items already in the collection
// with the same handle and size are rejected with ErrDuplicateItem.
func (s *Service) Ingest(ctx context.Context, user types.UserID, chat types.ChatID, item *types.Item) (*types.Item, error) {
	coll, err := s.ActiveCollection(ctx, user)
	if err != nil {
		return nil, err
	}
	if !item.Kind.Valid() {
		return nil, fmt.Errorf("unsupported content kind %q", item.Kind)
	}

	if item.Handle != "" {
		dup, err := s.store.HasItem(ctx, coll.ID, item.Handle, item.FileSize)
		if err != nil {
			return nil, fmt.Errorf("check duplicate: %w", err)
		}
		if dup {
			return nil, ErrDuplicateItem
		}
	}

	item.CollectionID = coll.ID
	if _, err := s.store.AddItem(ctx, item); err != nil {
		return nil, fmt.Errorf("store item: %w", err)
	}

	s.status.NotifyIngested(ctx, user, chat, coll.ID, coll.Name)

	if s.notes != nil && s.activityChannel != 0 {
		s.notes.Enqueue(notify.ArchivePointer(s.activityChannel, s.botUsername(), notify.Activity{
			User:           s.displayUser(ctx, user),
			CollectionID:   coll.ID,
			CollectionName: coll.Name,
			ItemID:         item.ID,
		}))
	}
	return item, nil
}

// EnterDeleteMode makes subsequently sent files remove matching items from
// the collection instead of adding them.
func (s *Service) EnterDeleteMode(ctx context.Context, user types.UserID, id types.CollectionID) (View, error) {
	coll, err := s.access.CanModify(ctx, user, id)
	if err != nil {
		return View{}, err
	}
	sess := s.sessions.Get(user)
	sess.Lock()
	sess.Mode = session.ModeDeleteItems
	sess.DeleteTarget = id
	sess.Unlock()

	return View{
		Text:     fmt.Sprintf("Delete mode for %q.\nSend or forward the files to remove from the collection.", coll.Name),
		Keyboard: delivery.Keyboard{delivery.Row(delivery.Button{Text: "Done deleting", Data: CbMain})},
	}, nil
}

// DeleteItem removes the item with handle from the user's delete target.
func (s *Service) DeleteItem(ctx context.Context, user types.UserID, handle string) (bool, error) {
	sess := s.sessions.Get(user)
	sess.Lock()
	target := sess.DeleteTarget
	sess.Unlock()
	if target == 0 {
		return false, ErrNoActiveCollection
	}
	if _, err := s.access.CanModify(ctx, user, target); err != nil {
		return false, err
	}
	return s.store.DeleteItemByHandle(ctx, target, handle)
}

// CollectionsView lists the user's collections as buttons that open them.
func (s *Service) CollectionsView(ctx context.Context, user types.UserID) (View, error) {
	list, err := s.store.Collections(ctx, user)
	if err != nil {
		return View{}, fmt.Errorf("list collections: %w", err)
	}
	if len(list) == 0 {
		return View{
			Text: "You have no collections yet.",
			Keyboard: delivery.Keyboard{
				delivery.Row(delivery.Button{Text: "New collection", Data: cb(CbMenu, MenuNewCollection)}),
				delivery.Row(mainButton()),
			},
		}, nil
	}

	kb := delivery.Keyboard{}
	for _, c := range list {
		kb = append(kb, delivery.Row(delivery.Button{Text: c.Name, Data: cb(CbManage, c.ID)}))
	}
	kb = append(kb, delivery.Row(mainButton()))
	return View{Text: "Your collections:", Keyboard: kb}, nil
}

// ManageView shows the actions available on one collection.
func (s *Service) ManageView(ctx context.Context, user types.UserID, id types.CollectionID) (View, error) {
	coll, err := s.access.CanAccess(ctx, user, id)
	if err != nil {
		return View{}, err
	}
	total, err := s.store.CountItems(ctx, id)
	if err != nil {
		return View{}, fmt.Errorf("count items: %w", err)
	}

	kb := delivery.Keyboard{delivery.Row(delivery.Button{Text: "Browse", Data: cb(CbPage, id, 1)})}
	if coll.OwnerID == user || s.access.IsAdmin(user) {
		kb = append(kb,
			delivery.Row(delivery.Button{Text: "Add items", Data: cb(CbSelect, id)}),
			delivery.Row(delivery.Button{Text: "Remove items", Data: cb(CbDeleteItems, id)}),
			delivery.Row(delivery.Button{Text: "Export backup", Data: cb(CbExport, id)}),
			delivery.Row(delivery.Button{Text: "Share", Data: cb(CbShare, id)}),
			delivery.Row(delivery.Button{Text: "Delete collection", Data: cb(CbDelete, id)}),
		)
	}
	kb = append(kb, delivery.Row(delivery.Button{Text: "Back", Data: CbCollections}))
	return View{
		Text:     fmt.Sprintf("Collection: %s\nItems: %d", coll.Name, total),
		Keyboard: kb,
	}, nil
}

// MainMenu is the entry view shown by /start and the "Main menu" button.
func (s *Service) MainMenu() View {
	return View{
		Text: "Collect photos, videos, documents, audio and text into named collections.\n\nWhat would you like to do?",
		Keyboard: delivery.Keyboard{
			delivery.Row(delivery.Button{Text: "New collection", Data: cb(CbMenu, MenuNewCollection)}),
			delivery.Row(delivery.Button{Text: "My collections", Data: cb(CbMenu, MenuCollections)}),
			delivery.Row(delivery.Button{Text: "Enter access code", Data: cb(CbMenu, MenuAccessCode)}),
			delivery.Row(delivery.Button{Text: "Import backup", Data: cb(CbMenu, MenuImport)}),
			delivery.Row(delivery.Button{Text: "Detect file id", Data: cb(CbMenu, MenuDetectID)}),
		},
	}
}

// FileIDView reports the Telegram file id of an item sent in detect mode.
func FileIDView(it *types.Item) View {
	label, ok := kindLabels[it.Kind]
	if !ok {
		label = "File"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "<b>File ID detected</b>\n<code>%s</code>\n\nType: %s", html.EscapeString(it.Handle), label)
	if it.FileName != "" {
		fmt.Fprintf(&b, "\nName: %s", html.EscapeString(it.FileName))
	}
	if it.FileSize > 0 {
		fmt.Fprintf(&b, "\nSize: %d bytes", it.FileSize)
	}
	return View{
		Text:      b.String(),
		ParseMode: delivery.ParseHTML,
		Keyboard:  delivery.Keyboard{delivery.Row(mainButton())},
	}
}
