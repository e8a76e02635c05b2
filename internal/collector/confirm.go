package collector

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/user/collectbot/internal/delivery"
	"github.com/user/collectbot/internal/notify"
	"github.com/user/collectbot/internal/types"
	"github.com/user/collectbot/internal/verify"
)

// Confirmation is the result of matching user input against a pending code.
type Confirmation struct {
	Action     verify.Action
	Outcome    verify.Outcome
	Collection *types.Collection
	// MessageID is the message that displayed the code.
	MessageID int
	Total     int
	Summary   delivery.Summary
}

// RequestDeliverAll issues a code that must be echoed back before the whole
// collection is sent. messageID is the message the returned view replaces.
func (s *Service) RequestDeliverAll(ctx context.Context, user types.UserID, id types.CollectionID, messageID int) (View, error) {
	coll, err := s.access.CanAccess(ctx, user, id)
	if err != nil {
		return View{}, err
	}
	total, err := s.store.CountItems(ctx, id)
	if err != nil {
		return View{}, fmt.Errorf("count items: %w", err)
	}
	if total == 0 {
		return View{}, ErrEmptyCollection
	}

	code := s.codes.Issue(user, verify.ActionSendCollection, verify.Payload{CollectionID: id, MessageID: messageID})
	text := fmt.Sprintf("Confirm sending the whole collection\n\n"+
		"You are about to receive all of %q (%d items). This can take a while.\n\n"+
		"To confirm, send this code:\n%d", coll.Name, total, code)
	return View{
		Text:     text,
		Keyboard: delivery.Keyboard{delivery.Row(delivery.Button{Text: "Cancel", Data: cb(CbPage, id, 1)})},
	}, nil
}

// RequestDelete issues a code that must be echoed back before a collection
// is deleted.
func (s *Service) RequestDelete(ctx context.Context, user types.UserID, id types.CollectionID, messageID int) (View, error) {
	coll, err := s.access.CanModify(ctx, user, id)
	if err != nil {
		return View{}, err
	}
	total, err := s.store.CountItems(ctx, id)
	if err != nil {
		return View{}, fmt.Errorf("count items: %w", err)
	}

	code := s.codes.Issue(user, verify.ActionDeleteCollection, verify.Payload{CollectionID: id, MessageID: messageID})
	text := fmt.Sprintf("Delete this collection?\n\nName: %s\nItems: %d\n\n"+
		"To confirm, send this code:\n%d", coll.Name, total, code)
	return View{
		Text:     text,
		Keyboard: delivery.Keyboard{delivery.Row(delivery.Button{Text: "Cancel", Data: cb(CbManage, id)})},
	}, nil
}

// Confirm checks input against the user's pending codes and runs the
// gated action on a match. An Outcome of NotPending means no code was
// waiting and input should be handled as ordinary text.
func (s *Service) Confirm(ctx context.Context, user types.UserID, chat types.ChatID, input string) (Confirmation, error) {
	action, outcome, payload := s.codes.Match(user, input)
	if outcome == verify.NotPending {
		return Confirmation{Outcome: verify.NotPending}, nil
	}
	res := Confirmation{Action: action, Outcome: outcome, MessageID: payload.MessageID}
	if outcome != verify.Matched {
		slog.Debug("verification failed", "user_id", int64(user), "action", string(action), "outcome", outcome.String())
		return res, nil
	}

	switch action {
	case verify.ActionSendCollection:
		coll, total, sum, err := s.DeliverAll(ctx, user, chat, payload.CollectionID)
		res.Collection, res.Total, res.Summary = coll, total, sum
		return res, err
	case verify.ActionDeleteCollection:
		coll, err := s.DeleteCollection(ctx, user, payload.CollectionID)
		res.Collection = coll
		return res, err
	}
	return res, nil
}

// DeliverAll sends every item of a collection. Access is re-checked since
// time has passed since the code was issued.
func (s *Service) DeliverAll(ctx context.Context, user types.UserID, chat types.ChatID, id types.CollectionID) (*types.Collection, int, delivery.Summary, error) {
	coll, err := s.access.CanAccess(ctx, user, id)
	if err != nil {
		return nil, 0, delivery.Summary{}, err
	}
	items, err := s.store.Items(ctx, id, 0, 0)
	if err != nil {
		return coll, 0, delivery.Summary{}, fmt.Errorf("load collection: %w", err)
	}
	if len(items) == 0 {
		return coll, 0, delivery.Summary{}, ErrEmptyCollection
	}

	s.say(ctx, chat, fmt.Sprintf("Sending %d items from %q. This will take a while.", len(items), coll.Name))
	sum, err := s.sender.Deliver(ctx, chat, items)

	s.activity(notify.Activity{
		Action:         notify.ActionFilesSent,
		User:           s.displayUser(ctx, user),
		Failed:         err != nil,
		CollectionID:   id,
		CollectionName: coll.Name,
		Extra: []notify.Field{
			{Key: "items", Value: strconv.Itoa(len(items))},
			{Key: "failed batches", Value: strconv.Itoa(sum.Failed)},
		},
	})
	return coll, len(items), sum, err
}

// DeleteCollection removes a collection the user owns (or any, for admins)
// and clears it as the user's active target.
func (s *Service) DeleteCollection(ctx context.Context, user types.UserID, id types.CollectionID) (*types.Collection, error) {
	coll, err := s.access.CanModify(ctx, user, id)
	if err != nil {
		return nil, err
	}
	if err := s.store.DeleteCollection(ctx, id); err != nil {
		return coll, err
	}

	sess := s.sessions.Get(user)
	sess.Lock()
	if sess.ActiveCollection == id {
		sess.ActiveCollection = 0
	}
	delete(sess.Ingest, id)
	sess.Unlock()

	s.activity(notify.Activity{
		Action:         notify.ActionCollectionDeleted,
		User:           s.displayUser(ctx, user),
		CollectionID:   id,
		CollectionName: coll.Name,
	})
	return coll, nil
}
