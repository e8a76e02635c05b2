package collector

import (
	"context"
	"crypto/rand"
	"fmt"
	"strings"

	"github.com/user/collectbot/internal/delivery"
	"github.com/user/collectbot/internal/notify"
	"github.com/user/collectbot/internal/types"
)

const (
	shareCodeLen      = 8
	shareCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
)

func newShareCode() string {
	buf := make([]byte, shareCodeLen)
	if _, err := rand.Read(buf); err != nil {
		panic(fmt.Sprintf("crypto/rand: %v", err))
	}
	for i, b := range buf {
		buf[i] = shareCodeAlphabet[int(b)%len(shareCodeAlphabet)]
	}
	return string(buf)
}

// CreateShare returns the collection's active share code, creating one if
// none exists. regenerate replaces an existing code, invalidating it.
func (s *Service) CreateShare(ctx context.Context, user types.UserID, id types.CollectionID, regenerate bool) (string, error) {
	coll, err := s.access.CanModify(ctx, user, id)
	if err != nil {
		return "", err
	}
	if !regenerate {
		code, err := s.store.ShareCode(ctx, id)
		if err != nil {
			return "", err
		}
		if code != "" {
			return code, nil
		}
	}

	code := newShareCode()
	if err := s.store.CreateShare(ctx, id, user, code); err != nil {
		return "", err
	}
	s.activity(notify.Activity{
		Action:         notify.ActionShareCreated,
		User:           s.displayUser(ctx, user),
		CollectionID:   id,
		CollectionName: coll.Name,
		Extra:          []notify.Field{{Key: "code", Value: code}},
	})
	return code, nil
}

// RevokeShare disables the collection's share code.
func (s *Service) RevokeShare(ctx context.Context, user types.UserID, id types.CollectionID) error {
	coll, err := s.access.CanModify(ctx, user, id)
	if err != nil {
		return err
	}
	if err := s.store.RevokeShare(ctx, id); err != nil {
		return err
	}
	s.activity(notify.Activity{
		Action:         notify.ActionShareRevoked,
		User:           s.displayUser(ctx, user),
		CollectionID:   id,
		CollectionName: coll.Name,
	})
	return nil
}

// ShareView renders the share panel of a collection, creating a code on
// first use.
func (s *Service) ShareView(ctx context.Context, user types.UserID, id types.CollectionID, regenerate bool) (View, error) {
	code, err := s.CreateShare(ctx, user, id, regenerate)
	if err != nil {
		return View{}, err
	}
	text := fmt.Sprintf("Share code: %s\n\nOthers can open this collection with /access %s", code, code)
	return View{
		Text: text,
		Keyboard: delivery.Keyboard{
			delivery.Row(delivery.Button{Text: "Access stats", Data: cb(CbShareStats, id)}),
			delivery.Row(delivery.Button{Text: "New code", Data: cb(CbShareRegen, id)}),
			delivery.Row(delivery.Button{Text: "Stop sharing", Data: cb(CbShareRevoke, id)}),
			delivery.Row(delivery.Button{Text: "Back", Data: cb(CbManage, id)}),
		},
	}, nil
}

// ShareStats summarizes redemptions of the collection's active code.
func (s *Service) ShareStats(ctx context.Context, user types.UserID, id types.CollectionID) (*types.ShareStats, error) {
	if _, err := s.access.CanModify(ctx, user, id); err != nil {
		return nil, err
	}
	code, err := s.store.ShareCode(ctx, id)
	if err != nil {
		return nil, err
	}
	if code == "" {
		return nil, ErrInvalidShareCode
	}
	return s.store.ShareStats(ctx, code)
}

// RedeemShare grants the user read access to the collection behind code
// for the rest of their session.
func (s *Service) RedeemShare(ctx context.Context, user types.UserID, code string) (*types.Collection, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return nil, ErrInvalidShareCode
	}
	coll, err := s.store.CollectionByShareCode(ctx, code)
	if err != nil {
		return nil, err
	}
	if coll == nil {
		return nil, ErrInvalidShareCode
	}

	sess := s.sessions.Get(user)
	sess.Lock()
	sess.SharedCode = code
	sess.Unlock()

	if err := s.store.LogShareAccess(ctx, code, user); err != nil {
		return coll, err
	}
	s.activity(notify.Activity{
		Action:         notify.ActionShareAccessed,
		User:           s.displayUser(ctx, user),
		CollectionID:   coll.ID,
		CollectionName: coll.Name,
		Extra:          []notify.Field{{Key: "code", Value: code}},
	})
	return coll, nil
}

// ExitShared drops the share access the user redeemed, along with the item
// ids their last info page allowed. It reports whether any access was held.
func (s *Service) ExitShared(user types.UserID) bool {
	sess := s.sessions.Get(user)
	sess.Lock()
	defer sess.Unlock()
	had := sess.SharedCode != ""
	sess.SharedCode = ""
	clear(sess.AllowedItems)
	return had
}
