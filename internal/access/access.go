// Package access decides whether a user may read a collection.
package access

import (
	"context"
	"errors"
	"fmt"

	"github.com/user/collectbot/internal/session"
	"github.com/user/collectbot/internal/types"
)

var (
	ErrNotFound = errors.New("collection not found")
	ErrDenied   = errors.New("access denied")
)

// Checker grants access to owners, configured admins, and users whose
// session holds the collection's active share code.
type Checker struct {
	store    types.Store
	sessions *session.Store
	admins   map[types.UserID]bool
}

func New(store types.Store, sessions *session.Store, admins []types.UserID) *Checker {
	set := make(map[types.UserID]bool, len(admins))
	for _, id := range admins {
		set[id] = true
	}
	return &Checker{store: store, sessions: sessions, admins: set}
}

// IsAdmin reports whether user is a configured admin.
func (c *Checker) IsAdmin(user types.UserID) bool {
	return c.admins[user]
}

// CanAccess returns the collection when user may read it.
func (c *Checker) CanAccess(ctx context.Context, user types.UserID, id types.CollectionID) (*types.Collection, error) {
	coll, err := c.store.Collection(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load collection: %w", err)
	}
	if coll == nil {
		return nil, ErrNotFound
	}
	if coll.OwnerID == user || c.admins[user] {
		return coll, nil
	}

	sess := c.sessions.Get(user)
	sess.Lock()
	shared := sess.SharedCode
	sess.Unlock()
	if shared == "" {
		return nil, ErrDenied
	}

	code, err := c.store.ShareCode(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load share code: %w", err)
	}
	if code == "" || code != shared {
		return nil, ErrDenied
	}
	return coll, nil
}

// CanModify returns the collection when user may change it: owners and
// admins only.
func (c *Checker) CanModify(ctx context.Context, user types.UserID, id types.CollectionID) (*types.Collection, error) {
	coll, err := c.store.Collection(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load collection: %w", err)
	}
	if coll == nil {
		return nil, ErrNotFound
	}
	if coll.OwnerID != user && !c.admins[user] {
		return nil, ErrDenied
	}
	return coll, nil
}
