// internal/types/interfaces.go
package types

import (
	"context"
)

type CollectionStore interface {
	CreateCollection(ctx context.Context, owner UserID, name string) (CollectionID, error)
	Collection(ctx context.Context, id CollectionID) (*Collection, error)
	Collections(ctx context.Context, owner UserID) ([]*Collection, error)
	DeleteCollection(ctx context.Context, id CollectionID) error
}

type ItemStore interface {
	AddItem(ctx context.Context, item *Item) (ItemID, error)
	Item(ctx context.Context, id ItemID) (*Item, error)
	Items(ctx context.Context, collection CollectionID, offset, limit int) ([]*Item, error)
	CountItems(ctx context.Context, collection CollectionID) (int, error)
	HasItem(ctx context.Context, collection CollectionID, handle string, size int64) (bool, error)
	DeleteItemByHandle(ctx context.Context, collection CollectionID, handle string) (bool, error)
}

type UserStore interface {
	UpsertUser(ctx context.Context, user *User) error
	User(ctx context.Context, id UserID) (*User, error)
}

type ShareStore interface {
	ShareCode(ctx context.Context, collection CollectionID) (string, error)
	CreateShare(ctx context.Context, collection CollectionID, by UserID, code string) error
	RevokeShare(ctx context.Context, collection CollectionID) error
	CollectionByShareCode(ctx context.Context, code string) (*Collection, error)
	LogShareAccess(ctx context.Context, code string, user UserID) error
	ShareStats(ctx context.Context, code string) (*ShareStats, error)
}

// Store is the full persistence surface used by the bot.
type Store interface {
	CollectionStore
	ItemStore
	UserStore
	ShareStore
}
