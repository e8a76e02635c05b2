// internal/types/models.go
package types

import (
	"time"
)

// Kind is the content kind of a stored item.
type Kind string

const (
	KindPhoto    Kind = "photo"
	KindVideo    Kind = "video"
	KindDocument Kind = "document"
	KindAudio    Kind = "audio"
	KindText     Kind = "text"
)

// Valid reports whether k is one of the known content kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindPhoto, KindVideo, KindDocument, KindAudio, KindText:
		return true
	}
	return false
}

type Item struct {
	ID           ItemID       `json:"id"`
	CollectionID CollectionID `json:"collection_id"`
	Kind         Kind         `json:"kind"`
	Handle       string       `json:"handle,omitempty"`
	Text         string       `json:"text,omitempty"`
	FileName     string       `json:"file_name,omitempty"`
	FileSize     int64        `json:"file_size,omitempty"`
	AddedAt      time.Time    `json:"added_at"`
}

type Collection struct {
	ID      CollectionID `json:"id"`
	Name    string       `json:"name"`
	OwnerID UserID       `json:"owner_id"`
}

type User struct {
	ID        UserID    `json:"id"`
	Username  string    `json:"username,omitempty"`
	FirstName string    `json:"first_name,omitempty"`
	LastName  string    `json:"last_name,omitempty"`
	FirstSeen time.Time `json:"first_seen"`
}

// DisplayName renders a user the way activity logs show them:
// "First @username" when a username exists, otherwise the numeric id.
func (u User) DisplayName() string {
	if u.Username == "" {
		return u.ID.String()
	}
	name := u.FirstName
	if name == "" {
		name = "Unknown"
	}
	return name + " @" + u.Username
}

type Share struct {
	CollectionID CollectionID `json:"collection_id"`
	Code         string       `json:"code"`
	CreatedBy    UserID       `json:"created_by"`
	CreatedAt    time.Time    `json:"created_at"`
	Active       bool         `json:"active"`
}

type ShareStats struct {
	Code          string    `json:"code"`
	TotalAccesses int       `json:"total_accesses"`
	UniqueUsers   int       `json:"unique_users"`
	LastAccess    time.Time `json:"last_access,omitempty"`
}
