// internal/types/ids.go
package types

import (
	"strconv"

	"github.com/google/uuid"
)

type UserID int64
type ChatID int64
type CollectionID int64
type ItemID int64
type JobID string
type NotificationID string

func NewJobID() JobID {
	return JobID(uuid.New().String())
}

func NewNotificationID() NotificationID {
	return NotificationID(uuid.New().String())
}

func (u UserID) String() string {
	return strconv.FormatInt(int64(u), 10)
}

func (c CollectionID) String() string {
	return strconv.FormatInt(int64(c), 10)
}

func (i ItemID) String() string {
	return strconv.FormatInt(int64(i), 10)
}

// ParseCollectionID parses a decimal collection id as found in callback data.
func ParseCollectionID(s string) (CollectionID, error) {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, err
	}
	return CollectionID(n), nil
}
