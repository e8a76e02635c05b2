package notify

import (
	"fmt"
	"strings"
	"time"

	"github.com/user/collectbot/internal/delivery"
	"github.com/user/collectbot/internal/types"
)

// Action is an audited user action.
type Action string

const (
	ActionFileSaved         Action = "FILE_SAVED"
	ActionFileArchived      Action = "FILE_ARCHIVED"
	ActionFilesSent         Action = "FILES_SENT"
	ActionCollectionDeleted Action = "COLLECTION_DELETED"
	ActionShareCreated      Action = "SHARE_CREATED"
	ActionShareAccessed     Action = "SHARE_ACCESSED"
	ActionShareRevoked      Action = "SHARE_REVOKED"
)

var actionNames = map[Action]string{
	ActionFileSaved:         "File saved",
	ActionFileArchived:      "File added to collection",
	ActionFilesSent:         "Files sent",
	ActionCollectionDeleted: "Collection deleted",
	ActionShareCreated:      "Share created",
	ActionShareAccessed:     "Share accessed",
	ActionShareRevoked:      "Share revoked",
}

// Field is one extra key/value line in an activity entry.
type Field struct {
	Key   string
	Value string
}

// Activity describes one audited event.
type Activity struct {
	Action         Action
	User           types.User
	Failed         bool
	CollectionID   types.CollectionID
	CollectionName string
	ItemID         types.ItemID
	Extra          []Field
	At             time.Time
}

// Format renders the entry as plain text lines.
func (a Activity) Format() string {
	at := a.At
	if at.IsZero() {
		at = time.Now()
	}

	name, ok := actionNames[a.Action]
	if !ok {
		name = string(a.Action)
	}
	if a.Action == ActionFileArchived {
		switch {
		case a.CollectionName != "":
			name = fmt.Sprintf("%s %q", name, a.CollectionName)
		case a.CollectionID != 0:
			name = fmt.Sprintf("%s %d", name, a.CollectionID)
		}
	}

	status := "ok"
	if a.Failed {
		status = "failed"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s\n", at.UTC().Format("2006-01-02 15:04:05 UTC"))
	fmt.Fprintf(&b, "Action: %s\n", name)
	fmt.Fprintf(&b, "User: %s\n", a.User.DisplayName())
	if a.ItemID != 0 {
		fmt.Fprintf(&b, "Item: %d\n", a.ItemID)
	}
	fmt.Fprintf(&b, "Status: %s", status)
	for _, f := range a.Extra {
		fmt.Fprintf(&b, "\n  %s: %s", f.Key, f.Value)
	}
	return b.String()
}

// ActivityLog builds an activity notification for chat.
func ActivityLog(chat types.ChatID, a Activity) *Notification {
	return &Notification{
		ID:      types.NewNotificationID(),
		Kind:    KindActivity,
		Chat:    chat,
		Message: delivery.TextMessage(a.Format()),
	}
}

// ViewLink is the deep link that opens an item in a private chat with the
// bot.
func ViewLink(botName string, item types.ItemID) string {
	return fmt.Sprintf("https://t.me/%s?start=view_%d", botName, item)
}

// ArchivePointer builds the notification announcing a saved item, with a
// button that deep-links to it. The button is omitted when botName is
// unknown.
func ArchivePointer(chat types.ChatID, botName string, a Activity) *Notification {
	a.Action = ActionFileArchived
	msg := delivery.TextMessage(a.Format())
	if botName != "" && a.ItemID != 0 {
		msg.Keyboard = delivery.Keyboard{
			delivery.Row(delivery.Button{Text: "View file (admins only)", URL: ViewLink(botName, a.ItemID)}),
		}
	}
	return &Notification{
		ID:      types.NewNotificationID(),
		Kind:    KindArchive,
		Chat:    chat,
		Message: msg,
	}
}
