package collector

import (
	"strconv"
	"strings"

	"github.com/user/collectbot/internal/types"
)

// Callback actions carried in inline button data as "action:arg:arg".
const (
	CbMain        = "main"
	CbMenu        = "menu"
	CbCollections = "collections"
	CbPage        = "page"
	CbGroup       = "group"
	CbPageMenu    = "pageall"
	CbPageKind    = "pagekind"
	CbInfo        = "info"
	CbSendAll     = "sendall"
	CbSelect      = "select"
	CbManage      = "manage"
	CbDelete      = "delete"
	CbDeleteItems = "delitems"
	CbShare       = "share"
	CbShareRegen  = "share_regen"
	CbShareRevoke = "share_revoke"
	CbShareStats  = "share_stats"
	CbExport      = "export"
	CbCancel      = "cancel"
	CbScroll      = "scroll"
	CbExitShared  = "exit_shared"
)

// Main menu entries, the argument of CbMenu.
const (
	MenuNewCollection = "new"
	MenuCollections   = "collections"
	MenuAccessCode    = "access"
	MenuImport        = "import"
	MenuDetectID      = "id"
)

// Callback is parsed button data.
type Callback struct {
	Action string
	Args   []string
}

// ParseCallback splits button data into its action and arguments.
func ParseCallback(data string) Callback {
	parts := strings.Split(data, ":")
	return Callback{Action: parts[0], Args: parts[1:]}
}

// Int returns argument i as an integer, or ok=false.
func (c Callback) Int(i int) (int64, bool) {
	if i >= len(c.Args) {
		return 0, false
	}
	n, err := strconv.ParseInt(c.Args[i], 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// Collection returns argument 0 as a collection id.
func (c Callback) Collection() (types.CollectionID, bool) {
	n, ok := c.Int(0)
	return types.CollectionID(n), ok && n > 0
}

// Arg returns argument i or "".
func (c Callback) Arg(i int) string {
	if i >= len(c.Args) {
		return ""
	}
	return c.Args[i]
}

func cb(action string, args ...any) string {
	var b strings.Builder
	b.WriteString(action)
	for _, a := range args {
		b.WriteByte(':')
		switch v := a.(type) {
		case string:
			b.WriteString(v)
		case int:
			b.WriteString(strconv.Itoa(v))
		case types.CollectionID:
			b.WriteString(v.String())
		case types.Kind:
			b.WriteString(string(v))
		}
	}
	return b.String()
}
