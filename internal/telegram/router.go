package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/user/collectbot/internal/collector"
	"github.com/user/collectbot/internal/delivery"
	"github.com/user/collectbot/internal/ingest"
	"github.com/user/collectbot/internal/session"
	"github.com/user/collectbot/internal/types"
	"github.com/user/collectbot/internal/verify"
)

const helpText = `Commands:
/start - main menu
/new <name> - create a collection and start adding to it
/collections - list your collections
/access <code> - open a shared collection
/status - items added in this session
/stop - stop adding to the active collection
/import - restore a collection from a backup file
/id - reply with the file id of every file you send
/help - this message

While a collection is active, every file or text you send is added to it.`

var detectIDView = collector.View{
	Text:     "File id detection is on. Send any file and I will reply with its id.",
	Keyboard: delivery.Keyboard{delivery.Row(delivery.Button{Text: "Main menu", Data: collector.CbMain})},
}

func (a *Adapter) handleMessage(ctx context.Context, msg *tgbotapi.Message) error {
	if msg.IsCommand() {
		return a.handleCommand(ctx, msg)
	}
	user, chat := types.UserID(msg.From.ID), types.ChatID(msg.Chat.ID)

	item, ok := itemFromMessage(msg)
	if !ok {
		return nil
	}
	if item.Kind == types.KindText {
		return a.handleText(ctx, user, chat, msg.Text)
	}

	switch a.svc.Mode(user) {
	case session.ModeDetectID:
		a.show(ctx, chat, 0, collector.FileIDView(item))
		return nil
	case session.ModeImport:
		if msg.Document == nil {
			a.reply(ctx, chat, "Send the backup as a document file.")
			return nil
		}
		return a.importBackup(ctx, user, chat, msg.Document)
	case session.ModeDeleteItems:
		removed, err := a.svc.DeleteItem(ctx, user, item.Handle)
		if err != nil {
			return err
		}
		if removed {
			a.reply(ctx, chat, "Removed from the collection.")
		} else {
			a.reply(ctx, chat, "That file is not in the collection.")
		}
		return nil
	}

	_, err := a.svc.Ingest(ctx, user, chat, item)
	return err
}

func (a *Adapter) handleCommand(ctx context.Context, msg *tgbotapi.Message) error {
	user, chat := types.UserID(msg.From.ID), types.ChatID(msg.Chat.ID)
	args := strings.TrimSpace(msg.CommandArguments())

	switch msg.Command() {
	case "start":
		if rest, ok := strings.CutPrefix(args, "view_"); ok && a.svc.IsAdmin(user) {
			id, err := strconv.ParseInt(rest, 10, 64)
			if err != nil {
				return collector.ErrItemNotAllowed
			}
			return a.svc.DeliverItem(ctx, user, chat, types.ItemID(id))
		}
		a.show(ctx, chat, 0, a.svc.MainMenu())

	case "help":
		a.reply(ctx, chat, helpText)

	case "new":
		if args == "" {
			a.svc.SetMode(user, session.ModeCreateCollection)
			a.reply(ctx, chat, "Send a name for the new collection.")
			return nil
		}
		return a.createCollection(ctx, user, chat, args)

	case "collections":
		view, err := a.svc.CollectionsView(ctx, user)
		if err != nil {
			return err
		}
		a.show(ctx, chat, 0, view)

	case "access":
		if args == "" {
			a.svc.SetMode(user, session.ModeAwaitShareCode)
			a.reply(ctx, chat, "Send the access code.")
			return nil
		}
		return a.redeem(ctx, user, chat, args)

	case "status":
		count, coll, err := a.svc.IngestCount(ctx, user)
		if err != nil {
			return err
		}
		a.reply(ctx, chat, fmt.Sprintf("Collecting into %q. Items added: %d", coll.Name, count))

	case "stop":
		a.stopCollecting(ctx, user, chat, 0)

	case "import":
		a.svc.SetMode(user, session.ModeImport)
		a.reply(ctx, chat, "Send the backup file (.txt) you exported earlier.")

	case "id":
		a.svc.SetMode(user, session.ModeDetectID)
		a.show(ctx, chat, 0, detectIDView)

	default:
		a.reply(ctx, chat, "Unknown command. Send /help for the list.")
	}
	return nil
}

func (a *Adapter) handleText(ctx context.Context, user types.UserID, chat types.ChatID, text string) error {
	res, err := a.svc.Confirm(ctx, user, chat, text)
	if res.Outcome != verify.NotPending {
		return a.confirmed(ctx, chat, res, err)
	}

	switch a.svc.Mode(user) {
	case session.ModeCreateCollection:
		return a.createCollection(ctx, user, chat, text)
	case session.ModeAwaitShareCode:
		return a.redeem(ctx, user, chat, text)
	case session.ModeImport:
		a.reply(ctx, chat, "Send the backup as a document file.")
		return nil
	case session.ModeDeleteItems:
		a.reply(ctx, chat, "Send the files you want to remove.")
		return nil
	case session.ModeDetectID:
		a.reply(ctx, chat, "Send a file to see its id. /start leaves this mode.")
		return nil
	}

	if id, err := strconv.ParseInt(strings.TrimSpace(text), 10, 64); err == nil && a.svc.AllowsItem(user, types.ItemID(id)) {
		return a.svc.DeliverItem(ctx, user, chat, types.ItemID(id))
	}
	_, err = a.svc.Ingest(ctx, user, chat, &types.Item{Kind: types.KindText, Text: text})
	return err
}

// confirmed reports the outcome of a verification code the user sent.
func (a *Adapter) confirmed(ctx context.Context, chat types.ChatID, res collector.Confirmation, err error) error {
	switch res.Outcome {
	case verify.Mismatch:
		a.reply(ctx, chat, "Wrong code. The action was cancelled.")
		return nil
	case verify.Expired:
		a.reply(ctx, chat, "That code has expired. Start again from the menu.")
		return nil
	}
	if res.MessageID != 0 {
		if derr := a.transport.Delete(ctx, chat, res.MessageID); derr != nil {
			slog.Debug("delete code message failed", "chat_id", int64(chat), "error", derr)
		}
	}
	if err != nil {
		return err
	}

	switch res.Action {
	case verify.ActionSendCollection:
		a.reply(ctx, chat, deliveryReport(res.Collection.Name, res.Total, res.Summary))
	case verify.ActionDeleteCollection:
		a.reply(ctx, chat, fmt.Sprintf("Collection %q deleted.", res.Collection.Name))
		a.show(ctx, chat, 0, a.svc.MainMenu())
	}
	return nil
}

func (a *Adapter) createCollection(ctx context.Context, user types.UserID, chat types.ChatID, name string) error {
	coll, err := a.svc.CreateCollection(ctx, user, name)
	if err != nil {
		return err
	}
	a.reply(ctx, chat, fmt.Sprintf("Collection %q created. Send files or text to add them, /stop when done.", coll.Name))
	return nil
}

func (a *Adapter) redeem(ctx context.Context, user types.UserID, chat types.ChatID, code string) error {
	coll, err := a.svc.RedeemShare(ctx, user, code)
	if err != nil {
		return err
	}
	a.svc.SetMode(user, session.ModeNone)
	view, err := a.svc.RenderPage(ctx, user, coll.ID, 1)
	if err != nil {
		return err
	}
	a.show(ctx, chat, 0, view)
	return nil
}

// stopCollecting ends ingestion, replacing messageID with the summary when
// it is set.
func (a *Adapter) stopCollecting(ctx context.Context, user types.UserID, chat types.ChatID, messageID int) {
	count, coll, err := a.svc.IngestCount(ctx, user)
	a.svc.StopCollecting(user)
	text := "Not collecting into any collection."
	if err == nil {
		text = fmt.Sprintf("Stopped collecting into %q. Items added: %d", coll.Name, count)
	}
	a.show(ctx, chat, messageID, collector.View{Text: text})
}

func (a *Adapter) importBackup(ctx context.Context, user types.UserID, chat types.ChatID, doc *tgbotapi.Document) error {
	if doc.FileSize > maxBackupSize {
		return collector.ErrInvalidBackup
	}
	data, err := a.download(ctx, doc.FileID)
	if err != nil {
		return err
	}
	res, err := a.svc.Import(ctx, user, doc.FileName, data)
	if err != nil {
		return err
	}
	a.reply(ctx, chat, fmt.Sprintf("Imported %d items into %q (%d skipped). It is now the active collection.",
		res.Imported, res.Collection.Name, res.Skipped))
	return nil
}

func (a *Adapter) handleCallback(ctx context.Context, q *tgbotapi.CallbackQuery) error {
	user, chat := types.UserID(q.From.ID), types.ChatID(q.Message.Chat.ID)
	msgID := q.Message.MessageID

	if q.Data == ingest.CallbackStatus {
		text := "Not collecting into any collection."
		if count, coll, err := a.svc.IngestCount(ctx, user); err == nil {
			text = fmt.Sprintf("%s: %d items added", coll.Name, count)
		}
		a.answer(q.ID, text, true)
		return nil
	}
	a.answer(q.ID, "", false)

	c := collector.ParseCallback(q.Data)
	id, _ := c.Collection()
	page, _ := c.Int(1)

	switch c.Action {
	case ingest.CallbackStop:
		a.stopCollecting(ctx, user, chat, msgID)

	case collector.CbMain:
		a.svc.SetMode(user, session.ModeNone)
		a.show(ctx, chat, msgID, a.svc.MainMenu())

	case collector.CbMenu:
		return a.menu(ctx, user, chat, msgID, c.Arg(0))

	case collector.CbCollections:
		return a.showView(ctx, chat, msgID)(a.svc.CollectionsView(ctx, user))

	case collector.CbPage:
		return a.showView(ctx, chat, msgID)(a.svc.RenderPage(ctx, user, id, int(page)))

	case collector.CbGroup:
		group, _ := c.Int(2)
		sum, err := a.svc.DeliverGroup(ctx, user, chat, id, int(page), int(group))
		if err != nil {
			return err
		}
		a.reportFailures(ctx, chat, sum)

	case collector.CbPageMenu:
		return a.showView(ctx, chat, msgID)(a.svc.PageMenu(ctx, user, id, int(page)))

	case collector.CbPageKind:
		kind := types.Kind(c.Arg(2))
		if kind == "all" {
			kind = ""
		}
		sum, err := a.svc.DeliverPage(ctx, user, chat, id, int(page), kind)
		if err != nil {
			return err
		}
		a.reportFailures(ctx, chat, sum)

	case collector.CbInfo:
		info, _ := c.Int(2)
		return a.showView(ctx, chat, msgID)(a.svc.InfoPage(ctx, user, id, int(page), int(info)))

	case collector.CbSendAll:
		return a.showView(ctx, chat, msgID)(a.svc.RequestDeliverAll(ctx, user, id, msgID))

	case collector.CbSelect:
		coll, err := a.svc.SelectCollection(ctx, user, id)
		if err != nil {
			return err
		}
		a.show(ctx, chat, msgID, collector.View{
			Text: fmt.Sprintf("Now collecting into %q. Send files or text to add them, /stop when done.", coll.Name),
		})

	case collector.CbManage:
		return a.showView(ctx, chat, msgID)(a.svc.ManageView(ctx, user, id))

	case collector.CbDelete:
		return a.showView(ctx, chat, msgID)(a.svc.RequestDelete(ctx, user, id, msgID))

	case collector.CbDeleteItems:
		return a.showView(ctx, chat, msgID)(a.svc.EnterDeleteMode(ctx, user, id))

	case collector.CbShare:
		return a.showView(ctx, chat, msgID)(a.svc.ShareView(ctx, user, id, false))

	case collector.CbShareRegen:
		return a.showView(ctx, chat, msgID)(a.svc.ShareView(ctx, user, id, true))

	case collector.CbShareRevoke:
		if err := a.svc.RevokeShare(ctx, user, id); err != nil {
			return err
		}
		a.reply(ctx, chat, "Sharing stopped. The old code no longer works.")
		return a.showView(ctx, chat, msgID)(a.svc.ManageView(ctx, user, id))

	case collector.CbShareStats:
		st, err := a.svc.ShareStats(ctx, user, id)
		if err != nil {
			return err
		}
		a.reply(ctx, chat, shareStatsText(st))

	case collector.CbExport:
		name, data, err := a.svc.Export(ctx, user, id)
		if err != nil {
			return err
		}
		return a.transport.SendFile(ctx, chat, name, data, "Collection backup. Send it after /import to restore.")

	case collector.CbScroll:
		index, _ := c.Int(1)
		return a.svc.ScrollItem(ctx, user, chat, id, int(index), msgID)

	case collector.CbExitShared:
		text := "You are not viewing a shared collection."
		if a.svc.ExitShared(user) {
			text = "You left the shared collection."
		}
		a.show(ctx, chat, msgID, collector.View{Text: text, Keyboard: delivery.Keyboard{
			delivery.Row(delivery.Button{Text: "Main menu", Data: collector.CbMain}),
		}})

	case collector.CbCancel:
		a.svc.SetMode(user, session.ModeNone)
		a.show(ctx, chat, msgID, collector.View{Text: "Cancelled."})
	}
	return nil
}

func (a *Adapter) menu(ctx context.Context, user types.UserID, chat types.ChatID, msgID int, entry string) error {
	back := delivery.Keyboard{delivery.Row(delivery.Button{Text: "Cancel", Data: collector.CbMain})}
	switch entry {
	case collector.MenuNewCollection:
		a.svc.SetMode(user, session.ModeCreateCollection)
		a.show(ctx, chat, msgID, collector.View{Text: "Send a name for the new collection.", Keyboard: back})
	case collector.MenuCollections:
		return a.showView(ctx, chat, msgID)(a.svc.CollectionsView(ctx, user))
	case collector.MenuAccessCode:
		a.svc.SetMode(user, session.ModeAwaitShareCode)
		a.show(ctx, chat, msgID, collector.View{Text: "Send the access code.", Keyboard: back})
	case collector.MenuImport:
		a.svc.SetMode(user, session.ModeImport)
		a.show(ctx, chat, msgID, collector.View{Text: "Send the backup file (.txt) you exported earlier.", Keyboard: back})
	case collector.MenuDetectID:
		a.svc.SetMode(user, session.ModeDetectID)
		a.show(ctx, chat, msgID, detectIDView)
	}
	return nil
}

// showView adapts a (View, error) result into a show call.
func (a *Adapter) showView(ctx context.Context, chat types.ChatID, msgID int) func(collector.View, error) error {
	return func(view collector.View, err error) error {
		if err != nil {
			return err
		}
		a.show(ctx, chat, msgID, view)
		return nil
	}
}

func (a *Adapter) reportFailures(ctx context.Context, chat types.ChatID, sum delivery.Summary) {
	if sum.Failed > 0 {
		a.reply(ctx, chat, fmt.Sprintf("%d of %d batches failed to send.", sum.Failed, sum.Total()))
	}
}

func (a *Adapter) answer(id, text string, alert bool) {
	if err := a.transport.Answer(id, text, alert); err != nil {
		slog.Debug("answer callback failed", "error", err)
	}
}

func deliveryReport(name string, total int, sum delivery.Summary) string {
	if sum.Failed > 0 {
		return fmt.Sprintf("Sent %q (%d items), but %d of %d batches failed.", name, total, sum.Failed, sum.Total())
	}
	return fmt.Sprintf("Done. Sent all %d items of %q.", total, name)
}

func shareStatsText(st *types.ShareStats) string {
	last := "never"
	if !st.LastAccess.IsZero() {
		last = st.LastAccess.UTC().Format("2006-01-02 15:04 UTC")
	}
	return fmt.Sprintf("Code: %s\nTotal accesses: %d\nUnique users: %d\nLast access: %s",
		st.Code, st.TotalAccesses, st.UniqueUsers, last)
}
