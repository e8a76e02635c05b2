// Package collector implements the bot's user-facing operations on top of
// the store, the delivery pipeline and per-user sessions. It returns
// rendered views and structured outcomes; the transport-specific router
// decides how to show them.
package collector

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/user/collectbot/internal/access"
	"github.com/user/collectbot/internal/delivery"
	"github.com/user/collectbot/internal/ingest"
	"github.com/user/collectbot/internal/notify"
	"github.com/user/collectbot/internal/paging"
	"github.com/user/collectbot/internal/session"
	"github.com/user/collectbot/internal/types"
	"github.com/user/collectbot/internal/verify"
)

var (
	ErrNoActiveCollection = errors.New("no active collection")
	ErrEmptyCollection    = errors.New("collection is empty")
	ErrEmptyGroup         = errors.New("no items in this group")
	ErrDuplicateItem      = errors.New("item already in collection")
	ErrDuplicateName      = errors.New("collection name already used")
	ErrInvalidName        = errors.New("collection name is empty")
	ErrInvalidShareCode   = errors.New("invalid or revoked share code")
	ErrInvalidBackup      = errors.New("not a collection backup")
	ErrItemNotAllowed     = errors.New("item not available")
)

// View is a rendered message: text plus an optional inline keyboard.
type View struct {
	Text      string
	ParseMode delivery.ParseMode
	Keyboard  delivery.Keyboard
}

// Deps are the collaborators of a Service.
type Deps struct {
	Store     types.Store
	Sessions  *session.Store
	Access    *access.Checker
	Codes     *verify.Store
	Sender    *delivery.Sender
	Status    *ingest.Notifier
	Notes     *notify.Queue
	Transport delivery.Transport

	// ActivityChannel receives audit notifications; zero disables them.
	ActivityChannel types.ChatID
	PageSize        int
	GroupSize       int
}

// Service is safe for concurrent use by different users. Calls for the
// same user are expected to be serialized by the caller.
type Service struct {
	store     types.Store
	sessions  *session.Store
	access    *access.Checker
	codes     *verify.Store
	sender    *delivery.Sender
	status    *ingest.Notifier
	notes     *notify.Queue
	transport delivery.Transport

	activityChannel types.ChatID
	pageSize        int
	groupSize       int

	mu      sync.RWMutex
	botName string
}

func New(d Deps) *Service {
	if d.PageSize <= 0 {
		d.PageSize = paging.DefaultPageSize
	}
	if d.GroupSize <= 0 {
		d.GroupSize = paging.DefaultGroupSize
	}
	return &Service{
		store:           d.Store,
		sessions:        d.Sessions,
		access:          d.Access,
		codes:           d.Codes,
		sender:          d.Sender,
		status:          d.Status,
		notes:           d.Notes,
		transport:       d.Transport,
		activityChannel: d.ActivityChannel,
		pageSize:        d.PageSize,
		groupSize:       d.GroupSize,
	}
}

// SetBotName sets the bot username used in deep links. It is known only
// after the transport has connected.
func (s *Service) SetBotName(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.botName = name
}

func (s *Service) botUsername() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.botName
}

// IsAdmin reports whether user is a configured admin.
func (s *Service) IsAdmin(user types.UserID) bool {
	return s.access.IsAdmin(user)
}

// TouchUser records the user for activity display and clears any pending
// text-input mode.
func (s *Service) TouchUser(ctx context.Context, u *types.User, resetModes bool) error {
	if resetModes {
		sess := s.sessions.Get(u.ID)
		sess.Lock()
		sess.ResetModes()
		sess.Unlock()
	}
	if err := s.store.UpsertUser(ctx, u); err != nil {
		return fmt.Errorf("record user: %w", err)
	}
	return nil
}

// Mode returns the user's current text-input mode.
func (s *Service) Mode(user types.UserID) session.Mode {
	sess := s.sessions.Get(user)
	sess.Lock()
	defer sess.Unlock()
	return sess.Mode
}

// SetMode switches the user into a text-input mode.
func (s *Service) SetMode(user types.UserID, mode session.Mode) {
	sess := s.sessions.Get(user)
	sess.Lock()
	defer sess.Unlock()
	sess.Mode = mode
}

func (s *Service) activity(a notify.Activity) {
	if s.notes == nil || s.activityChannel == 0 {
		return
	}
	s.notes.Enqueue(notify.ActivityLog(s.activityChannel, a))
}

// displayUser loads the stored profile of id for audit lines.
func (s *Service) displayUser(ctx context.Context, id types.UserID) types.User {
	u, err := s.store.User(ctx, id)
	if err != nil || u == nil {
		return types.User{ID: id}
	}
	return *u
}
