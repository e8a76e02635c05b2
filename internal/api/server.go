// Package api serves a small read-only HTTP status surface: liveness,
// queue depths and paged collection listings.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/user/collectbot/internal/gateway"
	"github.com/user/collectbot/internal/paging"
	"github.com/user/collectbot/internal/types"
)

// CollectionReader is the storage the collection endpoint reads.
type CollectionReader interface {
	Collection(ctx context.Context, id types.CollectionID) (*types.Collection, error)
	CountItems(ctx context.Context, collection types.CollectionID) (int, error)
	Items(ctx context.Context, collection types.CollectionID, offset, limit int) ([]*types.Item, error)
}

// JobStats reports inbound job lanes.
type JobStats interface {
	Stats() gateway.Stats
}

// Depth reports a queue length.
type Depth interface {
	Pending() int
}

// Counter reports a live object count.
type Counter interface {
	Len() int
}

// Deps are the read sources of a Server. Nil sources are omitted from
// responses.
type Deps struct {
	Store         CollectionReader
	Jobs          JobStats
	Notifications Depth
	Sessions      Counter
	PageSize      int
	GroupSize     int
}

// Server is the HTTP handler for the status API.
type Server struct {
	deps Deps
	mux  *http.ServeMux
}

// NewServer creates a Server over deps.
func NewServer(deps Deps) *Server {
	if deps.PageSize <= 0 {
		deps.PageSize = paging.DefaultPageSize
	}
	if deps.GroupSize <= 0 {
		deps.GroupSize = paging.DefaultGroupSize
	}
	s := &Server{deps: deps, mux: http.NewServeMux()}
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /api/queue", s.handleQueue)
	s.mux.HandleFunc("GET /api/collections/{id}", s.handleCollection)
	return s
}

// ServeHTTP delegates to the internal mux, implementing http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// QueueStatus is the body of GET /api/queue.
type QueueStatus struct {
	Jobs                 *gateway.Stats `json:"jobs,omitempty"`
	NotificationsPending int            `json:"notifications_pending"`
	Sessions             int            `json:"sessions"`
}

func (s *Server) handleQueue(w http.ResponseWriter, r *http.Request) {
	var resp QueueStatus
	if s.deps.Jobs != nil {
		st := s.deps.Jobs.Stats()
		resp.Jobs = &st
	}
	if s.deps.Notifications != nil {
		resp.NotificationsPending = s.deps.Notifications.Pending()
	}
	if s.deps.Sessions != nil {
		resp.Sessions = s.deps.Sessions.Len()
	}
	writeJSON(w, http.StatusOK, resp)
}

type groupResponse struct {
	Label int `json:"label"`
	Start int `json:"start"`
	End   int `json:"end"`
}

type pageResponse struct {
	Collection *types.Collection `json:"collection"`
	Page       int               `json:"page"`
	TotalPages int               `json:"total_pages"`
	TotalItems int               `json:"total_items"`
	First      int               `json:"first"`
	Last       int               `json:"last"`
	Groups     []groupResponse   `json:"groups"`
	Items      []*types.Item     `json:"items"`
}

func (s *Server) handleCollection(w http.ResponseWriter, r *http.Request) {
	if s.deps.Store == nil {
		writeError(w, http.StatusServiceUnavailable, "store not configured")
		return
	}
	id, err := types.ParseCollectionID(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid collection id")
		return
	}
	page := 1
	if q := r.URL.Query().Get("page"); q != "" {
		if n, err := strconv.Atoi(q); err == nil {
			page = n
		}
	}

	ctx := r.Context()
	coll, err := s.deps.Store.Collection(ctx, id)
	if err != nil {
		slog.Error("load collection failed", "collection_id", int64(id), "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if coll == nil {
		writeError(w, http.StatusNotFound, "collection not found")
		return
	}
	total, err := s.deps.Store.CountItems(ctx, id)
	if err != nil {
		slog.Error("count items failed", "collection_id", int64(id), "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	win := paging.Page(total, page, s.deps.PageSize)
	items, err := s.deps.Store.Items(ctx, id, win.Offset, win.ItemsInPage)
	if err != nil {
		slog.Error("load items failed", "collection_id", int64(id), "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if items == nil {
		items = []*types.Item{}
	}

	groups := make([]groupResponse, 0, paging.MaxGroups)
	for g := 1; g <= paging.GroupsInPage(win.ItemsInPage, s.deps.GroupSize); g++ {
		start, end := paging.GroupRange(win.Number, g, s.deps.PageSize, s.deps.GroupSize)
		if end > total {
			end = total
		}
		groups = append(groups, groupResponse{Label: paging.GroupLabel(win.Number, g), Start: start, End: end})
	}

	writeJSON(w, http.StatusOK, pageResponse{
		Collection: coll,
		Page:       win.Number,
		TotalPages: win.TotalPages,
		TotalItems: win.TotalItems,
		First:      win.FirstIndex(),
		Last:       win.LastIndex(),
		Groups:     groups,
		Items:      items,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("encode response failed", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
