package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/user/collectbot/internal/gateway"
	"github.com/user/collectbot/internal/store"
	"github.com/user/collectbot/internal/types"
)

type fixedStats gateway.Stats

func (f fixedStats) Stats() gateway.Stats { return gateway.Stats(f) }

type fixedCount int

func (f fixedCount) Pending() int { return int(f) }
func (f fixedCount) Len() int     { return int(f) }

func setupServer(t *testing.T, items int) (*Server, types.CollectionID) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "api.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })

	ctx := context.Background()
	id, err := st.CreateCollection(ctx, 1, "Trip")
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < items; i++ {
		if _, err := st.AddItem(ctx, &types.Item{CollectionID: id, Kind: types.KindText, Text: "note"}); err != nil {
			t.Fatal(err)
		}
	}

	srv := NewServer(Deps{
		Store:         st,
		Jobs:          fixedStats{Lanes: 2, Processed: 7},
		Notifications: fixedCount(3),
		Sessions:      fixedCount(5),
		PageSize:      10,
		GroupSize:     5,
	})
	return srv, id
}

func get(t *testing.T, srv http.Handler, path string, out any) int {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	if out != nil && w.Code == http.StatusOK {
		if err := json.NewDecoder(w.Body).Decode(out); err != nil {
			t.Fatal(err)
		}
	}
	return w.Code
}

func TestHealthEndpoint(t *testing.T) {
	srv, _ := setupServer(t, 0)

	var resp map[string]string
	if code := get(t, srv, "/health", &resp); code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", code)
	}
	if resp["status"] != "ok" {
		t.Errorf("expected status ok, got %s", resp["status"])
	}
}

func TestQueueEndpoint(t *testing.T) {
	srv, _ := setupServer(t, 0)

	var resp QueueStatus
	if code := get(t, srv, "/api/queue", &resp); code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", code)
	}
	if resp.Jobs == nil || resp.Jobs.Lanes != 2 || resp.Jobs.Processed != 7 {
		t.Errorf("jobs = %+v", resp.Jobs)
	}
	if resp.NotificationsPending != 3 || resp.Sessions != 5 {
		t.Errorf("resp = %+v", resp)
	}
}

func TestCollectionPage(t *testing.T) {
	srv, id := setupServer(t, 25)

	var resp pageResponse
	if code := get(t, srv, "/api/collections/"+id.String()+"?page=3", &resp); code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", code)
	}
	if resp.Page != 3 || resp.TotalPages != 3 || resp.TotalItems != 25 {
		t.Errorf("window = %+v", resp)
	}
	if resp.First != 21 || resp.Last != 25 || len(resp.Items) != 5 {
		t.Errorf("range %d-%d with %d items", resp.First, resp.Last, len(resp.Items))
	}
	if len(resp.Groups) != 1 || resp.Groups[0].Label != 21 || resp.Groups[0].Start != 20 || resp.Groups[0].End != 25 {
		t.Errorf("groups = %+v", resp.Groups)
	}
}

func TestCollectionPageClamps(t *testing.T) {
	srv, id := setupServer(t, 25)

	var resp pageResponse
	get(t, srv, "/api/collections/"+id.String()+"?page=99", &resp)
	if resp.Page != 3 {
		t.Errorf("expected page clamped to 3, got %d", resp.Page)
	}
	get(t, srv, "/api/collections/"+id.String()+"?page=-4", &resp)
	if resp.Page != 1 || len(resp.Groups) != 2 {
		t.Errorf("expected page 1 with 2 groups, got page %d groups %d", resp.Page, len(resp.Groups))
	}
}

func TestCollectionErrors(t *testing.T) {
	srv, _ := setupServer(t, 0)

	if code := get(t, srv, "/api/collections/abc", nil); code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", code)
	}
	if code := get(t, srv, "/api/collections/4242", nil); code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", code)
	}
}
