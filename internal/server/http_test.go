package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/gridstone/tidewater/internal/entity"
	"github.com/gridstone/tidewater/internal/remote"
)

// startTestServer boots a real store behind the HTTP handler and returns
// a protocol client pointed at it.
func startTestServer(t *testing.T) (*remote.HTTPClient, *Store) {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	srv := httptest.NewServer(NewHandler(s, nil))
	t.Cleanup(srv.Close)

	return remote.NewHTTPClient(srv.URL, remote.WithHTTPClient(srv.Client())), s
}

func TestHTTP_CreateUpdateDeleteRoundTrip(t *testing.T) {
	client, s := startTestServer(t)
	ctx := context.Background()
	mustScope(t, s, "ws-1")

	col := entity.Column{
		Meta:     entity.Meta{ID: "c1"},
		TableID:  "t1",
		Name:     "Name",
		Position: 0,
	}
	env, err := client.Create(ctx, "ws-1", entity.TypeColumn, col)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if env.Version != 1 {
		t.Errorf("create version = %d, want 1", env.Version)
	}

	col.Name = "Renamed"
	env, err = client.Update(ctx, "ws-1", entity.TypeColumn, "c1", col)
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if env.Version != 2 {
		t.Errorf("update version = %d, want 2", env.Version)
	}
	decoded, err := env.Decode()
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if got := decoded.(entity.Column).Name; got != "Renamed" {
		t.Errorf("name = %q, want Renamed", got)
	}

	if err := client.Delete(ctx, "ws-1", entity.TypeColumn, "c1"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	// Idempotent over the wire too.
	if err := client.Delete(ctx, "ws-1", entity.TypeColumn, "c1"); err != nil {
		t.Fatalf("repeat Delete failed: %v", err)
	}
}

func TestHTTP_ChangesSinceAndSnapshot(t *testing.T) {
	client, s := startTestServer(t)
	ctx := context.Background()
	mustScope(t, s, "ws-1")

	for _, id := range []string{"c1", "c2"} {
		col := entity.Column{Meta: entity.Meta{ID: id}, TableID: "t1", Name: id}
		if _, err := client.Create(ctx, "ws-1", entity.TypeColumn, col); err != nil {
			t.Fatalf("Create %s failed: %v", id, err)
		}
	}

	delta, err := client.ChangesSince(ctx, "ws-1", remote.CursorStart)
	if err != nil {
		t.Fatalf("ChangesSince failed: %v", err)
	}
	if len(delta.Changed) != 2 {
		t.Errorf("got %d changes, want 2", len(delta.Changed))
	}
	if delta.Cursor != "2" {
		t.Errorf("cursor = %q, want 2", delta.Cursor)
	}

	// Echoing the returned cursor yields an empty window.
	delta, err = client.ChangesSince(ctx, "ws-1", delta.Cursor)
	if err != nil {
		t.Fatalf("second ChangesSince failed: %v", err)
	}
	if len(delta.Changed) != 0 {
		t.Errorf("caught up: got %d changes, want 0", len(delta.Changed))
	}

	snap, err := client.Get(ctx, "ws-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if len(snap.Entities) != 2 {
		t.Errorf("snapshot has %d entities, want 2", len(snap.Entities))
	}
}

func TestHTTP_ErrorMapping(t *testing.T) {
	client, s := startTestServer(t)
	ctx := context.Background()
	mustScope(t, s, "ws-1")

	col := entity.Column{Meta: entity.Meta{ID: "c1"}, TableID: "t1", Name: "Name"}
	if _, err := client.Create(ctx, "ws-1", entity.TypeColumn, col); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	_, err := client.Create(ctx, "ws-1", entity.TypeColumn, col)
	if !remote.IsConflict(err) {
		t.Errorf("duplicate create: got %v, want CONFLICT", err)
	}

	_, err = client.Update(ctx, "ws-1", entity.TypeColumn, "ghost",
		entity.Column{Meta: entity.Meta{ID: "ghost"}})
	if !remote.IsNotFound(err) {
		t.Errorf("update absent: got %v, want NOT_FOUND", err)
	}

	_, err = client.Get(ctx, "no-such-scope")
	if !remote.IsNotFound(err) {
		t.Errorf("unknown scope: got %v, want NOT_FOUND", err)
	}

	_, err = client.Create(ctx, "ws-1", entity.TypeColumn, entity.Column{})
	if !remote.IsValidation(err) {
		t.Errorf("missing id: got %v, want VALIDATION_FAILURE", err)
	}
}

func TestHTTP_MalformedCursorRejected(t *testing.T) {
	client, s := startTestServer(t)
	mustScope(t, s, "ws-1")

	_, err := client.ChangesSince(context.Background(), "ws-1", remote.Cursor("not-a-cursor"))
	if !remote.IsValidation(err) {
		t.Errorf("got %v, want VALIDATION_FAILURE", err)
	}
}

func TestHTTP_CreateScopeRoute(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	srv := httptest.NewServer(NewHandler(s, nil))
	t.Cleanup(srv.Close)

	req, err := http.NewRequest(http.MethodPut, srv.URL+"/v1/scopes/ws-new", nil)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("PUT scope failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("status = %d, want 204", resp.StatusCode)
	}

	client := remote.NewHTTPClient(srv.URL, remote.WithHTTPClient(srv.Client()))
	snap, err := client.Get(context.Background(), "ws-new")
	if err != nil {
		t.Fatalf("Get after create failed: %v", err)
	}
	if snap.Cursor != "0" {
		t.Errorf("fresh scope cursor = %q, want 0", snap.Cursor)
	}
}
