package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fruitsalade/librarian/internal/browser"
	"github.com/fruitsalade/librarian/pkg/models"
	"github.com/fruitsalade/librarian/pkg/protocol"
	"github.com/fruitsalade/librarian/pkg/retry"
)

var _ browser.Backend = (*Client)(nil)

func testClient(handler http.Handler) (*Client, *httptest.Server) {
	ts := httptest.NewServer(handler)
	c := New(Config{
		BaseURL: ts.URL,
		RetryConfig: retry.Config{
			MaxAttempts: 3,
			InitialWait: time.Millisecond,
			MaxWait:     time.Millisecond,
		},
	})
	return c, ts
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func TestListLibraries_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	c, ts := testClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			writeJSON(w, http.StatusServiceUnavailable, protocol.ErrorResponse{Error: "warming up", Code: 503})
			return
		}
		writeJSON(w, http.StatusOK, protocol.LibrariesResponse{
			Libraries: []models.Container{{ID: models.LibraryID("l1"), Label: "Finance"}},
		})
	}))
	defer ts.Close()

	libs, err := c.ListLibraries(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(libs) != 1 || libs[0].ID != models.LibraryID("l1") {
		t.Errorf("libraries = %+v", libs)
	}
	if calls.Load() != 2 {
		t.Errorf("expected 2 calls, got %d", calls.Load())
	}
}

func TestSmartMove_NotRetried(t *testing.T) {
	var calls atomic.Int32
	var got protocol.SmartMoveRequest
	c, ts := testClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		json.NewDecoder(r.Body).Decode(&got)
		writeJSON(w, http.StatusInternalServerError, protocol.ErrorResponse{Error: "db down", Code: 500})
	}))
	defer ts.Close()

	_, err := c.SmartMove(context.Background(), []string{"doc-1"}, models.FolderID("f2"))
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != 500 || apiErr.Message != "db down" {
		t.Fatalf("err = %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("mutation sent %d times, want 1", calls.Load())
	}
	if got.DestinationType != "folder" || got.DestinationID != models.FolderID("f2") {
		t.Errorf("request = %+v", got)
	}
}

func TestIsNotFound(t *testing.T) {
	c, ts := testClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, protocol.ErrorResponse{Error: "not found: library \"x\"", Code: 404})
	}))
	defer ts.Close()

	_, err := c.ListFolders(context.Background(), models.LibraryID("x"))
	if !IsNotFound(err) {
		t.Errorf("IsNotFound(%v) = false", err)
	}
	if IsNotFound(errors.New("other")) {
		t.Error("plain error classified as not found")
	}
}

func TestListItems_FolderQuery(t *testing.T) {
	var gotPath, gotFolder string
	c, ts := testClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotFolder = r.URL.Query().Get("folder")
		writeJSON(w, http.StatusOK, protocol.ItemsResponse{Path: "Legal > Contracts (0 files)"})
	}))
	defer ts.Close()

	resp, err := c.ListItems(context.Background(), models.LibraryID("l2"), models.FolderID("f2"))
	if err != nil {
		t.Fatal(err)
	}
	if gotPath != "/api/v1/libraries/l2/items" || gotFolder != "f2" {
		t.Errorf("path = %q, folder = %q", gotPath, gotFolder)
	}
	if resp.Path != "Legal > Contracts (0 files)" {
		t.Errorf("resp = %+v", resp)
	}

	if _, err := c.ListItems(context.Background(), models.FolderID("f2"), models.ContainerID{}); err == nil {
		t.Error("expected an error for a non-library")
	}
}

func TestLogin_SetsToken(t *testing.T) {
	var authHeader string
	c, ts := testClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/auth/token":
			var req protocol.TokenRequest
			json.NewDecoder(r.Body).Decode(&req)
			if req.Password != "hunter2" {
				writeJSON(w, http.StatusUnauthorized, protocol.ErrorResponse{Error: "invalid credentials", Code: 401})
				return
			}
			writeJSON(w, http.StatusOK, protocol.TokenResponse{
				Token:     "tok",
				ExpiresAt: time.Now().Add(time.Hour),
				Username:  req.Username,
			})
		default:
			authHeader = r.Header.Get("Authorization")
			writeJSON(w, http.StatusOK, protocol.LibrariesResponse{})
		}
	}))
	defer ts.Close()

	if _, err := c.Login(context.Background(), "alice", "wrong"); err == nil {
		t.Fatal("expected login failure")
	}

	tf, err := c.Login(context.Background(), "alice", "hunter2")
	if err != nil {
		t.Fatal(err)
	}
	if tf.Username != "alice" || tf.Server != ts.URL || tf.IsExpired(0) {
		t.Errorf("token file = %+v", tf)
	}
	if _, err := c.ListLibraries(context.Background()); err != nil {
		t.Fatal(err)
	}
	if authHeader != "Bearer tok" {
		t.Errorf("Authorization = %q", authHeader)
	}
}

func TestTokenFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "token.json")
	want := &TokenFile{Token: "tok", ExpiresAt: time.Now().Add(time.Hour).UTC().Truncate(time.Second), Server: "http://x", Username: "alice"}
	if err := SaveToken(path, want); err != nil {
		t.Fatal(err)
	}
	got, err := LoadToken(path)
	if err != nil {
		t.Fatal(err)
	}
	if *got != *want {
		t.Errorf("got %+v, want %+v", got, want)
	}
	if err := DeleteToken(path); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadToken(path); err == nil {
		t.Error("expected an error after delete")
	}
}

func TestEventStream_ReceivesEvents(t *testing.T) {
	c, ts := testClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		data, _ := json.Marshal(protocol.Event{Type: "move", ItemIDs: []string{"doc-1"}, Container: models.FolderID("f2"), Timestamp: 1})
		w.Write([]byte(": keepalive\n\nevent: move\ndata: " + string(data) + "\n\n"))
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))
	defer ts.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events, _ := c.Events().Subscribe(ctx)

	select {
	case ev := <-events:
		if ev.Type != "move" || ev.Container != models.FolderID("f2") || ev.ItemIDs[0] != "doc-1" {
			t.Errorf("event = %+v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
}
