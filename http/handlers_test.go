package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vinizap/haku/server/auth"
	"github.com/vinizap/haku/server/domain"
	"github.com/vinizap/haku/server/store"
	"github.com/vinizap/haku/server/tree"
	"github.com/vinizap/haku/server/ws"
)

type testServer struct {
	app   *fiber.App
	store *store.Memory
	hub   *ws.Hub
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	st := store.NewMemory()
	st.AddSession("alice-token", "alice")
	st.AddSession("bob-token", "bob")

	hub := ws.NewHub(zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	t.Cleanup(cancel)

	hash, err := auth.HashKey("admin-key")
	require.NoError(t, err)
	srv := NewServer(st, hub, hash, zerolog.Nop())
	return &testServer{app: srv.App(nil), store: st, hub: hub}
}

type request struct {
	method  string
	path    string
	body    interface{}
	token   string
	headers map[string]string
}

func (ts *testServer) do(t *testing.T, r request, out interface{}) int {
	t.Helper()
	var body io.Reader
	if r.body != nil {
		raw, err := json.Marshal(r.body)
		require.NoError(t, err)
		body = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(r.method, r.path, body)
	req.Header.Set("Content-Type", "application/json")
	if r.token != "" {
		req.Header.Set("Authorization", "Bearer "+r.token)
	}
	for k, v := range r.headers {
		req.Header.Set(k, v)
	}
	resp, err := ts.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func TestHealthzIsPublic(t *testing.T) {
	ts := newTestServer(t)
	assert.Equal(t, fiber.StatusOK, ts.do(t, request{method: "GET", path: "/healthz"}, nil))
}

func TestRoutesRequireSession(t *testing.T) {
	ts := newTestServer(t)
	var body map[string]string
	status := ts.do(t, request{method: "GET", path: "/files"}, &body)
	assert.Equal(t, fiber.StatusUnauthorized, status)
	assert.Contains(t, body["error"], "unauthorized")

	status = ts.do(t, request{method: "GET", path: "/files", token: "forged"}, nil)
	assert.Equal(t, fiber.StatusUnauthorized, status)
}

func TestNoteLifecycle(t *testing.T) {
	ts := newTestServer(t)

	var folder domain.Folder
	status := ts.do(t, request{method: "POST", path: "/folders", token: "alice-token",
		body: map[string]string{"name": "Work", "type": "note"}}, &folder)
	require.Equal(t, fiber.StatusCreated, status)

	var note domain.Note
	status = ts.do(t, request{method: "POST", path: "/notes", token: "alice-token",
		body: map[string]string{"name": "Plan", "folder_id": folder.ID, "body": "# hi"}}, &note)
	require.Equal(t, fiber.StatusCreated, status)
	assert.Equal(t, "# hi", note.Body)

	var forest struct {
		Folders []struct {
			ID       string `json:"id"`
			Children []struct {
				ID string `json:"id"`
			} `json:"children"`
		} `json:"folders"`
	}
	require.Equal(t, fiber.StatusOK, ts.do(t, request{method: "GET", path: "/notes", token: "alice-token"}, &forest))
	require.Len(t, forest.Folders, 1)
	require.Len(t, forest.Folders[0].Children, 1)
	assert.Equal(t, note.ID, forest.Folders[0].Children[0].ID)

	var updated domain.Note
	status = ts.do(t, request{method: "PATCH", path: "/notes/" + note.ID, token: "alice-token",
		body: map[string]string{"name": "Final", "folder_id": ""}}, &updated)
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, "Final", updated.Name)
	assert.Nil(t, updated.FolderID)

	// Other users cannot see it.
	assert.Equal(t, fiber.StatusNotFound, ts.do(t, request{method: "GET", path: "/notes/" + note.ID, token: "bob-token"}, nil))

	assert.Equal(t, fiber.StatusNoContent, ts.do(t, request{method: "DELETE", path: "/notes/" + note.ID, token: "alice-token"}, nil))
	assert.Equal(t, fiber.StatusNotFound, ts.do(t, request{method: "GET", path: "/notes/" + note.ID, token: "alice-token"}, nil))
}

func TestValidationFailures(t *testing.T) {
	ts := newTestServer(t)

	tests := []struct {
		name string
		req  request
	}{
		{"missing note name", request{method: "POST", path: "/notes", body: map[string]string{"body": "x"}}},
		{"bad folder type", request{method: "POST", path: "/folders", body: map[string]string{"name": "f", "type": "photo"}}},
		{"non uuid id", request{method: "POST", path: "/notes", body: map[string]string{"name": "n", "id": "n1"}}},
		{"empty inbox entry", request{method: "POST", path: "/inbox", body: map[string]string{"content": ""}}},
		{"history without id", request{method: "POST", path: "/history", body: map[string]string{}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.req.token = "alice-token"
			var body map[string]string
			assert.Equal(t, fiber.StatusBadRequest, ts.do(t, tt.req, &body))
			assert.NotEmpty(t, body["error"])
		})
	}
}

func TestTodoNodeOperations(t *testing.T) {
	ts := newTestServer(t)

	var todo domain.ContentItem
	require.Equal(t, fiber.StatusCreated, ts.do(t, request{method: "POST", path: "/todos", token: "alice-token",
		body: map[string]string{"name": "Groceries"}}, &todo))

	n1, a, b := uuid.NewString(), uuid.NewString(), uuid.NewString()
	base := "/todos/" + todo.ID + "/nodes"
	for i, id := range []string{n1, a, b} {
		status := ts.do(t, request{method: "POST", path: base, token: "alice-token",
			body: map[string]interface{}{"id": id, "parent_id": todo.ID, "index": i, "content": fmt.Sprint("item ", i)}}, nil)
		require.Equal(t, fiber.StatusOK, status)
	}

	var nodes []domain.TodoNode
	status := ts.do(t, request{method: "POST", path: base + "/" + b + "/move", token: "alice-token",
		body: map[string]interface{}{"parent_id": todo.ID, "index": 1}}, &nodes)
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, []string{n1, b, a}, nodes[0].Children)

	status = ts.do(t, request{method: "POST", path: base + "/" + n1 + "/move", token: "alice-token",
		body: map[string]interface{}{"parent_id": todo.ID, "slot": 3}}, &nodes)
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, []string{b, a, n1}, nodes[0].Children)

	status = ts.do(t, request{method: "PATCH", path: base + "/" + a, token: "alice-token",
		body: map[string]interface{}{"status": "completed", "collapsed": true, "content": "eggs"}}, &nodes)
	require.Equal(t, fiber.StatusOK, status)
	var got domain.TodoNode
	for _, n := range nodes {
		if n.ID == a {
			got = n
		}
	}
	assert.Equal(t, domain.StatusCompleted, got.Status)
	assert.True(t, got.Collapsed)
	assert.Equal(t, "eggs", got.Content)

	// Moving a node under its own child is a conflict and changes nothing.
	child := uuid.NewString()
	require.Equal(t, fiber.StatusOK, ts.do(t, request{method: "POST", path: base, token: "alice-token",
		body: map[string]interface{}{"id": child, "parent_id": a}}, nil))
	var body map[string]string
	status = ts.do(t, request{method: "POST", path: base + "/" + a + "/move", token: "alice-token",
		body: map[string]interface{}{"parent_id": child, "index": 0}}, &body)
	assert.Equal(t, fiber.StatusConflict, status)

	require.Equal(t, fiber.StatusOK, ts.do(t, request{method: "GET", path: "/todos/" + todo.ID, token: "alice-token"}, &nodes))
	assert.Equal(t, []string{b, a, n1}, nodes[0].Children)

	require.Equal(t, fiber.StatusOK, ts.do(t, request{method: "DELETE", path: base + "/" + a, token: "alice-token"}, &nodes))
	assert.Len(t, nodes, 3)

	assert.Equal(t, fiber.StatusBadRequest, ts.do(t, request{method: "POST", path: base + "/" + b + "/move", token: "alice-token",
		body: map[string]interface{}{"parent_id": todo.ID}}, nil))
	assert.Equal(t, fiber.StatusNotFound, ts.do(t, request{method: "GET", path: "/todos/" + todo.ID, token: "bob-token"}, nil))
}

func TestRouteValuesOutliveTheRequest(t *testing.T) {
	ts := newTestServer(t)
	recorder := &recordingConn{}
	ts.hub.Register("alice", recorder)

	var todo domain.ContentItem
	require.Equal(t, fiber.StatusCreated, ts.do(t, request{method: "POST", path: "/todos", token: "alice-token",
		body: map[string]string{"name": "Chores"}}, &todo))
	base := "/todos/" + todo.ID + "/nodes"
	ids := []string{uuid.NewString(), uuid.NewString(), uuid.NewString()}
	for i, id := range ids {
		require.Equal(t, fiber.StatusOK, ts.do(t, request{method: "POST", path: base, token: "alice-token",
			body: map[string]interface{}{"id": id, "parent_id": todo.ID, "index": i}}, nil))
	}

	// Each move stores the node ID taken from the path; later requests reuse
	// the server's buffers with different bytes.
	moves := []struct {
		node string
		body map[string]interface{}
		want []string
	}{
		{ids[2], map[string]interface{}{"parent_id": todo.ID, "index": 0}, []string{ids[2], ids[0], ids[1]}},
		{ids[0], map[string]interface{}{"parent_id": todo.ID, "slot": 3}, []string{ids[2], ids[1], ids[0]}},
		{ids[1], map[string]interface{}{"parent_id": ids[2], "index": 0}, []string{ids[2], ids[0]}},
	}
	for i, m := range moves {
		var nodes []domain.TodoNode
		status := ts.do(t, request{method: "POST", path: base + "/" + m.node + "/move", token: "alice-token",
			headers: map[string]string{OriginHeader: fmt.Sprint("tab-", i)}, body: m.body}, &nodes)
		require.Equal(t, fiber.StatusOK, status, "move %d", i)
		assert.Equal(t, m.want, nodes[0].Children, "move %d", i)
		assert.Equal(t, fiber.StatusNotFound, ts.do(t, request{method: "GET", path: "/notes/" + uuid.NewString(), token: "alice-token",
			headers: map[string]string{OriginHeader: "some-other-session-with-a-longer-id"}}, nil))
	}

	stored, err := ts.store.TodoNodes(context.Background(), "alice", todo.ID)
	require.NoError(t, err)
	rebuilt, err := tree.TodoFromNodes(todo.ID, stored)
	require.NoError(t, err)
	assert.Equal(t, []string{ids[2], ids[0]}, rebuilt.Children(todo.ID))
	assert.Equal(t, []string{ids[1]}, rebuilt.Children(ids[2]))

	moved := func() []ws.Event {
		var out []ws.Event
		for _, e := range recorder.received() {
			if e.Origin != "" {
				out = append(out, e)
			}
		}
		return out
	}
	require.Eventually(t, func() bool { return len(moved()) == 3 }, time.Second, 5*time.Millisecond)
	for i, e := range moved() {
		assert.Equal(t, ws.Event{Type: ws.EventTodoChanged, ID: todo.ID, Origin: fmt.Sprint("tab-", i)}, e)
	}
}

func TestFolderRules(t *testing.T) {
	ts := newTestServer(t)

	var parent, child domain.Folder
	require.Equal(t, fiber.StatusCreated, ts.do(t, request{method: "POST", path: "/folders", token: "alice-token",
		body: map[string]string{"name": "parent", "type": "todo"}}, &parent))
	require.Equal(t, fiber.StatusCreated, ts.do(t, request{method: "POST", path: "/folders", token: "alice-token",
		body: map[string]string{"name": "child", "type": "todo", "parent_id": parent.ID}}, &child))

	assert.Equal(t, fiber.StatusConflict, ts.do(t, request{method: "PATCH", path: "/folders/" + parent.ID, token: "alice-token",
		body: map[string]string{"parent_id": child.ID}}, nil))
	assert.Equal(t, fiber.StatusConflict, ts.do(t, request{method: "POST", path: "/notes", token: "alice-token",
		body: map[string]string{"name": "n", "folder_id": parent.ID}}, nil))
	assert.Equal(t, fiber.StatusBadRequest, ts.do(t, request{method: "DELETE", path: "/folders/" + parent.ID, token: "alice-token"}, nil))
	assert.Equal(t, fiber.StatusNoContent, ts.do(t, request{method: "DELETE", path: "/folders/" + child.ID, token: "alice-token"}, nil))
	assert.Equal(t, fiber.StatusNotFound, ts.do(t, request{method: "DELETE", path: "/folders/" + parent.ID, token: "bob-token"}, nil))
}

func TestHistoryAndFiles(t *testing.T) {
	ts := newTestServer(t)

	var a, b domain.Note
	require.Equal(t, fiber.StatusCreated, ts.do(t, request{method: "POST", path: "/notes", token: "alice-token",
		body: map[string]string{"name": "a"}}, &a))
	require.Equal(t, fiber.StatusCreated, ts.do(t, request{method: "POST", path: "/notes", token: "alice-token",
		body: map[string]string{"name": "b"}}, &b))

	var entries []domain.HistoryEntry
	for _, id := range []string{a.ID, b.ID, a.ID} {
		require.Equal(t, fiber.StatusOK, ts.do(t, request{method: "POST", path: "/history", token: "alice-token",
			body: map[string]string{"id": id}}, &entries))
	}
	require.Len(t, entries, 2)
	assert.Equal(t, a.ID, entries[0].ID)

	var files []domain.ContentItem
	require.Equal(t, fiber.StatusOK, ts.do(t, request{method: "GET", path: "/files", token: "alice-token"}, &files))
	assert.Len(t, files, 2)

	require.Equal(t, fiber.StatusOK, ts.do(t, request{method: "GET", path: "/files", token: "bob-token"}, &files))
	assert.Empty(t, files)
}

func TestInboxPromote(t *testing.T) {
	ts := newTestServer(t)

	var entry domain.InboxEntry
	require.Equal(t, fiber.StatusCreated, ts.do(t, request{method: "POST", path: "/inbox", token: "alice-token",
		body: map[string]string{"content": "buy stamps\nat the post office"}}, &entry))

	var note domain.Note
	require.Equal(t, fiber.StatusCreated, ts.do(t, request{method: "POST", path: "/inbox/" + entry.ID + "/promote", token: "alice-token"}, &note))
	assert.Equal(t, "buy stamps", note.Name)

	var entries []domain.InboxEntry
	require.Equal(t, fiber.StatusOK, ts.do(t, request{method: "GET", path: "/inbox", token: "alice-token"}, &entries))
	assert.Empty(t, entries)
}

func TestAdminRoutes(t *testing.T) {
	ts := newTestServer(t)
	admin := map[string]string{auth.AdminKeyHeader: "admin-key"}

	assert.Equal(t, fiber.StatusForbidden, ts.do(t, request{method: "GET", path: "/admin/email"}, nil))
	assert.Equal(t, fiber.StatusForbidden, ts.do(t, request{method: "GET", path: "/admin/email", token: "alice-token"}, nil))

	var email domain.AllowedEmail
	require.Equal(t, fiber.StatusCreated, ts.do(t, request{method: "POST", path: "/admin/email", headers: admin,
		body: map[string]string{"email": "Ada@Example.com"}}, &email))
	assert.Equal(t, "ada@example.com", email.Email)

	var emails []domain.AllowedEmail
	require.Equal(t, fiber.StatusOK, ts.do(t, request{method: "GET", path: "/admin/email", headers: admin}, &emails))
	assert.Len(t, emails, 1)

	assert.Equal(t, fiber.StatusBadRequest, ts.do(t, request{method: "POST", path: "/admin/email", headers: admin,
		body: map[string]string{"email": "nope"}}, nil))
	assert.Equal(t, fiber.StatusNoContent, ts.do(t, request{method: "DELETE", path: "/admin/email/" + email.ID, headers: admin}, nil))
	assert.Equal(t, fiber.StatusNotFound, ts.do(t, request{method: "DELETE", path: "/admin/email/" + email.ID, headers: admin}, nil))
}

func TestMutationsNotifyOwnSessions(t *testing.T) {
	ts := newTestServer(t)
	alice, bob := &recordingConn{}, &recordingConn{}
	ts.hub.Register("alice", alice)
	ts.hub.Register("bob", bob)

	var note domain.Note
	require.Equal(t, fiber.StatusCreated, ts.do(t, request{method: "POST", path: "/notes", token: "alice-token",
		headers: map[string]string{OriginHeader: "tab-1"}, body: map[string]string{"name": "n"}}, &note))

	require.Eventually(t, func() bool { return len(alice.received()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, ws.Event{Type: ws.EventFileChanged, ID: note.ID, Origin: "tab-1"}, alice.received()[0])
	assert.Empty(t, bob.received())
}

func TestStatusMapping(t *testing.T) {
	tests := []struct {
		err  error
		code int
	}{
		{domain.NotFoundError{Kind: "note", ID: "x"}, fiber.StatusNotFound},
		{domain.AuthorizationError{}, fiber.StatusUnauthorized},
		{domain.IntegrityError{Reason: "r"}, fiber.StatusConflict},
		{domain.CycleError{NodeID: "a", TargetID: "b"}, fiber.StatusConflict},
		{domain.NetworkError{Op: "db"}, fiber.StatusServiceUnavailable},
		{domain.ValidationError{Field: "f"}, fiber.StatusBadRequest},
		{fmt.Errorf("wrapped: %w", domain.NotFoundError{}), fiber.StatusNotFound},
		{fiber.NewError(fiber.StatusForbidden, "no"), fiber.StatusForbidden},
		{errors.New("pool exhausted"), fiber.StatusInternalServerError},
	}
	for _, tt := range tests {
		code, msg := Status(tt.err)
		assert.Equal(t, tt.code, code, tt.err.Error())
		if code == fiber.StatusInternalServerError {
			assert.Equal(t, "internal server error", msg)
		}
	}
}

type recordingConn struct {
	mu     sync.Mutex
	events []ws.Event
}

func (r *recordingConn) WriteJSON(v interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, v.(ws.Event))
	return nil
}

func (r *recordingConn) ReadMessage() (int, []byte, error) { return 0, nil, io.EOF }

func (r *recordingConn) Close() error { return nil }

func (r *recordingConn) received() []ws.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ws.Event(nil), r.events...)
}
