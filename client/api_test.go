package client

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vinizap/haku/server/auth"
	"github.com/vinizap/haku/server/domain"
	httpapi "github.com/vinizap/haku/server/http"
	"github.com/vinizap/haku/server/store"
	"github.com/vinizap/haku/server/ws"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name  string
		code  int
		body  string
		check func(t *testing.T, err error)
	}{
		{"ok", 200, `[]`, func(t *testing.T, err error) { assert.NoError(t, err) }},
		{"server error is retryable", 502, ``, func(t *testing.T, err error) {
			assert.True(t, domain.IsRetryable(err))
		}},
		{"validation", 400, `{"error":"invalid name: must not be empty"}`, func(t *testing.T, err error) {
			var ve domain.ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Contains(t, ve.Reason, "must not be empty")
		}},
		{"unauthorized", 401, `{"error":"unauthorized"}`, func(t *testing.T, err error) {
			var ae domain.AuthorizationError
			assert.ErrorAs(t, err, &ae)
		}},
		{"forbidden", 403, `{"error":"admin key required"}`, func(t *testing.T, err error) {
			var ae domain.AuthorizationError
			assert.ErrorAs(t, err, &ae)
		}},
		{"not found", 404, ``, func(t *testing.T, err error) {
			var nf domain.NotFoundError
			require.ErrorAs(t, err, &nf)
			assert.Equal(t, "/notes/x", nf.ID)
		}},
		{"conflict", 409, `{"error":"cycle"}`, func(t *testing.T, err error) {
			var ie domain.IntegrityError
			assert.ErrorAs(t, err, &ie)
			assert.False(t, domain.IsRetryable(err))
		}},
		{"other", 418, `not json`, func(t *testing.T, err error) {
			require.Error(t, err)
			assert.False(t, domain.IsRetryable(err))
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.check(t, classify("PATCH /notes/x", "/notes/x", tt.code, []byte(tt.body)))
		})
	}
}

func startServer(t *testing.T) (baseURL string, st *store.Memory, hub *ws.Hub) {
	t.Helper()
	st = store.NewMemory()
	st.AddSession("alice-token", "alice")

	ctx, cancel := context.WithCancel(context.Background())
	hub = ws.NewHub(zerolog.Nop())
	go hub.Run(ctx)

	hash, err := auth.HashKey("")
	require.NoError(t, err)
	app := httpapi.NewServer(st, hub, hash, zerolog.Nop()).App(nil)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() { _ = app.Listener(ln) }()
	t.Cleanup(func() {
		_ = app.Shutdown()
		cancel()
	})
	return "http://" + ln.Addr().String(), st, hub
}

func TestAPIAgainstServer(t *testing.T) {
	baseURL, st, _ := startServer(t)
	ctx := context.Background()
	api := NewAPI(baseURL, "alice-token", "session-1")

	note, err := st.CreateNote(ctx, "alice", store.NewNote{Name: "Draft"})
	require.NoError(t, err)
	todo, err := st.CreateTodo(ctx, "alice", store.NewTodo{Name: "Chores"})
	require.NoError(t, err)

	files, err := api.Files(ctx)
	require.NoError(t, err)
	assert.Len(t, files, 2)

	renamed, err := api.UpdateItem(ctx, domain.ContentNote, note.ID, ItemPatch{Name: domain.StringPtr("Final")})
	require.NoError(t, err)
	assert.Equal(t, "Final", renamed.Name)

	a, b := uuid.NewString(), uuid.NewString()
	_, err = api.AddNode(ctx, todo.ID, NewNode{ID: a, ParentID: todo.ID, Index: 0, Content: "wash"})
	require.NoError(t, err)
	nodes, err := api.AddNode(ctx, todo.ID, NewNode{ID: b, ParentID: todo.ID, Index: 1, Content: "dry"})
	require.NoError(t, err)
	assert.Equal(t, []string{a, b}, nodes[0].Children)

	nodes, err = api.MoveNode(ctx, todo.ID, b, todo.ID, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{b, a}, nodes[0].Children)

	_, err = api.MoveNode(ctx, todo.ID, a, a, 0)
	var ie domain.IntegrityError
	require.ErrorAs(t, err, &ie)

	_, err = api.UpdateItem(ctx, domain.ContentNote, uuid.NewString(), ItemPatch{Name: domain.StringPtr("x")})
	var nf domain.NotFoundError
	require.ErrorAs(t, err, &nf)

	history, err := api.RecordVisit(ctx, note.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "Final", history[0].Name)

	_, err = NewAPI(baseURL, "wrong", "").Files(ctx)
	var ae domain.AuthorizationError
	assert.ErrorAs(t, err, &ae)
}

func TestAPIUnreachableServerIsRetryable(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	api := NewAPI("http://"+addr, "token", "")
	api.timeout = time.Second
	_, err = api.Files(context.Background())
	assert.True(t, domain.IsRetryable(err))
}

func TestAPICanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewAPI("http://127.0.0.1:1", "token", "").Files(ctx)
	assert.True(t, domain.IsRetryable(err))
}
