package client

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vinizap/haku/server/domain"
	"github.com/vinizap/haku/server/store"
	"github.com/vinizap/haku/server/tree"
)

// memoryBackend serves the Backend interface from a store.Memory. Calls can
// be held until released and failed on demand.
type memoryBackend struct {
	st   *store.Memory
	user string

	mu    sync.Mutex
	fail  error
	hold  chan struct{}
	calls int
	// garble makes node writes succeed but answer with an unusable tree.
	garble bool
}

func (b *memoryBackend) gate(ctx context.Context) error {
	b.mu.Lock()
	b.calls++
	hold, fail := b.hold, b.fail
	b.mu.Unlock()
	if hold != nil {
		select {
		case <-hold:
		case <-ctx.Done():
			return domain.NetworkError{Op: "test", Err: ctx.Err()}
		}
	}
	return fail
}

func (b *memoryBackend) setFail(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.fail = err
}

func (b *memoryBackend) holdCalls() (release func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan struct{})
	b.hold = ch
	return func() {
		b.mu.Lock()
		b.hold = nil
		b.mu.Unlock()
		close(ch)
	}
}

func (b *memoryBackend) callCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls
}

func (b *memoryBackend) Files(ctx context.Context) ([]domain.ContentItem, error) {
	return b.st.Files(ctx, b.user)
}

func (b *memoryBackend) Folders(ctx context.Context, t domain.ContentType) ([]domain.Folder, error) {
	return b.st.Folders(ctx, b.user, t)
}

func (b *memoryBackend) TodoNodes(ctx context.Context, todoID string) ([]domain.TodoNode, error) {
	return b.st.TodoNodes(ctx, b.user, todoID)
}

func (b *memoryBackend) UpdateItem(ctx context.Context, _ domain.ContentType, id string, patch ItemPatch) (domain.ContentItem, error) {
	if err := b.gate(ctx); err != nil {
		return domain.ContentItem{}, err
	}
	n, err := b.st.UpdateItem(ctx, b.user, id, store.ItemUpdate{Name: patch.Name, Folder: patch.FolderID, Body: patch.Body})
	return n.ContentItem, err
}

func (b *memoryBackend) UpdateFolder(ctx context.Context, id string, patch FolderPatch) (domain.Folder, error) {
	if err := b.gate(ctx); err != nil {
		return domain.Folder{}, err
	}
	return b.st.UpdateFolder(ctx, b.user, id, store.FolderUpdate{Name: patch.Name, Parent: patch.ParentID})
}

func (b *memoryBackend) mutate(ctx context.Context, todoID string, fn func(*tree.Todo) error) ([]domain.TodoNode, error) {
	if err := b.gate(ctx); err != nil {
		return nil, err
	}
	nodes, err := b.st.MutateTodo(ctx, b.user, todoID, fn)
	b.mu.Lock()
	defer b.mu.Unlock()
	if err == nil && b.garble {
		return nodes[1:], nil
	}
	return nodes, err
}

func (b *memoryBackend) AddNode(ctx context.Context, todoID string, n NewNode) ([]domain.TodoNode, error) {
	return b.mutate(ctx, todoID, func(t *tree.Todo) error {
		if err := t.Insert(n.ParentID, n.ID, n.Index); err != nil {
			return err
		}
		return t.SetContent(n.ID, n.Content)
	})
}

func (b *memoryBackend) UpdateNode(ctx context.Context, todoID, nodeID string, p NodePatch) ([]domain.TodoNode, error) {
	return b.mutate(ctx, todoID, func(t *tree.Todo) error {
		if p.Content != nil {
			if err := t.SetContent(nodeID, *p.Content); err != nil {
				return err
			}
		}
		if p.Status != nil {
			if err := t.SetStatus(nodeID, *p.Status); err != nil {
				return err
			}
		}
		if p.Collapsed != nil {
			return t.SetCollapsed(nodeID, *p.Collapsed)
		}
		return nil
	})
}

func (b *memoryBackend) MoveNode(ctx context.Context, todoID, nodeID, parentID string, index int) ([]domain.TodoNode, error) {
	return b.mutate(ctx, todoID, func(t *tree.Todo) error { return t.Move(nodeID, parentID, index) })
}

func (b *memoryBackend) DeleteNode(ctx context.Context, todoID, nodeID string) ([]domain.TodoNode, error) {
	return b.mutate(ctx, todoID, func(t *tree.Todo) error {
		_, err := t.Remove(nodeID)
		return err
	})
}

type fixture struct {
	backend *memoryBackend
	layer   *Layer
	note    domain.Note
	folder  domain.Folder
	todo    domain.ContentItem
	nodes   []string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	st := store.NewMemory()
	folder, err := st.CreateFolder(ctx, "u1", store.NewFolder{Name: "Work", Type: domain.ContentNote})
	require.NoError(t, err)
	note, err := st.CreateNote(ctx, "u1", store.NewNote{Name: "Plan", FolderID: folder.ID})
	require.NoError(t, err)
	todo, err := st.CreateTodo(ctx, "u1", store.NewTodo{Name: "Chores"})
	require.NoError(t, err)

	nodes := []string{uuid.NewString(), uuid.NewString(), uuid.NewString()}
	_, err = st.MutateTodo(ctx, "u1", todo.ID, func(td *tree.Todo) error {
		for i, id := range nodes {
			if err := td.Insert(todo.ID, id, i); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)

	b := &memoryBackend{st: st, user: "u1"}
	l := NewLayer(b, zerolog.Nop())
	require.NoError(t, l.Refresh(ctx))
	return &fixture{backend: b, layer: l, note: note, folder: folder, todo: todo, nodes: nodes}
}

func (f *fixture) rootChildren(t *testing.T) []string {
	t.Helper()
	nodes, ok := f.layer.TodoNodes(f.todo.ID)
	require.True(t, ok)
	return nodes[0].Children
}

func wait(t *testing.T, ch <-chan Outcome) Outcome {
	t.Helper()
	select {
	case o := <-ch:
		return o
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for outcome")
		return Outcome{}
	}
}

func TestRefreshLoadsConfirmedState(t *testing.T) {
	f := newFixture(t)

	item, ok := f.layer.Item(f.note.ID)
	require.True(t, ok)
	assert.Equal(t, "Plan", item.Name)
	_, ok = f.layer.Folder(f.folder.ID)
	assert.True(t, ok)
	assert.Len(t, f.layer.Items(), 2)
	assert.Equal(t, f.nodes, f.rootChildren(t))

	forest, err := f.layer.Forest(domain.ContentNote)
	require.NoError(t, err)
	assert.Equal(t, 2, forest.Count())
}

func TestRenameRollbackAfterNetworkFailure(t *testing.T) {
	f := newFixture(t)
	before := f.layer.Items()

	f.backend.setFail(domain.NetworkError{Op: "PATCH /notes", Err: context.DeadlineExceeded})
	release := f.backend.holdCalls()
	done := f.layer.Apply(context.Background(), RenameItem(f.note.ID, "Renamed"))

	item, _ := f.layer.Item(f.note.ID)
	assert.Equal(t, "Renamed", item.Name)
	assert.True(t, f.layer.Pending(f.note.ID))

	release()
	out := wait(t, done)
	require.Error(t, out.Err)
	assert.True(t, out.Retryable)
	assert.Equal(t, before, f.layer.Items())
	assert.False(t, f.layer.Pending(f.note.ID))
	assert.Equal(t, []uint64{out.Mutation}, f.layer.Failed())

	f.backend.setFail(nil)
	retried := wait(t, f.layer.Retry(context.Background(), out.Mutation))
	require.NoError(t, retried.Err)
	item, _ = f.layer.Item(f.note.ID)
	assert.Equal(t, "Renamed", item.Name)
	assert.Empty(t, f.layer.Failed())

	stored, err := f.backend.st.Note(context.Background(), "u1", f.note.ID)
	require.NoError(t, err)
	assert.Equal(t, "Renamed", stored.Name)
}

func TestOptimisticMoveThenConfirm(t *testing.T) {
	f := newFixture(t)
	n1, a, b := f.nodes[0], f.nodes[1], f.nodes[2]

	release := f.backend.holdCalls()
	done := f.layer.Apply(context.Background(), MoveNode(f.todo.ID, b, f.todo.ID, 1))
	assert.Equal(t, []string{n1, b, a}, f.rootChildren(t))
	assert.True(t, f.layer.Pending(b))

	release()
	require.NoError(t, wait(t, done).Err)
	assert.Equal(t, []string{n1, b, a}, f.rootChildren(t))
	assert.False(t, f.layer.Pending(b))

	node, ok := f.layer.TodoNodes(f.todo.ID)
	require.True(t, ok)
	assert.False(t, node[0].UpdatedAt.IsZero())
}

func TestLaterEditOfPendingNodeWinsAndBothComplete(t *testing.T) {
	f := newFixture(t)
	id := f.nodes[0]

	release := f.backend.holdCalls()
	first := f.layer.Apply(context.Background(), RenameNode(f.todo.ID, id, "milk"))
	second := f.layer.Apply(context.Background(), RenameNode(f.todo.ID, id, "oat milk"))

	nodes, _ := f.layer.TodoNodes(f.todo.ID)
	assert.Equal(t, "oat milk", nodes[1].Content)

	release()
	require.NoError(t, wait(t, first).Err)
	require.NoError(t, wait(t, second).Err)
	assert.Equal(t, 2, f.backend.callCount())

	nodes, _ = f.layer.TodoNodes(f.todo.ID)
	assert.Equal(t, "oat milk", nodes[1].Content)
	stored, err := f.backend.st.TodoNodes(context.Background(), "u1", f.todo.ID)
	require.NoError(t, err)
	assert.Equal(t, "oat milk", stored[1].Content)
}

func TestNonRetryableFailureRollsBack(t *testing.T) {
	f := newFixture(t)
	id := f.nodes[2]

	// The node disappears on the server behind the client's back.
	_, err := f.backend.st.MutateTodo(context.Background(), "u1", f.todo.ID, func(td *tree.Todo) error {
		_, err := td.Remove(id)
		return err
	})
	require.NoError(t, err)

	out := wait(t, f.layer.Apply(context.Background(), SetStatus(f.todo.ID, id, domain.StatusCompleted)))
	var nf domain.NotFoundError
	require.ErrorAs(t, out.Err, &nf)
	assert.False(t, out.Retryable)
	assert.Empty(t, f.layer.Failed())

	nodes, _ := f.layer.TodoNodes(f.todo.ID)
	for _, n := range nodes {
		assert.NotEqual(t, domain.StatusCompleted, n.Status)
	}
}

func TestLocallyInvalidEditIsNeverSent(t *testing.T) {
	f := newFixture(t)
	parent, child := f.nodes[0], uuid.NewString()
	require.NoError(t, wait(t, f.layer.Apply(context.Background(), InsertNode(f.todo.ID, parent, child, 0, "sub"))).Err)
	calls := f.backend.callCount()

	out := wait(t, f.layer.Apply(context.Background(), MoveNode(f.todo.ID, parent, child, 0)))
	var ce domain.CycleError
	require.ErrorAs(t, out.Err, &ce)
	assert.Zero(t, out.Mutation)
	assert.Equal(t, calls, f.backend.callCount())

	out = wait(t, f.layer.Apply(context.Background(), RenameFolder(f.folder.ID, "  ")))
	var ve domain.ValidationError
	require.ErrorAs(t, out.Err, &ve)
}

func TestToggleCollapsedSendsAbsoluteValue(t *testing.T) {
	f := newFixture(t)
	id := f.nodes[1]

	release := f.backend.holdCalls()
	first := f.layer.Apply(context.Background(), ToggleCollapsed(f.todo.ID, id))
	second := f.layer.Apply(context.Background(), ToggleCollapsed(f.todo.ID, id))
	release()
	require.NoError(t, wait(t, first).Err)
	require.NoError(t, wait(t, second).Err)

	stored, err := f.backend.st.TodoNodes(context.Background(), "u1", f.todo.ID)
	require.NoError(t, err)
	assert.False(t, stored[2].Collapsed)

	require.NoError(t, wait(t, f.layer.Apply(context.Background(), ToggleCollapsed(f.todo.ID, id))).Err)
	nodes, _ := f.layer.TodoNodes(f.todo.ID)
	assert.True(t, nodes[2].Collapsed)
}

func TestInsertAndDeleteNode(t *testing.T) {
	f := newFixture(t)

	m := InsertNode(f.todo.ID, f.todo.ID, "", 0, "first")
	require.NotEmpty(t, m.Target())
	require.NoError(t, wait(t, f.layer.Apply(context.Background(), m)).Err)
	assert.Equal(t, m.Target(), f.rootChildren(t)[0])

	require.NoError(t, wait(t, f.layer.Apply(context.Background(), DeleteNode(f.todo.ID, m.Target()))).Err)
	assert.Equal(t, f.nodes, f.rootChildren(t))
}

func TestSubscribeReportsTransitions(t *testing.T) {
	f := newFixture(t)
	var (
		mu    sync.Mutex
		kinds []ChangeKind
	)
	unsubscribe := f.layer.Subscribe(func(c Change) {
		mu.Lock()
		defer mu.Unlock()
		kinds = append(kinds, c.Kind)
	})

	require.NoError(t, wait(t, f.layer.Apply(context.Background(), RenameFolder(f.folder.ID, "Home"))).Err)
	f.backend.setFail(domain.NetworkError{Op: "x"})
	require.Error(t, wait(t, f.layer.Apply(context.Background(), RenameFolder(f.folder.ID, "Away"))).Err)

	mu.Lock()
	assert.Equal(t, []ChangeKind{Applied, Confirmed, Applied, RolledBack}, kinds)
	mu.Unlock()

	unsubscribe()
	f.backend.setFail(nil)
	require.NoError(t, wait(t, f.layer.Apply(context.Background(), RenameFolder(f.folder.ID, "Office"))).Err)
	mu.Lock()
	assert.Len(t, kinds, 4)
	mu.Unlock()

	folder, _ := f.layer.Folder(f.folder.ID)
	assert.Equal(t, "Office", folder.Name)
}

func TestRefreshReplaysPendingMutations(t *testing.T) {
	f := newFixture(t)
	n1, a, b := f.nodes[0], f.nodes[1], f.nodes[2]

	release := f.backend.holdCalls()
	done := f.layer.Apply(context.Background(), MoveNode(f.todo.ID, n1, f.todo.ID, 2))

	// Another session renames the todo meanwhile.
	_, err := f.backend.st.UpdateItem(context.Background(), "u1", f.todo.ID, store.ItemUpdate{Name: ptr("Errands")})
	require.NoError(t, err)
	require.NoError(t, f.layer.Refresh(context.Background()))

	item, _ := f.layer.Item(f.todo.ID)
	assert.Equal(t, "Errands", item.Name)
	assert.Equal(t, []string{a, b, n1}, f.rootChildren(t))

	release()
	require.NoError(t, wait(t, done).Err)
	assert.Equal(t, []string{a, b, n1}, f.rootChildren(t))
}

func TestAcceptedMutationSurvivesMalformedResult(t *testing.T) {
	f := newFixture(t)
	n1, a, b := f.nodes[0], f.nodes[1], f.nodes[2]
	f.backend.mu.Lock()
	f.backend.garble = true
	f.backend.mu.Unlock()

	out := wait(t, f.layer.Apply(context.Background(), MoveNode(f.todo.ID, b, f.todo.ID, 0)))
	require.NoError(t, out.Err)
	assert.False(t, f.layer.Pending(b))
	assert.Equal(t, []string{b, n1, a}, f.rootChildren(t))

	// Later edits replay on top of the kept state.
	f.backend.mu.Lock()
	f.backend.garble = false
	f.backend.mu.Unlock()
	require.NoError(t, wait(t, f.layer.Apply(context.Background(), RenameNode(f.todo.ID, a, "last"))).Err)
	assert.Equal(t, []string{b, n1, a}, f.rootChildren(t))
}

func TestRetryUnknownMutation(t *testing.T) {
	f := newFixture(t)
	out := wait(t, f.layer.Retry(context.Background(), 42))
	var nf domain.NotFoundError
	assert.ErrorAs(t, out.Err, &nf)
}

func ptr(s string) *string { return &s }
