// server/client/sync.go
package client

import (
	"context"
	"maps"
	"slices"
	"sort"
	"strconv"
	"sync"

	"github.com/rs/zerolog"

	"github.com/vinizap/haku/server/domain"
	"github.com/vinizap/haku/server/tree"
)

// Backend is the server surface the synchronization layer needs. *API
// implements it.
type Backend interface {
	Files(ctx context.Context) ([]domain.ContentItem, error)
	Folders(ctx context.Context, t domain.ContentType) ([]domain.Folder, error)
	TodoNodes(ctx context.Context, todoID string) ([]domain.TodoNode, error)

	UpdateItem(ctx context.Context, t domain.ContentType, id string, patch ItemPatch) (domain.ContentItem, error)
	UpdateFolder(ctx context.Context, id string, patch FolderPatch) (domain.Folder, error)
	AddNode(ctx context.Context, todoID string, n NewNode) ([]domain.TodoNode, error)
	UpdateNode(ctx context.Context, todoID, nodeID string, patch NodePatch) ([]domain.TodoNode, error)
	MoveNode(ctx context.Context, todoID, nodeID, parentID string, index int) ([]domain.TodoNode, error)
	DeleteNode(ctx context.Context, todoID, nodeID string) ([]domain.TodoNode, error)
}

var _ Backend = (*API)(nil)

// State is the content known to the client.
type State struct {
	Items   map[string]domain.ContentItem
	Folders map[string]domain.Folder
	Todos   map[string]*tree.Todo
}

func newState() *State {
	return &State{
		Items:   map[string]domain.ContentItem{},
		Folders: map[string]domain.Folder{},
		Todos:   map[string]*tree.Todo{},
	}
}

func (s *State) clone() *State {
	c := &State{
		Items:   maps.Clone(s.Items),
		Folders: maps.Clone(s.Folders),
		Todos:   make(map[string]*tree.Todo, len(s.Todos)),
	}
	for id, t := range s.Todos {
		c.Todos[id] = t.Clone()
	}
	return c
}

type ChangeKind int

const (
	Applied ChangeKind = iota
	Confirmed
	RolledBack
	Refreshed
)

func (k ChangeKind) String() string {
	switch k {
	case Applied:
		return "applied"
	case Confirmed:
		return "confirmed"
	case RolledBack:
		return "rolled_back"
	case Refreshed:
		return "refreshed"
	default:
		return "unknown"
	}
}

// Change describes one transition of the visible state.
type Change struct {
	Kind     ChangeKind
	Mutation uint64
	Target   string
	Err      error
}

// Outcome is delivered once per Apply. Mutation is zero when the edit was
// rejected locally and never sent.
type Outcome struct {
	Mutation  uint64
	Err       error
	Retryable bool
}

type pending struct {
	id   uint64
	m    Mutation
	done chan Outcome
}

// Layer applies edits optimistically and reconciles them with the server.
// The visible state is always the confirmed state with every pending
// mutation replayed on top in issuance order, so a failed mutation is rolled
// back by dropping it and a later edit of the same target wins locally.
// Mutations reach the server one at a time in issuance order.
type Layer struct {
	backend Backend
	log     zerolog.Logger

	mu        sync.Mutex
	confirmed *State
	visible   *State
	queue     []*pending
	failed    map[uint64]Mutation
	tail      chan struct{}
	seq       uint64
	subs      map[int]func(Change)
	nextSub   int
}

func NewLayer(b Backend, log zerolog.Logger) *Layer {
	return &Layer{
		backend:   b,
		log:       log.With().Str("component", "sync").Logger(),
		confirmed: newState(),
		visible:   newState(),
		failed:    map[uint64]Mutation{},
		subs:      map[int]func(Change){},
	}
}

// Refresh reloads the confirmed state from the server. Pending mutations stay
// queued and are replayed on the new state.
func (l *Layer) Refresh(ctx context.Context) error {
	s := newState()
	files, err := l.backend.Files(ctx)
	if err != nil {
		return err
	}
	for _, f := range files {
		s.Items[f.ID] = f
	}
	for _, t := range []domain.ContentType{domain.ContentNote, domain.ContentTodo} {
		folders, err := l.backend.Folders(ctx, t)
		if err != nil {
			return err
		}
		for _, f := range folders {
			s.Folders[f.ID] = f
		}
	}
	for _, f := range files {
		if f.Type != domain.ContentTodo {
			continue
		}
		nodes, err := l.backend.TodoNodes(ctx, f.ID)
		if err != nil {
			return err
		}
		todo, err := tree.TodoFromNodes(f.ID, nodes)
		if err != nil {
			return err
		}
		s.Todos[f.ID] = todo
	}

	l.mu.Lock()
	l.confirmed = s
	l.recompute()
	l.mu.Unlock()
	l.emit(Change{Kind: Refreshed})
	return nil
}

// Apply shows m immediately and sends it to the server in the background.
// The returned channel yields exactly one Outcome. Edits that cannot apply
// to the visible state are rejected without contacting the server.
func (l *Layer) Apply(ctx context.Context, m Mutation) <-chan Outcome {
	done := make(chan Outcome, 1)
	reject := func(err error) <-chan Outcome {
		done <- Outcome{Err: err}
		close(done)
		return done
	}

	l.mu.Lock()
	if b, ok := m.(binder); ok {
		bound, err := b.bind(l.visible)
		if err != nil {
			l.mu.Unlock()
			return reject(err)
		}
		m = bound
	}
	trial := l.visible.clone()
	if err := m.apply(trial); err != nil {
		l.mu.Unlock()
		return reject(err)
	}
	l.seq++
	p := &pending{id: l.seq, m: m, done: done}
	l.queue = append(l.queue, p)
	l.visible = trial
	prev := l.tail
	next := make(chan struct{})
	l.tail = next
	l.mu.Unlock()

	l.emit(Change{Kind: Applied, Mutation: p.id, Target: m.Target()})
	go l.dispatch(ctx, p, prev, next)
	return done
}

func (l *Layer) dispatch(ctx context.Context, p *pending, prev <-chan struct{}, next chan struct{}) {
	defer close(next)
	var (
		merge func(*State) error
		err   error
	)
	if prev != nil {
		select {
		case <-prev:
		case <-ctx.Done():
			err = domain.NetworkError{Op: "dispatch", Err: ctx.Err()}
		}
	}
	if err == nil {
		merge, err = p.m.send(ctx, l.backend)
	}

	l.mu.Lock()
	l.queue = slices.DeleteFunc(l.queue, func(q *pending) bool { return q == p })
	if err == nil {
		if merr := merge(l.confirmed); merr != nil {
			// The server accepted the edit, so keep our own rendition of it.
			l.log.Warn().Err(merr).Uint64("mutation", p.id).Msg("discarding malformed server result")
			if aerr := p.m.apply(l.confirmed); aerr != nil {
				l.log.Warn().Err(aerr).Uint64("mutation", p.id).Msg("accepted mutation no longer applies")
			}
		}
	}
	retryable := err != nil && domain.IsRetryable(err)
	if retryable {
		l.failed[p.id] = p.m
	}
	l.recompute()
	l.mu.Unlock()

	kind := Confirmed
	if err != nil {
		kind = RolledBack
		l.log.Debug().Err(err).Uint64("mutation", p.id).Bool("retryable", retryable).Msg("mutation rolled back")
	}
	l.emit(Change{Kind: kind, Mutation: p.id, Target: p.m.Target(), Err: err})
	p.done <- Outcome{Mutation: p.id, Err: err, Retryable: retryable}
	close(p.done)
}

// Retry re-issues a mutation that failed with a retryable error.
func (l *Layer) Retry(ctx context.Context, id uint64) <-chan Outcome {
	l.mu.Lock()
	m, ok := l.failed[id]
	delete(l.failed, id)
	l.mu.Unlock()
	if !ok {
		done := make(chan Outcome, 1)
		done <- Outcome{Mutation: id, Err: domain.NotFoundError{Kind: "failed mutation", ID: strconv.FormatUint(id, 10)}}
		close(done)
		return done
	}
	return l.Apply(ctx, m)
}

// Failed lists the retryable mutations awaiting Retry.
func (l *Layer) Failed() []uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	ids := slices.Collect(maps.Keys(l.failed))
	slices.Sort(ids)
	return ids
}

// recompute rebuilds the visible state. Callers hold l.mu.
func (l *Layer) recompute() {
	v := l.confirmed.clone()
	for _, p := range l.queue {
		if err := p.m.apply(v); err != nil {
			l.log.Debug().Err(err).Uint64("mutation", p.id).Msg("pending mutation no longer applies")
		}
	}
	l.visible = v
}

// Subscribe registers fn for every state transition. fn runs on the
// goroutine that caused the change and must not block.
func (l *Layer) Subscribe(fn func(Change)) (unsubscribe func()) {
	l.mu.Lock()
	defer l.mu.Unlock()
	id := l.nextSub
	l.nextSub++
	l.subs[id] = fn
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.subs, id)
	}
}

func (l *Layer) emit(c Change) {
	l.mu.Lock()
	fns := make([]func(Change), 0, len(l.subs))
	for _, fn := range l.subs {
		fns = append(fns, fn)
	}
	l.mu.Unlock()
	for _, fn := range fns {
		fn(c)
	}
}

// Pending reports whether any in-flight mutation targets id.
func (l *Layer) Pending(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, p := range l.queue {
		if p.m.Target() == id {
			return true
		}
	}
	return false
}

func (l *Layer) Item(id string) (domain.ContentItem, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	item, ok := l.visible.Items[id]
	return item, ok
}

func (l *Layer) Folder(id string) (domain.Folder, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	f, ok := l.visible.Folders[id]
	return f, ok
}

// Items returns the visible items ordered by ID.
func (l *Layer) Items() []domain.ContentItem {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := slices.Collect(maps.Values(l.visible.Items))
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// TodoNodes returns the visible nodes of a todo in pre-order.
func (l *Layer) TodoNodes(todoID string) ([]domain.TodoNode, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	t, ok := l.visible.Todos[todoID]
	if !ok {
		return nil, false
	}
	return t.Nodes(), true
}

// Forest assembles the visible navigation tree of one content type.
func (l *Layer) Forest(t domain.ContentType) (*tree.Forest, error) {
	l.mu.Lock()
	var folders []domain.Folder
	for _, f := range l.visible.Folders {
		if f.Type == t {
			folders = append(folders, f)
		}
	}
	var items []domain.ContentItem
	for _, it := range l.visible.Items {
		if it.Type == t {
			items = append(items, it)
		}
	}
	l.mu.Unlock()
	return tree.BuildTree(folders, items)
}
