// server/client/mutation.go
package client

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"

	"github.com/vinizap/haku/server/domain"
	"github.com/vinizap/haku/server/tree"
)

// Mutation is one user edit. It can be replayed against any State and sent to
// the server once. Build them with the constructors in this file.
type Mutation interface {
	// Target is the ID of the item, folder or todo node the edit marks as
	// pending.
	Target() string
	apply(s *State) error
	send(ctx context.Context, b Backend) (merge func(*State) error, err error)
}

// binder is implemented by mutations whose payload depends on the state they
// are issued against.
type binder interface {
	bind(visible *State) (Mutation, error)
}

type renameItem struct {
	id   string
	name string
	typ  domain.ContentType
}

// RenameItem renames a note or todo.
func RenameItem(id, name string) Mutation {
	return &renameItem{id: id, name: name}
}

func (m *renameItem) Target() string { return m.id }

func (m *renameItem) bind(s *State) (Mutation, error) {
	item, ok := s.Items[m.id]
	if !ok {
		return nil, domain.NotFoundError{Kind: "file", ID: m.id}
	}
	bound := *m
	bound.typ = item.Type
	return &bound, nil
}

func (m *renameItem) apply(s *State) error {
	item, ok := s.Items[m.id]
	if !ok {
		return domain.NotFoundError{Kind: "file", ID: m.id}
	}
	name, err := cleanName(m.name)
	if err != nil {
		return err
	}
	item.Name = name
	s.Items[m.id] = item
	return nil
}

func (m *renameItem) send(ctx context.Context, b Backend) (func(*State) error, error) {
	item, err := b.UpdateItem(ctx, m.typ, m.id, ItemPatch{Name: &m.name})
	if err != nil {
		return nil, err
	}
	return func(s *State) error {
		s.Items[item.ID] = item
		return nil
	}, nil
}

type renameFolder struct {
	id   string
	name string
}

func RenameFolder(id, name string) Mutation {
	return &renameFolder{id: id, name: name}
}

func (m *renameFolder) Target() string { return m.id }

func (m *renameFolder) apply(s *State) error {
	f, ok := s.Folders[m.id]
	if !ok {
		return domain.NotFoundError{Kind: "folder", ID: m.id}
	}
	name, err := cleanName(m.name)
	if err != nil {
		return err
	}
	f.Name = name
	s.Folders[m.id] = f
	return nil
}

func (m *renameFolder) send(ctx context.Context, b Backend) (func(*State) error, error) {
	f, err := b.UpdateFolder(ctx, m.id, FolderPatch{Name: &m.name})
	if err != nil {
		return nil, err
	}
	return func(s *State) error {
		s.Folders[f.ID] = f
		return nil
	}, nil
}

// nodeMutation edits one todo tree. The server answers with the whole tree,
// which replaces the confirmed copy.
type nodeMutation struct {
	todoID string
	nodeID string
	edit   func(t *tree.Todo) error
	call   func(ctx context.Context, b Backend) ([]domain.TodoNode, error)
}

func (m *nodeMutation) Target() string { return m.nodeID }

func (m *nodeMutation) apply(s *State) error {
	t, ok := s.Todos[m.todoID]
	if !ok {
		return domain.NotFoundError{Kind: "todo", ID: m.todoID}
	}
	return m.edit(t)
}

func (m *nodeMutation) send(ctx context.Context, b Backend) (func(*State) error, error) {
	nodes, err := m.call(ctx, b)
	if err != nil {
		return nil, err
	}
	return func(s *State) error {
		t, err := tree.TodoFromNodes(m.todoID, nodes)
		if err != nil {
			return err
		}
		s.Todos[m.todoID] = t
		return nil
	}, nil
}

// RenameNode replaces the text of a todo node.
func RenameNode(todoID, nodeID, content string) Mutation {
	return &nodeMutation{
		todoID: todoID,
		nodeID: nodeID,
		edit:   func(t *tree.Todo) error { return t.SetContent(nodeID, content) },
		call: func(ctx context.Context, b Backend) ([]domain.TodoNode, error) {
			return b.UpdateNode(ctx, todoID, nodeID, NodePatch{Content: &content})
		},
	}
}

// InsertNode adds a node under parentID at index. An empty nodeID gets a
// fresh UUID, readable through Target.
func InsertNode(todoID, parentID, nodeID string, index int, content string) Mutation {
	if nodeID == "" {
		nodeID = uuid.NewString()
	}
	return &nodeMutation{
		todoID: todoID,
		nodeID: nodeID,
		edit: func(t *tree.Todo) error {
			if err := t.Insert(parentID, nodeID, index); err != nil {
				return err
			}
			return t.SetContent(nodeID, content)
		},
		call: func(ctx context.Context, b Backend) ([]domain.TodoNode, error) {
			return b.AddNode(ctx, todoID, NewNode{ID: nodeID, ParentID: parentID, Index: index, Content: content})
		},
	}
}

// DeleteNode removes a node and its subtree.
func DeleteNode(todoID, nodeID string) Mutation {
	return &nodeMutation{
		todoID: todoID,
		nodeID: nodeID,
		edit: func(t *tree.Todo) error {
			_, err := t.Remove(nodeID)
			return err
		},
		call: func(ctx context.Context, b Backend) ([]domain.TodoNode, error) {
			return b.DeleteNode(ctx, todoID, nodeID)
		},
	}
}

// MoveNode moves a node so it ends up at index among the children of
// parentID.
func MoveNode(todoID, nodeID, parentID string, index int) Mutation {
	return &nodeMutation{
		todoID: todoID,
		nodeID: nodeID,
		edit:   func(t *tree.Todo) error { return t.Move(nodeID, parentID, index) },
		call: func(ctx context.Context, b Backend) ([]domain.TodoNode, error) {
			return b.MoveNode(ctx, todoID, nodeID, parentID, index)
		},
	}
}

func SetStatus(todoID, nodeID string, status domain.Status) Mutation {
	return &nodeMutation{
		todoID: todoID,
		nodeID: nodeID,
		edit:   func(t *tree.Todo) error { return t.SetStatus(nodeID, status) },
		call: func(ctx context.Context, b Backend) ([]domain.TodoNode, error) {
			return b.UpdateNode(ctx, todoID, nodeID, NodePatch{Status: &status})
		},
	}
}

func SetCollapsed(todoID, nodeID string, collapsed bool) Mutation {
	return &nodeMutation{
		todoID: todoID,
		nodeID: nodeID,
		edit:   func(t *tree.Todo) error { return t.SetCollapsed(nodeID, collapsed) },
		call: func(ctx context.Context, b Backend) ([]domain.TodoNode, error) {
			return b.UpdateNode(ctx, todoID, nodeID, NodePatch{Collapsed: &collapsed})
		},
	}
}

type toggleCollapsed struct {
	todoID string
	nodeID string
}

// ToggleCollapsed flips the collapsed flag as seen when it is applied. It is
// sent as an absolute SetCollapsed so replays and retries stay idempotent.
func ToggleCollapsed(todoID, nodeID string) Mutation {
	return &toggleCollapsed{todoID: todoID, nodeID: nodeID}
}

func (m *toggleCollapsed) Target() string { return m.nodeID }

func (m *toggleCollapsed) bind(s *State) (Mutation, error) {
	t, ok := s.Todos[m.todoID]
	if !ok {
		return nil, domain.NotFoundError{Kind: "todo", ID: m.todoID}
	}
	n, ok := t.Node(m.nodeID)
	if !ok {
		return nil, domain.NotFoundError{Kind: "todo node", ID: m.nodeID}
	}
	return SetCollapsed(m.todoID, m.nodeID, !n.Collapsed), nil
}

func (m *toggleCollapsed) apply(s *State) error {
	t, ok := s.Todos[m.todoID]
	if !ok {
		return domain.NotFoundError{Kind: "todo", ID: m.todoID}
	}
	return t.ToggleCollapsed(m.nodeID)
}

var errUnbound = errors.New("toggle must be bound to a state before it is sent")

func (m *toggleCollapsed) send(context.Context, Backend) (func(*State) error, error) {
	return nil, errUnbound
}

func cleanName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", domain.ValidationError{Field: "name", Reason: "must not be empty"}
	}
	return name, nil
}
