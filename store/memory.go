// server/store/memory.go
package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vinizap/haku/server/domain"
	"github.com/vinizap/haku/server/history"
	"github.com/vinizap/haku/server/tree"
)

// Memory is an in-process Store. It backs tests and `haku serve --memory`.
type Memory struct {
	mu       sync.Mutex
	now      func() time.Time
	items    map[string]*domain.Note
	folders  map[string]domain.Folder
	todos    map[string]*tree.Todo
	history  map[string][]string
	inbox    map[string]domain.InboxEntry
	emails   map[string]domain.AllowedEmail
	sessions map[string]string
}

func NewMemory() *Memory {
	return &Memory{
		now:      time.Now,
		items:    map[string]*domain.Note{},
		folders:  map[string]domain.Folder{},
		todos:    map[string]*tree.Todo{},
		history:  map[string][]string{},
		inbox:    map[string]domain.InboxEntry{},
		emails:   map[string]domain.AllowedEmail{},
		sessions: map[string]string{},
	}
}

// AddSession registers a session token for userID.
func (m *Memory) AddSession(token, userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[token] = userID
}

func (m *Memory) Session(_ context.Context, token string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	uid, ok := m.sessions[token]
	if !ok || token == "" {
		return "", domain.AuthorizationError{Reason: "unknown session"}
	}
	return uid, nil
}

func (m *Memory) Files(_ context.Context, userID string) ([]domain.ContentItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []domain.ContentItem{}
	for _, n := range m.items {
		if n.UserID == userID {
			out = append(out, n.ContentItem)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) Folders(_ context.Context, userID string, t domain.ContentType) ([]domain.Folder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []domain.Folder{}
	for _, f := range m.folders {
		if f.UserID == userID && f.Type == t {
			out = append(out, f)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) Note(_ context.Context, userID, id string) (domain.Note, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.items[id]
	if !ok || n.UserID != userID || n.Type != domain.ContentNote {
		return domain.Note{}, domain.NotFoundError{Kind: "note", ID: id}
	}
	return *n, nil
}

func (m *Memory) TodoNodes(_ context.Context, userID, todoID string) ([]domain.TodoNode, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, err := m.todoLocked(userID, todoID)
	if err != nil {
		return nil, err
	}
	return t.Nodes(), nil
}

func (m *Memory) todoLocked(userID, todoID string) (*tree.Todo, error) {
	n, ok := m.items[todoID]
	if !ok || n.UserID != userID || n.Type != domain.ContentTodo {
		return nil, domain.NotFoundError{Kind: "todo", ID: todoID}
	}
	return m.todos[todoID], nil
}

func (m *Memory) History(_ context.Context, userID string) ([]domain.HistoryEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.historyLocked(userID), nil
}

func (m *Memory) historyLocked(userID string) []domain.HistoryEntry {
	out := []domain.HistoryEntry{}
	for _, id := range m.history[userID] {
		if n, ok := m.items[id]; ok && n.UserID == userID {
			out = append(out, domain.HistoryEntry{ID: n.ID, Name: n.Name, Type: n.Type})
		}
	}
	return out
}

func (m *Memory) InboxEntries(_ context.Context, userID string) ([]domain.InboxEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []domain.InboxEntry{}
	for _, e := range m.inbox {
		if e.UserID == userID {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *Memory) CreateNote(_ context.Context, userID string, in NewNote) (domain.Note, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, err := m.newItemLocked(userID, in.ID, in.Name, in.FolderID, domain.ContentNote)
	if err != nil {
		return domain.Note{}, err
	}
	n := &domain.Note{ContentItem: item, Body: in.Body}
	m.items[n.ID] = n
	return *n, nil
}

func (m *Memory) CreateTodo(_ context.Context, userID string, in NewTodo) (domain.ContentItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, err := m.newItemLocked(userID, in.ID, in.Name, in.FolderID, domain.ContentTodo)
	if err != nil {
		return domain.ContentItem{}, err
	}
	m.items[item.ID] = &domain.Note{ContentItem: item}
	root := tree.NewTodo(item.ID)
	root.Touch(item.ID, item.CreatedAt)
	m.todos[item.ID] = root
	return item, nil
}

func (m *Memory) newItemLocked(userID, id, name, folderID string, t domain.ContentType) (domain.ContentItem, error) {
	name, err := cleanName("name", name)
	if err != nil {
		return domain.ContentItem{}, err
	}
	id, err = newID(id)
	if err != nil {
		return domain.ContentItem{}, err
	}
	if _, taken := m.items[id]; taken {
		return domain.ContentItem{}, domain.ValidationError{Field: "id", Reason: "already exists"}
	}
	if folderID != "" {
		f, ok := m.folders[folderID]
		if err := checkContainer(f, ok, userID, folderID, t); err != nil {
			return domain.ContentItem{}, err
		}
	}
	now := m.now()
	return domain.ContentItem{
		ID:        id,
		UserID:    userID,
		Type:      t,
		Name:      name,
		FolderID:  domain.StringPtr(folderID),
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func (m *Memory) UpdateItem(_ context.Context, userID, id string, in ItemUpdate) (domain.Note, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.items[id]
	if !ok || n.UserID != userID {
		return domain.Note{}, domain.NotFoundError{Kind: "file", ID: id}
	}
	next := *n
	if in.Name != nil {
		name, err := cleanName("name", *in.Name)
		if err != nil {
			return domain.Note{}, err
		}
		next.Name = name
	}
	if in.Folder != nil {
		if *in.Folder != "" {
			f, ok := m.folders[*in.Folder]
			if err := checkContainer(f, ok, userID, *in.Folder, n.Type); err != nil {
				return domain.Note{}, err
			}
		}
		next.FolderID = domain.StringPtr(*in.Folder)
	}
	if in.Body != nil {
		if n.Type != domain.ContentNote {
			return domain.Note{}, domain.ValidationError{Field: "body", Reason: "only notes have a body"}
		}
		next.Body = *in.Body
	}
	next.UpdatedAt = m.now()
	m.items[id] = &next
	return next, nil
}

func (m *Memory) DeleteItem(_ context.Context, userID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.items[id]
	if !ok || n.UserID != userID {
		return domain.NotFoundError{Kind: "file", ID: id}
	}
	delete(m.items, id)
	delete(m.todos, id)
	r := history.NewRing(history.Capacity, m.history[userID]...)
	r.Remove(id)
	m.history[userID] = r.IDs()
	return nil
}

func (m *Memory) CreateFolder(_ context.Context, userID string, in NewFolder) (domain.Folder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	name, err := cleanName("name", in.Name)
	if err != nil {
		return domain.Folder{}, err
	}
	if !in.Type.Valid() {
		return domain.Folder{}, domain.ValidationError{Field: "type", Reason: "must be note or todo"}
	}
	id, err := newID(in.ID)
	if err != nil {
		return domain.Folder{}, err
	}
	if _, taken := m.folders[id]; taken {
		return domain.Folder{}, domain.ValidationError{Field: "id", Reason: "already exists"}
	}
	if in.ParentID != "" {
		p, ok := m.folders[in.ParentID]
		if err := checkContainer(p, ok, userID, in.ParentID, in.Type); err != nil {
			return domain.Folder{}, err
		}
	}
	now := m.now()
	f := domain.Folder{
		ID:        id,
		UserID:    userID,
		Name:      name,
		ParentID:  domain.StringPtr(in.ParentID),
		Type:      in.Type,
		CreatedAt: now,
		UpdatedAt: now,
	}
	m.folders[id] = f
	return f, nil
}

func (m *Memory) UpdateFolder(_ context.Context, userID, id string, in FolderUpdate) (domain.Folder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.folders[id]
	if !ok || f.UserID != userID {
		return domain.Folder{}, domain.NotFoundError{Kind: "folder", ID: id}
	}
	if in.Name != nil {
		name, err := cleanName("name", *in.Name)
		if err != nil {
			return domain.Folder{}, err
		}
		f.Name = name
	}
	if in.Parent != nil {
		if *in.Parent != "" {
			p, ok := m.folders[*in.Parent]
			if err := checkContainer(p, ok, userID, *in.Parent, f.Type); err != nil {
				return domain.Folder{}, err
			}
		}
		parentOf := map[string]string{}
		for _, x := range m.folders {
			if x.UserID == userID {
				parentOf[x.ID] = domain.Deref(x.ParentID)
			}
		}
		if err := checkFolderMove(parentOf, id, *in.Parent); err != nil {
			return domain.Folder{}, err
		}
		f.ParentID = domain.StringPtr(*in.Parent)
	}
	f.UpdatedAt = m.now()
	m.folders[id] = f
	return f, nil
}

func (m *Memory) DeleteFolder(_ context.Context, userID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.folders[id]
	if !ok || f.UserID != userID {
		return domain.NotFoundError{Kind: "folder", ID: id}
	}
	for _, x := range m.folders {
		if domain.Deref(x.ParentID) == id {
			return domain.ValidationError{Field: "folder", Reason: "folder is not empty"}
		}
	}
	for _, n := range m.items {
		if domain.Deref(n.FolderID) == id {
			return domain.ValidationError{Field: "folder", Reason: "folder is not empty"}
		}
	}
	delete(m.folders, id)
	return nil
}

func (m *Memory) MutateTodo(_ context.Context, userID, todoID string, fn func(*tree.Todo) error) ([]domain.TodoNode, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, err := m.todoLocked(userID, todoID)
	if err != nil {
		return nil, err
	}
	next := cur.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	if err := next.Validate(); err != nil {
		return nil, err
	}
	changed, _ := tree.Diff(cur, next)
	for _, n := range changed {
		if cur.Has(n.ID) {
			continue
		}
		for otherID, other := range m.todos {
			if otherID != todoID && other.Has(n.ID) {
				return nil, domain.ValidationError{Field: "node_id", Reason: "already used by another todo: " + n.ID}
			}
		}
	}
	now := m.now()
	for _, n := range changed {
		next.Touch(n.ID, now)
	}
	m.todos[todoID] = next
	m.items[todoID].UpdatedAt = now
	return next.Nodes(), nil
}

func (m *Memory) RecordVisit(_ context.Context, userID, id string) ([]domain.HistoryEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.items[id]
	if !ok || n.UserID != userID {
		return nil, domain.NotFoundError{Kind: "file", ID: id}
	}
	m.history[userID] = history.Record(m.history[userID], id, history.Capacity)
	return m.historyLocked(userID), nil
}

func (m *Memory) CreateInboxEntry(_ context.Context, userID, content string) (domain.InboxEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if strings.TrimSpace(content) == "" {
		return domain.InboxEntry{}, domain.ValidationError{Field: "content", Reason: "must not be empty"}
	}
	e := domain.InboxEntry{ID: uuid.NewString(), UserID: userID, Content: content, CreatedAt: m.now()}
	m.inbox[e.ID] = e
	return e, nil
}

func (m *Memory) DeleteInboxEntry(_ context.Context, userID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.inbox[id]
	if !ok || e.UserID != userID {
		return domain.NotFoundError{Kind: "inbox entry", ID: id}
	}
	delete(m.inbox, id)
	return nil
}

func (m *Memory) PromoteInboxEntry(_ context.Context, userID, id string, in Promotion) (domain.Note, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.inbox[id]
	if !ok || e.UserID != userID {
		return domain.Note{}, domain.NotFoundError{Kind: "inbox entry", ID: id}
	}
	name := in.Name
	if strings.TrimSpace(name) == "" {
		name = inboxTitle(e.Content)
	}
	item, err := m.newItemLocked(userID, "", name, in.FolderID, domain.ContentNote)
	if err != nil {
		return domain.Note{}, err
	}
	n := &domain.Note{ContentItem: item, Body: e.Content}
	m.items[n.ID] = n
	delete(m.inbox, id)
	return *n, nil
}

func (m *Memory) AllowedEmails(context.Context) ([]domain.AllowedEmail, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []domain.AllowedEmail{}
	for _, e := range m.emails {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Email < out[j].Email })
	return out, nil
}

func (m *Memory) AddAllowedEmail(_ context.Context, email string) (domain.AllowedEmail, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	email, err := normalizeEmail(email)
	if err != nil {
		return domain.AllowedEmail{}, err
	}
	for _, e := range m.emails {
		if e.Email == email {
			return domain.AllowedEmail{}, domain.ValidationError{Field: "email", Reason: "already allowed"}
		}
	}
	e := domain.AllowedEmail{ID: uuid.NewString(), Email: email, CreatedAt: m.now()}
	m.emails[e.ID] = e
	return e, nil
}

func (m *Memory) DeleteAllowedEmail(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.emails[id]; !ok {
		return domain.NotFoundError{Kind: "allowed email", ID: id}
	}
	delete(m.emails, id)
	return nil
}

func (m *Memory) IsEmailAllowed(_ context.Context, email string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	email, err := normalizeEmail(email)
	if err != nil {
		return false, err
	}
	for _, e := range m.emails {
		if e.Email == email {
			return true, nil
		}
	}
	return false, nil
}
