// server/store/store.go
package store

import (
	"context"

	"github.com/vinizap/haku/server/domain"
	"github.com/vinizap/haku/server/tree"
)

// Store is the content store. Every method is scoped to one user; records of
// other users are reported as not found. Admin allow-list methods are global.
type Store interface {
	Files(ctx context.Context, userID string) ([]domain.ContentItem, error)
	Folders(ctx context.Context, userID string, t domain.ContentType) ([]domain.Folder, error)
	Note(ctx context.Context, userID, id string) (domain.Note, error)
	TodoNodes(ctx context.Context, userID, todoID string) ([]domain.TodoNode, error)
	History(ctx context.Context, userID string) ([]domain.HistoryEntry, error)
	InboxEntries(ctx context.Context, userID string) ([]domain.InboxEntry, error)

	CreateNote(ctx context.Context, userID string, in NewNote) (domain.Note, error)
	CreateTodo(ctx context.Context, userID string, in NewTodo) (domain.ContentItem, error)
	UpdateItem(ctx context.Context, userID, id string, in ItemUpdate) (domain.Note, error)
	DeleteItem(ctx context.Context, userID, id string) error

	CreateFolder(ctx context.Context, userID string, in NewFolder) (domain.Folder, error)
	UpdateFolder(ctx context.Context, userID, id string, in FolderUpdate) (domain.Folder, error)
	DeleteFolder(ctx context.Context, userID, id string) error

	// MutateTodo runs fn against the current tree of todoID and persists the
	// result atomically. Concurrent writers are serialized; the last commit
	// wins.
	MutateTodo(ctx context.Context, userID, todoID string, fn func(*tree.Todo) error) ([]domain.TodoNode, error)

	RecordVisit(ctx context.Context, userID, id string) ([]domain.HistoryEntry, error)

	CreateInboxEntry(ctx context.Context, userID, content string) (domain.InboxEntry, error)
	DeleteInboxEntry(ctx context.Context, userID, id string) error
	PromoteInboxEntry(ctx context.Context, userID, id string, in Promotion) (domain.Note, error)

	AllowedEmails(ctx context.Context) ([]domain.AllowedEmail, error)
	AddAllowedEmail(ctx context.Context, email string) (domain.AllowedEmail, error)
	DeleteAllowedEmail(ctx context.Context, id string) error
	IsEmailAllowed(ctx context.Context, email string) (bool, error)

	// Session resolves a session token to a user ID. Sessions are issued
	// elsewhere.
	Session(ctx context.Context, token string) (string, error)
}

var (
	_ Store = (*Memory)(nil)
	_ Store = (*Postgres)(nil)
)

type NewNote struct {
	ID       string
	Name     string
	FolderID string
	Body     string
}

type NewTodo struct {
	ID       string
	Name     string
	FolderID string
}

// ItemUpdate changes the set fields. Folder "" moves the item to the top
// level. Body only applies to notes.
type ItemUpdate struct {
	Name   *string
	Folder *string
	Body   *string
}

type NewFolder struct {
	ID       string
	Name     string
	ParentID string
	Type     domain.ContentType
}

// FolderUpdate changes the set fields. Parent "" moves the folder to the top
// level.
type FolderUpdate struct {
	Name   *string
	Parent *string
}

// Promotion turns an inbox entry into a note. An empty Name is derived from
// the entry's first line.
type Promotion struct {
	Name     string
	FolderID string
}

// Tree assembles the navigation forest of one content type.
func Tree(ctx context.Context, s Store, userID string, t domain.ContentType) (*tree.Forest, error) {
	folders, err := s.Folders(ctx, userID, t)
	if err != nil {
		return nil, err
	}
	files, err := s.Files(ctx, userID)
	if err != nil {
		return nil, err
	}
	items := make([]domain.ContentItem, 0, len(files))
	for _, f := range files {
		if f.Type == t {
			items = append(items, f)
		}
	}
	return tree.BuildTree(folders, items)
}

func NoteTree(ctx context.Context, s Store, userID string) (*tree.Forest, error) {
	return Tree(ctx, s, userID, domain.ContentNote)
}

func TodoTree(ctx context.Context, s Store, userID string) (*tree.Forest, error) {
	return Tree(ctx, s, userID, domain.ContentTodo)
}
