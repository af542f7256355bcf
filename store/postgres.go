// server/store/postgres.go
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vinizap/haku/server/domain"
	"github.com/vinizap/haku/server/history"
	"github.com/vinizap/haku/server/tree"
)

var (
	_ Store = (*Postgres)(nil)
	_ Store = (*Memory)(nil)
)

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Postgres is the production Store.
type Postgres struct {
	pool *pgxpool.Pool
}

func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

func (p *Postgres) Close() {
	p.pool.Close()
}

func (p *Postgres) tx(ctx context.Context, fn func(pgx.Tx) error) error {
	return pgx.BeginFunc(ctx, p.pool, fn)
}

const itemColumns = `id, user_id, content_type, name, folder_id, created_at, updated_at, body`

func scanNote(row pgx.Row) (domain.Note, error) {
	var n domain.Note
	var ct string
	if err := row.Scan(&n.ID, &n.UserID, &ct, &n.Name, &n.FolderID, &n.CreatedAt, &n.UpdatedAt, &n.Body); err != nil {
		return domain.Note{}, err
	}
	n.Type = domain.ContentType(ct)
	return n, nil
}

const folderColumns = `id, user_id, name, parent_id, content_type, created_at, updated_at`

func scanFolder(row pgx.Row) (domain.Folder, error) {
	var f domain.Folder
	var ct string
	if err := row.Scan(&f.ID, &f.UserID, &f.Name, &f.ParentID, &ct, &f.CreatedAt, &f.UpdatedAt); err != nil {
		return domain.Folder{}, err
	}
	f.Type = domain.ContentType(ct)
	return f, nil
}

func (p *Postgres) Session(ctx context.Context, token string) (string, error) {
	var uid string
	err := p.pool.QueryRow(ctx,
		`SELECT user_id FROM sessions WHERE token = $1 AND expires_at > now()`, token).Scan(&uid)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", domain.AuthorizationError{Reason: "unknown session"}
	}
	if err != nil {
		return "", fmt.Errorf("resolve session: %w", err)
	}
	return uid, nil
}

func (p *Postgres) Files(ctx context.Context, userID string) ([]domain.ContentItem, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT `+itemColumns+` FROM items WHERE user_id = $1 ORDER BY id`, userID)
	if err != nil {
		return nil, mapError("files", userID, err)
	}
	defer rows.Close()
	out := []domain.ContentItem{}
	for rows.Next() {
		n, err := scanNote(rows)
		if err != nil {
			return nil, mapError("files", userID, err)
		}
		out = append(out, n.ContentItem)
	}
	return out, mapError("files", userID, rows.Err())
}

func (p *Postgres) Folders(ctx context.Context, userID string, t domain.ContentType) ([]domain.Folder, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT `+folderColumns+` FROM folders WHERE user_id = $1 AND content_type = $2 ORDER BY id`,
		userID, string(t))
	if err != nil {
		return nil, mapError("folders", userID, err)
	}
	defer rows.Close()
	out := []domain.Folder{}
	for rows.Next() {
		f, err := scanFolder(rows)
		if err != nil {
			return nil, mapError("folders", userID, err)
		}
		out = append(out, f)
	}
	return out, mapError("folders", userID, rows.Err())
}

func (p *Postgres) Note(ctx context.Context, userID, id string) (domain.Note, error) {
	n, err := scanNote(p.pool.QueryRow(ctx,
		`SELECT `+itemColumns+` FROM items WHERE id = $1 AND user_id = $2 AND content_type = 'note'`,
		id, userID))
	return n, mapError("note", id, err)
}

func (p *Postgres) TodoNodes(ctx context.Context, userID, todoID string) ([]domain.TodoNode, error) {
	t, err := loadTodo(ctx, p.pool, userID, todoID, false)
	if err != nil {
		return nil, err
	}
	return t.Nodes(), nil
}

func loadTodo(ctx context.Context, q querier, userID, todoID string, lock bool) (*tree.Todo, error) {
	query := `SELECT id FROM items WHERE id = $1 AND user_id = $2 AND content_type = 'todo'`
	if lock {
		query += ` FOR UPDATE`
	}
	var id string
	if err := q.QueryRow(ctx, query, todoID, userID).Scan(&id); err != nil {
		return nil, mapError("todo", todoID, err)
	}

	rows, err := q.Query(ctx,
		`SELECT id, parent_id, children, status, content, collapsed, updated_at
		   FROM todo_nodes WHERE todo_id = $1`, todoID)
	if err != nil {
		return nil, mapError("todo", todoID, err)
	}
	defer rows.Close()
	var nodes []domain.TodoNode
	for rows.Next() {
		n := domain.TodoNode{TodoID: todoID}
		var status string
		if err := rows.Scan(&n.ID, &n.ParentID, &n.Children, &status, &n.Content, &n.Collapsed, &n.UpdatedAt); err != nil {
			return nil, mapError("todo", todoID, err)
		}
		n.Status = domain.Status(status)
		nodes = append(nodes, n)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError("todo", todoID, err)
	}
	return tree.TodoFromNodes(todoID, nodes)
}

func (p *Postgres) History(ctx context.Context, userID string) ([]domain.HistoryEntry, error) {
	return resolveHistory(ctx, p.pool, userID)
}

func resolveHistory(ctx context.Context, q querier, userID string) ([]domain.HistoryEntry, error) {
	var ids []string
	err := q.QueryRow(ctx, `SELECT ids FROM file_history WHERE user_id = $1`, userID).Scan(&ids)
	if errors.Is(err, pgx.ErrNoRows) {
		return []domain.HistoryEntry{}, nil
	}
	if err != nil {
		return nil, mapError("history", userID, err)
	}

	rows, err := q.Query(ctx,
		`SELECT id, name, content_type FROM items WHERE user_id = $1 AND id = ANY($2)`, userID, ids)
	if err != nil {
		return nil, mapError("history", userID, err)
	}
	defer rows.Close()
	byID := map[string]domain.HistoryEntry{}
	for rows.Next() {
		var e domain.HistoryEntry
		var ct string
		if err := rows.Scan(&e.ID, &e.Name, &ct); err != nil {
			return nil, mapError("history", userID, err)
		}
		e.Type = domain.ContentType(ct)
		byID[e.ID] = e
	}
	if err := rows.Err(); err != nil {
		return nil, mapError("history", userID, err)
	}

	out := make([]domain.HistoryEntry, 0, len(ids))
	for _, id := range ids {
		if e, ok := byID[id]; ok {
			out = append(out, e)
		}
	}
	return out, nil
}

func (p *Postgres) InboxEntries(ctx context.Context, userID string) ([]domain.InboxEntry, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT id, user_id, content, created_at FROM inbox_entries
		  WHERE user_id = $1 ORDER BY created_at DESC, id`, userID)
	if err != nil {
		return nil, mapError("inbox", userID, err)
	}
	defer rows.Close()
	out := []domain.InboxEntry{}
	for rows.Next() {
		var e domain.InboxEntry
		if err := rows.Scan(&e.ID, &e.UserID, &e.Content, &e.CreatedAt); err != nil {
			return nil, mapError("inbox", userID, err)
		}
		out = append(out, e)
	}
	return out, mapError("inbox", userID, rows.Err())
}

func loadFolder(ctx context.Context, q querier, id string) (domain.Folder, bool, error) {
	f, err := scanFolder(q.QueryRow(ctx, `SELECT `+folderColumns+` FROM folders WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Folder{}, false, nil
	}
	if err != nil {
		return domain.Folder{}, false, mapError("folder", id, err)
	}
	return f, true, nil
}

func insertItem(ctx context.Context, q querier, userID, id, name, folderID string, t domain.ContentType, body string) (domain.Note, error) {
	name, err := cleanName("name", name)
	if err != nil {
		return domain.Note{}, err
	}
	id, err = newID(id)
	if err != nil {
		return domain.Note{}, err
	}
	if folderID != "" {
		f, ok, err := loadFolder(ctx, q, folderID)
		if err != nil {
			return domain.Note{}, err
		}
		if err := checkContainer(f, ok, userID, folderID, t); err != nil {
			return domain.Note{}, err
		}
	}
	n, err := scanNote(q.QueryRow(ctx,
		`INSERT INTO items (id, user_id, content_type, name, folder_id, body)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING `+itemColumns,
		id, userID, string(t), name, domain.StringPtr(folderID), body))
	return n, mapError("file", id, err)
}

func (p *Postgres) CreateNote(ctx context.Context, userID string, in NewNote) (domain.Note, error) {
	return insertItem(ctx, p.pool, userID, in.ID, in.Name, in.FolderID, domain.ContentNote, in.Body)
}

func (p *Postgres) CreateTodo(ctx context.Context, userID string, in NewTodo) (domain.ContentItem, error) {
	var item domain.ContentItem
	err := p.tx(ctx, func(tx pgx.Tx) error {
		n, err := insertItem(ctx, tx, userID, in.ID, in.Name, in.FolderID, domain.ContentTodo, "")
		if err != nil {
			return err
		}
		item = n.ContentItem
		_, err = tx.Exec(ctx,
			`INSERT INTO todo_nodes (id, todo_id, parent_id, children, status, content, collapsed, updated_at)
			 VALUES ($1, $1, NULL, '{}', $2, '', false, $3)`,
			item.ID, string(domain.StatusUncompleted), item.CreatedAt)
		return mapError("todo", item.ID, err)
	})
	return item, err
}

func (p *Postgres) UpdateItem(ctx context.Context, userID, id string, in ItemUpdate) (domain.Note, error) {
	var out domain.Note
	err := p.tx(ctx, func(tx pgx.Tx) error {
		n, err := scanNote(tx.QueryRow(ctx,
			`SELECT `+itemColumns+` FROM items WHERE id = $1 AND user_id = $2 FOR UPDATE`, id, userID))
		if err != nil {
			return mapError("file", id, err)
		}
		if in.Name != nil {
			if n.Name, err = cleanName("name", *in.Name); err != nil {
				return err
			}
		}
		if in.Folder != nil {
			if *in.Folder != "" {
				f, ok, err := loadFolder(ctx, tx, *in.Folder)
				if err != nil {
					return err
				}
				if err := checkContainer(f, ok, userID, *in.Folder, n.Type); err != nil {
					return err
				}
			}
			n.FolderID = domain.StringPtr(*in.Folder)
		}
		if in.Body != nil {
			if n.Type != domain.ContentNote {
				return domain.ValidationError{Field: "body", Reason: "only notes have a body"}
			}
			n.Body = *in.Body
		}
		out, err = scanNote(tx.QueryRow(ctx,
			`UPDATE items SET name = $3, folder_id = $4, body = $5, updated_at = now()
			  WHERE id = $1 AND user_id = $2
			 RETURNING `+itemColumns,
			id, userID, n.Name, n.FolderID, n.Body))
		return mapError("file", id, err)
	})
	return out, err
}

func (p *Postgres) DeleteItem(ctx context.Context, userID, id string) error {
	return p.tx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `DELETE FROM items WHERE id = $1 AND user_id = $2`, id, userID)
		if err != nil {
			return mapError("file", id, err)
		}
		if tag.RowsAffected() == 0 {
			return domain.NotFoundError{Kind: "file", ID: id}
		}
		_, err = tx.Exec(ctx,
			`UPDATE file_history SET ids = array_remove(ids, $2), updated_at = now() WHERE user_id = $1`,
			userID, id)
		return mapError("history", userID, err)
	})
}

func (p *Postgres) CreateFolder(ctx context.Context, userID string, in NewFolder) (domain.Folder, error) {
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
	if in.ParentID != "" {
		parent, ok, err := loadFolder(ctx, p.pool, in.ParentID)
		if err != nil {
			return domain.Folder{}, err
		}
		if err := checkContainer(parent, ok, userID, in.ParentID, in.Type); err != nil {
			return domain.Folder{}, err
		}
	}
	f, err := scanFolder(p.pool.QueryRow(ctx,
		`INSERT INTO folders (id, user_id, name, parent_id, content_type)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING `+folderColumns,
		id, userID, name, domain.StringPtr(in.ParentID), string(in.Type)))
	return f, mapError("folder", id, err)
}

func (p *Postgres) UpdateFolder(ctx context.Context, userID, id string, in FolderUpdate) (domain.Folder, error) {
	var out domain.Folder
	err := p.tx(ctx, func(tx pgx.Tx) error {
		// Lock the user's folders so concurrent moves cannot build a cycle.
		rows, err := tx.Query(ctx,
			`SELECT `+folderColumns+` FROM folders WHERE user_id = $1 ORDER BY id FOR UPDATE`, userID)
		if err != nil {
			return mapError("folder", id, err)
		}
		byID := map[string]domain.Folder{}
		parentOf := map[string]string{}
		for rows.Next() {
			f, err := scanFolder(rows)
			if err != nil {
				rows.Close()
				return mapError("folder", id, err)
			}
			byID[f.ID] = f
			parentOf[f.ID] = domain.Deref(f.ParentID)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return mapError("folder", id, err)
		}

		f, ok := byID[id]
		if !ok {
			return domain.NotFoundError{Kind: "folder", ID: id}
		}
		if in.Name != nil {
			if f.Name, err = cleanName("name", *in.Name); err != nil {
				return err
			}
		}
		if in.Parent != nil {
			if *in.Parent != "" {
				parent, ok := byID[*in.Parent]
				if err := checkContainer(parent, ok, userID, *in.Parent, f.Type); err != nil {
					return err
				}
			}
			if err := checkFolderMove(parentOf, id, *in.Parent); err != nil {
				return err
			}
			f.ParentID = domain.StringPtr(*in.Parent)
		}
		out, err = scanFolder(tx.QueryRow(ctx,
			`UPDATE folders SET name = $3, parent_id = $4, updated_at = now()
			  WHERE id = $1 AND user_id = $2
			 RETURNING `+folderColumns,
			id, userID, f.Name, f.ParentID))
		return mapError("folder", id, err)
	})
	return out, err
}

func (p *Postgres) DeleteFolder(ctx context.Context, userID, id string) error {
	return p.tx(ctx, func(tx pgx.Tx) error {
		var owner string
		err := tx.QueryRow(ctx, `SELECT user_id FROM folders WHERE id = $1 FOR UPDATE`, id).Scan(&owner)
		if errors.Is(err, pgx.ErrNoRows) || (err == nil && owner != userID) {
			return domain.NotFoundError{Kind: "folder", ID: id}
		}
		if err != nil {
			return mapError("folder", id, err)
		}
		var nonEmpty bool
		err = tx.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM folders WHERE parent_id = $1)
			     OR EXISTS (SELECT 1 FROM items WHERE folder_id = $1)`, id).Scan(&nonEmpty)
		if err != nil {
			return mapError("folder", id, err)
		}
		if nonEmpty {
			return domain.ValidationError{Field: "folder", Reason: "folder is not empty"}
		}
		_, err = tx.Exec(ctx, `DELETE FROM folders WHERE id = $1`, id)
		return mapError("folder", id, err)
	})
}

func (p *Postgres) MutateTodo(ctx context.Context, userID, todoID string, fn func(*tree.Todo) error) ([]domain.TodoNode, error) {
	var out []domain.TodoNode
	err := p.tx(ctx, func(tx pgx.Tx) error {
		cur, err := loadTodo(ctx, tx, userID, todoID, true)
		if err != nil {
			return err
		}
		next := cur.Clone()
		if err := fn(next); err != nil {
			return err
		}
		if err := next.Validate(); err != nil {
			return err
		}

		now := time.Now()
		changed, removed := tree.Diff(cur, next)
		if len(removed) > 0 {
			if _, err := tx.Exec(ctx,
				`DELETE FROM todo_nodes WHERE todo_id = $1 AND id = ANY($2)`, todoID, removed); err != nil {
				return mapError("todo node", todoID, err)
			}
		}
		for _, n := range changed {
			next.Touch(n.ID, now)
			tag, err := tx.Exec(ctx,
				`INSERT INTO todo_nodes (id, todo_id, parent_id, children, status, content, collapsed, updated_at)
				 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
				 ON CONFLICT (id) DO UPDATE SET
				   parent_id = EXCLUDED.parent_id,
				   children  = EXCLUDED.children,
				   status    = EXCLUDED.status,
				   content   = EXCLUDED.content,
				   collapsed = EXCLUDED.collapsed,
				   updated_at = EXCLUDED.updated_at
				 WHERE todo_nodes.todo_id = EXCLUDED.todo_id`,
				n.ID, todoID, n.ParentID, n.Children, string(n.Status), n.Content, n.Collapsed, now)
			if err != nil {
				return mapError("todo node", n.ID, err)
			}
			if tag.RowsAffected() == 0 {
				return domain.ValidationError{Field: "node_id", Reason: "already used by another todo: " + n.ID}
			}
		}
		if _, err := tx.Exec(ctx, `UPDATE items SET updated_at = $2 WHERE id = $1`, todoID, now); err != nil {
			return mapError("todo", todoID, err)
		}
		out = next.Nodes()
		return nil
	})
	return out, err
}

func (p *Postgres) RecordVisit(ctx context.Context, userID, id string) ([]domain.HistoryEntry, error) {
	var out []domain.HistoryEntry
	err := p.tx(ctx, func(tx pgx.Tx) error {
		var exists bool
		if err := tx.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM items WHERE id = $1 AND user_id = $2)`, id, userID).Scan(&exists); err != nil {
			return mapError("file", id, err)
		}
		if !exists {
			return domain.NotFoundError{Kind: "file", ID: id}
		}
		var ids []string
		err := tx.QueryRow(ctx,
			`SELECT ids FROM file_history WHERE user_id = $1 FOR UPDATE`, userID).Scan(&ids)
		if err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return mapError("history", userID, err)
		}
		ids = history.Record(ids, id, history.Capacity)
		if _, err := tx.Exec(ctx,
			`INSERT INTO file_history (user_id, ids, updated_at) VALUES ($1, $2, now())
			 ON CONFLICT (user_id) DO UPDATE SET ids = EXCLUDED.ids, updated_at = EXCLUDED.updated_at`,
			userID, ids); err != nil {
			return mapError("history", userID, err)
		}
		out, err = resolveHistory(ctx, tx, userID)
		return err
	})
	return out, err
}

func (p *Postgres) CreateInboxEntry(ctx context.Context, userID, content string) (domain.InboxEntry, error) {
	if strings.TrimSpace(content) == "" {
		return domain.InboxEntry{}, domain.ValidationError{Field: "content", Reason: "must not be empty"}
	}
	e := domain.InboxEntry{ID: uuid.NewString(), UserID: userID, Content: content}
	err := p.pool.QueryRow(ctx,
		`INSERT INTO inbox_entries (id, user_id, content) VALUES ($1, $2, $3) RETURNING created_at`,
		e.ID, userID, content).Scan(&e.CreatedAt)
	return e, mapError("inbox entry", e.ID, err)
}

func (p *Postgres) DeleteInboxEntry(ctx context.Context, userID, id string) error {
	tag, err := p.pool.Exec(ctx, `DELETE FROM inbox_entries WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return mapError("inbox entry", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.NotFoundError{Kind: "inbox entry", ID: id}
	}
	return nil
}

func (p *Postgres) PromoteInboxEntry(ctx context.Context, userID, id string, in Promotion) (domain.Note, error) {
	var out domain.Note
	err := p.tx(ctx, func(tx pgx.Tx) error {
		var content string
		err := tx.QueryRow(ctx,
			`DELETE FROM inbox_entries WHERE id = $1 AND user_id = $2 RETURNING content`, id, userID).Scan(&content)
		if err != nil {
			return mapError("inbox entry", id, err)
		}
		name := in.Name
		if strings.TrimSpace(name) == "" {
			name = inboxTitle(content)
		}
		out, err = insertItem(ctx, tx, userID, "", name, in.FolderID, domain.ContentNote, content)
		return err
	})
	return out, err
}

func (p *Postgres) AllowedEmails(ctx context.Context) ([]domain.AllowedEmail, error) {
	rows, err := p.pool.Query(ctx, `SELECT id, email, created_at FROM allowed_emails ORDER BY email`)
	if err != nil {
		return nil, mapError("allowed email", "", err)
	}
	defer rows.Close()
	out := []domain.AllowedEmail{}
	for rows.Next() {
		var e domain.AllowedEmail
		if err := rows.Scan(&e.ID, &e.Email, &e.CreatedAt); err != nil {
			return nil, mapError("allowed email", "", err)
		}
		out = append(out, e)
	}
	return out, mapError("allowed email", "", rows.Err())
}

func (p *Postgres) AddAllowedEmail(ctx context.Context, email string) (domain.AllowedEmail, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return domain.AllowedEmail{}, err
	}
	e := domain.AllowedEmail{ID: uuid.NewString(), Email: email}
	err = p.pool.QueryRow(ctx,
		`INSERT INTO allowed_emails (id, email) VALUES ($1, $2) RETURNING created_at`,
		e.ID, email).Scan(&e.CreatedAt)
	return e, mapError("email", email, err)
}

func (p *Postgres) DeleteAllowedEmail(ctx context.Context, id string) error {
	tag, err := p.pool.Exec(ctx, `DELETE FROM allowed_emails WHERE id = $1`, id)
	if err != nil {
		return mapError("allowed email", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.NotFoundError{Kind: "allowed email", ID: id}
	}
	return nil
}

func (p *Postgres) IsEmailAllowed(ctx context.Context, email string) (bool, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return false, err
	}
	var ok bool
	err = p.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM allowed_emails WHERE email = $1)`, email).Scan(&ok)
	return ok, mapError("allowed email", email, err)
}
