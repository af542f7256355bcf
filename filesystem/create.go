// server/filesystem/create.go
package filesystem

import (
	"context"
	"errors"
	"io/fs"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/vinizap/haku/server/domain"
	"github.com/vinizap/haku/server/store"
)

type ImportResult struct {
	Created int
	Updated int
	// Skipped lists files, relative to the import root, that could not be
	// parsed.
	Skipped []string
}

// Import reads every markdown file under dir into userID's notes. Directories
// become note folders, created as needed and matched by name otherwise. A
// file whose frontmatter ID names an existing note updates that note.
func Import(ctx context.Context, st store.Store, userID, dir string) (ImportResult, error) {
	var res ImportResult

	existing, err := st.Folders(ctx, userID, domain.ContentNote)
	if err != nil {
		return res, err
	}
	byPath := map[string]string{}
	for id, p := range folderPaths(existing) {
		if _, dup := byPath[p]; !dup {
			byPath[p] = id
		}
	}

	ensureFolder := func(rel string) (string, error) {
		if rel == "." || rel == "" {
			return "", nil
		}
		parent := ""
		segments := strings.Split(filepath.ToSlash(rel), "/")
		for i := range segments {
			p := strings.Join(segments[:i+1], "/")
			if id, ok := byPath[p]; ok {
				parent = id
				continue
			}
			f, err := st.CreateFolder(ctx, userID, store.NewFolder{
				Name:     segments[i],
				ParentID: parent,
				Type:     domain.ContentNote,
			})
			if err != nil {
				return "", err
			}
			byPath[p] = f.ID
			parent = f.ID
		}
		return parent, nil
	}

	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != dir && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if !strings.HasSuffix(d.Name(), ".md") {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}

		note, err := ReadNote(path)
		if err != nil {
			res.Skipped = append(res.Skipped, filepath.ToSlash(rel))
			return nil
		}
		folderID, err := ensureFolder(filepath.Dir(rel))
		if err != nil {
			return err
		}
		if strings.TrimSpace(note.Name) == "" {
			note.Name = strings.TrimSuffix(d.Name(), ".md")
		}

		updated, err := importNote(ctx, st, userID, note, folderID)
		if err != nil {
			return err
		}
		if updated {
			res.Updated++
		} else {
			res.Created++
		}
		return nil
	})
	return res, err
}

func importNote(ctx context.Context, st store.Store, userID string, note domain.Note, folderID string) (updated bool, err error) {
	if note.ID != "" {
		_, err := st.Note(ctx, userID, note.ID)
		var nf domain.NotFoundError
		switch {
		case err == nil:
			_, err = st.UpdateItem(ctx, userID, note.ID, store.ItemUpdate{
				Name:   &note.Name,
				Folder: &folderID,
				Body:   &note.Body,
			})
			return true, err
		case !errors.As(err, &nf):
			return false, err
		}
	}

	// IDs that are not UUIDs, or that belong to someone else, get a fresh one.
	id := note.ID
	if _, err := uuid.Parse(id); err != nil {
		id = ""
	}
	in := store.NewNote{ID: id, Name: note.Name, FolderID: folderID, Body: note.Body}
	_, err = st.CreateNote(ctx, userID, in)
	var ve domain.ValidationError
	if errors.As(err, &ve) && in.ID != "" {
		in.ID = ""
		_, err = st.CreateNote(ctx, userID, in)
	}
	return false, err
}
