// server/filesystem/export.go
package filesystem

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/vinizap/haku/server/domain"
	"github.com/vinizap/haku/server/store"
	"github.com/vinizap/haku/server/tree"
)

// Export writes every note of userID under dir as <folder path>/<id>.md and
// returns the number of notes written. Folder directories are named after
// the folders; a sibling with a name already taken gets its ID appended.
func Export(ctx context.Context, st store.Store, userID, dir string) (int, error) {
	forest, err := store.NoteTree(ctx, st, userID)
	if err != nil {
		return 0, err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, err
	}

	count := 0
	var export func(nodes []*tree.Node, path string) error
	export = func(nodes []*tree.Node, path string) error {
		taken := map[string]bool{}
		for _, n := range nodes {
			if n.Kind == tree.KindItem {
				if err := exportNote(ctx, st, userID, n.ID, path); err != nil {
					return err
				}
				count++
				continue
			}
			name := dirName(n.Name)
			if taken[strings.ToLower(name)] {
				name += "-" + n.ID
			}
			taken[strings.ToLower(name)] = true

			sub := filepath.Join(path, name)
			if err := os.MkdirAll(sub, 0o755); err != nil {
				return err
			}
			if err := export(n.Children, sub); err != nil {
				return err
			}
		}
		return nil
	}
	if err := export(forest.Folders, dir); err != nil {
		return count, err
	}
	if err := export(forest.Items, dir); err != nil {
		return count, err
	}
	return count, nil
}

func exportNote(ctx context.Context, st store.Store, userID, id, dir string) error {
	note, err := st.Note(ctx, userID, id)
	if err != nil {
		return fmt.Errorf("export %s: %w", id, err)
	}
	return WriteNote(filepath.Join(dir, id+".md"), note)
}

// dirName makes a folder name safe to use as a single path element.
func dirName(name string) string {
	name = strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|':
			return '-'
		}
		return r
	}, strings.TrimSpace(name))
	if name == "" || name == "." || name == ".." {
		return "folder"
	}
	return name
}

// folderPaths maps every note folder of userID to its slash-separated path of
// names, matching the layout Export produces for folders with unique names.
func folderPaths(folders []domain.Folder) map[string]string {
	byID := make(map[string]domain.Folder, len(folders))
	for _, f := range folders {
		byID[f.ID] = f
	}
	paths := make(map[string]string, len(folders))
	var resolve func(id string, depth int) string
	resolve = func(id string, depth int) string {
		if p, ok := paths[id]; ok {
			return p
		}
		f := byID[id]
		p := dirName(f.Name)
		if parent := domain.Deref(f.ParentID); parent != "" && depth < len(folders) {
			if _, ok := byID[parent]; ok {
				p = resolve(parent, depth+1) + "/" + p
			}
		}
		paths[id] = p
		return p
	}
	ids := make([]string, 0, len(byID))
	for id := range byID {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		resolve(id, 0)
	}
	return paths
}
