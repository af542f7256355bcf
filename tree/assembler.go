// server/tree/assembler.go
package tree

import (
	"fmt"
	"sort"

	"github.com/vinizap/haku/server/domain"
)

type Kind string

const (
	KindFolder Kind = "folder"
	KindItem   Kind = "item"
)

type Node struct {
	ID       string             `json:"id"`
	Name     string             `json:"name"`
	Kind     Kind               `json:"kind"`
	Type     domain.ContentType `json:"type"`
	Children []*Node            `json:"children,omitempty"`
}

// Forest is the navigation tree for one content type. Items holds the
// top-level group of content that has no folder.
type Forest struct {
	Folders []*Node `json:"folders"`
	Items   []*Node `json:"items"`
}

// Count returns the number of folder and item nodes in the forest.
func (f *Forest) Count() int {
	n := 0
	f.Walk(func(*Node, int) { n++ })
	return n
}

// Walk visits every node depth-first, folders before loose items.
func (f *Forest) Walk(fn func(n *Node, depth int)) {
	var visit func(n *Node, depth int)
	visit = func(n *Node, depth int) {
		fn(n, depth)
		for _, c := range n.Children {
			visit(c, depth+1)
		}
	}
	for _, n := range f.Folders {
		visit(n, 0)
	}
	for _, n := range f.Items {
		visit(n, 0)
	}
}

// BuildTree nests folders and items by their containment references. It does
// not repair broken input: any dangling, cross-user, mistyped or cyclic
// reference fails the whole build with an IntegrityError.
func BuildTree(folders []domain.Folder, items []domain.ContentItem) (*Forest, error) {
	byID := make(map[string]*domain.Folder, len(folders))
	nodes := make(map[string]*Node, len(folders))
	for i := range folders {
		f := &folders[i]
		if f.ID == "" {
			return nil, domain.IntegrityError{Reason: "folder with empty id"}
		}
		if _, dup := byID[f.ID]; dup {
			return nil, domain.IntegrityError{Reason: "duplicate folder id " + f.ID}
		}
		byID[f.ID] = f
		nodes[f.ID] = &Node{ID: f.ID, Name: f.Name, Kind: KindFolder, Type: f.Type}
	}

	forest := &Forest{Folders: []*Node{}, Items: []*Node{}}
	for _, f := range folders {
		if f.ParentID == nil {
			forest.Folders = append(forest.Folders, nodes[f.ID])
			continue
		}
		parent, ok := byID[*f.ParentID]
		if !ok {
			return nil, domain.IntegrityError{Reason: fmt.Sprintf("folder %s references missing parent %s", f.ID, *f.ParentID)}
		}
		if parent.UserID != f.UserID {
			return nil, domain.IntegrityError{Reason: fmt.Sprintf("folder %s is contained by another user's folder", f.ID)}
		}
		if parent.Type != f.Type {
			return nil, domain.IntegrityError{Reason: fmt.Sprintf("%s folder %s inside %s folder %s", f.Type, f.ID, parent.Type, parent.ID)}
		}
		nodes[parent.ID].Children = append(nodes[parent.ID].Children, nodes[f.ID])
	}
	if err := checkFolderCycles(byID); err != nil {
		return nil, err
	}

	seen := make(map[string]bool, len(items))
	for _, it := range items {
		if it.ID == "" {
			return nil, domain.IntegrityError{Reason: "item with empty id"}
		}
		if seen[it.ID] || byID[it.ID] != nil {
			return nil, domain.IntegrityError{Reason: "duplicate id " + it.ID}
		}
		seen[it.ID] = true

		n := &Node{ID: it.ID, Name: it.Name, Kind: KindItem, Type: it.Type}
		if it.FolderID == nil {
			forest.Items = append(forest.Items, n)
			continue
		}
		f, ok := byID[*it.FolderID]
		if !ok {
			return nil, domain.IntegrityError{Reason: fmt.Sprintf("item %s references missing folder %s", it.ID, *it.FolderID)}
		}
		if f.UserID != it.UserID {
			return nil, domain.IntegrityError{Reason: fmt.Sprintf("item %s is contained by another user's folder", it.ID)}
		}
		if f.Type != it.Type {
			return nil, domain.IntegrityError{Reason: fmt.Sprintf("%s %s inside %s folder %s", it.Type, it.ID, f.Type, f.ID)}
		}
		nodes[f.ID].Children = append(nodes[f.ID].Children, n)
	}

	sortNodes(forest.Folders)
	sortNodes(forest.Items)
	for _, n := range nodes {
		sortNodes(n.Children)
	}
	return forest, nil
}

// checkFolderCycles follows parent links from every folder. Parents are known
// to exist at this point.
func checkFolderCycles(byID map[string]*domain.Folder) error {
	const (
		unvisited = iota
		visiting
		done
	)
	state := make(map[string]int, len(byID))
	for id := range byID {
		var path []string
		cur := id
		for state[cur] != done {
			if state[cur] == visiting {
				return domain.IntegrityError{Reason: "folder containment cycle through " + cur}
			}
			state[cur] = visiting
			path = append(path, cur)
			p := byID[cur].ParentID
			if p == nil {
				break
			}
			cur = *p
		}
		for _, v := range path {
			state[v] = done
		}
	}
	return nil
}

// sortNodes puts folders before items, then orders by name and ID.
func sortNodes(ns []*Node) {
	sort.SliceStable(ns, func(i, j int) bool {
		a, b := ns[i], ns[j]
		if a.Kind != b.Kind {
			return a.Kind == KindFolder
		}
		if a.Name != b.Name {
			return a.Name < b.Name
		}
		return a.ID < b.ID
	})
}
