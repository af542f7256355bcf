// server/tree/ordering.go
package tree

import (
	"fmt"
	"slices"
	"time"

	"github.com/vinizap/haku/server/domain"
)

type entry struct {
	parent    string
	children  []string
	status    domain.Status
	content   string
	collapsed bool
	updatedAt time.Time
}

// Todo is the ordering model of one todo tree. Each node except the root is
// listed in exactly one parent's child list, and that list is the only record
// of sibling order. Todo is not safe for concurrent use.
type Todo struct {
	rootID string
	nodes  map[string]*entry
}

func NewTodo(rootID string) *Todo {
	return &Todo{
		rootID: rootID,
		nodes: map[string]*entry{
			rootID: {status: domain.StatusUncompleted},
		},
	}
}

// TodoFromNodes loads stored rows and checks that they form a single tree
// rooted at todoID.
func TodoFromNodes(todoID string, rows []domain.TodoNode) (*Todo, error) {
	t := &Todo{rootID: todoID, nodes: make(map[string]*entry, len(rows))}
	for _, r := range rows {
		if _, dup := t.nodes[r.ID]; dup {
			return nil, domain.IntegrityError{Reason: "duplicate node " + r.ID}
		}
		t.nodes[r.ID] = &entry{
			parent:    domain.Deref(r.ParentID),
			children:  slices.Clone(r.Children),
			status:    r.Status,
			content:   r.Content,
			collapsed: r.Collapsed,
			updatedAt: r.UpdatedAt,
		}
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *Todo) RootID() string { return t.rootID }

func (t *Todo) Len() int { return len(t.nodes) }

func (t *Todo) Has(id string) bool {
	_, ok := t.nodes[id]
	return ok
}

// Validate checks the structural invariants: the root exists and has no
// parent, every child reference points back at its parent, no node is listed
// twice, and every node is reachable from the root.
func (t *Todo) Validate() error {
	root, ok := t.nodes[t.rootID]
	if !ok {
		return domain.IntegrityError{Reason: "missing root node " + t.rootID}
	}
	if root.parent != "" {
		return domain.IntegrityError{Reason: "root node has a parent"}
	}
	listed := make(map[string]string, len(t.nodes))
	for id, e := range t.nodes {
		for _, c := range e.children {
			child, ok := t.nodes[c]
			if !ok {
				return domain.IntegrityError{Reason: fmt.Sprintf("node %s lists missing child %s", id, c)}
			}
			if prev, dup := listed[c]; dup {
				return domain.IntegrityError{Reason: fmt.Sprintf("node %s listed under both %s and %s", c, prev, id)}
			}
			if child.parent != id {
				return domain.IntegrityError{Reason: fmt.Sprintf("node %s listed under %s but parented to %s", c, id, child.parent)}
			}
			listed[c] = id
		}
	}
	for id, e := range t.nodes {
		if id == t.rootID {
			continue
		}
		if e.parent == "" {
			return domain.IntegrityError{Reason: "node " + id + " has no parent"}
		}
		if _, ok := listed[id]; !ok {
			return domain.IntegrityError{Reason: "node " + id + " missing from its parent's children"}
		}
	}
	if reached := len(t.subtree(t.rootID)); reached != len(t.nodes) {
		return domain.IntegrityError{Reason: "todo tree contains a cycle or unreachable nodes"}
	}
	return nil
}

// Insert adds a new node under parentID. index is clamped to the parent's
// child count.
func (t *Todo) Insert(parentID, nodeID string, index int) error {
	if nodeID == "" {
		return domain.ValidationError{Field: "node_id", Reason: "must not be empty"}
	}
	if t.Has(nodeID) {
		return domain.ValidationError{Field: "node_id", Reason: "already exists: " + nodeID}
	}
	parent, ok := t.nodes[parentID]
	if !ok {
		return domain.NotFoundError{Kind: "todo node", ID: parentID}
	}
	parent.children = insertAt(parent.children, nodeID, index)
	t.nodes[nodeID] = &entry{parent: parentID, status: domain.StatusUncompleted}
	return nil
}

// Remove deletes nodeID and its descendants and returns their IDs in
// pre-order.
func (t *Todo) Remove(nodeID string) ([]string, error) {
	e, ok := t.nodes[nodeID]
	if !ok {
		return nil, domain.NotFoundError{Kind: "todo node", ID: nodeID}
	}
	if nodeID == t.rootID {
		return nil, domain.ValidationError{Field: "node_id", Reason: "cannot remove the root node"}
	}
	removed := t.subtree(nodeID)
	parent := t.nodes[e.parent]
	parent.children = slices.DeleteFunc(parent.children, func(id string) bool { return id == nodeID })
	for _, id := range removed {
		delete(t.nodes, id)
	}
	return removed, nil
}

// Move detaches nodeID and inserts it under newParentID so that it ends up at
// position index among its new siblings. Everything is checked before the
// tree is touched, so a failed move leaves it unchanged.
func (t *Todo) Move(nodeID, newParentID string, index int) error {
	e, ok := t.nodes[nodeID]
	if !ok {
		return domain.NotFoundError{Kind: "todo node", ID: nodeID}
	}
	if nodeID == t.rootID {
		return domain.ValidationError{Field: "node_id", Reason: "cannot move the root node"}
	}
	target, ok := t.nodes[newParentID]
	if !ok {
		return domain.NotFoundError{Kind: "todo node", ID: newParentID}
	}
	if t.isAncestorOrSelf(nodeID, newParentID) {
		return domain.CycleError{NodeID: nodeID, TargetID: newParentID}
	}

	old := t.nodes[e.parent]
	old.children = slices.DeleteFunc(old.children, func(id string) bool { return id == nodeID })
	target.children = insertAt(target.children, nodeID, index)
	e.parent = newParentID
	return nil
}

// MoveToSlot is the drag-and-drop form of Move. slot is a drop position in
// the target's current child list, counted before nodeID is detached; within
// the same parent a slot past the node's current position shifts down by one.
func (t *Todo) MoveToSlot(nodeID, newParentID string, slot int) error {
	if e, ok := t.nodes[nodeID]; ok && e.parent == newParentID {
		if cur := t.IndexOf(nodeID); cur >= 0 && slot > cur {
			slot--
		}
	}
	return t.Move(nodeID, newParentID, slot)
}

func (t *Todo) ToggleCollapsed(nodeID string) error {
	e, ok := t.nodes[nodeID]
	if !ok {
		return domain.NotFoundError{Kind: "todo node", ID: nodeID}
	}
	e.collapsed = !e.collapsed
	return nil
}

func (t *Todo) SetCollapsed(nodeID string, collapsed bool) error {
	e, ok := t.nodes[nodeID]
	if !ok {
		return domain.NotFoundError{Kind: "todo node", ID: nodeID}
	}
	e.collapsed = collapsed
	return nil
}

func (t *Todo) SetStatus(nodeID string, status domain.Status) error {
	if !status.Valid() {
		return domain.ValidationError{Field: "status", Reason: "must be completed or uncompleted"}
	}
	e, ok := t.nodes[nodeID]
	if !ok {
		return domain.NotFoundError{Kind: "todo node", ID: nodeID}
	}
	e.status = status
	return nil
}

func (t *Todo) SetContent(nodeID, content string) error {
	e, ok := t.nodes[nodeID]
	if !ok {
		return domain.NotFoundError{Kind: "todo node", ID: nodeID}
	}
	e.content = content
	return nil
}

// Touch stamps the node's modification time.
func (t *Todo) Touch(nodeID string, at time.Time) {
	if e, ok := t.nodes[nodeID]; ok {
		e.updatedAt = at
	}
}

func (t *Todo) Children(nodeID string) []string {
	e, ok := t.nodes[nodeID]
	if !ok {
		return nil
	}
	return slices.Clone(e.children)
}

func (t *Todo) Parent(nodeID string) (string, bool) {
	e, ok := t.nodes[nodeID]
	if !ok {
		return "", false
	}
	return e.parent, true
}

// IndexOf returns the node's position among its siblings, or -1.
func (t *Todo) IndexOf(nodeID string) int {
	e, ok := t.nodes[nodeID]
	if !ok || e.parent == "" {
		return -1
	}
	return slices.Index(t.nodes[e.parent].children, nodeID)
}

func (t *Todo) Node(nodeID string) (domain.TodoNode, bool) {
	e, ok := t.nodes[nodeID]
	if !ok {
		return domain.TodoNode{}, false
	}
	return t.export(nodeID, e), true
}

// Nodes exports every node in pre-order starting at the root.
func (t *Todo) Nodes() []domain.TodoNode {
	ids := t.subtree(t.rootID)
	out := make([]domain.TodoNode, 0, len(ids))
	for _, id := range ids {
		out = append(out, t.export(id, t.nodes[id]))
	}
	return out
}

func (t *Todo) Clone() *Todo {
	c := &Todo{rootID: t.rootID, nodes: make(map[string]*entry, len(t.nodes))}
	for id, e := range t.nodes {
		cp := *e
		cp.children = slices.Clone(e.children)
		c.nodes[id] = &cp
	}
	return c
}

// Diff returns the nodes of after that differ from before, and the IDs that
// were dropped.
func Diff(before, after *Todo) (changed []domain.TodoNode, removed []string) {
	for _, n := range after.Nodes() {
		old, ok := before.Node(n.ID)
		if !ok || !sameNode(old, n) {
			changed = append(changed, n)
		}
	}
	for _, n := range before.Nodes() {
		if !after.Has(n.ID) {
			removed = append(removed, n.ID)
		}
	}
	return changed, removed
}

func sameNode(a, b domain.TodoNode) bool {
	return domain.Deref(a.ParentID) == domain.Deref(b.ParentID) &&
		slices.Equal(a.Children, b.Children) &&
		a.Status == b.Status &&
		a.Content == b.Content &&
		a.Collapsed == b.Collapsed
}

func (t *Todo) export(id string, e *entry) domain.TodoNode {
	children := slices.Clone(e.children)
	if children == nil {
		children = []string{}
	}
	return domain.TodoNode{
		ID:        id,
		TodoID:    t.rootID,
		ParentID:  domain.StringPtr(e.parent),
		Children:  children,
		Status:    e.status,
		Content:   e.content,
		Collapsed: e.collapsed,
		UpdatedAt: e.updatedAt,
	}
}

// subtree returns id and its descendants in pre-order. Each node is visited
// once even if the child lists are corrupt.
func (t *Todo) subtree(id string) []string {
	var out []string
	seen := map[string]bool{}
	var walk func(string)
	walk = func(n string) {
		e, ok := t.nodes[n]
		if !ok || seen[n] {
			return
		}
		seen[n] = true
		out = append(out, n)
		for _, c := range e.children {
			walk(c)
		}
	}
	walk(id)
	return out
}

func (t *Todo) isAncestorOrSelf(ancestor, id string) bool {
	for steps := 0; id != "" && steps <= len(t.nodes); steps++ {
		if id == ancestor {
			return true
		}
		e, ok := t.nodes[id]
		if !ok {
			return false
		}
		id = e.parent
	}
	return false
}

func insertAt(list []string, id string, index int) []string {
	if index < 0 {
		index = 0
	}
	if index > len(list) {
		index = len(list)
	}
	return slices.Insert(list, index, id)
}
