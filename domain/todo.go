// server/domain/todo.go
package domain

import "time"

type Status string

const (
	StatusUncompleted Status = "uncompleted"
	StatusCompleted   Status = "completed"
)

func (s Status) Valid() bool {
	return s == StatusUncompleted || s == StatusCompleted
}

// Toggle flips between completed and uncompleted.
func (s Status) Toggle() Status {
	if s == StatusCompleted {
		return StatusUncompleted
	}
	return StatusCompleted
}

// TodoNode is one row of a todo tree. The root node carries the todo's own ID
// and has no parent. Children is the only source of sibling order.
type TodoNode struct {
	ID        string    `json:"id"`
	TodoID    string    `json:"todo_id"`
	ParentID  *string   `json:"parent_id"`
	Children  []string  `json:"children"`
	Status    Status    `json:"status"`
	Content   string    `json:"content"`
	Collapsed bool      `json:"collapsed"`
	UpdatedAt time.Time `json:"updated_at"`
}
