// server/domain/content.go
package domain

import "strings"

// ContentType tags notes and todos and the folders that hold them. The zero
// value is invalid.
type ContentType string

const (
	ContentNote ContentType = "note"
	ContentTodo ContentType = "todo"
)

func ParseContentType(s string) (ContentType, error) {
	switch ContentType(strings.ToLower(strings.TrimSpace(s))) {
	case ContentNote:
		return ContentNote, nil
	case ContentTodo:
		return ContentTodo, nil
	default:
		return "", ValidationError{Field: "type", Reason: "must be note or todo"}
	}
}

func (t ContentType) Valid() bool {
	switch t {
	case ContentNote, ContentTodo:
		return true
	default:
		return false
	}
}

// Match calls exactly one of note or todo. It panics on an invalid tag, which
// can only be produced by bypassing ParseContentType.
func Match[T any](t ContentType, note, todo func() T) T {
	switch t {
	case ContentNote:
		return note()
	case ContentTodo:
		return todo()
	default:
		panic("domain: invalid content type " + string(t))
	}
}
