// server/domain/note.go
package domain

import "time"

// ContentItem is the metadata shared by notes and todos. FileData in the API
// is a list of these.
type ContentItem struct {
	ID        string      `json:"id" yaml:"id"`
	UserID    string      `json:"user_id" yaml:"-"`
	Type      ContentType `json:"type" yaml:"type"`
	Name      string      `json:"name" yaml:"name"`
	FolderID  *string     `json:"folder_id" yaml:"-"`
	CreatedAt time.Time   `json:"created_at" yaml:"created_at"`
	UpdatedAt time.Time   `json:"updated_at" yaml:"updated_at"`
}

type Note struct {
	ContentItem `yaml:",inline"`
	Body        string `json:"body" yaml:"-"`
}

type Folder struct {
	ID        string      `json:"id"`
	UserID    string      `json:"user_id"`
	Name      string      `json:"name"`
	ParentID  *string     `json:"parent_id"`
	Type      ContentType `json:"type"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}

type InboxEntry struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// HistoryEntry is one resolved slot of a user's file history.
type HistoryEntry struct {
	ID   string      `json:"id"`
	Name string      `json:"name"`
	Type ContentType `json:"type"`
}

type AllowedEmail struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
}

// StringPtr returns nil for an empty string.
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Deref returns "" for a nil pointer.
func Deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
