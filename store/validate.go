// server/store/validate.go
package store

import (
	"net/mail"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/vinizap/haku/server/domain"
)

const maxNameLen = 255

func cleanName(field, s string) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", domain.ValidationError{Field: field, Reason: "must not be empty"}
	}
	if utf8.RuneCountInString(s) > maxNameLen {
		return "", domain.ValidationError{Field: field, Reason: "too long"}
	}
	return s, nil
}

// newID returns id if the client supplied one, otherwise a fresh UUID.
func newID(id string) (string, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return uuid.NewString(), nil
	}
	if _, err := uuid.Parse(id); err != nil {
		return "", domain.ValidationError{Field: "id", Reason: "must be a UUID"}
	}
	return id, nil
}

func normalizeEmail(email string) (string, error) {
	addr, err := mail.ParseAddress(strings.TrimSpace(email))
	if err != nil || addr.Name != "" {
		return "", domain.ValidationError{Field: "email", Reason: "not a valid address"}
	}
	return strings.ToLower(addr.Address), nil
}

// inboxTitle derives a note name from the first non-empty line of content.
func inboxTitle(content string) string {
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if utf8.RuneCountInString(line) > 60 {
			line = string([]rune(line)[:60])
		}
		return line
	}
	return "Inbox note"
}

// checkFolderMove rejects moving folder id under itself or one of its
// descendants. parentOf maps folder IDs to parent IDs ("" for top level).
func checkFolderMove(parentOf map[string]string, id, newParent string) error {
	for cur, steps := newParent, 0; cur != "" && steps <= len(parentOf); steps++ {
		if cur == id {
			return domain.CycleError{NodeID: id, TargetID: newParent}
		}
		cur = parentOf[cur]
	}
	return nil
}

// checkContainer validates that folder f may hold content of type t owned by
// userID. Foreign folders are reported as missing.
func checkContainer(f domain.Folder, ok bool, userID, id string, t domain.ContentType) error {
	if !ok || f.UserID != userID {
		return domain.NotFoundError{Kind: "folder", ID: id}
	}
	if f.Type != t {
		return domain.IntegrityError{Reason: "a " + string(f.Type) + " folder cannot hold " + string(t) + " content"}
	}
	return nil
}
