// server/filesystem/parser.go
package filesystem

import (
	"bytes"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/vinizap/haku/server/domain"
)

const delimiter = "---"

var errNoFrontmatter = errors.New("missing frontmatter")

// ReadNote parses a markdown file with YAML frontmatter. The body is trimmed.
func ReadNote(path string) (domain.Note, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return domain.Note{}, err
	}
	return parseNote(data)
}

func parseNote(data []byte) (domain.Note, error) {
	data = bytes.ReplaceAll(data, []byte("\r\n"), []byte("\n"))
	if !bytes.HasPrefix(data, []byte(delimiter+"\n")) {
		return domain.Note{}, errNoFrontmatter
	}
	rest := data[len(delimiter)+1:]

	var front, body []byte
	switch {
	case bytes.HasPrefix(rest, []byte(delimiter+"\n")), bytes.Equal(rest, []byte(delimiter)):
		body = bytes.TrimPrefix(rest, []byte(delimiter))
	default:
		end := bytes.Index(rest, []byte("\n"+delimiter+"\n"))
		if end < 0 {
			if !bytes.HasSuffix(rest, []byte("\n"+delimiter)) {
				return domain.Note{}, errNoFrontmatter
			}
			end = len(rest) - len(delimiter) - 1
		}
		front = rest[:end]
		if tail := end + len(delimiter) + 2; tail < len(rest) {
			body = rest[tail:]
		}
	}

	var note domain.Note
	if err := yaml.Unmarshal(front, &note); err != nil {
		return domain.Note{}, fmt.Errorf("parse frontmatter: %w", err)
	}
	note.Type = domain.ContentNote
	note.Body = string(bytes.TrimSpace(body))
	return note, nil
}

// WriteNote writes note to path as frontmatter followed by the body.
func WriteNote(path string, note domain.Note) error {
	var buf bytes.Buffer
	buf.WriteString(delimiter + "\n")

	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(note); err != nil {
		return fmt.Errorf("encode frontmatter: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("encode frontmatter: %w", err)
	}

	buf.WriteString(delimiter + "\n\n")
	buf.WriteString(note.Body)
	if note.Body != "" {
		buf.WriteString("\n")
	}
	return os.WriteFile(path, buf.Bytes(), 0o644)
}
