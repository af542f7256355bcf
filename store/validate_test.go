package store

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vinizap/haku/server/domain"
)

func TestInboxTitle(t *testing.T) {
	assert.Equal(t, "first line", inboxTitle("\n\n  first line \nsecond"))
	assert.Equal(t, "Inbox note", inboxTitle("  \n "))
	assert.Equal(t, strings.Repeat("x", 60), inboxTitle(strings.Repeat("x", 80)))
}

func TestNewID(t *testing.T) {
	id, err := newID("")
	require.NoError(t, err)
	assert.Len(t, id, 36)

	given := "6f1c9a2e-7b0d-4c55-9d3e-2a8b1f4e6c70"
	id, err = newID(given)
	require.NoError(t, err)
	assert.Equal(t, given, id)

	_, err = newID("not-a-uuid")
	var ve domain.ValidationError
	require.ErrorAs(t, err, &ve)
}

func TestCheckFolderMove(t *testing.T) {
	parentOf := map[string]string{"a": "", "b": "a", "c": "b", "d": ""}

	assert.NoError(t, checkFolderMove(parentOf, "c", "d"))
	assert.NoError(t, checkFolderMove(parentOf, "a", ""))
	var ce domain.CycleError
	require.ErrorAs(t, checkFolderMove(parentOf, "a", "c"), &ce)
	require.ErrorAs(t, checkFolderMove(parentOf, "b", "b"), &ce)
}
