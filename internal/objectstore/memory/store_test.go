package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/linkcapture/internal/capture"
	"github.com/JakeFAU/linkcapture/internal/objectstore"
)

func commitFile(t *testing.T, s *Store, parent, path, content string) string {
	t.Helper()
	ctx := context.Background()
	base, err := s.CommitTree(ctx, parent)
	require.NoError(t, err)
	blob, err := s.CreateBlob(ctx, []byte(content), capture.EncodingUTF8)
	require.NoError(t, err)
	tree, err := s.CreateTree(ctx, base, []objectstore.TreeEntry{
		{Path: path, Mode: objectstore.ModeFile, Type: objectstore.TypeBlob, SHA: blob},
	})
	require.NoError(t, err)
	sha, err := s.CreateCommit(ctx, "add "+path, tree, []string{parent})
	require.NoError(t, err)
	return sha
}

func TestFastForwardUpdate(t *testing.T) {
	ctx := context.Background()
	s := New("main")
	head, err := s.BranchHead(ctx, "main")
	require.NoError(t, err)

	next := commitFile(t, s, head, "a.txt", "hello")
	require.NoError(t, s.UpdateRef(ctx, "main", next, false))

	got, ok := s.File("main", "a.txt")
	require.True(t, ok)
	assert.Equal(t, "hello", string(got))
	assert.Equal(t, []string{next, head}, s.History("main"))
	assert.Equal(t, "add a.txt", s.Message(next))
}

func TestBaseTreeIsPreserved(t *testing.T) {
	ctx := context.Background()
	s := New("main")
	head, _ := s.BranchHead(ctx, "main")
	first := commitFile(t, s, head, "a.txt", "a")
	require.NoError(t, s.UpdateRef(ctx, "main", first, false))
	second := commitFile(t, s, first, "b.txt", "b")
	require.NoError(t, s.UpdateRef(ctx, "main", second, false))

	_, ok := s.File("main", "a.txt")
	assert.True(t, ok)
	_, ok = s.File("main", "b.txt")
	assert.True(t, ok)
}

func TestDivergentUpdateIsRejected(t *testing.T) {
	ctx := context.Background()
	s := New("main")
	head, _ := s.BranchHead(ctx, "main")

	winner := commitFile(t, s, head, "a.txt", "a")
	loser := commitFile(t, s, head, "b.txt", "b")
	require.NoError(t, s.UpdateRef(ctx, "main", winner, false))

	err := s.UpdateRef(ctx, "main", loser, false)
	require.Error(t, err)
	assert.True(t, errors.Is(err, objectstore.ErrNotFastForward))

	require.NoError(t, s.UpdateRef(ctx, "main", loser, true))
}

func TestTreeRejectsUnknownBlob(t *testing.T) {
	s := New("")
	_, err := s.CreateTree(context.Background(), "", []objectstore.TreeEntry{{Path: "x", SHA: "nope"}})
	var apiErr *objectstore.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 422, apiErr.Status)
}
