package persistence

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/dfryer1193/mdblog/blog/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testVersion = "20261015T080000.000000000Z"

func TestBlobStore_Markdown(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	store := NewBlobStore(root)
	loc := domain.FileLocation{FilePath: "notes/go", FileName: "channels"}

	_, found, err := store.ReadMarkdown(ctx, loc)
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, store.SaveMarkdown(ctx, loc, []byte("# v1")))
	require.NoError(t, store.SaveMarkdown(ctx, loc, []byte("# v2")))

	content, found, err := store.ReadMarkdown(ctx, loc)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "# v2", string(content))
	assert.FileExists(t, filepath.Join(root, "markdown", "notes", "go", "channels.md"))
}

func TestBlobStore_HTML(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	store := NewBlobStore(root)
	loc := domain.FileLocation{FilePath: "notes", FileName: "a"}

	exists, err := store.HTMLExists(ctx, loc, testVersion)
	require.NoError(t, err)
	assert.False(t, exists)

	id, err := store.SaveHTML(ctx, loc, testVersion, []byte("<html></html>"))
	require.NoError(t, err)
	assert.Equal(t, "html/notes/a/"+testVersion+"/index.html", id)

	exists, err = store.HTMLExists(ctx, loc, testVersion)
	require.NoError(t, err)
	assert.True(t, exists)

	html, found, err := store.ReadHTML(ctx, loc, testVersion)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "<html></html>", string(html))

	require.NoError(t, store.DeleteHTMLTree(ctx, loc, testVersion))
	_, found, err = store.ReadHTML(ctx, loc, testVersion)
	require.NoError(t, err)
	assert.False(t, found)
	assert.NoDirExists(t, filepath.Join(root, "html", "notes", "a", testVersion))
}

func TestBlobStore_RejectsUnsafeVersionName(t *testing.T) {
	store := NewBlobStore(t.TempDir())
	loc := domain.FileLocation{FileName: "a"}

	for _, name := range []string{"", ".", "..", "../escape", `a\b`} {
		_, err := store.SaveHTML(context.Background(), loc, name, []byte("x"))
		assert.ErrorIs(t, err, domain.ErrInvalidArgument, "version name %q", name)
	}
}

func TestBlobStore_Move(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	store := NewBlobStore(root)
	from := domain.FileLocation{FilePath: "dir1", FileName: "a"}
	to := domain.FileLocation{FilePath: "dir2", FileName: "a"}

	require.NoError(t, store.SaveMarkdown(ctx, from, []byte("# a")))
	_, err := store.SaveHTML(ctx, from, testVersion, []byte("<html>a</html>"))
	require.NoError(t, err)
	// Stale blobs at the destination are replaced.
	_, err = store.SaveHTML(ctx, to, "stale", []byte("<html>stale</html>"))
	require.NoError(t, err)

	require.NoError(t, store.Move(ctx, from, to))

	_, found, err := store.ReadMarkdown(ctx, from)
	require.NoError(t, err)
	assert.False(t, found)
	exists, err := store.HTMLExists(ctx, from, testVersion)
	require.NoError(t, err)
	assert.False(t, exists)

	md, found, err := store.ReadMarkdown(ctx, to)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "# a", string(md))
	html, found, err := store.ReadHTML(ctx, to, testVersion)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "<html>a</html>", string(html))
	exists, err = store.HTMLExists(ctx, to, "stale")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestBlobStore_MoveWithoutSourceBlobs(t *testing.T) {
	store := NewBlobStore(t.TempDir())

	err := store.Move(context.Background(), domain.FileLocation{FileName: "a"}, domain.FileLocation{FileName: "b"})
	assert.NoError(t, err)
}

func TestBlobStore_DeleteAll(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	store := NewBlobStore(root)
	loc := domain.FileLocation{FilePath: "x", FileName: "a"}

	require.NoError(t, store.SaveMarkdown(ctx, loc, []byte("# a")))
	_, err := store.SaveHTML(ctx, loc, testVersion, []byte("<html></html>"))
	require.NoError(t, err)
	_, err = store.SaveHTML(ctx, loc, testVersion+"-2", []byte("<html></html>"))
	require.NoError(t, err)

	require.NoError(t, store.DeleteAll(ctx, loc))
	require.NoError(t, store.DeleteAll(ctx, loc), "deleting absent blobs is not an error")

	assert.NoFileExists(t, filepath.Join(root, "markdown", "x", "a.md"))
	assert.NoDirExists(t, filepath.Join(root, "html", "x", "a"))
}

func TestBlobStore_WriteFailureIsBlobIO(t *testing.T) {
	root := t.TempDir()
	// A regular file where the markdown directory should be makes MkdirAll fail.
	require.NoError(t, os.WriteFile(filepath.Join(root, "markdown"), []byte("x"), 0o644))
	store := NewBlobStore(root)

	err := store.SaveMarkdown(context.Background(), domain.FileLocation{FileName: "a"}, []byte("# a"))
	assert.ErrorIs(t, err, ErrBlobIO)
}
