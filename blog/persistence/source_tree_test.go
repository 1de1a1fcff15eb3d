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

func writeSource(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestSourceTree_List(t *testing.T) {
	root := t.TempDir()
	writeSource(t, root, "index.md", "# index")
	writeSource(t, root, "notes/go/channels.md", "# channels")
	writeSource(t, root, "notes/readme.txt", "not markdown")
	writeSource(t, root, ".drafts/secret.md", "# hidden dir")
	writeSource(t, root, "notes/.swap.md", "# hidden file")

	files, err := NewSourceTree(root, ".md").List(context.Background())
	require.NoError(t, err)

	var keys []string
	for _, f := range files {
		keys = append(keys, f.Location.Key())
	}
	assert.Equal(t, []string{"index", "notes/go/channels"}, keys)
	assert.Equal(t, int64(len("# channels")), files[1].Size)
	assert.False(t, files[1].ModifiedAt.IsZero())
}

func TestSourceTree_ListMissingRoot(t *testing.T) {
	files, err := NewSourceTree(filepath.Join(t.TempDir(), "absent"), "md").List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestSourceTree_ReadFile(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	writeSource(t, root, "notes/a.md", "# a")
	tree := NewSourceTree(root, "md")

	content, found, err := tree.ReadFile(ctx, domain.FileLocation{FilePath: "notes", FileName: "a"})
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "# a", string(content))

	_, found, err = tree.ReadFile(ctx, domain.FileLocation{FilePath: "notes", FileName: "b"})
	require.NoError(t, err)
	assert.False(t, found)
}

func TestSourceTree_Locate(t *testing.T) {
	root := t.TempDir()
	tree := NewSourceTree(root, ".md")

	tests := []struct {
		name string
		path string
		want domain.FileLocation
		ok   bool
	}{
		{"root file", filepath.Join(root, "a.md"), domain.FileLocation{FileName: "a"}, true},
		{"nested file", filepath.Join(root, "x", "y", "b.md"), domain.FileLocation{FilePath: "x/y", FileName: "b"}, true},
		{"wrong extension", filepath.Join(root, "a.txt"), domain.FileLocation{}, false},
		{"outside root", filepath.Join(filepath.Dir(root), "other.md"), domain.FileLocation{}, false},
		{"hidden name", filepath.Join(root, ".a.md"), domain.FileLocation{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := tree.Locate(tt.path)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}
