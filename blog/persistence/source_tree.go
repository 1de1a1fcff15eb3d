package persistence

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"

	"github.com/dfryer1193/mdblog/blog/domain"
)

var _ domain.SourceTree = (*DirSourceTree)(nil)

// DirSourceTree reads Markdown files from a directory on disk. Hidden files and
// directories are ignored.
type DirSourceTree struct {
	root string
	ext  string
}

func NewSourceTree(root, ext string) *DirSourceTree {
	if ext == "" {
		ext = markdownExt
	}
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return &DirSourceTree{root: root, ext: ext}
}

func (t *DirSourceTree) Root() string      { return t.root }
func (t *DirSourceTree) Extension() string { return t.ext }

func (t *DirSourceTree) ReadFile(ctx context.Context, loc domain.FileLocation) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	return readIfExists(filepath.Join(t.root, filepath.FromSlash(loc.Relative(t.ext))))
}

// List walks the tree and returns every Markdown file whose location passes the
// file-name rules, sorted by path. Files with unusable names are skipped.
func (t *DirSourceTree) List(ctx context.Context) ([]domain.SourceFile, error) {
	var files []domain.SourceFile
	err := filepath.WalkDir(t.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) && path == t.root {
				return fs.SkipAll
			}
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if path != t.root && strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), t.ext) {
			return nil
		}

		loc, ok := t.Locate(path)
		if !ok {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		files = append(files, domain.SourceFile{
			Location:   loc,
			ModifiedAt: info.ModTime().UTC(),
			Size:       info.Size(),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list markdown under %s: %w", t.root, err)
	}

	sort.Slice(files, func(i, j int) bool {
		return files[i].Location.Key() < files[j].Location.Key()
	})
	return files, nil
}

// Locate maps a path under the root, as reported by a walk or a watcher, to its
// logical location. It reports false for paths outside the root, without the
// Markdown extension, or whose names break the file-name rules.
func (t *DirSourceTree) Locate(path string) (domain.FileLocation, bool) {
	root, err := filepath.Abs(t.root)
	if err != nil {
		return domain.FileLocation{}, false
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return domain.FileLocation{}, false
	}
	rel, err := filepath.Rel(root, abs)
	if err != nil {
		return domain.FileLocation{}, false
	}
	rel = filepath.ToSlash(rel)
	if rel == ".." || strings.HasPrefix(rel, "../") || !strings.HasSuffix(rel, t.ext) {
		return domain.FileLocation{}, false
	}

	loc := domain.LocationFromRelative(rel, t.ext)
	if loc.Validate() != nil {
		return domain.FileLocation{}, false
	}
	return loc, true
}
