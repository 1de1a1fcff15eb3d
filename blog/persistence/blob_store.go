package persistence

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/dfryer1193/mdblog/blog/domain"
)

// ErrBlobIO wraps every failed blob write, move or delete.
var ErrBlobIO = errors.New("blob io failure")

var _ domain.BlobStore = (*FileBlobStore)(nil)

const (
	markdownDir  = "markdown"
	htmlDir      = "html"
	htmlLeafName = "index.html"
	markdownExt  = ".md"
)

// FileBlobStore keeps blobs under a storage root:
//
//	{root}/markdown/{filePath}/{fileName}.md
//	{root}/html/{filePath}/{fileName}/{versionName}/index.html
type FileBlobStore struct {
	root string
}

func NewBlobStore(root string) *FileBlobStore {
	return &FileBlobStore{root: root}
}

func (s *FileBlobStore) SaveMarkdown(ctx context.Context, loc domain.FileLocation, content []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := writeFileAtomic(s.markdownPath(loc), content); err != nil {
		return fmt.Errorf("failed to save markdown for %s: %w: %w", loc, ErrBlobIO, err)
	}
	return nil
}

func (s *FileBlobStore) ReadMarkdown(ctx context.Context, loc domain.FileLocation) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	return readIfExists(s.markdownPath(loc))
}

// SaveHTML writes the version's document and returns its path relative to the
// storage root.
func (s *FileBlobStore) SaveHTML(ctx context.Context, loc domain.FileLocation, versionName string, html []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := checkVersionName(versionName); err != nil {
		return "", err
	}
	path := s.htmlPath(loc, versionName)
	if err := writeFileAtomic(path, html); err != nil {
		return "", fmt.Errorf("failed to save html %s for %s: %w: %w", versionName, loc, ErrBlobIO, err)
	}
	rel, err := filepath.Rel(s.root, path)
	if err != nil {
		return "", fmt.Errorf("failed to resolve html location: %w", err)
	}
	return filepath.ToSlash(rel), nil
}

func (s *FileBlobStore) ReadHTML(ctx context.Context, loc domain.FileLocation, versionName string) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	if err := checkVersionName(versionName); err != nil {
		return nil, false, err
	}
	return readIfExists(s.htmlPath(loc, versionName))
}

func (s *FileBlobStore) HTMLExists(ctx context.Context, loc domain.FileLocation, versionName string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if err := checkVersionName(versionName); err != nil {
		return false, err
	}
	info, err := os.Stat(s.htmlPath(loc, versionName))
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to stat html %s for %s: %w", versionName, loc, err)
	}
	return info.Mode().IsRegular(), nil
}

func (s *FileBlobStore) DeleteHTMLTree(ctx context.Context, loc domain.FileLocation, versionName string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := checkVersionName(versionName); err != nil {
		return err
	}
	if err := os.RemoveAll(filepath.Dir(s.htmlPath(loc, versionName))); err != nil {
		return fmt.Errorf("failed to delete html %s for %s: %w: %w", versionName, loc, ErrBlobIO, err)
	}
	return nil
}

// DeleteAll removes the Markdown copy and every HTML version of loc. Missing
// blobs are not an error.
func (s *FileBlobStore) DeleteAll(ctx context.Context, loc domain.FileLocation) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	var errs []error
	if err := os.Remove(s.markdownPath(loc)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		errs = append(errs, err)
	}
	if err := os.RemoveAll(s.htmlRoot(loc)); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return fmt.Errorf("failed to delete blobs for %s: %w: %w", loc, ErrBlobIO, errors.Join(errs...))
	}
	return nil
}

// Move relocates the Markdown copy and the HTML subtree. Blobs already at the
// destination are replaced; a missing source blob is skipped.
func (s *FileBlobStore) Move(ctx context.Context, from, to domain.FileLocation) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if from == to {
		return nil
	}
	if err := movePath(s.markdownPath(from), s.markdownPath(to)); err != nil {
		return fmt.Errorf("failed to move markdown %s to %s: %w: %w", from, to, ErrBlobIO, err)
	}
	if err := movePath(s.htmlRoot(from), s.htmlRoot(to)); err != nil {
		return fmt.Errorf("failed to move html %s to %s: %w: %w", from, to, ErrBlobIO, err)
	}
	return nil
}

func (s *FileBlobStore) markdownPath(loc domain.FileLocation) string {
	return filepath.Join(s.root, markdownDir, filepath.FromSlash(loc.FilePath), loc.FileName+markdownExt)
}

func (s *FileBlobStore) htmlRoot(loc domain.FileLocation) string {
	return filepath.Join(s.root, htmlDir, filepath.FromSlash(loc.FilePath), loc.FileName)
}

func (s *FileBlobStore) htmlPath(loc domain.FileLocation, versionName string) string {
	return filepath.Join(s.htmlRoot(loc), versionName, htmlLeafName)
}

func checkVersionName(name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("unsafe version name %q: %w", name, domain.ErrInvalidArgument)
	}
	return nil
}

func readIfExists(path string) ([]byte, bool, error) {
	content, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return content, true, nil
}

// writeFileAtomic writes through a temp file in the target directory so readers
// never observe a partial document.
func writeFileAtomic(path string, content []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func movePath(from, to string) error {
	if _, err := os.Stat(from); errors.Is(err, fs.ErrNotExist) {
		return nil
	} else if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(to), 0o755); err != nil {
		return err
	}
	if err := os.RemoveAll(to); err != nil {
		return err
	}
	return os.Rename(from, to)
}
