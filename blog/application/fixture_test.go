package application

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dfryer1193/mdblog/blog/domain"
	"github.com/dfryer1193/mdblog/blog/generation"
	"github.com/dfryer1193/mdblog/blog/persistence"
	"github.com/dfryer1193/mdblog/shared/db/sqlite"
	"github.com/stretchr/testify/require"
)

// countingPosts counts every store write.
type countingPosts struct {
	domain.PostRepository
	writes atomic.Int64
}

func (c *countingPosts) Add(ctx context.Context, p *domain.Post) error {
	c.writes.Add(1)
	return c.PostRepository.Add(ctx, p)
}

func (c *countingPosts) Update(ctx context.Context, p *domain.Post) error {
	c.writes.Add(1)
	return c.PostRepository.Update(ctx, p)
}

func (c *countingPosts) Delete(ctx context.Context, p *domain.Post) error {
	c.writes.Add(1)
	return c.PostRepository.Delete(ctx, p)
}

// countingBlobs counts every blob write, move and delete.
type countingBlobs struct {
	domain.BlobStore
	writes atomic.Int64
}

func (c *countingBlobs) SaveMarkdown(ctx context.Context, loc domain.FileLocation, content []byte) error {
	c.writes.Add(1)
	return c.BlobStore.SaveMarkdown(ctx, loc, content)
}

func (c *countingBlobs) SaveHTML(ctx context.Context, loc domain.FileLocation, versionName string, html []byte) (string, error) {
	c.writes.Add(1)
	return c.BlobStore.SaveHTML(ctx, loc, versionName, html)
}

func (c *countingBlobs) DeleteHTMLTree(ctx context.Context, loc domain.FileLocation, versionName string) error {
	c.writes.Add(1)
	return c.BlobStore.DeleteHTMLTree(ctx, loc, versionName)
}

func (c *countingBlobs) DeleteAll(ctx context.Context, loc domain.FileLocation) error {
	c.writes.Add(1)
	return c.BlobStore.DeleteAll(ctx, loc)
}

func (c *countingBlobs) Move(ctx context.Context, from, to domain.FileLocation) error {
	c.writes.Add(1)
	return c.BlobStore.Move(ctx, from, to)
}

// countingRenderer counts renders and can be switched to fail them.
type countingRenderer struct {
	Renderer
	calls atomic.Int64
	fail  atomic.Bool
}

func (c *countingRenderer) Render(ctx context.Context, markdown string, customPrompt *string) (string, error) {
	c.calls.Add(1)
	if c.fail.Load() {
		return "", &generation.GenerationError{Task: generation.TaskRender, Attempts: 3, Err: generation.ErrEmptyOutput}
	}
	return c.Renderer.Render(ctx, markdown, customPrompt)
}

type fixture struct {
	mdRoot   string
	sources  *persistence.DirSourceTree
	posts    *countingPosts
	blobs    *countingBlobs
	renderer *countingRenderer
	rec      *Reconciler
}

// newFixture wires a reconciler over an in-memory database, a temporary blob
// store and the offline generator.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	database := sqlite.NewSQLiteDB(sqlite.NewSQLiteConfig(":memory:"))
	require.NoError(t, database.Connect())
	t.Cleanup(func() { database.Close() })

	dir := t.TempDir()
	mdRoot := filepath.Join(dir, "src")
	require.NoError(t, os.MkdirAll(mdRoot, 0o755))

	client := generation.NewLocalClient()
	f := &fixture{
		mdRoot:  mdRoot,
		sources: persistence.NewSourceTree(mdRoot, ".md"),
		posts:   &countingPosts{PostRepository: persistence.NewPostRepository(database.DB())},
		blobs:   &countingBlobs{BlobStore: persistence.NewBlobStore(filepath.Join(dir, "storage"))},
		renderer: &countingRenderer{Renderer: generation.NewRenderer(
			client,
			generation.NewValidator(generation.ModeStrict, nil),
			generation.Options{Timeout: time.Second},
		)},
	}
	meta := NewMetadataSynthesizer(generation.NewMetadataGenerator(client, time.Second), f.posts, 3, "tester")
	f.rec = NewReconciler(f.posts, f.blobs, f.sources, f.renderer, meta, ReconcilerOptions{AutoPublish: true})
	return f
}

func (f *fixture) write(t *testing.T, rel, content string) domain.FileLocation {
	t.Helper()
	path := filepath.Join(f.mdRoot, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return domain.LocationFromRelative(rel, ".md")
}

func (f *fixture) remove(t *testing.T, rel string) {
	t.Helper()
	require.NoError(t, os.Remove(filepath.Join(f.mdRoot, filepath.FromSlash(rel))))
}

func (f *fixture) move(t *testing.T, from, to string) {
	t.Helper()
	dst := filepath.Join(f.mdRoot, filepath.FromSlash(to))
	require.NoError(t, os.MkdirAll(filepath.Dir(dst), 0o755))
	require.NoError(t, os.Rename(filepath.Join(f.mdRoot, filepath.FromSlash(from)), dst))
}

func (f *fixture) writes() int64 {
	return f.posts.writes.Load() + f.blobs.writes.Load()
}

func (f *fixture) find(t *testing.T, loc domain.FileLocation) *domain.Post {
	t.Helper()
	p, err := f.posts.FindByPath(context.Background(), loc)
	require.NoError(t, err)
	return p
}

// recordingHandler remembers every event it is given.
type recordingHandler struct {
	mu     sync.Mutex
	events []Event
}

func (h *recordingHandler) Handle(_ context.Context, ev Event) (Result, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, ev)
	return ResultNoop, nil
}

func (h *recordingHandler) Events() []Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Event(nil), h.events...)
}

func (h *recordingHandler) Submit(ev Event) {
	h.Handle(context.Background(), ev)
}
