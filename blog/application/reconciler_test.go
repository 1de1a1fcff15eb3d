package application

import (
	"context"
	"testing"

	"github.com/dfryer1193/mdblog/blog/domain"
	"github.com/dfryer1193/mdblog/blog/generation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const helloMarkdown = "# Hello World\n\nA first paragraph about nothing much.\n"

func TestReconciler_CreateRendersAndPublishes(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	loc := f.write(t, "notes/go/hello.md", helloMarkdown)

	result, err := f.rec.Handle(ctx, Event{Kind: EventCreate, Location: loc})
	require.NoError(t, err)
	assert.Equal(t, ResultCreated, result)

	post := f.find(t, loc)
	require.NotNil(t, post)
	assert.Equal(t, "Hello World", post.Title())
	assert.Equal(t, "hello-world", post.Slug())
	assert.Equal(t, "go", post.Category())
	assert.Equal(t, "tester", post.Author())
	assert.Equal(t, "A first paragraph about nothing much.", post.Excerpt())
	assert.True(t, post.IsPublished())

	require.Equal(t, 1, post.VersionCount())
	main, ok := post.MainVersion()
	require.True(t, ok)
	assert.True(t, main.IsValid())

	html, found, err := f.blobs.ReadHTML(ctx, loc, main.Name)
	require.NoError(t, err)
	require.True(t, found)
	assert.Contains(t, string(html), "<h1 id=\"hello-world\">Hello World</h1>")

	md, found, err := f.blobs.ReadMarkdown(ctx, loc)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, helloMarkdown, string(md))
}

func TestReconciler_CreateIsNoopWhenSatisfied(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	loc := f.write(t, "hello.md", helloMarkdown)

	_, err := f.rec.Handle(ctx, Event{Kind: EventCreate, Location: loc})
	require.NoError(t, err)
	writes := f.writes()

	result, err := f.rec.Handle(ctx, Event{Kind: EventCreate, Location: loc})
	require.NoError(t, err)
	assert.Equal(t, ResultNoop, result)
	assert.Equal(t, writes, f.writes())
	assert.EqualValues(t, 1, f.renderer.calls.Load())
}

func TestReconciler_CreateUsesFrontMatter(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	content := "---\ntitle: Chosen Title\nslug: chosen\ncategory: essays\ntags: [go, testing]\nprompt: Use a dark theme.\n---\n# Ignored Heading\n\nBody.\n"
	loc := f.write(t, "notes/chosen.md", content)

	_, err := f.rec.Handle(ctx, Event{Kind: EventCreate, Location: loc})
	require.NoError(t, err)

	post := f.find(t, loc)
	require.NotNil(t, post)
	assert.Equal(t, "Chosen Title", post.Title())
	assert.Equal(t, "chosen", post.Slug())
	assert.Equal(t, "essays", post.Category())
	assert.True(t, post.CategoryIsExplicit())
	assert.Equal(t, []string{"go", "testing"}, post.Tags())

	v, ok := post.FirstVersion()
	require.True(t, ok)
	require.NotNil(t, v.GenerationPrompt)
	assert.Equal(t, "Use a dark theme.", *v.GenerationPrompt)

	html, _, err := f.blobs.ReadHTML(ctx, loc, v.Name)
	require.NoError(t, err)
	assert.NotContains(t, string(html), "title: Chosen Title")
}

func TestReconciler_FailedRenderLeavesPostForRepair(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	loc := f.write(t, "hello.md", helloMarkdown)

	f.renderer.fail.Store(true)
	_, err := f.rec.Handle(ctx, Event{Kind: EventCreate, Location: loc})
	require.Error(t, err)
	assert.ErrorIs(t, err, generation.ErrGenerationFailed)

	post := f.find(t, loc)
	require.NotNil(t, post, "the post is kept so a later repair can finish it")
	assert.False(t, post.HasVersions())
	assert.False(t, post.IsPublished())

	f.renderer.fail.Store(false)
	result, err := f.rec.Handle(ctx, Event{Kind: EventScan, Location: loc})
	require.NoError(t, err)
	assert.Equal(t, ResultRepaired, result)

	post = f.find(t, loc)
	require.Equal(t, 1, post.VersionCount())
	v, _ := post.FirstVersion()
	assert.True(t, v.IsValid())
	assert.True(t, post.IsPublished())
}

func TestReconciler_Delete(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	loc := f.write(t, "hello.md", helloMarkdown)
	_, err := f.rec.Handle(ctx, Event{Kind: EventCreate, Location: loc})
	require.NoError(t, err)
	v, _ := f.find(t, loc).FirstVersion()

	f.remove(t, "hello.md")
	result, err := f.rec.Handle(ctx, Event{Kind: EventDelete, Location: loc})
	require.NoError(t, err)
	assert.Equal(t, ResultDeleted, result)
	assert.Nil(t, f.find(t, loc))

	exists, err := f.blobs.HTMLExists(ctx, loc, v.Name)
	require.NoError(t, err)
	assert.False(t, exists)
	_, found, err := f.blobs.ReadMarkdown(ctx, loc)
	require.NoError(t, err)
	assert.False(t, found)

	result, err = f.rec.Handle(ctx, Event{Kind: EventDelete, Location: loc})
	require.NoError(t, err)
	assert.Equal(t, ResultNoop, result)
}

func TestReconciler_CreateOfMissingFileDeletes(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	loc := f.write(t, "hello.md", helloMarkdown)
	_, err := f.rec.Handle(ctx, Event{Kind: EventCreate, Location: loc})
	require.NoError(t, err)

	f.remove(t, "hello.md")
	result, err := f.rec.Handle(ctx, Event{Kind: EventCreate, Location: loc})
	require.NoError(t, err)
	assert.Equal(t, ResultDeleted, result)
}

func TestReconciler_ChangeUpdatesMarkdownOnly(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	loc := f.write(t, "hello.md", helloMarkdown)
	_, err := f.rec.Handle(ctx, Event{Kind: EventCreate, Location: loc})
	require.NoError(t, err)

	edited := helloMarkdown + "\nA second paragraph.\n"
	f.write(t, "hello.md", edited)
	result, err := f.rec.Handle(ctx, Event{Kind: EventChange, Location: loc})
	require.NoError(t, err)
	assert.Equal(t, ResultUpdated, result)

	md, _, err := f.blobs.ReadMarkdown(ctx, loc)
	require.NoError(t, err)
	assert.Equal(t, edited, string(md))
	assert.Equal(t, 1, f.find(t, loc).VersionCount())
	assert.EqualValues(t, 1, f.renderer.calls.Load())

	result, err = f.rec.Handle(ctx, Event{Kind: EventChange, Location: loc})
	require.NoError(t, err)
	assert.Equal(t, ResultNoop, result)
}

func TestReconciler_ChangeWithoutPostCreates(t *testing.T) {
	f := newFixture(t)
	loc := f.write(t, "hello.md", helloMarkdown)

	result, err := f.rec.Handle(context.Background(), Event{Kind: EventChange, Location: loc})
	require.NoError(t, err)
	assert.Equal(t, ResultCreated, result)
	assert.NotNil(t, f.find(t, loc))
}

func TestReconciler_RenameKeepsIdentity(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	from := f.write(t, "dir1/a.md", helloMarkdown)
	_, err := f.rec.Handle(ctx, Event{Kind: EventCreate, Location: from})
	require.NoError(t, err)
	before := f.find(t, from)
	v, _ := before.FirstVersion()

	f.move(t, "dir1/a.md", "dir2/a.md")
	to := domain.FileLocation{FilePath: "dir2", FileName: "a"}
	result, err := f.rec.Handle(ctx, Event{Kind: EventRename, From: from, Location: to})
	require.NoError(t, err)
	assert.Equal(t, ResultRenamed, result)

	assert.Nil(t, f.find(t, from))
	after := f.find(t, to)
	require.NotNil(t, after)
	assert.Equal(t, before.ID(), after.ID())
	assert.Equal(t, "dir2", after.Location().FilePath)
	assert.Equal(t, "dir2", after.Category())

	moved, err := f.blobs.HTMLExists(ctx, to, v.Name)
	require.NoError(t, err)
	assert.True(t, moved)
	left, err := f.blobs.HTMLExists(ctx, from, v.Name)
	require.NoError(t, err)
	assert.False(t, left)
	assert.EqualValues(t, 1, f.renderer.calls.Load())
}

func TestReconciler_RenameOfUnknownFileCreates(t *testing.T) {
	f := newFixture(t)
	to := f.write(t, "b.md", helloMarkdown)

	result, err := f.rec.Handle(context.Background(), Event{
		Kind:     EventRename,
		From:     domain.FileLocation{FileName: "a"},
		Location: to,
	})
	require.NoError(t, err)
	assert.Equal(t, ResultCreated, result)
	assert.NotNil(t, f.find(t, to))
}

func TestReconciler_RenameOntoExistingPost(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a := f.write(t, "a.md", "# Alpha\n\nAlpha body.\n")
	b := f.write(t, "b.md", "# Beta\n\nBeta body.\n")
	for _, loc := range []domain.FileLocation{a, b} {
		_, err := f.rec.Handle(ctx, Event{Kind: EventCreate, Location: loc})
		require.NoError(t, err)
	}
	bID := f.find(t, b).ID()

	f.move(t, "a.md", "b.md")
	_, err := f.rec.Handle(ctx, Event{Kind: EventRename, From: a, Location: b})
	require.NoError(t, err)

	assert.Nil(t, f.find(t, a))
	post := f.find(t, b)
	require.NotNil(t, post)
	assert.Equal(t, bID, post.ID())

	md, _, err := f.blobs.ReadMarkdown(ctx, b)
	require.NoError(t, err)
	assert.Equal(t, "# Alpha\n\nAlpha body.\n", string(md))
}

func TestReconciler_ScanRepairsMissingHTML(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	loc := f.write(t, "hello.md", helloMarkdown)
	_, err := f.rec.Handle(ctx, Event{Kind: EventCreate, Location: loc})
	require.NoError(t, err)
	v, _ := f.find(t, loc).FirstVersion()
	require.True(t, v.IsValid())

	require.NoError(t, f.blobs.DeleteHTMLTree(ctx, loc, v.Name))

	report, err := f.rec.Scan(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Repaired)

	exists, err := f.blobs.HTMLExists(ctx, loc, v.Name)
	require.NoError(t, err)
	assert.True(t, exists)
	post := f.find(t, loc)
	assert.Equal(t, 1, post.VersionCount(), "repair reuses the first version")
	assert.EqualValues(t, 2, f.renderer.calls.Load())
}

func TestReconciler_ScanIsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.write(t, "one.md", "# One\n\nFirst.\n")
	f.write(t, "notes/two.md", "# Two\n\nSecond.\n")
	f.write(t, "notes/deep/three.md", "# Three\n\nThird.\n")

	report, err := f.rec.Scan(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, report.Files)
	assert.Equal(t, 3, report.Created)
	assert.Zero(t, report.Failed)

	writes := f.writes()
	renders := f.renderer.calls.Load()

	report, err = f.rec.Scan(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, report.Unchanged)
	assert.Equal(t, writes, f.writes(), "a second scan must not write")
	assert.Equal(t, renders, f.renderer.calls.Load())
}

func TestReconciler_ScanDeletesPostsWithoutFiles(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	keep := f.write(t, "keep.md", "# Keep\n\nStays.\n")
	gone := f.write(t, "gone.md", "# Gone\n\nGoes.\n")
	_, err := f.rec.Scan(ctx)
	require.NoError(t, err)

	f.remove(t, "gone.md")
	report, err := f.rec.Scan(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Deleted)
	assert.Nil(t, f.find(t, gone))
	assert.NotNil(t, f.find(t, keep))
}

func TestReconciler_ScanRejectsOverlap(t *testing.T) {
	f := newFixture(t)
	f.rec.scanning.Store(true)

	_, err := f.rec.Scan(context.Background())
	assert.ErrorIs(t, err, ErrScanInProgress)
	assert.True(t, f.rec.Scanning())
}

func TestReconciler_ScanStopsOnCancel(t *testing.T) {
	f := newFixture(t)
	f.write(t, "one.md", "# One\n\nFirst.\n")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.rec.Scan(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, f.rec.Scanning())
}

func TestReconciler_ScanCreatesPostsWithSharedTitles(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	locs := []domain.FileLocation{
		f.write(t, "a.md", "# Notes\n\nMonday.\n"),
		f.write(t, "b.md", "# Notes\n\nTuesday.\n"),
		f.write(t, "c.md", "No heading here.\n"),
		f.write(t, "d.md", "Nor here.\n"),
	}

	report, err := f.rec.Scan(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, report.Created)
	assert.Zero(t, report.Failed)

	var titles, slugs []string
	for _, loc := range locs {
		post := f.find(t, loc)
		require.NotNil(t, post, loc.Key())
		assert.True(t, hasValidVersion(post), loc.Key())
		titles = append(titles, post.Title())
		slugs = append(slugs, post.Slug())
	}
	assert.ElementsMatch(t, []string{"Notes", "Notes (2)", "Untitled Post", "Untitled Post (2)"}, titles)
	assert.ElementsMatch(t, []string{"notes", "notes-2", "untitled-post", "untitled-post-2"}, slugs)

	report, err = f.rec.Scan(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, report.Unchanged)
	assert.Zero(t, report.Failed)
}
