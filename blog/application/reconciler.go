package application

import (
	"bytes"
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/dfryer1193/mdblog/blog/domain"
	"github.com/dfryer1193/mdblog/shared/metrics"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// Renderer turns a Markdown body into a validated HTML document.
type Renderer interface {
	Render(ctx context.Context, markdown string, customPrompt *string) (string, error)
}

// Result names what a flow did.
type Result string

const (
	ResultNoop     Result = "noop"
	ResultCreated  Result = "created"
	ResultUpdated  Result = "updated"
	ResultRepaired Result = "repaired"
	ResultRenamed  Result = "renamed"
	ResultDeleted  Result = "deleted"
)

type ReconcilerOptions struct {
	AutoPublish bool
	// ScanItemDelay spaces out full-scan items that need the generator.
	ScanItemDelay time.Duration
}

// Reconciler brings the Markdown tree, the post store and the blob store back
// into agreement. Every flow is idempotent, and flows touching the same
// location never overlap.
type Reconciler struct {
	posts    domain.PostRepository
	blobs    domain.BlobStore
	sources  domain.SourceTree
	renderer Renderer
	metadata *MetadataSynthesizer

	locks       *keyLock
	autoPublish bool
	limiter     *rate.Limiter
	scanning    atomic.Bool
}

func NewReconciler(
	posts domain.PostRepository,
	blobs domain.BlobStore,
	sources domain.SourceTree,
	renderer Renderer,
	metadata *MetadataSynthesizer,
	opts ReconcilerOptions,
) *Reconciler {
	limit := rate.Inf
	if opts.ScanItemDelay > 0 {
		limit = rate.Every(opts.ScanItemDelay)
	}
	return &Reconciler{
		posts:       posts,
		blobs:       blobs,
		sources:     sources,
		renderer:    renderer,
		metadata:    metadata,
		locks:       newKeyLock(),
		autoPublish: opts.AutoPublish,
		limiter:     rate.NewLimiter(limit, 1),
	}
}

// Handle runs the flow for ev while holding the lock for every location it
// touches.
func (r *Reconciler) Handle(ctx context.Context, ev Event) (Result, error) {
	keys := []string{ev.Location.Key()}
	if ev.Kind == EventRename {
		keys = append(keys, ev.From.Key())
	}
	unlock := r.locks.Lock(keys...)
	defer unlock()

	start := time.Now()
	result, err := r.dispatch(ctx, ev)
	outcome := metrics.OutcomeSuccess
	switch {
	case err != nil:
		outcome = metrics.OutcomeFailure
	case result == ResultNoop:
		outcome = metrics.OutcomeNoop
	}
	metrics.ObserveFlow(string(ev.Kind), outcome, time.Since(start))

	if err != nil {
		return result, fmt.Errorf("%s: %w", ev, err)
	}
	if result != ResultNoop {
		log.Info().Str("flow", string(ev.Kind)).Str("path", ev.Location.Key()).Str("result", string(result)).Msg("Reconciled")
	}
	return result, nil
}

func (r *Reconciler) dispatch(ctx context.Context, ev Event) (Result, error) {
	switch ev.Kind {
	case EventCreate:
		return r.create(ctx, ev.Location)
	case EventChange:
		return r.change(ctx, ev.Location)
	case EventDelete:
		return r.delete(ctx, ev.Location)
	case EventRename:
		return r.rename(ctx, ev.From, ev.Location)
	case EventScan:
		return r.visit(ctx, ev.Location)
	}
	return ResultNoop, fmt.Errorf("unknown event kind %q", ev.Kind)
}

func (r *Reconciler) create(ctx context.Context, loc domain.FileLocation) (Result, error) {
	content, found, err := r.sources.ReadFile(ctx, loc)
	if err != nil {
		return ResultNoop, fmt.Errorf("failed to read source: %w", err)
	}
	if !found {
		return r.delete(ctx, loc)
	}

	post, err := r.posts.FindByPath(ctx, loc)
	if err != nil {
		return ResultNoop, fmt.Errorf("failed to look up post: %w", err)
	}
	if post != nil {
		usable, err := r.hasUsableVersion(ctx, post)
		if err != nil {
			return ResultNoop, err
		}
		if usable {
			return ResultNoop, nil
		}
		return r.repair(ctx, post, content)
	}

	doc := r.parse(loc, content)
	params, err := r.metadata.Synthesize(ctx, loc, doc)
	if err != nil {
		return ResultNoop, fmt.Errorf("failed to synthesize metadata: %w", err)
	}
	post, err = domain.NewPost(params)
	if err != nil {
		return ResultNoop, err
	}
	if err := r.posts.Add(ctx, post); err != nil {
		return ResultNoop, fmt.Errorf("failed to add post: %w", err)
	}
	if err := r.blobs.SaveMarkdown(ctx, loc, content); err != nil {
		return ResultNoop, err
	}

	// A post left without a version here is picked up by repair on the next
	// event or scan.
	if err := r.generate(ctx, post, doc); err != nil {
		return ResultNoop, err
	}
	return ResultCreated, nil
}

func (r *Reconciler) delete(ctx context.Context, loc domain.FileLocation) (Result, error) {
	post, err := r.posts.FindByPath(ctx, loc)
	if err != nil {
		return ResultNoop, fmt.Errorf("failed to look up post: %w", err)
	}
	if post == nil {
		return ResultNoop, nil
	}

	post.PrepareForDeletion()
	if err := r.posts.Delete(ctx, post); err != nil {
		return ResultNoop, fmt.Errorf("failed to delete post %s: %w", post.ID(), err)
	}
	if err := r.blobs.DeleteAll(ctx, loc); err != nil {
		log.Warn().Err(err).Str("path", loc.Key()).Str("post_id", post.ID()).Msg("Failed to delete blobs")
	}
	return ResultDeleted, nil
}

// change only refreshes the stored Markdown; it never renders.
func (r *Reconciler) change(ctx context.Context, loc domain.FileLocation) (Result, error) {
	post, err := r.posts.FindByPath(ctx, loc)
	if err != nil {
		return ResultNoop, fmt.Errorf("failed to look up post: %w", err)
	}
	if post == nil {
		return r.create(ctx, loc)
	}

	content, found, err := r.sources.ReadFile(ctx, loc)
	if err != nil {
		return ResultNoop, fmt.Errorf("failed to read source: %w", err)
	}
	if !found {
		return r.delete(ctx, loc)
	}
	return r.syncMarkdown(ctx, loc, content)
}

func (r *Reconciler) syncMarkdown(ctx context.Context, loc domain.FileLocation, content []byte) (Result, error) {
	stored, found, err := r.blobs.ReadMarkdown(ctx, loc)
	if err != nil {
		return ResultNoop, err
	}
	if found && bytes.Equal(stored, content) {
		return ResultNoop, nil
	}
	if err := r.blobs.SaveMarkdown(ctx, loc, content); err != nil {
		return ResultNoop, err
	}
	return ResultUpdated, nil
}

func (r *Reconciler) rename(ctx context.Context, from, to domain.FileLocation) (Result, error) {
	if from == to {
		return r.change(ctx, to)
	}
	post, err := r.posts.FindByPath(ctx, from)
	if err != nil {
		return ResultNoop, fmt.Errorf("failed to look up post: %w", err)
	}
	if post == nil {
		return r.create(ctx, to)
	}

	occupant, err := r.posts.FindByPath(ctx, to)
	if err != nil {
		return ResultNoop, fmt.Errorf("failed to look up post: %w", err)
	}
	if occupant != nil {
		// The file replaced one that already had a post. That post keeps its
		// identity; the one that moved is gone.
		if _, err := r.delete(ctx, from); err != nil {
			return ResultNoop, err
		}
		return r.change(ctx, to)
	}

	filePath := to.FilePath
	if err := post.RenameFile(to.FileName, &filePath); err != nil {
		return ResultNoop, err
	}
	if err := r.blobs.Move(ctx, from, to); err != nil {
		return ResultNoop, err
	}
	if err := r.posts.Update(ctx, post); err != nil {
		if moveErr := r.blobs.Move(ctx, to, from); moveErr != nil {
			log.Error().Err(moveErr).Str("path", to.Key()).Str("post_id", post.ID()).Msg("Failed to move blobs back after a failed rename")
		}
		return ResultNoop, fmt.Errorf("failed to update post %s: %w", post.ID(), err)
	}

	content, found, err := r.sources.ReadFile(ctx, to)
	if err != nil {
		return ResultRenamed, fmt.Errorf("failed to read source: %w", err)
	}
	if !found {
		return r.delete(ctx, to)
	}
	if _, err := r.syncMarkdown(ctx, to, content); err != nil {
		return ResultRenamed, err
	}
	return ResultRenamed, nil
}

// visit handles a full-scan pair of file and post.
func (r *Reconciler) visit(ctx context.Context, loc domain.FileLocation) (Result, error) {
	content, found, err := r.sources.ReadFile(ctx, loc)
	if err != nil {
		return ResultNoop, fmt.Errorf("failed to read source: %w", err)
	}
	if !found {
		return r.delete(ctx, loc)
	}
	post, err := r.posts.FindByPath(ctx, loc)
	if err != nil {
		return ResultNoop, fmt.Errorf("failed to look up post: %w", err)
	}
	if post == nil {
		return r.create(ctx, loc)
	}

	usable, err := r.hasUsableVersion(ctx, post)
	if err != nil {
		return ResultNoop, err
	}
	if !usable {
		return r.repair(ctx, post, content)
	}
	return r.syncMarkdown(ctx, loc, content)
}

// repair renders the post's current Markdown into its first version, or a new
// one when it has none.
func (r *Reconciler) repair(ctx context.Context, post *domain.Post, content []byte) (Result, error) {
	loc := post.Location()
	if _, err := r.syncMarkdown(ctx, loc, content); err != nil {
		return ResultNoop, err
	}
	log.Info().Str("path", loc.Key()).Str("post_id", post.ID()).Msg("Repairing post without a usable version")

	if err := r.generate(ctx, post, r.parse(loc, content)); err != nil {
		return ResultNoop, err
	}
	return ResultRepaired, nil
}

// generate renders doc, writes the HTML blob and only then records the version
// as valid.
func (r *Reconciler) generate(ctx context.Context, post *domain.Post, doc Document) error {
	html, err := r.renderer.Render(ctx, doc.Body, doc.Prompt())
	if err != nil {
		return fmt.Errorf("failed to render post %s: %w", post.ID(), err)
	}

	v, ok := post.FirstVersion()
	if !ok {
		v = post.SubmitNewVersion(doc.Prompt())
	}
	if _, err := r.blobs.SaveHTML(ctx, post.Location(), v.Name, []byte(html)); err != nil {
		return err
	}
	if err := post.MarkVersionValid(v.ID); err != nil {
		return err
	}
	if r.autoPublish && post.PublishedAt().IsZero() {
		main := ""
		if post.MainVersionID() == "" {
			main = v.ID
		}
		if err := post.Publish(main); err != nil {
			return err
		}
	}
	if err := r.posts.Update(ctx, post); err != nil {
		return fmt.Errorf("failed to update post %s: %w", post.ID(), err)
	}
	log.Debug().Str("post_id", post.ID()).Str("version", v.Name).Msg("Version rendered")
	return nil
}

// hasUsableVersion reports whether some valid version still has its HTML.
// Blob presence is checked every time rather than trusted from the store.
func (r *Reconciler) hasUsableVersion(ctx context.Context, post *domain.Post) (bool, error) {
	for _, v := range post.Versions() {
		if !v.IsValid() {
			continue
		}
		exists, err := r.blobs.HTMLExists(ctx, post.Location(), v.Name)
		if err != nil {
			return false, err
		}
		if exists {
			return true, nil
		}
		log.Warn().Str("post_id", post.ID()).Str("version", v.Name).Msg("Valid version is missing its HTML")
	}
	return false, nil
}

func (r *Reconciler) parse(loc domain.FileLocation, content []byte) Document {
	doc, err := ParseDocument(content)
	if err != nil {
		log.Warn().Err(err).Str("path", loc.Key()).Msg("Treating unreadable front matter as body")
		return Document{Body: string(content)}
	}
	return doc
}
