package rest

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/dfryer1193/mdblog/blog/application"
	"github.com/dfryer1193/mdblog/blog/domain"
	"github.com/dfryer1193/mdblog/internal/middleware"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// Scanner runs full reconciliation scans.
type Scanner interface {
	Scan(ctx context.Context) (application.ScanReport, error)
	Scanning() bool
}

// PostLister is the read side of the post store used by the admin routes.
type PostLister interface {
	ListAll(ctx context.Context) ([]*domain.Post, error)
	ListOrphanTags(ctx context.Context) ([]domain.Tag, error)
}

var errShuttingDown = errors.New("server is shutting down")

type AdminAPI struct {
	scanner Scanner
	posts   PostLister

	// Background scans run on this context - cancelled when Close() is called
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// mu guards the requested-scan slot and closed against Close.
	mu      sync.Mutex
	running bool
	closed  bool
}

func NewAdminAPI(scanner Scanner, posts PostLister) *AdminAPI {
	ctx, cancel := context.WithCancel(context.Background())
	return &AdminAPI{
		scanner: scanner,
		posts:   posts,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// NewRouter serves the health, metrics and admin routes.
func NewRouter(api *AdminAPI) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(middleware.LogRequests)
	r.Use(middleware.HandlePanics)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())
	api.RegisterRoutes(r)
	return r
}

func (a *AdminAPI) RegisterRoutes(r chi.Router) {
	r.Route("/admin", func(r chi.Router) {
		r.Post("/rescan", a.Rescan)
		r.Get("/posts", a.ListPosts)
		r.Get("/tags/orphans", a.ListOrphanTags)
	})
}

// Close cancels a running background scan and waits for it to stop.
func (a *AdminAPI) Close() error {
	a.mu.Lock()
	a.closed = true
	a.mu.Unlock()

	a.cancel()
	a.wg.Wait()
	return nil
}

// Rescan starts a full scan in the background. At most one requested scan runs
// at a time.
func (a *AdminAPI) Rescan(w http.ResponseWriter, r *http.Request) {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		writeError(w, http.StatusServiceUnavailable, errShuttingDown)
		return
	}
	if a.running || a.scanner.Scanning() {
		a.mu.Unlock()
		writeError(w, http.StatusConflict, application.ErrScanInProgress)
		return
	}
	a.running = true
	a.wg.Add(1)
	a.mu.Unlock()

	go func() {
		defer a.wg.Done()
		defer func() {
			a.mu.Lock()
			a.running = false
			a.mu.Unlock()
		}()

		report, err := a.scanner.Scan(a.ctx)
		if errors.Is(err, application.ErrScanInProgress) {
			log.Info().Msg("Requested scan skipped, another scan started first")
			return
		}
		if err != nil {
			log.Error().Err(err).Msg("Requested scan failed")
			return
		}
		log.Info().Int("failed", report.Failed).Dur("elapsed", report.Duration).Msg("Requested scan finished")
	}()

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
}

type postSummary struct {
	ID        string    `json:"id"`
	Path      string    `json:"path"`
	Title     string    `json:"title"`
	Slug      string    `json:"slug"`
	Category  string    `json:"category"`
	Tags      []string  `json:"tags"`
	Versions  int       `json:"versions"`
	Validated bool      `json:"validated"`
	Published bool      `json:"published"`
	Modified  time.Time `json:"lastModified"`
}

func (a *AdminAPI) ListPosts(w http.ResponseWriter, r *http.Request) {
	posts, err := a.posts.ListAll(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("Failed to list posts")
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	out := make([]postSummary, 0, len(posts))
	for _, p := range posts {
		main, ok := p.MainVersion()
		out = append(out, postSummary{
			ID:        p.ID(),
			Path:      p.Location().Key(),
			Title:     p.Title(),
			Slug:      p.Slug(),
			Category:  p.Category(),
			Tags:      p.Tags(),
			Versions:  p.VersionCount(),
			Validated: ok && main.IsValid(),
			Published: p.IsPublished(),
			Modified:  p.LastModified(),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *AdminAPI) ListOrphanTags(w http.ResponseWriter, r *http.Request) {
	tags, err := a.posts.ListOrphanTags(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("Failed to list orphan tags")
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	names := make([]string, 0, len(tags))
	for _, t := range tags {
		names = append(names, t.Name)
	}
	writeJSON(w, http.StatusOK, map[string][]string{"tags": names})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Error().Err(err).Msg("Failed to write response")
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
