package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dfryer1193/mdblog/blog/domain"
	"github.com/dfryer1193/mdblog/shared/metrics"
	"github.com/rs/zerolog/log"
)

var ErrScanInProgress = errors.New("full scan already in progress")

// ScanReport counts what a full scan did to each file and post it visited.
type ScanReport struct {
	Files     int
	Posts     int
	Created   int
	Updated   int
	Repaired  int
	Deleted   int
	Unchanged int
	Failed    int
	Duration  time.Duration
}

func (s *ScanReport) record(result Result, err error) {
	action := string(result)
	switch {
	case err != nil:
		s.Failed++
		action = "failed"
	case result == ResultCreated:
		s.Created++
	case result == ResultUpdated, result == ResultRenamed:
		s.Updated++
	case result == ResultRepaired:
		s.Repaired++
	case result == ResultDeleted:
		s.Deleted++
	default:
		s.Unchanged++
	}
	metrics.ObserveScanItem(action)
}

// Scanning reports whether a full scan is running.
func (r *Reconciler) Scanning() bool {
	return r.scanning.Load()
}

// Scan reconciles every Markdown file against every known post. Posts whose
// file is gone are deleted first, then each file runs through the create or
// scan flow in path order. Item failures are logged and counted; only a failure
// to enumerate either side, or cancellation, ends the scan early.
func (r *Reconciler) Scan(ctx context.Context) (report ScanReport, err error) {
	if !r.scanning.CompareAndSwap(false, true) {
		return ScanReport{}, ErrScanInProgress
	}
	defer r.scanning.Store(false)

	start := time.Now()
	defer func() {
		report.Duration = time.Since(start)
	}()

	files, err := r.sources.List(ctx)
	if err != nil {
		return report, fmt.Errorf("failed to list markdown files: %w", err)
	}
	posts, err := r.posts.ListAll(ctx)
	if err != nil {
		return report, fmt.Errorf("failed to list posts: %w", err)
	}
	report.Files = len(files)
	report.Posts = len(posts)

	onDisk := make(map[string]struct{}, len(files))
	for _, f := range files {
		onDisk[f.Location.Key()] = struct{}{}
	}
	// Cancellation stops the scan between items; a flow already running is
	// allowed to finish.
	itemCtx := context.WithoutCancel(ctx)

	known := make(map[string]*domain.Post, len(posts))
	for _, p := range posts {
		known[p.Location().Key()] = p
	}

	for _, p := range posts {
		if _, ok := onDisk[p.Location().Key()]; ok {
			continue
		}
		if err := ctx.Err(); err != nil {
			return report, err
		}
		result, err := r.Handle(itemCtx, Event{Kind: EventDelete, Location: p.Location()})
		if err != nil {
			log.Error().Err(err).Str("path", p.Location().Key()).Msg("Scan failed to delete post")
		}
		report.record(result, err)
	}

	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		ev := Event{Kind: EventScan, Location: f.Location}
		post, exists := known[f.Location.Key()]
		if !exists {
			ev.Kind = EventCreate
		}
		if !exists || !hasValidVersion(post) {
			if err := r.limiter.Wait(ctx); err != nil {
				return report, err
			}
		}

		result, err := r.Handle(itemCtx, ev)
		if err != nil {
			log.Error().Err(err).Str("path", f.Location.Key()).Msg("Scan failed to reconcile file")
		}
		report.record(result, err)
	}

	log.Info().
		Int("files", report.Files).
		Int("posts", report.Posts).
		Int("created", report.Created).
		Int("updated", report.Updated).
		Int("repaired", report.Repaired).
		Int("deleted", report.Deleted).
		Int("failed", report.Failed).
		Dur("elapsed", time.Since(start)).
		Msg("Full scan complete")
	return report, nil
}

func hasValidVersion(p *domain.Post) bool {
	for _, v := range p.Versions() {
		if v.IsValid() {
			return true
		}
	}
	return false
}
