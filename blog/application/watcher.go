package application

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/dfryer1193/mdblog/blog/domain"
	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

// DefaultRenameWindow is how long a rename waits for the create that completes it.
const DefaultRenameWindow = time.Second

// Locator maps a path on disk to the location of a Markdown file.
type Locator interface {
	Locate(path string) (domain.FileLocation, bool)
}

// EventSink receives logical events from the watcher.
type EventSink interface {
	Submit(ev Event)
}

// Watcher turns fsnotify notifications under a root into logical events.
//
// Directories are watched recursively as they appear. fsnotify reports a move
// as a Rename of the old path followed by a Create of the new one; the watcher
// holds each rename for the rename window and pairs it with the next create of
// the same kind, preferring one with the same base name. A rename left unpaired
// becomes a delete.
type Watcher struct {
	root         string
	locator      Locator
	sink         EventSink
	renameWindow time.Duration
	fsw          *fsnotify.Watcher

	mu      sync.Mutex
	dirs    map[string]struct{}
	files   map[string]struct{}
	renames []*pendingRename
	closed  bool

	// Watcher lifecycle context - cancelled when Close() is called
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type pendingRename struct {
	path  string
	isDir bool
	timer *time.Timer
}

// NewWatcher arms watches on every directory under root and starts delivering
// events to sink.
func NewWatcher(root string, locator Locator, sink EventSink, renameWindow time.Duration) (*Watcher, error) {
	if renameWindow <= 0 {
		renameWindow = DefaultRenameWindow
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve watch root %s: %w", root, err)
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	w := &Watcher{
		root:         abs,
		locator:      locator,
		sink:         sink,
		renameWindow: renameWindow,
		fsw:          fsw,
		dirs:         make(map[string]struct{}),
		files:        make(map[string]struct{}),
		ctx:          ctx,
		cancel:       cancel,
	}
	if _, err := w.addTree(abs); err != nil {
		cancel()
		fsw.Close()
		return nil, err
	}

	w.wg.Add(1)
	go w.loop()

	log.Info().Str("root", abs).Int("dirs", len(w.dirs)).Msg("Watching markdown tree")
	return w, nil
}

// Close stops the watcher. Pending renames are dropped.
func (w *Watcher) Close() error {
	w.mu.Lock()
	w.closed = true
	for _, pr := range w.renames {
		pr.timer.Stop()
	}
	w.renames = nil
	w.mu.Unlock()

	w.cancel()
	err := w.fsw.Close()
	w.wg.Wait()
	return err
}

func (w *Watcher) loop() {
	defer w.wg.Done()
	for {
		select {
		case <-w.ctx.Done():
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handle(ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			log.Error().Err(err).Str("root", w.root).Msg("Watcher error")
		}
	}
}

func (w *Watcher) handle(ev fsnotify.Event) {
	path := filepath.Clean(ev.Name)
	if isHidden(filepath.Base(path)) {
		return
	}
	switch {
	case ev.Has(fsnotify.Create):
		w.created(path)
	case ev.Has(fsnotify.Write):
		w.written(path)
	case ev.Has(fsnotify.Remove):
		w.removed(path)
	case ev.Has(fsnotify.Rename):
		w.renamed(path)
	}
}

func (w *Watcher) created(path string) {
	info, err := os.Lstat(path)
	if err != nil {
		// Already gone again; its removal will be reported separately.
		return
	}
	if info.IsDir() {
		w.createdDir(path)
		return
	}

	loc, ok := w.locator.Locate(path)
	if !ok {
		return
	}
	w.mu.Lock()
	w.files[path] = struct{}{}
	pr := w.takeRename(path, false)
	w.mu.Unlock()

	if pr != nil {
		if from, ok := w.locator.Locate(pr.path); ok {
			w.sink.Submit(Event{Kind: EventRename, From: from, Location: loc})
			return
		}
	}
	w.sink.Submit(Event{Kind: EventCreate, Location: loc})
}

func (w *Watcher) createdDir(path string) {
	found, err := w.addTree(path)
	if err != nil {
		log.Error().Err(err).Str("dir", path).Msg("Failed to watch new directory")
	}

	w.mu.Lock()
	pr := w.takeRename(path, true)
	var moved []string
	if pr != nil {
		moved = w.forgetTree(pr.path)
	}
	w.mu.Unlock()

	var events []Event
	if pr != nil {
		for _, old := range moved {
			from, ok := w.locator.Locate(old)
			if !ok {
				continue
			}
			newPath := filepath.Join(path, strings.TrimPrefix(old, pr.path))
			if i := slices.Index(found, newPath); i >= 0 {
				found = slices.Delete(found, i, i+1)
				if to, ok := w.locator.Locate(newPath); ok {
					events = append(events, Event{Kind: EventRename, From: from, Location: to})
					continue
				}
			}
			events = append(events, Event{Kind: EventDelete, Location: from})
		}
	}
	for _, p := range found {
		if loc, ok := w.locator.Locate(p); ok {
			events = append(events, Event{Kind: EventCreate, Location: loc})
		}
	}
	for _, ev := range events {
		w.sink.Submit(ev)
	}
}

func (w *Watcher) written(path string) {
	loc, ok := w.locator.Locate(path)
	if !ok {
		return
	}
	w.mu.Lock()
	w.files[path] = struct{}{}
	w.mu.Unlock()
	w.sink.Submit(Event{Kind: EventChange, Location: loc})
}

func (w *Watcher) removed(path string) {
	w.mu.Lock()
	gone := w.forgetTree(path)
	w.mu.Unlock()

	if len(gone) == 0 {
		gone = []string{path}
	}
	for _, p := range gone {
		if loc, ok := w.locator.Locate(p); ok {
			w.sink.Submit(Event{Kind: EventDelete, Location: loc})
		}
	}
}

func (w *Watcher) renamed(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}

	_, isDir := w.dirs[path]
	_, isFile := w.files[path]
	if !isDir && !isFile {
		return
	}
	// A moved directory reports the rename on both its own watch and its parent's.
	for _, pr := range w.renames {
		if pr.path == path {
			return
		}
	}

	pr := &pendingRename{path: path, isDir: isDir}
	pr.timer = time.AfterFunc(w.renameWindow, func() { w.expire(pr) })
	w.renames = append(w.renames, pr)
}

// expire turns an unpaired rename into a removal.
func (w *Watcher) expire(pr *pendingRename) {
	w.mu.Lock()
	i := slices.Index(w.renames, pr)
	if w.closed || i < 0 {
		w.mu.Unlock()
		return
	}
	w.renames = slices.Delete(w.renames, i, i+1)
	w.mu.Unlock()

	log.Debug().Str("path", pr.path).Msg("Rename left unpaired, treating as removal")
	w.removed(pr.path)
}

// takeRename pops the pending rename that best matches a create at path.
// Callers hold w.mu.
func (w *Watcher) takeRename(path string, isDir bool) *pendingRename {
	best := -1
	for i, pr := range w.renames {
		if pr.isDir != isDir {
			continue
		}
		if filepath.Base(pr.path) == filepath.Base(path) {
			best = i
			break
		}
		if best < 0 {
			best = i
		}
	}
	if best < 0 {
		return nil
	}
	pr := w.renames[best]
	pr.timer.Stop()
	w.renames = slices.Delete(w.renames, best, best+1)
	return pr
}

// forgetTree drops path, and everything under it when it is a directory, and
// returns the Markdown files that were known there. Callers hold w.mu.
func (w *Watcher) forgetTree(path string) []string {
	var gone []string
	if _, ok := w.files[path]; ok {
		delete(w.files, path)
		gone = append(gone, path)
	}
	if _, ok := w.dirs[path]; !ok {
		return gone
	}

	prefix := path + string(filepath.Separator)
	for f := range w.files {
		if strings.HasPrefix(f, prefix) {
			delete(w.files, f)
			gone = append(gone, f)
		}
	}
	for d := range w.dirs {
		if d == path || strings.HasPrefix(d, prefix) {
			delete(w.dirs, d)
			// The kernel may already have dropped the watch with the directory.
			_ = w.fsw.Remove(d)
		}
	}
	slices.Sort(gone)
	return gone
}

// addTree watches dir and every visible directory below it, and returns the
// Markdown files found along the way.
func (w *Watcher) addTree(dir string) ([]string, error) {
	var found []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if path != dir && isHidden(d.Name()) {
			if d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			if err := w.fsw.Add(path); err != nil {
				return fmt.Errorf("failed to watch %s: %w", path, err)
			}
			w.mu.Lock()
			w.dirs[path] = struct{}{}
			w.mu.Unlock()
			return nil
		}
		if _, ok := w.locator.Locate(path); ok {
			w.mu.Lock()
			w.files[path] = struct{}{}
			w.mu.Unlock()
			found = append(found, path)
		}
		return nil
	})
	return found, err
}

func isHidden(name string) bool {
	return strings.HasPrefix(name, ".")
}
