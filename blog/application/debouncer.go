package application

import (
	"sync"
	"time"

	"github.com/dfryer1193/mdblog/shared/metrics"
)

// DefaultQuietWindow is the debounce delay when none is configured.
const DefaultQuietWindow = 5 * time.Second

// PathDebouncer runs an action once a key has been quiet for the window. A
// notification for a key with a pending timer restarts that timer and replaces
// its action, so a burst produces exactly one run.
type PathDebouncer struct {
	quiet time.Duration

	mu     sync.Mutex
	timers map[string]*time.Timer
	closed bool

	running sync.WaitGroup
}

func NewPathDebouncer(quiet time.Duration) *PathDebouncer {
	if quiet <= 0 {
		quiet = DefaultQuietWindow
	}
	return &PathDebouncer{
		quiet:  quiet,
		timers: make(map[string]*time.Timer),
	}
}

// Notify schedules action for key, replacing any pending action. It reports
// whether a pending timer was restarted. Notifications after Close are dropped.
func (d *PathDebouncer) Notify(key string, action func()) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return false
	}

	coalesced := false
	if t, ok := d.timers[key]; ok && t.Stop() {
		coalesced = true
		metrics.DebounceCoalescedTotal.Inc()
	}

	var t *time.Timer
	t = time.AfterFunc(d.quiet, func() {
		d.fire(key, t, action)
	})
	d.timers[key] = t
	return coalesced
}

func (d *PathDebouncer) fire(key string, t *time.Timer, action func()) {
	d.mu.Lock()
	if d.closed || d.timers[key] != t {
		d.mu.Unlock()
		return
	}
	delete(d.timers, key)
	d.running.Add(1)
	d.mu.Unlock()

	defer d.running.Done()
	action()
}

// Cancel drops the pending action for key, if any, and reports whether one
// was dropped.
func (d *PathDebouncer) Cancel(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	t, ok := d.timers[key]
	if !ok {
		return false
	}
	delete(d.timers, key)
	return t.Stop()
}

// Pending is the number of keys waiting for their window to elapse.
func (d *PathDebouncer) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.timers)
}

// Close cancels every pending timer without running its action, then waits
// for actions that had already started.
func (d *PathDebouncer) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		d.running.Wait()
		return
	}
	d.closed = true
	for key, t := range d.timers {
		t.Stop()
		delete(d.timers, key)
	}
	d.mu.Unlock()

	d.running.Wait()
}
