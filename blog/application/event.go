package application

import (
	"fmt"

	"github.com/dfryer1193/mdblog/blog/domain"
)

type EventKind string

const (
	EventCreate EventKind = "create"
	EventChange EventKind = "change"
	EventDelete EventKind = "delete"
	EventRename EventKind = "rename"
	// EventScan is a full-scan visit of a file that already has a Post: repair
	// it when it lacks a usable version, otherwise sync its Markdown.
	EventScan EventKind = "scan"
)

// Event is one logical change to a Markdown file. From is set only for renames.
type Event struct {
	Kind     EventKind
	Location domain.FileLocation
	From     domain.FileLocation
}

func (e Event) String() string {
	if e.Kind == EventRename {
		return fmt.Sprintf("%s %s -> %s", e.Kind, e.From, e.Location)
	}
	return fmt.Sprintf("%s %s", e.Kind, e.Location)
}

// merge folds a newer notification for the same location into a pending one,
// so a burst of raw events runs as the single flow that reflects its outcome.
func merge(pending, next Event) Event {
	switch next.Kind {
	case EventDelete:
		if pending.Kind == EventRename {
			// The file moved and then vanished: the Post to remove is still
			// bound to the old location.
			return Event{Kind: EventDelete, Location: pending.From}
		}
		return next
	case EventChange, EventCreate:
		switch pending.Kind {
		case EventRename, EventCreate:
			return pending
		case EventDelete:
			// Deleted and recreated within the window: the file was replaced.
			return Event{Kind: EventChange, Location: next.Location}
		}
		return next
	}
	return next
}
