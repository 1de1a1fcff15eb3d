package generation

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dfryer1193/mdblog/shared/metrics"
)

type StreamStatus string

const (
	StatusGenerating StreamStatus = "generating"
	StatusCompleted  StreamStatus = "completed"
	StatusFailed     StreamStatus = "failed"
)

// ProgressEvent is one step of a streamed render. Generating events carry a
// Chunk; the Completed event carries the validated HTML; the Failed event
// carries Err.
type ProgressEvent struct {
	Status   StreamStatus
	Chunk    string
	Progress int
	HTML     string
	Err      error
}

func (e ProgressEvent) Terminal() bool {
	return e.Status == StatusCompleted || e.Status == StatusFailed
}

const streamBuffer = 16

// RenderStream renders markdown as a single streamed attempt. The channel
// yields Generating events as text arrives and ends with exactly one Completed
// or Failed event before it is closed. Validation runs once, after the stream
// ends, and there is no retry.
//
// A caller that keeps reading always sees the terminal event. A caller may
// instead stop reading once it has cancelled ctx; the channel is still closed,
// and the terminal event is dropped if the buffer has no room for it.
func (r *Renderer) RenderStream(ctx context.Context, markdown string, customPrompt *string) <-chan ProgressEvent {
	events := make(chan ProgressEvent, streamBuffer)

	go func() {
		defer close(events)

		doc, err := r.stream(ctx, markdown, customPrompt, events)
		metrics.ObserveGenerationAttempt("render_stream", err)
		if err != nil {
			sendTerminal(ctx, events, ProgressEvent{Status: StatusFailed, Progress: 100, Err: &GenerationError{Task: TaskRender, Attempts: 1, Err: err}})
			return
		}
		sendTerminal(ctx, events, ProgressEvent{Status: StatusCompleted, Progress: 100, HTML: doc})
	}()

	return events
}

// sendTerminal delivers ev while there is room or a reader, and gives up only
// once ctx is done.
func sendTerminal(ctx context.Context, events chan<- ProgressEvent, ev ProgressEvent) {
	select {
	case events <- ev:
		return
	default:
	}
	select {
	case events <- ev:
	case <-ctx.Done():
	}
}

func (r *Renderer) stream(ctx context.Context, markdown string, customPrompt *string, events chan<- ProgressEvent) (string, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, r.opts.Timeout)
	defer cancel()

	var buf strings.Builder
	estimate := expectedLength(markdown)
	req := Request{Task: TaskRender, Messages: r.conversation(markdown, customPrompt)}

	err := r.client.Stream(attemptCtx, req, func(chunk string) error {
		if chunk == "" {
			return nil
		}
		buf.WriteString(chunk)
		ev := ProgressEvent{Status: StatusGenerating, Chunk: chunk, Progress: progress(buf.Len(), estimate)}
		select {
		case events <- ev:
			return nil
		case <-attemptCtx.Done():
			return attemptCtx.Err()
		}
	})
	if err != nil {
		if errors.Is(attemptCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return "", fmt.Errorf("stream timed out after %s: %w", r.opts.Timeout, err)
		}
		return "", err
	}

	doc := StripFences(buf.String())
	if err := r.validator.Validate(doc); err != nil {
		return "", err
	}
	return doc, nil
}

// expectedLength guesses the HTML size from the Markdown size so progress can
// be reported before the total is known.
func expectedLength(markdown string) int {
	return max(3*len(markdown), 1024)
}

// progress stays below 100 until the terminal event.
func progress(received, expected int) int {
	return min(99, received*100/expected)
}
