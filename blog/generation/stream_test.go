package generation

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collect(events <-chan ProgressEvent) []ProgressEvent {
	var all []ProgressEvent
	for ev := range events {
		all = append(all, ev)
	}
	return all
}

func requireSingleTerminal(t *testing.T, events []ProgressEvent) ProgressEvent {
	t.Helper()
	require.NotEmpty(t, events)
	for _, ev := range events[:len(events)-1] {
		require.False(t, ev.Terminal(), "terminal event before the end of the stream")
	}
	last := events[len(events)-1]
	require.True(t, last.Terminal())
	return last
}

func TestRenderStream_Completes(t *testing.T) {
	client := newScriptedClient(text(validDoc))

	events := collect(newTestRenderer(client, ModeStrict).RenderStream(context.Background(), "# Hi", nil))

	last := requireSingleTerminal(t, events)
	assert.Equal(t, StatusCompleted, last.Status)
	assert.Equal(t, 100, last.Progress)
	assert.Equal(t, validDoc, last.HTML)
	assert.NoError(t, last.Err)

	var streamed strings.Builder
	prev := 0
	for _, ev := range events[:len(events)-1] {
		assert.Equal(t, StatusGenerating, ev.Status)
		assert.GreaterOrEqual(t, ev.Progress, prev)
		assert.Less(t, ev.Progress, 100)
		prev = ev.Progress
		streamed.WriteString(ev.Chunk)
	}
	assert.Equal(t, validDoc, streamed.String())
}

func TestRenderStream_FailsValidationWithoutRetry(t *testing.T) {
	client := newScriptedClient(text("<p>partial"), text(validDoc))

	events := collect(newTestRenderer(client, ModeStrict).RenderStream(context.Background(), "# Hi", nil))

	last := requireSingleTerminal(t, events)
	assert.Equal(t, StatusFailed, last.Status)
	assert.ErrorIs(t, last.Err, ErrGenerationFailed)
	var verr *ValidationError
	assert.ErrorAs(t, last.Err, &verr)
	assert.Len(t, client.calls(), 1)
}

func TestRenderStream_Timeout(t *testing.T) {
	client := newScriptedClient(hang())

	events := collect(newTestRenderer(client, ModeWarning).RenderStream(context.Background(), "# Hi", nil))

	last := requireSingleTerminal(t, events)
	assert.Equal(t, StatusFailed, last.Status)
	assert.ErrorIs(t, last.Err, context.DeadlineExceeded)
	assert.Len(t, events, 1)
}

func TestProgress(t *testing.T) {
	assert.Equal(t, 1024, expectedLength("short"))
	assert.Equal(t, 3000, expectedLength(strings.Repeat("x", 1000)))
	assert.Equal(t, 50, progress(512, 1024))
	assert.Equal(t, 99, progress(5000, 1024))
}

// floodClient streams chunks until the consumer refuses one.
type floodClient struct {
	returned atomic.Bool
}

func (c *floodClient) Complete(context.Context, Request) (string, error) {
	return "", errors.New("not used")
}

func (c *floodClient) Stream(ctx context.Context, _ Request, onChunk func(string) error) error {
	defer c.returned.Store(true)
	for {
		if err := onChunk("<p>more</p>"); err != nil {
			return err
		}
	}
}

func TestRenderStream_AbandonedAfterCancel(t *testing.T) {
	client := &floodClient{}
	ctx, cancel := context.WithCancel(context.Background())

	events := newTestRenderer(client, ModeWarning).RenderStream(ctx, "# Hi", nil)
	require.Eventually(t, func() bool { return len(events) == streamBuffer }, time.Second, time.Millisecond)

	cancel()
	require.Eventually(t, client.returned.Load, time.Second, time.Millisecond)
	// Let the producer reach its terminal send before anything is read.
	time.Sleep(50 * time.Millisecond)

	drained := collect(events)
	assert.Len(t, drained, streamBuffer, "the terminal event is dropped rather than blocking")
	for _, ev := range drained {
		assert.Equal(t, StatusGenerating, ev.Status)
	}
}

func TestRenderStream_TerminalDeliveredAfterCancelWhenRead(t *testing.T) {
	client := newScriptedClient(hang())
	ctx, cancel := context.WithCancel(context.Background())
	events := newTestRenderer(client, ModeWarning).RenderStream(ctx, "# Hi", nil)

	cancel()

	last := requireSingleTerminal(t, collect(events))
	assert.Equal(t, StatusFailed, last.Status)
	assert.ErrorIs(t, last.Err, context.Canceled)
}
