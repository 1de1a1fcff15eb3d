package generation

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/dfryer1193/mdblog/shared/metrics"
	"github.com/rs/zerolog/log"
)

const (
	DefaultMaxAttempts = 3
	DefaultTimeout     = 2 * time.Minute
)

// ErrGenerationFailed matches every GenerationError.
var ErrGenerationFailed = errors.New("generation failed")

// GenerationError is returned once a task has used up its attempts. Err is the
// failure of the last attempt.
type GenerationError struct {
	Task     Task
	Attempts int
	Err      error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("%s generation failed after %d attempt(s): %v", e.Task, e.Attempts, e.Err)
}

func (e *GenerationError) Unwrap() error {
	return e.Err
}

func (e *GenerationError) Is(target error) bool {
	return target == ErrGenerationFailed
}

type Options struct {
	// MaxAttempts bounds the calls made for one render, the first included.
	MaxAttempts int
	// Timeout bounds each attempt on its own.
	Timeout time.Duration
	Prompt  PromptConfig
}

// Renderer turns Markdown into validated HTML through a Client.
type Renderer struct {
	client    Client
	validator *Validator
	opts      Options
}

func NewRenderer(client Client, validator *Validator, opts Options) *Renderer {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	return &Renderer{client: client, validator: validator, opts: opts}
}

func (r *Renderer) conversation(markdown string, customPrompt *string) []Message {
	return []Message{
		{Role: RoleSystem, Content: r.opts.Prompt.SystemPrompt(customPrompt)},
		{Role: RoleUser, Content: markdown},
	}
}

// Render generates HTML for markdown. Output that fails validation is sent back
// with a corrective instruction and the call is retried; a transport error or
// an attempt timeout also uses up an attempt. Cancelling ctx stops the loop.
func (r *Renderer) Render(ctx context.Context, markdown string, customPrompt *string) (string, error) {
	msgs := r.conversation(markdown, customPrompt)

	var lastErr error
	for attempt := 1; attempt <= r.opts.MaxAttempts; attempt++ {
		out, err := r.complete(ctx, Request{Task: TaskRender, Messages: msgs})
		if err == nil {
			doc := StripFences(out)
			if err = r.validator.Validate(doc); err == nil {
				metrics.ObserveGenerationAttempt(string(TaskRender), nil)
				return doc, nil
			}
			msgs = append(msgs,
				Message{Role: RoleAssistant, Content: out},
				Message{Role: RoleUser, Content: correctiveInstruction(err)},
			)
		}
		metrics.ObserveGenerationAttempt(string(TaskRender), err)
		lastErr = err

		if ctx.Err() != nil {
			return "", &GenerationError{Task: TaskRender, Attempts: attempt, Err: ctx.Err()}
		}
		log.Warn().Err(err).Int("attempt", attempt).Int("max_attempts", r.opts.MaxAttempts).Msg("Render attempt failed")
	}
	return "", &GenerationError{Task: TaskRender, Attempts: r.opts.MaxAttempts, Err: lastErr}
}

func (r *Renderer) complete(ctx context.Context, req Request) (string, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, r.opts.Timeout)
	defer cancel()

	out, err := r.client.Complete(attemptCtx, req)
	if err != nil {
		if errors.Is(attemptCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return "", fmt.Errorf("attempt timed out after %s: %w", r.opts.Timeout, err)
		}
		return "", err
	}
	return out, nil
}

var fenceRe = regexp.MustCompile("(?s)^```[\\w-]*[ \\t]*\\r?\\n(.*?)\\r?\\n?```$")

// StripFences removes a Markdown code fence wrapped around the whole output.
func StripFences(out string) string {
	out = strings.TrimSpace(out)
	if m := fenceRe.FindStringSubmatch(out); m != nil {
		return strings.TrimSpace(m[1])
	}
	return out
}
