package generation

import (
	"context"
	"fmt"
	"html"
	"regexp"
	"strings"
	"time"

	"github.com/dfryer1193/mdblog/shared/metrics"
	"github.com/microcosm-cc/bluemonday"
)

// MetadataGenerator makes the single-shot calls that propose a title, slug,
// tags or excerpt. It never retries; callers layer their own format and
// uniqueness checks and call again with the rejected answers.
type MetadataGenerator struct {
	client  Client
	timeout time.Duration
	policy  *bluemonday.Policy
}

func NewMetadataGenerator(client Client, timeout time.Duration) *MetadataGenerator {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &MetadataGenerator{
		client:  client,
		timeout: timeout,
		policy:  bluemonday.StrictPolicy(),
	}
}

func (g *MetadataGenerator) Title(ctx context.Context, markdown string, rejected []string) (string, error) {
	out, err := g.ask(ctx, TaskTitle, titleInstruction, markdown, rejected)
	if err != nil {
		return "", err
	}
	return strings.Trim(firstLine(out), "\"'*_ "), nil
}

func (g *MetadataGenerator) Slug(ctx context.Context, title string, rejected []string) (string, error) {
	out, err := g.ask(ctx, TaskSlug, slugInstruction, title, rejected)
	if err != nil {
		return "", err
	}
	return Slugify(firstLine(out)), nil
}

func (g *MetadataGenerator) Tags(ctx context.Context, markdown string, rejected []string) ([]string, error) {
	out, err := g.ask(ctx, TaskTags, tagsInstruction, markdown, rejected)
	if err != nil {
		return nil, err
	}
	return splitTags(out), nil
}

func (g *MetadataGenerator) Excerpt(ctx context.Context, markdown string, rejected []string) (string, error) {
	out, err := g.ask(ctx, TaskExcerpt, excerptInstruction, markdown, rejected)
	if err != nil {
		return "", err
	}
	return strings.Join(strings.Fields(out), " "), nil
}

func (g *MetadataGenerator) ask(ctx context.Context, task Task, instruction, input string, rejected []string) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	out, err := g.client.Complete(callCtx, Request{
		Task: task,
		Messages: []Message{
			{Role: RoleSystem, Content: metadataInstruction(instruction, rejected)},
			{Role: RoleUser, Content: input},
		},
	})
	metrics.ObserveGenerationAttempt(string(task), err)
	if err != nil {
		return "", fmt.Errorf("%s generation: %w", task, err)
	}
	return g.plain(out), nil
}

// plain drops fences and markup from a model answer.
func (g *MetadataGenerator) plain(out string) string {
	out = StripFences(out)
	out = html.UnescapeString(g.policy.Sanitize(out))
	out = strings.ReplaceAll(out, "`", "")
	return strings.TrimSpace(strings.TrimLeft(out, "#*_ \t"))
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexAny(s, "\r\n"); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}

var (
	slugInvalidRe = regexp.MustCompile(`[^a-z0-9]+`)
	tagSplitRe    = regexp.MustCompile(`[,\n;]+`)
)

// Slugify lowercases s and joins its ASCII letter and digit runs with hyphens.
func Slugify(s string) string {
	return strings.Trim(slugInvalidRe.ReplaceAllString(strings.ToLower(s), "-"), "-")
}

func splitTags(out string) []string {
	seen := make(map[string]struct{})
	var tags []string
	for _, raw := range tagSplitRe.Split(out, -1) {
		tag := strings.TrimSpace(strings.Trim(strings.TrimSpace(raw), `-*#"'`))
		if tag == "" {
			continue
		}
		key := strings.ToLower(tag)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		tags = append(tags, tag)
	}
	return tags
}
