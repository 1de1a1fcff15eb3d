package generation

import (
	"bytes"
	"context"
	"fmt"
	"html"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/parser"
	gmhtml "github.com/yuin/goldmark/renderer/html"
)

var _ Client = (*LocalClient)(nil)

const (
	untitled         = "Untitled Post"
	maxExcerptLength = 200
	localChunkSize   = 512
)

// LocalClient answers every task offline: goldmark renders the HTML and the
// metadata is read from the Markdown itself.
type LocalClient struct {
	md goldmark.Markdown
}

func NewLocalClient() *LocalClient {
	return &LocalClient{
		md: goldmark.New(
			goldmark.WithExtensions(
				extension.GFM,
				extension.Footnote,
				extension.Typographer,
			),
			goldmark.WithParserOptions(
				parser.WithAutoHeadingID(),
			),
			goldmark.WithRendererOptions(
				gmhtml.WithXHTML(),
			),
		),
	}
}

func (c *LocalClient) Complete(ctx context.Context, req Request) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	input := firstUserContent(req.Messages)

	switch req.Task {
	case TaskRender:
		return c.document([]byte(input))
	case TaskTitle:
		return extractTitle(input), nil
	case TaskSlug:
		return Slugify(input), nil
	case TaskTags:
		return "", nil
	case TaskExcerpt:
		return extractExcerpt(input), nil
	default:
		return "", fmt.Errorf("local generator cannot handle task %q", req.Task)
	}
}

// Stream delivers the complete answer in fixed-size chunks.
func (c *LocalClient) Stream(ctx context.Context, req Request, onChunk func(chunk string) error) error {
	out, err := c.Complete(ctx, req)
	if err != nil {
		return err
	}
	for len(out) > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		n := min(localChunkSize, len(out))
		if err := onChunk(out[:n]); err != nil {
			return err
		}
		out = out[n:]
	}
	return nil
}

func (c *LocalClient) document(markdown []byte) (string, error) {
	var body bytes.Buffer
	if err := c.md.Convert(markdown, &body); err != nil {
		return "", fmt.Errorf("failed to convert markdown to HTML: %w", err)
	}

	var b strings.Builder
	b.WriteString("<!DOCTYPE html>\n<html lang=\"en\">\n<head>\n<meta charset=\"utf-8\">\n")
	b.WriteString("<meta name=\"viewport\" content=\"width=device-width, initial-scale=1\">\n")
	fmt.Fprintf(&b, "<title>%s</title>\n", html.EscapeString(extractTitle(string(markdown))))
	b.WriteString("</head>\n<body>\n<article>\n")
	b.Write(body.Bytes())
	b.WriteString("</article>\n</body>\n</html>\n")
	return b.String(), nil
}

// extractTitle returns the first level-one heading, or a placeholder.
func extractTitle(markdown string) string {
	for _, line := range strings.Split(markdown, "\n") {
		if title, found := strings.CutPrefix(strings.TrimSpace(line), "# "); found {
			if title = strings.TrimSpace(title); title != "" {
				return title
			}
		}
	}
	return untitled
}

// extractExcerpt returns the first prose paragraph, cut at a word boundary.
func extractExcerpt(markdown string) string {
	var paragraph []string
	inFence := false
	for _, line := range strings.Split(markdown, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "```") {
			inFence = !inFence
			if len(paragraph) > 0 {
				break
			}
			continue
		}
		if inFence {
			continue
		}
		if trimmed == "" || isBlockMarker(trimmed) {
			if len(paragraph) > 0 {
				break
			}
			continue
		}
		paragraph = append(paragraph, trimmed)
	}

	excerpt := strings.Join(paragraph, " ")
	if len(excerpt) <= maxExcerptLength {
		return excerpt
	}
	excerpt = excerpt[:maxExcerptLength]
	if lastSpace := strings.LastIndexAny(excerpt, " \t"); lastSpace > 0 {
		excerpt = excerpt[:lastSpace]
	}
	return strings.ToValidUTF8(excerpt, "") + "..."
}

func isBlockMarker(line string) bool {
	for _, prefix := range []string{"#", "---", "***", "- ", "* ", "+ ", "|", ">"} {
		if strings.HasPrefix(line, prefix) {
			return true
		}
	}
	return false
}
