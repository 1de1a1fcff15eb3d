package application

import (
	"bytes"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// FrontMatter is the optional YAML header of a Markdown file. Every field the
// author sets is used instead of a generated one.
type FrontMatter struct {
	Title    string  `yaml:"title"`
	Slug     string  `yaml:"slug"`
	Category string  `yaml:"category"`
	Tags     tagList `yaml:"tags"`
	Excerpt  string  `yaml:"excerpt"`
	Author   string  `yaml:"author"`
	Prompt   string  `yaml:"prompt"`
}

// tagList accepts either a YAML sequence or a comma separated string.
type tagList []string

func (t *tagList) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.SequenceNode:
		var tags []string
		if err := node.Decode(&tags); err != nil {
			return err
		}
		*t = tags
	case yaml.ScalarNode:
		var tags []string
		for _, tag := range strings.Split(node.Value, ",") {
			if tag = strings.TrimSpace(tag); tag != "" {
				tags = append(tags, tag)
			}
		}
		*t = tags
	default:
		return fmt.Errorf("line %d: tags must be a list or a comma separated string", node.Line)
	}
	return nil
}

// Document is a Markdown file split into its front matter and body.
type Document struct {
	Meta FrontMatter
	Body string
}

var fmDelimiter = []byte("---")

// ParseDocument splits off a leading "---" YAML block. Content without one is
// all body; a block that does not parse is an error.
func ParseDocument(content []byte) (Document, error) {
	content = bytes.TrimPrefix(content, []byte("\ufeff"))
	rest, ok := cutDelimiterLine(content)
	if !ok {
		return Document{Body: string(content)}, nil
	}

	var header []byte
	for len(rest) > 0 {
		line, after, _ := bytes.Cut(rest, []byte("\n"))
		if bytes.Equal(bytes.TrimRight(line, " \t\r"), fmDelimiter) {
			var meta FrontMatter
			if err := yaml.Unmarshal(header, &meta); err != nil {
				return Document{}, fmt.Errorf("invalid front matter: %w", err)
			}
			return Document{Meta: meta, Body: strings.TrimLeft(string(after), "\r\n")}, nil
		}
		header = append(header, line...)
		header = append(header, '\n')
		rest = after
	}
	// An opening delimiter without a closing one is an ordinary horizontal rule.
	return Document{Body: string(content)}, nil
}

func cutDelimiterLine(content []byte) ([]byte, bool) {
	line, rest, found := bytes.Cut(content, []byte("\n"))
	if !found || !bytes.Equal(bytes.TrimRight(line, " \t\r"), fmDelimiter) {
		return nil, false
	}
	return rest, true
}

// Prompt returns the custom generation prompt, or nil when none is set.
func (d Document) Prompt() *string {
	p := strings.TrimSpace(d.Meta.Prompt)
	if p == "" {
		return nil
	}
	return &p
}
