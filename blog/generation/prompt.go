package generation

import (
	"fmt"
	"strings"
)

// rootInstruction is always sent first and cannot be replaced by a post's prompt.
const rootInstruction = `You convert a Markdown blog post into a single, complete HTML5 document.
Return only the HTML document, starting with <!DOCTYPE html> and ending with </html>.
Keep every piece of the author's content; do not invent facts, links or sections.
Inline all CSS in a <style> element. Only load scripts from the resources listed below, if any.`

// PromptConfig is the configured part of the render instruction.
type PromptConfig struct {
	// Preference applies to posts without a prompt of their own.
	Preference           string
	RecommendedResources []string
}

// SystemPrompt composes the render instruction: the root instruction, then the
// post's custom prompt or, without one, the configured preference, then the
// recommended resources.
func (c PromptConfig) SystemPrompt(customPrompt *string) string {
	var b strings.Builder
	b.WriteString(rootInstruction)

	style := strings.TrimSpace(c.Preference)
	if customPrompt != nil && strings.TrimSpace(*customPrompt) != "" {
		style = strings.TrimSpace(*customPrompt)
	}
	if style != "" {
		b.WriteString("\n\nStyle instructions:\n")
		b.WriteString(style)
	}

	if len(c.RecommendedResources) > 0 {
		b.WriteString("\n\nRecommended resources:\n")
		for _, r := range c.RecommendedResources {
			fmt.Fprintf(&b, "- %s\n", strings.TrimSpace(r))
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func correctiveInstruction(err error) string {
	return fmt.Sprintf("The previous response was rejected: %v\n"+
		"Return the complete corrected HTML document and nothing else.", err)
}

const (
	titleInstruction = `Write a title for the blog post below. Reply with the title only, on one line, ` +
		`at most 200 characters, without quotes or Markdown.`
	slugInstruction = `Write a URL slug for the blog post title below. Reply with the slug only: ` +
		`lowercase ASCII letters and digits joined by single hyphens, at most 120 characters.`
	tagsInstruction = `Suggest between one and five tags for the blog post below. Reply with the tags only, ` +
		`comma separated, each at most 40 characters.`
	excerptInstruction = `Write a plain-text summary of the blog post below in one or two sentences. ` +
		`Reply with the summary only, at most 500 characters, without Markdown.`
)

// metadataInstruction appends rejection feedback from earlier attempts, if any.
func metadataInstruction(base string, rejected []string) string {
	if len(rejected) == 0 {
		return base
	}
	var b strings.Builder
	b.WriteString(base)
	b.WriteString("\n\nThese answers were already rejected; do not repeat them:")
	for _, r := range rejected {
		fmt.Fprintf(&b, "\n- %s", r)
	}
	return b.String()
}
