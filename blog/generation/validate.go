package generation

import (
	"errors"
	"fmt"
	"io"
	"net/url"
	"regexp"
	"strings"

	"github.com/rs/zerolog/log"
	"golang.org/x/net/html"
)

// ValidationMode decides which HTML defects block a render.
type ValidationMode string

const (
	// ModeStrict fails on any structural defect or disallowed script origin.
	ModeStrict ValidationMode = "strict"
	// ModeWarning logs defects and accepts the document.
	ModeWarning ValidationMode = "warning"
	// ModePermissive skips script-origin checks and logs structural defects.
	ModePermissive ValidationMode = "permissive"
)

// ParseValidationMode accepts the mode names case-insensitively; "" means warning.
func ParseValidationMode(s string) (ValidationMode, error) {
	switch m := ValidationMode(strings.ToLower(strings.TrimSpace(s))); m {
	case "":
		return ModeWarning, nil
	case ModeStrict, ModeWarning, ModePermissive:
		return m, nil
	default:
		return "", fmt.Errorf("unknown validation mode %q", s)
	}
}

// ErrEmptyOutput is returned for a generation that produced no HTML at all. It
// fails in every mode.
var ErrEmptyOutput = errors.New("generator returned no html")

// ValidationError lists the defects found in one document.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "invalid html: " + strings.Join(e.Problems, "; ")
}

// Validator checks generated HTML against a mode and a list of permitted
// external script hosts.
type Validator struct {
	mode           ValidationMode
	allowedOrigins map[string]struct{}
}

func NewValidator(mode ValidationMode, allowedScriptOrigins []string) *Validator {
	allowed := make(map[string]struct{}, len(allowedScriptOrigins))
	for _, origin := range allowedScriptOrigins {
		if host := originHost(origin); host != "" {
			allowed[host] = struct{}{}
		}
	}
	return &Validator{mode: mode, allowedOrigins: allowed}
}

func (v *Validator) Mode() ValidationMode {
	return v.mode
}

// Validate returns nil when doc is acceptable under the validator's mode.
// Defects that do not block are logged at warn.
func (v *Validator) Validate(doc string) error {
	if strings.TrimSpace(doc) == "" {
		return ErrEmptyOutput
	}

	problems := structuralProblems(doc)
	if v.mode != ModePermissive {
		problems = append(problems, v.scriptOriginProblems(doc)...)
	}
	if len(problems) == 0 {
		return nil
	}

	verr := &ValidationError{Problems: problems}
	if v.mode == ModeStrict {
		return verr
	}
	log.Warn().Str("mode", string(v.mode)).Strs("problems", problems).Msg("Accepting generated html with defects")
	return nil
}

var (
	htmlOpenRe  = regexp.MustCompile(`(?i)<html[\s>]`)
	htmlCloseRe = regexp.MustCompile(`(?i)</html\s*>`)
	bodyOpenRe  = regexp.MustCompile(`(?i)<body[\s>]`)
)

func structuralProblems(doc string) []string {
	var problems []string
	if !htmlOpenRe.MatchString(doc) {
		problems = append(problems, "missing <html> root element")
	}
	if !htmlCloseRe.MatchString(doc) {
		problems = append(problems, "missing closing </html>, the document looks truncated")
	}
	if !bodyOpenRe.MatchString(doc) {
		problems = append(problems, "missing <body> element")
	}
	return problems
}

func (v *Validator) scriptOriginProblems(doc string) []string {
	var problems []string
	z := html.NewTokenizer(strings.NewReader(doc))
	for {
		tt := z.Next()
		if tt == html.ErrorToken {
			if err := z.Err(); err != nil && !errors.Is(err, io.EOF) {
				problems = append(problems, fmt.Sprintf("unparseable html: %v", err))
			}
			return problems
		}
		if tt != html.StartTagToken && tt != html.SelfClosingTagToken {
			continue
		}
		name, hasAttr := z.TagName()
		if string(name) != "script" || !hasAttr {
			continue
		}
		for {
			key, val, more := z.TagAttr()
			if string(key) == "src" {
				if host := scriptHost(string(val)); host != "" {
					if _, ok := v.allowedOrigins[host]; !ok {
						problems = append(problems, fmt.Sprintf("script origin %s is not allowed", host))
					}
				}
			}
			if !more {
				break
			}
		}
	}
}

// scriptHost returns the lower-cased host of an absolute or protocol-relative
// script URL, or "" for references served from the page's own origin.
func scriptHost(src string) string {
	src = strings.TrimSpace(src)
	if strings.HasPrefix(src, "//") {
		src = "https:" + src
	}
	u, err := url.Parse(src)
	if err != nil || u.Host == "" {
		return ""
	}
	return strings.ToLower(u.Hostname())
}

// originHost normalises a configured origin, given either as a bare host or a URL.
func originHost(origin string) string {
	origin = strings.TrimSpace(origin)
	if origin == "" {
		return ""
	}
	if !strings.Contains(origin, "//") {
		origin = "//" + origin
	}
	return scriptHost(origin)
}
