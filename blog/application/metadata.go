package application

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dfryer1193/mdblog/blog/domain"
	"github.com/dfryer1193/mdblog/blog/generation"
	"github.com/rs/zerolog/log"
)

// MetadataGenerator proposes one value per call. Rejected holds earlier answers
// that failed a check, so the backend can avoid them.
type MetadataGenerator interface {
	Title(ctx context.Context, markdown string, rejected []string) (string, error)
	Slug(ctx context.Context, title string, rejected []string) (string, error)
	Tags(ctx context.Context, markdown string, rejected []string) ([]string, error)
	Excerpt(ctx context.Context, markdown string, rejected []string) (string, error)
}

const slugSuffixLayout = "20060102150405"

// MetadataSynthesizer fills in the metadata a new Post needs. Front matter wins;
// each missing field is generated with up to maxAttempts single-shot calls, each
// checked for format and, for titles, uniqueness.
type MetadataSynthesizer struct {
	gen           MetadataGenerator
	posts         domain.PostRepository
	maxAttempts   int
	defaultAuthor string
	now           func() time.Time
}

func NewMetadataSynthesizer(gen MetadataGenerator, posts domain.PostRepository, maxAttempts int, defaultAuthor string) *MetadataSynthesizer {
	if maxAttempts <= 0 {
		maxAttempts = generation.DefaultMaxAttempts
	}
	return &MetadataSynthesizer{
		gen:           gen,
		posts:         posts,
		maxAttempts:   maxAttempts,
		defaultAuthor: defaultAuthor,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// Synthesize returns the parameters for a new Post at loc.
func (s *MetadataSynthesizer) Synthesize(ctx context.Context, loc domain.FileLocation, doc Document) (domain.NewPostParams, error) {
	params := domain.NewPostParams{
		Location: loc,
		Author:   strings.TrimSpace(doc.Meta.Author),
		Category: strings.TrimSpace(doc.Meta.Category),
	}
	if params.Author == "" {
		params.Author = s.defaultAuthor
	}
	if err := domain.ValidateCategory(params.Category); err != nil {
		log.Warn().Err(err).Str("path", loc.Key()).Msg("Ignoring front matter category")
		params.Category = ""
	}

	var err error
	if params.Title, err = s.title(ctx, loc, doc); err != nil {
		return domain.NewPostParams{}, err
	}
	if params.Slug, err = s.slug(ctx, loc, doc, params.Title); err != nil {
		return domain.NewPostParams{}, err
	}
	if params.Tags, err = s.tags(ctx, loc, doc); err != nil {
		return domain.NewPostParams{}, err
	}
	if params.Excerpt, err = s.excerpt(ctx, loc, doc); err != nil {
		return domain.NewPostParams{}, err
	}
	return params, nil
}

func (s *MetadataSynthesizer) title(ctx context.Context, loc domain.FileLocation, doc Document) (string, error) {
	if supplied := strings.TrimSpace(doc.Meta.Title); supplied != "" {
		if err := domain.ValidateTitle(supplied); err == nil {
			return supplied, nil
		} else {
			log.Warn().Err(err).Str("path", loc.Key()).Msg("Ignoring front matter title")
		}
	}
	var lastTaken string
	title, err := retry(ctx, s.maxAttempts, generation.TaskTitle, func(rejected []string) (string, error) {
		lastTaken = ""
		title, err := s.gen.Title(ctx, doc.Body, rejected)
		if err != nil {
			return "", err
		}
		if err := domain.ValidateTitle(title); err != nil {
			return title, err
		}
		taken, err := s.posts.TitleExists(ctx, title, "")
		if err != nil {
			return "", err
		}
		if taken {
			lastTaken = title
			return title, fmt.Errorf("title %q is already used: %w", title, domain.ErrInvalidArgument)
		}
		return title, nil
	})
	if err == nil || lastTaken == "" || ctx.Err() != nil {
		return title, err
	}

	// The generator kept proposing titles already in use. Number the last one
	// instead of failing the file forever.
	numbered, numErr := disambiguate(lastTaken, " ", domain.MaxTitleLength, func(n int) string {
		return fmt.Sprintf("(%d)", n+1)
	}, func(candidate string) (bool, error) {
		return s.posts.TitleExists(ctx, candidate, "")
	})
	if numErr != nil {
		return "", errors.Join(err, numErr)
	}
	log.Info().Str("path", loc.Key()).Str("title", numbered).Msg("Title collision resolved with a number")
	return numbered, nil
}

// slug resolves collisions by suffixing a timestamp rather than asking again.
func (s *MetadataSynthesizer) slug(ctx context.Context, loc domain.FileLocation, doc Document, title string) (string, error) {
	var slug string
	if supplied := strings.TrimSpace(doc.Meta.Slug); supplied != "" {
		if err := domain.ValidateSlug(supplied); err == nil {
			slug = supplied
		} else {
			log.Warn().Err(err).Str("path", loc.Key()).Msg("Ignoring front matter slug")
		}
	}
	if slug == "" {
		var err error
		slug, err = retry(ctx, s.maxAttempts, generation.TaskSlug, func(rejected []string) (string, error) {
			slug, err := s.gen.Slug(ctx, title, rejected)
			if err != nil {
				return "", err
			}
			return slug, domain.ValidateSlug(slug)
		})
		if err != nil {
			return "", err
		}
	}

	taken, err := s.posts.SlugExists(ctx, slug, "")
	if err != nil {
		return "", err
	}
	if !taken {
		return slug, nil
	}

	stamp := s.now().Format(slugSuffixLayout)
	suffixed, err := disambiguate(slug, "-", domain.MaxSlugLength, func(n int) string {
		if n == 1 {
			return stamp
		}
		return fmt.Sprintf("%s-%d", stamp, n)
	}, func(candidate string) (bool, error) {
		return s.posts.SlugExists(ctx, candidate, "")
	})
	if err != nil {
		return "", err
	}
	log.Info().Str("path", loc.Key()).Str("slug", suffixed).Msg("Slug collision resolved with timestamp suffix")
	return suffixed, nil
}

// maxCollisionSuffix bounds how many numbered candidates disambiguate tries.
const maxCollisionSuffix = 100

// disambiguate returns the first base+sep+suffix(n), n counting from 1, that
// taken reports as free. base is cut so every candidate fits in maxLen.
func disambiguate(base, sep string, maxLen int, suffix func(n int) string, taken func(candidate string) (bool, error)) (string, error) {
	for n := 1; n <= maxCollisionSuffix; n++ {
		tail := sep + suffix(n)
		head := strings.TrimRight(base[:min(len(base), maxLen-len(tail))], sep+" ")
		candidate := strings.ToValidUTF8(head, "") + tail
		used, err := taken(candidate)
		if err != nil {
			return "", err
		}
		if !used {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("no free variant of %q after %d tries: %w", base, maxCollisionSuffix, domain.ErrInvalidArgument)
}

func (s *MetadataSynthesizer) tags(ctx context.Context, loc domain.FileLocation, doc Document) ([]string, error) {
	if len(doc.Meta.Tags) > 0 {
		supplied := []string(doc.Meta.Tags)
		if err := domain.ValidateTags(supplied); err == nil {
			return supplied, nil
		} else {
			log.Warn().Err(err).Str("path", loc.Key()).Msg("Ignoring front matter tags")
		}
	}
	return retry(ctx, s.maxAttempts, generation.TaskTags, func(rejected []string) ([]string, error) {
		tags, err := s.gen.Tags(ctx, doc.Body, rejected)
		if err != nil {
			return nil, err
		}
		if len(tags) > domain.MaxTags {
			tags = tags[:domain.MaxTags]
		}
		return tags, domain.ValidateTags(tags)
	})
}

func (s *MetadataSynthesizer) excerpt(ctx context.Context, loc domain.FileLocation, doc Document) (string, error) {
	if supplied := strings.TrimSpace(doc.Meta.Excerpt); supplied != "" {
		if err := domain.ValidateExcerpt(supplied); err == nil {
			return supplied, nil
		} else {
			log.Warn().Err(err).Str("path", loc.Key()).Msg("Ignoring front matter excerpt")
		}
	}
	return retry(ctx, s.maxAttempts, generation.TaskExcerpt, func(rejected []string) (string, error) {
		excerpt, err := s.gen.Excerpt(ctx, doc.Body, rejected)
		if err != nil {
			return "", err
		}
		return excerpt, domain.ValidateExcerpt(excerpt)
	})
}

// retry calls attempt until it succeeds or maxAttempts calls have been made.
// A value returned alongside an error is a rejected answer and is passed to
// the following attempts.
func retry[T any](ctx context.Context, maxAttempts int, task generation.Task, attempt func(rejected []string) (T, error)) (T, error) {
	var (
		zero     T
		rejected []string
		lastErr  error
	)
	for i := 1; i <= maxAttempts; i++ {
		v, err := attempt(rejected)
		if err == nil {
			return v, nil
		}
		lastErr = err
		if answer := fmt.Sprint(v); answer != "" && answer != "[]" {
			rejected = append(rejected, answer)
		}
		if ctx.Err() != nil {
			return zero, &generation.GenerationError{Task: task, Attempts: i, Err: ctx.Err()}
		}
		log.Debug().Err(err).Str("task", string(task)).Int("attempt", i).Msg("Metadata attempt rejected")
	}
	return zero, &generation.GenerationError{Task: task, Attempts: maxAttempts, Err: lastErr}
}
