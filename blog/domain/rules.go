package domain

import (
	"regexp"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

const (
	MaxTitleLength    = 200
	MaxSlugLength     = 120
	MaxCategoryLength = 64
	MaxTagLength      = 40
	MaxTags           = 10
	MaxExcerptLength  = 500
	MaxFileNameLength = 200
)

var (
	slugRegex     = regexp.MustCompile(`^[a-z0-9]+(-[a-z0-9]+)*$`)
	fileNameRegex = regexp.MustCompile(`^[^/\\:*?"<>|\x00-\x1f]+$`)
	singleLine    = validation.Match(regexp.MustCompile(`^[^\r\n]*$`)).Error("must be a single line")
)

// ValidateTitle checks the title format. Uniqueness is checked by the store.
func ValidateTitle(title string) error {
	return check("title", title,
		validation.Required.Error("is required"),
		validation.RuneLength(1, MaxTitleLength).Error("must be at most 200 characters"),
		singleLine,
	)
}

func ValidateSlug(slug string) error {
	return check("slug", slug,
		validation.Required.Error("is required"),
		validation.RuneLength(1, MaxSlugLength).Error("must be at most 120 characters"),
		validation.Match(slugRegex).Error("must be lowercase words joined by hyphens"),
	)
}

func ValidateCategory(category string) error {
	return check("category", category,
		validation.RuneLength(0, MaxCategoryLength).Error("must be at most 64 characters"),
		validation.By(func(v any) error {
			if strings.ContainsAny(v.(string), "/\\") {
				return validation.NewError("category_separator", "must not contain path separators")
			}
			return nil
		}),
		singleLine,
	)
}

func ValidateExcerpt(excerpt string) error {
	return check("excerpt", excerpt,
		validation.RuneLength(0, MaxExcerptLength).Error("must be at most 500 characters"),
	)
}

// ValidateTags checks each tag name and rejects case-insensitive duplicates.
func ValidateTags(tags []string) error {
	if len(tags) > MaxTags {
		return invalidArgument("tags", "at most %d tags are allowed", MaxTags)
	}
	seen := make(map[string]struct{}, len(tags))
	for _, tag := range tags {
		if err := check("tags", tag,
			validation.Required.Error("must not contain empty names"),
			validation.RuneLength(1, MaxTagLength).Error("names must be at most 40 characters"),
			singleLine,
		); err != nil {
			return err
		}
		key := strings.ToLower(tag)
		if _, dup := seen[key]; dup {
			return invalidArgument("tags", "duplicate tag %q", tag)
		}
		seen[key] = struct{}{}
	}
	return nil
}

// ValidateFileName checks that name is safe to use as a single path segment.
func ValidateFileName(name string) error {
	if name == "." || name == ".." || strings.HasPrefix(name, ".") {
		return invalidArgument("fileName", "must not start with a dot")
	}
	return check("fileName", name,
		validation.Required.Error("is required"),
		validation.RuneLength(1, MaxFileNameLength).Error("must be at most 200 characters"),
		validation.Match(fileNameRegex).Error("contains characters that are not allowed in file names"),
	)
}

// ValidateFilePath checks a slash-separated directory relative to the Markdown root.
// The empty string denotes the root itself.
func ValidateFilePath(filePath string) error {
	if filePath == "" {
		return nil
	}
	if strings.HasPrefix(filePath, "/") || strings.HasSuffix(filePath, "/") {
		return invalidArgument("filePath", "must be relative without leading or trailing slashes")
	}
	for _, segment := range strings.Split(filePath, "/") {
		if err := ValidateFileName(segment); err != nil {
			return invalidArgument("filePath", "segment %q is not allowed", segment)
		}
	}
	return nil
}

func check(field, value string, rules ...validation.Rule) error {
	if err := validation.Validate(value, rules...); err != nil {
		return invalidArgument(field, "%s", err.Error())
	}
	return nil
}
