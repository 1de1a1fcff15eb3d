package domain

import (
	"slices"
	"time"

	"github.com/google/uuid"
)

// now is the aggregate's clock. Tests in this package may replace it.
var now = func() time.Time {
	return time.Now().UTC()
}

// Post is a content aggregate bound 1:1 to a Markdown file location.
//
// The Post owns its Versions; the main version is referenced by id into that
// collection, so there is no second owner of a Version. All mutation goes through
// the methods below, each of which validates before it touches any field so a
// rejected call leaves the Post unchanged.
type Post struct {
	id               string
	title            string
	slug             string
	location         FileLocation
	author           string
	category         string
	categoryExplicit bool
	excerpt          string
	tags             []string
	versions         []Version
	mainVersionID    string
	isPublished      bool
	isFeatured       bool
	publishedAt      time.Time
	createdAt        time.Time
	lastModified     time.Time
}

// NewPostParams are the inputs for creating a Post. Category is treated as explicit
// when non-empty; otherwise it is derived from the location.
type NewPostParams struct {
	Location FileLocation
	Title    string
	Slug     string
	Author   string
	Category string
	Tags     []string
	Excerpt  string
}

// NewPost creates a Post with no versions.
func NewPost(p NewPostParams) (*Post, error) {
	if err := p.Location.Validate(); err != nil {
		return nil, err
	}
	if err := ValidateTitle(p.Title); err != nil {
		return nil, err
	}
	if err := ValidateSlug(p.Slug); err != nil {
		return nil, err
	}
	if err := ValidateCategory(p.Category); err != nil {
		return nil, err
	}
	if err := ValidateTags(p.Tags); err != nil {
		return nil, err
	}
	if err := ValidateExcerpt(p.Excerpt); err != nil {
		return nil, err
	}

	ts := now()
	post := &Post{
		id:               uuid.NewString(),
		title:            p.Title,
		slug:             p.Slug,
		location:         p.Location,
		author:           p.Author,
		category:         p.Category,
		categoryExplicit: p.Category != "",
		excerpt:          p.Excerpt,
		tags:             slices.Clone(p.Tags),
		createdAt:        ts,
		lastModified:     ts,
	}
	if !post.categoryExplicit {
		post.category = p.Location.DerivedCategory()
	}
	return post, nil
}

func (p *Post) ID() string { return p.id }
func (p *Post) Title() string { return p.title }
func (p *Post) Slug() string { return p.slug }
func (p *Post) Location() FileLocation { return p.location }
func (p *Post) Author() string { return p.author }
func (p *Post) Category() string { return p.category }
func (p *Post) CategoryIsExplicit() bool { return p.categoryExplicit }
func (p *Post) Excerpt() string { return p.excerpt }
func (p *Post) Tags() []string { return slices.Clone(p.tags) }
func (p *Post) IsPublished() bool { return p.isPublished }
func (p *Post) IsFeatured() bool { return p.isFeatured }
func (p *Post) PublishedAt() time.Time { return p.publishedAt }
func (p *Post) CreatedAt() time.Time { return p.createdAt }
func (p *Post) LastModified() time.Time { return p.lastModified }
func (p *Post) MainVersionID() string { return p.mainVersionID }
func (p *Post) HasVersions() bool { return len(p.versions) > 0 }
func (p *Post) Versions() []Version { return slices.Clone(p.versions) }
func (p *Post) VersionCount() int { return len(p.versions) }

// Version looks up a version by id.
func (p *Post) Version(id string) (Version, bool) {
	if i := p.indexOf(id); i >= 0 {
		return p.versions[i], true
	}
	return Version{}, false
}

// MainVersion returns the main version, if one is set.
func (p *Post) MainVersion() (Version, bool) {
	if p.mainVersionID == "" {
		return Version{}, false
	}
	return p.Version(p.mainVersionID)
}

// FirstVersion returns the earliest created version.
func (p *Post) FirstVersion() (Version, bool) {
	if len(p.versions) == 0 {
		return Version{}, false
	}
	first := p.versions[0]
	for _, v := range p.versions[1:] {
		if v.CreatedAt.Before(first.CreatedAt) {
			first = v
		}
	}
	return first, true
}

// MetadataUpdate lists the fields to overwrite. Nil pointers, and a nil Tags
// slice, leave the field untouched; a non-nil empty Tags slice clears the tags.
// Setting Category to "" reverts to the category derived from the location.
type MetadataUpdate struct {
	Title    *string
	Slug     *string
	Category *string
	Tags     []string
	Excerpt  *string
}

func (p *Post) UpdateMetadata(u MetadataUpdate) error {
	if u.Title != nil {
		if err := ValidateTitle(*u.Title); err != nil {
			return err
		}
	}
	if u.Slug != nil {
		if err := ValidateSlug(*u.Slug); err != nil {
			return err
		}
	}
	if u.Category != nil {
		if err := ValidateCategory(*u.Category); err != nil {
			return err
		}
	}
	if u.Tags != nil {
		if err := ValidateTags(u.Tags); err != nil {
			return err
		}
	}
	if u.Excerpt != nil {
		if err := ValidateExcerpt(*u.Excerpt); err != nil {
			return err
		}
	}

	if u.Title != nil {
		p.title = *u.Title
	}
	if u.Slug != nil {
		p.slug = *u.Slug
	}
	if u.Category != nil {
		p.categoryExplicit = *u.Category != ""
		p.category = *u.Category
		if !p.categoryExplicit {
			p.category = p.location.DerivedCategory()
		}
	}
	if u.Tags != nil {
		p.tags = slices.Clone(u.Tags)
	}
	if u.Excerpt != nil {
		p.excerpt = *u.Excerpt
	}
	p.touch()
	return nil
}

// SubmitNewVersion appends a version with a fresh name. The first version a Post
// receives also becomes its main version.
func (p *Post) SubmitNewVersion(prompt *string) Version {
	ts := now()
	v := Version{
		ID:        uuid.NewString(),
		PostID:    p.id,
		Name:      nextVersionName(ts, p.versions),
		Status:    NotValidated,
		CreatedAt: ts,
	}
	if prompt != nil {
		promptCopy := *prompt
		v.GenerationPrompt = &promptCopy
	}
	p.versions = append(p.versions, v)
	if len(p.versions) == 1 {
		p.mainVersionID = v.ID
	}
	p.lastModified = ts
	return v
}

// RemoveVersion drops a version. The last version can never be removed; the
// whole Post has to be deleted instead.
func (p *Post) RemoveVersion(id string) error {
	i := p.indexOf(id)
	if i < 0 {
		return invalidOperation("version %s does not belong to post %s", id, p.id)
	}
	if len(p.versions) <= 1 {
		return invalidOperation("cannot remove the only version of post %s; delete the post instead", p.id)
	}

	p.versions = slices.Delete(p.versions, i, i+1)
	if p.mainVersionID == id {
		p.isPublished = false
		p.mainVersionID = p.latestVersion().ID
	}
	p.touch()
	return nil
}

// Publish marks the Post published. When versionID is non-empty it must be a
// member and becomes the main version; otherwise a main version must already be set.
func (p *Post) Publish(versionID string) error {
	if len(p.versions) == 0 {
		return invalidOperation("post %s has no versions to publish", p.id)
	}
	if versionID != "" {
		if p.indexOf(versionID) < 0 {
			return invalidOperation("version %s does not belong to post %s", versionID, p.id)
		}
		p.mainVersionID = versionID
	} else if p.mainVersionID == "" {
		return invalidOperation("post %s has no main version", p.id)
	}

	ts := now()
	p.isPublished = true
	p.publishedAt = ts
	p.lastModified = ts
	return nil
}

func (p *Post) Unpublish() {
	p.isPublished = false
	p.touch()
}

// SwitchMainVersion reassigns the main version without touching the publish flag.
func (p *Post) SwitchMainVersion(id string) error {
	if p.indexOf(id) < 0 {
		return invalidOperation("version %s does not belong to post %s", id, p.id)
	}
	p.mainVersionID = id
	p.touch()
	return nil
}

func (p *Post) Feature() error {
	if len(p.versions) == 0 {
		return invalidOperation("post %s has no versions to feature", p.id)
	}
	p.isFeatured = true
	p.touch()
	return nil
}

func (p *Post) Unfeature() {
	p.isFeatured = false
	p.touch()
}

// PrepareForDeletion clears the main version reference so the store can remove
// the versions before the post row.
func (p *Post) PrepareForDeletion() {
	p.mainVersionID = ""
	p.isPublished = false
	p.isFeatured = false
}

// RenameFile moves the Post to a new file name and, when newFilePath is given, a
// new directory. A derived category follows the new directory.
func (p *Post) RenameFile(newFileName string, newFilePath *string) error {
	if err := ValidateFileName(newFileName); err != nil {
		return err
	}
	loc := FileLocation{FilePath: p.location.FilePath, FileName: newFileName}
	if newFilePath != nil {
		if err := ValidateFilePath(*newFilePath); err != nil {
			return err
		}
		loc.FilePath = *newFilePath
	}

	p.location = loc
	if !p.categoryExplicit {
		p.category = loc.DerivedCategory()
	}
	p.touch()
	return nil
}

// MarkVersionValid records that the version's HTML passed validation.
func (p *Post) MarkVersionValid(id string) error {
	i := p.indexOf(id)
	if i < 0 {
		return invalidOperation("version %s does not belong to post %s", id, p.id)
	}
	p.versions[i].Status = Valid
	p.versions[i].ValidationError = ""
	p.touch()
	return nil
}

// MarkVersionInvalid records a validation failure for the version.
func (p *Post) MarkVersionInvalid(id string, reason string) error {
	i := p.indexOf(id)
	if i < 0 {
		return invalidOperation("version %s does not belong to post %s", id, p.id)
	}
	if reason == "" {
		return invalidArgument("validationError", "is required when a version is invalid")
	}
	p.versions[i].Status = Invalid
	p.versions[i].ValidationError = reason
	p.touch()
	return nil
}

func (p *Post) indexOf(id string) int {
	if id == "" {
		return -1
	}
	return slices.IndexFunc(p.versions, func(v Version) bool { return v.ID == id })
}

func (p *Post) latestVersion() Version {
	latest := p.versions[0]
	for _, v := range p.versions[1:] {
		if !v.CreatedAt.Before(latest.CreatedAt) {
			latest = v
		}
	}
	return latest
}

func (p *Post) touch() {
	p.lastModified = now()
}
