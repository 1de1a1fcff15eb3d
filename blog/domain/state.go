package domain

import (
	"slices"
	"time"
)

// PostState is the flat form of a Post used by persistence.
type PostState struct {
	ID               string
	Title            string
	Slug             string
	Location         FileLocation
	Author           string
	Category         string
	CategoryExplicit bool
	Excerpt          string
	Tags             []string
	Versions         []Version
	MainVersionID    string
	IsPublished      bool
	IsFeatured       bool
	PublishedAt      time.Time
	CreatedAt        time.Time
	LastModified     time.Time
}

// State returns a copy of the Post's fields.
func (p *Post) State() PostState {
	versions := slices.Clone(p.versions)
	for i := range versions {
		if versions[i].GenerationPrompt != nil {
			prompt := *versions[i].GenerationPrompt
			versions[i].GenerationPrompt = &prompt
		}
	}
	return PostState{
		ID:               p.id,
		Title:            p.title,
		Slug:             p.slug,
		Location:         p.location,
		Author:           p.author,
		Category:         p.category,
		CategoryExplicit: p.categoryExplicit,
		Excerpt:          p.excerpt,
		Tags:             slices.Clone(p.tags),
		Versions:         versions,
		MainVersionID:    p.mainVersionID,
		IsPublished:      p.isPublished,
		IsFeatured:       p.isFeatured,
		PublishedAt:      p.publishedAt,
		CreatedAt:        p.createdAt,
		LastModified:     p.lastModified,
	}
}

// RestorePost rebuilds a Post from stored state, refusing state that breaks
// the aggregate invariants.
func RestorePost(s PostState) (*Post, error) {
	if s.ID == "" {
		return nil, invalidArgument("id", "is required")
	}
	if err := s.Location.Validate(); err != nil {
		return nil, err
	}

	names := make(map[string]struct{}, len(s.Versions))
	for _, v := range s.Versions {
		if v.PostID != s.ID {
			return nil, invalidOperation("version %s belongs to post %s, not %s", v.ID, v.PostID, s.ID)
		}
		if !v.Status.IsKnown() {
			return nil, invalidArgument("validationStatus", "unknown status %q", v.Status)
		}
		if _, dup := names[v.Name]; dup {
			return nil, invalidOperation("post %s has duplicate version name %s", s.ID, v.Name)
		}
		names[v.Name] = struct{}{}
	}

	p := &Post{
		id:               s.ID,
		title:            s.Title,
		slug:             s.Slug,
		location:         s.Location,
		author:           s.Author,
		category:         s.Category,
		categoryExplicit: s.CategoryExplicit,
		excerpt:          s.Excerpt,
		tags:             slices.Clone(s.Tags),
		versions:         slices.Clone(s.Versions),
		mainVersionID:    s.MainVersionID,
		isPublished:      s.IsPublished,
		isFeatured:       s.IsFeatured,
		publishedAt:      s.PublishedAt,
		createdAt:        s.CreatedAt,
		lastModified:     s.LastModified,
	}
	if p.mainVersionID != "" && p.indexOf(p.mainVersionID) < 0 {
		return nil, invalidOperation("main version %s is not a version of post %s", p.mainVersionID, p.id)
	}
	if p.isPublished && p.mainVersionID == "" {
		return nil, invalidOperation("published post %s has no main version", p.id)
	}
	if p.isFeatured && len(p.versions) == 0 {
		return nil, invalidOperation("featured post %s has no versions", p.id)
	}
	return p, nil
}
