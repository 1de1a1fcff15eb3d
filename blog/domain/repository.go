package domain

import (
	"context"
	"time"
)

// Tag is a named label shared across posts.
type Tag struct {
	ID   string
	Name string
}

// PostRepository persists Post aggregates. Versions and tags are loaded and saved
// as part of their Post; every write is its own transaction.
type PostRepository interface {
	Add(ctx context.Context, p *Post) error
	Update(ctx context.Context, p *Post) error
	// Delete removes the Post and its versions. Callers run PrepareForDeletion first.
	Delete(ctx context.Context, p *Post) error

	// FindByPath returns nil, nil when no Post is bound to loc.
	FindByPath(ctx context.Context, loc FileLocation) (*Post, error)
	// FindByID returns ErrNotFound when id is unknown.
	FindByID(ctx context.Context, id string) (*Post, error)
	ListAll(ctx context.Context) ([]*Post, error)

	// TitleExists and SlugExists ignore the Post with id excludeID.
	TitleExists(ctx context.Context, title string, excludeID string) (bool, error)
	SlugExists(ctx context.Context, slug string, excludeID string) (bool, error)

	// ListOrphanTags returns tags no Post references.
	ListOrphanTags(ctx context.Context) ([]Tag, error)
}

// BlobStore holds the Markdown copy and the generated HTML of each Post, addressed
// by logical location. Reads return found=false rather than an error on absence.
type BlobStore interface {
	SaveMarkdown(ctx context.Context, loc FileLocation, content []byte) error
	ReadMarkdown(ctx context.Context, loc FileLocation) (content []byte, found bool, err error)
	SaveHTML(ctx context.Context, loc FileLocation, versionName string, html []byte) (string, error)
	ReadHTML(ctx context.Context, loc FileLocation, versionName string) (html []byte, found bool, err error)
	HTMLExists(ctx context.Context, loc FileLocation, versionName string) (bool, error)
	DeleteHTMLTree(ctx context.Context, loc FileLocation, versionName string) error
	DeleteAll(ctx context.Context, loc FileLocation) error
	// Move relocates both the Markdown copy and the whole HTML subtree.
	Move(ctx context.Context, from, to FileLocation) error
}

// SourceFile is a Markdown file found under the watched root.
type SourceFile struct {
	Location   FileLocation
	ModifiedAt time.Time
	Size       int64
}

// SourceTree is the watched Markdown directory.
type SourceTree interface {
	ReadFile(ctx context.Context, loc FileLocation) (content []byte, found bool, err error)
	List(ctx context.Context) ([]SourceFile, error)
	Extension() string
}
