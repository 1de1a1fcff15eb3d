package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dfryer1193/mdblog/blog/domain"
	"github.com/dfryer1193/mdblog/shared/db"
	"github.com/google/uuid"
)

var _ domain.PostRepository = (*SQLitePostRepository)(nil)

// SQLitePostRepository stores Post aggregates across the posts, post_versions,
// tags and post_tags tables. Each write runs in one transaction, or joins the
// transaction already carried by the context.
type SQLitePostRepository struct {
	db *sql.DB
}

func NewPostRepository(conn *sql.DB) *SQLitePostRepository {
	return &SQLitePostRepository{db: conn}
}

const insertPostQuery = `
	INSERT INTO posts (
		id, title, slug, file_path, file_name, author, category, category_explicit,
		excerpt, main_version_id, is_published, is_featured, published_at, created_at, last_modified
	)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`

const updatePostQuery = `
	UPDATE posts SET
		title = ?, slug = ?, file_path = ?, file_name = ?, author = ?, category = ?,
		category_explicit = ?, excerpt = ?, main_version_id = ?, is_published = ?,
		is_featured = ?, published_at = ?, last_modified = ?
	WHERE id = ?
`

const upsertVersionQuery = `
	INSERT INTO post_versions (id, post_id, name, generation_prompt, validation_status, validation_error, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		generation_prompt = excluded.generation_prompt,
		validation_status = excluded.validation_status,
		validation_error = excluded.validation_error
`

func (r *SQLitePostRepository) Add(ctx context.Context, p *domain.Post) error {
	if p == nil {
		return fmt.Errorf("post cannot be nil")
	}
	s := p.State()

	return db.RunInTransaction(ctx, r.db, func(txCtx context.Context) error {
		executor := db.GetExecutor(txCtx, r.db)
		_, err := executor.ExecContext(txCtx, insertPostQuery,
			s.ID, s.Title, s.Slug, s.Location.FilePath, s.Location.FileName, s.Author,
			s.Category, s.CategoryExplicit, s.Excerpt, nullString(s.MainVersionID),
			s.IsPublished, s.IsFeatured, nullTime(s.PublishedAt), s.CreatedAt, s.LastModified,
		)
		if err != nil {
			return fmt.Errorf("failed to insert post %s: %w", s.ID, err)
		}
		if err := r.saveVersions(txCtx, executor, s); err != nil {
			return err
		}
		return r.saveTags(txCtx, executor, s)
	})
}

func (r *SQLitePostRepository) Update(ctx context.Context, p *domain.Post) error {
	if p == nil {
		return fmt.Errorf("post cannot be nil")
	}
	s := p.State()

	return db.RunInTransaction(ctx, r.db, func(txCtx context.Context) error {
		executor := db.GetExecutor(txCtx, r.db)
		res, err := executor.ExecContext(txCtx, updatePostQuery,
			s.Title, s.Slug, s.Location.FilePath, s.Location.FileName, s.Author, s.Category,
			s.CategoryExplicit, s.Excerpt, nullString(s.MainVersionID), s.IsPublished,
			s.IsFeatured, nullTime(s.PublishedAt), s.LastModified, s.ID,
		)
		if err != nil {
			return fmt.Errorf("failed to update post %s: %w", s.ID, err)
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return fmt.Errorf("post %s: %w", s.ID, domain.ErrNotFound)
		}

		if err := r.deleteRemovedVersions(txCtx, executor, s); err != nil {
			return err
		}
		if err := r.saveVersions(txCtx, executor, s); err != nil {
			return err
		}
		if _, err := executor.ExecContext(txCtx, `DELETE FROM post_tags WHERE post_id = ?`, s.ID); err != nil {
			return fmt.Errorf("failed to clear tags of post %s: %w", s.ID, err)
		}
		return r.saveTags(txCtx, executor, s)
	})
}

// Delete clears the main version reference, then removes tags, versions and the
// post row, in that order.
func (r *SQLitePostRepository) Delete(ctx context.Context, p *domain.Post) error {
	if p == nil {
		return fmt.Errorf("post cannot be nil")
	}
	id := p.ID()

	return db.RunInTransaction(ctx, r.db, func(txCtx context.Context) error {
		executor := db.GetExecutor(txCtx, r.db)
		steps := []struct {
			query string
			what  string
		}{
			{`UPDATE posts SET main_version_id = NULL, is_published = 0, is_featured = 0 WHERE id = ?`, "clear main version"},
			{`DELETE FROM post_tags WHERE post_id = ?`, "delete tags"},
			{`DELETE FROM post_versions WHERE post_id = ?`, "delete versions"},
			{`DELETE FROM posts WHERE id = ?`, "delete post"},
		}
		for _, step := range steps {
			if _, err := executor.ExecContext(txCtx, step.query, id); err != nil {
				return fmt.Errorf("failed to %s of post %s: %w", step.what, id, err)
			}
		}
		return nil
	})
}

const selectPostColumns = `
	SELECT id, title, slug, file_path, file_name, author, category, category_explicit,
		excerpt, main_version_id, is_published, is_featured, published_at, created_at, last_modified
	FROM posts
`

func (r *SQLitePostRepository) FindByPath(ctx context.Context, loc domain.FileLocation) (*domain.Post, error) {
	executor := db.GetExecutor(ctx, r.db)
	row := executor.QueryRowContext(ctx, selectPostColumns+` WHERE file_path = ? AND file_name = ?`, loc.FilePath, loc.FileName)

	post, err := r.loadOne(ctx, executor, row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find post at %s: %w", loc, err)
	}
	return post, nil
}

func (r *SQLitePostRepository) FindByID(ctx context.Context, id string) (*domain.Post, error) {
	if id == "" {
		return nil, fmt.Errorf("post ID cannot be empty")
	}
	executor := db.GetExecutor(ctx, r.db)
	row := executor.QueryRowContext(ctx, selectPostColumns+` WHERE id = ?`, id)

	post, err := r.loadOne(ctx, executor, row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("post %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get post %s: %w", id, err)
	}
	return post, nil
}

func (r *SQLitePostRepository) ListAll(ctx context.Context) ([]*domain.Post, error) {
	executor := db.GetExecutor(ctx, r.db)

	rows, err := executor.QueryContext(ctx, selectPostColumns+` ORDER BY file_path, file_name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list posts: %w", err)
	}
	defer rows.Close()

	var states []*domain.PostState
	byID := make(map[string]*domain.PostState)
	for rows.Next() {
		var row postRow
		if err := row.scan(rows); err != nil {
			return nil, fmt.Errorf("failed to scan post row: %w", err)
		}
		s := row.toState()
		states = append(states, &s)
		byID[s.ID] = &s
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating post rows: %w", err)
	}
	rows.Close()

	versions, err := queryVersions(ctx, executor, `ORDER BY post_id, created_at, name`)
	if err != nil {
		return nil, err
	}
	for _, v := range versions {
		if s, ok := byID[v.PostID]; ok {
			s.Versions = append(s.Versions, v)
		}
	}

	tags, err := queryTags(ctx, executor, ``)
	if err != nil {
		return nil, err
	}
	for _, t := range tags {
		if s, ok := byID[t.postID]; ok {
			s.Tags = append(s.Tags, t.name)
		}
	}

	posts := make([]*domain.Post, 0, len(states))
	for _, s := range states {
		p, err := domain.RestorePost(*s)
		if err != nil {
			return nil, fmt.Errorf("stored post %s is inconsistent: %w", s.ID, err)
		}
		posts = append(posts, p)
	}
	return posts, nil
}

func (r *SQLitePostRepository) TitleExists(ctx context.Context, title string, excludeID string) (bool, error) {
	return r.exists(ctx, `SELECT EXISTS(SELECT 1 FROM posts WHERE title = ? COLLATE NOCASE AND id <> ?)`, title, excludeID)
}

func (r *SQLitePostRepository) SlugExists(ctx context.Context, slug string, excludeID string) (bool, error) {
	return r.exists(ctx, `SELECT EXISTS(SELECT 1 FROM posts WHERE slug = ? AND id <> ?)`, slug, excludeID)
}

func (r *SQLitePostRepository) exists(ctx context.Context, query string, value string, excludeID string) (bool, error) {
	var found bool
	err := db.GetExecutor(ctx, r.db).QueryRowContext(ctx, query, value, excludeID).Scan(&found)
	if err != nil {
		return false, fmt.Errorf("failed to check for %q: %w", value, err)
	}
	return found, nil
}

const listOrphanTagsQuery = `
	SELECT id, name FROM tags
	WHERE NOT EXISTS (SELECT 1 FROM post_tags WHERE post_tags.tag_id = tags.id)
	ORDER BY name
`

func (r *SQLitePostRepository) ListOrphanTags(ctx context.Context) ([]domain.Tag, error) {
	rows, err := db.GetExecutor(ctx, r.db).QueryContext(ctx, listOrphanTagsQuery)
	if err != nil {
		return nil, fmt.Errorf("failed to list orphan tags: %w", err)
	}
	defer rows.Close()

	tags := make([]domain.Tag, 0)
	for rows.Next() {
		var t domain.Tag
		if err := rows.Scan(&t.ID, &t.Name); err != nil {
			return nil, fmt.Errorf("failed to scan tag row: %w", err)
		}
		tags = append(tags, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tag rows: %w", err)
	}
	return tags, nil
}

func (r *SQLitePostRepository) loadOne(ctx context.Context, executor db.Executor, scanner *sql.Row) (*domain.Post, error) {
	var row postRow
	if err := row.scan(scanner); err != nil {
		return nil, err
	}
	s := row.toState()

	versions, err := queryVersions(ctx, executor, `WHERE post_id = ? ORDER BY created_at, name`, s.ID)
	if err != nil {
		return nil, err
	}
	s.Versions = versions

	tags, err := queryTags(ctx, executor, `WHERE pt.post_id = ?`, s.ID)
	if err != nil {
		return nil, err
	}
	for _, t := range tags {
		s.Tags = append(s.Tags, t.name)
	}

	return domain.RestorePost(s)
}

func (r *SQLitePostRepository) saveVersions(ctx context.Context, executor db.Executor, s domain.PostState) error {
	for _, v := range s.Versions {
		var prompt any
		if v.GenerationPrompt != nil {
			prompt = *v.GenerationPrompt
		}
		_, err := executor.ExecContext(ctx, upsertVersionQuery,
			v.ID, s.ID, v.Name, prompt, string(v.Status), v.ValidationError, v.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to save version %s of post %s: %w", v.Name, s.ID, err)
		}
	}
	return nil
}

func (r *SQLitePostRepository) deleteRemovedVersions(ctx context.Context, executor db.Executor, s domain.PostState) error {
	query := `DELETE FROM post_versions WHERE post_id = ?`
	args := []any{s.ID}
	if len(s.Versions) > 0 {
		query += ` AND id NOT IN (` + placeholders(len(s.Versions)) + `)`
		for _, v := range s.Versions {
			args = append(args, v.ID)
		}
	}
	if _, err := executor.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to prune versions of post %s: %w", s.ID, err)
	}
	return nil
}

func (r *SQLitePostRepository) saveTags(ctx context.Context, executor db.Executor, s domain.PostState) error {
	for i, name := range s.Tags {
		_, err := executor.ExecContext(ctx,
			`INSERT INTO tags (id, name) VALUES (?, ?) ON CONFLICT(name) DO NOTHING`,
			uuid.NewString(), name,
		)
		if err != nil {
			return fmt.Errorf("failed to save tag %q: %w", name, err)
		}

		var tagID string
		if err := executor.QueryRowContext(ctx, `SELECT id FROM tags WHERE name = ?`, name).Scan(&tagID); err != nil {
			return fmt.Errorf("failed to resolve tag %q: %w", name, err)
		}

		_, err = executor.ExecContext(ctx,
			`INSERT INTO post_tags (post_id, tag_id, position) VALUES (?, ?, ?)`,
			s.ID, tagID, i,
		)
		if err != nil {
			return fmt.Errorf("failed to link tag %q to post %s: %w", name, s.ID, err)
		}
	}
	return nil
}

func queryVersions(ctx context.Context, executor db.Executor, clause string, args ...any) ([]domain.Version, error) {
	rows, err := executor.QueryContext(ctx, `
		SELECT id, post_id, name, generation_prompt, validation_status, validation_error, created_at
		FROM post_versions `+clause, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query versions: %w", err)
	}
	defer rows.Close()

	var versions []domain.Version
	for rows.Next() {
		var (
			v      domain.Version
			prompt sql.NullString
			status string
		)
		if err := rows.Scan(&v.ID, &v.PostID, &v.Name, &prompt, &status, &v.ValidationError, &v.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan version row: %w", err)
		}
		if prompt.Valid {
			p := prompt.String
			v.GenerationPrompt = &p
		}
		v.Status = domain.ValidationStatus(status)
		v.CreatedAt = v.CreatedAt.UTC()
		versions = append(versions, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating version rows: %w", err)
	}
	return versions, nil
}

type postTag struct {
	postID string
	name   string
}

func queryTags(ctx context.Context, executor db.Executor, clause string, args ...any) ([]postTag, error) {
	rows, err := executor.QueryContext(ctx, `
		SELECT pt.post_id, t.name
		FROM post_tags pt JOIN tags t ON t.id = pt.tag_id `+clause+`
		ORDER BY pt.post_id, pt.position`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query tags: %w", err)
	}
	defer rows.Close()

	var tags []postTag
	for rows.Next() {
		var t postTag
		if err := rows.Scan(&t.postID, &t.name); err != nil {
			return nil, fmt.Errorf("failed to scan tag row: %w", err)
		}
		tags = append(tags, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tag rows: %w", err)
	}
	return tags, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

// postRow mirrors one posts row; nullable columns use sql.Null* types.
type postRow struct {
	ID               string
	Title            string
	Slug             string
	FilePath         string
	FileName         string
	Author           string
	Category         string
	CategoryExplicit bool
	Excerpt          string
	MainVersionID    sql.NullString
	IsPublished      bool
	IsFeatured       bool
	PublishedAt      sql.NullTime
	CreatedAt        time.Time
	LastModified     time.Time
}

func (pr *postRow) scan(s rowScanner) error {
	return s.Scan(
		&pr.ID, &pr.Title, &pr.Slug, &pr.FilePath, &pr.FileName, &pr.Author, &pr.Category,
		&pr.CategoryExplicit, &pr.Excerpt, &pr.MainVersionID, &pr.IsPublished, &pr.IsFeatured,
		&pr.PublishedAt, &pr.CreatedAt, &pr.LastModified,
	)
}

func (pr *postRow) toState() domain.PostState {
	s := domain.PostState{
		ID:               pr.ID,
		Title:            pr.Title,
		Slug:             pr.Slug,
		Location:         domain.FileLocation{FilePath: pr.FilePath, FileName: pr.FileName},
		Author:           pr.Author,
		Category:         pr.Category,
		CategoryExplicit: pr.CategoryExplicit,
		Excerpt:          pr.Excerpt,
		MainVersionID:    pr.MainVersionID.String,
		IsPublished:      pr.IsPublished,
		IsFeatured:       pr.IsFeatured,
		CreatedAt:        pr.CreatedAt.UTC(),
		LastModified:     pr.LastModified.UTC(),
	}
	if pr.PublishedAt.Valid {
		s.PublishedAt = pr.PublishedAt.Time.UTC()
	}
	return s
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
