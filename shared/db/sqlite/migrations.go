package sqlite

import (
	"database/sql"
	"fmt"
)

type migration struct {
	version int
	name    string
	up      string
}

// migrations run in order; a version is applied at most once.
var migrations = []migration{
	{
		version: 1,
		name:    "create_posts_table",
		up: `
			CREATE TABLE IF NOT EXISTS posts (
				id TEXT PRIMARY KEY,
				title TEXT NOT NULL,
				slug TEXT NOT NULL,
				file_path TEXT NOT NULL,
				file_name TEXT NOT NULL,
				author TEXT NOT NULL DEFAULT '',
				category TEXT NOT NULL DEFAULT '',
				category_explicit INTEGER NOT NULL DEFAULT 0,
				excerpt TEXT NOT NULL DEFAULT '',
				main_version_id TEXT,
				is_published INTEGER NOT NULL DEFAULT 0,
				is_featured INTEGER NOT NULL DEFAULT 0,
				published_at TIMESTAMP,
				created_at TIMESTAMP NOT NULL,
				last_modified TIMESTAMP NOT NULL,
				UNIQUE (file_path, file_name)
			);

			CREATE INDEX IF NOT EXISTS idx_posts_title ON posts(title);
			CREATE INDEX IF NOT EXISTS idx_posts_slug ON posts(slug);
		`,
	},
	{
		version: 2,
		name:    "create_post_versions_table",
		up: `
			CREATE TABLE IF NOT EXISTS post_versions (
				id TEXT PRIMARY KEY,
				post_id TEXT NOT NULL REFERENCES posts(id),
				name TEXT NOT NULL,
				generation_prompt TEXT,
				validation_status TEXT NOT NULL,
				validation_error TEXT NOT NULL DEFAULT '',
				created_at TIMESTAMP NOT NULL,
				UNIQUE (post_id, name)
			);

			CREATE INDEX IF NOT EXISTS idx_post_versions_post_id
			ON post_versions(post_id, created_at);
		`,
	},
	{
		version: 3,
		name:    "create_tags_tables",
		up: `
			CREATE TABLE IF NOT EXISTS tags (
				id TEXT PRIMARY KEY,
				name TEXT NOT NULL UNIQUE COLLATE NOCASE
			);

			CREATE TABLE IF NOT EXISTS post_tags (
				post_id TEXT NOT NULL REFERENCES posts(id) ON DELETE CASCADE,
				tag_id TEXT NOT NULL REFERENCES tags(id),
				position INTEGER NOT NULL,
				PRIMARY KEY (post_id, tag_id)
			);

			CREATE INDEX IF NOT EXISTS idx_post_tags_tag_id ON post_tags(tag_id);
		`,
	},
}

func runMigrations(conn *sql.DB) error {
	_, err := conn.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create schema_migrations table: %w", err)
	}

	currentVersion := 0
	err = conn.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&currentVersion)
	if err != nil {
		return fmt.Errorf("failed to get current schema version: %w", err)
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}
		if err := applyMigration(conn, m); err != nil {
			return err
		}
	}
	return nil
}

func applyMigration(conn *sql.DB, m migration) error {
	tx, err := conn.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction for migration %d: %w", m.version, err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(m.up); err != nil {
		return fmt.Errorf("failed to execute migration %d (%s): %w", m.version, m.name, err)
	}
	if _, err := tx.Exec("INSERT INTO schema_migrations (version, name) VALUES (?, ?)", m.version, m.name); err != nil {
		return fmt.Errorf("failed to record migration %d: %w", m.version, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit migration %d: %w", m.version, err)
	}
	return nil
}
