package sqlite

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/dfryer1193/mdblog/shared/db"
	_ "modernc.org/sqlite"
)

const (
	defaultPath        = "./mdblog.db"
	defaultBusyTimeout = 5 * time.Second
	memoryPath         = ":memory:"
)

type SQLiteConfig struct {
	Path        string
	BusyTimeout time.Duration
}

// NewSQLiteConfig returns a config for the database at path, falling back to
// ./mdblog.db when path is empty.
func NewSQLiteConfig(path string) *SQLiteConfig {
	if strings.TrimSpace(path) == "" {
		path = defaultPath
	}
	return &SQLiteConfig{
		Path:        path,
		BusyTimeout: defaultBusyTimeout,
	}
}

// SQLiteDB implements db.Database on top of modernc.org/sqlite.
type SQLiteDB struct {
	cfg SQLiteConfig
	db  *sql.DB
}

var _ db.Database = (*SQLiteDB)(nil)

func NewSQLiteDB(cfg *SQLiteConfig) *SQLiteDB {
	c := *cfg
	if c.BusyTimeout <= 0 {
		c.BusyTimeout = defaultBusyTimeout
	}
	return &SQLiteDB{cfg: c}
}

// Path reports the database file the instance opens.
func (s *SQLiteDB) Path() string {
	return s.cfg.Path
}

// Connect opens the database, applies pragmas and runs pending migrations.
func (s *SQLiteDB) Connect() error {
	if s.db != nil {
		return fmt.Errorf("database already connected")
	}

	conn, err := sql.Open("sqlite", s.cfg.Path)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	if s.cfg.Path == memoryPath {
		// Each connection to :memory: would otherwise see its own empty database.
		conn.SetMaxOpenConns(1)
	}

	if err := conn.Ping(); err != nil {
		conn.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	for _, pragma := range s.pragmas() {
		if _, err := conn.Exec(pragma); err != nil {
			conn.Close()
			return fmt.Errorf("failed to set pragma %q: %w", pragma, err)
		}
	}

	if err := runMigrations(conn); err != nil {
		conn.Close()
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	s.db = conn
	return nil
}

func (s *SQLiteDB) pragmas() []string {
	pragmas := []string{
		"PRAGMA foreign_keys=ON",
		fmt.Sprintf("PRAGMA busy_timeout=%d", s.cfg.BusyTimeout.Milliseconds()),
	}
	if s.cfg.Path != memoryPath {
		pragmas = append(pragmas,
			"PRAGMA journal_mode=WAL",
			"PRAGMA synchronous=NORMAL",
		)
	}
	return pragmas
}

func (s *SQLiteDB) Close() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// DB returns the underlying handle, or nil before Connect.
func (s *SQLiteDB) DB() *sql.DB {
	return s.db
}
