package db

import (
	"database/sql"
)

// Database is a connection whose schema is ready once Connect returns.
type Database interface {
	Connect() error
	Close() error
	DB() *sql.DB
}
