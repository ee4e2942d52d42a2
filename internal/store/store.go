// Package store provides the SQLite persistence layer for contentvis: one
// post per page slug, the URL metrics sampled for it, and durable post meta.
package store

import (
	"database/sql"

	"github.com/hazyhaar/contentvis/dbopen"
)

// Store is the contentvis database handle.
type Store struct {
	DB *sql.DB
}

// Open opens (or creates) the contentvis SQLite database at path and applies
// the schema.
func Open(path string, opts ...dbopen.Option) (*Store, error) {
	allOpts := append([]dbopen.Option{
		dbopen.WithMkdirAll(),
		dbopen.WithSchema(Schema),
	}, opts...)

	db, err := dbopen.Open(path, allOpts...)
	if err != nil {
		return nil, err
	}
	return &Store{DB: db}, nil
}

// New wraps an already opened database. The schema must have been applied.
func New(db *sql.DB) *Store { return &Store{DB: db} }

// Close closes the database.
func (s *Store) Close() error {
	return s.DB.Close()
}
