// Package store is the sole write path for validated storefronts. It exposes
// upsert/query operations over SQLite; correctness under concurrent workers
// rests on the identity_url uniqueness constraint, not on locks held here.
package store

import "database/sql"

// Store wraps the discovery database.
type Store struct {
	DB *sql.DB
}

// NewStore wraps an open database handle.
func NewStore(db *sql.DB) *Store {
	return &Store{DB: db}
}
