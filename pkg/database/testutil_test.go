package database_test

import (
	"github.com/lotlab/grumble-cluster/pkg/database"
)

// NewTestDB opens an in-memory sqlite database for use by this package's
// tests, migrated the same way as a real Hub database file.
func NewTestDB() (*database.DB, error) {
	return database.Open("file::memory:?cache=shared")
}

// NewTestServer creates the lone Server row used to scope every other
// table's ServerID foreign key in tests.
func NewTestServer(tx *database.DbTx) (uint64, error) {
	return tx.EnsureServer("test")
}
