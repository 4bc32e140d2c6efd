// Package database is the Hub's durable store: gorm over sqlite, holding
// every piece of cluster state that must survive a Hub restart (§3, §6
// "Durable state (Hub)"). Edges hold no database of their own; they mirror
// this state in memory over the Edge<->Hub RPC channel (pkg/clusterproto).
package database

import (
	"fmt"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// DB wraps the gorm handle for the Hub's single sqlite file.
type DB struct {
	gdb *gorm.DB
}

// Open opens (creating if absent) the sqlite database at path and runs
// AutoMigrate for every model owned by this package.
func Open(path string) (*DB, error) {
	gdb, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("database: open %s: %w", path, err)
	}
	if err := gdb.AutoMigrate(
		&Server{},
		&Channel{},
		&ChannelGroup{},
		&ChannelLink{},
		&GroupMember{},
		&ACLEntry{},
		&Ban{},
		&User{},
		&BlobRef{},
	); err != nil {
		return nil, fmt.Errorf("database: automigrate: %w", err)
	}
	return &DB{gdb: gdb}, nil
}

// Tx starts a new transaction, returned as a DbTx. Callers must call either
// Commit or Rollback.
func (d *DB) Tx() *DbTx {
	return &DbTx{db: d.gdb.Begin()}
}

// BackupTo writes a consistent snapshot of the database to path using
// sqlite's own VACUUM INTO, which is safe to run against a live database
// without blocking writers for the duration of a plain file copy.
func (d *DB) BackupTo(path string) error {
	if err := d.gdb.Exec("VACUUM INTO ?", path).Error; err != nil {
		return fmt.Errorf("database: backup to %s: %w", path, err)
	}
	return nil
}

// DbTx is a single unit-of-work handle, matching the teacher's pattern of
// threading one *gorm.DB transaction through every mutator method instead
// of a bare *sql.DB (see the original pkg/database/ban.go receiver shape).
type DbTx struct {
	db *gorm.DB
}

func (tx *DbTx) Commit() error {
	return tx.db.Commit().Error
}

func (tx *DbTx) Rollback() error {
	return tx.db.Rollback().Error
}
