package control

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/lotlab/grumble-cluster/pkg/database"
)

// BackupRunner periodically snapshots the Hub's sqlite database to
// BackupDir, rotating the previous snapshot into backup.db the way the
// teacher's freezeToFile kept a main.fz/backup.fz pair — adapted here to
// VACUUM INTO (database.DB.BackupTo) instead of a bespoke protobuf freeze
// format, since the target store is already durable on its own.
type BackupRunner struct {
	db       *database.DB
	dir      string
	interval time.Duration
	log      *slog.Logger
}

// NewBackupRunner builds a BackupRunner. A zero interval or empty dir
// means backups are disabled; Run returns immediately in that case.
func NewBackupRunner(db *database.DB, dir string, interval time.Duration, log *slog.Logger) *BackupRunner {
	return &BackupRunner{db: db, dir: dir, interval: interval, log: log}
}

// Run ticks every interval until ctx is canceled, copying main.db to
// backup.db before writing the fresh snapshot, so a crash mid-backup never
// leaves zero readable snapshots on disk.
func (r *BackupRunner) Run(ctx context.Context) {
	if r.dir == "" || r.interval <= 0 {
		return
	}
	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		if r.log != nil {
			r.log.Error("backup: create dir failed", slog.Any("err", err))
		}
		return
	}

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.snapshot(); err != nil && r.log != nil {
				r.log.Error("backup: snapshot failed", slog.Any("err", err))
			}
		}
	}
}

func (r *BackupRunner) snapshot() error {
	main := filepath.Join(r.dir, "main.db")
	backup := filepath.Join(r.dir, "backup.db")

	if _, err := os.Stat(main); err == nil {
		if err := os.Rename(main, backup); err != nil {
			return fmt.Errorf("backup: rotate previous snapshot: %w", err)
		}
	}

	tmp := main + ".tmp"
	_ = os.Remove(tmp)
	if err := r.db.BackupTo(tmp); err != nil {
		return err
	}
	return os.Rename(tmp, main)
}
