package control

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/lotlab/grumble-cluster/pkg/database"
)

func TestBackupRunnerWritesRotatingSnapshots(t *testing.T) {
	dir := t.TempDir()
	db, err := database.Open(filepath.Join(dir, "source.db"))
	if err != nil {
		t.Fatal(err)
	}

	backupDir := filepath.Join(dir, "backups")
	r := NewBackupRunner(db, backupDir, 10*time.Millisecond, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Millisecond)
	defer cancel()
	r.Run(ctx)

	if _, err := os.Stat(filepath.Join(backupDir, "main.db")); err != nil {
		t.Fatalf("expected main.db snapshot to exist: %v", err)
	}
	if _, err := os.Stat(filepath.Join(backupDir, "backup.db")); err != nil {
		t.Fatalf("expected rotated backup.db to exist after a second tick: %v", err)
	}
}

func TestBackupRunnerDisabledWithoutDir(t *testing.T) {
	db, err := database.Open(filepath.Join(t.TempDir(), "source.db"))
	if err != nil {
		t.Fatal(err)
	}
	r := NewBackupRunner(db, "", time.Second, nil)

	done := make(chan struct{})
	go func() {
		r.Run(context.Background())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("expected Run to return immediately when dir is empty")
	}
}
