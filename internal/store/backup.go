package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/thebtf/midas/pkg/apierr"
)

// Backup takes an online, consistency-safe snapshot of the database file
// via SQLite's VACUUM INTO (rather than a raw io.Copy, so a writer
// mid-flight never corrupts the snapshot — grounded on the teacher's
// internal/db/sqlite/store.go backup path, generalized to the pure-Go
// driver). It writes a timestamped file and refreshes a "latest" copy.
// modernc.org/sqlite's target platforms don't give us a cheap
// symlink-equivalent, so "latest" is a second VACUUM INTO rather than a
// symlink — same observable effect as spec §6's "symlink-equivalent"
// wording, documented in SPEC_FULL.md.
func (s *Store) Backup(ctx context.Context) error {
	if s.backupDir == "" {
		return nil
	}
	if err := os.MkdirAll(s.backupDir, 0o755); err != nil {
		return apierr.Wrap(apierr.Internal, err, "create backup dir")
	}

	snapshot := filepath.Join(s.backupDir, fmt.Sprintf("midas-%d.db", time.Now().UTC().UnixNano()))
	if err := s.vacuumInto(ctx, snapshot); err != nil {
		return err
	}

	latest := filepath.Join(s.backupDir, "midas-latest.db")
	os.Remove(latest)
	if err := s.vacuumInto(ctx, latest); err != nil {
		return err
	}
	return nil
}

func (s *Store) vacuumInto(ctx context.Context, dest string) error {
	// VACUUM INTO requires a fresh path; remove any stale partial file
	// from a previously interrupted backup attempt.
	os.Remove(dest)
	if _, err := s.db.ExecContext(ctx, `VACUUM INTO ?`, dest); err != nil {
		return apierr.Wrap(apierr.Internal, err, fmt.Sprintf("vacuum into %s", dest))
	}
	return nil
}

// PruneBackups deletes timestamped snapshots older than keep, retaining
// midas-latest.db unconditionally. Used by the retention scheduler.
func (s *Store) PruneBackups(keep time.Duration) (int, error) {
	if s.backupDir == "" {
		return 0, nil
	}
	entries, err := os.ReadDir(s.backupDir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, apierr.Wrap(apierr.Internal, err, "read backup dir")
	}

	cutoff := time.Now().Add(-keep)
	deleted := 0
	for _, e := range entries {
		if e.IsDir() || e.Name() == "midas-latest.db" {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			if err := os.Remove(filepath.Join(s.backupDir, e.Name())); err == nil {
				deleted++
			}
		}
	}
	return deleted, nil
}
