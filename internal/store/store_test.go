package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/thebtf/midas/pkg/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := NewStore(context.Background(), Config{
		DBPath:    filepath.Join(dir, "midas.db"),
		BackupDir: filepath.Join(dir, "backups"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestDedupeAddContains(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	ok, err := s.Contains(ctx, models.SourceBilibili, "BV123")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, s.Add(ctx, models.SourceBilibili, "BV123"))

	ok, err = s.Contains(ctx, models.SourceBilibili, "BV123")
	require.NoError(t, err)
	require.True(t, ok)
}

func TestSaveListGetDelete(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	artifact := models.SummaryArtifact{
		Source:          models.SourceBilibili,
		SourceID:        "BV123",
		SourceURL:       "https://www.bilibili.com/video/BV123",
		Title:           "Example",
		SummaryMarkdown: "# Example\nSummary",
		CapturedMetadata: map[string]any{
			"elapsed_ms":      float64(1200),
			"transcript_chars": float64(500),
		},
	}

	saved, err := s.Save(ctx, artifact)
	require.NoError(t, err)
	require.NotEmpty(t, saved.NoteID)

	items, total, err := s.List(ctx, models.SourceBilibili, NoteFilter{})
	require.NoError(t, err)
	require.Equal(t, 1, total)
	require.Len(t, items, 1)

	got, err := s.Get(ctx, models.SourceBilibili, saved.NoteID)
	require.NoError(t, err)
	require.Equal(t, artifact.Title, got.Title)

	deleted, err := s.Delete(ctx, models.SourceBilibili, saved.NoteID)
	require.NoError(t, err)
	require.True(t, deleted)

	missing, err := s.Get(ctx, models.SourceBilibili, saved.NoteID)
	require.NoError(t, err)
	require.Nil(t, missing)
}

func TestPruneUnsavedOnlyRemovesDanglingEntries(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Add(ctx, models.SourceBilibili, "BV_saved"))
	require.NoError(t, s.Add(ctx, models.SourceBilibili, "BV_dangling"))

	_, err := s.Save(ctx, models.SummaryArtifact{
		Source:    models.SourceBilibili,
		SourceID:  "BV_saved",
		SourceURL: "https://www.bilibili.com/video/BV_saved",
		Title:     "Saved",
	})
	require.NoError(t, err)

	candidates, deleted, err := s.PruneUnsaved(ctx, models.SourceBilibili)
	require.NoError(t, err)
	require.Equal(t, 1, candidates)
	require.Equal(t, 1, deleted)

	ok, err := s.Contains(ctx, models.SourceBilibili, "BV_saved")
	require.NoError(t, err)
	require.True(t, ok, "deleting a saved note's dedupe entry is not PruneUnsaved's job")
}

func TestBackupWritesLatestSnapshot(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Backup(ctx))
	require.FileExists(t, filepath.Join(s.backupDir, "midas-latest.db"))
}
