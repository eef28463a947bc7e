package merge

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/thebtf/midas/internal/store"
	"github.com/thebtf/midas/pkg/models"
)

func newTestEngine(t *testing.T) (*Engine, *store.Store) {
	t.Helper()
	dir := t.TempDir()
	s, err := store.NewStore(context.Background(), store.Config{
		DBPath:    filepath.Join(dir, "midas.db"),
		BackupDir: filepath.Join(dir, "backups"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return NewEngine(s, nil, 0.1), s
}

func saveNote(t *testing.T, s *store.Store, title, summary string) *models.SavedNote {
	t.Helper()
	note, err := s.Save(context.Background(), models.SummaryArtifact{
		Source:          models.SourceBilibili,
		SourceID:        "BV" + title,
		Title:           title,
		SummaryMarkdown: summary,
	})
	require.NoError(t, err)
	return note
}

func TestGroupCandidatesFindsSimilarPair(t *testing.T) {
	notes := []models.SavedNote{
		{SummaryArtifact: models.SummaryArtifact{NoteID: "a", Title: "Go concurrency patterns", SummaryMarkdown: "channels goroutines select context"}, SavedAt: time.Now()},
		{SummaryArtifact: models.SummaryArtifact{NoteID: "b", Title: "Go concurrency basics", SummaryMarkdown: "channels goroutines select context worker"}, SavedAt: time.Now()},
		{SummaryArtifact: models.SummaryArtifact{NoteID: "c", Title: "Sourdough bread recipe", SummaryMarkdown: "flour water yeast salt oven"}, SavedAt: time.Now().Add(-60 * 24 * time.Hour)},
	}
	candidates := GroupCandidates(notes, 0.35)
	require.Len(t, candidates, 1)
	require.ElementsMatch(t, []string{"a", "b"}, candidates[0].NoteIDs)
}

func TestPreviewFallsBackDeterministicallyWithoutSummarizer(t *testing.T) {
	notes := []models.SavedNote{
		{SummaryArtifact: models.SummaryArtifact{NoteID: "a", Title: "Short", SummaryMarkdown: "alpha beta. gamma delta."}, SavedAt: time.Now().Add(-time.Hour)},
		{SummaryArtifact: models.SummaryArtifact{NoteID: "b", Title: "Much longer title here", SummaryMarkdown: "alpha beta. epsilon zeta."}, SavedAt: time.Now()},
	}
	preview := Preview(context.Background(), nil, notes)
	require.Equal(t, "Much longer title here", preview.MergedTitle)
	require.NotEmpty(t, preview.FallbackReason)
	require.Len(t, preview.ConflictMarkers, 2)
	require.Contains(t, preview.MergedSummary, "alpha beta")
}

func TestCommitRollbackRestoresNoteSet(t *testing.T) {
	engine, s := newTestEngine(t)
	ctx := context.Background()

	n1 := saveNote(t, s, "One", "first summary")
	n2 := saveNote(t, s, "Two", "second summary")

	mergeID, mergedNoteID, err := engine.Commit(ctx, models.SourceBilibili, []string{n1.NoteID, n2.NoteID}, "Merged", "combined summary", nil)
	require.NoError(t, err)
	require.NotEmpty(t, mergeID)
	require.NotEmpty(t, mergedNoteID)

	notes, total, err := s.List(ctx, models.SourceBilibili, store.NoteFilter{})
	require.NoError(t, err)
	require.Equal(t, 3, total)
	require.Len(t, notes, 3)

	require.NoError(t, engine.Rollback(ctx, mergeID))

	notes, total, err = s.List(ctx, models.SourceBilibili, store.NoteFilter{})
	require.NoError(t, err)
	require.Equal(t, 2, total)
	require.Len(t, notes, 2)

	// rolling back the same merge_id twice is rejected.
	err = engine.Rollback(ctx, mergeID)
	require.Error(t, err)
}

func TestFinalizeDeletesSourceNotesAndForbidsRollback(t *testing.T) {
	engine, s := newTestEngine(t)
	ctx := context.Background()

	n1 := saveNote(t, s, "One", "first summary")
	n2 := saveNote(t, s, "Two", "second summary")

	mergeID, _, err := engine.Commit(ctx, models.SourceBilibili, []string{n1.NoteID, n2.NoteID}, "Merged", "combined summary", nil)
	require.NoError(t, err)

	deleted, err := engine.Finalize(ctx, mergeID)
	require.NoError(t, err)
	require.Equal(t, 2, deleted)

	err = engine.Rollback(ctx, mergeID)
	require.Error(t, err)
}

func TestCommitRejectsMergeOfAMerge(t *testing.T) {
	engine, s := newTestEngine(t)
	ctx := context.Background()

	n1 := saveNote(t, s, "One", "first summary")
	n2 := saveNote(t, s, "Two", "second summary")
	n3 := saveNote(t, s, "Three", "third summary")

	_, mergedNoteID, err := engine.Commit(ctx, models.SourceBilibili, []string{n1.NoteID, n2.NoteID}, "Merged", "combined summary", nil)
	require.NoError(t, err)

	_, _, err = engine.Commit(ctx, models.SourceBilibili, []string{mergedNoteID, n3.NoteID}, "Merged again", "combined again", nil)
	require.Error(t, err)
}
