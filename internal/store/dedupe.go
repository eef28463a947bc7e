package store

import (
	"context"
	"time"

	"github.com/thebtf/midas/pkg/apierr"
	"github.com/thebtf/midas/pkg/models"
)

// Contains reports whether (source, sourceID) has already been observed.
func (s *Store) Contains(ctx context.Context, source models.Source, sourceID string) (bool, error) {
	var n int
	err := s.queryRowContext(ctx,
		`SELECT COUNT(1) FROM dedupe_entries WHERE source = ? AND source_id = ?`,
		string(source), sourceID).Scan(&n)
	if err != nil {
		return false, apierr.Wrap(apierr.Internal, err, "check dedupe entry")
	}
	return n > 0, nil
}

// Add records (source, sourceID) as seen. Idempotent.
func (s *Store) Add(ctx context.Context, source models.Source, sourceID string) error {
	_, err := s.execContext(ctx,
		`INSERT INTO dedupe_entries (source, source_id, created_at) VALUES (?, ?, ?)
		 ON CONFLICT(source, source_id) DO NOTHING`,
		string(source), sourceID, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return apierr.Wrap(apierr.Internal, err, "add dedupe entry")
	}
	return nil
}

// PruneUnsaved removes dedupe entries for source that have no
// corresponding saved note, per spec §4.2. Returns the number of
// candidates considered and the number actually deleted.
func (s *Store) PruneUnsaved(ctx context.Context, source models.Source) (candidateCount, deletedCount int, err error) {
	table := notesTableFor(source)
	if table == "" {
		return 0, 0, apierr.Newf(apierr.InvalidInput, "unknown source %q", source)
	}

	row := s.queryRowContext(ctx,
		`SELECT COUNT(1) FROM dedupe_entries d
		 WHERE d.source = ? AND NOT EXISTS (
		   SELECT 1 FROM `+table+` n WHERE n.source_id = d.source_id
		 )`, string(source))
	if scanErr := row.Scan(&candidateCount); scanErr != nil {
		return 0, 0, apierr.Wrap(apierr.Internal, scanErr, "count prune candidates")
	}

	res, err := s.execContext(ctx,
		`DELETE FROM dedupe_entries WHERE source = ? AND NOT EXISTS (
		   SELECT 1 FROM `+table+` n WHERE n.source_id = dedupe_entries.source_id
		 )`, string(source))
	if err != nil {
		return candidateCount, 0, apierr.Wrap(apierr.Internal, err, "prune dedupe entries")
	}
	affected, _ := res.RowsAffected()
	return candidateCount, int(affected), nil
}

func notesTableFor(source models.Source) string {
	switch source {
	case models.SourceBilibili:
		return "notes_bilibili"
	case models.SourceXiaohongshu:
		return "notes_xiaohongshu"
	default:
		return ""
	}
}
