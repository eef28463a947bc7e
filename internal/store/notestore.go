package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/thebtf/midas/pkg/apierr"
	"github.com/thebtf/midas/pkg/models"
)

// NoteFilter narrows List results; zero values mean "no filter".
type NoteFilter struct {
	TitleContains string
	Limit         int
	Offset        int
}

// Save inserts artifact as a new SavedNote, assigns a fresh note_id, and
// takes a backup snapshot afterward per spec invariant 5. Overwriting an
// existing (source, source_id) row is an explicit caller decision, not
// performed implicitly here.
func (s *Store) Save(ctx context.Context, artifact models.SummaryArtifact) (*models.SavedNote, error) {
	table := notesTableFor(artifact.Source)
	if table == "" {
		return nil, apierr.Newf(apierr.InvalidInput, "unknown source %q", artifact.Source)
	}
	meta, err := json.Marshal(artifact.CapturedMetadata)
	if err != nil {
		return nil, apierr.Wrap(apierr.InvalidInput, err, "encode captured_metadata")
	}

	noteID := uuid.NewString()
	savedAt := time.Now().UTC()

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO `+table+` (note_id, source_id, source_url, title, summary_markdown, captured_metadata, saved_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		noteID, artifact.SourceID, artifact.SourceURL, artifact.Title, artifact.SummaryMarkdown, string(meta),
		savedAt.Format(time.RFC3339Nano))
	if err != nil {
		return nil, apierr.Wrap(apierr.Internal, err, "save note")
	}

	if err := s.Backup(ctx); err != nil {
		return nil, err
	}

	return &models.SavedNote{
		SummaryArtifact: artifact,
		NoteID:          noteID,
		SavedAt:         savedAt,
	}, nil
}

// List returns saved notes for source matching filter, most recent first.
func (s *Store) List(ctx context.Context, source models.Source, filter NoteFilter) ([]models.SavedNote, int, error) {
	table := notesTableFor(source)
	if table == "" {
		return nil, 0, apierr.Newf(apierr.InvalidInput, "unknown source %q", source)
	}

	var total int
	countQuery := `SELECT COUNT(1) FROM ` + table
	var args []any
	if filter.TitleContains != "" {
		countQuery += ` WHERE title LIKE ?`
		args = append(args, "%"+filter.TitleContains+"%")
	}
	if err := s.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, apierr.Wrap(apierr.Internal, err, "count notes")
	}

	query := `SELECT note_id, source_id, source_url, title, summary_markdown, captured_metadata, saved_at FROM ` + table
	if filter.TitleContains != "" {
		query += ` WHERE title LIKE ?`
	}
	query += ` ORDER BY saved_at DESC`
	if filter.Limit > 0 {
		query += ` LIMIT ? OFFSET ?`
		args = append(args, filter.Limit, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, apierr.Wrap(apierr.Internal, err, "list notes")
	}
	defer rows.Close()

	var out []models.SavedNote
	for rows.Next() {
		note, err := scanSavedNote(rows, source)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, *note)
	}
	return out, total, rows.Err()
}

// Get returns one saved note by note_id, or nil if absent.
func (s *Store) Get(ctx context.Context, source models.Source, noteID string) (*models.SavedNote, error) {
	table := notesTableFor(source)
	if table == "" {
		return nil, apierr.Newf(apierr.InvalidInput, "unknown source %q", source)
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT note_id, source_id, source_url, title, summary_markdown, captured_metadata, saved_at FROM `+table+` WHERE note_id = ?`,
		noteID)
	note, err := scanSavedNote(row, source)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return note, nil
}

// Delete removes one saved note and takes a backup snapshot. Does not
// touch the Dedupe Store (spec §3 documented invariant).
func (s *Store) Delete(ctx context.Context, source models.Source, noteID string) (bool, error) {
	table := notesTableFor(source)
	if table == "" {
		return false, apierr.Newf(apierr.InvalidInput, "unknown source %q", source)
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM `+table+` WHERE note_id = ?`, noteID)
	if err != nil {
		return false, apierr.Wrap(apierr.Internal, err, "delete note")
	}
	affected, _ := res.RowsAffected()
	if affected > 0 {
		if err := s.Backup(ctx); err != nil {
			return true, err
		}
	}
	return affected > 0, nil
}

// Clear removes every saved note for source. Callers must enforce the
// confirm_destructive gate before calling this (C12's responsibility).
func (s *Store) Clear(ctx context.Context, source models.Source) (int, error) {
	table := notesTableFor(source)
	if table == "" {
		return 0, apierr.Newf(apierr.InvalidInput, "unknown source %q", source)
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM `+table)
	if err != nil {
		return 0, apierr.Wrap(apierr.Internal, err, "clear notes")
	}
	affected, _ := res.RowsAffected()
	if err := s.Backup(ctx); err != nil {
		return int(affected), err
	}
	return int(affected), nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSavedNote(row rowScanner, source models.Source) (*models.SavedNote, error) {
	var (
		noteID, sourceID, sourceURL, title, summary, metaRaw, savedAtRaw string
	)
	if err := row.Scan(&noteID, &sourceID, &sourceURL, &title, &summary, &metaRaw, &savedAtRaw); err != nil {
		if err == sql.ErrNoRows {
			return nil, sql.ErrNoRows
		}
		return nil, apierr.Wrap(apierr.Internal, err, "scan note row")
	}
	var meta map[string]any
	if metaRaw != "" {
		if err := json.Unmarshal([]byte(metaRaw), &meta); err != nil {
			return nil, apierr.Wrap(apierr.Internal, err, "decode captured_metadata")
		}
	}
	savedAt, err := time.Parse(time.RFC3339Nano, savedAtRaw)
	if err != nil {
		return nil, apierr.Wrap(apierr.Internal, err, "parse saved_at")
	}
	return &models.SavedNote{
		SummaryArtifact: models.SummaryArtifact{
			Source:           source,
			SourceID:         sourceID,
			SourceURL:        sourceURL,
			Title:            title,
			SummaryMarkdown:  summary,
			CapturedMetadata: meta,
		},
		NoteID:  noteID,
		SavedAt: savedAt,
	}, nil
}
