package store

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/thebtf/midas/pkg/apierr"
	"github.com/thebtf/midas/pkg/models"
)

// InsertMergeRecord persists a new merge commit and its field decisions
// in one transaction, then takes a backup snapshot.
func (s *Store) InsertMergeRecord(ctx context.Context, rec models.MergeRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return apierr.Wrap(apierr.Internal, err, "begin merge insert")
	}
	defer tx.Rollback()

	var rollbackOf any
	if rec.RollbackOf != nil {
		rollbackOf = *rec.RollbackOf
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO merge_records (merge_id, source, source_note_ids, merged_note_id, created_at, rollback_of)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		rec.MergeID, string(rec.Source), strings.Join(rec.SourceNoteIDs, ","), rec.MergedNoteID,
		rec.CreatedAt.Format(time.RFC3339Nano), rollbackOf)
	if err != nil {
		return apierr.Wrap(apierr.Internal, err, "insert merge record")
	}

	for _, fd := range rec.FieldDecisions {
		var alt any
		if fd.AltValue != "" {
			alt = fd.AltValue
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO field_decisions (merge_id, field, winner, rule, alt_value) VALUES (?, ?, ?, ?, ?)`,
			rec.MergeID, fd.Field, fd.Winner, fd.Rule, alt)
		if err != nil {
			return apierr.Wrap(apierr.Internal, err, "insert field decision")
		}
	}

	if err := tx.Commit(); err != nil {
		return apierr.Wrap(apierr.Internal, err, "commit merge insert")
	}
	return s.Backup(ctx)
}

// GetMergeRecord returns the merge record by id, or nil if absent.
func (s *Store) GetMergeRecord(ctx context.Context, mergeID string) (*models.MergeRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT merge_id, source, source_note_ids, merged_note_id, created_at, rollback_of, finalized_at
		 FROM merge_records WHERE merge_id = ?`, mergeID)
	rec, err := scanMergeRecord(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT field, winner, rule, alt_value FROM field_decisions WHERE merge_id = ?`, mergeID)
	if err != nil {
		return nil, apierr.Wrap(apierr.Internal, err, "load field decisions")
	}
	defer rows.Close()
	for rows.Next() {
		var field, winner, rule string
		var alt sql.NullString
		if err := rows.Scan(&field, &winner, &rule, &alt); err != nil {
			return nil, apierr.Wrap(apierr.Internal, err, "scan field decision")
		}
		rec.FieldDecisions = append(rec.FieldDecisions, models.FieldDecision{
			Field: field, Winner: winner, Rule: rule, AltValue: alt.String,
		})
	}
	return rec, nil
}

// LatestNonFinalizedMerge returns the most recent non-finalized merge
// record for source, or nil if there is none. Used by rollback() to
// enforce "only the most recent non-finalized merge for a source may be
// rolled back".
func (s *Store) LatestNonFinalizedMerge(ctx context.Context, source models.Source) (*models.MergeRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT merge_id, source, source_note_ids, merged_note_id, created_at, rollback_of, finalized_at
		 FROM merge_records WHERE source = ? AND finalized_at IS NULL
		 ORDER BY created_at DESC LIMIT 1`, string(source))
	rec, err := scanMergeRecord(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return rec, err
}

// FinalizeMerge marks a merge record finalized.
func (s *Store) FinalizeMerge(ctx context.Context, mergeID string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE merge_records SET finalized_at = ? WHERE merge_id = ?`,
		at.Format(time.RFC3339Nano), mergeID)
	if err != nil {
		return apierr.Wrap(apierr.Internal, err, "finalize merge record")
	}
	return s.Backup(ctx)
}

// DeleteMergeRecord removes a merge record and its field decisions,
// used by rollback().
func (s *Store) DeleteMergeRecord(ctx context.Context, mergeID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return apierr.Wrap(apierr.Internal, err, "begin merge delete")
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM field_decisions WHERE merge_id = ?`, mergeID); err != nil {
		return apierr.Wrap(apierr.Internal, err, "delete field decisions")
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM merge_records WHERE merge_id = ?`, mergeID); err != nil {
		return apierr.Wrap(apierr.Internal, err, "delete merge record")
	}
	if err := tx.Commit(); err != nil {
		return apierr.Wrap(apierr.Internal, err, "commit merge delete")
	}
	return s.Backup(ctx)
}

// IsMergedNoteID reports whether noteID is the merged_note_id of any
// non-finalized merge record, used to reject merge-of-a-merge per
// DESIGN.md's Open Question decision.
func (s *Store) IsMergedNoteID(ctx context.Context, noteID string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM merge_records WHERE merged_note_id = ? AND finalized_at IS NULL`, noteID).Scan(&n)
	if err != nil {
		return false, apierr.Wrap(apierr.Internal, err, "check merged note id")
	}
	return n > 0, nil
}

func scanMergeRecord(row rowScanner) (*models.MergeRecord, error) {
	var (
		mergeID, source, noteIDsRaw, mergedNoteID, createdAtRaw string
		rollbackOf, finalizedAt                                 sql.NullString
	)
	if err := row.Scan(&mergeID, &source, &noteIDsRaw, &mergedNoteID, &createdAtRaw, &rollbackOf, &finalizedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, sql.ErrNoRows
		}
		return nil, apierr.Wrap(apierr.Internal, err, "scan merge record")
	}
	createdAt, err := time.Parse(time.RFC3339Nano, createdAtRaw)
	if err != nil {
		return nil, apierr.Wrap(apierr.Internal, err, "parse merge created_at")
	}
	rec := &models.MergeRecord{
		MergeID:       mergeID,
		Source:        models.Source(source),
		SourceNoteIDs: splitNonEmpty(noteIDsRaw, ","),
		MergedNoteID:  mergedNoteID,
		CreatedAt:     createdAt,
	}
	if rollbackOf.Valid {
		v := rollbackOf.String
		rec.RollbackOf = &v
	}
	if finalizedAt.Valid {
		t, err := time.Parse(time.RFC3339Nano, finalizedAt.String)
		if err == nil {
			rec.FinalizedAt = &t
		}
	}
	return rec, nil
}

func splitNonEmpty(s, sep string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, sep)
}
