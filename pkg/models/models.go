// Package models holds the entity types shared across every component:
// the shapes that cross store, pipeline, and HTTP boundaries.
package models

import "time"

// Source identifies a platform family a SourceId/SummaryArtifact belongs to.
type Source string

const (
	SourceBilibili    Source = "bilibili"
	SourceXiaohongshu Source = "xiaohongshu"
)

// SummaryArtifact is the immutable result of one pipeline run. The same
// (Source, SourceID) may be regenerated, but a fresh artifact only
// supersedes a prior one through an explicit save.
type SummaryArtifact struct {
	Source           Source         `json:"source"`
	SourceID         string         `json:"source_id"`
	SourceURL        string         `json:"source_url"`
	Title            string         `json:"title"`
	SummaryMarkdown  string         `json:"summary_markdown"`
	CapturedMetadata map[string]any `json:"captured_metadata,omitempty"`
}

// SavedNote is a SummaryArtifact persisted to the Note Store. NoteID is
// assigned locally on save and is distinct from SourceID.
type SavedNote struct {
	SummaryArtifact
	NoteID  string    `json:"note_id"`
	SavedAt time.Time `json:"saved_at"`
}

// JobStatus is one state in the Job Manager's state machine.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobSucceeded JobStatus = "succeeded"
	JobFailed    JobStatus = "failed"
)

// JobKind distinguishes the long-running task a Job represents.
type JobKind string

const (
	JobKindXHSCollectionSync JobKind = "xhs_collection_sync"
)

// Job is a long-running task snapshot. Readers always observe a
// deep-copied, atomically consistent view; only the owning worker
// mutates the live record.
type Job struct {
	JobID          string     `json:"job_id"`
	Kind           JobKind    `json:"kind"`
	RequestedLimit int        `json:"requested_limit"`
	Status         JobStatus  `json:"status"`
	Current        int        `json:"current"`
	Total          int        `json:"total"`
	Message        string     `json:"message,omitempty"`
	Result         *SyncResult `json:"result,omitempty"`
	Error          *JobError  `json:"error,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// JobError is the terminal-failure shape embedded in a Job, mirroring
// the wire error envelope without importing the HTTP layer.
type JobError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Clone returns a deep copy suitable for handing to a reader outside the
// manager's lock.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	cp := *j
	if j.Result != nil {
		r := *j.Result
		r.Summaries = append([]SummaryArtifact(nil), j.Result.Summaries...)
		cp.Result = &r
	}
	if j.Error != nil {
		e := *j.Error
		cp.Error = &e
	}
	return &cp
}

// SyncResult accumulates monotonically during a collection sync's
// execution and is attached to the owning Job's Result on completion.
type SyncResult struct {
	RequestedLimit int               `json:"requested_limit"`
	FetchedCount   int               `json:"fetched_count"`
	NewCount       int               `json:"new_count"`
	SkippedCount   int               `json:"skipped_count"`
	FailedCount    int               `json:"failed_count"`
	CircuitOpened  bool              `json:"circuit_opened"`
	Summaries      []SummaryArtifact `json:"summaries"`
}

// AuthCapture is the bundle of headers/cookies used to impersonate an
// authenticated browser session against Xiaohongshu. Mutated only as a
// whole via an auth-update or a capture-refresh operation.
type AuthCapture struct {
	Cookie       string            `json:"cookie"`
	UserAgent    string            `json:"user_agent"`
	Origin       string            `json:"origin"`
	Referer      string            `json:"referer"`
	ExtraHeaders map[string]string `json:"extra_headers,omitempty"`
	CapturedAt   time.Time         `json:"captured_at"`
}

// Empty reports whether the capture lacks the one field the fetcher
// cannot operate without.
func (a AuthCapture) Empty() bool { return a.Cookie == "" }

// FieldDecision records, for one field of one merge, which source note
// won and why; part of the permanent audit trail for a MergeRecord.
type FieldDecision struct {
	Field    string `json:"field"`
	Winner   string `json:"winner_note_id"`
	Rule     string `json:"rule"`
	AltValue string `json:"alt_value,omitempty"`
}

// MergeRecord is the immutable (except FinalizedAt) audit row for one
// merge commit.
type MergeRecord struct {
	MergeID        string           `json:"merge_id"`
	Source         Source           `json:"source"`
	SourceNoteIDs  []string         `json:"source_note_ids"`
	MergedNoteID   string           `json:"merged_note_id"`
	FieldDecisions []FieldDecision  `json:"field_decisions"`
	CreatedAt      time.Time        `json:"created_at"`
	RollbackOf     *string          `json:"rollback_of,omitempty"`
	FinalizedAt    *time.Time       `json:"finalized_at,omitempty"`
}

// MergeCandidate is one scored grouping proposal returned by suggest().
type MergeCandidate struct {
	NoteIDs []string `json:"note_ids"`
	Score   float64  `json:"score"`
}

// MergePreview is the non-destructive preview of a prospective merge.
type MergePreview struct {
	MergedTitle     string          `json:"merged_title"`
	MergedSummary   string          `json:"merged_summary_markdown"`
	ConflictMarkers []string        `json:"conflict_markers,omitempty"`
	FieldDecisions  []FieldDecision `json:"field_decisions"`
	FallbackReason  string          `json:"fallback_reason,omitempty"`
}
