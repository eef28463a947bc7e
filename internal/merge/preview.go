package merge

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/goccy/go-json"

	"github.com/thebtf/midas/internal/llm"
	"github.com/thebtf/midas/pkg/models"
)

type llmJudgment struct {
	MergedTitle   string `json:"merged_title"`
	MergedSummary string `json:"merged_summary_markdown"`
}

// Preview builds the non-destructive preview for merging notes,
// consulting the LLM Summarizer for judgment/generation and falling
// back to a deterministic rule-based merge on timeout or malformed
// JSON, per spec §4.11.
func Preview(ctx context.Context, summarizer *llm.Summarizer, notes []models.SavedNote) models.MergePreview {
	if judgment, ok := tryLLMJudgment(ctx, summarizer, notes); ok {
		return models.MergePreview{
			MergedTitle:    judgment.MergedTitle,
			MergedSummary:  judgment.MergedSummary,
			FieldDecisions: fieldDecisions(notes, judgment.MergedTitle),
		}
	}

	title := deterministicTitle(notes)
	summary, markers := deterministicSummary(notes)
	return models.MergePreview{
		MergedTitle:     title,
		MergedSummary:   summary,
		ConflictMarkers: markers,
		FieldDecisions:  fieldDecisions(notes, title),
		FallbackReason:  "llm judgment unavailable or returned malformed output",
	}
}

func tryLLMJudgment(ctx context.Context, summarizer *llm.Summarizer, notes []models.SavedNote) (*llmJudgment, bool) {
	if summarizer == nil {
		return nil, false
	}
	prompt := judgmentPrompt(notes)
	raw, err := summarizer.Summarize(ctx, prompt, llm.Hints{Format: "json", Source: "merge"})
	if err != nil {
		return nil, false
	}
	var j llmJudgment
	if err := json.Unmarshal([]byte(extractJSON(raw)), &j); err != nil {
		return nil, false
	}
	if j.MergedTitle == "" || j.MergedSummary == "" {
		return nil, false
	}
	return &j, true
}

func judgmentPrompt(notes []models.SavedNote) string {
	var b strings.Builder
	b.WriteString("Merge the following notes into one. Respond with strict JSON: ")
	b.WriteString(`{"merged_title": "...", "merged_summary_markdown": "..."}` + "\n\n")
	for _, n := range notes {
		fmt.Fprintf(&b, "### %s (%s)\n%s\n\n", n.Title, n.NoteID, n.SummaryMarkdown)
	}
	return b.String()
}

func extractJSON(s string) string {
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start < 0 || end < start {
		return s
	}
	return s[start : end+1]
}

// deterministicTitle picks the title of the note with the highest
// "intent score" (here, the longest non-trivial title), ties broken by
// most-recent saved_at, per spec §4.11's conflict policy.
func deterministicTitle(notes []models.SavedNote) string {
	best := notes[0]
	for _, n := range notes[1:] {
		if intentScore(n.Title) > intentScore(best.Title) {
			best = n
			continue
		}
		if intentScore(n.Title) == intentScore(best.Title) && n.SavedAt.After(best.SavedAt) {
			best = n
		}
	}
	return best.Title
}

func intentScore(title string) int {
	return len(strings.Fields(title))
}

// deterministicSummary concatenates each note's summary under a
// source heading, per spec §4.11's fallback content policy
// ("conflicting paragraphs retained with source markers").
func deterministicSummary(notes []models.SavedNote) (string, []string) {
	sorted := append([]models.SavedNote(nil), notes...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].SavedAt.Before(sorted[j].SavedAt) })

	var b strings.Builder
	var markers []string
	seen := make(map[string]struct{})
	for _, n := range sorted {
		heading := fmt.Sprintf("## Source: %s (%s)", n.Source, n.NoteID)
		b.WriteString(heading + "\n\n")
		b.WriteString(dedupeSentences(n.SummaryMarkdown, seen))
		b.WriteString("\n\n")
		markers = append(markers, heading)
	}
	return strings.TrimSpace(b.String()), markers
}

// dedupeSentences removes sentences already seen earlier in the
// accumulated text, preserving order, per the "content" conflict rule.
func dedupeSentences(text string, seen map[string]struct{}) string {
	var out []string
	for _, sentence := range strings.Split(text, ". ") {
		key := strings.ToLower(strings.TrimSpace(sentence))
		if key == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, strings.TrimSpace(sentence))
	}
	return strings.Join(out, ". ")
}

func fieldDecisions(notes []models.SavedNote, winnerTitle string) []models.FieldDecision {
	winnerNoteID := notes[0].NoteID
	for _, n := range notes {
		if n.Title == winnerTitle {
			winnerNoteID = n.NoteID
			break
		}
	}
	return []models.FieldDecision{
		{Field: "title", Winner: winnerNoteID, Rule: "higher_intent_score_then_most_recent"},
		{Field: "tags", Winner: "union", Rule: "union"},
		{Field: "source_refs", Winner: "union", Rule: "union_never_removable"},
	}
}
