// Package merge implements the Merge Engine (C11): suggest candidate
// groups, generate a preview, commit (non-destructive), and finalize
// (destructive, irreversible) with a rollback window. Scoring and
// clique-extension logic has no direct teacher analog; it is authored
// in the teacher's plain-function-plus-struct style (threshold-based
// grouping over a similarity matrix), grounded on the clustering idiom
// surveyed in the example pack (see DESIGN.md).
package merge

import (
	"strings"
	"time"

	"github.com/thebtf/midas/pkg/models"
)

const (
	weightKeywordOverlap  = 0.35
	weightTitleSimilarity = 0.25
	weightTimeProximity   = 0.20
	weightSummarySimilarity = 0.20

	cliqueExtensionThreshold = 0.55
)

// pairScore scores two notes per spec §4.11's weighted formula.
func pairScore(a, b models.SavedNote) float64 {
	return weightKeywordOverlap*keywordOverlap(a.SummaryMarkdown, b.SummaryMarkdown) +
		weightTitleSimilarity*titleSimilarity(a.Title, b.Title) +
		weightTimeProximity*timeProximity(a.SavedAt, b.SavedAt) +
		weightSummarySimilarity*summarySimilarity(a.SummaryMarkdown, b.SummaryMarkdown)
}

func keywordOverlap(a, b string) float64 {
	setA, setB := tokenSet(a), tokenSet(b)
	if len(setA) == 0 || len(setB) == 0 {
		return 0
	}
	intersection := 0
	for t := range setA {
		if _, ok := setB[t]; ok {
			intersection++
		}
	}
	union := len(setA) + len(setB) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

func titleSimilarity(a, b string) float64 {
	return keywordOverlap(a, b)
}

func summarySimilarity(a, b string) float64 {
	return keywordOverlap(a, b)
}

func timeProximity(a, b time.Time) float64 {
	delta := a.Sub(b)
	if delta < 0 {
		delta = -delta
	}
	const window = 30 * 24 * time.Hour
	if delta >= window {
		return 0
	}
	return 1 - float64(delta)/float64(window)
}

func tokenSet(s string) map[string]struct{} {
	fields := strings.Fields(strings.ToLower(s))
	set := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		f = strings.Trim(f, ".,!?;:\"'()[]{}#*`")
		if len(f) < 3 {
			continue
		}
		set[f] = struct{}{}
	}
	return set
}

// scoredPair is an internal scored pair before clique extension.
type scoredPair struct {
	i, j  int
	score float64
}

// GroupCandidates scores every pair in notes, thresholds at minScore,
// and extends pairs to cliques when transitively similar above
// cliqueExtensionThreshold, returning one models.MergeCandidate per group.
func GroupCandidates(notes []models.SavedNote, minScore float64) []models.MergeCandidate {
	n := len(notes)
	if n < 2 {
		return nil
	}

	var pairs []scoredPair
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			s := pairScore(notes[i], notes[j])
			if s >= minScore {
				pairs = append(pairs, scoredPair{i, j, s})
			}
		}
	}
	if len(pairs) == 0 {
		return nil
	}

	parent := make([]int, n)
	for i := range parent {
		parent[i] = i
	}
	var find func(int) int
	find = func(x int) int {
		if parent[x] != x {
			parent[x] = find(parent[x])
		}
		return parent[x]
	}
	union := func(a, b int) {
		ra, rb := find(a), find(b)
		if ra != rb {
			parent[ra] = rb
		}
	}

	for _, p := range pairs {
		if p.score >= cliqueExtensionThreshold {
			union(p.i, p.j)
		}
	}

	groups := make(map[int][]int)
	groupScore := make(map[int]float64)
	groupScoreCount := make(map[int]int)
	for _, p := range pairs {
		root := find(p.i)
		if find(p.j) != root {
			// below the clique threshold: keep as its own pair group
			// rooted at i (no union occurred for this pair).
			root = p.i
		}
		if _, ok := groups[root]; !ok {
			groups[root] = []int{}
		}
		groups[root] = appendUnique(groups[root], p.i, p.j)
		groupScore[root] += p.score
		groupScoreCount[root]++
	}

	candidates := make([]models.MergeCandidate, 0, len(groups))
	for root, members := range groups {
		if len(members) < 2 {
			continue
		}
		noteIDs := make([]string, 0, len(members))
		for _, idx := range members {
			noteIDs = append(noteIDs, notes[idx].NoteID)
		}
		avg := groupScore[root] / float64(groupScoreCount[root])
		candidates = append(candidates, models.MergeCandidate{NoteIDs: noteIDs, Score: avg})
	}
	return candidates
}

func appendUnique(slice []int, values ...int) []int {
	for _, v := range values {
		found := false
		for _, existing := range slice {
			if existing == v {
				found = true
				break
			}
		}
		if !found {
			slice = append(slice, v)
		}
	}
	return slice
}
