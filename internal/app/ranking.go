package app

import (
	"sort"
	"strconv"

	"quizlive-service/internal/domain"
)

// RankingTable maintains a score-sorted leaderboard. Scores only grow
// (feedback points are non-negative), ranks are dense and 1-based, and
// entries with equal scores share a rank. Ordering within a tie group is
// unspecified.
//
// Not safe for concurrent use; the owning session serializes access.
type RankingTable struct {
	scores map[string]int
	sorted []domain.ScoreEntry // descending by score
}

func NewRankingTable() *RankingTable {
	return &RankingTable{scores: make(map[string]int)}
}

// UpdateScore adds delta to the participant's cumulative score (starting
// from zero for a new participant) and repositions the entry.
func (t *RankingTable) UpdateScore(id string, delta int) {
	total := t.scores[id] + delta
	t.scores[id] = total

	for i := range t.sorted {
		if t.sorted[i].ID == id {
			t.sorted = append(t.sorted[:i], t.sorted[i+1:]...)
			break
		}
	}
	i := sort.Search(len(t.sorted), func(i int) bool {
		return t.sorted[i].Score < total
	})
	t.sorted = append(t.sorted, domain.ScoreEntry{})
	copy(t.sorted[i+1:], t.sorted[i:])
	t.sorted[i] = domain.ScoreEntry{ID: id, Score: total}
}

// Ranking returns the leaderboard as dense rank groups. When topN > 0 only
// the first topN groups are returned; a group straddling the cutoff is
// included whole.
func (t *RankingTable) Ranking(topN int) []domain.ScoreGroup {
	if len(t.sorted) == 0 {
		return []domain.ScoreGroup{}
	}

	groups := []domain.ScoreGroup{{
		Rank:    "1",
		Entries: []domain.ScoreEntry{t.sorted[0]},
	}}
	rank := 1
	for i := 1; i < len(t.sorted); i++ {
		entry := t.sorted[i]
		if entry.Score != t.sorted[i-1].Score {
			rank++
			if topN > 0 && rank > topN {
				break
			}
			groups = append(groups, domain.ScoreGroup{Rank: strconv.Itoa(rank)})
		}
		last := len(groups) - 1
		groups[last].Entries = append(groups[last].Entries, entry)
	}
	return groups
}
