package storage

import (
	"sort"
	"strings"

	codescopeerrors "github.com/codescope/codescope/internal/errors"
)

// SearchFuzzy finds symbol names close to name: it first narrows the
// candidate set using the trigram index (any symbol sharing at least one
// trigram with name), then rescores candidates by Levenshtein edit
// distance and returns the closest limit matches. No third-party
// edit-distance library appears anywhere in this module's dependency
// surface, so this one narrow algorithmic step is hand-rolled.
func (e *Engine) SearchFuzzy(name string, limit int) ([]FuzzyHit, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 20
	}

	tgs := trigrams(strings.ToLower(name))
	if len(tgs) == 0 {
		tgs = []string{strings.ToLower(name)}
	}

	placeholders := make([]string, len(tgs))
	args := make([]any, len(tgs))
	for i, tg := range tgs {
		placeholders[i] = "?"
		args[i] = tg
	}

	query := `
		SELECT DISTINCT s.id, s.name
		FROM symbol_trigrams t
		JOIN symbols s ON s.id = t.symbol_id
		JOIN files f ON f.id = s.file_id
		WHERE t.trigram IN (` + strings.Join(placeholders, ",") + `) AND f.is_deleted = 0
	`
	rows, err := e.db.Query(query, args...)
	if err != nil {
		return nil, codescopeerrors.Wrap(codescopeerrors.KindStorageFailure, "trigram candidate query", err)
	}
	defer rows.Close()

	var candidates []FuzzyHit
	lowerName := strings.ToLower(name)
	for rows.Next() {
		var id int64
		var candidateName string
		if err := rows.Scan(&id, &candidateName); err != nil {
			return nil, codescopeerrors.Wrap(codescopeerrors.KindStorageFailure, "scan trigram candidate", err)
		}
		candidates = append(candidates, FuzzyHit{
			SymbolID: id,
			Name:     candidateName,
			Distance: levenshtein(lowerName, strings.ToLower(candidateName)),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, codescopeerrors.Wrap(codescopeerrors.KindStorageFailure, "iterate trigram candidates", err)
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Distance != candidates[j].Distance {
			return candidates[i].Distance < candidates[j].Distance
		}
		return candidates[i].Name < candidates[j].Name
	})

	if len(candidates) > limit {
		candidates = candidates[:limit]
	}
	return candidates, nil
}

// levenshtein computes the classic edit distance between a and b using a
// two-row dynamic-programming table.
func levenshtein(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	if len(ra) == 0 {
		return len(rb)
	}
	if len(rb) == 0 {
		return len(ra)
	}

	prev := make([]int, len(rb)+1)
	curr := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}

	for i := 1; i <= len(ra); i++ {
		curr[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			curr[j] = min3(curr[j-1]+1, prev[j]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(rb)]
}

func min3(a, b, c int) int {
	m := a
	if b < m {
		m = b
	}
	if c < m {
		m = c
	}
	return m
}
