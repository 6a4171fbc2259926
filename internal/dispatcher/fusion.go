package dispatcher

import (
	"fmt"
	"hash/fnv"
	"path"
	"sort"
)

// Tier identifies which search source produced a Hit.
type Tier string

const (
	TierPlugin   Tier = "plugin"
	TierSemantic Tier = "semantic"
	TierBM25     Tier = "bm25"
)

// tierPriority orders tiers for the tie-break cascade: plugin results win
// over semantic, which wins over BM25, when fused scores are equal.
var tierPriority = map[Tier]int{
	TierPlugin:   0,
	TierSemantic: 1,
	TierBM25:     2,
}

// Hit is one search result, tagged with the tier that produced it before
// fusion and carrying the tier's raw score.
type Hit struct {
	FilePath   string
	Line       int
	SymbolName string
	Snippet    string
	Score      float64
	Tier       Tier
}

// Weights is the per-tier contribution to a fused score.
type Weights struct {
	Plugin   float64
	Semantic float64
	BM25     float64
}

// DefaultWeights matches spec.md's pinned Open-Questions decision:
// plugin-sourced hits (precise, language-aware) outweigh semantic, which
// outweighs plain BM25 keyword matches.
var DefaultWeights = Weights{Plugin: 0.5, Semantic: 0.35, BM25: 0.15}

func (w Weights) forTier(t Tier) float64 {
	switch t {
	case TierPlugin:
		return w.Plugin
	case TierSemantic:
		return w.Semantic
	case TierBM25:
		return w.BM25
	default:
		return 0
	}
}

// Fuse combines per-tier hit lists into one ranked, deduplicated list.
// Each tier's scores are independently min-max normalized to [0, 1]
// before weighting, since BM25 scores, cosine similarities, and plugin
// scores live on unrelated scales and cannot be compared raw. Hits that
// dedup-key identically across tiers (same normalized file path, line,
// and symbol name or snippet hash) are merged into a single weighted-sum
// score; the surviving hit's display fields come from the
// highest-priority tier that contributed to it.
func Fuse(tierHits map[Tier][]Hit, weights Weights) []Hit {
	normalized := make(map[Tier][]Hit, len(tierHits))
	for tier, hits := range tierHits {
		normalized[tier] = minMaxNormalize(hits)
	}

	type accum struct {
		display Hit
		score   float64
		prio    int
	}
	merged := make(map[string]*accum)

	for tier, hits := range normalized {
		weight := weights.forTier(tier)
		for _, h := range hits {
			key := dedupKey(h)
			contribution := weight * h.Score
			prio := tierPriority[tier]

			if existing, ok := merged[key]; ok {
				existing.score += contribution
				if prio < existing.prio {
					existing.display = h
					existing.prio = prio
				}
				continue
			}
			merged[key] = &accum{display: h, score: contribution, prio: prio}
		}
	}

	out := make([]Hit, 0, len(merged))
	for _, a := range merged {
		h := a.display
		h.Score = a.score
		out = append(out, h)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		pi, pj := tierPriority[out[i].Tier], tierPriority[out[j].Tier]
		if pi != pj {
			return pi < pj
		}
		if out[i].FilePath != out[j].FilePath {
			return out[i].FilePath < out[j].FilePath
		}
		return out[i].Line < out[j].Line
	})

	return out
}

// minMaxNormalize rescales hits' scores into [0, 1] within one tier. A
// tier with a single hit, or whose hits all share one score, normalizes
// to 1.0 across the board rather than dividing by a zero range.
func minMaxNormalize(hits []Hit) []Hit {
	if len(hits) == 0 {
		return nil
	}
	lo, hi := hits[0].Score, hits[0].Score
	for _, h := range hits[1:] {
		if h.Score < lo {
			lo = h.Score
		}
		if h.Score > hi {
			hi = h.Score
		}
	}

	out := make([]Hit, len(hits))
	spread := hi - lo
	for i, h := range hits {
		if spread == 0 {
			h.Score = 1
		} else {
			h.Score = (h.Score - lo) / spread
		}
		out[i] = h
	}
	return out
}

// dedupKey identifies the same underlying code location across tiers:
// normalized file path + start line, plus the symbol name when a tier
// could name one, else a hash of the snippet text.
func dedupKey(h Hit) string {
	disambiguator := h.SymbolName
	if disambiguator == "" {
		disambiguator = snippetHash(h.Snippet)
	}
	return fmt.Sprintf("%s:%d:%s", path.Clean(path.ToSlash(h.FilePath)), h.Line, disambiguator)
}

func snippetHash(s string) string {
	h := fnv.New64a()
	_, _ = h.Write([]byte(s))
	return fmt.Sprintf("h%x", h.Sum64())
}
