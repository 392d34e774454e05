package local

import "sort"

// DefaultRRFConstant is the standard RRF smoothing parameter.
const DefaultRRFConstant = 60

// fusedHit is one document after Reciprocal Rank Fusion.
type fusedHit struct {
	ID       string
	Score    float64
	Lists    int // number of clause lists the document appeared in
	BestRank int // best 1-based rank across lists
}

// fuseRRF merges ranked lists with equal weights:
//
//	score(d) = Σ 1 / (k + rank_i(d))
//
// Ties are broken by the number of lists a document appears in, then its
// best rank, then id. Scores are scaled so the top hit scores 1.
func fuseRRF(k int, lists [][]ranked) []fusedHit {
	if k <= 0 {
		k = DefaultRRFConstant
	}

	byID := make(map[string]*fusedHit)
	for _, list := range lists {
		seen := make(map[string]bool, len(list))
		for i, r := range list {
			if seen[r.ID] {
				continue
			}
			seen[r.ID] = true

			rank := i + 1
			h, ok := byID[r.ID]
			if !ok {
				h = &fusedHit{ID: r.ID, BestRank: rank}
				byID[r.ID] = h
			}
			h.Score += 1 / float64(k+rank)
			h.Lists++
			if rank < h.BestRank {
				h.BestRank = rank
			}
		}
	}

	out := make([]fusedHit, 0, len(byID))
	for _, h := range byID {
		out = append(out, *h)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.Lists != b.Lists {
			return a.Lists > b.Lists
		}
		if a.BestRank != b.BestRank {
			return a.BestRank < b.BestRank
		}
		return a.ID < b.ID
	})

	if len(out) > 0 && out[0].Score > 0 {
		top := out[0].Score
		for i := range out {
			out[i].Score /= top
		}
	}
	return out
}
