package engine

import (
	"github.com/trezcool/masomo-pkl/core/placement"
)

// FilterCandidates returns the candidates whose name contains search (case-insensitive)
// and, when classLabel is not empty, whose class is exactly classLabel. Order is preserved.
func FilterCandidates(cands []placement.Candidate, search, classLabel string) []placement.Candidate {
	filter := placement.CandidateFilter{Search: search, Class: classLabel}
	filter.Clean()

	res := make([]placement.Candidate, 0, len(cands))
	for _, c := range cands {
		if filter.Match(c) {
			res = append(res, c)
		}
	}
	return res
}
