// Package rating scores and orders candidate FileSources for a package
// download attempt (§4.3).
package rating

import "sort"

// AffinityWeight is added to a candidate whose hosting centre equals
// the package's producing centre.
const AffinityWeight = 30

// Candidate is the minimal shape the comparator needs: a source id to
// break rating ties deterministically, and the two centre ids compared
// for affinity.
type Candidate struct {
	SourceID          int64
	HostCentreID      int64
	ProducingCentreID *int64
}

// Strategy computes the rating for one candidate. The default affinity
// strategy is AffinityStrategy; ratings may later be extended with
// historical-failure penalties (§4.3), so callers depend on this
// interface rather than a concrete function.
type Strategy interface {
	Rate(c Candidate) int
}

// AffinityStrategy implements §4.3's rule: +AffinityWeight if the
// hosting source's centre equals the package's producing centre, +0
// otherwise.
type AffinityStrategy struct{}

// Rate implements Strategy.
func (AffinityStrategy) Rate(c Candidate) int {
	if c.ProducingCentreID != nil && *c.ProducingCentreID == c.HostCentreID {
		return AffinityWeight
	}
	return 0
}

// Rated pairs a Candidate with its computed rating.
type Rated struct {
	Candidate Candidate
	Rating    int
}

// Sort scores every candidate with strategy and orders the result as
// the attempt sequence: highest rating first (affinity-matched sources
// attempted before non-matched ones), ties broken by ascending source
// id for a deterministic, reproducible attempt order.
func Sort(candidates []Candidate, strategy Strategy) []Rated {
	rated := make([]Rated, len(candidates))
	for i, c := range candidates {
		rated[i] = Rated{Candidate: c, Rating: strategy.Rate(c)}
	}

	sort.SliceStable(rated, func(i, j int) bool {
		if rated[i].Rating != rated[j].Rating {
			return rated[i].Rating > rated[j].Rating
		}
		return rated[i].Candidate.SourceID < rated[j].Candidate.SourceID
	})

	return rated
}
