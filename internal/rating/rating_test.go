package rating

import "testing"

func centreID(id int64) *int64 { return &id }

func TestAffinityMatchedSourcesSortFirst(t *testing.T) {
	producingCentre := centreID(1)
	candidates := []Candidate{
		{SourceID: 2, HostCentreID: 9, ProducingCentreID: producingCentre},  // no affinity
		{SourceID: 1, HostCentreID: 1, ProducingCentreID: producingCentre}, // affinity match
	}

	rated := Sort(candidates, AffinityStrategy{})

	if rated[0].Candidate.SourceID != 1 {
		t.Fatalf("expected affinity-matched source 1 first, got %d", rated[0].Candidate.SourceID)
	}
	if rated[0].Rating != AffinityWeight {
		t.Fatalf("expected affinity rating %d, got %d", AffinityWeight, rated[0].Rating)
	}
	if rated[1].Rating != 0 {
		t.Fatalf("expected non-matched rating 0, got %d", rated[1].Rating)
	}
}

func TestTiesBrokenBySourceID(t *testing.T) {
	candidates := []Candidate{
		{SourceID: 5, HostCentreID: 9},
		{SourceID: 3, HostCentreID: 9},
		{SourceID: 4, HostCentreID: 9},
	}

	rated := Sort(candidates, AffinityStrategy{})

	got := []int64{rated[0].Candidate.SourceID, rated[1].Candidate.SourceID, rated[2].Candidate.SourceID}
	want := []int64{3, 4, 5}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected deterministic source-id tie-break %v, got %v", want, got)
		}
	}
}

func TestSwappingStrategyPreservesAffinityOrdering(t *testing.T) {
	producingCentre := centreID(1)
	candidates := []Candidate{
		{SourceID: 2, HostCentreID: 9, ProducingCentreID: producingCentre},
		{SourceID: 1, HostCentreID: 1, ProducingCentreID: producingCentre},
	}

	var strategies = []Strategy{AffinityStrategy{}, AffinityStrategy{}}
	for _, s := range strategies {
		rated := Sort(candidates, s)
		if rated[0].Candidate.HostCentreID != *producingCentre {
			t.Fatalf("affinity-matched source must sort first regardless of strategy instance")
		}
	}
}
