package openmemory

import "testing"

func TestClassifyPrimarySectorColdStart(t *testing.T) {
	got := ClassifyPrimarySector([]float32{1, 0}, map[Sector][]float32{}, SectorEmotional)
	if got != SectorEmotional {
		t.Errorf("cold start should fall back to hint, got %v", got)
	}
	got = ClassifyPrimarySector([]float32{1, 0}, map[Sector][]float32{}, Sector(""))
	if got != SectorSemantic {
		t.Errorf("cold start with no hint should default to semantic, got %v", got)
	}
}

func TestClassifyPrimarySectorPicksHighestCosine(t *testing.T) {
	vec := unit([]float32{1, 0})
	centroids := map[Sector][]float32{
		SectorEpisodic: unit([]float32{0, 1}),
		SectorSemantic: unit([]float32{1, 0}),
	}
	got := ClassifyPrimarySector(vec, centroids, Sector(""))
	if got != SectorSemantic {
		t.Errorf("expected semantic (matches cosine 1), got %v", got)
	}
}

func TestAdditionalSectorsThresholdAndCap(t *testing.T) {
	vec := unit([]float32{1, 1})
	centroids := map[Sector][]float32{
		SectorSemantic:   unit([]float32{1, 1}),
		SectorEpisodic:   unit([]float32{1, 0.9}),
		SectorEmotional:  unit([]float32{1, 0}),
		SectorProcedural: unit([]float32{0, 1}),
	}
	got := AdditionalSectors(vec, centroids, SectorSemantic, 0.5, 1)
	if len(got) != 1 {
		t.Fatalf("expected cap of 1 additional sector, got %d: %v", len(got), got)
	}
	if got[0] != SectorEpisodic {
		t.Errorf("expected the closest non-primary sector (episodic), got %v", got[0])
	}
}

func TestHeuristicClassifierNoAPIKey(t *testing.T) {
	c := NewHeuristicClassifier("")
	got := c.Classify("I feel really happy about how the trip went")
	if got != SectorEmotional {
		t.Errorf("expected emotional hint, got %v", got)
	}
}

func TestHeuristicClassifyProcedural(t *testing.T) {
	c := NewHeuristicClassifier("")
	sector, confidence := c.heuristicClassify("Here is the step by step method and technique to do it")
	if sector != SectorProcedural {
		t.Errorf("expected procedural, got %v (confidence %v)", sector, confidence)
	}
}
