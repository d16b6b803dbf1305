package openmemory

import "testing"

func TestSimHashNearDuplicate(t *testing.T) {
	a := SimHash("The cat sat on the warm windowsill this morning")
	b := SimHash("The cat sat on the warm windowsill this afternoon")
	if !IsNearDuplicate(a, b, 6) {
		t.Errorf("near-identical sentences should be near-duplicates (hamming=%d)", HammingDistance(a, b))
	}
}

func TestSimHashDistinctText(t *testing.T) {
	a := SimHash("The quarterly revenue report shows strong growth in Europe")
	b := SimHash("My favorite hiking trail has a beautiful waterfall at the summit")
	if HammingDistance(a, b) < 10 {
		t.Errorf("unrelated sentences should have a large hamming distance, got %d", HammingDistance(a, b))
	}
}

func TestSimHashEmptyText(t *testing.T) {
	if SimHash("") != 0 {
		t.Error("empty text should fingerprint to zero")
	}
}

func TestKeywordsFiltersStopWords(t *testing.T) {
	kws := Keywords("The quick brown fox jumps over the lazy dog", 3)
	for _, kw := range kws {
		if stopWords[kw] {
			t.Errorf("stop word %q leaked into keywords", kw)
		}
	}
	found := false
	for _, kw := range kws {
		if kw == "quick" {
			found = true
		}
	}
	if !found {
		t.Error("expected 'quick' among extracted keywords")
	}
}

func TestKeywordOverlapJaccard(t *testing.T) {
	a := []string{"music", "guitar", "concert"}
	b := []string{"music", "guitar", "painting"}
	got := KeywordOverlap(a, b)
	want := 2.0 / 4.0
	if got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestKeywordOverlapEmpty(t *testing.T) {
	if KeywordOverlap(nil, []string{"x"}) != 0 {
		t.Error("empty set should have zero overlap")
	}
}

func TestKeywordIndexCapsPerKeyword(t *testing.T) {
	idx := newKeywordIndex(2)
	idx.Add("m1", []string{"music"})
	idx.Add("m2", []string{"music"})
	idx.Add("m3", []string{"music"})
	got := idx.Candidates([]string{"music"})
	if len(got) != 2 {
		t.Fatalf("expected cap of 2 entries, got %d", len(got))
	}
	if got[0] != "m2" || got[1] != "m3" {
		t.Errorf("expected the most recent entries to survive, got %v", got)
	}
}
