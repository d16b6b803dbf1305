package openmemory

import "testing"

func TestHeuristicEntityExtractorProperNouns(t *testing.T) {
	e := NewHeuristicEntityExtractor()
	out := e.Extract("Maria visited the Grand Canyon last summer with Tom")

	names := map[string]bool{}
	for _, ent := range out {
		if ent.Type == "name" {
			names[ent.Text] = true
		}
	}
	for _, want := range []string{"Maria", "Tom"} {
		if !names[want] {
			t.Errorf("expected %q among extracted names, got %v", want, out)
		}
	}
}

func TestHeuristicEntityExtractorTopics(t *testing.T) {
	e := NewHeuristicEntityExtractor()
	out := e.Extract("we talked about music and travel plans")

	topics := map[string]bool{}
	for _, ent := range out {
		if ent.Type == "topic" {
			topics[ent.Text] = true
		}
	}
	if !topics["music"] || !topics["travel"] {
		t.Errorf("expected music and travel topics, got %v", out)
	}
}

func TestHeuristicEntityExtractorDedupes(t *testing.T) {
	e := NewHeuristicEntityExtractor()
	out := e.Extract("Tom called Tom back about the plan")
	count := 0
	for _, ent := range out {
		if ent.Text == "Tom" {
			count++
		}
	}
	if count != 1 {
		t.Errorf("expected Tom to be deduplicated, got %d occurrences", count)
	}
}

func TestCoOccurrenceEdgesBidirectional(t *testing.T) {
	newEntities := []ExtractedEntity{{Text: "Maria", Type: "name"}}
	coOccurring := map[string][]string{"maria": {"other-1"}}

	edges := coOccurrenceEdges("new-1", newEntities, coOccurring)
	if len(edges) != 2 {
		t.Fatalf("expected one edge in each direction, got %d", len(edges))
	}

	var sawForward, sawBackward bool
	for _, e := range edges {
		if e.SrcID == "new-1" && e.DstID == "other-1" {
			sawForward = true
		}
		if e.SrcID == "other-1" && e.DstID == "new-1" {
			sawBackward = true
		}
	}
	if !sawForward || !sawBackward {
		t.Errorf("expected bidirectional edges, got %+v", edges)
	}
}

func TestCoOccurrenceEdgesSkipsSelf(t *testing.T) {
	newEntities := []ExtractedEntity{{Text: "Maria", Type: "name"}}
	coOccurring := map[string][]string{"maria": {"new-1"}}

	edges := coOccurrenceEdges("new-1", newEntities, coOccurring)
	if len(edges) != 0 {
		t.Errorf("expected no self-edges, got %+v", edges)
	}
}
