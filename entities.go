package openmemory

import (
	"regexp"
	"strings"
)

// HeuristicEntityExtractor pulls capitalized proper-noun spans and a small
// set of topic keywords out of free text, the same "pull small string
// signals out of free text" texture as the sector signal lists. It needs
// no model and no network, so it is always available as the default
// EntityExtractor.
type HeuristicEntityExtractor struct{}

// NewHeuristicEntityExtractor returns the default, dependency-free
// extractor.
func NewHeuristicEntityExtractor() *HeuristicEntityExtractor {
	return &HeuristicEntityExtractor{}
}

var properNounRe = regexp.MustCompile(`\b[A-Z][a-zA-Z']{1,}(?:\s[A-Z][a-zA-Z']{1,})*\b`)

var topicSignals = []string{
	"music", "work", "school", "family", "travel", "food", "sports",
	"weather", "money", "health", "gaming", "art", "books", "movies",
}

// Extract implements EntityExtractor.
func (h *HeuristicEntityExtractor) Extract(content string) []ExtractedEntity {
	var out []ExtractedEntity
	seen := make(map[string]bool)

	for _, m := range properNounRe.FindAllString(content, -1) {
		if len(m) < 2 || seen[m] {
			continue
		}
		seen[m] = true
		out = append(out, ExtractedEntity{Text: m, Type: "name"})
	}

	lower := strings.ToLower(content)
	for _, t := range topicSignals {
		if strings.Contains(lower, t) && !seen[t] {
			seen[t] = true
			out = append(out, ExtractedEntity{Text: t, Type: "topic"})
		}
	}

	return out
}

// coOccurrenceEdges derives associative Edge candidates from entities
// shared between a new memory and its recently-extracted-entity index: any
// two memories that mention the same entity get a bidirectional
// associative edge pair of weight 0.5 (upserting them sets an existing
// edge's weight to 0.5), the mechanism that replaces the
// teacher's waypoint-association table with an edge-based graph.
func coOccurrenceEdges(newID string, newEntities []ExtractedEntity, coOccurring map[string][]string) []Edge {
	var edges []Edge
	seen := make(map[string]bool)
	for _, ent := range newEntities {
		for _, otherID := range coOccurring[strings.ToLower(ent.Text)] {
			if otherID == newID || seen[otherID] {
				continue
			}
			seen[otherID] = true
			edges = append(edges,
				Edge{SrcID: newID, DstID: otherID, Relation: defaultRelation, Weight: 0.5},
				Edge{SrcID: otherID, DstID: newID, Relation: defaultRelation, Weight: 0.5},
			)
		}
	}
	return edges
}
