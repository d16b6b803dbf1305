package openmemory

import (
	"bytes"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"strings"
	"time"
)

// ClassifyPrimarySector selects the authoritative primary sector for a new
// memory. The decision is the identity-centroid cosine rule: compare the
// candidate vector against each sector's running-mean identity centroid
// and pick the highest cosine match; an empty-store cold start (no
// centroids yet) falls back to
// hint if supplied, else SectorSemantic. This is the spec-mandated,
// deterministic classification path — SectorClassifier implementations
// below feed hint only, they never decide directly.
func ClassifyPrimarySector(vec []float32, centroids map[Sector][]float32, hint Sector) Sector {
	best := Sector("")
	bestScore := -2.0
	for _, sec := range AllSectors {
		c, ok := centroids[sec]
		if !ok || len(c) == 0 {
			continue
		}
		score := cosine(vec, c)
		if score > bestScore {
			bestScore = score
			best = sec
		}
	}
	if best == "" {
		if ValidSector(hint) {
			return hint
		}
		return SectorSemantic
	}
	return best
}

// AdditionalSectors returns every sector (other than primary) whose
// identity centroid scores above thetaMulti, capped at maxExtra, so a
// memory can be indexed under more than one sector when it genuinely
// resonates with more than one.
func AdditionalSectors(vec []float32, centroids map[Sector][]float32, primary Sector, thetaMulti float64, maxExtra int) []Sector {
	type scored struct {
		sec   Sector
		score float64
	}
	var candidates []scored
	for _, sec := range AllSectors {
		if sec == primary {
			continue
		}
		c, ok := centroids[sec]
		if !ok || len(c) == 0 {
			continue
		}
		score := cosine(vec, c)
		if score >= thetaMulti {
			candidates = append(candidates, scored{sec, score})
		}
	}
	for i := 0; i < len(candidates); i++ {
		for j := i + 1; j < len(candidates); j++ {
			if candidates[j].score > candidates[i].score {
				candidates[i], candidates[j] = candidates[j], candidates[i]
			}
		}
	}
	if len(candidates) > maxExtra {
		candidates = candidates[:maxExtra]
	}
	out := make([]Sector, 0, len(candidates))
	for _, c := range candidates {
		out = append(out, c.sec)
	}
	return out
}

// HeuristicClassifier determines a hint sector via keyword matching, with
// optional Gemini disambiguation below a confidence floor. Implements
// SectorClassifier. Retained from the teacher almost verbatim: its
// keyword-signal lists are a strong hint source even though classification
// authority now lives in ClassifyPrimarySector.
type HeuristicClassifier struct {
	apiKey string
	client *http.Client
}

// NewHeuristicClassifier creates a sector hint provider. If apiKey is
// empty, only heuristic classification is used (no LLM fallback).
func NewHeuristicClassifier(apiKey string) *HeuristicClassifier {
	return &HeuristicClassifier{
		apiKey: apiKey,
		client: &http.Client{Timeout: 5 * time.Second},
	}
}

// Classify implements SectorClassifier.
func (c *HeuristicClassifier) Classify(content string) Sector {
	sector, confidence := c.heuristicClassify(content)
	if confidence >= 0.6 {
		return sector
	}
	if c.apiKey != "" {
		if geminiSector, err := c.geminiClassify(content); err == nil {
			return geminiSector
		} else {
			log.Printf("[openmemory] Gemini classify hint failed: %v", err)
		}
	}
	return sector
}

func (c *HeuristicClassifier) heuristicClassify(content string) (Sector, float64) {
	lower := strings.ToLower(content)

	scores := map[Sector]float64{
		SectorEpisodic: 0, SectorSemantic: 0, SectorProcedural: 0,
		SectorEmotional: 0, SectorReflective: 0,
	}

	episodicSignals := []string{
		"last time", "remember when", "yesterday", "came in", "visited",
		"was here", "stopped by", "showed up", "dropped by", "earlier",
		"that time", "the other day", "first time", "came back", "returned",
	}
	for _, s := range episodicSignals {
		if strings.Contains(lower, s) {
			scores[SectorEpisodic] += 0.3
		}
	}

	semanticSignals := []string{
		"likes", "prefers", "is a", "works at", "always", "favorite",
		"usually", "enjoys", "listens to", "fan of", "into", "plays",
		"from", "lives in", "speaks", "knows about",
	}
	for _, s := range semanticSignals {
		if strings.Contains(lower, s) {
			scores[SectorSemantic] += 0.3
		}
	}

	proceduralSignals := []string{
		"how to", "can do", "knows how", "skill", "technique",
		"method", "approach", "process", "step", "instruction",
	}
	for _, s := range proceduralSignals {
		if strings.Contains(lower, s) {
			scores[SectorProcedural] += 0.3
		}
	}

	emotionalSignals := []string{
		"feel", "love", "hate", "happy", "sad", "enjoy", "afraid",
		"angry", "excited", "nervous", "comfortable", "miss", "appreciate",
		"friendly", "rude", "kind", "warm", "cold", "annoyed", "grateful",
	}
	for _, s := range emotionalSignals {
		if strings.Contains(lower, s) {
			scores[SectorEmotional] += 0.3
		}
	}

	reflectiveSignals := []string{
		"pattern", "notice that", "tend to", "seem to", "often",
		"every time", "consistently", "in general", "overall",
		"reflects", "suggests", "implies", "correlat",
	}
	for _, s := range reflectiveSignals {
		if strings.Contains(lower, s) {
			scores[SectorReflective] += 0.3
		}
	}

	bestSector := SectorSemantic
	bestScore := 0.0
	for sector, score := range scores {
		if score > bestScore {
			bestScore = score
			bestSector = sector
		}
	}

	confidence := bestScore
	if confidence > 1.0 {
		confidence = 1.0
	}
	return bestSector, confidence
}

func (c *HeuristicClassifier) geminiClassify(content string) (Sector, error) {
	url := "https://generativelanguage.googleapis.com/v1beta/models/gemini-2.5-flash-lite:generateContent?key=" + c.apiKey

	prompt := `Classify this memory into exactly one sector. Reply with ONLY the sector name, nothing else.
Sectors: episodic (events/experiences), semantic (facts/knowledge), emotional (feelings/sentiment), procedural (skills/how-to), reflective (patterns/insights)

Memory: "` + content + `"`

	reqBody := map[string]any{
		"contents": []map[string]any{
			{"role": "user", "parts": []map[string]any{{"text": prompt}}},
		},
		"generationConfig": map[string]any{"maxOutputTokens": 10, "temperature": 0.0},
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return SectorSemantic, err
	}

	req, err := http.NewRequest("POST", url, bytes.NewBuffer(jsonData))
	if err != nil {
		return SectorSemantic, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return SectorSemantic, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return SectorSemantic, &classifyError{status: resp.StatusCode, body: string(body)}
	}

	var geminiResp struct {
		Candidates []struct {
			Content struct {
				Parts []struct {
					Text string `json:"text"`
				} `json:"parts"`
			} `json:"content"`
		} `json:"candidates"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&geminiResp); err != nil {
		return SectorSemantic, err
	}
	if len(geminiResp.Candidates) == 0 || len(geminiResp.Candidates[0].Content.Parts) == 0 {
		return SectorSemantic, &classifyError{body: "empty response"}
	}

	text := strings.TrimSpace(strings.ToLower(geminiResp.Candidates[0].Content.Parts[0].Text))
	switch {
	case strings.Contains(text, "episodic"):
		return SectorEpisodic, nil
	case strings.Contains(text, "semantic"):
		return SectorSemantic, nil
	case strings.Contains(text, "procedural"):
		return SectorProcedural, nil
	case strings.Contains(text, "emotional"):
		return SectorEmotional, nil
	case strings.Contains(text, "reflective"):
		return SectorReflective, nil
	default:
		return SectorSemantic, nil
	}
}

type classifyError struct {
	status int
	body   string
}

func (e *classifyError) Error() string {
	if e.status > 0 {
		return "gemini classify " + http.StatusText(e.status) + ": " + e.body
	}
	return "gemini classify: " + e.body
}
