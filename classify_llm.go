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

// LLMClassifier provides synchronous heuristic hinting with async LLM
// reclassification of the stored primary sector. Classify() returns the
// heuristic hint immediately (zero added latency on the write path);
// SubmitForReclassification queues a background Gemini call that updates
// the stored primary_sector if the LLM disagrees. It never overrides
// ClassifyPrimarySector's identity-centroid decision at write time — only
// a later, explicit async correction.
type LLMClassifier struct {
	heuristic *HeuristicClassifier
	apiKey    string
	baseURL   string
	client    *http.Client
	store     *Store
	reclassCh chan reclassRequest
	done      chan struct{}
}

type reclassRequest struct {
	memoryID string
	content  string
}

const (
	reclassBufferSize = 64
	reclassTimeout    = 10 * time.Second
	reclassDelay      = 200 * time.Millisecond
)

// NewLLMClassifier creates a classifier that hints synchronously via
// heuristics and reclassifies asynchronously via Gemini. The background
// worker starts immediately and runs until Close.
func NewLLMClassifier(apiKey string, store *Store) *LLMClassifier {
	lc := &LLMClassifier{
		heuristic: NewHeuristicClassifier(""),
		apiKey:    apiKey,
		baseURL:   "https://generativelanguage.googleapis.com/v1beta/models/gemini-2.5-flash-lite:generateContent",
		client:    &http.Client{Timeout: reclassTimeout},
		store:     store,
		reclassCh: make(chan reclassRequest, reclassBufferSize),
		done:      make(chan struct{}),
	}
	go lc.worker()
	return lc
}

// Classify implements SectorClassifier by returning the heuristic hint.
func (lc *LLMClassifier) Classify(content string) Sector {
	sector, _ := lc.heuristic.heuristicClassify(content)
	return sector
}

// SubmitForReclassification queues a memory for async LLM reclassification.
// Non-blocking: a full buffer drops the request and keeps the existing
// sector, which is an acceptable degradation.
func (lc *LLMClassifier) SubmitForReclassification(memoryID string, content string) {
	select {
	case lc.reclassCh <- reclassRequest{memoryID: memoryID, content: content}:
	default:
	}
}

// Close stops the background worker and waits for it to drain.
func (lc *LLMClassifier) Close() {
	close(lc.reclassCh)
	<-lc.done
}

func (lc *LLMClassifier) worker() {
	defer close(lc.done)
	for req := range lc.reclassCh {
		lc.reclassify(req)
		time.Sleep(reclassDelay)
	}
}

func (lc *LLMClassifier) reclassify(req reclassRequest) {
	llmSector, err := lc.llmClassify(req.content)
	if err != nil {
		log.Printf("[openmemory] LLM reclassify failed for %s: %v", req.memoryID, err)
		return
	}

	heuristicSector, _ := lc.heuristic.heuristicClassify(req.content)
	if llmSector == heuristicSector {
		return
	}

	if err := lc.store.UpdateMemorySector(req.memoryID, llmSector); err != nil {
		log.Printf("[openmemory] update sector failed for %s: %v", req.memoryID, err)
		return
	}
	log.Printf("[openmemory] reclassified %s: %s -> %s", req.memoryID, heuristicSector, llmSector)
}

func (lc *LLMClassifier) llmClassify(content string) (Sector, error) {
	url := lc.baseURL + "?key=" + lc.apiKey

	prompt := `Classify this memory into exactly one cognitive sector. Reply with ONLY the sector name, nothing else.

Sectors:
- episodic: specific events, experiences, things that happened at a particular time
- semantic: facts, knowledge, preferences, stable truths
- procedural: skills, techniques, how-to knowledge, learned methods
- emotional: feelings, sentiments, emotional reactions, moods
- reflective: patterns, meta-observations, insights connecting multiple experiences

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

	resp, err := lc.client.Do(req)
	if err != nil {
		return SectorSemantic, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return SectorSemantic, &classifyError{status: resp.StatusCode, body: string(body[:min(len(body), 300)])}
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
