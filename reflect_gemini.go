package openmemory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// GeminiReflector rephrases a deterministically-drafted reflection into
// more natural prose via Gemini. Implements ReflectionProvider. It never
// decides cluster membership or salience — those stay in reflect.go's
// deterministic path — it only rewrites the draft's wording, and on any
// failure the caller keeps the draft untouched.
type GeminiReflector struct {
	apiKey string
	model  string
	client *http.Client
}

// NewGeminiReflector creates a reflection-enrichment provider using
// Gemini.
func NewGeminiReflector(apiKey string) *GeminiReflector {
	return &GeminiReflector{
		apiKey: apiKey,
		model:  "gemini-2.5-flash-lite",
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

// Enrich implements ReflectionProvider.
func (r *GeminiReflector) Enrich(ctx context.Context, cluster []Memory, draft string) (string, error) {
	if r.apiKey == "" {
		return "", fmt.Errorf("no API key for reflection enrichment")
	}

	prompt := buildEnrichPrompt(cluster, draft)
	url := "https://generativelanguage.googleapis.com/v1beta/models/" + r.model + ":generateContent?key=" + r.apiKey

	reqBody := map[string]any{
		"contents": []map[string]any{
			{"role": "user", "parts": []map[string]any{{"text": prompt}}},
		},
		"generationConfig": map[string]any{
			"maxOutputTokens": 256,
			"temperature":     0.4,
		},
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewBuffer(jsonData))
	if err != nil {
		return "", fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("http: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("gemini reflect enrich %d: %s", resp.StatusCode, string(body[:min(len(body), 300)]))
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
		return "", fmt.Errorf("decode: %w", err)
	}
	if len(geminiResp.Candidates) == 0 || len(geminiResp.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("empty response")
	}

	return strings.TrimSpace(geminiResp.Candidates[0].Content.Parts[0].Text), nil
}

func buildEnrichPrompt(cluster []Memory, draft string) string {
	var b strings.Builder
	b.WriteString("Rewrite the following observation about a recurring memory pattern into one natural, concise sentence. Keep the meaning exactly; do not invent new facts.\n\n")
	b.WriteString("Observation: ")
	b.WriteString(draft)
	b.WriteString("\n\nSupporting memories:\n")
	for i, m := range cluster {
		if i >= 8 {
			break
		}
		fmt.Fprintf(&b, "- %s\n", m.Content)
	}
	b.WriteString("\nReply with only the rewritten sentence.")
	return b.String()
}
