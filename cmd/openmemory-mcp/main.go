// openmemory-mcp exposes an openmemory engine as an MCP stdio server.
//
// Environment variables:
//
//	OPENMEMORY_DB_PATH  — SQLite database path (default: ./data/openmemory.db)
//	OPENMEMORY_MODE     — "simple" or "advanced" (default: simple)
//	GEMINI_API_KEY      — Gemini API key for embeddings, classification hints, and reflection enrichment
//
// Usage:
//
//	go install github.com/openmemory-dev/openmemory/cmd/openmemory-mcp
//	openmemory-mcp
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	openmemory "github.com/openmemory-dev/openmemory"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

func main() {
	dbPath := os.Getenv("OPENMEMORY_DB_PATH")
	if dbPath == "" {
		dbPath = "./data/openmemory.db"
	}
	mode := os.Getenv("OPENMEMORY_MODE")
	apiKey := os.Getenv("GEMINI_API_KEY")

	cfg := openmemory.Config{
		DBPath: dbPath,
		Mode:   mode,
	}
	cfg.ApplyDefaults()
	if apiKey != "" {
		cfg.EmbeddingProvider = openmemory.NewGeminiEmbedder(apiKey, cfg.VectorDim)
		cfg.Classifier = openmemory.NewHeuristicClassifier(apiKey)
		cfg.ReflectionProvider = openmemory.NewGeminiReflector(apiKey)
	}

	ctx := context.Background()
	eng, err := openmemory.New(ctx, cfg)
	if err != nil {
		log.Fatalf("openmemory init: %v", err)
	}
	defer eng.Close()

	server := mcp.NewServer(&mcp.Implementation{
		Name:    "openmemory-mcp",
		Version: "1.0.0",
	}, nil)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "add",
		Description: "Store one new memory. Routes it to a primary sector (and possibly additional resonant sectors) and returns the stored record.",
	}, addHandler(eng))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "query",
		Description: "Retrieve memories relevant to a query via sectored graph retrieval, ranked by similarity, salience, recency, and keyword overlap.",
	}, queryHandler(eng))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "get",
		Description: "Fetch one memory by id.",
	}, getHandler(eng))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "list",
		Description: "List a user's active memories, optionally filtered to sectors.",
	}, listHandler(eng))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "reinforce",
		Description: "Apply an explicit salience bump to one memory (stronger than the implicit bump a retrieval hit gives).",
	}, reinforceHandler(eng))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "delete",
		Description: "Tombstone a memory; it is purged once its grace period elapses.",
	}, deleteHandler(eng))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "run_decay",
		Description: "Run one salience-decay sweep synchronously and return the number of memories updated or purged.",
	}, runDecayHandler(eng))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "run_reflection",
		Description: "Cluster a user's memories in one sector and synthesize any new reflective observations.",
	}, runReflectionHandler(eng))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "propagate",
		Description: "Spread a salience delta outward from one memory across its associative edges.",
	}, propagateHandler(eng))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_session",
		Description: "Convenience wrapper over list: return a user's most recent memories tagged with the given session.",
	}, getSessionHandler(eng))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "inspect",
		Description: "Browse a user's recent memories. Useful for debugging what the engine has stored.",
	}, inspectHandler(eng))

	if err := server.Run(ctx, &mcp.StdioTransport{}); err != nil {
		log.Fatalf("openmemory-mcp: %v", err)
	}
}

// --- Input types ---

type addInput struct {
	UserID     string   `json:"user_id"               jsonschema:"User this memory belongs to"`
	Content    string   `json:"content"                jsonschema:"The memory content to store"`
	Tags       []string `json:"tags,omitempty"         jsonschema:"Optional free-form tags"`
	SectorHint string   `json:"sector_hint,omitempty"  jsonschema:"Optional sector (episodic, semantic, procedural, emotional, reflective): the primary sector in simple mode; in advanced mode used only before any sector has members"`
	Salience   float64  `json:"salience,omitempty"     jsonschema:"Optional initial salience 0.0-1.0 (default 0.5)"`
}

type queryInput struct {
	UserID      string   `json:"user_id"                jsonschema:"User to search memories for"`
	Query       string   `json:"query"                  jsonschema:"Search text"`
	Limit       int      `json:"limit,omitempty"        jsonschema:"Max results to return (default 10)"`
	Sectors     []string `json:"sectors,omitempty"      jsonschema:"Restrict retrieval to these sectors; default routes automatically"`
	MinSalience float64  `json:"min_salience,omitempty" jsonschema:"Drop candidates below this salience"`
	Tags        []string `json:"tags,omitempty"         jsonschema:"Keep only candidates sharing at least one of these tags"`
}

type getInput struct {
	MemoryID string `json:"memory_id" jsonschema:"Memory id to fetch"`
}

type listInput struct {
	UserID  string   `json:"user_id"           jsonschema:"User to list memories for"`
	Limit   int      `json:"limit,omitempty"   jsonschema:"Max memories to return (default 20)"`
	Sectors []string `json:"sectors,omitempty" jsonschema:"Filter to specific sectors"`
}

type reinforceInput struct {
	MemoryID string  `json:"memory_id"       jsonschema:"Memory id to reinforce"`
	Boost    float64 `json:"boost,omitempty" jsonschema:"Salience boost in [0.01, 1] (default 0.1)"`
}

type deleteInput struct {
	MemoryID string `json:"memory_id" jsonschema:"Memory id to delete"`
}

type runReflectionInput struct {
	UserID string `json:"user_id" jsonschema:"User to reflect over"`
	Sector string `json:"sector"  jsonschema:"Sector to cluster: episodic, semantic, procedural, emotional, reflective"`
}

type propagateInput struct {
	MemoryID string  `json:"memory_id" jsonschema:"Source memory id to propagate from"`
	Delta    float64 `json:"delta"     jsonschema:"Salience delta to spread outward"`
}

type getSessionInput struct {
	UserID  string `json:"user_id"            jsonschema:"User id"`
	Session string `json:"session,omitempty"  jsonschema:"Session tag to filter to; matched against stored tags"`
	Limit   int    `json:"limit,omitempty"    jsonschema:"Max memories to return (default 50)"`
}

type inspectInput struct {
	UserID  string   `json:"user_id"            jsonschema:"User id"`
	Limit   int      `json:"limit,omitempty"    jsonschema:"Max memories to list (default 20)"`
	Sectors []string `json:"sectors,omitempty"  jsonschema:"Filter to specific sectors"`
}

// --- Handlers ---

func addHandler(eng *openmemory.Engine) func(context.Context, *mcp.CallToolRequest, addInput) (*mcp.CallToolResult, any, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input addInput) (*mcp.CallToolResult, any, error) {
		m, err := eng.Add(ctx, openmemory.AddOptions{
			UserID:     input.UserID,
			Content:    input.Content,
			Tags:       input.Tags,
			SectorHint: openmemory.Sector(input.SectorHint),
			Salience:   input.Salience,
		})
		if err != nil {
			return textResult(errorJSON(err)), nil, nil
		}
		return textResult(jsonString(memoryToMap(m))), nil, nil
	}
}

func queryHandler(eng *openmemory.Engine) func(context.Context, *mcp.CallToolRequest, queryInput) (*mcp.CallToolResult, any, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input queryInput) (*mcp.CallToolResult, any, error) {
		opts := openmemory.QueryOptions{
			UserID:      input.UserID,
			Query:       input.Query,
			Limit:       input.Limit,
			MinSalience: input.MinSalience,
			Tags:        input.Tags,
		}
		for _, s := range input.Sectors {
			opts.Sectors = append(opts.Sectors, openmemory.Sector(s))
		}

		results, err := eng.Query(ctx, opts)
		if err != nil {
			return textResult(errorJSON(err)), nil, nil
		}

		out := make([]map[string]any, len(results))
		for i, r := range results {
			item := memoryToMap(r.Memory)
			item["score"] = r.Score
			item["path"] = r.Path
			out[i] = item
		}
		return textResult(jsonString(out)), nil, nil
	}
}

func getHandler(eng *openmemory.Engine) func(context.Context, *mcp.CallToolRequest, getInput) (*mcp.CallToolResult, any, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input getInput) (*mcp.CallToolResult, any, error) {
		m, err := eng.Get(ctx, input.MemoryID)
		if err != nil {
			return textResult(errorJSON(err)), nil, nil
		}
		return textResult(jsonString(memoryToMap(m))), nil, nil
	}
}

func listHandler(eng *openmemory.Engine) func(context.Context, *mcp.CallToolRequest, listInput) (*mcp.CallToolResult, any, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input listInput) (*mcp.CallToolResult, any, error) {
		limit := input.Limit
		if limit <= 0 {
			limit = 20
		}
		var sectors []openmemory.Sector
		for _, s := range input.Sectors {
			sectors = append(sectors, openmemory.Sector(s))
		}
		memories, err := eng.List(ctx, input.UserID, sectors, limit)
		if err != nil {
			return textResult(errorJSON(err)), nil, nil
		}
		return textResult(jsonString(memoriesToMaps(memories))), nil, nil
	}
}

func reinforceHandler(eng *openmemory.Engine) func(context.Context, *mcp.CallToolRequest, reinforceInput) (*mcp.CallToolResult, any, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input reinforceInput) (*mcp.CallToolResult, any, error) {
		boost := input.Boost
		if boost <= 0 {
			boost = 0.1
		}
		m, err := eng.Reinforce(ctx, input.MemoryID, boost)
		if err != nil {
			return textResult(errorJSON(err)), nil, nil
		}
		return textResult(jsonString(memoryToMap(m))), nil, nil
	}
}

func deleteHandler(eng *openmemory.Engine) func(context.Context, *mcp.CallToolRequest, deleteInput) (*mcp.CallToolResult, any, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input deleteInput) (*mcp.CallToolResult, any, error) {
		if err := eng.Delete(ctx, input.MemoryID); err != nil {
			return textResult(errorJSON(err)), nil, nil
		}
		return textResult(`{"status": "deleted"}`), nil, nil
	}
}

func runDecayHandler(eng *openmemory.Engine) func(context.Context, *mcp.CallToolRequest, struct{}) (*mcp.CallToolResult, any, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input struct{}) (*mcp.CallToolResult, any, error) {
		count, err := eng.RunDecay(ctx)
		if err != nil {
			return textResult(errorJSON(err)), nil, nil
		}
		return textResult(jsonString(map[string]any{"updated_or_purged": count})), nil, nil
	}
}

func runReflectionHandler(eng *openmemory.Engine) func(context.Context, *mcp.CallToolRequest, runReflectionInput) (*mcp.CallToolResult, any, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input runReflectionInput) (*mcp.CallToolResult, any, error) {
		memories, err := eng.RunReflection(ctx, input.UserID, openmemory.Sector(input.Sector))
		if err != nil {
			return textResult(errorJSON(err)), nil, nil
		}
		if len(memories) == 0 {
			return textResult(`{"status": "no_new_reflections"}`), nil, nil
		}
		return textResult(jsonString(memoriesToMaps(memories))), nil, nil
	}
}

func propagateHandler(eng *openmemory.Engine) func(context.Context, *mcp.CallToolRequest, propagateInput) (*mcp.CallToolResult, any, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input propagateInput) (*mcp.CallToolResult, any, error) {
		results, err := eng.Propagate(ctx, input.MemoryID, input.Delta)
		if err != nil {
			return textResult(errorJSON(err)), nil, nil
		}
		out := make([]map[string]any, len(results))
		for i, r := range results {
			out[i] = map[string]any{
				"memory_id":   r.MemoryID,
				"delta":       r.Delta,
				"path_weight": r.PathWeight,
				"depth":       r.Depth,
			}
		}
		return textResult(jsonString(out)), nil, nil
	}
}

// getSessionHandler and inspectHandler are convenience wrappers over List,
// carried over from the teacher's dedicated session/browse tools: the
// facade itself has no session concept, so both map onto user-scoped
// List calls with tag/limit filtering done here.
func getSessionHandler(eng *openmemory.Engine) func(context.Context, *mcp.CallToolRequest, getSessionInput) (*mcp.CallToolResult, any, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input getSessionInput) (*mcp.CallToolResult, any, error) {
		limit := input.Limit
		if limit <= 0 {
			limit = 50
		}
		memories, err := eng.List(ctx, input.UserID, nil, limit)
		if err != nil {
			return textResult(errorJSON(err)), nil, nil
		}
		if input.Session != "" {
			var filtered []openmemory.Memory
			for _, m := range memories {
				if hasTag(m.Tags, input.Session) {
					filtered = append(filtered, m)
				}
			}
			memories = filtered
		}
		return textResult(jsonString(memoriesToMaps(memories))), nil, nil
	}
}

func inspectHandler(eng *openmemory.Engine) func(context.Context, *mcp.CallToolRequest, inspectInput) (*mcp.CallToolResult, any, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input inspectInput) (*mcp.CallToolResult, any, error) {
		limit := input.Limit
		if limit <= 0 {
			limit = 20
		}
		var sectors []openmemory.Sector
		for _, s := range input.Sectors {
			sectors = append(sectors, openmemory.Sector(s))
		}
		memories, err := eng.List(ctx, input.UserID, sectors, limit)
		if err != nil {
			return textResult(errorJSON(err)), nil, nil
		}
		return textResult(jsonString(memoriesToMaps(memories))), nil, nil
	}
}

// --- Helpers ---

func hasTag(tags []string, tag string) bool {
	for _, t := range tags {
		if t == tag {
			return true
		}
	}
	return false
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: text},
		},
	}
}

func memoryToMap(m openmemory.Memory) map[string]any {
	return map[string]any{
		"id":             m.ID,
		"user_id":        m.UserID,
		"content":        m.Content,
		"primary_sector": m.PrimarySector,
		"sectors":        m.Sectors,
		"tags":           m.Tags,
		"salience":       m.Salience,
		"created_at":     m.CreatedAt.Format(time.RFC3339),
		"last_seen_at":   m.LastSeenAt.Format(time.RFC3339),
	}
}

func memoriesToMaps(memories []openmemory.Memory) []map[string]any {
	out := make([]map[string]any, len(memories))
	for i, m := range memories {
		out[i] = memoryToMap(m)
	}
	return out
}

func errorJSON(err error) string {
	code := "internal"
	var opErr *openmemory.Error
	if e, ok := err.(*openmemory.Error); ok {
		opErr = e
		code = opErr.Code()
	}
	return jsonString(map[string]any{"error": err.Error(), "code": code})
}

func jsonString(v any) string {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprintf(`{"error": "marshal: %v"}`, err)
	}
	return string(data)
}
