// Package extractor turns text into a knowledge graph: chunking text
// into LLM prompts, parsing the model's structured response into a
// KnowledgeGraph, merging it against an optional base graph for
// incremental builds, and routing every upstream call through a
// ratelimit.Caller so it inherits the concurrency/RPM/TPM/backoff
// discipline of that package.
package extractor

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/denghuinow/kg-api-server/internal/kgtypes"
	"github.com/denghuinow/kg-api-server/internal/ratelimit"
)

// ChatClient is the completion call the extractor drives through a
// ratelimit.Caller. Implementations estimate their own retryability via
// the Classifier passed to ratelimit.Call.
type ChatClient interface {
	// Complete sends prompt to the model and returns its text response
	// plus the actual token usage (input+output), or -1 if unreported.
	Complete(ctx context.Context, prompt string, maxTokens int, temperature, repetitionPenalty float64) (text string, usedTokens int, err error)
}

// EmbeddingClient produces vector embeddings for a batch of node names.
type EmbeddingClient interface {
	Embed(ctx context.Context, texts []string) (vectors [][]float32, usedTokens int, err error)
}

// TokenEstimator estimates the token cost of a prompt before it is sent,
// feeding the TPM budget's up-front reservation.
type TokenEstimator interface {
	Estimate(text string) int
}

// Config holds the llm.{max_tokens,temperature,repetition_penalty} knobs.
type Config struct {
	MaxTokens         int
	Temperature       float64
	RepetitionPenalty float64
}

// Adapter is the ExtractorAdapter implementation.
type Adapter struct {
	chat        ChatClient
	chatCaller  *ratelimit.Caller
	embed       EmbeddingClient
	embedCaller *ratelimit.Caller
	estimator   TokenEstimator
	cfg         Config
	isTransient ratelimit.Classifier
}

// New builds an Adapter. embed/embedCaller may be nil when a deployment
// has no embeddings endpoint configured — nodes are then written without
// the optional embeddings property.
func New(chat ChatClient, chatCaller *ratelimit.Caller, embed EmbeddingClient, embedCaller *ratelimit.Caller, estimator TokenEstimator, cfg Config, isTransient ratelimit.Classifier) *Adapter {
	return &Adapter{
		chat:        chat,
		chatCaller:  chatCaller,
		embed:       embed,
		embedCaller: embedCaller,
		estimator:   estimator,
		cfg:         cfg,
		isTransient: isTransient,
	}
}

// extractedEntity/extractedRelation are the JSON shape every chat
// completion is prompted to return, folded into a kgtypes.KnowledgeGraph
// by accumulator.
type extractedEntity struct {
	Name       string         `json:"name"`
	Type       string         `json:"type"`
	Properties map[string]any `json:"properties"`
}

type extractedRelation struct {
	Source     string         `json:"source"`
	Target     string         `json:"target"`
	Predicate  string         `json:"predicate"`
	Properties map[string]any `json:"properties"`
}

type extraction struct {
	Entities  []extractedEntity   `json:"entities"`
	Relations []extractedRelation `json:"relations"`
}

const extractionPrompt = `Extract entities and relations from the text below as JSON matching exactly this shape:
{"entities":[{"name":"...","type":"...","properties":{}}],"relations":[{"source":"...","target":"...","predicate":"...","properties":{}}]}
Respond with JSON only, no commentary.

TEXT:
%s`

// Build produces a KnowledgeGraph from chunks, optionally merged against
// base for an incremental update. base is never mutated — the returned
// graph is always a fresh set of nodes/edges to write under the new
// version.
func (a *Adapter) Build(ctx context.Context, chunks []string, base *kgtypes.KnowledgeGraph) (*kgtypes.KnowledgeGraph, error) {
	merged := newAccumulator(base)

	for _, chunk := range chunks {
		prompt := fmt.Sprintf(extractionPrompt, chunk)
		estimate := a.estimator.Estimate(prompt) + a.cfg.MaxTokens

		text, err := ratelimit.Call(ctx, a.chatCaller, estimate, a.isTransient, func(ctx context.Context) (string, int, error) {
			return a.chat.Complete(ctx, prompt, a.cfg.MaxTokens, a.cfg.Temperature, a.cfg.RepetitionPenalty)
		})
		if err != nil {
			return nil, fmt.Errorf("extractor: chat completion: %w", err)
		}

		var parsed extraction
		if err := json.Unmarshal([]byte(extractJSON(text)), &parsed); err != nil {
			return nil, fmt.Errorf("extractor: parse model response: %w", err)
		}
		merged.addEntities(parsed.Entities)
		merged.addRelations(parsed.Relations)
	}

	if a.embed != nil && a.embedCaller != nil {
		if err := a.embedNodes(ctx, merged); err != nil {
			return nil, err
		}
	}

	return merged.graph(), nil
}

// extractJSON trims any surrounding prose/code fences a chat model adds
// despite being asked for JSON only.
func extractJSON(text string) string {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	start := strings.IndexByte(text, '{')
	end := strings.LastIndexByte(text, '}')
	if start < 0 || end < 0 || end < start {
		return text
	}
	return text[start : end+1]
}

func (a *Adapter) embedNodes(ctx context.Context, merged *accumulator) error {
	names := merged.nodeNames()
	if len(names) == 0 {
		return nil
	}
	estimate := 0
	for _, n := range names {
		estimate += a.estimator.Estimate(n)
	}

	vectors, err := ratelimit.Call(ctx, a.embedCaller, estimate, a.isTransient, func(ctx context.Context) ([][]float32, int, error) {
		return a.embed.Embed(ctx, names)
	})
	if err != nil {
		return fmt.Errorf("extractor: embeddings: %w", err)
	}
	for i, name := range names {
		if i < len(vectors) {
			merged.setEmbedding(name, vectors[i])
		}
	}
	return nil
}
