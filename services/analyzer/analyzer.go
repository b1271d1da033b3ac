// Package analyzer holds the four analysis modes: jokbo-centric,
// lesson-centric, partial-jokbo, and exam-only. Each builds a mode-specific
// prompt over one chunk's extracted text, calls the LLM Client Adapter, and
// parses the response into the matching model.*Result shape. The
// orchestrator calls these once per chunk task; merging across chunks is
// services/merger's job, not this package's.
package analyzer

import (
	"context"
	"fmt"
	"strings"

	"github.com/jokbolink/orchestrator/model"
	"github.com/jokbolink/orchestrator/services/llmclient"
	"github.com/jokbolink/orchestrator/services/parser"
)

// Generator is the subset of llmclient.Client an Analyzer depends on, so
// tests can fake it without standing up a real credential.
type Generator interface {
	Generate(ctx context.Context, systemPrompt, userPrompt string, opts ...llmclient.GenerateOption) (string, llmclient.GenerateUsage, error)
}

// ChunkInput is the text and context an Analyzer needs for one chunk.
type ChunkInput struct {
	PrimaryFilename   string
	PageRange         model.PageRange
	TotalPages        int
	PrimaryText       string
	SecondaryFilename string // lesson filename when analyzing a jokbo chunk, and vice versa
	SecondaryText     string
	MinRelevance      int

	// FileRefs holds the UploadedFile.Name handles the chunk runner
	// uploaded for this call (primary and secondary PDFs), scoped to
	// whichever credential's Client produced them.
	FileRefs []string
}

func callAndParse(ctx context.Context, gen Generator, system, user string, fileRefs []string, target interface{}) (llmclient.GenerateUsage, error) {
	opts := []llmclient.GenerateOption{llmclient.WithMaxTokens(8192), llmclient.WithTemperature(0)}
	if len(fileRefs) > 0 {
		opts = append(opts, llmclient.WithFiles(fileRefs))
	}
	raw, usage, err := gen.Generate(ctx, system, user, opts...)
	if err != nil {
		return usage, fmt.Errorf("generate call failed: %w", err)
	}
	// An empty completion is a valid "no matches" answer: target keeps its
	// zero value (the mode's empty result) instead of failing the chunk.
	if strings.TrimSpace(raw) == "" {
		return usage, nil
	}
	if err := parser.ExtractJSONTo(raw, target); err != nil {
		return usage, fmt.Errorf("failed to parse analyzer response: %w", err)
	}
	return usage, nil
}
