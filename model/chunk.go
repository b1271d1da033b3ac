package model

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
)

// PageRange is a 1-indexed, inclusive page span within a PDF.
type PageRange struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// ChunkConfig controls how a primary file is split into chunk tasks.
// Unlike the per-question-paper chunking this pipeline's ancestor used,
// jokbo/lesson chunks never overlap: each page belongs to exactly one chunk.
// The extracted text labels each page with its absolute page number (see
// pdfops.ExtractRange), and page numbers in a chunk's model output are used
// as reported: no chunk-relative offset is applied to them.
type ChunkConfig struct {
	PagesPerChunk int
}

// DefaultChunkConfig returns the chunk size mandated for jokbo/lesson analysis.
func DefaultChunkConfig() ChunkConfig {
	return ChunkConfig{PagesPerChunk: 40}
}

// ChunkTask describes one unit of orchestrator work: analyze PageRange of the
// primary file against zero or more secondary files, using a specific
// credential and model tier.
type ChunkTask struct {
	JobID        string    `json:"job_id"`
	ChunkIndex   int       `json:"chunk_index"`
	PageRange    PageRange `json:"page_range"`
	TotalPages   int       `json:"total_pages"`
	Primary      FileKey   `json:"primary"`
	Secondaries  []FileKey `json:"secondaries,omitempty"`
	CredentialID string    `json:"credential_id,omitempty"`
	Mode         JobMode   `json:"mode,omitempty"`
}

// ChunkCacheBase returns the <base> path component storage.Service's
// disk-resume cache uses: sessions/<job>/chunks/<base>/chunk_NNN.json. It
// combines the job's analysis mode with the primary file's stem so a job
// analyzing several primary files never collides on chunk index alone.
func (t ChunkTask) ChunkCacheBase() string {
	stem := filepath.Base(t.Primary.Filename)
	if ext := filepath.Ext(stem); ext != "" {
		stem = strings.TrimSuffix(stem, ext)
	}
	return fmt.Sprintf("%s-%s", t.Mode, stem)
}

// ChunkResult is the outcome of running one ChunkTask through an Analyzer.
// Payload is mode-specific (see services/analyzer) and is kept as raw JSON so
// the orchestrator and disk-resume path never need to know its shape.
type ChunkResult struct {
	ChunkIndex      int             `json:"chunk_index"`
	PageRange       PageRange       `json:"page_range"`
	Payload         json.RawMessage `json:"payload,omitempty"`
	RawResponse     string          `json:"raw_response,omitempty"`
	CredentialID    string          `json:"credential_id,omitempty"`
	Retries         int             `json:"retries"`
	ErrorKind       string          `json:"error_kind,omitempty"`
	Error           string          `json:"error,omitempty"`
	DurationSeconds float64         `json:"duration_seconds,omitempty"`
}

// Succeeded reports whether the chunk produced a usable payload.
func (r ChunkResult) Succeeded() bool {
	return r.Error == "" && len(r.Payload) > 0
}

// CalculateChunks splits a document of totalPages into non-overlapping,
// page-contiguous ranges of at most config.PagesPerChunk pages each.
func CalculateChunks(totalPages int, config ChunkConfig) []PageRange {
	if totalPages <= 0 {
		return nil
	}
	if config.PagesPerChunk <= 0 {
		config.PagesPerChunk = 40
	}

	var chunks []PageRange
	for start := 1; start <= totalPages; start += config.PagesPerChunk {
		end := start + config.PagesPerChunk - 1
		if end > totalPages {
			end = totalPages
		}
		chunks = append(chunks, PageRange{Start: start, End: end})
	}
	return chunks
}
