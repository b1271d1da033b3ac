package orchestrator

import (
	"context"
	"encoding/json"

	"github.com/jokbolink/orchestrator/model"
	"github.com/jokbolink/orchestrator/services/credential"
	"github.com/jokbolink/orchestrator/services/storage"
)

// splitTask halves a chunk task's page range into two sub-tasks, or
// returns nil if the range is already too small to split (a single page).
func splitTask(task model.ChunkTask) []model.ChunkTask {
	start, end := task.PageRange.Start, task.PageRange.End
	if end <= start {
		return nil
	}
	mid := start + (end-start)/2

	left := task
	left.PageRange = model.PageRange{Start: start, End: mid}
	right := task
	right.PageRange = model.PageRange{Start: mid + 1, End: end}
	return []model.ChunkTask{left, right}
}

// rawResultEnvelope lets split halves be concatenated without the
// orchestrator needing to know the mode-specific payload shape; the
// merger package (operating at the job level, not the chunk level)
// already tolerates multiple chunk payloads with overlapping page ranges,
// so this simply forwards both halves as a JSON array for the caller to
// flatten during its own merge pass.
type rawResultEnvelope struct {
	Parts []json.RawMessage `json:"split_parts"`
}

// UnwrapPayloads returns the constituent payloads of a ChunkResult: either
// the single payload as-is, or (if the chunk was adaptively split) each
// half's payload separately, so callers decoding into a mode-specific
// result type never need to know a split happened.
func UnwrapPayloads(payload json.RawMessage) []json.RawMessage {
	var envelope rawResultEnvelope
	if err := json.Unmarshal(payload, &envelope); err == nil && len(envelope.Parts) > 0 {
		return envelope.Parts
	}
	return []json.RawMessage{payload}
}

// runSplitAndMerge retries both halves of a timed-out chunk (one retry
// level only -- halves never split further) and combines their payloads
// into a single envelope so the rest of the pipeline still sees one
// ChunkResult per original task.
func runSplitAndMerge(
	ctx context.Context,
	original model.ChunkTask,
	halves []model.ChunkTask,
	pool *credential.Pool,
	store *storage.Service,
	jobID string,
	runChunk ChunkRunner,
	config Config,
) model.ChunkResult {
	var parts []json.RawMessage
	var lastErr string
	var lastKind string
	var lastCredential string
	var totalDuration float64

	for _, half := range halves {
		r := runWithRetry(ctx, half, pool, store, jobID, runChunk, config, true)
		totalDuration += r.DurationSeconds
		if r.Succeeded() {
			if r.CredentialID != "" {
				lastCredential = r.CredentialID
			}
			parts = append(parts, r.Payload)
		} else {
			lastErr = r.Error
			lastKind = r.ErrorKind
		}
	}

	if lastCredential == "" {
		lastCredential = original.CredentialID
	}
	result := model.ChunkResult{ChunkIndex: original.ChunkIndex, PageRange: original.PageRange, CredentialID: lastCredential, DurationSeconds: totalDuration}
	if len(parts) == 0 {
		result.Error = lastErr
		result.ErrorKind = lastKind
		return result
	}

	envelope := rawResultEnvelope{Parts: parts}
	data, err := json.Marshal(envelope)
	if err != nil {
		result.Error = err.Error()
		result.ErrorKind = string(model.ErrorKindUnknown)
		return result
	}
	result.Payload = data
	return result
}
