package model

import "time"

// ProgressPhase names a stage in a job's lifecycle, used both for the 0-100
// progress estimate and for log/event display.
type ProgressPhase string

const (
	PhaseQueued    ProgressPhase = "queued"
	PhaseUploading ProgressPhase = "uploading"
	PhaseChunking  ProgressPhase = "chunking"
	PhaseAnalyzing ProgressPhase = "analyzing"
	PhaseMerging   ProgressPhase = "merging"
	PhaseDone      ProgressPhase = "done"
	PhaseError     ProgressPhase = "error"
	PhaseCancelled ProgressPhase = "cancelled"
)

// Terminal reports whether phase is one finalize transitions into, at which
// point progress is pinned to 100 regardless of chunk counts.
func (phase ProgressPhase) Terminal() bool {
	switch phase {
	case PhaseDone, PhaseError, PhaseCancelled:
		return true
	default:
		return false
	}
}

// ProgressRecord is the live, frequently-updated companion to a Job. It is
// kept separate from Job so that a high-frequency chunk-completion update
// doesn't require re-serializing the (larger, more static) Job document,
// and is persisted as a single Redis hash (progress:<job>) so concurrent
// chunk completions can update it with an atomic HINCRBY rather than a
// read-modify-write over the whole record.
type ProgressRecord struct {
	JobID   string        `json:"job_id"`
	Phase   ProgressPhase `json:"phase"`
	Percent int           `json:"percent"`
	Message string        `json:"message"`

	TotalChunks     int `json:"total_chunks,omitempty"`
	CompletedChunks int `json:"completed_chunks,omitempty"`

	StartedAt       time.Time `json:"started_at,omitempty"`
	AvgChunkSeconds float64   `json:"avg_chunk_seconds,omitempty"`
	ETASeconds      float64   `json:"eta_seconds,omitempty"`

	ErrorKind string `json:"error_kind,omitempty"`

	UpdatedAt time.Time `json:"updated_at"`
}

// CalculateProgressPercent implements the invariant progress =
// floor(100*completed/total), capped at 99 until the phase finalizes
// (PhaseDone/PhaseError/PhaseCancelled), at which point it is always 100 --
// even if completed never caught up to total (a failed or cancelled job
// still reports a terminal 100, with the failure carried in ErrorKind).
func CalculateProgressPercent(phase ProgressPhase, completedChunks, totalChunks int) int {
	if phase.Terminal() {
		return 100
	}
	if totalChunks <= 0 || completedChunks <= 0 {
		return 0
	}
	percent := (100 * completedChunks) / totalChunks
	if percent > 99 {
		percent = 99
	}
	return percent
}

// UpdateAvgChunkSeconds folds one more completed-chunk duration into a
// running mean of how long a chunk takes, given how many chunks have
// completed so far including this one (completedSoFar >= 1).
func UpdateAvgChunkSeconds(prevAvg float64, completedSoFar int, sampleSeconds float64) float64 {
	if completedSoFar <= 1 || prevAvg <= 0 {
		return sampleSeconds
	}
	return prevAvg + (sampleSeconds-prevAvg)/float64(completedSoFar)
}

// CalculateETASeconds is the naive running-mean ETA the spec calls for:
// eta = avg_chunk_seconds * remaining. This is intentionally not smoothed --
// a more sophisticated estimator that trades monotonicity for smoothness is
// a regression, not an improvement.
func CalculateETASeconds(avgChunkSeconds float64, completedChunks, totalChunks int) float64 {
	if avgChunkSeconds <= 0 {
		return 0
	}
	remaining := totalChunks - completedChunks
	if remaining <= 0 {
		return 0
	}
	return avgChunkSeconds * float64(remaining)
}
