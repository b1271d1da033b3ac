package model

import "time"

// JobMode selects which analyzer the orchestrator fans out to.
type JobMode string

const (
	ModeJokboCentric  JobMode = "jokbo_centric"
	ModeLessonCentric JobMode = "lesson_centric"
	ModePartialJokbo  JobMode = "partial_jokbo"
	ModeExamOnly      JobMode = "exam_only"
)

// ModelTier picks which LLM model a chunk call is billed and routed against.
type ModelTier string

const (
	TierFlash ModelTier = "flash"
	TierPro   ModelTier = "pro"
)

// JobStatus represents the lifecycle state of a Job.
type JobStatus string

const (
	JobStatusQueued     JobStatus = "queued"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusCancelled  JobStatus = "cancelled"
)

// FileKey identifies one uploaded jokbo or lesson PDF: its logical name, where
// it is mirrored on disk, and how many pages it has (filled in once the PDF
// has been opened at least once).
type FileKey struct {
	Filename   string `json:"filename"`
	StoredPath string `json:"stored_path"`
	Pages      int    `json:"pages,omitempty"`
}

// Job is the durable description of one analysis run: what to analyze, with
// which mode/tier, and the budget it is allowed to spend. It is written to
// Redis as the live source of truth (job:state:<id>) and mirrored to Postgres
// as an append-only audit row whenever its status transitions.
type Job struct {
	JobID  string    `json:"job_id"`
	UserID string    `json:"user_id"`
	Mode   JobMode   `json:"mode"`
	Tier   ModelTier `json:"tier"`
	Status JobStatus `json:"status"`

	MultiAPI     bool `json:"multi_api"`
	MinRelevance int  `json:"min_relevance"`

	JokboKeys  []FileKey `json:"jokbo_keys"`
	LessonKeys []FileKey `json:"lesson_keys"`

	TotalChunks     int `json:"total_chunks"`
	CompletedChunks int `json:"completed_chunks"`
	FailedChunks    int `json:"failed_chunks"`

	JobTokenBudget int `json:"job_token_budget"`
	JobTokenSpent  int `json:"job_token_spent"`

	Error     string `json:"error,omitempty"`
	ErrorKind string `json:"error_kind,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Redis key patterns for job/progress/cancellation/lock state.
const (
	RedisKeyJobState  = "job:state:%s"
	RedisKeyActiveJob = "job:active:%s"
	RedisKeyJobLock   = "job:lock:%s"
	RedisKeyJobCancel = "job:cancel:%s"
	RedisKeyJobResult = "job:result:%s"
)
