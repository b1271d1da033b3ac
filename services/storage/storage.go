// Package storage is the Storage Service: the single place that reads and
// writes job state, progress, results, cancellation flags, and per-user
// token ledgers. It composes the kvstore (live state), a disk mirror (and
// optional S3-compatible object store mirror) for uploaded files and
// results, and a Postgres audit trail for history Redis doesn't keep.
package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/jokbolink/orchestrator/kvstore"
	"github.com/jokbolink/orchestrator/model"
	"github.com/jokbolink/orchestrator/services/objectstore"
)

// Service is the Storage Service.
type Service struct {
	kv          *kvstore.Store
	db          *gorm.DB
	diskRoot    string
	objectStore *objectstore.Client // nil if SPACES_ENABLED is false
	fileTTL     time.Duration
}

// Config configures a Service.
type Config struct {
	KV          *kvstore.Store
	DB          *gorm.DB
	DiskRoot    string
	ObjectStore *objectstore.Client
	FileTTL     time.Duration
}

func New(config Config) (*Service, error) {
	if config.KV == nil {
		return nil, fmt.Errorf("storage service requires a kvstore")
	}
	if err := os.MkdirAll(config.DiskRoot, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create disk root %s: %w", config.DiskRoot, err)
	}
	return &Service{
		kv:          config.KV,
		db:          config.DB,
		diskRoot:    config.DiskRoot,
		objectStore: config.ObjectStore,
		fileTTL:     config.FileTTL,
	}, nil
}

// --- files namespace ---

// PutFile mirrors uploaded file bytes to disk (and, if configured, the
// object store), returning the path other components should read it back
// from.
func (s *Service) PutFile(ctx context.Context, jobID, filename string, data []byte) (string, error) {
	dir := filepath.Join(s.diskRoot, "files", jobID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create file dir: %w", err)
	}
	path := filepath.Join(dir, filename)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write file %s: %w", path, err)
	}

	if s.objectStore != nil {
		key := objectKey(jobID, filename)
		if err := s.objectStore.PutBytes(ctx, key, data, "application/pdf"); err != nil {
			log.Printf("storage: object store mirror failed for %s, disk copy still intact: %v", key, err)
		}
	}

	return path, nil
}

// GetFile reads back uploaded file bytes, preferring disk and falling back
// to the object store mirror if the disk copy is missing (e.g. after a
// container restart with an ephemeral disk).
func (s *Service) GetFile(ctx context.Context, jobID, filename, diskPath string) ([]byte, error) {
	if data, err := os.ReadFile(diskPath); err == nil {
		return data, nil
	}
	if s.objectStore == nil {
		return nil, fmt.Errorf("file %s not found on disk and no object store mirror configured", diskPath)
	}
	return s.objectStore.GetBytes(ctx, objectKey(jobID, filename))
}

func objectKey(jobID, filename string) string {
	return fmt.Sprintf("jobs/%s/%s", jobID, filename)
}

// --- jobs namespace ---

func jobKey(jobID string) string { return fmt.Sprintf(model.RedisKeyJobState, jobID) }

// SaveJob writes the live Job document and mirrors the transition to the
// Postgres audit trail.
func (s *Service) SaveJob(ctx context.Context, job *model.Job) error {
	job.UpdatedAt = time.Now()
	ttl := s.stateTTL(job.Status)
	if err := s.kv.SetJSON(ctx, jobKey(job.JobID), job, ttl); err != nil {
		return fmt.Errorf("failed to save job %s: %w", job.JobID, err)
	}
	s.auditJob(ctx, job)
	return nil
}

func (s *Service) stateTTL(status model.JobStatus) time.Duration {
	switch status {
	case model.JobStatusCompleted:
		return 1 * time.Hour
	case model.JobStatusFailed, model.JobStatusCancelled:
		return 24 * time.Hour
	default:
		return 24 * time.Hour
	}
}

func (s *Service) auditJob(ctx context.Context, job *model.Job) {
	if s.db == nil {
		return
	}
	entry := model.JobAuditLog{
		JobID:  job.JobID,
		UserID: job.UserID,
		Mode:   string(job.Mode),
		Status: string(job.Status),
	}
	if job.Error != "" {
		entry.Message = job.Error
	}
	if err := s.db.WithContext(ctx).Create(&entry).Error; err != nil {
		log.Printf("storage: failed to write job audit log for %s: %v", job.JobID, err)
	}
}

// GetJob reads the live Job document.
func (s *Service) GetJob(ctx context.Context, jobID string) (*model.Job, error) {
	var job model.Job
	if err := s.kv.GetJSON(ctx, jobKey(jobID), &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// --- active-job namespace (for per-user concurrency/cancellation lookup) ---

func activeJobKey(userID string) string { return fmt.Sprintf(model.RedisKeyActiveJob, userID) }

func (s *Service) SetActiveJob(ctx context.Context, userID, jobID string) error {
	return s.kv.Set(ctx, activeJobKey(userID), jobID, 24*time.Hour)
}

func (s *Service) GetActiveJob(ctx context.Context, userID string) (string, error) {
	return s.kv.Get(ctx, activeJobKey(userID))
}

func (s *Service) ClearActiveJob(ctx context.Context, userID string) error {
	return s.kv.Delete(ctx, activeJobKey(userID))
}

// --- progress namespace ---
//
// progress:<job> is a Redis hash, not a JSON blob: completed_chunks is bumped
// with HINCRBY from TickProgress so concurrent chunk completions never race
// on a read-modify-write of the whole record (spec's required HINCRBY
// primitive). SaveProgress/FinalizeProgress still write the full hash in one
// pipelined batch for the coarser phase-transition updates.

func progressKey(jobID string) string { return "progress:" + jobID }

const (
	progressFieldPhase     = "phase"
	progressFieldMessage   = "message"
	progressFieldTotal     = "total_chunks"
	progressFieldCompleted = "completed_chunks"
	progressFieldPercent   = "percent"
	progressFieldStartedAt = "started_at"
	progressFieldAvg       = "avg_chunk_seconds"
	progressFieldETA       = "eta_seconds"
	progressFieldErrorKind = "error_kind"
	progressFieldUpdatedAt = "updated_at"
)

// SaveProgress writes a full progress snapshot, preserving P2's
// monotonicity invariant (total_chunks/completed_chunks never shrink across
// reinitializations) by folding in whatever was already recorded.
func (s *Service) SaveProgress(ctx context.Context, p *model.ProgressRecord) error {
	now := time.Now()
	p.UpdatedAt = now

	if existing, err := s.GetProgress(ctx, p.JobID); err == nil && existing != nil {
		if !existing.StartedAt.IsZero() && p.StartedAt.IsZero() {
			p.StartedAt = existing.StartedAt
		}
		if existing.TotalChunks > p.TotalChunks {
			p.TotalChunks = existing.TotalChunks
		}
		if existing.CompletedChunks > p.CompletedChunks {
			p.CompletedChunks = existing.CompletedChunks
		}
		if p.AvgChunkSeconds == 0 {
			p.AvgChunkSeconds = existing.AvgChunkSeconds
		}
	}
	if p.StartedAt.IsZero() {
		p.StartedAt = now
	}

	p.ETASeconds = model.CalculateETASeconds(p.AvgChunkSeconds, p.CompletedChunks, p.TotalChunks)
	p.Percent = model.CalculateProgressPercent(p.Phase, p.CompletedChunks, p.TotalChunks)
	return s.writeProgressHash(ctx, p)
}

// TickProgress atomically increments completed_chunks by inc (the progress
// API's `tick(job, inc, msg)`), folds chunkSeconds into the running average
// chunk duration, and recomputes percent/eta from the result. Called once
// per chunk as it settles, not just at coarse phase transitions.
func (s *Service) TickProgress(ctx context.Context, jobID string, inc int, chunkSeconds float64, message string) (*model.ProgressRecord, error) {
	key := progressKey(jobID)
	completed, err := s.kv.HIncrBy(ctx, key, progressFieldCompleted, int64(inc))
	if err != nil {
		return nil, fmt.Errorf("failed to tick progress for %s: %w", jobID, err)
	}

	p, err := s.GetProgress(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to reload progress for %s after tick: %w", jobID, err)
	}
	p.CompletedChunks = int(completed)
	if message != "" {
		p.Message = message
	}
	if chunkSeconds > 0 {
		p.AvgChunkSeconds = model.UpdateAvgChunkSeconds(p.AvgChunkSeconds, p.CompletedChunks, chunkSeconds)
	}
	p.ETASeconds = model.CalculateETASeconds(p.AvgChunkSeconds, p.CompletedChunks, p.TotalChunks)
	p.Percent = model.CalculateProgressPercent(p.Phase, p.CompletedChunks, p.TotalChunks)
	p.UpdatedAt = time.Now()

	if err := s.writeProgressHash(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// FinalizeProgress implements `finalize(job, msg)`: percent is pinned to
// 100 idempotently (R2). completed_chunks is only forced up to total on a
// genuine PhaseDone -- an error or cancellation (e.g. token exhaustion
// mid-run, S5) finalizes with whatever completed_chunks ticking already
// recorded, since the job never actually finished the rest.
func (s *Service) FinalizeProgress(ctx context.Context, jobID string, phase model.ProgressPhase, message string) error {
	p, err := s.GetProgress(ctx, jobID)
	if err != nil || p == nil {
		p = &model.ProgressRecord{JobID: jobID}
	}
	p.Phase = phase
	p.Message = message
	if phase == model.PhaseDone {
		p.CompletedChunks = p.TotalChunks
	}
	p.Percent = 100
	p.ETASeconds = 0
	p.UpdatedAt = time.Now()
	return s.writeProgressHash(ctx, p)
}

func (s *Service) writeProgressHash(ctx context.Context, p *model.ProgressRecord) error {
	key := progressKey(p.JobID)
	fields := map[string]interface{}{
		progressFieldPhase:     string(p.Phase),
		progressFieldMessage:   p.Message,
		progressFieldTotal:     p.TotalChunks,
		progressFieldCompleted: p.CompletedChunks,
		progressFieldPercent:   p.Percent,
		progressFieldStartedAt: p.StartedAt.Format(time.RFC3339Nano),
		progressFieldAvg:       p.AvgChunkSeconds,
		progressFieldETA:       p.ETASeconds,
		progressFieldErrorKind: p.ErrorKind,
		progressFieldUpdatedAt: p.UpdatedAt.Format(time.RFC3339Nano),
	}
	if err := s.kv.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for field, val := range fields {
			pipe.HSet(ctx, key, field, val)
		}
		return nil
	}); err != nil {
		return fmt.Errorf("failed to save progress hash for %s: %w", p.JobID, err)
	}
	return s.kv.Expire(ctx, key, 24*time.Hour)
}

func (s *Service) GetProgress(ctx context.Context, jobID string) (*model.ProgressRecord, error) {
	fields, err := s.kv.HGetAll(ctx, progressKey(jobID))
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, kvstore.ErrNotFound
	}

	p := &model.ProgressRecord{JobID: jobID}
	p.Phase = model.ProgressPhase(fields[progressFieldPhase])
	p.Message = fields[progressFieldMessage]
	p.ErrorKind = fields[progressFieldErrorKind]
	p.TotalChunks, _ = strconv.Atoi(fields[progressFieldTotal])
	p.CompletedChunks, _ = strconv.Atoi(fields[progressFieldCompleted])
	p.Percent, _ = strconv.Atoi(fields[progressFieldPercent])
	p.AvgChunkSeconds, _ = strconv.ParseFloat(fields[progressFieldAvg], 64)
	p.ETASeconds, _ = strconv.ParseFloat(fields[progressFieldETA], 64)
	if t, err := time.Parse(time.RFC3339Nano, fields[progressFieldStartedAt]); err == nil {
		p.StartedAt = t
	}
	if t, err := time.Parse(time.RFC3339Nano, fields[progressFieldUpdatedAt]); err == nil {
		p.UpdatedAt = t
	}
	return p, nil
}

// --- cancellation namespace ---

func cancelKey(jobID string) string { return fmt.Sprintf(model.RedisKeyJobCancel, jobID) }

// MarkCancelled sets the cancellation flag an in-flight orchestrator polls
// between chunks.
func (s *Service) MarkCancelled(ctx context.Context, jobID string) error {
	return s.kv.Set(ctx, cancelKey(jobID), "1", 24*time.Hour)
}

func (s *Service) IsCancelled(ctx context.Context, jobID string) (bool, error) {
	exists, err := s.kv.Exists(ctx, cancelKey(jobID))
	if err != nil {
		return false, err
	}
	return exists, nil
}

// --- results namespace ---

func resultKey(jobID string) string { return fmt.Sprintf(model.RedisKeyJobResult, jobID) }

// SaveResult stores the final merged analysis payload for a job.
func (s *Service) SaveResult(ctx context.Context, jobID string, result interface{}) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal result for %s: %w", jobID, err)
	}
	if err := s.kv.Set(ctx, resultKey(jobID), data, 1*time.Hour); err != nil {
		return fmt.Errorf("failed to save result for %s: %w", jobID, err)
	}

	dir := filepath.Join(s.diskRoot, "results")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		log.Printf("storage: failed to create results dir, disk mirror skipped: %v", err)
		return nil
	}
	if err := os.WriteFile(filepath.Join(dir, jobID+".json"), data, 0o644); err != nil {
		log.Printf("storage: failed to write disk mirror for result %s: %v", jobID, err)
	}
	if s.objectStore != nil {
		if err := s.objectStore.PutBytes(ctx, "results/"+jobID+".json", data, "application/json"); err != nil {
			log.Printf("storage: object store mirror failed for result %s: %v", jobID, err)
		}
	}
	return nil
}

// GetResult returns the raw JSON result payload, preferring Redis and
// falling back to the disk mirror if the TTL has expired.
func (s *Service) GetResult(ctx context.Context, jobID string) ([]byte, error) {
	val, err := s.kv.Get(ctx, resultKey(jobID))
	if err == nil {
		return []byte(val), nil
	}

	data, diskErr := os.ReadFile(filepath.Join(s.diskRoot, "results", jobID+".json"))
	if diskErr != nil {
		return nil, fmt.Errorf("result for %s not in kvstore (%v) or disk mirror (%v)", jobID, err, diskErr)
	}
	return data, nil
}

// --- disk-resume namespace (partial chunk results, keyed by job+chunk) ---

// chunkResultPath returns sessions/<job>/chunks/<base>/chunk_NNN.json, the
// literal on-disk ledger path spec.md names for idempotent resume (P8).
func (s *Service) chunkResultPath(jobID, base string, chunkIndex int) string {
	return filepath.Join(s.diskRoot, "sessions", jobID, "chunks", base, fmt.Sprintf("chunk_%03d.json", chunkIndex))
}

// SaveChunkResult persists one chunk's result to disk so a restarted
// orchestrator can resume a job without re-calling the LLM for chunks it
// already finished.
func (s *Service) SaveChunkResult(jobID, base string, result model.ChunkResult) error {
	path := s.chunkResultPath(jobID, base, result.ChunkIndex)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create chunk dir: %w", err)
	}
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal chunk result: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// LoadChunkResult reads back a previously saved chunk result, returning
// (nil, nil) if none exists yet (not an error -- the common path on a
// fresh job).
func (s *Service) LoadChunkResult(jobID, base string, chunkIndex int) (*model.ChunkResult, error) {
	data, err := os.ReadFile(s.chunkResultPath(jobID, base, chunkIndex))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read chunk result: %w", err)
	}
	var result model.ChunkResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal chunk result: %w", err)
	}
	return &result, nil
}

// --- token ledger namespace ---

func tokenBudgetKey(userID string) string { return "tokens:balance:" + userID }

// SpendTokens atomically debits a user's token balance, refusing (and
// leaving the balance untouched) if the balance is insufficient. On
// success it also appends a TokenLedgerEntry so the balance is always
// reconstructible from history.
func (s *Service) SpendTokens(ctx context.Context, userID, jobID string, amount int, reason string) (remaining int64, ok bool, err error) {
	remaining, ok, err = s.kv.CheckAndDecrement(ctx, tokenBudgetKey(userID), int64(amount))
	if err != nil || !ok {
		return remaining, ok, err
	}

	if s.db != nil {
		entry := model.TokenLedgerEntry{
			UserID:  userID,
			JobID:   jobID,
			Delta:   -amount,
			Reason:  reason,
			Balance: int(remaining),
		}
		if dbErr := s.db.WithContext(ctx).Create(&entry).Error; dbErr != nil {
			log.Printf("storage: failed to write token ledger entry for %s: %v", userID, dbErr)
		}
	}
	return remaining, true, nil
}

// GrantTokens credits a user's balance; the token grant endpoint is its
// only caller.
func (s *Service) GrantTokens(ctx context.Context, userID, jobID string, amount int, reason string) (int64, error) {
	balance, err := s.kv.IncrBy(ctx, tokenBudgetKey(userID), int64(amount))
	if err != nil {
		return 0, fmt.Errorf("failed to grant tokens to %s: %w", userID, err)
	}

	if s.db != nil {
		entry := model.TokenLedgerEntry{UserID: userID, JobID: jobID, Delta: amount, Reason: reason, Balance: int(balance)}
		if dbErr := s.db.WithContext(ctx).Create(&entry).Error; dbErr != nil {
			log.Printf("storage: failed to write token ledger entry for %s: %v", userID, dbErr)
		}
	}
	return balance, nil
}

// GetTokenBalance reads a user's current balance.
func (s *Service) GetTokenBalance(ctx context.Context, userID string) (int64, error) {
	val, err := s.kv.Get(ctx, tokenBudgetKey(userID))
	if err == kvstore.ErrNotFound {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	var balance int64
	if _, err := fmt.Sscanf(val, "%d", &balance); err != nil {
		return 0, fmt.Errorf("corrupt token balance for %s: %w", userID, err)
	}
	return balance, nil
}
