// Package orchestrator is the Multi-API Orchestrator: it fans chunk tasks
// out across a worker pool sized to the credentials available, retries
// failed chunks with exponential backoff, resumes a restarted job from
// disk-cached chunk results, and performs one bounded adaptive split when a
// chunk looks too large rather than simply failing it.
package orchestrator

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/jokbolink/orchestrator/model"
	"github.com/jokbolink/orchestrator/services/credential"
	"github.com/jokbolink/orchestrator/services/storage"
)

// ChunkRunner executes one chunk task and returns its raw payload, or an
// error classified by model.ClassifyError. Each call must use the
// credential bound to task.CredentialID.
type ChunkRunner func(ctx context.Context, task model.ChunkTask) ([]byte, error)

// Config configures a Run invocation.
type Config struct {
	MaxRetries        int // per-chunk retry attempts before giving up
	PerKeyConcurrency int
	ChunkTimeout      time.Duration
	AllowSplit        bool // enable the one-level adaptive split retry

	// OnChunkDone, if set, is invoked once a chunk settles (whether from a
	// fresh run or a disk-cached resume) -- the spec's on_progress(task)
	// tick, invoked after each task settles rather than only at coarse
	// phase boundaries.
	OnChunkDone func(ctx context.Context, result model.ChunkResult)
}

func DefaultConfig() Config {
	return Config{
		MaxRetries:        5,
		PerKeyConcurrency: 2,
		ChunkTimeout:      4 * time.Minute,
		AllowSplit:        true,
	}
}

// Run executes every task in tasks, resuming from storage where a prior
// attempt already completed a chunk, fanning out across a worker pool
// sized min(len(tasks), len(credentialIDs)*PerKeyConcurrency), and
// returning one model.ChunkResult per task (in task order, regardless of
// completion order).
func Run(
	ctx context.Context,
	jobID string,
	tasks []model.ChunkTask,
	credentialIDs []string,
	pool *credential.Pool,
	store *storage.Service,
	runChunk ChunkRunner,
	config Config,
) []model.ChunkResult {
	results := make([]model.ChunkResult, len(tasks))

	workers := len(credentialIDs) * config.PerKeyConcurrency
	if workers <= 0 {
		workers = 1
	}
	if workers > len(tasks) {
		workers = len(tasks)
	}
	if workers == 0 {
		return results
	}

	var wg sync.WaitGroup
	semaphore := make(chan struct{}, workers)

	for i, task := range tasks {
		if cached, err := store.LoadChunkResult(jobID, task.ChunkCacheBase(), task.ChunkIndex); err == nil && cached != nil {
			results[i] = *cached
			if config.OnChunkDone != nil {
				config.OnChunkDone(ctx, *cached)
			}
			continue
		}

		wg.Add(1)
		go func(idx int, t model.ChunkTask) {
			defer wg.Done()
			semaphore <- struct{}{}
			defer func() { <-semaphore }()

			if cancelled, _ := store.IsCancelled(ctx, jobID); cancelled {
				result := model.ChunkResult{ChunkIndex: t.ChunkIndex, PageRange: t.PageRange, Error: "job cancelled", ErrorKind: string(model.ErrorKindUnknown)}
				results[idx] = result
				if config.OnChunkDone != nil {
					config.OnChunkDone(ctx, result)
				}
				return
			}

			result := runWithRetry(ctx, t, pool, store, jobID, runChunk, config, false)
			results[idx] = result

			if err := store.SaveChunkResult(jobID, t.ChunkCacheBase(), result); err != nil {
				log.Printf("orchestrator: failed to persist chunk %d result for job %s: %v", t.ChunkIndex, jobID, err)
			}
			if config.OnChunkDone != nil {
				config.OnChunkDone(ctx, result)
			}
		}(i, task)
	}

	wg.Wait()
	return results
}

func runWithRetry(
	ctx context.Context,
	task model.ChunkTask,
	pool *credential.Pool,
	store *storage.Service,
	jobID string,
	runChunk ChunkRunner,
	config Config,
	isSplitChild bool,
) model.ChunkResult {
	start := time.Now()
	result := model.ChunkResult{ChunkIndex: task.ChunkIndex, PageRange: task.PageRange, CredentialID: task.CredentialID}

	for attempt := 1; attempt <= config.MaxRetries; attempt++ {
		result.Retries = attempt

		if cancelled, _ := store.IsCancelled(ctx, jobID); cancelled {
			result.Error = "job cancelled"
			result.ErrorKind = string(model.ErrorKindUnknown)
			result.DurationSeconds = time.Since(start).Seconds()
			return result
		}

		// Every retry re-acquires from the pool rather than reusing the
		// credential that just failed: a key stuck on 429s would otherwise
		// exhaust MaxRetries against itself and never fail over (spec's
		// execute_with_failover). The first attempt keeps whatever
		// buildTasks originally assigned (important for MultiAPI spread).
		if attempt > 1 && pool != nil {
			if nextID, err := pool.Acquire(); err == nil {
				task.CredentialID = nextID
				result.CredentialID = nextID
			}
			// If the pool has nothing healthy left, retry with the
			// credential already assigned rather than giving up early.
		}

		chunkCtx, cancel := context.WithTimeout(ctx, config.ChunkTimeout)
		payload, err := runChunk(chunkCtx, task)
		cancel()

		if err == nil {
			result.Payload = payload
			result.Error = ""
			result.ErrorKind = ""
			result.CredentialID = task.CredentialID
			result.DurationSeconds = time.Since(start).Seconds()
			if pool != nil && task.CredentialID != "" {
				pool.ReportSuccess(task.CredentialID)
			}
			return result
		}

		kind, retryable := model.ClassifyError(err)
		result.Error = err.Error()
		result.ErrorKind = string(kind)

		if pool != nil && task.CredentialID != "" {
			pool.ReportFailure(ctx, task.CredentialID, err.Error())
		}

		if ctx.Err() != nil {
			result.Error = ctx.Err().Error()
			result.DurationSeconds = time.Since(start).Seconds()
			return result
		}

		if !retryable {
			result.DurationSeconds = time.Since(start).Seconds()
			return result
		}

		if config.AllowSplit && kind == model.ErrorKindTimeout && !isSplitChild {
			if sub := splitTask(task); sub != nil {
				log.Printf("orchestrator: chunk %d (pages %d-%d) timed out, splitting and retrying once", task.ChunkIndex, task.PageRange.Start, task.PageRange.End)
				merged := runSplitAndMerge(ctx, task, sub, pool, store, jobID, runChunk, config)
				merged.DurationSeconds = time.Since(start).Seconds()
				return merged
			}
		}

		if attempt < config.MaxRetries {
			backoff := time.Duration(1<<(attempt-1)) * time.Second
			select {
			case <-ctx.Done():
				result.Error = ctx.Err().Error()
				result.DurationSeconds = time.Since(start).Seconds()
				return result
			case <-time.After(backoff):
			}
		}
	}

	result.DurationSeconds = time.Since(start).Seconds()
	return result
}
