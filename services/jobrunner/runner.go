// Package jobrunner is the Job Runner / Task Layer entrypoint: it turns a
// model.Job into chunk tasks, runs them through the Multi-API Orchestrator,
// merges the results, and writes the final document to the Storage
// Service. Cancellation is tracked with an activeJobs map of job ID to
// context.CancelFunc, the same shape a batch-ingest service would use to
// let an HTTP handler cancel work running in a separate goroutine.
package jobrunner

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/jokbolink/orchestrator/model"
	"github.com/jokbolink/orchestrator/services/analyzer"
	"github.com/jokbolink/orchestrator/services/credential"
	"github.com/jokbolink/orchestrator/services/llmclient"
	"github.com/jokbolink/orchestrator/services/merger"
	"github.com/jokbolink/orchestrator/services/orchestrator"
	"github.com/jokbolink/orchestrator/services/pdfops"
	"github.com/jokbolink/orchestrator/services/storage"
)

// Runner wires together the services needed to execute a Job end to end.
type Runner struct {
	store     *storage.Service
	pool      *credential.Pool
	extractor *pdfops.Extractor
	newClient func(credentialID string) *llmclient.Client

	flashTokensPerChunk int
	proTokensPerChunk   int
	perKeyConcurrency   int

	mu         sync.Mutex
	activeJobs map[string]context.CancelFunc
}

// Config configures a Runner.
type Config struct {
	Store               *storage.Service
	Pool                *credential.Pool
	Extractor            *pdfops.Extractor
	NewClient            func(credentialID string) *llmclient.Client
	FlashTokensPerChunk  int
	ProTokensPerChunk    int
	PerKeyConcurrency    int
}

func New(config Config) *Runner {
	return &Runner{
		store:               config.Store,
		pool:                config.Pool,
		extractor:            config.Extractor,
		newClient:            config.NewClient,
		flashTokensPerChunk:  config.FlashTokensPerChunk,
		proTokensPerChunk:    config.ProTokensPerChunk,
		perKeyConcurrency:    config.PerKeyConcurrency,
		activeJobs:           make(map[string]context.CancelFunc),
	}
}

// tokensPerChunk returns the per-chunk token cost for a tier.
func (r *Runner) tokensPerChunk(tier model.ModelTier) int {
	if tier == model.TierPro {
		return r.proTokensPerChunk
	}
	return r.flashTokensPerChunk
}

// Start launches RunJob in a background goroutine, tracking its
// cancellation function under job.JobID so Cancel can stop it later.
func (r *Runner) Start(job *model.Job) {
	ctx, cancel := context.WithCancel(context.Background())

	r.mu.Lock()
	r.activeJobs[job.JobID] = cancel
	r.mu.Unlock()

	go func() {
		defer func() {
			r.mu.Lock()
			delete(r.activeJobs, job.JobID)
			r.mu.Unlock()
			cancel()
		}()

		if err := r.RunJob(ctx, job); err != nil {
			log.Printf("jobrunner: job %s finished with error: %v", job.JobID, err)
		}
	}()
}

// Cancel marks a job cancelled in storage and cancels its running context,
// if any. It's safe to call for a job that already finished or was never
// started locally (the storage flag still lets an orchestrator worker on
// a resumed run notice the cancellation).
func (r *Runner) Cancel(ctx context.Context, jobID string) error {
	if err := r.store.MarkCancelled(ctx, jobID); err != nil {
		return fmt.Errorf("failed to mark job %s cancelled: %w", jobID, err)
	}

	r.mu.Lock()
	cancel, ok := r.activeJobs[jobID]
	r.mu.Unlock()
	if ok {
		cancel()
	}
	return nil
}

// buildTasks expands a Job's file keys into one ChunkTask per page range,
// assigning credentials round-robin across however many the pool could
// supply (1 unless job.MultiAPI).
func (r *Runner) buildTasks(job *model.Job) ([]model.ChunkTask, error) {
	primaryKeys := job.JokboKeys
	secondaryKeys := job.LessonKeys
	if job.Mode == model.ModeLessonCentric || job.Mode == model.ModePartialJokbo {
		primaryKeys = job.LessonKeys
		secondaryKeys = job.JokboKeys
	}
	if len(primaryKeys) == 0 {
		return nil, fmt.Errorf("job %s has no primary files for mode %s", job.JobID, job.Mode)
	}

	chunkConfig := model.DefaultChunkConfig()
	var tasks []model.ChunkTask
	chunkIndex := 0
	for _, primary := range primaryKeys {
		ranges := model.CalculateChunks(primary.Pages, chunkConfig)
		for _, pr := range ranges {
			tasks = append(tasks, model.ChunkTask{
				JobID:       job.JobID,
				Mode:        job.Mode,
				ChunkIndex:  chunkIndex,
				PageRange:   pr,
				TotalPages:  primary.Pages,
				Primary:     primary,
				Secondaries: secondaryKeys,
			})
			chunkIndex++
		}
	}

	want := 1
	if job.MultiAPI {
		want = len(tasks)
	}
	credentialIDs := r.pool.AcquireN(want)
	if len(credentialIDs) == 0 {
		return nil, credential.ErrNoCredentialAvailable
	}
	for i := range tasks {
		tasks[i].CredentialID = credentialIDs[i%len(credentialIDs)]
	}

	return tasks, nil
}

// RunJob executes a full analysis job: chunking, orchestrated analysis,
// merging, and persisting the result. It updates job/progress state in
// storage as it goes so a client polling GET /jobs/:id sees live progress.
func (r *Runner) RunJob(ctx context.Context, job *model.Job) error {
	job.Status = model.JobStatusProcessing
	r.saveProgress(ctx, job, model.PhaseChunking, "calculating chunks")
	if err := r.store.SaveJob(ctx, job); err != nil {
		return err
	}

	tasks, err := r.buildTasks(job)
	if err != nil {
		return r.fail(ctx, job, model.ErrorKindUnknown, err)
	}
	job.TotalChunks = len(tasks)

	credentialIDs := make([]string, 0, len(tasks))
	seen := make(map[string]struct{})
	for _, t := range tasks {
		if _, ok := seen[t.CredentialID]; !ok {
			seen[t.CredentialID] = struct{}{}
			credentialIDs = append(credentialIDs, t.CredentialID)
		}
	}

	r.saveProgress(ctx, job, model.PhaseAnalyzing, "running chunk analysis")

	runChunk, tokensSpent := r.makeChunkRunner(job)
	orchConfig := orchestrator.DefaultConfig()
	orchConfig.PerKeyConcurrency = r.perKeyConcurrency
	// Ticks the Progress Record after every chunk settles (the spec's
	// on_progress(task) hook), not just at the three coarse phase
	// transitions saveProgress covers. A failed chunk only updates the
	// message; it is not counted in completed_chunks.
	orchConfig.OnChunkDone = func(tickCtx context.Context, result model.ChunkResult) {
		msg := fmt.Sprintf("chunk %d/%d analyzed", result.ChunkIndex+1, job.TotalChunks)
		inc, seconds := 1, result.DurationSeconds
		if !result.Succeeded() {
			msg = fmt.Sprintf("chunk %d failed: %s", result.ChunkIndex, result.Error)
			inc, seconds = 0, 0
		}
		if _, err := r.store.TickProgress(tickCtx, job.JobID, inc, seconds, msg); err != nil {
			log.Printf("jobrunner: failed to tick progress for job %s: %v", job.JobID, err)
		}
	}

	results := orchestrator.Run(ctx, job.JobID, tasks, credentialIDs, r.pool, r.store, runChunk, orchConfig)
	job.JobTokenSpent += *tokensSpent

	for _, res := range results {
		if res.ErrorKind == string(model.ErrorKindTokenExhausted) {
			return r.cancelForTokenExhaustion(ctx, job, "토큰 잔액 부족으로 작업이 중지되었습니다")
		}
	}

	failed := 0
	for _, res := range results {
		if !res.Succeeded() {
			failed++
		}
	}
	job.CompletedChunks = len(results) - failed
	job.FailedChunks = failed

	if len(results) > 0 && failed == len(results) {
		return r.fail(ctx, job, model.ErrorKindUnknown, fmt.Errorf("all %d chunks failed", len(results)))
	}
	if float64(failed)/float64(max(len(results), 1)) > 0.5 {
		return r.fail(ctx, job, model.ErrorKindUnknown, fmt.Errorf("too many chunk failures: %d/%d", failed, len(results)))
	}

	r.saveProgress(ctx, job, model.PhaseMerging, "merging chunk results")

	merged, err := r.mergeResults(job, results)
	if err != nil {
		return r.fail(ctx, job, model.ErrorKindUnknown, err)
	}

	if err := r.store.SaveResult(ctx, job.JobID, merged); err != nil {
		return r.fail(ctx, job, model.ErrorKindUnknown, err)
	}

	now := time.Now()
	job.Status = model.JobStatusCompleted
	job.CompletedAt = &now
	if err := r.store.FinalizeProgress(ctx, job.JobID, model.PhaseDone, "analysis complete"); err != nil {
		log.Printf("jobrunner: failed to finalize progress for job %s: %v", job.JobID, err)
	}
	return r.store.SaveJob(ctx, job)
}

func (r *Runner) fail(ctx context.Context, job *model.Job, kind model.ErrorKind, cause error) error {
	job.Status = model.JobStatusFailed
	job.Error = cause.Error()
	job.ErrorKind = string(kind)
	if err := r.store.FinalizeProgress(ctx, job.JobID, model.PhaseError, cause.Error()); err != nil {
		log.Printf("jobrunner: failed to finalize progress for job %s: %v", job.JobID, err)
	}
	if err := r.store.SaveJob(ctx, job); err != nil {
		log.Printf("jobrunner: failed to persist failure state for job %s: %v", job.JobID, err)
	}
	return cause
}

// cancelForTokenExhaustion ends a job whose user or job token ledger ran
// dry. The chunk call that finds the ledger empty sets the cancel flag at
// once, so the remaining chunks stop at their next cancellation check; this
// then records the job as Cancelled rather than as a generic failure:
// consume_tokens_for_job's contract is that insufficiency raises Cancelled,
// not Failed.
func (r *Runner) cancelForTokenExhaustion(ctx context.Context, job *model.Job, message string) error {
	job.Status = model.JobStatusCancelled
	job.Error = message
	job.ErrorKind = string(model.ErrorKindTokenExhausted)
	if err := r.store.MarkCancelled(ctx, job.JobID); err != nil {
		log.Printf("jobrunner: failed to mark job %s cancelled: %v", job.JobID, err)
	}
	if err := r.store.FinalizeProgress(ctx, job.JobID, model.PhaseCancelled, message); err != nil {
		log.Printf("jobrunner: failed to finalize progress for job %s: %v", job.JobID, err)
	}
	if err := r.store.SaveJob(ctx, job); err != nil {
		log.Printf("jobrunner: failed to persist cancelled state for job %s: %v", job.JobID, err)
	}
	return fmt.Errorf("%s", message)
}

func (r *Runner) saveProgress(ctx context.Context, job *model.Job, phase model.ProgressPhase, message string) {
	p := &model.ProgressRecord{
		JobID:           job.JobID,
		Phase:           phase,
		Message:         message,
		TotalChunks:     job.TotalChunks,
		CompletedChunks: job.CompletedChunks,
	}
	if err := r.store.SaveProgress(ctx, p); err != nil {
		log.Printf("jobrunner: failed to save progress for job %s: %v", job.JobID, err)
	}
}

// makeChunkRunner closes over a job's static inputs and returns the
// orchestrator.ChunkRunner that actually extracts text and calls the LLM,
// plus a pointer to the running total of tokens it has spent so far --
// RunJob folds that into job.JobTokenSpent once the whole run finishes.
func (r *Runner) makeChunkRunner(job *model.Job) (orchestrator.ChunkRunner, *int) {
	var secondaryText string
	var secondaryFilename string
	if len(job.JokboKeys) > 0 && (job.Mode == model.ModeLessonCentric || job.Mode == model.ModePartialJokbo) {
		secondaryFilename = job.JokboKeys[0].Filename
	} else if len(job.LessonKeys) > 0 {
		secondaryFilename = job.LessonKeys[0].Filename
	}

	var tokenMu sync.Mutex
	tokensSpent := 0

	runner := func(ctx context.Context, task model.ChunkTask) ([]byte, error) {
		amount := r.tokensPerChunk(job.Tier)

		// Debits the shared user ledger per chunk as it runs (consume_tokens_for_job),
		// rather than reserving the whole job budget up front: a job's own
		// budget is a ceiling on top of that shared balance, never a source
		// of new tokens.
		tokenMu.Lock()
		if job.JobTokenBudget > 0 && job.JobTokenSpent+tokensSpent+amount > job.JobTokenBudget {
			tokenMu.Unlock()
			if cErr := r.store.MarkCancelled(ctx, job.JobID); cErr != nil {
				log.Printf("jobrunner: failed to mark job %s cancelled: %v", job.JobID, cErr)
			}
			return nil, fmt.Errorf("token budget exhausted for job %s", job.JobID)
		}
		remaining, ok, err := r.store.SpendTokens(ctx, job.UserID, job.JobID, amount, fmt.Sprintf("chunk %d analysis", task.ChunkIndex))
		if err != nil {
			tokenMu.Unlock()
			return nil, fmt.Errorf("token ledger error: %w", err)
		}
		if !ok {
			tokenMu.Unlock()
			if cErr := r.store.MarkCancelled(ctx, job.JobID); cErr != nil {
				log.Printf("jobrunner: failed to mark job %s cancelled: %v", job.JobID, cErr)
			}
			return nil, fmt.Errorf("insufficient token balance for user %s (remaining %d)", job.UserID, remaining)
		}
		tokensSpent += amount
		tokenMu.Unlock()

		primaryBytes, err := r.store.GetFile(ctx, job.JobID, task.Primary.Filename, task.Primary.StoredPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load primary file %s: %w", task.Primary.Filename, err)
		}
		primaryText, err := r.extractor.ExtractRange(primaryBytes, task.PageRange)
		if err != nil {
			return nil, fmt.Errorf("failed to extract pages %d-%d of %s: %w", task.PageRange.Start, task.PageRange.End, task.Primary.Filename, err)
		}

		var secondaryBytes []byte
		if secondaryText == "" && len(task.Secondaries) > 0 {
			secBytes, err := r.store.GetFile(ctx, job.JobID, task.Secondaries[0].Filename, task.Secondaries[0].StoredPath)
			if err == nil {
				secondaryBytes = secBytes
				if text, extractErr := r.extractor.ExtractAll(secBytes); extractErr == nil {
					secondaryText = text
				}
			}
		}

		client := r.newClient(task.CredentialID)

		// Each call uploads only the files it needs and deletes them once
		// it returns -- a fresh slate per call, never shared across chunks
		// or credentials (P5: a handle from key A is meaningless under key
		// B, so nothing here is cached across calls the way secondaryText is).
		var fileRefs []string
		var uploaded []*llmclient.UploadedFile
		defer func() {
			for _, f := range uploaded {
				if delErr := client.Delete(context.Background(), f); delErr != nil {
					log.Printf("jobrunner: failed to delete uploaded file %s for job %s: %v", f.Name, job.JobID, delErr)
				}
			}
		}()

		if primaryFile, uploadErr := client.Upload(ctx, task.Primary.Filename, primaryBytes, "application/pdf"); uploadErr == nil {
			uploaded = append(uploaded, primaryFile)
			fileRefs = append(fileRefs, primaryFile.Name)
		} else {
			log.Printf("jobrunner: upload failed for %s, falling back to inline extracted text: %v", task.Primary.Filename, uploadErr)
		}

		if len(task.Secondaries) > 0 {
			secBytes := secondaryBytes
			if secBytes == nil {
				if fetched, fetchErr := r.store.GetFile(ctx, job.JobID, task.Secondaries[0].Filename, task.Secondaries[0].StoredPath); fetchErr == nil {
					secBytes = fetched
				}
			}
			if secBytes != nil {
				if secFile, uploadErr := client.Upload(ctx, task.Secondaries[0].Filename, secBytes, "application/pdf"); uploadErr == nil {
					uploaded = append(uploaded, secFile)
					fileRefs = append(fileRefs, secFile.Name)
				}
			}
		}

		input := analyzer.ChunkInput{
			PrimaryFilename:   task.Primary.Filename,
			PageRange:         task.PageRange,
			TotalPages:        task.TotalPages,
			PrimaryText:       primaryText,
			SecondaryFilename: secondaryFilename,
			SecondaryText:     secondaryText,
			MinRelevance:      job.MinRelevance,
			FileRefs:          fileRefs,
		}

		return runAnalyzer(ctx, job.Mode, client, input)
	}

	return runner, &tokensSpent
}

func runAnalyzer(ctx context.Context, mode model.JobMode, client *llmclient.Client, input analyzer.ChunkInput) ([]byte, error) {
	switch mode {
	case model.ModeJokboCentric:
		result, _, err := analyzer.AnalyzeJokboCentric(ctx, client, input)
		if err != nil {
			return nil, err
		}
		return json.Marshal(result)
	case model.ModeLessonCentric:
		result, _, err := analyzer.AnalyzeLessonCentric(ctx, client, input)
		if err != nil {
			return nil, err
		}
		return json.Marshal(result)
	case model.ModePartialJokbo:
		result, _, err := analyzer.AnalyzePartialJokbo(ctx, client, input)
		if err != nil {
			return nil, err
		}
		return json.Marshal(result)
	case model.ModeExamOnly:
		result, _, err := analyzer.AnalyzeExamOnly(ctx, client, input)
		if err != nil {
			return nil, err
		}
		return json.Marshal(result)
	default:
		return nil, fmt.Errorf("unknown analysis mode %q", mode)
	}
}

func (r *Runner) mergeResults(job *model.Job, results []model.ChunkResult) (interface{}, error) {
	switch job.Mode {
	case model.ModeJokboCentric:
		var chunks []model.JokboCentricResult
		if err := decodeEach(results, &chunks); err != nil {
			return nil, err
		}
		filename := primaryFilename(job)
		return merger.MergeJokboCentric(filename, chunks, job.MinRelevance), nil
	case model.ModeLessonCentric:
		var chunks []model.LessonCentricResult
		if err := decodeEach(results, &chunks); err != nil {
			return nil, err
		}
		filename := primaryFilename(job)
		return merger.MergeLessonCentric(filename, chunks), nil
	case model.ModePartialJokbo:
		var chunks []model.JokboCentricResult
		// PartialJokboResult and JokboCentricResult share the same page/question
		// shape; decode through the jokbo-centric merge so the "top-2 related
		// slides, prefer longer text" rules apply identically here.
		for _, res := range results {
			if !res.Succeeded() {
				continue
			}
			for _, part := range decodeParts(res.Payload) {
				var c model.PartialJokboResult
				if err := json.Unmarshal(part, &c); err != nil {
					return nil, fmt.Errorf("failed to decode partial-jokbo chunk: %w", err)
				}
				chunks = append(chunks, model.JokboCentricResult{JokboFilename: c.LessonFilename, Pages: c.Pages})
			}
		}
		filename := primaryFilename(job)
		merged := merger.MergeJokboCentric(filename, chunks, job.MinRelevance)
		return model.PartialJokboResult{LessonFilename: merged.JokboFilename, Pages: merged.Pages}, nil
	case model.ModeExamOnly:
		var chunks []model.ExamOnlyResult
		if err := decodeEach(results, &chunks); err != nil {
			return nil, err
		}
		filename := primaryFilename(job)
		return merger.MergeExamOnly(filename, chunks), nil
	default:
		return nil, fmt.Errorf("unknown analysis mode %q", job.Mode)
	}
}

func primaryFilename(job *model.Job) string {
	if job.Mode == model.ModeLessonCentric || job.Mode == model.ModePartialJokbo {
		if len(job.LessonKeys) > 0 {
			return job.LessonKeys[0].Filename
		}
		return ""
	}
	if len(job.JokboKeys) > 0 {
		return job.JokboKeys[0].Filename
	}
	return ""
}

func decodeParts(payload json.RawMessage) []json.RawMessage {
	return orchestrator.UnwrapPayloads(payload)
}

func decodeEach[T any](results []model.ChunkResult, out *[]T) error {
	for _, res := range results {
		if !res.Succeeded() {
			continue
		}
		for _, part := range decodeParts(res.Payload) {
			var v T
			if err := json.Unmarshal(part, &v); err != nil {
				return fmt.Errorf("failed to decode chunk payload: %w", err)
			}
			*out = append(*out, v)
		}
	}
	return nil
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
