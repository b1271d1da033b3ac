package httpapi

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/jokbolink/orchestrator/model"
	"github.com/jokbolink/orchestrator/utils/pdfvalidation"
	"github.com/jokbolink/orchestrator/utils/response"
	"github.com/jokbolink/orchestrator/utils/sse"
	"github.com/jokbolink/orchestrator/utils/validation"
)

var validate = validation.NewValidator()

// uploadFileRequest is multipart: the PDF bytes plus the job/user it belongs
// to, so the stored FileKey can be handed back for a later createJob call.
// Kind picks the size/page limits: jokbo papers are short, lessons can run
// to hundreds of slides.
type uploadFileRequest struct {
	UserID string `form:"user_id" validate:"required"`
	JobID  string `form:"job_id" validate:"required"`
	Kind   string `form:"kind"` // "jokbo" or "lesson"
}

func (s *Server) uploadFile(c *fiber.Ctx) error {
	var req uploadFileRequest
	req.UserID = c.FormValue("user_id")
	req.JobID = c.FormValue("job_id")
	req.Kind = c.FormValue("kind")
	if err := validate.ValidateStruct(req); err != nil {
		return response.ValidationError(c, err)
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		return response.BadRequest(c, "missing file field")
	}

	file, err := fileHeader.Open()
	if err != nil {
		return response.InternalServerError(c, "failed to read uploaded file")
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return response.InternalServerError(c, "failed to read uploaded file")
	}

	limits := pdfvalidation.PYQLimits
	if req.Kind == "lesson" {
		limits = pdfvalidation.NotesLimits
	}
	result, err := pdfvalidation.ValidatePDFBytes(data, limits)
	if err != nil {
		return response.InternalServerError(c, fmt.Sprintf("failed to validate PDF: %v", err))
	}
	if !result.Valid {
		return response.BadRequest(c, result.Error)
	}

	filename := validation.SanitizeString(fileHeader.Filename)
	storedPath, err := s.store.PutFile(c.Context(), req.JobID, filename, data)
	if err != nil {
		return response.InternalServerError(c, fmt.Sprintf("failed to store file: %v", err))
	}

	return response.Created(c, model.FileKey{
		Filename:   filename,
		StoredPath: storedPath,
		Pages:      result.PageCount,
	})
}

// createJobRequest describes a job by reference to already-uploaded
// FileKeys; it never carries raw PDF bytes.
type createJobRequest struct {
	UserID       string          `json:"user_id" validate:"required"`
	Mode         model.JobMode   `json:"mode" validate:"required,oneof=jokbo_centric lesson_centric partial_jokbo exam_only"`
	Tier         model.ModelTier `json:"tier" validate:"omitempty,oneof=flash pro"`
	MultiAPI     bool            `json:"multi_api"`
	MinRelevance int             `json:"min_relevance"`
	JokboKeys    []model.FileKey `json:"jokbo_keys"`
	LessonKeys   []model.FileKey `json:"lesson_keys"`
	TokenBudget  int             `json:"token_budget"`
}

func (s *Server) createJob(c *fiber.Ctx) error {
	var req createJobRequest
	if err := c.BodyParser(&req); err != nil {
		return response.BadRequest(c, "invalid request body")
	}
	if err := validate.ValidateStruct(req); err != nil {
		return response.ValidationError(c, err)
	}

	switch req.Mode {
	case model.ModeJokboCentric:
		if len(req.JokboKeys) == 0 || len(req.LessonKeys) == 0 {
			return response.BadRequest(c, "jokbo_centric mode requires both jokbo_keys and lesson_keys")
		}
	case model.ModeLessonCentric:
		if len(req.LessonKeys) == 0 || len(req.JokboKeys) == 0 {
			return response.BadRequest(c, "lesson_centric mode requires both lesson_keys and jokbo_keys")
		}
	case model.ModePartialJokbo:
		if len(req.LessonKeys) == 0 {
			return response.BadRequest(c, "partial_jokbo mode requires lesson_keys")
		}
	case model.ModeExamOnly:
		if len(req.JokboKeys) == 0 {
			return response.BadRequest(c, "exam_only mode requires jokbo_keys")
		}
	}

	tier := req.Tier
	if tier == "" {
		tier = model.TierFlash
	}
	minRelevance := req.MinRelevance
	if minRelevance == 0 {
		minRelevance = s.minRelevanceScore
	}
	tokenBudget := req.TokenBudget
	if tokenBudget == 0 {
		tokenBudget = s.defaultTokenBudget
	}

	now := time.Now()
	job := &model.Job{
		JobID:          uuid.New().String(),
		UserID:         req.UserID,
		Mode:           req.Mode,
		Tier:           tier,
		Status:         model.JobStatusQueued,
		MultiAPI:       req.MultiAPI,
		MinRelevance:   minRelevance,
		JokboKeys:      req.JokboKeys,
		LessonKeys:     req.LessonKeys,
		JobTokenBudget: tokenBudget,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	// Job creation draws against the user's existing token balance -- it
	// never mints a fresh balance equal to the job's own budget. A user
	// with zero tokens left can't start a new job even if they set a
	// generous job_token_budget; chunks still debit the shared balance
	// one at a time as they run (see makeChunkRunner).
	balance, err := s.store.GetTokenBalance(c.Context(), req.UserID)
	if err != nil {
		return response.InternalServerError(c, fmt.Sprintf("failed to read token balance: %v", err))
	}
	if balance <= 0 {
		return response.BadRequest(c, "insufficient token balance to start a new job")
	}

	if err := s.store.SaveJob(c.Context(), job); err != nil {
		return response.InternalServerError(c, fmt.Sprintf("failed to create job: %v", err))
	}

	s.runner.Start(job)
	s.audit.Log(fmt.Sprintf("job %s created for user %s (mode=%s, tier=%s)", job.JobID, job.UserID, job.Mode, job.Tier))

	return response.Created(c, fiber.Map{"job_id": job.JobID, "status": job.Status})
}

func (s *Server) getJob(c *fiber.Ctx) error {
	jobID := c.Params("id")

	progress, err := s.store.GetProgress(c.Context(), jobID)
	if err != nil {
		job, jobErr := s.store.GetJob(c.Context(), jobID)
		if jobErr != nil {
			return response.NotFound(c, "job not found")
		}
		return response.Success(c, job)
	}
	return response.Success(c, progress)
}

// streamJob pushes progress updates over Server-Sent Events until the job
// reaches a terminal phase, so a caller doesn't need to poll getJob.
func (s *Server) streamJob(c *fiber.Ctx) error {
	jobID := c.Params("id")

	c.Set("Content-Type", "text/event-stream")
	c.Set("Cache-Control", "no-cache")
	c.Set("Connection", "keep-alive")

	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()

		if err := sse.SendStarted(w, fiber.Map{"job_id": jobID}); err != nil {
			return
		}

		for range ticker.C {
			progress, err := s.store.GetProgress(context.Background(), jobID)
			if err != nil {
				if sse.SendError(w, err) != nil {
					return
				}
				continue
			}

			if sse.SendProgress(w, progress) != nil {
				return
			}

			switch progress.Phase {
			case model.PhaseDone, model.PhaseError, model.PhaseCancelled:
				sse.SendComplete(w, progress)
				return
			}
		}
	})

	return nil
}

func (s *Server) cancelJob(c *fiber.Ctx) error {
	jobID := c.Params("id")
	if err := s.runner.Cancel(c.Context(), jobID); err != nil {
		return response.InternalServerError(c, fmt.Sprintf("failed to cancel job: %v", err))
	}
	s.audit.Log(fmt.Sprintf("job %s cancelled", jobID))
	return response.Success(c, fiber.Map{"job_id": jobID, "status": model.JobStatusCancelled})
}

func (s *Server) getJobResult(c *fiber.Ctx) error {
	jobID := c.Params("id")
	result, err := s.store.GetResult(c.Context(), jobID)
	if err != nil {
		return response.NotFound(c, "result not found or job still running")
	}
	return c.Status(fiber.StatusOK).Type("json").Send(result)
}

// grantTokensRequest tops up a user's ledger, e.g. an initial allotment or
// a manual refund -- the only way tokens enter a user's balance now that
// job creation no longer self-grants its own budget.
type grantTokensRequest struct {
	Amount int    `json:"amount" validate:"required,gt=0"`
	Reason string `json:"reason"`
}

func (s *Server) grantTokens(c *fiber.Ctx) error {
	userID := c.Params("id")

	var req grantTokensRequest
	if err := c.BodyParser(&req); err != nil {
		return response.BadRequest(c, "invalid request body")
	}
	if err := validate.ValidateStruct(req); err != nil {
		return response.ValidationError(c, err)
	}

	reason := req.Reason
	if reason == "" {
		reason = "manual grant"
	}

	balance, err := s.store.GrantTokens(c.Context(), userID, "", req.Amount, reason)
	if err != nil {
		return response.InternalServerError(c, fmt.Sprintf("failed to grant tokens: %v", err))
	}
	s.audit.Log(fmt.Sprintf("granted %d tokens to user %s (%s)", req.Amount, userID, reason))
	return response.Success(c, fiber.Map{"user_id": userID, "balance": balance})
}

func (s *Server) getTokenBalance(c *fiber.Ctx) error {
	userID := c.Params("id")
	balance, err := s.store.GetTokenBalance(c.Context(), userID)
	if err != nil {
		return response.InternalServerError(c, fmt.Sprintf("failed to read token balance: %v", err))
	}
	return response.Success(c, fiber.Map{"user_id": userID, "balance": balance})
}

// listCredentialFiles is a read-only diagnostic: it lists whatever files
// are currently uploaded under one credential, the same isolation
// boundary makeChunkRunner's upload/delete pairing relies on (P5).
func (s *Server) listCredentialFiles(c *fiber.Ctx) error {
	credentialID := c.Params("id")
	client := s.newClient(credentialID)
	files, err := client.ListFiles(c.Context())
	if err != nil {
		return response.InternalServerError(c, fmt.Sprintf("failed to list files for credential %s: %v", credentialID, err))
	}
	return response.Success(c, fiber.Map{"credential_id": credentialID, "files": files})
}
