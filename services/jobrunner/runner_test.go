package jobrunner

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jokbolink/orchestrator/model"
	"github.com/jokbolink/orchestrator/services/credential"
)

func newTestRunner(t *testing.T, credentialIDs []string) *Runner {
	t.Helper()
	pool, err := credential.New(credential.Config{
		CredentialIDs:    credentialIDs,
		FailureThreshold: 3,
	})
	require.NoError(t, err)
	return New(Config{Pool: pool})
}

func TestBuildTasksUsesJokboKeysAsPrimaryForJokboCentric(t *testing.T) {
	r := newTestRunner(t, []string{"cred-0"})
	job := &model.Job{
		JobID:      "job-1",
		Mode:       model.ModeJokboCentric,
		JokboKeys:  []model.FileKey{{Filename: "exam.pdf", Pages: 5}},
		LessonKeys: []model.FileKey{{Filename: "lesson.pdf", Pages: 40}},
	}

	tasks, err := r.buildTasks(job)
	require.NoError(t, err)
	require.NotEmpty(t, tasks)
	for _, task := range tasks {
		assert.Equal(t, "exam.pdf", task.Primary.Filename)
		require.Len(t, task.Secondaries, 1)
		assert.Equal(t, "lesson.pdf", task.Secondaries[0].Filename)
	}
}

func TestBuildTasksUsesLessonKeysAsPrimaryForLessonCentric(t *testing.T) {
	r := newTestRunner(t, []string{"cred-0"})
	job := &model.Job{
		JobID:      "job-2",
		Mode:       model.ModeLessonCentric,
		JokboKeys:  []model.FileKey{{Filename: "exam.pdf", Pages: 5}},
		LessonKeys: []model.FileKey{{Filename: "lesson.pdf", Pages: 40}},
	}

	tasks, err := r.buildTasks(job)
	require.NoError(t, err)
	require.NotEmpty(t, tasks)
	for _, task := range tasks {
		assert.Equal(t, "lesson.pdf", task.Primary.Filename)
	}
}

func TestBuildTasksErrorsWithNoPrimaryFiles(t *testing.T) {
	r := newTestRunner(t, []string{"cred-0"})
	job := &model.Job{JobID: "job-3", Mode: model.ModeJokboCentric}

	_, err := r.buildTasks(job)
	assert.Error(t, err)
}

func TestBuildTasksSpreadsCredentialsAcrossMultiAPITasks(t *testing.T) {
	r := newTestRunner(t, []string{"cred-0", "cred-1", "cred-2"})
	job := &model.Job{
		JobID:      "job-4",
		Mode:       model.ModeExamOnly,
		MultiAPI:   true,
		JokboKeys:  []model.FileKey{{Filename: "exam.pdf", Pages: 90}},
		LessonKeys: nil,
	}

	tasks, err := r.buildTasks(job)
	require.NoError(t, err)
	require.Greater(t, len(tasks), 1, "a 90-page jokbo should split into multiple chunks")

	seen := make(map[string]struct{})
	for _, task := range tasks {
		seen[task.CredentialID] = struct{}{}
	}
	assert.Greater(t, len(seen), 1, "multi-API jobs should use more than one credential")
}

func TestBuildTasksSingleCredentialWithoutMultiAPI(t *testing.T) {
	r := newTestRunner(t, []string{"cred-0", "cred-1", "cred-2"})
	job := &model.Job{
		JobID:     "job-5",
		Mode:      model.ModeExamOnly,
		MultiAPI:  false,
		JokboKeys: []model.FileKey{{Filename: "exam.pdf", Pages: 90}},
	}

	tasks, err := r.buildTasks(job)
	require.NoError(t, err)
	require.Greater(t, len(tasks), 1)

	for _, task := range tasks {
		assert.Equal(t, tasks[0].CredentialID, task.CredentialID, "single-API jobs should reuse one credential")
	}
}

func TestBuildTasksErrorsWhenPoolExhausted(t *testing.T) {
	pool, err := credential.New(credential.Config{CredentialIDs: []string{"cred-0"}, FailureThreshold: 1, CooldownDuration: time.Minute})
	require.NoError(t, err)
	pool.ReportFailure(context.Background(), "cred-0", "timeout")

	r := New(Config{Pool: pool})
	job := &model.Job{
		JobID:     "job-6",
		Mode:      model.ModeExamOnly,
		JokboKeys: []model.FileKey{{Filename: "exam.pdf", Pages: 5}},
	}

	_, err = r.buildTasks(job)
	assert.ErrorIs(t, err, credential.ErrNoCredentialAvailable)
}
