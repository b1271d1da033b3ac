package cron

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSweepDirRemovesOnlyExpiredFiles(t *testing.T) {
	root := t.TempDir()
	jobDir := filepath.Join(root, "job-1")
	require.NoError(t, os.MkdirAll(jobDir, 0o755))

	oldFile := filepath.Join(jobDir, "old.json")
	freshFile := filepath.Join(jobDir, "fresh.json")
	require.NoError(t, os.WriteFile(oldFile, []byte("{}"), 0o644))
	require.NoError(t, os.WriteFile(freshFile, []byte("{}"), 0o644))

	old := time.Now().Add(-2 * time.Hour)
	require.NoError(t, os.Chtimes(oldFile, old, old))

	removed, err := sweepDir(root, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, err = os.Stat(oldFile)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(freshFile)
	assert.NoError(t, err)
	// the job directory itself is never removed, even once its files expire
	_, err = os.Stat(jobDir)
	assert.NoError(t, err)
}

func TestSweepDirZeroTTLIsNoop(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.json"), []byte("{}"), 0o644))

	removed, err := sweepDir(root, 0)
	require.NoError(t, err)
	assert.Equal(t, 0, removed)
}
