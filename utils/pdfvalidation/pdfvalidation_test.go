package pdfvalidation

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidatePDFBytesRejectsOversizedFile(t *testing.T) {
	limits := PDFLimits{MaxFileSizeMB: 1, MaxPages: 10, DocumentTypeName: "test doc"}
	content := bytes.Repeat([]byte("a"), 2*1024*1024)

	result, err := ValidatePDFBytes(content, limits)
	require.NoError(t, err)
	assert.False(t, result.Valid)
	assert.Contains(t, result.Error, "exceeds maximum allowed size")
}

func TestValidatePDFBytesRejectsMissingHeader(t *testing.T) {
	result, err := ValidatePDFBytes([]byte("not a pdf"), DefaultLimits)
	require.NoError(t, err)
	assert.False(t, result.Valid)
	assert.Contains(t, result.Error, "missing PDF header")
}

func TestValidatePDFBytesReportsFileSize(t *testing.T) {
	content := append([]byte("%PDF-1.4\n"), bytes.Repeat([]byte("x"), 100)...)
	result, err := ValidatePDFBytes(content, PYQLimits)
	require.NoError(t, err)
	assert.Equal(t, int64(len(content)), result.FileSize)
}

func TestLimitPresetsDifferBetweenJokboAndLesson(t *testing.T) {
	assert.Less(t, PYQLimits.MaxPages, NotesLimits.MaxPages, "lesson decks run far longer than exam papers")
	assert.Less(t, PYQLimits.MaxFileSizeMB, NotesLimits.MaxFileSizeMB)
}
