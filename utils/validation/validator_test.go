package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testJob struct {
	UserID string `validate:"required"`
	Mode   string `validate:"required,oneof=jokbo_centric lesson_centric"`
}

func TestValidateStructRequiredField(t *testing.T) {
	v := NewValidator()
	err := v.ValidateStruct(testJob{Mode: "jokbo_centric"})
	require.Error(t, err)

	errors := FormatValidationErrors(err)
	assert.Contains(t, errors["userid"], "is required")
}

func TestValidateStructOneOf(t *testing.T) {
	v := NewValidator()
	err := v.ValidateStruct(testJob{UserID: "u1", Mode: "not_a_real_mode"})
	require.Error(t, err)

	errors := FormatValidationErrors(err)
	assert.Contains(t, errors["mode"], "must be one of")
}

func TestValidateStructPasses(t *testing.T) {
	v := NewValidator()
	err := v.ValidateStruct(testJob{UserID: "u1", Mode: "lesson_centric"})
	assert.NoError(t, err)
}

func TestSanitizeStringStripsNullBytesAndTrims(t *testing.T) {
	assert.Equal(t, "file.pdf", SanitizeString("  file.pdf\x00  "))
}
