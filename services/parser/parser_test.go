package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractJSONPlainObject(t *testing.T) {
	out, err := ExtractJSON(`{"a": 1}`)
	require.NoError(t, err)
	assert.JSONEq(t, `{"a": 1}`, out)
}

func TestExtractJSONStripsMarkdownFence(t *testing.T) {
	out, err := ExtractJSON("```json\n{\"a\": 1}\n```")
	require.NoError(t, err)
	assert.JSONEq(t, `{"a": 1}`, out)
}

func TestExtractJSONIgnoresLeadingPreamble(t *testing.T) {
	out, err := ExtractJSON(`Sure, here is the result: {"a": 1} -- hope that helps!`)
	require.NoError(t, err)
	assert.JSONEq(t, `{"a": 1}`, out)
}

func TestExtractJSONBraceInsideString(t *testing.T) {
	out, err := ExtractJSON(`{"a": "contains a { brace"}`)
	require.NoError(t, err)
	assert.JSONEq(t, `{"a": "contains a { brace"}`, out)
}

func TestExtractJSONRepairsTrailingComma(t *testing.T) {
	out, err := ExtractJSON(`{"a": 1, "b": 2,}`)
	require.NoError(t, err)
	assert.JSONEq(t, `{"a": 1, "b": 2}`, out)
}

func TestExtractJSONEmptyInput(t *testing.T) {
	_, err := ExtractJSON("")
	assert.ErrorIs(t, err, ErrNoJSONFound)
}

func TestExtractJSONNoJSONPresent(t *testing.T) {
	_, err := ExtractJSON("I'm sorry, I cannot process that request.")
	assert.ErrorIs(t, err, ErrNoJSONFound)
}

func TestExtractJSONToUnmarshals(t *testing.T) {
	var target struct {
		A int `json:"a"`
	}
	err := ExtractJSONTo(`{"a": 7}`, &target)
	require.NoError(t, err)
	assert.Equal(t, 7, target.A)
}

func TestClampRelevanceScore(t *testing.T) {
	assert.Equal(t, 0, ClampRelevanceScore(-5))
	assert.Equal(t, 110, ClampRelevanceScore(500))
	assert.Equal(t, 85, ClampRelevanceScore(85))
}

func TestNormalizeWrongAnswerKey(t *testing.T) {
	assert.Equal(t, "", NormalizeWrongAnswerKey(""))
	assert.Equal(t, "3번", NormalizeWrongAnswerKey("3"))
	assert.Equal(t, "3번", NormalizeWrongAnswerKey("answer 3"))
	assert.Equal(t, "no digits here", NormalizeWrongAnswerKey("no digits here"))
}
