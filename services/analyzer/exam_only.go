package analyzer

import (
	"context"
	"fmt"

	"github.com/jokbolink/orchestrator/model"
	"github.com/jokbolink/orchestrator/services/llmclient"
)

const examOnlySystemPrompt = `You are an expert at extracting structured exam questions from a question bank (jokbo), with no lesson material to cross-reference against.

For every question in the text:
1. Identify the question number (preserve original numbering).
2. Extract the full question text.
3. If grading commentary names a wrong answer choice, normalize it to the form "N번" where N is the option number.

Do not infer relationships to outside material you haven't been shown.

Output ONLY valid JSON in this shape:
{
  "questions": [
    {"question_number": "12", "question_text": "...", "wrong_answer_key": "3번"}
  ]
}`

// AnalyzeExamOnly extracts questions from a jokbo chunk with no lesson
// corpus available to cross-reference against.
func AnalyzeExamOnly(ctx context.Context, gen Generator, in ChunkInput) (model.ExamOnlyResult, llmclient.GenerateUsage, error) {
	var result model.ExamOnlyResult

	userPrompt := fmt.Sprintf(`Jokbo file: %s, pages %d-%d of %d.

Jokbo text:
%s`, in.PrimaryFilename, in.PageRange.Start, in.PageRange.End, in.TotalPages, in.PrimaryText)

	usage, err := callAndParse(ctx, gen, examOnlySystemPrompt, userPrompt, in.FileRefs, &result)
	if err != nil {
		return result, usage, err
	}
	result.JokboFilename = in.PrimaryFilename
	return result, usage, nil
}
