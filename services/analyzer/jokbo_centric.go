package analyzer

import (
	"context"
	"fmt"

	"github.com/jokbolink/orchestrator/model"
	"github.com/jokbolink/orchestrator/services/llmclient"
)

const jokboCentricSystemPrompt = `You are an expert at linking exam questions to the lecture material that taught them.

You will be given pages from an exam question bank (jokbo) and, when available, pages from a lesson PDF covering the same course. For every question on the jokbo pages:
1. Identify the question number (preserve original numbering, e.g. "12", "12-2").
2. Extract the full question text.
3. If the question references a specific wrong answer choice (e.g. grading commentary naming which option is incorrect), normalize it to the form "N번" where N is the option number.
4. Find lesson slides/pages that are relevant to answering the question, and score each 0-110 (110 only when the same figure or diagram is reused verbatim from the slide).
5. Briefly explain why each related slide is relevant.

Only include lesson pages that are genuinely relevant; do not pad the list.

Output ONLY valid JSON in this shape:
{
  "pages": [
    {
      "page_number": 3,
      "questions": [
        {
          "question_number": "12",
          "question_text": "...",
          "wrong_answer_key": "3번",
          "related_slides": [
            {"lesson_filename": "...", "lesson_page": 14, "relevance_score": 85, "explanation": "..."}
          ]
        }
      ]
    }
  ]
}`

// AnalyzeJokboCentric analyzes one jokbo chunk against the paired lesson
// text (if any), producing the merge-ready per-chunk payload.
func AnalyzeJokboCentric(ctx context.Context, gen Generator, in ChunkInput) (model.JokboCentricResult, llmclient.GenerateUsage, error) {
	var result model.JokboCentricResult

	userPrompt := fmt.Sprintf(`Jokbo file: %s, pages %d-%d of %d.

Jokbo text:
%s`, in.PrimaryFilename, in.PageRange.Start, in.PageRange.End, in.TotalPages, in.PrimaryText)

	if in.SecondaryText != "" {
		userPrompt += fmt.Sprintf(`

Lesson file: %s
Lesson text:
%s`, in.SecondaryFilename, in.SecondaryText)
	}

	usage, err := callAndParse(ctx, gen, jokboCentricSystemPrompt, userPrompt, in.FileRefs, &result)
	if err != nil {
		return result, usage, err
	}
	result.JokboFilename = in.PrimaryFilename
	return result, usage, nil
}
