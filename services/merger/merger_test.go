package merger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jokbolink/orchestrator/model"
)

func TestMergeJokboCentricDeduplicatesAcrossChunks(t *testing.T) {
	chunks := []model.JokboCentricResult{
		{
			Pages: []model.JokboPage{
				{PageNumber: 1, Questions: []model.JokboQuestion{
					{QuestionNumber: "1", QuestionText: "short", RelatedSlides: []model.RelatedSlide{
						{LessonFilename: "lesson_a.pdf", LessonPage: 3, RelevanceScore: 80},
					}},
				}},
			},
		},
		{
			Pages: []model.JokboPage{
				{PageNumber: 1, Questions: []model.JokboQuestion{
					// same question, longer text and a duplicate slide with a
					// higher score -- should win on both axes
					{QuestionNumber: "1", QuestionText: "much longer question text", RelatedSlides: []model.RelatedSlide{
						{LessonFilename: "lesson_a.pdf", LessonPage: 3, RelevanceScore: 95},
						{LessonFilename: "lesson_b.pdf", LessonPage: 7, RelevanceScore: 40},
					}},
				}},
			},
		},
	}

	result := MergeJokboCentric("jokbo.pdf", chunks, 0)

	require.Len(t, result.Pages, 1)
	require.Len(t, result.Pages[0].Questions, 1)
	q := result.Pages[0].Questions[0]
	assert.Equal(t, "much longer question text", q.QuestionText)
	require.Len(t, q.RelatedSlides, 2)
	assert.Equal(t, 95, q.RelatedSlides[0].RelevanceScore)
}

func TestMergeJokboCentricDropsBelowMinRelevance(t *testing.T) {
	chunks := []model.JokboCentricResult{
		{Pages: []model.JokboPage{
			{PageNumber: 1, Questions: []model.JokboQuestion{
				{QuestionNumber: "1", RelatedSlides: []model.RelatedSlide{
					{LessonFilename: "a.pdf", LessonPage: 1, RelevanceScore: 30},
					{LessonFilename: "b.pdf", LessonPage: 2, RelevanceScore: 90},
				}},
			}},
		}},
	}

	result := MergeJokboCentric("jokbo.pdf", chunks, 50)

	require.Len(t, result.Pages[0].Questions[0].RelatedSlides, 1)
	assert.Equal(t, "b.pdf", result.Pages[0].Questions[0].RelatedSlides[0].LessonFilename)
}

func TestMergeJokboCentricKeepsTopTwoSlides(t *testing.T) {
	chunks := []model.JokboCentricResult{
		{Pages: []model.JokboPage{
			{PageNumber: 1, Questions: []model.JokboQuestion{
				{QuestionNumber: "1", RelatedSlides: []model.RelatedSlide{
					{LessonFilename: "a.pdf", LessonPage: 1, RelevanceScore: 60},
					{LessonFilename: "b.pdf", LessonPage: 2, RelevanceScore: 90},
					{LessonFilename: "c.pdf", LessonPage: 3, RelevanceScore: 75},
				}},
			}},
		}},
	}

	result := MergeJokboCentric("jokbo.pdf", chunks, 0)

	slides := result.Pages[0].Questions[0].RelatedSlides
	require.Len(t, slides, 2)
	assert.Equal(t, 90, slides[0].RelevanceScore)
	assert.Equal(t, 75, slides[1].RelevanceScore)
}

func TestMergeJokboCentricOrdersQuestionsNumerically(t *testing.T) {
	chunks := []model.JokboCentricResult{
		{Pages: []model.JokboPage{
			{PageNumber: 1, Questions: []model.JokboQuestion{
				{QuestionNumber: "10", QuestionText: "tenth"},
				{QuestionNumber: "2", QuestionText: "second"},
				{QuestionNumber: "1", QuestionText: "first"},
			}},
		}},
	}

	result := MergeJokboCentric("jokbo.pdf", chunks, 0)

	require.Len(t, result.Pages[0].Questions, 3)
	assert.Equal(t, "1", result.Pages[0].Questions[0].QuestionNumber)
	assert.Equal(t, "2", result.Pages[0].Questions[1].QuestionNumber, "lexicographic sort would put \"10\" before \"2\"")
	assert.Equal(t, "10", result.Pages[0].Questions[2].QuestionNumber)
}

func TestMergeLessonCentricTakesMaxImportanceAndUnionsConcepts(t *testing.T) {
	chunks := []model.LessonCentricResult{
		{Pages: []model.LessonPage{
			{PageNumber: 5, ImportanceScore: 40, KeyConcepts: []string{"recursion"}},
		}},
		{Pages: []model.LessonPage{
			{PageNumber: 5, ImportanceScore: 70, KeyConcepts: []string{"recursion", "tail calls"}},
		}},
	}

	result := MergeLessonCentric("lesson.pdf", chunks)

	require.Len(t, result.Pages, 1)
	assert.Equal(t, 70, result.Pages[0].ImportanceScore)
	assert.Equal(t, []string{"recursion", "tail calls"}, result.Pages[0].KeyConcepts)
}

func TestMergeLessonCentricOrdersPagesByNumber(t *testing.T) {
	chunks := []model.LessonCentricResult{
		{Pages: []model.LessonPage{
			{PageNumber: 9},
			{PageNumber: 2},
		}},
	}

	result := MergeLessonCentric("lesson.pdf", chunks)

	require.Len(t, result.Pages, 2)
	assert.Equal(t, 2, result.Pages[0].PageNumber)
	assert.Equal(t, 9, result.Pages[1].PageNumber)
}

func TestMergeExamOnlyKeepsLongerTextOnCollision(t *testing.T) {
	chunks := []model.ExamOnlyResult{
		{Questions: []model.ExamOnlyQuestion{{QuestionNumber: "1", QuestionText: "short"}}},
		{Questions: []model.ExamOnlyQuestion{{QuestionNumber: "1", QuestionText: "a much longer question statement"}}},
		{Questions: []model.ExamOnlyQuestion{{QuestionNumber: "2", QuestionText: "second question"}}},
	}

	result := MergeExamOnly("jokbo.pdf", chunks)

	require.Len(t, result.Questions, 2)
	assert.Equal(t, "1", result.Questions[0].QuestionNumber)
	assert.Equal(t, "a much longer question statement", result.Questions[0].QuestionText)
	assert.Equal(t, "2", result.Questions[1].QuestionNumber)
}

func TestMergeExamOnlyOrdersQuestionsNumerically(t *testing.T) {
	chunks := []model.ExamOnlyResult{
		{Questions: []model.ExamOnlyQuestion{
			{QuestionNumber: "11", QuestionText: "eleventh"},
			{QuestionNumber: "9", QuestionText: "ninth"},
		}},
	}

	result := MergeExamOnly("jokbo.pdf", chunks)

	require.Len(t, result.Questions, 2)
	assert.Equal(t, "9", result.Questions[0].QuestionNumber, "lexicographic sort would put \"11\" before \"9\"")
	assert.Equal(t, "11", result.Questions[1].QuestionNumber)
}
