package assistant

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var submissionNow = time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)

func choiceQuestion(kind QuestionKind) StructuredQuestion {
	return StructuredQuestion{
		ID:     "q1",
		Kind:   kind,
		Prompt: "Travel style?",
		Options: []QuestionOption{
			{ID: "a", Label: "A"},
			{ID: "b", Label: "B"},
			{ID: "c", Label: "C"},
		},
	}
}

func TestSingleChoiceSubmission(t *testing.T) {
	q := choiceQuestion(QuestionSingleChoice)

	text, err := q.Submission(Answer{QuestionID: "q1", OptionIDs: []string{"b"}}, submissionNow)
	require.NoError(t, err)
	assert.Equal(t, "B", text)

	_, err = q.Submission(Answer{OptionIDs: []string{"a", "b"}}, submissionNow)
	assert.Error(t, err)
	_, err = q.Submission(Answer{OptionIDs: []string{"z"}}, submissionNow)
	assert.Error(t, err)
}

func TestMultipleChoiceSubmissionJoinsLabels(t *testing.T) {
	q := choiceQuestion(QuestionMultipleChoice)

	text, err := q.Submission(Answer{OptionIDs: []string{"a", "b"}}, submissionNow)
	require.NoError(t, err)
	assert.Equal(t, "A, B", text)

	_, err = q.Submission(Answer{}, submissionNow)
	assert.Error(t, err)
}

func TestScaleSubmission(t *testing.T) {
	q := StructuredQuestion{
		ID:     "budget",
		Kind:   QuestionScale,
		Prompt: "Budget level?",
		Scale:  &ScaleSpec{Min: 1, Max: 5, Step: 1},
	}

	v := 3.0
	text, err := q.Submission(Answer{Value: &v}, submissionNow)
	require.NoError(t, err)
	assert.Equal(t, "3", text)

	outside := 7.0
	_, err = q.Submission(Answer{Value: &outside}, submissionNow)
	assert.Error(t, err)

	misaligned := 2.5
	_, err = q.Submission(Answer{Value: &misaligned}, submissionNow)
	assert.Error(t, err)

	_, err = q.Submission(Answer{}, submissionNow)
	assert.Error(t, err)
}

func TestDateRangeSubmission(t *testing.T) {
	q := StructuredQuestion{ID: "when", Kind: QuestionDateRange, Prompt: "When?"}

	text, err := q.Submission(Answer{StartDate: "2026-01-15", EndDate: "2026-01-22"}, submissionNow)
	require.NoError(t, err)
	assert.Equal(t, "Jan 15 – Jan 22, 2026", text)
	assert.Equal(t, 1, countOccurrences(text, "2026"))

	// Year stated twice when the range crosses it.
	text, err = q.Submission(Answer{StartDate: "2026-12-28", EndDate: "2027-01-03"}, submissionNow)
	require.NoError(t, err)
	assert.Equal(t, "Dec 28, 2026 – Jan 3, 2027", text)

	_, err = q.Submission(Answer{StartDate: "2026-01-15"}, submissionNow)
	assert.Error(t, err, "both dates are required")

	_, err = q.Submission(Answer{StartDate: "2026-01-22", EndDate: "2026-01-15"}, submissionNow)
	assert.Error(t, err, "end may not precede start")

	_, err = q.Submission(Answer{StartDate: "2026-01-05", EndDate: "2026-01-15"}, submissionNow)
	assert.Error(t, err, "start may not lie in the past")
}

func TestTextSubmission(t *testing.T) {
	q := StructuredQuestion{
		ID:         "notes",
		Kind:       QuestionText,
		Prompt:     "Anything else?",
		Validation: &TextValidation{Required: true, MinLength: 3, MaxLength: 10},
	}

	text, err := q.Submission(Answer{Text: "slow pace"}, submissionNow)
	require.NoError(t, err)
	assert.Equal(t, "slow pace", text)

	_, err = q.Submission(Answer{Text: "   "}, submissionNow)
	assert.Error(t, err)
	_, err = q.Submission(Answer{Text: "ab"}, submissionNow)
	assert.Error(t, err)
	_, err = q.Submission(Answer{Text: "far too long an answer"}, submissionNow)
	assert.Error(t, err)
}

func TestValidQuestionsFiltering(t *testing.T) {
	questions := validQuestions([]StructuredQuestion{
		{ID: "ok", Kind: QuestionText, Prompt: "Fine"},
		{ID: "no-prompt", Kind: QuestionText},
		{ID: "no-options", Kind: QuestionSingleChoice, Prompt: "Pick"},
		{ID: "bad-scale", Kind: QuestionScale, Prompt: "Rate", Scale: &ScaleSpec{Min: 5, Max: 1}},
		{ID: "unknown", Kind: "emoji_grid", Prompt: "?"},
	})
	require.Len(t, questions, 1)
	assert.Equal(t, "ok", questions[0].ID)
}

func countOccurrences(s, sub string) int {
	count := 0
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			count++
		}
	}
	return count
}
