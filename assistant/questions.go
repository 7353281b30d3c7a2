package assistant

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/samber/lo"
)

// QuestionKind enumerates the follow-up question widgets the agent may ask
// the user to answer instead of typing a reply.
type QuestionKind string

const (
	QuestionSingleChoice   QuestionKind = "single_choice"
	QuestionMultipleChoice QuestionKind = "multiple_choice"
	QuestionScale          QuestionKind = "scale"
	QuestionDateRange      QuestionKind = "date_range"
	QuestionText           QuestionKind = "text"
)

// QuestionOption is one selectable choice of a single_choice or
// multiple_choice question.
type QuestionOption struct {
	ID          string `json:"id"`
	Label       string `json:"label"`
	Description string `json:"description,omitempty"`
}

// ScaleSpec bounds a scale question.
type ScaleSpec struct {
	Min      float64 `json:"min"`
	Max      float64 `json:"max"`
	Step     float64 `json:"step,omitempty"`
	MinLabel string  `json:"minLabel,omitempty"`
	MaxLabel string  `json:"maxLabel,omitempty"`
}

// TextValidation constrains a free-form text answer.
type TextValidation struct {
	Required  bool `json:"required,omitempty"`
	MinLength int  `json:"minLength,omitempty"`
	MaxLength int  `json:"maxLength,omitempty"`
}

// StructuredQuestion is a machine-renderable follow-up prompt emitted by
// the agent inside a turn's reply envelope.
type StructuredQuestion struct {
	ID         string           `json:"id"`
	Kind       QuestionKind     `json:"kind"`
	Prompt     string           `json:"prompt"`
	Context    string           `json:"context,omitempty"`
	Options    []QuestionOption `json:"options,omitempty"`
	Scale      *ScaleSpec       `json:"scale,omitempty"`
	Validation *TextValidation  `json:"validation,omitempty"`
}

// validQuestions filters out questions the client could not render.
func validQuestions(questions []StructuredQuestion) []StructuredQuestion {
	return lo.Filter(questions, func(q StructuredQuestion, _ int) bool {
		switch q.Kind {
		case QuestionSingleChoice, QuestionMultipleChoice:
			return q.Prompt != "" && len(q.Options) > 0
		case QuestionScale:
			return q.Prompt != "" && q.Scale != nil && q.Scale.Max > q.Scale.Min
		case QuestionDateRange, QuestionText:
			return q.Prompt != ""
		default:
			return false
		}
	})
}

// Answer is a client's response to one structured question. Exactly the
// fields matching the question's kind are consulted.
type Answer struct {
	QuestionID string   `json:"questionId"`
	OptionIDs  []string `json:"optionIds,omitempty"`
	Value      *float64 `json:"value,omitempty"`
	StartDate  string   `json:"startDate,omitempty"`
	EndDate    string   `json:"endDate,omitempty"`
	Text       string   `json:"text,omitempty"`
}

const answerDateLayout = "2006-01-02"

// Submission validates a against q and builds the text submitted to the
// agent as the user's turn. now anchors the date_range rule that a start
// date may not lie in the past. Invalid answers never produce a turn.
func (q StructuredQuestion) Submission(a Answer, now time.Time) (string, error) {
	switch q.Kind {
	case QuestionSingleChoice:
		if len(a.OptionIDs) != 1 {
			return "", fmt.Errorf("question %s expects exactly one option", q.ID)
		}
		return q.optionLabels(a.OptionIDs)
	case QuestionMultipleChoice:
		if len(a.OptionIDs) == 0 {
			return "", fmt.Errorf("question %s expects at least one option", q.ID)
		}
		return q.optionLabels(a.OptionIDs)
	case QuestionScale:
		return q.scaleSubmission(a)
	case QuestionDateRange:
		return q.dateRangeSubmission(a, now)
	case QuestionText:
		return q.textSubmission(a)
	default:
		return "", fmt.Errorf("unsupported question kind %q", q.Kind)
	}
}

// optionLabels resolves option ids to their labels, joined in selection
// order.
func (q StructuredQuestion) optionLabels(ids []string) (string, error) {
	labels := make([]string, 0, len(ids))
	for _, id := range ids {
		opt, ok := lo.Find(q.Options, func(o QuestionOption) bool { return o.ID == id })
		if !ok {
			return "", fmt.Errorf("question %s has no option %q", q.ID, id)
		}
		labels = append(labels, opt.Label)
	}
	return strings.Join(labels, ", "), nil
}

func (q StructuredQuestion) scaleSubmission(a Answer) (string, error) {
	if a.Value == nil {
		return "", fmt.Errorf("question %s expects a numeric value", q.ID)
	}
	v := *a.Value
	if q.Scale == nil {
		return "", fmt.Errorf("question %s has no scale bounds", q.ID)
	}
	if v < q.Scale.Min || v > q.Scale.Max {
		return "", fmt.Errorf("value %v outside scale [%v, %v]", v, q.Scale.Min, q.Scale.Max)
	}
	if step := q.Scale.Step; step > 0 {
		rem := math.Mod(v-q.Scale.Min, step)
		if rem > 1e-9 && step-rem > 1e-9 {
			return "", fmt.Errorf("value %v not aligned to step %v", v, step)
		}
	}
	return strconv.FormatFloat(v, 'f', -1, 64), nil
}

func (q StructuredQuestion) dateRangeSubmission(a Answer, now time.Time) (string, error) {
	if a.StartDate == "" || a.EndDate == "" {
		return "", fmt.Errorf("question %s expects both start and end dates", q.ID)
	}
	start, err := time.Parse(answerDateLayout, a.StartDate)
	if err != nil {
		return "", fmt.Errorf("invalid start date %q: %w", a.StartDate, err)
	}
	end, err := time.Parse(answerDateLayout, a.EndDate)
	if err != nil {
		return "", fmt.Errorf("invalid end date %q: %w", a.EndDate, err)
	}
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	if start.Before(today) {
		return "", fmt.Errorf("start date %s is in the past", a.StartDate)
	}
	if end.Before(start) {
		return "", fmt.Errorf("end date %s precedes start date %s", a.EndDate, a.StartDate)
	}
	return FormatDateRange(start, end), nil
}

func (q StructuredQuestion) textSubmission(a Answer) (string, error) {
	text := a.Text
	v := q.Validation
	if v == nil {
		return text, nil
	}
	if v.Required && strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("question %s requires an answer", q.ID)
	}
	if v.MinLength > 0 && len(text) < v.MinLength {
		return "", fmt.Errorf("answer shorter than %d characters", v.MinLength)
	}
	if v.MaxLength > 0 && len(text) > v.MaxLength {
		return "", fmt.Errorf("answer longer than %d characters", v.MaxLength)
	}
	return text, nil
}

// FormatDateRange renders a short human-readable range, with the year
// stated once when both dates share it: "Jan 15 – Jan 22, 2026".
func FormatDateRange(start, end time.Time) string {
	if start.Year() == end.Year() {
		return fmt.Sprintf("%s – %s, %d", start.Format("Jan 2"), end.Format("Jan 2"), start.Year())
	}
	return fmt.Sprintf("%s – %s", start.Format("Jan 2, 2006"), end.Format("Jan 2, 2006"))
}
