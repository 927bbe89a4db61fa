package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

type Difficulty string

const (
	DifficultyEasy   Difficulty = "easy"
	DifficultyMedium Difficulty = "medium"
	DifficultyHard   Difficulty = "hard"
)

type Assessment struct {
	ID              int64      `db:"id" json:"id"`
	Title           string     `db:"title" json:"title"`
	Subject         string     `db:"subject" json:"subject"`
	GradeLevel      int        `db:"grade_level" json:"gradeLevel"`
	Difficulty      Difficulty `db:"difficulty" json:"difficulty"`
	DurationMinutes int        `db:"duration_minutes" json:"duration"`
	PassingScore    float64    `db:"passing_score" json:"passingScore"`
	MaxAttempts     int        `db:"max_attempts" json:"maxAttempts"`
	IsPublished     bool       `db:"is_published" json:"isPublished"`
	PublishedAt     *time.Time `db:"published_at" json:"publishedAt,omitempty"`
	TotalQuestions  int        `db:"total_questions" json:"totalQuestions"`
	CreatedBy       int64      `db:"created_by" json:"createdBy"`
	CreatedAt       time.Time  `db:"created_at" json:"createdAt"`
	UpdatedAt       time.Time  `db:"updated_at" json:"updatedAt"`
}

// Duration — отведённое время в виде time.Duration.
func (a Assessment) Duration() time.Duration {
	return time.Duration(a.DurationMinutes) * time.Minute
}

type QuestionType string

const (
	MultipleChoice QuestionType = "multiple_choice"
	TrueFalse      QuestionType = "true_false"
	FillBlank      QuestionType = "fill_blank"
	Essay          QuestionType = "essay"
)

func (t QuestionType) Valid() bool {
	switch t {
	case MultipleChoice, TrueFalse, FillBlank, Essay:
		return true
	}
	return false
}

// HasOptions — варианты ответа хранятся только у вопросов с выбором.
func (t QuestionType) HasOptions() bool {
	return t == MultipleChoice || t == TrueFalse
}

type Question struct {
	ID            int64        `db:"id" json:"id"`
	AssessmentID  int64        `db:"assessment_id" json:"assessmentId"`
	Text          string       `db:"question_text" json:"questionText"`
	Type          QuestionType `db:"question_type" json:"questionType"`
	Options       Options      `db:"options" json:"options,omitempty"`
	CorrectAnswer string       `db:"correct_answer" json:"-"`
	Points        int          `db:"points" json:"points"`
	OrderIndex    int          `db:"order_index" json:"orderIndex"`
}

// Options — упорядоченный список вариантов, в БД лежит как JSONB.
type Options []string

func (o Options) Value() (driver.Value, error) {
	if o == nil {
		return nil, nil
	}
	b, err := json.Marshal([]string(o))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (o *Options) Scan(src any) error {
	b, err := jsonBytes(src)
	if err != nil || b == nil {
		*o = nil
		return err
	}
	return json.Unmarshal(b, (*[]string)(o))
}

func jsonBytes(src any) ([]byte, error) {
	switch v := src.(type) {
	case nil:
		return nil, nil
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	default:
		return nil, fmt.Errorf("unsupported json source %T", src)
	}
}
