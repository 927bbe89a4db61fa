package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"
)

type AttemptStatus string

const (
	AttemptInProgress    AttemptStatus = "in_progress"
	AttemptSubmitted     AttemptStatus = "submitted"
	AttemptAutoSubmitted AttemptStatus = "auto_submitted"
	AttemptCompleted     AttemptStatus = "completed"
	AttemptCancelled     AttemptStatus = "cancelled"
)

// TerminalAttemptStatuses — статусы, которые засчитываются в лимит попыток.
var TerminalAttemptStatuses = []AttemptStatus{
	AttemptSubmitted, AttemptAutoSubmitted, AttemptCompleted, AttemptCancelled,
}

func (s AttemptStatus) Terminal() bool {
	return s != AttemptInProgress && s != ""
}

// Answers — questionID → ответ. В БД — JSONB-объект.
type Answers map[int64]string

func (a Answers) Value() (driver.Value, error) {
	if a == nil {
		return "{}", nil
	}
	b, err := json.Marshal(map[int64]string(a))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (a *Answers) Scan(src any) error {
	b, err := jsonBytes(src)
	if err != nil {
		return err
	}
	out := Answers{}
	if len(b) > 0 {
		if err := json.Unmarshal(b, (*map[int64]string)(&out)); err != nil {
			return err
		}
	}
	*a = out
	return nil
}

type Attempt struct {
	ID              int64         `db:"id" json:"id"`
	AssessmentID    int64         `db:"assessment_id" json:"assessmentId"`
	StudentID       int64         `db:"student_id" json:"studentId"`
	Status          AttemptStatus `db:"status" json:"status"`
	Answers         Answers       `db:"answers" json:"answers"`
	StartedAt       time.Time     `db:"started_at" json:"startedAt"`
	CompletedAt     *time.Time    `db:"completed_at" json:"completedAt,omitempty"`
	SubmittedAt     *time.Time    `db:"submitted_at" json:"submittedAt,omitempty"`
	TotalScore      *float64      `db:"total_score" json:"totalScore,omitempty"`
	MaxScore        *float64      `db:"max_score" json:"maxScore,omitempty"`
	PercentageScore *float64      `db:"percentage_score" json:"percentageScore,omitempty"`
	Passed          *bool         `db:"passed" json:"passed,omitempty"`
	TimeSpent       *int64        `db:"time_spent" json:"timeSpent,omitempty"`
	Result          *ResultDetail `db:"result_detail" json:"-"`
}

// QuestionResult — проверка одного вопроса.
type QuestionResult struct {
	QuestionID     int64        `json:"questionId"`
	Type           QuestionType `json:"questionType"`
	StudentAnswer  string       `json:"studentAnswer"`
	CorrectAnswer  string       `json:"correctAnswer"`
	IsCorrect      bool         `json:"isCorrect"`
	PointsEarned   float64      `json:"pointsEarned"`
	PointsPossible float64      `json:"pointsPossible"`
	NeedsManual    bool         `json:"needsManualGrading,omitempty"`
}

// ResultDetail — по-вопросная детализация, хранится в JSONB рядом с попыткой.
type ResultDetail struct {
	Questions []QuestionResult `json:"questions"`
}

// AttemptResult — то, что получает студент после сдачи.
type AttemptResult struct {
	AttemptID       int64            `json:"attemptId"`
	AssessmentID    int64            `json:"assessmentId"`
	Status          AttemptStatus    `json:"status"`
	TotalScore      float64          `json:"totalScore"`
	MaxScore        float64          `json:"maxScore"`
	PercentageScore float64          `json:"percentageScore"`
	Passed          bool             `json:"passed"`
	PassingScore    float64          `json:"passingScore"`
	TimeSpent       int64            `json:"timeSpent"`
	SubmittedAt     time.Time        `json:"submittedAt"`
	Questions       []QuestionResult `json:"questions"`
}

// FinishedAttempt — завершённая попытка с данными ученика для отчётов.
type FinishedAttempt struct {
	Attempt
	StudentName  string
	StudentEmail string
}
