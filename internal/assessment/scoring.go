package assessment

import (
	"strings"

	"github.com/Spok95/school-backend/internal/models"
)

// Score — итог автоматической проверки.
type Score struct {
	Total      float64
	Max        float64
	Percentage float64
	Passed     bool
	Questions  []models.QuestionResult
}

func normalize(s string) string { return strings.ToLower(strings.TrimSpace(s)) }

// IsCorrect сравнивает ответ без учёта регистра и пробелов по краям.
// В fill_blank допустимые варианты перечисляются через "|". Эссе автоматически не засчитывается.
func IsCorrect(q models.Question, answer string) bool {
	got := normalize(answer)
	if got == "" {
		return false
	}
	switch q.Type {
	case models.MultipleChoice, models.TrueFalse:
		return got == normalize(q.CorrectAnswer)
	case models.FillBlank:
		for _, v := range strings.Split(q.CorrectAnswer, "|") {
			if nv := normalize(v); nv != "" && nv == got {
				return true
			}
		}
		return false
	default:
		return false
	}
}

// Grade проверяет все вопросы теста. Без ответа вопрос считается неверным.
func Grade(questions []models.Question, answers models.Answers, passingScore float64) Score {
	var s Score
	s.Questions = make([]models.QuestionResult, 0, len(questions))
	for _, q := range questions {
		answer := answers[q.ID]
		possible := float64(q.Points)
		qr := models.QuestionResult{
			QuestionID:     q.ID,
			Type:           q.Type,
			StudentAnswer:  answer,
			CorrectAnswer:  q.CorrectAnswer,
			PointsPossible: possible,
			NeedsManual:    q.Type == models.Essay,
		}
		if IsCorrect(q, answer) {
			qr.IsCorrect = true
			qr.PointsEarned = possible
		}
		s.Total += qr.PointsEarned
		s.Max += possible
		s.Questions = append(s.Questions, qr)
	}
	if s.Max > 0 {
		s.Percentage = 100 * s.Total / s.Max
	}
	s.Passed = s.Percentage >= passingScore
	return s
}
