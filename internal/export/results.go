package export

import (
	"io"
	"time"

	"github.com/Spok95/school-backend/internal/models"
)

var resultsHeader = []string{
	"Ученик", "Email", "Статус", "Начало", "Сдано", "Баллы", "Максимум", "Процент", "Зачёт", "Время, мин",
}

// ResultsSheet — лист с одной строкой на завершённую попытку.
func ResultsSheet(a models.Assessment, attempts []models.FinishedAttempt, loc *time.Location) SheetSpec {
	if loc == nil {
		loc = time.UTC
	}
	rows := make([][]any, 0, len(attempts))
	for _, at := range attempts {
		submitted := ""
		if at.SubmittedAt != nil {
			submitted = at.SubmittedAt.In(loc).Format("02.01.2006 15:04")
		} else if at.CompletedAt != nil {
			submitted = at.CompletedAt.In(loc).Format("02.01.2006 15:04")
		}
		passed := "нет"
		if at.Passed != nil && *at.Passed {
			passed = "да"
		}
		var minutes float64
		if at.TimeSpent != nil {
			minutes = float64(*at.TimeSpent) / 60
		}
		rows = append(rows, []any{
			at.StudentName,
			at.StudentEmail,
			statusLabel(at.Status),
			at.StartedAt.In(loc).Format("02.01.2006 15:04"),
			submitted,
			deref(at.TotalScore),
			deref(at.MaxScore),
			deref(at.PercentageScore),
			passed,
			minutes,
		})
	}
	return SheetSpec{Title: a.Title, Header: resultsHeader, Rows: rows}
}

// WriteResults пишет xlsx с результатами теста в dst.
func WriteResults(dst io.Writer, a models.Assessment, attempts []models.FinishedAttempt, loc *time.Location) error {
	wb, err := NewWorkbook([]SheetSpec{ResultsSheet(a, attempts, loc)})
	if err != nil {
		return err
	}
	defer func() { _ = wb.Close() }()
	_, err = wb.WriteTo(dst)
	return err
}

func statusLabel(s models.AttemptStatus) string {
	switch s {
	case models.AttemptSubmitted, models.AttemptCompleted:
		return "сдано"
	case models.AttemptAutoSubmitted:
		return "сдано автоматически"
	case models.AttemptCancelled:
		return "отменено"
	default:
		return string(s)
	}
}

func deref(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}
