package export

import (
	"bytes"
	"testing"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/Spok95/school-backend/internal/models"
)

func ptr[T any](v T) *T { return &v }

func TestWriteResults(t *testing.T) {
	started := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	a := models.Assessment{ID: 1, Title: "Дроби: контрольная", Subject: "Математика"}
	attempts := []models.FinishedAttempt{
		{
			Attempt: models.Attempt{
				ID:              10,
				Status:          models.AttemptSubmitted,
				StartedAt:       started,
				SubmittedAt:     ptr(started.Add(30 * time.Minute)),
				TotalScore:      ptr(5.0),
				MaxScore:        ptr(8.0),
				PercentageScore: ptr(62.5),
				Passed:          ptr(true),
				TimeSpent:       ptr(int64(1800)),
			},
			StudentName:  "Иван Петров",
			StudentEmail: "ivan@school.test",
		},
		{
			Attempt:      models.Attempt{ID: 11, Status: models.AttemptCancelled, StartedAt: started},
			StudentName:  "Анна Смирнова",
			StudentEmail: "anna@school.test",
		},
	}

	var buf bytes.Buffer
	if err := WriteResults(&buf, a, attempts, time.UTC); err != nil {
		t.Fatal(err)
	}

	f, err := excelize.OpenReader(&buf)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = f.Close() }()

	sheet := f.GetSheetName(0)
	if sheet != "Дроби_ контрольная" {
		t.Fatalf("sheet = %q", sheet)
	}
	rows, err := f.GetRows(sheet)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 3 {
		t.Fatalf("rows = %d", len(rows))
	}
	if rows[1][0] != "Иван Петров" || rows[1][2] != "сдано" || rows[1][7] != "62.5" || rows[1][8] != "да" || rows[1][9] != "30" {
		t.Fatalf("row 1 = %v", rows[1])
	}
	if rows[2][2] != "отменено" || rows[2][4] != "" || rows[2][8] != "нет" {
		t.Fatalf("row 2 = %v", rows[2])
	}
}

func TestNewWorkbookNeedsSheet(t *testing.T) {
	if _, err := NewWorkbook(nil); err == nil {
		t.Fatal("expected error")
	}
}

func TestBuildResultsFilename(t *testing.T) {
	got := BuildResultsFilename("Тест 1/2", " ")
	if got != "Результаты — Тест 1_2 — —.xlsx" {
		t.Fatalf("got %q", got)
	}
}

func TestSheetNameTruncated(t *testing.T) {
	long := "Очень длинное название контрольной работы по алгебре"
	if n := len([]rune(sheetName(long))); n != 31 {
		t.Fatalf("len = %d", n)
	}
}
