package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/lib/pq"

	"github.com/Spok95/school-backend/internal/apperr"
	"github.com/Spok95/school-backend/internal/models"
)

type AttemptRepo struct {
	db *sql.DB
}

func NewAttemptRepo(database *sql.DB) *AttemptRepo { return &AttemptRepo{db: database} }

const attemptColumns = `id, assessment_id, student_id, status, answers, started_at, completed_at, submitted_at,
	total_score, max_score, percentage_score, passed, time_spent, result_detail`

func scanAttempt(row interface{ Scan(...any) error }) (*models.Attempt, error) {
	var (
		a      models.Attempt
		detail []byte
	)
	err := row.Scan(&a.ID, &a.AssessmentID, &a.StudentID, &a.Status, &a.Answers, &a.StartedAt, &a.CompletedAt,
		&a.SubmittedAt, &a.TotalScore, &a.MaxScore, &a.PercentageScore, &a.Passed, &a.TimeSpent, &detail)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if len(detail) > 0 {
		var d models.ResultDetail
		if err := json.Unmarshal(detail, &d); err != nil {
			return nil, err
		}
		a.Result = &d
	}
	return &a, nil
}

func terminalStatuses() pq.StringArray {
	out := make(pq.StringArray, 0, len(models.TerminalAttemptStatuses))
	for _, s := range models.TerminalAttemptStatuses {
		out = append(out, string(s))
	}
	return out
}

// Start — проверка лимита и активной попытки + вставка в одной транзакции.
// Гонку двух параллельных стартов закрывает частичный уникальный индекс attempts_one_active_uq.
func (r *AttemptRepo) Start(ctx context.Context, assessmentID, studentID int64, maxAttempts int, now time.Time) (*models.Attempt, error) {
	var created *models.Attempt
	err := withTx(ctx, r.db, func(tx *sql.Tx) error {
		var used int
		if err := tx.QueryRowContext(ctx, `
			SELECT count(*) FROM assessment_attempts
			WHERE assessment_id = $1 AND student_id = $2 AND status = ANY($3)`,
			assessmentID, studentID, terminalStatuses()).Scan(&used); err != nil {
			return err
		}
		if used >= maxAttempts {
			return apperr.ErrMaxAttempts
		}

		var active bool
		if err := tx.QueryRowContext(ctx, `
			SELECT EXISTS (SELECT 1 FROM assessment_attempts
			               WHERE assessment_id = $1 AND student_id = $2 AND status = 'in_progress')`,
			assessmentID, studentID).Scan(&active); err != nil {
			return err
		}
		if active {
			return apperr.ErrActiveAttempt
		}

		row := tx.QueryRowContext(ctx, `
			INSERT INTO assessment_attempts (assessment_id, student_id, status, answers, started_at)
			VALUES ($1, $2, 'in_progress', '{}'::jsonb, $3)
			RETURNING `+attemptColumns, assessmentID, studentID, now)
		var err error
		created, err = scanAttempt(row)
		if err != nil && isUniqueViolation(err) {
			return apperr.ErrActiveAttempt
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

func (r *AttemptRepo) Get(ctx context.Context, id int64) (*models.Attempt, error) {
	return scanAttempt(r.db.QueryRowContext(ctx, `SELECT `+attemptColumns+` FROM assessment_attempts WHERE id = $1`, id))
}

// SaveAnswer сливает {questionId: answer} в answers, только пока попытка in_progress.
// false — попытка уже не активна.
func (r *AttemptRepo) SaveAnswer(ctx context.Context, attemptID, questionID int64, answer string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE assessment_attempts
		SET answers = answers || jsonb_build_object($2::text, $3::text)
		WHERE id = $1 AND status = 'in_progress'`,
		attemptID, strconv.FormatInt(questionID, 10), answer)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

// Finalize — единственный переход из in_progress в терминальный статус.
// Из параллельных вызовов выигрывает один, остальные получают false.
func (r *AttemptRepo) Finalize(ctx context.Context, res models.AttemptResult) (bool, error) {
	detail, err := json.Marshal(models.ResultDetail{Questions: res.Questions})
	if err != nil {
		return false, err
	}
	out, err := r.db.ExecContext(ctx, `
		UPDATE assessment_attempts
		SET status = $2, completed_at = $3, submitted_at = $3,
		    total_score = $4, max_score = $5, percentage_score = $6, passed = $7, time_spent = $8,
		    result_detail = $9::jsonb
		WHERE id = $1 AND status = 'in_progress'`,
		res.AttemptID, string(res.Status), res.SubmittedAt,
		res.TotalScore, res.MaxScore, res.PercentageScore, res.Passed, res.TimeSpent, string(detail))
	if err != nil {
		return false, err
	}
	n, _ := out.RowsAffected()
	return n == 1, nil
}

// ExpiredInProgress — активные попытки старше startedBefore, у которых к now вышло время теста.
// Каждая возвращённая строка подлежит автосдаче, поэтому пачка не застревает на длинных тестах.
func (r *AttemptRepo) ExpiredInProgress(ctx context.Context, startedBefore, now time.Time, limit int) ([]models.Attempt, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+prefixed("t", attemptColumns)+` FROM assessment_attempts t
		JOIN assessments s ON s.id = t.assessment_id
		WHERE t.status = 'in_progress' AND t.started_at < $1
		  AND t.started_at + make_interval(mins => s.duration_minutes) < $2
		ORDER BY t.started_at, t.id
		LIMIT $3`, startedBefore, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Attempt
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

// Cancel — отмена активной попытки; false, если попытка уже не in_progress.
func (r *AttemptRepo) Cancel(ctx context.Context, attemptID int64, now time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE assessment_attempts
		SET status = 'cancelled', completed_at = $2
		WHERE id = $1 AND status = 'in_progress'`, attemptID, now)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

// Finished — завершённые попытки теста вместе с именем ученика, для выгрузки результатов.
func (r *AttemptRepo) Finished(ctx context.Context, assessmentID int64) ([]models.FinishedAttempt, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+prefixed("t", attemptColumns)+`, u.first_name || ' ' || u.last_name, u.email
		FROM assessment_attempts t
		JOIN users u ON u.id = t.student_id
		WHERE t.assessment_id = $1 AND t.status = ANY($2)
		ORDER BY u.last_name, u.first_name, t.started_at`, assessmentID, terminalStatuses())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.FinishedAttempt
	for rows.Next() {
		var (
			f      models.FinishedAttempt
			detail []byte
		)
		a := &f.Attempt
		if err := rows.Scan(&a.ID, &a.AssessmentID, &a.StudentID, &a.Status, &a.Answers, &a.StartedAt, &a.CompletedAt,
			&a.SubmittedAt, &a.TotalScore, &a.MaxScore, &a.PercentageScore, &a.Passed, &a.TimeSpent, &detail,
			&f.StudentName, &f.StudentEmail); err != nil {
			return nil, err
		}
		if len(detail) > 0 {
			var d models.ResultDetail
			if err := json.Unmarshal(detail, &d); err != nil {
				return nil, err
			}
			a.Result = &d
		}
		out = append(out, f)
	}
	return out, rows.Err()
}
