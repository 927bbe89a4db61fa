package db

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/Spok95/school-backend/internal/apperr"
	"github.com/Spok95/school-backend/internal/models"
)

type AssessmentRepo struct {
	db *sql.DB
}

func NewAssessmentRepo(database *sql.DB) *AssessmentRepo { return &AssessmentRepo{db: database} }

const assessmentColumns = `id, title, subject, grade_level, difficulty, duration_minutes, passing_score, max_attempts,
	is_published, published_at, total_questions, created_by, created_at, updated_at`

func scanAssessment(row interface{ Scan(...any) error }) (*models.Assessment, error) {
	var a models.Assessment
	err := row.Scan(&a.ID, &a.Title, &a.Subject, &a.GradeLevel, &a.Difficulty, &a.DurationMinutes, &a.PassingScore,
		&a.MaxAttempts, &a.IsPublished, &a.PublishedAt, &a.TotalQuestions, &a.CreatedBy, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// Create — новый тест всегда черновик, без вопросов.
func (r *AssessmentRepo) Create(ctx context.Context, a models.Assessment, now time.Time) (*models.Assessment, error) {
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO assessments (title, subject, grade_level, difficulty, duration_minutes, passing_score, max_attempts,
		                         is_published, total_questions, created_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, FALSE, 0, $8, $9, $9)
		RETURNING `+assessmentColumns,
		a.Title, a.Subject, a.GradeLevel, string(a.Difficulty), a.DurationMinutes, a.PassingScore, a.MaxAttempts,
		a.CreatedBy, now)
	return scanAssessment(row)
}

func (r *AssessmentRepo) Get(ctx context.Context, id int64) (*models.Assessment, error) {
	return scanAssessment(r.db.QueryRowContext(ctx, `SELECT `+assessmentColumns+` FROM assessments WHERE id = $1`, id))
}

// Update меняет только редактируемые поля; счётчик вопросов и публикация — отдельными методами.
func (r *AssessmentRepo) Update(ctx context.Context, a models.Assessment, now time.Time) (*models.Assessment, error) {
	row := r.db.QueryRowContext(ctx, `
		UPDATE assessments
		SET title = $2, subject = $3, grade_level = $4, difficulty = $5, duration_minutes = $6,
		    passing_score = $7, max_attempts = $8, updated_at = $9
		WHERE id = $1
		RETURNING `+assessmentColumns,
		a.ID, a.Title, a.Subject, a.GradeLevel, string(a.Difficulty), a.DurationMinutes, a.PassingScore, a.MaxAttempts, now)
	return scanAssessment(row)
}

func (r *AssessmentRepo) Delete(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM assessments WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.ErrNotFound
	}
	return nil
}

// Publish идемпотентен: повторная публикация не сдвигает published_at.
func (r *AssessmentRepo) Publish(ctx context.Context, id int64, now time.Time) (*models.Assessment, error) {
	row := r.db.QueryRowContext(ctx, `
		UPDATE assessments
		SET is_published = TRUE, published_at = COALESCE(published_at, $2), updated_at = $2
		WHERE id = $1
		RETURNING `+assessmentColumns, id, now)
	return scanAssessment(row)
}

const questionColumns = `id, assessment_id, question_text, question_type, options, correct_answer, points, order_index`

func scanQuestion(row interface{ Scan(...any) error }) (*models.Question, error) {
	var q models.Question
	err := row.Scan(&q.ID, &q.AssessmentID, &q.Text, &q.Type, &q.Options, &q.CorrectAnswer, &q.Points, &q.OrderIndex)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &q, nil
}

// AddQuestions — пачечная вставка вопросов и увеличение total_questions в одной транзакции.
// Вопросы без OrderIndex дописываются в конец.
func (r *AssessmentRepo) AddQuestions(ctx context.Context, assessmentID int64, qs []models.Question, now time.Time) ([]models.Question, error) {
	out := make([]models.Question, 0, len(qs))
	err := withTx(ctx, r.db, func(tx *sql.Tx) error {
		var next int
		err := tx.QueryRowContext(ctx, `
			SELECT COALESCE((SELECT MAX(order_index) FROM questions WHERE assessment_id = a.id), -1) + 1
			FROM assessments a WHERE a.id = $1 FOR UPDATE`, assessmentID).Scan(&next)
		if errors.Is(err, sql.ErrNoRows) {
			return apperr.ErrNotFound
		}
		if err != nil {
			return err
		}

		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO questions (assessment_id, question_text, question_type, options, correct_answer, points, order_index)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			RETURNING `+questionColumns)
		if err != nil {
			return err
		}
		defer func() { _ = stmt.Close() }()

		for _, q := range qs {
			order := q.OrderIndex
			if order <= 0 {
				order = next
			}
			if order >= next {
				next = order + 1
			}
			created, err := scanQuestion(stmt.QueryRowContext(ctx,
				assessmentID, q.Text, string(q.Type), q.Options, q.CorrectAnswer, q.Points, order))
			if err != nil {
				return err
			}
			out = append(out, *created)
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE assessments SET total_questions = total_questions + $2, updated_at = $3 WHERE id = $1`,
			assessmentID, len(qs), now)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// RemoveQuestion — удаление вопроса и уменьшение счётчика атомарно.
func (r *AssessmentRepo) RemoveQuestion(ctx context.Context, assessmentID, questionID int64, now time.Time) error {
	return withTx(ctx, r.db, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM questions WHERE id = $1 AND assessment_id = $2`, questionID, assessmentID)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return apperr.ErrNotFound
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE assessments SET total_questions = GREATEST(total_questions - 1, 0), updated_at = $2 WHERE id = $1`,
			assessmentID, now)
		return err
	})
}

func (r *AssessmentRepo) Questions(ctx context.Context, assessmentID int64) ([]models.Question, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+questionColumns+` FROM questions WHERE assessment_id = $1 ORDER BY order_index, id`, assessmentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Question
	for rows.Next() {
		q, err := scanQuestion(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *q)
	}
	return out, rows.Err()
}
