package db

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/Spok95/school-backend/internal/apperr"
	"github.com/Spok95/school-backend/internal/models"
)

type UserRepo struct {
	db *sql.DB
}

func NewUserRepo(database *sql.DB) *UserRepo { return &UserRepo{db: database} }

const userColumns = `id, email, password_hash, first_name, last_name, role, is_active, email_verified, last_login, created_at, updated_at`

func scanUser(row interface{ Scan(...any) error }) (*models.User, error) {
	var u models.User
	err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.FirstName, &u.LastName, &u.Role,
		&u.IsActive, &u.EmailVerified, &u.LastLogin, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// CreateWithProfile — пользователь и профиль роли в одной транзакции.
// Занятый email → apperr.ErrEmailExists.
func (r *UserRepo) CreateWithProfile(ctx context.Context, u models.User, sp *models.StudentProfile, tp *models.TeacherProfile) (*models.User, error) {
	var created *models.User
	err := withTx(ctx, r.db, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, `
			INSERT INTO users (email, password_hash, first_name, last_name, role, is_active, email_verified, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, TRUE, FALSE, $6, $6)
			RETURNING `+userColumns,
			strings.ToLower(u.Email), u.PasswordHash, u.FirstName, u.LastName, string(u.Role), u.CreatedAt)
		var err error
		created, err = scanUser(row)
		if err != nil {
			if isUniqueViolation(err) {
				return apperr.ErrEmailExists
			}
			return err
		}

		if sp != nil {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO student_profiles (user_id, grade_level, student_number) VALUES ($1, $2, $3)`,
				created.ID, sp.GradeLevel, sp.StudentNumber); err != nil {
				return err
			}
		}
		if tp != nil {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO teacher_profiles (user_id, academic_year, subject) VALUES ($1, $2, $3)`,
				created.ID, tp.AcademicYear, tp.Subject); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

func (r *UserRepo) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE lower(email) = lower($1)`, email)
	return scanUser(row)
}

func (r *UserRepo) GetByID(ctx context.Context, id int64) (*models.User, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	return scanUser(row)
}

func (r *UserRepo) EmailExists(ctx context.Context, email string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM users WHERE lower(email) = lower($1))`, email).Scan(&exists)
	return exists, err
}

// Profile — публичный профиль вместе с профилем роли (если есть).
func (r *UserRepo) Profile(ctx context.Context, id int64) (*models.Profile, error) {
	u, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	p := u.Profile()
	switch u.Role {
	case models.Student:
		var sp models.StudentProfile
		err := r.db.QueryRowContext(ctx, `
			SELECT user_id, grade_level, student_number FROM student_profiles WHERE user_id = $1`, id).
			Scan(&sp.UserID, &sp.GradeLevel, &sp.StudentNumber)
		if err == nil {
			p.Student = &sp
		} else if !errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
	case models.Teacher:
		var tp models.TeacherProfile
		err := r.db.QueryRowContext(ctx, `
			SELECT user_id, academic_year, subject FROM teacher_profiles WHERE user_id = $1`, id).
			Scan(&tp.UserID, &tp.AcademicYear, &tp.Subject)
		if err == nil {
			p.Teacher = &tp
		} else if !errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
	}
	return &p, nil
}

func (r *UserRepo) SetLastLogin(ctx context.Context, id int64, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `UPDATE users SET last_login = $2, updated_at = $2 WHERE id = $1`, id, at)
	return err
}

func (r *UserRepo) UpdatePassword(ctx context.Context, id int64, hash string, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `UPDATE users SET password_hash = $2, updated_at = $3 WHERE id = $1`, id, hash, at)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.ErrNotFound
	}
	return nil
}

func (r *UserRepo) SetActive(ctx context.Context, id int64, active bool, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `UPDATE users SET is_active = $2, updated_at = $3 WHERE id = $1`, id, active, at)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.ErrNotFound
	}
	return nil
}
