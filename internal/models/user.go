package models

import "time"

type Role string

const (
	Student Role = "student"
	Teacher Role = "teacher"
	Admin   Role = "admin"
)

// Valid — одна из трёх известных ролей.
func (r Role) Valid() bool {
	switch r {
	case Student, Teacher, Admin:
		return true
	}
	return false
}

type User struct {
	ID            int64      `db:"id"`
	Email         string     `db:"email"`
	PasswordHash  string     `db:"password_hash"`
	FirstName     string     `db:"first_name"`
	LastName      string     `db:"last_name"`
	Role          Role       `db:"role"`
	IsActive      bool       `db:"is_active"`
	EmailVerified bool       `db:"email_verified"`
	LastLogin     *time.Time `db:"last_login"`
	CreatedAt     time.Time  `db:"created_at"`
	UpdatedAt     time.Time  `db:"updated_at"`
}

type StudentProfile struct {
	UserID        int64   `db:"user_id" json:"userId"`
	GradeLevel    int     `db:"grade_level" json:"gradeLevel"`
	StudentNumber *string `db:"student_number" json:"studentNumber,omitempty"`
}

type TeacherProfile struct {
	UserID       int64   `db:"user_id" json:"userId"`
	AcademicYear string  `db:"academic_year" json:"academicYear"`
	Subject      *string `db:"subject" json:"subject,omitempty"`
}

// Profile — публичное представление пользователя, без полей пароля.
type Profile struct {
	ID            int64           `json:"id"`
	Email         string          `json:"email"`
	FirstName     string          `json:"firstName"`
	LastName      string          `json:"lastName"`
	Role          Role            `json:"role"`
	IsActive      bool            `json:"isActive"`
	EmailVerified bool            `json:"emailVerified"`
	LastLogin     *time.Time      `json:"lastLogin,omitempty"`
	CreatedAt     time.Time       `json:"createdAt"`
	Student       *StudentProfile `json:"studentProfile,omitempty"`
	Teacher       *TeacherProfile `json:"teacherProfile,omitempty"`
}

func (u User) Profile() Profile {
	return Profile{
		ID:            u.ID,
		Email:         u.Email,
		FirstName:     u.FirstName,
		LastName:      u.LastName,
		Role:          u.Role,
		IsActive:      u.IsActive,
		EmailVerified: u.EmailVerified,
		LastLogin:     u.LastLogin,
		CreatedAt:     u.CreatedAt,
	}
}
