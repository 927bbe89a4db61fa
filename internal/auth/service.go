package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/Spok95/school-backend/internal/apperr"
	"github.com/Spok95/school-backend/internal/audit"
	"github.com/Spok95/school-backend/internal/metrics"
	"github.com/Spok95/school-backend/internal/models"
	"github.com/Spok95/school-backend/internal/schoolyear"
)

type UserStore interface {
	CreateWithProfile(ctx context.Context, u models.User, sp *models.StudentProfile, tp *models.TeacherProfile) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	GetByID(ctx context.Context, id int64) (*models.User, error)
	EmailExists(ctx context.Context, email string) (bool, error)
	Profile(ctx context.Context, id int64) (*models.Profile, error)
	SetLastLogin(ctx context.Context, id int64, at time.Time) error
	UpdatePassword(ctx context.Context, id int64, hash string, at time.Time) error
	SetActive(ctx context.Context, id int64, active bool, at time.Time) error
}

type SessionStore interface {
	Create(ctx context.Context, ns models.NewSession, now time.Time) (*models.Session, error)
	FindByRefreshToken(ctx context.Context, refreshToken string, now time.Time) (*models.Session, error)
	FindByToken(ctx context.Context, token string, now time.Time) (*models.Session, error)
	Rotate(ctx context.Context, token, oldRefresh, newRefresh string, now time.Time) (bool, error)
	Touch(ctx context.Context, token string, now time.Time) error
	Revoke(ctx context.Context, token string) error
	RevokeAllForUser(ctx context.Context, userID int64) (int64, error)
}

type ActivityRecorder interface {
	Record(ctx context.Context, e models.ActivityEntry)
}

// Gate — проверки прав, нужные для управления пользователями.
type Gate interface {
	HasPermission(role models.Role, perm string) bool
	RoleHierarchyAllows(acting, target models.Role) bool
}

const PermManageUsers = "user:manage"

type Deps struct {
	Users    UserStore
	Sessions SessionStore
	Tokens   *Tokens
	Hasher   *Hasher
	Audit    ActivityRecorder
	Gate     Gate
	Log      *zap.Logger
	Now      func() time.Time
}

type Service struct {
	users    UserStore
	sessions SessionStore
	tokens   *Tokens
	hasher   *Hasher
	audit    ActivityRecorder
	gate     Gate
	log      *zap.Logger
	now      func() time.Time

	// сравнение с ним выравнивает время ответа для несуществующего email
	dummyHash string
}

func NewService(d Deps) *Service {
	s := &Service{
		users:    d.Users,
		sessions: d.Sessions,
		tokens:   d.Tokens,
		hasher:   d.Hasher,
		audit:    d.Audit,
		gate:     d.Gate,
		log:      d.Log,
		now:      d.Now,
	}
	if s.log == nil {
		s.log = zap.NewNop()
	}
	if s.now == nil {
		s.now = time.Now
	}
	if h, err := s.hasher.Hash("not-a-real-password"); err == nil {
		s.dummyHash = h
	}
	return s
}

type RegisterInput struct {
	Email         string      `json:"email"`
	Password      string      `json:"password"`
	FirstName     string      `json:"firstName"`
	LastName      string      `json:"lastName"`
	Role          models.Role `json:"role"`
	GradeLevel    *int        `json:"gradeLevel,omitempty"`
	StudentNumber *string     `json:"studentNumber,omitempty"`
	AcademicYear  string      `json:"academicYear,omitempty"`
	Subject       *string     `json:"subject,omitempty"`
}

type LoginInput struct {
	Email     string
	Password  string
	IP        string
	UserAgent string
}

type TokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresIn    int64  `json:"expiresIn"`
}

type LoginResult struct {
	Profile *models.Profile `json:"user"`
	TokenPair
}

// Principal — результат проверки access-токена.
type Principal struct {
	Profile   *models.Profile
	SessionID string
}

var emailRe = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

func normalizeEmail(s string) string { return strings.ToLower(strings.TrimSpace(s)) }

func (s *Service) validateRegister(in *RegisterInput) error {
	verr := &apperr.ValidationError{}

	in.Email = normalizeEmail(in.Email)
	if !emailRe.MatchString(in.Email) {
		verr.Add("email", "Please provide a valid email address", "INVALID_EMAIL")
	}
	if len(in.Password) > maxPasswordBytes {
		verr.Add("password", "Password must be at most 72 bytes", "PASSWORD_TOO_LONG")
	} else if st := ScorePasswordStrength(in.Password); !st.IsValid {
		for _, msg := range st.Errors {
			verr.Add("password", msg, "WEAK_PASSWORD")
		}
	}
	in.FirstName = strings.TrimSpace(in.FirstName)
	in.LastName = strings.TrimSpace(in.LastName)
	if utf8.RuneCountInString(in.FirstName) < 2 {
		verr.Add("firstName", "First name must be at least 2 characters", "INVALID_LENGTH")
	}
	if utf8.RuneCountInString(in.LastName) < 2 {
		verr.Add("lastName", "Last name must be at least 2 characters", "INVALID_LENGTH")
	}

	if in.Role == "" {
		in.Role = models.Student
	}
	switch in.Role {
	case models.Student:
		if in.GradeLevel == nil {
			verr.Add("gradeLevel", "Grade level is required for students", "REQUIRED")
		} else if *in.GradeLevel < 1 || *in.GradeLevel > 12 {
			verr.Add("gradeLevel", "Grade level must be between 1 and 12", "OUT_OF_RANGE")
		}
	case models.Teacher:
		// год приводим к виду 2024-2025, если получилось разобрать; иначе храним как прислали
		in.AcademicYear = strings.TrimSpace(in.AcademicYear)
		if in.AcademicYear == "" {
			verr.Add("academicYear", "Academic year is required for teachers", "REQUIRED")
		} else if label, err := schoolyear.Normalize(in.AcademicYear); err == nil {
			in.AcademicYear = label
		}
	default:
		verr.Add("role", "Role must be student or teacher", "INVALID_ROLE")
	}
	return verr.OrNil()
}

// Register создаёт пользователя и профиль его роли. Администраторы через регистрацию не создаются.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*models.Profile, error) {
	const op = "auth.register"
	if err := s.validateRegister(&in); err != nil {
		return nil, err
	}

	exists, err := s.users.EmailExists(ctx, in.Email)
	if err != nil {
		return nil, apperr.Internal(op, err)
	}
	if exists {
		return nil, apperr.ErrEmailExists
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, apperr.Internal(op, err)
	}

	now := s.now()
	u := models.User{
		Email:        in.Email,
		PasswordHash: hash,
		FirstName:    in.FirstName,
		LastName:     in.LastName,
		Role:         in.Role,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	var (
		sp *models.StudentProfile
		tp *models.TeacherProfile
	)
	switch in.Role {
	case models.Student:
		sp = &models.StudentProfile{GradeLevel: *in.GradeLevel, StudentNumber: in.StudentNumber}
	case models.Teacher:
		tp = &models.TeacherProfile{AcademicYear: in.AcademicYear, Subject: in.Subject}
	}

	created, err := s.users.CreateWithProfile(ctx, u, sp, tp)
	if errors.Is(err, apperr.ErrEmailExists) {
		return nil, err
	}
	if err != nil {
		return nil, apperr.Internal(op, err)
	}

	p := created.Profile()
	if sp != nil {
		sp.UserID = created.ID
		p.Student = sp
	}
	if tp != nil {
		tp.UserID = created.ID
		p.Teacher = tp
	}
	s.audit.Record(ctx, audit.Entry(created.ID, audit.ActionRegister, "user", created.ID))
	s.log.Info("user registered", zap.Int64("user_id", created.ID), zap.String("role", string(created.Role)))
	return &p, nil
}

// Login — одна и та же ошибка для неизвестного email и неверного пароля.
func (s *Service) Login(ctx context.Context, in LoginInput) (*LoginResult, error) {
	const op = "auth.login"
	u, err := s.users.GetByEmail(ctx, normalizeEmail(in.Email))
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		s.hasher.Verify(in.Password, s.dummyHash)
		metrics.Logins.WithLabelValues("invalid_credentials").Inc()
		return nil, apperr.ErrInvalidCredentials
	case err != nil:
		metrics.Logins.WithLabelValues("error").Inc()
		return nil, apperr.Internal(op, err)
	}
	if !s.hasher.Verify(in.Password, u.PasswordHash) {
		metrics.Logins.WithLabelValues("invalid_credentials").Inc()
		return nil, apperr.ErrInvalidCredentials
	}
	if !u.IsActive {
		metrics.Logins.WithLabelValues("deactivated").Inc()
		return nil, apperr.ErrAccountDeactivated
	}

	sessionToken, err := newSessionToken()
	if err != nil {
		return nil, apperr.Internal(op, err)
	}
	pair, err := s.issuePair(u, sessionToken)
	if err != nil {
		return nil, apperr.Internal(op, err)
	}

	now := s.now()
	if _, err := s.sessions.Create(ctx, models.NewSession{
		UserID:       u.ID,
		Token:        sessionToken,
		RefreshToken: pair.RefreshToken,
		IP:           in.IP,
		UserAgent:    in.UserAgent,
	}, now); err != nil {
		metrics.Logins.WithLabelValues("error").Inc()
		return nil, apperr.Internal(op, err)
	}
	if err := s.users.SetLastLogin(ctx, u.ID, now); err != nil {
		s.log.Warn("set last login failed", zap.Int64("user_id", u.ID), zap.Error(err))
	}

	p, err := s.users.Profile(ctx, u.ID)
	if err != nil {
		return nil, apperr.Internal(op, err)
	}

	entry := audit.Entry(u.ID, audit.ActionLogin, "", 0)
	entry.IPAddress = optional(in.IP)
	entry.UserAgent = optional(in.UserAgent)
	s.audit.Record(ctx, entry)
	metrics.Logins.WithLabelValues("ok").Inc()
	return &LoginResult{Profile: p, TokenPair: *pair}, nil
}

// RefreshToken меняет пару токенов и ротирует refresh в той же сессии.
// Старый refresh после успешного вызова не принимается.
func (s *Service) RefreshToken(ctx context.Context, refreshToken string) (*TokenPair, error) {
	const op = "auth.refresh"
	fail := func(outcome string, err error) (*TokenPair, error) {
		metrics.TokenRefreshes.WithLabelValues(outcome).Inc()
		return nil, err
	}

	claims, err := s.tokens.VerifyRefresh(refreshToken)
	if err != nil {
		return fail("invalid", apperr.ErrInvalidRefreshTok)
	}
	now := s.now()
	sess, err := s.sessions.FindByRefreshToken(ctx, refreshToken, now)
	if errors.Is(err, apperr.ErrNotFound) {
		return fail("invalid", apperr.ErrInvalidRefreshTok)
	}
	if err != nil {
		return fail("error", apperr.Internal(op, err))
	}
	if sess.Token != claims.SessionID || sess.UserID != claims.UserID {
		return fail("invalid", apperr.ErrInvalidRefreshTok)
	}

	u, err := s.users.GetByID(ctx, sess.UserID)
	if errors.Is(err, apperr.ErrNotFound) {
		return fail("invalid", apperr.ErrInvalidRefreshTok)
	}
	if err != nil {
		return fail("error", apperr.Internal(op, err))
	}
	if !u.IsActive {
		return fail("deactivated", apperr.ErrAccountDeactivated)
	}

	pair, err := s.issuePair(u, sess.Token)
	if err != nil {
		return fail("error", apperr.Internal(op, err))
	}
	ok, err := s.sessions.Rotate(ctx, sess.Token, refreshToken, pair.RefreshToken, now)
	if err != nil {
		return fail("error", apperr.Internal(op, err))
	}
	if !ok {
		// параллельный вызов успел ротировать первым
		return fail("reused", apperr.ErrInvalidRefreshTok)
	}

	s.audit.Record(ctx, audit.Entry(u.ID, audit.ActionRefreshToken, "", 0))
	metrics.TokenRefreshes.WithLabelValues("ok").Inc()
	return pair, nil
}

// Logout идемпотентен: неизвестная или уже закрытая сессия — не ошибка.
func (s *Service) Logout(ctx context.Context, sessionToken string) error {
	const op = "auth.logout"
	if sessionToken == "" {
		return nil
	}
	sess, err := s.sessions.FindByToken(ctx, sessionToken, s.now())
	if err != nil && !errors.Is(err, apperr.ErrNotFound) {
		return apperr.Internal(op, err)
	}
	if err := s.sessions.Revoke(ctx, sessionToken); err != nil {
		return apperr.Internal(op, err)
	}
	if sess != nil {
		s.audit.Record(ctx, audit.Entry(sess.UserID, audit.ActionLogout, "", 0))
	}
	return nil
}

// ChangePassword после смены пароля закрывает все сессии пользователя.
func (s *Service) ChangePassword(ctx context.Context, userID int64, current, next string) error {
	const op = "auth.change_password"
	u, err := s.users.GetByID(ctx, userID)
	if errors.Is(err, apperr.ErrNotFound) {
		return err
	}
	if err != nil {
		return apperr.Internal(op, err)
	}
	if !s.hasher.Verify(current, u.PasswordHash) {
		return apperr.ErrInvalidCurrentPass
	}
	if len(next) > maxPasswordBytes {
		return &apperr.WeakPasswordError{Reasons: []string{"Password must be at most 72 bytes"}}
	}
	if st := ScorePasswordStrength(next); !st.IsValid {
		return &apperr.WeakPasswordError{Reasons: st.Errors}
	}

	hash, err := s.hasher.Hash(next)
	if err != nil {
		return apperr.Internal(op, err)
	}
	if err := s.users.UpdatePassword(ctx, userID, hash, s.now()); err != nil {
		return apperr.Internal(op, err)
	}
	n, err := s.sessions.RevokeAllForUser(ctx, userID)
	if err != nil {
		return apperr.Internal(op, err)
	}

	s.audit.Record(ctx, audit.Entry(userID, audit.ActionChangePassword, "user", userID))
	s.log.Info("password changed", zap.Int64("user_id", userID), zap.Int64("sessions_revoked", n))
	return nil
}

// VerifyToken — горячий путь каждого авторизованного запроса.
func (s *Service) VerifyToken(ctx context.Context, accessToken string) (*Principal, error) {
	const op = "auth.verify"
	claims, err := s.tokens.VerifyAccess(accessToken)
	if errors.Is(err, ErrTokenExpired) {
		return nil, apperr.ErrTokenExpired
	}
	if err != nil {
		return nil, apperr.ErrInvalidToken
	}

	now := s.now()
	sess, err := s.sessions.FindByToken(ctx, claims.SessionID, now)
	if errors.Is(err, apperr.ErrNotFound) {
		return nil, apperr.ErrInvalidSession
	}
	if err != nil {
		return nil, apperr.Internal(op, err)
	}
	if sess.UserID != claims.UserID {
		return nil, apperr.ErrInvalidSession
	}

	p, err := s.users.Profile(ctx, sess.UserID)
	if errors.Is(err, apperr.ErrNotFound) {
		return nil, apperr.ErrInvalidSession
	}
	if err != nil {
		return nil, apperr.Internal(op, err)
	}
	if !p.IsActive {
		return nil, apperr.ErrAccountDeactivated
	}

	if err := s.sessions.Touch(ctx, sess.Token, now); err != nil {
		s.log.Warn("session touch failed", zap.Int64("user_id", sess.UserID), zap.Error(err))
	}
	return &Principal{Profile: p, SessionID: sess.Token}, nil
}

// Actor — кто выполняет административное действие.
type Actor struct {
	ID   int64
	Role models.Role
}

// SetActive включает или отключает учётную запись. Отключение закрывает все сессии пользователя.
func (s *Service) SetActive(ctx context.Context, actor Actor, userID int64, active bool) error {
	const op = "auth.set_active"
	if actor.ID == userID && !active {
		v := &apperr.ValidationError{}
		v.Add("userId", "You cannot deactivate your own account", "SELF_DEACTIVATION")
		return v
	}
	target, err := s.users.GetByID(ctx, userID)
	if errors.Is(err, apperr.ErrNotFound) {
		return err
	}
	if err != nil {
		return apperr.Internal(op, err)
	}
	if !s.gate.HasPermission(actor.Role, PermManageUsers) || !s.gate.RoleHierarchyAllows(actor.Role, target.Role) {
		return apperr.ErrUnauthorized
	}

	if err := s.users.SetActive(ctx, userID, active, s.now()); err != nil {
		return apperr.Internal(op, err)
	}
	action := audit.ActionActivate
	if !active {
		action = audit.ActionDeactivate
		if _, err := s.sessions.RevokeAllForUser(ctx, userID); err != nil {
			return apperr.Internal(op, err)
		}
	}
	s.audit.Record(ctx, audit.Entry(actor.ID, action, "user", userID))
	return nil
}

func (s *Service) AccessTTLSeconds() int64 { return s.tokens.AccessTTLSeconds() }

func (s *Service) issuePair(u *models.User, sessionToken string) (*TokenPair, error) {
	id := Identity{UserID: u.ID, Email: u.Email, Role: u.Role, SessionID: sessionToken}
	access, err := s.tokens.IssueAccess(id)
	if err != nil {
		return nil, err
	}
	refresh, err := s.tokens.IssueRefresh(id)
	if err != nil {
		return nil, err
	}
	return &TokenPair{AccessToken: access, RefreshToken: refresh, ExpiresIn: s.tokens.AccessTTLSeconds()}, nil
}

// newSessionToken — 32 случайных байта в base64url.
func newSessionToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
