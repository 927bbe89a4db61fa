package auth

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/Spok95/school-backend/internal/apperr"
	"github.com/Spok95/school-backend/internal/models"
	"github.com/Spok95/school-backend/internal/rbac"
)

type fakeUsers struct {
	mu       sync.Mutex
	nextID   int64
	byID     map[int64]*models.User
	students map[int64]*models.StudentProfile
	teachers map[int64]*models.TeacherProfile
}

func newFakeUsers() *fakeUsers {
	return &fakeUsers{
		byID:     map[int64]*models.User{},
		students: map[int64]*models.StudentProfile{},
		teachers: map[int64]*models.TeacherProfile{},
	}
}

func (f *fakeUsers) CreateWithProfile(_ context.Context, u models.User, sp *models.StudentProfile, tp *models.TeacherProfile) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.byID {
		if existing.Email == u.Email {
			return nil, apperr.ErrEmailExists
		}
	}
	f.nextID++
	u.ID = f.nextID
	f.byID[u.ID] = &u
	if sp != nil {
		cp := *sp
		cp.UserID = u.ID
		f.students[u.ID] = &cp
	}
	if tp != nil {
		cp := *tp
		cp.UserID = u.ID
		f.teachers[u.ID] = &cp
	}
	out := u
	return &out, nil
}

func (f *fakeUsers) GetByEmail(_ context.Context, email string) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.byID {
		if u.Email == email {
			out := *u
			return &out, nil
		}
	}
	return nil, apperr.ErrNotFound
}

func (f *fakeUsers) GetByID(_ context.Context, id int64) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.byID[id]
	if !ok {
		return nil, apperr.ErrNotFound
	}
	out := *u
	return &out, nil
}

func (f *fakeUsers) EmailExists(ctx context.Context, email string) (bool, error) {
	_, err := f.GetByEmail(ctx, email)
	return err == nil, nil
}

func (f *fakeUsers) Profile(ctx context.Context, id int64) (*models.Profile, error) {
	u, err := f.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	p := u.Profile()
	f.mu.Lock()
	p.Student = f.students[id]
	p.Teacher = f.teachers[id]
	f.mu.Unlock()
	return &p, nil
}

func (f *fakeUsers) SetLastLogin(_ context.Context, id int64, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.byID[id].LastLogin = &at
	return nil
}

func (f *fakeUsers) UpdatePassword(_ context.Context, id int64, hash string, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.byID[id].PasswordHash = hash
	return nil
}

func (f *fakeUsers) SetActive(_ context.Context, id int64, active bool, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.byID[id].IsActive = active
	return nil
}

type fakeSessions struct {
	mu      sync.Mutex
	ttl     time.Duration
	byToken map[string]*models.Session
	refresh map[string]string
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{ttl: 30 * 24 * time.Hour, byToken: map[string]*models.Session{}, refresh: map[string]string{}}
}

func (f *fakeSessions) Create(_ context.Context, ns models.NewSession, now time.Time) (*models.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := &models.Session{
		ID:             int64(len(f.byToken) + 1),
		UserID:         ns.UserID,
		Token:          ns.Token,
		ExpiresAt:      now.Add(f.ttl),
		LastActivityAt: now,
		CreatedAt:      now,
	}
	f.byToken[ns.Token] = s
	f.refresh[ns.Token] = ns.RefreshToken
	out := *s
	return &out, nil
}

func (f *fakeSessions) FindByRefreshToken(_ context.Context, rt string, now time.Time) (*models.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for token, stored := range f.refresh {
		if stored == rt {
			s := f.byToken[token]
			if s.Expired(now) {
				return nil, apperr.ErrNotFound
			}
			out := *s
			return &out, nil
		}
	}
	return nil, apperr.ErrNotFound
}

func (f *fakeSessions) FindByToken(_ context.Context, token string, now time.Time) (*models.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.byToken[token]
	if !ok || s.Expired(now) {
		return nil, apperr.ErrNotFound
	}
	out := *s
	return &out, nil
}

func (f *fakeSessions) Rotate(_ context.Context, token, oldRefresh, newRefresh string, now time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.refresh[token] != oldRefresh {
		return false, nil
	}
	f.refresh[token] = newRefresh
	f.byToken[token].LastActivityAt = now
	return true, nil
}

func (f *fakeSessions) Touch(_ context.Context, token string, now time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.byToken[token]; ok {
		s.LastActivityAt = now
	}
	return nil
}

func (f *fakeSessions) Revoke(_ context.Context, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.byToken, token)
	delete(f.refresh, token)
	return nil
}

func (f *fakeSessions) RevokeAllForUser(_ context.Context, userID int64) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for token, s := range f.byToken {
		if s.UserID == userID {
			delete(f.byToken, token)
			delete(f.refresh, token)
			n++
		}
	}
	return n, nil
}

func (f *fakeSessions) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.byToken)
}

type fakeAudit struct {
	mu      sync.Mutex
	actions []string
}

func (f *fakeAudit) Record(_ context.Context, e models.ActivityEntry) {
	f.mu.Lock()
	f.actions = append(f.actions, e.Action)
	f.mu.Unlock()
}

type env struct {
	svc      *Service
	users    *fakeUsers
	sessions *fakeSessions
	audit    *fakeAudit
	hasher   *Hasher
}

func newEnv(t *testing.T) *env {
	t.Helper()
	tm, err := NewTokens(testTokenConfig())
	if err != nil {
		t.Fatal(err)
	}
	e := &env{
		users:    newFakeUsers(),
		sessions: newFakeSessions(),
		audit:    &fakeAudit{},
		hasher:   NewHasher(bcrypt.MinCost),
	}
	e.svc = NewService(Deps{
		Users:    e.users,
		Sessions: e.sessions,
		Tokens:   tm,
		Hasher:   e.hasher,
		Audit:    e.audit,
		Gate:     rbac.NewAuthorizer(rbac.NewRegistry()),
	})
	return e
}

const goodPassword = "Str0ng!Pass"

func intPtr(v int) *int { return &v }

func (e *env) registerStudent(t *testing.T, email string) *models.Profile {
	t.Helper()
	p, err := e.svc.Register(context.Background(), RegisterInput{
		Email:      email,
		Password:   goodPassword,
		FirstName:  "Ivan",
		LastName:   "Petrov",
		Role:       models.Student,
		GradeLevel: intPtr(7),
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	return p
}

func (e *env) login(t *testing.T, email string) *LoginResult {
	t.Helper()
	res, err := e.svc.Login(context.Background(), LoginInput{Email: email, Password: goodPassword, IP: "127.0.0.1"})
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	return res
}

func TestRegister(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	p := e.registerStudent(t, "  Kid@School.Test ")
	if p.Email != "kid@school.test" || p.Student == nil || p.Student.GradeLevel != 7 || p.Teacher != nil {
		t.Fatalf("profile = %+v", p)
	}

	t.Run("duplicate email", func(t *testing.T) {
		_, err := e.svc.Register(ctx, RegisterInput{
			Email: "KID@school.test", Password: goodPassword, FirstName: "Ivan", LastName: "Petrov",
			GradeLevel: intPtr(5),
		})
		if !errors.Is(err, apperr.ErrEmailExists) {
			t.Fatalf("err = %v", err)
		}
	})

	t.Run("teacher", func(t *testing.T) {
		tp, err := e.svc.Register(ctx, RegisterInput{
			Email: "teacher@school.test", Password: goodPassword, FirstName: "Anna", LastName: "Sidorova",
			Role: models.Teacher, AcademicYear: "2024/2025",
		})
		if err != nil {
			t.Fatal(err)
		}
		if tp.Teacher == nil || tp.Teacher.AcademicYear != "2024-2025" {
			t.Fatalf("teacher profile = %+v", tp.Teacher)
		}
	})

	t.Run("teacher free-form year", func(t *testing.T) {
		tp, err := e.svc.Register(ctx, RegisterInput{
			Email: "teacher2@school.test", Password: goodPassword, FirstName: "Olga", LastName: "Ivanova",
			Role: models.Teacher, AcademicYear: " Fall 2024 ",
		})
		if err != nil {
			t.Fatal(err)
		}
		if tp.Teacher == nil || tp.Teacher.AcademicYear != "Fall 2024" {
			t.Fatalf("teacher profile = %+v", tp.Teacher)
		}
	})

	t.Run("teacher without year", func(t *testing.T) {
		_, err := e.svc.Register(ctx, RegisterInput{
			Email: "teacher3@school.test", Password: goodPassword, FirstName: "Olga", LastName: "Ivanova",
			Role: models.Teacher, AcademicYear: "   ",
		})
		var verr *apperr.ValidationError
		if !errors.As(err, &verr) || len(verr.Fields) != 1 || verr.Fields[0].Field != "academicYear" {
			t.Fatalf("err = %v", err)
		}
	})

	t.Run("validation", func(t *testing.T) {
		_, err := e.svc.Register(ctx, RegisterInput{
			Email: "not-an-email", Password: "weak", FirstName: "I", LastName: "P",
			Role: models.Student, GradeLevel: intPtr(13),
		})
		var verr *apperr.ValidationError
		if !errors.As(err, &verr) || !errors.Is(err, apperr.ErrValidation) {
			t.Fatalf("err = %v", err)
		}
		fields := map[string]bool{}
		for _, f := range verr.Fields {
			fields[f.Field] = true
		}
		for _, want := range []string{"email", "password", "firstName", "lastName", "gradeLevel"} {
			if !fields[want] {
				t.Fatalf("missing field error %q in %+v", want, verr.Fields)
			}
		}
	})

	t.Run("teacher needs academic year", func(t *testing.T) {
		_, err := e.svc.Register(ctx, RegisterInput{
			Email: "t2@school.test", Password: goodPassword, FirstName: "Anna", LastName: "Sidorova",
			Role: models.Teacher,
		})
		if !errors.Is(err, apperr.ErrValidation) {
			t.Fatalf("err = %v", err)
		}
	})

	t.Run("admin cannot self register", func(t *testing.T) {
		_, err := e.svc.Register(ctx, RegisterInput{
			Email: "root@school.test", Password: goodPassword, FirstName: "Root", LastName: "Admin",
			Role: models.Admin,
		})
		if !errors.Is(err, apperr.ErrValidation) {
			t.Fatalf("err = %v", err)
		}
	})
}

func TestLogin(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.registerStudent(t, "kid@school.test")

	res := e.login(t, "KID@school.test")
	if res.AccessToken == "" || res.RefreshToken == "" || res.ExpiresIn != 900 {
		t.Fatalf("result = %+v", res)
	}
	if res.Profile.LastLogin == nil {
		t.Fatal("lastLogin must be stamped")
	}

	_, errUnknown := e.svc.Login(ctx, LoginInput{Email: "nobody@school.test", Password: goodPassword})
	_, errWrong := e.svc.Login(ctx, LoginInput{Email: "kid@school.test", Password: "Wr0ng!Pass"})
	if !errors.Is(errUnknown, apperr.ErrInvalidCredentials) || !errors.Is(errWrong, apperr.ErrInvalidCredentials) {
		t.Fatalf("errs = %v / %v", errUnknown, errWrong)
	}
	if errUnknown.Error() != errWrong.Error() {
		t.Fatal("unknown email and wrong password must look the same")
	}

	_ = e.users.SetActive(ctx, res.Profile.ID, false, time.Now())
	if _, err := e.svc.Login(ctx, LoginInput{Email: "kid@school.test", Password: goodPassword}); !errors.Is(err, apperr.ErrAccountDeactivated) {
		t.Fatalf("err = %v", err)
	}
}

func TestSessionRoundTrip(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	user := e.registerStudent(t, "kid@school.test")
	res := e.login(t, "kid@school.test")

	pr, err := e.svc.VerifyToken(ctx, res.AccessToken)
	if err != nil {
		t.Fatal(err)
	}
	if pr.Profile.ID != user.ID {
		t.Fatalf("id = %d, want %d", pr.Profile.ID, user.ID)
	}

	pair, err := e.svc.RefreshToken(ctx, res.RefreshToken)
	if err != nil {
		t.Fatal(err)
	}
	if pair.AccessToken == res.AccessToken {
		t.Fatal("refreshed access token must differ")
	}
	pr2, err := e.svc.VerifyToken(ctx, pair.AccessToken)
	if err != nil {
		t.Fatal(err)
	}
	if pr2.Profile.ID != user.ID || pr2.SessionID != pr.SessionID {
		t.Fatalf("principal = %+v", pr2)
	}
}

func TestRefreshTokenSingleUse(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.registerStudent(t, "kid@school.test")
	res := e.login(t, "kid@school.test")

	if _, err := e.svc.RefreshToken(ctx, res.RefreshToken); err != nil {
		t.Fatal(err)
	}
	if _, err := e.svc.RefreshToken(ctx, res.RefreshToken); !errors.Is(err, apperr.ErrInvalidRefreshTok) {
		t.Fatalf("reuse err = %v", err)
	}
}

func TestRefreshTokenConcurrentOnlyOneWins(t *testing.T) {
	e := newEnv(t)
	e.registerStudent(t, "kid@school.test")
	res := e.login(t, "kid@school.test")

	const n = 8
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := e.svc.RefreshToken(context.Background(), res.RefreshToken); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if wins != 1 {
		t.Fatalf("wins = %d, want 1", wins)
	}
}

func TestRefreshToken_Rejects(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.registerStudent(t, "kid@school.test")
	res := e.login(t, "kid@school.test")

	t.Run("access token", func(t *testing.T) {
		if _, err := e.svc.RefreshToken(ctx, res.AccessToken); !errors.Is(err, apperr.ErrInvalidRefreshTok) {
			t.Fatalf("err = %v", err)
		}
	})
	t.Run("deactivated owner", func(t *testing.T) {
		_ = e.users.SetActive(ctx, res.Profile.ID, false, time.Now())
		defer func() { _ = e.users.SetActive(ctx, res.Profile.ID, true, time.Now()) }()
		if _, err := e.svc.RefreshToken(ctx, res.RefreshToken); !errors.Is(err, apperr.ErrAccountDeactivated) {
			t.Fatalf("err = %v", err)
		}
	})
	t.Run("revoked session", func(t *testing.T) {
		pr, err := e.svc.VerifyToken(ctx, res.AccessToken)
		if err != nil {
			t.Fatal(err)
		}
		if err := e.svc.Logout(ctx, pr.SessionID); err != nil {
			t.Fatal(err)
		}
		if _, err := e.svc.RefreshToken(ctx, res.RefreshToken); !errors.Is(err, apperr.ErrInvalidRefreshTok) {
			t.Fatalf("err = %v", err)
		}
	})
}

func TestLogoutIdempotent(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.registerStudent(t, "kid@school.test")
	res := e.login(t, "kid@school.test")
	pr, err := e.svc.VerifyToken(ctx, res.AccessToken)
	if err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 2; i++ {
		if err := e.svc.Logout(ctx, pr.SessionID); err != nil {
			t.Fatalf("logout #%d: %v", i+1, err)
		}
	}
	if err := e.svc.Logout(ctx, "unknown-session"); err != nil {
		t.Fatal(err)
	}
	if _, err := e.svc.VerifyToken(ctx, res.AccessToken); !errors.Is(err, apperr.ErrInvalidSession) {
		t.Fatalf("err = %v", err)
	}
}

func TestChangePassword(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	user := e.registerStudent(t, "kid@school.test")
	first := e.login(t, "kid@school.test")
	e.login(t, "kid@school.test")
	if e.sessions.count() != 2 {
		t.Fatalf("sessions = %d", e.sessions.count())
	}

	if err := e.svc.ChangePassword(ctx, user.ID, "Wr0ng!Pass", "N3w!Secret"); !errors.Is(err, apperr.ErrInvalidCurrentPass) {
		t.Fatalf("err = %v", err)
	}

	err := e.svc.ChangePassword(ctx, user.ID, goodPassword, "weak")
	var weak *apperr.WeakPasswordError
	if !errors.As(err, &weak) || len(weak.Reasons) == 0 || !errors.Is(err, apperr.ErrWeakPassword) {
		t.Fatalf("err = %v", err)
	}

	if err := e.svc.ChangePassword(ctx, user.ID, goodPassword, "N3w!Secret"); err != nil {
		t.Fatal(err)
	}
	if e.sessions.count() != 0 {
		t.Fatalf("sessions after change = %d", e.sessions.count())
	}
	if _, err := e.svc.VerifyToken(ctx, first.AccessToken); !errors.Is(err, apperr.ErrInvalidSession) {
		t.Fatalf("err = %v", err)
	}
	if _, err := e.svc.Login(ctx, LoginInput{Email: "kid@school.test", Password: "N3w!Secret"}); err != nil {
		t.Fatal(err)
	}
}

func TestVerifyToken_Errors(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	if _, err := e.svc.VerifyToken(ctx, "garbage"); !errors.Is(err, apperr.ErrInvalidToken) {
		t.Fatalf("err = %v", err)
	}

	e.registerStudent(t, "kid@school.test")
	res := e.login(t, "kid@school.test")
	_ = e.users.SetActive(ctx, res.Profile.ID, false, time.Now())
	if _, err := e.svc.VerifyToken(ctx, res.AccessToken); !errors.Is(err, apperr.ErrAccountDeactivated) {
		t.Fatalf("err = %v", err)
	}
}

func TestSetActive(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	student := e.registerStudent(t, "kid@school.test")
	e.login(t, "kid@school.test")

	admin := Actor{ID: 100, Role: models.Admin}
	teacher := Actor{ID: 101, Role: models.Teacher}

	if err := e.svc.SetActive(ctx, teacher, student.ID, false); !errors.Is(err, apperr.ErrUnauthorized) {
		t.Fatalf("teacher err = %v", err)
	}
	if err := e.svc.SetActive(ctx, admin, student.ID, false); err != nil {
		t.Fatal(err)
	}
	if e.sessions.count() != 0 {
		t.Fatal("deactivation must revoke sessions")
	}
	if _, err := e.svc.Login(ctx, LoginInput{Email: "kid@school.test", Password: goodPassword}); !errors.Is(err, apperr.ErrAccountDeactivated) {
		t.Fatalf("err = %v", err)
	}
	if err := e.svc.SetActive(ctx, admin, student.ID, true); err != nil {
		t.Fatal(err)
	}
	e.login(t, "kid@school.test")

	if err := e.svc.SetActive(ctx, Actor{ID: student.ID, Role: models.Admin}, student.ID, false); !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("self err = %v", err)
	}
}

func TestStateChangesAreAudited(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	user := e.registerStudent(t, "kid@school.test")
	res := e.login(t, "kid@school.test")
	pair, err := e.svc.RefreshToken(ctx, res.RefreshToken)
	if err != nil {
		t.Fatal(err)
	}
	pr, err := e.svc.VerifyToken(ctx, pair.AccessToken)
	if err != nil {
		t.Fatal(err)
	}
	if err := e.svc.Logout(ctx, pr.SessionID); err != nil {
		t.Fatal(err)
	}
	if err := e.svc.ChangePassword(ctx, user.ID, goodPassword, "N3w!Secret"); err != nil {
		t.Fatal(err)
	}

	want := []string{"register", "login", "refresh_token", "logout", "change_password"}
	if len(e.audit.actions) != len(want) {
		t.Fatalf("actions = %v", e.audit.actions)
	}
	for i := range want {
		if e.audit.actions[i] != want[i] {
			t.Fatalf("actions = %v", e.audit.actions)
		}
	}
}
