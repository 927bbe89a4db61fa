// Package assessment — тесты, вопросы и жизненный цикл попыток прохождения.
package assessment

import (
	"context"
	"errors"
	"io"
	"math"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Spok95/school-backend/internal/apperr"
	"github.com/Spok95/school-backend/internal/audit"
	"github.com/Spok95/school-backend/internal/export"
	"github.com/Spok95/school-backend/internal/metrics"
	"github.com/Spok95/school-backend/internal/models"
	"github.com/Spok95/school-backend/internal/observability"
)

type AssessmentStore interface {
	Create(ctx context.Context, a models.Assessment, now time.Time) (*models.Assessment, error)
	Get(ctx context.Context, id int64) (*models.Assessment, error)
	Update(ctx context.Context, a models.Assessment, now time.Time) (*models.Assessment, error)
	Delete(ctx context.Context, id int64) error
	Publish(ctx context.Context, id int64, now time.Time) (*models.Assessment, error)
	AddQuestions(ctx context.Context, assessmentID int64, qs []models.Question, now time.Time) ([]models.Question, error)
	RemoveQuestion(ctx context.Context, assessmentID, questionID int64, now time.Time) error
	Questions(ctx context.Context, assessmentID int64) ([]models.Question, error)
}

type AttemptStore interface {
	Start(ctx context.Context, assessmentID, studentID int64, maxAttempts int, now time.Time) (*models.Attempt, error)
	Get(ctx context.Context, id int64) (*models.Attempt, error)
	SaveAnswer(ctx context.Context, attemptID, questionID int64, answer string) (bool, error)
	Finalize(ctx context.Context, res models.AttemptResult) (bool, error)
	Cancel(ctx context.Context, attemptID int64, now time.Time) (bool, error)
	ExpiredInProgress(ctx context.Context, startedBefore, now time.Time, limit int) ([]models.Attempt, error)
	Finished(ctx context.Context, assessmentID int64) ([]models.FinishedAttempt, error)
}

type Authorizer interface {
	HasPermission(role models.Role, perm string) bool
	CanModify(actorID int64, actorRole models.Role, ownerID int64) bool
}

type ActivityRecorder interface {
	Record(ctx context.Context, e models.ActivityEntry)
}

// Caller — аутентифицированный пользователь, от имени которого идёт вызов.
type Caller struct {
	ID   int64
	Role models.Role
}

const (
	PermCreate = "assessment:create"

	// autoSubmitAge — автосдача рассматривает только попытки старше суток.
	autoSubmitAge   = 24 * time.Hour
	autoSubmitBatch = 500
)

type Deps struct {
	Assessments AssessmentStore
	Attempts    AttemptStore
	Authz       Authorizer
	Audit       ActivityRecorder
	Log         *zap.Logger
	Location    *time.Location
	Now         func() time.Time
}

type Service struct {
	assessments AssessmentStore
	attempts    AttemptStore
	authz       Authorizer
	audit       ActivityRecorder
	log         *zap.Logger
	loc         *time.Location
	now         func() time.Time
}

func NewService(d Deps) *Service {
	s := &Service{
		assessments: d.Assessments,
		attempts:    d.Attempts,
		authz:       d.Authz,
		audit:       d.Audit,
		log:         d.Log,
		loc:         d.Location,
		now:         d.Now,
	}
	if s.log == nil {
		s.log = zap.NewNop()
	}
	if s.loc == nil {
		s.loc = time.UTC
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

type AssessmentInput struct {
	Title           string            `json:"title"`
	Subject         string            `json:"subject"`
	GradeLevel      int               `json:"gradeLevel"`
	Difficulty      models.Difficulty `json:"difficulty"`
	DurationMinutes int               `json:"duration"`
	PassingScore    float64           `json:"passingScore"`
	MaxAttempts     int               `json:"maxAttempts"`
}

func (in *AssessmentInput) validate() error {
	v := &apperr.ValidationError{}
	in.Title = strings.TrimSpace(in.Title)
	in.Subject = strings.TrimSpace(in.Subject)
	if len([]rune(in.Title)) < 3 {
		v.Add("title", "Title must be at least 3 characters", "INVALID_LENGTH")
	}
	if in.Subject == "" {
		v.Add("subject", "Subject is required", "REQUIRED")
	}
	if in.GradeLevel < 1 || in.GradeLevel > 12 {
		v.Add("gradeLevel", "Grade level must be between 1 and 12", "OUT_OF_RANGE")
	}
	switch in.Difficulty {
	case "":
		in.Difficulty = models.DifficultyMedium
	case models.DifficultyEasy, models.DifficultyMedium, models.DifficultyHard:
	default:
		v.Add("difficulty", "Difficulty must be easy, medium or hard", "INVALID_VALUE")
	}
	if in.DurationMinutes <= 0 {
		v.Add("duration", "Duration must be a positive number of minutes", "OUT_OF_RANGE")
	}
	if in.PassingScore < 0 || in.PassingScore > 100 || math.IsNaN(in.PassingScore) {
		v.Add("passingScore", "Passing score must be between 0 and 100", "OUT_OF_RANGE")
	}
	if in.MaxAttempts == 0 {
		in.MaxAttempts = 1
	}
	if in.MaxAttempts < 1 {
		v.Add("maxAttempts", "Max attempts must be at least 1", "OUT_OF_RANGE")
	}
	return v.OrNil()
}

func (in AssessmentInput) apply(a *models.Assessment) {
	a.Title = in.Title
	a.Subject = in.Subject
	a.GradeLevel = in.GradeLevel
	a.Difficulty = in.Difficulty
	a.DurationMinutes = in.DurationMinutes
	a.PassingScore = in.PassingScore
	a.MaxAttempts = in.MaxAttempts
}

// CreateAssessment создаёт черновик; вопросы добавляются отдельно.
func (s *Service) CreateAssessment(ctx context.Context, c Caller, in AssessmentInput) (*models.Assessment, error) {
	if !s.authz.HasPermission(c.Role, PermCreate) {
		return nil, apperr.ErrUnauthorized
	}
	if err := in.validate(); err != nil {
		return nil, err
	}
	a := models.Assessment{CreatedBy: c.ID}
	in.apply(&a)
	created, err := s.assessments.Create(ctx, a, s.now())
	if err != nil {
		return nil, apperr.Internal("assessment.create", err)
	}
	s.audit.Record(ctx, audit.Entry(c.ID, audit.ActionCreateTest, "assessment", created.ID))
	return created, nil
}

// editable загружает тест и проверяет, что вызывающий — создатель или admin.
func (s *Service) editable(ctx context.Context, c Caller, id int64, op string) (*models.Assessment, error) {
	a, err := s.assessments.Get(ctx, id)
	if errors.Is(err, apperr.ErrNotFound) {
		return nil, err
	}
	if err != nil {
		return nil, apperr.Internal(op, err)
	}
	if !s.authz.CanModify(c.ID, c.Role, a.CreatedBy) {
		return nil, apperr.ErrUnauthorized
	}
	return a, nil
}

func (s *Service) UpdateAssessment(ctx context.Context, c Caller, id int64, in AssessmentInput) (*models.Assessment, error) {
	const op = "assessment.update"
	a, err := s.editable(ctx, c, id, op)
	if err != nil {
		return nil, err
	}
	if err := in.validate(); err != nil {
		return nil, err
	}
	in.apply(a)
	updated, err := s.assessments.Update(ctx, *a, s.now())
	if errors.Is(err, apperr.ErrNotFound) {
		return nil, err
	}
	if err != nil {
		return nil, apperr.Internal(op, err)
	}
	s.audit.Record(ctx, audit.Entry(c.ID, audit.ActionUpdateTest, "assessment", id))
	return updated, nil
}

func (s *Service) DeleteAssessment(ctx context.Context, c Caller, id int64) error {
	const op = "assessment.delete"
	if _, err := s.editable(ctx, c, id, op); err != nil {
		return err
	}
	err := s.assessments.Delete(ctx, id)
	if errors.Is(err, apperr.ErrNotFound) {
		return err
	}
	if err != nil {
		return apperr.Internal(op, err)
	}
	s.audit.Record(ctx, audit.Entry(c.ID, audit.ActionDeleteTest, "assessment", id))
	return nil
}

// Publish делает тест доступным ученикам. Тест без вопросов не публикуется.
func (s *Service) Publish(ctx context.Context, c Caller, id int64) (*models.Assessment, error) {
	const op = "assessment.publish"
	a, err := s.editable(ctx, c, id, op)
	if err != nil {
		return nil, err
	}
	if a.TotalQuestions == 0 {
		v := &apperr.ValidationError{}
		v.Add("questions", "Assessment must have at least one question", "NO_QUESTIONS")
		return nil, v
	}
	published, err := s.assessments.Publish(ctx, id, s.now())
	if err != nil {
		return nil, apperr.Internal(op, err)
	}
	s.audit.Record(ctx, audit.Entry(c.ID, audit.ActionPublishTest, "assessment", id))
	return published, nil
}

type QuestionInput struct {
	Text          string              `json:"questionText"`
	Type          models.QuestionType `json:"questionType"`
	Options       []string            `json:"options,omitempty"`
	CorrectAnswer string              `json:"correctAnswer"`
	Points        int                 `json:"points"`
	OrderIndex    int                 `json:"orderIndex,omitempty"`
}

func validateQuestions(in []QuestionInput) ([]models.Question, error) {
	v := &apperr.ValidationError{}
	if len(in) == 0 {
		v.Add("questions", "At least one question is required", "REQUIRED")
		return nil, v
	}
	out := make([]models.Question, 0, len(in))
	for i, q := range in {
		field := func(name string) string { return "questions[" + strconv.Itoa(i) + "]." + name }
		text := strings.TrimSpace(q.Text)
		if text == "" {
			v.Add(field("questionText"), "Question text is required", "REQUIRED")
		}
		if !q.Type.Valid() {
			v.Add(field("questionType"), "Unknown question type", "INVALID_VALUE")
		}
		opts := q.Options
		switch q.Type {
		case models.MultipleChoice:
			if len(opts) < 2 {
				v.Add(field("options"), "Multiple choice needs at least 2 options", "INVALID_LENGTH")
			}
		case models.TrueFalse:
			if len(opts) == 0 {
				opts = []string{"True", "False"}
			}
		default:
			opts = nil
		}
		if q.Type != models.Essay && strings.TrimSpace(q.CorrectAnswer) == "" {
			v.Add(field("correctAnswer"), "Correct answer is required", "REQUIRED")
		}
		points := q.Points
		if points == 0 {
			points = 1
		}
		if points < 0 {
			v.Add(field("points"), "Points must be positive", "OUT_OF_RANGE")
		}
		out = append(out, models.Question{
			Text:          text,
			Type:          q.Type,
			Options:       opts,
			CorrectAnswer: strings.TrimSpace(q.CorrectAnswer),
			Points:        points,
			OrderIndex:    q.OrderIndex,
		})
	}
	if err := v.OrNil(); err != nil {
		return nil, err
	}
	return out, nil
}

// AddQuestions добавляет пачку вопросов; вставка и счётчик total_questions — одна транзакция.
func (s *Service) AddQuestions(ctx context.Context, c Caller, assessmentID int64, in []QuestionInput) ([]models.Question, error) {
	const op = "assessment.add_questions"
	if _, err := s.editable(ctx, c, assessmentID, op); err != nil {
		return nil, err
	}
	qs, err := validateQuestions(in)
	if err != nil {
		return nil, err
	}
	created, err := s.assessments.AddQuestions(ctx, assessmentID, qs, s.now())
	if errors.Is(err, apperr.ErrNotFound) {
		return nil, err
	}
	if err != nil {
		return nil, apperr.Internal(op, err)
	}
	return created, nil
}

func (s *Service) RemoveQuestion(ctx context.Context, c Caller, assessmentID, questionID int64) error {
	const op = "assessment.remove_question"
	if _, err := s.editable(ctx, c, assessmentID, op); err != nil {
		return err
	}
	err := s.assessments.RemoveQuestion(ctx, assessmentID, questionID, s.now())
	if errors.Is(err, apperr.ErrNotFound) {
		return err
	}
	if err != nil {
		return apperr.Internal(op, err)
	}
	return nil
}

// Start открывает новую попытку. Лимит считает только завершённые попытки.
func (s *Service) Start(ctx context.Context, assessmentID, studentID int64) (*models.Attempt, error) {
	const op = "attempt.start"
	a, err := s.assessments.Get(ctx, assessmentID)
	if errors.Is(err, apperr.ErrNotFound) {
		return nil, err
	}
	if err != nil {
		return nil, apperr.Internal(op, err)
	}
	if !a.IsPublished {
		return nil, apperr.ErrNotPublished
	}

	att, err := s.attempts.Start(ctx, a.ID, studentID, a.MaxAttempts, s.now())
	switch {
	case errors.Is(err, apperr.ErrMaxAttempts), errors.Is(err, apperr.ErrActiveAttempt):
		return nil, err
	case err != nil:
		return nil, apperr.Internal(op, err)
	}
	s.audit.Record(ctx, audit.Entry(studentID, audit.ActionStartAttempt, "attempt", att.ID))
	s.log.Info("attempt started", zap.Int64("attempt_id", att.ID), zap.Int64("assessment_id", a.ID), zap.Int64("user_id", studentID))
	return att, nil
}

// active загружает попытку вызывающего и проверяет, что она ещё идёт.
func (s *Service) active(ctx context.Context, attemptID, studentID int64, op string) (*models.Attempt, error) {
	att, err := s.attempts.Get(ctx, attemptID)
	if errors.Is(err, apperr.ErrNotFound) {
		return nil, err
	}
	if err != nil {
		return nil, apperr.Internal(op, err)
	}
	if att.StudentID != studentID {
		return nil, apperr.ErrUnauthorized
	}
	if att.Status != models.AttemptInProgress {
		return nil, apperr.ErrAttemptNotActive
	}
	return att, nil
}

// RecordAnswer — последний ответ на вопрос побеждает, история не хранится.
func (s *Service) RecordAnswer(ctx context.Context, attemptID, questionID int64, answer string, studentID int64) error {
	const op = "attempt.record_answer"
	att, err := s.active(ctx, attemptID, studentID, op)
	if err != nil {
		return err
	}
	qs, err := s.assessments.Questions(ctx, att.AssessmentID)
	if err != nil {
		return apperr.Internal(op, err)
	}
	if !hasQuestion(qs, questionID) {
		return apperr.ErrNotFound
	}

	saved, err := s.attempts.SaveAnswer(ctx, attemptID, questionID, answer)
	if err != nil {
		return apperr.Internal(op, err)
	}
	if !saved {
		return apperr.ErrAttemptNotActive
	}
	return nil
}

// Submit проверяет ответы и завершает попытку статусом submitted.
func (s *Service) Submit(ctx context.Context, attemptID, studentID int64) (*models.AttemptResult, error) {
	const op = "attempt.submit"
	att, err := s.active(ctx, attemptID, studentID, op)
	if err != nil {
		return nil, err
	}
	a, err := s.assessments.Get(ctx, att.AssessmentID)
	if err != nil {
		return nil, apperr.Internal(op, err)
	}
	res, won, err := s.finalize(ctx, att, a, models.AttemptSubmitted)
	if err != nil {
		return nil, apperr.Internal(op, err)
	}
	if !won {
		return nil, apperr.ErrAttemptNotActive
	}
	s.audit.Record(ctx, audit.Entry(studentID, audit.ActionSubmitAttempt, "attempt", attemptID))
	return res, nil
}

// Cancel прерывает попытку без проверки; она засчитывается в лимит.
func (s *Service) Cancel(ctx context.Context, attemptID, studentID int64) error {
	const op = "attempt.cancel"
	if _, err := s.active(ctx, attemptID, studentID, op); err != nil {
		return err
	}
	ok, err := s.attempts.Cancel(ctx, attemptID, s.now())
	if err != nil {
		return apperr.Internal(op, err)
	}
	if !ok {
		return apperr.ErrAttemptNotActive
	}
	metrics.AttemptsFinalized.WithLabelValues(string(models.AttemptCancelled)).Inc()
	return nil
}

// finalize считает результат и пытается перевести попытку из in_progress.
// won=false — попытку уже завершил кто-то другой.
func (s *Service) finalize(ctx context.Context, att *models.Attempt, a *models.Assessment, status models.AttemptStatus) (*models.AttemptResult, bool, error) {
	qs, err := s.assessments.Questions(ctx, a.ID)
	if err != nil {
		return nil, false, err
	}
	score := Grade(qs, att.Answers, a.PassingScore)

	now := s.now()
	spent := int64(now.Sub(att.StartedAt) / time.Second)
	if spent < 0 {
		spent = 0
	}
	res := models.AttemptResult{
		AttemptID:       att.ID,
		AssessmentID:    a.ID,
		Status:          status,
		TotalScore:      score.Total,
		MaxScore:        score.Max,
		PercentageScore: score.Percentage,
		Passed:          score.Passed,
		PassingScore:    a.PassingScore,
		TimeSpent:       spent,
		SubmittedAt:     now,
		Questions:       score.Questions,
	}
	won, err := s.attempts.Finalize(ctx, res)
	if err != nil || !won {
		return nil, won, err
	}
	metrics.AttemptsFinalized.WithLabelValues(string(status)).Inc()
	return &res, true, nil
}

// AutoSubmitExpired завершает попытки, у которых вышло время. Повторный запуск
// не трогает уже завершённые попытки. Возвращает число автосданных в этом запуске.
func (s *Service) AutoSubmitExpired(ctx context.Context) (int, error) {
	const op = "attempt.auto_submit"
	now := s.now()
	stale, err := s.attempts.ExpiredInProgress(ctx, now.Add(-autoSubmitAge), now, autoSubmitBatch)
	if err != nil {
		return 0, apperr.Internal(op, err)
	}

	var (
		done  int
		errs  []error
		cache = map[int64]*models.Assessment{}
	)
	for i := range stale {
		att := &stale[i]
		a, ok := cache[att.AssessmentID]
		if !ok {
			a, err = s.assessments.Get(ctx, att.AssessmentID)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			cache[att.AssessmentID] = a
		}
		if now.Sub(att.StartedAt) <= a.Duration() {
			continue
		}
		_, won, err := s.finalize(ctx, att, a, models.AttemptAutoSubmitted)
		if err != nil {
			s.log.Error("auto submit failed", zap.Int64("attempt_id", att.ID), zap.Error(err))
			observability.CaptureOp(op, err)
			errs = append(errs, err)
			continue
		}
		if won {
			done++
			s.audit.Record(ctx, audit.Entry(att.StudentID, audit.ActionAutoSubmit, "attempt", att.ID))
		}
	}
	if done > 0 {
		s.log.Info("attempts auto-submitted", zap.Int("count", done))
	}
	if len(errs) > 0 {
		return done, apperr.Internal(op, errors.Join(errs...))
	}
	return done, nil
}

// GetResult — результат завершённой попытки: ученику-владельцу, создателю теста или admin.
func (s *Service) GetResult(ctx context.Context, c Caller, attemptID int64) (*models.AttemptResult, error) {
	const op = "attempt.result"
	att, err := s.attempts.Get(ctx, attemptID)
	if errors.Is(err, apperr.ErrNotFound) {
		return nil, err
	}
	if err != nil {
		return nil, apperr.Internal(op, err)
	}
	a, err := s.assessments.Get(ctx, att.AssessmentID)
	if err != nil {
		return nil, apperr.Internal(op, err)
	}
	if att.StudentID != c.ID && !s.authz.CanModify(c.ID, c.Role, a.CreatedBy) {
		return nil, apperr.ErrUnauthorized
	}
	if !att.Status.Terminal() {
		return nil, apperr.ErrAttemptNotActive
	}

	res := &models.AttemptResult{
		AttemptID:    att.ID,
		AssessmentID: att.AssessmentID,
		Status:       att.Status,
		PassingScore: a.PassingScore,
	}
	if att.TotalScore != nil {
		res.TotalScore = *att.TotalScore
	}
	if att.MaxScore != nil {
		res.MaxScore = *att.MaxScore
	}
	if att.PercentageScore != nil {
		res.PercentageScore = *att.PercentageScore
	}
	if att.Passed != nil {
		res.Passed = *att.Passed
	}
	if att.TimeSpent != nil {
		res.TimeSpent = *att.TimeSpent
	}
	switch {
	case att.SubmittedAt != nil:
		res.SubmittedAt = *att.SubmittedAt
	case att.CompletedAt != nil:
		res.SubmittedAt = *att.CompletedAt
	}
	if att.Result != nil {
		res.Questions = att.Result.Questions
	}
	return res, nil
}

// ExportResults пишет xlsx со всеми завершёнными попытками теста.
func (s *Service) ExportResults(ctx context.Context, c Caller, assessmentID int64, w io.Writer) (string, error) {
	const op = "assessment.export"
	a, err := s.editable(ctx, c, assessmentID, op)
	if err != nil {
		return "", err
	}
	rows, err := s.attempts.Finished(ctx, assessmentID)
	if err != nil {
		return "", apperr.Internal(op, err)
	}
	if err := export.WriteResults(w, *a, rows, s.loc); err != nil {
		return "", apperr.Internal(op, err)
	}
	return export.BuildResultsFilename(a.Title, a.Subject), nil
}

func hasQuestion(qs []models.Question, id int64) bool {
	for _, q := range qs {
		if q.ID == id {
			return true
		}
	}
	return false
}
