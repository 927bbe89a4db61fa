package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Ошибки, которые вызывающая сторона может исправить сама (4xx).
var (
	ErrValidation         = errors.New("validation failed")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAccountDeactivated = errors.New("account deactivated")
	ErrEmailExists        = errors.New("email already registered")
	ErrInvalidSession     = errors.New("invalid session")
	ErrInvalidRefreshTok  = errors.New("invalid refresh token")
	ErrInvalidCurrentPass = errors.New("invalid current password")
	ErrWeakPassword       = errors.New("weak password")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrNotFound           = errors.New("not found")
	ErrNotPublished       = errors.New("assessment not published")
	ErrMaxAttempts        = errors.New("max attempts exceeded")
	ErrActiveAttempt      = errors.New("active attempt exists")
	ErrAttemptNotActive   = errors.New("attempt not active")

	// bearer-токен
	ErrMissingToken = errors.New("missing token")
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")

	// ErrInternal — всё непредвиденное (БД недоступна и т.п.).
	ErrInternal = errors.New("internal error")
)

// FieldError — одна претензия к полю входных данных.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+": "+f.Message)
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// Add копит ошибки; пустой ValidationError означает "всё ок".
func (e *ValidationError) Add(field, message, code string) {
	e.Fields = append(e.Fields, FieldError{Field: field, Message: message, Code: code})
}

// OrNil возвращает nil, если ошибок не набралось.
func (e *ValidationError) OrNil() error {
	if e == nil || len(e.Fields) == 0 {
		return nil
	}
	return e
}

type WeakPasswordError struct {
	Reasons []string
}

func (e *WeakPasswordError) Error() string {
	return "weak password: " + strings.Join(e.Reasons, "; ")
}

func (e *WeakPasswordError) Is(target error) bool { return target == ErrWeakPassword }

type internalError struct {
	op  string
	err error
}

func (e *internalError) Error() string { return fmt.Sprintf("%s: %v", e.op, e.err) }
func (e *internalError) Unwrap() error { return e.err }

func (e *internalError) Is(target error) bool { return target == ErrInternal }

// Internal заворачивает сырую ошибку хранилища, чтобы она не "протекла" как 4xx.
func Internal(op string, err error) error {
	if err == nil {
		return nil
	}
	return &internalError{op: op, err: err}
}

// IsInternal true для ErrInternal и любых ошибок вне таксономии.
func IsInternal(err error) bool {
	return err != nil && HTTPStatus(err) == http.StatusInternalServerError
}

type mapping struct {
	err    error
	status int
	code   string
}

// порядок важен: internal проверяется первым, чтобы обёрнутые ошибки не прошли как 4xx
var table = []mapping{
	{ErrInternal, http.StatusInternalServerError, "INTERNAL_ERROR"},
	{ErrValidation, http.StatusBadRequest, "VALIDATION_ERROR"},
	{ErrWeakPassword, http.StatusBadRequest, "WEAK_PASSWORD"},
	{ErrInvalidCurrentPass, http.StatusBadRequest, "INVALID_CURRENT_PASSWORD"},
	{ErrNotPublished, http.StatusBadRequest, "NOT_PUBLISHED"},
	{ErrAttemptNotActive, http.StatusBadRequest, "ATTEMPT_NOT_ACTIVE"},
	{ErrInvalidCredentials, http.StatusUnauthorized, "INVALID_CREDENTIALS"},
	{ErrInvalidSession, http.StatusUnauthorized, "INVALID_SESSION"},
	{ErrInvalidRefreshTok, http.StatusUnauthorized, "INVALID_REFRESH_TOKEN"},
	{ErrMissingToken, http.StatusUnauthorized, "MISSING_TOKEN"},
	{ErrInvalidToken, http.StatusUnauthorized, "INVALID_TOKEN"},
	{ErrTokenExpired, http.StatusUnauthorized, "INVALID_TOKEN"},
	{ErrAccountDeactivated, http.StatusForbidden, "ACCOUNT_DEACTIVATED"},
	{ErrUnauthorized, http.StatusForbidden, "FORBIDDEN"},
	{ErrMaxAttempts, http.StatusForbidden, "MAX_ATTEMPTS_EXCEEDED"},
	{ErrNotFound, http.StatusNotFound, "NOT_FOUND"},
	{ErrEmailExists, http.StatusConflict, "EMAIL_EXISTS"},
	{ErrActiveAttempt, http.StatusConflict, "ACTIVE_ATTEMPT_EXISTS"},
}

func lookup(err error) mapping {
	for _, m := range table {
		if errors.Is(err, m.err) {
			return m
		}
	}
	return mapping{ErrInternal, http.StatusInternalServerError, "INTERNAL_ERROR"}
}

// HTTPStatus — код ответа по соглашению 400/401/403/404/409/500.
func HTTPStatus(err error) int { return lookup(err).status }

// Code — стабильный машинный код ошибки для клиента.
func Code(err error) string { return lookup(err).code }
