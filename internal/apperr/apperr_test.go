package apperr

import (
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestHTTPStatus(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"validation", (&ValidationError{Fields: []FieldError{{Field: "email"}}}), http.StatusBadRequest},
		{"weak_password", &WeakPasswordError{Reasons: []string{"short"}}, http.StatusBadRequest},
		{"credentials", ErrInvalidCredentials, http.StatusUnauthorized},
		{"wrapped_not_found", fmt.Errorf("attempt 7: %w", ErrNotFound), http.StatusNotFound},
		{"email_conflict", ErrEmailExists, http.StatusConflict},
		{"active_attempt", ErrActiveAttempt, http.StatusConflict},
		{"ownership", ErrUnauthorized, http.StatusForbidden},
		{"raw_store_error", sql.ErrConnDone, http.StatusInternalServerError},
		{"internal_wrapping_not_found", Internal("load", ErrNotFound), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := HTTPStatus(tc.err); got != tc.want {
				t.Fatalf("HTTPStatus(%v) = %d, want %d", tc.err, got, tc.want)
			}
		})
	}
}

func TestValidationErrorOrNil(t *testing.T) {
	var v ValidationError
	if v.OrNil() != nil {
		t.Fatal("empty validation error must collapse to nil")
	}
	v.Add("password", "too short", "PASSWORD_TOO_SHORT")
	err := v.OrNil()
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
	if Code(err) != "VALIDATION_ERROR" {
		t.Fatalf("unexpected code %q", Code(err))
	}
}

func TestInternalIsNotCallerCorrectable(t *testing.T) {
	err := Internal("create session", sql.ErrTxDone)
	if !IsInternal(err) {
		t.Fatal("wrapped store error must be internal")
	}
	if !errors.Is(err, sql.ErrTxDone) {
		t.Fatal("cause must stay reachable via errors.Is")
	}
	if IsInternal(ErrNotPublished) {
		t.Fatal("NotPublished is a caller error")
	}
	if Internal("noop", nil) != nil {
		t.Fatal("Internal(nil) must be nil")
	}
}
