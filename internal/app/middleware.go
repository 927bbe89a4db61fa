package app

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Spok95/school-backend/internal/apperr"
	"github.com/Spok95/school-backend/internal/auth"
	"github.com/Spok95/school-backend/internal/ctxutil"
	"github.com/Spok95/school-backend/internal/metrics"
	"github.com/Spok95/school-backend/internal/observability"
)

type principalKey struct{}

// requestMeta кладёт в контекст id запроса, IP и user-agent.
func requestMeta(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)

		ctx := ctxutil.WithRequestID(r.Context(), id)
		ctx = ctxutil.WithRequestMeta(ctx, ctxutil.RequestMeta{
			IP:        clientIP(r.RemoteAddr),
			UserAgent: r.UserAgent(),
		})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RemoteAddr уже переписан middleware.RealIP; порт отрезаем.
func clientIP(addr string) string {
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}

func bearerToken(header string) string {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

// requireAuth проверяет access-токен и сессию за ним.
func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r.Header.Get("Authorization"))
		if token == "" {
			s.writeError(w, r, apperr.ErrMissingToken)
			return
		}
		p, err := s.auth.VerifyToken(r.Context(), token)
		if err != nil {
			s.writeError(w, r, err)
			return
		}

		ctx := ctxutil.WithUserID(r.Context(), p.Profile.ID)
		ctx = ctxutil.WithSessionID(ctx, p.SessionID)
		ctx = context.WithValue(ctx, principalKey{}, p)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func principalFrom(ctx context.Context) *auth.Principal {
	p, _ := ctx.Value(principalKey{}).(*auth.Principal)
	return p
}

type errorBody struct {
	Code    string              `json:"code"`
	Message string              `json:"message"`
	Fields  []apperr.FieldError `json:"fields,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := apperr.HTTPStatus(err), apperr.Code(err)
	metrics.HTTPErrors.WithLabelValues(code).Inc()

	body := errorBody{Code: code, Message: err.Error()}
	var verr *apperr.ValidationError
	if errors.As(err, &verr) {
		body.Fields = verr.Fields
	}
	var weak *apperr.WeakPasswordError
	if errors.As(err, &weak) {
		for _, reason := range weak.Reasons {
			body.Fields = append(body.Fields, apperr.FieldError{Field: "newPassword", Message: reason, Code: code})
		}
	}
	if status == http.StatusInternalServerError {
		// детали внутренних ошибок наружу не отдаём
		body.Message = "internal error"
		s.log.Error("request failed",
			zap.String("request_id", ctxutil.RequestID(r.Context())),
			zap.String("path", r.URL.Path),
			zap.Error(err))
		observability.CaptureOp(r.Method+" "+r.URL.Path, err)
	}
	writeJSON(w, status, body)
}
