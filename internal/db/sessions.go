package db

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/Spok95/school-backend/internal/apperr"
	"github.com/Spok95/school-backend/internal/models"
)

const DefaultSessionTTL = 30 * 24 * time.Hour

type SessionRepo struct {
	db  *sql.DB
	ttl time.Duration
}

func NewSessionRepo(database *sql.DB, ttl time.Duration) *SessionRepo {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &SessionRepo{db: database, ttl: ttl}
}

const sessionColumns = `id, user_id, session_token, refresh_token_hash, ip_address, user_agent, expires_at, last_activity_at, created_at`

func scanSession(row interface{ Scan(...any) error }) (*models.Session, error) {
	var s models.Session
	err := row.Scan(&s.ID, &s.UserID, &s.Token, &s.RefreshTokenHash, &s.IPAddress, &s.UserAgent,
		&s.ExpiresAt, &s.LastActivityAt, &s.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// Create — срок жизни сессии now + ttl.
func (r *SessionRepo) Create(ctx context.Context, ns models.NewSession, now time.Time) (*models.Session, error) {
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO sessions (user_id, session_token, refresh_token_hash, ip_address, user_agent, expires_at, last_activity_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
		RETURNING `+sessionColumns,
		ns.UserID, ns.Token, HashToken(ns.RefreshToken), nullable(ns.IP), nullable(ns.UserAgent), now.Add(r.ttl), now)
	return scanSession(row)
}

// FindByRefreshToken — истёкшие сессии не находятся.
func (r *SessionRepo) FindByRefreshToken(ctx context.Context, refreshToken string, now time.Time) (*models.Session, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+sessionColumns+` FROM sessions
		WHERE refresh_token_hash = $1 AND expires_at > $2`, HashToken(refreshToken), now)
	return scanSession(row)
}

// FindByToken ищет по токену сессии (он же sessionId в JWT).
func (r *SessionRepo) FindByToken(ctx context.Context, token string, now time.Time) (*models.Session, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+sessionColumns+` FROM sessions
		WHERE session_token = $1 AND expires_at > $2`, token, now)
	return scanSession(row)
}

// Rotate — compare-and-swap refresh-токена: из двух параллельных вызовов со старым токеном выигрывает один.
func (r *SessionRepo) Rotate(ctx context.Context, token, oldRefresh, newRefresh string, now time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE sessions
		SET refresh_token_hash = $3, last_activity_at = $4
		WHERE session_token = $1 AND refresh_token_hash = $2 AND expires_at > $4`,
		token, HashToken(oldRefresh), HashToken(newRefresh), now)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

func (r *SessionRepo) Touch(ctx context.Context, token string, now time.Time) error {
	_, err := r.db.ExecContext(ctx, `UPDATE sessions SET last_activity_at = $2 WHERE session_token = $1`, token, now)
	return err
}

// Revoke удаляет сессию; отсутствие строки — не ошибка.
func (r *SessionRepo) Revoke(ctx context.Context, token string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM sessions WHERE session_token = $1`, token)
	return err
}

func (r *SessionRepo) RevokeAllForUser(ctx context.Context, userID int64) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM sessions WHERE user_id = $1`, userID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// DeleteExpired — уборка протухших сессий, вызывается фоновой задачей.
func (r *SessionRepo) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM sessions WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
