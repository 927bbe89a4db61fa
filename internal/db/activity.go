package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/Spok95/school-backend/internal/models"
)

type ActivityRepo struct {
	db *sql.DB
}

func NewActivityRepo(database *sql.DB) *ActivityRepo { return &ActivityRepo{db: database} }

func (r *ActivityRepo) Insert(ctx context.Context, e models.ActivityEntry, at time.Time) error {
	// jsonb передаём строкой: lib/pq отправил бы []byte как bytea
	var details *string
	if len(e.Details) > 0 {
		b, err := json.Marshal(e.Details)
		if err != nil {
			return err
		}
		s := string(b)
		details = &s
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO activity_logs (user_id, action, resource_type, resource_id, details, ip_address, user_agent, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		e.UserID, e.Action, e.ResourceType, e.ResourceID, details, e.IPAddress, e.UserAgent, at)
	return err
}
