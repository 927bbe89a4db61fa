// Package audit пишет журнал действий пользователей. Ошибки записи не поднимаются наверх.
package audit

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/Spok95/school-backend/internal/ctxutil"
	"github.com/Spok95/school-backend/internal/metrics"
	"github.com/Spok95/school-backend/internal/models"
	"github.com/Spok95/school-backend/internal/observability"
)

// Действия, которые пишут сервисы.
const (
	ActionRegister       = "register"
	ActionLogin          = "login"
	ActionRefreshToken   = "refresh_token"
	ActionLogout         = "logout"
	ActionChangePassword = "change_password"
	ActionDeactivate     = "deactivate_user"
	ActionActivate       = "activate_user"
	ActionStartAttempt   = "start_assessment"
	ActionSubmitAttempt  = "submit_assessment"
	ActionAutoSubmit     = "auto_submit_assessment"
	ActionCreateTest     = "create_assessment"
	ActionUpdateTest     = "update_assessment"
	ActionDeleteTest     = "delete_assessment"
	ActionPublishTest    = "publish_assessment"
)

type Store interface {
	Insert(ctx context.Context, e models.ActivityEntry, at time.Time) error
}

type Recorder struct {
	store   Store
	log     *zap.Logger
	timeout time.Duration
	now     func() time.Time
}

func NewRecorder(store Store, log *zap.Logger) *Recorder {
	if log == nil {
		log = zap.NewNop()
	}
	return &Recorder{store: store, log: log, timeout: 2 * time.Second, now: time.Now}
}

// Record дополняет запись IP/User-Agent из контекста запроса и пишет её.
// Отмена контекста вызывающего запись не прерывает.
func (r *Recorder) Record(ctx context.Context, e models.ActivityEntry) {
	meta := ctxutil.Meta(ctx)
	if e.IPAddress == nil && meta.IP != "" {
		ip := meta.IP
		e.IPAddress = &ip
	}
	if e.UserAgent == nil && meta.UserAgent != "" {
		ua := meta.UserAgent
		e.UserAgent = &ua
	}

	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
	defer cancel()
	if err := r.store.Insert(wctx, e, r.now()); err != nil {
		metrics.ActivityLogErrors.Inc()
		r.log.Warn("activity log write failed",
			zap.Int64("user_id", e.UserID), zap.String("action", e.Action), zap.Error(err))
		observability.CaptureOp("audit."+e.Action, err)
	}
}

// Entry — короткий конструктор записи с необязательной ссылкой на ресурс.
func Entry(userID int64, action, resourceType string, resourceID int64) models.ActivityEntry {
	e := models.ActivityEntry{UserID: userID, Action: action}
	if resourceType != "" {
		e.ResourceType = &resourceType
		e.ResourceID = &resourceID
	}
	return e
}
