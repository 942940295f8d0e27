package huntsync

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"kickhunt/huntsync/internal/model"
	"kickhunt/huntsync/internal/remote"
)

// ActivityLogger appends audit entries to the activity log.
type ActivityLogger struct {
	store   remote.Store
	logger  *slog.Logger
	timeout time.Duration
}

// Log inserts one entry. Failures are logged and never reach the caller.
func (l *ActivityLogger) Log(ctx context.Context, typ model.ActivityType, username, displayName string, rfidID *int, details map[string]any) {
	if details == nil {
		details = map[string]any{}
	}

	entry := model.ActivityEntry{
		ID:          uuid.New(),
		Type:        typ,
		Username:    username,
		DisplayName: displayName,
		RFIDNumber:  rfidID,
		Details:     details,
		CreatedAt:   time.Now().UTC(),
	}

	callCtx, cancel := callContext(ctx, l.timeout)
	defer cancel()

	if err := l.store.InsertActivity(callCtx, entry); err != nil {
		l.logger.Warn("failed to log activity", "type", typ, "user", username, "error", err)
	}
}

// Recent returns up to limit entries, newest first.
func (l *ActivityLogger) Recent(ctx context.Context, limit int) ([]model.ActivityEntry, error) {
	callCtx, cancel := callContext(ctx, l.timeout)
	defer cancel()

	entries, err := l.store.RecentActivity(callCtx, limit)
	if err != nil {
		return nil, opError("recent activity", err)
	}
	return entries, nil
}
