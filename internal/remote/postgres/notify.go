package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"kickhunt/huntsync/internal/remote"
)

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS rfid_locations (
		rfid_number INTEGER PRIMARY KEY,
		lat DOUBLE PRECISION NOT NULL,
		lng DOUBLE PRECISION NOT NULL,
		confirmed BOOLEAN NOT NULL DEFAULT FALSE,
		guess_count INTEGER NOT NULL DEFAULT 0,
		discovery_method TEXT NOT NULL CHECK (discovery_method IN ('manual', 'auto', 'viewer_guess')),
		discovered_by TEXT,
		discovered_by_username TEXT,
		discovered_at TIMESTAMPTZ,
		metadata JSONB NOT NULL DEFAULT '{}'::jsonb,
		revision BIGINT NOT NULL DEFAULT 1,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS contestant_positions (
		kick_username TEXT PRIMARY KEY,
		display_name TEXT NOT NULL DEFAULT '',
		lat DOUBLE PRECISION NOT NULL,
		lng DOUBLE PRECISION NOT NULL,
		points INTEGER NOT NULL DEFAULT 0,
		rfid_count INTEGER NOT NULL DEFAULT 0,
		is_cached BOOLEAN NOT NULL DEFAULT FALSE,
		gps_state TEXT NOT NULL DEFAULT 'unknown',
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_contestant_positions_rfid_count ON contestant_positions (rfid_count DESC, kick_username)`,
	`CREATE TABLE IF NOT EXISTS activity_log (
		id UUID PRIMARY KEY,
		activity_type TEXT NOT NULL,
		kick_username TEXT,
		display_name TEXT,
		rfid_number INTEGER,
		details JSONB NOT NULL DEFAULT '{}'::jsonb,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_activity_log_created ON activity_log (created_at DESC)`,
	`CREATE OR REPLACE FUNCTION huntsync_notify() RETURNS trigger AS $$
	BEGIN
		PERFORM pg_notify('` + NotifyChannel + `', json_build_object('table', TG_TABLE_NAME, 'op', TG_OP, 'new', row_to_json(NEW))::text);
		RETURN NEW;
	END;
	$$ LANGUAGE plpgsql`,
	`DROP TRIGGER IF EXISTS rfid_locations_notify ON rfid_locations`,
	`CREATE TRIGGER rfid_locations_notify AFTER INSERT OR UPDATE ON rfid_locations
		FOR EACH ROW EXECUTE FUNCTION huntsync_notify()`,
	`DROP TRIGGER IF EXISTS contestant_positions_notify ON contestant_positions`,
	`CREATE TRIGGER contestant_positions_notify AFTER INSERT OR UPDATE ON contestant_positions
		FOR EACH ROW EXECUTE FUNCTION huntsync_notify()`,
}

type notification struct {
	Table string          `json:"table"`
	Op    string          `json:"op"`
	New   json.RawMessage `json:"new"`
}

// decodeNotification parses a trigger payload into a change event.
func decodeNotification(payload string) (remote.ChangeEvent, error) {
	var n notification
	if err := json.Unmarshal([]byte(payload), &n); err != nil {
		return remote.ChangeEvent{}, fmt.Errorf("decode notification: %w", err)
	}
	if n.Table == "" || n.Op == "" {
		return remote.ChangeEvent{}, fmt.Errorf("notification missing table or op")
	}
	return remote.ChangeEvent{
		Table:      remote.Table(n.Table),
		Op:         remote.Op(n.Op),
		New:        n.New,
		ReceivedAt: time.Now().UTC(),
	}, nil
}

// Subscribe listens on the change channel over a dedicated pooled connection. The
// connection is held until the subscription ends.
func (s *Store) Subscribe(ctx context.Context, table remote.Table, filter remote.EventFilter) (*remote.Subscription, error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire listen connection: %w", err)
	}

	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{NotifyChannel}.Sanitize()); err != nil {
		conn.Release()
		return nil, fmt.Errorf("listen %s: %w", NotifyChannel, err)
	}

	return remote.NewSubscription(ctx, table, filter, func(ctx context.Context, emit func(remote.ChangeEvent) bool) error {
		defer func() {
			if !conn.Conn().IsClosed() {
				unlistenCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
				_, _ = conn.Exec(unlistenCtx, "UNLISTEN *")
				cancel()
			}
			conn.Release()
		}()

		for {
			n, err := conn.Conn().WaitForNotification(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return fmt.Errorf("wait for notification: %w", err)
			}

			ev, err := decodeNotification(n.Payload)
			if err != nil {
				s.logger.Warn("dropping malformed change notification", "channel", n.Channel, "error", err)
				continue
			}
			if !emit(ev) {
				return ctx.Err()
			}
		}
	}), nil
}
