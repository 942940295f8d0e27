// Package postgres implements the remote store on a hosted PostgreSQL database, using
// LISTEN/NOTIFY triggers as the change-event channel.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"kickhunt/huntsync/internal/model"
	"kickhunt/huntsync/internal/remote"
)

// NotifyChannel is the channel the change triggers publish on.
const NotifyChannel = "huntsync_changes"

// Store is a pgx-backed remote store.
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

var _ remote.Store = (*Store)(nil)

// Open creates a connection pool for url. A non-empty accessKey replaces the password
// carried by the URL.
func Open(ctx context.Context, url, accessKey string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	if accessKey != "" {
		cfg.ConnConfig.Password = accessKey
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{pool: pool, logger: logger}, nil
}

// Close closes the connection pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// Pool returns the underlying connection pool for custom queries.
func (s *Store) Pool() *pgxpool.Pool {
	return s.pool
}

// InitSchema creates the hunt tables and change triggers.
func (s *Store) InitSchema(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}

// SelectLocations returns every location ordered by tag number.
func (s *Store) SelectLocations(ctx context.Context) ([]model.LocationRow, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+locationColumns+` FROM rfid_locations ORDER BY rfid_number ASC`)
	if err != nil {
		return nil, fmt.Errorf("query rfid locations: %w", err)
	}
	defer rows.Close()

	var locations []model.LocationRow
	for rows.Next() {
		row, err := scanLocation(rows)
		if err != nil {
			return nil, err
		}
		locations = append(locations, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rfid locations: %w", err)
	}
	return locations, nil
}

// UpsertLocation inserts or updates a tag location and returns the stored row.
func (s *Store) UpsertLocation(ctx context.Context, row model.LocationRow) (model.LocationRow, error) {
	var discoveredAt *time.Time
	if !row.DiscoveredAt.IsZero() {
		t := row.DiscoveredAt.UTC()
		discoveredAt = &t
	}

	stored, err := scanLocation(s.pool.QueryRow(ctx, `
		INSERT INTO rfid_locations (rfid_number, lat, lng, confirmed, guess_count, discovery_method, discovered_by, discovered_by_username, discovered_at, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), NULLIF($8, ''), $9, $10)
		ON CONFLICT (rfid_number) DO UPDATE SET
			lat = EXCLUDED.lat,
			lng = EXCLUDED.lng,
			confirmed = EXCLUDED.confirmed,
			guess_count = EXCLUDED.guess_count,
			discovery_method = EXCLUDED.discovery_method,
			discovered_by = EXCLUDED.discovered_by,
			discovered_by_username = EXCLUDED.discovered_by_username,
			discovered_at = EXCLUDED.discovered_at,
			metadata = EXCLUDED.metadata,
			revision = rfid_locations.revision + 1,
			updated_at = now()
		RETURNING `+locationColumns,
		row.RFIDNumber,
		row.Lat,
		row.Lng,
		row.Confirmed,
		row.GuessCount,
		string(row.DiscoveryMethod),
		row.DiscoveredBy,
		row.DiscoveredByUsername,
		discoveredAt,
		nonNilMap(row.Metadata),
	))
	if err != nil {
		return model.LocationRow{}, fmt.Errorf("upsert rfid location: %w", err)
	}
	return stored, nil
}

// SelectPositions returns every contestant position, most tags first.
func (s *Store) SelectPositions(ctx context.Context) ([]model.PositionRow, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT kick_username, display_name, lat, lng, points, rfid_count, is_cached, gps_state, updated_at
		FROM contestant_positions
		ORDER BY rfid_count DESC, kick_username ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query contestant positions: %w", err)
	}
	defer rows.Close()

	var positions []model.PositionRow
	for rows.Next() {
		var (
			row      model.PositionRow
			gpsState string
		)
		if err := rows.Scan(&row.KickUsername, &row.DisplayName, &row.Lat, &row.Lng, &row.Points, &row.RFIDCount, &row.IsCached, &gpsState, &row.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan contestant position: %w", err)
		}
		row.GPSState = model.GPSState(gpsState)
		positions = append(positions, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate contestant positions: %w", err)
	}
	return positions, nil
}

// UpsertPositions writes the batch inside one transaction.
func (s *Store) UpsertPositions(ctx context.Context, rows []model.PositionRow) error {
	if len(rows) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin position batch: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	batch := &pgx.Batch{}
	for _, row := range rows {
		batch.Queue(`
			INSERT INTO contestant_positions (kick_username, display_name, lat, lng, points, rfid_count, is_cached, gps_state, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now())
			ON CONFLICT (kick_username) DO UPDATE SET
				display_name = EXCLUDED.display_name,
				lat = EXCLUDED.lat,
				lng = EXCLUDED.lng,
				points = EXCLUDED.points,
				rfid_count = EXCLUDED.rfid_count,
				is_cached = EXCLUDED.is_cached,
				gps_state = EXCLUDED.gps_state,
				updated_at = now()
		`, row.KickUsername, row.DisplayName, row.Lat, row.Lng, row.Points, row.RFIDCount, row.IsCached, string(row.GPSState))
	}

	br := tx.SendBatch(ctx, batch)
	for _, row := range rows {
		if _, err := br.Exec(); err != nil {
			_ = br.Close()
			return fmt.Errorf("upsert contestant position %q: %w", row.KickUsername, err)
		}
	}
	if err := br.Close(); err != nil {
		return fmt.Errorf("close position batch: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit position batch: %w", err)
	}
	return nil
}

// InsertActivity appends an activity log entry.
func (s *Store) InsertActivity(ctx context.Context, entry model.ActivityEntry) error {
	createdAt := entry.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO activity_log (id, activity_type, kick_username, display_name, rfid_number, details, created_at)
		VALUES ($1, $2, NULLIF($3, ''), NULLIF($4, ''), $5, $6, $7)
	`, entry.ID, string(entry.Type), entry.Username, entry.DisplayName, entry.RFIDNumber, nonNilMap(entry.Details), createdAt.UTC())
	if err != nil {
		return fmt.Errorf("insert activity: %w", err)
	}
	return nil
}

// RecentActivity returns the newest activity entries first.
func (s *Store) RecentActivity(ctx context.Context, limit int) ([]model.ActivityEntry, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, activity_type, COALESCE(kick_username, ''), COALESCE(display_name, ''), rfid_number, details, created_at
		FROM activity_log
		ORDER BY created_at DESC, id DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query activity: %w", err)
	}
	defer rows.Close()

	var entries []model.ActivityEntry
	for rows.Next() {
		var (
			entry model.ActivityEntry
			id    uuid.UUID
			typ   string
			rfid  *int32
		)
		if err := rows.Scan(&id, &typ, &entry.Username, &entry.DisplayName, &rfid, &entry.Details, &entry.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan activity: %w", err)
		}
		entry.ID = id
		entry.Type = model.ActivityType(typ)
		if rfid != nil {
			n := int(*rfid)
			entry.RFIDNumber = &n
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate activity: %w", err)
	}
	return entries, nil
}

const locationColumns = `rfid_number, lat, lng, confirmed, guess_count, discovery_method, COALESCE(discovered_by, ''), COALESCE(discovered_by_username, ''), discovered_at, metadata, revision`

func scanLocation(row pgx.Row) (model.LocationRow, error) {
	var (
		out          model.LocationRow
		method       string
		discoveredAt *time.Time
		metadata     []byte
	)
	if err := row.Scan(&out.RFIDNumber, &out.Lat, &out.Lng, &out.Confirmed, &out.GuessCount, &method, &out.DiscoveredBy, &out.DiscoveredByUsername, &discoveredAt, &metadata, &out.Revision); err != nil {
		return model.LocationRow{}, fmt.Errorf("scan rfid location: %w", err)
	}

	out.DiscoveryMethod = model.DiscoveryMethod(method)
	if discoveredAt != nil {
		out.DiscoveredAt = discoveredAt.UTC()
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &out.Metadata); err != nil {
			return model.LocationRow{}, fmt.Errorf("decode location metadata: %w", err)
		}
	}
	return out, nil
}

func nonNilMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
