// Package sqlite implements the remote store on an embedded SQLite database, with an
// in-process change feed standing in for the hosted notification channel.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"kickhunt/huntsync/internal/model"
	"kickhunt/huntsync/internal/remote"

	_ "modernc.org/sqlite"
)

// Store wraps the SQLite database connection, schema lifecycle, and change feed.
type Store struct {
	db   *sql.DB
	feed *remote.Feed
	now  func() time.Time
}

var _ remote.Store = (*Store)(nil)

// Open initializes the database connection, creating directories as needed.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)", path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)
	db.SetConnMaxIdleTime(5 * time.Minute)

	return &Store{db: db, feed: remote.NewFeed(), now: time.Now}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// InitSchema ensures the hunt tables exist.
func (s *Store) InitSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS rfid_locations (
			rfid_number INTEGER PRIMARY KEY,
			lat REAL NOT NULL,
			lng REAL NOT NULL,
			confirmed INTEGER NOT NULL DEFAULT 0,
			guess_count INTEGER NOT NULL DEFAULT 0,
			discovery_method TEXT NOT NULL CHECK (discovery_method IN ('manual', 'auto', 'viewer_guess')),
			discovered_by TEXT,
			discovered_by_username TEXT,
			discovered_at TEXT,
			metadata TEXT NOT NULL DEFAULT '{}',
			revision INTEGER NOT NULL DEFAULT 1,
			updated_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ', 'now'))
		);`,
		`CREATE TABLE IF NOT EXISTS contestant_positions (
			kick_username TEXT PRIMARY KEY,
			display_name TEXT NOT NULL DEFAULT '',
			lat REAL NOT NULL,
			lng REAL NOT NULL,
			points INTEGER NOT NULL DEFAULT 0,
			rfid_count INTEGER NOT NULL DEFAULT 0,
			is_cached INTEGER NOT NULL DEFAULT 0,
			gps_state TEXT NOT NULL DEFAULT 'unknown',
			updated_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ', 'now'))
		);`,
		`CREATE INDEX IF NOT EXISTS idx_contestant_positions_rfid_count ON contestant_positions(rfid_count DESC, kick_username);`,
		`CREATE TABLE IF NOT EXISTS activity_log (
			id TEXT PRIMARY KEY,
			activity_type TEXT NOT NULL,
			kick_username TEXT,
			display_name TEXT,
			rfid_number INTEGER,
			details TEXT NOT NULL DEFAULT '{}',
			created_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ', 'now'))
		);`,
		`CREATE INDEX IF NOT EXISTS idx_activity_log_created ON activity_log(created_at);`,
	}

	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}

	return nil
}

// SelectLocations returns every location ordered by tag number.
func (s *Store) SelectLocations(ctx context.Context) ([]model.LocationRow, error) {
	if s.db == nil {
		return nil, fmt.Errorf("store not initialized")
	}

	rows, err := s.db.QueryContext(ctx, `SELECT `+locationColumns+` FROM rfid_locations ORDER BY rfid_number ASC;`)
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

// UpsertLocation records or updates a tag location and publishes the change.
func (s *Store) UpsertLocation(ctx context.Context, row model.LocationRow) (model.LocationRow, error) {
	if s.db == nil {
		return model.LocationRow{}, fmt.Errorf("store not initialized")
	}

	metadata, err := json.Marshal(nonNilMap(row.Metadata))
	if err != nil {
		return model.LocationRow{}, fmt.Errorf("encode location metadata: %w", err)
	}

	var discoveredAt sql.NullString
	if !row.DiscoveredAt.IsZero() {
		discoveredAt = sql.NullString{String: row.DiscoveredAt.UTC().Format(time.RFC3339Nano), Valid: true}
	}

	stored, err := scanLocation(s.db.QueryRowContext(
		ctx,
		`INSERT INTO rfid_locations (rfid_number, lat, lng, confirmed, guess_count, discovery_method, discovered_by, discovered_by_username, discovered_at, metadata)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(rfid_number)
		 DO UPDATE SET lat = excluded.lat,
				 lng = excluded.lng,
				 confirmed = excluded.confirmed,
				 guess_count = excluded.guess_count,
				 discovery_method = excluded.discovery_method,
				 discovered_by = excluded.discovered_by,
				 discovered_by_username = excluded.discovered_by_username,
				 discovered_at = excluded.discovered_at,
				 metadata = excluded.metadata,
				 revision = rfid_locations.revision + 1,
				 updated_at = strftime('%Y-%m-%dT%H:%M:%fZ', 'now')
		 RETURNING `+locationColumns+`;`,
		row.RFIDNumber,
		row.Lat,
		row.Lng,
		row.Confirmed,
		row.GuessCount,
		string(row.DiscoveryMethod),
		nullString(row.DiscoveredBy),
		nullString(row.DiscoveredByUsername),
		discoveredAt,
		string(metadata),
	))
	if err != nil {
		return model.LocationRow{}, fmt.Errorf("upsert rfid location: %w", err)
	}

	op := remote.OpUpdate
	if stored.Revision == 1 {
		op = remote.OpInsert
	}
	s.publish(remote.TableLocations, op, stored)

	return stored, nil
}

// SelectPositions returns every contestant position, most tags first.
func (s *Store) SelectPositions(ctx context.Context) ([]model.PositionRow, error) {
	if s.db == nil {
		return nil, fmt.Errorf("store not initialized")
	}

	rows, err := s.db.QueryContext(
		ctx,
		`SELECT kick_username, display_name, lat, lng, points, rfid_count, is_cached, gps_state, updated_at
		 FROM contestant_positions
		 ORDER BY rfid_count DESC, kick_username ASC;`)
	if err != nil {
		return nil, fmt.Errorf("query contestant positions: %w", err)
	}
	defer rows.Close()

	var positions []model.PositionRow
	for rows.Next() {
		var (
			row        model.PositionRow
			gpsState   string
			updatedStr string
		)
		if err := rows.Scan(&row.KickUsername, &row.DisplayName, &row.Lat, &row.Lng, &row.Points, &row.RFIDCount, &row.IsCached, &gpsState, &updatedStr); err != nil {
			return nil, fmt.Errorf("scan contestant position: %w", err)
		}
		row.GPSState = model.GPSState(gpsState)
		row.UpdatedAt = parseTimestamp(updatedStr)
		positions = append(positions, row)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate contestant positions: %w", err)
	}

	return positions, nil
}

// UpsertPositions writes the batch in one transaction and publishes each change.
func (s *Store) UpsertPositions(ctx context.Context, rows []model.PositionRow) error {
	if s.db == nil {
		return fmt.Errorf("store not initialized")
	}
	if len(rows) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin position batch: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := s.now().UTC()
	ops := make([]remote.Op, 0, len(rows))
	for _, row := range rows {
		var existed bool
		if err := tx.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM contestant_positions WHERE kick_username = ?);`, row.KickUsername).Scan(&existed); err != nil {
			return fmt.Errorf("check contestant position: %w", err)
		}

		if _, err := tx.ExecContext(
			ctx,
			`INSERT INTO contestant_positions (kick_username, display_name, lat, lng, points, rfid_count, is_cached, gps_state, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT(kick_username)
			 DO UPDATE SET display_name = excluded.display_name,
					 lat = excluded.lat,
					 lng = excluded.lng,
					 points = excluded.points,
					 rfid_count = excluded.rfid_count,
					 is_cached = excluded.is_cached,
					 gps_state = excluded.gps_state,
					 updated_at = excluded.updated_at;`,
			row.KickUsername,
			row.DisplayName,
			row.Lat,
			row.Lng,
			row.Points,
			row.RFIDCount,
			row.IsCached,
			string(row.GPSState),
			now.Format(time.RFC3339Nano),
		); err != nil {
			return fmt.Errorf("upsert contestant position %q: %w", row.KickUsername, err)
		}

		if existed {
			ops = append(ops, remote.OpUpdate)
		} else {
			ops = append(ops, remote.OpInsert)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit position batch: %w", err)
	}

	for i, row := range rows {
		row.UpdatedAt = now
		s.publish(remote.TablePositions, ops[i], row)
	}
	return nil
}

// InsertActivity appends an activity log entry.
func (s *Store) InsertActivity(ctx context.Context, entry model.ActivityEntry) error {
	if s.db == nil {
		return fmt.Errorf("store not initialized")
	}

	details, err := json.Marshal(nonNilMap(entry.Details))
	if err != nil {
		return fmt.Errorf("encode activity details: %w", err)
	}

	createdAt := entry.CreatedAt
	if createdAt.IsZero() {
		createdAt = s.now()
	}

	var rfid sql.NullInt64
	if entry.RFIDNumber != nil {
		rfid = sql.NullInt64{Int64: int64(*entry.RFIDNumber), Valid: true}
	}

	_, err = s.db.ExecContext(
		ctx,
		`INSERT INTO activity_log (id, activity_type, kick_username, display_name, rfid_number, details, created_at) VALUES (?, ?, ?, ?, ?, ?, ?);`,
		entry.ID.String(),
		string(entry.Type),
		nullString(entry.Username),
		nullString(entry.DisplayName),
		rfid,
		string(details),
		createdAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert activity: %w", err)
	}
	return nil
}

// RecentActivity returns the newest activity entries first.
func (s *Store) RecentActivity(ctx context.Context, limit int) ([]model.ActivityEntry, error) {
	if s.db == nil {
		return nil, fmt.Errorf("store not initialized")
	}

	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(
		ctx,
		`SELECT id, activity_type, kick_username, display_name, rfid_number, details, created_at
		 FROM activity_log
		 ORDER BY created_at DESC, id DESC
		 LIMIT ?;`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query activity: %w", err)
	}
	defer rows.Close()

	var entries []model.ActivityEntry
	for rows.Next() {
		var (
			idStr, typ, detailsRaw, createdStr string
			username, displayName              sql.NullString
			rfid                               sql.NullInt64
		)
		if err := rows.Scan(&idStr, &typ, &username, &displayName, &rfid, &detailsRaw, &createdStr); err != nil {
			return nil, fmt.Errorf("scan activity: %w", err)
		}

		id, err := uuid.Parse(idStr)
		if err != nil {
			return nil, fmt.Errorf("parse activity id: %w", err)
		}

		entry := model.ActivityEntry{
			ID:          id,
			Type:        model.ActivityType(typ),
			Username:    username.String,
			DisplayName: displayName.String,
			CreatedAt:   parseTimestamp(createdStr),
		}
		if rfid.Valid {
			n := int(rfid.Int64)
			entry.RFIDNumber = &n
		}
		if err := json.Unmarshal([]byte(detailsRaw), &entry.Details); err != nil {
			return nil, fmt.Errorf("decode activity details: %w", err)
		}
		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate activity: %w", err)
	}

	return entries, nil
}

// Subscribe attaches to the in-process change feed.
func (s *Store) Subscribe(ctx context.Context, table remote.Table, filter remote.EventFilter) (*remote.Subscription, error) {
	if s.db == nil {
		return nil, fmt.Errorf("store not initialized")
	}
	return s.feed.Subscribe(ctx, table, filter), nil
}

func (s *Store) publish(table remote.Table, op remote.Op, row any) {
	payload, err := json.Marshal(row)
	if err != nil {
		return
	}
	s.feed.Publish(remote.ChangeEvent{Table: table, Op: op, New: payload, ReceivedAt: s.now().UTC()})
}

const locationColumns = `rfid_number, lat, lng, confirmed, guess_count, discovery_method, discovered_by, discovered_by_username, discovered_at, metadata, revision`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLocation(sc rowScanner) (model.LocationRow, error) {
	var (
		row             model.LocationRow
		method          string
		discoveredBy    sql.NullString
		discoveredByUsr sql.NullString
		discoveredAt    sql.NullString
		metadataRaw     string
	)

	if err := sc.Scan(&row.RFIDNumber, &row.Lat, &row.Lng, &row.Confirmed, &row.GuessCount, &method, &discoveredBy, &discoveredByUsr, &discoveredAt, &metadataRaw, &row.Revision); err != nil {
		return model.LocationRow{}, fmt.Errorf("scan rfid location: %w", err)
	}

	row.DiscoveryMethod = model.DiscoveryMethod(method)
	row.DiscoveredBy = discoveredBy.String
	row.DiscoveredByUsername = discoveredByUsr.String
	if discoveredAt.Valid {
		row.DiscoveredAt = parseTimestamp(discoveredAt.String)
	}
	if err := json.Unmarshal([]byte(metadataRaw), &row.Metadata); err != nil {
		return model.LocationRow{}, fmt.Errorf("decode location metadata: %w", err)
	}

	return row, nil
}

func parseTimestamp(v string) time.Time {
	ts, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		ts, _ = time.Parse("2006-01-02T15:04:05Z07:00", v)
	}
	return ts
}

func nullString(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}

func nonNilMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
