// Package remote defines the hosted store the dashboard state is synchronized with.
package remote

import (
	"context"
	"encoding/json"
	"time"

	"kickhunt/huntsync/internal/model"
)

// Table names a table in the remote store.
type Table string

const (
	TableLocations Table = "rfid_locations"
	TablePositions Table = "contestant_positions"
	TableActivity  Table = "activity_log"
)

// Op is a row-level change operation.
type Op string

const (
	OpInsert Op = "INSERT"
	OpUpdate Op = "UPDATE"
	OpDelete Op = "DELETE"
)

// EventFilter selects the operations a subscription receives. The zero value matches
// every operation.
type EventFilter struct {
	Ops []Op
}

// AllEvents matches every operation.
func AllEvents() EventFilter { return EventFilter{} }

// Only matches the listed operations.
func Only(ops ...Op) EventFilter { return EventFilter{Ops: ops} }

// Match reports whether op passes the filter.
func (f EventFilter) Match(op Op) bool {
	if len(f.Ops) == 0 {
		return true
	}
	for _, o := range f.Ops {
		if o == op {
			return true
		}
	}
	return false
}

// ChangeEvent is a row-level change pushed by the store.
type ChangeEvent struct {
	Table      Table           `json:"table"`
	Op         Op              `json:"op"`
	New        json.RawMessage `json:"new"`
	ReceivedAt time.Time       `json:"received_at"`
}

// Store is the remote structured-data store with a change-event facility.
type Store interface {
	// SelectLocations returns every location ordered by rfid_number ascending.
	SelectLocations(ctx context.Context) ([]model.LocationRow, error)
	// UpsertLocation inserts or updates a location keyed on rfid_number and returns
	// the stored row, including its new revision.
	UpsertLocation(ctx context.Context, row model.LocationRow) (model.LocationRow, error)
	// SelectPositions returns every position ordered by rfid_count descending, then
	// kick_username ascending.
	SelectPositions(ctx context.Context) ([]model.PositionRow, error)
	// UpsertPositions inserts or updates the rows keyed on kick_username, all or nothing.
	UpsertPositions(ctx context.Context, rows []model.PositionRow) error
	// InsertActivity appends one activity log entry.
	InsertActivity(ctx context.Context, entry model.ActivityEntry) error
	// RecentActivity returns up to limit activity entries, newest first.
	RecentActivity(ctx context.Context, limit int) ([]model.ActivityEntry, error)
	// Subscribe opens a change stream for one table.
	Subscribe(ctx context.Context, table Table, filter EventFilter) (*Subscription, error)
	Close() error
}
