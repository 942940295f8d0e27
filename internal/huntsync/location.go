package huntsync

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"kickhunt/huntsync/internal/model"
	"kickhunt/huntsync/internal/remote"
)

// LocationSync loads and saves tag discovery records.
type LocationSync struct {
	store    remote.Store
	board    *Board
	activity *ActivityLogger
	logger   *slog.Logger
	timeout  time.Duration
}

// LoadAll replaces the board's location map with every remote row and returns how many
// were loaded. A failed fetch leaves the board untouched.
func (s *LocationSync) LoadAll(ctx context.Context) (int, error) {
	tok := s.board.BeginLoad()

	callCtx, cancel := callContext(ctx, s.timeout)
	defer cancel()

	rows, err := s.store.SelectLocations(callCtx)
	if err != nil {
		s.logger.Error("failed to load rfid locations", "error", err)
		return 0, opError("load locations", err)
	}

	locations := make([]model.Location, 0, len(rows))
	for _, row := range rows {
		locations = append(locations, row.Location())
	}
	s.board.ReplaceLocations(tok, locations)

	s.logger.Info("loaded rfid locations", "count", len(locations))
	return len(locations), nil
}

// Save upserts the location of tag rfidID and records the discovery in the activity
// log. The stored row, with its new revision, is applied to the board.
func (s *LocationSync) Save(ctx context.Context, rfidID int, loc model.Location) error {
	if rfidID <= 0 {
		return opError("save location", fmt.Errorf("%w: rfid id %d", ErrInvalidInput, rfidID))
	}
	loc.RFIDID = rfidID
	row := loc.Row()

	callCtx, cancel := callContext(ctx, s.timeout)
	defer cancel()

	stored, err := s.store.UpsertLocation(callCtx, row)
	if err != nil {
		s.logger.Error("failed to save rfid location", "rfid", rfidID, "error", err)
		return opError("save location", err)
	}
	s.board.PutLocation(stored.Location())

	s.logger.Info("saved rfid location", "rfid", rfidID, "method", row.DiscoveryMethod, "revision", stored.Revision)

	s.activity.Log(ctx, model.ActivityRFIDDiscovered, loc.DiscoveredByUser, loc.DiscoveredBy, &rfidID, map[string]any{
		"method":      string(row.DiscoveryMethod),
		"coordinates": []float64{loc.Lat, loc.Lng},
	})
	return nil
}
