package huntsync

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"kickhunt/huntsync/internal/model"
	"kickhunt/huntsync/internal/remote"
)

// PositionSync loads and saves contestant position snapshots.
type PositionSync struct {
	store    remote.Store
	board    *Board
	classify GPSClassifier
	logger   *slog.Logger
	timeout  time.Duration
}

// UpdateMany upserts a batch of contestants. Every row carries the GPS state of the
// whole batch. Repeated usernames keep their last occurrence.
func (s *PositionSync) UpdateMany(ctx context.Context, contestants []model.Contestant) error {
	if len(contestants) == 0 {
		return nil
	}

	batch := make([]model.Contestant, 0, len(contestants))
	seen := make(map[string]int, len(contestants))
	for i, c := range contestants {
		if c.Username == "" {
			return opError("update positions", fmt.Errorf("%w: contestant %d has no username", ErrInvalidInput, i))
		}
		if j, ok := seen[c.Username]; ok {
			batch[j] = c
			continue
		}
		seen[c.Username] = len(batch)
		batch = append(batch, c)
	}

	state := s.classify(contestants)
	rows := make([]model.PositionRow, 0, len(batch))
	for _, c := range batch {
		rows = append(rows, c.Row(state))
	}

	callCtx, cancel := callContext(ctx, s.timeout)
	defer cancel()

	if err := s.store.UpsertPositions(callCtx, rows); err != nil {
		s.logger.Error("failed to update contestant positions", "count", len(rows), "error", err)
		return opError("update positions", err)
	}
	s.board.MergeContestants(batch)

	s.logger.Debug("updated contestant positions", "count", len(rows), "gps_state", state)
	return nil
}

// LoadAll returns every contestant, most tags first with ties by username. On failure
// it returns an empty slice together with the error.
func (s *PositionSync) LoadAll(ctx context.Context) ([]model.Contestant, error) {
	callCtx, cancel := callContext(ctx, s.timeout)
	defer cancel()

	rows, err := s.store.SelectPositions(callCtx)
	if err != nil {
		s.logger.Error("failed to load contestant positions", "error", err)
		return []model.Contestant{}, opError("load positions", err)
	}

	contestants := make([]model.Contestant, 0, len(rows))
	for _, row := range rows {
		contestants = append(contestants, row.Contestant())
	}
	s.board.ReplaceContestants(contestants)
	return contestants, nil
}
