// Package huntsync keeps the hunt dashboard's local state in step with the remote
// store: tag locations, contestant positions, the activity log, and pushed changes.
package huntsync

import (
	"context"
	"log/slog"
	"time"

	"kickhunt/huntsync/internal/remote"
)

const defaultCallTimeout = 5 * time.Second

// Options tune a Service. The zero value is usable.
type Options struct {
	// CallTimeout bounds each remote call. Zero selects the default.
	CallTimeout time.Duration
	// Classifier derives the GPS state of a position batch. Nil selects ClassifyGPS.
	Classifier GPSClassifier
	Logger     *slog.Logger
}

// Service bundles the sync components around one board and one remote store.
type Service struct {
	Board     *Board
	Locations *LocationSync
	Positions *PositionSync
	Activity  *ActivityLogger
	Notifier  *ChangeNotifier
}

// New wires the sync components to store. A nil display is replaced by one that
// renders nothing.
func New(store remote.Store, display Display, opts Options) *Service {
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = defaultCallTimeout
	}
	if opts.Classifier == nil {
		opts.Classifier = ClassifyGPS
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if display == nil {
		display = nopDisplay{}
	}

	board := NewBoard()
	activity := &ActivityLogger{
		store:   store,
		logger:  opts.Logger.With("component", "activity"),
		timeout: opts.CallTimeout,
	}

	return &Service{
		Board: board,
		Locations: &LocationSync{
			store:    store,
			board:    board,
			activity: activity,
			logger:   opts.Logger.With("component", "locations"),
			timeout:  opts.CallTimeout,
		},
		Positions: &PositionSync{
			store:    store,
			board:    board,
			classify: opts.Classifier,
			logger:   opts.Logger.With("component", "positions"),
			timeout:  opts.CallTimeout,
		},
		Activity: activity,
		Notifier: &ChangeNotifier{
			store:   store,
			board:   board,
			display: display,
			logger:  opts.Logger.With("component", "notifier"),
		},
	}
}

func callContext(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}
