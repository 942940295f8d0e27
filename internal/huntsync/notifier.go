package huntsync

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"kickhunt/huntsync/internal/model"
	"kickhunt/huntsync/internal/remote"
)

// ChangeNotifier mirrors pushed remote changes into the board.
type ChangeNotifier struct {
	store   remote.Store
	board   *Board
	display Display
	logger  *slog.Logger

	mu   sync.Mutex
	subs []*remote.Subscription
	wg   sync.WaitGroup
}

// Subscribe opens the tag-insert stream and the position stream. Events are handled
// until ctx is done or Close is called.
func (n *ChangeNotifier) Subscribe(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.subs != nil {
		return opError("subscribe", ErrAlreadySubscribed)
	}

	tags, err := n.store.Subscribe(ctx, remote.TableLocations, remote.Only(remote.OpInsert))
	if err != nil {
		n.logger.Error("failed to subscribe to rfid locations", "error", err)
		return opError("subscribe rfid locations", err)
	}
	positions, err := n.store.Subscribe(ctx, remote.TablePositions, remote.AllEvents())
	if err != nil {
		_ = tags.Close()
		n.logger.Error("failed to subscribe to contestant positions", "error", err)
		return opError("subscribe contestant positions", err)
	}

	n.subs = []*remote.Subscription{tags, positions}
	n.wg.Add(2)
	go n.consume(tags, n.handleTagInsert)
	go n.consume(positions, n.handlePositionChange)

	n.logger.Info("subscribed to remote changes")
	return nil
}

// Close ends both streams and waits for their handlers to return.
func (n *ChangeNotifier) Close() error {
	n.mu.Lock()
	subs := n.subs
	n.subs = nil
	n.mu.Unlock()

	if subs == nil {
		return ErrNotSubscribed
	}
	for _, sub := range subs {
		_ = sub.Close()
	}
	n.wg.Wait()
	return nil
}

func (n *ChangeNotifier) consume(sub *remote.Subscription, handle func(remote.ChangeEvent)) {
	defer n.wg.Done()

	for ev := range sub.Events() {
		handle(ev)
	}
	if err := sub.Err(); err != nil {
		n.logger.Error("change stream ended", "table", sub.Table(), "error", err)
		return
	}
	n.logger.Debug("change stream closed", "table", sub.Table())
}

func (n *ChangeNotifier) handleTagInsert(ev remote.ChangeEvent) {
	var row model.LocationRow
	if err := json.Unmarshal(ev.New, &row); err != nil {
		n.logger.Warn("failed to decode rfid location event", "error", err)
		return
	}

	loc := row.Location()
	if !n.board.PutLocation(loc) {
		// A row deleted and re-inserted remotely restarts at revision 1 and lands here
		// until the next full load.
		n.logger.Info("ignored stale rfid location event", "rfid", loc.RFIDID, "revision", loc.Revision, "op", ev.Op)
		return
	}

	if n.display.HasMarkers() {
		n.display.Redisplay(n.board.Locations())
	}
	n.display.Status(fmt.Sprintf("New RFID #%d discovered!", loc.RFIDID), StatusSuccess)
	n.logger.Info("rfid discovered remotely", "rfid", loc.RFIDID, "method", row.DiscoveryMethod)
}

// Position events carry no local effect yet; the dashboard polls positions.
func (n *ChangeNotifier) handlePositionChange(ev remote.ChangeEvent) {
	n.logger.Debug("contestant position changed", "op", ev.Op, "bytes", len(ev.New))
}
