package huntsync

import (
	"context"
	"errors"
	"sort"
	"sync"

	"kickhunt/huntsync/internal/model"
	"kickhunt/huntsync/internal/remote"
)

var errRemoteDown = errors.New("remote unavailable")

// fakeStore is an in-memory remote.Store with per-operation failure injection.
type fakeStore struct {
	mu        sync.Mutex
	locations map[int]model.LocationRow
	positions map[string]model.PositionRow
	activity  []model.ActivityEntry
	feed      *remote.Feed

	selectLocationsErr error
	upsertLocationErr  error
	selectPositionsErr error
	upsertPositionsErr error
	insertActivityErr  error
	subscribeErr       map[remote.Table]error

	// beforeSelect runs inside SelectLocations before rows are copied.
	beforeSelect func()
}

var _ remote.Store = (*fakeStore)(nil)

func newFakeStore() *fakeStore {
	return &fakeStore{
		locations: make(map[int]model.LocationRow),
		positions: make(map[string]model.PositionRow),
		feed:      remote.NewFeed(),
	}
}

func (f *fakeStore) SelectLocations(ctx context.Context) ([]model.LocationRow, error) {
	if f.beforeSelect != nil {
		f.beforeSelect()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.selectLocationsErr != nil {
		return nil, f.selectLocationsErr
	}
	rows := make([]model.LocationRow, 0, len(f.locations))
	for _, r := range f.locations {
		rows = append(rows, r)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].RFIDNumber < rows[j].RFIDNumber })
	return rows, nil
}

func (f *fakeStore) UpsertLocation(ctx context.Context, row model.LocationRow) (model.LocationRow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.upsertLocationErr != nil {
		return model.LocationRow{}, f.upsertLocationErr
	}
	row.Revision = f.locations[row.RFIDNumber].Revision + 1
	f.locations[row.RFIDNumber] = row
	return row, nil
}

func (f *fakeStore) SelectPositions(ctx context.Context) ([]model.PositionRow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.selectPositionsErr != nil {
		return nil, f.selectPositionsErr
	}
	rows := make([]model.PositionRow, 0, len(f.positions))
	for _, r := range f.positions {
		rows = append(rows, r)
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].RFIDCount != rows[j].RFIDCount {
			return rows[i].RFIDCount > rows[j].RFIDCount
		}
		return rows[i].KickUsername < rows[j].KickUsername
	})
	return rows, nil
}

func (f *fakeStore) UpsertPositions(ctx context.Context, rows []model.PositionRow) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.upsertPositionsErr != nil {
		return f.upsertPositionsErr
	}
	for _, r := range rows {
		f.positions[r.KickUsername] = r
	}
	return nil
}

func (f *fakeStore) InsertActivity(ctx context.Context, entry model.ActivityEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.insertActivityErr != nil {
		return f.insertActivityErr
	}
	f.activity = append(f.activity, entry)
	return nil
}

func (f *fakeStore) RecentActivity(ctx context.Context, limit int) ([]model.ActivityEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]model.ActivityEntry, 0, len(f.activity))
	for i := len(f.activity) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, f.activity[i])
	}
	return out, nil
}

func (f *fakeStore) Subscribe(ctx context.Context, table remote.Table, filter remote.EventFilter) (*remote.Subscription, error) {
	if err := f.subscribeErr[table]; err != nil {
		return nil, err
	}
	return f.feed.Subscribe(ctx, table, filter), nil
}

func (f *fakeStore) Close() error { return nil }

func (f *fakeStore) activityEntries() []model.ActivityEntry {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]model.ActivityEntry, len(f.activity))
	copy(out, f.activity)
	return out
}

type statusCall struct {
	msg  string
	kind StatusKind
}

// recordingDisplay counts redisplays and forwards status notices on a channel.
type recordingDisplay struct {
	mu         sync.Mutex
	markers    bool
	redisplays [][]model.Location
	statuses   chan statusCall
}

func newRecordingDisplay(markers bool) *recordingDisplay {
	return &recordingDisplay{markers: markers, statuses: make(chan statusCall, 16)}
}

func (d *recordingDisplay) HasMarkers() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.markers
}

func (d *recordingDisplay) Redisplay(locations []model.Location) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.redisplays = append(d.redisplays, locations)
}

func (d *recordingDisplay) Status(msg string, kind StatusKind) {
	d.statuses <- statusCall{msg: msg, kind: kind}
}

func (d *recordingDisplay) redisplayCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.redisplays)
}
