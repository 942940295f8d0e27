package huntsync

import (
	"sort"
	"sync"

	"kickhunt/huntsync/internal/model"
)

// LoadToken marks the start of a full reload. Writes applied after the token was taken
// survive the reload when the loaded set does not hold a newer revision of the same tag.
type LoadToken struct {
	seq uint64
}

type boardEntry struct {
	loc model.Location
	seq uint64
}

// Board owns the dashboard's local state: the tag location map and the contestant
// position cache. Full loads, single saves, and push events all mutate it through
// these methods.
type Board struct {
	mu          sync.Mutex
	seq         uint64
	locations   map[int]boardEntry
	contestants []model.Contestant
}

// NewBoard returns an empty board.
func NewBoard() *Board {
	return &Board{locations: make(map[int]boardEntry)}
}

// BeginLoad returns a token to pass to ReplaceLocations once the fetch completes.
func (b *Board) BeginLoad() LoadToken {
	b.mu.Lock()
	defer b.mu.Unlock()
	return LoadToken{seq: b.seq}
}

// ReplaceLocations swaps in a freshly loaded location set. Entries written before tok
// are dropped unless loaded again.
func (b *Board) ReplaceLocations(tok LoadToken, locations []model.Location) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.seq++
	next := make(map[int]boardEntry, len(locations))
	for _, loc := range locations {
		next[loc.RFIDID] = boardEntry{loc: loc, seq: b.seq}
	}

	for id, cur := range b.locations {
		if cur.seq <= tok.seq {
			continue
		}
		loaded, ok := next[id]
		if !ok || cur.loc.Revision > loaded.loc.Revision {
			next[id] = cur
		}
	}

	b.locations = next
}

// PutLocation stores loc unless the board already holds a newer revision of the tag.
// It reports whether the write was applied.
func (b *Board) PutLocation(loc model.Location) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if cur, ok := b.locations[loc.RFIDID]; ok && loc.Revision < cur.loc.Revision {
		return false
	}
	b.seq++
	b.locations[loc.RFIDID] = boardEntry{loc: loc, seq: b.seq}
	return true
}

// Location returns the stored location for rfidID.
func (b *Board) Location(rfidID int) (model.Location, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.locations[rfidID]
	return e.loc, ok
}

// Locations returns a copy of every location ordered by tag number.
func (b *Board) Locations() []model.Location {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]model.Location, 0, len(b.locations))
	for _, e := range b.locations {
		out = append(out, e.loc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RFIDID < out[j].RFIDID })
	return out
}

// Len returns the number of known tag locations.
func (b *Board) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.locations)
}

// ReplaceContestants swaps in a loaded contestant list.
func (b *Board) ReplaceContestants(contestants []model.Contestant) {
	next := make([]model.Contestant, len(contestants))
	copy(next, contestants)
	sortContestants(next)

	b.mu.Lock()
	b.contestants = next
	b.mu.Unlock()
}

// MergeContestants upserts contestants into the cache by username.
func (b *Board) MergeContestants(contestants []model.Contestant) {
	b.mu.Lock()
	defer b.mu.Unlock()

	index := make(map[string]int, len(b.contestants))
	for i, c := range b.contestants {
		index[c.Username] = i
	}
	for _, c := range contestants {
		if i, ok := index[c.Username]; ok {
			b.contestants[i] = c
			continue
		}
		index[c.Username] = len(b.contestants)
		b.contestants = append(b.contestants, c)
	}
	sortContestants(b.contestants)
}

// Contestants returns a copy of the cached contestants, most tags first.
func (b *Board) Contestants() []model.Contestant {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]model.Contestant, len(b.contestants))
	copy(out, b.contestants)
	return out
}

// sortContestants orders by tag count descending, then username ascending, matching
// the remote store's ordering.
func sortContestants(cs []model.Contestant) {
	sort.SliceStable(cs, func(i, j int) bool {
		if cs[i].RFIDCount != cs[j].RFIDCount {
			return cs[i].RFIDCount > cs[j].RFIDCount
		}
		return cs[i].Username < cs[j].Username
	})
}
