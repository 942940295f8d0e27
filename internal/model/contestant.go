package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// GPSState describes whether a batch of contestant coordinates is live or stale.
type GPSState string

const (
	GPSLive    GPSState = "live"
	GPSCached  GPSState = "cached"
	GPSMixed   GPSState = "mixed"
	GPSUnknown GPSState = "unknown"
)

// contestantFields is the arity of the contestant tuple.
const contestantFields = 7

// Contestant is one contestant position as the dashboard holds it. On the wire it is
// the fixed-order tuple [username, displayName, lat, lng, points, rfidCount, isCached].
type Contestant struct {
	Username    string
	DisplayName string
	Lat         float64
	Lng         float64
	Points      int
	RFIDCount   int
	Cached      bool
}

// MarshalJSON encodes the contestant as its 7-element tuple.
func (c Contestant) MarshalJSON() ([]byte, error) {
	return json.Marshal([contestantFields]any{
		c.Username,
		c.DisplayName,
		c.Lat,
		c.Lng,
		c.Points,
		c.RFIDCount,
		c.Cached,
	})
}

// UnmarshalJSON decodes a 7-element tuple, coercing numeric fields from numbers or
// numeric strings and the cached flag from any truthy value.
func (c *Contestant) UnmarshalJSON(data []byte) error {
	var fields []json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return fmt.Errorf("decode contestant tuple: %w", err)
	}
	if len(fields) != contestantFields {
		return fmt.Errorf("contestant tuple has %d fields, want %d", len(fields), contestantFields)
	}

	var out Contestant
	var err error
	if out.Username, err = decodeString(fields[0]); err != nil {
		return fmt.Errorf("decode username: %w", err)
	}
	if out.Username == "" {
		return fmt.Errorf("contestant tuple missing username")
	}
	if out.DisplayName, err = decodeString(fields[1]); err != nil {
		return fmt.Errorf("decode display name: %w", err)
	}
	if out.Lat, err = decodeFloat(fields[2]); err != nil {
		return fmt.Errorf("decode lat: %w", err)
	}
	if out.Lng, err = decodeFloat(fields[3]); err != nil {
		return fmt.Errorf("decode lng: %w", err)
	}
	if out.Points, err = decodeInt(fields[4]); err != nil {
		return fmt.Errorf("decode points: %w", err)
	}
	if out.RFIDCount, err = decodeInt(fields[5]); err != nil {
		return fmt.Errorf("decode rfid count: %w", err)
	}
	out.Cached = decodeTruthy(fields[6])

	*c = out
	return nil
}

// Row converts the contestant into a persisted row carrying the batch GPS state.
func (c Contestant) Row(state GPSState) PositionRow {
	return PositionRow{
		KickUsername: c.Username,
		DisplayName:  c.DisplayName,
		Lat:          c.Lat,
		Lng:          c.Lng,
		Points:       c.Points,
		RFIDCount:    c.RFIDCount,
		IsCached:     c.Cached,
		GPSState:     state,
	}
}

// PositionRow is a row of the contestant_positions table.
type PositionRow struct {
	KickUsername string    `json:"kick_username"`
	DisplayName  string    `json:"display_name"`
	Lat          float64   `json:"lat"`
	Lng          float64   `json:"lng"`
	Points       int       `json:"points"`
	RFIDCount    int       `json:"rfid_count"`
	IsCached     bool      `json:"is_cached"`
	GPSState     GPSState  `json:"gps_state"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Contestant converts the row back into tuple form.
func (r PositionRow) Contestant() Contestant {
	return Contestant{
		Username:    r.KickUsername,
		DisplayName: r.DisplayName,
		Lat:         r.Lat,
		Lng:         r.Lng,
		Points:      r.Points,
		RFIDCount:   r.RFIDCount,
		Cached:      r.IsCached,
	}
}
