package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// DiscoveryMethod classifies how a tag's location was recorded.
type DiscoveryMethod string

const (
	MethodManual      DiscoveryMethod = "manual"
	MethodAuto        DiscoveryMethod = "auto"
	MethodViewerGuess DiscoveryMethod = "viewer_guess"
)

// ResolveMethod maps the two registration flags to a discovery method.
// Manual registration wins over automatic; neither flag means a viewer guess.
func ResolveMethod(manual, auto bool) DiscoveryMethod {
	switch {
	case manual:
		return MethodManual
	case auto:
		return MethodAuto
	default:
		return MethodViewerGuess
	}
}

// Valid reports whether m is one of the known methods.
func (m DiscoveryMethod) Valid() bool {
	switch m {
	case MethodManual, MethodAuto, MethodViewerGuess:
		return true
	}
	return false
}

// Location is the dashboard's view of a discovered RFID tag.
type Location struct {
	RFIDID             int       `json:"rfidId"`
	Lat                float64   `json:"lat"`
	Lng                float64   `json:"lng"`
	Confirmed          bool      `json:"confirmed"`
	GuessCount         int       `json:"guessCount"`
	ManuallyRegistered bool      `json:"manuallyRegistered"`
	AutoRegistered     bool      `json:"autoRegistered"`
	DiscoveredBy       string    `json:"discoveredBy,omitempty"`
	DiscoveredByUser   string    `json:"discoveredByUser,omitempty"`
	DiscoveredAt       time.Time `json:"discoveredAt"`
	Revision           int64     `json:"revision"`
}

// Method returns the discovery method implied by the registration flags.
func (l Location) Method() DiscoveryMethod {
	return ResolveMethod(l.ManuallyRegistered, l.AutoRegistered)
}

// Row converts the location into its persisted shape.
func (l Location) Row() LocationRow {
	row := LocationRow{
		RFIDNumber:           l.RFIDID,
		Lat:                  l.Lat,
		Lng:                  l.Lng,
		Confirmed:            l.Confirmed,
		GuessCount:           l.GuessCount,
		DiscoveryMethod:      l.Method(),
		DiscoveredBy:         l.DiscoveredBy,
		DiscoveredByUsername: l.DiscoveredByUser,
		DiscoveredAt:         l.DiscoveredAt,
		Metadata:             map[string]any{},
		Revision:             l.Revision,
	}
	if !l.DiscoveredAt.IsZero() {
		row.Metadata["discoveredAt"] = l.DiscoveredAt.UTC().Format(time.RFC3339Nano)
	}
	return row
}

// LocationRow is a row of the rfid_locations table.
type LocationRow struct {
	RFIDNumber           int             `json:"rfid_number"`
	Lat                  float64         `json:"lat"`
	Lng                  float64         `json:"lng"`
	Confirmed            bool            `json:"confirmed"`
	GuessCount           int             `json:"guess_count"`
	DiscoveryMethod      DiscoveryMethod `json:"discovery_method"`
	DiscoveredBy         string          `json:"discovered_by"`
	DiscoveredByUsername string          `json:"discovered_by_username"`
	DiscoveredAt         time.Time       `json:"discovered_at"`
	Metadata             map[string]any  `json:"metadata"`
	Revision             int64           `json:"revision"`
}

// Location converts a persisted row back into the dashboard form.
func (r LocationRow) Location() Location {
	return Location{
		RFIDID:             r.RFIDNumber,
		Lat:                r.Lat,
		Lng:                r.Lng,
		Confirmed:          r.Confirmed,
		GuessCount:         r.GuessCount,
		ManuallyRegistered: r.DiscoveryMethod == MethodManual,
		AutoRegistered:     r.DiscoveryMethod == MethodAuto,
		DiscoveredBy:       r.DiscoveredBy,
		DiscoveredByUser:   r.DiscoveredByUsername,
		DiscoveredAt:       r.DiscoveredAt,
		Revision:           r.Revision,
	}
}

// MarshalJSON writes a null discovered_at when the timestamp is unset.
func (r LocationRow) MarshalJSON() ([]byte, error) {
	type plain LocationRow
	var discoveredAt *time.Time
	if !r.DiscoveredAt.IsZero() {
		t := r.DiscoveredAt
		discoveredAt = &t
	}
	return json.Marshal(struct {
		plain
		DiscoveredAt *time.Time `json:"discovered_at"`
	}{plain: plain(r), DiscoveredAt: discoveredAt})
}

// UnmarshalJSON accepts numeric columns encoded either as numbers or strings.
func (r *LocationRow) UnmarshalJSON(data []byte) error {
	var raw struct {
		RFIDNumber           json.RawMessage `json:"rfid_number"`
		Lat                  json.RawMessage `json:"lat"`
		Lng                  json.RawMessage `json:"lng"`
		Confirmed            json.RawMessage `json:"confirmed"`
		GuessCount           json.RawMessage `json:"guess_count"`
		DiscoveryMethod      *string         `json:"discovery_method"`
		DiscoveredBy         *string         `json:"discovered_by"`
		DiscoveredByUsername *string         `json:"discovered_by_username"`
		DiscoveredAt         *time.Time      `json:"discovered_at"`
		Metadata             map[string]any  `json:"metadata"`
		Revision             json.RawMessage `json:"revision"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode location row: %w", err)
	}

	var out LocationRow
	var err error
	if out.RFIDNumber, err = decodeInt(raw.RFIDNumber); err != nil {
		return fmt.Errorf("decode rfid_number: %w", err)
	}
	if out.Lat, err = decodeFloat(raw.Lat); err != nil {
		return fmt.Errorf("decode lat: %w", err)
	}
	if out.Lng, err = decodeFloat(raw.Lng); err != nil {
		return fmt.Errorf("decode lng: %w", err)
	}
	if out.GuessCount, err = decodeInt(raw.GuessCount); err != nil {
		return fmt.Errorf("decode guess_count: %w", err)
	}
	revision, err := decodeFloat(raw.Revision)
	if err != nil {
		return fmt.Errorf("decode revision: %w", err)
	}
	out.Revision = int64(revision)
	out.Confirmed = decodeTruthy(raw.Confirmed)
	if raw.DiscoveryMethod != nil {
		out.DiscoveryMethod = DiscoveryMethod(*raw.DiscoveryMethod)
		if out.DiscoveryMethod != "" && !out.DiscoveryMethod.Valid() {
			return fmt.Errorf("unknown discovery_method %q", *raw.DiscoveryMethod)
		}
	}
	if raw.DiscoveredBy != nil {
		out.DiscoveredBy = *raw.DiscoveredBy
	}
	if raw.DiscoveredByUsername != nil {
		out.DiscoveredByUsername = *raw.DiscoveredByUsername
	}
	if raw.DiscoveredAt != nil {
		out.DiscoveredAt = *raw.DiscoveredAt
	}
	out.Metadata = raw.Metadata

	*r = out
	return nil
}
