package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Rows pushed by the change feed and tuples posted by dashboard clients are loosely
// typed: numeric columns may arrive as JSON numbers or as numeric strings.

func decodeFloat(raw json.RawMessage) (float64, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return 0, nil
	}
	var v float64
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0, err
		}
		s = strings.TrimSpace(s)
		if s == "" {
			return 0, nil
		}
		parsed, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, fmt.Errorf("parse number %q: %w", s, err)
		}
		v = parsed
	} else if err := json.Unmarshal(raw, &v); err != nil {
		return 0, err
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("number %v is not finite", v)
	}
	return v, nil
}

// decodeInt truncates toward zero and rejects values outside the INTEGER columns.
func decodeInt(raw json.RawMessage) (int, error) {
	v, err := decodeFloat(raw)
	if err != nil {
		return 0, err
	}
	v = math.Trunc(v)
	if v < math.MinInt32 || v > math.MaxInt32 {
		return 0, fmt.Errorf("number %v out of range", v)
	}
	return int(v), nil
}

func decodeString(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", nil
	}
	if raw[0] == '"' {
		var s string
		err := json.Unmarshal(raw, &s)
		return s, err
	}
	// Usernames that look numeric are sometimes sent unquoted.
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return "", fmt.Errorf("expected string or number, got %s", raw)
	}
	return n.String(), nil
}

// decodeTruthy follows loose truthiness: false, 0, "", and null are false.
func decodeTruthy(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return false
	}
	switch string(raw) {
	case "null", "false", `""`:
		return false
	case "true":
		return true
	}
	if raw[0] == '"' || raw[0] == '[' || raw[0] == '{' {
		return true
	}
	var v float64
	if err := json.Unmarshal(raw, &v); err != nil {
		return false
	}
	return v != 0 && !math.IsNaN(v)
}
