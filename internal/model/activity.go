package model

import (
	"time"

	"github.com/google/uuid"
)

// ActivityType names the action recorded in the activity log.
type ActivityType string

const (
	ActivityRFIDDiscovered ActivityType = "rfid_discovered"
)

// ActivityEntry is one append-only row of the activity_log table.
type ActivityEntry struct {
	ID          uuid.UUID      `json:"id"`
	Type        ActivityType   `json:"activity_type"`
	Username    string         `json:"kick_username"`
	DisplayName string         `json:"display_name"`
	RFIDNumber  *int           `json:"rfid_number"`
	Details     map[string]any `json:"details"`
	CreatedAt   time.Time      `json:"created_at"`
}
