package huntsync

import "kickhunt/huntsync/internal/model"

// StatusKind is the severity of a user-facing status notification.
type StatusKind string

const (
	StatusInfo    StatusKind = "info"
	StatusSuccess StatusKind = "success"
	StatusWarning StatusKind = "warning"
	StatusError   StatusKind = "error"
)

// Display renders tag locations and status notices to dashboard users.
type Display interface {
	// HasMarkers reports whether any tag markers are currently rendered.
	HasMarkers() bool
	// Redisplay renders the full location set, replacing what was shown.
	Redisplay(locations []model.Location)
	Status(msg string, kind StatusKind)
}

// MultiDisplay fans every call out to each display in order.
type MultiDisplay []Display

func (m MultiDisplay) HasMarkers() bool {
	for _, d := range m {
		if d.HasMarkers() {
			return true
		}
	}
	return false
}

func (m MultiDisplay) Redisplay(locations []model.Location) {
	for _, d := range m {
		d.Redisplay(locations)
	}
}

func (m MultiDisplay) Status(msg string, kind StatusKind) {
	for _, d := range m {
		d.Status(msg, kind)
	}
}

type nopDisplay struct{}

func (nopDisplay) HasMarkers() bool { return false }

func (nopDisplay) Redisplay([]model.Location) {}

func (nopDisplay) Status(string, StatusKind) {}
