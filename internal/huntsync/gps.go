package huntsync

import "kickhunt/huntsync/internal/model"

// GPSClassifier derives one GPS state for a whole batch of contestants.
type GPSClassifier func([]model.Contestant) model.GPSState

// ClassifyGPS reports live when no contestant is on cached coordinates, cached when
// all are, and mixed otherwise. An empty batch is unknown.
func ClassifyGPS(contestants []model.Contestant) model.GPSState {
	if len(contestants) == 0 {
		return model.GPSUnknown
	}

	cached := 0
	for _, c := range contestants {
		if c.Cached {
			cached++
		}
	}

	switch cached {
	case 0:
		return model.GPSLive
	case len(contestants):
		return model.GPSCached
	default:
		return model.GPSMixed
	}
}
