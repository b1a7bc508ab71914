package session

import (
	"time"
)

// Session is the logical on/off state of telemetry sharing, independent of
// transport connectivity. It is persisted on every transition so a process
// restart can decide whether to resume.
type Session struct {
	Active    bool       `json:"location_sharing_active"`
	StartedAt *time.Time `json:"location_sharing_started_at,omitempty"`
}

// Store persists the session as simple key/value state.
type Store interface {
	Save(s Session) error
	Load() (Session, error)
}

const DefaultStaleness = 10 * time.Minute

// Resume loads the persisted session and applies the staleness policy: a
// session whose start is older than the window is discarded rather than
// resumed, the backend re-issues start_sharing if it still wants telemetry.
func Resume(st Store, staleness time.Duration, now time.Time) (Session, error) {
	s, err := st.Load()
	if err != nil {
		return Session{}, err
	}
	if !s.Active || s.StartedAt == nil {
		return Session{}, nil
	}
	if now.Sub(*s.StartedAt) > staleness {
		stale := Session{}
		// persist the discard so the next restart agrees
		if err := st.Save(stale); err != nil {
			return Session{}, err
		}
		return stale, nil
	}
	return s, nil
}
