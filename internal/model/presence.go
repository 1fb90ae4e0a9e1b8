package model

import "time"

// PresenceState is the person/no-person state owned by the capture loop.
// The zero value is NO_PERSON.
type PresenceState struct {
	Present     bool
	Since       time.Time
	LastTrigger time.Time
}

// String returns the state name.
func (s PresenceState) String() string {
	if s.Present {
		return "PERSON_PRESENT"
	}
	return "NO_PERSON"
}
