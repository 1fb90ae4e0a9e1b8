package model

import "time"

// PresenceEvent records one PERSON_PRESENT -> NO_PERSON transition and what
// became of it. Filename is set when a clip was dispatched; Outcome holds
// "exported" or the reason no clip was made.
type PresenceEvent struct {
	ID           int64     `json:"id"`
	Camera       string    `json:"camera"`
	Seq          uint64    `json:"seq"`
	At           time.Time `json:"at"`
	PresentSince time.Time `json:"present_since"`
	Outcome      string    `json:"outcome"`
	Filename     string    `json:"filename,omitempty"`
}

// OutcomeExported marks an event that produced a clip task.
const OutcomeExported = "exported"
