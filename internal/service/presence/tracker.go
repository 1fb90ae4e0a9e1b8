// Package presence turns per-frame person detections into clip triggers.
package presence

import (
	"time"

	"recorder/internal/model"
)

// Suppression reasons reported on a Trigger that must not be exported.
const (
	ReasonBufferNotFull = "buffer not full"
	ReasonCooldown      = "cooldown"
)

// Observation is the outcome of detection for one frame.
type Observation struct {
	Seq        uint64
	At         time.Time
	Present    bool
	BufferFull bool
}

// Trigger is emitted on a PERSON_PRESENT -> NO_PERSON transition.
// A suppressed trigger moved the state but must not be exported.
type Trigger struct {
	Seq          uint64
	At           time.Time
	PresentSince time.Time
	Suppressed   string
}

// Exported reports whether the trigger should produce a clip.
func (t *Trigger) Exported() bool {
	return t.Suppressed == ""
}

// Tracker applies observations to a PresenceState. It keeps no state of its
// own, so one Tracker can serve any number of cameras.
type Tracker struct {
	// Cooldown is the minimum time between two exported triggers.
	Cooldown time.Duration
}

// NewTracker creates a Tracker with the given cooldown guard.
func NewTracker(cooldown time.Duration) *Tracker {
	return &Tracker{Cooldown: cooldown}
}

// Apply evaluates one observation and returns the next state. Only the
// PERSON_PRESENT -> NO_PERSON edge returns a Trigger.
func (t *Tracker) Apply(state model.PresenceState, obs Observation) (model.PresenceState, *Trigger) {
	switch {
	case obs.Present && !state.Present:
		state.Present = true
		state.Since = obs.At
		return state, nil

	case !obs.Present && state.Present:
		trigger := &Trigger{
			Seq:          obs.Seq,
			At:           obs.At,
			PresentSince: state.Since,
		}
		state.Present = false
		state.Since = obs.At

		switch {
		case !obs.BufferFull:
			trigger.Suppressed = ReasonBufferNotFull
		case t.Cooldown > 0 && !state.LastTrigger.IsZero() && obs.At.Sub(state.LastTrigger) < t.Cooldown:
			trigger.Suppressed = ReasonCooldown
		default:
			state.LastTrigger = obs.At
		}
		return state, trigger
	}

	return state, nil
}
