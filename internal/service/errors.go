package service

import "fmt"

// FatalSourceError ends a run: the frame source can no longer deliver frames.
type FatalSourceError struct {
	Err error
}

func (e *FatalSourceError) Error() string {
	return fmt.Sprintf("frame source failed: %v", e.Err)
}

func (e *FatalSourceError) Unwrap() error {
	return e.Err
}

// DetectorError is logged when detection fails for one frame. The frame is
// then treated as showing no person.
type DetectorError struct {
	Seq uint64
	Err error
}

func (e *DetectorError) Error() string {
	return fmt.Sprintf("detection failed for frame %d: %v", e.Seq, e.Err)
}

func (e *DetectorError) Unwrap() error {
	return e.Err
}
