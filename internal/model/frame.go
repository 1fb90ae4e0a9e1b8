package model

import "time"

// Frame is a single decoded video frame. Data holds packed rows of
// Width*Channels bytes (BGR for colour sources).
type Frame struct {
	Seq       uint64
	Timestamp time.Time
	Width     int
	Height    int
	Channels  int
	Data      []byte
}

// Size returns the number of bytes held by the frame.
func (f Frame) Size() int {
	return len(f.Data)
}

// Clone returns a copy of the frame that shares no memory with f.
func (f Frame) Clone() Frame {
	data := make([]byte, len(f.Data))
	copy(data, f.Data)
	f.Data = data
	return f
}
