package model

import "time"

// ClipTask is a point-in-time copy of the ring buffer waiting to be written.
// It is owned by the exporter once dispatched.
type ClipTask struct {
	ID        string
	Camera    string
	Filename  string
	CreatedAt time.Time
	FPS       float64
	Frames    []Frame
}

// FirstSeq returns the sequence number of the oldest frame in the task.
func (t *ClipTask) FirstSeq() uint64 {
	if len(t.Frames) == 0 {
		return 0
	}
	return t.Frames[0].Seq
}

// LastSeq returns the sequence number of the newest frame in the task.
func (t *ClipTask) LastSeq() uint64 {
	if len(t.Frames) == 0 {
		return 0
	}
	return t.Frames[len(t.Frames)-1].Seq
}

// Clip represents an exported clip record.
type Clip struct {
	ID         int64     `json:"id"`
	TaskID     string    `json:"task_id"`
	Filename   string    `json:"filename"`
	Camera     string    `json:"camera"`
	Timestamp  time.Time `json:"timestamp"`
	FilePath   string    `json:"filepath"`
	FileSize   int64     `json:"filesize"`
	FrameCount int       `json:"frame_count"`
	FirstSeq   uint64    `json:"first_seq"`
	LastSeq    uint64    `json:"last_seq"`
	Duration   float64   `json:"duration_seconds"`
}
