package storage

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"recorder/internal/model"
)

// DefaultFrameInterval sizes the slot arena when the source rate is unknown.
const DefaultFrameInterval = time.Second / 30

var (
	// ErrBufferResource is returned when a frame does not fit in the byte budget.
	ErrBufferResource = errors.New("ring buffer: resource exhausted")
	// ErrOutOfOrder is returned for frames older than the newest buffered frame.
	ErrOutOfOrder = errors.New("ring buffer: frame out of capture order")
	// ErrEmptyFrame is returned for frames without pixel data.
	ErrEmptyFrame = errors.New("ring buffer: empty frame")
)

// PushResult describes what a successful push did to the buffer.
type PushResult struct {
	Evicted     int    // frames dropped because they left the retention period
	Overwritten bool   // oldest frame overwritten because every slot was in use
	Missing     uint64 // sequence numbers skipped between the previous frame and this one
}

// Stats holds lifetime counters of the buffer.
type Stats struct {
	Pushed        uint64
	Evicted       uint64
	Overwritten   uint64
	Rejected      uint64
	Gaps          uint64
	MissingFrames uint64
}

// Options configures a RingBuffer.
type Options struct {
	// Window is the duration of frames exposed by Snapshot and IsFull.
	Window time.Duration
	// FrameInterval is the nominal source frame interval, 0 if unknown.
	FrameInterval time.Duration
	// Lag keeps frames this much older than the window so a late consumer
	// can still snapshot the window that ended with an earlier frame.
	Lag time.Duration
	// MaxBytes caps retained pixel data, 0 meaning unlimited.
	MaxBytes int64
	// HoldPending keeps the window of every frame not yet passed to Release,
	// however far the newest frame has moved ahead of it.
	HoldPending bool
}

type slot struct {
	frame model.Frame
	buf   []byte
}

// RingBuffer keeps the frames captured within the last window of time.
// Slots own their pixel storage and reuse it when overwritten.
type RingBuffer struct {
	window   time.Duration
	interval time.Duration
	lag      time.Duration
	maxBytes int64
	hold     bool

	mu      sync.Mutex
	slots   []slot
	head    int
	count   int
	bytes   int64
	lastSeq uint64
	hasLast bool
	// released is the newest frame handed to Release.
	released uint64
	// evictedAt is the timestamp of the newest evicted frame.
	evictedAt  time.Time
	hasEvicted bool
	stats      Stats
}

// NewRingBuffer creates a buffer retaining the frames newer than
// Window+Lag relative to the newest frame.
func NewRingBuffer(opts Options) (*RingBuffer, error) {
	if opts.Window <= 0 {
		return nil, fmt.Errorf("ring buffer window must be positive, got %v", opts.Window)
	}
	if opts.FrameInterval < 0 || opts.Lag < 0 || opts.MaxBytes < 0 {
		return nil, fmt.Errorf("ring buffer options must not be negative: %+v", opts)
	}

	sizing := opts.FrameInterval
	if sizing == 0 {
		sizing = DefaultFrameInterval
	}
	retention := opts.Window + opts.Lag
	perRetention := int((retention + sizing - 1) / sizing)

	return &RingBuffer{
		window:   opts.Window,
		interval: opts.FrameInterval,
		lag:      opts.Lag,
		maxBytes: opts.MaxBytes,
		hold:     opts.HoldPending,
		slots:    make([]slot, 2*perRetention+1),
	}, nil
}

// Push copies frame into the buffer, evicting frames that fall out of the
// retention period. A rejected frame leaves the buffer unchanged.
func (b *RingBuffer) Push(frame model.Frame) (PushResult, error) {
	var res PushResult

	if len(frame.Data) == 0 {
		return res, ErrEmptyFrame
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.hasLast {
		if frame.Seq <= b.lastSeq || (b.count > 0 && frame.Timestamp.Before(b.at(b.count-1).Timestamp)) {
			b.stats.Rejected++
			return res, fmt.Errorf("%w: seq %d after %d", ErrOutOfOrder, frame.Seq, b.lastSeq)
		}
	}

	cutoff := frame.Timestamp.Add(-(b.window + b.lag))
	if hold, ok := b.holdCutoff(); ok && hold.Before(cutoff) {
		cutoff = hold
	}
	expired, freed := 0, int64(0)
	for expired < b.count {
		f := b.at(expired)
		if f.Timestamp.After(cutoff) {
			break
		}
		freed += int64(len(f.Data))
		expired++
	}

	size := int64(len(frame.Data))
	if b.maxBytes > 0 && b.bytes-freed+size > b.maxBytes {
		b.stats.Rejected++
		return res, fmt.Errorf("%w: frame %d needs %d bytes, budget %d", ErrBufferResource, frame.Seq, size, b.maxBytes)
	}

	if b.hasLast && frame.Seq > b.lastSeq+1 {
		res.Missing = frame.Seq - b.lastSeq - 1
		b.stats.Gaps++
		b.stats.MissingFrames += res.Missing
	}

	for i := 0; i < expired; i++ {
		b.evictOldest()
	}
	res.Evicted = expired
	b.stats.Evicted += uint64(expired)

	if b.count == len(b.slots) {
		b.evictOldest()
		res.Overwritten = true
		b.stats.Overwritten++
	}

	s := &b.slots[(b.head+b.count)%len(b.slots)]
	if int64(cap(s.buf)) < size {
		s.buf = make([]byte, size)
	}
	s.buf = s.buf[:size]
	copy(s.buf, frame.Data)
	s.frame = frame
	s.frame.Data = s.buf

	b.count++
	b.bytes += size
	b.lastSeq = frame.Seq
	b.hasLast = true
	b.stats.Pushed++

	return res, nil
}

// Snapshot returns an ordered, independent copy of the frames inside the
// window of the newest frame.
func (b *RingBuffer) Snapshot() []model.Frame {
	b.mu.Lock()
	defer b.mu.Unlock()

	from, to, ok := b.windowThrough(b.lastSeq)
	if !ok {
		return nil
	}
	return b.copyRange(from, to)
}

// SnapshotFullWindow returns an independent copy of the window that ended
// with frame seq (retained frames with Seq <= seq inside the window of that
// frame) together with whether it was full, both read under one lock.
func (b *RingBuffer) SnapshotFullWindow(seq uint64) ([]model.Frame, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	from, to, ok := b.windowThrough(seq)
	if !ok {
		return nil, false
	}
	return b.copyRange(from, to), b.covers(from, to)
}

// Release marks every frame up to seq as consumed. Only buffers created
// with HoldPending use it.
func (b *RingBuffer) Release(seq uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if seq > b.released {
		b.released = seq
	}
}

// IsFull reports whether the frames in the current window span all of it.
func (b *RingBuffer) IsFull() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	from, to, ok := b.windowThrough(b.lastSeq)
	if !ok {
		return false
	}
	return b.covers(from, to)
}

// IsFullAt reports whether the window that ended with frame seq was full.
func (b *RingBuffer) IsFullAt(seq uint64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	from, to, ok := b.windowThrough(seq)
	if !ok {
		return false
	}
	return b.covers(from, to)
}

// Len returns the number of frames in the current window.
func (b *RingBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	from, to, _ := b.windowThrough(b.lastSeq)
	return to - from
}

// Retained returns the number of frames held, including the lag allowance.
func (b *RingBuffer) Retained() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}

// Bytes returns the pixel bytes held by retained frames.
func (b *RingBuffer) Bytes() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.bytes
}

// Capacity returns the number of slots.
func (b *RingBuffer) Capacity() int {
	return len(b.slots)
}

// Window returns the configured window duration.
func (b *RingBuffer) Window() time.Duration {
	return b.window
}

// Stats returns a copy of the lifetime counters.
func (b *RingBuffer) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stats
}

// at returns the i-th retained frame, oldest first. Caller holds mu.
func (b *RingBuffer) at(i int) model.Frame {
	return b.slots[(b.head+i)%len(b.slots)].frame
}

// evictOldest drops the oldest frame but keeps its slot storage for reuse.
func (b *RingBuffer) evictOldest() {
	s := &b.slots[b.head]
	b.evictedAt = s.frame.Timestamp
	b.hasEvicted = true
	b.bytes -= int64(len(s.frame.Data))
	s.frame = model.Frame{}
	b.head = (b.head + 1) % len(b.slots)
	b.count--
}

// windowThrough finds the retained range [from, to) forming the window that
// ends with the newest frame whose Seq <= seq. Caller holds mu.
func (b *RingBuffer) windowThrough(seq uint64) (int, int, bool) {
	to := b.count
	for to > 0 && b.at(to-1).Seq > seq {
		to--
	}
	if to == 0 {
		return 0, 0, false
	}

	cutoff := b.at(to - 1).Timestamp.Add(-b.window)
	from := 0
	for from < to-1 && !b.at(from).Timestamp.After(cutoff) {
		from++
	}
	return from, to, true
}

// covers reports whether frames [from, to) cover the window: either they
// span it at the nominal rate, or the frame just before them is at or past
// the window start with no stall longer than the window in between.
// Caller holds mu.
func (b *RingBuffer) covers(from, to int) bool {
	first := b.at(from).Timestamp
	last := b.at(to - 1).Timestamp
	if last.Sub(first)+b.interval >= b.window {
		return true
	}

	var prev time.Time
	switch {
	case from > 0:
		prev = b.at(from - 1).Timestamp
	case b.hasEvicted:
		prev = b.evictedAt
	default:
		return false
	}
	return !prev.After(last.Add(-b.window)) && first.Sub(prev) < b.window
}

// holdCutoff returns the start of the window of the oldest unreleased frame.
// Caller holds mu.
func (b *RingBuffer) holdCutoff() (time.Time, bool) {
	if !b.hold {
		return time.Time{}, false
	}
	for i := 0; i < b.count; i++ {
		if f := b.at(i); f.Seq > b.released {
			return f.Timestamp.Add(-b.window), true
		}
	}
	return time.Time{}, false
}

// copyRange deep-copies frames [from, to). Caller holds mu.
func (b *RingBuffer) copyRange(from, to int) []model.Frame {
	frames := make([]model.Frame, 0, to-from)
	for i := from; i < to; i++ {
		frames = append(frames, b.at(i).Clone())
	}
	return frames
}
