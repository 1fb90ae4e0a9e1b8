package storage

import (
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"

	"recorder/internal/model"
)

var base = time.Date(2025, 6, 15, 14, 30, 0, 0, time.UTC)

// frameAt builds a 4-byte frame whose pixels encode its sequence number.
func frameAt(seq uint64, ts time.Time) model.Frame {
	return model.Frame{
		Seq:       seq,
		Timestamp: ts,
		Width:     2,
		Height:    2,
		Channels:  1,
		Data:      []byte{byte(seq), byte(seq >> 8), byte(seq >> 16), 0xAB},
	}
}

// tenFPS returns frame seq of a 10 fps stream starting at base with seq 1.
func tenFPS(seq uint64) model.Frame {
	return frameAt(seq, base.Add(time.Duration(seq-1)*100*time.Millisecond))
}

func newTestBuffer(t *testing.T, opts Options) *RingBuffer {
	t.Helper()
	b, err := NewRingBuffer(opts)
	if err != nil {
		t.Fatalf("NewRingBuffer failed: %v", err)
	}
	return b
}

func mustPush(t *testing.T, b *RingBuffer, f model.Frame) PushResult {
	t.Helper()
	res, err := b.Push(f)
	if err != nil {
		t.Fatalf("Push(%d) failed: %v", f.Seq, err)
	}
	return res
}

func seqs(frames []model.Frame) []uint64 {
	out := make([]uint64, len(frames))
	for i, f := range frames {
		out[i] = f.Seq
	}
	return out
}

func expectSeqRange(t *testing.T, frames []model.Frame, first, last uint64) {
	t.Helper()
	want := int(last - first + 1)
	if len(frames) != want {
		t.Fatalf("got %d frames %v, expected %d..%d", len(frames), seqs(frames), first, last)
	}
	for i, f := range frames {
		if f.Seq != first+uint64(i) {
			t.Fatalf("frame %d has seq %d, expected %d (all: %v)", i, f.Seq, first+uint64(i), seqs(frames))
		}
	}
}

func TestNewRingBuffer_InvalidOptions(t *testing.T) {
	tests := []struct {
		name string
		opts Options
	}{
		{"zero window", Options{}},
		{"negative interval", Options{Window: time.Second, FrameInterval: -time.Millisecond}},
		{"negative lag", Options{Window: time.Second, Lag: -time.Second}},
		{"negative budget", Options{Window: time.Second, MaxBytes: -1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewRingBuffer(tt.opts); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestRingBuffer_KeepsLastWindow(t *testing.T) {
	b := newTestBuffer(t, Options{Window: 2 * time.Second, FrameInterval: 100 * time.Millisecond})

	for seq := uint64(1); seq <= 50; seq++ {
		mustPush(t, b, tenFPS(seq))
	}

	if b.Len() != 20 {
		t.Errorf("Len = %d, expected 20", b.Len())
	}
	expectSeqRange(t, b.Snapshot(), 31, 50)

	stats := b.Stats()
	if stats.Pushed != 50 || stats.Evicted != 30 {
		t.Errorf("stats = %+v, expected 50 pushed and 30 evicted", stats)
	}
}

func TestRingBuffer_RetentionProperty(t *testing.T) {
	window := 2 * time.Second
	b := newTestBuffer(t, Options{Window: window})
	rng := rand.New(rand.NewSource(42))

	var pushed []model.Frame
	ts := base
	for seq := uint64(1); seq <= 500; seq++ {
		ts = ts.Add(time.Duration(40+rng.Intn(360)) * time.Millisecond)
		f := frameAt(seq, ts)
		mustPush(t, b, f)
		pushed = append(pushed, f)

		cutoff := ts.Add(-window)
		var expected []uint64
		for _, p := range pushed {
			if p.Timestamp.After(cutoff) {
				expected = append(expected, p.Seq)
			}
		}

		got := seqs(b.Snapshot())
		if len(got) != len(expected) {
			t.Fatalf("after seq %d: got %v, expected %v", seq, got, expected)
		}
		for i := range got {
			if got[i] != expected[i] {
				t.Fatalf("after seq %d: got %v, expected %v", seq, got, expected)
			}
		}
	}

	if b.Stats().Overwritten != 0 {
		t.Errorf("no slot should be overwritten, stats %+v", b.Stats())
	}
}

func TestRingBuffer_IsFull(t *testing.T) {
	b := newTestBuffer(t, Options{Window: 2 * time.Second, FrameInterval: 100 * time.Millisecond})

	if b.IsFull() {
		t.Error("empty buffer reported full")
	}

	for seq := uint64(1); seq <= 19; seq++ {
		mustPush(t, b, tenFPS(seq))
		if b.IsFull() {
			t.Fatalf("buffer reported full after %d frames of a 20-frame window", seq)
		}
	}

	mustPush(t, b, tenFPS(20))
	if !b.IsFull() {
		t.Error("buffer should be full after 20 frames")
	}

	mustPush(t, b, tenFPS(21))
	if !b.IsFull() {
		t.Error("buffer should stay full once the window is covered")
	}
}

func TestRingBuffer_IsFullAfterStall(t *testing.T) {
	b := newTestBuffer(t, Options{Window: 2 * time.Second, FrameInterval: 100 * time.Millisecond})

	for seq := uint64(1); seq <= 25; seq++ {
		mustPush(t, b, tenFPS(seq))
	}
	// The source stalls for five seconds; everything before it leaves the window.
	mustPush(t, b, frameAt(26, tenFPS(25).Timestamp.Add(5*time.Second)))

	if b.Len() != 1 {
		t.Errorf("Len = %d, expected only the frame after the stall", b.Len())
	}
	if b.IsFull() {
		t.Error("a single frame after a stall must not count as a full window")
	}
}

func TestRingBuffer_ReportsSequenceGaps(t *testing.T) {
	b := newTestBuffer(t, Options{Window: 10 * time.Second, FrameInterval: 100 * time.Millisecond})

	mustPush(t, b, tenFPS(1))
	if res := mustPush(t, b, tenFPS(2)); res.Missing != 0 {
		t.Errorf("Missing = %d for consecutive frames", res.Missing)
	}

	res := mustPush(t, b, tenFPS(5))
	if res.Missing != 2 {
		t.Errorf("Missing = %d, expected 2", res.Missing)
	}

	stats := b.Stats()
	if stats.Gaps != 1 || stats.MissingFrames != 2 {
		t.Errorf("stats = %+v, expected one gap of two frames", stats)
	}
	if got := seqs(b.Snapshot()); len(got) != 3 {
		t.Errorf("frames around the gap must be kept, got %v", got)
	}
}

func TestRingBuffer_RejectsOutOfOrder(t *testing.T) {
	b := newTestBuffer(t, Options{Window: 10 * time.Second, FrameInterval: 100 * time.Millisecond})

	mustPush(t, b, tenFPS(1))
	mustPush(t, b, tenFPS(2))

	tests := []struct {
		name  string
		frame model.Frame
	}{
		{"repeated seq", tenFPS(2)},
		{"older seq", tenFPS(1)},
		{"older timestamp", frameAt(3, base.Add(-time.Second))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := b.Push(tt.frame)
			if !errors.Is(err, ErrOutOfOrder) {
				t.Errorf("expected ErrOutOfOrder, got %v", err)
			}
		})
	}

	expectSeqRange(t, b.Snapshot(), 1, 2)
}

func TestRingBuffer_RejectsEmptyFrame(t *testing.T) {
	b := newTestBuffer(t, Options{Window: time.Second})

	if _, err := b.Push(model.Frame{Seq: 1, Timestamp: base}); !errors.Is(err, ErrEmptyFrame) {
		t.Errorf("expected ErrEmptyFrame, got %v", err)
	}
}

func TestRingBuffer_ByteBudget(t *testing.T) {
	// Three 4-byte frames fit, the fourth does not.
	b := newTestBuffer(t, Options{Window: 2 * time.Second, FrameInterval: 100 * time.Millisecond, MaxBytes: 12})

	for seq := uint64(1); seq <= 3; seq++ {
		mustPush(t, b, tenFPS(seq))
	}

	_, err := b.Push(tenFPS(4))
	if !errors.Is(err, ErrBufferResource) {
		t.Fatalf("expected ErrBufferResource, got %v", err)
	}
	expectSeqRange(t, b.Snapshot(), 1, 3)
	if b.Bytes() != 12 {
		t.Errorf("Bytes = %d, expected 12", b.Bytes())
	}

	// Once the old frames leave the window there is room again; the rejected
	// frame shows up as a gap.
	late := frameAt(5, tenFPS(3).Timestamp.Add(2*time.Second))
	res := mustPush(t, b, late)
	if res.Missing != 1 {
		t.Errorf("Missing = %d, expected the rejected frame to be reported", res.Missing)
	}
	expectSeqRange(t, b.Snapshot(), 5, 5)
}

func TestRingBuffer_OverwritesWhenSlotsRunOut(t *testing.T) {
	// 1s at a nominal 100ms gives 21 slots; a burst at 10ms overflows them.
	b := newTestBuffer(t, Options{Window: time.Second, FrameInterval: 100 * time.Millisecond})
	if b.Capacity() != 21 {
		t.Fatalf("Capacity = %d, expected 21", b.Capacity())
	}

	var overwritten int
	for seq := uint64(1); seq <= 30; seq++ {
		res := mustPush(t, b, frameAt(seq, base.Add(time.Duration(seq)*10*time.Millisecond)))
		if res.Overwritten {
			overwritten++
		}
	}

	if overwritten != 9 {
		t.Errorf("overwritten %d frames, expected 9", overwritten)
	}
	expectSeqRange(t, b.Snapshot(), 10, 30)
}

func TestRingBuffer_SnapshotIndependence(t *testing.T) {
	b := newTestBuffer(t, Options{Window: time.Second, FrameInterval: 100 * time.Millisecond})

	input := tenFPS(1)
	mustPush(t, b, input)
	// The caller's buffer is not aliased by the ring.
	input.Data[0] = 0xFF

	for seq := uint64(2); seq <= 10; seq++ {
		mustPush(t, b, tenFPS(seq))
	}
	snap := b.Snapshot()
	if snap[0].Data[0] != 1 {
		t.Fatalf("ring aliased caller data: %v", snap[0].Data)
	}

	// Push enough frames to recycle every slot that backed the snapshot.
	for seq := uint64(11); seq <= 100; seq++ {
		mustPush(t, b, tenFPS(seq))
	}
	b.Snapshot()[0].Data[1] = 0xEE

	for i, f := range snap {
		want := tenFPS(uint64(i + 1))
		for j := range want.Data {
			if f.Data[j] != want.Data[j] {
				t.Fatalf("snapshot frame %d changed: %v, expected %v", f.Seq, f.Data, want.Data)
			}
		}
	}
}

func TestRingBuffer_SnapshotFullWindowWithLag(t *testing.T) {
	b := newTestBuffer(t, Options{
		Window:        2 * time.Second,
		FrameInterval: 100 * time.Millisecond,
		Lag:           time.Second,
	})

	for seq := uint64(1); seq <= 40; seq++ {
		mustPush(t, b, tenFPS(seq))
	}

	// The window visible to live callers stays 20 frames.
	expectSeqRange(t, b.Snapshot(), 21, 40)
	if b.Retained() != 30 {
		t.Errorf("Retained = %d, expected 30 with one second of lag", b.Retained())
	}

	// A consumer running behind can still get the full window of frame 35.
	frames, full := b.SnapshotFullWindow(35)
	expectSeqRange(t, frames, 16, 35)
	if !full || !b.IsFullAt(35) {
		t.Error("window ending at frame 35 should be full")
	}

	// Frame 25's window reaches past the lag allowance.
	frames, full = b.SnapshotFullWindow(25)
	expectSeqRange(t, frames, 11, 25)
	if full || b.IsFullAt(25) {
		t.Error("window ending at frame 25 lost its oldest frames and must not be full")
	}

	if got, _ := b.SnapshotFullWindow(5); got != nil {
		t.Errorf("expected nil for an evicted frame, got %v", seqs(got))
	}
}

func TestRingBuffer_HoldsWindowOfPendingFrames(t *testing.T) {
	b := newTestBuffer(t, Options{
		Window:        2 * time.Second,
		FrameInterval: 100 * time.Millisecond,
		HoldPending:   true,
	})

	for seq := uint64(1); seq <= 30; seq++ {
		mustPush(t, b, tenFPS(seq))
	}
	b.Release(24)

	// Frame 25 is still pending, so its window survives the newest frame
	// moving on.
	for seq := uint64(31); seq <= 40; seq++ {
		mustPush(t, b, tenFPS(seq))
	}
	frames, full := b.SnapshotFullWindow(25)
	expectSeqRange(t, frames, 6, 25)
	if !full {
		t.Error("held window of frame 25 should be full")
	}
	expectSeqRange(t, b.Snapshot(), 21, 40)

	b.Release(40)
	mustPush(t, b, tenFPS(41))
	if b.Retained() != 20 {
		t.Errorf("Retained = %d after release, expected 20", b.Retained())
	}
}

func TestRingBuffer_FullWhenSourceRunsBelowNominalRate(t *testing.T) {
	// Nominal 50 fps, but frames arrive every 60ms.
	b := newTestBuffer(t, Options{Window: 400 * time.Millisecond, FrameInterval: 20 * time.Millisecond})

	at := func(seq uint64) model.Frame {
		return frameAt(seq, base.Add(time.Duration(seq)*60*time.Millisecond))
	}
	for seq := uint64(1); seq <= 7; seq++ {
		mustPush(t, b, at(seq))
		if b.IsFull() {
			t.Fatalf("full after %d frames, before the window was covered", seq)
		}
	}
	// From frame 8 on, the frame before the window has been evicted and
	// history reaches back past the window start.
	for seq := uint64(8); seq <= 20; seq++ {
		mustPush(t, b, at(seq))
		if !b.IsFull() {
			t.Fatalf("not full after %d frames at 60ms", seq)
		}
	}
}

func TestRingBuffer_ConcurrentPushAndSnapshot(t *testing.T) {
	b := newTestBuffer(t, Options{Window: time.Second, FrameInterval: 10 * time.Millisecond})

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		for seq := uint64(1); seq <= 2000; seq++ {
			if _, err := b.Push(frameAt(seq, base.Add(time.Duration(seq)*10*time.Millisecond))); err != nil {
				t.Errorf("Push(%d) failed: %v", seq, err)
				return
			}
		}
	}()

	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			snap := b.Snapshot()
			for j := 1; j < len(snap); j++ {
				if snap[j].Seq != snap[j-1].Seq+1 {
					t.Errorf("snapshot out of order: %v", seqs(snap))
					return
				}
			}
			for _, f := range snap {
				if f.Data[0] != byte(f.Seq) {
					t.Errorf("frame %d carries pixels of another frame", f.Seq)
					return
				}
			}
		}
	}()

	wg.Wait()
}
