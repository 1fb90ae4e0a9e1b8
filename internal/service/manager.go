// Package service runs the capture loop that ties the frame source, ring
// buffer, detector, presence tracker and clip exporter together.
package service

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"recorder/internal/config"
	"recorder/internal/logger"
	"recorder/internal/model"
	"recorder/internal/service/presence"
	"recorder/internal/service/storage"
)

// Source delivers frames in capture order. io.EOF ends the stream normally.
type Source interface {
	Next(ctx context.Context) (model.Frame, error)
}

// Detector finds objects in a single frame.
type Detector interface {
	Detect(frame model.Frame) ([]model.Detection, error)
}

// ClipExporter accepts clip tasks without blocking the caller.
type ClipExporter interface {
	NewTask(frames []model.Frame, fps float64, createdAt time.Time) *model.ClipTask
	Dispatch(task *model.ClipTask) error
}

// EventRecorder persists presence transitions.
type EventRecorder interface {
	Insert(event *model.PresenceEvent) (int64, error)
}

// LiveView receives every evaluated frame. Publish must not block.
type LiveView interface {
	Publish(frame model.Frame, detections []model.Detection, present bool)
}

// Options configures a Manager.
type Options struct {
	Camera          string
	FPS             float64
	PersonLabel     string
	Cooldown        time.Duration
	DetectQueueSize int
	DetectPolicy    string // config.DetectPolicyBlock or config.DetectPolicyDrop
	// Events, when set, receives one record per transition to NO_PERSON.
	Events EventRecorder
}

// Stats holds capture loop counters.
type Stats struct {
	Frames         uint64
	BufferRejected uint64
	Skipped        uint64 // frames not evaluated under the drop policy
	Evaluated      uint64
	DetectorErrors uint64
	Triggers       uint64
	Suppressed     uint64
	DispatchFailed uint64
}

// Manager reads frames on one goroutine and evaluates them on another, in
// capture order. Neither goroutine ever waits on a clip export.
type Manager struct {
	source   Source
	detector Detector
	buffer   *storage.RingBuffer
	tracker  *presence.Tracker
	exporter ClipExporter
	live     LiveView
	events   EventRecorder
	logger   *logger.Logger

	camera      string
	fps         float64
	personLabel string
	dropFrames  bool
	queue       chan model.Frame

	mu    sync.Mutex
	state model.PresenceState

	frames         atomic.Uint64
	bufferRejected atomic.Uint64
	skipped        atomic.Uint64
	evaluated      atomic.Uint64
	detectorErrors atomic.Uint64
	triggers       atomic.Uint64
	suppressed     atomic.Uint64
	dispatchFailed atomic.Uint64
}

// NewManager creates a Manager. live may be nil.
func NewManager(source Source, detector Detector, buffer *storage.RingBuffer, exporter ClipExporter, live LiveView, opts Options, logger *logger.Logger) *Manager {
	if opts.DetectQueueSize < 1 {
		opts.DetectQueueSize = 1
	}
	if opts.PersonLabel == "" {
		opts.PersonLabel = "person"
	}

	return &Manager{
		source:      source,
		detector:    detector,
		buffer:      buffer,
		tracker:     presence.NewTracker(opts.Cooldown),
		exporter:    exporter,
		live:        live,
		events:      opts.Events,
		logger:      logger,
		camera:      opts.Camera,
		fps:         opts.FPS,
		personLabel: opts.PersonLabel,
		dropFrames:  opts.DetectPolicy == config.DetectPolicyDrop,
		queue:       make(chan model.Frame, opts.DetectQueueSize),
	}
}

// DetectLag is how far behind the newest buffered frame the detector falls
// at the nominal rate under the block policy: a full queue, the frame being
// evaluated and the frame waiting to be queued. A buffer holding pending
// frames keeps their windows regardless; the lag sizes its slots.
func DetectLag(fps float64, queueSize int) time.Duration {
	if fps <= 0 {
		return time.Duration(queueSize+2) * storage.DefaultFrameInterval
	}
	return time.Duration(float64(queueSize+2) / fps * float64(time.Second))
}

// Run captures until the source ends or ctx is cancelled, then waits for
// queued frames to be evaluated. Only a *FatalSourceError is returned.
func (m *Manager) Run(ctx context.Context) error {
	m.logger.Info("🎬 Capture loop started (window %v, %.1f FPS)", m.buffer.Window(), m.fps)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for frame := range m.queue {
			m.evaluate(frame)
			m.buffer.Release(frame.Seq)
		}
	}()

	err := m.read(ctx)
	close(m.queue)
	wg.Wait()

	stats := m.Stats()
	m.logger.Info("🛑 Capture loop stopped: %d frames, %d evaluated, %d clips triggered, %d suppressed",
		stats.Frames, stats.Evaluated, stats.Triggers, stats.Suppressed)
	return err
}

// State returns the current presence state.
func (m *Manager) State() model.PresenceState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Stats returns a snapshot of the loop counters.
func (m *Manager) Stats() Stats {
	return Stats{
		Frames:         m.frames.Load(),
		BufferRejected: m.bufferRejected.Load(),
		Skipped:        m.skipped.Load(),
		Evaluated:      m.evaluated.Load(),
		DetectorErrors: m.detectorErrors.Load(),
		Triggers:       m.triggers.Load(),
		Suppressed:     m.suppressed.Load(),
		DispatchFailed: m.dispatchFailed.Load(),
	}
}

// read moves frames from the source into the ring buffer and detect queue.
func (m *Manager) read(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}

		frame, err := m.source.Next(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				m.logger.Info("Frame source reached end of stream")
				return nil
			}
			if ctx.Err() != nil {
				return nil
			}
			fatal := &FatalSourceError{Err: err}
			m.logger.Error("%v", fatal)
			return fatal
		}
		m.frames.Add(1)

		if !m.store(frame) {
			continue
		}
		m.enqueue(ctx, frame)
	}
}

// store pushes a frame into the ring buffer. It reports whether the frame
// should still be evaluated.
func (m *Manager) store(frame model.Frame) bool {
	res, err := m.buffer.Push(frame)
	if err != nil {
		m.bufferRejected.Add(1)
		m.logger.Warning("Frame %d not buffered: %v", frame.Seq, err)
		// A frame over the byte budget is still a valid observation.
		return errors.Is(err, storage.ErrBufferResource)
	}

	if res.Missing > 0 {
		m.logger.Warning("Frame gap: %d frame(s) missing before frame %d", res.Missing, frame.Seq)
	}
	if res.Overwritten {
		m.logger.Warning("Ring buffer full, oldest frame overwritten at frame %d", frame.Seq)
	}
	return true
}

func (m *Manager) enqueue(ctx context.Context, frame model.Frame) {
	if m.dropFrames {
		select {
		case m.queue <- frame:
		default:
			m.skipped.Add(1)
			m.logger.Warning("⚠️  Detection queue full - frame %d buffered but not evaluated", frame.Seq)
		}
		return
	}

	select {
	case m.queue <- frame:
	case <-ctx.Done():
	}
}

// evaluate runs detection for one frame and applies the result to the
// presence state. Frames arrive here in capture order.
func (m *Manager) evaluate(frame model.Frame) {
	m.evaluated.Add(1)

	detections, err := m.detector.Detect(frame)
	if err != nil {
		m.detectorErrors.Add(1)
		m.logger.Warning("%v", &DetectorError{Seq: frame.Seq, Err: err})
		detections = nil
	}

	result := model.DetectionResult{Seq: frame.Seq, Detections: detections}
	present := result.Has(m.personLabel)

	if m.live != nil {
		m.live.Publish(frame, detections, present)
	}

	obs := presence.Observation{
		Seq:        frame.Seq,
		At:         frame.Timestamp,
		Present:    present,
		BufferFull: m.buffer.IsFullAt(frame.Seq),
	}

	m.mu.Lock()
	prev := m.state
	next, trigger := m.tracker.Apply(prev, obs)
	m.state = next
	m.mu.Unlock()

	if next.Present != prev.Present {
		m.logger.Info("Presence changed to %s at frame %d", next, frame.Seq)
	}
	if trigger == nil {
		return
	}

	event := model.PresenceEvent{
		Camera:       m.camera,
		Seq:          trigger.Seq,
		At:           trigger.At,
		PresentSince: trigger.PresentSince,
		Outcome:      trigger.Suppressed,
	}
	if trigger.Exported() {
		event.Outcome, event.Filename = m.export(trigger)
	} else {
		m.suppressed.Add(1)
		m.logger.Info("Person left at frame %d, no clip: %s", trigger.Seq, trigger.Suppressed)
	}
	m.record(event)
}

// export snapshots the window that ended with the trigger frame and hands it
// to the exporter. It returns the event outcome and clip filename.
func (m *Manager) export(trigger *presence.Trigger) (string, string) {
	m.triggers.Add(1)

	frames, full := m.buffer.SnapshotFullWindow(trigger.Seq)
	if len(frames) == 0 || !full {
		m.dispatchFailed.Add(1)
		m.logger.Warning("Person left at frame %d but the window is no longer buffered", trigger.Seq)
		return "window evicted", ""
	}

	task := m.exporter.NewTask(frames, m.fps, trigger.At)
	if err := m.exporter.Dispatch(task); err != nil {
		m.dispatchFailed.Add(1)
		m.logger.Warning("Clip export dropped: %v", err)
		return "export dropped", task.Filename
	}

	m.logger.Info("📹 Person left at frame %d, exporting frames %d-%d to %s",
		trigger.Seq, task.FirstSeq(), task.LastSeq(), task.Filename)
	return model.OutcomeExported, task.Filename
}

func (m *Manager) record(event model.PresenceEvent) {
	if m.events == nil {
		return
	}
	if _, err := m.events.Insert(&event); err != nil {
		m.logger.Warning("Error saving presence event for frame %d: %v", event.Seq, err)
	}
}
