// Package export writes buffered frames to clip files off the capture path.
package export

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"recorder/internal/logger"
	"recorder/internal/model"
	"recorder/internal/repository"
)

// Encoder writes frames to a container file at a constant frame rate.
type Encoder interface {
	Encode(path string, frames []model.Frame, fps float64) error
}

// Uploader hands a finished clip to another system without blocking.
type Uploader interface {
	Submit(clip model.Clip)
}

// Result is reported once per dispatched task.
type Result struct {
	TaskID string
	Path   string
	Err    error
}

// Options configures an Exporter.
type Options struct {
	Directory string
	Extension string
	Camera    string
	Workers   int
	QueueSize int
	// OnResult, when set, is called from the worker after each task.
	OnResult func(Result)
}

// Stats holds export counters.
type Stats struct {
	Dispatched uint64
	Exported   uint64
	Failed     uint64
	Dropped    uint64
	Abandoned  uint64
}

// Exporter encodes clip tasks on a pool of workers so that a slow encoder or
// disk never blocks the capture loop.
type Exporter struct {
	dir      string
	ext      string
	camera   string
	encoder  Encoder
	clips    repository.ClipRepository
	uploader Uploader
	logger   *logger.Logger
	namer    *Namer
	onResult func(Result)

	queue   chan *model.ClipTask
	wg      sync.WaitGroup
	mu      sync.Mutex
	closed  bool
	abandon atomic.Bool

	dispatched atomic.Uint64
	exported   atomic.Uint64
	failed     atomic.Uint64
	dropped    atomic.Uint64
	abandoned  atomic.Uint64
}

// NewExporter starts the export workers. clips and uploader may be nil.
func NewExporter(opts Options, encoder Encoder, clips repository.ClipRepository, uploader Uploader, logger *logger.Logger) *Exporter {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.QueueSize < 0 {
		opts.QueueSize = 0
	}

	e := &Exporter{
		dir:      opts.Directory,
		ext:      opts.Extension,
		camera:   opts.Camera,
		encoder:  encoder,
		clips:    clips,
		uploader: uploader,
		logger:   logger,
		namer:    NewNamer(opts.Directory, opts.Extension),
		onResult: opts.OnResult,
		queue:    make(chan *model.ClipTask, opts.QueueSize),
	}

	for i := 0; i < opts.Workers; i++ {
		e.wg.Add(1)
		go e.worker(i)
	}

	return e
}

// NewTask wraps a snapshot into a ClipTask with a unique output name.
func (e *Exporter) NewTask(frames []model.Frame, fps float64, createdAt time.Time) *model.ClipTask {
	return &model.ClipTask{
		ID:        uuid.New().String(),
		Camera:    e.camera,
		Filename:  e.namer.Next(createdAt),
		CreatedAt: createdAt,
		FPS:       fps,
		Frames:    frames,
	}
}

// Dispatch hands a task to the workers without waiting. When every worker is
// busy and the queue is full the task is dropped and an ExportError returned.
func (e *Exporter) Dispatch(task *model.ClipTask) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		e.dropped.Add(1)
		return &ExportError{TaskID: task.ID, Filename: task.Filename, Stage: StageClosed}
	}

	select {
	case e.queue <- task:
		e.dispatched.Add(1)
		return nil
	default:
		e.dropped.Add(1)
		return &ExportError{TaskID: task.ID, Filename: task.Filename, Stage: StageQueue, Err: errors.New("export queue full")}
	}
}

// Export writes one task to disk and returns the final path. The clip is
// encoded under a temporary name and renamed into place when complete; if
// task.Filename is taken by then, the next free name is used.
func (e *Exporter) Export(task *model.ClipTask) (string, error) {
	fail := func(stage string, err error) (string, error) {
		if stage != StagePermission && errors.Is(err, os.ErrPermission) {
			stage = StagePermission
		}
		return "", &ExportError{TaskID: task.ID, Filename: task.Filename, Stage: stage, Err: err}
	}

	if len(task.Frames) == 0 {
		return fail(StageEmpty, errors.New("no frames to export"))
	}

	if err := os.MkdirAll(e.dir, 0755); err != nil {
		return fail(StageMkdir, err)
	}

	partial := partialPath(filepath.Join(e.dir, task.Filename))

	if err := e.encoder.Encode(partial, task.Frames, task.FPS); err != nil {
		os.Remove(partial)
		if errors.Is(err, ErrCodec) {
			return fail(StageCodec, err)
		}
		return fail(StageWrite, err)
	}

	// A file of the same name may have appeared since the task was named.
	final := filepath.Join(e.dir, e.namer.Free(task.Filename, task.CreatedAt))
	if err := os.Rename(partial, final); err != nil {
		os.Remove(partial)
		return fail(StageRename, err)
	}

	return final, nil
}

// Close stops accepting tasks and waits for queued and running exports until
// ctx is done. Tasks still queued after that are abandoned.
func (e *Exporter) Close(ctx context.Context) error {
	e.mu.Lock()
	if !e.closed {
		e.closed = true
		close(e.queue)
	}
	e.mu.Unlock()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		e.abandon.Store(true)
		return ctx.Err()
	}
}

// Stats returns a snapshot of the export counters.
func (e *Exporter) Stats() Stats {
	return Stats{
		Dispatched: e.dispatched.Load(),
		Exported:   e.exported.Load(),
		Failed:     e.failed.Load(),
		Dropped:    e.dropped.Load(),
		Abandoned:  e.abandoned.Load(),
	}
}

// worker exports tasks from the queue until it is closed.
func (e *Exporter) worker(workerID int) {
	defer e.wg.Done()

	for task := range e.queue {
		if e.abandon.Load() {
			e.abandoned.Add(1)
			e.logger.Warning("Abandoned clip %s at shutdown", task.Filename)
			e.report(Result{TaskID: task.ID, Err: &ExportError{TaskID: task.ID, Filename: task.Filename, Stage: StageAbandoned}})
			continue
		}
		e.process(task, workerID)
	}
}

func (e *Exporter) process(task *model.ClipTask, workerID int) {
	started := time.Now()

	path, err := e.Export(task)
	if err != nil {
		e.failed.Add(1)
		e.logger.Warning("Clip export dropped: %v", err)
		e.report(Result{TaskID: task.ID, Err: err})
		return
	}

	e.exported.Add(1)
	if name := filepath.Base(path); name != task.Filename {
		e.logger.Warning("Clip %s already existed, saved as %s", task.Filename, name)
	}
	e.logger.Info("Worker %d saved %d frames to %s in %v", workerID, len(task.Frames), path, time.Since(started).Round(time.Millisecond))

	clip := model.Clip{
		TaskID:     task.ID,
		Filename:   filepath.Base(path),
		Camera:     task.Camera,
		Timestamp:  task.CreatedAt.UTC(),
		FilePath:   path,
		FrameCount: len(task.Frames),
		FirstSeq:   task.FirstSeq(),
		LastSeq:    task.LastSeq(),
	}
	if task.FPS > 0 {
		clip.Duration = float64(len(task.Frames)) / task.FPS
	}
	if info, err := os.Stat(path); err == nil {
		clip.FileSize = info.Size()
	}

	if e.clips != nil {
		id, err := e.clips.Insert(&clip)
		if err != nil {
			e.logger.Warning("Error saving clip %s to database: %v", clip.Filename, err)
		}
		clip.ID = id
	}

	if e.uploader != nil {
		e.uploader.Submit(clip)
	}

	e.report(Result{TaskID: task.ID, Path: path})
}

func (e *Exporter) report(r Result) {
	if e.onResult != nil {
		e.onResult(r)
	}
}

// partialPath keeps the extension last so the encoder still picks the container.
func partialPath(final string) string {
	ext := filepath.Ext(final)
	return strings.TrimSuffix(final, ext) + ".partial" + ext
}
