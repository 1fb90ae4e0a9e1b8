package video

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"time"

	"gocv.io/x/gocv"

	"recorder/internal/logger"
	"recorder/internal/model"
)

// FallbackFPS is used when the device does not report a usable frame rate.
const FallbackFPS = 30.0

// Camera reads frames from a capture device, a video file or a stream URL.
type Camera struct {
	capture *gocv.VideoCapture
	mat     gocv.Mat
	source  string
	file    bool
	fps     float64
	width   int
	height  int
	seq     uint64
	started time.Time
	logger  *logger.Logger
}

// OpenCamera opens source. A numeric source is a device index; anything else
// is passed to OpenCV as a file name or URL. fps overrides the rate reported
// by the device when positive.
func OpenCamera(source string, fps float64, logger *logger.Logger) (*Camera, error) {
	var device interface{} = source
	file := true
	if index, err := strconv.Atoi(source); err == nil {
		device = index
		file = false
	} else if isStreamURL(source) {
		file = false
	}

	capture, err := gocv.OpenVideoCapture(device)
	if err != nil {
		return nil, fmt.Errorf("failed to open video source %s: %w", source, err)
	}
	if !capture.IsOpened() {
		capture.Close()
		return nil, fmt.Errorf("video source %s is not available", source)
	}

	if fps <= 0 {
		fps = capture.Get(gocv.VideoCaptureFPS)
		if fps <= 1.0 {
			fps = FallbackFPS
		}
	}

	width := int(capture.Get(gocv.VideoCaptureFrameWidth))
	if width <= 0 {
		width = 640
	}
	height := int(capture.Get(gocv.VideoCaptureFrameHeight))
	if height <= 0 {
		height = 480
	}

	c := &Camera{
		capture: capture,
		mat:     gocv.NewMat(),
		source:  source,
		file:    file,
		fps:     fps,
		width:   width,
		height:  height,
		started: time.Now(),
		logger:  logger,
	}

	logger.Info("Video source %s opened %dx%d @ %.1f FPS", source, width, height, fps)
	return c, nil
}

// Next reads the next frame. It returns io.EOF when a file source ends;
// any other error means the source is unusable.
func (c *Camera) Next(ctx context.Context) (model.Frame, error) {
	if err := ctx.Err(); err != nil {
		return model.Frame{}, err
	}

	if ok := c.capture.Read(&c.mat); !ok || c.mat.Empty() {
		if c.file {
			return model.Frame{}, io.EOF
		}
		return model.Frame{}, fmt.Errorf("failed to read frame from %s: device unavailable or disconnected", c.source)
	}

	c.seq++
	return model.Frame{
		Seq:       c.seq,
		Timestamp: c.timestamp(),
		Width:     c.mat.Cols(),
		Height:    c.mat.Rows(),
		Channels:  c.mat.Channels(),
		Data:      c.mat.ToBytes(),
	}, nil
}

// FPS returns the nominal frame rate of the source.
func (c *Camera) FPS() float64 {
	return c.fps
}

// Size returns the frame size reported when the source was opened.
func (c *Camera) Size() (int, int) {
	return c.width, c.height
}

// Close releases the capture device.
func (c *Camera) Close() error {
	c.mat.Close()
	return c.capture.Close()
}

// timestamp returns the capture time of the current frame. Files are read
// faster than real time, so their frames are spaced at the nominal rate.
func (c *Camera) timestamp() time.Time {
	if c.file {
		return c.started.Add(time.Duration(float64(c.seq-1) / c.fps * float64(time.Second)))
	}
	return time.Now()
}

func isStreamURL(source string) bool {
	for _, scheme := range []string{"rtsp://", "rtsps://", "http://", "https://", "udp://", "tcp://"} {
		if len(source) >= len(scheme) && source[:len(scheme)] == scheme {
			return true
		}
	}
	return false
}
