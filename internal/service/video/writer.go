package video

import (
	"errors"
	"fmt"
	"os"

	"gocv.io/x/gocv"

	"recorder/internal/model"
	"recorder/internal/service/export"
)

// ClipWriter encodes frames with an OpenCV VideoWriter.
type ClipWriter struct {
	codec string
}

// NewClipWriter creates a writer for the given fourcc, e.g. "mp4v" or "avc1".
func NewClipWriter(codec string) *ClipWriter {
	return &ClipWriter{codec: codec}
}

// Encode writes frames to path at a constant fps. Every frame is written once,
// whatever the spacing of its timestamps.
func (w *ClipWriter) Encode(path string, frames []model.Frame, fps float64) error {
	if len(frames) == 0 {
		return errors.New("no frames to encode")
	}
	if fps <= 0 {
		fps = FallbackFPS
	}

	first := frames[0]
	writer, err := gocv.VideoWriterFile(path, w.codec, fps, first.Width, first.Height, first.Channels != 1)
	if err != nil {
		return fmt.Errorf("%w: %s %dx%d: %v", export.ErrCodec, w.codec, first.Width, first.Height, err)
	}
	if !writer.IsOpened() {
		writer.Close()
		return fmt.Errorf("%w: writer for %s did not open", export.ErrCodec, path)
	}

	for _, f := range frames {
		if err := writeFrame(writer, f, first); err != nil {
			writer.Close()
			return err
		}
	}

	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to finalize clip: %w", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("clip file missing after encode: %w", err)
	}
	if info.Size() == 0 {
		return fmt.Errorf("clip file %s is empty", path)
	}
	return nil
}

func writeFrame(writer *gocv.VideoWriter, f, first model.Frame) error {
	if f.Width != first.Width || f.Height != first.Height || f.Channels != first.Channels {
		return fmt.Errorf("frame %d is %dx%dx%d, clip is %dx%dx%d", f.Seq, f.Width, f.Height, f.Channels, first.Width, first.Height, first.Channels)
	}

	mat, err := FrameToMat(f)
	if err != nil {
		return err
	}
	defer mat.Close()

	if err := writer.Write(mat); err != nil {
		return fmt.Errorf("failed to write frame %d: %w", f.Seq, err)
	}
	return nil
}

// FrameToMat wraps the frame pixels in a new Mat.
func FrameToMat(f model.Frame) (gocv.Mat, error) {
	var matType gocv.MatType
	switch f.Channels {
	case 1:
		matType = gocv.MatTypeCV8UC1
	case 3:
		matType = gocv.MatTypeCV8UC3
	case 4:
		matType = gocv.MatTypeCV8UC4
	default:
		return gocv.Mat{}, fmt.Errorf("frame %d has unsupported channel count %d", f.Seq, f.Channels)
	}

	if len(f.Data) != f.Width*f.Height*f.Channels {
		return gocv.Mat{}, fmt.Errorf("frame %d holds %d bytes, expected %d", f.Seq, len(f.Data), f.Width*f.Height*f.Channels)
	}

	mat, err := gocv.NewMatFromBytes(f.Height, f.Width, matType, f.Data)
	if err != nil {
		return gocv.Mat{}, fmt.Errorf("failed to build mat for frame %d: %w", f.Seq, err)
	}
	return mat, nil
}
