package video

import (
	"fmt"
	"image"
	"image/color"

	"gocv.io/x/gocv"

	"recorder/internal/model"
)

// DefaultJPEGQuality is used for live view frames.
const DefaultJPEGQuality = 80

// Annotator draws detections on frames and encodes them as JPEG.
type Annotator struct {
	quality int
	box     color.RGBA
}

// NewAnnotator creates an Annotator with the given JPEG quality (1-100).
func NewAnnotator(quality int) *Annotator {
	if quality < 1 || quality > 100 {
		quality = DefaultJPEGQuality
	}
	return &Annotator{
		quality: quality,
		box:     color.RGBA{R: 0, G: 255, B: 0, A: 0},
	}
}

// Encode returns a JPEG of the frame with a box and label per detection.
// The frame itself is left untouched.
func (a *Annotator) Encode(frame model.Frame, detections []model.Detection) ([]byte, error) {
	src, err := FrameToMat(frame)
	if err != nil {
		return nil, err
	}
	defer src.Close()

	img := src.Clone()
	defer img.Close()

	for _, d := range detections {
		if err := gocv.Rectangle(&img, d.Box, a.box, 2); err != nil {
			return nil, fmt.Errorf("failed to draw rectangle: %w", err)
		}

		label := fmt.Sprintf("%s (%.2f)", d.Label, d.Confidence)
		pt := image.Pt(d.Box.Min.X, d.Box.Min.Y-5)
		if err := gocv.PutText(&img, label, pt, gocv.FontHersheySimplex, 0.5, a.box, 1); err != nil {
			return nil, fmt.Errorf("failed to draw text: %w", err)
		}
	}

	buf, err := gocv.IMEncodeWithParams(gocv.JPEGFileExt, img, []int{gocv.IMWriteJpegQuality, a.quality})
	if err != nil {
		return nil, fmt.Errorf("failed to encode jpeg: %w", err)
	}
	defer buf.Close()

	out := make([]byte, len(buf.GetBytes()))
	copy(out, buf.GetBytes())
	return out, nil
}
