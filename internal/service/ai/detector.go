// Package ai runs OpenCV DNN object detection on captured frames.
package ai

import (
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gocv.io/x/gocv"

	"recorder/internal/logger"
	"recorder/internal/model"
)

// Model input sizes.
const (
	yoloInputSize = 640
	ssdInputSize  = 300
	nmsThreshold  = 0.45
)

// Model formats understood by the detector.
const (
	FormatYOLO = "yolov8"
	FormatSSD  = "ssd"
)

// ErrNotInitialized is returned by Detect after Close.
var ErrNotInitialized = errors.New("detection network not initialized")

// Options configures a Detector.
type Options struct {
	ModelPath  string
	ConfigPath string // pbtxt for two-file SSD graphs; empty for ONNX
	Confidence float64
	Target     string // cpu, cuda, cuda-fp16, opencl, opencl-fp16, vulkan
}

// Detector is a DNN object detector. YOLOv8 ONNX exports and TensorFlow SSD
// graphs are supported; the format follows from the model files.
type Detector struct {
	net        gocv.Net
	format     string
	confidence float32
	closed     bool
	mu         sync.Mutex
	logger     *logger.Logger
}

// NewDetector loads the network and selects the compute target.
func NewDetector(opts Options, logger *logger.Logger) (*Detector, error) {
	if _, err := os.Stat(opts.ModelPath); err != nil {
		return nil, fmt.Errorf("model file not found: %s: %w", opts.ModelPath, err)
	}

	backend, target, err := ParseTarget(opts.Target)
	if err != nil {
		return nil, err
	}

	format := FormatYOLO
	var net gocv.Net
	if opts.ConfigPath != "" {
		if _, err := os.Stat(opts.ConfigPath); err != nil {
			return nil, fmt.Errorf("config file not found: %s: %w", opts.ConfigPath, err)
		}
		net = gocv.ReadNet(opts.ModelPath, opts.ConfigPath)
		format = FormatSSD
	} else if strings.EqualFold(filepath.Ext(opts.ModelPath), ".onnx") {
		net = gocv.ReadNetFromONNX(opts.ModelPath)
	} else {
		net = gocv.ReadNet(opts.ModelPath, "")
		format = FormatSSD
	}

	if net.Empty() {
		return nil, fmt.Errorf("failed to load network from %s", opts.ModelPath)
	}

	if err := net.SetPreferableBackend(backend); err != nil {
		net.Close()
		return nil, fmt.Errorf("failed to set backend for %s: %w", opts.Target, err)
	}
	if err := net.SetPreferableTarget(target); err != nil {
		net.Close()
		return nil, fmt.Errorf("failed to set target %s: %w", opts.Target, err)
	}

	logger.Info("Detection network %s (%s) initialized on %s", filepath.Base(opts.ModelPath), format, opts.Target)

	return &Detector{
		net:        net,
		format:     format,
		confidence: float32(opts.Confidence),
		logger:     logger,
	}, nil
}

// ParseTarget maps a compute target name to an OpenCV backend and target.
func ParseTarget(name string) (gocv.NetBackendType, gocv.NetTargetType, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "cpu":
		return gocv.NetBackendDefault, gocv.NetTargetCPU, nil
	case "cuda":
		return gocv.NetBackendCUDA, gocv.NetTargetCUDA, nil
	case "cuda-fp16":
		return gocv.NetBackendCUDA, gocv.NetTargetCUDAFP16, nil
	case "opencl":
		return gocv.NetBackendOpenCV, gocv.NetTargetFP32, nil
	case "opencl-fp16":
		return gocv.NetBackendOpenCV, gocv.NetTargetFP16, nil
	case "vulkan":
		return gocv.NetBackendVKCOM, gocv.NetTargetVulkan, nil
	default:
		return gocv.NetBackendDefault, gocv.NetTargetCPU, fmt.Errorf("unknown compute target %q", name)
	}
}

// Format returns the detected model format.
func (d *Detector) Format() string {
	return d.format
}

// Detect runs the network on one frame and returns detections at or above
// the confidence threshold.
func (d *Detector) Detect(frame model.Frame) ([]model.Detection, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil, ErrNotInitialized
	}

	mat, err := frameMat(frame)
	if err != nil {
		return nil, err
	}
	defer mat.Close()

	if d.format == FormatSSD {
		return d.detectSSD(mat)
	}
	return d.detectYOLO(mat)
}

// Close releases the network.
func (d *Detector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil
	}
	d.closed = true
	return d.net.Close()
}

func (d *Detector) detectYOLO(mat gocv.Mat) ([]model.Detection, error) {
	blob := gocv.BlobFromImage(mat, 1.0/255.0, image.Pt(yoloInputSize, yoloInputSize), gocv.NewScalar(0, 0, 0, 0), true, false)
	defer blob.Close()

	d.net.SetInput(blob, "")
	output := d.net.Forward("")
	defer output.Close()

	// Output is [1, 4+classes, candidates]: cx, cy, w, h then class scores.
	sizes := output.Size()
	if len(sizes) != 3 || sizes[1] <= 4 {
		return nil, fmt.Errorf("unexpected yolo output shape %v", sizes)
	}
	rows, candidates := sizes[1], sizes[2]

	data, err := output.DataPtrFloat32()
	if err != nil {
		return nil, fmt.Errorf("failed to read yolo output: %w", err)
	}

	scaleX := float32(mat.Cols()) / yoloInputSize
	scaleY := float32(mat.Rows()) / yoloInputSize

	var boxes []image.Rectangle
	var scores []float32
	var classes []int

	for i := 0; i < candidates; i++ {
		bestClass, bestScore := -1, float32(0)
		for c := 4; c < rows; c++ {
			if score := data[c*candidates+i]; score > bestScore {
				bestClass, bestScore = c-4, score
			}
		}
		if bestScore < d.confidence {
			continue
		}

		cx := data[i] * scaleX
		cy := data[candidates+i] * scaleY
		w := data[2*candidates+i] * scaleX
		h := data[3*candidates+i] * scaleY

		boxes = append(boxes, image.Rect(int(cx-w/2), int(cy-h/2), int(cx+w/2), int(cy+h/2)))
		scores = append(scores, bestScore)
		classes = append(classes, bestClass)
	}

	if len(boxes) == 0 {
		return nil, nil
	}

	indices := gocv.NMSBoxes(boxes, scores, d.confidence, nmsThreshold)

	detections := make([]model.Detection, 0, len(indices))
	for _, idx := range indices {
		if idx < 0 || idx >= len(boxes) {
			continue
		}
		detections = append(detections, model.Detection{
			Label:      COCOLabel(classes[idx]),
			Confidence: float64(scores[idx]),
			Box:        boxes[idx],
		})
	}
	return detections, nil
}

func (d *Detector) detectSSD(mat gocv.Mat) ([]model.Detection, error) {
	blob := gocv.BlobFromImage(mat, 1.0/127.5, image.Pt(ssdInputSize, ssdInputSize), gocv.NewScalar(127.5, 127.5, 127.5, 0), true, false)
	defer blob.Close()

	d.net.SetInput(blob, "")
	output := d.net.Forward("")
	defer output.Close()

	// Rows of [batch_id, class_id, confidence, x1, y1, x2, y2] in relative units.
	reshaped := output.Reshape(1, output.Total()/7)
	defer reshaped.Close()

	var detections []model.Detection
	for i := 0; i < reshaped.Rows(); i++ {
		confidence := reshaped.GetFloatAt(i, 2)
		if confidence < d.confidence {
			continue
		}

		classID := int(reshaped.GetFloatAt(i, 1))
		x1 := int(reshaped.GetFloatAt(i, 3) * float32(mat.Cols()))
		y1 := int(reshaped.GetFloatAt(i, 4) * float32(mat.Rows()))
		x2 := int(reshaped.GetFloatAt(i, 5) * float32(mat.Cols()))
		y2 := int(reshaped.GetFloatAt(i, 6) * float32(mat.Rows()))

		detections = append(detections, model.Detection{
			Label:      SSDLabel(classID),
			Confidence: float64(confidence),
			Box:        image.Rect(x1, y1, x2, y2),
		})
	}
	return detections, nil
}

func frameMat(f model.Frame) (gocv.Mat, error) {
	if f.Channels != 3 {
		return gocv.Mat{}, fmt.Errorf("frame %d: detector needs 3 channels, got %d", f.Seq, f.Channels)
	}
	if len(f.Data) != f.Width*f.Height*3 {
		return gocv.Mat{}, fmt.Errorf("frame %d holds %d bytes, expected %d", f.Seq, len(f.Data), f.Width*f.Height*3)
	}
	mat, err := gocv.NewMatFromBytes(f.Height, f.Width, gocv.MatTypeCV8UC3, f.Data)
	if err != nil {
		return gocv.Mat{}, fmt.Errorf("failed to build mat for frame %d: %w", f.Seq, err)
	}
	return mat, nil
}
