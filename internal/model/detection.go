package model

import (
	"image"
	"strings"
)

// Detection is one recognised object in a frame.
type Detection struct {
	Label      string
	Confidence float64
	Box        image.Rectangle
}

// DetectionResult holds the detections of the frame with sequence number Seq.
// Only detections at or above the configured confidence threshold are kept.
type DetectionResult struct {
	Seq        uint64
	Detections []Detection
}

// Has reports whether any detection carries the given label (case-insensitive).
func (r DetectionResult) Has(label string) bool {
	for _, d := range r.Detections {
		if strings.EqualFold(d.Label, label) {
			return true
		}
	}
	return false
}

// Labels returns the distinct labels of the result in detection order.
func (r DetectionResult) Labels() []string {
	seen := make(map[string]bool, len(r.Detections))
	labels := make([]string, 0, len(r.Detections))
	for _, d := range r.Detections {
		if seen[d.Label] {
			continue
		}
		seen[d.Label] = true
		labels = append(labels, d.Label)
	}
	return labels
}
