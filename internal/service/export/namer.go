package export

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"
)

// ClipPrefix starts every clip filename.
const ClipPrefix = "clip_no_person"

const stampLayout = "20060102_150405"

// Namer generates clip filenames of the form
// clip_no_person_<YYYYMMDD>_<HHMMSS>_<N><ext>. N increases with every name
// handed out, so two clips within the same second never collide.
type Namer struct {
	dir string
	ext string

	mu      sync.Mutex
	counter int
}

// NewNamer creates a Namer for files in dir with extension ext (".mp4").
// The counter resumes after the highest one found among clips already in dir.
func NewNamer(dir, ext string) *Namer {
	n := &Namer{dir: dir, ext: ext}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return n
	}
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ext {
			continue
		}
		if _, counter, err := ParseFilename(entry.Name()); err == nil && counter >= n.counter {
			n.counter = counter + 1
		}
	}
	return n
}

// Next returns a fresh filename for a clip created at t. It never touches
// the filesystem.
func (n *Namer) Next(t time.Time) string {
	n.mu.Lock()
	defer n.mu.Unlock()

	name := fmt.Sprintf("%s_%s_%d%s", ClipPrefix, t.UTC().Format(stampLayout), n.counter, n.ext)
	n.counter++
	return name
}

// Free returns name when no file of that name exists in dir, otherwise the
// next generated name that is free. Called from export workers.
func (n *Namer) Free(name string, t time.Time) string {
	for {
		if _, err := os.Lstat(filepath.Join(n.dir, name)); err != nil {
			return name
		}
		name = n.Next(t)
	}
}

// ParseFilename returns the creation time and counter encoded in a clip
// filename produced by a Namer.
func ParseFilename(name string) (time.Time, int, error) {
	base := strings.TrimSuffix(filepath.Base(name), filepath.Ext(name))
	rest, ok := strings.CutPrefix(base, ClipPrefix+"_")
	if !ok {
		return time.Time{}, 0, fmt.Errorf("not a clip filename: %s", name)
	}

	parts := strings.Split(rest, "_")
	if len(parts) != 3 {
		return time.Time{}, 0, fmt.Errorf("invalid clip filename format: %s", name)
	}

	created, err := time.ParseInLocation(stampLayout, parts[0]+"_"+parts[1], time.UTC)
	if err != nil {
		return time.Time{}, 0, fmt.Errorf("invalid timestamp in %s: %w", name, err)
	}

	counter, err := strconv.Atoi(parts[2])
	if err != nil || counter < 0 {
		return time.Time{}, 0, fmt.Errorf("invalid counter in %s", name)
	}

	return created, counter, nil
}
