package export

import (
	"errors"
	"fmt"
)

// Export stages reported by ExportError.
const (
	StageQueue      = "queue"
	StageClosed     = "closed"
	StageEmpty      = "empty"
	StageMkdir      = "mkdir"
	StagePermission = "permission"
	StageCodec      = "codec"
	StageWrite      = "write"
	StageRename     = "rename"
	StageAbandoned  = "abandoned"
)

// ErrCodec is wrapped by encoders when the codec or container cannot be opened.
var ErrCodec = errors.New("codec initialization failed")

// ExportError reports why a clip task was dropped.
type ExportError struct {
	TaskID   string
	Filename string
	Stage    string
	Err      error
}

func (e *ExportError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("export %s (%s) failed at %s", e.Filename, e.TaskID, e.Stage)
	}
	return fmt.Sprintf("export %s (%s) failed at %s: %v", e.Filename, e.TaskID, e.Stage, e.Err)
}

func (e *ExportError) Unwrap() error {
	return e.Err
}
