// ClipFilter narrows the list of recorded clips.
package dto

import "time"

type ClipFilter struct {
	Camera string
	After  time.Time
	Before time.Time
	Limit  int
	Offset int
}
