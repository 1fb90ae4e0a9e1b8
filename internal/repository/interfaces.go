package repository

import (
	"recorder/internal/dto"
	"recorder/internal/model"
)

// ClipRepository defines the interface for exported clip records.
type ClipRepository interface {
	// Create operations
	Insert(clip *model.Clip) (int64, error)

	// Read operations
	GetByFilename(filename string) (*model.Clip, error)
	GetAll(filter *dto.ClipFilter) ([]model.Clip, error)
	GetTotalCount(filter *dto.ClipFilter) (int, error)
	GetTotalSize() (int64, error)

	// Delete operations
	DeleteByFilename(filename string) error
}

// EventRepository defines the interface for presence transition records.
type EventRepository interface {
	Insert(event *model.PresenceEvent) (int64, error)
	GetRecent(camera string, limit int) ([]model.PresenceEvent, error)
	CountByOutcome() (map[string]int, error)
}
