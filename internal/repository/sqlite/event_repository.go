package sqlite

import (
	"fmt"

	"recorder/internal/model"
)

// EventRepository implements repository.EventRepository for SQLite.
type EventRepository struct {
	db *DB
}

// NewEventRepository creates a new SQLite presence event repository.
func NewEventRepository(db *DB) *EventRepository {
	return &EventRepository{db: db}
}

// Insert adds a new presence event to the database.
func (r *EventRepository) Insert(event *model.PresenceEvent) (int64, error) {
	r.db.Lock()
	defer r.db.Unlock()

	result, err := r.db.Conn().Exec(`
		INSERT INTO events (camera, seq, at, present_since, outcome, filename)
		VALUES (?, ?, ?, ?, ?, ?)
	`, event.Camera, int64(event.Seq), event.At, event.PresentSince, event.Outcome, event.Filename)
	if err != nil {
		return 0, fmt.Errorf("failed to insert event: %w", err)
	}

	return result.LastInsertId()
}

// GetRecent returns the latest events, newest first. An empty camera matches
// every camera.
func (r *EventRepository) GetRecent(camera string, limit int) ([]model.PresenceEvent, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	query := `SELECT id, camera, seq, at, present_since, outcome, filename FROM events`
	args := []interface{}{}
	if camera != "" {
		query += ` WHERE camera = ?`
		args = append(args, camera)
	}
	query += ` ORDER BY at DESC, id DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := r.db.Conn().Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var events []model.PresenceEvent
	for rows.Next() {
		var event model.PresenceEvent
		var seq int64
		if err := rows.Scan(&event.ID, &event.Camera, &seq, &event.At, &event.PresentSince, &event.Outcome, &event.Filename); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		event.Seq = uint64(seq)
		events = append(events, event)
	}

	return events, rows.Err()
}

// CountByOutcome returns the number of events per outcome.
func (r *EventRepository) CountByOutcome() (map[string]int, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	rows, err := r.db.Conn().Query(`SELECT outcome, COUNT(*) FROM events GROUP BY outcome`)
	if err != nil {
		return nil, fmt.Errorf("failed to count events: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var outcome string
		var count int
		if err := rows.Scan(&outcome, &count); err != nil {
			return nil, fmt.Errorf("failed to scan event count: %w", err)
		}
		counts[outcome] = count
	}

	return counts, rows.Err()
}
