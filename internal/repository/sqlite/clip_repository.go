package sqlite

import (
	"database/sql"
	"fmt"

	"recorder/internal/dto"
	"recorder/internal/model"
)

// ClipRepository implements repository.ClipRepository for SQLite.
type ClipRepository struct {
	db *DB
}

// NewClipRepository creates a new SQLite clip repository.
func NewClipRepository(db *DB) *ClipRepository {
	return &ClipRepository{db: db}
}

const clipColumns = `id, task_id, filename, camera, timestamp, filepath, filesize, frame_count, first_seq, last_seq, duration`

// Insert adds a new clip record to the database.
func (r *ClipRepository) Insert(clip *model.Clip) (int64, error) {
	r.db.Lock()
	defer r.db.Unlock()

	result, err := r.db.Conn().Exec(`
		INSERT INTO clips (task_id, filename, camera, timestamp, filepath, filesize, frame_count, first_seq, last_seq, duration)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, clip.TaskID, clip.Filename, clip.Camera, clip.Timestamp, clip.FilePath, clip.FileSize,
		clip.FrameCount, int64(clip.FirstSeq), int64(clip.LastSeq), clip.Duration)
	if err != nil {
		return 0, fmt.Errorf("failed to insert clip: %w", err)
	}

	return result.LastInsertId()
}

// GetByFilename retrieves a clip by its filename.
func (r *ClipRepository) GetByFilename(filename string) (*model.Clip, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	row := r.db.Conn().QueryRow(`SELECT `+clipColumns+` FROM clips WHERE filename = ?`, filename)

	clip, err := scanClip(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get clip: %w", err)
	}
	return clip, nil
}

// GetAll retrieves clips based on filter criteria, newest first.
func (r *ClipRepository) GetAll(filter *dto.ClipFilter) ([]model.Clip, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	where, args := buildWhere(filter)
	query := `SELECT ` + clipColumns + ` FROM clips` + where + ` ORDER BY timestamp DESC, id DESC`

	if filter != nil && filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)

		if filter.Offset > 0 {
			query += " OFFSET ?"
			args = append(args, filter.Offset)
		}
	}

	rows, err := r.db.Conn().Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query clips: %w", err)
	}
	defer rows.Close()

	var clips []model.Clip
	for rows.Next() {
		clip, err := scanClip(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan clip: %w", err)
		}
		clips = append(clips, *clip)
	}

	return clips, rows.Err()
}

// GetTotalCount returns the number of clips matching the filter.
func (r *ClipRepository) GetTotalCount(filter *dto.ClipFilter) (int, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	where, args := buildWhere(filter)

	var count int
	if err := r.db.Conn().QueryRow(`SELECT COUNT(*) FROM clips`+where, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count clips: %w", err)
	}
	return count, nil
}

// GetTotalSize returns the sum of all clip file sizes in bytes.
func (r *ClipRepository) GetTotalSize() (int64, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	var size int64
	if err := r.db.Conn().QueryRow(`SELECT COALESCE(SUM(filesize), 0) FROM clips`).Scan(&size); err != nil {
		return 0, fmt.Errorf("failed to sum clip sizes: %w", err)
	}
	return size, nil
}

// DeleteByFilename removes a clip record.
func (r *ClipRepository) DeleteByFilename(filename string) error {
	r.db.Lock()
	defer r.db.Unlock()

	if _, err := r.db.Conn().Exec(`DELETE FROM clips WHERE filename = ?`, filename); err != nil {
		return fmt.Errorf("failed to delete clip: %w", err)
	}
	return nil
}

func buildWhere(filter *dto.ClipFilter) (string, []interface{}) {
	where := " WHERE 1=1"
	args := []interface{}{}

	if filter == nil {
		return where, args
	}

	if filter.Camera != "" {
		where += " AND camera = ?"
		args = append(args, filter.Camera)
	}

	if !filter.After.IsZero() {
		where += " AND timestamp >= ?"
		args = append(args, filter.After)
	}

	if !filter.Before.IsZero() {
		where += " AND timestamp <= ?"
		args = append(args, filter.Before)
	}

	return where, args
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanClip(row rowScanner) (*model.Clip, error) {
	var clip model.Clip
	var firstSeq, lastSeq int64

	err := row.Scan(&clip.ID, &clip.TaskID, &clip.Filename, &clip.Camera, &clip.Timestamp,
		&clip.FilePath, &clip.FileSize, &clip.FrameCount, &firstSeq, &lastSeq, &clip.Duration)
	if err != nil {
		return nil, err
	}

	clip.FirstSeq = uint64(firstSeq)
	clip.LastSeq = uint64(lastSeq)
	return &clip, nil
}
